// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package vec

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// DefaultEntityOutCapacity is the entity-out buffer's default bound (spec
// §4.C "default 3 entities"), governing back-pressure to the entity producer.
const DefaultEntityOutCapacity = 3

// DefaultMsgMax is the per-message size cap guarding against a
// misbehaving/hostile peer (spec §4.C "DoS cap").
const DefaultMsgMax = 1 << 20

// Channel is component C. It exposes a ByteConsumer/ByteProducer pair on its
// wire side and an EntityConsumer/EntityProducer pair on its application
// side, bridging them through the VEC_DRAFT handshake and a Codec.
type Channel struct {
	r       *reactor.Reactor
	control *ioflow.Control

	localCodec   Codec
	peerCodec    Codec
	msgMax       int
	entityOutCap int

	// Compress, when true, runs each encoded entity body through snappy
	// block compression before framing (generalizes kcptun's
	// std.CompStream, moved from wrapping a whole smux session to
	// wrapping one VEC frame body at a time). Must be set identically on
	// both ends before traffic flows; there is no wire negotiation for it.
	Compress bool

	// handshake
	helloSent  bool
	hsDone     bool
	hsIn       []byte // bytes accumulated from the wire pre-handshake
	aborted    bool

	// wire (byte) side
	byteProducer ioflow.ByteProducer // external: pushes bytes to us
	byteConsumer ioflow.ByteConsumer // external: we push bytes to it
	byteInEOD    bool
	byteOutEOD   bool
	wireConsumed ioflow.Limit
	wireProduced ioflow.Limit

	decodeBuf bytes.Buffer // post-handshake raw bytes awaiting frame decode

	// application (entity) side
	entityProducer ioflow.EntityProducer // external: pushes entities to us
	entityConsumer ioflow.EntityConsumer // external: we push entities to it
	entityInEOD    bool
	entityOutEOD   bool
	entityConsumed ioflow.Limit
	entityProduced ioflow.Limit

	outQueue []ioflow.Entity // entities queued for encoding (bounded by entityOutCap)
	sendBuf  bytes.Buffer    // encoded bytes awaiting delivery to byteConsumer

	drainWirePending   bool
	drainEntityPending bool
}

// New constructs a Channel. localCodec may be nil to mean "announce no
// codec preference" (peer keeps whatever default it assumes).
func New(r *reactor.Reactor, localCodec Codec, msgMax, entityOutCap int) *Channel {
	if msgMax <= 0 {
		msgMax = DefaultMsgMax
	}
	if entityOutCap <= 0 {
		entityOutCap = DefaultEntityOutCapacity
	}
	return &Channel{
		r:            r,
		control:      ioflow.NewControl(),
		localCodec:   localCodec,
		msgMax:       msgMax,
		entityOutCap: entityOutCap,
	}
}

func (c *Channel) Control() *ioflow.Control { return c.control }

// ByteSide returns the facade the wire-level byte pipe should attach to.
func (c *Channel) ByteSide() ioflow.BytePipePair {
	return ioflow.BytePipePair{Consume: (*channelByteConsumer)(c), Produce: (*channelByteProducer)(c)}
}

// EntitySide returns the facade the application-level entity pipe should attach to.
func (c *Channel) EntitySide() ioflow.EntityPipePair {
	return ioflow.EntityPipePair{Consume: (*channelEntityConsumer)(c), Produce: (*channelEntityProducer)(c)}
}

func (c *Channel) sendHello() {
	if c.helloSent {
		return
	}
	c.helloSent = true
	name := ""
	if c.localCodec != nil {
		name = c.localCodec.Name()
	}
	c.queueWireBytes(buildHello(name))
}

// ---- byte-consumer role: wire bytes arrive here ----

type channelByteConsumer Channel

func (b *channelByteConsumer) core() *Channel { return (*Channel)(b) }

func (b *channelByteConsumer) Attach(p ioflow.ByteProducer) error {
	c := b.core()
	if c.byteProducer == p {
		return nil
	}
	if c.byteProducer != nil {
		return ioflow.ErrDoubleAttach()
	}
	c.byteProducer = p
	if err := p.Attach(b); err != nil {
		_ = err
	}
	c.sendHello()
	return nil
}

func (b *channelByteConsumer) Detach() { b.core().byteProducer = nil }
func (b *channelByteConsumer) Abort()  { b.core().abort("wire producer aborted") }

func (b *channelByteConsumer) Consume(data []byte, consumeLimit ioflow.Limit) (ioflow.Limit, error) {
	c := b.core()
	if c.aborted {
		return c.wireConsumed, ioflow.ErrNoProducer()
	}
	if c.byteInEOD {
		return c.wireConsumed, ioflow.ErrConsumePastEOD()
	}
	c.wireConsumed += ioflow.Limit(len(data))

	if !c.hsDone {
		c.hsIn = append(c.hsIn, data...)
		if len(c.hsIn) > HandshakeMaxBytes {
			c.abort("VEC handshake exceeded 32 bytes")
			return c.wireConsumed, ioflow.ErrProtocolFail("VEC handshake overrun")
		}
		idx := bytes.IndexByte(c.hsIn, '\n')
		if idx < 0 {
			return c.wireConsumed, nil // still waiting for the newline
		}
		line := string(c.hsIn[:idx])
		rest := c.hsIn[idx+1:]
		c.hsIn = nil
		codecName, err := parseHello(line)
		if err != nil {
			c.abort(err.Error())
			return c.wireConsumed, err
		}
		if codecName != "" {
			codec, _ := LookupCodec(codecName)
			c.peerCodec = codec
		} else {
			c.peerCodec = DefaultCodec
		}
		c.hsDone = true
		if len(rest) > 0 {
			c.decodeBuf.Write(rest)
		}
	} else {
		c.decodeBuf.Write(data)
	}

	c.scheduleWireDecode()
	return c.currentWireLimit(), nil
}

func (b *channelByteConsumer) EndConsume(clean bool) {
	c := b.core()
	if c.byteInEOD {
		return
	}
	c.byteInEOD = true
	c.scheduleWireDecode()
	if clean && c.decodeBuf.Len() == 0 {
		c.forwardEntityEOD(true)
	} else if !clean {
		c.forwardEntityEOD(false)
	}
}

func (b *channelByteConsumer) Control() *ioflow.Control { return b.core().control }

func (c *Channel) currentWireLimit() ioflow.Limit {
	// Unbounded decode buffer aside from msgMax per-message (spec leaves
	// overall byte-in credit to the caller's buffering policy); advertise a
	// generous, ever-growing cumulative credit so producers are never
	// needlessly throttled by this channel.
	return c.wireConsumed + ioflow.Limit(c.msgMax)
}

func (c *Channel) scheduleWireDecode() {
	if c.drainWirePending {
		return
	}
	c.drainWirePending = true
	c.r.Execute(func() {
		c.drainWirePending = false
		c.decodeFrames()
	})
}

// decodeFrames parses uvarint-length-prefixed frames out of decodeBuf and
// delivers decoded entities to the attached external entity consumer.
func (c *Channel) decodeFrames() {
	if c.aborted {
		return
	}
	for {
		raw := c.decodeBuf.Bytes()
		n, hlen := binary.Uvarint(raw)
		if hlen <= 0 {
			break // not enough bytes for a length prefix yet
		}
		if n > uint64(c.msgMax) {
			c.abort("VEC message exceeds msg_max")
			return
		}
		if uint64(len(raw)-hlen) < n {
			break // full frame not yet available
		}
		body := make([]byte, n)
		copy(body, raw[hlen:hlen+int(n)])
		c.decodeBuf.Next(hlen + int(n))

		if c.Compress {
			plain, err := snappy.Decode(nil, body)
			if err != nil {
				c.abort("VEC compressed frame decode failed: " + err.Error())
				return
			}
			body = plain
		}

		codec := c.peerCodec
		if codec == nil {
			codec = DefaultCodec
		}
		entity, err := codec.Unmarshal(body)
		if err != nil {
			c.abort("VEC codec decode failed: " + err.Error())
			return
		}
		if c.entityConsumer != nil {
			newLim, err := c.entityConsumer.Consume([]ioflow.Entity{entity}, c.entityProduced+1)
			if err != nil {
				continue
			}
			c.entityProduced = newLim
		}
	}
	if c.byteInEOD && c.decodeBuf.Len() == 0 && !c.entityInEOD {
		c.forwardEntityEOD(true)
	}
}

func (c *Channel) forwardEntityEOD(clean bool) {
	if c.entityInEOD {
		return
	}
	c.entityInEOD = true
	if c.entityConsumer != nil {
		c.entityConsumer.EndConsume(clean)
	}
}

// ---- byte-producer role: we push wire bytes to an external consumer ----

type channelByteProducer Channel

func (b *channelByteProducer) core() *Channel { return (*Channel)(b) }

func (b *channelByteProducer) Attach(cons ioflow.ByteConsumer) error {
	c := b.core()
	if c.byteConsumer == cons {
		return nil
	}
	if c.byteConsumer != nil {
		return ioflow.ErrDoubleAttach()
	}
	c.byteConsumer = cons
	if err := cons.Attach(b); err != nil {
		_ = err
	}
	c.sendHello()
	c.scheduleWireFlush()
	return nil
}

func (b *channelByteProducer) Detach() { b.core().byteConsumer = nil }
func (b *channelByteProducer) Abort()  { b.core().abort("wire consumer aborted") }
func (b *channelByteProducer) CanProduce(limit ioflow.Limit) error {
	b.core().scheduleWireFlush()
	return nil
}
func (b *channelByteProducer) Control() *ioflow.Control { return b.core().control }

func (c *Channel) queueWireBytes(data []byte) {
	c.sendBuf.Write(data)
	c.scheduleWireFlush()
}

func (c *Channel) scheduleWireFlush() {
	c.r.Execute(c.flushWire)
}

func (c *Channel) flushWire() {
	if c.aborted || c.byteConsumer == nil || c.sendBuf.Len() == 0 {
		if c.byteOutEODdue() {
			c.closeByteOut()
		}
		return
	}
	data := c.sendBuf.Bytes()
	newLim, err := c.byteConsumer.Consume(data, c.wireProduced+ioflow.Limit(len(data)))
	if err != nil {
		return
	}
	consumedN := int64(newLim) - int64(c.wireProduced)
	if consumedN < 0 {
		consumedN = 0
	}
	if consumedN > int64(c.sendBuf.Len()) {
		consumedN = int64(c.sendBuf.Len())
	}
	c.wireProduced += ioflow.Limit(consumedN)
	c.sendBuf.Next(int(consumedN))
	if c.byteOutEODdue() {
		c.closeByteOut()
	}
}

func (c *Channel) byteOutEODdue() bool {
	return c.entityInEOD && len(c.outQueue) == 0 && c.sendBuf.Len() == 0 && !c.byteOutEOD
}

func (c *Channel) closeByteOut() {
	c.byteOutEOD = true
	if c.byteConsumer != nil {
		c.byteConsumer.EndConsume(true)
	}
}

// ---- entity-consumer role: application entities arrive here ----

type channelEntityConsumer Channel

func (e *channelEntityConsumer) core() *Channel { return (*Channel)(e) }

func (e *channelEntityConsumer) Attach(p ioflow.EntityProducer) error {
	c := e.core()
	if c.entityProducer == p {
		return nil
	}
	if c.entityProducer != nil {
		return ioflow.ErrDoubleAttach()
	}
	c.entityProducer = p
	return p.Attach(e)
}

func (e *channelEntityConsumer) Detach() { e.core().entityProducer = nil }
func (e *channelEntityConsumer) Abort()  { e.core().abort("entity producer aborted") }

func (e *channelEntityConsumer) Consume(data []ioflow.Entity, consumeLimit ioflow.Limit) (ioflow.Limit, error) {
	c := e.core()
	if c.aborted {
		return c.entityConsumed, ioflow.ErrNoProducer()
	}
	if c.entityOutEOD {
		return c.entityConsumed, ioflow.ErrConsumePastEOD()
	}
	room := c.entityOutCap - len(c.outQueue)
	if room <= 0 {
		return c.entityConsumed, ioflow.ErrConsumePastCredit()
	}
	n := len(data)
	if n > room {
		n = room
	}
	c.outQueue = append(c.outQueue, data[:n]...)
	c.entityConsumed += ioflow.Limit(n)
	c.scheduleEncode()
	return c.entityConsumed + ioflow.Limit(c.entityOutCap-len(c.outQueue)), nil
}

func (e *channelEntityConsumer) EndConsume(clean bool) {
	c := e.core()
	if c.entityOutEOD {
		return
	}
	c.entityOutEOD = true
	c.scheduleEncode()
}

func (e *channelEntityConsumer) Control() *ioflow.Control { return e.core().control }

func (c *Channel) scheduleEncode() {
	if c.drainEntityPending {
		return
	}
	c.drainEntityPending = true
	c.r.Execute(func() {
		c.drainEntityPending = false
		c.encodeQueue()
	})
}

func (c *Channel) encodeQueue() {
	if c.aborted {
		return
	}
	codec := c.localCodec
	if codec == nil {
		codec = DefaultCodec
	}
	for _, entity := range c.outQueue {
		body, err := codec.Marshal(entity)
		if err != nil {
			c.abort("VEC codec encode failed: " + err.Error())
			return
		}
		if c.Compress {
			body = snappy.Encode(nil, body)
		}
		var hdr [binary.MaxVarintLen64]byte
		hlen := binary.PutUvarint(hdr[:], uint64(len(body)))
		c.sendBuf.Write(hdr[:hlen])
		c.sendBuf.Write(body)
	}
	c.outQueue = c.outQueue[:0]
	c.scheduleWireFlush()
}

// ---- entity-producer role: decoded entities flow to an external consumer ----

type channelEntityProducer Channel

func (e *channelEntityProducer) core() *Channel { return (*Channel)(e) }

func (e *channelEntityProducer) Attach(cons ioflow.EntityConsumer) error {
	c := e.core()
	if c.entityConsumer == cons {
		return nil
	}
	if c.entityConsumer != nil {
		return ioflow.ErrDoubleAttach()
	}
	c.entityConsumer = cons
	return cons.Attach(e)
}

func (e *channelEntityProducer) Detach() { e.core().entityConsumer = nil }
func (e *channelEntityProducer) Abort()  { e.core().abort("entity consumer aborted") }
func (e *channelEntityProducer) CanProduce(limit ioflow.Limit) error {
	e.core().scheduleWireDecode()
	return nil
}
func (e *channelEntityProducer) Control() *ioflow.Control { return e.core().control }

func (c *Channel) abort(reason string) {
	if c.aborted {
		return
	}
	c.aborted = true
	if c.byteProducer != nil {
		c.byteProducer.Abort()
	}
	if c.byteConsumer != nil {
		c.byteConsumer.Abort()
	}
	if c.entityProducer != nil {
		c.entityProducer.Abort()
	}
	if c.entityConsumer != nil {
		c.entityConsumer.Abort()
	}
}
