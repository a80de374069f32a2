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

package ioflow

import (
	"io"
	"net"

	"github.com/xtaci/vrudp/reactor"
)

// SockPipe adapts a net.Conn (TCP/Unix; a TLS *tls.Conn has the same shape)
// to the byte producer/consumer contract. Per spec §1 these socket wrappers
// are out-of-scope externals — only the contract matters — so SockPipe is a
// thin leaf device, not a pipe-to-pipe bridge: one goroutine feeds socket
// reads to an attached Consumer, and Consume calls write straight through to
// the socket. This generalizes kcptun's std.Copy/std.Pipe goroutine-pair
// pattern into the reactor's producer/consumer vocabulary.
type SockPipe struct {
	r       *reactor.Reactor
	conn    net.Conn
	control *Control

	consumer ByteConsumer // drains bytes read from the socket
	produced Limit
	outEOD   bool
	outAbort bool

	producer    ByteProducer // pushes bytes that get written to the socket
	consumed    Limit
	writeCap    int
	inEOD       bool
	inAbort     bool
}

// NewSockPipe wraps conn and starts its read-loop goroutine. writeCap bounds
// how much unacknowledged write-side credit this endpoint advertises.
func NewSockPipe(r *reactor.Reactor, conn net.Conn, writeCap int) *SockPipe {
	sp := &SockPipe{r: r, conn: conn, control: NewControl(), writeCap: writeCap}
	go sp.readLoop()
	return sp
}

func (sp *SockPipe) Control() *Control { return sp.control }

// ---- Producer[byte]: socket reads flow out to an attached Consumer ----

func (sp *SockPipe) Attach(c ByteConsumer) error {
	if sp.consumer == c {
		return nil
	}
	if sp.consumer != nil {
		return ErrDoubleAttach()
	}
	sp.consumer = c
	Try(sp.control, ControlNotifyConsumerAttached(), c)
	return c.Attach(sp)
}

func (sp *SockPipe) Detach() { sp.consumer = nil }

func (sp *SockPipe) Abort() {
	if sp.outAbort {
		return
	}
	sp.outAbort = true
	if sp.consumer != nil {
		sp.consumer.Abort()
	}
	sp.conn.Close()
}

func (sp *SockPipe) CanProduce(limit Limit) error { return nil }

func (sp *SockPipe) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := sp.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			done := make(chan struct{})
			sp.r.Execute(func() {
				sp.deliver(chunk)
				close(done)
			})
			<-done
		}
		if err != nil {
			clean := err == io.EOF
			done := make(chan struct{})
			sp.r.Execute(func() {
				sp.deliverEOD(clean)
				close(done)
			})
			<-done
			return
		}
	}
}

func (sp *SockPipe) deliver(chunk []byte) {
	if sp.outEOD || sp.consumer == nil {
		return
	}
	newLim, err := sp.consumer.Consume(chunk, sp.produced+Limit(len(chunk)))
	if err != nil {
		return
	}
	sp.produced = newLim
}

func (sp *SockPipe) deliverEOD(clean bool) {
	if sp.outEOD {
		return
	}
	sp.outEOD = true
	if sp.consumer != nil {
		sp.consumer.EndConsume(clean)
	}
}

// ---- Consumer[byte]: pushed bytes are written straight to the socket ----

func (sp *SockPipe) AttachProducer(p ByteProducer) error {
	if sp.producer == p {
		return nil
	}
	if sp.producer != nil {
		return ErrDoubleAttach()
	}
	sp.producer = p
	Try(sp.control, ControlNotifyProducerAttached(), p)
	return p.Attach(sp)
}

func (sp *SockPipe) DetachProducer() { sp.producer = nil }

func (sp *SockPipe) AbortProducer() {
	if sp.inAbort {
		return
	}
	sp.inAbort = true
	if sp.producer != nil {
		sp.producer.Abort()
	}
	sp.conn.Close()
}

func (sp *SockPipe) Consume(data []byte, consumeLimit Limit) (Limit, error) {
	if sp.inEOD {
		return sp.consumed, ErrConsumePastEOD()
	}
	n, err := sp.conn.Write(data)
	sp.consumed += Limit(n)
	if err != nil {
		return sp.consumed, ErrLost(err.Error())
	}
	return sp.consumed + Limit(sp.writeCap), nil
}

func (sp *SockPipe) EndConsume(clean bool) {
	if sp.inEOD {
		return
	}
	sp.inEOD = true
	if cw, ok := sp.conn.(interface{ CloseWrite() error }); ok && clean {
		cw.CloseWrite()
	} else {
		sp.conn.Close()
	}
}

// ConsumerSide/ProducerSide expose SockPipe through the narrower
// Consumer[byte]/Producer[byte] interfaces expected by pipe-pair attach calls,
// since SockPipe.Attach above is overloaded for the Producer role (consumer
// role uses AttachProducer/DetachProducer/AbortProducer to avoid a name
// collision on one Go type implementing both interfaces).
type sockPipeConsumerSide SockPipe

func (sp *SockPipe) ConsumerSide() ByteConsumer { return (*sockPipeConsumerSide)(sp) }

func (c *sockPipeConsumerSide) Attach(p ByteProducer) error { return (*SockPipe)(c).AttachProducer(p) }
func (c *sockPipeConsumerSide) Detach()                     { (*SockPipe)(c).DetachProducer() }
func (c *sockPipeConsumerSide) Abort()                      { (*SockPipe)(c).AbortProducer() }
func (c *sockPipeConsumerSide) Consume(data []byte, lim Limit) (Limit, error) {
	return (*SockPipe)(c).Consume(data, lim)
}
func (c *sockPipeConsumerSide) EndConsume(clean bool) { (*SockPipe)(c).EndConsume(clean) }
func (c *sockPipeConsumerSide) Control() *Control     { return (*SockPipe)(c).control }
