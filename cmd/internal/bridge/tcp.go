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

// Package bridge adapts a local TCP connection to the entity side of a
// link.Session, the cmd/ layer's analog of ioflow.SockPipe: one goroutine
// feeds socket reads upstream as utf8 entities, and entities arriving from
// the channel are written straight back out to the socket.
package bridge

import (
	"io"
	"net"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// readChunk bounds one TCP read's size before it becomes a single entity.
const readChunk = 4096

// TCPEndpoint implements link.Endpoint over one accepted or dialed TCP
// connection, carrying entities as opaque strings (vec's "utf8" codec).
type TCPEndpoint struct {
	r       *reactor.Reactor
	conn    net.Conn
	control *ioflow.Control

	consumer ioflow.EntityConsumer // channel's consumer: entities read from the socket flow here
	produced ioflow.Limit
	outEOD   bool

	producer ioflow.EntityProducer // channel's producer: entities to write to the socket flow from here
	consumed ioflow.Limit
	inEOD    bool
}

// New wraps conn for use as a link.Endpoint. Call Attach (invoked by
// link.Session.New) before traffic flows.
func New(r *reactor.Reactor, conn net.Conn) *TCPEndpoint {
	return &TCPEndpoint{r: r, conn: conn, control: ioflow.NewControl()}
}

// Attach satisfies link.Endpoint: wire both directions and start the
// socket-read goroutine.
func (e *TCPEndpoint) Attach(io ioflow.EntityPipePair) error {
	e.consumer = io.Consume
	if err := io.Produce.Attach(e.consumerSide()); err != nil {
		return err
	}
	if err := io.Consume.Attach(e.producerSide()); err != nil {
		return err
	}
	go e.readLoop()
	return nil
}

func (e *TCPEndpoint) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			done := make(chan struct{})
			e.r.Execute(func() {
				e.deliver(chunk)
				close(done)
			})
			<-done
		}
		if err != nil {
			clean := err == io.EOF
			done := make(chan struct{})
			e.r.Execute(func() {
				e.deliverEOD(clean)
				close(done)
			})
			<-done
			return
		}
	}
}

func (e *TCPEndpoint) deliver(chunk string) {
	if e.outEOD || e.consumer == nil {
		return
	}
	newLim, err := e.consumer.Consume([]ioflow.Entity{chunk}, e.produced+1)
	if err != nil {
		return
	}
	e.produced = newLim
}

func (e *TCPEndpoint) deliverEOD(clean bool) {
	if e.outEOD {
		return
	}
	e.outEOD = true
	if e.consumer != nil {
		e.consumer.EndConsume(clean)
	}
}

// ---- Producer[Entity] role: socket reads flow out to the channel ----

type tcpProducerSide TCPEndpoint

func (e *TCPEndpoint) producerSide() ioflow.EntityProducer { return (*tcpProducerSide)(e) }

func (p *tcpProducerSide) Attach(c ioflow.EntityConsumer) error {
	e := (*TCPEndpoint)(p)
	if e.consumer == c {
		return nil
	}
	e.consumer = c
	return nil
}
func (p *tcpProducerSide) Detach()                             { (*TCPEndpoint)(p).consumer = nil }
func (p *tcpProducerSide) Abort()                              { (*TCPEndpoint)(p).conn.Close() }
func (p *tcpProducerSide) CanProduce(ioflow.Limit) error        { return nil }
func (p *tcpProducerSide) Control() *ioflow.Control             { return (*TCPEndpoint)(p).control }

// ---- Consumer[Entity] role: entities from the channel get written out ----

type tcpConsumerSide TCPEndpoint

func (e *TCPEndpoint) consumerSide() ioflow.EntityConsumer { return (*tcpConsumerSide)(e) }

func (c *tcpConsumerSide) Attach(p ioflow.EntityProducer) error {
	e := (*TCPEndpoint)(c)
	if e.producer == p {
		return nil
	}
	e.producer = p
	return nil
}
func (c *tcpConsumerSide) Detach() { (*TCPEndpoint)(c).producer = nil }
func (c *tcpConsumerSide) Abort()  { (*TCPEndpoint)(c).conn.Close() }

func (c *tcpConsumerSide) Consume(data []ioflow.Entity, consumeLimit ioflow.Limit) (ioflow.Limit, error) {
	e := (*TCPEndpoint)(c)
	if e.inEOD {
		return e.consumed, nil
	}
	for _, v := range data {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, err := e.conn.Write([]byte(s)); err != nil {
			return e.consumed, nil
		}
		e.consumed++
	}
	return e.consumed + readChunk, nil
}

func (c *tcpConsumerSide) EndConsume(clean bool) {
	e := (*TCPEndpoint)(c)
	if e.inEOD {
		return
	}
	e.inEOD = true
	if cw, ok := e.conn.(interface{ CloseWrite() error }); ok && clean {
		cw.CloseWrite()
	} else {
		e.conn.Close()
	}
}

func (c *tcpConsumerSide) Control() *ioflow.Control { return (*TCPEndpoint)(c).control }
