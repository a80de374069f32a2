package oph

import (
	"testing"
	"time"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// echoPipe is a minimal consumer/producer double standing in for an app
// endpoint attached downstream of a Bridge, recording what arrives and
// letting the test push bytes through the producer half.
type echoPipe struct {
	received []byte
	peer     ioflow.ByteConsumer
	produced ioflow.Limit
}

func (e *echoPipe) consumeSide() ioflow.ByteConsumer { return (*echoConsumer)(e) }
func (e *echoPipe) produceSide() ioflow.ByteProducer { return (*echoProducer)(e) }

type echoConsumer echoPipe
type echoProducer echoPipe

func (c *echoConsumer) Attach(ioflow.ByteProducer) error { return nil }
func (c *echoConsumer) Detach()                          {}
func (c *echoConsumer) Abort()                           {}
func (c *echoConsumer) Consume(data []byte, lim ioflow.Limit) (ioflow.Limit, error) {
	c.received = append(c.received, data...)
	return ioflow.Limit(len(c.received)), nil
}
func (c *echoConsumer) EndConsume(bool)            {}
func (c *echoConsumer) Control() *ioflow.Control   { return nil }

func (p *echoProducer) Attach(cons ioflow.ByteConsumer) error { p.peer = cons; return nil }
func (p *echoProducer) Detach()                               { p.peer = nil }
func (p *echoProducer) Abort()                                {}
func (p *echoProducer) CanProduce(ioflow.Limit) error          { return nil }
func (p *echoProducer) Control() *ioflow.Control                { return nil }

func (p *echoProducer) send(data []byte) {
	if p.peer == nil {
		return
	}
	newLim, _ := p.peer.Consume(data, p.produced+ioflow.Limit(len(data)))
	_ = newLim
	p.produced += ioflow.Limit(len(data))
}

func TestBridgeNegotiatesPlainAndSplicesDownstream(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	var clientDown, serverDown echoPipe
	clientPair := ioflow.BytePipePair{Consume: clientDown.consumeSide(), Produce: clientDown.produceSide()}
	serverPair := ioflow.BytePipePair{Consume: serverDown.consumeSide(), Produce: serverDown.produceSide()}

	client := New(r, RoleClient, []string{"PLAIN"}, nil, clientPair)
	server := New(r, RoleServer, []string{"PLAIN"}, nil, serverPair)

	splice(client.ExternalSide(), server.ExternalSide())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !(client.done && server.done) {
		time.Sleep(5 * time.Millisecond)
	}
	if !client.done || !server.done {
		t.Fatalf("handshake did not complete: client.done=%v server.done=%v", client.done, server.done)
	}

	clientProd := (*echoProducer)(&clientDown)
	clientProd.send([]byte("ping"))
	if string(serverDown.received) != "ping" {
		t.Fatalf("server downstream got %q, want %q", serverDown.received, "ping")
	}

	serverProd := (*echoProducer)(&serverDown)
	serverProd.send([]byte("pong"))
	if string(clientDown.received) != "pong" {
		t.Fatalf("client downstream got %q, want %q", clientDown.received, "pong")
	}
}

func TestBridgeFailsOnNoMutualTransport(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	var clientDown, serverDown echoPipe
	clientPair := ioflow.BytePipePair{Consume: clientDown.consumeSide(), Produce: clientDown.produceSide()}
	serverPair := ioflow.BytePipePair{Consume: serverDown.consumeSide(), Produce: serverDown.produceSide()}

	client := New(r, RoleClient, []string{"TLS"}, nil, clientPair)
	server := New(r, RoleServer, []string{"PLAIN"}, nil, serverPair)

	splice(client.ExternalSide(), server.ExternalSide())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !server.aborted {
		time.Sleep(5 * time.Millisecond)
	}
	if !server.aborted {
		t.Fatalf("expected server bridge to abort when no tag is mutually acceptable")
	}
}
