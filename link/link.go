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

// Package link implements component F: a thin adapter wiring a transport
// (RUDP or a plain socket) through the optional OPH bridge and the VEC
// entity channel up to an Endpoint — the reduction of the out-of-scope
// remote-object link to "give me an entity I/O pair".
package link

import (
	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/oph"
	"github.com/xtaci/vrudp/reactor"
	"github.com/xtaci/vrudp/vec"
)

// Endpoint is everything above the entity channel needs from the
// application: a sink for inbound entities and a source of outbound ones,
// expressed as the same Consumer/Producer contract the rest of the module
// uses throughout.
type Endpoint interface {
	// Attach wires the endpoint to the entity channel's pair. Implementations
	// typically just forward to their own internal Pipe's facades.
	Attach(io ioflow.EntityPipePair) error
}

// TransportSide is the byte-level collaborator a Session rides on: an RUDP
// Transport or an ioflow.SockPipe both satisfy it.
type TransportSide struct {
	Consume ioflow.ByteConsumer
	Produce ioflow.ByteProducer
}

// BridgeConfig requests that a Session negotiate a transport via component E
// before handing bytes to the VEC channel. The Bridge itself is constructed
// by Session (it needs the channel's byte side as its splice target), so
// callers supply the negotiation inputs rather than a built *oph.Bridge.
type BridgeConfig struct {
	Role      oph.Role
	Enabled   []string
	Factories map[string]oph.Factory
}

// Config bundles a Session's construction-time choices.
type Config struct {
	Codec        vec.Codec // nil: announce no preference, use vec.DefaultCodec
	MsgMax       int
	EntityOutCap int
	Compress     bool // snappy-compress each VEC frame body; must match on both ends

	// Bridge, when non-nil, negotiates a secure/plain transport (component
	// E) before the VEC channel ever sees a byte.
	Bridge *BridgeConfig
}

// Session owns one lazily-constructed reactor (spec §5.F "lazy reactor
// construction/ownership") and wires Transport -> [Bridge] -> vec.Channel
// -> Endpoint for the lifetime of one connection.
type Session struct {
	r       *reactor.Reactor
	ownsR   bool
	channel *vec.Channel
}

// New builds a Session over an already-connected transport side and
// attaches it through to endpoint. If r is nil, a fresh reactor is created
// and started, owned by the Session (stopped on Close).
func New(r *reactor.Reactor, transport TransportSide, cfg Config, endpoint Endpoint) (*Session, error) {
	ownsR := false
	if r == nil {
		r = reactor.New(nil)
		r.Start()
		ownsR = true
	}

	channel := vec.New(r, cfg.Codec, cfg.MsgMax, cfg.EntityOutCap)
	channel.Compress = cfg.Compress

	if cfg.Bridge != nil {
		bridge := oph.New(r, cfg.Bridge.Role, cfg.Bridge.Enabled, cfg.Bridge.Factories, channel.ByteSide())
		bridgeSide := bridge.ExternalSide()
		if err := transport.Produce.Attach(bridgeSide.Consume); err != nil {
			return nil, err
		}
		if err := bridgeSide.Produce.Attach(transport.Consume); err != nil {
			return nil, err
		}
		// the bridge itself splices to channel.ByteSide() once negotiation
		// completes (see oph.Bridge.complete); nothing further to wire here.
	} else {
		byteSide := channel.ByteSide()
		if err := transport.Produce.Attach(byteSide.Consume); err != nil {
			return nil, err
		}
		if err := byteSide.Produce.Attach(transport.Consume); err != nil {
			return nil, err
		}
	}

	if err := endpoint.Attach(channel.EntitySide()); err != nil {
		return nil, err
	}

	return &Session{r: r, ownsR: ownsR, channel: channel}, nil
}

// Reactor returns the reactor this session runs on.
func (s *Session) Reactor() *reactor.Reactor { return s.r }

// Close stops the session's reactor if the session created it.
func (s *Session) Close() {
	if s.ownsR {
		s.r.Stop()
	}
}
