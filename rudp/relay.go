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

package rudp

import "github.com/pkg/errors"

// maxRelayTokenLen is the HMAC token size ceiling a relay-exchanged peer
// is allowed to present (versile's VUDPRelayedVOPConnecter.link_to_peer
// rejects l_sec/r_sec over 32 bytes).
const maxRelayTokenLen = 32

// RelayToken carries the pair of HMAC secrets two peers exchanged through a
// rendezvous relay before dialing each other directly: LocalSecret is the
// token this side signs outgoing datagrams with, PeerSecret is the token
// the peer is expected to sign with. This is the reduced, gateway-free form
// of link_to_peer's l_sec/r_sec handoff: the relay-service/gateway dispatch
// around it stays out of scope.
type RelayToken struct {
	LocalSecret []byte
	PeerSecret  []byte
}

// NewRelayToken validates a token pair exchanged via a relay and returns it,
// or an error if either token exceeds maxRelayTokenLen.
func NewRelayToken(localSecret, peerSecret []byte) (RelayToken, error) {
	if len(localSecret) > maxRelayTokenLen || len(peerSecret) > maxRelayTokenLen {
		return RelayToken{}, errors.New("rudp: relay HMAC tokens must be at most 32 bytes")
	}
	return RelayToken{LocalSecret: localSecret, PeerSecret: peerSecret}, nil
}

// Apply copies the token pair into cfg's LocalSecret/PeerSecret fields, the
// same role l_sec/r_sec play when VUDPTransport is constructed after a
// relay handshake completes.
func (rt RelayToken) Apply(cfg *Config) {
	cfg.LocalSecret = rt.LocalSecret
	cfg.PeerSecret = rt.PeerSecret
}
