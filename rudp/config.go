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

import "time"

// Config bundles the tunables a Transport is constructed with. Field names
// and defaults follow kcptun's client/server Config pattern (std/ pkg) of
// one flat struct consumed by both the CLI and a JSON overlay.
type Config struct {
	// LocalSecret/PeerSecret derive the role-asymmetric HMAC keys (spec §4.D.1).
	LocalSecret []byte
	PeerSecret  []byte

	// RecvBufCapacity bounds how much contiguous+out-of-order data this side
	// buffers before backpressuring the peer; RecvWinStep quantizes the
	// advertised window (default capacity/5, spec §4.D.3).
	RecvBufCapacity int
	RecvWinStep     int

	// InitialRTO/MinRTO/MaxRTO bound the RTO per spec §4.D (default 3s, clamp
	// [0.1s, 60s]).
	InitialRTO time.Duration
	MinRTO     time.Duration
	MaxRTO     time.Duration

	// MaxTimers bounds the RTO timer pool (spec §4.D.5, default 20).
	MaxTimers int

	// TimerReduceFactor is the _TIMER_REDUCE_FACTOR fraction (spec §4.D.5,
	// §9 Open Questions): a new pooled timer is only armed when its delay
	// undercuts this fraction of the nearest pending deadline. Default 0.8.
	TimerReduceFactor float64

	// LossRate in [0,1) drops outgoing and incoming datagrams uniformly at
	// random for testing (spec §9 "Loss simulator"); 0 disables it.
	LossRate float64

	// Filter optionally vets peer/relay addresses before the first hello and
	// before accepting a relay-supplied peer (spec §4.D.7). nil allows all.
	Filter HostFilter

	// DSCP sets the 6-bit DSCP field in the IPv4 header of outgoing
	// datagrams, the same knob as kcp-go's UDPSession.SetDSCP. 0 leaves the
	// socket's default TOS untouched.
	DSCP int

	// IdleTimeout force-fails the connection once no datagram has been
	// exchanged for this long, generalizing kcptun's per-session scavenger.
	// 0 disables the idle check.
	IdleTimeout time.Duration
}

// HostFilter independently allows/denies relay hosts and peer hosts.
type HostFilter interface {
	AllowPeer(addr string) bool
	AllowRelay(addr string) bool
}

// allowAllFilter is the default "allow-all" HostFilter.
type allowAllFilter struct{}

func (allowAllFilter) AllowPeer(string) bool  { return true }
func (allowAllFilter) AllowRelay(string) bool { return true }

// DefaultConfig returns a Config with the spec's stated defaults applied.
func DefaultConfig() Config {
	return Config{
		RecvBufCapacity: 65536,
		RecvWinStep:     65536 / 5,
		InitialRTO:      3 * time.Second,
		MinRTO:          100 * time.Millisecond,
		MaxRTO:          60 * time.Second,
		MaxTimers:         20,
		TimerReduceFactor: 0.8,
		Filter:            allowAllFilter{},
	}
}

func (c *Config) normalize() {
	if c.RecvBufCapacity <= 0 {
		c.RecvBufCapacity = 65536
	}
	if c.RecvWinStep <= 0 {
		c.RecvWinStep = c.RecvBufCapacity / 5
		if c.RecvWinStep <= 0 {
			c.RecvWinStep = 1
		}
	}
	if c.InitialRTO <= 0 {
		c.InitialRTO = 3 * time.Second
	}
	if c.MinRTO <= 0 {
		c.MinRTO = 100 * time.Millisecond
	}
	if c.MaxRTO <= 0 {
		c.MaxRTO = 60 * time.Second
	}
	if c.MaxTimers <= 0 {
		c.MaxTimers = 20
	}
	if c.TimerReduceFactor <= 0 || c.TimerReduceFactor >= 1 {
		c.TimerReduceFactor = 0.8
	}
	if c.Filter == nil {
		c.Filter = allowAllFilter{}
	}
}
