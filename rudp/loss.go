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

import "math/rand"

// LossSimulator drops datagrams uniformly at random at rate Rate, a direct
// generalization of kcp-go's dup/lossyconn testing affordances, implemented
// in-package because lossyconn wraps a net.PacketConn rather than hooking a
// mid-stack datagram filter (see DESIGN.md).
type LossSimulator struct {
	Rate float64
	rng  *rand.Rand
}

// NewLossSimulator builds a simulator for the given drop rate in [0,1).
func NewLossSimulator(rate float64, seed int64) *LossSimulator {
	return &LossSimulator{Rate: rate, rng: rand.New(rand.NewSource(seed))}
}

// Drop reports whether the next datagram should be silently discarded.
func (l *LossSimulator) Drop() bool {
	if l == nil || l.Rate <= 0 {
		return false
	}
	return l.rng.Float64() < l.Rate
}
