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

// inFlightSegment is one unacknowledged sent segment (spec §4.D.3
// "per-segment bookkeeping").
type inFlightSegment struct {
	pos       uint64 // absolute stream position of the first byte
	data      []byte
	firstSent time.Time
	timeout   time.Duration // this segment's own retransmit deadline
	retries   int
}

func (s *inFlightSegment) end() uint64 { return s.pos + uint64(len(s.data)) }

func (s *inFlightSegment) deadline() time.Time { return s.firstSent.Add(s.timeout) }

// onFirstSend records initial send bookkeeping (spec §4.D.3).
func (s *inFlightSegment) onFirstSend(now time.Time, rto time.Duration) {
	s.firstSent = now
	s.timeout = rto
	s.retries = 0
}

// onRetransmit updates bookkeeping for a retransmit of this segment:
// "per-segment timeout ← min(2·previous, RTO)" (spec §4.D.3), using the
// connection's current RTO as the ceiling.
func (s *inFlightSegment) onRetransmit(now time.Time, rto time.Duration) {
	s.firstSent = now
	d := 2 * s.timeout
	if d > rto {
		d = rto
	}
	s.timeout = d
	s.retries++
}

// oooEntry is a buffered out-of-order segment awaiting its predecessor.
type oooEntry struct {
	pos  uint64
	data []byte
}
