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

import (
	"math"
	"time"

	"github.com/xtaci/vrudp/ioflow"
)

// Feed hands a raw datagram received for this peer to the transport. Safe
// to call from any goroutine; the actual processing is marshaled onto the
// reactor.
func (t *Transport) Feed(pkt []byte) {
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	t.r.Execute(func() { t.onDatagram(cp) })
}

// onDatagram implements the receive path (spec §4.D.4). Must run on the
// reactor goroutine.
func (t *Transport) onDatagram(raw []byte) {
	if t.loss.Drop() {
		return
	}
	if t.failed || t.inAbort {
		return
	}
	t.lastActivity = time.Now()
	hdr, ok := decodeDatagram(raw, t.rKey)
	if !ok {
		return // silently dropped: bad length, HMAC, or MTU overrun
	}

	if hdr.Flags&FlagFail != 0 {
		t.fail("peer reported FAIL")
		return
	}

	if hdr.Ack > 0 && !t.peerAckedHello {
		t.peerAckedHello = true
		t.tryValidate()
	}

	appended := false

	if hdr.Ack > t.sendAcked {
		if !t.ackAdvance(hdr.Ack) {
			t.fail("misaligned ack")
			return
		}
	} else if len(hdr.Data) == 0 && hdr.Ack == t.sendAcked && len(t.inFlight) > 0 {
		t.dupAckCount++
		if t.dupAckCount == 3 {
			t.ssthresh = math.Max(float64(t.inFlightBytes())/2, 2)
			t.cwnd = t.ssthresh + 3
			t.forceResend = true
			t.fastRecovery = true
		} else if t.dupAckCount > 3 {
			t.cwnd++
		}
	}

	if len(hdr.Data) > 0 {
		if !t.acceptData(hdr.Seq, hdr.Data) {
			t.fail("data rejected: crosses close position or window")
			return
		}
		appended = true
	} else if hdr.Win > 0 {
		// a bare probe octet folded into Data==0 case is handled by acceptData
		// via the recv_win_end absorption rule when Data is non-empty; nothing
		// further to do for an empty, non-probe datagram here.
	}

	if hdr.Flags&FlagClose != 0 {
		pos := hdr.Seq + uint64(len(hdr.Data))
		if t.closePosSet && t.closePos != pos {
			t.fail("conflicting close position")
			return
		}
		t.closePosSet = true
		t.closePos = pos
		if len(t.ooo) == 0 && uint64(t.recvBuf.Len())+t.recvBufStart >= t.closePos {
			t.closeInput(true)
		}
		t.forceAck = true
	}

	if hdr.Flags&FlagAckClose != 0 && !t.outAbort {
		if t.outBuf.Len() == 0 && t.outEnded && len(t.inFlight) == 0 {
			t.closeOutput()
		} else if len(t.inFlight) > 0 {
			// tolerate: peer acked close while we still have in-flight data
		} else if !t.outEnded {
			t.fail("peer aborted before local output ended")
			return
		}
	}

	newLimit := hdr.Ack + hdr.Win
	if newLimit > t.sendLimit {
		t.sendLimit = newLimit
	}

	if appended {
		t.driveEntityProduce()
	}
	t.trySend()
}

// ackAdvance processes ACK > sendAcked (spec §4.D.4 step 3).
func (t *Transport) ackAdvance(ack uint64) bool {
	idx := -1
	for i, seg := range t.inFlight {
		if seg.end() == ack {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	ackedSeg := t.inFlight[idx]
	t.inFlight = t.inFlight[idx+1:]
	t.sendAcked = ack
	t.dupAckCount = 0

	if t.fastRecovery {
		t.fastRecovery = false
		t.cwnd = t.ssthresh
	} else if t.cwnd <= t.ssthresh {
		t.cwnd++
	} else {
		t.cwnd += 1 / t.cwnd
	}

	if ackedSeg.retries == 0 {
		t.updateRTO(time.Since(ackedSeg.firstSent))
		t.backoffCount = 0
		t.armRTOTimer()
	}
	return true
}

// updateRTO applies RFC 2988 (spec §4.D.4 step 3 tail).
func (t *Transport) updateRTO(r time.Duration) {
	if !t.rttKnown {
		t.srtt = r
		t.rttvar = r / 2
		t.rttKnown = true
	} else {
		diff := t.srtt - r
		if diff < 0 {
			diff = -diff
		}
		t.rttvar = t.rttvar*3/4 + diff/4
		t.srtt = t.srtt*7/8 + r/8
	}
	t.rto = t.srtt + 4*t.rttvar
	if t.rto < t.cfg.MinRTO {
		t.rto = t.cfg.MinRTO
	}
	if t.rto > t.cfg.MaxRTO {
		t.rto = t.cfg.MaxRTO
	}
}

func (t *Transport) inFlightBytes() int {
	n := 0
	for _, seg := range t.inFlight {
		n += len(seg.data)
	}
	return n
}

// acceptData implements spec §4.D.4 step 5: ordering, window, and
// pre-validation hello stripping.
func (t *Transport) acceptData(seq uint64, data []byte) bool {
	winEnd := t.recvBufStart + uint64(t.recvBuf.Len()) + uint64(t.advertisedWindow())
	end := seq + uint64(len(data))
	if t.closePosSet && end > t.closePos {
		return false
	}
	if end > winEnd {
		if len(data) == 1 && seq == winEnd {
			// single probe octet at the window edge: absorb, force an ACK.
			t.forceAck = true
			return true
		}
		return false
	}

	next := t.recvBufStart + uint64(t.recvBuf.Len())
	if seq == next {
		t.recvBuf.Write(data)
		t.drainOOO()
		t.consumeHelloIfNeeded()
		t.deliverContiguous()
		t.forceAck = true
		return true
	}
	if seq > next {
		for _, e := range t.ooo {
			if e.pos == seq {
				if !bytesEqual(e.data, data) {
					return false
				}
				t.forceAck = true
				return true
			}
			if overlaps(e.pos, len(e.data), seq, len(data)) {
				return false
			}
		}
		t.ooo = append(t.ooo, oooEntry{pos: seq, data: append([]byte(nil), data...)})
		t.forceAck = true
		return true
	}
	// stale retransmission of already-consumed data.
	t.forceAck = true
	return true
}

func (t *Transport) drainOOO() {
	progressed := true
	for progressed {
		progressed = false
		next := t.recvBufStart + uint64(t.recvBuf.Len())
		for i, e := range t.ooo {
			if e.pos == next {
				t.recvBuf.Write(e.data)
				t.ooo = append(t.ooo[:i], t.ooo[i+1:]...)
				progressed = true
				break
			}
		}
	}
}

// consumeHelloIfNeeded implements spec §4.D.4 step 6: the first non-empty
// data must be the exact 17-byte hello, stripped before delivery.
func (t *Transport) consumeHelloIfNeeded() {
	if t.preValid {
		return
	}
	if t.recvBuf.Len() < len(HelloMessage) {
		return
	}
	got := t.recvBuf.Next(len(HelloMessage))
	if string(got) != HelloMessage {
		t.fail("invalid or missing hello")
		return
	}
	t.preValid = true
	t.peerValidated = true
	t.recvBufStart += uint64(len(HelloMessage))
	t.tryValidate()
}

func (t *Transport) tryValidate() {
	if t.peerValidated && t.peerAckedHello && !t.validated {
		t.validated = true
		if t.cwnd < 2 {
			t.cwnd = 2
		}
		if t.ssthresh < 8 {
			t.ssthresh = 8
		}
	}
}

// deliverContiguous pushes newly-contiguous app bytes (post-hello) upstream.
func (t *Transport) deliverContiguous() {
	if !t.preValid || t.consumer == nil {
		return
	}
	n := t.recvBuf.Len()
	if n == 0 {
		return
	}
	data := make([]byte, n)
	copy(data, t.recvBuf.Bytes())
	newLim, err := t.consumer.Consume(data, t.producedOut+ioflow.Limit(n))
	if err != nil {
		return
	}
	delivered := int64(newLim) - int64(t.producedOut)
	if delivered < 0 {
		delivered = 0
	}
	if delivered > int64(n) {
		delivered = int64(n)
	}
	t.producedOut += ioflow.Limit(delivered)
	t.recvBuf.Next(int(delivered))
	t.recvBufStart += uint64(delivered)
}

func (t *Transport) driveEntityProduce() { t.deliverContiguous() }

func (t *Transport) closeInput(clean bool) {
	if t.recvClosed {
		return
	}
	t.recvClosed = true
	if t.consumer != nil {
		t.consumer.EndConsume(clean)
	}
}

func (t *Transport) closeOutput() {
	// propagated via EndConsume on the attached app producer's side; the
	// transport itself just stops issuing CLOSE retransmits.
	t.outAbort = true
}

// onTimerFired implements spec §4.D.5's RTO expiry handling.
func (t *Transport) onTimerFired() {
	if t.failed || t.outAbort {
		return
	}
	now := time.Now()
	retransmitted := false
	for _, seg := range t.inFlight {
		if !seg.deadline().After(now) {
			seg.onRetransmit(now, t.rto)
			t.writeSegment(seg, false)
			t.rto = minDuration(2*t.rto, t.cfg.MaxRTO)
			t.ssthresh = math.Max(float64(t.inFlightBytes())/2, 2)
			t.cwnd = 1
			t.backoffCount++
			retransmitted = true
		}
	}
	if t.backoffCount >= 5 {
		t.rttKnown = false
	}
	if !retransmitted && len(t.inFlight) == 0 {
		pos := t.nextSendPos()
		if t.outBuf.Len() > 0 && pos == t.sendLimit {
			t.trySend() // probe path inside trySend covers this
		}
		if t.closePosSet && !t.ackCloseSent {
			t.forceAck = true
			t.trySend()
		}
	}
	if len(t.inFlight) > 0 {
		t.armRTOTimer()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func overlaps(posA uint64, lenA int, posB uint64, lenB int) bool {
	endA := posA + uint64(lenA)
	endB := posB + uint64(lenB)
	return posA < endB && posB < endA
}
