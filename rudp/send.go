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

// nextSendPos is the absolute stream position of the first not-yet-sent byte.
func (t *Transport) nextSendPos() uint64 {
	pos := t.sendAcked
	for _, seg := range t.inFlight {
		pos += uint64(len(seg.data))
	}
	return pos
}

// advertisedWindow computes this side's recv window advertisement: the
// absolute buffer-end position floored to the nearest multiple of
// RecvWinStep, then reduced to a WIN relative to recvBufStart (spec §4.D.3),
// or the fixed handshake window while not yet validated (spec §4.D.2).
func (t *Transport) advertisedWindow() uint64 {
	if !t.validated {
		return HandshakeWindow
	}
	cap := t.cfg.RecvBufCapacity - t.recvBuf.Len()
	if cap < 0 {
		cap = 0
	}
	step := t.cfg.RecvWinStep
	if step <= 0 {
		step = 1
	}
	advEnd := t.recvBufStart + uint64(cap)
	advEnd -= advEnd % uint64(step)
	if advEnd <= t.recvBufStart {
		return 0
	}
	return advEnd - t.recvBufStart
}

// trySend drives one outgoing iteration (spec §4.D.3): at most one
// datagram, chosen in priority order among a forced retransmission, new
// data, a close flag, or a pure ACK.
func (t *Transport) trySend() {
	if t.failed || t.outAbort {
		return
	}
	now := time.Now()

	if t.forceResend && len(t.inFlight) > 0 {
		seg := t.inFlight[0]
		seg.onRetransmit(now, t.rto)
		t.writeSegment(seg, false)
		t.forceResend = false
		t.armRTOTimer()
		return
	}

	maxInFlight := int(t.cwnd)
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	pos := t.nextSendPos()

	if len(t.inFlight) < maxInFlight && t.outBuf.Len() > 0 && pos < t.sendLimit {
		if !t.lastDataSend.IsZero() && now.Sub(t.lastDataSend) > t.rto {
			t.cwnd = 2
		}
		room := t.sendLimit - pos
		n := int64(t.outBuf.Len())
		if n > int64(room) {
			n = int64(room)
		}
		if n > MaxPayload {
			n = MaxPayload
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, t.outBuf.Bytes()[:n])
			t.outBuf.Next(int(n))
			seg := &inFlightSegment{pos: pos, data: data}
			seg.onFirstSend(now, t.rto)
			t.inFlight = append(t.inFlight, seg)
			t.writeSegment(seg, false)
			t.lastDataSend = now
			t.armRTOTimer()
			return
		}
	}

	// probe octet: buffer non-empty, window exhausted, one RTO of silence.
	if t.outBuf.Len() > 0 && pos == t.sendLimit && (t.lastDataSend.IsZero() || now.Sub(t.lastDataSend) >= t.rto) {
		data := make([]byte, 1)
		copy(data, t.outBuf.Bytes()[:1])
		t.outBuf.Next(1)
		seg := &inFlightSegment{pos: pos, data: data}
		seg.onFirstSend(now, t.rto)
		t.inFlight = append(t.inFlight, seg)
		t.writeSegment(seg, false)
		t.lastDataSend = now
		t.armRTOTimer()
		return
	}

	if t.outEnded && t.outBuf.Len() == 0 && !t.closeSent && int(t.cwnd) >= len(t.inFlight)+1 {
		t.sendControl(FlagClose)
		t.closeSent = true
		return
	}

	if t.forceAck {
		t.sendControl(0)
		t.forceAck = false
		return
	}

	if t.closePosSet && t.recvClosed && !t.ackCloseSent {
		t.sendControl(FlagAckClose)
		t.ackCloseSent = true
	}
}

// writeSegment encodes and transmits one in-flight data segment.
func (t *Transport) writeSegment(seg *inFlightSegment, isRetransmitOfClose bool) {
	flags := byte(0)
	if t.outEnded && t.closeSent {
		flags |= FlagClose
	}
	t.transmit(segmentHeader{
		Flags: flags,
		Seq:   seg.pos,
		Ack:   t.recvBufStart,
		Win:   t.advertisedWindow(),
		Data:  seg.data,
	})
}

// sendControl transmits a zero-payload datagram carrying only flags/ack/win:
// a pure ACK, a CLOSE marker, or an ACK_CLOSE marker.
func (t *Transport) sendControl(flags byte) {
	seq := t.nextSendPos()
	t.transmit(segmentHeader{
		Flags: flags,
		Seq:   seq,
		Ack:   t.recvBufStart,
		Win:   t.advertisedWindow(),
	})
}

func (t *Transport) transmit(hdr segmentHeader) {
	if t.loss.Drop() {
		return
	}
	pkt, err := encodeDatagram(hdr, t.sKey)
	if err != nil {
		return
	}
	_ = t.send(pkt)
}

func (t *Transport) armRTOTimer() {
	t.timers.arm(t.rto)
}
