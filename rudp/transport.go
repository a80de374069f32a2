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
	"bytes"
	"time"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// Transport is component D: a reliable byte stream over one UDP socket to
// one peer. It plays both the Consumer[byte] role (accepts app bytes to
// send) and the Producer[byte] role (delivers received stream bytes),
// mirroring kcp-go's UDPSession which is simultaneously an io.Reader and
// io.Writer over one logical connection.
type Transport struct {
	r    *reactor.Reactor
	cfg  Config
	send func([]byte) error
	loss *LossSimulator

	sKey, rKey []byte

	control *ioflow.Control

	// attached externals
	consumer ioflow.ByteConsumer // receives decoded, post-hello stream bytes
	producer ioflow.ByteProducer // pushes bytes for us to send

	// send side
	outBuf       bytes.Buffer
	sendAcked    uint64
	sendLimit    uint64
	inFlight     []*inFlightSegment
	forceResend  bool
	forceAck     bool
	fastRecovery bool
	dupAckCount  int
	lastDataSend time.Time
	outEnded     bool
	closeSent    bool
	ackCloseSent bool
	helloQueued  bool
	consumedIn   ioflow.Limit // cumulative bytes accepted from app producer

	// recv side
	recvBufStart uint64
	recvBuf      bytes.Buffer
	ooo          []oooEntry
	preValid     bool // have consumed the 17-byte hello
	closePos     uint64
	closePosSet  bool
	recvClosed   bool
	producedOut  ioflow.Limit // cumulative bytes delivered to app consumer

	// handshake/validation
	peerValidated  bool
	peerAckedHello bool
	validated      bool
	failed         bool
	failReason     string

	// congestion
	srtt, rttvar, rto time.Duration
	rttKnown          bool
	cwnd              float64
	ssthresh          float64
	backoffCount      int

	timers *timerPool

	lastActivity time.Time
	idleTimer    *reactor.Timer

	inAbort, outAbort bool
}

// NewTransport constructs a Transport that sends raw datagrams via sendFn.
// Callers own datagram delivery: feed received datagrams for this peer to
// Feed. This split mirrors kcp-go's Listener/UDPSession split, where a
// shared socket demuxes to many sessions' packetInput.
func NewTransport(r *reactor.Reactor, cfg Config, sendFn func([]byte) error) *Transport {
	cfg.normalize()
	t := &Transport{
		r:         r,
		cfg:       cfg,
		send:      sendFn,
		control:   ioflow.NewControl(),
		sendLimit: HandshakeWindow,
		cwnd:      1,
		ssthresh:  8,
		rto:       cfg.InitialRTO,
	}
	if cfg.LossRate > 0 {
		t.loss = NewLossSimulator(cfg.LossRate, int64(cfg.RecvBufCapacity)+1)
	}
	t.sKey = sendKey(cfg.LocalSecret, cfg.PeerSecret)
	t.rKey = recvKey(cfg.LocalSecret, cfg.PeerSecret)
	t.timers = newTimerPool(r, cfg.MaxTimers, cfg.TimerReduceFactor, t.onTimerFired)
	t.lastActivity = time.Now()
	if cfg.IdleTimeout > 0 {
		t.armIdleCheck()
	}
	t.queueHello()
	t.r.Execute(t.trySend)
	return t
}

// armIdleCheck schedules the next idle-timeout poll, generalizing kcptun's
// client/main.go scavenger/AutoExpire to a single connection's lifetime:
// a connection that exchanges no datagrams for cfg.IdleTimeout is force-failed.
func (t *Transport) armIdleCheck() {
	t.idleTimer = t.r.Schedule(t.cfg.IdleTimeout, func() {
		if t.failed || t.inAbort {
			return
		}
		if time.Since(t.lastActivity) >= t.cfg.IdleTimeout {
			t.fail("idle timeout")
			return
		}
		t.armIdleCheck()
	})
}

func (t *Transport) Control() *ioflow.Control { return t.control }

func (t *Transport) queueHello() {
	if t.helloQueued {
		return
	}
	t.helloQueued = true
	t.outBuf.WriteString(HelloMessage)
}

// ---- Producer[byte] role: deliver received stream bytes ----

func (t *Transport) Attach(c ioflow.ByteConsumer) error {
	if t.consumer == c {
		return nil
	}
	if t.consumer != nil {
		return ioflow.ErrDoubleAttach()
	}
	t.consumer = c
	ioflow.Try(t.control, ioflow.ControlNotifyConsumerAttach, c)
	return c.Attach(t)
}

func (t *Transport) Detach() { t.consumer = nil }

func (t *Transport) Abort() {
	if t.outAbort {
		return
	}
	t.outAbort = true
	if t.consumer != nil {
		t.consumer.Abort()
	}
	t.closeIO()
}

func (t *Transport) CanProduce(ioflow.Limit) error { return nil }

// ---- Consumer[byte] role (renamed to dodge the Attach/Consume name clash
// with the Producer role, same device as ioflow.SockPipe) ----

func (t *Transport) AttachProducer(p ioflow.ByteProducer) error {
	if t.producer == p {
		return nil
	}
	if t.producer != nil {
		return ioflow.ErrDoubleAttach()
	}
	t.producer = p
	ioflow.Try(t.control, ioflow.ControlNotifyProducerAttach, p)
	return p.Attach(t.ConsumerSide())
}

func (t *Transport) DetachProducer() { t.producer = nil }

func (t *Transport) AbortProducer() {
	if t.inAbort {
		return
	}
	t.inAbort = true
	if t.producer != nil {
		t.producer.Abort()
	}
	t.closeIO()
}

func (t *Transport) Consume(data []byte, consumeLimit ioflow.Limit) (ioflow.Limit, error) {
	if t.outEnded {
		return t.consumedIn, ioflow.ErrConsumePastEOD()
	}
	t.outBuf.Write(data)
	t.consumedIn += ioflow.Limit(len(data))
	t.r.Execute(t.trySend)
	return t.currentWriteLimit(), nil
}

func (t *Transport) EndConsume(clean bool) {
	if t.outEnded {
		return
	}
	t.outEnded = true
	if !clean {
		t.failed = true
	}
	t.r.Execute(t.trySend)
}

// currentWriteLimit advertises generous credit since outBuf is unbounded
// apart from backpressure from the peer's own advertised window.
func (t *Transport) currentWriteLimit() ioflow.Limit {
	return t.consumedIn + ioflow.Limit(MaxPayload*8)
}

// transportConsumerSide narrows Transport to the Consumer[byte] interface,
// the same facade-collision workaround used by ioflow.SockPipe.
type transportConsumerSide Transport

func (t *Transport) ConsumerSide() ioflow.ByteConsumer { return (*transportConsumerSide)(t) }

func (c *transportConsumerSide) Attach(p ioflow.ByteProducer) error {
	return (*Transport)(c).AttachProducer(p)
}
func (c *transportConsumerSide) Detach() { (*Transport)(c).DetachProducer() }
func (c *transportConsumerSide) Abort()  { (*Transport)(c).AbortProducer() }
func (c *transportConsumerSide) Consume(data []byte, lim ioflow.Limit) (ioflow.Limit, error) {
	return (*Transport)(c).Consume(data, lim)
}
func (c *transportConsumerSide) EndConsume(clean bool) { (*Transport)(c).EndConsume(clean) }
func (c *transportConsumerSide) Control() *ioflow.Control { return (*Transport)(c).control }

// ---- close semantics (spec §4.D.6) ----

// fail marks the connection permanently broken and force-closes both
// directions (spec §4.D's FAIL flag and misaligned-ack/hello-violation paths).
func (t *Transport) fail(reason string) {
	if t.failed {
		return
	}
	t.failed = true
	t.failReason = reason
	t.transmit(segmentHeader{Flags: FlagFail, Seq: t.nextSendPos(), Ack: t.recvBufStart})
	if t.consumer != nil {
		t.consumer.EndConsume(false)
	}
	if t.producer != nil {
		t.producer.Abort()
	}
	t.closeIO()
}

// FailReason returns the diagnostic string recorded when the connection
// entered the failed state, or "" if it has not failed.
func (t *Transport) FailReason() string { return t.failReason }

// Validated reports whether the connection has completed its handshake in
// both directions (spec §4.D.2).
func (t *Transport) Validated() bool { return t.validated }

// Stats is a point-in-time snapshot of one Transport's congestion and
// stream-position state, the RUDP analog of kcp-go's Snmp counters.
type Stats struct {
	SRTT, RTTVAR, RTO      time.Duration
	Cwnd, Ssthresh         float64
	BackoffCount           int
	SendAcked, RecvBufPos  uint64
	InFlightSegments       int
	Validated, Failed      bool
}

// Header names Stats' CSV columns in Snapshot's field order.
func (Stats) Header() []string {
	return []string{"srtt_ms", "rttvar_ms", "rto_ms", "cwnd", "ssthresh", "backoff",
		"send_acked", "recv_pos", "in_flight", "validated", "failed"}
}

// Snapshot returns the current Stats for this Transport.
func (t *Transport) Snapshot() Stats {
	return Stats{
		SRTT: t.srtt, RTTVAR: t.rttvar, RTO: t.rto,
		Cwnd: t.cwnd, Ssthresh: t.ssthresh, BackoffCount: t.backoffCount,
		SendAcked: t.sendAcked, RecvBufPos: t.recvBufStart,
		InFlightSegments: len(t.inFlight),
		Validated:        t.validated, Failed: t.failed,
	}
}

func (t *Transport) closeIO() {
	t.sendControl(0)
	t.inAbort = true
	t.outAbort = true
	t.timers.cancelAll()
	if t.idleTimer != nil {
		t.r.Cancel(t.idleTimer)
		t.idleTimer = nil
	}
	t.outBuf.Reset()
	t.recvBuf.Reset()
	t.ooo = nil
	t.inFlight = nil
}
