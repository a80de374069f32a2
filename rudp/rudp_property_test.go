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
	"math/rand"
	"testing"
	"time"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// runSync enqueues fn on the reactor goroutine and blocks until it has
// actually run, for the cases (unlike waitFor's polling) where a test
// needs to read back a value a single reactor-goroutine call produced.
func runSync(r *reactor.Reactor, fn func()) {
	done := make(chan struct{})
	r.Execute(func() {
		fn()
		close(done)
	})
	<-done
}

// TestHMACTamperingIsDroppedStreamSurvives exercises spec §8's "HMAC
// authentication" invariant: a datagram with a flipped bit anywhere after
// its HMAC was computed must be silently dropped, while the connection
// keeps delivering every datagram that was not tampered with, byte-exact
// and gap-free.
func TestHMACTamperingIsDroppedStreamSurvives(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	cfgA := DefaultConfig()
	cfgA.LocalSecret, cfgA.PeerSecret = []byte("alice-secret"), []byte("bob-secret")
	cfgB := DefaultConfig()
	cfgB.LocalSecret, cfgB.PeerSecret = []byte("bob-secret"), []byte("alice-secret")

	var tA, tB *Transport
	tamper := func(pkt []byte) []byte {
		if rng.Intn(5) != 0 { // tamper roughly 20% of datagrams
			return pkt
		}
		cp := make([]byte, len(pkt))
		copy(cp, pkt)
		cp[rng.Intn(len(cp))] ^= 1 << uint(rng.Intn(8))
		return cp
	}
	tA = NewTransport(r, cfgA, func(pkt []byte) error { tB.Feed(tamper(pkt)); return nil })
	tB = NewTransport(r, cfgB, func(pkt []byte) error { tA.Feed(tamper(pkt)); return nil })

	var consB fakeConsumer
	r.Execute(func() {
		tA.Attach(&fakeConsumer{})
		tB.Attach(&consB)
	})

	waitFor(t, 5*time.Second, func() bool { return tA.Validated() && tB.Validated() })

	want := make([]byte, 32*1024)
	rng.Read(want)
	r.Execute(func() {
		tA.Consume(want, ioflow.Unlimited)
		tA.EndConsume(true)
	})

	waitFor(t, 20*time.Second, func() bool {
		_, ended := consB.snapshot()
		return ended
	})
	got, _ := consB.snapshot()
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: tampering corrupted delivered data instead of being dropped", i)
		}
	}
	if tA.failed || tB.failed {
		t.Fatalf("tampered datagrams should be dropped, not fail the connection: tA.failed=%v tB.failed=%v",
			tA.failed, tB.failed)
	}
}

// TestCongestionWindowAndRTOBoundsHoldThroughoutTransfer polls the
// sending transport's Snapshot() every 10ms during a lossy
// transfer and checks spec §8's "congestion window bounds" and "RTO
// bounds" invariants hold at every sample: cwnd never drops below 1 (2
// once validated), and RTO stays within [MinRTO, MaxRTO].
func TestCongestionWindowAndRTOBoundsHoldThroughoutTransfer(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	cfgA := DefaultConfig()
	cfgA.LocalSecret, cfgA.PeerSecret = []byte("alice-secret"), []byte("bob-secret")
	cfgA.LossRate = 0.2
	cfgB := DefaultConfig()
	cfgB.LocalSecret, cfgB.PeerSecret = []byte("bob-secret"), []byte("alice-secret")
	cfgB.LossRate = 0.2

	var tA, tB *Transport
	tA = NewTransport(r, cfgA, func(pkt []byte) error { tB.Feed(pkt); return nil })
	tB = NewTransport(r, cfgB, func(pkt []byte) error { tA.Feed(pkt); return nil })

	var consB fakeConsumer
	r.Execute(func() {
		tA.Attach(&fakeConsumer{})
		tB.Attach(&consB)
	})

	waitFor(t, 5*time.Second, func() bool { return tA.Validated() && tB.Validated() })

	want := make([]byte, 96*1024)
	rand.New(rand.NewSource(99)).Read(want)
	r.Execute(func() {
		tA.Consume(want, ioflow.Unlimited)
		tA.EndConsume(true)
	})

	var samples []Stats
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var done bool
		runSync(r, func() {
			samples = append(samples, tA.Snapshot())
			_, done = consB.snapshot()
		})
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(samples) == 0 {
		t.Fatal("collected no Stats samples")
	}
	for i, s := range samples {
		if s.Cwnd < 1 {
			t.Fatalf("sample %d: cwnd %v < 1", i, s.Cwnd)
		}
		if s.Validated && s.Cwnd < 2 {
			t.Fatalf("sample %d: validated connection has cwnd %v < 2", i, s.Cwnd)
		}
		if s.RTO < cfgA.MinRTO || s.RTO > cfgA.MaxRTO {
			t.Fatalf("sample %d: rto %v outside [%v, %v]", i, s.RTO, cfgA.MinRTO, cfgA.MaxRTO)
		}
	}
}

// countingConsumer is a minimal ioflow.ByteConsumer double that only
// counts EndConsume calls, used to check fail()'s idempotence.
type countingConsumer struct {
	endCalls int
}

func (c *countingConsumer) Attach(ioflow.Producer[byte]) error { return nil }
func (c *countingConsumer) Detach()                            {}
func (c *countingConsumer) Abort()                             {}
func (c *countingConsumer) Consume(data []byte, lim ioflow.Limit) (ioflow.Limit, error) {
	return lim, nil
}
func (c *countingConsumer) EndConsume(bool)          { c.endCalls++ }
func (c *countingConsumer) Control() *ioflow.Control { return nil }

// TestFailIsIdempotent exercises spec §8's "close idempotence" invariant
// at the Transport level: calling fail twice must behave as a no-op the
// second time around (same failReason, no duplicate EndConsume).
func TestFailIsIdempotent(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	cfg := DefaultConfig()
	cfg.LocalSecret, cfg.PeerSecret = []byte("alice-secret"), []byte("bob-secret")
	tr := NewTransport(r, cfg, func([]byte) error { return nil })

	cons := &countingConsumer{}
	runSync(r, func() { tr.Attach(cons) })

	runSync(r, func() {
		tr.fail("first failure")
	})

	var reasonAfterFirst, reasonAfterSecond string
	var endCallsAfterSecond int
	runSync(r, func() {
		reasonAfterFirst = tr.FailReason()
		tr.fail("second failure should be ignored")
		reasonAfterSecond = tr.FailReason()
		endCallsAfterSecond = cons.endCalls
	})

	if reasonAfterFirst != reasonAfterSecond {
		t.Fatalf("fail reason changed on second call: %q -> %q", reasonAfterFirst, reasonAfterSecond)
	}
	if endCallsAfterSecond != 1 {
		t.Fatalf("expected exactly one EndConsume call across two fail() calls, got %d", endCallsAfterSecond)
	}
}

// TestHandshakeHelloNeverExceedsBound exercises spec §8's "handshake
// bounds" invariant for RUDP's own 17-byte hello message: the hello fits
// inside the fixed HandshakeWindow, and a correctly-sized hello alone is
// enough to validate a connection once both sides have exchanged one.
func TestHandshakeHelloNeverExceedsBound(t *testing.T) {
	if len(HelloMessage) > HandshakeWindow {
		t.Fatalf("HelloMessage (%d bytes) exceeds HandshakeWindow (%d)", len(HelloMessage), HandshakeWindow)
	}

	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	cfgA := DefaultConfig()
	cfgA.LocalSecret, cfgA.PeerSecret = []byte("alice-secret"), []byte("bob-secret")
	cfgB := DefaultConfig()
	cfgB.LocalSecret, cfgB.PeerSecret = []byte("bob-secret"), []byte("alice-secret")

	var tA, tB *Transport
	tA = NewTransport(r, cfgA, func(pkt []byte) error { tB.Feed(pkt); return nil })
	tB = NewTransport(r, cfgB, func(pkt []byte) error { tA.Feed(pkt); return nil })

	r.Execute(func() {
		tA.Attach(&fakeConsumer{})
		tB.Attach(&fakeConsumer{})
	})

	waitFor(t, 2*time.Second, func() bool { return tA.Validated() && tB.Validated() })
}
