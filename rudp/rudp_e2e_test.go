package rudp

import (
	"sync"
	"testing"
	"time"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// fakeConsumer is a minimal ioflow.Consumer[byte] double that records
// everything delivered to it, used to observe a Transport's producer role
// without pulling in the full vec/link stack.
type fakeConsumer struct {
	mu       sync.Mutex
	data     []byte
	acked    ioflow.Limit
	ended    bool
	endClean bool
}

func (c *fakeConsumer) Attach(ioflow.Producer[byte]) error { return nil }
func (c *fakeConsumer) Detach()                            {}
func (c *fakeConsumer) Abort()                             {}
func (c *fakeConsumer) Consume(data []byte, consumeLimit ioflow.Limit) (ioflow.Limit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, data...)
	c.acked = ioflow.Limit(len(c.data))
	return c.acked, nil
}
func (c *fakeConsumer) EndConsume(clean bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended, c.endClean = true, clean
}
func (c *fakeConsumer) Control() *ioflow.Control { return nil }

func (c *fakeConsumer) snapshot() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.data), c.ended
}

// loopbackTransports wires two Transports' send functions directly to each
// other's Feed, skipping real sockets the way a unit test for kcp-go's
// UDPSession would stub out its underlying net.PacketConn.
func loopbackTransports(t *testing.T, r *reactor.Reactor) (a, b *Transport) {
	t.Helper()
	cfgA := DefaultConfig()
	cfgA.LocalSecret, cfgA.PeerSecret = []byte("alice-secret"), []byte("bob-secret")
	cfgB := DefaultConfig()
	cfgB.LocalSecret, cfgB.PeerSecret = []byte("bob-secret"), []byte("alice-secret")

	var tA, tB *Transport
	tA = NewTransport(r, cfgA, func(pkt []byte) error { tB.Feed(pkt); return nil })
	tB = NewTransport(r, cfgB, func(pkt []byte) error { tA.Feed(pkt); return nil })
	return tA, tB
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTransportLoopbackHandshakeAndStream(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	tA, tB := loopbackTransports(t, r)

	var consA, consB fakeConsumer
	r.Execute(func() {
		tA.Attach(&consA)
		tB.Attach(&consB)
	})

	waitFor(t, 2*time.Second, func() bool {
		return tA.Validated() && tB.Validated()
	})

	payload := []byte("the quick brown fox jumps over the lazy dog")
	r.Execute(func() {
		tA.Consume(payload, ioflow.Unlimited)
	})

	waitFor(t, 2*time.Second, func() bool {
		got, _ := consB.snapshot()
		return got == string(payload)
	})

	r.Execute(func() {
		tA.EndConsume(true)
	})

	waitFor(t, 2*time.Second, func() bool {
		_, ended := consB.snapshot()
		return ended
	})
	consB.mu.Lock()
	endClean := consB.endClean
	consB.mu.Unlock()
	if !endClean {
		t.Fatalf("expected a clean EndConsume on B after A's clean close")
	}
}

func TestTransportLoopbackLargeTransferSurvivesLoss(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	cfgA := DefaultConfig()
	cfgA.LocalSecret, cfgA.PeerSecret = []byte("alice-secret"), []byte("bob-secret")
	cfgA.LossRate = 0.1
	cfgB := DefaultConfig()
	cfgB.LocalSecret, cfgB.PeerSecret = []byte("bob-secret"), []byte("alice-secret")
	cfgB.LossRate = 0.1

	var tA, tB *Transport
	tA = NewTransport(r, cfgA, func(pkt []byte) error { tB.Feed(pkt); return nil })
	tB = NewTransport(r, cfgB, func(pkt []byte) error { tA.Feed(pkt); return nil })

	var consB fakeConsumer
	r.Execute(func() {
		tA.Attach(&fakeConsumer{})
		tB.Attach(&consB)
	})

	waitFor(t, 3*time.Second, func() bool { return tA.Validated() && tB.Validated() })

	want := make([]byte, 64*1024)
	for i := range want {
		want[i] = byte(i)
	}
	r.Execute(func() {
		tA.Consume(want, ioflow.Unlimited)
		tA.EndConsume(true)
	})

	waitFor(t, 15*time.Second, func() bool {
		_, ended := consB.snapshot()
		return ended
	})
	got, _ := consB.snapshot()
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], want[i])
		}
	}
}
