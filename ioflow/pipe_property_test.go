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

package ioflow

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/xtaci/vrudp/reactor"
)

// recordingByteConsumer is an external ByteConsumer double that accepts a
// randomized sub-slice of what's offered each Consume call (never more
// than its capacity), recording every byte that lands and every advertised
// cumulative limit. When it leaves data unaccepted, it calls back through
// the producer facade handed to it at Attach time to ask for another
// drain, the way a real downstream consumer signals freed buffer room.
type recordingByteConsumer struct {
	mu       sync.Mutex
	rng      *rand.Rand
	capacity int
	got      []byte
	limits   []Limit
	ended    bool
	peer     Producer[byte]
}

func newRecordingByteConsumer(seed int64, capacity int) *recordingByteConsumer {
	return &recordingByteConsumer{rng: rand.New(rand.NewSource(seed)), capacity: capacity}
}

func (c *recordingByteConsumer) Attach(p Producer[byte]) error { c.peer = p; return nil }
func (c *recordingByteConsumer) Detach()                       { c.peer = nil }
func (c *recordingByteConsumer) Abort()                        {}

func (c *recordingByteConsumer) Consume(data []byte, consumeLimit Limit) (Limit, error) {
	c.mu.Lock()
	n := len(data)
	if n > c.capacity {
		n = c.capacity
	}
	if n > 1 {
		n = 1 + c.rng.Intn(n)
	}
	c.got = append(c.got, data[:n]...)
	lim := Limit(len(c.got))
	c.limits = append(c.limits, lim)
	partial := n < len(data)
	peer := c.peer
	c.mu.Unlock()
	if partial && peer != nil {
		_ = peer.CanProduce(lim)
	}
	return lim, nil
}

func (c *recordingByteConsumer) EndConsume(clean bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
}

func (c *recordingByteConsumer) Control() *Control { return nil }

func (c *recordingByteConsumer) snapshot() ([]byte, []Limit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	got := append([]byte(nil), c.got...)
	limits := append([]Limit(nil), c.limits...)
	return got, limits, c.ended
}

func waitForPipeDrain(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestPipeCreditMonotonicAndByteConservation exercises two invariants: a
// random-chunked byte stream pushed through a Pipe into a consumer that
// only accepts a random sub-slice each call must still arrive exactly
// once, in order, with no gaps or duplicates; and the consumer's
// advertised cumulative limits must never decrease.
func TestPipeCreditMonotonicAndByteConservation(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		seed := int64(1000 + trial)
		rng := rand.New(rand.NewSource(seed))

		r := reactor.New(nil)
		r.Start()

		p := NewPipe[byte](r, 4096)
		cons := newRecordingByteConsumer(seed, 97)
		r.Execute(func() {
			_ = p.attachConsumer(cons)
		})

		var want []byte
		nChunks := 5 + rng.Intn(20)
		for i := 0; i < nChunks; i++ {
			chunk := make([]byte, 1+rng.Intn(256))
			rng.Read(chunk)
			want = append(want, chunk...)
			chunkCopy := chunk
			r.Execute(func() {
				if err := p.Push(chunkCopy); err != nil {
					t.Errorf("trial %d: Push: %v", trial, err)
				}
			})
		}
		r.Execute(func() { p.endConsume(true) })

		waitForPipeDrain(t, 5*time.Second, func() bool {
			_, _, ended := cons.snapshot()
			return ended
		})
		r.Stop()

		got, limits, _ := cons.snapshot()
		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d bytes, want %d", trial, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("trial %d: byte %d mismatch: got %d want %d", trial, i, got[i], want[i])
			}
		}
		var prev Limit = -1
		for i, lim := range limits {
			if lim < prev {
				t.Fatalf("trial %d: limit sequence decreased at index %d: %d after %d", trial, i, lim, prev)
			}
			prev = lim
		}
	}
}

// TestPipeNeverExceedsAdvertisedCredit drives a Pipe against a consumer
// that only ever accepts up to a fixed per-call ceiling and checks the
// Pipe never hands it more buffered bytes in one call than were actually
// pushed; the consumer re-requests a drain after every partial accept,
// and the whole payload must still arrive.
func TestPipeNeverExceedsAdvertisedCredit(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	const ceiling = 16
	var mu sync.Mutex
	var maxCallSize int
	var delivered Limit
	var peer Producer[byte]

	consumer := &funcByteConsumer{}
	consumer.attach = func(p Producer[byte]) { peer = p }
	consumer.consume = func(data []byte, consumeLimit Limit) (Limit, error) {
		mu.Lock()
		if len(data) > maxCallSize {
			maxCallSize = len(data)
		}
		take := len(data)
		if take > ceiling {
			take = ceiling
		}
		delivered += Limit(take)
		lim := delivered
		partial := take < len(data)
		mu.Unlock()
		if partial && peer != nil {
			_ = peer.CanProduce(lim)
		}
		return lim, nil
	}

	p := NewPipe[byte](r, 4096)
	r.Execute(func() { _ = p.attachConsumer(consumer) })

	payload := make([]byte, 4000)
	rand.New(rand.NewSource(7)).Read(payload)
	r.Execute(func() {
		_ = p.Push(payload)
		p.endConsume(true)
	})

	waitForPipeDrain(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return int64(delivered) == int64(len(payload))
	})

	mu.Lock()
	defer mu.Unlock()
	if maxCallSize > len(payload) {
		t.Fatalf("consumer was offered %d bytes, more than the %d pushed", maxCallSize, len(payload))
	}
}

// funcByteConsumer adapts bare funcs into a ByteConsumer, for tests that
// only care about the Consume call pattern.
type funcByteConsumer struct {
	attach  func(Producer[byte])
	consume func(data []byte, consumeLimit Limit) (Limit, error)
}

func (f *funcByteConsumer) Attach(p Producer[byte]) error {
	if f.attach != nil {
		f.attach(p)
	}
	return nil
}
func (f *funcByteConsumer) Detach() {}
func (f *funcByteConsumer) Abort()  {}
func (f *funcByteConsumer) Consume(data []byte, consumeLimit Limit) (Limit, error) {
	return f.consume(data, consumeLimit)
}
func (f *funcByteConsumer) EndConsume(bool)   {}
func (f *funcByteConsumer) Control() *Control { return nil }
