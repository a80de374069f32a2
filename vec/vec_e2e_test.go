package vec

import (
	"testing"
	"time"

	"github.com/xtaci/vrudp/ioflow"
	"github.com/xtaci/vrudp/reactor"
)

// fakeEntitySink is a minimal ioflow.EntityConsumer double recording every
// entity delivered to it, standing in for a link.Endpoint's entity side.
type fakeEntitySink struct {
	got []ioflow.Entity
}

func (s *fakeEntitySink) Attach(ioflow.EntityProducer) error { return nil }
func (s *fakeEntitySink) Detach()                            {}
func (s *fakeEntitySink) Abort()                             {}
func (s *fakeEntitySink) Consume(data []ioflow.Entity, lim ioflow.Limit) (ioflow.Limit, error) {
	s.got = append(s.got, data...)
	return ioflow.Limit(len(s.got)), nil
}
func (s *fakeEntitySink) EndConsume(bool)          {}
func (s *fakeEntitySink) Control() *ioflow.Control { return nil }

func wireTwoChannels(a, b *Channel) {
	aSide, bSide := a.ByteSide(), b.ByteSide()
	_ = aSide.Produce.Attach(bSide.Consume)
	_ = bSide.Produce.Attach(aSide.Consume)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
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

func TestChannelRoundTripsEntitiesOverWire(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	chA := New(r, utf8Codec{}, 0, 0)
	chB := New(r, utf8Codec{}, 0, 0)
	wireTwoChannels(chA, chB)

	sinkB := &fakeEntitySink{}
	_ = chB.EntitySide().Produce.Attach(sinkB)

	entAConsume := chA.EntitySide().Consume
	r.Execute(func() {
		entAConsume.Consume([]ioflow.Entity{"hello", "world"}, 2)
	})

	waitUntil(t, time.Second, func() bool { return len(sinkB.got) == 2 })
	if sinkB.got[0] != "hello" || sinkB.got[1] != "world" {
		t.Fatalf("sink got %v, want [hello world]", sinkB.got)
	}
}

func TestChannelRoundTripsEntitiesCompressed(t *testing.T) {
	r := reactor.New(nil)
	r.Start()
	defer r.Stop()

	chA := New(r, utf8Codec{}, 0, 0)
	chA.Compress = true
	chB := New(r, utf8Codec{}, 0, 0)
	chB.Compress = true
	wireTwoChannels(chA, chB)

	sinkB := &fakeEntitySink{}
	_ = chB.EntitySide().Produce.Attach(sinkB)

	entAConsume := chA.EntitySide().Consume
	payload := "a payload long enough to be worth compressing, repeated: " +
		"the quick brown fox jumps over the lazy dog, the quick brown fox jumps over the lazy dog"
	r.Execute(func() {
		entAConsume.Consume([]ioflow.Entity{payload}, 1)
	})

	waitUntil(t, time.Second, func() bool { return len(sinkB.got) == 1 })
	if sinkB.got[0] != payload {
		t.Fatalf("sink got %q, want %q", sinkB.got[0], payload)
	}
}
