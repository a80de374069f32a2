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

// Package ioflow implements the producer/consumer flow-control substrate
// (spec §4.A/4.B): byte pipes and entity pipes share one generic state
// machine, Pipe[T], differing only in the element type T they carry.
package ioflow

import (
	"github.com/xtaci/vrudp/reactor"
)

// Limit is a cumulative, monotone non-decreasing count of elements a
// consumer will accept since attachment. Negative means unlimited.
type Limit int64

// Unlimited is the sentinel Limit value meaning "no cap".
const Unlimited Limit = -1

// Consumer is the consumer side of a producer/consumer pair.
type Consumer[T any] interface {
	Attach(p Producer[T]) error
	Detach()
	Abort()
	// Consume accepts up to the currently advertised credit and returns the
	// new cumulative credit (spec §4.A). consumeLimit is the producer's
	// cumulative-produced count as of this call; Pipe itself does not
	// inspect it.
	Consume(data []T, consumeLimit Limit) (Limit, error)
	EndConsume(clean bool)
	Control() *Control
}

// Producer is the producer side of a producer/consumer pair.
type Producer[T any] interface {
	Attach(c Consumer[T]) error
	Detach()
	Abort()
	// CanProduce notifies the producer of an updated cumulative credit.
	CanProduce(cumulativeLimit Limit) error
	Control() *Control
}

// Pipe is the shared core behind BytePipe and EntityPipe. It plays both
// roles at once: as a Consumer it buffers data pushed by an attached
// external Producer; as a Producer it drains that buffer into an attached
// external Consumer. Each drain offers the whole buffer and keeps the part
// that the consumer's returned cumulative count shows it did not take; the
// limits passed to CanProduce are not recorded or enforced. This
// mirrors versile's VByteChannel, which exposes independent "_bc_" (byte
// consume) and "_bp_" (byte produce) halves from one object.
type Pipe[T any] struct {
	r *reactor.Reactor

	control *Control

	// consumer-facing half: this Pipe accepts data from an attached producer.
	inConsumed  Limit
	inLimit     Limit
	inProducer  Producer[T]
	inEOD       bool
	inEODClean  bool
	inAborted   bool
	buf         []T
	bufCap      int
	limUpdatePending bool

	// producer-facing half: this Pipe pushes data to an attached consumer.
	outProduced Limit
	outConsumer Consumer[T]
	outEOD      bool
	outEODClean bool
	outAborted  bool
	drainPending bool

	// reverse endpoint for duplex agents (spec §3 "Lifecycle").
	reverse *Pipe[T]

	consumerFacadeAlive bool
	producerFacadeAlive bool
}

// NewPipe constructs a Pipe with the given consumer-side buffer capacity
// (spec's "consumer's own buffer capacity" bound on Consume).
func NewPipe[T any](r *reactor.Reactor, bufCap int) *Pipe[T] {
	return &Pipe[T]{
		r:                   r,
		control:             NewControl(),
		bufCap:              bufCap,
		consumerFacadeAlive: true,
		producerFacadeAlive: true,
	}
}

// Control returns the pipe's control object (spec §4.A "control attribute").
func (p *Pipe[T]) Control() *Control { return p.control }

// SetReverse registers the duplex reverse endpoint.
func (p *Pipe[T]) SetReverse(rev *Pipe[T]) { p.reverse = rev }

// ConsumerFacade returns a handle other components attach to as their
// Consumer. Facades hold a back-pointer to the owning Pipe and fail
// gracefully (ErrNoConsumer-equivalent no-ops) once the pipe is gone,
// emulating the weak-reference facade pattern from spec §9.
func (p *Pipe[T]) ConsumerFacade() Consumer[T] { return (*consumerFacade[T])(p) }

// ProducerFacade returns a handle other components attach to as their Producer.
func (p *Pipe[T]) ProducerFacade() Producer[T] { return (*producerFacade[T])(p) }

// ---- consumer half: accept data from inProducer ----

// attachProducer implements attach() for the consumer role (spec §4.A).
func (p *Pipe[T]) attachProducer(prod Producer[T]) error {
	if p.inProducer == prod {
		return nil // idempotent re-attach of the same peer
	}
	if p.inProducer != nil {
		return ErrDoubleAttach()
	}
	if p.inEOD {
		return ErrConsumePastEOD()
	}
	p.inProducer = prod
	// reciprocal attach + best-effort notify, per spec §4.A.
	Try(p.control, ControlNotifyProducerAttached(), prod)
	if err := prod.Attach(p.ConsumerFacade()); err != nil {
		// reciprocal attach failing is not escalated; the peer already knows.
		_ = err
	}
	p.scheduleLimUpdate()
	return nil
}

func (p *Pipe[T]) detachConsumerSide() {
	p.inProducer = nil
}

func (p *Pipe[T]) abortConsumerSide() {
	if p.inAborted {
		return
	}
	p.inAborted = true
	prod := p.inProducer
	p.inProducer = nil
	if prod != nil {
		prod.Abort()
	}
}

// consume implements the consumer-role Consume contract (spec §4.A).
func (p *Pipe[T]) consume(data []T, consumeLimit Limit) (Limit, error) {
	if p.inAborted {
		return p.inConsumed, ErrNoProducer()
	}
	if p.inEOD {
		return p.inConsumed, ErrConsumePastEOD()
	}
	if len(data) == 0 {
		return p.inConsumed, nil
	}
	room := p.bufCap - len(p.buf)
	if room <= 0 {
		return p.inConsumed, ErrConsumePastCredit()
	}
	n := len(data)
	if n > room {
		n = room
	}
	p.buf = append(p.buf, data[:n]...)
	p.inConsumed += Limit(n)

	p.scheduleDrain()
	return p.currentInLimit(), nil
}

func (p *Pipe[T]) endConsume(clean bool) {
	if p.inEOD {
		return
	}
	p.inEOD = true
	p.inEODClean = clean
	p.scheduleDrain()
}

// currentInLimit is the cumulative credit advertised to the attached
// producer: consumed-so-far plus remaining buffer room, never exceeding
// bufCap from attachment (spec §4.A "may never exceed the consumer's own
// buffer capacity").
func (p *Pipe[T]) currentInLimit() Limit {
	room := p.bufCap - len(p.buf)
	if room < 0 {
		room = 0
	}
	return p.inConsumed + Limit(room)
}

// scheduleLimUpdate defers a can_produce notification to the reactor as a
// zero-delay task, per spec §4.A's re-entrancy rule: a consumer must not
// re-enter the producer's can_produce synchronously.
func (p *Pipe[T]) scheduleLimUpdate() {
	if p.limUpdatePending || p.inProducer == nil {
		return
	}
	p.limUpdatePending = true
	p.r.Execute(func() {
		p.limUpdatePending = false
		if p.inProducer != nil {
			_ = p.inProducer.CanProduce(p.currentInLimit())
		}
	})
}

// scheduleDrain defers draining the internal buffer into the attached
// external consumer, per spec §4.A's symmetric re-entrancy rule (can_produce
// must not directly re-enter consume).
func (p *Pipe[T]) scheduleDrain() {
	if p.drainPending {
		return
	}
	p.drainPending = true
	p.r.Execute(func() {
		p.drainPending = false
		p.drain()
	})
}

func (p *Pipe[T]) drain() {
	if p.outAborted {
		return
	}
	if p.outConsumer != nil && len(p.buf) > 0 {
		newLim, err := p.outConsumer.Consume(p.buf, p.outProduced+Limit(len(p.buf)))
		if err != nil {
			if Is(err, KindClosed) || Is(err, KindLost) {
				p.abortBoth()
				return
			}
		} else {
			consumedCount := int64(newLim) - int64(p.outProduced)
			if consumedCount < 0 {
				consumedCount = 0
			}
			if consumedCount > int64(len(p.buf)) {
				consumedCount = int64(len(p.buf))
			}
			p.outProduced += Limit(consumedCount)
			p.buf = p.buf[consumedCount:]
		}
	}
	if len(p.buf) == 0 && p.inEOD && !p.outEOD {
		p.outEOD = true
		p.outEODClean = p.inEODClean
		if p.outConsumer != nil {
			p.outConsumer.EndConsume(p.outEODClean)
		}
	}
	// freed buffer space means the upstream producer may have more credit.
	p.scheduleLimUpdate()
}

func (p *Pipe[T]) abortBoth() {
	p.abortConsumerSide()
	p.abortProducerSide()
}

// ---- producer half: push data to outConsumer ----

func (p *Pipe[T]) attachConsumer(cons Consumer[T]) error {
	if p.outConsumer == cons {
		return nil
	}
	if p.outConsumer != nil {
		return ErrDoubleAttach()
	}
	if p.outEOD {
		return ErrConsumePastEOD()
	}
	p.outConsumer = cons
	Try(p.control, ControlNotifyConsumerAttached(), cons)
	if err := cons.Attach(p.ProducerFacade()); err != nil {
		_ = err
	}
	p.scheduleDrain()
	return nil
}

func (p *Pipe[T]) detachProducerSide() {
	p.outConsumer = nil
}

func (p *Pipe[T]) abortProducerSide() {
	if p.outAborted {
		return
	}
	p.outAborted = true
	cons := p.outConsumer
	p.outConsumer = nil
	if cons != nil {
		cons.Abort()
	}
}

func (p *Pipe[T]) canProduce(limit Limit) error {
	if p.outAborted {
		return ErrNoConsumer()
	}
	// The limit is neither stored nor compared with earlier ones: every
	// call, whatever its value, just schedules a drain.
	p.scheduleDrain()
	return nil
}

// Push appends application data into the pipe for eventual delivery to the
// attached external consumer. It is the entry point used by pipeline
// components that sit "above" this Pipe (e.g. an application write call).
func (p *Pipe[T]) Push(data []T) error {
	if p.outEOD {
		return ErrConsumePastEOD()
	}
	p.buf = append(p.buf, data...)
	p.scheduleDrain()
	return nil
}

// Buffered returns the number of elements queued for delivery.
func (p *Pipe[T]) Buffered() int { return len(p.buf) }

// consumerFacade/producerFacade are thin pointer-identical views over Pipe
// implementing the Consumer[T]/Producer[T] interfaces, so external peers
// attach to a narrow facade rather than the whole Pipe. Per spec §9 these
// stand in for the weak-reference facade pattern: detaching or dropping a
// facade never tears down the owning Pipe.
type consumerFacade[T any] Pipe[T]
type producerFacade[T any] Pipe[T]

func (f *consumerFacade[T]) core() *Pipe[T] { return (*Pipe[T])(f) }
func (f *producerFacade[T]) core() *Pipe[T] { return (*Pipe[T])(f) }

func (f *consumerFacade[T]) Attach(prod Producer[T]) error { return f.core().attachProducer(prod) }
func (f *consumerFacade[T]) Detach()                       { f.core().detachConsumerSide() }
func (f *consumerFacade[T]) Abort()                        { f.core().abortConsumerSide() }
func (f *consumerFacade[T]) Consume(data []T, lim Limit) (Limit, error) {
	return f.core().consume(data, lim)
}
func (f *consumerFacade[T]) EndConsume(clean bool) { f.core().endConsume(clean) }
func (f *consumerFacade[T]) Control() *Control     { return f.core().control }

func (f *producerFacade[T]) Attach(cons Consumer[T]) error { return f.core().attachConsumer(cons) }
func (f *producerFacade[T]) Detach()                       { f.core().detachProducerSide() }
func (f *producerFacade[T]) Abort()                        { f.core().abortProducerSide() }
func (f *producerFacade[T]) CanProduce(lim Limit) error     { return f.core().canProduce(lim) }
func (f *producerFacade[T]) Control() *Control              { return f.core().control }

// ControlNotifyProducerAttached/ControlNotifyConsumerAttached name the
// best-effort attach notifications from spec §4.A.
func ControlNotifyProducerAttached() ControlName { return ControlNotifyProducerAttach }
func ControlNotifyConsumerAttached() ControlName { return ControlNotifyConsumerAttach }
