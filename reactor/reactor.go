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

// Package reactor implements a single-threaded, cooperative event loop that
// every pipeline component in this module runs on.
//
// A Reactor owns one goroutine. All pipeline state mutation happens inside
// that goroutine; other goroutines may only reach in through Execute (an
// "execute/schedule(0) trampoline") which enqueues a closure to run on the
// reactor goroutine at the next opportunity.
package reactor

import (
	"container/heap"
	"log"
	"sync"
	"time"
)

// Reactor is a cooperative single-goroutine event loop.
type Reactor struct {
	log *log.Logger

	taskMu sync.Mutex
	tasks  []func()
	wake   chan struct{}

	timers   timerHeap
	timerSeq uint64

	stop chan struct{}
	done chan struct{}

	runOnce sync.Once
}

// New creates a Reactor. Call Start to begin running its goroutine.
func New(logger *log.Logger) *Reactor {
	if logger == nil {
		logger = log.Default()
	}
	return &Reactor{
		log:  logger,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the reactor's goroutine. Safe to call once.
func (r *Reactor) Start() {
	r.runOnce.Do(func() {
		go r.run()
	})
}

// Stop requests the reactor goroutine to exit and blocks until it has.
func (r *Reactor) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

// Execute enqueues fn to run on the reactor goroutine ("schedule(0)").
// Safe to call from any goroutine, including the reactor's own.
func (r *Reactor) Execute(fn func()) {
	r.taskMu.Lock()
	r.tasks = append(r.tasks, fn)
	r.taskMu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Schedule runs fn on the reactor goroutine after delay has elapsed.
// A zero or negative delay behaves like Execute.
func (r *Reactor) Schedule(delay time.Duration, fn func()) *Timer {
	return r.ScheduleAbs(time.Now().Add(delay), fn)
}

// ScheduleAbs runs fn on the reactor goroutine at absolute time at.
func (r *Reactor) ScheduleAbs(at time.Time, fn func()) *Timer {
	t := &Timer{at: at, fn: fn}
	r.Execute(func() {
		if t.cancelled {
			return
		}
		r.timerSeq++
		t.seq = r.timerSeq
		heap.Push(&r.timers, t)
	})
	return t
}

// Cancel prevents a not-yet-fired timer from firing. Safe from any goroutine.
func (r *Reactor) Cancel(t *Timer) {
	r.Execute(func() {
		t.cancelled = true
		for i, other := range r.timers {
			if other == t {
				heap.Remove(&r.timers, i)
				return
			}
		}
	})
}

func (r *Reactor) run() {
	defer close(r.done)
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if len(r.timers) > 0 {
			delay := time.Until(r.timers[0].at)
			if delay < 0 {
				delay = 0
			}
			timer = time.NewTimer(delay)
			timerC = timer.C
		}

		select {
		case <-r.stop:
			if timer != nil {
				timer.Stop()
			}
			r.drainTasks()
			return
		case <-r.wake:
			if timer != nil {
				timer.Stop()
			}
			r.drainTasks()
		case <-timerC:
			r.fireDueTimers()
		}
	}
}

func (r *Reactor) drainTasks() {
	for {
		r.taskMu.Lock()
		if len(r.tasks) == 0 {
			r.taskMu.Unlock()
			return
		}
		tasks := r.tasks
		r.tasks = nil
		r.taskMu.Unlock()

		for _, fn := range tasks {
			r.safeCall(fn)
		}
	}
}

func (r *Reactor) fireDueTimers() {
	now := time.Now()
	for len(r.timers) > 0 && !r.timers[0].at.After(now) {
		t := heap.Pop(&r.timers).(*Timer)
		if t.cancelled {
			continue
		}
		r.safeCall(t.fn)
	}
}

func (r *Reactor) safeCall(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Printf("reactor: recovered panic in scheduled task: %v", rec)
		}
	}()
	fn()
}

// Timer is a handle to a pending ScheduleAbs/Schedule callback.
type Timer struct {
	at        time.Time
	fn        func()
	seq       uint64
	cancelled bool
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(*Timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
