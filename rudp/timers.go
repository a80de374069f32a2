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
	"time"

	"github.com/xtaci/vrudp/reactor"
)

// armedTimer pairs a scheduled reactor.Timer with the deadline it was armed
// for, since Timer itself does not expose its deadline.
type armedTimer struct {
	deadline time.Time
	timer    *reactor.Timer
}

// timerPool is a bounded pool (≤ MaxTimers) of concrete reactor timers
// standing in for one logical RTO timer, avoiding per-segment timer churn
// (spec §4.D.5). Grounded on kcp-go/v5/sess.go's self-resubmitting
// SystemTimedSched.Put pattern, generalized to a small bounded pool instead
// of one timer per session.
type timerPool struct {
	r       *reactor.Reactor
	max     int
	reduce  float64
	active  []*armedTimer
	fire    func()
}

func newTimerPool(r *reactor.Reactor, max int, reduce float64, fire func()) *timerPool {
	if reduce <= 0 || reduce >= 1 {
		reduce = 0.8
	}
	return &timerPool{r: r, max: max, reduce: reduce, fire: fire}
}

// arm schedules a firing at delay from now, unless an existing timer already
// covers it: a new timer is added only if the pool is empty or delay is
// under reduce*(nearest existing deadline) (spec §4.D.5, _TIMER_REDUCE_FACTOR).
func (p *timerPool) arm(delay time.Duration) {
	now := time.Now()
	at := now.Add(delay)
	if len(p.active) > 0 {
		nearest := p.active[0].deadline
		for _, a := range p.active {
			if a.deadline.Before(nearest) {
				nearest = a.deadline
			}
		}
		threshold := now.Add(time.Duration(float64(nearest.Sub(now)) * p.reduce))
		if at.After(threshold) {
			return
		}
	}
	if len(p.active) >= p.max {
		p.cancelFarthest()
	}
	entry := &armedTimer{deadline: at}
	entry.timer = p.r.Schedule(delay, func() {
		p.remove(entry)
		p.fire()
	})
	p.active = append(p.active, entry)
}

func (p *timerPool) remove(entry *armedTimer) {
	for i, a := range p.active {
		if a == entry {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return
		}
	}
}

func (p *timerPool) cancelFarthest() {
	if len(p.active) == 0 {
		return
	}
	idx := 0
	farthest := p.active[0].deadline
	for i, a := range p.active {
		if a.deadline.After(farthest) {
			farthest = a.deadline
			idx = i
		}
	}
	p.r.Cancel(p.active[idx].timer)
	p.active = append(p.active[:idx], p.active[idx+1:]...)
}

func (p *timerPool) cancelAll() {
	for _, a := range p.active {
		p.r.Cancel(a.timer)
	}
	p.active = nil
}
