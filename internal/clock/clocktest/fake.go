// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clocktest provides a manually advanced clock for tests.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock"
)

// Fake is a clock.Clock whose time only moves on Advance or Set.
// AfterFunc callbacks run synchronously inside Advance, in deadline order.
// Ticks are delivered without blocking into a one-slot buffer, so a slow
// consumer observes coalesced ticks like with time.Ticker.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*fakeTimer
	tickers []*fakeTicker
}

var _ clock.Clock = (*Fake)(nil)

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run once the fake time reaches now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) clock.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), fn: fn, seq: f.seq}
	f.timers = append(f.timers, t)
	return t
}

// NewTicker returns a ticker firing every d of fake time.
func (f *Fake) NewTicker(d time.Duration) clock.Ticker {
	if d <= 0 {
		panic("clocktest: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clock: f, interval: d, next: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// PendingTimers returns the number of scheduled, not yet fired timers.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// ActiveTickers returns the number of tickers that have not been stopped.
func (f *Fake) ActiveTickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Set jumps to t without firing anything in between, like a suspended
// process waking up. Due timers fire on the next Advance.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d, firing due timers and tickers in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		timer, ticker, at := f.nextDueLocked(target)
		if timer == nil && ticker == nil {
			if target.After(f.now) {
				f.now = target
			}
			f.mu.Unlock()
			return
		}
		if at.After(f.now) {
			f.now = at
		}
		if timer != nil {
			f.removeTimerLocked(timer)
			f.mu.Unlock()
			timer.fn()
			continue
		}
		ticker.next = ticker.next.Add(ticker.interval)
		now := f.now
		f.mu.Unlock()
		select {
		case ticker.ch <- now:
		default:
		}
	}
}

func (f *Fake) nextDueLocked(target time.Time) (*fakeTimer, *fakeTicker, time.Time) {
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].at.Equal(f.timers[j].at) {
			return f.timers[i].seq < f.timers[j].seq
		}
		return f.timers[i].at.Before(f.timers[j].at)
	})
	var (
		bestTimer  *fakeTimer
		bestTicker *fakeTicker
		best       time.Time
	)
	if len(f.timers) > 0 && !f.timers[0].at.After(target) {
		bestTimer = f.timers[0]
		best = bestTimer.at
	}
	for _, tk := range f.tickers {
		if tk.next.After(target) {
			continue
		}
		if bestTimer == nil && bestTicker == nil || tk.next.Before(best) {
			bestTimer = nil
			bestTicker = tk
			best = tk.next
		}
	}
	return bestTimer, bestTicker, best
}

func (f *Fake) removeTimerLocked(t *fakeTimer) bool {
	for i, cand := range f.timers {
		if cand == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock *Fake
	at    time.Time
	fn    func()
	seq   int
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeTimerLocked(t)
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, cand := range t.clock.tickers {
		if cand == t {
			t.clock.tickers = append(t.clock.tickers[:i], t.clock.tickers[i+1:]...)
			return
		}
	}
}
