// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package activity turns raw input events into a throttled activity pulse.
package activity

import (
	"sync"
	"time"

	"github.com/ManuGH/vegtrace/internal/clock"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/ManuGH/vegtrace/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultThrottle is the pulse window used when none is configured.
const DefaultThrottle = 100 * time.Millisecond

// MotionThreshold is the acceleration magnitude above which motion counts.
const MotionThreshold = 10.0

// Options configures a Sensor.
type Options struct {
	Clock        clock.Clock
	Throttle     time.Duration
	Capabilities model.Capabilities
	// Pulse receives each throttled activity pulse with the kind of the
	// last raw event folded into it.
	Pulse func(source string)
	// Visibility is told when the tab goes to background (true) or
	// foreground (false).
	Visibility func(hidden bool)
}

// Sensor is a trailing-edge throttle over raw input events. The first event
// after a quiet window pulses at once; events inside the window collapse
// into a single pulse fired when the window closes.
type Sensor struct {
	opts   Options
	logger zerolog.Logger

	mu            sync.Mutex
	lastFire      time.Time
	pending       clock.Timer
	pendingSource string
	counts        model.ActivityCounts
	pulses        int
	stopped       bool
}

// NewSensor returns a sensor; zero options fall back to defaults.
func NewSensor(opts Options) *Sensor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	return &Sensor{opts: opts, logger: log.WithComponent("activity")}
}

// Observe feeds one raw event. It never blocks on the pulse sink beyond the
// sink's own cost and is safe for concurrent use.
func (s *Sensor) Observe(ev RawEvent) {
	class := Classify(ev, s.opts.Capabilities)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	class.count(&s.counts)
	s.mu.Unlock()

	if class.visibility != visibilityUnchanged && s.opts.Visibility != nil {
		s.opts.Visibility(class.visibility == visibilityHidden)
	}
	if class.activity {
		s.signal(string(ev.Kind))
	}
}

func (s *Sensor) signal(source string) {
	now := s.opts.Clock.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.pending != nil {
		s.pendingSource = source
		s.mu.Unlock()
		return
	}
	if s.lastFire.IsZero() || now.Sub(s.lastFire) >= s.opts.Throttle {
		s.lastFire = now
		s.pulses++
		s.mu.Unlock()
		s.fire(source, "leading")
		return
	}
	s.pendingSource = source
	s.pending = s.opts.Clock.AfterFunc(s.lastFire.Add(s.opts.Throttle).Sub(now), s.trailing)
	s.mu.Unlock()
}

func (s *Sensor) trailing() {
	s.mu.Lock()
	if s.stopped || s.pending == nil {
		s.mu.Unlock()
		return
	}
	source := s.pendingSource
	s.pending = nil
	s.pendingSource = ""
	s.lastFire = s.opts.Clock.Now()
	s.pulses++
	s.mu.Unlock()
	s.fire(source, "trailing")
}

func (s *Sensor) fire(source, edge string) {
	metrics.RecordPulse(edge)
	if s.opts.Pulse != nil {
		s.opts.Pulse(source)
	}
}

// Counts returns the per-category tallies observed so far.
func (s *Sensor) Counts() model.ActivityCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Pulses returns how many pulses were emitted.
func (s *Sensor) Pulses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses
}

// Stop cancels a pending trailing pulse and ignores further input.
func (s *Sensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.logger.Debug().Str(log.FieldEvent, "activity.stopped").Int("pulses", s.pulses).Msg("activity sensor stopped")
}
