// Package timectrl drives simulation time, either paced against the wall
// clock or as fast as listeners can keep up.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is the read side of the simulation clock. Components depend on
// it rather than on a concrete controller so tests can supply fixed time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d of
	// simulation time has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick every Tick/TimeFactor of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners return.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// ParseMode maps "realtime" and "accelerated"; anything else is RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" {
		return Accelerated
	}
	return RealTime
}

// Listener is invoked once per tick with the new simulation time.
type Listener func(ctx context.Context, now time.Time)

type timer struct {
	due time.Time
	ch  chan time.Time
}

// TimeController advances simulation time in fixed ticks and notifies
// registered listeners. It implements SimClock.
type TimeController struct {
	mu         sync.RWMutex
	StartTime  time.Time
	Tick       time.Duration
	Mode       Mode
	TimeFactor float64

	currentTime time.Time
	listeners   []Listener
	timers      []timer
}

// NewTimeController constructs a controller running at factor 1.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		TimeFactor:  1,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the clock to t and fires any timers now due.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
	tc.fireTimers(t)
}

// After returns a channel that receives the simulation time at the first
// tick at or beyond Now()+d.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	due := tc.currentTime.Add(d)
	if d <= 0 {
		ch <- tc.currentTime
	} else {
		tc.timers = append(tc.timers, timer{due: due, ch: ch})
	}
	tc.mu.Unlock()
	return ch
}

// AddListener registers a callback invoked on every tick. Listeners run on
// the controller goroutine in registration order.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// TickInterval returns the wall-clock period between ticks in RealTime mode.
func (tc *TimeController) TickInterval() time.Duration {
	if tc.TimeFactor <= 0 {
		return tc.Tick
	}
	return time.Duration(float64(tc.Tick) / tc.TimeFactor)
}

// Start runs the controller in a separate goroutine until duration of
// simulation time has elapsed (zero means unbounded) or ctx is cancelled.
// The returned channel is closed when the controller stops.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.currentTime
		listeners := append([]Listener(nil), tc.listeners...)
		tc.mu.Unlock()

		var ticks <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.TickInterval())
			defer ticker.Stop()
			ticks = ticker.C
		}

		for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
			if ticks != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticks:
				}
			} else if ctx.Err() != nil {
				return
			}

			simTime = simTime.Add(tc.Tick)
			tc.mu.Lock()
			tc.currentTime = simTime
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(ctx, simTime)
			}
			tc.fireTimers(simTime)
		}
	}()
	return done
}

func (tc *TimeController) fireTimers(now time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	pending := tc.timers[:0]
	for _, t := range tc.timers {
		if now.Before(t.due) {
			pending = append(pending, t)
			continue
		}
		t.ch <- now
	}
	tc.timers = pending
}
