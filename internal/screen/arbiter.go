// Package screen tracks which runs are currently driving the desktop.
package screen

import (
	"sync"

	"github.com/haasonsaas/agentcore/internal/observability"
)

// Observer is told when desktop control starts (0→1 runs) and stops (N→0).
// Observers run with the arbiter locked and must not call back into it.
type Observer interface {
	ScreenControlChanged(active bool)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(active bool)

func (f ObserverFunc) ScreenControlChanged(active bool) { f(active) }

// Arbiter is a reference count of runs controlling the screen. Each run
// counts at most once, so the count never drops below zero.
type Arbiter struct {
	mu        sync.Mutex
	runs      map[string]struct{}
	observers []Observer
	metrics   *observability.Metrics
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(a *Arbiter) { a.observers = append(a.observers, o) }
}

// WithMetrics reports the active count as a gauge.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// NewArbiter returns an arbiter with no active runs.
func NewArbiter(opts ...Option) *Arbiter {
	a := &Arbiter{runs: make(map[string]struct{})}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe adds an observer after construction.
func (a *Arbiter) Subscribe(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// Acquire marks runID as controlling the screen. It reports false when the
// run already holds control.
func (a *Arbiter) Acquire(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, held := a.runs[runID]; held {
		return false
	}
	a.runs[runID] = struct{}{}
	a.metrics.SetScreenControlActive(len(a.runs))
	if len(a.runs) == 1 {
		a.notify(true)
	}
	return true
}

// Release ends runID's control. Releasing a run that never acquired is a
// no-op and reports false.
func (a *Arbiter) Release(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, held := a.runs[runID]; !held {
		return false
	}
	delete(a.runs, runID)
	a.metrics.SetScreenControlActive(len(a.runs))
	if len(a.runs) == 0 {
		a.notify(false)
	}
	return true
}

// Count returns the number of runs holding control.
func (a *Arbiter) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.runs)
}

// Active reports whether any run holds control.
func (a *Arbiter) Active() bool { return a.Count() > 0 }

func (a *Arbiter) notify(active bool) {
	for _, o := range a.observers {
		o.ScreenControlChanged(active)
	}
}
