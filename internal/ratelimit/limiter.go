// Package ratelimit guards the process-wide LLM quota with two fixed windows.
package ratelimit

import (
	"sync"
	"time"

	"github.com/nidhogg/finsight/internal/metrics"
)

const (
	DefaultPerMinute = 15
	DefaultPerDay    = 1500
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Remaining is the budget left in each window.
type Remaining struct {
	Minute int `json:"minute_remaining"`
	Day    int `json:"daily_remaining"`
}

// Limiter tracks a per-minute and a per-day call budget. The minute window is
// aligned to epoch minutes and the day window to UTC calendar days, so the
// reported remaining counts do not drift between callers.
type Limiter struct {
	perMinute int
	perDay    int
	now       Clock

	mu          sync.Mutex
	minuteStart time.Time
	minuteCount int
	dayStart    time.Time
	dayCount    int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.now = c }
}

// New creates a limiter. Non-positive ceilings fall back to the defaults.
func New(perMinute, perDay int, opts ...Option) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if perDay <= 0 {
		perDay = DefaultPerDay
	}
	l := &Limiter{perMinute: perMinute, perDay: perDay, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// TryAcquire consumes one call from both windows, or from neither if either
// is exhausted. It never blocks.
func (l *Limiter) TryAcquire() (bool, Remaining) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(l.now())
	if l.minuteCount >= l.perMinute || l.dayCount >= l.perDay {
		metrics.LLMBudget.WithLabelValues("denied").Inc()
		return false, l.remaining()
	}
	l.minuteCount++
	l.dayCount++
	metrics.LLMBudget.WithLabelValues("allowed").Inc()
	return true, l.remaining()
}

// Remaining reports the budget left without consuming any.
func (l *Limiter) Remaining() Remaining {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(l.now())
	return l.remaining()
}

// roll resets any window whose boundary has passed. Caller holds mu.
func (l *Limiter) roll(now time.Time) {
	now = now.UTC()
	minute := now.Truncate(time.Minute)
	if !minute.Equal(l.minuteStart) {
		l.minuteStart = minute
		l.minuteCount = 0
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !day.Equal(l.dayStart) {
		l.dayStart = day
		l.dayCount = 0
	}
}

func (l *Limiter) remaining() Remaining {
	return Remaining{
		Minute: max(0, l.perMinute-l.minuteCount),
		Day:    max(0, l.perDay-l.dayCount),
	}
}
