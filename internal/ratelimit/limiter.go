// Package ratelimit implements a fixed-window request counter keyed by an
// opaque identity string (client IP or authenticated subject id).
//
// Windows are aligned to multiples of the window length, not rolling: a burst
// straddling a window boundary may admit up to twice the limit within one
// window length of wall time. That approximation is part of the contract.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Error reports a rejected request and how long the caller should wait before
// the window resets.
type Error struct {
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter)
}

// Seconds returns RetryAfter rounded up to whole seconds, the granularity of
// the Retry-After response header.
func (e *Error) Seconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

type record struct {
	window int64
	count  int
}

// Limiter admits at most limit requests per key per window. Check is atomic
// per key: concurrent callers for the same key in one window never admit more
// than the limit.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	records map[string]record
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New creates a limiter admitting limit requests per window.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		records: make(map[string]record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// sweep threshold: stale windows are discarded lazily, but the table must not
// grow without bound under a churn of distinct keys.
const sweepThreshold = 4096

// Check records one request for key. It returns nil and consumes a slot while
// the current window holds fewer than limit requests, and *Error once the
// window is full. A consumed slot is never rolled back.
func (l *Limiter) Check(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := now.UnixNano() / int64(l.window)

	rec, ok := l.records[key]
	if !ok || rec.window != w {
		if len(l.records) >= sweepThreshold {
			l.discardStale(w)
		}
		l.records[key] = record{window: w, count: 1}
		return nil
	}
	if rec.count < l.limit {
		rec.count++
		l.records[key] = rec
		return nil
	}

	elapsed := time.Duration(now.UnixNano() - w*int64(l.window))
	return &Error{RetryAfter: l.window - elapsed}
}

// Limit returns the configured per-window ceiling.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// discardStale drops records for windows other than current. Caller holds mu.
func (l *Limiter) discardStale(current int64) {
	for k, rec := range l.records {
		if rec.window != current {
			delete(l.records, k)
		}
	}
}
