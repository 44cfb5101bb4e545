// Package ratelimit implements the per-(client, path) request budget
// described in the concurrency model: a lazily-evicted map of token
// buckets whose budget refills over a window (one minute by default).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBudget   = 60
	DefaultWindow   = time.Minute
	evictAfterIdle  = 10 * time.Minute
	maxTrackedKeys  = 100000
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is an in-process map of token buckets keyed by (client
// identifier, path). Once it holds maxTrackedKeys entries, entries idle for
// longer than evictAfterIdle are dropped before a new key is added; entries
// seen more recently are kept, so the map can grow past that size. It is
// safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	budget  int
	window  time.Duration
}

// New creates a Limiter with the given per-window request budget. A budget
// <= 0 falls back to DefaultBudget, and a window <= 0 falls back to
// DefaultWindow.
func New(budget int, window time.Duration) *Limiter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		entries: make(map[string]*entry),
		budget:  budget,
		window:  window,
	}
}

// Allow reports whether the request identified by (clientID, path) is
// within budget, consuming one token if so.
func (l *Limiter) Allow(clientID, path string) bool {
	key := clientID + "\x00" + path
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxTrackedKeys {
			l.evictLocked(now)
		}
		ratePerSec := rate.Limit(float64(l.budget) / l.window.Seconds())
		e = &entry{limiter: rate.NewLimiter(ratePerSec, l.budget)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// evictLocked drops entries that have been idle past evictAfterIdle. Caller
// must hold l.mu.
func (l *Limiter) evictLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > evictAfterIdle {
			delete(l.entries, k)
		}
	}
}
