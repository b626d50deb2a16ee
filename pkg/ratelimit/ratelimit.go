// Package ratelimit provides per-key token buckets and a retry helper with
// exponential backoff for clients talking to rate limited services.
//
// Example usage:
//
//	lim := ratelimit.NewKeyed(2, 5, 10*time.Minute)
//	if !lim.Allow(agentID) {
//	    return errTooManyRequests
//	}
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Keyed limiter
// =============================================================================

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed hands out one token bucket per key. Buckets unused for longer than
// the idle TTL are dropped by Sweep. Safe for concurrent use.
type Keyed struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	keys    map[string]*entry
}

// NewKeyed creates a limiter allowing perSecond events per key with the given
// burst. perSecond <= 0 disables limiting.
func NewKeyed(perSecond float64, burst int, idleTTL time.Duration) *Keyed {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		limit:   limit,
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
		keys:    make(map[string]*entry),
	}
}

func (k *Keyed) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.keys[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.keys[key] = e
	}
	e.lastSeen = k.now()
	return e.limiter
}

// Allow reports whether an event for key may happen now and consumes a token if so.
func (k *Keyed) Allow(key string) bool {
	return k.get(key).AllowN(k.now(), 1)
}

// Reserve returns how long the caller would have to wait for a token for key.
// A zero duration means the token was taken.
func (k *Keyed) Reserve(key string) time.Duration {
	r := k.get(key).ReserveN(k.now(), 1)
	if !r.OK() {
		return time.Duration(1<<63 - 1)
	}
	d := r.DelayFrom(k.now())
	if d > 0 {
		r.CancelAt(k.now())
	}
	return d
}

// Sweep drops buckets idle for longer than the TTL and returns how many were dropped.
func (k *Keyed) Sweep() int {
	if k.idleTTL <= 0 {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	cutoff := k.now().Add(-k.idleTTL)
	n := 0
	for key, e := range k.keys {
		if e.lastSeen.Before(cutoff) {
			delete(k.keys, key)
			n++
		}
	}
	return n
}

// Keys lists the tracked keys, sorted.
func (k *Keyed) Keys() []string {
	k.mu.Lock()
	out := make([]string, 0, len(k.keys))
	for key := range k.keys {
		out = append(out, key)
	}
	k.mu.Unlock()
	sort.Strings(out)
	return out
}
