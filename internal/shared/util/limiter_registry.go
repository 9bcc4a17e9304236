package util

import (
	"sync"
	"time"
)

// LimiterRegistry hands out one Limiter per key, such as a repository
// address. Limiters idle for longer than ttl are dropped.
type LimiterRegistry struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perSecond float64
	burst     int
	ttl       time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter  *Limiter
	lastUsed time.Time
}

// NewLimiterRegistry starts the idle sweep when ttl is positive; Close
// stops it.
func NewLimiterRegistry(perSecond float64, burst int, ttl time.Duration) *LimiterRegistry {
	reg := &LimiterRegistry{
		limiters:  make(map[string]*limiterEntry),
		perSecond: perSecond,
		burst:     burst,
		ttl:       ttl,
		stop:      make(chan struct{}),
	}
	if ttl > 0 {
		go reg.cleanupLoop()
	}
	return reg
}

func (r *LimiterRegistry) Get(key string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: NewLimiter(r.perSecond, r.burst)}
		r.limiters[key] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

func (r *LimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *LimiterRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *LimiterRegistry) cleanupLoop() {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.cleanup(time.Now())
		}
	}
}

func (r *LimiterRegistry) cleanup(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.limiters {
		if now.Sub(entry.lastUsed) > r.ttl {
			delete(r.limiters, key)
		}
	}
}
