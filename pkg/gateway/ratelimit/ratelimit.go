// Package ratelimit keeps per-key request budgets and WebSocket connection
// caps in memory. Keys are session ids for session-scoped routes and the
// client address otherwise.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConnections int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*keyLimiter
}

type keyLimiter struct {
	bucket  *rate.Limiter
	connSem chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*keyLimiter),
	}
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AllowRequest spends one token from key's bucket.
func (l *Limiter) AllowRequest(key string, now time.Time) Decision {
	if l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	kl := l.getOrCreate(key, now)

	r := kl.bucket.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: 1}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: retryAfterSeconds(delay)}
	}
	return Decision{Allowed: true}
}

// AcquireConnection reserves one concurrent WebSocket slot for key. The
// returned permit must be released when the connection closes.
func (l *Limiter) AcquireConnection(key string, now time.Time) Decision {
	if l.cfg.MaxConnections <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	kl := l.getOrCreate(key, now)
	select {
	case kl.connSem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-kl.connSem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Limiter) getOrCreate(key string, now time.Time) *keyLimiter {
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if kl, ok := l.m[key]; ok {
		kl.touch(now)
		return kl
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one idle entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k, v := range l.m {
				if len(v.connSem) == 0 {
					delete(l.m, k)
					break
				}
			}
		}
	}

	kl := &keyLimiter{
		bucket:   rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst),
		connSem:  make(chan struct{}, max(1, l.cfg.MaxConnections)),
		lastSeen: now,
	}
	l.m[key] = kl
	return kl
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if len(v.connSem) == 0 && now.Sub(v.seen()) > ttl {
			delete(l.m, k)
		}
	}
}

func (kl *keyLimiter) touch(now time.Time) {
	kl.mu.Lock()
	kl.lastSeen = now
	kl.mu.Unlock()
}

func (kl *keyLimiter) seen() time.Time {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return kl.lastSeen
}

func retryAfterSeconds(d time.Duration) int {
	n := int(math.Ceil(d.Seconds()))
	if n < 1 {
		return 1
	}
	return n
}
