// Package ratelimit implements the fixed-window request limiter shared by
// anonymous and authenticated callers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fetchframe/webextract-api/internal/repository"
)

// Tier request-per-minute defaults, per spec.
const (
	AnonymousRequestsPerMinute     = 60
	AuthenticatedRequestsPerMinute = 1000
)

// Result carries the outcome of a single check-and-increment, enough to
// populate the X-RateLimit-* response triplet.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window request counter keyed by client identifier.
// Two implementations must be interchangeable: an in-process map for a
// single instance, and a libsql-backed one for multiple instances sharing
// state.
type Limiter interface {
	Allow(ctx context.Context, clientKey string, limit int, window time.Duration) (Result, error)
}

// ClientKey derives the rate-limit identifier for a request: the first 8
// characters of the caller's API key when present, else the connecting IP,
// else a random per-request id so unattributable traffic still gets a slot.
func ClientKey(apiKey, remoteIP string, randomSource func() string) string {
	if apiKey != "" {
		n := 8
		if len(apiKey) < n {
			n = len(apiKey)
		}
		return "key:" + apiKey[:n]
	}
	if remoteIP != "" {
		return "ip:" + remoteIP
	}
	return "anon:" + randomSource()
}

// rateWindow tracks the in-process counter for one client identifier.
type rateWindow struct {
	count int
	end   time.Time
}

// InProcessLimiter is a single-instance limiter backed by a map, matching
// the fixed-window algorithm in §4.3 without any cross-process durability.
// A background janitor goroutine evicts expired windows so the map does not
// grow unbounded under a long-lived churn of distinct client keys.
type InProcessLimiter struct {
	mu       sync.Mutex
	windows  map[string]*rateWindow
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewInProcessLimiter starts the janitor goroutine and returns a ready
// limiter. Call Stop when the server shuts down.
func NewInProcessLimiter(cleanupInterval time.Duration) *InProcessLimiter {
	l := &InProcessLimiter{
		windows: make(map[string]*rateWindow),
		stopCh:  make(chan struct{}),
	}
	go l.janitor(cleanupInterval)
	return l
}

func (l *InProcessLimiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.evictExpired(now)
		}
	}
}

func (l *InProcessLimiter) evictExpired(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.After(w.end) {
			delete(l.windows, key)
		}
	}
}

// Stop halts the janitor goroutine. Safe to call multiple times.
func (l *InProcessLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Allow implements Limiter.
func (l *InProcessLimiter) Allow(_ context.Context, clientKey string, limit int, window time.Duration) (Result, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientKey]
	if !ok || !now.Before(w.end) {
		w = &rateWindow{count: 1, end: now.Add(window)}
		l.windows[clientKey] = w
		return Result{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: w.end}, nil
	}

	if w.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: w.end}, nil
	}

	w.count++
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: w.end}, nil
}

// RepositoryLimiter delegates the check-and-increment to a single atomic
// upsert in the tabular store, so multiple process instances serving
// traffic agree on the counter.
type RepositoryLimiter struct {
	repo repository.RateLimitRepository
}

// NewRepositoryLimiter wraps a RateLimitRepository as a Limiter.
func NewRepositoryLimiter(repo repository.RateLimitRepository) *RepositoryLimiter {
	return &RepositoryLimiter{repo: repo}
}

// Allow implements Limiter.
func (l *RepositoryLimiter) Allow(ctx context.Context, clientKey string, limit int, window time.Duration) (Result, error) {
	count, windowEnd, err := l.repo.CheckAndIncrement(ctx, clientKey, time.Now().UTC(), window)
	if err != nil {
		return Result{}, err
	}
	if count > limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: windowEnd}, nil
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: windowEnd}, nil
}
