package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether an authenticated request may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds the rate limit for one service tier. A generation
// request occupies the GPU for seconds to minutes, so limits are
// expressed per minute rather than per second.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter is a fixed-window limiter keyed by subject and tier,
// held entirely in memory. A single worker serves one GPU, so there is
// no distributed state to coordinate.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu       sync.Mutex
	windows  map[string]*window
	lastScan time.Time
}

type window struct {
	count     int
	startedAt time.Time
}

// NewInProcessLimiter creates a limiter with per-tier configuration.
// Subjects whose tier is not listed get defaultRPM; a non-positive
// limit means unlimited.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		windows:    make(map[string]*window),
		lastScan:   time.Now(),
	}
}

// Allow counts the request against the caller's window and returns
// ErrTooManyRequests once the tier limit is exceeded.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.startedAt) >= time.Minute {
		l.windows[key] = &window{count: 1, startedAt: now}
		return nil
	}

	w.count++
	if w.count > rpm {
		return ErrTooManyRequests
	}
	return nil
}

// pruneLocked drops windows that expired more than a minute ago so the
// map does not grow with every subject ever seen. Runs at most once a
// minute. Caller holds mu.
func (l *InProcessLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastScan) < time.Minute {
		return
	}
	l.lastScan = now
	for key, w := range l.windows {
		if now.Sub(w.startedAt) >= 2*time.Minute {
			delete(l.windows, key)
		}
	}
}
