package handlers

import (
	"sync"
	"time"
)

// voucherAttemptLimiter caps voucher code submissions per target in a fixed window, which keeps
// code guessing against a single checkout slow.
type voucherAttemptLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	count int
	reset time.Time
}

func newVoucherAttemptLimiter(limit int, window time.Duration, clock func() time.Time) *voucherAttemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &voucherAttemptLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

// Allow records an attempt for target and reports whether it is within the limit. A nil limiter
// allows everything.
func (l *voucherAttemptLimiter) Allow(target string) bool {
	if l == nil {
		return true
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[target]
	if !ok || !now.Before(current.reset) {
		l.prune(now)
		l.windows[target] = attemptWindow{count: 1, reset: now.Add(l.window)}
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[target] = current
	return true
}

func (l *voucherAttemptLimiter) prune(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
