package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 100_000

// MemoryLimiter keeps request logs in process memory. Entries older than the
// window are pruned when the key is next read; Sweep and the MaxKeys cap keep
// idle identities from accumulating.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	maxKeys   int
	maxWindow time.Duration
	now       func() time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// WithMaxKeys bounds the number of tracked identities.
func WithMaxKeys(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string][]time.Time),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, identity string, p Policy) error {
	now := l.now()
	k := key(identity, p)

	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Window > l.maxWindow {
		l.maxWindow = p.Window
	}

	stamps, tracked := l.windows[k]
	stamps = prune(stamps, now.Add(-p.Window))
	if len(stamps) >= p.Max {
		l.windows[k] = stamps
		return exceeded(p)
	}

	if !tracked && len(l.windows) >= l.maxKeys {
		l.sweepLocked(now)
		if len(l.windows) >= l.maxKeys {
			l.evictOldestLocked()
		}
	}
	l.windows[k] = append(stamps, now)
	return nil
}

// Sweep drops identities with no request inside the longest window seen and
// returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

// Len reports the number of tracked identities.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *MemoryLimiter) sweepLocked(now time.Time) int {
	cutoff := now.Add(-l.maxWindow)
	removed := 0
	for k, stamps := range l.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, stamps := range l.windows {
		last := time.Time{}
		if len(stamps) > 0 {
			last = stamps[len(stamps)-1]
		}
		if !found || last.Before(oldest) {
			oldestKey, oldest, found = k, last, true
		}
	}
	if found {
		delete(l.windows, oldestKey)
	}
}

// prune drops timestamps at or before cutoff. stamps is sorted ascending.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}
