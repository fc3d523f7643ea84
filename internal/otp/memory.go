package otp

import (
	"context"
	"sync"
	"time"

	"otpauth/internal/hasher"
	"otpauth/internal/models"
	"otpauth/internal/util"
)

// MemoryLedger keeps codes in process memory. State is lost on restart,
// which is acceptable for codes that live five minutes. Verification
// deletes the record, so "verified" and "consumed" are the same event.
type MemoryLedger struct {
	hasher   hasher.Hasher
	settings settings
	keys     util.KeyedMutex

	mu    sync.Mutex
	codes map[string]models.OneTimeCode
}

func NewMemoryLedger(h hasher.Hasher, opts ...Option) *MemoryLedger {
	return &MemoryLedger{
		hasher:   h,
		settings: newSettings(opts),
		codes:    make(map[string]models.OneTimeCode),
	}
}

func (l *MemoryLedger) Issue(_ context.Context, email string, purpose Purpose) (string, error) {
	if !purpose.valid() {
		return "", ErrInvalidPurpose
	}
	k := lockKey(email, purpose)
	unlock := l.keys.Lock(k)
	defer unlock()

	rec, code, err := newRecord(l.hasher, l.settings, email, purpose)
	if err != nil {
		return "", err
	}
	l.put(k, rec)
	return code, nil
}

func (l *MemoryLedger) Verify(_ context.Context, email string, purpose Purpose, code string) (Result, error) {
	if !purpose.valid() {
		return Result{}, ErrInvalidPurpose
	}
	k := lockKey(email, purpose)
	unlock := l.keys.Lock(k)
	defer unlock()

	rec, ok := l.get(k)
	if !ok {
		return Result{Outcome: NotFound}, nil
	}

	res, act := judge(l.hasher, &rec, code, l.settings.now(), l.settings.maxAttempts)
	switch act {
	case actionSave:
		l.put(k, rec)
	case actionDelete, actionMarkVerified:
		l.delete(k)
	}
	return res, nil
}

func (l *MemoryLedger) Consume(context.Context, string, Purpose) error {
	return ErrConfirmationUntracked
}

func (l *MemoryLedger) Purge(_ context.Context, email string) error {
	for _, p := range []Purpose{PurposeSignup, PurposeForgotPassword} {
		k := lockKey(email, p)
		unlock := l.keys.Lock(k)
		l.delete(k)
		unlock()
	}
	return nil
}

// Sweep removes expired records and returns how many were dropped.
// Lookups already treat expired records as absent.
func (l *MemoryLedger) Sweep() int {
	now := l.settings.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, rec := range l.codes {
		if rec.Expired(now) {
			delete(l.codes, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLedger) Run(ctx context.Context, interval time.Duration) {
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

func (l *MemoryLedger) get(k string) (models.OneTimeCode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.codes[k]
	return rec, ok
}

func (l *MemoryLedger) put(k string, rec models.OneTimeCode) {
	l.mu.Lock()
	l.codes[k] = rec
	l.mu.Unlock()
}

func (l *MemoryLedger) delete(k string) {
	l.mu.Lock()
	delete(l.codes, k)
	l.mu.Unlock()
}
