package otp

import (
	"context"
	"errors"
	"fmt"

	"otpauth/internal/hasher"
	"otpauth/internal/models"
	"otpauth/internal/util"
)

// ErrRecordNotFound is returned by a RecordStore when no record matches,
// including when a conditional write finds the record was superseded.
var ErrRecordNotFound = errors.New("otp record not found")

// RecordStore persists OneTimeCode documents keyed by (email, purpose). The
// store is expected to expire records once ExpiresAt passes; the ledger
// still checks expiry itself because expiry sweeps lag.
type RecordStore interface {
	Find(ctx context.Context, email, purpose string) (models.OneTimeCode, error)
	// Replace upserts rec, discarding whatever was stored for the pair.
	Replace(ctx context.Context, rec models.OneTimeCode) error
	// Update writes the mutable fields of rec if the stored record still has
	// rec.CodeHash.
	Update(ctx context.Context, rec models.OneTimeCode) error
	// Delete removes rec if the stored record still has rec.CodeHash.
	Delete(ctx context.Context, rec models.OneTimeCode) error
	DeleteAll(ctx context.Context, email string) error
}

// DurableLedger keeps codes in a RecordStore so they survive restarts.
// Verified records stay in the store, flagged, until consumed, purged or
// expired.
type DurableLedger struct {
	hasher   hasher.Hasher
	store    RecordStore
	settings settings
	keys     util.KeyedMutex
}

func NewDurableLedger(h hasher.Hasher, store RecordStore, opts ...Option) *DurableLedger {
	return &DurableLedger{
		hasher:   h,
		store:    store,
		settings: newSettings(opts),
	}
}

func (l *DurableLedger) Issue(ctx context.Context, email string, purpose Purpose) (string, error) {
	if !purpose.valid() {
		return "", ErrInvalidPurpose
	}
	unlock := l.keys.Lock(lockKey(email, purpose))
	defer unlock()

	rec, code, err := newRecord(l.hasher, l.settings, email, purpose)
	if err != nil {
		return "", err
	}
	if err := l.store.Replace(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return code, nil
}

func (l *DurableLedger) Verify(ctx context.Context, email string, purpose Purpose, code string) (Result, error) {
	if !purpose.valid() {
		return Result{}, ErrInvalidPurpose
	}
	unlock := l.keys.Lock(lockKey(email, purpose))
	defer unlock()

	rec, err := l.store.Find(ctx, email, string(purpose))
	if errors.Is(err, ErrRecordNotFound) {
		return Result{Outcome: NotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec.Verified || rec.Consumed {
		return Result{Outcome: NotFound}, nil
	}

	now := l.settings.now()
	res, act := judge(l.hasher, &rec, code, now, l.settings.maxAttempts)
	switch act {
	case actionDelete:
		err = l.store.Delete(ctx, rec)
	case actionSave:
		err = l.store.Update(ctx, rec)
	case actionMarkVerified:
		rec.Verified = true
		rec.VerifiedAt = &now
		err = l.store.Update(ctx, rec)
	}
	if errors.Is(err, ErrRecordNotFound) {
		// Superseded by a concurrent reissue from another process.
		return Result{Outcome: NotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

func (l *DurableLedger) Consume(ctx context.Context, email string, purpose Purpose) error {
	if !purpose.valid() {
		return ErrInvalidPurpose
	}
	unlock := l.keys.Lock(lockKey(email, purpose))
	defer unlock()

	rec, err := l.store.Find(ctx, email, string(purpose))
	if errors.Is(err, ErrRecordNotFound) {
		return ErrNotConfirmed
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !rec.Verified || rec.Consumed || rec.Expired(l.settings.now()) {
		return ErrNotConfirmed
	}

	rec.Consumed = true
	if err := l.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrNotConfirmed
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *DurableLedger) Purge(ctx context.Context, email string) error {
	for _, p := range []Purpose{PurposeSignup, PurposeForgotPassword} {
		unlock := l.keys.Lock(lockKey(email, p))
		defer unlock()
	}
	if err := l.store.DeleteAll(ctx, email); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
