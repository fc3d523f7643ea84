// Package otp manages the lifecycle of one-time codes: issue, hashed storage,
// expiry, attempt counting and single-use invalidation.
//
// Two Ledger variants exist. DurableLedger is the default: a successful
// verification marks the record verified and keeps it, so a later
// password reset can require a verified, unconsumed forgot-password record.
// MemoryLedger is the simplified process-local variant: verification deletes
// the record outright and Consume reports ErrConfirmationUntracked.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"otpauth/internal/hasher"
	"otpauth/internal/models"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
)

var (
	ErrInvalidPurpose = errors.New("invalid otp purpose")
	ErrUnavailable    = errors.New("otp store unavailable")
	// ErrNotConfirmed means no verified, unconsumed code exists.
	ErrNotConfirmed = errors.New("otp not confirmed")
	// ErrConfirmationUntracked is returned by ledgers that do not keep
	// verified records around after verification.
	ErrConfirmationUntracked = errors.New("otp confirmation not tracked by this ledger")
)

// Purpose scopes a code. One live code exists per (email, purpose).
type Purpose string

const (
	PurposeSignup         Purpose = "signup"
	PurposeForgotPassword Purpose = "forgot-password"
)

// ParsePurpose maps a wire value to a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposeSignup, PurposeForgotPassword:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, s)
}

func (p Purpose) valid() bool {
	return p == PurposeSignup || p == PurposeForgotPassword
}

// Outcome is the terminal or non-terminal result of a verification.
type Outcome int

const (
	Verified Outcome = iota
	NotFound
	Expired
	TooManyAttempts
	Mismatch
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	case TooManyAttempts:
		return "too_many_attempts"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Result of Verify. Remaining is set only for Mismatch.
type Result struct {
	Outcome   Outcome
	Remaining int
}

// Ledger issues and verifies one-time codes.
type Ledger interface {
	// Issue returns a fresh plaintext code, replacing any code for the pair.
	Issue(ctx context.Context, email string, purpose Purpose) (string, error)
	Verify(ctx context.Context, email string, purpose Purpose, code string) (Result, error)
	// Consume atomically checks for a verified, unconsumed, unexpired record
	// and marks it consumed. It returns ErrNotConfirmed when there is none.
	Consume(ctx context.Context, email string, purpose Purpose) error
	// Purge removes every record for email.
	Purge(ctx context.Context, email string) error
}

// Option configures either ledger.
type Option func(*settings)

type settings struct {
	now         func() time.Time
	ttl         time.Duration
	maxAttempts int
	generate    func() (string, error)
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		now:         time.Now,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		generate:    GenerateCode,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type action int

const (
	actionNone action = iota
	actionDelete
	actionSave
	actionMarkVerified
)

// judge applies the verification rules to a live record. It mutates
// rec.AttemptCount on mismatch and tells the caller how to persist it.
func judge(h hasher.Hasher, rec *models.OneTimeCode, code string, now time.Time, maxAttempts int) (Result, action) {
	if rec.Expired(now) {
		return Result{Outcome: Expired}, actionDelete
	}
	if rec.AttemptCount >= maxAttempts {
		return Result{Outcome: TooManyAttempts}, actionDelete
	}
	if h.Verify(code, rec.CodeHash) {
		return Result{Outcome: Verified}, actionMarkVerified
	}
	rec.AttemptCount++
	if rec.AttemptCount >= maxAttempts {
		return Result{Outcome: TooManyAttempts}, actionDelete
	}
	return Result{Outcome: Mismatch, Remaining: maxAttempts - rec.AttemptCount}, actionSave
}

func newRecord(h hasher.Hasher, s settings, email string, purpose Purpose) (models.OneTimeCode, string, error) {
	code, err := s.generate()
	if err != nil {
		return models.OneTimeCode{}, "", err
	}
	digest, err := h.Hash(code)
	if err != nil {
		return models.OneTimeCode{}, "", err
	}
	now := s.now()
	return models.OneTimeCode{
		Email:     email,
		Purpose:   string(purpose),
		CodeHash:  digest,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}, code, nil
}

func lockKey(email string, purpose Purpose) string {
	return string(purpose) + "|" + email
}
