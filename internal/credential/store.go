// Package credential persists accounts keyed by normalized email.
package credential

import (
	"context"
	"errors"
	"strings"

	"otpauth/internal/models"
)

var (
	ErrNotFound = errors.New("account not found")
	ErrConflict = errors.New("account conflict")
)

// Store is the account persistence used by the auth flow. Implementations
// give read-after-write consistency per email.
type Store interface {
	Get(ctx context.Context, email string) (models.Account, error)
	// Set inserts or replaces the account stored under email.
	Set(ctx context.Context, email string, acct models.Account) error
	Has(ctx context.Context, email string) (bool, error)
	// Delete reports whether an account was removed.
	Delete(ctx context.Context, email string) (bool, error)
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
