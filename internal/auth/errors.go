package auth

import (
	"errors"
	"fmt"
)

// Errors returned by Service. Their text is safe to show to clients.
var (
	ErrAlreadyRegistered  = errors.New("Email already registered.")
	ErrAlreadyVerified    = errors.New("Email is already verified.")
	ErrAccountNotFound    = errors.New("Account not found.")
	ErrInvalidCredentials = errors.New("Invalid email or password.")
	ErrNeedsVerification  = errors.New("Please verify your email before logging in.")
	ErrOTPNotFound        = errors.New("OTP not found or already used. Please request a new one.")
	ErrOTPExpired         = errors.New("OTP has expired. Please request a new one.")
	ErrTooManyAttempts    = errors.New("Too many failed attempts. Please request a new OTP.")
	ErrResetNotConfirmed  = errors.New("Please verify OTP first")
	ErrUnauthenticated    = errors.New("Invalid or expired token.")
)

// ValidationError reports malformed input. No store is touched when one is
// returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Message: err.Error()}
}

// MismatchError is a wrong OTP that leaves the code live.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	if e.Remaining == 1 {
		return "Invalid OTP. 1 attempt remaining."
	}
	return fmt.Sprintf("Invalid OTP. %d attempts remaining.", e.Remaining)
}
