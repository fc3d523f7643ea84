package util

import (
	"errors"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameLength     = 50
	minPasswordLength = 8
	maxPasswordLength = 128
	maxEmailLength    = 254
	otpLength         = 6
)

var (
	ErrEmailRequired    = errors.New("Email is required.")
	ErrEmailInvalid     = errors.New("Please provide a valid email address.")
	ErrPasswordRequired = errors.New("Password is required.")
	ErrPasswordLength   = errors.New("Password must be between 8 and 128 characters.")
	ErrPasswordWeak     = errors.New("Password must contain an uppercase letter, a lowercase letter, a number and a special character.")
	ErrOTPFormat        = errors.New("OTP must be a 6-digit code.")
)

// NormalizeEmail case-folds and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks an already normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return ErrEmailInvalid
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return ErrEmailInvalid
	}
	// Reject display-name forms like "Bob <bob@x.com>".
	if strings.ToLower(addr.Address) != email {
		return ErrEmailInvalid
	}
	at := strings.LastIndexByte(email, '@')
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return ErrEmailInvalid
	}
	return nil
}

// ValidateName checks a first or last name. label is used in the message.
func ValidateName(label, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New(label + " is required.")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return errors.New(label + " must be at most 50 characters.")
	}
	return nil
}

// ValidatePassword applies the fixed password rule set.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength || n > maxPasswordLength {
		return ErrPasswordLength
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return ErrPasswordWeak
	}
	return nil
}

// ValidateOTP checks that code is exactly six ASCII digits.
func ValidateOTP(code string) error {
	if len(code) != otpLength {
		return ErrOTPFormat
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrOTPFormat
		}
	}
	return nil
}
