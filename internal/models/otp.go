package models

import (
	"time"
)

// OneTimeCode is the stored form of an issued OTP. The plaintext code never
// reaches this struct.
type OneTimeCode struct {
	Email        string     `bson:"email"`
	Purpose      string     `bson:"purpose"`
	CodeHash     string     `bson:"code_hash"`
	ExpiresAt    time.Time  `bson:"expires_at"`
	AttemptCount int        `bson:"attempt_count"`
	Verified     bool       `bson:"verified"`
	VerifiedAt   *time.Time `bson:"verified_at,omitempty"`
	Consumed     bool       `bson:"consumed"`
	CreatedAt    time.Time  `bson:"created_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c OneTimeCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
