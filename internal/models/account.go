package models

import (
	"time"
)

// Account represents a registered identity. Email is the sole lookup key.
type Account struct {
	ID           string     `bson:"account_id" json:"id"`
	Email        string     `bson:"email" json:"email"`
	FirstName    string     `bson:"first_name" json:"firstName"`
	LastName     string     `bson:"last_name" json:"lastName"`
	PasswordHash string     `bson:"password_hash" json:"-"`
	IsVerified   bool       `bson:"is_verified" json:"isVerified"`
	VerifiedAt   *time.Time `bson:"verified_at,omitempty" json:"verifiedAt,omitempty"`
	LastLogin    *time.Time `bson:"last_login,omitempty" json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updatedAt"`
}
