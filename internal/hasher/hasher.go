// Package hasher provides the one-way hashing used for both account
// passwords and one-time codes. Digests are salted and slow; plaintext is
// never stored.
package hasher

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHashingFailed is returned when a digest could not be produced.
var ErrHashingFailed = errors.New("hashing failed")

// Hasher hashes secrets and verifies them against stored digests.
// Verify reports a plain boolean: a malformed digest is a mismatch.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Config selects the algorithm and its cost parameters.
type Config struct {
	Algorithm  string
	Argon2     Argon2Config
	BcryptCost int
}

// DefaultArgon2Config mirrors the OWASP argon2id baseline.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// New builds the Hasher named by cfg.Algorithm.
func New(cfg Config) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgorithmArgon2id:
		if cfg.Argon2 == (Argon2Config{}) {
			cfg.Argon2 = DefaultArgon2Config()
		}
		return NewArgon2(cfg.Argon2)
	case AlgorithmBcrypt:
		return NewBcrypt(cfg.BcryptCost)
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}
}
