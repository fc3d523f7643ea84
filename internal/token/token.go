// Package token mints and checks stateless HS256 session tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"otpauth/internal/models"
)

const (
	MinTTL     = 7 * 24 * time.Hour
	MaxTTL     = 30 * 24 * time.Hour
	DefaultTTL = MinTTL

	// MinSecretLen is the shortest accepted HS256 key.
	MinSecretLen = 32
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidConfig = errors.New("invalid token configuration")
)

type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

// Claims carried by a session token. The subject is the account email.
type Claims struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, MinSecretLen)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < MinTTL || cfg.TTL > MaxTTL {
		return nil, fmt.Errorf("%w: ttl %s outside [%s, %s]", ErrInvalidConfig, cfg.TTL, MinTTL, MaxTTL)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    cfg.Now,
	}, nil
}

// TTL is the lifetime given to every issued token.
func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) Issue(acct models.Account) (string, error) {
	now := i.now()
	claims := Claims{
		Email:     acct.Email,
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.Email,
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the claims of a well-formed, correctly signed, unexpired
// token. Every failure is reported as ErrInvalidToken.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Email == "" || claims.Subject != claims.Email {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
