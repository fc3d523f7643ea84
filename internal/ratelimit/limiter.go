// Package ratelimit admits or rejects requests per client identity using a
// sliding log of recent request timestamps. Window policy is chosen by the
// caller on every call; limiters hold no per-endpoint configuration.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Policy is the per-call-site budget: at most Max requests per Window.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// ExceededError is returned when a request is rejected.
type ExceededError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit %q exceeded, retry after %s", e.Policy, e.RetryAfter)
}

func (e *ExceededError) Unwrap() error { return ErrRateLimited }

// Limiter records a request for identity under p, or rejects it.
type Limiter interface {
	Allow(ctx context.Context, identity string, p Policy) error
}

func key(identity string, p Policy) string {
	return p.Name + ":" + identity
}

func exceeded(p Policy) error {
	return &ExceededError{Policy: p.Name, RetryAfter: p.Window}
}
