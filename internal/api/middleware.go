package api

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"otpauth/internal/ratelimit"
	"otpauth/internal/token"
)

const requestIDHeader = "X-Request-Id"

type contextKey string

const (
	ctxRequestID contextKey = "request_id"
	ctxClaims    contextKey = "claims"
)

func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func claimsFromContext(ctx context.Context) *token.Claims {
	v, _ := ctx.Value(ctxClaims).(*token.Claims)
	return v
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, rid)))
	})
}

// limit admits the request under p or answers 429. Limiter outages fail
// open so a broken backend does not take the endpoints down.
func (s *Server) limit(p ratelimit.Policy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || p.Max <= 0 {
			next(w, r)
			return
		}
		err := s.limiter.Allow(r.Context(), clientIP(r), p)
		var exceeded *ratelimit.ExceededError
		switch {
		case err == nil:
		case errors.As(err, &exceeded):
			secs := int(math.Ceil(exceeded.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Message:    "Too many requests. Please try again later.",
				RetryAfter: secs,
			})
			return
		default:
			s.logger.Printf("request %s: rate limiter: %v", requestIDFromContext(r.Context()), err)
		}
		next(w, r)
	}
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "Authorization token required.")
			return
		}
		claims, err := s.flows.Authenticate(r.Context(), strings.TrimSpace(tok))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxClaims, claims)))
	}
}

// clientIP is the rate-limit identity. With proxy headers trusted,
// handlers.ProxyHeaders has already rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
