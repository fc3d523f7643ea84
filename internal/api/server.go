// Package api exposes the auth flows over JSON/HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"otpauth/internal/auth"
	"otpauth/internal/ratelimit"
	"otpauth/internal/token"
)

// Flows is the auth surface the handlers drive.
type Flows interface {
	Signup(ctx context.Context, in auth.SignupInput) (auth.SignupResult, error)
	VerifyOTP(ctx context.Context, email, code, purpose string) (auth.VerifyResult, error)
	ResendOTP(ctx context.Context, email, purpose string) (auth.CodeResult, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) (auth.CodeResult, error)
	ResetPassword(ctx context.Context, email, newPassword string) (string, error)
	Authenticate(ctx context.Context, tokenStr string) (*token.Claims, error)
	Profile(ctx context.Context, email string) (auth.User, error)
}

// Policies holds one rate-limit policy per endpoint.
type Policies struct {
	Signup ratelimit.Policy
	Login  ratelimit.Policy
	Verify ratelimit.Policy
	Resend ratelimit.Policy
	Forgot ratelimit.Policy
	Reset  ratelimit.Policy
}

func DefaultPolicies() Policies {
	const window = 15 * time.Minute
	return Policies{
		Signup: ratelimit.Policy{Name: "signup", Max: 5, Window: window},
		Login:  ratelimit.Policy{Name: "login", Max: 5, Window: window},
		Verify: ratelimit.Policy{Name: "verify-otp", Max: 10, Window: window},
		Resend: ratelimit.Policy{Name: "resend-otp", Max: 3, Window: window},
		Forgot: ratelimit.Policy{Name: "forgot-password", Max: 3, Window: window},
		Reset:  ratelimit.Policy{Name: "reset-password", Max: 5, Window: window},
	}
}

type Options struct {
	Limiter  ratelimit.Limiter
	Policies Policies
	Logger   *log.Logger
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Only enable behind a proxy that sets them.
	TrustProxyHeaders bool
	AllowedOrigins    []string
}

type Server struct {
	flows    Flows
	limiter  ratelimit.Limiter
	policies Policies
	logger   *log.Logger
}

// NewHandler builds the router and wraps it in the shared middleware.
func NewHandler(flows Flows, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Server{
		flows:    flows,
		limiter:  opts.Limiter,
		policies: opts.Policies,
		logger:   opts.Logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/signup", s.limit(s.policies.Signup, s.signup)).Methods(http.MethodPost)
	api.HandleFunc("/verify-otp", s.limit(s.policies.Verify, s.verifyOTP)).Methods(http.MethodPost)
	api.HandleFunc("/resend-otp", s.limit(s.policies.Resend, s.resendOTP)).Methods(http.MethodPost)
	api.HandleFunc("/login", s.limit(s.policies.Login, s.login)).Methods(http.MethodPost)
	api.HandleFunc("/forgot-password", s.limit(s.policies.Forgot, s.forgotPassword)).Methods(http.MethodPost)
	api.HandleFunc("/reset-password", s.limit(s.policies.Reset, s.resetPassword)).Methods(http.MethodPost)
	api.HandleFunc("/me", s.requireAuth(s.me)).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	var h http.Handler = router
	if len(opts.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(opts.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
			handlers.ExposedHeaders([]string{"Retry-After", requestIDHeader}),
		)(h)
	}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(s.logger), handlers.PrintRecoveryStack(true))(h)
	h = handlers.LoggingHandler(s.logger.Writer(), h)
	h = requestID(h)
	if opts.TrustProxyHeaders {
		h = handlers.ProxyHeaders(h)
	}
	return h
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
