package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otpauth/internal/api"
	"otpauth/internal/auth"
	"otpauth/internal/config"
	"otpauth/internal/hasher"
	"otpauth/internal/token"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalf("Configuration error: %v", err)
	}

	// Background workers stop when the server shuts down.
	bg, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Create a context for initialization.
	ctx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	b, err := connectBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}
	defer b.close(logger)

	h, err := hasher.New(cfg.Hasher())
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}
	tokens, err := token.NewIssuer(cfg.Token())
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}

	accounts, err := b.accounts(ctx, cfg)
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}
	ledger, err := b.ledger(ctx, bg, cfg, h)
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}
	limiter := b.limiter(bg, cfg)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}
	defer notifier.Close()

	svc, err := auth.NewService(auth.Deps{
		Accounts: accounts,
		Ledger:   ledger,
		Hasher:   h,
		Tokens:   tokens,
		Notifier: notifier,
		Logger:   logger,
	}, auth.Config{
		ExposeCodes:     cfg.ExposeCodes(),
		ConcealAccounts: cfg.ConcealAccounts,
	})
	if err != nil {
		logger.Fatalf("Initialization error: %v", err)
	}
	if cfg.ExposeCodes() {
		logger.Println("Warning: SMTP not configured; OTP codes are returned in responses (development only)")
	}

	handler := api.NewHandler(svc, api.Options{
		Limiter:           limiter,
		Policies:          policies(cfg.RateLimits),
		Logger:            logger,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		AllowedOrigins:    cfg.AllowedOrigins,
	})

	// Create the HTTP server.
	srv := &http.Server{
		Handler:      handler,
		Addr:         cfg.Addr(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     logger,
	}

	// Start the server in a goroutine.
	go func() {
		logger.Printf("Server running on http://localhost%s (%s)", srv.Addr, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signals for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Printf("Server forced to shutdown: %v", err)
	}
	stopBackground()
	logger.Println("Server exiting gracefully.")
}

func policies(r config.RateLimits) api.Policies {
	p := api.DefaultPolicies()
	p.Signup.Max, p.Signup.Window = r.Signup.Max, r.Signup.Window
	p.Login.Max, p.Login.Window = r.Login.Max, r.Login.Window
	p.Verify.Max, p.Verify.Window = r.Verify.Max, r.Verify.Window
	p.Resend.Max, p.Resend.Window = r.Resend.Max, r.Resend.Window
	p.Forgot.Max, p.Forgot.Window = r.Forgot.Max, r.Forgot.Window
	p.Reset.Max, p.Reset.Window = r.Reset.Max, r.Reset.Window
	return p
}
