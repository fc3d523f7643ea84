// Package mailer delivers one-time codes and account notices by email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
)

// Purpose selects the message template.
type Purpose string

const (
	PurposeSignup         Purpose = "signup"
	PurposeForgotPassword Purpose = "forgot-password"
	PurposeWelcome        Purpose = "welcome"
)

var (
	ErrNotConfigured    = errors.New("SMTP settings are not configured")
	ErrDispatcherClosed = errors.New("mail dispatcher closed")
)

// Deliverer sends a code (or notice, for PurposeWelcome) to recipient.
type Deliverer interface {
	Deliver(ctx context.Context, recipient, code string, purpose Purpose) error
}

type SMTPConfig struct {
	Server   string // host:port
	User     string
	Password string
	From     string
}

// Configured reports whether enough settings are present to send mail.
func (c SMTPConfig) Configured() bool {
	return c.Server != "" && c.User != "" && c.Password != ""
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDeliverer sends plain-text mail through an authenticated relay.
type SMTPDeliverer struct {
	cfg  SMTPConfig
	host string
	send sendFunc
}

func NewSMTPDeliverer(cfg SMTPConfig) (*SMTPDeliverer, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	host, _, err := net.SplitHostPort(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_SERVER format (expected host:port): %v", err)
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPDeliverer{cfg: cfg, host: host, send: smtp.SendMail}, nil
}

func (d *SMTPDeliverer) Deliver(ctx context.Context, recipient, code string, purpose Purpose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := compose(purpose, code)
	if err != nil {
		return err
	}
	auth := smtp.PlainAuth("", d.cfg.User, d.cfg.Password, d.host)
	msg := []byte("From: " + d.cfg.From + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")

	if err := d.send(d.cfg.Server, auth, d.cfg.From, []string{recipient}, msg); err != nil {
		return fmt.Errorf("failed to send email via %s: %w", d.cfg.Server, err)
	}
	return nil
}

func compose(purpose Purpose, code string) (subject, body string, err error) {
	switch purpose {
	case PurposeSignup:
		return "Verify your email",
			fmt.Sprintf("Your verification code is: %s\nIt is valid for 5 minutes.\n\nIf you did not sign up, ignore this email.", code), nil
	case PurposeForgotPassword:
		return "Password reset code",
			fmt.Sprintf("Your password reset code is: %s\nIt is valid for 5 minutes.\n\nIf you did not request a reset, ignore this email.", code), nil
	case PurposeWelcome:
		return "Welcome",
			"Your email address has been verified and your account is ready.", nil
	}
	return "", "", fmt.Errorf("unknown mail purpose %q", purpose)
}

// LogDeliverer writes codes to a logger instead of sending them. It is only
// wired in development.
type LogDeliverer struct {
	Logger *log.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, recipient, code string, purpose Purpose) error {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	if purpose == PurposeWelcome {
		logger.Printf("mailer: welcome notice for %s", recipient)
		return nil
	}
	logger.Printf("mailer: %s code for %s: %s", purpose, recipient, code)
	return nil
}
