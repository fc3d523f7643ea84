// Package auth drives the signup, verification, login and password reset
// flows. It is the only writer of accounts and one-time codes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"otpauth/internal/credential"
	"otpauth/internal/hasher"
	"otpauth/internal/mailer"
	"otpauth/internal/models"
	"otpauth/internal/otp"
	"otpauth/internal/token"
	"otpauth/internal/util"
)

// TokenIssuer mints and checks session tokens.
type TokenIssuer interface {
	Issue(acct models.Account) (string, error)
	Verify(tokenStr string) (*token.Claims, error)
}

type Deps struct {
	Accounts credential.Store
	Ledger   otp.Ledger
	Hasher   hasher.Hasher
	Tokens   TokenIssuer
	Notifier mailer.Deliverer
	Logger   *log.Logger
	Now      func() time.Time
}

type Config struct {
	// ExposeCodes returns plaintext codes in responses. Only set in
	// development when no mail transport is configured.
	ExposeCodes bool
	// ConcealAccounts answers login and forgot-password identically whether
	// or not the email is registered.
	ConcealAccounts bool
}

type Service struct {
	accounts credential.Store
	ledger   otp.Ledger
	hasher   hasher.Hasher
	tokens   TokenIssuer
	notifier mailer.Deliverer
	logger   *log.Logger
	now      func() time.Time
	cfg      Config

	// Serializes account read-modify-write per email.
	locks util.KeyedMutex

	dummyOnce sync.Once
	dummyHash string
}

func NewService(d Deps, cfg Config) (*Service, error) {
	if d.Accounts == nil || d.Ledger == nil || d.Hasher == nil || d.Tokens == nil {
		return nil, errors.New("auth: accounts, ledger, hasher and tokens are required")
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		accounts: d.Accounts,
		ledger:   d.Ledger,
		hasher:   d.Hasher,
		tokens:   d.Tokens,
		notifier: d.Notifier,
		logger:   d.Logger,
		now:      d.Now,
		cfg:      cfg,
	}, nil
}

// User is the client-facing view of an account.
type User struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	IsVerified bool       `json:"isVerified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func userView(a models.Account) User {
	return User{
		ID:         a.ID,
		Email:      a.Email,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		IsVerified: a.IsVerified,
		VerifiedAt: a.VerifiedAt,
		LastLogin:  a.LastLogin,
		CreatedAt:  a.CreatedAt,
	}
}

type SignupInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

type SignupResult struct {
	Message string
	Email   string
	DevOTP  string
}

// CodeResult answers requests that (re)issue a code.
type CodeResult struct {
	Message string
	DevOTP  string
}

type VerifyResult struct {
	Message string
	Token   string
	User    *User
}

type LoginResult struct {
	Message string
	Token   string
	User    User
}

const (
	msgSignup        = "Signup successful. Please verify the OTP sent to your email."
	msgEmailVerified = "Email verified successfully."
	msgResetVerified = "OTP verified. You can now reset your password."
	msgResent        = "A new OTP has been sent to your email."
	msgLogin         = "Login successful."
	msgForgot        = "If an account exists for this email, a password reset OTP has been sent."
	msgReset         = "Password reset successful. Please log in with your new password."
)

// Signup creates an unverified account, or overwrites a previous unverified
// attempt, and sends a signup code.
func (s *Service) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	email := util.NormalizeEmail(in.Email)
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if err := util.ValidateName("First name", first); err != nil {
		return SignupResult{}, invalid("firstName", err)
	}
	if err := util.ValidateName("Last name", last); err != nil {
		return SignupResult{}, invalid("lastName", err)
	}
	if err := util.ValidateEmail(email); err != nil {
		return SignupResult{}, invalid("email", err)
	}
	if err := util.ValidatePassword(in.Password); err != nil {
		return SignupResult{}, invalid("password", err)
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	now := s.now()
	acct, err := s.accounts.Get(ctx, email)
	switch {
	case err == nil && acct.IsVerified:
		return SignupResult{}, ErrAlreadyRegistered
	case err == nil:
		// Retry of an unverified signup: keep identity, replace the rest.
	case errors.Is(err, credential.ErrNotFound):
		acct = models.Account{ID: uuid.NewString(), CreatedAt: now}
	default:
		return SignupResult{}, fmt.Errorf("load account: %w", err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return SignupResult{}, err
	}
	acct.Email = email
	acct.FirstName = first
	acct.LastName = last
	acct.PasswordHash = digest
	acct.IsVerified = false
	acct.VerifiedAt = nil
	acct.UpdatedAt = now
	if err := s.accounts.Set(ctx, email, acct); err != nil {
		return SignupResult{}, fmt.Errorf("save account: %w", err)
	}

	code, err := s.issue(ctx, email, otp.PurposeSignup)
	if err != nil {
		return SignupResult{}, err
	}
	s.logger.Printf("auth: signup started for %s", email)
	return SignupResult{Message: msgSignup, Email: email, DevOTP: s.devCode(code)}, nil
}

// VerifyOTP checks a code. A verified signup code marks the account verified
// and logs the user in; a verified forgot-password code unlocks
// ResetPassword.
func (s *Service) VerifyOTP(ctx context.Context, email, code, purpose string) (VerifyResult, error) {
	email = util.NormalizeEmail(email)
	if err := util.ValidateEmail(email); err != nil {
		return VerifyResult{}, invalid("email", err)
	}
	if err := util.ValidateOTP(code); err != nil {
		return VerifyResult{}, invalid("otp", err)
	}
	p, err := parsePurpose(purpose)
	if err != nil {
		return VerifyResult{}, err
	}

	if p == otp.PurposeForgotPassword {
		if err := s.verifyCode(ctx, email, p, code); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Message: msgResetVerified}, nil
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	acct, err := s.accounts.Get(ctx, email)
	if errors.Is(err, credential.ErrNotFound) {
		return VerifyResult{}, ErrAccountNotFound
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load account: %w", err)
	}
	if acct.IsVerified {
		return VerifyResult{}, ErrAlreadyVerified
	}
	if err := s.verifyCode(ctx, email, p, code); err != nil {
		return VerifyResult{}, err
	}

	now := s.now()
	acct.IsVerified = true
	acct.VerifiedAt = &now
	acct.UpdatedAt = now
	if err := s.accounts.Set(ctx, email, acct); err != nil {
		return VerifyResult{}, fmt.Errorf("save account: %w", err)
	}
	tok, err := s.tokens.Issue(acct)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("issue token: %w", err)
	}
	s.notify(ctx, email, "", mailer.PurposeWelcome)
	s.logger.Printf("auth: %s verified", email)

	u := userView(acct)
	return VerifyResult{Message: msgEmailVerified, Token: tok, User: &u}, nil
}

// ResendOTP replaces the live code for (email, purpose) with a new one.
func (s *Service) ResendOTP(ctx context.Context, email, purpose string) (CodeResult, error) {
	email = util.NormalizeEmail(email)
	if err := util.ValidateEmail(email); err != nil {
		return CodeResult{}, invalid("email", err)
	}
	p, err := parsePurpose(purpose)
	if err != nil {
		return CodeResult{}, err
	}
	if p == otp.PurposeForgotPassword {
		return s.forgotPassword(ctx, email)
	}

	acct, err := s.accounts.Get(ctx, email)
	if errors.Is(err, credential.ErrNotFound) {
		return CodeResult{}, ErrAccountNotFound
	}
	if err != nil {
		return CodeResult{}, fmt.Errorf("load account: %w", err)
	}
	if acct.IsVerified {
		return CodeResult{}, ErrAlreadyVerified
	}
	code, err := s.issue(ctx, email, p)
	if err != nil {
		return CodeResult{}, err
	}
	return CodeResult{Message: msgResent, DevOTP: s.devCode(code)}, nil
}

// Login checks the password and returns a session token. The password is
// checked before verification status so an unverified account's state is
// only revealed to someone who knows its password.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = util.NormalizeEmail(email)
	if err := util.ValidateEmail(email); err != nil {
		return LoginResult{}, invalid("email", err)
	}
	if password == "" {
		return LoginResult{}, invalid("password", util.ErrPasswordRequired)
	}

	acct, err := s.accounts.Get(ctx, email)
	if errors.Is(err, credential.ErrNotFound) {
		if !s.cfg.ConcealAccounts {
			return LoginResult{}, ErrAccountNotFound
		}
		// Spend the same hashing time as a real account would.
		s.hasher.Verify(password, s.dummyDigest())
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}
	if !s.hasher.Verify(password, acct.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !acct.IsVerified {
		return LoginResult{}, ErrNeedsVerification
	}

	tok, err := s.tokens.Issue(acct)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	acct = s.touchLastLogin(ctx, acct)
	return LoginResult{Message: msgLogin, Token: tok, User: userView(acct)}, nil
}

// touchLastLogin records the login time. Failure is logged and does not
// fail the login.
func (s *Service) touchLastLogin(ctx context.Context, acct models.Account) models.Account {
	unlock := s.locks.Lock(acct.Email)
	defer unlock()

	cur, err := s.accounts.Get(ctx, acct.Email)
	if err != nil {
		s.logger.Printf("auth: last login for %s not recorded: %v", acct.Email, err)
		return acct
	}
	now := s.now()
	cur.LastLogin = &now
	cur.UpdatedAt = now
	if err := s.accounts.Set(ctx, cur.Email, cur); err != nil {
		s.logger.Printf("auth: last login for %s not recorded: %v", acct.Email, err)
		return acct
	}
	return cur
}

// ForgotPassword sends a reset code.
func (s *Service) ForgotPassword(ctx context.Context, email string) (CodeResult, error) {
	email = util.NormalizeEmail(email)
	if err := util.ValidateEmail(email); err != nil {
		return CodeResult{}, invalid("email", err)
	}
	return s.forgotPassword(ctx, email)
}

func (s *Service) forgotPassword(ctx context.Context, email string) (CodeResult, error) {
	ok, err := s.accounts.Has(ctx, email)
	if err != nil {
		return CodeResult{}, fmt.Errorf("load account: %w", err)
	}
	if !ok {
		if s.cfg.ConcealAccounts {
			// Match the cost of hashing a freshly issued code.
			s.spendHash()
			return CodeResult{Message: msgForgot}, nil
		}
		return CodeResult{}, ErrAccountNotFound
	}
	code, err := s.issue(ctx, email, otp.PurposeForgotPassword)
	if err != nil {
		return CodeResult{}, err
	}
	return CodeResult{Message: msgForgot, DevOTP: s.devCode(code)}, nil
}

// ResetPassword sets a new password once a forgot-password code has been
// verified. The confirmation is consumed, so it authorizes one reset.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) (string, error) {
	email = util.NormalizeEmail(email)
	if err := util.ValidateEmail(email); err != nil {
		return "", invalid("email", err)
	}
	if err := util.ValidatePassword(newPassword); err != nil {
		return "", invalid("newPassword", err)
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	acct, err := s.accounts.Get(ctx, email)
	if errors.Is(err, credential.ErrNotFound) {
		if s.cfg.ConcealAccounts {
			s.spendHash()
			return "", ErrResetNotConfirmed
		}
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}

	switch err := s.ledger.Consume(ctx, email, otp.PurposeForgotPassword); {
	case err == nil:
	case errors.Is(err, otp.ErrConfirmationUntracked):
		// Ephemeral ledger: VerifyOTP already gated the client.
	case errors.Is(err, otp.ErrNotConfirmed):
		return "", ErrResetNotConfirmed
	default:
		return "", fmt.Errorf("check reset confirmation: %w", err)
	}

	now := s.now()
	acct.PasswordHash = digest
	acct.UpdatedAt = now
	if err := s.accounts.Set(ctx, email, acct); err != nil {
		return "", fmt.Errorf("save account: %w", err)
	}
	if err := s.ledger.Purge(ctx, email); err != nil {
		s.logger.Printf("auth: purge codes for %s: %v", email, err)
	}
	s.logger.Printf("auth: password reset for %s", email)
	return msgReset, nil
}

// Authenticate resolves a bearer token to its claims.
func (s *Service) Authenticate(_ context.Context, tokenStr string) (*token.Claims, error) {
	if tokenStr == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokens.Verify(tokenStr)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// Profile returns the current view of an authenticated account.
func (s *Service) Profile(ctx context.Context, email string) (User, error) {
	acct, err := s.accounts.Get(ctx, util.NormalizeEmail(email))
	if errors.Is(err, credential.ErrNotFound) {
		return User{}, ErrAccountNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load account: %w", err)
	}
	return userView(acct), nil
}

func (s *Service) verifyCode(ctx context.Context, email string, p otp.Purpose, code string) error {
	res, err := s.ledger.Verify(ctx, email, p, code)
	if err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}
	switch res.Outcome {
	case otp.Verified:
		return nil
	case otp.NotFound:
		return ErrOTPNotFound
	case otp.Expired:
		return ErrOTPExpired
	case otp.TooManyAttempts:
		return ErrTooManyAttempts
	case otp.Mismatch:
		return &MismatchError{Remaining: res.Remaining}
	}
	return fmt.Errorf("verify otp: unexpected outcome %s", res.Outcome)
}

func (s *Service) issue(ctx context.Context, email string, p otp.Purpose) (string, error) {
	code, err := s.ledger.Issue(ctx, email, p)
	if err != nil {
		return "", fmt.Errorf("issue otp: %w", err)
	}
	s.notify(ctx, email, code, mailer.Purpose(p))
	return code, nil
}

// notify hands a message to the notifier. Delivery problems never fail the
// calling flow.
func (s *Service) notify(ctx context.Context, email, code string, p mailer.Purpose) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Deliver(ctx, email, code, p); err != nil {
		s.logger.Printf("auth: %s message for %s not sent: %v", p, email, err)
	}
}

func (s *Service) devCode(code string) string {
	if s.cfg.ExposeCodes {
		return code
	}
	return ""
}

func (s *Service) dummyDigest() string {
	s.dummyOnce.Do(func() {
		d, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Printf("auth: dummy digest: %v", err)
		}
		s.dummyHash = d
	})
	return s.dummyHash
}

// spendHash does the work of one Hash call so concealed not-found paths take
// as long as the paths they stand in for.
func (s *Service) spendHash() {
	if _, err := s.hasher.Hash(uuid.NewString()); err != nil {
		s.logger.Printf("auth: timing hash: %v", err)
	}
}

func parsePurpose(v string) (otp.Purpose, error) {
	p, err := otp.ParsePurpose(v)
	if err != nil {
		return "", &ValidationError{Field: "type", Message: "Type must be either signup or forgot-password."}
	}
	return p, nil
}
