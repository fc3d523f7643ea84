package auth

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"otpauth/internal/credential"
	"otpauth/internal/hasher"
	"otpauth/internal/mailer"
	"otpauth/internal/otp"
	"otpauth/internal/token"
)

const (
	testPassword = "Aa1!aaaa"
	newPassword  = "Bb2@bbbbb"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sent struct {
	recipient string
	code      string
	purpose   mailer.Purpose
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (n *recordingNotifier) Deliver(_ context.Context, recipient, code string, purpose mailer.Purpose) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, sent{recipient, code, purpose})
	return n.err
}

func (n *recordingNotifier) last(purpose mailer.Purpose) (sent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.msgs) - 1; i >= 0; i-- {
		if n.msgs[i].purpose == purpose {
			return n.msgs[i], true
		}
	}
	return sent{}, false
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// countingHasher counts Hash calls so tests can compare the work done on
// different branches.
type countingHasher struct {
	hasher.Hasher
	mu     sync.Mutex
	hashes int
}

func (c *countingHasher) Hash(plaintext string) (string, error) {
	c.mu.Lock()
	c.hashes++
	c.mu.Unlock()
	return c.Hasher.Hash(plaintext)
}

func (c *countingHasher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashes
}

type harness struct {
	svc      *Service
	hasher   *countingHasher
	accounts *credential.MemoryStore
	ledger   otp.Ledger
	tokens   *token.Issuer
	notifier *recordingNotifier
	clock    *fakeClock
	logs     *bytes.Buffer
}

type harnessOpt func(*harnessSettings)

type harnessSettings struct {
	cfg       Config
	ephemeral bool
}

func withConfig(cfg Config) harnessOpt {
	return func(s *harnessSettings) { s.cfg = cfg }
}

func withEphemeralLedger() harnessOpt {
	return func(s *harnessSettings) { s.ephemeral = true }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	hs := harnessSettings{cfg: Config{ExposeCodes: true, ConcealAccounts: true}}
	for _, o := range opts {
		o(&hs)
	}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	bc, err := hasher.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	h := &countingHasher{Hasher: bc}

	var ledger otp.Ledger
	if hs.ephemeral {
		ledger = otp.NewMemoryLedger(h, otp.WithClock(clock.Now))
	} else {
		ledger = otp.NewDurableLedger(h, otp.NewMapStore(), otp.WithClock(clock.Now))
	}
	tokens, err := token.NewIssuer(token.Config{
		Secret: []byte("test-secret-test-secret-test-secret"),
		Issuer: "otpauth-test",
		Now:    clock.Now,
	})
	require.NoError(t, err)

	accounts := credential.NewMemoryStore()
	notifier := &recordingNotifier{}
	var logs bytes.Buffer
	svc, err := NewService(Deps{
		Accounts: accounts,
		Ledger:   ledger,
		Hasher:   h,
		Tokens:   tokens,
		Notifier: notifier,
		Logger:   log.New(&logs, "", 0),
		Now:      clock.Now,
	}, hs.cfg)
	require.NoError(t, err)

	return &harness{
		svc:      svc,
		hasher:   h,
		accounts: accounts,
		ledger:   ledger,
		tokens:   tokens,
		notifier: notifier,
		clock:    clock,
		logs:     &logs,
	}
}

func (h *harness) signup(t *testing.T, email string) string {
	t.Helper()
	res, err := h.svc.Signup(context.Background(), SignupInput{
		FirstName: "A", LastName: "B", Email: email, Password: testPassword,
	})
	require.NoError(t, err)
	require.Len(t, res.DevOTP, 6)
	return res.DevOTP
}

func (h *harness) signupVerified(t *testing.T, email string) {
	t.Helper()
	code := h.signup(t, email)
	_, err := h.svc.VerifyOTP(context.Background(), email, code, "signup")
	require.NoError(t, err)
}

func wrongCode(code string) string {
	if code == "999999" {
		return "999998"
	}
	return "999999"
}

func TestSignupVerifyScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Signup(ctx, SignupInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", res.Email)
	require.Len(t, res.DevOTP, 6)

	_, err = h.svc.VerifyOTP(ctx, "a@x.com", wrongCode(res.DevOTP), "signup")
	require.Error(t, err)
	assert.Equal(t, "Invalid OTP. 4 attempts remaining.", err.Error())
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 4, mismatch.Remaining)

	vr, err := h.svc.VerifyOTP(ctx, "a@x.com", res.DevOTP, "signup")
	require.NoError(t, err)
	require.NotEmpty(t, vr.Token)
	require.NotNil(t, vr.User)
	assert.True(t, vr.User.IsVerified)
	require.NotNil(t, vr.User.VerifiedAt)

	claims, err := h.tokens.Verify(vr.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "A", claims.FirstName)
	assert.Equal(t, "B", claims.LastName)

	_, err = h.svc.Signup(ctx, SignupInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, "Email already registered.", err.Error())
}

func TestSignupLeavesOneCodeThatVerificationConsumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code := h.signup(t, "a@x.com")
	msg, ok := h.notifier.last(mailer.PurposeSignup)
	require.True(t, ok)
	assert.Equal(t, code, msg.code)
	assert.Equal(t, "a@x.com", msg.recipient)

	_, err := h.svc.VerifyOTP(ctx, "a@x.com", code, "signup")
	require.NoError(t, err)

	res, err := h.ledger.Verify(ctx, "a@x.com", otp.PurposeSignup, code)
	require.NoError(t, err)
	assert.Equal(t, otp.NotFound, res.Outcome)

	_, ok = h.notifier.last(mailer.PurposeWelcome)
	assert.True(t, ok)
}

func TestSignupNormalizesEmail(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Signup(context.Background(), SignupInput{
		FirstName: " A ", LastName: "B", Email: "  A@X.com ", Password: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", res.Email)

	acct, err := h.accounts.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "A", acct.FirstName)
	assert.False(t, acct.IsVerified)
	assert.NotEqual(t, testPassword, acct.PasswordHash)
}

func TestSignupRetryOverwritesUnverifiedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.signup(t, "a@x.com")
	before, err := h.accounts.Get(ctx, "a@x.com")
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	res, err := h.svc.Signup(ctx, SignupInput{FirstName: "C", LastName: "D", Email: "a@x.com", Password: newPassword})
	require.NoError(t, err)

	after, err := h.accounts.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, "C", after.FirstName)
	assert.NotEqual(t, before.PasswordHash, after.PasswordHash)

	if first != res.DevOTP {
		_, err = h.svc.VerifyOTP(ctx, "a@x.com", first, "signup")
		var mismatch *MismatchError
		assert.ErrorAs(t, err, &mismatch)
	}
	_, err = h.svc.VerifyOTP(ctx, "a@x.com", res.DevOTP, "signup")
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "a@x.com", newPassword)
	assert.NoError(t, err)
}

func TestSignupValidationTouchesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    SignupInput
		field string
	}{
		{"missing first name", SignupInput{LastName: "B", Email: "a@x.com", Password: testPassword}, "firstName"},
		{"long last name", SignupInput{FirstName: "A", LastName: strings.Repeat("b", 51), Email: "a@x.com", Password: testPassword}, "lastName"},
		{"bad email", SignupInput{FirstName: "A", LastName: "B", Email: "not-an-email", Password: testPassword}, "email"},
		{"weak password", SignupInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: "aaaaaaaa"}, "password"},
		{"short password", SignupInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: "Aa1!"}, "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Signup(ctx, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.NotEmpty(t, verr.Message)
		})
	}

	ok, err := h.accounts.Has(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, h.notifier.count())
}

func TestVerifyOTPExpiredBeatsCorrectCode(t *testing.T) {
	h := newHarness(t)
	code := h.signup(t, "a@x.com")
	h.clock.Advance(otp.DefaultTTL + time.Second)

	_, err := h.svc.VerifyOTP(context.Background(), "a@x.com", code, "signup")
	assert.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyOTPAttemptCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := h.signup(t, "a@x.com")
	wrong := wrongCode(code)

	for remaining := 4; remaining >= 1; remaining-- {
		_, err := h.svc.VerifyOTP(ctx, "a@x.com", wrong, "signup")
		var mismatch *MismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, remaining, mismatch.Remaining)
	}
	_, err := h.svc.VerifyOTP(ctx, "a@x.com", wrong, "signup")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = h.svc.VerifyOTP(ctx, "a@x.com", code, "signup")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerifyOTPValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.VerifyOTP(ctx, "a@x.com", "12345", "signup")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "otp", verr.Field)

	_, err = h.svc.VerifyOTP(ctx, "a@x.com", "123456", "login")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)

	_, err = h.svc.VerifyOTP(ctx, "nobody@x.com", "123456", "signup")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestResendInvalidatesPreviousCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.signup(t, "a@x.com")

	var fresh string
	for i := 0; i < 5 && (fresh == "" || fresh == old); i++ {
		res, err := h.svc.ResendOTP(ctx, "a@x.com", "signup")
		require.NoError(t, err)
		fresh = res.DevOTP
	}
	require.NotEqual(t, old, fresh)

	_, err := h.svc.VerifyOTP(ctx, "a@x.com", old, "signup")
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)

	_, err = h.svc.VerifyOTP(ctx, "a@x.com", fresh, "signup")
	assert.NoError(t, err)
}

func TestResendSignupRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ResendOTP(ctx, "nobody@x.com", "signup")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	h.signupVerified(t, "a@x.com")
	_, err = h.svc.ResendOTP(ctx, "a@x.com", "signup")
	assert.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Equal(t, "Email is already verified.", err.Error())
}

func TestLoginNeedsVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signup(t, "a@x.com")

	res, err := h.svc.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, ErrNeedsVerification)
	assert.Empty(t, res.Token)

	_, err = h.svc.Login(ctx, "a@x.com", "Wrong1!pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginSuccessRecordsLastLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signupVerified(t, "a@x.com")
	h.clock.Advance(time.Hour)

	res, err := h.svc.Login(ctx, " A@x.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "Login successful.", res.Message)
	require.NotNil(t, res.User.LastLogin)
	assert.Equal(t, h.clock.Now(), *res.User.LastLogin)

	claims, err := h.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)

	acct, err := h.accounts.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, acct.LastLogin)
}

func TestLoginUnknownEmail(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Login(context.Background(), "nobody@x.com", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	open := newHarness(t, withConfig(Config{ExposeCodes: true}))
	_, err = open.svc.Login(context.Background(), "nobody@x.com", testPassword)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signupVerified(t, "a@x.com")

	_, err := h.svc.ResetPassword(ctx, "a@x.com", newPassword)
	assert.ErrorIs(t, err, ErrResetNotConfirmed)

	fr, err := h.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, fr.DevOTP, 6)

	_, err = h.svc.ResetPassword(ctx, "a@x.com", newPassword)
	assert.ErrorIs(t, err, ErrResetNotConfirmed)

	vr, err := h.svc.VerifyOTP(ctx, "a@x.com", fr.DevOTP, "forgot-password")
	require.NoError(t, err)
	assert.Empty(t, vr.Token)
	assert.Nil(t, vr.User)

	msg, err := h.svc.ResetPassword(ctx, "a@x.com", newPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	_, err = h.svc.ResetPassword(ctx, "a@x.com", "Cc3#ccccc")
	assert.ErrorIs(t, err, ErrResetNotConfirmed)

	_, err = h.svc.Login(ctx, "a@x.com", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.svc.Login(ctx, "a@x.com", newPassword)
	assert.NoError(t, err)
}

func TestResetPasswordConfirmationExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signupVerified(t, "a@x.com")

	fr, err := h.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	_, err = h.svc.VerifyOTP(ctx, "a@x.com", fr.DevOTP, "forgot-password")
	require.NoError(t, err)

	h.clock.Advance(otp.DefaultTTL + time.Second)
	_, err = h.svc.ResetPassword(ctx, "a@x.com", newPassword)
	assert.ErrorIs(t, err, ErrResetNotConfirmed)
}

func TestResetPasswordWithEphemeralLedger(t *testing.T) {
	h := newHarness(t, withEphemeralLedger())
	ctx := context.Background()
	h.signupVerified(t, "a@x.com")

	_, err := h.svc.ResetPassword(ctx, "a@x.com", newPassword)
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, "a@x.com", newPassword)
	assert.NoError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.ForgotPassword(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Equal(t, msgForgot, res.Message)
	assert.Empty(t, res.DevOTP)
	assert.Zero(t, h.notifier.count())

	_, err = h.svc.ResetPassword(ctx, "nobody@x.com", newPassword)
	assert.ErrorIs(t, err, ErrResetNotConfirmed)

	open := newHarness(t, withConfig(Config{}))
	_, err = open.svc.ForgotPassword(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = open.svc.ResetPassword(ctx, "nobody@x.com", newPassword)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestResendForgotPasswordBehavesLikeForgot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signupVerified(t, "a@x.com")

	res, err := h.svc.ResendOTP(ctx, "a@x.com", "forgot-password")
	require.NoError(t, err)
	assert.Equal(t, msgForgot, res.Message)
	require.Len(t, res.DevOTP, 6)

	msg, ok := h.notifier.last(mailer.PurposeForgotPassword)
	require.True(t, ok)
	assert.Equal(t, res.DevOTP, msg.code)
}

func TestCodesHiddenUnlessExposed(t *testing.T) {
	h := newHarness(t, withConfig(Config{ConcealAccounts: true}))
	res, err := h.svc.Signup(context.Background(), SignupInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	assert.Empty(t, res.DevOTP)

	msg, ok := h.notifier.last(mailer.PurposeSignup)
	require.True(t, ok)
	assert.Len(t, msg.code, 6)
}

func TestDeliveryFailureDoesNotFailFlow(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("relay down")

	code := h.signup(t, "a@x.com")
	_, err := h.svc.VerifyOTP(context.Background(), "a@x.com", code, "signup")
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "relay down")
}

func TestAuthenticateAndProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = h.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	h.signupVerified(t, "a@x.com")
	res, err := h.svc.Login(ctx, "a@x.com", testPassword)
	require.NoError(t, err)

	h.clock.Advance(token.DefaultTTL + time.Second)
	_, err = h.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	u, err := h.svc.Profile(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	_, err = h.svc.Profile(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConcurrentResendsLeaveAWorkingCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signup(t, "a@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ResendOTP(ctx, "a@x.com", "signup")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := h.svc.ResendOTP(ctx, "a@x.com", "signup")
	require.NoError(t, err)
	_, err = h.svc.VerifyOTP(ctx, "a@x.com", res.DevOTP, "signup")
	assert.NoError(t, err)
}

func TestLongPasswordsSurviveSignupAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	long := "Aa1!" + strings.Repeat("a", 80)

	res, err := h.svc.Signup(ctx, SignupInput{FirstName: "A", LastName: "B", Email: "a@x.com", Password: long})
	require.NoError(t, err)
	_, err = h.svc.VerifyOTP(ctx, "a@x.com", res.DevOTP, "signup")
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "a@x.com", long)
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, "a@x.com", long[:72])
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	forgot, err := h.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	_, err = h.svc.VerifyOTP(ctx, "a@x.com", forgot.DevOTP, "forgot-password")
	require.NoError(t, err)
	longer := "Bb2@" + strings.Repeat("b", 120)
	_, err = h.svc.ResetPassword(ctx, "a@x.com", longer)
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "a@x.com", longer)
	assert.NoError(t, err)
}

func TestConcealedPathsDoTheSameHashWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signupVerified(t, "a@x.com")

	before := h.hasher.count()
	_, err := h.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	known := h.hasher.count() - before

	before = h.hasher.count()
	_, err = h.svc.ForgotPassword(ctx, "nobody@x.com")
	require.NoError(t, err)
	unknown := h.hasher.count() - before

	assert.Equal(t, 1, known)
	assert.Equal(t, known, unknown)

	before = h.hasher.count()
	_, err = h.svc.ResetPassword(ctx, "b@x.com", newPassword)
	require.ErrorIs(t, err, ErrResetNotConfirmed)
	assert.Equal(t, 1, h.hasher.count()-before)
}
