package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@x.com", NormalizeEmail("  A@X.com "))
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"a@x.com", "first.last+tag@example.co.uk"}
	for _, email := range valid {
		assert.NoError(t, ValidateEmail(email), email)
	}

	assert.ErrorIs(t, ValidateEmail(""), ErrEmailRequired)
	invalid := []string{"not-an-email", "a@localhost", "bob <bob@x.com>", "@x.com", strings.Repeat("a", 250) + "@x.com"}
	for _, email := range invalid {
		assert.ErrorIs(t, ValidateEmail(email), ErrEmailInvalid, email)
	}
}

func TestValidatePassword(t *testing.T) {
	require.NoError(t, ValidatePassword("Aa1!aaaa"))

	assert.ErrorIs(t, ValidatePassword(""), ErrPasswordRequired)
	assert.ErrorIs(t, ValidatePassword("Aa1!aaa"), ErrPasswordLength)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("Aa1!", 33)), ErrPasswordLength)
	assert.ErrorIs(t, ValidatePassword("aa1!aaaa"), ErrPasswordWeak)
	assert.ErrorIs(t, ValidatePassword("AA1!AAAA"), ErrPasswordWeak)
	assert.ErrorIs(t, ValidatePassword("Aaa!aaaa"), ErrPasswordWeak)
	assert.ErrorIs(t, ValidatePassword("Aa1aaaaa"), ErrPasswordWeak)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("First name", "Ada"))
	assert.EqualError(t, ValidateName("First name", "   "), "First name is required.")
	assert.EqualError(t, ValidateName("Last name", strings.Repeat("x", 51)), "Last name must be at most 50 characters.")
}

func TestValidateOTP(t *testing.T) {
	assert.NoError(t, ValidateOTP("123456"))
	assert.ErrorIs(t, ValidateOTP("12345"), ErrOTPFormat)
	assert.ErrorIs(t, ValidateOTP("12345a"), ErrOTPFormat)
	assert.ErrorIs(t, ValidateOTP("１２３４５６"), ErrOTPFormat)
}
