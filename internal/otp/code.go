package otp

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	codeMin = 100_000
	codeMax = 999_999
)

var codeSpan = big.NewInt(codeMax - codeMin + 1)

// GenerateCode returns a uniformly random six-digit code in
// [100000, 999999]. The range is fixed so codes never need zero padding.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
