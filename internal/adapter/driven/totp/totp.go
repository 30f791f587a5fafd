// Package totp generates RFC 6238 one-time codes.
package totp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// ErrEmptySecret is returned when a secret normalizes to nothing.
var ErrEmptySecret = errors.New("totp secret is empty")

// Compile-time interface satisfaction check.
var _ driven.OTPGenerator = Generator{}

// Generator produces 6-digit SHA1 codes with a 30 second period, the
// parameters authenticator apps use by default. A secret given as an
// otpauth:// URI carries its own parameters.
type Generator struct{}

// Code returns the code valid at the given instant.
func (Generator) Code(secret string, at time.Time) (string, error) {
	opts := totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	if strings.HasPrefix(strings.TrimSpace(secret), "otpauth://") {
		key, err := otp.NewKeyFromURL(strings.TrimSpace(secret))
		if err != nil {
			return "", fmt.Errorf("parse otpauth uri: %w", err)
		}
		secret = key.Secret()
		if p := key.Period(); p > 0 {
			opts.Period = uint(p)
		}
		if d := key.Digits(); d > 0 {
			opts.Digits = d
		}
		opts.Algorithm = key.Algorithm()
	}

	normalized := NormalizeSecret(secret)
	if normalized == "" {
		return "", ErrEmptySecret
	}

	code, err := totp.GenerateCodeCustom(normalized, at, opts)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return code, nil
}

// NormalizeSecret strips the spaces and dashes authenticator exports use to
// group base32 secrets, removes padding, and upper-cases the result.
func NormalizeSecret(secret string) string {
	secret = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '=':
			return -1
		}
		return r
	}, secret)
	return strings.ToUpper(secret)
}
