// Package accountfile keeps the account table in step with a YAML file.
package accountfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// Document is the top level of an accounts file.
type Document struct {
	Accounts []Entry `yaml:"accounts"`
}

// Entry is one account as written by the operator. Password and TOTPSecret
// are plaintext here and encrypted before they reach the store.
type Entry struct {
	Name       string `yaml:"name"`
	LoginURL   string `yaml:"login_url"`
	TargetURL  string `yaml:"target_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`

	UsernameSelector  string `yaml:"username_selector"`
	PasswordSelector  string `yaml:"password_selector"`
	SubmitSelector    string `yaml:"submit_selector"`
	OTPSelector       string `yaml:"otp_selector"`
	OTPSubmitSelector string `yaml:"otp_submit_selector"`
	LoggedInSelector  string `yaml:"logged_in_selector"`

	Enabled            *bool  `yaml:"enabled"`
	IntervalMinutes    int    `yaml:"interval_minutes"`
	StartJitterSeconds int    `yaml:"start_jitter_seconds"`
	UserAgent          string `yaml:"user_agent"`
	TimezoneID         string `yaml:"timezone_id"`
	NavTimeoutMS       int    `yaml:"nav_timeout_ms"`
	Headless           *bool  `yaml:"headless"`
}

// Load reads and decodes an accounts file. Unknown keys are rejected so a
// misspelled selector does not silently fall back to its default. An empty
// file decodes to an empty document.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode parses an accounts document from r.
func Decode(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return &doc, nil
}

// account converts the entry into an account with the given ciphertexts and
// defaults applied.
func (e Entry) account(passwordEnc, secretEnc string) model.Account {
	acc := model.Account{
		Name:               e.Name,
		LoginURL:           e.LoginURL,
		TargetURL:          e.TargetURL,
		Username:           e.Username,
		PasswordEnc:        passwordEnc,
		TOTPSecretEnc:      secretEnc,
		UsernameSelector:   e.UsernameSelector,
		PasswordSelector:   e.PasswordSelector,
		SubmitSelector:     e.SubmitSelector,
		OTPSelector:        e.OTPSelector,
		OTPSubmitSelector:  e.OTPSubmitSelector,
		LoggedInSelector:   e.LoggedInSelector,
		Enabled:            boolOr(e.Enabled, true),
		IntervalMinutes:    e.IntervalMinutes,
		StartJitterSeconds: e.StartJitterSeconds,
		UserAgent:          e.UserAgent,
		TimezoneID:         e.TimezoneID,
		NavTimeoutMS:       e.NavTimeoutMS,
		Headless:           boolOr(e.Headless, true),
	}
	acc.ApplyDefaults()
	return acc
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
