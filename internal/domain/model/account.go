package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default selectors and browser profile applied to accounts that leave them blank.
const (
	DefaultUsernameSelector = `input[name="username"]`
	DefaultPasswordSelector = `input[name="password"]`
	DefaultSubmitSelector   = `button[type="submit"]`
	DefaultUserAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimezoneID       = "Asia/Shanghai"
	DefaultNavTimeoutMS     = 60_000
	DefaultIntervalMinutes  = 24 * 60
)

// ErrInvalidAccount is returned when an account is missing required fields.
var ErrInvalidAccount = errors.New("invalid account")

// Account is a website login kept alive by the scheduler. PasswordEnc and
// TOTPSecretEnc hold vault ciphertext; plaintext never lives on this struct.
type Account struct {
	ID        int64
	Name      string
	LoginURL  string
	TargetURL string
	Username  string

	PasswordEnc   string
	TOTPSecretEnc string

	UsernameSelector  string
	PasswordSelector  string
	SubmitSelector    string
	OTPSelector       string // Empty means detect heuristically.
	OTPSubmitSelector string // Empty means press Enter.
	LoggedInSelector  string // Empty means no positive logged-in marker.

	Enabled            bool
	IntervalMinutes    int
	StartJitterSeconds int

	UserAgent    string
	TimezoneID   string
	NavTimeoutMS int
	Headless     bool

	LastRunAt   *time.Time
	NextRunAt   *time.Time // Nil until the scheduler bootstraps the account.
	LastStatus  AccountStatus
	LastMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApplyDefaults fills blank selectors and profile fields with their defaults.
func (a *Account) ApplyDefaults() {
	a.UsernameSelector = orDefault(a.UsernameSelector, DefaultUsernameSelector)
	a.PasswordSelector = orDefault(a.PasswordSelector, DefaultPasswordSelector)
	a.SubmitSelector = orDefault(a.SubmitSelector, DefaultSubmitSelector)
	a.UserAgent = orDefault(a.UserAgent, DefaultUserAgent)
	a.TimezoneID = orDefault(a.TimezoneID, DefaultTimezoneID)
	a.OTPSelector = strings.TrimSpace(a.OTPSelector)
	a.OTPSubmitSelector = strings.TrimSpace(a.OTPSubmitSelector)
	a.LoggedInSelector = strings.TrimSpace(a.LoggedInSelector)
	if a.NavTimeoutMS <= 0 {
		a.NavTimeoutMS = DefaultNavTimeoutMS
	}
	if a.IntervalMinutes <= 0 {
		a.IntervalMinutes = DefaultIntervalMinutes
	}
	if a.StartJitterSeconds < 0 {
		a.StartJitterSeconds = 0
	}
	if a.LastStatus == "" {
		a.LastStatus = AccountStatusNever
	}
}

// Validate reports missing required fields. The returned error wraps
// ErrInvalidAccount and names every missing field.
func (a *Account) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"name", a.Name},
		{"login_url", a.LoginURL},
		{"target_url", a.TargetURL},
		{"username", a.Username},
		{"password", a.PasswordEnc},
		{"totp_secret", a.TOTPSecretEnc},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAccount, strings.Join(missing, ", "))
	}
	return nil
}

// Interval returns the run interval, never shorter than one minute.
func (a *Account) Interval() time.Duration {
	return time.Duration(max(1, a.IntervalMinutes)) * time.Minute
}

// NavTimeout returns the navigation timeout as a duration.
func (a *Account) NavTimeout() time.Duration {
	return time.Duration(a.NavTimeoutMS) * time.Millisecond
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}
