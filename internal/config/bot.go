package config

import (
	"fmt"
	"strings"
)

// BotConfig is the single-account configuration read by `mt2fa login` from
// BOT_* variables.
type BotConfig struct {
	Username   string
	Password   string
	TOTPSecret string
	LoginURL   string
	TargetURL  string

	UsernameSelector  string
	PasswordSelector  string
	SubmitSelector    string
	OTPSelector       string
	OTPSubmitSelector string
	LoggedInSelector  string

	StatePath           string
	ScreenshotPath      string
	ErrorScreenshotPath string

	UserAgent          string
	TimezoneID         string
	Headless           bool
	StartJitterSeconds int
	NavTimeoutMS       int
}

// LoadBot reads BOT_* variables. BOT_USERNAME, BOT_PASSWORD,
// BOT_TOTP_SECRET, BOT_LOGIN_URL and BOT_TARGET_URL are required; the
// error names every missing one.
func LoadBot() (*BotConfig, error) {
	cfg := &BotConfig{
		Username:   envOr("BOT_USERNAME", ""),
		Password:   envOr("BOT_PASSWORD", ""),
		TOTPSecret: envOr("BOT_TOTP_SECRET", ""),
		LoginURL:   envOr("BOT_LOGIN_URL", ""),
		TargetURL:  envOr("BOT_TARGET_URL", ""),

		UsernameSelector:  envOr("BOT_USERNAME_SELECTOR", `input[name="username"]`),
		PasswordSelector:  envOr("BOT_PASSWORD_SELECTOR", `input[name="password"]`),
		SubmitSelector:    envOr("BOT_SUBMIT_SELECTOR", `button[type="submit"]`),
		OTPSelector:       envOr("BOT_OTP_SELECTOR", ""),
		OTPSubmitSelector: envOr("BOT_OTP_SUBMIT_SELECTOR", ""),
		LoggedInSelector:  envOr("BOT_LOGGED_IN_SELECTOR", ""),

		StatePath:           envOr("BOT_STATE_PATH", "state.json"),
		ScreenshotPath:      envOr("BOT_SCREENSHOT_PATH", "screenshot.png"),
		ErrorScreenshotPath: envOr("BOT_ERROR_SCREENSHOT_PATH", "error.png"),

		UserAgent:  envOr("BOT_USER_AGENT", ""),
		TimezoneID: envOr("BOT_TIMEZONE_ID", "Asia/Shanghai"),
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"BOT_USERNAME", cfg.Username},
		{"BOT_PASSWORD", cfg.Password},
		{"BOT_TOTP_SECRET", cfg.TOTPSecret},
		{"BOT_LOGIN_URL", cfg.LoginURL},
		{"BOT_TARGET_URL", cfg.TargetURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.Headless, err = envBool("BOT_HEADLESS", true); err != nil {
		return nil, err
	}
	if cfg.StartJitterSeconds, err = envInt("BOT_START_JITTER_SECONDS", 0); err != nil {
		return nil, err
	}
	if cfg.NavTimeoutMS, err = envInt("BOT_NAV_TIMEOUT_MS", 60_000); err != nil {
		return nil, err
	}

	return cfg, nil
}
