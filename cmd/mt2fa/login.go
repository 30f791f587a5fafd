package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/mt2fa/internal/adapter/driven/playwright"
	"github.com/ericfisherdev/mt2fa/internal/adapter/driven/totp"
	"github.com/ericfisherdev/mt2fa/internal/application"
	"github.com/ericfisherdev/mt2fa/internal/config"
	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// errLoginFailed makes the process exit 1 after a failed attempt.
var errLoginFailed = errors.New("login failed")

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run one login attempt configured by BOT_* environment variables",
	Long: `Run a single login attempt without the database. The account is read
from BOT_USERNAME, BOT_PASSWORD, BOT_TOTP_SECRET, BOT_LOGIN_URL,
BOT_TARGET_URL and the optional BOT_* selector and profile variables.
Exits 0 when the session is valid afterwards and 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runLogin(cmd.Context(), cmd.OutOrStdout())
	},
}

func runLogin(parent context.Context, out io.Writer) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	bot, err := config.LoadBot()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	driver := playwright.NewDriver(playwright.Options{Install: cfg.InstallBrowsers}, logger)
	defer func() { _ = driver.Stop() }()

	svc := application.NewLoginService(driver, totp.Generator{}, logger)
	res := svc.Attempt(ctx, botLoginConfig(bot))
	if res.CaptureErr != nil {
		logger.Warn("failure artifacts incomplete", "error", res.CaptureErr)
	}

	reportLogin(out, res)
	if !res.OK {
		return errLoginFailed
	}
	return nil
}

// botLoginConfig resolves a BotConfig into a LoginConfig with absolute
// artifact paths.
func botLoginConfig(bot *config.BotConfig) application.LoginConfig {
	userAgent := bot.UserAgent
	if strings.TrimSpace(userAgent) == "" {
		userAgent = model.DefaultUserAgent
	}

	return application.LoginConfig{
		Username:            bot.Username,
		Password:            bot.Password,
		TOTPSecret:          bot.TOTPSecret,
		LoginURL:            bot.LoginURL,
		TargetURL:           bot.TargetURL,
		UsernameSelector:    bot.UsernameSelector,
		PasswordSelector:    bot.PasswordSelector,
		SubmitSelector:      bot.SubmitSelector,
		OTPSelector:         bot.OTPSelector,
		OTPSubmitSelector:   bot.OTPSubmitSelector,
		LoggedInSelector:    bot.LoggedInSelector,
		StatePath:           absPath(bot.StatePath),
		ScreenshotPath:      absPath(bot.ScreenshotPath),
		ErrorScreenshotPath: absPath(bot.ErrorScreenshotPath),
		UserAgent:           userAgent,
		TimezoneID:          bot.TimezoneID,
		Headless:            bot.Headless,
		StartJitter:         time.Duration(bot.StartJitterSeconds) * time.Second,
		NavTimeout:          time.Duration(bot.NavTimeoutMS) * time.Millisecond,
	}
}

func reportLogin(out io.Writer, res application.LoginResult) {
	if res.OK {
		fmt.Fprintf(out, "%s\n", res.Message)
		if res.FinalURL != "" {
			fmt.Fprintf(out, "final url: %s\n", res.FinalURL)
		}
		if res.StatePath != "" {
			fmt.Fprintf(out, "state saved: %s\n", res.StatePath)
		}
		return
	}

	fmt.Fprintf(out, "login failed: %s\n", res.Message)
	if res.ErrorScreenshotPath != "" {
		fmt.Fprintf(out, "error screenshot: %s\n", res.ErrorScreenshotPath)
	}
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
