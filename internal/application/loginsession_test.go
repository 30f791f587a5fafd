package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLoginService returns a service that records requested sleeps
// instead of sleeping.
func newTestLoginService(site *fakeSite, otp driven.OTPGenerator) (*LoginService, *[]time.Duration) {
	var sleeps []time.Duration
	svc := NewLoginService(site, otp, discardLogger(),
		WithLoginClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
		WithLoginSleep(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)
	return svc, &sleeps
}

func newLoginConfig(t *testing.T, site *fakeSite) LoginConfig {
	t.Helper()
	dir := t.TempDir()
	return LoginConfig{
		Username:            site.username,
		Password:            site.password,
		TOTPSecret:          "JBSWY3DPEHPK3PXP",
		LoginURL:            site.loginURL,
		TargetURL:           site.targetURL,
		UsernameSelector:    model.DefaultUsernameSelector,
		PasswordSelector:    model.DefaultPasswordSelector,
		SubmitSelector:      model.DefaultSubmitSelector,
		StatePath:           filepath.Join(dir, "state", "1", "state.json"),
		ScreenshotPath:      filepath.Join(dir, "screenshots", "1", "20240101T000000Z.png"),
		ErrorScreenshotPath: filepath.Join(dir, "screenshots", "1", "20240101T000000Z.error.png"),
		UserAgent:           model.DefaultUserAgent,
		TimezoneID:          model.DefaultTimezoneID,
		Headless:            true,
		NavTimeout:          60 * time.Second,
	}
}

func TestAttempt_SessionReuseSkipsCredentials(t *testing.T) {
	site := newFakeSite()
	site.snapshotValid = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	require.NoError(t, writeArtifact(cfg.StatePath))

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Equal(t, []LoginState{StateInit, StateCheckTarget, StateLoggedIn}, res.States)
	assert.Empty(t, site.fills, "no credential selector may be filled")
	assert.Empty(t, site.clicks, "no credential selector may be clicked")
	assert.Equal(t, cfg.StatePath, site.launches[0].StorageStatePath)
	assert.Equal(t, site.targetURL, res.FinalURL)
	assert.FileExists(t, cfg.ScreenshotPath)
	assert.NoFileExists(t, cfg.ErrorScreenshotPath)
	assert.Equal(t, 1, site.closed)
}

func TestAttempt_NoSnapshotDoesNotLoadState(t *testing.T) {
	site := newFakeSite()
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Empty(t, site.launches[0].StorageStatePath)
	assert.Equal(t, "zh-CN", site.launches[0].Locale)
	assert.Equal(t, 1280, site.launches[0].ViewportWidth)
}

func TestAttempt_CredentialsWithoutSecondFactor(t *testing.T) {
	site := newFakeSite()
	svc, sleeps := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Equal(t, "ok", res.Message)
	assert.Equal(t, []LoginState{
		StateInit, StateCheckTarget, StateNeedsLogin, StateFillCredentials,
		StateSubmitCredentials, StateDetectOTP, StatePostLogin, StateVerifyLoggedIn, StateSuccess,
	}, res.States)
	assert.Equal(t, []string{model.DefaultUsernameSelector, model.DefaultPasswordSelector}, site.fills)
	assert.FileExists(t, cfg.StatePath)
	assert.FileExists(t, cfg.ScreenshotPath)

	require.Len(t, *sleeps, 1, "only the settle delay before the screenshot")
	assert.GreaterOrEqual(t, (*sleeps)[0], 2*time.Second)
	assert.Less(t, (*sleeps)[0], 5*time.Second)
}

func TestAttempt_DetectedOTPSubmittedWithEnter(t *testing.T) {
	site := newFakeSite()
	site.otpInputs = []model.ElementDescriptor{
		{Tag: "input", Name: "password", Type: "password"},
		{Tag: "input", Name: "otp_code", Type: "text", MaxLength: "6"},
	}
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Equal(t, site.otpCode, site.filled[`input[name="otp_code"]`])
	assert.Equal(t, []string{"Enter"}, site.presses)
	assert.Contains(t, res.States, StateFillOTP)
	assert.Contains(t, res.States, StateSubmitOTP)
}

func TestAttempt_ExplicitOTPSelectorAndSubmit(t *testing.T) {
	site := newFakeSite()
	site.otpInputs = []model.ElementDescriptor{
		{Tag: "input", ID: "second-factor", Type: "tel"},
	}
	site.otpSubmitPresent = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.OTPSelector = "#second-factor"
	cfg.OTPSubmitSelector = "#otp-submit"

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Equal(t, site.otpCode, site.filled["#second-factor"])
	assert.Contains(t, site.clicks, "#otp-submit")
	assert.Empty(t, site.presses)
}

func TestAttempt_MissingOTPSubmitFallsBackToEnter(t *testing.T) {
	site := newFakeSite()
	site.otpInputs = []model.ElementDescriptor{{Tag: "input", ID: "totp"}}
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.OTPSubmitSelector = "#otp-submit"

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Equal(t, []string{"Enter"}, site.presses)
}

func TestAttempt_StillLoggedOutFails(t *testing.T) {
	site := newFakeSite()
	site.neverAuthenticates = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Equal(t, ErrStillLoggedOut.Error(), res.Message)
	assert.Equal(t, StateFailure, res.States[len(res.States)-1])
	assert.Contains(t, res.States, StateVerifyLoggedIn)
	assert.FileExists(t, cfg.ErrorScreenshotPath)
	assert.FileExists(t, cfg.StatePath, "snapshot is overwritten on failure too")
	assert.NoFileExists(t, cfg.ScreenshotPath)
	assert.NotEmpty(t, res.FinalURL)
	assert.NoError(t, res.CaptureErr)
}

func TestAttempt_LoggedInSelectorMissingMeansLoggedOut(t *testing.T) {
	site := newFakeSite()
	site.snapshotValid = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.LoggedInSelector = "#not-on-page"
	require.NoError(t, writeArtifact(cfg.StatePath))

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Contains(t, res.States, StateNeedsLogin)
	assert.Contains(t, res.Message, "still looks logged out")
}

func TestAttempt_LoggedInSelectorPresent(t *testing.T) {
	site := newFakeSite()
	site.snapshotValid = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.LoggedInSelector = "#account-menu"
	require.NoError(t, writeArtifact(cfg.StatePath))

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	assert.Equal(t, StateLoggedIn, res.States[len(res.States)-1])
}

func TestAttempt_LaunchFailureUsesThrowawayContext(t *testing.T) {
	site := newFakeSite()
	site.launchErr = errDriverCrashed
	site.launchErrOnce = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.NavTimeout = 90 * time.Second
	cfg.Headless = false

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "browser crashed")
	require.Len(t, site.launches, 2)
	assert.True(t, site.launches[1].Headless, "fallback context is always headless")
	assert.Empty(t, site.launches[1].StorageStatePath)
	assert.Equal(t, []time.Duration{30 * time.Second}, site.gotoTimeouts, "fallback navigation is capped")
	assert.FileExists(t, cfg.ErrorScreenshotPath)
	assert.NoError(t, res.CaptureErr)
}

func TestAttempt_FallbackUsesShorterConfiguredTimeout(t *testing.T) {
	site := newFakeSite()
	site.launchErr = errDriverCrashed
	site.launchErrOnce = true
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.NavTimeout = 10 * time.Second

	svc.Attempt(context.Background(), cfg)

	assert.Equal(t, []time.Duration{10 * time.Second}, site.gotoTimeouts)
}

func TestAttempt_CaptureFailureDoesNotMaskError(t *testing.T) {
	site := newFakeSite()
	site.launchErr = errDriverCrashed // fallback launch fails too
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Equal(t, "launch browser: browser crashed", res.Message)
	require.Error(t, res.CaptureErr)
	assert.ErrorIs(t, res.CaptureErr, errDriverCrashed)
	assert.NoFileExists(t, cfg.ErrorScreenshotPath)
}

func TestAttempt_NavigationErrorCapturesFromPage(t *testing.T) {
	site := newFakeSite()
	site.gotoErr = driven.ErrNavigationTimeout
	site.screenshotErr = errors.New("screenshot failed")
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "navigation timeout")
	assert.Len(t, site.launches, 1, "existing page is used for the error screenshot")
	assert.Equal(t, []string{cfg.ErrorScreenshotPath}, site.screenshots)
	assert.ErrorContains(t, res.CaptureErr, "screenshot failed")
}

func TestAttempt_OTPGeneratorError(t *testing.T) {
	site := newFakeSite()
	site.otpInputs = []model.ElementDescriptor{{Tag: "input", ID: "otp"}}
	svc, _ := newTestLoginService(site, fakeOTP{err: errors.New("bad base32")})
	cfg := newLoginConfig(t, site)

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Equal(t, "generate totp code: bad base32", res.Message)
}

func TestAttempt_InvalidConfigNeverLaunches(t *testing.T) {
	site := newFakeSite()
	svc, _ := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.TOTPSecret = ""
	cfg.LoginURL = " "

	res := svc.Attempt(context.Background(), cfg)

	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "login_url")
	assert.Contains(t, res.Message, "totp_secret")
	assert.Empty(t, site.launches)
}

func TestAttempt_StartJitterSleepsWithinBound(t *testing.T) {
	site := newFakeSite()
	svc, sleeps := newTestLoginService(site, fakeOTP{code: site.otpCode})
	cfg := newLoginConfig(t, site)
	cfg.StartJitter = 3 * time.Second

	res := svc.Attempt(context.Background(), cfg)

	require.True(t, res.OK, res.Message)
	require.Len(t, *sleeps, 2)
	assert.LessOrEqual(t, (*sleeps)[0], 3*time.Second)
	assert.Zero(t, (*sleeps)[0]%time.Second, "jitter is whole seconds")
}

func TestLoginState_String(t *testing.T) {
	assert.Equal(t, "check_target", StateCheckTarget.String())
	assert.Equal(t, "unknown", LoginState(99).String())
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "file.png")

	require.NoError(t, ensureParentDir(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
