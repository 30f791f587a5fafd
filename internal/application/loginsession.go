package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// Sentinel errors produced by a login attempt.
var (
	// ErrInvalidConfig wraps a LoginConfig that is missing required fields.
	ErrInvalidConfig = errors.New("invalid login config")

	// ErrStillLoggedOut is returned when the full login flow completed but the
	// target page still looks logged out.
	ErrStillLoggedOut = errors.New("login completed but still looks logged out; check selectors or captcha/2FA flow")
)

const (
	// failureNavCeiling caps the fallback navigation used for error screenshots.
	failureNavCeiling = 30 * time.Second

	settleMin = 2 * time.Second
	settleMax = 5 * time.Second

	defaultLocale  = "zh-CN"
	viewportWidth  = 1280
	viewportHeight = 800
)

// LoginConfig is a fully resolved, plaintext configuration for one attempt.
type LoginConfig struct {
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

	// Absolute artifact paths.
	StatePath           string
	ScreenshotPath      string
	ErrorScreenshotPath string

	UserAgent   string
	TimezoneID  string
	Headless    bool
	StartJitter time.Duration
	NavTimeout  time.Duration
}

// Validate reports missing required fields, wrapping ErrInvalidConfig.
func (c LoginConfig) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"username", c.Username},
		{"password", c.Password},
		{"totp_secret", c.TOTPSecret},
		{"login_url", c.LoginURL},
		{"target_url", c.TargetURL},
		{"username_selector", c.UsernameSelector},
		{"password_selector", c.PasswordSelector},
		{"submit_selector", c.SubmitSelector},
		{"state_path", c.StatePath},
		{"screenshot_path", c.ScreenshotPath},
		{"error_screenshot_path", c.ErrorScreenshotPath},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// LoginState is a node of the single-attempt login state machine.
type LoginState int

const (
	StateInit LoginState = iota
	StateCheckTarget
	StateLoggedIn
	StateNeedsLogin
	StateFillCredentials
	StateSubmitCredentials
	StateDetectOTP
	StateFillOTP
	StateSubmitOTP
	StatePostLogin
	StateVerifyLoggedIn
	StateSuccess
	StateFailure
)

// String returns the state name used in logs.
func (s LoginState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCheckTarget:
		return "check_target"
	case StateLoggedIn:
		return "logged_in"
	case StateNeedsLogin:
		return "needs_login"
	case StateFillCredentials:
		return "fill_credentials"
	case StateSubmitCredentials:
		return "submit_credentials"
	case StateDetectOTP:
		return "detect_otp"
	case StateFillOTP:
		return "fill_otp"
	case StateSubmitOTP:
		return "submit_otp"
	case StatePostLogin:
		return "post_login"
	case StateVerifyLoggedIn:
		return "verify_logged_in"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

func (s LoginState) terminal() bool {
	return s == StateLoggedIn || s == StateSuccess || s == StateFailure
}

// LoginResult is the outcome of one attempt. OK=false always carries a
// non-empty Message. CaptureErr holds failures of the best-effort error
// artifacts; it never affects OK or Message.
type LoginResult struct {
	OK                  bool
	Message             string
	FinalURL            string
	StatePath           string
	ScreenshotPath      string
	ErrorScreenshotPath string
	States              []LoginState
	CaptureErr          error
}

// LoginService performs login attempts through a BrowserDriver.
type LoginService struct {
	driver driven.BrowserDriver
	otp    driven.OTPGenerator
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// LoginOption customizes a LoginService.
type LoginOption func(*LoginService)

// WithLoginClock overrides the clock used for TOTP codes.
func WithLoginClock(now func() time.Time) LoginOption {
	return func(s *LoginService) { s.now = now }
}

// WithLoginSleep overrides how the service waits for start jitter and the
// pre-screenshot settle delay.
func WithLoginSleep(sleep func(ctx context.Context, d time.Duration) error) LoginOption {
	return func(s *LoginService) { s.sleep = sleep }
}

// NewLoginService creates a LoginService.
func NewLoginService(driver driven.BrowserDriver, otp driven.OTPGenerator, logger *slog.Logger, opts ...LoginOption) *LoginService {
	s := &LoginService{
		driver: driver,
		otp:    otp,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attempt drives one login attempt to a terminal state. It never returns an
// error; failures are reported through the result.
func (s *LoginService) Attempt(ctx context.Context, cfg LoginConfig) LoginResult {
	a := &attempt{svc: s, cfg: cfg, ctx: ctx}
	defer a.close()

	if err := cfg.Validate(); err != nil {
		a.states = []LoginState{StateFailure}
		return a.result(false, err.Error())
	}

	state := StateInit
	for !state.terminal() {
		a.states = append(a.states, state)
		next, err := a.step(state)
		if err != nil {
			return a.fail(err)
		}
		s.logger.Debug("login state transition", "from", state, "to", next, "target", cfg.TargetURL)
		state = next
	}
	a.states = append(a.states, state)

	if err := a.captureSuccess(); err != nil {
		return a.fail(err)
	}

	message := "ok"
	if state == StateLoggedIn {
		message = "ok: session still valid"
	}
	return a.result(true, message)
}

// attempt holds the browser handles of one in-flight login.
type attempt struct {
	svc         *LoginService
	cfg         LoginConfig
	ctx         context.Context
	session     driven.BrowserSession
	page        driven.Page
	otpSelector string
	states      []LoginState
	finalURL    string
	captureErr  error
}

func (a *attempt) step(state LoginState) (LoginState, error) {
	switch state {
	case StateInit:
		return StateCheckTarget, a.launch()

	case StateCheckTarget:
		if err := a.page.Goto(a.cfg.TargetURL, driven.WaitNetworkIdle, a.cfg.NavTimeout); err != nil {
			return StateFailure, fmt.Errorf("open target: %w", err)
		}
		loggedOut, err := a.looksLoggedOut()
		if err != nil {
			return StateFailure, err
		}
		if !loggedOut {
			return StateLoggedIn, nil
		}
		return StateNeedsLogin, nil

	case StateNeedsLogin:
		if err := a.page.Goto(a.cfg.LoginURL, driven.WaitDOMContentLoaded, a.cfg.NavTimeout); err != nil {
			return StateFailure, fmt.Errorf("open login page: %w", err)
		}
		return StateFillCredentials, nil

	case StateFillCredentials:
		if err := a.page.Fill(a.cfg.UsernameSelector, a.cfg.Username); err != nil {
			return StateFailure, fmt.Errorf("fill username: %w", err)
		}
		if err := a.page.Fill(a.cfg.PasswordSelector, a.cfg.Password); err != nil {
			return StateFailure, fmt.Errorf("fill password: %w", err)
		}
		return StateSubmitCredentials, nil

	case StateSubmitCredentials:
		if err := a.page.Click(a.cfg.SubmitSelector); err != nil {
			return StateFailure, fmt.Errorf("submit credentials: %w", err)
		}
		if err := a.page.WaitForLoadState(driven.WaitNetworkIdle); err != nil {
			return StateFailure, fmt.Errorf("wait after credentials: %w", err)
		}
		return StateDetectOTP, nil

	case StateDetectOTP:
		selector, err := a.resolveOTPSelector()
		if err != nil {
			return StateFailure, err
		}
		if selector == "" {
			return StatePostLogin, nil
		}
		a.otpSelector = selector
		return StateFillOTP, nil

	case StateFillOTP:
		code, err := a.svc.otp.Code(a.cfg.TOTPSecret, a.svc.now())
		if err != nil {
			return StateFailure, fmt.Errorf("generate totp code: %w", err)
		}
		if err := a.page.Fill(a.otpSelector, code); err != nil {
			return StateFailure, fmt.Errorf("fill otp: %w", err)
		}
		return StateSubmitOTP, nil

	case StateSubmitOTP:
		if err := a.submitOTP(); err != nil {
			return StateFailure, err
		}
		if err := a.page.WaitForLoadState(driven.WaitNetworkIdle); err != nil {
			return StateFailure, fmt.Errorf("wait after otp: %w", err)
		}
		return StatePostLogin, nil

	case StatePostLogin:
		if err := a.page.Goto(a.cfg.TargetURL, driven.WaitNetworkIdle, a.cfg.NavTimeout); err != nil {
			return StateFailure, fmt.Errorf("reopen target: %w", err)
		}
		return StateVerifyLoggedIn, nil

	case StateVerifyLoggedIn:
		loggedOut, err := a.looksLoggedOut()
		if err != nil {
			return StateFailure, err
		}
		if loggedOut {
			return StateFailure, ErrStillLoggedOut
		}
		return StateSuccess, nil
	}

	return StateFailure, fmt.Errorf("unexpected login state %s", state)
}

func (a *attempt) launch() error {
	if a.cfg.StartJitter > 0 {
		jitter := time.Duration(rand.Int64N(int64(a.cfg.StartJitter/time.Second)+1)) * time.Second
		if err := a.svc.sleep(a.ctx, jitter); err != nil {
			return fmt.Errorf("start jitter: %w", err)
		}
	}

	for _, p := range []string{a.cfg.StatePath, a.cfg.ScreenshotPath, a.cfg.ErrorScreenshotPath} {
		if err := ensureParentDir(p); err != nil {
			return err
		}
	}

	opts := a.launchOptions()
	if fileExists(a.cfg.StatePath) {
		opts.StorageStatePath = a.cfg.StatePath
	}

	session, err := a.svc.driver.Launch(a.ctx, opts)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	a.session = session

	page, err := session.NewPage()
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	page.SetDefaultTimeout(a.cfg.NavTimeout)
	a.page = page

	return nil
}

func (a *attempt) launchOptions() driven.LaunchOptions {
	return driven.LaunchOptions{
		Headless:       a.cfg.Headless,
		UserAgent:      a.cfg.UserAgent,
		TimezoneID:     a.cfg.TimezoneID,
		Locale:         defaultLocale,
		ViewportWidth:  viewportWidth,
		ViewportHeight: viewportHeight,
	}
}

// looksLoggedOut reports whether any logged-out signal fires on the current page.
func (a *attempt) looksLoggedOut() (bool, error) {
	if strings.Contains(strings.ToLower(a.page.URL()), "login") {
		return true, nil
	}

	for _, sel := range []string{a.cfg.PasswordSelector, a.cfg.UsernameSelector} {
		n, err := a.page.Count(sel)
		if err != nil {
			return false, fmt.Errorf("count %q: %w", sel, err)
		}
		if n > 0 {
			return true, nil
		}
	}

	if a.cfg.LoggedInSelector != "" {
		n, err := a.page.Count(a.cfg.LoggedInSelector)
		if err != nil {
			return false, fmt.Errorf("count %q: %w", a.cfg.LoggedInSelector, err)
		}
		return n == 0, nil
	}

	return false, nil
}

// resolveOTPSelector returns the configured OTP selector when it is present
// on the page, otherwise the detector's pick. Empty means no OTP step.
func (a *attempt) resolveOTPSelector() (string, error) {
	if a.cfg.OTPSelector != "" {
		n, err := a.page.Count(a.cfg.OTPSelector)
		if err != nil {
			return "", fmt.Errorf("count %q: %w", a.cfg.OTPSelector, err)
		}
		if n > 0 {
			return a.cfg.OTPSelector, nil
		}
	}

	elements, err := a.page.QueryElements("input")
	if err != nil {
		return "", fmt.Errorf("query inputs: %w", err)
	}

	selector, _ := DetectOTPSelector(elements)
	return selector, nil
}

func (a *attempt) submitOTP() error {
	if a.cfg.OTPSubmitSelector != "" {
		n, err := a.page.Count(a.cfg.OTPSubmitSelector)
		if err != nil {
			return fmt.Errorf("count %q: %w", a.cfg.OTPSubmitSelector, err)
		}
		if n > 0 {
			if err := a.page.Click(a.cfg.OTPSubmitSelector); err != nil {
				return fmt.Errorf("submit otp: %w", err)
			}
			return nil
		}
	}

	if err := a.page.Press("Enter"); err != nil {
		return fmt.Errorf("submit otp: %w", err)
	}
	return nil
}

// captureSuccess persists the session snapshot and the audit screenshot.
func (a *attempt) captureSuccess() error {
	if err := a.session.SaveStorageState(a.cfg.StatePath); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}

	settle := settleMin + rand.N(settleMax-settleMin)
	_ = a.svc.sleep(a.ctx, settle)

	if err := a.page.Screenshot(a.cfg.ScreenshotPath, true); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}

	a.finalURL = a.page.URL()
	return nil
}

// fail records err as the attempt outcome after best-effort error capture.
func (a *attempt) fail(err error) LoginResult {
	if n := len(a.states); n == 0 || a.states[n-1] != StateFailure {
		a.states = append(a.states, StateFailure)
	}

	message := err.Error()
	if message == "" {
		message = "login failed"
	}

	a.captureErr = a.captureFailure()
	if a.captureErr != nil {
		a.svc.logger.Warn("failure capture incomplete",
			"target", a.cfg.TargetURL,
			"error", a.captureErr,
			"login_error", message,
		)
	}

	return a.result(false, message)
}

// captureFailure saves whatever evidence is reachable. It never panics the
// caller and its error is reported separately from the login error.
func (a *attempt) captureFailure() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Join(err, fmt.Errorf("panic during failure capture: %v", v))
		}
	}()

	if a.page != nil {
		a.finalURL = a.page.URL()
		var errs []error
		if saveErr := a.session.SaveStorageState(a.cfg.StatePath); saveErr != nil {
			errs = append(errs, fmt.Errorf("save session state: %w", saveErr))
		}
		if shotErr := a.page.Screenshot(a.cfg.ErrorScreenshotPath, true); shotErr != nil {
			errs = append(errs, fmt.Errorf("error screenshot: %w", shotErr))
		}
		return errors.Join(errs...)
	}

	if a.session != nil {
		if saveErr := a.session.SaveStorageState(a.cfg.StatePath); saveErr != nil {
			err = fmt.Errorf("save session state: %w", saveErr)
		}
	}

	return errors.Join(err, a.captureFromThrowaway())
}

// captureFromThrowaway opens a clean context only to screenshot the target
// when the attempt failed before a page existed.
func (a *attempt) captureFromThrowaway() error {
	if a.cfg.ErrorScreenshotPath == "" || a.cfg.TargetURL == "" {
		return nil
	}

	opts := a.launchOptions()
	opts.Headless = true
	session, err := a.svc.driver.Launch(a.ctx, opts)
	if err != nil {
		return fmt.Errorf("launch fallback browser: %w", err)
	}
	defer func() { _ = session.Close() }()

	page, err := session.NewPage()
	if err != nil {
		return fmt.Errorf("open fallback page: %w", err)
	}

	timeout := failureNavCeiling
	if a.cfg.NavTimeout > 0 {
		timeout = min(a.cfg.NavTimeout, failureNavCeiling)
	}
	if err := page.Goto(a.cfg.TargetURL, driven.WaitDOMContentLoaded, timeout); err != nil {
		return fmt.Errorf("fallback navigation: %w", err)
	}
	a.finalURL = page.URL()

	if err := page.Screenshot(a.cfg.ErrorScreenshotPath, true); err != nil {
		return fmt.Errorf("fallback screenshot: %w", err)
	}
	return nil
}

func (a *attempt) result(ok bool, message string) LoginResult {
	return LoginResult{
		OK:                  ok,
		Message:             message,
		FinalURL:            a.finalURL,
		StatePath:           a.cfg.StatePath,
		ScreenshotPath:      a.cfg.ScreenshotPath,
		ErrorScreenshotPath: a.cfg.ErrorScreenshotPath,
		States:              a.states,
		CaptureErr:          a.captureErr,
	}
}

func (a *attempt) close() {
	if a.session == nil {
		return
	}
	if err := a.session.Close(); err != nil {
		a.svc.logger.Debug("close browser session", "error", err)
	}
}

func ensureParentDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
