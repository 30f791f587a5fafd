package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// fakeSite simulates a website with a credential form, an optional OTP form
// and a protected target page. It records every page interaction.
type fakeSite struct {
	mu sync.Mutex

	loginURL  string
	targetURL string

	username string
	password string
	otpCode  string

	// otpInputs is served on the OTP step; nil disables the second factor.
	otpInputs []model.ElementDescriptor
	// otpSubmitPresent controls whether the explicit OTP submit button exists.
	otpSubmitPresent bool
	// snapshotValid makes a loaded storage state count as authenticated.
	snapshotValid bool
	// neverAuthenticates simulates a captcha or broken selectors.
	neverAuthenticates bool

	launchErr     error
	launchErrOnce bool
	gotoErr       error
	screenshotErr error

	authenticated bool
	stage         string // "", "credentials", "otp"
	url           string
	filled        map[string]string

	launches     []driven.LaunchOptions
	fills        []string
	clicks       []string
	presses      []string
	screenshots  []string
	gotoTimeouts []time.Duration
	savedStates  []string
	closed       int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		loginURL:  "https://example.test/login",
		targetURL: "https://example.test/dashboard",
		username:  "alice",
		password:  "s3cret",
		otpCode:   "123456",
		filled:    map[string]string{},
	}
}

func (s *fakeSite) Launch(_ context.Context, opts driven.LaunchOptions) (driven.BrowserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.launches = append(s.launches, opts)
	if s.launchErr != nil {
		err := s.launchErr
		if s.launchErrOnce {
			s.launchErr = nil
		}
		return nil, err
	}

	if opts.StorageStatePath != "" && s.snapshotValid {
		s.authenticated = true
	}
	return &fakeSession{site: s}, nil
}

type fakeSession struct {
	site *fakeSite
}

func (f *fakeSession) NewPage() (driven.Page, error) {
	return &fakePage{site: f.site}, nil
}

func (f *fakeSession) SaveStorageState(path string) error {
	f.site.mu.Lock()
	f.site.savedStates = append(f.site.savedStates, path)
	f.site.mu.Unlock()
	return writeArtifact(path)
}

func (f *fakeSession) Close() error {
	f.site.mu.Lock()
	f.site.closed++
	f.site.mu.Unlock()
	return nil
}

type fakePage struct {
	site *fakeSite
}

func (p *fakePage) SetDefaultTimeout(time.Duration) {}

func (p *fakePage) Goto(url string, _ driven.WaitUntil, timeout time.Duration) error {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gotoTimeouts = append(s.gotoTimeouts, timeout)
	if s.gotoErr != nil {
		return s.gotoErr
	}

	switch {
	case url == s.loginURL:
		s.url = s.loginURL
		s.stage = "credentials"
	case s.authenticated:
		s.url = url
		s.stage = ""
	default:
		s.url = s.loginURL + "?next=dashboard"
		s.stage = "credentials"
	}
	return nil
}

func (p *fakePage) WaitForLoadState(driven.WaitUntil) error { return nil }

func (p *fakePage) URL() string {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.site.url
}

func (p *fakePage) Title() (string, error) { return "fake", nil }

func (p *fakePage) Fill(selector, text string) error {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills = append(s.fills, selector)
	s.filled[selector] = text
	return nil
}

func (p *fakePage) Click(selector string) error {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clicks = append(s.clicks, selector)
	switch {
	case s.stage == "credentials" && selector == model.DefaultSubmitSelector:
		s.submitCredentials()
	case s.stage == "otp" && selector == "#otp-submit":
		s.submitOTP()
	}
	return nil
}

func (p *fakePage) Press(key string) error {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presses = append(s.presses, key)
	if key == "Enter" && s.stage == "otp" {
		s.submitOTP()
	}
	return nil
}

// submitCredentials must be called with mu held.
func (s *fakeSite) submitCredentials() {
	if s.filled[model.DefaultUsernameSelector] != s.username || s.filled[model.DefaultPasswordSelector] != s.password {
		return
	}
	if s.otpInputs != nil {
		s.stage = "otp"
		s.url = "https://example.test/challenge"
		return
	}
	s.stage = ""
	s.url = "https://example.test/home"
	s.authenticated = !s.neverAuthenticates
}

// submitOTP must be called with mu held.
func (s *fakeSite) submitOTP() {
	for _, v := range s.filled {
		if v == s.otpCode {
			s.stage = ""
			s.url = "https://example.test/home"
			s.authenticated = !s.neverAuthenticates
			return
		}
	}
}

func (p *fakePage) Count(selector string) (int, error) {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case "credentials":
		if selector == model.DefaultUsernameSelector || selector == model.DefaultPasswordSelector {
			return 1, nil
		}
	case "otp":
		if selector == "#otp-submit" && s.otpSubmitPresent {
			return 1, nil
		}
		for _, el := range s.otpInputs {
			if el.ID != "" && selector == "#"+el.ID {
				return 1, nil
			}
		}
	case "":
		if s.authenticated && selector == "#account-menu" {
			return 1, nil
		}
	}
	return 0, nil
}

func (p *fakePage) QueryElements(string) ([]model.ElementDescriptor, error) {
	s := p.site
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == "otp" {
		return s.otpInputs, nil
	}
	return nil, nil
}

func (p *fakePage) Screenshot(path string, _ bool) error {
	s := p.site
	s.mu.Lock()
	s.screenshots = append(s.screenshots, path)
	err := s.screenshotErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return writeArtifact(path)
}

func writeArtifact(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("artifact"), 0o600)
}

type fakeOTP struct {
	code string
	err  error
}

func (f fakeOTP) Code(_ string, _ time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.code, nil
}

var errDriverCrashed = errors.New("browser crashed")
