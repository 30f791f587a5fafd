package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// ProbeOptions configures a one-off inspection of a login page.
type ProbeOptions struct {
	URL            string
	UserAgent      string
	Headless       bool
	Timeout        time.Duration
	ScreenshotPath string // Optional full-page screenshot.
}

// ProbedElement is an element plus the selector a login config would use.
type ProbedElement struct {
	Selector string `json:"selector"`
	model.ElementDescriptor
}

// ProbeReport lists what a page offers for automation and the selectors
// that look right for an account definition.
type ProbeReport struct {
	URL           string            `json:"url"`
	FinalURL      string            `json:"final_url"`
	Title         string            `json:"title"`
	Forms         []ProbedElement   `json:"forms"`
	Inputs        []ProbedElement   `json:"inputs"`
	Buttons       []ProbedElement   `json:"buttons"`
	OTPCandidates []OTPCandidate    `json:"otp_candidates"`
	Suggested     map[string]string `json:"suggested"`
}

// ProbeService inspects login pages through a BrowserDriver.
type ProbeService struct {
	driver driven.BrowserDriver
	logger *slog.Logger
}

// NewProbeService creates a ProbeService.
func NewProbeService(driver driven.BrowserDriver, logger *slog.Logger) *ProbeService {
	return &ProbeService{driver: driver, logger: logger}
}

// Probe loads opts.URL in a clean context and reports its forms, inputs and
// buttons along with suggested selectors.
func (s *ProbeService) Probe(ctx context.Context, opts ProbeOptions) (*ProbeReport, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidConfig)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = model.DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(model.DefaultNavTimeoutMS) * time.Millisecond
	}

	session, err := s.driver.Launch(ctx, driven.LaunchOptions{
		Headless:       opts.Headless,
		UserAgent:      opts.UserAgent,
		Locale:         defaultLocale,
		ViewportWidth:  viewportWidth,
		ViewportHeight: viewportHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() { _ = session.Close() }()

	page, err := session.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	if err := page.Goto(opts.URL, driven.WaitDOMContentLoaded, opts.Timeout); err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.URL, err)
	}
	if err := page.WaitForLoadState(driven.WaitNetworkIdle); err != nil {
		// Pages with long-polling never go idle; inspect what is there.
		s.logger.Warn("page did not reach network idle", "url", opts.URL, "error", err)
	}

	report := &ProbeReport{URL: opts.URL, FinalURL: page.URL()}
	if report.Title, err = page.Title(); err != nil {
		return nil, fmt.Errorf("read title: %w", err)
	}

	forms, err := page.QueryElements("form")
	if err != nil {
		return nil, err
	}
	inputs, err := page.QueryElements("input")
	if err != nil {
		return nil, err
	}
	buttons, err := page.QueryElements("button")
	if err != nil {
		return nil, err
	}

	report.Forms = probed(forms)
	report.Inputs = probed(inputs)
	report.Buttons = probed(buttons)
	report.OTPCandidates = RankOTPCandidates(inputs)
	report.Suggested = SuggestSelectors(inputs, buttons)

	if opts.ScreenshotPath != "" {
		if err := ensureParentDir(opts.ScreenshotPath); err != nil {
			return nil, err
		}
		if err := page.Screenshot(opts.ScreenshotPath, true); err != nil {
			s.logger.Warn("probe screenshot failed", "path", opts.ScreenshotPath, "error", err)
		}
	}

	s.logger.Info("page probed",
		"url", opts.URL,
		"final_url", report.FinalURL,
		"inputs", len(report.Inputs),
		"buttons", len(report.Buttons),
	)
	return report, nil
}

func probed(elements []model.ElementDescriptor) []ProbedElement {
	out := make([]ProbedElement, 0, len(elements))
	for _, el := range elements {
		out = append(out, ProbedElement{Selector: PickSelector(el), ElementDescriptor: el})
	}
	return out
}

// PickSelector builds the most specific selector the element's attributes
// allow: id, then name, aria-label, placeholder, and finally the bare tag.
func PickSelector(el model.ElementDescriptor) string {
	tag := el.Tag
	if tag == "" {
		tag = "input"
	}
	if id := strings.TrimSpace(el.ID); id != "" {
		return "#" + id
	}
	for _, attr := range []struct{ name, value string }{
		{"name", el.Name},
		{"aria-label", el.AriaLabel},
		{"placeholder", el.Placeholder},
	} {
		if v := strings.TrimSpace(attr.value); v != "" {
			return fmt.Sprintf(`%s[%s="%s"]`, tag, attr.name, v)
		}
	}
	return tag
}

// SuggestSelectors guesses the username, password, submit and OTP selectors
// of a login form. Keys match the account file fields.
func SuggestSelectors(inputs, buttons []model.ElementDescriptor) map[string]string {
	suggested := map[string]string{}

	for _, el := range inputs {
		if strings.EqualFold(strings.TrimSpace(el.Type), "password") {
			suggested["password_selector"] = PickSelector(el)
			break
		}
	}

	if el, ok := findUsernameInput(inputs); ok {
		suggested["username_selector"] = PickSelector(el)
	}

	suggested["submit_selector"] = model.DefaultSubmitSelector
	for _, el := range buttons {
		if strings.EqualFold(strings.TrimSpace(el.Type), "submit") {
			suggested["submit_selector"] = PickSelector(el)
			break
		}
	}

	if sel, ok := DetectOTPSelector(inputs); ok {
		suggested["otp_selector"] = sel
	}

	return suggested
}

func findUsernameInput(inputs []model.ElementDescriptor) (model.ElementDescriptor, bool) {
	textual := func(el model.ElementDescriptor) bool {
		switch strings.ToLower(strings.TrimSpace(el.Type)) {
		case "", "text", "email":
			return true
		}
		return false
	}

	for _, el := range inputs {
		if !textual(el) {
			continue
		}
		ac := strings.ToLower(el.Autocomplete)
		name := strings.ToLower(el.Name)
		if strings.Contains(ac, "user") || strings.Contains(ac, "email") ||
			strings.Contains(name, "user") || strings.Contains(name, "email") {
			return el, true
		}
	}

	for _, el := range inputs {
		switch strings.ToLower(strings.TrimSpace(el.Type)) {
		case "text", "email":
			return el, true
		}
	}

	return model.ElementDescriptor{}, false
}
