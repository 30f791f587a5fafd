// Package playwright implements the browser ports with playwright-go and a
// Chromium browser.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BrowserDriver = (*Driver)(nil)

// chromiumArgs keep Chromium usable inside containers.
var chromiumArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
}

// Options configures the playwright driver process.
type Options struct {
	// Install downloads the driver and Chromium before the first start.
	Install bool
	// Verbose forwards driver installation output to Output.
	Verbose bool
	Output  io.Writer
}

// Driver owns one playwright driver process, started lazily on the first
// Launch and shared by every browser it creates.
type Driver struct {
	opts   Options
	logger *slog.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewDriver creates a Driver. No process is started until Launch.
func NewDriver(opts Options, logger *slog.Logger) *Driver {
	return &Driver{opts: opts, logger: logger}
}

func (d *Driver) runOptions() *playwright.RunOptions {
	out := d.opts.Output
	if out == nil || !d.opts.Verbose {
		out = io.Discard
	}
	return &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  d.opts.Verbose,
		Stdout:   out,
		Stderr:   out,
	}
}

func (d *Driver) start() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw != nil {
		return d.pw, nil
	}

	opts := d.runOptions()
	if d.opts.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.logger.Info("playwright driver started")

	d.pw = pw
	return pw, nil
}

// Launch starts a Chromium browser with a single fresh context.
func (d *Driver) Launch(ctx context.Context, opts driven.LaunchOptions) (driven.BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := d.start()
	if err != nil {
		return nil, err
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     chromiumArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", mapError(err))
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight}
	}
	if opts.StorageStatePath != "" {
		contextOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create browser context: %w", mapError(err))
	}

	return &session{browser: browser, context: bctx}, nil
}

// Stop shuts the driver process down. The Driver can be started again by a
// later Launch.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	if err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	d.logger.Info("playwright driver stopped")
	return nil
}

// session is one browser plus its single context.
type session struct {
	browser playwright.Browser
	context playwright.BrowserContext
}

func (s *session) NewPage() (driven.Page, error) {
	p, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", mapError(err))
	}
	return &page{page: p}, nil
}

func (s *session) SaveStorageState(path string) error {
	if _, err := s.context.StorageState(path); err != nil {
		return fmt.Errorf("storage state: %w", mapError(err))
	}
	return nil
}

func (s *session) Close() error {
	return errors.Join(s.context.Close(), s.browser.Close())
}

// mapError marks playwright timeouts with driven.ErrNavigationTimeout while
// keeping the driver's message.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", driven.ErrNavigationTimeout, err)
	}
	return err
}
