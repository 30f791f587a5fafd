package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// ErrNavigationTimeout is wrapped by browser adapters when a navigation or
// element wait exceeded its deadline.
var ErrNavigationTimeout = errors.New("navigation timeout")

// WaitUntil names the load milestone a navigation waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// LaunchOptions configures a fresh browser context.
type LaunchOptions struct {
	Headless       bool
	UserAgent      string
	TimezoneID     string
	Locale         string
	ViewportWidth  int
	ViewportHeight int
	// StorageStatePath is loaded into the context when non-empty.
	StorageStatePath string
}

// BrowserDriver launches isolated browser contexts.
type BrowserDriver interface {
	Launch(ctx context.Context, opts LaunchOptions) (BrowserSession, error)
}

// BrowserSession is one browser plus one context. Close releases both.
type BrowserSession interface {
	NewPage() (Page, error)
	SaveStorageState(path string) error
	Close() error
}

// Page is the subset of page automation the login flow needs. Selectors are
// opaque CSS strings passed through to the driver.
type Page interface {
	SetDefaultTimeout(timeout time.Duration)
	Goto(url string, waitUntil WaitUntil, timeout time.Duration) error
	WaitForLoadState(state WaitUntil) error
	URL() string
	Title() (string, error)
	Fill(selector, text string) error
	Click(selector string) error
	Press(key string) error
	Count(selector string) (int, error)
	QueryElements(tag string) ([]model.ElementDescriptor, error)
	Screenshot(path string, fullPage bool) error
}
