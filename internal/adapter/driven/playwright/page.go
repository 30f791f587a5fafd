package playwright

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Page = (*page)(nil)

// descriptorAttributes maps ElementDescriptor fields to DOM attributes.
var descriptorAttributes = []struct {
	attr string
	set  func(*model.ElementDescriptor, string)
}{
	{"id", func(d *model.ElementDescriptor, v string) { d.ID = v }},
	{"name", func(d *model.ElementDescriptor, v string) { d.Name = v }},
	{"type", func(d *model.ElementDescriptor, v string) { d.Type = v }},
	{"placeholder", func(d *model.ElementDescriptor, v string) { d.Placeholder = v }},
	{"aria-label", func(d *model.ElementDescriptor, v string) { d.AriaLabel = v }},
	{"maxlength", func(d *model.ElementDescriptor, v string) { d.MaxLength = v }},
	{"autocomplete", func(d *model.ElementDescriptor, v string) { d.Autocomplete = v }},
}

type page struct {
	page playwright.Page
}

func millis(d time.Duration) *float64 {
	ms := float64(d.Milliseconds())
	return &ms
}

func (p *page) SetDefaultTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	p.page.SetDefaultTimeout(*millis(timeout))
	p.page.SetDefaultNavigationTimeout(*millis(timeout))
}

func (p *page) Goto(url string, waitUntil driven.WaitUntil, timeout time.Duration) error {
	opts := playwright.PageGotoOptions{}
	if waitUntil != "" {
		state := playwright.WaitUntilState(waitUntil)
		opts.WaitUntil = &state
	}
	if timeout > 0 {
		opts.Timeout = millis(timeout)
	}

	if _, err := p.page.Goto(url, opts); err != nil {
		return fmt.Errorf("goto %s: %w", url, mapError(err))
	}
	return nil
}

func (p *page) WaitForLoadState(state driven.WaitUntil) error {
	ls := playwright.LoadState(state)
	if err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: &ls}); err != nil {
		return fmt.Errorf("wait for %s: %w", state, mapError(err))
	}
	return nil
}

func (p *page) URL() string {
	return p.page.URL()
}

func (p *page) Title() (string, error) {
	title, err := p.page.Title()
	if err != nil {
		return "", mapError(err)
	}
	return title, nil
}

func (p *page) Fill(selector, text string) error {
	if err := p.page.Locator(selector).First().Fill(text); err != nil {
		return fmt.Errorf("fill %q: %w", selector, mapError(err))
	}
	return nil
}

func (p *page) Click(selector string) error {
	if err := p.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click %q: %w", selector, mapError(err))
	}
	return nil
}

func (p *page) Press(key string) error {
	if err := p.page.Keyboard().Press(key); err != nil {
		return fmt.Errorf("press %s: %w", key, mapError(err))
	}
	return nil
}

func (p *page) Count(selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, mapError(err))
	}
	return n, nil
}

// QueryElements snapshots the attributes of every element matching tag.
// Elements that detach while being read are skipped.
func (p *page) QueryElements(tag string) ([]model.ElementDescriptor, error) {
	handles, err := p.page.QuerySelectorAll(tag)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tag, mapError(err))
	}

	elements := make([]model.ElementDescriptor, 0, len(handles))
	for _, h := range handles {
		desc, err := describe(h, tag)
		_ = h.Dispose()
		if err != nil {
			continue
		}
		elements = append(elements, desc)
	}
	return elements, nil
}

func describe(h playwright.ElementHandle, tag string) (model.ElementDescriptor, error) {
	desc := model.ElementDescriptor{Tag: strings.ToLower(tag)}
	for _, a := range descriptorAttributes {
		v, err := h.GetAttribute(a.attr)
		if err != nil {
			return desc, err
		}
		a.set(&desc, v)
	}

	if desc.Tag == "button" || desc.Tag == "a" {
		text, err := h.TextContent()
		if err == nil {
			desc.Text = strings.Join(strings.Fields(text), " ")
		}
	}
	return desc, nil
}

func (p *page) Screenshot(path string, fullPage bool) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", mapError(err))
	}
	return nil
}
