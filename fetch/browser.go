package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the headless browser backend.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome on first use.
	RemoteURL string
	// Stealth applies go-rod/stealth evasions to every page.
	Stealth bool
	// Timeout bounds one SubmitForm call. Default: 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// FormField sets one form control before submission.
type FormField struct {
	Selector string
	Value    string
}

// Browser drives a headless Chrome for pages that only answer to a real
// browser (script-generated postback fields). Chrome is launched lazily.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowser creates a Browser. Nothing is launched until the first call.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("browser: closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("browser: launched local chrome", "url", wsURL)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Cleanup()
			b.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := rb.IgnoreCertErrors(true); err != nil {
		b.cfg.Logger.Warn("browser: ignore cert errors failed", "error", err)
	}
	b.browser = rb
	return rb, nil
}

func (b *Browser) page(rb *rod.Browser) (*rod.Page, error) {
	if b.cfg.Stealth {
		return stealth.Page(rb)
	}
	return rb.Page(proto.TargetCreateTarget{URL: ""})
}

const setFieldJS = `(sel, v) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.value = v;
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// SubmitForm opens pageURL, fills fields in order, clicks submit and
// returns the HTML of the page it lands on.
func (b *Browser) SubmitForm(ctx context.Context, pageURL string, fields []FormField, submit string) (string, error) {
	rb, err := b.connect()
	if err != nil {
		return "", err
	}
	p, err := b.page(rb)
	if err != nil {
		return "", fmt.Errorf("browser: create tab: %w", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	p = p.Context(ctx)

	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("browser: wait load: %w", err)
	}

	for _, f := range fields {
		res, err := p.Eval(setFieldJS, f.Selector, f.Value)
		if err != nil {
			return "", fmt.Errorf("browser: set %s: %w", f.Selector, err)
		}
		if !res.Value.Bool() {
			return "", fmt.Errorf("browser: field %s not found", f.Selector)
		}
	}

	btn, err := p.Element(submit)
	if err != nil {
		return "", fmt.Errorf("browser: submit %s: %w", submit, err)
	}
	wait := p.WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("browser: click: %w", err)
	}
	wait()

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: read page: %w", err)
	}
	return html, nil
}

// Close shuts Chrome down. Safe to call when nothing was launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}
