// Package browser manages the Chrome instance cartwatch observes pages
// through: launch or remote attach via Rod, page creation with optional
// stealth, teardown.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket or HTTP URL of an external Chrome.
	// Empty launches a local one.
	RemoteURL string

	// Headful runs Chrome with a visible window. Default: headless.
	Headful bool

	// Stealth applies evasion patches to every new page. Storefronts
	// increasingly serve degraded markup to obvious automation.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome connection and the pages opened through it.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewManager creates a Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or attaches to a remote instance) and connects.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return m.browser, nil
	}

	var controlURL string
	if m.cfg.RemoteURL != "" {
		u, err := launcher.ResolveURL(m.cfg.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve remote %q: %w", m.cfg.RemoteURL, err)
		}
		controlURL = u
		m.cfg.Logger.Info("browser: attaching to remote chrome", "url", m.cfg.RemoteURL)
	} else {
		l := launcher.New().Headless(!m.cfg.Headful)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch chrome: %w", err)
		}
		m.lnch = l
		controlURL = u
		m.cfg.Logger.Info("browser: launched chrome", "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// OpenPage opens url in a new page, waiting for the load event.
func (m *Manager) OpenPage(ctx context.Context, url string) (*rod.Page, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	page = page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %q: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: wait load %q: %w", url, err)
	}
	return page, nil
}

// Close shuts the browser down and kills a locally launched Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	if m.lnch != nil {
		m.lnch.Cleanup()
	}
	m.browser = nil
	return err
}
