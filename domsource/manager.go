package domsource

import (
	"github.com/lesshq/cartwatch/domsource/internal/browser"
)

// BrowserConfig re-exports the browser manager configuration.
type BrowserConfig = browser.Config

// Manager re-exports the Chrome lifecycle manager.
type Manager = browser.Manager

// NewManager creates a browser Manager. Call Start to connect.
func NewManager(cfg BrowserConfig) *Manager {
	return browser.NewManager(cfg)
}
