package agent

import (
	"github.com/playwright-community/playwright-go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/strategy"
)

// browserSession adapts a browser.Manager to the strategy.Session
// contract, binding in the dashboard base URL strategies navigate from.
type browserSession struct {
	manager       *browser.Manager
	baseURL       string
	screenshotDir string
}

// NewSession wraps an initialized browser manager for strategy execution.
func NewSession(manager *browser.Manager, baseURL, screenshotDir string) strategy.Session {
	return &browserSession{
		manager:       manager,
		baseURL:       baseURL,
		screenshotDir: screenshotDir,
	}
}

func (s *browserSession) Page() playwright.Page {
	return s.manager.Page()
}

func (s *browserSession) BaseURL() string {
	return s.baseURL
}

func (s *browserSession) EnsureLoggedIn() error {
	return s.manager.EnsureLoggedIn(s.baseURL)
}

func (s *browserSession) CaptureScreenshot(name string) string {
	return s.manager.CaptureScreenshot(name)
}

func (s *browserSession) ScreenshotDir() string {
	return s.screenshotDir
}
