// Package strategy contains the fix recipes the agent runs against the
// dashboard. Each strategy knows how to remediate one violation key through
// browser automation.
package strategy

import (
	"context"

	"github.com/playwright-community/playwright-go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
)

// FixResult is the outcome of one strategy execution.
type FixResult struct {
	Success         bool
	Message         string
	ExecutionTimeMs int
	ScreenshotPath  string
	Metadata        map[string]interface{}
}

// Session is the browser surface strategies operate on. The agent adapts
// the browser manager to this interface; tests substitute fakes.
type Session interface {
	// Page returns the primary dashboard page.
	Page() playwright.Page

	// BaseURL returns the dashboard root URL.
	BaseURL() string

	// EnsureLoggedIn re-authenticates when the session has expired.
	EnsureLoggedIn() error

	// CaptureScreenshot saves a screenshot, returning its path. Best effort.
	CaptureScreenshot(name string) string

	// ScreenshotDir is where action-level screenshots are written.
	ScreenshotDir() string
}

// Strategy fixes one kind of violation.
type Strategy interface {
	// Key is the violation key this strategy handles.
	Key() string

	// Name is the human-readable strategy name.
	Name() string

	// CanHandle reports whether this strategy applies to the violation.
	CanHandle(v *store.Violation) bool

	// Execute performs the fix. A failed fix is a FixResult with
	// Success=false; an error return means the attempt itself faulted.
	Execute(ctx context.Context, v *store.Violation, attempt *store.FixAttempt, session Session) (*FixResult, error)
}
