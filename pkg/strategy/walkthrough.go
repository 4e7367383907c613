package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
)

// WalkthroughDays is how far back the walkthrough scrolls through logs.
const WalkthroughDays = 9

// WalkthroughStrategy is a read-only recipe used to validate automation
// against a deployment before enabling live fixes. It navigates to the
// driver's log, sets the date range, scrolls through the recent history,
// and captures screenshots. It never modifies anything.
type WalkthroughStrategy struct {
	logger *logging.Logger
}

// NewWalkthroughStrategy creates the read-only walkthrough recipe.
func NewWalkthroughStrategy() *WalkthroughStrategy {
	return &WalkthroughStrategy{logger: logging.ComponentLogger("strategy-walkthrough")}
}

// Key returns the synthetic key the walkthrough registers under.
func (s *WalkthroughStrategy) Key() string { return "walkthrough" }

// Name returns the strategy's display name.
func (s *WalkthroughStrategy) Name() string { return "Log Walkthrough (read only)" }

// CanHandle accepts any violation; the walkthrough only observes.
func (s *WalkthroughStrategy) CanHandle(v *store.Violation) bool { return true }

// Execute walks through the driver's recent logs without changing anything.
func (s *WalkthroughStrategy) Execute(ctx context.Context, v *store.Violation, attempt *store.FixAttempt, session Session) (*FixResult, error) {
	start := time.Now()
	page := session.Page()
	actions := browser.NewActions(page, session.ScreenshotDir())

	s.logger.Infof("Starting log walkthrough for driver %s", v.DriverName)

	if err := session.EnsureLoggedIn(); err != nil {
		return nil, fmt.Errorf("session check failed: %w", err)
	}

	if _, err := page.Goto(session.BaseURL(), playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return nil, fmt.Errorf("failed to open dashboard: %w", err)
	}
	page.WaitForTimeout(2000)
	session.CaptureScreenshot("walkthrough_home")

	if !s.openDriversList(actions) {
		return &FixResult{
			Success:         false,
			Message:         "could not locate drivers menu",
			ExecutionTimeMs: int(time.Since(start).Milliseconds()),
			ScreenshotPath:  session.CaptureScreenshot("walkthrough_no_menu"),
		}, nil
	}

	driverName := v.DriverName
	if driverName == "" {
		driverName = v.DriverID
	}
	if !s.openDriverLogs(actions, driverName) {
		return &FixResult{
			Success:         false,
			Message:         fmt.Sprintf("driver %q not found in list", driverName),
			ExecutionTimeMs: int(time.Since(start).Milliseconds()),
			ScreenshotPath:  session.CaptureScreenshot("walkthrough_driver_missing"),
		}, nil
	}

	// Date range: last WalkthroughDays days.
	from := time.Now().AddDate(0, 0, -WalkthroughDays).Format("2006-01-02")
	for _, selector := range []string{
		"input[type='date']",
		"input[placeholder*='date' i]",
		"[class*='date-picker'] input",
	} {
		if actions.Fill(selector, from, 2000) {
			s.logger.Infof("Set date range to last %d days", WalkthroughDays)
			break
		}
	}

	// Scroll far enough to force every lazy-loaded row to render.
	for i := 0; i < 5; i++ {
		if _, err := page.Evaluate("window.scrollBy(0, window.innerHeight)"); err != nil {
			break
		}
		page.WaitForTimeout(1000)
	}
	session.CaptureScreenshot("walkthrough_logs_scrolled")
	page.Evaluate("window.scrollTo(0, 0)")
	page.WaitForTimeout(500)

	elapsed := int(time.Since(start).Milliseconds())
	s.logger.Infof("Walkthrough completed in %dms", elapsed)

	return &FixResult{
		Success:         true,
		Message:         fmt.Sprintf("viewed logs for driver %s (last %d days)", driverName, WalkthroughDays),
		ExecutionTimeMs: elapsed,
		Metadata:        map[string]interface{}{"days": WalkthroughDays},
	}, nil
}

func (s *WalkthroughStrategy) openDriversList(actions *browser.Actions) bool {
	for _, selector := range []string{
		`a:has-text("Drivers")`,
		`a:has-text("Driver")`,
		`[href*="driver"]`,
		`button:has-text("Drivers")`,
	} {
		if actions.Click(selector, 3000) {
			return true
		}
	}
	return false
}

func (s *WalkthroughStrategy) openDriverLogs(actions *browser.Actions, driverName string) bool {
	for _, selector := range []string{
		"input[type='search']",
		"input[placeholder*='search' i]",
		"input[type='text']",
	} {
		if actions.Fill(selector, driverName, 3000) {
			break
		}
	}

	rowSelector := fmt.Sprintf(`tr:has-text("%s"), td:has-text("%s")`, driverName, driverName)
	if !actions.Click(rowSelector, 3000) {
		return false
	}

	// A dedicated Logs link may or may not exist; the driver page itself
	// shows logs when it does not.
	for _, selector := range []string{
		`a:has-text("Logs")`,
		`button:has-text("Logs")`,
		`[href*="log"]`,
	} {
		if actions.Click(selector, 3000) {
			break
		}
	}
	return true
}
