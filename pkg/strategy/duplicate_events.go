package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
)

// DuplicateEventStrategy removes repeated login or logout events from a
// driver's log, keeping only the first occurrence. The dashboard's repair
// panel has no fix for these, so the events are deleted row by row.
type DuplicateEventStrategy struct {
	key       string
	name      string
	eventType string
	logger    *logging.Logger
}

// NewDuplicateLoginStrategy handles excessiveLogInWarning.
func NewDuplicateLoginStrategy() *DuplicateEventStrategy {
	return &DuplicateEventStrategy{
		key:       "excessiveLogInWarning",
		name:      "Remove Excessive Login Events",
		eventType: "login",
		logger:    logging.ComponentLogger("strategy-duplicates"),
	}
}

// NewDuplicateLogoutStrategy handles excessiveLogOutWarning.
func NewDuplicateLogoutStrategy() *DuplicateEventStrategy {
	return &DuplicateEventStrategy{
		key:       "excessiveLogOutWarning",
		name:      "Remove Excessive Logout Events",
		eventType: "logout",
		logger:    logging.ComponentLogger("strategy-duplicates"),
	}
}

// Key returns the violation key this strategy handles.
func (s *DuplicateEventStrategy) Key() string { return s.key }

// Name returns the strategy's display name.
func (s *DuplicateEventStrategy) Name() string { return s.name }

// CanHandle reports whether the violation matches this strategy's key.
func (s *DuplicateEventStrategy) CanHandle(v *store.Violation) bool {
	return v.Key == s.key
}

// Execute opens the driver's log and deletes every matching event after
// the first one.
func (s *DuplicateEventStrategy) Execute(ctx context.Context, v *store.Violation, attempt *store.FixAttempt, session Session) (*FixResult, error) {
	start := time.Now()
	page := session.Page()
	actions := browser.NewActions(page, session.ScreenshotDir())

	s.logger.Infof("Fixing %s duplicates for driver %s", s.eventType, v.DriverID)

	if err := session.EnsureLoggedIn(); err != nil {
		return nil, fmt.Errorf("session check failed: %w", err)
	}

	logRef := v.LogID
	if logRef == "" {
		logRef = v.DriverID
	}
	logURL := fmt.Sprintf("%s/logs/%s", strings.TrimRight(session.BaseURL(), "/"), logRef)
	if _, err := page.Goto(logURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return nil, fmt.Errorf("failed to open log page: %w", err)
	}

	eventSelector := fmt.Sprintf("tr[data-event-type='%s'], .event-%s", s.eventType, s.eventType)
	count := actions.CountElements(eventSelector)
	if count <= 1 {
		return &FixResult{
			Success:         true,
			Message:         fmt.Sprintf("no excessive %s events found", s.eventType),
			ExecutionTimeMs: int(time.Since(start).Milliseconds()),
		}, nil
	}

	deleted := 0
	for i := 1; i < count; i++ {
		deleteSelector := fmt.Sprintf(
			"%[1]s:nth-child(%[2]d) button.delete, %[1]s:nth-child(%[2]d) button:has-text('Delete')",
			eventSelector, i+1,
		)
		if actions.Click(deleteSelector, 2000) {
			actions.Click("button:has-text('Confirm'), button:has-text('Yes')", 2000)
			deleted++
		}
	}

	success := deleted > 0
	suffix := "failed"
	if success {
		suffix = "success"
	}
	screenshot := actions.CaptureScreenshot(fmt.Sprintf("excessive_%s_%s_%s", s.eventType, suffix, v.ID))

	return &FixResult{
		Success:         success,
		Message:         fmt.Sprintf("deleted %d excessive %s events", deleted, s.eventType),
		ExecutionTimeMs: int(time.Since(start).Milliseconds()),
		ScreenshotPath:  screenshot,
		Metadata:        map[string]interface{}{"deleted_count": deleted},
	}, nil
}
