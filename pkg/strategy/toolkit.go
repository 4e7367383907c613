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

// ToolkitCheckboxMap maps a violation key to the repair-panel checkbox labels
// selected for it. Related fixes are bundled: a missing shutdown usually
// comes with missing power-up events on adjacent days, so both groups of
// checkboxes are selected together.
var ToolkitCheckboxMap = map[string][]string{
	"missingIntermediateError": {
		"FIX INTERMEDIATE",
		"FIX INTERMEDIATE TIME OFFSET",
		"FIX INTERMEDIATE AFTER MAIN",
	},
	"noPowerUpError": {
		"FIX NO POWER UP",
		"FIX MISSING POWER UP / SHUT DOWN",
		"FIX NO SHUT DOWN",
	},
	"noShutdownError": {
		"FIX NO SHUT DOWN",
		"FIX MISSING POWER UP / SHUT DOWN",
		"FIX NO POWER UP",
	},
	"twoIdenticalStatusesError": {
		"CLEAR TWIN EVENTS",
	},
	"drivingOriginWarning": {
		"FIX EVENT ORIGIN",
	},
}

// ToolkitStrategy fixes a violation through the dashboard's built-in repair
// panel: open the repair footer button, open the tool kit, clear the default
// selection, tick the checkboxes for this violation key, and proceed.
type ToolkitStrategy struct {
	key    string
	name   string
	logger *logging.Logger
}

// NewToolkitStrategies returns one toolkit strategy per fixable key.
func NewToolkitStrategies() []Strategy {
	names := map[string]string{
		"missingIntermediateError":  "Toolkit Repair: Missing Intermediate",
		"noPowerUpError":            "Toolkit Repair: No Power Up",
		"noShutdownError":           "Toolkit Repair: No Shutdown",
		"twoIdenticalStatusesError": "Toolkit Repair: Clear Twin Events",
		"drivingOriginWarning":      "Toolkit Repair: Event Origin",
	}

	strategies := make([]Strategy, 0, len(names))
	for key, name := range names {
		strategies = append(strategies, &ToolkitStrategy{
			key:    key,
			name:   name,
			logger: logging.ComponentLogger("strategy-toolkit"),
		})
	}
	return strategies
}

// Key returns the violation key this strategy handles.
func (s *ToolkitStrategy) Key() string { return s.key }

// Name returns the strategy's display name.
func (s *ToolkitStrategy) Name() string { return s.name }

// CanHandle reports whether the violation matches this strategy's key.
func (s *ToolkitStrategy) CanHandle(v *store.Violation) bool {
	return v.Key == s.key
}

// Checkboxes returns the repair-panel labels this strategy selects.
func (s *ToolkitStrategy) Checkboxes() []string {
	return ToolkitCheckboxMap[s.key]
}

// Execute runs the repair panel flow on the current page. The caller is
// expected to have navigated to the driver's log detail first.
func (s *ToolkitStrategy) Execute(ctx context.Context, v *store.Violation, attempt *store.FixAttempt, session Session) (*FixResult, error) {
	start := time.Now()
	page := session.Page()
	actions := browser.NewActions(page, session.ScreenshotDir())
	checkboxes := s.Checkboxes()

	s.logger.Infof("Fixing %q for driver %s, checkboxes: %v", s.key, v.DriverID, checkboxes)

	if err := session.EnsureLoggedIn(); err != nil {
		return nil, fmt.Errorf("session check failed: %w", err)
	}

	fail := func(message string) *FixResult {
		return &FixResult{
			Success:         false,
			Message:         message,
			ExecutionTimeMs: int(time.Since(start).Milliseconds()),
			ScreenshotPath:  session.CaptureScreenshot(fmt.Sprintf("repair_%s_%s", s.key, v.ID)),
		}
	}

	if !clickFooterButton(page, "AI REPAIR") {
		return fail("repair button not found in footer"), nil
	}
	if !clickFooterButton(page, "TOOL KIT") {
		return fail("tool kit button not found"), nil
	}

	selected := s.selectCheckboxes(page, actions)
	s.logger.Infof("Selected %d/%d checkboxes", selected, len(checkboxes))
	if selected == 0 {
		return fail(fmt.Sprintf("could not select any checkboxes: %v", checkboxes)), nil
	}

	if !clickFooterButton(page, "PROCEED") {
		return fail("proceed button not found"), nil
	}

	// The panel has no completion signal; the repair runs server-side and
	// settles within a few seconds.
	page.WaitForTimeout(5000)

	screenshot := session.CaptureScreenshot(fmt.Sprintf("repair_success_%s_%s", s.key, v.ID))
	elapsed := int(time.Since(start).Milliseconds())
	s.logger.Infof("Repair completed in %dms", elapsed)

	return &FixResult{
		Success:         true,
		Message:         fmt.Sprintf("repair completed: selected %d fixes (%s)", selected, strings.Join(checkboxes, ", ")),
		ExecutionTimeMs: elapsed,
		ScreenshotPath:  screenshot,
		Metadata: map[string]interface{}{
			"checkboxes_selected": checkboxes,
			"selected_count":      selected,
			"violation_key":       s.key,
		},
	}, nil
}

// clickFooterButton clicks a labeled footer button by its bounding box.
// The dashboard's buttons swallow element clicks, so raw mouse clicks at
// the element center are used instead.
func clickFooterButton(page playwright.Page, label string) bool {
	selectors := []string{
		fmt.Sprintf(`button:has-text("%s")`, label),
		fmt.Sprintf(`button span:has-text("%s")`, label),
		fmt.Sprintf(`.ant-btn:has-text("%s")`, label),
	}

	for _, selector := range selectors {
		handle, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(5000),
		})
		if err != nil || handle == nil {
			continue
		}

		box, err := handle.BoundingBox()
		if err == nil && box != nil {
			if err := page.Mouse().Click(box.X+box.Width/2, box.Y+box.Height/2); err != nil {
				continue
			}
		} else if err := handle.Click(playwright.ElementHandleClickOptions{
			Force: playwright.Bool(true),
		}); err != nil {
			continue
		}

		page.WaitForTimeout(2000)
		return true
	}
	return false
}

// selectCheckboxes clears the panel's default selection, then ticks the
// checkboxes for this violation key by matching label text in the DOM.
// Returns how many were selected.
func (s *ToolkitStrategy) selectCheckboxes(page playwright.Page, actions *browser.Actions) int {
	if !actions.Click(`button:has-text("CLEAR"), span:has-text("CLEAR")`, 3000) {
		s.logger.Warnf("CLEAR button not found, proceeding with current selection")
	} else {
		page.WaitForTimeout(500)
	}

	selected := 0
	for _, label := range s.Checkboxes() {
		checked, err := page.Evaluate(`(labelText) => {
			const labels = document.querySelectorAll('.ant-checkbox-wrapper, label');
			for (const label of labels) {
				const text = label.textContent?.trim().toUpperCase() || '';
				if (text === labelText.toUpperCase() || text.includes(labelText.toUpperCase())) {
					const checkbox = label.querySelector('input[type="checkbox"]') || label.querySelector('.ant-checkbox');
					const isChecked = label.classList.contains('ant-checkbox-wrapper-checked') ||
						checkbox?.checked ||
						label.querySelector('.ant-checkbox-checked');
					if (!isChecked) {
						label.click();
					}
					return true;
				}
			}
			return false;
		}`, label)
		if err != nil {
			s.logger.Errorf("Error selecting checkbox %q: %v", label, err)
			continue
		}

		if ok, _ := checked.(bool); ok {
			selected++
			s.logger.Infof("Checkbox selected: %q", label)
		} else {
			s.logger.Warnf("Checkbox not found: %q", label)
		}
		page.WaitForTimeout(300)
	}
	return selected
}
