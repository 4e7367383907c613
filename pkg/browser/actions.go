package browser

import (
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/artifacts"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
)

const (
	defaultActionTimeoutMs = 5000
	defaultVerifyTimeoutMs = 10000
	defaultNavTimeoutMs    = 30000
	defaultClickRetries    = 3
)

// Actions wraps page interactions with retries and failure screenshots.
// All methods report failure through their return value; none panic or
// propagate raw Playwright errors to callers that only need success/failure.
type Actions struct {
	page   playwright.Page
	shots  *artifacts.Dir
	logger *logging.Logger

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// NewActions creates an action wrapper around the given page. When the
// screenshot directory cannot be prepared, captures are skipped.
func NewActions(page playwright.Page, screenshotDir string) *Actions {
	logger := logging.ComponentLogger("browser-actions")
	shots, err := artifacts.New(screenshotDir)
	if err != nil {
		logger.Warnf("Screenshot directory unavailable, captures disabled: %v", err)
	}
	return &Actions{
		page:   page,
		shots:  shots,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// WaitForSelector waits for an element to become visible within timeoutMs.
func (a *Actions) WaitForSelector(selector string, timeoutMs float64) bool {
	if timeoutMs <= 0 {
		timeoutMs = defaultActionTimeoutMs
	}
	_, err := a.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(timeoutMs),
	})
	if err != nil {
		a.logger.Warnf("Timeout waiting for selector: %s", selector)
		return false
	}
	return true
}

// Click clicks an element, retrying with exponential backoff. Each failed
// attempt captures a screenshot for later diagnosis.
func (a *Actions) Click(selector string, timeoutMs float64) bool {
	if timeoutMs <= 0 {
		timeoutMs = defaultActionTimeoutMs
	}

	for attempt := 0; attempt < defaultClickRetries; attempt++ {
		if !a.WaitForSelector(selector, timeoutMs) {
			a.CaptureScreenshot("click_wait_failed_" + sanitizeName(selector))
			if attempt < defaultClickRetries-1 {
				a.sleep(time.Second)
				continue
			}
			return false
		}

		err := a.page.Click(selector, playwright.PageClickOptions{
			Timeout: playwright.Float(timeoutMs),
		})
		if err == nil {
			a.logger.Debugf("Clicked: %s", selector)
			return true
		}

		a.logger.Warnf("Click failed on %s (attempt %d/%d): %v", selector, attempt+1, defaultClickRetries, err)
		a.CaptureScreenshot("click_error_" + sanitizeName(selector))

		if attempt < defaultClickRetries-1 {
			a.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return false
}

// ClickByBoundingBox clicks the center of the element's bounding box using
// raw mouse events. Custom dropdown widgets on the dashboard swallow normal
// element clicks; coordinate clicks land regardless.
func (a *Actions) ClickByBoundingBox(selector string, timeoutMs float64) bool {
	if !a.WaitForSelector(selector, timeoutMs) {
		return false
	}

	handle, err := a.page.QuerySelector(selector)
	if err != nil || handle == nil {
		a.logger.Warnf("Element not found for bounding box click: %s", selector)
		return false
	}

	box, err := handle.BoundingBox()
	if err != nil || box == nil {
		a.logger.Warnf("No bounding box for %s", selector)
		a.CaptureScreenshot("bbox_missing_" + sanitizeName(selector))
		return false
	}

	x := box.X + box.Width/2
	y := box.Y + box.Height/2
	if err := a.page.Mouse().Click(x, y); err != nil {
		a.logger.Warnf("Mouse click failed at (%.0f,%.0f): %v", x, y, err)
		return false
	}
	a.logger.Debugf("Clicked %s at (%.0f,%.0f)", selector, x, y)
	return true
}

// Fill sets an input's value, retrying with exponential backoff.
func (a *Actions) Fill(selector, value string, timeoutMs float64) bool {
	if timeoutMs <= 0 {
		timeoutMs = defaultActionTimeoutMs
	}

	for attempt := 0; attempt < defaultClickRetries; attempt++ {
		if !a.WaitForSelector(selector, timeoutMs) {
			if attempt < defaultClickRetries-1 {
				a.sleep(time.Second)
				continue
			}
			return false
		}

		err := a.page.Fill(selector, value, playwright.PageFillOptions{
			Timeout: playwright.Float(timeoutMs),
		})
		if err == nil {
			a.logger.Debugf("Filled %s", selector)
			return true
		}

		a.logger.Warnf("Fill failed on %s: %v", selector, err)
		a.CaptureScreenshot("fill_error_" + sanitizeName(selector))
		if attempt < defaultClickRetries-1 {
			a.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return false
}

// SelectOption selects a dropdown option by value or label.
func (a *Actions) SelectOption(selector, value, label string, timeoutMs float64) bool {
	if timeoutMs <= 0 {
		timeoutMs = defaultActionTimeoutMs
	}
	if !a.WaitForSelector(selector, timeoutMs) {
		return false
	}

	var values playwright.SelectOptionValues
	switch {
	case value != "":
		values = playwright.SelectOptionValues{Values: &[]string{value}}
	case label != "":
		values = playwright.SelectOptionValues{Labels: &[]string{label}}
	default:
		a.logger.Errorf("SelectOption needs a value or label for %s", selector)
		return false
	}

	_, err := a.page.SelectOption(selector, values, playwright.PageSelectOptionOptions{
		Timeout: playwright.Float(timeoutMs),
	})
	if err != nil {
		a.logger.Warnf("Select option failed on %s: %v", selector, err)
		a.CaptureScreenshot("select_error_" + sanitizeName(selector))
		return false
	}
	a.logger.Debugf("Selected option in %s", selector)
	return true
}

// GetText returns an element's trimmed text content, or "" when absent.
func (a *Actions) GetText(selector string, timeoutMs float64) string {
	if timeoutMs <= 0 {
		timeoutMs = defaultActionTimeoutMs
	}
	if !a.WaitForSelector(selector, timeoutMs) {
		return ""
	}

	text, err := a.page.TextContent(selector, playwright.PageTextContentOptions{
		Timeout: playwright.Float(timeoutMs),
	})
	if err != nil {
		a.logger.Warnf("Get text failed on %s: %v", selector, err)
		return ""
	}
	return strings.TrimSpace(text)
}

// IsVisible reports whether the element is currently visible.
func (a *Actions) IsVisible(selector string) bool {
	visible, err := a.page.IsVisible(selector)
	if err != nil {
		return false
	}
	return visible
}

// CountElements returns the number of elements matching the selector.
func (a *Actions) CountElements(selector string) int {
	elements, err := a.page.QuerySelectorAll(selector)
	if err != nil {
		return 0
	}
	return len(elements)
}

// VerifySuccess waits for either a success or error message to appear and
// returns whether the success message won along with its text.
func (a *Actions) VerifySuccess(successSelector, errorSelector string, timeoutMs float64) (bool, string) {
	if timeoutMs <= 0 {
		timeoutMs = defaultVerifyTimeoutMs
	}

	var selectors []string
	if successSelector != "" {
		selectors = append(selectors, successSelector)
	}
	if errorSelector != "" {
		selectors = append(selectors, errorSelector)
	}
	if len(selectors) == 0 {
		return true, "no verification selectors provided"
	}

	perSelector := timeoutMs / float64(len(selectors))
	var found string
	for _, selector := range selectors {
		if a.WaitForSelector(selector, perSelector) {
			found = selector
			break
		}
	}
	if found == "" {
		a.logger.Warnf("No success or error message appeared")
		return false, "no confirmation message appeared"
	}

	message := a.GetText(found, perSelector)
	success := found == successSelector
	a.logger.Infof("Verification result: success=%v message=%q", success, message)
	return success, message
}

// WaitForNavigation waits for the page to reach urlPattern, or for network
// idle when the pattern is empty.
func (a *Actions) WaitForNavigation(urlPattern string, timeoutMs float64) bool {
	if timeoutMs <= 0 {
		timeoutMs = defaultNavTimeoutMs
	}

	var err error
	if urlPattern != "" {
		err = a.page.WaitForURL(urlPattern, playwright.PageWaitForURLOptions{
			Timeout: playwright.Float(timeoutMs),
		})
	} else {
		err = a.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: playwright.Float(timeoutMs),
		})
	}
	if err != nil {
		a.logger.Warnf("Navigation wait failed (pattern %q): %v", urlPattern, err)
		return false
	}
	a.logger.Debugf("Navigation complete, current URL: %s", a.page.URL())
	return true
}

// CaptureScreenshot saves a full-page screenshot. Best effort.
func (a *Actions) CaptureScreenshot(name string) string {
	if a.shots == nil {
		return ""
	}
	path, err := a.shots.Timestamped(name, "png")
	if err != nil {
		a.logger.Errorf("Invalid screenshot name %q: %v", name, err)
		return ""
	}
	if _, err := a.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		a.logger.Errorf("Failed to capture screenshot: %v", err)
		return ""
	}
	return path
}

// sanitizeName makes a selector safe to embed in a screenshot filename.
func sanitizeName(selector string) string {
	r := strings.NewReplacer(
		" ", "_", "/", "_", "\\", "_", ":", "_",
		"[", "_", "]", "_", "'", "", "\"", "", ">", "_", "*", "_",
	)
	name := r.Replace(selector)
	if len(name) > 60 {
		name = name[:60]
	}
	return name
}
