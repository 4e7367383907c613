// Package scanner drives the activity view of the compliance dashboard
// across multiple browser tabs. Each driver gets a work tab opened from
// the shared authenticated context; the tab walks the company and driver
// combo-widgets, opens the detail view in a new tab, loads the requested
// date range and extracts the results table. A weighted semaphore caps
// how many tabs run at once.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/semaphore"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
)

const (
	// defaultMaxTabs caps concurrent work tabs. The dashboard degrades
	// badly above two parallel sessions per authenticated context.
	defaultMaxTabs = 2

	activityLoadTimeout  = 60000.0
	companyInputTimeout  = 15000.0
	dropdownTimeout      = 5000.0
	detailLoadTimeout    = 15000.0
	selectAttempts       = 3
	typeDelayMs          = 80.0
	maxScrollIterations  = 100
	scrollStableRequired = 5
)

var errSelectionLost = errors.New("company selection was lost")

// DriverTarget identifies one driver to scan.
type DriverTarget struct {
	DriverID    string
	DriverName  string
	CompanyName string
}

// Options controls a scan run.
type Options struct {
	// From and To bound the date range loaded in the detail view.
	From time.Time
	To   time.Time

	// MaxTabs overrides the concurrent tab cap when positive.
	MaxTabs int64
}

// DriverResult is the outcome of scanning a single driver.
type DriverResult struct {
	Target DriverTarget
	Rows   []LogRow
	Err    error
}

// Scanner orchestrates multi-tab scans over a logged-in browser session.
type Scanner struct {
	manager   *browser.Manager
	uiBaseURL string
	tracker   *Tracker
	logger    *logging.Logger

	// scan runs one driver unit. Replaceable in tests.
	scan func(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error)
}

// New creates a scanner bound to an initialized browser manager.
func New(manager *browser.Manager, uiBaseURL string, tracker *Tracker) *Scanner {
	logger, _ := logging.NewLogger("scanner")
	s := &Scanner{
		manager:   manager,
		uiBaseURL: strings.TrimRight(uiBaseURL, "/"),
		tracker:   tracker,
		logger:    logger,
	}
	s.scan = s.scanDriver
	return s
}

// ScanSubjects scans every target, at most MaxTabs at a time, and
// returns one result per target in input order. Per-driver failures are
// recorded in the result rather than aborting the run; only context
// cancellation stops the scan early. The tracker reports per-driver
// progress only; the caller emits the aggregate completion signal from
// the returned results once it has finished with them.
func (s *Scanner) ScanSubjects(ctx context.Context, scanID string, targets []DriverTarget, opts Options) []DriverResult {
	maxTabs := opts.MaxTabs
	if maxTabs <= 0 {
		maxTabs = defaultMaxTabs
	}

	s.tracker.Start(scanID, len(targets))

	results := make([]DriverResult, len(targets))
	sem := semaphore.NewWeighted(maxTabs)

	for i, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(targets); j++ {
				results[j] = DriverResult{Target: targets[j], Err: err}
			}
			break
		}

		go func(idx int, target DriverTarget) {
			defer sem.Release(1)

			s.tracker.UpdateDriver(scanID, target.DriverName)
			rows, err := s.scan(ctx, scanID, target, opts)
			if err != nil {
				s.logger.Errorf("scan %s: driver %s failed: %v", scanID, target.DriverID, err)
			} else {
				s.logger.Infof("scan %s: driver %s yielded %d rows", scanID, target.DriverID, len(rows))
			}
			results[idx] = DriverResult{Target: target, Rows: rows, Err: err}
			s.tracker.CompleteDriver(scanID)
		}(i, target)
	}

	// Draining the full weight waits for all in-flight tabs.
	if err := sem.Acquire(context.Background(), maxTabs); err == nil {
		sem.Release(maxTabs)
	}

	return results
}

// FailedCount reports how many results carry an error. Callers use it to
// build the completion signal for the tracker.
func FailedCount(results []DriverResult) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	return failed
}

// scanDriver runs the full flow for one driver in its own work tab.
func (s *Scanner) scanDriver(ctx context.Context, scanID string, target DriverTarget, opts Options) ([]LogRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browserCtx := s.manager.Context()
	if browserCtx == nil {
		return nil, browser.ErrNotInitialized
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open work tab: %w", err)
	}
	defer page.Close()

	s.tracker.UpdateStep(scanID, "open-activity", "opening activity view")
	if _, err := page.Goto(s.uiBaseURL+"/activity", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(activityLoadTimeout),
	}); err != nil {
		return nil, fmt.Errorf("open activity view: %w", err)
	}

	if _, err := page.WaitForSelector("#select-company", playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(companyInputTimeout),
	}); err != nil {
		return nil, fmt.Errorf("activity form not ready: %w", err)
	}

	// Stray Enter presses inside combo inputs submit the surrounding
	// form and reload the page, losing all selections.
	if _, err := page.Evaluate(`() => {
		document.querySelectorAll('form').forEach(f => {
			f.addEventListener('submit', e => e.preventDefault(), true);
		});
	}`); err != nil {
		s.logger.Warnf("scan %s: could not block form submits: %v", scanID, err)
	}

	s.tracker.UpdateStep(scanID, "select-company", "selecting company "+target.CompanyName)
	if err := s.selectCompany(page, target.CompanyName); err != nil {
		return nil, err
	}

	s.tracker.UpdateStep(scanID, "select-driver", "selecting driver "+target.DriverName)
	if err := s.selectDriver(page, target); err != nil {
		if !errors.Is(err, errSelectionLost) {
			return nil, err
		}
		// The page sometimes refreshes between the two selections and
		// drops the company. Re-select once and retry the driver.
		s.logger.Warnf("scan %s: company selection lost, re-selecting", scanID)
		if err := s.selectCompany(page, target.CompanyName); err != nil {
			return nil, err
		}
		if err := s.selectDriver(page, target); err != nil {
			return nil, err
		}
	}

	s.tracker.UpdateStep(scanID, "open-detail", "opening log detail tab")
	detail, err := s.openDetailTab(page)
	if err != nil {
		return nil, err
	}
	defer detail.Close()

	s.tracker.UpdateStep(scanID, "set-dates", "setting date range")
	if err := s.setDateRange(detail, opts.From, opts.To); err != nil {
		s.logger.Warnf("scan %s: date range not set, using defaults: %v", scanID, err)
	}

	s.tracker.UpdateStep(scanID, "load-logs", "loading logs")
	if err := s.clickLoad(detail); err != nil {
		return nil, err
	}

	s.tracker.UpdateStep(scanID, "extract-rows", "extracting rows")
	s.scrollToBottom(detail)

	content, err := detail.Content()
	if err != nil {
		return nil, fmt.Errorf("read detail page: %w", err)
	}
	return ParseLogRows(content)
}

// selectCompany drives the company combo-widget. Ant Design selects do
// not respond to Fill; the flow is click the selector, clear with the
// keyboard, type the search text, wait for the dropdown and click the
// first option by coordinates.
func (s *Scanner) selectCompany(page playwright.Page, companyName string) error {
	var lastErr error
	for attempt := 0; attempt < selectAttempts; attempt++ {
		selected, err := s.pickComboOption(page, "#select-company", "company", companyName)
		if err == nil && containsFold(selected, companyName) {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("selection shows %q, want %q", selected, companyName)
		}
		lastErr = err
		s.logger.Warnf("company selection attempt %d/%d failed: %v", attempt+1, selectAttempts, err)
		page.Keyboard().Press("Escape")
		page.WaitForTimeout(500)
	}
	return fmt.Errorf("select company %q: %w", companyName, lastErr)
}

// selectDriver drives the driver combo-widget. It first verifies the
// company selection survived; a blank selection means the page refreshed
// and the caller must re-select the company.
func (s *Scanner) selectDriver(page playwright.Page, target DriverTarget) error {
	page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(10000),
	})

	if s.comboSelection(page, "#select-company") == "" {
		return errSelectionLost
	}

	query := target.DriverName
	if query == "" {
		query = target.DriverID
		if len(query) > 8 {
			query = query[:8]
		}
	}

	var lastErr error
	for attempt := 0; attempt < selectAttempts; attempt++ {
		selected, err := s.pickComboOption(page, "#select-driver", "driver", query)
		if err == nil && selected != "" {
			return nil
		}
		if err == nil {
			err = errors.New("selection is empty after click")
		}
		lastErr = err
		s.logger.Warnf("driver selection attempt %d/%d failed: %v", attempt+1, selectAttempts, err)
		page.Keyboard().Press("Escape")
		page.WaitForTimeout(500)
	}
	return fmt.Errorf("select driver %q: %w", query, lastErr)
}

// pickComboOption runs one attempt of the combo-widget flow and returns
// the text shown in the selection item afterwards.
func (s *Scanner) pickComboOption(page playwright.Page, inputSelector, tag, query string) (string, error) {
	if _, err := page.WaitForSelector(inputSelector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(companyInputTimeout),
	}); err != nil {
		return "", fmt.Errorf("combo input %s not visible: %w", inputSelector, err)
	}
	page.WaitForTimeout(1000)

	// Clicking the bare input often misses; tag the enclosing
	// .ant-select-selector and click that instead.
	clickTarget, _ := page.Evaluate(fmt.Sprintf(`() => {
		const input = document.querySelector(%q);
		if (!input) return null;
		const antSelect = input.closest('.ant-select');
		if (antSelect) {
			const sel = antSelect.querySelector('.ant-select-selector');
			if (sel) {
				sel.setAttribute('data-scan-click', %q);
				return '[data-scan-click="' + %q + '"]';
			}
		}
		return null;
	}`, inputSelector, tag, tag))

	selector := inputSelector
	if str, ok := clickTarget.(string); ok && str != "" {
		selector = str
	}
	if err := page.Click(selector); err != nil {
		return "", fmt.Errorf("click combo %s: %w", selector, err)
	}
	page.WaitForTimeout(800)

	page.Keyboard().Press("Control+A")
	page.WaitForTimeout(100)
	page.Keyboard().Press("Backspace")
	page.WaitForTimeout(100)

	if err := page.Keyboard().Type(query, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(typeDelayMs),
	}); err != nil {
		return "", fmt.Errorf("type %q: %w", query, err)
	}
	page.WaitForTimeout(2500)

	if _, err := page.WaitForSelector(".ant-select-dropdown:not(.ant-select-dropdown-hidden)",
		playwright.PageWaitForSelectorOptions{Timeout: playwright.Float(dropdownTimeout)}); err != nil {
		return "", fmt.Errorf("dropdown did not open: %w", err)
	}

	option, err := page.QuerySelector(".ant-select-dropdown:not(.ant-select-dropdown-hidden) .ant-select-item-option:first-child")
	if err != nil || option == nil {
		return "", errors.New("no options in dropdown")
	}

	// Enter selects the wrong option when the list is still filtering;
	// a coordinate click on the first option is reliable.
	clicked := false
	if box, err := option.BoundingBox(); err == nil && box != nil {
		if err := page.Mouse().Click(box.X+box.Width/2, box.Y+box.Height/2); err == nil {
			clicked = true
		}
	}
	if !clicked {
		if err := option.Click(playwright.ElementHandleClickOptions{Force: playwright.Bool(true)}); err != nil {
			return "", fmt.Errorf("click option: %w", err)
		}
	}
	page.WaitForTimeout(2000)

	return s.comboSelection(page, inputSelector), nil
}

// comboSelection reads the text currently shown in a combo-widget's
// selection item, or "" when nothing is selected.
func (s *Scanner) comboSelection(page playwright.Page, inputSelector string) string {
	result, err := page.Evaluate(fmt.Sprintf(`() => {
		const input = document.querySelector(%q);
		const parent = input?.closest('.ant-select');
		const selection = parent?.querySelector('.ant-select-selection-item');
		return selection?.textContent?.trim() || '';
	}`, inputSelector))
	if err != nil {
		return ""
	}
	if str, ok := result.(string); ok {
		return str
	}
	return ""
}

// openDetailTab clicks CREATE and captures the detail tab it opens.
func (s *Scanner) openDetailTab(page playwright.Page) (playwright.Page, error) {
	createButton, err := page.WaitForSelector(`button:has-text("CREATE")`,
		playwright.PageWaitForSelectorOptions{Timeout: playwright.Float(dropdownTimeout)})
	if err != nil {
		return nil, fmt.Errorf("CREATE button not found: %w", err)
	}

	detail, err := page.Context().ExpectPage(func() error {
		return createButton.Click()
	})
	if err != nil {
		return nil, fmt.Errorf("detail tab did not open: %w", err)
	}

	detail.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(detailLoadTimeout),
	})
	detail.WaitForTimeout(3000)

	return detail, nil
}

// setDateRange fills the detail view's date picker inputs. The picker
// renders two .ant-picker-input inputs, start first.
func (s *Scanner) setDateRange(page playwright.Page, from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return errors.New("empty date range")
	}

	inputs, err := page.QuerySelectorAll(".ant-picker-input input")
	if err != nil || len(inputs) == 0 {
		inputs, err = page.QuerySelectorAll(`input[type="date"]`)
		if err != nil || len(inputs) == 0 {
			return errors.New("no date inputs found")
		}
	}

	if err := inputs[0].Fill(from.Format("2006-01-02")); err != nil {
		return fmt.Errorf("fill start date: %w", err)
	}
	if len(inputs) > 1 {
		if err := inputs[len(inputs)-1].Fill(to.Format("2006-01-02")); err != nil {
			return fmt.Errorf("fill end date: %w", err)
		}
	}

	// Close the calendar popup so it does not cover the LOAD button.
	page.Keyboard().Press("Escape")
	page.WaitForTimeout(500)
	return nil
}

// clickLoad triggers data loading and waits for the table to render.
func (s *Scanner) clickLoad(page playwright.Page) error {
	var loadButton playwright.ElementHandle
	for _, sel := range []string{"button#load-logs", `button:has-text("LOAD")`, `button:has-text("Load")`} {
		handle, err := page.WaitForSelector(sel, playwright.PageWaitForSelectorOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(dropdownTimeout),
		})
		if err == nil && handle != nil {
			loadButton = handle
			break
		}
	}
	if loadButton == nil {
		return errors.New("LOAD button not found")
	}

	if box, err := loadButton.BoundingBox(); err == nil && box != nil {
		if err := page.Mouse().Click(box.X+box.Width/2, box.Y+box.Height/2); err != nil {
			return fmt.Errorf("click LOAD: %w", err)
		}
	} else if err := loadButton.Click(playwright.ElementHandleClickOptions{Force: playwright.Bool(true)}); err != nil {
		return fmt.Errorf("click LOAD: %w", err)
	}

	page.WaitForTimeout(15000)

	if _, err := page.WaitForSelector(".patch-table-row, .ant-table-row, table tbody tr",
		playwright.PageWaitForSelectorOptions{Timeout: playwright.Float(10000)}); err != nil {
		s.logger.Warnf("results table not detected after load: %v", err)
	}
	return nil
}

// scrollToBottom scrolls the detail view until the row count stops
// growing, exhausting lazily rendered rows.
func (s *Scanner) scrollToBottom(page playwright.Page) {
	prevRows := -1
	stable := 0

	for i := 0; i < maxScrollIterations; i++ {
		page.Evaluate("window.scrollBy(0, window.innerHeight)")
		page.WaitForTimeout(200)

		result, err := page.Evaluate("document.querySelectorAll('table tbody tr, .ant-table-row').length")
		if err != nil {
			return
		}
		count := asInt(result)

		if count != prevRows {
			stable = 0
			prevRows = count
		} else {
			stable++
			if stable >= scrollStableRequired {
				return
			}
		}
	}
}

// asInt normalizes the numeric types Evaluate can return.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// SortResults orders results by company then driver name for stable
// reporting output.
func SortResults(results []DriverResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Target.CompanyName != results[j].Target.CompanyName {
			return results[i].Target.CompanyName < results[j].Target.CompanyName
		}
		return results[i].Target.DriverName < results[j].Target.DriverName
	})
}
