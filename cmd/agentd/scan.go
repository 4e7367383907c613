package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/config"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/scanner"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/upstream"
)

var (
	scanDriverIDs []string
	scanFrom      string
	scanTo        string
	scanMaxTabs   int64
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot activity scan for the given drivers",
	Long: `Scan logs into the dashboard, walks the activity view for each listed
driver, and prints the extracted log rows as JSON.

Examples:
  # Scan two drivers over the default date range
  agentd scan --driver d1f3... --driver 9bc0...

  # Explicit date range
  agentd scan --driver d1f3... --from 2026-08-01 --to 2026-08-31`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanDriverIDs, "driver", nil, "driver ID to scan (repeatable, required)")
	scanCmd.Flags().StringVar(&scanFrom, "from", "", "start date YYYY-MM-DD (default 8 days ago)")
	scanCmd.Flags().StringVar(&scanTo, "to", "", "end date YYYY-MM-DD (default today)")
	scanCmd.Flags().Int64Var(&scanMaxTabs, "max-tabs", 0, "concurrent tab cap (default 2)")
	scanCmd.MarkFlagRequired("driver")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.LogDir != "" {
		logging.SetLogDirectory(cfg.LogDir)
	}
	// NewLogger falls back to stderr, so a logging failure never
	// aborts the scan.
	logger, err := logging.NewLogger("scan")
	if err != nil {
		logger.Warnf("File logging unavailable, continuing on stderr: %v", err)
	}
	defer logger.Close()

	from, to, err := scanDateRange()
	if err != nil {
		return err
	}

	ctx := context.Background()

	client := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.Token,
		cfg.Upstream.SystemName, cfg.Upstream.RequestTimeout)
	targets, err := resolveTargets(ctx, client, scanDriverIDs)
	if err != nil {
		return err
	}

	stateDir, err := cfg.BrowserStateDir()
	if err != nil {
		return fmt.Errorf("browser state dir: %w", err)
	}
	manager := browser.NewManager(cfg.Browser.Headless, stateDir, cfg.ScreenshotDir)
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("initialize browser: %w", err)
	}
	defer manager.Close()

	if err := manager.Login(browser.Credentials{
		LoginURL: cfg.UI.BaseURL,
		Username: cfg.UI.Username,
		Password: cfg.UI.Password,
	}); err != nil {
		return fmt.Errorf("dashboard login: %w", err)
	}

	tracker := scanner.NewTracker(nil)
	scan := scanner.New(manager, cfg.UI.BaseURL, tracker)

	scanID := uuid.New().String()
	logger.Infof("scan %s: %d drivers, %s to %s", scanID, len(targets),
		from.Format("2006-01-02"), to.Format("2006-01-02"))

	results := scan.ScanSubjects(ctx, scanID, targets, scanner.Options{
		From:    from,
		To:      to,
		MaxTabs: scanMaxTabs,
	})

	failed := scanner.FailedCount(results)
	tracker.Complete(scanID, failed == 0,
		fmt.Sprintf("scanned %d drivers, %d failed", len(targets), failed))

	scanner.SortResults(results)
	return printResults(results)
}

// scanDateRange resolves the --from/--to flags, defaulting to the last
// eight days.
func scanDateRange() (time.Time, time.Time, error) {
	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -8)

	var err error
	if scanFrom != "" {
		from, err = time.Parse("2006-01-02", scanFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date: %w", err)
		}
	}
	if scanTo != "" {
		to, err = time.Parse("2006-01-02", scanTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date: %w", err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", scanTo, scanFrom)
	}
	return from, to, nil
}

// resolveTargets maps driver IDs to scan targets using the upstream
// roster for display names and company assignment.
func resolveTargets(ctx context.Context, client *upstream.Client, driverIDs []string) ([]scanner.DriverTarget, error) {
	subjects, err := client.ListSubjectsWithNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load driver roster: %w", err)
	}

	byDriver := make(map[string]scanner.DriverTarget)
	for _, subj := range subjects {
		for _, d := range subj.Drivers {
			byDriver[d.ID] = scanner.DriverTarget{
				DriverID:    d.ID,
				DriverName:  d.Name,
				CompanyName: subj.Name,
			}
		}
	}

	targets := make([]scanner.DriverTarget, 0, len(driverIDs))
	for _, id := range driverIDs {
		target, ok := byDriver[id]
		if !ok {
			return nil, fmt.Errorf("driver %s not found in upstream roster", id)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func printResults(results []scanner.DriverResult) error {
	type driverReport struct {
		DriverID   string           `json:"driver_id"`
		DriverName string           `json:"driver_name"`
		Company    string           `json:"company"`
		Error      string           `json:"error,omitempty"`
		Rows       []scanner.LogRow `json:"rows,omitempty"`
	}

	reports := make([]driverReport, 0, len(results))
	for _, r := range results {
		report := driverReport{
			DriverID:   r.Target.DriverID,
			DriverName: r.Target.DriverName,
			Company:    r.Target.CompanyName,
			Rows:       r.Rows,
		}
		if r.Err != nil {
			report.Error = r.Err.Error()
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
