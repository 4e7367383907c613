package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/agent"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/browser"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/config"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/events"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/strategy"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/upstream"
)

var (
	runCompanyIDs  []string
	runDriverIDs   []string
	runWalkthrough bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the remediation agent until interrupted",
	Long: `Run starts the agent loop: poll the upstream API, classify and store
violations, and dispatch fix strategies through the browser. The loop
runs until SIGINT or SIGTERM.

Examples:
  # Run with a config file
  agentd run --config /etc/agentd/config.yaml

  # Restrict to specific drivers
  agentd run --driver d1f3... --driver 9bc0...`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringSliceVar(&runCompanyIDs, "company", nil, "company ID to monitor (repeatable, default all)")
	runCmd.Flags().StringSliceVar(&runDriverIDs, "driver", nil, "driver ID to monitor (repeatable, default all)")
	runCmd.Flags().BoolVar(&runWalkthrough, "walkthrough", false, "use the read-only walkthrough strategy instead of repair strategies")
}

func runAgent(cmd *cobra.Command, args []string) error {
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
	// NewLogger hands back a stderr fallback when the log file is
	// unavailable, so a logging failure never stops the service.
	logger, err := logging.NewLogger("agentd")
	if err != nil {
		logger.Warnf("File logging unavailable, continuing on stderr: %v", err)
	}
	defer logger.Close()

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sink, closeSink := buildSink(cfg, logger)
	defer closeSink()

	client := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.Token,
		cfg.Upstream.SystemName, cfg.Upstream.RequestTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !client.Healthy(ctx) {
		logger.Warnf("upstream API health check failed, continuing anyway")
	}

	registry := strategy.NewRegistry()
	if runWalkthrough {
		registry.Register(strategy.NewWalkthroughStrategy())
	} else {
		registry.RegisterDefaults()
	}

	// Dry-run mode detects violations without driving the browser, so
	// the whole browser stack is skipped.
	var session strategy.Session
	var manager *browser.Manager
	if cfg.Agent.DryRun {
		logger.Warnf("dry run mode: violations will be detected but not fixed")
	} else {
		stateDir, err := cfg.BrowserStateDir()
		if err != nil {
			return fmt.Errorf("browser state dir: %w", err)
		}
		manager = browser.NewManager(cfg.Browser.Headless, stateDir, cfg.ScreenshotDir)
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
		session = agent.NewSession(manager, cfg.UI.BaseURL, cfg.ScreenshotDir)
	}

	svc, err := agent.New(agent.Deps{
		Store:    db,
		Registry: registry,
		Upstream: client,
		Session:  session,
		Sink:     sink,
	})
	if err != nil {
		return err
	}
	if len(runCompanyIDs) > 0 {
		svc.SetCompanyIDs(runCompanyIDs)
	}
	if len(runDriverIDs) > 0 {
		svc.SetDriverIDs(runDriverIDs)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("received signal %v, shutting down", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		logger.Errorf("agent stop: %v", err)
	}

	logger.Infof("shutdown complete")
	return nil
}

// buildSink composes the event sinks: an in-process broadcaster always,
// plus NATS when configured. NATS failures degrade to local-only events.
func buildSink(cfg *config.Config, logger *logging.Logger) (events.Sink, func()) {
	broadcaster := events.NewBroadcaster()

	if cfg.NATSURL == "" {
		return broadcaster, func() { broadcaster.Close() }
	}

	natsSink, err := events.NewNATSSink(cfg.NATSURL)
	if err != nil {
		logger.Warnf("NATS sink unavailable, events stay local: %v", err)
		return broadcaster, func() { broadcaster.Close() }
	}

	multi := events.NewMulti(broadcaster, natsSink)
	return multi, func() {
		broadcaster.Close()
		natsSink.Close()
	}
}
