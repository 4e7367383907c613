package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Agent lifecycle states stored in the singleton config row.
const (
	AgentStopped = "stopped"
	AgentRunning = "running"
	AgentPaused  = "paused"
)

// AgentConfig is the singleton operator-tunable configuration row.
// The agent loop reloads it every cycle so operator changes take effect
// on the next cycle without a restart.
type AgentConfig struct {
	ID                     int64
	State                  string
	PollingIntervalSeconds int
	MaxConcurrentFixes     int
	RequireApproval        bool
	DryRunMode             bool
	LastRunAt              *time.Time
}

// ConfigRepo persists the singleton AgentConfig row.
type ConfigRepo struct {
	db *sql.DB
}

// NewConfigRepo creates an agent config repository.
func NewConfigRepo(db *DB) *ConfigRepo {
	return &ConfigRepo{db: db.Conn()}
}

// Defaults used when no config row exists yet. Conservative: approval
// required and dry run on until an operator opts in to live fixes.
var defaultConfig = AgentConfig{
	State:                  AgentStopped,
	PollingIntervalSeconds: 300,
	MaxConcurrentFixes:     1,
	RequireApproval:        true,
	DryRunMode:             true,
}

// Load returns the singleton config row, creating it with defaults when absent.
func (r *ConfigRepo) Load(ctx context.Context) (*AgentConfig, error) {
	cfg, err := r.get(ctx)
	if err == sql.ErrNoRows {
		return r.create(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}
	return cfg, nil
}

// Update persists operator-tunable fields of the config row.
func (r *ConfigRepo) Update(ctx context.Context, cfg *AgentConfig) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE agent_config SET state = ?, polling_interval_seconds = ?,
		 max_concurrent_fixes = ?, require_approval = ?, dry_run_mode = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cfg.State, cfg.PollingIntervalSeconds, cfg.MaxConcurrentFixes,
		cfg.RequireApproval, cfg.DryRunMode, cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent config: %w", err)
	}
	return nil
}

// SetState transitions the agent state and stamps last_run_at.
func (r *ConfigRepo) SetState(ctx context.Context, state string) error {
	cfg, err := r.Load(ctx)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE agent_config SET state = ?, last_run_at = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		state, time.Now().UTC(), cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to set agent state: %w", err)
	}
	return nil
}

func (r *ConfigRepo) get(ctx context.Context) (*AgentConfig, error) {
	var (
		cfg       AgentConfig
		lastRunAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, state, polling_interval_seconds, max_concurrent_fixes,
		 require_approval, dry_run_mode, last_run_at FROM agent_config LIMIT 1`,
	).Scan(&cfg.ID, &cfg.State, &cfg.PollingIntervalSeconds, &cfg.MaxConcurrentFixes,
		&cfg.RequireApproval, &cfg.DryRunMode, &lastRunAt)
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		cfg.LastRunAt = &t
	}
	return &cfg, nil
}

func (r *ConfigRepo) create(ctx context.Context) (*AgentConfig, error) {
	cfg := defaultConfig
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO agent_config (state, polling_interval_seconds,
		 max_concurrent_fixes, require_approval, dry_run_mode)
		 VALUES (?, ?, ?, ?, ?)`,
		cfg.State, cfg.PollingIntervalSeconds, cfg.MaxConcurrentFixes,
		cfg.RequireApproval, cfg.DryRunMode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create default agent config: %w", err)
	}
	cfg.ID, _ = res.LastInsertId()
	return &cfg, nil
}
