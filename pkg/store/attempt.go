package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FixAttempt lifecycle states.
const (
	AttemptPending         = "pending"
	AttemptPendingApproval = "pending_approval"
	AttemptApproved        = "approved"
	AttemptRejected        = "rejected"
	AttemptExecuting       = "executing"
	AttemptSuccess         = "success"
	AttemptFailed          = "failed"
)

// FixAttempt is one execution of a strategy against a violation.
// A violation has zero or many attempts; the most recent active one is
// authoritative. Attempts are never auto-deleted.
type FixAttempt struct {
	ID              string
	ViolationID     string
	StrategyName    string
	Status          string
	ResultMessage   string
	ExecutionTimeMs int
	ScreenshotPath  string
	Retries         int
	ApprovedBy      string
	ApprovedAt      *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// AttemptRepo persists FixAttempt records.
type AttemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates a fix attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db.Conn()}
}

// Create persists a new attempt. Fills ID, Status, and StartedAt when unset.
func (r *AttemptRepo) Create(ctx context.Context, a *FixAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = AttemptPending
	}
	if a.StartedAt == nil {
		now := time.Now().UTC()
		a.StartedAt = &now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fix_attempts (id, violation_id, strategy_name, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.ViolationID, a.StrategyName, a.Status, a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create fix attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepo) GetByID(ctx context.Context, id string) (*FixAttempt, error) {
	row := r.db.QueryRowContext(ctx, selectAttempt+" WHERE id = ?", id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fix attempt %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fix attempt: %w", err)
	}
	return a, nil
}

// ListByViolation returns all attempts for a violation, newest first.
func (r *AttemptRepo) ListByViolation(ctx context.Context, violationID string) ([]*FixAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		selectAttempt+" WHERE violation_id = ? ORDER BY created_at DESC", violationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fix attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*FixAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fix attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// FindApproved returns the most recent approved-but-unexecuted attempt for a
// violation, or nil when none exists. Dispatch consults this before creating
// a fresh attempt so an out-of-band approval is executed rather than re-gated.
func (r *AttemptRepo) FindApproved(ctx context.Context, violationID string) (*FixAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		selectAttempt+" WHERE violation_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1",
		violationID, AttemptApproved)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find approved attempt: %w", err)
	}
	return a, nil
}

// SetStatus transitions an attempt to the given status.
func (r *AttemptRepo) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE fix_attempts SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt status: %w", err)
	}
	return nil
}

// Approve records an approval decision made by an external actor.
func (r *AttemptRepo) Approve(ctx context.Context, id, approver string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fix_attempts SET status = ?, approved_by = ?, approved_at = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		AttemptApproved, approver, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to approve attempt: %w", err)
	}
	return nil
}

// Reject records a rejection decision made by an external actor.
func (r *AttemptRepo) Reject(ctx context.Context, id, approver string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fix_attempts SET status = ?, approved_by = ?, approved_at = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		AttemptRejected, approver, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reject attempt: %w", err)
	}
	return nil
}

// Complete records the final outcome of an attempt execution.
func (r *AttemptRepo) Complete(ctx context.Context, id, status, message string, executionTimeMs, retries int, screenshotPath string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fix_attempts SET status = ?, result_message = ?, execution_time_ms = ?,
		 retries = ?, screenshot_path = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status, message, executionTimeMs, retries, screenshotPath, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	return nil
}

const selectAttempt = `SELECT id, violation_id, strategy_name, status,
	result_message, execution_time_ms, screenshot_path, retries,
	approved_by, approved_at, started_at, completed_at FROM fix_attempts`

func scanAttempt(row rowScanner) (*FixAttempt, error) {
	var (
		a           FixAttempt
		message     sql.NullString
		execMs      sql.NullInt64
		screenshot  sql.NullString
		approvedBy  sql.NullString
		approvedAt  sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(&a.ID, &a.ViolationID, &a.StrategyName, &a.Status,
		&message, &execMs, &screenshot, &a.Retries,
		&approvedBy, &approvedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	a.ResultMessage = message.String
	a.ExecutionTimeMs = int(execMs.Int64)
	a.ScreenshotPath = screenshot.String
	a.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		a.ApprovedAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		a.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}
