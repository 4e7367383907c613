package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Violation lifecycle states.
const (
	ViolationPending = "pending"
	ViolationFixing  = "fixing"
	ViolationFixed   = "fixed"
	ViolationFailed  = "failed"
	ViolationIgnored = "ignored"
)

// Violation is one detected compliance issue tied to a driver and company.
type Violation struct {
	ID           string
	LogID        string
	EventID      string
	DriverID     string
	DriverName   string
	CompanyID    string
	CompanyName  string
	Key          string
	Name         string
	Message      string
	Severity     string
	Category     string
	Status       string
	Metadata     map[string]interface{}
	DiscoveredAt time.Time
	FixedAt      *time.Time
}

// ViolationRepo persists Violation records.
type ViolationRepo struct {
	db *sql.DB
}

// NewViolationRepo creates a violation repository.
func NewViolationRepo(db *DB) *ViolationRepo {
	return &ViolationRepo{db: db.Conn()}
}

// InsertIfNew inserts the violation unless an open record already exists for
// the same (driver, key, message). The check and insert run in one transaction
// so overlapping poll cycles cannot create duplicate remediation work.
// Returns true if a new record was created.
func (r *ViolationRepo) InsertIfNew(ctx context.Context, v *Violation) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM violations
		 WHERE driver_id = ? AND violation_key = ? AND message = ?
		   AND status IN (?, ?)`,
		v.DriverID, v.Key, v.Message, ViolationPending, ViolationFixing,
	).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to check for existing violation: %w", err)
	}

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = ViolationPending
	}
	if v.DiscoveredAt.IsZero() {
		v.DiscoveredAt = time.Now().UTC()
	}

	metadata, err := encodeMetadata(v.Metadata)
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO violations
		 (id, log_id, event_id, driver_id, driver_name, company_id, company_name,
		  violation_key, violation_name, message, severity, category, status,
		  metadata, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.LogID, v.EventID, v.DriverID, v.DriverName, v.CompanyID, v.CompanyName,
		v.Key, v.Name, v.Message, v.Severity, v.Category, v.Status,
		metadata, v.DiscoveredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert violation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit violation insert: %w", err)
	}
	return true, nil
}

// GetByID retrieves a violation by its ID.
func (r *ViolationRepo) GetByID(ctx context.Context, id string) (*Violation, error) {
	row := r.db.QueryRowContext(ctx, selectViolation+" WHERE id = ?", id)
	v, err := scanViolation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("violation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return v, nil
}

// ListPending returns up to limit pending violations, oldest first.
func (r *ViolationRepo) ListPending(ctx context.Context, limit int) ([]*Violation, error) {
	rows, err := r.db.QueryContext(ctx,
		selectViolation+" WHERE status = ? ORDER BY discovered_at ASC LIMIT ?",
		ViolationPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending violations: %w", err)
	}
	defer rows.Close()

	var violations []*Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// ListByStatus returns all violations in the given status, oldest first.
func (r *ViolationRepo) ListByStatus(ctx context.Context, status string) ([]*Violation, error) {
	rows, err := r.db.QueryContext(ctx,
		selectViolation+" WHERE status = ? ORDER BY discovered_at ASC", status)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []*Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// SetStatus transitions a violation to the given status.
func (r *ViolationRepo) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE violations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update violation status: %w", err)
	}
	return nil
}

// MarkFixed transitions a violation to fixed and stamps fixed_at.
func (r *ViolationRepo) MarkFixed(ctx context.Context, id string, when time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE violations SET status = ?, fixed_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		ViolationFixed, when.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark violation fixed: %w", err)
	}
	return nil
}

const selectViolation = `SELECT id, log_id, event_id, driver_id, driver_name,
	company_id, company_name, violation_key, violation_name, message, severity,
	category, status, metadata, discovered_at, fixed_at FROM violations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (*Violation, error) {
	var (
		v           Violation
		logID       sql.NullString
		eventID     sql.NullString
		driverName  sql.NullString
		companyName sql.NullString
		message     sql.NullString
		category    sql.NullString
		metadata    sql.NullString
		fixedAt     sql.NullTime
	)

	err := row.Scan(&v.ID, &logID, &eventID, &v.DriverID, &driverName,
		&v.CompanyID, &companyName, &v.Key, &v.Name, &message, &v.Severity,
		&category, &v.Status, &metadata, &v.DiscoveredAt, &fixedAt)
	if err != nil {
		return nil, err
	}

	v.LogID = logID.String
	v.EventID = eventID.String
	v.DriverName = driverName.String
	v.CompanyName = companyName.String
	v.Message = message.String
	v.Category = category.String
	if fixedAt.Valid {
		t := fixedAt.Time
		v.FixedAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode violation metadata: %w", err)
		}
	}
	return &v, nil
}

func encodeMetadata(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
