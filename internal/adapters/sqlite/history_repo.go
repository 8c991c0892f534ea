// Package sqlite contains SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/ecs-manage/internal/ports/secondary"
)

// HistoryRepository implements secondary.HistoryRepository with SQLite.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new SQLite history repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const outcomeColumns = `id, cluster, service, phase, status, revision_used, previous_revision, registered, scaled, desired_count, running_count, duration_ms, reason, error, escalated, started_at`

// Record persists the outcome of one invocation.
func (r *HistoryRepository) Record(ctx context.Context, record *secondary.OutcomeRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO outcomes (`+outcomeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Cluster,
		record.Service,
		record.Phase,
		record.Status,
		nullString(record.RevisionUsed),
		nullString(record.PreviousRevision),
		record.Registered,
		record.Scaled,
		record.DesiredCount,
		record.RunningCount,
		record.DurationMillis,
		nullString(record.Reason),
		nullString(record.Error),
		record.Escalated,
		record.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	return nil
}

// GetByID retrieves an outcome by its invocation ID.
func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*secondary.OutcomeRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM outcomes WHERE id = ?`, id)

	record, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("outcome %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}

	return record, nil
}

// List retrieves outcomes matching the given filters, newest first.
func (r *HistoryRepository) List(ctx context.Context, filters secondary.HistoryFilters) ([]*secondary.OutcomeRecord, error) {
	query := `SELECT ` + outcomeColumns + ` FROM outcomes WHERE 1=1`
	args := []any{}

	if filters.Cluster != "" {
		query += " AND cluster = ?"
		args = append(args, filters.Cluster)
	}

	if filters.Service != "" {
		query += " AND service = ?"
		args = append(args, filters.Service)
	}

	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var records []*secondary.OutcomeRecord
	for rows.Next() {
		record, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(s scanner) (*secondary.OutcomeRecord, error) {
	var (
		revisionUsed     sql.NullString
		previousRevision sql.NullString
		reason           sql.NullString
		errText          sql.NullString
	)

	record := &secondary.OutcomeRecord{}
	err := s.Scan(&record.ID, &record.Cluster, &record.Service, &record.Phase, &record.Status,
		&revisionUsed, &previousRevision, &record.Registered, &record.Scaled,
		&record.DesiredCount, &record.RunningCount, &record.DurationMillis,
		&reason, &errText, &record.Escalated, &record.StartedAt)
	if err != nil {
		return nil, err
	}
	record.RevisionUsed = revisionUsed.String
	record.PreviousRevision = previousRevision.String
	record.Reason = reason.String
	record.Error = errText.String

	return record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
