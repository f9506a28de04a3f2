package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SummaryJob mirrors a row of the summary_jobs table: the lifecycle of one
// asynchronous summarization invocation.
type SummaryJob struct {
	ID           string
	GroupID      sql.NullInt64
	Hours        sql.NullInt64
	Mode         sql.NullString
	Status       sql.NullString
	Progress     int
	ProgressText sql.NullString
	Result       sql.NullString
	ErrorMsg     sql.NullString
	CreatedAt    string
	UpdatedAt    string
}

// CreateSummaryJob inserts a new job row in "running" state at 0 progress.
func (s *Store) CreateSummaryJob(ctx context.Context, id string, groupID sql.NullInt64, hours int, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_jobs (id, group_id, hours, mode, status, progress, progress_text)
		VALUES (?, ?, ?, ?, 'running', 0, 'initializing...')`,
		id, groupID, hours, mode,
	)
	if err != nil {
		return fmt.Errorf("store: create summary job %s: %w", id, err)
	}
	return nil
}

// SummaryJobUpdate is a partial update: only non-nil fields are written,
// and updated_at always advances.
type SummaryJobUpdate struct {
	Status       *string
	Progress     *int
	ProgressText *string
	Result       *string
	ErrorMsg     *string
}

// UpdateSummaryJob applies a partial update to a job row.
func (s *Store) UpdateSummaryJob(ctx context.Context, id string, u SummaryJobUpdate) error {
	var sets []string
	var args []any

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *u.Progress)
	}
	if u.ProgressText != nil {
		sets = append(sets, "progress_text = ?")
		args = append(args, *u.ProgressText)
	}
	if u.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *u.Result)
	}
	if u.ErrorMsg != nil {
		sets = append(sets, "error_msg = ?")
		args = append(args, *u.ErrorMsg)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = datetime('now')")

	query := "UPDATE summary_jobs SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: update summary job %s: %w", id, err)
	}
	return nil
}

// GetSummaryJob returns a job by id, or (SummaryJob{}, false, nil) if
// absent.
func (s *Store) GetSummaryJob(ctx context.Context, id string) (SummaryJob, bool, error) {
	var j SummaryJob
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, hours, mode, status, progress, progress_text, result, error_msg, created_at, updated_at
		FROM summary_jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.GroupID, &j.Hours, &j.Mode, &j.Status, &j.Progress, &j.ProgressText, &j.Result, &j.ErrorMsg, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return SummaryJob{}, false, nil
	}
	if err != nil {
		return SummaryJob{}, false, fmt.Errorf("store: get summary job %s: %w", id, err)
	}
	return j, true, nil
}
