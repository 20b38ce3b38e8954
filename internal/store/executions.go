package store

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

// CreateExecution inserts a PENDING execution at enqueue time
func (s *Store) CreateExecution(ctx context.Context, e *models.JobExecution) error {
	logJSON, err := json.Marshal(e.Log)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode execution log")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_executions (id, pipeline_id, status, duration_ms,
			rows_processed, log, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PipelineID, string(e.Status), e.DurationMs, e.RowsProcessed,
		string(logJSON), e.Error, e.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to insert execution")
	}
	return nil
}

// UpdateExecution persists the full mutable state of an execution. The
// worker owns every field past creation; terminal executions are never
// written again.
func (s *Store) UpdateExecution(ctx context.Context, e *models.JobExecution) error {
	logJSON, err := json.Marshal(e.Log)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode execution log")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE job_executions
		SET status = ?, started_at = ?, completed_at = ?, duration_ms = ?,
			rows_processed = ?, log = ?, error = ?
		WHERE id = ?`,
		string(e.Status), timeArg(e.StartedAt), timeArg(e.CompletedAt),
		e.DurationMs, e.RowsProcessed, string(logJSON), e.Error, e.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to update execution")
	}
	return nil
}

// GetExecution loads one execution by id
func (s *Store) GetExecution(ctx context.Context, id string) (*models.JobExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, status, started_at, completed_at, duration_ms,
			rows_processed, log, error, created_at
		FROM job_executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutions returns a pipeline's executions newest first
func (s *Store) ListExecutions(ctx context.Context, pipelineID string, limit int) ([]*models.JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_id, status, started_at, completed_at, duration_ms,
			rows_processed, log, error, created_at
		FROM job_executions WHERE pipeline_id = ?
		ORDER BY created_at DESC LIMIT ?`, pipelineID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to list executions")
	}
	defer rows.Close()

	var out []*models.JobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneExecutions keeps the newest keepCompleted COMPLETED and
// keepFailed FAILED executions per pipeline and deletes the rest.
func (s *Store) PruneExecutions(ctx context.Context, pipelineID string, keepCompleted, keepFailed int) error {
	prune := func(status models.ExecutionStatus, keep int) error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM job_executions
			WHERE pipeline_id = ? AND status = ? AND id NOT IN (
				SELECT id FROM job_executions
				WHERE pipeline_id = ? AND status = ?
				ORDER BY created_at DESC LIMIT ?
			)`, pipelineID, string(status), pipelineID, string(status), keep)
		return err
	}
	if err := prune(models.ExecutionCompleted, keepCompleted); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to prune completed executions")
	}
	if err := prune(models.ExecutionFailed, keepFailed); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to prune failed executions")
	}
	return nil
}

func scanExecution(row rowScanner) (*models.JobExecution, error) {
	var (
		e           models.JobExecution
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		logJSON     string
	)
	err := row.Scan(&e.ID, &e.PipelineID, &status, &startedAt, &completedAt,
		&e.DurationMs, &e.RowsProcessed, &logJSON, &e.Error, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrorTypeNotFound, "execution not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan execution")
	}

	e.Status = models.ExecutionStatus(status)
	e.StartedAt = nullTime(startedAt)
	e.CompletedAt = nullTime(completedAt)
	if err := json.Unmarshal([]byte(logJSON), &e.Log); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode execution log")
	}
	return &e, nil
}
