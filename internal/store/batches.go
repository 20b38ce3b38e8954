package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

// LoadBatch upserts a batch keyed by (pipelineID, batchID). The upsert
// makes the load stage idempotent under at-least-once redelivery: a
// retried job overwrites its own earlier partial load instead of
// duplicating rows.
func (s *Store) LoadBatch(ctx context.Context, pipelineID, batchID string, mode models.PipelineMode, rows []map[string]interface{}) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode batch")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loaded_batches (pipeline_id, batch_id, mode, row_count, rows, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (pipeline_id, batch_id) DO UPDATE SET
			mode = excluded.mode,
			row_count = excluded.row_count,
			rows = excluded.rows,
			loaded_at = excluded.loaded_at`,
		pipelineID, batchID, string(mode), len(rows), string(payload), time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to upsert batch")
	}
	return nil
}

// GetBatch reads back a loaded batch
func (s *Store) GetBatch(ctx context.Context, pipelineID, batchID string) ([]map[string]interface{}, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT rows FROM loaded_batches WHERE pipeline_id = ? AND batch_id = ?`,
		pipelineID, batchID).Scan(&payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "batch not found")
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode batch")
	}
	return rows, nil
}

// CountBatches returns the number of batches loaded for a pipeline
func (s *Store) CountBatches(ctx context.Context, pipelineID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loaded_batches WHERE pipeline_id = ?`, pipelineID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeData, "failed to count batches")
	}
	return n, nil
}
