// Package queue is the durable sqlite-backed job queue. Delivery is
// at-least-once: a claimed job whose worker dies is redelivered after
// its lease expires, so consumers must be idempotent. Jobs for the same
// pipeline are serialized: the claim query refuses a job while another
// job for that pipeline holds a lease.
package queue

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/models"
)

// Job states in the queue_jobs table
const (
	statePending = "PENDING"
	stateClaimed = "CLAIMED"
	stateFailed  = "FAILED"
)

// Job is one claimed queue entry
type Job struct {
	ID       int64
	Payload  models.QueueJob
	Attempts int
}

// Config tunes retry and retention behavior
type Config struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	LeaseDuration   time.Duration
	RetentionFailed int
}

// DefaultConfig returns the queue defaults: 3 attempts, exponential
// backoff from 2s, 10 minute lease.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		BackoffMax:      5 * time.Minute,
		LeaseDuration:   10 * time.Minute,
		RetentionFailed: 500,
	}
}

// Queue coordinates job claim and acknowledgement over sqlite
type Queue struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger

	// leases guards per-pipeline serialization inside this process in
	// addition to the claim query, closing the window between SELECT
	// and UPDATE.
	mu     sync.Mutex
	leases map[string]bool
}

// New creates a queue over an already migrated store handle
func New(db *sql.DB, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 10 * time.Minute
	}
	return &Queue{
		db:     db,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "queue")),
		leases: make(map[string]bool),
	}
}

// Enqueue adds a job in PENDING state, eligible immediately
func (q *Queue) Enqueue(ctx context.Context, payload models.QueueJob) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_jobs (pipeline_id, execution_id, source_type, state, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		payload.PipelineID, payload.ExecutionID, payload.SourceType, statePending, now, now)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to enqueue job")
	}
	metrics.QueueDepth.WithLabelValues(statePending).Inc()
	q.logger.Debug("job enqueued",
		zap.String("pipeline_id", payload.PipelineID),
		zap.String("execution_id", payload.ExecutionID))
	return nil
}

// Claim atomically takes the oldest eligible job for this worker.
// Returns nil when nothing is claimable. A job is eligible when it is
// PENDING and due, or CLAIMED past its lease (crashed worker), and no
// other live claim exists for its pipeline.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	leaseCutoff := now.Add(-q.cfg.LeaseDuration)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT j.id, j.pipeline_id, j.execution_id, j.source_type, j.attempts
		FROM queue_jobs j
		WHERE (
			(j.state = ? AND j.next_attempt_at <= ?)
			OR (j.state = ? AND j.claimed_at <= ?)
		)
		AND NOT EXISTS (
			SELECT 1 FROM queue_jobs other
			WHERE other.pipeline_id = j.pipeline_id
			AND other.state = ? AND other.claimed_at > ?
		)
		ORDER BY j.id LIMIT 10`,
		statePending, now, stateClaimed, leaseCutoff, stateClaimed, leaseCutoff)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "claim query failed")
	}

	var candidate *Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Payload.PipelineID, &j.Payload.ExecutionID,
			&j.Payload.SourceType, &j.Attempts); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan queue job")
		}
		// Skip pipelines this process is already running
		if q.leases[j.Payload.PipelineID] {
			continue
		}
		candidate = &j
		break
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "claim iteration failed")
	}
	if candidate == nil {
		return nil, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_jobs
		SET state = ?, claimed_by = ?, claimed_at = ?, attempts = attempts + 1
		WHERE id = ? AND state IN (?, ?)`,
		stateClaimed, workerID, now, candidate.ID, statePending, stateClaimed)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "claim update failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "claim commit failed")
	}

	candidate.Attempts++
	q.leases[candidate.Payload.PipelineID] = true
	metrics.QueueDepth.WithLabelValues(statePending).Dec()
	metrics.QueueDepth.WithLabelValues(stateClaimed).Inc()

	q.logger.Debug("job claimed",
		zap.Int64("job_id", candidate.ID),
		zap.String("worker_id", workerID),
		zap.Int("attempt", candidate.Attempts))
	return candidate, nil
}

// Ack removes a successfully processed job and releases its lease
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	defer q.release(job.Payload.PipelineID)

	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?`, job.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to ack job")
	}
	metrics.QueueDepth.WithLabelValues(stateClaimed).Dec()
	return nil
}

// WillRetry reports whether nacking the job with this cause would
// redeliver it. Consumers use it to defer terminal bookkeeping until
// the failure is final.
func (q *Queue) WillRetry(job *Job, cause error) bool {
	return errors.IsRetryable(cause) && job.Attempts < q.cfg.MaxAttempts
}

// Nack returns a failed job to the queue. Retryable errors under the
// attempt budget are redelivered with exponential backoff; terminal
// errors and exhausted jobs land in FAILED, retained for inspection.
func (q *Queue) Nack(ctx context.Context, job *Job, cause error) error {
	defer q.release(job.Payload.PipelineID)

	retry := q.WillRetry(job, cause)
	metrics.QueueDepth.WithLabelValues(stateClaimed).Dec()

	if !retry {
		_, err := q.db.ExecContext(ctx, `
			UPDATE queue_jobs SET state = ?, last_error = ? WHERE id = ?`,
			stateFailed, cause.Error(), job.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to mark job failed")
		}
		metrics.QueueDepth.WithLabelValues(stateFailed).Inc()
		q.logger.Warn("job exhausted",
			zap.Int64("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause))
		return q.pruneFailed(ctx)
	}

	delay := q.backoff(job.Attempts)
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_jobs SET state = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		statePending, cause.Error(), time.Now().UTC().Add(delay), job.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to requeue job")
	}
	metrics.QueueDepth.WithLabelValues(statePending).Inc()
	q.logger.Info("job requeued",
		zap.Int64("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("backoff", delay))
	return nil
}

// Depth returns the number of jobs in a given state
func (q *Queue) Depth(ctx context.Context, state string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_jobs WHERE state = ?`, state).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeData, "failed to read queue depth")
	}
	return n, nil
}

// backoff grows exponentially with each attempt, capped at BackoffMax
func (q *Queue) backoff(attempt int) time.Duration {
	d := time.Duration(float64(q.cfg.BackoffBase) * math.Pow(2, float64(attempt-1)))
	if q.cfg.BackoffMax > 0 && d > q.cfg.BackoffMax {
		d = q.cfg.BackoffMax
	}
	return d
}

func (q *Queue) release(pipelineID string) {
	q.mu.Lock()
	delete(q.leases, pipelineID)
	q.mu.Unlock()
}

// pruneFailed keeps the newest RetentionFailed FAILED jobs
func (q *Queue) pruneFailed(ctx context.Context) error {
	if q.cfg.RetentionFailed <= 0 {
		return nil
	}
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_jobs WHERE state = ? AND id NOT IN (
			SELECT id FROM queue_jobs WHERE state = ? ORDER BY id DESC LIMIT ?
		)`, stateFailed, stateFailed, q.cfg.RetentionFailed)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to prune failed jobs")
	}
	return nil
}
