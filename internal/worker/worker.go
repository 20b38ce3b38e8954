// Package worker runs the pipeline execution pool. A fixed number of
// goroutines drain the queue; each job walks extract, transform,
// quality and load, owning its execution record exclusively. Jobs share
// no mutable state.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/internal/queue"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/models"
	"github.com/flowforge/flowforge/pkg/quality"
	"github.com/flowforge/flowforge/pkg/transform"
)

// Config tunes the pool
type Config struct {
	Concurrency        int
	PollInterval       time.Duration
	RetentionCompleted int
	RetentionFailed    int
}

// DefaultConfig returns the pool defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:        5,
		PollInterval:       time.Second,
		RetentionCompleted: 100,
		RetentionFailed:    500,
	}
}

// Pool drains the queue with a fixed number of workers
type Pool struct {
	store  *store.Store
	queue  *queue.Queue
	cfg    Config
	logger *zap.Logger
}

// New creates a worker pool
func New(st *store.Store, q *queue.Queue, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		store:  st,
		queue:  q,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "worker")),
	}
}

// Run blocks until ctx is cancelled, processing jobs with Concurrency
// goroutines. Jobs in flight finish before Run returns; there is no
// mid-flight cancellation once a job is claimed.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			job, err := p.queue.Claim(ctx, workerID)
			if err != nil {
				p.logger.Error("claim failed", zap.Error(err))
				break
			}
			if job == nil {
				break
			}
			p.handle(ctx, job)
		}
	}
}

// handle runs one job and settles it with the queue. The job's own
// error decides ack vs nack; the queue decides redelivery.
func (p *Pool) handle(ctx context.Context, job *queue.Job) {
	log := p.logger.With(
		zap.String("pipeline_id", job.Payload.PipelineID),
		zap.String("execution_id", job.Payload.ExecutionID))

	err := p.execute(ctx, job)
	if err == nil {
		metrics.ExecutionsTotal.WithLabelValues("completed").Inc()
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
		return
	}

	metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
	log.Warn("execution failed", zap.Error(err))
	if nackErr := p.queue.Nack(ctx, job, err); nackErr != nil {
		log.Error("nack failed", zap.Error(nackErr))
	}
}

// execute walks the stage machine for one claimed job
func (p *Pool) execute(ctx context.Context, job *queue.Job) error {
	exec, err := p.store.GetExecution(ctx, job.Payload.ExecutionID)
	if err != nil {
		return err
	}
	// A redelivered job whose execution already finished is a no-op.
	// Retryable failures leave the execution PENDING, so a terminal
	// status here means the outcome is already settled.
	if exec.Status.IsTerminal() {
		return nil
	}

	started := time.Now().UTC()
	exec.Status = models.ExecutionProcessing
	exec.StartedAt = &started
	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	pipeline, err := p.store.GetPipeline(ctx, job.Payload.PipelineID)
	if err != nil {
		return p.fail(ctx, job, exec, started, err)
	}

	rows, err := p.runStages(ctx, pipeline, exec)
	if err != nil {
		return p.fail(ctx, job, exec, started, err)
	}

	completed := time.Now().UTC()
	exec.Status = models.ExecutionCompleted
	exec.CompletedAt = &completed
	exec.DurationMs = completed.Sub(started).Milliseconds()
	exec.RowsProcessed = int64(rows)
	exec.Error = ""
	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := p.store.UpdatePipelineRunState(ctx, pipeline.ID, completed, models.RunStatusSuccess); err != nil {
		return err
	}
	metrics.RowsProcessedTotal.WithLabelValues(pipeline.ID).Add(float64(rows))

	// Retention is best effort; a failed prune never fails the run
	if err := p.store.PruneExecutions(ctx, pipeline.ID, p.cfg.RetentionCompleted, p.cfg.RetentionFailed); err != nil {
		p.logger.Warn("execution prune failed", zap.Error(err))
	}
	return nil
}

// fail records a failed attempt and returns the original error so the
// queue's retry policy can evaluate it. While the queue will redeliver
// the job, the execution goes back to PENDING and the next attempt
// re-runs the stages; the FAILED stamp and the pipeline lastStatus
// wait for the final attempt. The stored error is the structured
// message, never a stack trace.
func (p *Pool) fail(ctx context.Context, job *queue.Job, exec *models.JobExecution, started time.Time, cause error) error {
	exec.AppendLog(models.StageError, "%s", cause.Error())
	exec.Error = cause.Error()

	if p.queue.WillRetry(job, cause) {
		exec.Status = models.ExecutionPending
		exec.StartedAt = nil
		if err := p.store.UpdateExecution(ctx, exec); err != nil {
			p.logger.Error("failed to store execution retry state", zap.Error(err))
		}
		return cause
	}

	completed := time.Now().UTC()
	exec.Status = models.ExecutionFailed
	exec.CompletedAt = &completed
	exec.DurationMs = completed.Sub(started).Milliseconds()

	if err := p.store.UpdateExecution(ctx, exec); err != nil {
		p.logger.Error("failed to store execution failure", zap.Error(err))
	}
	if err := p.store.UpdatePipelineRunState(ctx, exec.PipelineID, completed, models.RunStatusFailed); err != nil {
		p.logger.Error("failed to store pipeline failure", zap.Error(err))
	}
	return cause
}

// runStages performs extract, transform, quality and load, returning
// the number of rows loaded.
func (p *Pool) runStages(ctx context.Context, pipeline *models.Pipeline, exec *models.JobExecution) (int, error) {
	conn, err := registry.Create(pipeline.SourceType, pipeline.SourceConfig)
	if err != nil {
		return 0, err
	}
	// The connector session is released on every exit path
	defer func() {
		if err := conn.Disconnect(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("disconnect failed", zap.Error(err))
		}
	}()

	// EXTRACT
	stageStart := time.Now()
	result, err := conn.ExecuteQuery(ctx, pipeline.Query)
	if err != nil {
		return 0, err
	}
	metrics.StageDuration.WithLabelValues(models.StageExtract).Observe(time.Since(stageStart).Seconds())
	exec.AppendLog(models.StageExtract, "Extracted %d rows.", result.RowCount)

	rows := result.Rows

	// TRANSFORM applies in ETL mode only; ELT loads the raw batch
	if pipeline.Mode == models.ModeETL && len(pipeline.Steps) > 0 {
		stageStart = time.Now()
		transformed, report, err := transform.Apply(rows, pipeline.Steps)
		if err != nil {
			return 0, err
		}
		rows = transformed
		metrics.StageDuration.WithLabelValues(models.StageTransform).Observe(time.Since(stageStart).Seconds())
		exec.AppendLog(models.StageTransform, "Applied %d steps, dropped %d rows in %dms.",
			len(report.Steps), report.RowsDropped, time.Since(stageStart).Milliseconds())
	}

	// QUALITY gate: FAIL severity aborts before load
	if len(pipeline.QualityRules) > 0 {
		stageStart = time.Now()
		checked, err := quality.Check(rows, pipeline.QualityRules)
		if err != nil {
			return 0, err
		}
		metrics.StageDuration.WithLabelValues(models.StageQuality).Observe(time.Since(stageStart).Seconds())
		exec.AppendLog(models.StageQuality, "Found %d violations.", checked.TotalViolations)
		if checked.HasFailures() {
			return 0, errors.Newf(errors.ErrorTypeQualityGate,
				"quality gate failed with %d violations", checked.TotalViolations)
		}
	}

	// LOAD: upsert keyed by (pipelineID, batchID). The execution id is
	// the batch id, so a redelivered job overwrites its earlier load.
	stageStart = time.Now()
	if err := p.store.LoadBatch(ctx, pipeline.ID, exec.ID, pipeline.Mode, rows); err != nil {
		return 0, err
	}
	metrics.StageDuration.WithLabelValues(models.StageLoad).Observe(time.Since(stageStart).Seconds())
	if pipeline.Mode == models.ModeELT {
		exec.AppendLog(models.StageLoad, "Loaded %d raw rows, handed off to destination transform.", len(rows))
	} else {
		exec.AppendLog(models.StageLoad, "Loaded %d rows.", len(rows))
	}

	return len(rows), nil
}
