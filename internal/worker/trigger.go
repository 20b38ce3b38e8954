package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/queue"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/pkg/models"
)

// Trigger turns "run now" requests into queued jobs. Both the API and
// the cron scheduler go through it.
type Trigger struct {
	store *store.Store
	queue *queue.Queue
}

// NewTrigger creates a trigger over the shared store and queue
func NewTrigger(st *store.Store, q *queue.Queue) *Trigger {
	return &Trigger{store: st, queue: q}
}

// Run creates a PENDING execution for the pipeline and enqueues the
// job. The execution exists before the job is visible, so a worker
// claiming instantly still finds it.
func (t *Trigger) Run(ctx context.Context, pipelineID string) (*models.JobExecution, error) {
	pipeline, err := t.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	exec := &models.JobExecution{
		ID:         uuid.NewString(),
		PipelineID: pipeline.ID,
		Status:     models.ExecutionPending,
		Log:        []string{},
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	err = t.queue.Enqueue(ctx, models.QueueJob{
		PipelineID:  pipeline.ID,
		ExecutionID: exec.ID,
		SourceType:  pipeline.SourceType,
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}
