package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st.DB(), cfg)
}

func payload(pipelineID, executionID string) models.QueueJob {
	return models.QueueJob{
		PipelineID:  pipelineID,
		ExecutionID: executionID,
		SourceType:  "postgres",
	}
}

func TestQueue_EnqueueClaimAck(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))

	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "p-1", job.Payload.PipelineID)
	assert.Equal(t, "e-1", job.Payload.ExecutionID)
	assert.Equal(t, 1, job.Attempts)

	require.NoError(t, q.Ack(ctx, job))

	n, err := q.Depth(ctx, "PENDING")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_WillRetry(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())

	transient := errors.New(errors.ErrorTypeConnection, "refused")
	terminal := errors.New(errors.ErrorTypeQualityGate, "gate closed")

	// Mirrors the Nack decision: retryable cause under the attempt budget
	assert.True(t, q.WillRetry(&Job{Attempts: 1}, transient))
	assert.True(t, q.WillRetry(&Job{Attempts: 2}, transient))
	assert.False(t, q.WillRetry(&Job{Attempts: 3}, transient))
	assert.False(t, q.WillRetry(&Job{Attempts: 1}, terminal))
}

func TestQueue_ClaimEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	job, err := q.Claim(context.Background(), "worker-0")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_ClaimOldestFirst(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	require.NoError(t, q.Enqueue(ctx, payload("p-2", "e-2")))

	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "e-1", job.Payload.ExecutionID)
}

func TestQueue_PerPipelineSerialization(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-2")))
	require.NoError(t, q.Enqueue(ctx, payload("p-2", "e-3")))

	first, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "e-1", first.Payload.ExecutionID)

	// The second job for p-1 must wait; the p-2 job is claimable
	second, err := q.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "p-2", second.Payload.PipelineID)

	third, err := q.Claim(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, third)

	// Releasing p-1's lease makes its next job claimable
	require.NoError(t, q.Ack(ctx, first))
	fourth, err := q.Claim(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, fourth)
	assert.Equal(t, "e-2", fourth.Payload.ExecutionID)
}

func TestQueue_NackRetryableRequeuesWithBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Hour // keep the job out of reach after requeue
	q := newTestQueue(t, cfg)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, job)

	cause := errors.New(errors.ErrorTypeConnection, "source unreachable")
	require.NoError(t, q.Nack(ctx, job, cause))

	n, err := q.Depth(ctx, "PENDING")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Backoff keeps the job invisible until next_attempt_at
	again, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueue_NackRetryableImmediateRedelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Nanosecond
	q := newTestQueue(t, cfg)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Nack(ctx, job, errors.New(errors.ErrorTypeTimeout, "query timed out")))
	time.Sleep(10 * time.Millisecond)

	again, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
}

func TestQueue_NackTerminalFailsImmediately(t *testing.T) {
	q := newTestQueue(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, job)

	// Quality gate aborts are terminal: no retry even on attempt 1
	cause := errors.New(errors.ErrorTypeQualityGate, "quality gate failed with 3 violations")
	require.NoError(t, q.Nack(ctx, job, cause))

	failed, err := q.Depth(ctx, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	pending, err := q.Depth(ctx, "PENDING")
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestQueue_AttemptBudgetExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BackoffBase = time.Nanosecond
	q := newTestQueue(t, cfg)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	cause := errors.New(errors.ErrorTypeTransient, "flaky source")

	for attempt := 1; attempt <= 3; attempt++ {
		time.Sleep(10 * time.Millisecond)
		job, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should be claimable", attempt)
		assert.Equal(t, attempt, job.Attempts)
		require.NoError(t, q.Nack(ctx, job, cause))
	}

	// The third nack exhausts the budget
	failed, err := q.Depth(ctx, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_LeaseExpiryRedelivers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LeaseDuration = time.Millisecond
	q := newTestQueue(t, cfg)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-1")))
	job, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, job)

	// Simulate a crashed worker: the in-process lease goes away but the
	// row stays CLAIMED
	q.release(job.Payload.PipelineID)
	time.Sleep(10 * time.Millisecond)

	again, err := q.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestQueue_FailedRetention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionFailed = 2
	q := newTestQueue(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, payload("p-1", "e-"+string(rune('a'+i)))))
		job, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, q.Nack(ctx, job, errors.New(errors.ErrorTypeValidation, "bad query")))
	}

	failed, err := q.Depth(ctx, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
}

func TestQueue_Backoff(t *testing.T) {
	q := New(nil, Config{BackoffBase: 2 * time.Second, BackoffMax: 5 * time.Second})
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 4*time.Second, q.backoff(2))
	assert.Equal(t, 5*time.Second, q.backoff(3))
}
