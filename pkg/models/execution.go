package models

import (
	"fmt"
	"time"
)

// ExecutionStatus tracks a job through its lifecycle. The only legal
// transitions are PENDING → PROCESSING → COMPLETED|FAILED; terminal
// executions are immutable.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionProcessing ExecutionStatus = "PROCESSING"
	ExecutionCompleted  ExecutionStatus = "COMPLETED"
	ExecutionFailed     ExecutionStatus = "FAILED"
)

// IsTerminal reports whether the status is COMPLETED or FAILED
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// JobExecution is one timestamped attempt to run a pipeline. Created
// PENDING at enqueue time and mutated exclusively by the worker.
type JobExecution struct {
	ID            string          `json:"id"`
	PipelineID    string          `json:"pipelineId"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	DurationMs    int64           `json:"durationMs"`
	RowsProcessed int64           `json:"rowsProcessed"`
	Log           []string        `json:"log"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Stage names used to tag execution log lines
const (
	StageExtract   = "EXTRACT"
	StageTransform = "TRANSFORM"
	StageQuality   = "QUALITY"
	StageLoad      = "LOAD"
	StageError     = "ERROR"
)

// AppendLog appends a stage-tagged, human-readable log line, e.g.
// "[EXTRACT] Extracted 100 rows."
func (e *JobExecution) AppendLog(stage, format string, args ...interface{}) {
	e.Log = append(e.Log, fmt.Sprintf("[%s] ", stage)+fmt.Sprintf(format, args...))
}

// QueueJob is the payload enqueued for each triggered run
type QueueJob struct {
	PipelineID  string `json:"pipelineId"`
	ExecutionID string `json:"executionId"`
	SourceType  string `json:"sourceType"`
}
