package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testPipeline(id string) *models.Pipeline {
	now := time.Now().UTC()
	return &models.Pipeline{
		ID:           id,
		Name:         "orders sync",
		WorkspaceID:  "ws-1",
		SourceType:   "postgres",
		SourceConfig: config.NewConnectionConfig("postgres"),
		Mode:         models.ModeETL,
		Query:        "SELECT * FROM orders",
		Steps: []models.TransformationStep{
			{Type: models.StepTrim, Column: "name"},
		},
		QualityRules: []models.QualityRule{
			{Column: "id", RuleType: models.RuleNotNull, Severity: models.SeverityFail},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_PipelineRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("p-1")
	require.NoError(t, st.CreatePipeline(ctx, p))

	got, err := st.GetPipeline(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.SourceType, got.SourceType)
	assert.Equal(t, models.ModeETL, got.Mode)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepTrim, got.Steps[0].Type)
	require.Len(t, got.QualityRules, 1)
	assert.Equal(t, models.SeverityFail, got.QualityRules[0].Severity)

	list, err := st.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.DeletePipeline(ctx, "p-1"))
	_, err = st.GetPipeline(ctx, "p-1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestStore_GetPipelineNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetPipeline(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestStore_UpdatePipelineRunState(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePipeline(ctx, testPipeline("p-1")))
	ranAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.UpdatePipelineRunState(ctx, "p-1", ranAt, models.RunStatusSuccess))

	got, err := st.GetPipeline(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, got.LastStatus)
	require.NotNil(t, got.LastRunAt)
	assert.WithinDuration(t, ranAt, *got.LastRunAt, time.Second)
}

func TestStore_ExecutionLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePipeline(ctx, testPipeline("p-1")))
	exec := &models.JobExecution{
		ID:         "e-1",
		PipelineID: "p-1",
		Status:     models.ExecutionPending,
		Log:        []string{},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateExecution(ctx, exec))

	started := time.Now().UTC()
	exec.Status = models.ExecutionProcessing
	exec.StartedAt = &started
	exec.AppendLog(models.StageExtract, "Extracted %d rows.", 100)
	require.NoError(t, st.UpdateExecution(ctx, exec))

	got, err := st.GetExecution(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionProcessing, got.Status)
	require.Len(t, got.Log, 1)
	assert.Equal(t, "[EXTRACT] Extracted 100 rows.", got.Log[0])

	list, err := st.ListExecutions(ctx, "p-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_PruneExecutions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreatePipeline(ctx, testPipeline("p-1")))

	for i := 0; i < 5; i++ {
		exec := &models.JobExecution{
			ID:         string(rune('a' + i)),
			PipelineID: "p-1",
			Status:     models.ExecutionCompleted,
			Log:        []string{},
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, st.CreateExecution(ctx, exec))
	}

	require.NoError(t, st.PruneExecutions(ctx, "p-1", 2, 10))

	list, err := st.ListExecutions(ctx, "p-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStore_LoadBatchUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := []map[string]interface{}{{"n": float64(1)}, {"n": float64(2)}}
	require.NoError(t, st.LoadBatch(ctx, "p-1", "b-1", models.ModeETL, first))

	// Redelivery overwrites the same batch instead of duplicating it
	second := []map[string]interface{}{{"n": float64(3)}}
	require.NoError(t, st.LoadBatch(ctx, "p-1", "b-1", models.ModeETL, second))

	rows, err := st.GetBatch(ctx, "p-1", "b-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(3), rows[0]["n"])

	n, err := st.CountBatches(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_AlertRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	q := &models.SavedQuery{
		ID:         "q-1",
		Name:       "daily revenue",
		SQL:        "SELECT SUM(amount) FROM orders",
		SourceType: "postgres",
		Source:     config.NewConnectionConfig("postgres"),
	}
	require.NoError(t, st.CreateSavedQuery(ctx, q))

	a := &models.Alert{
		ID:        "a-1",
		Name:      "low revenue",
		QueryID:   "q-1",
		Column:    "SUM(amount)",
		Operator:  "<",
		Threshold: 1000,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateAlert(ctx, a))

	active, err := st.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "low revenue", active[0].Name)

	value := 812.5
	require.NoError(t, st.AppendAlertHistory(ctx, &models.AlertHistory{
		ID:        "h-1",
		AlertID:   "a-1",
		Status:    models.AlertTriggered,
		Value:     &value,
		Message:   "SUM(amount) < 1000 (actual 812.5)",
		Timestamp: time.Now().UTC(),
	}))

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertTriggered, history[0].Status)
	require.NotNil(t, history[0].Value)
	assert.Equal(t, 812.5, *history[0].Value)
}

func TestStore_ConnectionRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c := &models.Connection{
		ID:        "c-1",
		Name:      "warehouse",
		Type:      "postgres",
		Config:    config.NewConnectionConfig("postgres"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateConnection(ctx, c))

	got, err := st.GetConnection(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "warehouse", got.Name)
	require.NotNil(t, got.Config)
	assert.Equal(t, "postgres", got.Config.Type)

	list, err := st.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
