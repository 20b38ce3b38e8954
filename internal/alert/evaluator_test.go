package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/models"
)

// queryConnector serves one fixture result row for alert evaluation
type queryConnector struct {
	row core.Row
	err error
}

var queryFixture = &queryConnector{}

func init() {
	registry.Register("alerttest", func(cfg *config.ConnectionConfig) (core.Connector, error) {
		return queryFixture, nil
	})
}

func (q *queryConnector) TestConnection(ctx context.Context) (*core.ConnectionTestResult, error) {
	return &core.ConnectionTestResult{Success: true}, nil
}

func (q *queryConnector) FetchSchema(ctx context.Context) (*core.Schema, error) {
	return &core.Schema{}, nil
}

func (q *queryConnector) ExecuteQuery(ctx context.Context, sql string) (*core.QueryResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	var rows []core.Row
	if q.row != nil {
		rows = []core.Row{q.row}
	}
	return core.NewQueryResult(nil, rows, time.Now()), nil
}

func (q *queryConnector) Disconnect(ctx context.Context) error { return nil }

func (q *queryConnector) ValidateConfig() *core.ValidationResult {
	return &core.ValidationResult{Valid: true}
}

// captureSender records sent mail for assertions
type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Send(to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to)
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAlert(t *testing.T, st *store.Store, mutate func(*models.Alert)) *models.Alert {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.CreateSavedQuery(ctx, &models.SavedQuery{
		ID:         "q-1",
		Name:       "daily revenue",
		SQL:        "SELECT SUM(amount) FROM orders",
		SourceType: "alerttest",
		Source:     config.NewConnectionConfig("alerttest"),
	}))

	a := &models.Alert{
		ID:        "a-1",
		Name:      "revenue watch",
		QueryID:   "q-1",
		Column:    "total",
		Operator:  models.OpGreater,
		Threshold: 100,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, st.CreateAlert(ctx, a))
	return a
}

func TestEvaluator_Triggered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = core.Row{"total": 120.0}

	var payload WebhookPayload
	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "secret-token", r.Header.Get("X-Auth"))
		received <- struct{}{}
	}))
	defer server.Close()

	mail := &captureSender{}
	seedAlert(t, st, func(a *models.Alert) {
		a.Email = "oncall@example.com"
		a.WebhookURL = server.URL
		a.WebhookHeaders = map[string]string{"X-Auth": "secret-token"}
	})

	ev := New(st, mail, NewWebhookNotifier(time.Second))
	require.NoError(t, ev.EvaluateAll(ctx))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("webhook was not called")
	}

	assert.Equal(t, "alert_triggered", payload.Event)
	assert.Equal(t, "a-1", payload.AlertID)
	assert.Equal(t, "revenue watch", payload.AlertName)
	assert.Equal(t, "total", payload.Condition.Column)
	assert.Equal(t, ">", payload.Condition.Operator)
	assert.Equal(t, 100.0, payload.Condition.Threshold)
	assert.Equal(t, 120.0, payload.Condition.ActualValue)
	assert.Equal(t, "q-1", payload.Query.ID)
	assert.Equal(t, "daily revenue", payload.Query.Name)

	assert.Equal(t, []string{"oncall@example.com"}, mail.sent)

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertTriggered, history[0].Status)
	require.NotNil(t, history[0].Value)
	assert.Equal(t, 120.0, *history[0].Value)

	alerts, err := st.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTriggered, alerts[0].LastStatus)
	assert.NotNil(t, alerts[0].LastRunAt)
}

func TestEvaluator_ConditionNotMet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = core.Row{"total": 80.0}

	webhookCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalled = true
	}))
	defer server.Close()

	mail := &captureSender{}
	seedAlert(t, st, func(a *models.Alert) {
		a.Email = "oncall@example.com"
		a.WebhookURL = server.URL
	})

	ev := New(st, mail, NewWebhookNotifier(time.Second))
	require.NoError(t, ev.EvaluateAll(ctx))

	assert.False(t, webhookCalled)
	assert.Empty(t, mail.sent)

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertOK, history[0].Status)
	require.NotNil(t, history[0].Value)
	assert.Equal(t, 80.0, *history[0].Value)
}

func TestEvaluator_NonNumericValueIsError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = core.Row{"total": "not a number"}

	seedAlert(t, st, nil)
	ev := New(st, nil, nil)
	require.NoError(t, ev.EvaluateAll(ctx))

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertError, history[0].Status)
	assert.Nil(t, history[0].Value)
	assert.Contains(t, history[0].Message, "not numeric")
}

func TestEvaluator_MissingColumnIsError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = core.Row{"other": 1.0}

	seedAlert(t, st, nil)
	ev := New(st, nil, nil)
	require.NoError(t, ev.EvaluateAll(ctx))

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertError, history[0].Status)
}

func TestEvaluator_EmptyResultIsError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = nil

	seedAlert(t, st, nil)
	ev := New(st, nil, nil)
	require.NoError(t, ev.EvaluateAll(ctx))

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertError, history[0].Status)
	assert.Contains(t, history[0].Message, "no rows")
}

func TestEvaluator_WebhookFailureDoesNotChangeOutcome(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = core.Row{"total": 500.0}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	seedAlert(t, st, func(a *models.Alert) {
		a.WebhookURL = server.URL
	})

	ev := New(st, nil, NewWebhookNotifier(time.Second))
	require.NoError(t, ev.EvaluateAll(ctx))

	history, err := st.ListAlertHistory(ctx, "a-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AlertTriggered, history[0].Status)
}

func TestEvaluator_FailureIsolation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	queryFixture.err = nil
	queryFixture.row = core.Row{"total": 120.0}

	// First alert's query points at an unregistered source type; the
	// second is healthy and must still evaluate.
	seedAlert(t, st, nil)
	require.NoError(t, st.CreateSavedQuery(ctx, &models.SavedQuery{
		ID:         "q-2",
		Name:       "broken query",
		SQL:        "SELECT 1",
		SourceType: "no-such-source",
		Source:     config.NewConnectionConfig("no-such-source"),
	}))
	require.NoError(t, st.CreateAlert(ctx, &models.Alert{
		ID:        "a-broken",
		Name:      "broken watch",
		QueryID:   "q-2",
		Column:    "total",
		Operator:  models.OpGreater,
		Threshold: 100,
		IsActive:  true,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, st.CreateAlert(ctx, &models.Alert{
		ID:        "a-healthy",
		Name:      "healthy watch",
		QueryID:   "q-1",
		Column:    "total",
		Operator:  models.OpGreater,
		Threshold: 100,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}))

	ev := New(st, nil, nil)
	require.NoError(t, ev.EvaluateAll(ctx))

	broken, err := st.ListAlertHistory(ctx, "a-broken", 10)
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, models.AlertError, broken[0].Status)

	healthy, err := st.ListAlertHistory(ctx, "a-healthy", 10)
	require.NoError(t, err)
	require.Len(t, healthy, 1)
	assert.Equal(t, models.AlertTriggered, healthy[0].Status)
}

func TestCompare(t *testing.T) {
	cases := []struct {
		op        models.AlertOperator
		value     float64
		threshold float64
		want      bool
	}{
		{models.OpGreater, 120, 100, true},
		{models.OpGreater, 100, 100, false},
		{models.OpLess, 80, 100, true},
		{models.OpGreaterOrEqual, 100, 100, true},
		{models.OpLessOrEqual, 100, 100, true},
		{models.OpEqual, 100, 100, true},
		{models.OpNotEqual, 99, 100, true},
	}
	for _, tc := range cases {
		got, err := compare(tc.value, tc.op, tc.threshold)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %v", tc.value, tc.op, tc.threshold)
	}

	_, err := compare(1, models.AlertOperator("~"), 2)
	assert.Error(t, err)
}
