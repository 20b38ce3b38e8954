// Package alert evaluates threshold alerts over saved queries. The
// evaluator is driven by an external trigger (cron or HTTP); it never
// schedules itself. Every evaluation writes exactly one history row.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/metrics"
	"github.com/flowforge/flowforge/pkg/models"
	"github.com/flowforge/flowforge/pkg/sqlselect"
)

// Evaluator runs one evaluation cycle over all active alerts
type Evaluator struct {
	store   *store.Store
	email   EmailSender
	webhook *WebhookNotifier
	logger  *zap.Logger
}

// New creates an evaluator. A nil email sender disables mail.
func New(st *store.Store, email EmailSender, webhook *WebhookNotifier) *Evaluator {
	if email == nil {
		email = NopSender{}
	}
	if webhook == nil {
		webhook = NewWebhookNotifier(0)
	}
	return &Evaluator{
		store:   st,
		email:   email,
		webhook: webhook,
		logger:  logger.Get().With(zap.String("component", "alert_evaluator")),
	}
}

// EvaluateAll runs every active alert once. One alert's failure never
// blocks the rest of the cycle; per-alert errors are recorded in
// history with status ERROR and logged.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	alerts, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		return err
	}

	for _, a := range alerts {
		status := e.evaluateOne(ctx, a)
		metrics.AlertsTotal.WithLabelValues(string(status)).Inc()
	}
	e.logger.Debug("evaluation cycle finished", zap.Int("alerts", len(alerts)))
	return nil
}

// evaluateOne runs a single alert end to end and returns its outcome.
// All exits record exactly one history row and stamp the alert.
func (e *Evaluator) evaluateOne(ctx context.Context, a *models.Alert) models.AlertStatus {
	now := time.Now().UTC()

	value, err := e.observe(ctx, a)
	if err != nil {
		e.logger.Warn("alert evaluation failed",
			zap.String("alert_id", a.ID),
			zap.Error(err))
		e.record(ctx, a, models.AlertError, nil, err.Error(), now)
		return models.AlertError
	}

	triggered, err := compare(value, a.Operator, a.Threshold)
	if err != nil {
		e.record(ctx, a, models.AlertError, nil, err.Error(), now)
		return models.AlertError
	}

	if !triggered {
		e.record(ctx, a, models.AlertOK, &value,
			fmt.Sprintf("%s = %v, condition %s %v not met", a.Column, value, a.Operator, a.Threshold), now)
		return models.AlertOK
	}

	e.notify(ctx, a, value, now)
	e.record(ctx, a, models.AlertTriggered, &value,
		fmt.Sprintf("%s = %v %s %v", a.Column, value, a.Operator, a.Threshold), now)
	return models.AlertTriggered
}

// observe re-runs the saved query and reads the configured column from
// the first result row as a number.
func (e *Evaluator) observe(ctx context.Context, a *models.Alert) (float64, error) {
	query, err := e.store.GetSavedQuery(ctx, a.QueryID)
	if err != nil {
		return 0, err
	}

	conn, err := registry.Create(query.SourceType, query.Source)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := conn.Disconnect(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("disconnect failed", zap.Error(err))
		}
	}()

	result, err := conn.ExecuteQuery(ctx, query.SQL)
	if err != nil {
		return 0, err
	}
	if result.RowCount == 0 {
		return 0, errors.New(errors.ErrorTypeAlert, "query returned no rows")
	}

	raw, ok := result.Rows[0][a.Column]
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeAlert, "column %s missing from result", a.Column)
	}
	value, ok := sqlselect.ToNumber(raw)
	if !ok {
		// A non-numeric observation is a hard evaluation error, not a
		// trigger condition
		return 0, errors.Newf(errors.ErrorTypeAlert, "column %s value %v is not numeric", a.Column, raw)
	}
	return value, nil
}

// notify sends email and, when configured, the webhook. Notification
// failures are logged and never propagate.
func (e *Evaluator) notify(ctx context.Context, a *models.Alert, value float64, now time.Time) {
	if a.Email != "" {
		subject := fmt.Sprintf("Alert triggered: %s", a.Name)
		body := fmt.Sprintf("Alert %q triggered at %s.\n\nCondition: %s %s %v\nObserved value: %v\n",
			a.Name, now.Format(time.RFC3339), a.Column, a.Operator, a.Threshold, value)
		if err := e.email.Send(a.Email, subject, body); err != nil {
			e.logger.Warn("alert email failed",
				zap.String("alert_id", a.ID),
				zap.Error(err))
		}
	}

	if a.WebhookURL != "" {
		query, err := e.store.GetSavedQuery(ctx, a.QueryID)
		if err != nil {
			e.logger.Warn("webhook skipped, saved query unavailable", zap.Error(err))
			return
		}
		payload := WebhookPayload{
			Event:     "alert_triggered",
			AlertID:   a.ID,
			AlertName: a.Name,
			Timestamp: now,
			Condition: WebhookCondition{
				Column:      a.Column,
				Operator:    string(a.Operator),
				Threshold:   a.Threshold,
				ActualValue: value,
			},
			Query: WebhookQuery{ID: query.ID, Name: query.Name},
		}
		if err := e.webhook.Notify(ctx, a, payload); err != nil {
			e.logger.Warn("alert webhook failed",
				zap.String("alert_id", a.ID),
				zap.Error(err))
		}
	}
}

// record writes the single history row for this evaluation and stamps
// the alert's lastRunAt/lastStatus.
func (e *Evaluator) record(ctx context.Context, a *models.Alert, status models.AlertStatus, value *float64, message string, now time.Time) {
	history := &models.AlertHistory{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		Status:    status,
		Value:     value,
		Message:   message,
		Timestamp: now,
	}
	if err := e.store.AppendAlertHistory(ctx, history); err != nil {
		e.logger.Error("failed to append alert history", zap.Error(err))
	}
	if err := e.store.UpdateAlertRunState(ctx, a.ID, now, status); err != nil {
		e.logger.Error("failed to update alert run state", zap.Error(err))
	}
}

// compare applies the alert operator to the observed value
func compare(value float64, op models.AlertOperator, threshold float64) (bool, error) {
	switch op {
	case models.OpGreater:
		return value > threshold, nil
	case models.OpLess:
		return value < threshold, nil
	case models.OpGreaterOrEqual:
		return value >= threshold, nil
	case models.OpLessOrEqual:
		return value <= threshold, nil
	case models.OpEqual:
		return value == threshold, nil
	case models.OpNotEqual:
		return value != threshold, nil
	default:
		return false, errors.Newf(errors.ErrorTypeAlert, "unknown operator %q", op)
	}
}
