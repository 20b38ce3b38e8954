package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

// CreateSavedQuery inserts a saved query
func (s *Store) CreateSavedQuery(ctx context.Context, q *models.SavedQuery) error {
	source, err := json.Marshal(q.Source)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode query source")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_queries (id, name, sql_text, source_type, source)
		VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.Name, q.SQL, q.SourceType, string(source))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to insert saved query")
	}
	return nil
}

// GetSavedQuery loads one saved query by id
func (s *Store) GetSavedQuery(ctx context.Context, id string) (*models.SavedQuery, error) {
	var (
		q      models.SavedQuery
		source string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, sql_text, source_type, source FROM saved_queries WHERE id = ?`,
		id).Scan(&q.ID, &q.Name, &q.SQL, &q.SourceType, &source)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "saved query %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan saved query")
	}
	q.Source = &config.ConnectionConfig{}
	if err := json.Unmarshal([]byte(source), q.Source); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode query source")
	}
	return &q, nil
}

// CreateAlert inserts an alert
func (s *Store) CreateAlert(ctx context.Context, a *models.Alert) error {
	headers, err := json.Marshal(a.WebhookHeaders)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode webhook headers")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, query_id, name, column_name, operator, threshold,
			schedule, email, webhook_url, webhook_headers, last_status, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.QueryID, a.Name, a.Column, string(a.Operator), a.Threshold,
		a.Schedule, a.Email, a.WebhookURL, string(headers), string(a.LastStatus),
		a.IsActive, a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to insert alert")
	}
	return nil
}

// ListActiveAlerts returns every alert with isActive set
func (s *Store) ListActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_id, name, column_name, operator, threshold, schedule,
			email, webhook_url, webhook_headers, last_run_at, last_status, is_active, created_at
		FROM alerts WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to list alerts")
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAlertRunState stamps lastRunAt/lastStatus after an evaluation
func (s *Store) UpdateAlertRunState(ctx context.Context, id string, at time.Time, status models.AlertStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET last_run_at = ?, last_status = ? WHERE id = ?`,
		at, string(status), id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to update alert run state")
	}
	return nil
}

// AppendAlertHistory writes one immutable history row. Exactly one row
// is written per evaluation; the table is never updated.
func (s *Store) AppendAlertHistory(ctx context.Context, h *models.AlertHistory) error {
	var value interface{}
	if h.Value != nil {
		value = *h.Value
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history (id, alert_id, status, value, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.AlertID, string(h.Status), value, h.Message, h.Timestamp)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to append alert history")
	}
	return nil
}

// ListAlertHistory returns an alert's history newest first
func (s *Store) ListAlertHistory(ctx context.Context, alertID string, limit int) ([]*models.AlertHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, status, value, message, timestamp
		FROM alert_history WHERE alert_id = ?
		ORDER BY timestamp DESC LIMIT ?`, alertID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to list alert history")
	}
	defer rows.Close()

	var out []*models.AlertHistory
	for rows.Next() {
		var (
			h      models.AlertHistory
			status string
			value  sql.NullFloat64
		)
		if err := rows.Scan(&h.ID, &h.AlertID, &status, &value, &h.Message, &h.Timestamp); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan alert history")
		}
		h.Status = models.AlertStatus(status)
		if value.Valid {
			v := value.Float64
			h.Value = &v
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a          models.Alert
		operator   string
		headers    string
		lastRunAt  sql.NullTime
		lastStatus string
	)
	err := row.Scan(&a.ID, &a.QueryID, &a.Name, &a.Column, &operator, &a.Threshold,
		&a.Schedule, &a.Email, &a.WebhookURL, &headers, &lastRunAt, &lastStatus,
		&a.IsActive, &a.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan alert")
	}
	a.Operator = models.AlertOperator(operator)
	a.LastRunAt = nullTime(lastRunAt)
	a.LastStatus = models.AlertStatus(lastStatus)
	if err := json.Unmarshal([]byte(headers), &a.WebhookHeaders); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode webhook headers")
	}
	return &a, nil
}
