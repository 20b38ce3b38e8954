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

// CreatePipeline inserts a new pipeline
func (s *Store) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	sourceCfg, err := json.Marshal(p.SourceConfig)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode source config")
	}
	var destCfg interface{}
	if p.DestinationConfig != nil {
		b, err := json.Marshal(p.DestinationConfig)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode destination config")
		}
		destCfg = string(b)
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode steps")
	}
	rules, err := json.Marshal(p.QualityRules)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode quality rules")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, workspace_id, source_type, source_config,
			destination_type, destination_config, mode, query, steps, quality_rules,
			schedule_cron, last_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.WorkspaceID, p.SourceType, string(sourceCfg),
		p.DestinationType, destCfg, string(p.Mode), p.Query, string(steps), string(rules),
		p.ScheduleCron, string(p.LastStatus), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to insert pipeline")
	}
	return nil
}

// GetPipeline loads one pipeline by id
func (s *Store) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, workspace_id, source_type, source_config, destination_type,
			destination_config, mode, query, steps, quality_rules, schedule_cron,
			last_run_at, last_status, created_at, updated_at
		FROM pipelines WHERE id = ?`, id)
	return scanPipeline(row)
}

// ListPipelines returns all pipelines ordered by creation time
func (s *Store) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, workspace_id, source_type, source_config, destination_type,
			destination_config, mode, query, steps, quality_rules, schedule_cron,
			last_run_at, last_status, created_at, updated_at
		FROM pipelines ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to list pipelines")
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePipelineRunState stamps lastRunAt/lastStatus after a run. Only
// the worker calls this.
func (s *Store) UpdatePipelineRunState(ctx context.Context, id string, at time.Time, status models.RunStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET last_run_at = ?, last_status = ?, updated_at = ? WHERE id = ?`,
		at, string(status), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to update pipeline run state")
	}
	return nil
}

// DeletePipeline removes a pipeline and its executions
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to delete pipeline")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "pipeline %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPipeline(row rowScanner) (*models.Pipeline, error) {
	var (
		p          models.Pipeline
		sourceCfg  string
		destCfg    sql.NullString
		mode       string
		steps      string
		rules      string
		lastRunAt  sql.NullTime
		lastStatus string
	)
	err := row.Scan(&p.ID, &p.Name, &p.WorkspaceID, &p.SourceType, &sourceCfg,
		&p.DestinationType, &destCfg, &mode, &p.Query, &steps, &rules,
		&p.ScheduleCron, &lastRunAt, &lastStatus, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrorTypeNotFound, "pipeline not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan pipeline")
	}

	p.Mode = models.PipelineMode(mode)
	p.LastRunAt = nullTime(lastRunAt)
	p.LastStatus = models.RunStatus(lastStatus)

	p.SourceConfig = &config.ConnectionConfig{}
	if err := json.Unmarshal([]byte(sourceCfg), p.SourceConfig); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode source config")
	}
	if destCfg.Valid && destCfg.String != "" {
		p.DestinationConfig = &config.ConnectionConfig{}
		if err := json.Unmarshal([]byte(destCfg.String), p.DestinationConfig); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode destination config")
		}
	}
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode steps")
	}
	if err := json.Unmarshal([]byte(rules), &p.QualityRules); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode quality rules")
	}
	return &p, nil
}
