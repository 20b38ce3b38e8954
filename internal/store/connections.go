package store

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

// CreateConnection inserts a saved connection
func (s *Store) CreateConnection(ctx context.Context, c *models.Connection) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode connection config")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (id, name, type, config, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Type, string(cfg), c.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to insert connection")
	}
	return nil
}

// GetConnection loads one saved connection by id
func (s *Store) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	var (
		c   models.Connection
		cfg string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, config, created_at FROM connections WHERE id = ?`,
		id).Scan(&c.ID, &c.Name, &c.Type, &cfg, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "connection %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan connection")
	}
	c.Config = &config.ConnectionConfig{}
	if err := json.Unmarshal([]byte(cfg), c.Config); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode connection config")
	}
	return &c, nil
}

// ListConnections returns all saved connections
func (s *Store) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, config, created_at FROM connections ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to list connections")
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		var (
			c   models.Connection
			cfg string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &cfg, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan connection")
		}
		c.Config = &config.ConnectionConfig{}
		if err := json.Unmarshal([]byte(cfg), c.Config); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode connection config")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
