// Package postgres implements the PostgreSQL connector on pgx pooled
// connections. Registered under the "postgres" source type.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/base"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
)

func init() {
	registry.Register("postgres", func(cfg *config.ConnectionConfig) (core.Connector, error) {
		return NewConnector(cfg)
	})
}

// Connector is the PostgreSQL source
type Connector struct {
	*base.BaseConnector

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewConnector creates a PostgreSQL connector. The pool is established
// lazily on first use so ValidateConfig stays I/O free.
func NewConnector(cfg *config.ConnectionConfig) (*Connector, error) {
	c := &Connector{BaseConnector: base.NewBaseConnector("postgres", cfg)}
	if result := c.ValidateConfig(); !result.Valid {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid postgres config: %v", result.Errors)
	}
	return c, nil
}

// ValidateConfig checks the fields a postgres connection requires
func (c *Connector) ValidateConfig() *core.ValidationResult {
	result := c.BaseConnector.ValidateConfig()
	cfg := c.Config()
	if cfg.Host == "" {
		base.AddValidationError(result, "host is required")
	}
	if cfg.Database == "" {
		base.AddValidationError(result, "database is required")
	}
	if cfg.Username == "" {
		base.AddValidationError(result, "username is required")
	}
	return result
}

// connString builds the pool DSN. Credentials go through url.URL so
// reserved characters in passwords survive parsing.
func (c *Connector) connString() string {
	cfg := c.Config()
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}
	return u.String()
}

func (c *Connector) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return c.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(c.connString())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres connection string")
	}
	poolCfg.ConnConfig.ConnectTimeout = c.Config().Timeouts.Connect

	connectCtx, cancel := context.WithTimeout(ctx, c.Config().Timeouts.Connect)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create postgres pool")
	}
	c.pool = pool
	return pool, nil
}

// TestConnection pings the database through the pool
func (c *Connector) TestConnection(ctx context.Context) (*core.ConnectionTestResult, error) {
	err := c.WithRetry(ctx, func() error {
		pool, err := c.getPool(ctx)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, c.Config().Timeouts.Connect)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "ping failed")
		}
		return nil
	})
	if err != nil {
		c.Logger().Warn("connection test failed", zap.Error(err))
		return &core.ConnectionTestResult{Success: false, Error: err.Error()}, nil
	}
	return &core.ConnectionTestResult{Success: true}, nil
}

const schemaQuery = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    c.is_nullable = 'YES' AS nullable,
    COALESCE(pk.is_primary, false) AS is_primary,
    COALESCE(fk.is_foreign, false) AS is_foreign
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.table_name, kcu.column_name, true AS is_primary
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
      ON tc.constraint_name = kcu.constraint_name
     AND tc.table_schema = kcu.table_schema
    WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
    SELECT kcu.table_name, kcu.column_name, true AS is_foreign
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
      ON tc.constraint_name = kcu.constraint_name
     AND tc.table_schema = kcu.table_schema
    WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
) fk ON fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`

// FetchSchema reads tables, columns and key metadata from
// information_schema for the public schema.
func (c *Connector) FetchSchema(ctx context.Context) (*core.Schema, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, schemaQuery)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "schema query failed")
	}
	defer rows.Close()

	schema := &core.Schema{}
	byTable := make(map[string]int)

	for rows.Next() {
		var tableName, columnName, dataType string
		var nullable, isPrimary, isForeign bool
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &isPrimary, &isForeign); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan schema row")
		}

		idx, ok := byTable[tableName]
		if !ok {
			schema.Tables = append(schema.Tables, core.Table{Name: tableName})
			idx = len(schema.Tables) - 1
			byTable[tableName] = idx
		}
		schema.Tables[idx].Columns = append(schema.Tables[idx].Columns, core.Column{
			Name:      columnName,
			Type:      mapPostgresType(dataType),
			Nullable:  nullable,
			IsPrimary: isPrimary,
			IsForeign: isForeign,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "schema query iteration failed")
	}

	c.Logger().Debug("schema fetched", zap.Int("tables", len(schema.Tables)))
	return schema, nil
}

// ExecuteQuery runs the SQL natively and normalizes the result set
func (c *Connector) ExecuteQuery(ctx context.Context, sql string) (*core.QueryResult, error) {
	pool, err := c.getPool(ctx)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.Config().Timeouts.Request)
	defer cancel()

	started := time.Now()
	rows, err := pool.Query(queryCtx, sql)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	maxRows := c.Config().Limits.MaxRows
	var out []core.Row
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			return nil, errors.Newf(errors.ErrorTypeQuery, "result exceeds maximum of %d rows", maxRows)
		}
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read row values")
		}
		row := make(core.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query iteration failed")
	}

	return core.NewQueryResult(columns, out, started), nil
}

// Disconnect closes the pool. Safe to call when never connected.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

// normalizeValue converts pgx-native values to canonical ones
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return v
	}
}

// mapPostgresType maps information_schema data types onto the canonical
// type system.
func mapPostgresType(dataType string) core.ColumnType {
	switch dataType {
	case "smallint", "integer", "bigint":
		return core.TypeInteger
	case "real", "double precision", "numeric", "decimal", "money":
		return core.TypeReal
	case "boolean":
		return core.TypeBoolean
	case "timestamp without time zone", "timestamp with time zone", "date", "time without time zone", "time with time zone":
		return core.TypeTimestamp
	default:
		return core.TypeText
	}
}
