// Package mysql implements the MySQL connector on database/sql with the
// go-sql-driver. Registered under the "mysql" source type.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/base"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
)

func init() {
	registry.Register("mysql", func(cfg *config.ConnectionConfig) (core.Connector, error) {
		return NewConnector(cfg)
	})
}

// Connector is the MySQL source
type Connector struct {
	*base.BaseConnector

	mu sync.Mutex
	db *sql.DB
}

// NewConnector creates a MySQL connector with a lazily opened pool
func NewConnector(cfg *config.ConnectionConfig) (*Connector, error) {
	c := &Connector{BaseConnector: base.NewBaseConnector("mysql", cfg)}
	if result := c.ValidateConfig(); !result.Valid {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid mysql config: %v", result.Errors)
	}
	return c, nil
}

// ValidateConfig checks the fields a mysql connection requires
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

func (c *Connector) dsn() string {
	cfg := c.Config()
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
		cfg.Username, cfg.Password, cfg.Host, port, cfg.Database, cfg.Timeouts.Connect)
}

func (c *Connector) getDB() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}

	db, err := sql.Open("mysql", c.dsn())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql DSN")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	c.db = db
	return db, nil
}

// TestConnection pings the database
func (c *Connector) TestConnection(ctx context.Context) (*core.ConnectionTestResult, error) {
	err := c.WithRetry(ctx, func() error {
		db, err := c.getDB()
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, c.Config().Timeouts.Connect)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
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
    c.TABLE_NAME,
    c.COLUMN_NAME,
    c.DATA_TYPE,
    c.IS_NULLABLE = 'YES',
    c.COLUMN_KEY = 'PRI',
    c.COLUMN_KEY = 'MUL'
FROM information_schema.COLUMNS c
WHERE c.TABLE_SCHEMA = ?
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

// FetchSchema reads tables and columns from information_schema
func (c *Connector) FetchSchema(ctx context.Context) (*core.Schema, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, schemaQuery, c.Config().Database)
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
			Type:      mapMySQLType(dataType),
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
func (c *Connector) ExecuteQuery(ctx context.Context, query string) (*core.QueryResult, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.Config().Timeouts.Request)
	defer cancel()

	started := time.Now()
	rows, err := db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read result columns")
	}

	maxRows := c.Config().Limits.MaxRows
	var out []core.Row
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			return nil, errors.Newf(errors.ErrorTypeQuery, "result exceeds maximum of %d rows", maxRows)
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan row")
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
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close mysql pool")
		}
	}
	return nil
}

// normalizeValue converts driver-native values to canonical ones. The
// mysql driver returns []byte for text columns.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// mapMySQLType maps information_schema data types onto the canonical
// type system.
func mapMySQLType(dataType string) core.ColumnType {
	switch dataType {
	case "tinyint", "smallint", "mediumint", "int", "bigint":
		return core.TypeInteger
	case "float", "double", "decimal":
		return core.TypeReal
	case "bit", "bool", "boolean":
		return core.TypeBoolean
	case "date", "datetime", "timestamp", "time":
		return core.TypeTimestamp
	default:
		return core.TypeText
	}
}
