// Package core defines the uniform connector contract every source
// implementation adapts its wire protocol into.
package core

import (
	"context"
	"time"
)

// ColumnType is the canonical type system shared across heterogeneous
// sources. Origin-native types are coerced into these five.
type ColumnType string

const (
	TypeInteger   ColumnType = "INTEGER"
	TypeReal      ColumnType = "REAL"
	TypeBoolean   ColumnType = "BOOLEAN"
	TypeText      ColumnType = "TEXT"
	TypeTimestamp ColumnType = "TIMESTAMP"
)

// Row is one record keyed by column name
type Row = map[string]interface{}

// Column describes one column of a source table
type Column struct {
	Name      string     `json:"name"`
	Type      ColumnType `json:"type"`
	Nullable  bool       `json:"nullable"`
	IsPrimary bool       `json:"isPrimary"`
	IsForeign bool       `json:"isForeign"`
}

// Table describes one table or collection of a source
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Schema is the full schema of a source
type Schema struct {
	Tables []Table `json:"tables"`
}

// QueryResult is the normalized result of ExecuteQuery
type QueryResult struct {
	Columns         []string `json:"columns"`
	Rows            []Row    `json:"rows"`
	RowCount        int      `json:"rowCount"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}

// ConnectionTestResult reports whether a source is reachable. Errors are
// returned structurally so credentials never leak through panics.
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ValidationResult reports configuration problems found before any I/O
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Connector is the uniform interface over SQL databases, GraphQL APIs and
// REST/CRM systems. A connector holds a live session; callers must
// guarantee Disconnect runs on every exit path, including failures
// mid-query.
type Connector interface {
	// TestConnection verifies the source is reachable with the
	// configured credentials
	TestConnection(ctx context.Context) (*ConnectionTestResult, error)

	// FetchSchema returns the tables and columns the source exposes
	FetchSchema(ctx context.Context) (*Schema, error)

	// ExecuteQuery runs a SQL query against the source. Sources without
	// a native SQL engine evaluate the query over fetched records.
	ExecuteQuery(ctx context.Context, sql string) (*QueryResult, error)

	// Disconnect releases the session and all pooled resources
	Disconnect(ctx context.Context) error

	// ValidateConfig checks the connector's required configuration
	// subset without performing I/O
	ValidateConfig() *ValidationResult
}

// NewQueryResult stamps a result with its row count and elapsed time
func NewQueryResult(columns []string, rows []Row, started time.Time) *QueryResult {
	return &QueryResult{
		Columns:         columns,
		Rows:            rows,
		RowCount:        len(rows),
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}
}
