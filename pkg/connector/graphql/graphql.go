// Package graphql implements the GraphQL connector. GraphQL has no SQL
// engine, so the incoming SELECT is parsed once, the referenced list
// field is fetched page by page, values are coerced to canonical types
// and the full statement is evaluated in memory. Registered under the
// "graphql" source type.
package graphql

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/clients"
	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/base"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/sqlselect"
)

func init() {
	registry.Register("graphql", func(cfg *config.ConnectionConfig) (core.Connector, error) {
		return NewConnector(cfg)
	})
}

// Connector is the GraphQL source
type Connector struct {
	*base.BaseConnector

	client *clients.HTTPClient

	mu     sync.RWMutex
	schema *core.Schema // cached after first FetchSchema
}

// NewConnector creates a GraphQL connector
func NewConnector(cfg *config.ConnectionConfig) (*Connector, error) {
	c := &Connector{BaseConnector: base.NewBaseConnector("graphql", cfg)}
	if result := c.ValidateConfig(); !result.Valid {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid graphql config: %v", result.Errors)
	}

	headers := map[string]string{}
	if cfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + cfg.AuthToken
	}
	c.client = clients.NewHTTPClient(clients.HTTPClientConfig{
		Timeout:         cfg.Timeouts.Request,
		RateLimitPerSec: cfg.Reliability.RateLimitPerSec,
		CircuitBreaker:  cfg.Reliability.CircuitBreaker,
		Headers:         headers,
	}, c.Logger())

	return c, nil
}

// ValidateConfig checks the fields a GraphQL endpoint requires
func (c *Connector) ValidateConfig() *core.ValidationResult {
	result := c.BaseConnector.ValidateConfig()
	cfg := c.Config()
	if cfg.APIURL == "" {
		base.AddValidationError(result, "apiUrl is required")
	} else if !strings.HasPrefix(cfg.APIURL, "http://") && !strings.HasPrefix(cfg.APIURL, "https://") {
		base.AddValidationError(result, "apiUrl must be an http(s) URL")
	}
	return result
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   map[string]interface{} `json:"data"`
	Errors []gqlError             `json:"errors"`
}

func (c *Connector) query(ctx context.Context, query string, variables map[string]interface{}) (map[string]interface{}, error) {
	var resp gqlResponse
	err := c.WithRetry(ctx, func() error {
		resp = gqlResponse{}
		return c.client.PostJSON(ctx, c.Config().APIURL, gqlRequest{Query: query, Variables: variables}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, errors.Newf(errors.ErrorTypeQuery, "graphql errors: %s", strings.Join(msgs, "; "))
	}
	return resp.Data, nil
}

// TestConnection issues a minimal introspection query
func (c *Connector) TestConnection(ctx context.Context) (*core.ConnectionTestResult, error) {
	_, err := c.query(ctx, `{ __schema { queryType { name } } }`, nil)
	if err != nil {
		c.Logger().Warn("connection test failed", zap.Error(err))
		return &core.ConnectionTestResult{Success: false, Error: err.Error()}, nil
	}
	return &core.ConnectionTestResult{Success: true}, nil
}

const introspectionQuery = `{
  __schema {
    queryType { name }
    types {
      name
      kind
      fields {
        name
        type { name kind ofType { name kind ofType { name kind } } }
      }
    }
  }
}`

// FetchSchema introspects the endpoint. Object types become tables,
// scalar fields become columns; list and object fields are skipped
// because the SELECT dialect is flat.
func (c *Connector) FetchSchema(ctx context.Context) (*core.Schema, error) {
	data, err := c.query(ctx, introspectionQuery, nil)
	if err != nil {
		return nil, err
	}

	schema, err := parseIntrospection(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.schema = schema
	c.mu.Unlock()

	c.Logger().Debug("schema fetched", zap.Int("tables", len(schema.Tables)))
	return schema, nil
}

// ExecuteQuery parses the SELECT, pages through the referenced list
// field and evaluates the statement over the fetched records.
func (c *Connector) ExecuteQuery(ctx context.Context, sql string) (*core.QueryResult, error) {
	stmt, err := sqlselect.Parse(sql)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	rows, err := c.fetchCollection(ctx, stmt)
	if err != nil {
		return nil, err
	}

	result, err := sqlselect.Evaluate(rows, stmt)
	if err != nil {
		return nil, err
	}
	return core.NewQueryResult(result.Columns, result.Rows, started), nil
}

// fetchCollection pages through the list field named by the statement.
// Fetching stops at the MaxRows ceiling so a misbehaving origin cannot
// exhaust memory; the predicate runs after the fetch.
func (c *Connector) fetchCollection(ctx context.Context, stmt *sqlselect.SelectStatement) ([]sqlselect.Row, error) {
	pageSize := c.Config().Limits.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	maxRows := c.Config().Limits.MaxRows

	// One introspection per session feeds both the star selection and
	// the coercion pass. A star fetch cannot proceed without it;
	// explicit projections survive origins that refuse introspection,
	// with values left untyped.
	if _, err := c.ensureSchema(ctx); err != nil {
		if len(referencedColumns(stmt)) == 0 {
			return nil, err
		}
		c.Logger().Warn("introspection failed, values stay untyped", zap.Error(err))
	}

	selection, err := c.fieldSelection(stmt)
	if err != nil {
		return nil, err
	}
	types := c.columnTypes(stmt.Collection)

	var all []sqlselect.Row
	offset := 0

	for {
		q := fmt.Sprintf(`query ($limit: Int!, $offset: Int!) { %s(limit: $limit, offset: $offset) %s }`,
			stmt.Collection, selection)
		data, err := c.query(ctx, q, map[string]interface{}{"limit": pageSize, "offset": offset})
		if err != nil {
			return nil, err
		}

		page, err := extractPage(data, stmt.Collection)
		if err != nil {
			return nil, err
		}

		for _, record := range page {
			all = append(all, coerceRecord(record, types))
		}

		if len(page) < pageSize {
			break
		}
		if maxRows > 0 && len(all) >= maxRows {
			all = all[:maxRows]
			c.Logger().Warn("fetch truncated at row ceiling",
				zap.String("collection", stmt.Collection),
				zap.Int("max_rows", maxRows))
			break
		}
		offset += pageSize
	}

	return all, nil
}

// ensureSchema introspects the endpoint once per session; later calls
// reuse the cache until Disconnect drops it.
func (c *Connector) ensureSchema(ctx context.Context) (*core.Schema, error) {
	c.mu.RLock()
	cached := c.schema
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	return c.FetchSchema(ctx)
}

// fieldSelection builds the GraphQL selection set for the statement.
// Explicit projections fetch only the referenced columns; '*' and bare
// aggregates take every scalar column of the introspected collection.
// With no columns to go on the fetch fails rather than guessing.
func (c *Connector) fieldSelection(stmt *sqlselect.SelectStatement) (string, error) {
	fields := referencedColumns(stmt)
	if len(fields) == 0 {
		c.mu.RLock()
		if c.schema != nil {
			for _, t := range c.schema.Tables {
				if t.Name == stmt.Collection {
					for _, col := range t.Columns {
						fields = append(fields, col.Name)
					}
				}
			}
		}
		c.mu.RUnlock()
	}
	if len(fields) == 0 {
		return "", errors.Newf(errors.ErrorTypeQuery,
			"cannot build a selection for %q: no scalar fields introspected", stmt.Collection)
	}
	return "{ " + strings.Join(fields, " ") + " }", nil
}

func (c *Connector) columnTypes(collection string) map[string]core.ColumnType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.schema == nil {
		return nil
	}
	for _, t := range c.schema.Tables {
		if t.Name == collection {
			types := make(map[string]core.ColumnType, len(t.Columns))
			for _, col := range t.Columns {
				types[col.Name] = col.Type
			}
			return types
		}
	}
	return nil
}

// Disconnect drops the cached schema; the HTTP client is stateless
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.schema = nil
	c.mu.Unlock()
	return nil
}

// referencedColumns collects every column name the statement touches
func referencedColumns(stmt *sqlselect.SelectStatement) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && name != "*" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, item := range stmt.Items {
		if item.Aggregate != "" {
			add(item.Column)
			continue
		}
		for _, name := range columnRefs(item.Expr) {
			add(name)
		}
	}
	if stmt.Star() {
		return nil
	}
	for _, name := range columnRefs(stmt.Where) {
		add(name)
	}
	return out
}

func columnRefs(expr sqlselect.Expr) []string {
	switch e := expr.(type) {
	case nil:
		return nil
	case *sqlselect.ColumnRef:
		return []string{e.Name}
	case *sqlselect.BinaryExpr:
		return append(columnRefs(e.Left), columnRefs(e.Right)...)
	case *sqlselect.UnaryExpr:
		return columnRefs(e.Operand)
	case *sqlselect.IsNullExpr:
		return columnRefs(e.Operand)
	default:
		return nil
	}
}

// extractPage pulls the record list for the collection field out of the
// response data. Both bare lists and {items: [...]} envelopes work.
func extractPage(data map[string]interface{}, collection string) ([]map[string]interface{}, error) {
	raw, ok := data[collection]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeQuery, "response missing field %q", collection)
	}
	if env, ok := raw.(map[string]interface{}); ok {
		if items, ok := env["items"]; ok {
			raw = items
		}
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "field %q is not a list", collection)
	}

	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "list contains a non-object record")
		}
		out = append(out, record)
	}
	return out, nil
}

// coerceRecord applies canonical type coercion using schema metadata
// when available, flattening nothing: nested objects stay opaque.
func coerceRecord(record map[string]interface{}, types map[string]core.ColumnType) sqlselect.Row {
	row := make(sqlselect.Row, len(record))
	for k, v := range record {
		if t, ok := types[k]; ok {
			row[k] = core.Coerce(v, t)
		} else {
			row[k] = v
		}
	}
	return row
}

// parseIntrospection walks the __schema payload into tables and columns
func parseIntrospection(data map[string]interface{}) (*core.Schema, error) {
	schemaObj, ok := data["__schema"].(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypeData, "introspection response missing __schema")
	}
	typeList, _ := schemaObj["types"].([]interface{})

	schema := &core.Schema{}
	for _, t := range typeList {
		typeObj, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := typeObj["name"].(string)
		kind, _ := typeObj["kind"].(string)
		if kind != "OBJECT" || strings.HasPrefix(name, "__") || name == "Query" || name == "Mutation" || name == "Subscription" {
			continue
		}

		fields, _ := typeObj["fields"].([]interface{})
		table := core.Table{Name: name}
		for _, f := range fields {
			fieldObj, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			fieldName, _ := fieldObj["name"].(string)
			scalar, nullable, ok := unwrapScalar(fieldObj["type"])
			if !ok {
				continue
			}
			table.Columns = append(table.Columns, core.Column{
				Name:      fieldName,
				Type:      mapGraphQLType(scalar),
				Nullable:  nullable,
				IsPrimary: strings.EqualFold(fieldName, "id"),
			})
		}
		if len(table.Columns) > 0 {
			schema.Tables = append(schema.Tables, table)
		}
	}
	return schema, nil
}

// unwrapScalar peels NON_NULL wrappers and reports the scalar type name.
// List and object fields return ok=false.
func unwrapScalar(raw interface{}) (name string, nullable bool, ok bool) {
	nullable = true
	for depth := 0; depth < 3; depth++ {
		typeObj, isMap := raw.(map[string]interface{})
		if !isMap {
			return "", false, false
		}
		kind, _ := typeObj["kind"].(string)
		switch kind {
		case "NON_NULL":
			nullable = false
			raw = typeObj["ofType"]
		case "SCALAR", "ENUM":
			name, _ = typeObj["name"].(string)
			return name, nullable, true
		default:
			return "", false, false
		}
	}
	return "", false, false
}

func mapGraphQLType(name string) core.ColumnType {
	switch name {
	case "Int":
		return core.TypeInteger
	case "Float":
		return core.TypeReal
	case "Boolean":
		return core.TypeBoolean
	case "DateTime", "Date", "Timestamp":
		return core.TypeTimestamp
	default:
		return core.TypeText
	}
}
