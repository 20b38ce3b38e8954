// Package crm implements the REST/CRM connector. CRM APIs expose typed
// objects over paginated REST endpoints; the incoming SELECT is parsed,
// records are fetched page by page under the row ceiling, coerced to
// canonical types and the statement is evaluated in memory. Registered
// under the "crm" source type.
package crm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/flowforge/flowforge/pkg/clients"
	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/base"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/sqlselect"
)

func init() {
	registry.Register("crm", func(cfg *config.ConnectionConfig) (core.Connector, error) {
		return NewConnector(cfg)
	})
}

// Connector is the REST/CRM source
type Connector struct {
	*base.BaseConnector

	client  *clients.HTTPClient
	tokens  oauth2.TokenSource
	baseURL string

	mu     sync.RWMutex
	schema *core.Schema
}

// NewConnector creates a CRM connector
func NewConnector(cfg *config.ConnectionConfig) (*Connector, error) {
	c := &Connector{
		BaseConnector: base.NewBaseConnector("crm", cfg),
		baseURL:       strings.TrimRight(cfg.APIURL, "/"),
	}
	if result := c.ValidateConfig(); !result.Valid {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid crm config: %v", result.Errors)
	}

	c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AuthToken})
	token, err := c.tokens.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain access token")
	}

	c.client = clients.NewHTTPClient(clients.HTTPClientConfig{
		Timeout:         cfg.Timeouts.Request,
		RateLimitPerSec: cfg.Reliability.RateLimitPerSec,
		CircuitBreaker:  cfg.Reliability.CircuitBreaker,
		Headers:         map[string]string{"Authorization": "Bearer " + token.AccessToken},
	}, c.Logger())

	return c, nil
}

// ValidateConfig checks the fields a CRM connection requires
func (c *Connector) ValidateConfig() *core.ValidationResult {
	result := c.BaseConnector.ValidateConfig()
	cfg := c.Config()
	if cfg.APIURL == "" {
		base.AddValidationError(result, "apiUrl is required")
	}
	if cfg.AuthToken == "" {
		base.AddValidationError(result, "authToken is required")
	}
	return result
}

// TestConnection fetches the object catalog as a reachability probe
func (c *Connector) TestConnection(ctx context.Context) (*core.ConnectionTestResult, error) {
	var out objectCatalog
	err := c.WithRetry(ctx, func() error {
		return c.client.GetJSON(ctx, c.baseURL+"/objects", &out)
	})
	if err != nil {
		c.Logger().Warn("connection test failed", zap.Error(err))
		return &core.ConnectionTestResult{Success: false, Error: err.Error()}, nil
	}
	return &core.ConnectionTestResult{Success: true}, nil
}

type objectCatalog struct {
	Objects []objectDescriptor `json:"objects"`
}

type objectDescriptor struct {
	Name   string            `json:"name"`
	Fields []fieldDescriptor `json:"fields"`
}

type fieldDescriptor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Primary  bool   `json:"primary"`
}

type recordPage struct {
	Records []map[string]interface{} `json:"records"`
	HasMore bool                     `json:"hasMore"`
}

// FetchSchema maps the CRM object catalog onto tables and columns
func (c *Connector) FetchSchema(ctx context.Context) (*core.Schema, error) {
	var catalog objectCatalog
	err := c.WithRetry(ctx, func() error {
		return c.client.GetJSON(ctx, c.baseURL+"/objects", &catalog)
	})
	if err != nil {
		return nil, err
	}

	schema := &core.Schema{}
	for _, obj := range catalog.Objects {
		table := core.Table{Name: obj.Name}
		for _, f := range obj.Fields {
			table.Columns = append(table.Columns, core.Column{
				Name:      f.Name,
				Type:      mapCRMType(f.Type),
				Nullable:  f.Nullable,
				IsPrimary: f.Primary,
			})
		}
		schema.Tables = append(schema.Tables, table)
	}

	c.mu.Lock()
	c.schema = schema
	c.mu.Unlock()

	c.Logger().Debug("schema fetched", zap.Int("objects", len(schema.Tables)))
	return schema, nil
}

// ExecuteQuery parses the SELECT, fetches the object's records and
// evaluates the statement over them.
func (c *Connector) ExecuteQuery(ctx context.Context, sql string) (*core.QueryResult, error) {
	stmt, err := sqlselect.Parse(sql)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	rows, err := c.fetchRecords(ctx, stmt.Collection)
	if err != nil {
		return nil, err
	}

	result, err := sqlselect.Evaluate(rows, stmt)
	if err != nil {
		return nil, err
	}
	return core.NewQueryResult(result.Columns, result.Rows, started), nil
}

// fetchRecords pages through the object's record endpoint. The MaxRows
// ceiling bounds memory; the predicate runs after the fetch.
func (c *Connector) fetchRecords(ctx context.Context, object string) ([]sqlselect.Row, error) {
	pageSize := c.Config().Limits.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	maxRows := c.Config().Limits.MaxRows

	// One catalog fetch per session feeds the coercion pass, so record
	// values carry canonical types even when the caller never asked for
	// the schema. A failed catalog fetch leaves values untyped.
	if err := c.ensureSchema(ctx); err != nil {
		c.Logger().Warn("object catalog fetch failed, values stay untyped", zap.Error(err))
	}
	types := c.columnTypes(object)

	var all []sqlselect.Row
	offset := 0

	for {
		url := fmt.Sprintf("%s/objects/%s/records?limit=%d&offset=%d", c.baseURL, object, pageSize, offset)
		var page recordPage
		err := c.WithRetry(ctx, func() error {
			page = recordPage{}
			return c.client.GetJSON(ctx, url, &page)
		})
		if err != nil {
			return nil, err
		}

		for _, record := range page.Records {
			row := make(sqlselect.Row, len(record))
			for k, v := range record {
				if t, ok := types[k]; ok {
					row[k] = core.Coerce(v, t)
				} else {
					row[k] = v
				}
			}
			all = append(all, row)
		}

		if !page.HasMore || len(page.Records) == 0 {
			break
		}
		if maxRows > 0 && len(all) >= maxRows {
			all = all[:maxRows]
			c.Logger().Warn("fetch truncated at row ceiling",
				zap.String("object", object),
				zap.Int("max_rows", maxRows))
			break
		}
		offset += len(page.Records)
	}

	return all, nil
}

// ensureSchema fetches the object catalog once per session; later
// calls reuse the cache until Disconnect drops it.
func (c *Connector) ensureSchema(ctx context.Context) error {
	c.mu.RLock()
	cached := c.schema
	c.mu.RUnlock()
	if cached != nil {
		return nil
	}
	_, err := c.FetchSchema(ctx)
	return err
}

func (c *Connector) columnTypes(object string) map[string]core.ColumnType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.schema == nil {
		return nil
	}
	for _, t := range c.schema.Tables {
		if t.Name == object {
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

// mapCRMType maps CRM field types onto the canonical type system
func mapCRMType(fieldType string) core.ColumnType {
	switch strings.ToLower(fieldType) {
	case "integer", "int":
		return core.TypeInteger
	case "number", "float", "double", "decimal", "currency":
		return core.TypeReal
	case "boolean", "checkbox":
		return core.TypeBoolean
	case "datetime", "date", "timestamp":
		return core.TypeTimestamp
	default:
		return core.TypeText
	}
}
