package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/core"
)

func testConfig(url string) *config.ConnectionConfig {
	cfg := config.NewConnectionConfig("crm")
	cfg.APIURL = url
	cfg.AuthToken = "test-token"
	cfg.Reliability.RetryAttempts = 1
	return cfg
}

// crmServer serves a contacts object with n records
func crmServer(t *testing.T, n int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/objects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"objects": []map[string]interface{}{
				{
					"name": "contacts",
					"fields": []map[string]interface{}{
						{"name": "id", "type": "integer", "primary": true},
						{"name": "email", "type": "string", "nullable": true},
						{"name": "balance", "type": "currency", "nullable": true},
						{"name": "active", "type": "checkbox"},
					},
				},
			},
		})
	})
	mux.HandleFunc("/objects/contacts/records", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var records []map[string]interface{}
		for i := offset; i < offset+limit && i < n; i++ {
			records = append(records, map[string]interface{}{
				"id":      fmt.Sprintf("%d", i),
				"email":   fmt.Sprintf("user%d@example.com", i),
				"balance": "10.5",
				"active":  "true",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"records": records,
			"hasMore": offset+len(records) < n,
		})
	})
	return httptest.NewServer(mux)
}

func TestValidateConfig(t *testing.T) {
	t.Run("missing url and token", func(t *testing.T) {
		cfg := config.NewConnectionConfig("crm")
		_, err := NewConnector(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "apiUrl")
		assert.Contains(t, err.Error(), "authToken")
	})

	t.Run("complete config", func(t *testing.T) {
		conn, err := NewConnector(testConfig("http://crm.example.com"))
		require.NoError(t, err)
		assert.True(t, conn.ValidateConfig().Valid)
	})
}

func TestTestConnection(t *testing.T) {
	server := crmServer(t, 0)
	defer server.Close()

	conn, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)
	defer conn.Disconnect(context.Background())

	result, err := conn.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestTestConnection_BadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	conn, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)

	result, err := conn.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestFetchSchema(t *testing.T) {
	server := crmServer(t, 0)
	defer server.Close()

	conn, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)
	defer conn.Disconnect(context.Background())

	schema, err := conn.FetchSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)

	table := schema.Tables[0]
	assert.Equal(t, "contacts", table.Name)
	require.Len(t, table.Columns, 4)
	assert.Equal(t, core.TypeInteger, table.Columns[0].Type)
	assert.True(t, table.Columns[0].IsPrimary)
	assert.Equal(t, core.TypeText, table.Columns[1].Type)
	assert.Equal(t, core.TypeReal, table.Columns[2].Type)
	assert.Equal(t, core.TypeBoolean, table.Columns[3].Type)
}

func TestExecuteQuery_CoercesViaSchema(t *testing.T) {
	server := crmServer(t, 1)
	defer server.Close()

	conn, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)
	defer conn.Disconnect(context.Background())

	// No explicit FetchSchema: the session fetches the catalog on its
	// own, so record values coerce to canonical types
	result, err := conn.ExecuteQuery(context.Background(), "SELECT id, balance, active FROM contacts")
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)

	row := result.Rows[0]
	assert.Equal(t, int64(0), row["id"])
	assert.Equal(t, 10.5, row["balance"])
	assert.Equal(t, true, row["active"])
}

func TestExecuteQuery_Pagination(t *testing.T) {
	server := crmServer(t, 7)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Limits.PageSize = 3
	conn, err := NewConnector(cfg)
	require.NoError(t, err)
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteQuery(context.Background(), "SELECT email FROM contacts")
	require.NoError(t, err)
	assert.Equal(t, 7, result.RowCount)
}

func TestExecuteQuery_MaxRowsCeiling(t *testing.T) {
	server := crmServer(t, 50)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Limits.PageSize = 10
	cfg.Limits.MaxRows = 25
	conn, err := NewConnector(cfg)
	require.NoError(t, err)
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteQuery(context.Background(), "SELECT email FROM contacts")
	require.NoError(t, err)
	assert.Equal(t, 25, result.RowCount)
}

func TestExecuteQuery_PredicateAfterFetch(t *testing.T) {
	server := crmServer(t, 10)
	defer server.Close()

	conn, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteQuery(context.Background(),
		"SELECT email FROM contacts WHERE email = 'user3@example.com'")
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, "user3@example.com", result.Rows[0]["email"])
}
