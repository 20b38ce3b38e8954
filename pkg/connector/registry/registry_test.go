package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/errors"
)

type stubConnector struct {
	core.Connector
}

func stubFactory(cfg *config.ConnectionConfig) (core.Connector, error) {
	return &stubConnector{}, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("stub", stubFactory))

	conn, err := r.Create("stub", config.NewConnectionConfig("stub"))
	require.NoError(t, err)
	assert.NotNil(t, conn)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("stub", stubFactory))

	err := r.Register("stub", stubFactory)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("nope", config.NewConnectionConfig("nope"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistry_FactoryErrorIsWrapped(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("broken", func(cfg *config.ConnectionConfig) (core.Connector, error) {
		return nil, errors.New(errors.ErrorTypeConfig, "host is required")
	}))

	_, err := r.Create("broken", config.NewConnectionConfig("broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", stubFactory))
	require.NoError(t, r.Register("alpha", stubFactory))

	assert.Equal(t, []string{"alpha", "zeta"}, r.List())
}
