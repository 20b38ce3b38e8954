// Package registry manages connector registration and instantiation.
// Connector packages register their factory in init(); importing the
// package for side effects makes the source type available.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/logger"
)

// Factory creates a connector instance from a connection config
type Factory func(cfg *config.ConnectionConfig) (core.Connector, error)

// Registry manages connector factories keyed by source type
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty connector registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a connector factory under a source type name
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "connector %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates a connector for the given source type. The config
// is validated by the factory before any connection is attempted.
func (r *Registry) Create(name string, cfg *config.ConnectionConfig) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown connector type %s", name)
	}

	conn, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create connector "+name)
	}

	logger.Get().Debug("connector created", zap.String("type", name))
	return conn, nil
}

// List returns the registered source types in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register registers a factory in the global registry. Called from
// connector package init functions; a duplicate name panics because it
// is a programming error, not a runtime condition.
func Register(name string, factory Factory) {
	if err := globalRegistry.Register(name, factory); err != nil {
		panic(err)
	}
}

// Create instantiates a connector from the global registry
func Create(name string, cfg *config.ConnectionConfig) (core.Connector, error) {
	return globalRegistry.Create(name, cfg)
}

// List returns the source types registered in the global registry
func List() []string {
	return globalRegistry.List()
}
