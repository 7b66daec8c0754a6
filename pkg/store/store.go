// Package store is the public entry point to the entity store backends.
// It selects an implementation by Config.Backend while keeping the
// implementations internal.
//
// Example:
//
//	s, err := store.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: "db",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Detach()
package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/boltdb"
	"github.com/mesh-intelligence/anonymizer/internal/memstore"
	"github.com/mesh-intelligence/anonymizer/internal/sqlite"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// New returns a detached store for the named backend.
func New(backend string, log *zap.Logger) (types.EntityStore, error) {
	switch backend {
	case types.BackendSQLite:
		return sqlite.NewBackend(log), nil
	case types.BackendBolt:
		return boltdb.NewBackend(log), nil
	case types.BackendMemory:
		return memstore.New(), nil
	case "":
		return nil, types.ErrBackendEmpty
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, backend)
	}
}

// Open creates the backend named by cfg and attaches it.
func Open(cfg types.Config, log *zap.Logger) (types.EntityStore, error) {
	s, err := New(cfg.Backend, log)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attach %s store: %w", cfg.Backend, err)
	}
	return s, nil
}
