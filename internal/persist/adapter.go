// Package persist saves and restores the session collection.
package persist

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/chat"
)

// ErrCorrupt marks stored data that exists but cannot be turned back into sessions.
var ErrCorrupt = errors.New("persist: corrupt snapshot")

// Adapter is a durable home for the full session collection.
type Adapter interface {
	// Load returns the stored collection. Missing data is an empty collection, not an error.
	Load(ctx context.Context) (chat.Collection, error)
	// Save replaces the stored collection with c.
	Save(ctx context.Context, c chat.Collection) error
	Close() error
}

// LoadOrEmpty loads from a and falls back to an empty collection on any failure.
func LoadOrEmpty(ctx context.Context, a Adapter, logger *zap.Logger) chat.Collection {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := a.Load(ctx)
	if err != nil {
		logger.Warn("discarding unreadable session snapshot", zap.Error(err))
		return chat.Collection{}
	}
	if c == nil {
		return chat.Collection{}
	}
	return c
}

// Driver names a storage backend.
type Driver string

const (
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
	DriverMemory Driver = "memory"
)

// Options selects and locates a storage backend.
type Options struct {
	Driver Driver
	Path   string
}

// Open builds the adapter named by opts.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Driver {
	case DriverFile, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("file storage requires a path")
		}
		return NewFileAdapter(opts.Path, logger), nil
	case DriverSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return NewSQLiteAdapter(ctx, opts.Path, logger)
	case DriverMemory:
		return NewMemoryAdapter(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
}
