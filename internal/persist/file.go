package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/chat"
)

// snapshotVersion is written into every file snapshot.
const snapshotVersion = 1

// snapshotSchema describes the on-disk document. Roles include the legacy "model".
const snapshotSchema = `{
	"type": "object",
	"required": ["sessions"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"sessions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "messages"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"title": {"type": "string"},
					"messages": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["role", "content"],
							"properties": {
								"role": {"enum": ["user", "assistant", "model"]},
								"content": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var snapshotSchemaLoader = gojsonschema.NewStringLoader(snapshotSchema)

type fileSnapshot struct {
	Version  int             `json:"version"`
	Sessions chat.Collection `json:"sessions"`
}

// FileAdapter stores the collection as one JSON document.
type FileAdapter struct {
	path   string
	logger *zap.Logger
}

// NewFileAdapter returns an adapter that reads and writes path.
func NewFileAdapter(path string, logger *zap.Logger) *FileAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileAdapter{path: path, logger: logger.Named("persist.file")}
}

// Load reads and validates the snapshot. A missing file yields an empty collection.
func (a *FileAdapter) Load(ctx context.Context) (chat.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return chat.Collection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := validateSnapshot(data); err != nil {
		return nil, err
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := snap.Sessions.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.Sessions == nil {
		snap.Sessions = chat.Collection{}
	}

	a.logger.Debug("snapshot loaded",
		zap.String("path", a.path),
		zap.Int("sessions", len(snap.Sessions)),
		zap.String("size", units.HumanSize(float64(len(data)))),
	)
	return snap.Sessions, nil
}

// Save writes the snapshot through a temporary file so readers never see a partial document.
func (a *FileAdapter) Save(ctx context.Context, c chat.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil {
		c = chat.Collection{}
	}

	data, err := json.MarshalIndent(fileSnapshot{Version: snapshotVersion, Sessions: c}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(a.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpName, a.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	a.logger.Debug("snapshot saved",
		zap.String("path", a.path),
		zap.Int("sessions", len(c)),
		zap.String("size", units.HumanSize(float64(len(data)))),
	)
	return nil
}

func (a *FileAdapter) Close() error { return nil }

func validateSnapshot(data []byte) error {
	result, err := gojsonschema.Validate(snapshotSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(msgs, "; "))
	}
	return nil
}

// IsCorrupt reports whether err came from unreadable stored data.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
