// Package artifact persists extracted records as JSON files.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
)

// Store writes one artifact per processed input unit.
type Store interface {
	// Write persists record under id and returns the artifact path.
	Write(ctx context.Context, id string, record any) (string, error)
	// Dir is the directory artifacts are written to.
	Dir() string
}

// FSStore writes "<id>.parsed.json" files into a directory.
type FSStore struct {
	dir    string
	logger *slog.Logger
}

var _ Store = (*FSStore)(nil)

func NewFSStore(dir string, logger *slog.Logger) *FSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{dir: dir, logger: logger}
}

func (s *FSStore) Dir() string { return s.dir }

// PathFor returns where the artifact for id is written. Only the base name of id is used.
func (s *FSStore) PathFor(id string) (string, error) {
	name := filepath.Base(strings.TrimSpace(id))
	if name == "" || name == "." || name == string(filepath.Separator) || name == ".." {
		return "", common.NewAppError("INVALID_ARTIFACT_ID", fmt.Sprintf("unusable artifact id %q", id), common.ErrInvalidInput)
	}
	return filepath.Join(s.dir, name+constants.ArtifactSuffix), nil
}

// Write replaces any previous artifact for id atomically via a temp file and rename.
func (s *FSStore) Write(ctx context.Context, id string, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := s.PathFor(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	s.logger.Debug("artifact written", "path", dest, "bytes", len(b))
	return dest, nil
}
