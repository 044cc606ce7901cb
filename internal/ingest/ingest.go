package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
)

// Metadata describes where a loaded document came from.
type Metadata struct {
	FileName string `json:"file_name"`
	Source   string `json:"source"`
	FileType string `json:"file_type"`
}

// Document is one loadable input unit.
type Document struct {
	Content  string
	Metadata Metadata
}

// Loader turns a job target into zero or more documents.
// Failures on individual files are logged and skipped; only a target that
// cannot be resolved at all is returned as an error.
type Loader interface {
	Load(ctx context.Context, target string) ([]Document, error)
}

// OCR is the optional image/scanned-PDF reader the loader forwards to.
type OCR interface {
	Enabled() bool
	ReadImage(ctx context.Context, path string) (string, error)
	ReadScannedPDF(ctx context.Context, path string) (string, error)
}

// Resolve stats target and reports whether it is a file or a directory.
func Resolve(target string) (constants.TargetKind, error) {
	if strings.TrimSpace(target) == "" {
		return "", common.NewAppError("INVALID_INPUT", "target is required", common.ErrInvalidInput)
	}
	fi, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", common.NotFoundf("path does not exist: %s", target)
		}
		return "", fmt.Errorf("stat %s: %w", target, err)
	}
	if fi.IsDir() {
		return constants.TargetKindDirectory, nil
	}
	return constants.TargetKindFile, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
