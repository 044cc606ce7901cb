package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Converters understood for HEIC/HEIF input.
const (
	ConverterMagick      = "magick"
	ConverterHeifConvert = "heif-convert"
	ConverterSips        = "sips"
)

func isHEIC(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif":
		return true
	}
	return false
}

// convertHEIC writes a PNG copy of in to a temp dir. cleanup removes the dir
// and is non-nil whenever the dir was created.
func (t *Tesseract) convertHEIC(ctx context.Context, in string) (out string, cleanup func(), err error) {
	tmpDir, err := os.MkdirTemp("", "docqueue-heic-*")
	if err != nil {
		return "", nil, err
	}
	cleanup = func() { _ = os.RemoveAll(tmpDir) }
	out = filepath.Join(tmpDir, "page.png")

	var args []string
	switch t.heicConverter {
	case ConverterMagick, ConverterHeifConvert:
		args = []string{in, out}
	case ConverterSips:
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		return "", cleanup, fmt.Errorf("HEIC not supported: set HEIC_CONVERTER to one of: %s | %s | %s",
			ConverterHeifConvert, ConverterMagick, ConverterSips)
	}

	if _, errb, err := t.runner.Run(ctx, t.heicConverter, t.logger, args...); err != nil {
		return "", cleanup, fmt.Errorf("%s convert failed: %w: %s", t.heicConverter, err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	if _, err := os.Stat(out); err != nil {
		return "", cleanup, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}
	return out, cleanup, nil
}
