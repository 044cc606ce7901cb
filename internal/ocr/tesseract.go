package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

// ErrDisabled is returned when OCR is switched off by configuration.
var ErrDisabled = errors.New("ocr disabled")

// ImageReader turns an image file into plain text.
type ImageReader interface {
	ReadImage(ctx context.Context, path string) (string, error)
}

// Tesseract shells out to the tesseract CLI.
type Tesseract struct {
	bin           string
	pdftoppm      string
	dpi           int
	maxPages      int
	lang          string
	tessdataDir   string
	heicConverter string
	enabled       bool
	runner        Runner
	logger        *slog.Logger
}

// Option customises a Tesseract reader.
type Option func(*Tesseract)

// WithRunner swaps the command runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(t *Tesseract) { t.runner = r }
}

func NewTesseract(cfg common.OCRConfig, logger *slog.Logger, opts ...Option) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tesseract{
		bin:           cfg.Tesseract,
		pdftoppm:      cfg.Pdftoppm,
		dpi:           cfg.DPI,
		maxPages:      cfg.MaxPages,
		lang:          cfg.Language,
		tessdataDir:   cfg.TessdataDir,
		heicConverter: cfg.HeicConverter,
		enabled:       cfg.Enabled,
		runner:        ExecRunner{},
		logger:        logger,
	}
	if t.bin == "" {
		t.bin = "tesseract"
	}
	if t.pdftoppm == "" {
		t.pdftoppm = "pdftoppm"
	}
	if t.dpi <= 0 {
		t.dpi = 300
	}
	if t.lang == "" {
		t.lang = "eng"
	}
	if t.heicConverter == "" {
		t.heicConverter = ConverterMagick
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Enabled reports whether images will be read at all.
func (t *Tesseract) Enabled() bool { return t != nil && t.enabled }

// ReadImage runs `tesseract <file> stdout -l <lang>` and normalizes the output.
// HEIC/HEIF input is converted to PNG first.
func (t *Tesseract) ReadImage(ctx context.Context, path string) (string, error) {
	if !t.Enabled() {
		return "", ErrDisabled
	}
	if isHEIC(path) {
		png, cleanup, err := t.convertHEIC(ctx, path)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return "", err
		}
		path = png
	}
	args := []string{path, "stdout", "-l", t.lang}
	if t.tessdataDir != "" {
		args = append(args, "--tessdata-dir", t.tessdataDir)
	}
	out, errb, err := t.runner.Run(ctx, t.bin, t.logger, args...)
	if err != nil {
		msg := strings.TrimSpace(string(errb))
		if msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, truncate(msg, 512))
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	txt := Normalize(string(out))
	t.logger.Debug("image ocr done", "path", path, "chars", len(txt))
	return txt, nil
}

// ReadScannedPDF rasterizes a PDF with pdftoppm and OCRs every page.
// Pages that fail are skipped; an error is returned only if nothing was read.
func (t *Tesseract) ReadScannedPDF(ctx context.Context, path string) (string, error) {
	if !t.Enabled() {
		return "", ErrDisabled
	}
	tmpDir, err := os.MkdirTemp("", "docqueue-pp-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := t.runner.Run(ctx, t.pdftoppm, t.logger, "-r", strconv.Itoa(t.dpi), "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	pages, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(pages)
	if t.maxPages > 0 && len(pages) > t.maxPages {
		pages = pages[:t.maxPages]
	}
	if len(pages) == 0 {
		return "", errors.New("pdftoppm produced no images")
	}

	var parts []string
	var lastErr error
	for _, img := range pages {
		txt, err := t.ReadImage(ctx, img)
		if err != nil {
			t.logger.Warn("page ocr failed", "page", filepath.Base(img), "error", err)
			lastErr = err
			continue
		}
		if txt != "" {
			parts = append(parts, txt)
		}
	}
	if len(parts) == 0 && lastErr != nil {
		return "", lastErr
	}
	return strings.Join(parts, "\n\n"), nil
}
