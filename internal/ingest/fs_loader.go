package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docqueue/constants"
)

// scannedPDFThreshold is the text length below which a PDF is treated as scanned.
const scannedPDFThreshold = 100

// FSLoader reads documents from the local filesystem.
type FSLoader struct {
	ocr       OCR
	recursive bool
	logger    *slog.Logger
}

// Option configures an FSLoader.
type Option func(*FSLoader)

// WithOCR forwards images and scanned PDFs to o. A nil or disabled OCR skips them.
func WithOCR(o OCR) Option {
	return func(l *FSLoader) { l.ocr = o }
}

// WithRecursive makes directory targets descend into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(l *FSLoader) { l.recursive = recursive }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *FSLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewFSLoader(opts ...Option) *FSLoader {
	l := &FSLoader{logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *FSLoader) ocrEnabled() bool {
	return l.ocr != nil && l.ocr.Enabled()
}

// Load resolves target and loads every supported file under it.
func (l *FSLoader) Load(ctx context.Context, target string) ([]Document, error) {
	kind, err := Resolve(target)
	if err != nil {
		return nil, err
	}
	if kind == constants.TargetKindFile {
		doc, ok := l.loadFile(ctx, target)
		if !ok {
			return nil, nil
		}
		return []Document{doc}, nil
	}

	paths, err := l.discover(target)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		if doc, ok := l.loadFile(ctx, p); ok {
			docs = append(docs, doc)
		}
	}
	l.logger.Info("loaded directory", "root", target, "candidates", len(paths), "documents", len(docs))
	return docs, nil
}

// discover lists supported, non-hidden files under root in lexical order.
func (l *FSLoader) discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			l.logger.Warn("walk error", "path", path, "error", walkErr)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !l.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !constants.IsAllowedExt(filepath.Ext(path)) {
			l.logger.Debug("skipping unsupported file", "path", path)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFile never fails the caller: problems are logged and the file is skipped.
func (l *FSLoader) loadFile(ctx context.Context, path string) (doc Document, ok bool) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	log := l.logger.With("path", path, "ext", ext)
	defer func() {
		if r := recover(); r != nil {
			log.Error("loader panic", "panic", r)
			doc, ok = Document{}, false
		}
	}()

	fileType, supported := constants.FileTypeForExt(ext)
	if !supported {
		log.Warn("unsupported file type")
		return Document{}, false
	}

	var text string
	var err error
	switch fileType {
	case constants.FileTypeText:
		text, err = loadText(ctx, path)
	case constants.FileTypeHTML:
		text, err = loadHTML(ctx, path)
	case constants.FileTypeCSV:
		text, err = loadCSV(ctx, path)
	case constants.FileTypeDOCX:
		text, err = loadDocx(path)
	case constants.FileTypeDOC:
		text, err = loadDoc(path)
	case constants.FileTypePDF:
		text, err = l.loadPDF(ctx, path)
	case constants.FileTypeImage:
		if !l.ocrEnabled() {
			log.Info("skipping image, ocr disabled")
			return Document{}, false
		}
		text, err = l.ocr.ReadImage(ctx, path)
	}
	if err != nil {
		log.Warn("failed to load file", "error", err)
		return Document{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn("file produced no extractable text")
		return Document{}, false
	}

	log.Debug("loaded file", "chars", len(text))
	return Document{
		Content: text,
		Metadata: Metadata{
			FileName: filepath.Base(path),
			Source:   path,
			FileType: ext,
		},
	}, true
}

func (l *FSLoader) loadPDF(ctx context.Context, path string) (string, error) {
	text, err := loadPDFText(ctx, path)
	if err != nil && !l.ocrEnabled() {
		return "", err
	}
	if len(strings.TrimSpace(text)) >= scannedPDFThreshold || !l.ocrEnabled() {
		return text, nil
	}

	l.logger.Info("pdf appears scanned, attempting ocr", "path", path)
	ocrText, ocrErr := l.ocr.ReadScannedPDF(ctx, path)
	if ocrErr != nil {
		l.logger.Warn("scanned pdf ocr failed", "path", path, "error", ocrErr)
		if err != nil {
			return "", err
		}
		return text, nil
	}
	if strings.TrimSpace(ocrText) == "" {
		return text, err
	}
	return ocrText, nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return f, nil
}
