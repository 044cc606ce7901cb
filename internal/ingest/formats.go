package ingest

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

func joinPages(docs []schema.Document, sep string) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if s := strings.TrimSpace(d.PageContent); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func loadWith(ctx context.Context, path string, newLoader func(*os.File) (documentloaders.Loader, error), sep string) (string, error) {
	f, err := openFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	loader, err := newLoader(f)
	if err != nil {
		return "", err
	}
	docs, err := loader.Load(ctx)
	if err != nil {
		return "", err
	}
	return joinPages(docs, sep), nil
}

func loadText(ctx context.Context, path string) (string, error) {
	return loadWith(ctx, path, func(f *os.File) (documentloaders.Loader, error) {
		return documentloaders.NewText(f), nil
	}, "\n")
}

func loadHTML(ctx context.Context, path string) (string, error) {
	return loadWith(ctx, path, func(f *os.File) (documentloaders.Loader, error) {
		return documentloaders.NewHTML(f), nil
	}, "\n")
}

// loadCSV renders each row as "column: value" lines, rows separated by a blank line.
func loadCSV(ctx context.Context, path string) (string, error) {
	return loadWith(ctx, path, func(f *os.File) (documentloaders.Loader, error) {
		return documentloaders.NewCSV(f), nil
	}, "\n\n")
}

func loadPDFText(ctx context.Context, path string) (string, error) {
	return loadWith(ctx, path, func(f *os.File) (documentloaders.Loader, error) {
		fi, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat: %w", err)
		}
		return documentloaders.NewPDF(f, fi.Size()), nil
	}, "\n")
}

// loadDocx reads the paragraphs of word/document.xml.
func loadDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.Name != "word/document.xml" {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()
		return docxParagraphs(rc)
	}
	return "", errors.New("docx: word/document.xml not found")
}

func docxParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var paras []string
	var cur strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paras = append(paras, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		paras = append(paras, s)
	}
	return strings.Join(paras, "\n"), nil
}

var (
	reRTFControl = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	reRTFHex     = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
	reRTFGroups  = regexp.MustCompile(`\{\\\*[^{}]*\}`)
	reRTFPar     = regexp.MustCompile(`\\par\b ?`)
)

// loadDoc is best effort: RTF bodies are stripped of control words, binary
// Word files are reduced to their printable runs.
func loadDoc(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if strings.HasPrefix(string(raw), `{\rtf`) {
		return stripRTF(string(raw)), nil
	}
	return printableRuns(raw, 4), nil
}

func stripRTF(s string) string {
	s = reRTFGroups.ReplaceAllString(s, "")
	s = reRTFPar.ReplaceAllString(s, "\n")
	s = reRTFHex.ReplaceAllString(s, "")
	s = reRTFControl.ReplaceAllString(s, "")
	s = strings.NewReplacer("{", "", "}", "").Replace(s)
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

func printableRuns(raw []byte, minRun int) string {
	var runs []string
	var cur []rune
	flush := func() {
		if len(cur) >= minRun {
			if s := strings.TrimSpace(string(cur)); s != "" {
				runs = append(runs, s)
			}
		}
		cur = cur[:0]
	}
	for _, b := range raw {
		r := rune(b)
		if r < unicode.MaxASCII && (unicode.IsPrint(r) || r == '\t') {
			cur = append(cur, r)
			continue
		}
		flush()
	}
	flush()
	return strings.Join(runs, "\n")
}
