package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
)

type fakeOCR struct {
	enabled bool
	images  map[string]string
	scanned string
	err     error
	calls   []string
}

func (f *fakeOCR) Enabled() bool { return f.enabled }

func (f *fakeOCR) ReadImage(_ context.Context, path string) (string, error) {
	f.calls = append(f.calls, "image:"+filepath.Base(path))
	if f.err != nil {
		return "", f.err
	}
	return f.images[filepath.Base(path)], nil
}

func (f *fakeOCR) ReadScannedPDF(_ context.Context, path string) (string, error) {
	f.calls = append(f.calls, "pdf:"+filepath.Base(path))
	if f.err != nil {
		return "", f.err
	}
	return f.scanned, nil
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeDocx(t *testing.T, path string, paragraphs ...string) string {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)

	body := `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`
	for _, p := range paragraphs {
		body += `<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`
	}
	body += `</w:body></w:document>`
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, filepath.Join(dir, "cv.txt"), "hello")

	kind, err := Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, constants.TargetKindDirectory, kind)

	kind, err = Resolve(file)
	require.NoError(t, err)
	assert.Equal(t, constants.TargetKindFile, kind)

	_, err = Resolve(filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = Resolve("  ")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestFSLoader_SingleTextFile(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "jane.txt"), "  Jane Doe\njane@example.com\n")

	docs, err := NewFSLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Jane Doe\njane@example.com", docs[0].Content)
	assert.Equal(t, Metadata{FileName: "jane.txt", Source: path, FileType: "txt"}, docs[0].Metadata)
}

func TestFSLoader_MissingTarget(t *testing.T) {
	_, err := NewFSLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFSLoader_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, "b.md"), "# beta")
	writeFile(t, filepath.Join(dir, "c.html"), "<html><body><h1>Gamma</h1></body></html>")
	writeFile(t, filepath.Join(dir, "d.csv"), "name,email\nDelta,delta@example.com\n")
	writeDocx(t, filepath.Join(dir, "e.docx"), "Epsilon", "epsilon@example.com")
	writeFile(t, filepath.Join(dir, "f.doc"), `{\rtf1\ansi {\*\generator x;}Zeta\par zeta@example.com}`)
	writeFile(t, filepath.Join(dir, ".hidden.txt"), "secret")
	writeFile(t, filepath.Join(dir, "notes.exe"), "binary")
	writeFile(t, filepath.Join(dir, "empty.txt"), "   \n")
	writeFile(t, filepath.Join(dir, "nested", "deep.txt"), "nested")

	docs, err := NewFSLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	byName := map[string]Document{}
	for _, d := range docs {
		byName[d.Metadata.FileName] = d
	}
	require.Len(t, byName, 6)
	assert.Equal(t, "alpha", byName["a.txt"].Content)
	assert.Equal(t, "# beta", byName["b.md"].Content)
	assert.Contains(t, byName["c.html"].Content, "Gamma")
	assert.Equal(t, "name: Delta\nemail: delta@example.com", byName["d.csv"].Content)
	assert.Equal(t, "Epsilon\nepsilon@example.com", byName["e.docx"].Content)
	assert.Equal(t, "Zeta\nzeta@example.com", byName["f.doc"].Content)
	assert.Equal(t, "docx", byName["e.docx"].Metadata.FileType)

	assert.NotContains(t, byName, ".hidden.txt")
	assert.NotContains(t, byName, "notes.exe")
	assert.NotContains(t, byName, "empty.txt")
	assert.NotContains(t, byName, "deep.txt")
}

func TestFSLoader_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	writeFile(t, filepath.Join(dir, "nested", "deep.txt"), "deep")
	writeFile(t, filepath.Join(dir, ".git", "config.txt"), "ignored")

	docs, err := NewFSLoader(WithRecursive(true)).Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "deep.txt", docs[0].Metadata.FileName)
	assert.Equal(t, "top.txt", docs[1].Metadata.FileName)
}

func TestFSLoader_ImagesUseOCR(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scan.png"), "png-bytes")

	o := &fakeOCR{enabled: true, images: map[string]string{"scan.png": "Jane Doe from OCR"}}
	docs, err := NewFSLoader(WithOCR(o)).Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Jane Doe from OCR", docs[0].Content)
	assert.Equal(t, "png", docs[0].Metadata.FileType)
}

func TestFSLoader_ImagesSkippedWhenOCRDisabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scan.jpg"), "jpg-bytes")
	writeFile(t, filepath.Join(dir, "cv.txt"), "text")

	o := &fakeOCR{enabled: false}
	docs, err := NewFSLoader(WithOCR(o)).Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "cv.txt", docs[0].Metadata.FileName)
	assert.Empty(t, o.calls)
}

func TestFSLoader_OCRFailureSkipsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scan.png"), "png-bytes")
	writeFile(t, filepath.Join(dir, "cv.txt"), "text")

	o := &fakeOCR{enabled: true, err: errors.New("tesseract missing")}
	docs, err := NewFSLoader(WithOCR(o)).Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "cv.txt", docs[0].Metadata.FileName)
}

func TestFSLoader_BrokenPDF(t *testing.T) {
	dir := t.TempDir()
	pdf := writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")

	docs, err := NewFSLoader().Load(context.Background(), pdf)
	require.NoError(t, err)
	assert.Empty(t, docs)

	o := &fakeOCR{enabled: true, scanned: "Scanned CV text"}
	docs, err = NewFSLoader(WithOCR(o)).Load(context.Background(), pdf)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Scanned CV text", docs[0].Content)
	assert.Equal(t, []string{"pdf:broken.pdf"}, o.calls)
}

func TestFSLoader_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFSLoader().Load(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrintableRuns(t *testing.T) {
	raw := []byte{0xD0, 0xCF, 'J', 'a', 'n', 'e', ' ', 'D', 'o', 'e', 0x00, 'a', 'b', 0x01, 'S', 'k', 'i', 'l', 'l', 's'}
	assert.Equal(t, "Jane Doe\nSkills", printableRuns(raw, 4))
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden("/a/.git"))
	assert.False(t, IsHidden("/a/b.txt"))
}
