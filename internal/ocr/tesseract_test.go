package ocr

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

type fakeRunner struct {
	name   string
	args   []string
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func TestTesseract_ReadImage(t *testing.T) {
	r := &fakeRunner{stdout: "Jane  Doe\r\n\n\n\njane@example.com\t \n"}
	tess := NewTesseract(common.OCRConfig{Enabled: true, TessdataDir: "/share/tess"}, nil, WithRunner(r))

	txt, err := tess.ReadImage(context.Background(), "/tmp/cv.png")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n\njane@example.com", txt)
	assert.Equal(t, "tesseract", r.name)
	assert.Equal(t, []string{"/tmp/cv.png", "stdout", "-l", "eng", "--tessdata-dir", "/share/tess"}, r.args)
}

func TestTesseract_Disabled(t *testing.T) {
	r := &fakeRunner{}
	tess := NewTesseract(common.OCRConfig{Enabled: false}, nil, WithRunner(r))

	_, err := tess.ReadImage(context.Background(), "x.png")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, r.name)
	assert.False(t, tess.Enabled())
}

func TestTesseract_CommandFailure(t *testing.T) {
	boom := errors.New("exit status 1")
	r := &fakeRunner{stderr: "Error opening data file", err: boom}
	tess := NewTesseract(common.OCRConfig{Enabled: true, Tesseract: "/usr/bin/tesseract", Language: "deu"}, nil, WithRunner(r))

	_, err := tess.ReadImage(context.Background(), "x.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Error opening data file")
	assert.Equal(t, "/usr/bin/tesseract", r.name)
	assert.Contains(t, r.args, "deu")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "a b\n\nc", Normalize("a\t\tb  \n\n\n\nc"))
	assert.Equal(t, "top\n\nbottom", Normalize("top\n-----\nbottom"))
}

type funcRunner func(name string, args []string) ([]byte, []byte, error)

func (f funcRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	return f(name, args)
}

func TestTesseract_ReadScannedPDF(t *testing.T) {
	var calls []string
	r := funcRunner(func(name string, args []string) ([]byte, []byte, error) {
		calls = append(calls, name)
		switch name {
		case "pdftoppm":
			prefix := args[len(args)-1]
			for _, n := range []string{"-1.png", "-2.png", "-3.png"} {
				require.NoError(t, os.WriteFile(prefix+n, []byte("png"), 0o644))
			}
			return nil, nil, nil
		case "tesseract":
			switch filepath.Base(args[0]) {
			case "page-1.png":
				return []byte("first page"), nil, nil
			case "page-2.png":
				return nil, []byte("bad image"), errors.New("exit status 1")
			default:
				return []byte("third page"), nil, nil
			}
		}
		return nil, nil, errors.New("unexpected command " + name)
	})
	tess := NewTesseract(common.OCRConfig{Enabled: true}, nil, WithRunner(r))

	txt, err := tess.ReadScannedPDF(context.Background(), "/tmp/scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "first page\n\nthird page", txt)
	assert.Equal(t, []string{"pdftoppm", "tesseract", "tesseract", "tesseract"}, calls)
}

func TestTesseract_ReadScannedPDF_NoPagesRendered(t *testing.T) {
	r := funcRunner(func(name string, args []string) ([]byte, []byte, error) {
		return nil, nil, nil
	})
	tess := NewTesseract(common.OCRConfig{Enabled: true, MaxPages: 1}, nil, WithRunner(r))

	_, err := tess.ReadScannedPDF(context.Background(), "/tmp/scan.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no images")
}

func TestTesseract_ReadImageConvertsHEIC(t *testing.T) {
	var calls []string
	r := funcRunner(func(name string, args []string) ([]byte, []byte, error) {
		calls = append(calls, name)
		switch name {
		case "sips":
			out := args[len(args)-1]
			require.NoError(t, os.WriteFile(out, []byte("png"), 0o644))
			return nil, nil, nil
		case "tesseract":
			assert.Equal(t, "page.png", filepath.Base(args[0]))
			return []byte("Jane Doe"), nil, nil
		}
		return nil, nil, errors.New("unexpected " + name)
	})
	tess := NewTesseract(common.OCRConfig{Enabled: true, HeicConverter: "sips"}, nil, WithRunner(r))

	txt, err := tess.ReadImage(context.Background(), "/photos/cv.HEIC")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", txt)
	assert.Equal(t, []string{"sips", "tesseract"}, calls)
}

func TestTesseract_HEICConversionFailure(t *testing.T) {
	r := funcRunner(func(name string, args []string) ([]byte, []byte, error) {
		if name == "magick" {
			return nil, []byte("no decode delegate"), errors.New("exit status 1")
		}
		t.Fatalf("tesseract must not run after a failed conversion")
		return nil, nil, nil
	})
	tess := NewTesseract(common.OCRConfig{Enabled: true}, nil, WithRunner(r))

	_, err := tess.ReadImage(context.Background(), "cv.heic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magick convert failed")
	assert.Contains(t, err.Error(), "no decode delegate")
}

func TestTesseract_UnknownHEICConverter(t *testing.T) {
	tess := NewTesseract(common.OCRConfig{Enabled: true, HeicConverter: "paint"}, nil, WithRunner(&fakeRunner{}))
	_, err := tess.ReadImage(context.Background(), "cv.heif")
	assert.ErrorContains(t, err, "HEIC not supported")
}
