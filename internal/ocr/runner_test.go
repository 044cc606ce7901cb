package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_TagsLogsWithJobID(t *testing.T) {
	requireShell(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := common.WithJobID(context.Background(), "job-42")

	out, _, err := ExecRunner{}.Run(ctx, "sh", logger, "-c", "printf 'Jane Doe'")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", string(out))
	assert.Contains(t, logs.String(), "job_id=job-42")
	assert.Contains(t, logs.String(), "tool=sh")
	assert.Contains(t, logs.String(), "stdout_bytes=8")
}

func TestExecRunner_FailureLogsExitCodeAndStderr(t *testing.T) {
	requireShell(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	_, errb, err := ExecRunner{StderrLimit: 4}.Run(context.Background(), "sh", logger,
		"-c", "echo 'missing traineddata' >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, "missing traineddata\n", string(errb))
	assert.Contains(t, logs.String(), "exit_code=3")
	assert.Contains(t, logs.String(), "miss...(truncated)")
	assert.NotContains(t, logs.String(), "job_id=")
}

func TestExecRunner_PrefersContextLogger(t *testing.T) {
	requireShell(t)
	var scoped, fallback bytes.Buffer
	jobLog := slog.New(slog.NewTextHandler(&scoped, &slog.HandlerOptions{Level: slog.LevelDebug})).With("job_id", "job-7")
	ctx := common.WithLogger(common.WithJobID(context.Background(), "job-7"), jobLog)

	_, _, err := ExecRunner{}.Run(ctx, "sh", slog.New(slog.NewTextHandler(&fallback, nil)), "-c", "true")
	require.NoError(t, err)
	assert.Empty(t, fallback.String())
	assert.Equal(t, 1, bytes.Count(scoped.Bytes(), []byte("job_id=job-7")))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	var logs bytes.Buffer
	_, _, err := ExecRunner{}.Run(context.Background(), "/nonexistent/tesseract", slog.New(slog.NewTextHandler(&logs, nil)))
	require.Error(t, err)
	assert.Contains(t, logs.String(), "exit_code=-1")
}
