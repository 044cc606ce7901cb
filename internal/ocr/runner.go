package ocr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

const defaultStderrLimit = 8 << 10

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs OCR tools through os/exec. Log lines carry the job being
// processed when ctx names one.
type ExecRunner struct {
	// StderrLimit caps the stderr logged on failure. Zero means 8 KiB.
	StderrLimit int
}

func (r ExecRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	log := toolLogger(ctx, logger).With("tool", filepath.Base(name))
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		limit := r.StderrLimit
		if limit <= 0 {
			limit = defaultStderrLimit
		}
		log.Warn("ocr tool failed",
			"args", args,
			"elapsed", elapsed,
			"exit_code", exitCode(err),
			"error", err,
			"stderr", truncate(stderr.String(), limit),
		)
		return stdout.Bytes(), stderr.Bytes(), err
	}
	log.Debug("ocr tool finished",
		"args", args,
		"elapsed", elapsed,
		"stdout_bytes", stdout.Len(),
	)
	return stdout.Bytes(), stderr.Bytes(), nil
}

// toolLogger prefers the job-scoped logger in ctx, which already names the job.
func toolLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	log := common.LoggerFromContext(ctx, fallback)
	if _, scoped := ctx.Value(common.ContextKeyLogger).(*slog.Logger); scoped {
		return log
	}
	if id := common.JobIDFromContext(ctx); id != "" {
		return log.With("job_id", id)
	}
	return log
}

// exitCode is -1 when the tool never ran or was killed by a signal.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
