package llm

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// loggingDoer wraps an http.Client and logs every provider round trip.
// It satisfies the Doer interface the langchaingo providers accept.
type loggingDoer struct {
	client *http.Client
	logger *slog.Logger
}

func newLoggingDoer(timeout time.Duration, logger *slog.Logger) *loggingDoer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &loggingDoer{client: &http.Client{Timeout: timeout}, logger: logger}
}

func (d *loggingDoer) Do(req *http.Request) (*http.Response, error) {
	reqID := uuid.New().String()
	start := time.Now()

	d.logger.Info("llm.http.request",
		"req_id", reqID,
		"url", req.URL.Redacted(),
		"content_length", req.ContentLength,
	)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("llm.http.send_error", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	d.logger.Info("llm.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}
