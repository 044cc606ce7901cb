package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/lock"
)

const defaultMaxAttempts = 3

// ErrNoChoices is returned when the model answers with nothing.
var ErrNoChoices = errors.New("no choices returned from model")

// LLMExtractor parses CVs with a chat model in JSON mode. Model calls run
// under the accelerator guard when one is configured.
type LLMExtractor struct {
	model       llms.Model
	guard       *lock.Guard
	temperature float64
	maxAttempts int
	logger      *slog.Logger
}

// LLMOption configures an LLMExtractor.
type LLMOption func(*LLMExtractor)

func WithGuard(g *lock.Guard) LLMOption {
	return func(e *LLMExtractor) { e.guard = g }
}

func WithTemperature(t float64) LLMOption {
	return func(e *LLMExtractor) { e.temperature = t }
}

// WithMaxAttempts bounds how many replies are requested when a reply does not
// parse or validate.
func WithMaxAttempts(n int) LLMOption {
	return func(e *LLMExtractor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithLLMLogger(logger *slog.Logger) LLMOption {
	return func(e *LLMExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewLLMExtractor(model llms.Model, opts ...LLMOption) *LLMExtractor {
	e := &LLMExtractor{
		model:       model,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "llm-extractor")
	return e
}

func (*LLMExtractor) Name() string { return "llm" }

func (e *LLMExtractor) Extract(ctx context.Context, content string) (*entity.Artifact, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	rid := uuid.New().String()
	start := time.Now()

	prefill := ExtractContact(content)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, BuildSystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildUserPrompt(prefill, content)),
	}
	e.logger.Info("extract.llm.start", "req_id", rid, "text_len", len(content))

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		reply, err := e.generate(ctx, messages)
		if err != nil {
			e.logger.Error("extract.llm.generate_failed", "req_id", rid, "attempt", attempt, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil, err
		}

		a, err := e.decode(reply)
		if err != nil {
			lastErr = err
			e.logger.Warn("extract.llm.bad_reply", "req_id", rid, "attempt", attempt, "error", err)
			continue
		}

		fillGaps(a, &entity.Artifact{Contact: prefill})
		ensureLists(a)
		e.logger.Info("extract.llm.ok", "req_id", rid, "attempt", attempt, "name", a.Name,
			"elapsed_ms", time.Since(start).Milliseconds())
		return a, nil
	}
	return nil, fmt.Errorf("llm reply unusable after %d attempts: %w", e.maxAttempts, lastErr)
}

func (e *LLMExtractor) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	var resp *llms.ContentResponse
	locked, err := e.guard.Do(ctx, "llm-extract", func(ctx context.Context) error {
		var genErr error
		resp, genErr = e.model.GenerateContent(ctx, messages,
			llms.WithTemperature(e.temperature),
			llms.WithJSONMode(),
		)
		return genErr
	})
	if err != nil {
		return "", err
	}
	if e.guard != nil && !locked {
		e.logger.Debug("extract.llm.ran_unlocked")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}

func (e *LLMExtractor) decode(reply string) (*entity.Artifact, error) {
	raw := []byte(stripFences(reply))
	if err := ValidateArtifactJSON(raw); err != nil {
		cleaned, dropped, sErr := SanitizeArtifactJSON(raw, e.logger)
		if sErr != nil {
			return nil, fmt.Errorf("sanitize failed: %w", sErr)
		}
		if vErr := ValidateArtifactJSON(cleaned); vErr != nil {
			return nil, fmt.Errorf("schema validation failed: %w", vErr)
		}
		e.logger.Warn("extract.llm.lenient_sanitize_applied", "dropped", dropped)
		raw = cleaned
	}

	var a entity.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &a, nil
}
