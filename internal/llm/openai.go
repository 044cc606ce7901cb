package llm

import (
	"errors"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

// ErrDisabled is returned when no provider is configured.
var ErrDisabled = errors.New("llm disabled: set OPENAI_API_KEY or OPENAI_BASE_URL")

// localToken is sent to OpenAI-compatible local servers that ignore auth.
const localToken = "none"

// New builds an OpenAI-compatible chat model from configuration.
func New(cfg common.LLMConfig, logger *slog.Logger) (llms.Model, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	token := cfg.APIKey
	if token == "" {
		token = localToken
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithHTTPClient(newLoggingDoer(cfg.Timeout, logger)),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, common.WrapError(err, "create openai client")
	}
	logger.Info("llm client ready", "model", cfg.Model, "base_url", cfg.BaseURL)
	return model, nil
}
