// Package bootstrap assembles the store, pipeline stages and worker from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docqueue/internal/artifact"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/dedupe"
	"github.com/joseph-ayodele/docqueue/internal/extract"
	"github.com/joseph-ayodele/docqueue/internal/ingest"
	"github.com/joseph-ayodele/docqueue/internal/llm"
	"github.com/joseph-ayodele/docqueue/internal/lock"
	"github.com/joseph-ayodele/docqueue/internal/ocr"
	"github.com/joseph-ayodele/docqueue/internal/repository"
	"github.com/joseph-ayodele/docqueue/internal/repository/badger"
	"github.com/joseph-ayodele/docqueue/internal/worker"
)

// memoryDSN selects an in-memory badger store.
const memoryDSN = ":memory:"

// OpenStore opens the job store named by cfg.Driver. The caller closes it.
func OpenStore(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (repository.JobRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver == common.DriverBadger {
		inMemory := cfg.DSN == "" || cfg.DSN == memoryDSN
		dir := cfg.DSN
		if inMemory {
			dir = ""
		}
		backend, err := badger.OpenBackend(dir, inMemory, logger)
		if err != nil {
			return nil, err
		}
		return badger.NewJobRepository(backend, logger), nil
	}

	db, err := repository.Open(ctx, repository.ConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}
	return repository.NewJobRepository(db, logger), nil
}

// NewLoader returns a filesystem loader with tesseract OCR attached.
func NewLoader(cfg *common.Config, logger *slog.Logger) *ingest.FSLoader {
	return ingest.NewFSLoader(
		ingest.WithOCR(ocr.NewTesseract(cfg.OCR, logger)),
		ingest.WithRecursive(cfg.Worker.Recursive),
		ingest.WithLogger(logger),
	)
}

// NewGuard serializes accelerator use through the lock directory.
func NewGuard(cfg common.LockConfig, logger *slog.Logger) *lock.Guard {
	return lock.NewGuard(lock.NewDirLock(cfg.Dir, logger), cfg.Timeout, cfg.PollInterval, logger)
}

// NewExtractor chains the LLM extractor, when configured, ahead of the rules extractor.
func NewExtractor(cfg *common.Config, logger *slog.Logger) (extract.Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.LLM.Enabled {
		logger.Info("llm extractor disabled, using rules only")
		return extract.NewChain(logger, extract.NewRulesExtractor()), nil
	}
	model, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	llmx := extract.NewLLMExtractor(model,
		extract.WithGuard(NewGuard(cfg.Lock, logger)),
		extract.WithTemperature(float64(cfg.LLM.Temperature)),
		extract.WithMaxAttempts(cfg.LLM.MaxAttempts),
		extract.WithLLMLogger(logger),
	)
	return extract.NewChain(logger, llmx, extract.NewRulesExtractor()), nil
}

// NewWorker wires a worker over jobs using cfg.
func NewWorker(cfg *common.Config, jobs repository.JobRepository, logger *slog.Logger) (*worker.Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	extractor, err := NewExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithOneShot(cfg.Worker.OneTime),
		worker.WithStaleAfter(cfg.Worker.StaleAfter),
		worker.WithReapInterval(cfg.Worker.ReapInterval),
	}
	if cfg.Worker.Dedupe {
		opts = append(opts, worker.WithDeduper(dedupe.New(dedupe.WithLogger(logger))))
	}
	store := artifact.NewFSStore(cfg.Worker.ArtifactDir, logger)
	return worker.New(jobs, NewLoader(cfg, logger), extractor, store, opts...), nil
}
