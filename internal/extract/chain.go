package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docqueue/internal/entity"
)

// Chain tries extractors in order. The first success wins; if its result is
// sparse the remaining extractors are consulted to fill the gaps.
type Chain struct {
	extractors []Extractor
	logger     *slog.Logger
}

func NewChain(logger *slog.Logger, extractors ...Extractor) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	var kept []Extractor
	for _, e := range extractors {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &Chain{extractors: kept, logger: logger}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Extract(ctx context.Context, content string) (*entity.Artifact, error) {
	if len(c.extractors) == 0 {
		return nil, errors.New("no extractors configured")
	}

	var errs []error
	for i, e := range c.extractors {
		a, err := e.Extract(ctx, content)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Warn("extractor failed, trying next", "extractor", nameOf(e), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(e), err))
			continue
		}
		if a.Source == nil {
			a.Source = &entity.SourceInfo{}
		}
		if a.Source.Extractor == "" {
			a.Source.Extractor = nameOf(e)
		}
		if isSparse(a) {
			c.fill(ctx, a, content, c.extractors[i+1:])
		}
		ensureLists(a)
		return a, nil
	}
	return nil, errors.Join(errs...)
}

func (c *Chain) fill(ctx context.Context, a *entity.Artifact, content string, rest []Extractor) {
	for _, e := range rest {
		fb, err := e.Extract(ctx, content)
		if err != nil {
			c.logger.Debug("fallback extractor failed", "extractor", nameOf(e), "error", err)
			continue
		}
		fillGaps(a, fb)
		if !isSparse(a) {
			return
		}
	}
}
