package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/ingest"
)

// ProcessJob runs the pipeline for a claimed job and records the outcome.
// Failures of single units are counted; anything else fails the whole attempt,
// which requeues the job while retries remain.
func (w *Worker) ProcessJob(ctx context.Context, job *entity.Job) error {
	log := w.logger.With("job_id", job.ID)
	ctx = common.WithLogger(common.WithJobID(ctx, job.ID), log)
	// bookkeeping writes must land even when shutdown cancels ctx mid-job
	storeCtx := context.WithoutCancel(ctx)

	result, err := w.runPipeline(ctx, job)
	if err != nil {
		msg := common.FailureMessage(err)
		updated, mErr := w.jobs.MarkFailed(storeCtx, job.ID, msg)
		if mErr != nil {
			log.Error("mark failed", "error", mErr)
			return errors.Join(err, mErr)
		}
		log.Warn("job attempt failed", "status", updated.Status, "retry_count", updated.RetryCount, "error", msg)
		return err
	}

	if _, err := w.jobs.MarkCompleted(storeCtx, job.ID, result); err != nil {
		log.Error("mark completed", "error", err)
		return err
	}
	log.Info("job completed",
		"target_kind", result.TargetKind,
		"units_loaded", result.UnitsLoaded,
		"units_parsed", result.UnitsParsed,
		"units_failed", result.UnitsFailed)

	if w.deduper != nil && len(result.Artifacts) > 0 {
		w.runDedupe(ctx, log)
	}
	return nil
}

func (w *Worker) runPipeline(ctx context.Context, job *entity.Job) (res *entity.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.NewAppError("Panic", fmt.Sprint(r), common.ErrInternal)
		}
	}()

	kind, err := ingest.Resolve(job.Target)
	if err != nil {
		return nil, err
	}
	docs, err := w.loader.Load(ctx, job.Target)
	if err != nil {
		return nil, err
	}

	res = &entity.JobResult{UnitsLoaded: len(docs), TargetKind: kind, Artifacts: []string{}}
	for i, doc := range docs {
		path, err := w.processUnit(ctx, i, doc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.UnitsFailed++
			common.LoggerFromContext(ctx, w.logger).Warn("unit failed", "source", doc.Metadata.Source, "error", err)
			continue
		}
		res.UnitsParsed++
		res.Artifacts = append(res.Artifacts, path)
	}
	return res, nil
}

func (w *Worker) processUnit(ctx context.Context, idx int, doc ingest.Document) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while parsing: %v", r)
		}
	}()

	a, err := w.extractor.Extract(ctx, doc.Content)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", errors.New("extractor returned no record")
	}

	src := &entity.SourceInfo{}
	if a.Source != nil {
		src = a.Source
	}
	src.FileName = doc.Metadata.FileName
	src.Path = doc.Metadata.Source
	src.FileType = doc.Metadata.FileType
	a.Source = src

	return w.artifacts.Write(ctx, artifactID(idx, doc), a)
}

func artifactID(idx int, doc ingest.Document) string {
	if doc.Metadata.FileName != "" {
		return doc.Metadata.FileName
	}
	if doc.Metadata.Source != "" {
		return filepath.Base(doc.Metadata.Source)
	}
	return fmt.Sprintf("doc_%d", idx)
}

func (w *Worker) runDedupe(ctx context.Context, log *slog.Logger) {
	report, err := w.deduper.Run(ctx, w.artifacts.Dir())
	if err != nil {
		log.Warn("dedupe failed", "dir", w.artifacts.Dir(), "error", err)
		return
	}
	log.Info("dedupe finished", "kept", len(report.Kept), "removed", len(report.Removed))
}
