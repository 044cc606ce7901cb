package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/artifact"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/dedupe"
	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/extract"
	"github.com/joseph-ayodele/docqueue/internal/ingest"
	"github.com/joseph-ayodele/docqueue/internal/repository"
	"github.com/joseph-ayodele/docqueue/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	docs  []ingest.Document
	err   error
	panic string
	calls int
}

func (f *fakeLoader) Load(_ context.Context, _ string) ([]ingest.Document, error) {
	f.calls++
	if f.panic != "" {
		panic(f.panic)
	}
	return f.docs, f.err
}

// fakeExtractor fails on "bad" content and panics on "boom".
type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, content string) (*entity.Artifact, error) {
	switch content {
	case "bad":
		return nil, errors.New("cannot parse")
	case "boom":
		panic("extractor exploded")
	}
	return &entity.Artifact{
		Name:   content,
		Source: &entity.SourceInfo{Extractor: "fake"},
	}, nil
}

type fakeDeduper struct {
	err   error
	calls int
}

func (f *fakeDeduper) Run(_ context.Context, _ string) (dedupe.Report, error) {
	f.calls++
	return dedupe.Report{}, f.err
}

func newRepo(t *testing.T) repository.JobRepository {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{
		Driver: common.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	}, slog.Default())
	require.NoError(t, err)
	repo := repository.NewJobRepository(db, slog.Default())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func doc(name, content string) ingest.Document {
	return ingest.Document{
		Content:  content,
		Metadata: ingest.Metadata{FileName: name, Source: "/in/" + name, FileType: "txt"},
	}
}

func targetFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cv.txt")
	require.NoError(t, os.WriteFile(path, []byte("Jane Doe"), 0o644))
	return path
}

func noSleep(t *testing.T) worker.Option {
	return worker.WithSleep(func(context.Context, time.Duration) error {
		t.Fatal("sleep must not be called")
		return nil
	})
}

func TestRun_OneShotEmptyQueueReturnsWithoutSleeping(t *testing.T) {
	repo := newRepo(t)
	loader := &fakeLoader{}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil),
		worker.WithOneShot(true), noSleep(t))

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, loader.calls)
}

func TestRun_OneShotProcessesAtMostOneJob(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	target := targetFile(t)
	first, err := repo.Submit(ctx, target, 3)
	require.NoError(t, err)
	second, err := repo.Submit(ctx, target, 3)
	require.NoError(t, err)

	loader := &fakeLoader{docs: []ingest.Document{doc("cv.txt", "Jane")}}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil),
		worker.WithOneShot(true), noSleep(t))
	require.NoError(t, w.Run(ctx))

	got, err := repo.Fetch(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	got, err = repo.Fetch(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
}

func TestRun_DaemonSleepsUntilCancelled(t *testing.T) {
	repo := newRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps atomic.Int32
	w := worker.New(repo, &fakeLoader{}, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil),
		worker.WithPollInterval(time.Hour),
		worker.WithSleep(func(ctx context.Context, d time.Duration) error {
			assert.Equal(t, time.Hour, d)
			if sleeps.Add(1) == 2 {
				cancel()
				return ctx.Err()
			}
			return nil
		}))

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(2), sleeps.Load())
}

func TestProcessJob_Success(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	out := t.TempDir()
	job, err := repo.Submit(ctx, targetFile(t), 3)
	require.NoError(t, err)

	dd := &fakeDeduper{}
	loader := &fakeLoader{docs: []ingest.Document{doc("a.txt", "Ann"), doc("b.txt", "Bob")}}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(out, nil), worker.WithDeduper(dd))

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.UnitsLoaded)
	assert.Equal(t, 2, got.Result.UnitsParsed)
	assert.Equal(t, 0, got.Result.UnitsFailed)
	assert.Equal(t, constants.TargetKindFile, got.Result.TargetKind)
	assert.Equal(t, []string{
		filepath.Join(out, "a.txt"+constants.ArtifactSuffix),
		filepath.Join(out, "b.txt"+constants.ArtifactSuffix),
	}, got.Result.Artifacts)
	assert.Equal(t, 1, dd.calls)

	raw, err := os.ReadFile(got.Result.Artifacts[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"path": "/in/a.txt"`)
	assert.Contains(t, string(raw), `"extractor": "fake"`)
}

func TestProcessJob_UnitFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, targetFile(t), 3)
	require.NoError(t, err)

	loader := &fakeLoader{docs: []ingest.Document{doc("a.txt", "Ann"), doc("b.txt", "bad"), doc("c.txt", "boom")}}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil))
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Result.UnitsLoaded)
	assert.Equal(t, 1, got.Result.UnitsParsed)
	assert.Equal(t, 2, got.Result.UnitsFailed)
	assert.Len(t, got.Result.Artifacts, 1)
}

func TestProcessJob_NoUnitsStillCompletes(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, t.TempDir(), 1)
	require.NoError(t, err)

	dd := &fakeDeduper{}
	w := worker.New(repo, &fakeLoader{}, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil), worker.WithDeduper(dd))
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, constants.TargetKindDirectory, got.Result.TargetKind)
	assert.Zero(t, got.Result.UnitsLoaded)
	assert.Zero(t, dd.calls)
}

func TestProcessJob_MissingTargetRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, filepath.Join(t.TempDir(), "gone.pdf"), 1)
	require.NoError(t, err)

	loader := &fakeLoader{}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil))

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.True(t, strings.HasPrefix(*got.ErrorMessage, "NOT_FOUND: path does not exist"), *got.ErrorMessage)

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	got, err = repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Zero(t, loader.calls)
}

func TestProcessJob_LoaderPanicFailsAttempt(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, targetFile(t), 2)
	require.NoError(t, err)

	w := worker.New(repo, &fakeLoader{panic: "loader exploded"}, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil))
	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Panic: loader exploded", *got.ErrorMessage)
}

func TestProcessJob_LoaderErrorUsesKind(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, targetFile(t), 1)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	w := worker.New(repo, &fakeLoader{err: errors.New("disk on fire")}, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil))
	require.Error(t, w.ProcessJob(ctx, job))

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "ProcessingError: disk on fire", *got.ErrorMessage)
}

func TestProcessJob_DedupeFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, targetFile(t), 1)
	require.NoError(t, err)

	dd := &fakeDeduper{err: errors.New("quarantine unwritable")}
	loader := &fakeLoader{docs: []ingest.Document{doc("a.txt", "Ann")}}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil), worker.WithDeduper(dd))
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, dd.calls)
}

func TestWorker_EndToEndWithDedupe(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	in := t.TempDir()
	out := t.TempDir()
	cv := "JANE DOE\njane@example.com\n\nEXPERIENCE\nEngineer at Initech\n2016 - 2020\n"
	require.NoError(t, os.WriteFile(filepath.Join(in, "jane.txt"), []byte(cv), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "jane-copy.txt"), []byte(cv), 0o644))

	job, err := repo.Submit(ctx, in, 1)
	require.NoError(t, err)

	w := worker.New(repo, ingest.NewFSLoader(), extract.NewChain(nil, extract.NewRulesExtractor()),
		artifact.NewFSStore(out, nil), worker.WithDeduper(dedupe.New()), worker.WithOneShot(true))
	require.NoError(t, w.Run(ctx))

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Result.UnitsParsed)

	kept, err := filepath.Glob(filepath.Join(out, "*"+constants.ArtifactSuffix))
	require.NoError(t, err)
	moved, err := filepath.Glob(filepath.Join(out, constants.DuplicatesDirName, "*"))
	require.NoError(t, err)
	assert.Len(t, kept, 1)
	assert.Len(t, moved, 1)
}

func TestReaper_SweepRequeuesStaleJobs(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	job, err := repo.Submit(ctx, "/data/cv.pdf", 3)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	r := worker.NewReaper(repo, time.Millisecond, 0, nil)
	time.Sleep(10 * time.Millisecond)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

// contendedRepo loses the first n claims as if other workers got there first.
type contendedRepo struct {
	repository.JobRepository
	lose   atomic.Int32
	sweeps atomic.Int32
}

func (r *contendedRepo) ClaimNextPending(ctx context.Context) (*entity.Job, error) {
	if r.lose.Add(-1) >= 0 {
		return nil, repository.ClaimContentionError(8)
	}
	return r.JobRepository.ClaimNextPending(ctx)
}

func (r *contendedRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	r.sweeps.Add(1)
	return r.JobRepository.RequeueStale(ctx, olderThan)
}

func TestRun_OneShotReportsClaimContention(t *testing.T) {
	ctx := context.Background()
	repo := &contendedRepo{JobRepository: newRepo(t)}
	repo.lose.Store(1)
	_, err := repo.Submit(ctx, targetFile(t), 3)
	require.NoError(t, err)

	w := worker.New(repo, &fakeLoader{}, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil),
		worker.WithOneShot(true), noSleep(t))
	err = w.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrContention)
}

func TestRun_DaemonRetriesContendedClaimWithoutSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &contendedRepo{JobRepository: newRepo(t)}
	repo.lose.Store(3)
	job, err := repo.Submit(ctx, targetFile(t), 3)
	require.NoError(t, err)

	loader := &fakeLoader{docs: []ingest.Document{doc("cv.txt", "Jane")}}
	w := worker.New(repo, loader, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil),
		worker.WithSleep(func(ctx context.Context, _ time.Duration) error {
			// the first sleep comes only once the queue is empty
			cancel()
			return ctx.Err()
		}))
	require.NoError(t, w.Run(ctx))

	got, err := repo.Fetch(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, loader.calls)
}

func TestRun_ReaperUsesConfiguredInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &contendedRepo{JobRepository: newRepo(t)}

	w := worker.New(repo, &fakeLoader{}, fakeExtractor{}, artifact.NewFSStore(t.TempDir(), nil),
		worker.WithPollInterval(time.Hour),
		worker.WithStaleAfter(time.Hour),
		worker.WithReapInterval(5*time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return repo.sweeps.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
