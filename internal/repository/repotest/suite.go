// Package repotest holds behavior tests shared by every JobRepository backend.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty repository. Implementations register cleanup on t.
type Factory func(t *testing.T) repository.JobRepository

// Run executes the shared behavior tests against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("SubmitAndFetch", func(t *testing.T) { testSubmitAndFetch(t, newRepo(t)) })
	t.Run("SubmitRejectsInvalidTarget", func(t *testing.T) { testSubmitRejects(t, newRepo(t)) })
	t.Run("FetchUnknown", func(t *testing.T) { testFetchUnknown(t, newRepo(t)) })
	t.Run("ClaimFIFO", func(t *testing.T) { testClaimFIFO(t, newRepo(t)) })
	t.Run("RetryUntilFailed", func(t *testing.T) { testRetryUntilFailed(t, newRepo(t)) })
	t.Run("StatsAfterCompletion", func(t *testing.T) { testStats(t, newRepo(t)) })
	t.Run("CompletedClearsError", func(t *testing.T) { testCompletedClearsError(t, newRepo(t)) })
	t.Run("InvalidTransitions", func(t *testing.T) { testInvalidTransitions(t, newRepo(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newRepo(t)) })
	t.Run("RequeueStale", func(t *testing.T) { testRequeueStale(t, newRepo(t)) })
}

func testSubmitAndFetch(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	job, err := repo.Submit(ctx, "/data/cv.pdf", 3)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "/data/cv.pdf", got.Target)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.Result)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)

	other, err := repo.Submit(ctx, "/data/cv.pdf", 3)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)
}

func testSubmitRejects(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	_, err := repo.Submit(ctx, "   ", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	_, err = repo.Submit(ctx, "/data/cv.pdf", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())
}

func testFetchUnknown(t *testing.T, repo repository.JobRepository) {
	_, err := repo.Fetch(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func testClaimFIFO(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()

	job, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	var ids []string
	for i := 0; i < 5; i++ {
		j, err := repo.Submit(ctx, fmt.Sprintf("/data/%d.txt", i), 3)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	for _, want := range ids {
		got, err := repo.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.ID)
		assert.Equal(t, constants.JobStatusProcessing, got.Status)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	}

	job, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testRetryUntilFailed(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	job, err := repo.Submit(ctx, "/data/a.pdf", 2)
	require.NoError(t, err)

	messages := []string{"first failure", "second failure", "third failure"}
	var last *entity.Job
	for i, msg := range messages {
		claimed, err := repo.ClaimNextPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", i+1)
		require.Equal(t, job.ID, claimed.ID)

		last, err = repo.MarkFailed(ctx, job.ID, msg)
		require.NoError(t, err)
		assert.LessOrEqual(t, last.RetryCount, last.MaxRetries)
	}

	assert.Equal(t, constants.JobStatusFailed, last.Status)
	assert.Equal(t, 2, last.RetryCount)
	require.NotNil(t, last.ErrorMessage)
	assert.Equal(t, "third failure", *last.ErrorMessage)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, last.Status, got.Status)
	assert.Equal(t, "third failure", *got.ErrorMessage)

	// terminal: nothing left to claim
	next, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func testStats(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := repo.Submit(ctx, fmt.Sprintf("/data/%d.pdf", i), 3)
		require.NoError(t, err)
	}
	claimed, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	_, err = repo.MarkCompleted(ctx, claimed.ID, &entity.JobResult{UnitsLoaded: 1, UnitsParsed: 1, TargetKind: constants.TargetKindFile})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.Stats{Pending: 2, Processing: 0, Completed: 1, Failed: 0}, stats)
}

func testCompletedClearsError(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	job, err := repo.Submit(ctx, "/data/dir", 3)
	require.NoError(t, err)

	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	requeued, err := repo.MarkFailed(ctx, job.ID, "Timeout: extractor")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	require.NotNil(t, requeued.ErrorMessage)

	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	result := &entity.JobResult{UnitsLoaded: 4, UnitsParsed: 3, UnitsFailed: 1, TargetKind: constants.TargetKindDirectory}
	done, err := repo.MarkCompleted(ctx, job.ID, result)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, done.Status)
	assert.Nil(t, done.ErrorMessage)
	require.NotNil(t, done.Result)
	assert.Equal(t, *result, *done.Result)
	assert.Equal(t, 1, done.RetryCount)
}

func testInvalidTransitions(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	job, err := repo.Submit(ctx, "/data/a.pdf", 1)
	require.NoError(t, err)

	_, err = repo.MarkCompleted(ctx, job.ID, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))
	_, err = repo.MarkFailed(ctx, job.ID, "boom")
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	_, err = repo.MarkCompleted(ctx, "missing", nil)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, err = repo.MarkFailed(ctx, "missing", "boom")
	assert.True(t, errors.Is(err, common.ErrNotFound))

	processing, err := repo.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, processing.Status)
	_, err = repo.MarkProcessing(ctx, job.ID)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	_, err = repo.MarkCompleted(ctx, job.ID, nil)
	require.NoError(t, err)

	// completed is terminal
	_, err = repo.MarkFailed(ctx, job.ID, "late")
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))
	_, err = repo.MarkProcessing(ctx, job.ID)
	assert.True(t, errors.Is(err, common.ErrInvalidTransition))

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Nil(t, got.ErrorMessage)
}

func testList(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		j, err := repo.Submit(ctx, fmt.Sprintf("/data/%d.pdf", i), 3)
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	claimed, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, ids[0], claimed.ID)

	all, err := repo.List(ctx, entity.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, j := range all {
		assert.Equal(t, ids[len(ids)-1-i], j.ID)
	}

	pending := constants.JobStatusPending
	onlyPending, err := repo.List(ctx, entity.ListFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, onlyPending, 3)
	for _, j := range onlyPending {
		assert.Equal(t, constants.JobStatusPending, j.Status)
	}

	limited, err := repo.List(ctx, entity.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[3], limited[0].ID)
	assert.Equal(t, ids[2], limited[1].ID)

	failed := constants.JobStatusFailed
	none, err := repo.List(ctx, entity.ListFilter{Status: &failed})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConcurrentClaim(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := repo.Submit(ctx, fmt.Sprintf("/data/%d.pdf", i), 3)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNextPending(ctx)
				if errors.Is(err, common.ErrContention) {
					continue
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs, stats.Processing)
}

func testRequeueStale(t *testing.T, repo repository.JobRepository) {
	ctx := context.Background()
	job, err := repo.Submit(ctx, "/data/a.pdf", 1)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)

	n, err := repo.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	time.Sleep(20 * time.Millisecond)
	n, err = repo.RequeueStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "StaleJob")

	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	n, err = repo.RequeueStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}
