package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.LoadConfig()
	cfg.Store = common.StoreConfig{Driver: common.DriverBadger, DSN: memoryDSN}
	cfg.Worker.ArtifactDir = filepath.Join(t.TempDir(), "parsed")
	cfg.Worker.OneTime = true
	cfg.Worker.StaleAfter = 0
	cfg.Lock.Dir = filepath.Join(t.TempDir(), "accel_lock")
	cfg.OCR.Enabled = false
	cfg.LLM = common.LLMConfig{}
	return cfg
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	stores := map[string]common.StoreConfig{
		"badger memory": {Driver: common.DriverBadger, DSN: memoryDSN},
		"badger disk":   {Driver: common.DriverBadger, DSN: filepath.Join(t.TempDir(), "kv")},
		"sqlite":        {Driver: common.DriverSQLite, DSN: filepath.Join(t.TempDir(), "jobs.db")},
	}
	for name, cfg := range stores {
		t.Run(name, func(t *testing.T) {
			repo, err := OpenStore(ctx, cfg, nil)
			require.NoError(t, err)
			defer repo.Close()

			job, err := repo.Submit(ctx, "/data/cv.pdf", 1)
			require.NoError(t, err)
			got, err := repo.Fetch(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, constants.JobStatusPending, got.Status)
		})
	}
}

func TestNewExtractor_RulesOnly(t *testing.T) {
	x, err := NewExtractor(testConfig(t), nil)
	require.NoError(t, err)
	a, err := x.Extract(context.Background(), "JANE DOE\njane@example.com\n")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", a.Contact.Email)
}

func TestNewExtractor_WithLLM(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM = common.LLMConfig{Enabled: true, BaseURL: "http://127.0.0.1:1/v1", Model: "local", MaxAttempts: 1}
	x, err := NewExtractor(cfg, nil)
	require.NoError(t, err)
	_, ok := x.(*extract.Chain)
	assert.True(t, ok)
}

func TestNewWorker_ProcessesSubmittedJob(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	repo, err := OpenStore(ctx, cfg.Store, nil)
	require.NoError(t, err)
	defer repo.Close()

	in := filepath.Join(t.TempDir(), "jane.txt")
	require.NoError(t, os.WriteFile(in, []byte("JANE DOE\njane@example.com\n"), 0o644))
	job, err := repo.Submit(ctx, in, 1)
	require.NoError(t, err)

	w, err := NewWorker(cfg, repo, nil)
	require.NoError(t, err)
	require.NoError(t, w.Run(ctx))

	got, err := repo.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	require.Len(t, got.Result.Artifacts, 1)
	assert.FileExists(t, filepath.Join(cfg.Worker.ArtifactDir, "jane.txt"+constants.ArtifactSuffix))
}
