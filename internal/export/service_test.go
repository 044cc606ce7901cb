package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/repository/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportJobsXLSX(t *testing.T) {
	ctx := context.Background()
	backend, err := badger.OpenBackend("", true, nil)
	require.NoError(t, err)
	repo := badger.NewJobRepository(backend, nil)
	defer repo.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "jane.txt.parsed.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
  "name": "Jane Doe",
  "contact": {"email": "jane@example.com"},
  "skills": ["Go", "SQL"],
  "source": {"path": "/in/jane.txt", "extractor": "rules"}
}`), 0o644))
	missing := filepath.Join(dir, "gone.parsed.json")

	done, err := repo.Submit(ctx, "/in", 1)
	require.NoError(t, err)
	_, err = repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	_, err = repo.MarkCompleted(ctx, done.ID, &entity.JobResult{
		UnitsLoaded: 2, UnitsParsed: 2, TargetKind: "directory", Artifacts: []string{good, missing},
	})
	require.NoError(t, err)
	_, err = repo.Submit(ctx, "/in/other.pdf", 1)
	require.NoError(t, err)

	data, err := NewService(repo, nil).ExportJobsXLSX(ctx, entity.ListFilter{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	jobs, err := f.GetRows(jobsSheet)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "Job ID", jobs[0][0])

	rows, err := f.GetRows(artifactsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{done.ID, "Jane Doe", "jane@example.com", "", "", "Go, SQL", "/in/jane.txt", "rules", good}, rows[1])
	assert.Equal(t, done.ID, rows[2][0])
	assert.Equal(t, missing, rows[2][8])
	assert.NotEmpty(t, rows[2][5])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "é", truncate("éé", 1))
}
