package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/repository"
)

const (
	jobsSheet      = "Jobs"
	artifactsSheet = "Artifacts"
	defaultSheet   = "Sheet1"
)

// Service produces XLSX reports of jobs and the artifacts they wrote.
type Service struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

func NewService(jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX returns a workbook with one row per job matching filter and one row
// per artifact of completed jobs. Artifacts that can no longer be read are listed with
// the read error instead of their fields.
func (s *Service) ExportJobsXLSX(ctx context.Context, filter entity.ListFilter) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(defaultSheet, jobsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(artifactsSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(jobsSheet)
	f.SetActiveSheet(activeIndex)

	writeRow(f, jobsSheet, 1, "Job ID", "Target", "Status", "Retries", "Max Retries",
		"Units Loaded", "Units Parsed", "Units Failed", "Error", "Created At", "Updated At")
	writeRow(f, artifactsSheet, 1, "Job ID", "Name", "Email", "Phone", "LinkedIn",
		"Skills", "Source", "Extractor", "Artifact Path")

	artifacts := 0
	for i, job := range jobs {
		var loaded, parsed, failed any
		if job.Result != nil {
			loaded, parsed, failed = job.Result.UnitsLoaded, job.Result.UnitsParsed, job.Result.UnitsFailed
		}
		errMsg := ""
		if job.ErrorMessage != nil {
			errMsg = truncate(*job.ErrorMessage, 140)
		}
		writeRow(f, jobsSheet, i+2,
			job.ID, job.Target, string(job.Status), job.RetryCount, job.MaxRetries,
			loaded, parsed, failed, errMsg,
			job.CreatedAt.UTC().Format(time.RFC3339), job.UpdatedAt.UTC().Format(time.RFC3339))

		if job.Result == nil {
			continue
		}
		for _, path := range job.Result.Artifacts {
			artifacts++
			s.writeArtifact(f, artifacts+1, job.ID, path)
		}
	}

	_ = f.SetColWidth(jobsSheet, "A", "A", 38)
	_ = f.SetColWidth(jobsSheet, "B", "B", 60)
	_ = f.SetColWidth(jobsSheet, "I", "I", 48)
	_ = f.SetColWidth(jobsSheet, "J", "K", 22)
	_ = f.SetColWidth(artifactsSheet, "A", "A", 38)
	_ = f.SetColWidth(artifactsSheet, "B", "E", 26)
	_ = f.SetColWidth(artifactsSheet, "F", "F", 48)
	_ = f.SetColWidth(artifactsSheet, "I", "I", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"jobs", len(jobs),
		"artifacts", artifacts,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeArtifact(f *excelize.File, row int, jobID, path string) {
	a, err := readArtifact(path)
	if err != nil {
		s.logger.Warn("export: unreadable artifact", "path", path, "error", err)
		writeRow(f, artifactsSheet, row, jobID, "", "", "", "", err.Error(), "", "", path)
		return
	}
	source, extractor := "", ""
	if a.Source != nil {
		source, extractor = a.Source.Path, a.Source.Extractor
	}
	writeRow(f, artifactsSheet, row, jobID, a.Name, a.Contact.Email, a.Contact.Phone, a.Contact.LinkedIn,
		truncate(strings.Join(a.Skills, ", "), 200), source, extractor, path)
}

func readArtifact(path string) (*entity.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a entity.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
