package storage

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/lei/actions-ledger/internal/models"
)

// ListArtifactsByRun returns the artifacts recorded for a run
func (s *Store) ListArtifactsByRun(ctx context.Context, runID int64) ([]models.Artifact, error) {
	artifacts := []models.Artifact{}
	err := s.selectAll(ctx, &artifacts, `SELECT * FROM artifacts WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of run %d: %w", runID, err)
	}
	return artifacts, nil
}

// ListJobsByRun returns the jobs of a run ordered by start time, each with
// its steps ordered by number
func (s *Store) ListJobsByRun(ctx context.Context, runID int64) ([]models.Job, error) {
	jobs := []models.Job{}
	err := s.selectAll(ctx, &jobs,
		`SELECT * FROM jobs WHERE run_id = ? ORDER BY CASE WHEN started_at IS NULL THEN 1 ELSE 0 END, started_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs of run %d: %w", runID, err)
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	ids := make([]int64, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
	}
	steps := []models.Step{}
	q := s.builder.Select("*").From("job_steps").
		Where(sq.Eq{"job_id": ids}).
		OrderBy("job_id", "number")
	if err := s.selectBuilt(ctx, &steps, q); err != nil {
		return nil, fmt.Errorf("list steps of run %d: %w", runID, err)
	}

	byJob := make(map[int64][]models.Step, len(jobs))
	for _, st := range steps {
		byJob[st.JobID] = append(byJob[st.JobID], st)
	}
	for i := range jobs {
		jobs[i].Steps = byJob[jobs[i].ID]
	}
	return jobs, nil
}

// ListSteps returns the steps of one job ordered by number
func (s *Store) ListSteps(ctx context.Context, jobID int64) ([]models.Step, error) {
	steps := []models.Step{}
	if err := s.selectAll(ctx, &steps, `SELECT * FROM job_steps WHERE job_id = ? ORDER BY number`, jobID); err != nil {
		return nil, fmt.Errorf("list steps of job %d: %w", jobID, err)
	}
	return steps, nil
}

// GetJobLog returns the raw log of a job
func (s *Store) GetJobLog(ctx context.Context, jobID int64) (*models.JobLog, error) {
	var l models.JobLog
	if err := s.get(ctx, &l, `SELECT * FROM job_logs WHERE job_id = ?`, jobID); err != nil {
		return nil, err
	}
	return &l, nil
}

// ListFilesByRun returns the extracted files of a run
func (s *Store) ListFilesByRun(ctx context.Context, runID int64) ([]models.ExtractedFile, error) {
	files := []models.ExtractedFile{}
	err := s.selectAll(ctx, &files,
		`SELECT * FROM extracted_files WHERE run_id = ? ORDER BY extracted_at DESC, original_path`, runID)
	if err != nil {
		return nil, fmt.Errorf("list files of run %d: %w", runID, err)
	}
	return files, nil
}

// GetFile returns an extracted file by its generated id
func (s *Store) GetFile(ctx context.Context, id string) (*models.ExtractedFile, error) {
	var f models.ExtractedFile
	if err := s.get(ctx, &f, `SELECT * FROM extracted_files WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFileByStoredName returns an extracted file by its stored filename
func (s *Store) GetFileByStoredName(ctx context.Context, name string) (*models.ExtractedFile, error) {
	var f models.ExtractedFile
	if err := s.get(ctx, &f, `SELECT * FROM extracted_files WHERE stored_filename = ? LIMIT 1`, name); err != nil {
		return nil, err
	}
	return &f, nil
}

// SearchFiles matches the query case-insensitively against original path and
// inline content
func (s *Store) SearchFiles(ctx context.Context, f models.FileSearch) ([]models.ExtractedFile, error) {
	q := s.builder.Select("*").From("extracted_files").OrderBy("extracted_at DESC", "original_path")

	if f.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Query)) + "%"
		q = q.Where(sq.Or{
			sq.Expr(`LOWER(original_path) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(COALESCE(content, '')) LIKE ? ESCAPE '\'`, pattern),
		})
	}
	if f.FileType != "" {
		q = q.Where(sq.Eq{"file_type": string(f.FileType)})
	}
	if f.RunID != 0 {
		q = q.Where(sq.Eq{"run_id": f.RunID})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q = q.Limit(uint64(limit))

	files := []models.ExtractedFile{}
	if err := s.selectBuilt(ctx, &files, q); err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	return files, nil
}

// FileTypeCounts returns the number of extracted files per type, for one run
// or for all runs when runID is zero
func (s *Store) FileTypeCounts(ctx context.Context, runID int64) (map[models.FileType]int, error) {
	q := s.builder.Select("file_type", "COUNT(*) AS count").From("extracted_files").GroupBy("file_type")
	if runID != 0 {
		q = q.Where(sq.Eq{"run_id": runID})
	}

	var rows []struct {
		FileType models.FileType `db:"file_type"`
		Count    int             `db:"count"`
	}
	if err := s.selectBuilt(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("file type counts: %w", err)
	}

	counts := make(map[models.FileType]int, len(rows))
	for _, r := range rows {
		counts[r.FileType] = r.Count
	}
	return counts, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
