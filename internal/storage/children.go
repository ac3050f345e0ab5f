package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lei/actions-ledger/internal/models"
)

const upsertArtifactSQL = `
INSERT INTO artifacts (id, run_id, name, size_in_bytes, expired, created_at, updated_at, expires_at, url, archive_download_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	expired = excluded.expired,
	updated_at = excluded.updated_at,
	expires_at = excluded.expires_at`

// UpsertArtifact records an artifact of a run
func (s *Store) UpsertArtifact(ctx context.Context, a models.Artifact) error {
	err := s.exec(ctx, upsertArtifactSQL,
		a.ID, a.RunID, a.Name, a.SizeInBytes, a.Expired, orNow(a.CreatedAt), orNow(a.UpdatedAt),
		utcPtr(a.ExpiresAt), a.URL, a.ArchiveDownloadURL)
	if err != nil {
		return fmt.Errorf("upsert artifact %d: %w", a.ID, err)
	}
	return nil
}

const upsertFileSQL = `
INSERT INTO extracted_files (
	id, run_id, artifact_id, artifact_name, original_path,
	file_type, file_size, stored_filename, stored_url, content, extracted_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, stored_filename) DO UPDATE SET
	file_type = excluded.file_type,
	file_size = excluded.file_size,
	stored_url = excluded.stored_url,
	content = excluded.content`

// UpsertFile records one extracted file; the generated id of an existing
// (run_id, stored_filename) row is kept
func (s *Store) UpsertFile(ctx context.Context, f models.ExtractedFile) error {
	err := s.exec(ctx, upsertFileSQL,
		f.ID, f.RunID, f.ArtifactID, f.ArtifactName, f.OriginalPath,
		string(f.FileType), f.FileSize, f.StoredFilename, f.StoredURL, f.Content, orNow(f.ExtractedAt))
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.StoredFilename, err)
	}
	return nil
}

const upsertJobSQL = `
INSERT INTO jobs (id, run_id, name, status, conclusion, started_at, completed_at, url, html_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	status = excluded.status,
	conclusion = excluded.conclusion,
	started_at = excluded.started_at,
	completed_at = excluded.completed_at`

// UpsertJob records a job of a run
func (s *Store) UpsertJob(ctx context.Context, j models.Job) error {
	err := s.exec(ctx, upsertJobSQL,
		j.ID, j.RunID, j.Name, string(j.Status), j.Conclusion,
		utcPtr(j.StartedAt), utcPtr(j.CompletedAt), j.URL, j.HTMLURL)
	if err != nil {
		return fmt.Errorf("upsert job %d: %w", j.ID, err)
	}
	return nil
}

// UpsertSteps records all steps of a job in one statement. A step written
// without an excerpt keeps a previously recorded one.
func (s *Store) UpsertSteps(ctx context.Context, jobID int64, steps []models.Step) error {
	if len(steps) == 0 {
		return nil
	}

	var (
		b    strings.Builder
		args = make([]any, 0, len(steps)*8)
	)
	b.WriteString(`INSERT INTO job_steps (job_id, number, name, status, conclusion, started_at, completed_at, log_content) VALUES `)
	for i, st := range steps {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, jobID, st.Number, st.Name, string(st.Status), st.Conclusion,
			utcPtr(st.StartedAt), utcPtr(st.CompletedAt), st.LogContent)
	}
	b.WriteString(`
ON CONFLICT (job_id, number) DO UPDATE SET
	name = excluded.name,
	status = excluded.status,
	conclusion = excluded.conclusion,
	started_at = excluded.started_at,
	completed_at = excluded.completed_at,
	log_content = COALESCE(excluded.log_content, job_steps.log_content)`)

	if err := s.exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("upsert %d steps of job %d: %w", len(steps), jobID, err)
	}
	return nil
}

// UpsertJobLog stores the raw log of a job, replacing any earlier fetch
func (s *Store) UpsertJobLog(ctx context.Context, jobID int64, logs string) error {
	err := s.exec(ctx, `
INSERT INTO job_logs (job_id, logs, fetched_at) VALUES (?, ?, ?)
ON CONFLICT (job_id) DO UPDATE SET
	logs = excluded.logs,
	fetched_at = excluded.fetched_at`,
		jobID, logs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert log of job %d: %w", jobID, err)
	}
	return nil
}

// RecordRun writes a complete run in order: run, artifacts, files, jobs,
// steps, job log, then the recorded marker. There is no enclosing
// transaction; a failure leaves the rows written so far with the marker
// unset, and re-recording the same run converges through the same upsert
// keys.
func (s *Store) RecordRun(ctx context.Context, rec models.RunRecord) (models.RecordResult, error) {
	res := models.RecordResult{RunID: rec.Run.ID}

	if err := s.ensureWorkflow(ctx, rec.Run.WorkflowID, rec.Run.WorkflowName); err != nil {
		return res, err
	}
	if err := s.UpsertRun(ctx, rec.Run); err != nil {
		return res, err
	}

	for _, ar := range rec.Artifacts {
		ar.Artifact.RunID = rec.Run.ID
		if err := s.UpsertArtifact(ctx, ar.Artifact); err != nil {
			return res, err
		}
		res.TotalArtifacts++

		for _, f := range ar.Files {
			f.RunID = rec.Run.ID
			f.ArtifactID = ar.Artifact.ID
			if err := s.UpsertFile(ctx, f); err != nil {
				return res, err
			}
			res.TotalFiles++
		}
	}

	for _, jr := range rec.Jobs {
		jr.Job.RunID = rec.Run.ID
		if err := s.UpsertJob(ctx, jr.Job); err != nil {
			return res, err
		}
		if err := s.UpsertSteps(ctx, jr.Job.ID, jr.Steps); err != nil {
			return res, err
		}
		res.TotalSteps += len(jr.Steps)
		if jr.Log != nil {
			if err := s.UpsertJobLog(ctx, jr.Job.ID, *jr.Log); err != nil {
				return res, err
			}
		}
		res.TotalJobs++
	}

	if err := s.markRecorded(ctx, rec.Run.ID); err != nil {
		return res, err
	}

	s.logger.Debug("storage: run recorded",
		"run_id", res.RunID,
		"artifacts", res.TotalArtifacts,
		"files", res.TotalFiles,
		"jobs", res.TotalJobs,
		"steps", res.TotalSteps)
	return res, nil
}

// LatestCheckpoint returns the most recent collection watermark. ok is false
// when no collection has completed yet.
func (s *Store) LatestCheckpoint(ctx context.Context) (t time.Time, ok bool, err error) {
	var cp models.SyncCheckpoint
	err = s.get(ctx, &cp, `SELECT * FROM sync_status ORDER BY last_sync_at DESC, id DESC LIMIT 1`)
	if err == ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp.LastSyncAt, true, nil
}

// AppendCheckpoint adds a collection watermark
func (s *Store) AppendCheckpoint(ctx context.Context, at time.Time) error {
	err := s.exec(ctx, `INSERT INTO sync_status (last_sync_at, created_at) VALUES (?, ?)`,
		at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return nil
}
