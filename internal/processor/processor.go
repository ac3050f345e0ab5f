// Package processor ingests one run at a time: it fetches jobs and
// artifacts from the provider, extracts and classifies artifact files,
// segments completed job logs into step excerpts and hands the assembled
// run to the recorder.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sourcegraph/conc/pool"

	"github.com/lei/actions-ledger/internal/logparse"
	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/internal/storage"
	"github.com/lei/actions-ledger/pkg/logger"
)

const defaultMaxConcurrent = 4

// Recorder persists assembled runs
type Recorder interface {
	GetRun(ctx context.Context, id int64) (*models.Run, error)
	RecordRun(ctx context.Context, rec models.RunRecord) (models.RecordResult, error)
}

// Stager turns an artifact archive stream into extracted file records
type Stager interface {
	Process(ctx context.Context, runID int64, art models.Artifact, src io.Reader) ([]models.ExtractedFile, error)
}

// Result is the outcome of processing one run
type Result struct {
	RunID          int64                   `json:"run_id"`
	Skipped        bool                    `json:"skipped"`
	TotalArtifacts int                     `json:"total_artifacts"`
	TotalFiles     int                     `json:"total_files"`
	TotalJobs      int                     `json:"total_jobs"`
	TotalSteps     int                     `json:"total_steps"`
	FilesByType    map[models.FileType]int `json:"files_by_type,omitempty"`
	Err            error                   `json:"-"`
}

// Processor orchestrates per-run ingestion
type Processor struct {
	provider      provider.Provider
	recorder      Recorder
	stager        Stager
	maxConcurrent int
	logger        *logger.Logger
}

// New creates a processor; maxConcurrent bounds ProcessRuns
func New(p provider.Provider, recorder Recorder, stager Stager, maxConcurrent int, log *logger.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Processor{
		provider:      p,
		recorder:      recorder,
		stager:        stager,
		maxConcurrent: maxConcurrent,
		logger:        log,
	}
}

// ProcessRun ingests a run. run may carry already-fetched metadata; when nil
// it is fetched from the provider. A run fully recorded in a terminal state
// is skipped without side effects. Runs recorded while still active, and
// runs whose recording was interrupted, are processed again so the upserts
// complete them.
func (p *Processor) ProcessRun(ctx context.Context, runID int64, run *models.Run) (Result, error) {
	log := logger.FromContext(ctx, p.logger).With("run_id", runID)

	existing, err := p.recorder.GetRun(ctx, runID)
	switch {
	case err == nil && existing.IsComplete():
		log.Debug("processor: run already recorded, skipping")
		return Result{RunID: runID, Skipped: true}, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Result{RunID: runID}, fmt.Errorf("check run %d: %w", runID, err)
	}

	if run == nil {
		run, err = p.provider.GetRun(ctx, runID)
		if err != nil {
			return Result{RunID: runID}, fmt.Errorf("get run %d: %w", runID, err)
		}
	}

	jobs, err := p.provider.ListJobs(ctx, runID)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("list jobs of run %d: %w", runID, err)
	}

	artifacts, err := p.provider.ListArtifacts(ctx, runID)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("list artifacts of run %d: %w", runID, err)
	}

	rec := models.RunRecord{Run: *run}
	rec.Run.ID = runID

	for _, art := range artifacts {
		ar, err := p.processArtifact(ctx, runID, art)
		if err != nil {
			return Result{RunID: runID}, err
		}
		rec.Artifacts = append(rec.Artifacts, ar)
	}

	for _, job := range jobs {
		rec.Jobs = append(rec.Jobs, p.processJob(ctx, job))
	}

	res, err := p.recorder.RecordRun(ctx, rec)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("record run %d: %w", runID, err)
	}

	result := Result{
		RunID:          runID,
		TotalArtifacts: res.TotalArtifacts,
		TotalFiles:     res.TotalFiles,
		TotalJobs:      res.TotalJobs,
		TotalSteps:     res.TotalSteps,
		FilesByType:    map[models.FileType]int{},
	}
	for _, ar := range rec.Artifacts {
		for _, f := range ar.Files {
			result.FilesByType[f.FileType]++
		}
	}

	log.Info("processor: run processed",
		"status", run.Status,
		"artifacts", result.TotalArtifacts,
		"files", result.TotalFiles,
		"jobs", result.TotalJobs)
	return result, nil
}

// processArtifact downloads and unpacks a live artifact; expired artifacts
// are recorded without files
func (p *Processor) processArtifact(ctx context.Context, runID int64, art models.Artifact) (models.ArtifactRecord, error) {
	art.RunID = runID
	ar := models.ArtifactRecord{Artifact: art}
	if art.Expired {
		return ar, nil
	}

	body, err := p.provider.DownloadArtifact(ctx, art.ID)
	if err != nil {
		return ar, fmt.Errorf("download artifact %d of run %d: %w", art.ID, runID, err)
	}
	defer body.Close()

	files, err := p.stager.Process(ctx, runID, art, body)
	if err != nil {
		return ar, fmt.Errorf("process artifact %d of run %d: %w", art.ID, runID, err)
	}
	ar.Files = files
	return ar, nil
}

// processJob fetches and segments the logs of a completed job. A log fetch
// failure is logged and the job is recorded without logs.
func (p *Processor) processJob(ctx context.Context, job models.Job) models.JobRecord {
	steps := job.Steps
	for i := range steps {
		steps[i].JobID = job.ID
	}
	job.Steps = nil
	jr := models.JobRecord{Job: job, Steps: steps}

	if !job.IsCompleted() {
		return jr
	}

	logs, err := p.provider.GetJobLogs(ctx, job.ID)
	if err != nil {
		logger.FromContext(ctx, p.logger).Warn("processor: job logs unavailable, recording steps without logs",
			"job_id", job.ID,
			"error", err)
		return jr
	}

	jr.Log = &logs
	jr.Steps = logparse.Segment(logs, steps)
	return jr
}

// ProcessRuns processes a batch of runs concurrently with no ordering
// guarantee. A failing run does not abort the others; its error is
// carried in its Result.
func (p *Processor) ProcessRuns(ctx context.Context, runs []models.Run) []Result {
	if len(runs) == 0 {
		return nil
	}

	pl := pool.NewWithResults[Result]().
		WithContext(ctx).
		WithMaxGoroutines(p.maxConcurrent)

	for _, run := range runs {
		pl.Go(func(ctx context.Context) (Result, error) {
			res, err := p.ProcessRun(ctx, run.ID, &run)
			if err != nil {
				logger.FromContext(ctx, p.logger).Error("processor: run failed",
					"run_id", run.ID,
					"error", err)
				res.Err = err
			}
			return res, nil
		})
	}

	results, _ := pl.Wait()
	return results
}
