package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/lei/actions-ledger/internal/artifact"
	"github.com/lei/actions-ledger/internal/blobstore"
	"github.com/lei/actions-ledger/internal/collector"
	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/internal/processor"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/internal/storage"
	"github.com/lei/actions-ledger/pkg/logger"
)

var (
	// ErrWorkflowNotFound indicates the requested workflow isn't recorded
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrRunNotFound indicates the requested run doesn't exist
	ErrRunNotFound = errors.New("run not found")
	// ErrJobLogNotFound indicates no log was recorded for the job
	ErrJobLogNotFound = errors.New("job log not found")
	// ErrFileNotFound indicates the requested extracted file doesn't exist
	ErrFileNotFound = errors.New("file not found")
)

// Store is the read side of persistence used by the service
type Store interface {
	Ping(ctx context.Context) error
	ListWorkflows(ctx context.Context) ([]models.Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error)
	ListRunsByWorkflow(ctx context.Context, workflowID int64, f models.RunFilter) ([]models.Run, error)
	Summary(ctx context.Context, workflowID int64) (*models.Summary, error)
	GetRun(ctx context.Context, id int64) (*models.Run, error)
	ListArtifactsByRun(ctx context.Context, runID int64) ([]models.Artifact, error)
	ListJobsByRun(ctx context.Context, runID int64) ([]models.Job, error)
	GetJobLog(ctx context.Context, jobID int64) (*models.JobLog, error)
	ListFilesByRun(ctx context.Context, runID int64) ([]models.ExtractedFile, error)
	FileTypeCounts(ctx context.Context, runID int64) (map[models.FileType]int, error)
	SearchFiles(ctx context.Context, f models.FileSearch) ([]models.ExtractedFile, error)
	GetFile(ctx context.Context, id string) (*models.ExtractedFile, error)
	GetFileByStoredName(ctx context.Context, name string) (*models.ExtractedFile, error)
}

// RunProcessor processes a single run on demand
type RunProcessor interface {
	ProcessRun(ctx context.Context, runID int64, run *models.Run) (processor.Result, error)
}

// Collector is the scheduler surface exposed to callers
type Collector interface {
	Trigger(ctx context.Context) (*collector.Report, error)
	Status(ctx context.Context) collector.Status
}

// Service coordinates query and trigger operations for the API layer
type Service struct {
	store     Store
	blobs     blobstore.Store
	provider  provider.Provider
	processor RunProcessor
	collector Collector
	logger    *logger.Logger
}

// NewService creates a new service instance
func NewService(store Store, blobs blobstore.Store, prov provider.Provider, proc RunProcessor, coll Collector, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		blobs:     blobs,
		provider:  prov,
		processor: proc,
		collector: coll,
		logger:    log,
	}
}

// getLogger retrieves logger from context or falls back to service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx, s.logger)
}

// FilesByCategory groups the extracted files of a run
type FilesByCategory struct {
	Images []models.ExtractedFile `json:"images"`
	JSON   []models.ExtractedFile `json:"json"`
	Text   []models.ExtractedFile `json:"text"`
	Binary []models.ExtractedFile `json:"binary"`
}

// RunDetails is a run with everything recorded for it
type RunDetails struct {
	Run        *models.Run             `json:"run"`
	Artifacts  []models.Artifact       `json:"artifacts"`
	Jobs       []models.Job            `json:"jobs"`
	Files      FilesByCategory         `json:"files"`
	FileCounts map[models.FileType]int `json:"file_counts"`
}

// FileContent is an opened extracted file. Caller must close Body.
type FileContent struct {
	File        *models.ExtractedFile
	ContentType string
	Body        io.ReadCloser
}

// ListWorkflows returns all recorded workflows
func (s *Service) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	workflows, err := s.store.ListWorkflows(ctx)
	if err != nil {
		s.getLogger(ctx).Error("service: failed to list workflows", "error", err)
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

// ListRuns returns recorded runs of a workflow, newest first
func (s *Service) ListRuns(ctx context.Context, workflowID int64, filter models.RunFilter) ([]models.Run, error) {
	logger := s.getLogger(ctx)

	logger.Debug("service: listing runs",
		"workflow_id", workflowID,
		"status", filter.Status,
		"branch", filter.Branch,
		"limit", filter.Limit)

	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	runs, err := s.store.ListRunsByWorkflow(ctx, workflowID, filter)
	if err != nil {
		logger.Error("service: failed to list runs", "workflow_id", workflowID, "error", err)
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Summary aggregates run outcomes; workflowID zero covers every workflow
func (s *Service) Summary(ctx context.Context, workflowID int64) (*models.Summary, error) {
	if workflowID != 0 {
		if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrWorkflowNotFound
			}
			return nil, fmt.Errorf("get workflow: %w", err)
		}
	}

	sum, err := s.store.Summary(ctx, workflowID)
	if err != nil {
		s.getLogger(ctx).Error("service: summary failed", "workflow_id", workflowID, "error", err)
		return nil, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// GetRunDetails returns a recorded run with its artifacts, jobs, steps and
// extracted files grouped by category
func (s *Service) GetRunDetails(ctx context.Context, runID int64) (*RunDetails, error) {
	logger := s.getLogger(ctx)

	logger.Debug("service: getting run details", "run_id", runID)

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debug("service: run not recorded", "run_id", runID)
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	artifacts, err := s.store.ListArtifactsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	jobs, err := s.store.ListJobsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	files, err := s.store.ListFilesByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	counts, err := s.store.FileTypeCounts(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}

	details := &RunDetails{
		Run:        run,
		Artifacts:  artifacts,
		Jobs:       jobs,
		Files:      groupFiles(files),
		FileCounts: counts,
	}

	logger.Debug("service: run details retrieved",
		"run_id", runID,
		"artifacts", len(artifacts),
		"jobs", len(jobs),
		"files", len(files))
	return details, nil
}

func groupFiles(files []models.ExtractedFile) FilesByCategory {
	g := FilesByCategory{
		Images: []models.ExtractedFile{},
		JSON:   []models.ExtractedFile{},
		Text:   []models.ExtractedFile{},
		Binary: []models.ExtractedFile{},
	}
	for _, f := range files {
		switch f.FileType {
		case models.FileTypeImage:
			g.Images = append(g.Images, f)
		case models.FileTypeJSON:
			g.JSON = append(g.JSON, f)
		case models.FileTypeText:
			g.Text = append(g.Text, f)
		default:
			g.Binary = append(g.Binary, f)
		}
	}
	return g
}

// GetJobLog returns the raw recorded log of a job
func (s *Service) GetJobLog(ctx context.Context, jobID int64) (*models.JobLog, error) {
	jl, err := s.store.GetJobLog(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrJobLogNotFound
		}
		s.getLogger(ctx).Error("service: failed to get job log", "job_id", jobID, "error", err)
		return nil, fmt.Errorf("get job log: %w", err)
	}
	return jl, nil
}

// SearchFiles finds extracted files by path or inline content
func (s *Service) SearchFiles(ctx context.Context, q models.FileSearch) ([]models.ExtractedFile, error) {
	s.getLogger(ctx).Debug("service: searching files",
		"query", q.Query,
		"file_type", q.FileType,
		"run_id", q.RunID)

	files, err := s.store.SearchFiles(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	return files, nil
}

// GetFile returns the metadata of an extracted file
func (s *Service) GetFile(ctx context.Context, id string) (*models.ExtractedFile, error) {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// OpenFile opens the content of an extracted file by id. Inline content is
// served from the database, stored files from the blob store.
func (s *Service) OpenFile(ctx context.Context, id string) (*FileContent, error) {
	f, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, f)
}

// OpenStoredFile opens an extracted file by its stored filename
func (s *Service) OpenStoredFile(ctx context.Context, name string) (*FileContent, error) {
	f, err := s.store.GetFileByStoredName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return s.open(ctx, f)
}

func (s *Service) open(ctx context.Context, f *models.ExtractedFile) (*FileContent, error) {
	if f.Content != nil {
		ct := "text/plain; charset=utf-8"
		if f.FileType == models.FileTypeJSON {
			ct = "application/json"
		}
		return &FileContent{File: f, ContentType: ct, Body: io.NopCloser(strings.NewReader(*f.Content))}, nil
	}

	if f.StoredURL == nil {
		return nil, ErrFileNotFound
	}

	body, err := s.blobs.Open(ctx, artifact.CategoryFor(f.FileType), f.StoredFilename)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			s.getLogger(ctx).Warn("service: stored file missing from blob store",
				"file_id", f.ID,
				"stored_filename", f.StoredFilename)
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("open stored file: %w", err)
	}

	ct := mime.TypeByExtension(path.Ext(f.StoredFilename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &FileContent{File: f, ContentType: ct, Body: body}, nil
}

// ProcessRun ingests a single run immediately
func (s *Service) ProcessRun(ctx context.Context, runID int64) (*processor.Result, error) {
	logger := s.getLogger(ctx)

	logger.Info("service: processing run on demand", "run_id", runID)

	res, err := s.processor.ProcessRun(ctx, runID, nil)
	if err != nil {
		if errors.Is(err, provider.ErrRunNotFound) {
			return nil, ErrRunNotFound
		}
		logger.Error("service: run processing failed", "run_id", runID, "error", err)
		return nil, err
	}

	logger.Info("service: run processed",
		"run_id", runID,
		"skipped", res.Skipped,
		"files", res.TotalFiles)
	return &res, nil
}

// TriggerCollection runs a collection cycle synchronously. It fails with
// collector.ErrCollectionInProgress when a cycle is already executing.
func (s *Service) TriggerCollection(ctx context.Context) (*collector.Report, error) {
	s.getLogger(ctx).Info("service: collection triggered")
	return s.collector.Trigger(ctx)
}

// CollectorStatus reports the scheduler state
func (s *Service) CollectorStatus(ctx context.Context) collector.Status {
	return s.collector.Status(ctx)
}

// HealthCheck checks the database and the provider
func (s *Service) HealthCheck(ctx context.Context) map[string]interface{} {
	logger := s.getLogger(ctx)

	health := map[string]interface{}{
		"status":  "healthy",
		"service": "actions-ledger",
		"checks":  make(map[string]interface{}),
	}
	checks := health["checks"].(map[string]interface{})

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.store.Ping(healthCtx); err != nil {
		logger.Warn("service: database health check failed", "error", err)
		checks["database"] = map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		health["status"] = "degraded"
	} else {
		checks["database"] = map[string]interface{}{"status": "healthy"}
	}

	if err := s.provider.CheckConnection(healthCtx); err != nil {
		logger.Warn("service: provider health check failed", "error", err)
		checks["provider"] = map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		health["status"] = "degraded"
	} else {
		checks["provider"] = map[string]interface{}{
			"status":   "healthy",
			"provider": "github",
		}
	}

	st := s.collector.Status(ctx)
	checks["collector"] = map[string]interface{}{
		"status":          "healthy",
		"running":         st.Running,
		"busy":            st.Busy,
		"last_checkpoint": st.LastCheckpoint,
	}

	logger.Debug("service: health check completed", "status", health["status"])
	return health
}
