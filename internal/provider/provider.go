package provider

import (
	"context"
	"io"
	"time"

	"github.com/lei/actions-ledger/internal/models"
)

// Provider abstracts the CI backend the ingestion pipeline reads from
type Provider interface {
	// ListWorkflows returns every workflow defined in the repository
	ListWorkflows(ctx context.Context) ([]models.Workflow, error)

	// ListRuns returns one page of runs for a workflow
	ListRuns(ctx context.Context, workflowID int64, opts ListRunsOptions) ([]models.Run, error)

	// GetRun retrieves current metadata of a run
	GetRun(ctx context.Context, runID int64) (*models.Run, error)

	// ListJobs returns the jobs of a run, each with its reported steps
	ListJobs(ctx context.Context, runID int64) ([]models.Job, error)

	// ListArtifacts returns the artifacts attached to a run
	ListArtifacts(ctx context.Context, runID int64) ([]models.Artifact, error)

	// DownloadArtifact opens the zipped archive of an artifact
	// Caller must close the returned reader
	DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error)

	// GetJobLogs returns the raw log text of a job
	GetJobLogs(ctx context.Context, jobID int64) (string, error)

	// CheckConnection verifies credentials and repository access
	CheckConnection(ctx context.Context) error
}

// ListRunsOptions filters a run listing
type ListRunsOptions struct {
	// CreatedAfter bounds the listing to runs created strictly after this time
	// Nil means no lower bound (full backfill)
	CreatedAfter *time.Time
	Status       string
	Branch       string
	Page         int
	PerPage      int
}
