package github

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/pkg/logger"
)

// Adapter implements the Provider interface for GitHub Actions
type Adapter struct {
	client *Client
	config *Config
	logger *logger.Logger
}

// Config contains GitHub connection settings
type Config struct {
	BaseURL string
	Token   string
	Owner   string
	Repo    string
	Timeout time.Duration
}

// NewAdapter creates a new GitHub adapter
func NewAdapter(cfg *Config, log *logger.Logger) (*Adapter, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}

	client := NewClient(cfg.BaseURL, cfg.Token, cfg.Owner, cfg.Repo, cfg.Timeout, log)

	return &Adapter{
		client: client,
		config: cfg,
		logger: log,
	}, nil
}

var _ provider.Provider = (*Adapter)(nil)

// getLogger retrieves logger from context or falls back to adapter logger
func (a *Adapter) getLogger(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx, a.logger)
}

// ListWorkflows implements Provider.ListWorkflows
func (a *Adapter) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	log := a.getLogger(ctx)

	raw, err := a.client.ListWorkflows(ctx)
	if err != nil {
		log.Error("provider: failed to list workflows",
			"owner", a.config.Owner,
			"repo", a.config.Repo,
			"error", err)
		return nil, err
	}

	workflows := make([]models.Workflow, 0, len(raw))
	for _, w := range raw {
		workflows = append(workflows, mapWorkflow(w))
	}

	log.Debug("provider: workflows listed", "count", len(workflows))
	return workflows, nil
}

// ListRuns implements Provider.ListRuns
func (a *Adapter) ListRuns(ctx context.Context, workflowID int64, opts provider.ListRunsOptions) ([]models.Run, error) {
	log := a.getLogger(ctx)

	raw, err := a.client.ListWorkflowRuns(ctx, workflowID, opts)
	if err != nil {
		log.Error("provider: failed to list runs",
			"workflow_id", workflowID,
			"page", opts.Page,
			"error", err)
		return nil, err
	}

	runs := make([]models.Run, 0, len(raw))
	for _, r := range raw {
		run := mapRun(r)
		if run.WorkflowID == 0 {
			run.WorkflowID = workflowID
		}
		runs = append(runs, run)
	}

	log.Debug("provider: runs listed",
		"workflow_id", workflowID,
		"page", opts.Page,
		"count", len(runs))
	return runs, nil
}

// GetRun implements Provider.GetRun
func (a *Adapter) GetRun(ctx context.Context, runID int64) (*models.Run, error) {
	log := a.getLogger(ctx)

	raw, err := a.client.GetWorkflowRun(ctx, runID)
	if err != nil {
		log.Error("provider: failed to get run", "run_id", runID, "error", err)
		return nil, err
	}

	run := mapRun(*raw)
	log.Debug("provider: run retrieved",
		"run_id", runID,
		"status", run.Status,
		"conclusion", run.Conclusion)
	return &run, nil
}

// ListJobs implements Provider.ListJobs
func (a *Adapter) ListJobs(ctx context.Context, runID int64) ([]models.Job, error) {
	log := a.getLogger(ctx)

	raw, err := a.client.ListRunJobs(ctx, runID)
	if err != nil {
		log.Error("provider: failed to list jobs", "run_id", runID, "error", err)
		return nil, err
	}

	jobs := make([]models.Job, 0, len(raw))
	for _, j := range raw {
		jobs = append(jobs, mapJob(j, runID))
	}
	return jobs, nil
}

// ListArtifacts implements Provider.ListArtifacts
func (a *Adapter) ListArtifacts(ctx context.Context, runID int64) ([]models.Artifact, error) {
	log := a.getLogger(ctx)

	raw, err := a.client.ListRunArtifacts(ctx, runID)
	if err != nil {
		log.Error("provider: failed to list artifacts", "run_id", runID, "error", err)
		return nil, err
	}

	artifacts := make([]models.Artifact, 0, len(raw))
	for _, ar := range raw {
		artifacts = append(artifacts, mapArtifact(ar, runID))
	}
	return artifacts, nil
}

// DownloadArtifact implements Provider.DownloadArtifact
func (a *Adapter) DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error) {
	body, err := a.client.DownloadArtifact(ctx, artifactID)
	if err != nil {
		a.getLogger(ctx).Error("provider: failed to download artifact",
			"artifact_id", artifactID,
			"error", err)
		return nil, err
	}
	return body, nil
}

// GetJobLogs implements Provider.GetJobLogs
func (a *Adapter) GetJobLogs(ctx context.Context, jobID int64) (string, error) {
	logs, err := a.client.GetJobLogs(ctx, jobID)
	if err != nil {
		a.getLogger(ctx).Warn("provider: failed to get job logs",
			"job_id", jobID,
			"error", err)
		return "", err
	}
	return logs, nil
}

// CheckConnection implements Provider.CheckConnection
func (a *Adapter) CheckConnection(ctx context.Context) error {
	name, err := a.client.GetRepository(ctx)
	if err != nil {
		return fmt.Errorf("repository %s/%s: %w", a.config.Owner, a.config.Repo, err)
	}
	a.getLogger(ctx).Debug("provider: connection ok", "repository", name)
	return nil
}
