package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/pkg/logger"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 30 * time.Second
)

// Client handles HTTP communication with the GitHub Actions REST API
type Client struct {
	owner      string
	repo       string
	httpClient *resty.Client
	logger     *logger.Logger
}

// NewClient creates a new GitHub API client scoped to one repository
func NewClient(baseURL, token, owner, repo string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")

	if token != "" {
		client.SetAuthToken(token)
	}

	return &Client{
		owner:      owner,
		repo:       repo,
		httpClient: client,
		logger:     log,
	}
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

// get performs a GET request and decodes a JSON body into out
func (c *Client) get(ctx context.Context, path string, query map[string]string, notFound error, out any) error {
	c.logger.Debug("provider: http request", "method", http.MethodGet, "path", path)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		c.logger.Error("provider: http request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}

	c.logger.Debug("provider: http response", "path", path, "status", resp.StatusCode())

	if resp.StatusCode() != http.StatusOK {
		return parseError(resp.StatusCode(), resp.Body(), notFound)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// GetRepository fetches the configured repository, used as a connectivity check
func (c *Client) GetRepository(ctx context.Context) (string, error) {
	var repo struct {
		FullName string `json:"full_name"`
	}
	if err := c.get(ctx, c.repoPath(""), nil, provider.ErrRunNotFound, &repo); err != nil {
		return "", err
	}
	return repo.FullName, nil
}

// ListWorkflows fetches the workflows of the repository
func (c *Client) ListWorkflows(ctx context.Context) ([]ghWorkflow, error) {
	var all []ghWorkflow
	for page := 1; ; page++ {
		var body struct {
			TotalCount int          `json:"total_count"`
			Workflows  []ghWorkflow `json:"workflows"`
		}
		query := map[string]string{"per_page": "100", "page": strconv.Itoa(page)}
		if err := c.get(ctx, c.repoPath("/actions/workflows"), query, provider.ErrRunNotFound, &body); err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		all = append(all, body.Workflows...)
		if len(body.Workflows) < 100 || len(all) >= body.TotalCount {
			return all, nil
		}
	}
}

// ListWorkflowRuns fetches one page of runs for a workflow
func (c *Client) ListWorkflowRuns(ctx context.Context, workflowID int64, opts provider.ListRunsOptions) ([]ghRun, error) {
	query := map[string]string{}
	if opts.CreatedAfter != nil {
		query["created"] = ">" + opts.CreatedAfter.UTC().Format(time.RFC3339)
	}
	if opts.Status != "" {
		query["status"] = opts.Status
	}
	if opts.Branch != "" {
		query["branch"] = opts.Branch
	}
	if opts.PerPage > 0 {
		query["per_page"] = strconv.Itoa(opts.PerPage)
	}
	if opts.Page > 0 {
		query["page"] = strconv.Itoa(opts.Page)
	}

	var body struct {
		TotalCount   int     `json:"total_count"`
		WorkflowRuns []ghRun `json:"workflow_runs"`
	}
	path := c.repoPath("/actions/workflows/%d/runs", workflowID)
	if err := c.get(ctx, path, query, provider.ErrRunNotFound, &body); err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	return body.WorkflowRuns, nil
}

// GetWorkflowRun fetches a single run
func (c *Client) GetWorkflowRun(ctx context.Context, runID int64) (*ghRun, error) {
	var run ghRun
	if err := c.get(ctx, c.repoPath("/actions/runs/%d", runID), nil, provider.ErrRunNotFound, &run); err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return &run, nil
}

// ListRunJobs fetches all jobs of a run
func (c *Client) ListRunJobs(ctx context.Context, runID int64) ([]ghJob, error) {
	var all []ghJob
	for page := 1; ; page++ {
		var body struct {
			TotalCount int     `json:"total_count"`
			Jobs       []ghJob `json:"jobs"`
		}
		query := map[string]string{"per_page": "100", "page": strconv.Itoa(page)}
		if err := c.get(ctx, c.repoPath("/actions/runs/%d/jobs", runID), query, provider.ErrRunNotFound, &body); err != nil {
			return nil, fmt.Errorf("list run jobs: %w", err)
		}
		all = append(all, body.Jobs...)
		if len(body.Jobs) < 100 || len(all) >= body.TotalCount {
			return all, nil
		}
	}
}

// ListRunArtifacts fetches all artifacts of a run
func (c *Client) ListRunArtifacts(ctx context.Context, runID int64) ([]ghArtifact, error) {
	var all []ghArtifact
	for page := 1; ; page++ {
		var body struct {
			TotalCount int          `json:"total_count"`
			Artifacts  []ghArtifact `json:"artifacts"`
		}
		query := map[string]string{"per_page": "100", "page": strconv.Itoa(page)}
		if err := c.get(ctx, c.repoPath("/actions/runs/%d/artifacts", runID), query, provider.ErrRunNotFound, &body); err != nil {
			return nil, fmt.Errorf("list run artifacts: %w", err)
		}
		all = append(all, body.Artifacts...)
		if len(body.Artifacts) < 100 || len(all) >= body.TotalCount {
			return all, nil
		}
	}
}

// DownloadArtifact streams the zip archive of an artifact
// GitHub answers with a redirect to a short-lived storage URL which resty follows
func (c *Client) DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error) {
	path := c.repoPath("/actions/artifacts/%d/zip", artifactID)
	c.logger.Debug("provider: downloading artifact", "path", path)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w: %v", provider.ErrProviderUnavailable, err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return nil, fmt.Errorf("download artifact: %w", parseError(resp.StatusCode(), data, provider.ErrArtifactNotFound))
	}
	return body, nil
}

// GetJobLogs fetches the plain-text log of a job
func (c *Client) GetJobLogs(ctx context.Context, jobID int64) (string, error) {
	path := c.repoPath("/actions/jobs/%d/logs", jobID)
	c.logger.Debug("provider: fetching job logs", "path", path)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "text/plain").
		Get(path)
	if err != nil {
		return "", fmt.Errorf("get job logs: %w: %v", provider.ErrProviderUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("get job logs: %w", parseError(resp.StatusCode(), resp.Body(), provider.ErrJobNotFound))
	}
	return string(resp.Body()), nil
}

// parseError converts HTTP error responses to provider errors
func parseError(status int, body []byte, notFound error) error {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return notFound
	case http.StatusUnauthorized:
		return provider.ErrUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return provider.ErrProviderUnavailable
	}

	var errResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		pe := &provider.ProviderError{Code: status, Message: errResp.Message}
		if status == http.StatusForbidden && !strings.Contains(strings.ToLower(errResp.Message), "rate limit") {
			pe.Err = provider.ErrUnauthorized
		}
		return pe
	}

	return &provider.ProviderError{
		Code:    status,
		Message: string(body),
	}
}
