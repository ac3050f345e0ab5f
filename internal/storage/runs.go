package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lei/actions-ledger/internal/models"
)

const upsertWorkflowSQL = `
INSERT INTO workflows (id, name, path, state, created_at, updated_at, url, html_url, badge_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	path = excluded.path,
	state = excluded.state,
	updated_at = excluded.updated_at,
	url = excluded.url,
	html_url = excluded.html_url,
	badge_url = excluded.badge_url`

// UpsertWorkflow inserts or refreshes a workflow definition
func (s *Store) UpsertWorkflow(ctx context.Context, w models.Workflow) error {
	err := s.exec(ctx, upsertWorkflowSQL,
		w.ID, w.Name, w.Path, w.State, orNow(w.CreatedAt), orNow(w.UpdatedAt),
		w.URL, w.HTMLURL, w.BadgeURL)
	if err != nil {
		return fmt.Errorf("upsert workflow %d: %w", w.ID, err)
	}
	return nil
}

// ensureWorkflow records a placeholder workflow so a run can reference it
// before the next discovery cycle fills in the details
func (s *Store) ensureWorkflow(ctx context.Context, id int64, name string) error {
	now := time.Now().UTC()
	err := s.exec(ctx,
		`INSERT INTO workflows (id, name, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		id, name, now, now)
	if err != nil {
		return fmt.Errorf("ensure workflow %d: %w", id, err)
	}
	return nil
}

// GetWorkflow returns a workflow by id
func (s *Store) GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error) {
	var w models.Workflow
	if err := s.get(ctx, &w, `SELECT * FROM workflows WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkflows returns every recorded workflow ordered by name
func (s *Store) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	if err := s.selectAll(ctx, &workflows, `SELECT * FROM workflows ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

const upsertRunSQL = `
INSERT INTO workflow_runs (
	id, workflow_id, workflow_name, run_number, status, conclusion,
	created_at, updated_at, run_started_at, duration_ms, head_branch,
	head_sha, commit_message, commit_author, event, url, html_url
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	status = excluded.status,
	conclusion = excluded.conclusion,
	updated_at = excluded.updated_at,
	run_started_at = excluded.run_started_at,
	duration_ms = excluded.duration_ms,
	recorded_at = NULL`

// UpsertRun inserts a run or refreshes its mutable state. The run counts as
// unrecorded until markRecorded runs after its children are written.
func (s *Store) UpsertRun(ctx context.Context, r models.Run) error {
	duration := r.DurationMS
	if duration == nil {
		duration = r.ComputeDuration()
	}
	err := s.exec(ctx, upsertRunSQL,
		r.ID, r.WorkflowID, r.WorkflowName, r.RunNumber, string(r.Status), r.Conclusion,
		orNow(r.CreatedAt), orNow(r.UpdatedAt), utcPtr(r.RunStartedAt), duration, r.HeadBranch,
		r.HeadSHA, r.CommitMessage, r.CommitAuthor, r.Event, r.URL, r.HTMLURL)
	if err != nil {
		return fmt.Errorf("upsert run %d: %w", r.ID, err)
	}
	return nil
}

// GetRun returns a run by id
func (s *Store) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	var r models.Run
	if err := s.get(ctx, &r, `SELECT * FROM workflow_runs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListActiveRuns returns every run that must be polled again: runs in a
// non-terminal state and runs whose recording never finished
func (s *Store) ListActiveRuns(ctx context.Context) ([]models.Run, error) {
	runs := []models.Run{}
	err := s.selectAll(ctx, &runs,
		`SELECT * FROM workflow_runs WHERE status <> ? OR recorded_at IS NULL ORDER BY created_at`,
		string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	return runs, nil
}

// markRecorded flags a run as fully written
func (s *Store) markRecorded(ctx context.Context, id int64) error {
	if err := s.exec(ctx, `UPDATE workflow_runs SET recorded_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark run %d recorded: %w", id, err)
	}
	return nil
}

// AbandonRun closes a run the provider no longer knows. An unconcluded run
// gets the deleted conclusion; either way it stops being polled.
func (s *Store) AbandonRun(ctx context.Context, id int64) error {
	err := s.exec(ctx, `
UPDATE workflow_runs SET
	status = ?,
	conclusion = CASE WHEN conclusion = '' THEN ? ELSE conclusion END,
	recorded_at = ?
WHERE id = ?`,
		string(models.StatusCompleted), models.ConclusionDeleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("abandon run %d: %w", id, err)
	}
	return nil
}

// ListRunsByWorkflow returns the runs of a workflow, newest first
func (s *Store) ListRunsByWorkflow(ctx context.Context, workflowID int64, f models.RunFilter) ([]models.Run, error) {
	q := s.builder.Select("*").From("workflow_runs").
		Where(sq.Eq{"workflow_id": workflowID}).
		OrderBy("created_at DESC", "id DESC")

	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Conclusion != "" {
		q = q.Where(sq.Eq{"conclusion": f.Conclusion})
	}
	if f.Branch != "" {
		q = q.Where(sq.Eq{"head_branch": f.Branch})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET
			q = q.Limit(1<<62 - 1)
		}
		q = q.Offset(uint64(f.Offset))
	}

	runs := []models.Run{}
	if err := s.selectBuilt(ctx, &runs, q); err != nil {
		return nil, fmt.Errorf("list runs for workflow %d: %w", workflowID, err)
	}
	return runs, nil
}

// Summary aggregates run outcomes for one workflow, or all workflows when
// workflowID is zero. It scans every matching run on each call.
func (s *Store) Summary(ctx context.Context, workflowID int64) (*models.Summary, error) {
	q := s.builder.Select("*").From("workflow_runs").OrderBy("created_at DESC", "id DESC")
	if workflowID != 0 {
		q = q.Where(sq.Eq{"workflow_id": workflowID})
	}

	runs := []models.Run{}
	if err := s.selectBuilt(ctx, &runs, q); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	sum := &models.Summary{WorkflowID: workflowID, TotalRuns: len(runs)}
	for i := range runs {
		switch {
		case runs[i].Conclusion == models.ConclusionSuccess:
			sum.SuccessfulRuns++
		case runs[i].Conclusion == models.ConclusionFailure:
			sum.FailedRuns++
		}
		if runs[i].IsActive() {
			sum.InProgressRuns++
		}
	}
	if len(runs) > 0 {
		sum.LatestRun = &runs[0]
		sum.SuccessRate = float64(sum.SuccessfulRuns) / float64(len(runs)) * 100
	}
	return sum, nil
}
