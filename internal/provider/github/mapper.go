package github

import (
	"time"

	"github.com/lei/actions-ledger/internal/models"
)

// Raw payloads as returned by the Actions API. Every field the API has been
// observed to omit or null is a pointer or zero-safe value; the map* functions
// below are the only place where provider field names are interpreted.

type ghActor struct {
	Login string `json:"login"`
}

type ghWorkflow struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	URL       string    `json:"url"`
	HTMLURL   string    `json:"html_url"`
	BadgeURL  string    `json:"badge_url"`
}

type ghRun struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	WorkflowName    string     `json:"workflow_name"`
	WorkflowID      int64      `json:"workflow_id"`
	RunNumber       int        `json:"run_number"`
	Status          string     `json:"status"`
	Conclusion      *string    `json:"conclusion"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	RunStartedAt    *time.Time `json:"run_started_at"`
	HeadBranch      string     `json:"head_branch"`
	HeadSHA         string     `json:"head_sha"`
	DisplayTitle    string     `json:"display_title"`
	Event           string     `json:"event"`
	URL             string     `json:"url"`
	HTMLURL         string     `json:"html_url"`
	Actor           *ghActor   `json:"actor"`
	TriggeringActor *ghActor   `json:"triggering_actor"`
	HeadCommit      *struct {
		Message string `json:"message"`
		Author  *struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"head_commit"`
}

type ghStep struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  *string    `json:"conclusion"`
	Number      int        `json:"number"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type ghJob struct {
	ID          int64      `json:"id"`
	RunID       int64      `json:"run_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  *string    `json:"conclusion"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	URL         string     `json:"url"`
	HTMLURL     string     `json:"html_url"`
	Steps       []ghStep   `json:"steps"`
}

type ghArtifact struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	SizeInBytes        int64      `json:"size_in_bytes"`
	Expired            bool       `json:"expired"`
	CreatedAt          *time.Time `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at"`
	ExpiresAt          *time.Time `json:"expires_at"`
	URL                string     `json:"url"`
	ArchiveDownloadURL string     `json:"archive_download_url"`
}

func mapWorkflow(w ghWorkflow) models.Workflow {
	return models.Workflow{
		ID:        w.ID,
		Name:      w.Name,
		Path:      w.Path,
		State:     w.State,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		URL:       w.URL,
		HTMLURL:   w.HTMLURL,
		BadgeURL:  w.BadgeURL,
	}
}

// mapRun converts a raw run payload into the internal model
//
// Field precedence:
//   - workflow name: name, then workflow_name
//   - commit message: display_title, then head_commit.message
//   - commit author: triggering_actor.login, then actor.login, then head_commit.author.name
//   - conclusion: null maps to ""
//   - duration: updated_at - run_started_at in milliseconds, nil when not started
func mapRun(r ghRun) models.Run {
	run := models.Run{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		WorkflowName:  firstNonEmpty(r.Name, r.WorkflowName),
		RunNumber:     r.RunNumber,
		Status:        models.RunStatus(r.Status),
		Conclusion:    deref(r.Conclusion),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		RunStartedAt:  r.RunStartedAt,
		HeadBranch:    r.HeadBranch,
		HeadSHA:       r.HeadSHA,
		CommitMessage: r.DisplayTitle,
		Event:         r.Event,
		URL:           r.URL,
		HTMLURL:       r.HTMLURL,
	}

	var headMessage, headAuthor string
	if r.HeadCommit != nil {
		headMessage = r.HeadCommit.Message
		if r.HeadCommit.Author != nil {
			headAuthor = r.HeadCommit.Author.Name
		}
	}
	run.CommitMessage = firstNonEmpty(r.DisplayTitle, headMessage)
	run.CommitAuthor = firstNonEmpty(login(r.TriggeringActor), login(r.Actor), headAuthor)
	run.DurationMS = run.ComputeDuration()

	return run
}

func mapJob(j ghJob, runID int64) models.Job {
	if j.RunID != 0 {
		runID = j.RunID
	}
	job := models.Job{
		ID:          j.ID,
		RunID:       runID,
		Name:        j.Name,
		Status:      models.RunStatus(j.Status),
		Conclusion:  deref(j.Conclusion),
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		URL:         j.URL,
		HTMLURL:     j.HTMLURL,
		Steps:       make([]models.Step, 0, len(j.Steps)),
	}
	for _, s := range j.Steps {
		job.Steps = append(job.Steps, models.Step{
			JobID:       j.ID,
			Name:        s.Name,
			Status:      models.RunStatus(s.Status),
			Conclusion:  deref(s.Conclusion),
			Number:      s.Number,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
		})
	}
	return job
}

func mapArtifact(a ghArtifact, runID int64) models.Artifact {
	artifact := models.Artifact{
		ID:                 a.ID,
		RunID:              runID,
		Name:               a.Name,
		SizeInBytes:        a.SizeInBytes,
		Expired:            a.Expired,
		ExpiresAt:          a.ExpiresAt,
		URL:                a.URL,
		ArchiveDownloadURL: a.ArchiveDownloadURL,
	}
	if a.CreatedAt != nil {
		artifact.CreatedAt = *a.CreatedAt
	}
	if a.UpdatedAt != nil {
		artifact.UpdatedAt = *a.UpdatedAt
	} else {
		artifact.UpdatedAt = artifact.CreatedAt
	}
	return artifact
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func login(a *ghActor) string {
	if a == nil {
		return ""
	}
	return a.Login
}
