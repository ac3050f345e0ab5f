package models

import "time"

// Workflow represents a named CI pipeline definition
type Workflow struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Path      string    `db:"path" json:"path"`
	State     string    `db:"state" json:"state"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	URL       string    `db:"url" json:"url"`
	HTMLURL   string    `db:"html_url" json:"html_url"`
	BadgeURL  string    `db:"badge_url" json:"badge_url"`
}

// Run represents a single execution of a workflow
type Run struct {
	ID            int64      `db:"id" json:"id"`
	WorkflowID    int64      `db:"workflow_id" json:"workflow_id"`
	WorkflowName  string     `db:"workflow_name" json:"workflow_name"`
	RunNumber     int        `db:"run_number" json:"run_number"`
	Status        RunStatus  `db:"status" json:"status"`
	Conclusion    string     `db:"conclusion" json:"conclusion"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	RunStartedAt  *time.Time `db:"run_started_at" json:"run_started_at,omitempty"`
	DurationMS    *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
	HeadBranch    string     `db:"head_branch" json:"head_branch"`
	HeadSHA       string     `db:"head_sha" json:"head_sha"`
	CommitMessage string     `db:"commit_message" json:"commit_message"`
	CommitAuthor  string     `db:"commit_author" json:"commit_author"`
	Event         string     `db:"event" json:"event"`
	URL           string     `db:"url" json:"url"`
	HTMLURL       string     `db:"html_url" json:"html_url"`

	// RecordedAt is set once every child row of the run has been written
	RecordedAt *time.Time `db:"recorded_at" json:"recorded_at,omitempty"`
}

// RunStatus is the provider-reported lifecycle state of a run or job
type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusInProgress RunStatus = "in_progress"
	StatusWaiting    RunStatus = "waiting"
	StatusPending    RunStatus = "pending"
	StatusRequested  RunStatus = "requested"
	StatusCompleted  RunStatus = "completed"
)

// Conclusions used by summary aggregation
const (
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"

	// ConclusionDeleted marks a run that vanished from the provider before concluding
	ConclusionDeleted = "deleted"
)

// IsActive reports whether the run may still change and must be re-polled
func (r *Run) IsActive() bool {
	return r.Status != StatusCompleted
}

// IsComplete reports whether the run concluded and was fully recorded;
// such runs are never processed again
func (r *Run) IsComplete() bool {
	return !r.IsActive() && r.RecordedAt != nil
}

// ComputeDuration derives the run duration from its start and last update
func (r *Run) ComputeDuration() *int64 {
	if r.RunStartedAt == nil || r.RunStartedAt.IsZero() || r.UpdatedAt.IsZero() {
		return nil
	}
	ms := r.UpdatedAt.Sub(*r.RunStartedAt).Milliseconds()
	if ms < 0 {
		return nil
	}
	return &ms
}

// Job represents a unit of work within a run
type Job struct {
	ID          int64      `db:"id" json:"id"`
	RunID       int64      `db:"run_id" json:"run_id"`
	Name        string     `db:"name" json:"name"`
	Status      RunStatus  `db:"status" json:"status"`
	Conclusion  string     `db:"conclusion" json:"conclusion"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	URL         string     `db:"url" json:"url"`
	HTMLURL     string     `db:"html_url" json:"html_url"`

	Steps []Step `db:"-" json:"steps,omitempty"`
}

// IsCompleted reports whether the job's logs are final
func (j *Job) IsCompleted() bool {
	return j.Status == StatusCompleted
}

// Step represents an individual action within a job
type Step struct {
	JobID       int64      `db:"job_id" json:"job_id"`
	Name        string     `db:"name" json:"name"`
	Status      RunStatus  `db:"status" json:"status"`
	Conclusion  string     `db:"conclusion" json:"conclusion"`
	Number      int        `db:"number" json:"number"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	LogContent  *string    `db:"log_content" json:"log_content,omitempty"`
}

// JobLog holds the raw log text of a job; at most one per job
type JobLog struct {
	JobID     int64     `db:"job_id" json:"job_id"`
	Logs      string    `db:"logs" json:"logs"`
	FetchedAt time.Time `db:"fetched_at" json:"fetched_at"`
}

// Artifact represents a compressed bundle of files produced by a run
type Artifact struct {
	ID                 int64      `db:"id" json:"id"`
	RunID              int64      `db:"run_id" json:"run_id"`
	Name               string     `db:"name" json:"name"`
	SizeInBytes        int64      `db:"size_in_bytes" json:"size_in_bytes"`
	Expired            bool       `db:"expired" json:"expired"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	URL                string     `db:"url" json:"url"`
	ArchiveDownloadURL string     `db:"archive_download_url" json:"archive_download_url"`
}

// FileType is the category an extracted file is classified into
type FileType string

const (
	FileTypeImage  FileType = "image"
	FileTypeJSON   FileType = "json"
	FileTypeText   FileType = "text"
	FileTypeBinary FileType = "binary"
)

// ExtractedFile is one member file of an artifact archive
type ExtractedFile struct {
	ID             string    `db:"id" json:"id"`
	RunID          int64     `db:"run_id" json:"run_id"`
	ArtifactID     int64     `db:"artifact_id" json:"artifact_id"`
	ArtifactName   string    `db:"artifact_name" json:"artifact_name"`
	OriginalPath   string    `db:"original_path" json:"original_path"`
	FileType       FileType  `db:"file_type" json:"file_type"`
	FileSize       int64     `db:"file_size" json:"file_size"`
	StoredFilename string    `db:"stored_filename" json:"stored_filename"`
	StoredURL      *string   `db:"stored_url" json:"stored_url,omitempty"`
	Content        *string   `db:"content" json:"content,omitempty"`
	ExtractedAt    time.Time `db:"extracted_at" json:"extracted_at"`
}

// SyncCheckpoint is one entry of the append-only collection watermark log
type SyncCheckpoint struct {
	ID         int64     `db:"id" json:"id"`
	LastSyncAt time.Time `db:"last_sync_at" json:"last_sync_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ArtifactRecord is an artifact together with the files extracted from it
type ArtifactRecord struct {
	Artifact Artifact
	Files    []ExtractedFile
}

// JobRecord is a job with its steps and, when fetched, its raw log
type JobRecord struct {
	Job   Job
	Steps []Step
	Log   *string
}

// RunRecord is the complete unit handed to the persistence layer for one run
type RunRecord struct {
	Run       Run
	Artifacts []ArtifactRecord
	Jobs      []JobRecord
}

// RecordResult summarizes what was written for a run
type RecordResult struct {
	RunID          int64 `json:"run_id"`
	TotalArtifacts int   `json:"total_artifacts"`
	TotalFiles     int   `json:"total_files"`
	TotalJobs      int   `json:"total_jobs"`
	TotalSteps     int   `json:"total_steps"`
}

// RunFilter narrows a runs-by-workflow listing
type RunFilter struct {
	Status     string
	Conclusion string
	Branch     string
	Limit      int
	Offset     int
}

// FileSearch narrows an extracted-file search
type FileSearch struct {
	Query    string
	FileType FileType
	RunID    int64
	Limit    int
}

// Summary aggregates run outcomes
type Summary struct {
	WorkflowID     int64   `json:"workflow_id,omitempty"`
	TotalRuns      int     `json:"total_runs"`
	SuccessfulRuns int     `json:"successful_runs"`
	FailedRuns     int     `json:"failed_runs"`
	InProgressRuns int     `json:"in_progress_runs"`
	SuccessRate    float64 `json:"success_rate"`
	LatestRun      *Run    `json:"latest_run"`
}
