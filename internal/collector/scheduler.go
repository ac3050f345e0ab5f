// Package collector drives periodic ingestion. Each cycle discovers
// workflows, gathers runs created since the last checkpoint plus every run
// still recorded as active, hands them to the run processor and advances the
// checkpoint. At most one cycle executes at a time within a process.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/internal/processor"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/pkg/logger"
)

// ErrCollectionInProgress is returned when a cycle is requested while one is running
var ErrCollectionInProgress = errors.New("collection already in progress")

const (
	defaultInterval    = 5 * time.Minute
	defaultRunsPerPage = 50
	defaultMaxPages    = 10
)

// Store is the slice of persistence the scheduler needs
type Store interface {
	UpsertWorkflow(ctx context.Context, w models.Workflow) error
	ListActiveRuns(ctx context.Context) ([]models.Run, error)
	LatestCheckpoint(ctx context.Context) (time.Time, bool, error)
	AppendCheckpoint(ctx context.Context, at time.Time) error
	AbandonRun(ctx context.Context, id int64) error
}

// RunProcessor processes a batch of runs
type RunProcessor interface {
	ProcessRuns(ctx context.Context, runs []models.Run) []processor.Result
}

// Config tunes the scheduler
type Config struct {
	Interval    time.Duration
	RunsPerPage int
	MaxPages    int
}

// Report summarizes one collection cycle
type Report struct {
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	TotalWorkflows     int           `json:"total_workflows"`
	ProcessedWorkflows int           `json:"processed_workflows"`
	FailedWorkflows    int           `json:"failed_workflows"`
	NewRuns            int           `json:"new_runs"`
	SkippedRuns        int           `json:"skipped_runs"`
	FailedRuns         int           `json:"failed_runs"`
	NewFiles           int           `json:"new_files"`
	FullBackfill       bool          `json:"full_backfill"`
}

// Status describes the scheduler state
type Status struct {
	Busy           bool          `json:"busy"`
	Running        bool          `json:"running"`
	Interval       time.Duration `json:"interval"`
	LastCheckpoint *time.Time    `json:"last_checkpoint"`
	LastReport     *Report       `json:"last_report,omitempty"`
}

// Scheduler runs collection cycles on an interval
type Scheduler struct {
	provider  provider.Provider
	store     Store
	processor RunProcessor
	cfg       Config
	logger    *logger.Logger
	now       func() time.Time

	busy atomic.Bool

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	done       chan struct{}
	lastReport *Report
}

// New creates a scheduler
func New(p provider.Provider, store Store, proc RunProcessor, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RunsPerPage <= 0 {
		cfg.RunsPerPage = defaultRunsPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Scheduler{
		provider:  p,
		store:     store,
		processor: proc,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// Start runs a cycle immediately and then one cycle per interval, each
// scheduled after the previous one finished. Cancelling ctx does not
// interrupt a running cycle; use Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("collector already started")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(context.WithoutCancel(ctx), s.stop, s.done)

	s.logger.Info("collector: started", "interval", s.cfg.Interval.String())
	return nil
}

// Stop prevents further cycles and waits for the current one to finish or
// for ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("collector: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("collector stop: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if _, err := s.CollectOnce(ctx); err != nil {
			if errors.Is(err, ErrCollectionInProgress) {
				s.logger.Info("collector: scheduled cycle skipped, another cycle is running")
			} else {
				s.logger.Error("collector: cycle failed", "error", err)
			}
		}

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Trigger forces an immediate cycle and returns its report
func (s *Scheduler) Trigger(ctx context.Context) (*Report, error) {
	return s.CollectOnce(ctx)
}

// Status reports whether a cycle is executing, whether the scheduler loop
// is running, the interval and the last checkpoint
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		Busy:       s.busy.Load(),
		Running:    s.running,
		Interval:   s.cfg.Interval,
		LastReport: s.lastReport,
	}
	s.mu.Unlock()

	if at, ok, err := s.store.LatestCheckpoint(ctx); err == nil && ok {
		st.LastCheckpoint = &at
	}
	return st
}

// CollectOnce executes one cycle. It fails immediately with
// ErrCollectionInProgress when another cycle holds the busy flag. The cycle
// keeps the values of ctx (such as the request logger) but not its
// cancellation: once started it runs to completion and advances the
// checkpoint even if the caller goes away.
func (s *Scheduler) CollectOnce(ctx context.Context) (*Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrCollectionInProgress
	}
	ctx = context.WithoutCancel(ctx)
	Busy.Set(1)
	defer func() {
		s.busy.Store(false)
		Busy.Set(0)
	}()

	report, err := s.cycle(ctx)
	CycleDuration.Observe(report.Duration.Seconds())
	if err != nil {
		CyclesTotal.WithLabelValues("error").Inc()
		return report, err
	}
	CyclesTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()
	return report, nil
}

func (s *Scheduler) cycle(ctx context.Context) (*Report, error) {
	start := s.now().UTC()
	report := &Report{StartedAt: start}
	defer func() { report.Duration = s.now().Sub(start) }()

	log := logger.FromContext(ctx, s.logger)

	var since *time.Time
	last, ok, err := s.store.LatestCheckpoint(ctx)
	switch {
	case err != nil:
		log.Warn("collector: checkpoint unreadable, running full backfill", "error", err)
	case ok:
		since = &last
	}
	report.FullBackfill = since == nil

	log.Info("collector: cycle started", "since", since, "full_backfill", report.FullBackfill)

	workflows, err := s.provider.ListWorkflows(ctx)
	if err != nil {
		return report, fmt.Errorf("discover workflows: %w", err)
	}
	report.TotalWorkflows = len(workflows)

	for _, wf := range workflows {
		if err := s.store.UpsertWorkflow(ctx, wf); err != nil {
			log.Error("collector: failed to record workflow", "workflow_id", wf.ID, "error", err)
		}
	}

	active, err := s.store.ListActiveRuns(ctx)
	if err != nil {
		log.Warn("collector: could not load active runs", "error", err)
	}
	activeByWorkflow := make(map[int64][]models.Run)
	for _, r := range active {
		activeByWorkflow[r.WorkflowID] = append(activeByWorkflow[r.WorkflowID], r)
	}

	for _, wf := range workflows {
		wlog := log.With("workflow_id", wf.ID, "workflow", wf.Name)

		runs, err := s.candidateRuns(ctx, wf.ID, since, activeByWorkflow[wf.ID])
		delete(activeByWorkflow, wf.ID)
		if err != nil {
			report.FailedWorkflows++
			WorkflowFailuresTotal.Inc()
			wlog.Error("collector: workflow failed", "error", err)
			continue
		}

		s.process(ctx, runs, report)
		report.ProcessedWorkflows++
		wlog.Debug("collector: workflow processed", "runs", len(runs))
	}

	// active runs of workflows no longer listed by the provider
	for workflowID, runs := range activeByWorkflow {
		fresh := s.refetch(ctx, runs, nil)
		log.Info("collector: re-polling runs of unlisted workflow", "workflow_id", workflowID, "runs", len(fresh))
		s.process(ctx, fresh, report)
	}

	if err := s.store.AppendCheckpoint(ctx, start); err != nil {
		log.Error("collector: failed to advance checkpoint", "error", err)
	}

	log.Info("collector: cycle completed",
		"duration_ms", s.now().Sub(start).Milliseconds(),
		"workflows", report.TotalWorkflows,
		"failed_workflows", report.FailedWorkflows,
		"new_runs", report.NewRuns,
		"failed_runs", report.FailedRuns,
		"new_files", report.NewFiles)
	return report, nil
}

// candidateRuns lists runs created after since (all runs when since is nil)
// and merges in fresh copies of the workflow's active runs not already listed
func (s *Scheduler) candidateRuns(ctx context.Context, workflowID int64, since *time.Time, active []models.Run) ([]models.Run, error) {
	var runs []models.Run
	seen := make(map[int64]bool)

	for page := 1; page <= s.cfg.MaxPages; page++ {
		batch, err := s.provider.ListRuns(ctx, workflowID, provider.ListRunsOptions{
			CreatedAfter: since,
			Page:         page,
			PerPage:      s.cfg.RunsPerPage,
		})
		if err != nil {
			return nil, fmt.Errorf("list runs page %d: %w", page, err)
		}
		for _, r := range batch {
			if !seen[r.ID] {
				seen[r.ID] = true
				runs = append(runs, r)
			}
		}
		if len(batch) < s.cfg.RunsPerPage {
			break
		}
	}

	return append(runs, s.refetch(ctx, active, seen)...), nil
}

// refetch retrieves current data for recorded active runs not in seen.
// Runs the provider no longer has are abandoned so they stop being polled;
// other failures leave the run for the next cycle.
func (s *Scheduler) refetch(ctx context.Context, active []models.Run, seen map[int64]bool) []models.Run {
	log := logger.FromContext(ctx, s.logger)

	var out []models.Run
	for _, r := range active {
		if seen[r.ID] {
			continue
		}
		fresh, err := s.provider.GetRun(ctx, r.ID)
		switch {
		case errors.Is(err, provider.ErrRunNotFound):
			if aerr := s.store.AbandonRun(ctx, r.ID); aerr != nil {
				log.Error("collector: failed to abandon vanished run", "run_id", r.ID, "error", aerr)
				continue
			}
			log.Info("collector: run no longer exists upstream, abandoned", "run_id", r.ID)
		case err != nil:
			log.Warn("collector: failed to refresh active run", "run_id", r.ID, "error", err)
		default:
			out = append(out, *fresh)
		}
	}
	return out
}

func (s *Scheduler) process(ctx context.Context, runs []models.Run, report *Report) {
	for _, res := range s.processor.ProcessRuns(ctx, runs) {
		switch {
		case res.Err != nil:
			report.FailedRuns++
			RunsProcessedTotal.WithLabelValues("error").Inc()
		case res.Skipped:
			report.SkippedRuns++
			RunsProcessedTotal.WithLabelValues("skipped").Inc()
		default:
			report.NewRuns++
			report.NewFiles += res.TotalFiles
			RunsProcessedTotal.WithLabelValues("ok").Inc()
			for t, n := range res.FilesByType {
				FilesExtractedTotal.WithLabelValues(string(t)).Add(float64(n))
			}
		}
	}
}
