package collector

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/internal/processor"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/pkg/logger"
)

type listCall struct {
	workflowID   int64
	createdAfter *time.Time
	page         int
}

type fakeProvider struct {
	mu          sync.Mutex
	workflows   []models.Workflow
	workflowErr error
	runs        map[int64][]models.Run
	runErr      map[int64]error
	current     map[int64]models.Run
	getRunErr   map[int64]error
	onListRuns  func()
	listCalls   []listCall
	getRunCalls []int64
}

func (f *fakeProvider) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	return f.workflows, f.workflowErr
}

func (f *fakeProvider) ListRuns(ctx context.Context, workflowID int64, opts provider.ListRunsOptions) ([]models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, listCall{workflowID: workflowID, createdAfter: opts.CreatedAfter, page: opts.Page})
	if f.onListRuns != nil {
		f.onListRuns()
	}
	if err := f.runErr[workflowID]; err != nil {
		return nil, err
	}

	all := f.runs[workflowID]
	start := (opts.Page - 1) * opts.PerPage
	if start >= len(all) {
		return nil, nil
	}
	end := start + opts.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeProvider) GetRun(ctx context.Context, runID int64) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getRunCalls = append(f.getRunCalls, runID)
	if err := f.getRunErr[runID]; err != nil {
		return nil, err
	}
	r, ok := f.current[runID]
	if !ok {
		return nil, provider.ErrRunNotFound
	}
	return &r, nil
}

func (f *fakeProvider) ListJobs(ctx context.Context, runID int64) ([]models.Job, error) {
	return nil, nil
}

func (f *fakeProvider) ListArtifacts(ctx context.Context, runID int64) ([]models.Artifact, error) {
	return nil, nil
}

func (f *fakeProvider) DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error) {
	return nil, provider.ErrArtifactNotFound
}

func (f *fakeProvider) GetJobLogs(ctx context.Context, jobID int64) (string, error) {
	return "", nil
}

func (f *fakeProvider) CheckConnection(ctx context.Context) error { return nil }

type memStore struct {
	mu            sync.Mutex
	workflows     map[int64]models.Workflow
	active        []models.Run
	checkpoints   []time.Time
	checkpointErr error
	abandoned     []int64
}

func newMemStore() *memStore {
	return &memStore{workflows: map[int64]models.Workflow{}}
}

func (m *memStore) UpsertWorkflow(ctx context.Context, w models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
	return nil
}

func (m *memStore) ListActiveRuns(ctx context.Context) ([]models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Run(nil), m.active...), nil
}

func (m *memStore) LatestCheckpoint(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpointErr != nil {
		return time.Time{}, false, m.checkpointErr
	}
	if len(m.checkpoints) == 0 {
		return time.Time{}, false, nil
	}
	return m.checkpoints[len(m.checkpoints)-1], true, nil
}

// AppendCheckpoint fails on a done context like a database driver would
func (m *memStore) AppendCheckpoint(ctx context.Context, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, at)
	return nil
}

func (m *memStore) AbandonRun(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned = append(m.abandoned, id)
	return nil
}

// fakeProcessor records the runs it receives; block, when set, holds
// ProcessRuns until closed
type fakeProcessor struct {
	mu      sync.Mutex
	batches [][]models.Run
	ctxErrs []error
	entered chan struct{}
	block   chan struct{}
}

func (p *fakeProcessor) ProcessRuns(ctx context.Context, runs []models.Run) []processor.Result {
	p.mu.Lock()
	p.batches = append(p.batches, runs)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()

	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.block != nil {
		<-p.block
	}

	results := make([]processor.Result, 0, len(runs))
	for _, r := range runs {
		results = append(results, processor.Result{
			RunID:       r.ID,
			TotalFiles:  1,
			FilesByType: map[models.FileType]int{models.FileTypeText: 1},
		})
	}
	return results
}

func (p *fakeProcessor) runIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int64
	for _, b := range p.batches {
		for _, r := range b {
			ids = append(ids, r.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func run(id, workflowID int64, status models.RunStatus) models.Run {
	return models.Run{ID: id, WorkflowID: workflowID, Status: status}
}

func TestCollectOnce_FirstCycleBackfillsEverything(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1, Name: "ci"}},
		runs: map[int64][]models.Run{
			1: {run(10, 1, models.StatusCompleted), run(11, 1, models.StatusCompleted), run(12, 1, models.StatusCompleted)},
		},
	}
	store := newMemStore()
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{RunsPerPage: 2}, logger.Nop())

	report, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, report.FullBackfill)
	assert.Equal(t, 1, report.TotalWorkflows)
	assert.Equal(t, 3, report.NewRuns)
	assert.Equal(t, 3, report.NewFiles)
	assert.Equal(t, []int64{10, 11, 12}, proc.runIDs())

	// two pages, no lower bound
	require.Len(t, p.listCalls, 2)
	for _, c := range p.listCalls {
		assert.Nil(t, c.createdAfter)
	}

	require.Len(t, store.checkpoints, 1)
	assert.Equal(t, report.StartedAt, store.checkpoints[0])
	assert.Contains(t, store.workflows, int64(1))
}

func TestCollectOnce_IncrementalIncludesActiveRuns(t *testing.T) {
	checkpoint := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1, Name: "ci"}},
		runs: map[int64][]models.Run{
			1: {run(20, 1, models.StatusQueued)},
		},
		current: map[int64]models.Run{
			5: run(5, 1, models.StatusCompleted),
		},
	}
	store := newMemStore()
	store.checkpoints = []time.Time{checkpoint}
	store.active = []models.Run{run(5, 1, models.StatusInProgress)}
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	report, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, report.FullBackfill)
	require.NotEmpty(t, p.listCalls)
	require.NotNil(t, p.listCalls[0].createdAfter)
	assert.True(t, checkpoint.Equal(*p.listCalls[0].createdAfter))

	assert.Equal(t, []int64{5, 20}, proc.runIDs())
	assert.Equal(t, []int64{5}, p.getRunCalls)

	// processor receives the refreshed status
	for _, b := range proc.batches {
		for _, r := range b {
			if r.ID == 5 {
				assert.Equal(t, models.StatusCompleted, r.Status)
			}
		}
	}
	assert.Len(t, store.checkpoints, 2)
}

func TestCollectOnce_ActiveRunAlreadyListedNotRefetched(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}},
		runs: map[int64][]models.Run{
			1: {run(7, 1, models.StatusCompleted)},
		},
	}
	store := newMemStore()
	store.active = []models.Run{run(7, 1, models.StatusInProgress)}
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	_, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{7}, proc.runIDs())
	assert.Empty(t, p.getRunCalls)
}

func TestCollectOnce_WorkflowFailureIsolated(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1, Name: "broken"}, {ID: 2, Name: "ok"}},
		runs: map[int64][]models.Run{
			2: {run(30, 2, models.StatusCompleted)},
		},
		runErr: map[int64]error{1: provider.ErrProviderUnavailable},
	}
	store := newMemStore()
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	report, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.FailedWorkflows)
	assert.Equal(t, 1, report.ProcessedWorkflows)
	assert.Equal(t, []int64{30}, proc.runIDs())
	assert.Len(t, store.checkpoints, 1)
}

func TestCollectOnce_DiscoveryFailureKeepsCheckpoint(t *testing.T) {
	p := &fakeProvider{workflowErr: provider.ErrUnauthorized}
	store := newMemStore()
	s := New(p, store, &fakeProcessor{}, Config{}, logger.Nop())

	_, err := s.CollectOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrUnauthorized))
	assert.Empty(t, store.checkpoints)
	assert.False(t, s.Status(context.Background()).Busy)
}

func TestCollectOnce_UnlistedWorkflowActiveRunsRepolled(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}},
		current: map[int64]models.Run{
			40: run(40, 9, models.StatusCompleted),
		},
	}
	store := newMemStore()
	store.active = []models.Run{run(40, 9, models.StatusInProgress)}
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	_, err := s.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{40}, proc.runIDs())
}

func TestCollectOnce_CheckpointReadFailureFallsBackToBackfill(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}, {ID: 2}},
		runs: map[int64][]models.Run{
			1: {run(10, 1, models.StatusCompleted)},
			2: {run(20, 2, models.StatusCompleted)},
		},
	}
	store := newMemStore()
	store.checkpointErr = errors.New("database is locked")
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	report, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, report.FullBackfill)
	require.Len(t, p.listCalls, 2)
	for _, c := range p.listCalls {
		assert.Nil(t, c.createdAfter, "workflow %d listed with a lower bound", c.workflowID)
	}
	assert.Equal(t, []int64{10, 20}, proc.runIDs())

	require.Len(t, store.checkpoints, 1)
	assert.Equal(t, report.StartedAt, store.checkpoints[0])
}

func TestCollectOnce_RefreshFailureKeepsRunForNextCycle(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}},
		current: map[int64]models.Run{
			6: run(6, 1, models.StatusCompleted),
		},
		getRunErr: map[int64]error{5: provider.ErrProviderUnavailable},
	}
	store := newMemStore()
	store.active = []models.Run{run(5, 1, models.StatusInProgress), run(6, 1, models.StatusInProgress)}
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	report, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{6}, proc.runIDs())
	assert.ElementsMatch(t, []int64{5, 6}, p.getRunCalls)
	assert.Empty(t, store.abandoned, "transient failures do not abandon runs")
	assert.Equal(t, 0, report.FailedWorkflows)
	assert.Len(t, store.checkpoints, 1)
}

func TestCollectOnce_VanishedRunAbandoned(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}},
	}
	store := newMemStore()
	store.active = []models.Run{run(5, 1, models.StatusInProgress), run(8, 3, models.StatusQueued)}
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	_, err := s.CollectOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, proc.runIDs())
	assert.ElementsMatch(t, []int64{5, 8}, store.abandoned)
	assert.Len(t, store.checkpoints, 1)
}

func TestTrigger_CallerCancellationDoesNotAbortCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}, {ID: 2}},
		runs: map[int64][]models.Run{
			1: {run(10, 1, models.StatusCompleted)},
			2: {run(20, 2, models.StatusCompleted)},
		},
		// the client disconnects while the cycle is listing runs
		onListRuns: cancel,
	}
	store := newMemStore()
	proc := &fakeProcessor{}
	s := New(p, store, proc, Config{}, logger.Nop())

	report, err := s.Trigger(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.Equal(t, 2, report.ProcessedWorkflows)
	assert.Equal(t, []int64{10, 20}, proc.runIDs())
	for _, cerr := range proc.ctxErrs {
		assert.NoError(t, cerr)
	}
	require.Len(t, store.checkpoints, 1, "checkpoint advances after a completed cycle")
	assert.Equal(t, report.StartedAt, store.checkpoints[0])
}

func TestCollectOnce_RejectsConcurrentCycle(t *testing.T) {
	p := &fakeProvider{
		workflows: []models.Workflow{{ID: 1}},
		runs:      map[int64][]models.Run{1: {run(1, 1, models.StatusCompleted)}},
	}
	proc := &fakeProcessor{entered: make(chan struct{}, 1), block: make(chan struct{})}
	s := New(p, newMemStore(), proc, Config{}, logger.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := s.CollectOnce(context.Background())
		done <- err
	}()

	select {
	case <-proc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the processor")
	}

	assert.True(t, s.Status(context.Background()).Busy)
	_, err := s.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrCollectionInProgress)

	close(proc.block)
	require.NoError(t, <-done)

	_, err = s.Trigger(context.Background())
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	p := &fakeProvider{workflows: []models.Workflow{{ID: 1}}}
	store := newMemStore()
	s := New(p, store, &fakeProcessor{}, Config{Interval: time.Hour}, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, ok, _ := store.LatestCheckpoint(context.Background())
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	st := s.Status(context.Background())
	assert.True(t, st.Running)
	assert.Equal(t, time.Hour, st.Interval)
	require.NotNil(t, st.LastCheckpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Status(context.Background()).Running)
	require.NoError(t, s.Stop(ctx))
}
