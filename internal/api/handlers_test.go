package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lei/actions-ledger/internal/blobstore"
	"github.com/lei/actions-ledger/internal/collector"
	"github.com/lei/actions-ledger/internal/config"
	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/internal/processor"
	"github.com/lei/actions-ledger/internal/provider"
	"github.com/lei/actions-ledger/internal/service"
	"github.com/lei/actions-ledger/internal/storage"
	"github.com/lei/actions-ledger/pkg/logger"
)

type stubProvider struct{ connErr error }

func (p *stubProvider) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	return nil, nil
}
func (p *stubProvider) ListRuns(ctx context.Context, workflowID int64, opts provider.ListRunsOptions) ([]models.Run, error) {
	return nil, nil
}
func (p *stubProvider) GetRun(ctx context.Context, runID int64) (*models.Run, error) {
	return nil, provider.ErrRunNotFound
}
func (p *stubProvider) ListJobs(ctx context.Context, runID int64) ([]models.Job, error) {
	return nil, nil
}
func (p *stubProvider) ListArtifacts(ctx context.Context, runID int64) ([]models.Artifact, error) {
	return nil, nil
}
func (p *stubProvider) DownloadArtifact(ctx context.Context, artifactID int64) (io.ReadCloser, error) {
	return nil, provider.ErrArtifactNotFound
}
func (p *stubProvider) GetJobLogs(ctx context.Context, jobID int64) (string, error) {
	return "", nil
}
func (p *stubProvider) CheckConnection(ctx context.Context) error { return p.connErr }

type stubProcessor struct{ err error }

func (p *stubProcessor) ProcessRun(ctx context.Context, runID int64, run *models.Run) (processor.Result, error) {
	return processor.Result{RunID: runID, TotalFiles: 2}, p.err
}

type stubCollector struct{ err error }

func (c *stubCollector) Trigger(ctx context.Context) (*collector.Report, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &collector.Report{TotalWorkflows: 1, NewRuns: 2}, nil
}
func (c *stubCollector) Status(ctx context.Context) collector.Status {
	return collector.Status{Running: true, Interval: 5 * time.Minute}
}

type testServer struct {
	router http.Handler
	prov   *stubProvider
	proc   *stubProcessor
	coll   *stubCollector
}

func newTestServer(t *testing.T, keys []config.APIKey) *testServer {
	t.Helper()
	dir := t.TempDir()
	ctx := testContext(t)

	store, err := storage.Open(ctx, storage.Config{Driver: storage.DriverSQLite, DSN: filepath.Join(dir, "api.db")}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	blobs, err := blobstore.NewLocalStore(blobstore.LocalConfig{
		ScreenshotsDir: filepath.Join(dir, "screenshots"),
		FilesDir:       filepath.Join(dir, "files"),
	})
	require.NoError(t, err)

	// one recorded run with an inline json file and a stored screenshot
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	content := `{"tests":3}`
	stored := "/api/files/9_abcdef12_home.png"
	_, err = blobs.Put(ctx, blobstore.CategoryScreenshots, "9_abcdef12_home.png", strings.NewReader("PNG"), 3)
	require.NoError(t, err)
	require.NoError(t, store.UpsertWorkflow(ctx, models.Workflow{ID: 1, Name: "ci", CreatedAt: now, UpdatedAt: now}))
	logs := "##[group]Run make\nbuilding\n"
	_, err = store.RecordRun(ctx, models.RunRecord{
		Run: models.Run{ID: 9, WorkflowID: 1, Status: models.StatusCompleted, Conclusion: "success", CreatedAt: now, UpdatedAt: now},
		Artifacts: []models.ArtifactRecord{{
			Artifact: models.Artifact{ID: 90, Name: "out", CreatedAt: now, UpdatedAt: now},
			Files: []models.ExtractedFile{
				{ID: "file-json", OriginalPath: "report/summary.json", FileType: models.FileTypeJSON, FileSize: int64(len(content)),
					StoredFilename: "9_11223344_summary.json", Content: &content, ExtractedAt: now},
				{ID: "file-png", OriginalPath: "home.png", FileType: models.FileTypeImage, FileSize: 3,
					StoredFilename: "9_abcdef12_home.png", StoredURL: &stored, ExtractedAt: now},
			},
		}},
		Jobs: []models.JobRecord{{
			Job:   models.Job{ID: 900, Name: "build", Status: models.StatusCompleted},
			Steps: []models.Step{{Number: 1, Name: "Run make", Status: models.StatusCompleted}},
			Log:   &logs,
		}},
	})
	require.NoError(t, err)

	ts := &testServer{prov: &stubProvider{}, proc: &stubProcessor{}, coll: &stubCollector{}}
	svc := service.NewService(store, blobs, ts.prov, ts.proc, ts.coll, logger.Nop())
	ts.router = NewRouter(NewHandlers(svc), NewAuthMiddleware(keys), NewLoggingMiddleware(logger.Nop()), "/api/files/")
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = ts.do(t, "GET", "/health/detailed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	ts.prov.connErr = provider.ErrProviderUnavailable
	w = ts.do(t, "GET", "/health/detailed", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, "GET", "/health", nil)

	w := ts.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `actions_ledger_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, []config.APIKey{{Name: "dash", Key: "secret-key-123"}})

	w := ts.do(t, "GET", "/v1/workflows", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	errBody := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, float64(401), errBody["code"])
	assert.NotEmpty(t, errBody["request_id"])

	w = ts.do(t, "GET", "/v1/workflows", map[string]string{"Authorization": "Token secret-key-123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "GET", "/v1/workflows", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "GET", "/v1/workflows", map[string]string{"Authorization": "Bearer secret-key-123"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/v1/workflows", map[string]string{"X-API-Key": "secret-key-123"})
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays public
	w = ts.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWorkflowsAndRuns(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "GET", "/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["workflows"], 1)

	w = ts.do(t, "GET", "/v1/workflows/1/runs?status=completed&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["runs"], 1)
	assert.Equal(t, float64(5), body["limit"])

	w = ts.do(t, "GET", "/v1/workflows/1/runs?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "GET", "/v1/workflows/77/runs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "GET", "/v1/workflows/1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode(t, w)["summary"].(map[string]interface{})
	assert.Equal(t, float64(1), sum["total_runs"])
	assert.Equal(t, float64(100), sum["success_rate"])

	w = ts.do(t, "GET", "/v1/summary", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetRunDetails(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "GET", "/v1/runs/9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	files := body["files"].(map[string]interface{})
	assert.Len(t, files["json"], 1)
	assert.Len(t, files["images"], 1)
	assert.Len(t, body["jobs"], 1)

	w = ts.do(t, "GET", "/v1/runs/10", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "GET", "/v1/runs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobLogs(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "GET", "/v1/jobs/900/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	jl := decode(t, w)["job_log"].(map[string]interface{})
	assert.Contains(t, jl["logs"], "Run make")

	w = ts.do(t, "GET", "/v1/jobs/900/logs?format=text", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "##[group]Run make\nbuilding\n", w.Body.String())

	w = ts.do(t, "GET", "/v1/jobs/1/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFiles(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "GET", "/v1/files/search?q=TESTS", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = ts.do(t, "GET", "/v1/files/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "GET", "/v1/files/file-json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"tests":3}`, w.Body.String())

	w = ts.do(t, "GET", "/v1/files/file-png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "PNG", w.Body.String())

	w = ts.do(t, "GET", "/v1/files/file-png/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, false, info["has_content"])
	assert.Equal(t, true, info["has_stored_file"])

	w = ts.do(t, "GET", "/api/files/9_abcdef12_home.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PNG", w.Body.String())

	w = ts.do(t, "GET", "/v1/files/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessRun(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "POST", "/v1/runs/55/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, float64(55), res["run_id"])

	ts.proc.err = provider.ErrUnauthorized
	w = ts.do(t, "POST", "/v1/runs/55/process", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ts.proc.err = &provider.ProviderError{Code: 500, Message: "boom"}
	w = ts.do(t, "POST", "/v1/runs/55/process", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCollector(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, "POST", "/v1/collector/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)["report"].(map[string]interface{})
	assert.Equal(t, float64(2), report["new_runs"])

	ts.coll.err = collector.ErrCollectionInProgress
	w = ts.do(t, "POST", "/v1/collector/trigger", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "GET", "/v1/collector/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode(t, w)["collector"].(map[string]interface{})
	assert.Equal(t, true, st["running"])
}
