package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/config"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/simulator"
	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// =============================================================================
// Fixtures
// =============================================================================

type testServer struct {
	handler http.Handler
	manager *simulator.Manager
	store   *reportstore.Store
	bus     *feedbus.Bus
}

func newTestServer(t *testing.T, cfg config.SimulatorConfig) *testServer {
	t.Helper()
	bus := feedbus.NewBus()
	t.Cleanup(bus.Close)

	store, err := reportstore.Open(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := simulator.NewManager(cfg, bus, store, nil)
	srv, err := NewServer(Config{Manager: manager, Bus: bus, Reports: store})
	require.NoError(t, err)

	return &testServer{handler: srv.Routes(), manager: manager, store: store, bus: bus}
}

func instantConfig() config.SimulatorConfig {
	return config.SimulatorConfig{
		MinAgents:       3,
		MaxAgents:       3,
		ReportSections:  3,
		SourcesPerAgent: 8,
	}
}

func slowConfig() config.SimulatorConfig {
	cfg := instantConfig()
	cfg.StepDelay = 50 * time.Millisecond
	return cfg
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func waitDone(t *testing.T, job *simulator.Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNewServer_RequiresDependencies(t *testing.T) {
	bus := feedbus.NewBus()
	defer bus.Close()
	manager := simulator.NewManager(instantConfig(), bus, nil, nil)

	_, err := NewServer(Config{Bus: bus})
	assert.ErrorContains(t, err, "manager")

	_, err = NewServer(Config{Manager: manager})
	assert.ErrorContains(t, err, "bus")

	srv, err := NewServer(Config{Manager: manager, Bus: bus})
	require.NoError(t, err)
	assert.NotNil(t, srv)
}

// =============================================================================
// Job endpoints
// =============================================================================

func TestCreateResearch(t *testing.T) {
	ts := newTestServer(t, instantConfig())

	rec := ts.do(t, http.MethodPost, "/api/research", `{"query":"tantalum supply risk","tags":["metals"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeJob(t, rec)
	jobID, _ := body["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "tantalum supply risk", body["query"])

	job, ok := ts.manager.Get(jobID)
	require.True(t, ok)
	waitDone(t, job)
	assert.Equal(t, telemetry.JobComplete, job.Status())
}

func TestCreateResearch_Rejections(t *testing.T) {
	ts := newTestServer(t, instantConfig())

	rec := ts.do(t, http.MethodPost, "/api/research", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/research", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query is required")
}

func TestGetResearch(t *testing.T) {
	ts := newTestServer(t, instantConfig())

	rec := ts.do(t, http.MethodGet, "/api/research/job_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	job := ts.manager.StartJob(context.Background(), "lithium refining", nil)
	waitDone(t, job)

	rec = ts.do(t, http.MethodGet, "/api/research/"+job.ID(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJob(t, rec)
	assert.Equal(t, job.ID(), body["job_id"])
	assert.Equal(t, string(telemetry.JobComplete), body["status"])
	assert.Equal(t, string(stage.StageComplete), body["stage"])
	assert.Equal(t, 100.0, body["progress"])
	assert.NotEmpty(t, body["report_id"])
}

func TestListResearch(t *testing.T) {
	ts := newTestServer(t, instantConfig())

	rec := ts.do(t, http.MethodGet, "/api/research", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	waitDone(t, ts.manager.StartJob(context.Background(), "copper smelters", nil))
	waitDone(t, ts.manager.StartJob(context.Background(), "nickel sourcing", nil))

	rec = ts.do(t, http.MethodGet, "/api/research", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)
}

func TestCancelResearch(t *testing.T) {
	ts := newTestServer(t, slowConfig())

	rec := ts.do(t, http.MethodPost, "/api/research/job_missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	job := ts.manager.StartJob(context.Background(), "tin solder supply", nil)
	rec = ts.do(t, http.MethodPost, "/api/research/"+job.ID()+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	waitDone(t, job)
	assert.Equal(t, telemetry.JobCancelled, job.Status())

	rec = ts.do(t, http.MethodPost, "/api/research/"+job.ID()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryResearch(t *testing.T) {
	ts := newTestServer(t, instantConfig())

	rec := ts.do(t, http.MethodPost, "/api/research/job_missing/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ok := ts.manager.StartJob(context.Background(), "graphite anodes", nil)
	waitDone(t, ok)
	rec = ts.do(t, http.MethodPost, "/api/research/"+ok.ID()+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	failed := ts.manager.StartJob(context.Background(), "platinum group metals", nil,
		simulator.WithFailAt(stage.StageSynthesis))
	waitDone(t, failed)
	require.Equal(t, telemetry.JobError, failed.Status())

	rec = ts.do(t, http.MethodPost, "/api/research/"+failed.ID()+"/retry", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeJob(t, rec)
	newID, _ := body["job_id"].(string)
	assert.NotEmpty(t, newID)
	assert.NotEqual(t, failed.ID(), newID)

	fresh, found := ts.manager.Get(newID)
	require.True(t, found)
	waitDone(t, fresh)
	assert.Equal(t, telemetry.JobComplete, fresh.Status())
}

func TestGetReport(t *testing.T) {
	ts := newTestServer(t, slowConfig())

	running := ts.manager.StartJob(context.Background(), "bauxite shipping lanes", nil)
	rec := ts.do(t, http.MethodGet, "/api/research/"+running.ID()+"/report", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	running.Cancel()
	waitDone(t, running)

	rec = ts.do(t, http.MethodGet, "/api/research/job_missing/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	instant := newTestServer(t, instantConfig())
	done := instant.manager.StartJob(context.Background(), "magnesium imports", nil)
	waitDone(t, done)
	require.Equal(t, telemetry.JobComplete, done.Status())

	rec = instant.do(t, http.MethodGet, "/api/research/"+done.ID()+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report reportstore.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, done.ID(), report.JobID)
	assert.Equal(t, done.ReportID(), report.ID)
	assert.NotEmpty(t, report.Markdown)
}

// =============================================================================
// Event stream
// =============================================================================

func TestEvents_UnknownJob(t *testing.T) {
	ts := newTestServer(t, instantConfig())
	rec := ts.do(t, http.MethodGet, "/api/research/job_missing/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_TerminalJobEmitsSnapshotThenTerminal(t *testing.T) {
	ts := newTestServer(t, instantConfig())
	job := ts.manager.StartJob(context.Background(), "rare earth export controls", nil)
	waitDone(t, job)

	rec := ts.do(t, http.MethodGet, "/api/research/"+job.ID()+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	snapIdx := strings.Index(body, "event: snapshot")
	termIdx := strings.Index(body, "event: terminal")
	require.GreaterOrEqual(t, snapIdx, 0)
	require.Greater(t, termIdx, snapIdx)
	assert.Contains(t, body, `"status":"complete"`)
	assert.Contains(t, body, job.ReportID())
}

func TestEvents_StreamsUntilTerminal(t *testing.T) {
	ts := newTestServer(t, slowConfig())
	server := httptest.NewServer(ts.handler)
	defer server.Close()

	job := ts.manager.StartJob(context.Background(), "semiconductor packaging", nil)

	resp, err := http.Get(server.URL + "/api/research/" + job.ID() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	go func() {
		time.Sleep(150 * time.Millisecond)
		job.Cancel()
	}()

	var sawSnapshot, sawTerminal bool
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: snapshot" {
			sawSnapshot = true
		}
		if line == "event: terminal" {
			sawTerminal = true
		}
	}
	assert.True(t, sawSnapshot, "expected at least one snapshot event")
	assert.True(t, sawTerminal, "expected a terminal event")
}

func TestEvents_DropsStaleSnapshots(t *testing.T) {
	ts := newTestServer(t, slowConfig())
	server := httptest.NewServer(ts.handler)
	defer server.Close()

	job := ts.manager.StartJob(context.Background(), "antimony flame retardants", nil)
	require.Eventually(t, func() bool {
		snap := job.Snapshot()
		return snap != nil && snap.Sequence >= 2
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(server.URL + "/api/research/" + job.ID() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Replay an old observation onto the feed. The stream must not send it
	// after the newer state it already emitted.
	go func() {
		time.Sleep(100 * time.Millisecond)
		stale := job.Snapshot()
		stale.Sequence = 1
		_ = ts.bus.Publish(&feedbus.SnapshotPublished{Snapshot: stale})
		time.Sleep(100 * time.Millisecond)
		job.Cancel()
	}()

	var seqs []uint64
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload struct {
			Sequence *uint64 `json:"sequence"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
		if payload.Sequence != nil {
			seqs = append(seqs, *payload.Sequence)
		}
	}

	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "snapshot sequences must be strictly increasing")
	}
}

// =============================================================================
// Operational endpoints
// =============================================================================

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, instantConfig())
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, instantConfig())
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}
