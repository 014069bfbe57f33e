package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/config"
	"github.com/supplysight/riskresearch/researchcore/httpapi"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/simulator"
	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// =============================================================================
// Fixtures
// =============================================================================

func instantConfig() config.SimulatorConfig {
	return config.SimulatorConfig{
		MinAgents:       3,
		MaxAgents:       3,
		ReportSections:  3,
		SourcesPerAgent: 8,
	}
}

// newBackend stands up a real research server for the client to talk to.
func newBackend(t *testing.T, cfg config.SimulatorConfig) (*httptest.Server, *simulator.Manager) {
	t.Helper()
	bus := feedbus.NewBus()
	t.Cleanup(bus.Close)

	store, err := reportstore.Open(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := simulator.NewManager(cfg, bus, store, nil)
	srv, err := httpapi.NewServer(httpapi.Config{Manager: manager, Bus: bus, Reports: store})
	require.NoError(t, err)

	server := httptest.NewServer(srv.Routes())
	t.Cleanup(server.Close)
	return server, manager
}

func newLocalBus(t *testing.T, buffer int) (*feedbus.Bus, *feedbus.Subscription) {
	t.Helper()
	bus := feedbus.NewBus()
	t.Cleanup(bus.Close)
	sub, err := bus.Subscribe(feedbus.AllJobs, buffer)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return bus, sub
}

func collectUntilTerminal(t *testing.T, sub *feedbus.Subscription, jobID string) ([]*telemetry.Snapshot, *feedbus.JobTerminal) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	var snaps []*telemetry.Snapshot
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				t.Fatal("feed closed before the job finished")
			}
			switch m := msg.(type) {
			case *feedbus.SnapshotPublished:
				if m.Snapshot.JobID == jobID {
					snaps = append(snaps, m.Snapshot)
				}
			case *feedbus.JobTerminal:
				if m.Job == jobID {
					return snaps, m
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for the terminal event")
		}
	}
}

// =============================================================================
// Session against a live server
// =============================================================================

func TestSession_RunsJobToCompletion(t *testing.T) {
	backend, _ := newBackend(t, instantConfig())
	bus, sub := newLocalBus(t, 256)
	session := NewSession(context.Background(), NewClient(backend.URL, nil), bus)

	jobID, err := session.StartResearch(context.Background(), "cobalt mining exposure", []string{"metals"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	snaps, term := collectUntilTerminal(t, sub, jobID)
	assert.Equal(t, telemetry.JobComplete, term.Status)
	assert.NotEmpty(t, term.ReportID)

	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, jobID, last.JobID)
	assert.Equal(t, stage.StageComplete, last.Stage)

	report, err := session.GetByJobID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, report.JobID)
	assert.NotEmpty(t, report.Markdown)
}

func TestSession_CancelAndRetry(t *testing.T) {
	cfg := instantConfig()
	cfg.StepDelay = 20 * time.Millisecond
	backend, _ := newBackend(t, cfg)
	bus, sub := newLocalBus(t, 256)
	session := NewSession(context.Background(), NewClient(backend.URL, nil), bus)

	jobID, err := session.StartResearch(context.Background(), "gallium export licensing", nil)
	require.NoError(t, err)

	require.NoError(t, session.CancelJob(context.Background(), jobID))
	_, term := collectUntilTerminal(t, sub, jobID)
	require.Equal(t, telemetry.JobCancelled, term.Status)

	newID, err := session.RetryJob(context.Background(), jobID)
	require.NoError(t, err)
	require.NotEqual(t, jobID, newID)

	snaps, retried := collectUntilTerminal(t, sub, newID)
	assert.Equal(t, telemetry.JobComplete, retried.Status)
	assert.NotEmpty(t, retried.ReportID)
	require.NotEmpty(t, snaps)
	assert.Equal(t, stage.StageComplete, snaps[len(snaps)-1].Stage)
}

// =============================================================================
// Error mapping
// =============================================================================

func TestClient_ReportNotFound(t *testing.T) {
	backend, _ := newBackend(t, instantConfig())
	client := NewClient(backend.URL, nil)

	_, err := client.Report(context.Background(), "job_missing")
	assert.ErrorIs(t, err, reportstore.ErrReportNotFound)
}

func TestClient_StartResearchRejected(t *testing.T) {
	backend, _ := newBackend(t, instantConfig())
	client := NewClient(backend.URL, nil)

	_, err := client.StartResearch(context.Background(), "   ", nil)
	assert.ErrorContains(t, err, "query is required")
}

func TestClient_CancelConflict(t *testing.T) {
	backend, manager := newBackend(t, instantConfig())
	client := NewClient(backend.URL, nil)

	job := manager.StartJob(context.Background(), "indium touchscreen supply", nil)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}

	err := client.CancelJob(context.Background(), job.ID())
	assert.ErrorContains(t, err, "not researching")
}

// =============================================================================
// Stream normalization
// =============================================================================

func TestStream_NormalizesWireShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/research/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: snapshot\n")
		fmt.Fprint(w, `data: {"stage":"report_generation","processing_steps":[{"step":"draft","label":"Drafting sections","status":"active"}],"sources_count":12,"started":1756500000}`+"\n\n")
		fmt.Fprint(w, "event: snapshot\n")
		fmt.Fprint(w, `data: {"sequence":7,"snapshot":{"job_id":"job_wire","seq":7,"stage":"delivering","phases":[{"id":"format","label":"Formatting report","status":"active"}],"total_sources":14}}`+"\n\n")
		fmt.Fprint(w, "event: terminal\n")
		fmt.Fprint(w, `data: {"job_id":"job_wire","status":"complete","report_id":"rep_wire"}`+"\n\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	bus, sub := newLocalBus(t, 8)
	client := NewClient(server.URL, nil)
	require.NoError(t, client.Stream(context.Background(), "job_wire", bus))

	first := (<-sub.C()).(*feedbus.SnapshotPublished).Snapshot
	assert.Equal(t, "job_wire", first.JobID)
	assert.Equal(t, stage.StageSynthesis, first.Stage)
	assert.Equal(t, "report_generation", first.RawStage)
	require.Len(t, first.Phases, 1)
	assert.Equal(t, "draft", first.Phases[0].ID)
	assert.Equal(t, telemetry.PhaseActive, first.Phases[0].Status)
	assert.Equal(t, 12, first.TotalSources)
	assert.Equal(t, time.Unix(1756500000, 0).UTC(), first.StartedAt)

	second := (<-sub.C()).(*feedbus.SnapshotPublished).Snapshot
	assert.Equal(t, "job_wire", second.JobID)
	assert.Equal(t, uint64(7), second.Sequence)
	assert.Equal(t, stage.StageDelivery, second.Stage)
	assert.Equal(t, 14, second.TotalSources)
	assert.True(t, second.CompletedStages[stage.StageSynthesis])
	assert.Equal(t, first.StartedAt, second.StartedAt, "start time should carry over between observations")

	term := (<-sub.C()).(*feedbus.JobTerminal)
	assert.Equal(t, "job_wire", term.Job)
	assert.Equal(t, telemetry.JobComplete, term.Status)
	assert.Equal(t, "rep_wire", term.ReportID)
}

func TestStream_FailsWhenFeedEndsEarly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/research/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: snapshot\n")
		fmt.Fprint(w, `data: {"job_id":"job_cut","stage":"plan"}`+"\n\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	bus, _ := newLocalBus(t, 8)
	client := NewClient(server.URL, nil)
	err := client.Stream(context.Background(), "job_cut", bus)
	assert.ErrorContains(t, err, "closed before a terminal event")
}
