// Package httpapi exposes the research manager over HTTP, including a
// server-sent-events feed of job snapshots.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/activity"
	"github.com/supplysight/riskresearch/researchcore/observability"
	"github.com/supplysight/riskresearch/researchcore/progress"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/simulator"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Logger abstracts structured logging for the HTTP layer.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ReportReader resolves delivered reports for finished jobs.
type ReportReader interface {
	GetByJobID(ctx context.Context, jobID string) (*reportstore.Report, error)
}

// Server serves the research API.
type Server struct {
	addr    string
	manager *simulator.Manager
	bus     *feedbus.Bus
	reports ReportReader
	logger  Logger

	server   *http.Server
	listener net.Listener
}

// Config holds the server dependencies.
type Config struct {
	Addr    string
	Manager *simulator.Manager
	Bus     *feedbus.Bus
	Reports ReportReader
	Logger  Logger
}

// NewServer creates a Server. Manager and Bus are required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("manager is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Server{
		addr:    cfg.Addr,
		manager: cfg.Manager,
		bus:     cfg.Bus,
		reports: cfg.Reports,
		logger:  logger,
	}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Routes returns the HTTP handler for the API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/research", s.instrument("create_research", s.handleCreate))
	mux.HandleFunc("GET /api/research", s.instrument("list_research", s.handleList))
	mux.HandleFunc("GET /api/research/{id}", s.instrument("get_research", s.handleGet))
	mux.HandleFunc("GET /api/research/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/research/{id}/cancel", s.instrument("cancel_research", s.handleCancel))
	mux.HandleFunc("POST /api/research/{id}/retry", s.instrument("retry_research", s.handleRetry))
	mux.HandleFunc("GET /api/research/{id}/report", s.instrument("get_report", s.handleReport))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:     s.Routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", listener.Addr().String())
	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// ListenAddr returns the bound address, or empty before Start.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// instrument wraps a handler with request logging and metrics.
func (s *Server) instrument(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(route, strconv.Itoa(rec.status), int(elapsed.Milliseconds()))
		s.logger.Debug("http request",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type createRequest struct {
	Query string   `json:"query"`
	Tags  []string `json:"tags,omitempty"`
}

type jobResponse struct {
	JobID    string                `json:"job_id"`
	Query    string                `json:"query"`
	Status   telemetry.JobStatus   `json:"status"`
	Stage    string                `json:"stage,omitempty"`
	Progress float64               `json:"progress"`
	Activity []string              `json:"activity,omitempty"`
	Failure  *telemetry.JobFailure `json:"failure,omitempty"`
	ReportID string                `json:"report_id,omitempty"`
}

func (s *Server) jobResponse(job *simulator.Job) jobResponse {
	resp := jobResponse{
		JobID:  job.ID(),
		Query:  job.Query(),
		Status: job.Status(),
	}
	if snap := job.Snapshot(); snap != nil {
		resp.Stage = string(snap.Stage)
		resp.Progress = progress.ComputeForStatus(job.Status(), snap)
		resp.Activity = activity.Pool(snap)
	}
	resp.Failure = job.Failure()
	resp.ReportID = job.ReportID()
	return resp
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	job := s.manager.StartJob(context.Background(), req.Query, req.Tags)
	s.logger.Info("research started", "job_id", job.ID(), "query", req.Query)
	writeJSON(w, http.StatusCreated, s.jobResponse(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs := s.manager.Jobs()
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.jobResponse(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, s.jobResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	err := s.manager.CancelJob(r.Context(), jobID)
	switch {
	case errors.Is(err, simulator.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, simulator.ErrJobNotCancellable):
		writeError(w, http.StatusConflict, "job is not researching")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Info("research cancelled", "job_id", jobID)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	newID, err := s.manager.RetryJob(r.Context(), jobID)
	switch {
	case errors.Is(err, simulator.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, simulator.ErrJobNotRetryable):
		writeError(w, http.StatusConflict, "job is not in a retryable state")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Info("research retried", "job_id", jobID, "new_job_id", newID)
		writeJSON(w, http.StatusCreated, map[string]string{"job_id": newID})
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	jobID := r.PathValue("id")
	job, ok := s.manager.Get(jobID)
	if ok && job.Status() != telemetry.JobComplete {
		writeError(w, http.StatusConflict, "job has not completed")
		return
	}
	report, err := s.reports.GetByJobID(r.Context(), jobID)
	if errors.Is(err, reportstore.ErrReportNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// snapshotEvent is the SSE payload for a published snapshot.
type snapshotEvent struct {
	JobID    string              `json:"job_id"`
	Sequence uint64              `json:"sequence"`
	Stage    string              `json:"stage"`
	Progress float64             `json:"progress"`
	Activity []string            `json:"activity"`
	Snapshot *telemetry.Snapshot `json:"snapshot"`
}

// terminalEvent is the SSE payload for a finished job.
type terminalEvent struct {
	JobID    string                `json:"job_id"`
	Status   telemetry.JobStatus   `json:"status"`
	Failure  *telemetry.JobFailure `json:"failure,omitempty"`
	ReportID string                `json:"report_id,omitempty"`
}

// handleEvents streams job snapshots as server-sent events until the job
// reaches a terminal status or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, ok := s.manager.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := s.bus.Subscribe(jobID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Emit the latest known state immediately so clients do not wait for
	// the next snapshot.
	var lastSeq uint64
	if snap := job.Snapshot(); snap != nil {
		lastSeq = snap.Sequence
		writeSSE(w, "snapshot", snapshotEvent{
			JobID:    snap.JobID,
			Sequence: snap.Sequence,
			Stage:    string(snap.Stage),
			Progress: progress.ComputeForStatus(job.Status(), snap),
			Activity: activity.Pool(snap),
			Snapshot: snap,
		})
	}
	if job.Status().IsTerminal() {
		writeSSE(w, "terminal", terminalEvent{
			JobID:    jobID,
			Status:   job.Status(),
			Failure:  job.Failure(),
			ReportID: job.ReportID(),
		})
		flusher.Flush()
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *feedbus.SnapshotPublished:
				// The subscription predates the direct emit above, so
				// snapshots buffered before it can arrive late. Skip
				// anything the client has already seen.
				if m.Snapshot == nil || m.Snapshot.Sequence <= lastSeq {
					continue
				}
				lastSeq = m.Snapshot.Sequence
				writeSSE(w, "snapshot", snapshotEvent{
					JobID:    m.Snapshot.JobID,
					Sequence: m.Snapshot.Sequence,
					Stage:    string(m.Snapshot.Stage),
					Progress: progress.Compute(m.Snapshot),
					Activity: activity.Pool(m.Snapshot),
					Snapshot: m.Snapshot,
				})
				flusher.Flush()
			case *feedbus.JobTerminal:
				writeSSE(w, "terminal", terminalEvent{
					JobID:    m.Job,
					Status:   m.Status,
					Failure:  m.Failure,
					ReportID: m.ReportID,
				})
				flusher.Flush()
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
