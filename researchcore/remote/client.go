// Package remote consumes a riskresearch server over its HTTP API: it starts
// jobs, services cancel and retry, fetches delivered reports, and follows the
// server-sent event stream. Every snapshot observation passes through the
// tolerant wire decoder before a local consumer sees it, so a stream from an
// older backend normalizes the same way a current one does.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Logger abstracts structured logging for the remote client.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Client talks to one riskresearch server.
type Client struct {
	baseURL string
	api     *http.Client
	// Event streams outlive any sensible request timeout; they are bounded
	// by the caller's context instead.
	stream *http.Client
	logger Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, logger Logger) *Client {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
		logger:  logger,
	}
}

// StartResearch starts a research job for the query and returns its ID.
func (c *Client) StartResearch(ctx context.Context, query string, tags []string) (string, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "tags": tags})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/research", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return "", fmt.Errorf("start research: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", c.apiError("start research", resp)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("server response carries no job ID")
	}
	return out.JobID, nil
}

// CancelJob implements the command center's cancel transport.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	resp, err := c.post(ctx, "/api/research/"+jobID+"/cancel")
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return c.apiError("cancel job", resp)
	}
	return nil
}

// RetryJob implements the command center's retry transport. The server
// answers with the fresh job's ID.
func (c *Client) RetryJob(ctx context.Context, jobID string) (string, error) {
	resp, err := c.post(ctx, "/api/research/"+jobID+"/retry")
	if err != nil {
		return "", fmt.Errorf("retry job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", c.apiError("retry job", resp)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("server response carries no job ID")
	}
	return out.JobID, nil
}

// Report fetches the delivered report for a finished job.
func (c *Client) Report(ctx context.Context, jobID string) (*reportstore.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/research/"+jobID+"/report", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, reportstore.ErrReportNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError("fetch report", resp)
	}

	var report reportstore.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// Stream follows a job's event stream until the job reaches a terminal
// status, publishing every observation to the bus. Snapshot payloads are
// normalized through telemetry.DecodeJSON with the previously held snapshot
// as decode context, so gaps and legacy-shaped observations degrade the
// documented way instead of breaking the feed.
func (c *Client) Stream(ctx context.Context, jobID string, bus *feedbus.Bus) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/research/"+jobID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError("open event stream", resp)
	}

	var prev *telemetry.Snapshot
	event := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "snapshot":
				snap := telemetry.DecodeJSON(snapshotPayload(data), prev)
				if snap.JobID == "" {
					snap.JobID = jobID
				}
				prev = snap
				if err := bus.Publish(&feedbus.SnapshotPublished{Snapshot: snap}); err != nil {
					return err
				}
			case "terminal":
				var term feedbus.JobTerminal
				if err := json.Unmarshal(data, &term); err != nil {
					c.logger.Warn("malformed terminal event", "job_id", jobID, "error", err)
					continue
				}
				if term.Job == "" {
					term.Job = jobID
				}
				return bus.Publish(&term)
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return fmt.Errorf("event stream for job %s closed before a terminal event", jobID)
}

func (c *Client) post(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.api.Do(req)
}

func (c *Client) apiError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "" {
		return fmt.Errorf("%s: server returned %d: %s", op, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s: server returned %d", op, resp.StatusCode)
}

// snapshotPayload unwraps the stream's event envelope. Current servers nest
// the observation under "snapshot"; older backends publish it bare.
func snapshotPayload(data []byte) []byte {
	var envelope struct {
		Snapshot json.RawMessage `json:"snapshot"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil &&
		len(envelope.Snapshot) > 0 && !bytes.Equal(envelope.Snapshot, []byte("null")) {
		return envelope.Snapshot
	}
	return data
}

// =============================================================================
// Session
// =============================================================================

// Session binds a Client to a local feed bus for one interactive consumer:
// every job it starts or retries gets its event stream followed onto the
// bus, so the bus carries the same messages an embedded simulator would
// publish there.
type Session struct {
	client *Client
	bus    *feedbus.Bus
	ctx    context.Context
}

// NewSession creates a session over the client. ctx bounds the lifetime of
// every stream the session opens.
func NewSession(ctx context.Context, client *Client, bus *feedbus.Bus) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{client: client, bus: bus, ctx: ctx}
}

// StartResearch starts a job on the server and follows its event stream.
func (s *Session) StartResearch(ctx context.Context, query string, tags []string) (string, error) {
	jobID, err := s.client.StartResearch(ctx, query, tags)
	if err != nil {
		return "", err
	}
	s.follow(jobID)
	return jobID, nil
}

// CancelJob implements the command center's cancel transport.
func (s *Session) CancelJob(ctx context.Context, jobID string) error {
	return s.client.CancelJob(ctx, jobID)
}

// RetryJob implements the command center's retry transport and follows the
// fresh job's event stream.
func (s *Session) RetryJob(ctx context.Context, jobID string) (string, error) {
	newID, err := s.client.RetryJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	s.follow(newID)
	return newID, nil
}

// GetByJobID fetches the delivered report for a finished job.
func (s *Session) GetByJobID(ctx context.Context, jobID string) (*reportstore.Report, error) {
	return s.client.Report(ctx, jobID)
}

func (s *Session) follow(jobID string) {
	go func() {
		if err := s.client.Stream(s.ctx, jobID, s.bus); err != nil {
			s.client.logger.Warn("event stream ended", "job_id", jobID, "error", err)
		}
	}()
}
