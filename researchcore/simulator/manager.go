package simulator

import (
	"context"
	"errors"
	"sync"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/config"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable is returned when cancelling a terminal job.
	ErrJobNotCancellable = errors.New("job is not researching")
	// ErrJobNotRetryable is returned when retrying a job that is neither
	// errored nor cancelled.
	ErrJobNotRetryable = errors.New("job is not in a retryable status")
)

// Manager owns the set of research jobs in one process: it starts them,
// looks them up, and services cancel and retry. It satisfies the command
// center's transport contracts for embedded deployments.
type Manager struct {
	cfg    config.SimulatorConfig
	bus    *feedbus.Bus
	sink   ReportSink
	logger Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager creates a job manager publishing to the given bus.
func NewManager(cfg config.SimulatorConfig, bus *feedbus.Bus, sink ReportSink, logger Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		bus:    bus,
		sink:   sink,
		logger: logger,
		jobs:   make(map[string]*Job),
	}
}

// StartJob creates and starts a research job for the query.
func (m *Manager) StartJob(ctx context.Context, query string, tags []string, opts ...Option) *Job {
	all := append([]Option{
		WithBus(m.bus),
		WithReportSink(m.sink),
		WithLogger(m.logger),
	}, opts...)
	job := New(query, tags, m.cfg, all...)

	m.mu.Lock()
	m.jobs[job.ID()] = job
	m.mu.Unlock()

	job.Start(ctx)
	return job
}

// StartResearch starts a job for the query and returns its ID. It is the
// transport-shaped variant of StartJob: together with CancelJob and RetryJob
// it lets embedded deployments plug the manager in wherever a server-backed
// client would sit.
func (m *Manager) StartResearch(ctx context.Context, query string, tags []string) (string, error) {
	return m.StartJob(ctx, query, tags).ID(), nil
}

// Get returns the job with the given ID.
func (m *Manager) Get(jobID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// Jobs returns all known jobs.
func (m *Manager) Jobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// CancelJob implements the command center's cancel transport.
func (m *Manager) CancelJob(_ context.Context, jobID string) error {
	job, ok := m.Get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if job.Status().IsTerminal() {
		return ErrJobNotCancellable
	}
	job.Cancel()
	return nil
}

// RetryJob implements the command center's retry transport: it starts a
// fresh job with the failed or cancelled job's query and returns the new ID.
func (m *Manager) RetryJob(ctx context.Context, jobID string) (string, error) {
	job, ok := m.Get(jobID)
	if !ok {
		return "", ErrJobNotFound
	}
	status := job.Status()
	if status != telemetry.JobError && status != telemetry.JobCancelled {
		return "", ErrJobNotRetryable
	}
	fresh := m.StartJob(ctx, job.Query(), job.Tags())
	return fresh.ID(), nil
}
