// Package simulator runs deep research jobs in-process and produces the
// progress telemetry the rest of the system consumes.
//
// A Job walks the five-stage pipeline (plan -> research -> synthesis ->
// delivery -> complete), allocating research agents from the category
// taxonomy, surfacing insights, writing report sections and finally
// persisting the delivered report. After every mutation it publishes a fresh
// immutable snapshot to the feed bus. Pacing is configurable; a zero step
// delay runs the job to completion without pausing, which tests and the
// `run` command rely on.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/researchcore/config"
	"github.com/supplysight/riskresearch/researchcore/observability"
	"github.com/supplysight/riskresearch/researchcore/progress"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Logger is the minimal structured logger the simulator depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ReportSink persists the delivered report artifact.
type ReportSink interface {
	Save(ctx context.Context, report *reportstore.Report) error
}

// Option configures a Job.
type Option func(*Job)

// WithBus publishes the job's telemetry to the given feed bus.
func WithBus(bus *feedbus.Bus) Option {
	return func(j *Job) { j.bus = bus }
}

// WithLogger sets the job logger.
func WithLogger(logger Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithReportSink persists the delivered report on completion.
func WithReportSink(sink ReportSink) Option {
	return func(j *Job) { j.sink = sink }
}

// WithFailAt injects a backend failure on entering the given stage.
// Used by tests and demos to exercise the error path.
func WithFailAt(st stage.Stage) Option {
	return func(j *Job) { j.failAt = st }
}

// Job is one simulated deep research run. Safe for concurrent use.
type Job struct {
	id    string
	query string
	tags  []string
	cfg   config.SimulatorConfig

	bus    *feedbus.Bus
	logger Logger
	sink   ReportSink
	failAt stage.Stage

	mu        sync.Mutex
	snap      *telemetry.Snapshot
	status    telemetry.JobStatus
	failure   *telemetry.JobFailure
	reportID  string
	startedAt time.Time

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// New creates a job for the given research query. The job does not run until
// Run or Start is called.
func New(query string, tags []string, cfg config.SimulatorConfig, opts ...Option) *Job {
	j := &Job{
		id:     "job_" + uuid.New().String()[:12],
		query:  query,
		tags:   tags,
		cfg:    cfg,
		status: telemetry.JobResearching,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	snap := telemetry.NewSnapshot(j.id)
	snap.Tags = append([]string(nil), tags...)
	j.snap = snap
	j.startedAt = snap.StartedAt
	return j
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Query returns the originating research query.
func (j *Job) Query() string { return j.query }

// Tags returns the job's descriptive tags.
func (j *Job) Tags() []string { return append([]string(nil), j.tags...) }

// Status returns the job's current status.
func (j *Job) Status() telemetry.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Failure returns the failure description on error status, nil otherwise.
func (j *Job) Failure() *telemetry.JobFailure {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure
}

// ReportID returns the persisted report's ID once the job completes.
func (j *Job) ReportID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reportID
}

// Snapshot returns a clone of the latest progress snapshot.
func (j *Job) Snapshot() *telemetry.Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.Clone()
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cancellation. It only stops future pipeline steps; already
// published progress stays valid. Safe to call more than once.
func (j *Job) Cancel() {
	j.cancelOnce.Do(func() { close(j.cancel) })
}

// Start runs the job on its own goroutine.
func (j *Job) Start(ctx context.Context) {
	go func() { _ = j.Run(ctx) }()
}

// Run drives the job to a terminal status. It returns nil for complete and
// cancelled runs, and the failure message for error runs.
func (j *Job) Run(ctx context.Context) error {
	tracer := otel.Tracer("riskresearch/simulator")
	ctx, span := tracer.Start(ctx, "research_job")
	span.SetAttributes(
		attribute.String("job.id", j.id),
		attribute.String("job.query", j.query),
	)
	defer span.End()

	observability.RecordJobStarted()
	if j.logger != nil {
		j.logger.Info("job_started", "job_id", j.id, "query", j.query)
	}

	if err := j.runPlan(ctx); err != nil {
		return j.terminate(err)
	}
	if err := j.runResearch(ctx); err != nil {
		return j.terminate(err)
	}
	if err := j.runSynthesis(ctx); err != nil {
		return j.terminate(err)
	}
	if err := j.runDelivery(ctx); err != nil {
		return j.terminate(err)
	}

	j.mutate(func(s *telemetry.Snapshot) {
		s.CompletedStages[stage.StageDelivery] = true
		s.Stage = stage.StageComplete
	})
	observability.RecordStageTransition(string(stage.StageComplete))
	return j.terminate(nil)
}

// =============================================================================
// Stage drivers
// =============================================================================

func (j *Job) runPlan(ctx context.Context) error {
	if err := j.enterStage(ctx, stage.StagePlan); err != nil {
		return err
	}

	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases = []telemetry.Phase{
			{ID: "decompose_query", Label: "Decompose query", Status: telemetry.PhaseActive,
				Detail: fmt.Sprintf("Breaking down: %s", j.query)},
			{ID: "allocate_agents", Label: "Allocate research agents", Status: telemetry.PhasePending},
		}
	})
	if err := j.pause(ctx); err != nil {
		return err
	}

	agents := allocateAgents(j.query, j.cfg)
	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases[0].Status = telemetry.PhaseComplete
		s.Phases[1].Status = telemetry.PhaseActive
		s.Phases[1].Detail = fmt.Sprintf("Allocating %d specialist agents", len(agents))
		s.Agents = agents
	})
	if err := j.pause(ctx); err != nil {
		return err
	}

	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases[1].Status = telemetry.PhaseComplete
	})
	return nil
}

func (j *Job) runResearch(ctx context.Context) error {
	if err := j.enterStage(ctx, stage.StageResearch); err != nil {
		return err
	}

	count := len(j.Snapshot().Agents)
	for i := 0; i < count; i++ {
		now := time.Now().UTC()
		j.mutate(func(s *telemetry.Snapshot) {
			s.Agents[i].Status = telemetry.AgentResearching
			s.Agents[i].StartedAt = &now
		})
		if err := j.pause(ctx); err != nil {
			return err
		}

		j.mu.Lock()
		category := j.snap.Agents[i].Category
		j.mu.Unlock()
		for _, text := range insightsFor(category, j.query) {
			j.mutate(func(s *telemetry.Snapshot) {
				s.Insights = append(s.Insights, telemetry.Insight{
					ID:     "ins_" + uuid.New().String()[:8],
					Text:   text,
					Source: sourceLabelFor(category),
				})
			})
			if err := j.pause(ctx); err != nil {
				return err
			}
		}

		found := sourcesFor(i, j.cfg.SourcesPerAgent)
		unique := found - found/4
		done := time.Now().UTC()
		j.mutate(func(s *telemetry.Snapshot) {
			s.Agents[i].Status = telemetry.AgentComplete
			s.Agents[i].SourcesFound = found
			s.Agents[i].UniqueSources = unique
			s.Agents[i].CompletedAt = &done
			s.TotalSources += unique
		})
		if err := j.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) runSynthesis(ctx context.Context) error {
	if err := j.enterStage(ctx, stage.StageSynthesis); err != nil {
		return err
	}

	sections := sectionTitles(j.query, j.cfg.ReportSections)
	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases = []telemetry.Phase{
			{ID: "write_sections", Label: "Write report sections", Status: telemetry.PhaseActive},
			{ID: "extract_visualizations", Label: "Extract visualizations", Status: telemetry.PhasePending},
		}
		s.Synthesis = &telemetry.Synthesis{TotalSections: len(sections)}
	})

	for _, title := range sections {
		j.mutate(func(s *telemetry.Snapshot) {
			s.Synthesis.CurrentSection = title
		})
		if err := j.pause(ctx); err != nil {
			return err
		}
		j.mutate(func(s *telemetry.Snapshot) {
			s.Synthesis.SectionsComplete++
		})
	}

	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases[0].Status = telemetry.PhaseComplete
		s.Phases[1].Status = telemetry.PhaseActive
		s.Synthesis.CurrentSection = ""
	})
	if err := j.pause(ctx); err != nil {
		return err
	}
	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases[1].Status = telemetry.PhaseComplete
	})
	return nil
}

func (j *Job) runDelivery(ctx context.Context) error {
	if err := j.enterStage(ctx, stage.StageDelivery); err != nil {
		return err
	}

	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases = []telemetry.Phase{
			{ID: "format_report", Label: "Format report", Status: telemetry.PhaseActive,
				Detail: "Formatting final report"},
		}
	})
	if err := j.pause(ctx); err != nil {
		return err
	}

	report := j.buildReport()
	if j.sink != nil {
		if err := j.sink.Save(ctx, report); err != nil {
			if j.logger != nil {
				j.logger.Error("report_save_failed", "job_id", j.id, "error", err)
			}
			return fmt.Errorf("save report: %w", err)
		}
	}
	j.mu.Lock()
	j.reportID = report.ID
	j.mu.Unlock()

	j.mutate(func(s *telemetry.Snapshot) {
		s.Phases[0].Status = telemetry.PhaseComplete
	})
	return nil
}

// =============================================================================
// Machinery
// =============================================================================

// enterStage advances the canonical stage, marking earlier stages complete.
func (j *Job) enterStage(ctx context.Context, st stage.Stage) error {
	if err := j.checkpoint(ctx); err != nil {
		return err
	}
	if j.failAt != "" && j.failAt == st {
		return fmt.Errorf("injected failure at %s stage", st)
	}
	j.mutate(func(s *telemetry.Snapshot) {
		if s.Stage != st {
			for _, earlier := range stage.Order {
				if earlier == st {
					break
				}
				s.CompletedStages[earlier] = true
			}
			s.Stage = st
			s.RawStage = string(st)
			s.Phases = []telemetry.Phase{}
		}
	})
	observability.RecordStageTransition(string(st))
	return nil
}

// mutate applies one mutation to the working snapshot and publishes an
// immutable clone to the feed.
func (j *Job) mutate(fn func(s *telemetry.Snapshot)) {
	j.mu.Lock()
	fn(j.snap)
	j.snap.Sequence++
	clone := j.snap.Clone()
	bus := j.bus
	j.mu.Unlock()

	observability.RecordSnapshot()
	observability.SetJobProgress(j.id, progress.Compute(clone))
	if bus != nil {
		_ = bus.Publish(&feedbus.SnapshotPublished{Snapshot: clone})
	}
}

// pause waits one step delay, honoring cancellation.
func (j *Job) pause(ctx context.Context) error {
	if err := j.checkpoint(ctx); err != nil {
		return err
	}
	if j.cfg.StepDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(j.cfg.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-j.cancel:
		return errCancelled
	case <-timer.C:
		return nil
	}
}

func (j *Job) checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-j.cancel:
		return errCancelled
	default:
		return nil
	}
}

var errCancelled = errors.New("job cancelled")

// terminate records the terminal status, publishes the terminal feed message
// and closes Done. err == nil means complete; errCancelled (or a cancelled
// context) means cancelled; anything else is a backend failure.
func (j *Job) terminate(err error) error {
	j.mu.Lock()
	switch {
	case err == nil:
		j.status = telemetry.JobComplete
	case errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		j.status = telemetry.JobCancelled
		err = nil
	default:
		j.status = telemetry.JobError
		j.failure = &telemetry.JobFailure{Message: err.Error(), Retryable: true}
	}
	status := j.status
	failure := j.failure
	reportID := j.reportID
	bus := j.bus
	started := j.startedAt
	j.mu.Unlock()

	observability.RecordJobTerminal(string(status), int(time.Since(started).Milliseconds()))
	observability.ClearJobProgress(j.id)
	if j.logger != nil {
		j.logger.Info("job_terminal", "job_id", j.id, "status", string(status))
	}
	if bus != nil {
		_ = bus.Publish(&feedbus.JobTerminal{
			Job:      j.id,
			Status:   status,
			Failure:  failure,
			ReportID: reportID,
		})
	}
	close(j.done)
	return err
}
