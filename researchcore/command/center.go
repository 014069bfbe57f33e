// Package command implements the command-center view model for a deep
// research job: it consumes progress snapshots, holds the externally
// observable status, and exposes the cancel, retry and view-report intents.
//
// Status transitions are one-way:
//
//	researching -> complete | error | cancelled
//
// No transition leaves a terminal status except an explicit Retry, which
// restarts the job and resets to a fresh researching state.
package command

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supplysight/riskresearch/researchcore/activity"
	"github.com/supplysight/riskresearch/researchcore/progress"
	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

var (
	// ErrNotResearching is returned when cancel is requested from a
	// terminal status.
	ErrNotResearching = errors.New("job is not researching")
	// ErrNotRetryable is returned when retry is requested from a status
	// other than error or cancelled.
	ErrNotRetryable = errors.New("job is not in a retryable status")
	// ErrNotComplete is returned when the report is requested before the
	// job completes.
	ErrNotComplete = errors.New("job is not complete")
	// ErrIntentInFlight is returned when an intent is re-triggered while a
	// previous invocation is still awaiting acknowledgement.
	ErrIntentInFlight = errors.New("intent already in flight")
)

// CancelTransport notifies the backend that a job should stop.
type CancelTransport interface {
	CancelJob(ctx context.Context, jobID string) error
}

// RetryTransport restarts the underlying job and returns the new job ID
// (which may equal the old one when the backend restarts in place).
type RetryTransport interface {
	RetryJob(ctx context.Context, jobID string) (string, error)
}

// ReportOpener surfaces the finished report artifact to the caller.
type ReportOpener interface {
	OpenReport(ctx context.Context, jobID string) error
}

// Deps are the external collaborators of a Center. Each intent calls exactly
// one of them, at most once per user action. Nil collaborators make the
// corresponding intent a local-only transition.
type Deps struct {
	Cancel  CancelTransport
	Retry   RetryTransport
	Reports ReportOpener

	// CycleInterval overrides the activity cycling period; zero means the
	// default.
	CycleInterval time.Duration
}

// Center is the orchestrating view model. Safe for concurrent use.
type Center struct {
	deps Deps

	mu       sync.Mutex
	jobID    string
	status   telemetry.JobStatus
	snap     *telemetry.Snapshot
	failure  *telemetry.JobFailure
	tracker  *progress.Tracker
	inFlight bool

	// The cycling timer is an owned resource: started on entering
	// researching, stopped on leaving it. Never a package-level singleton.
	cycler    *activity.Cycler
	cycleStop context.CancelFunc
}

// NewCenter creates a command center for a job in researching status and
// starts its activity cycling timer.
func NewCenter(jobID string, deps Deps) *Center {
	c := &Center{
		deps:    deps,
		jobID:   jobID,
		status:  telemetry.JobResearching,
		tracker: progress.NewTracker(),
	}
	c.startCycler()
	return c
}

// must be called with c.mu NOT held
func (c *Center) startCycler() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCyclerLocked()
}

func (c *Center) startCyclerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cycleStop = cancel
	c.cycler = activity.NewCycler(c.Snapshot, c.deps.CycleInterval)
	go c.cycler.Run(ctx)
}

func (c *Center) stopCyclerLocked() {
	if c.cycleStop != nil {
		c.cycleStop()
		c.cycleStop = nil
	}
	if c.cycler != nil {
		c.cycler.Stop()
	}
}

// =============================================================================
// Snapshot intake
// =============================================================================

// Apply consumes one progress snapshot. It returns true if the snapshot was
// accepted. Snapshots are ignored while in a terminal status, and a snapshot
// reporting an earlier canonical stage or a stale sequence than the held one
// is dropped: the model assumes well-ordered input but does not trust it
// blindly.
func (c *Center) Apply(snap *telemetry.Snapshot) bool {
	if snap == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.IsTerminal() {
		return false
	}
	if c.snap != nil {
		if snap.Stage.Before(c.snap.Stage) {
			return false
		}
		if snap.Sequence != 0 && snap.Sequence <= c.snap.Sequence {
			return false
		}
	}

	c.snap = snap
	c.tracker.Observe(c.status, snap)

	if snap.Stage.IsTerminal() {
		c.status = telemetry.JobComplete
		c.tracker.Observe(c.status, snap)
		c.stopCyclerLocked()
	}
	return true
}

// MarkComplete records backend-declared completion. The last snapshot is
// retained so the completed view can report final counts.
func (c *Center) MarkComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsTerminal() {
		return
	}
	c.status = telemetry.JobComplete
	c.tracker.Observe(c.status, c.snap)
	c.stopCyclerLocked()
}

// MarkError records a backend-reported failure. Telemetry observed so far is
// retained so the failure view can report partial progress.
func (c *Center) MarkError(failure telemetry.JobFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsTerminal() {
		return
	}
	c.status = telemetry.JobError
	c.failure = &failure
	c.stopCyclerLocked()
}

// MarkCancelled records a backend-acknowledged cancellation that did not
// originate from this center's Cancel intent. The last snapshot is retained.
func (c *Center) MarkCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsTerminal() {
		return
	}
	c.status = telemetry.JobCancelled
	c.stopCyclerLocked()
}

// =============================================================================
// Intents
// =============================================================================

// Cancel notifies the backend and, once acknowledged, moves the job to
// cancelled. Valid only while researching. The last snapshot is retained for
// the partial-findings summary. At most one transport call per user action.
func (c *Center) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.status != telemetry.JobResearching {
		c.mu.Unlock()
		return ErrNotResearching
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrIntentInFlight
	}
	c.inFlight = true
	jobID := c.jobID
	transport := c.deps.Cancel
	c.mu.Unlock()

	var err error
	if transport != nil {
		err = transport.CancelJob(ctx, jobID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		return err
	}
	if c.status != telemetry.JobResearching {
		// Terminal state arrived while the cancel was in flight; keep it.
		return nil
	}
	c.status = telemetry.JobCancelled
	c.stopCyclerLocked()
	return nil
}

// Retry restarts the underlying job. Valid only from error or cancelled.
// Local state resets to a fresh researching snapshot and the cycling timer
// restarts.
func (c *Center) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.status != telemetry.JobError && c.status != telemetry.JobCancelled {
		c.mu.Unlock()
		return ErrNotRetryable
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrIntentInFlight
	}
	c.inFlight = true
	jobID := c.jobID
	transport := c.deps.Retry
	c.mu.Unlock()

	newID := jobID
	var err error
	if transport != nil {
		newID, err = transport.RetryJob(ctx, jobID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		return err
	}
	c.jobID = newID
	c.status = telemetry.JobResearching
	c.snap = nil
	c.failure = nil
	c.tracker.Reset()
	c.startCyclerLocked()
	return nil
}

// ViewReport surfaces the finished report through the report opener. Valid
// only from complete.
func (c *Center) ViewReport(ctx context.Context) error {
	c.mu.Lock()
	if c.status != telemetry.JobComplete {
		c.mu.Unlock()
		return ErrNotComplete
	}
	jobID := c.jobID
	opener := c.deps.Reports
	c.mu.Unlock()

	if opener == nil {
		return nil
	}
	return opener.OpenReport(ctx, jobID)
}

// Close stops the owned cycling timer. The center is unusable afterwards.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCyclerLocked()
}

// =============================================================================
// Accessors
// =============================================================================

// JobID returns the current job identifier (it changes after Retry when the
// backend issues a new one).
func (c *Center) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// Status returns the externally observable job status.
func (c *Center) Status() telemetry.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Progress returns the monotonic completion percentage.
func (c *Center) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Observe(c.status, c.snap)
}

// Snapshot returns the last observed snapshot, which is retained across
// error and cancellation for partial-findings views. Callers must treat it
// as read-only.
func (c *Center) Snapshot() *telemetry.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Failure returns the backend failure on error status, nil otherwise.
func (c *Center) Failure() *telemetry.JobFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Activity returns the current activity line without advancing the cycle.
func (c *Center) Activity() string {
	c.mu.Lock()
	cycler := c.cycler
	c.mu.Unlock()
	if cycler == nil {
		return activity.DefaultSubtitle(stage.StagePlan)
	}
	return cycler.Current()
}

// ActivityFeed returns the channel the owned cycling timer emits on. The
// channel identity changes after Retry; re-acquire it after restarting.
func (c *Center) ActivityFeed() <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycler == nil {
		return nil
	}
	return c.cycler.Messages()
}
