// Package feedbus provides the in-memory telemetry feed bus.
//
// The simulator (or any other telemetry producer) publishes job messages to
// the bus; consumers - HTTP event streams, command centers, metrics - hold
// per-job subscriptions. Delivery to each subscriber preserves publish
// order, which snapshot consumers rely on.
package feedbus

import (
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Kind identifies the message type on the feed.
type Kind string

const (
	// KindSnapshot is a fresh progress observation for a running job.
	KindSnapshot Kind = "snapshot"
	// KindTerminal announces that a job reached a terminal status.
	KindTerminal Kind = "terminal"
)

// Message is one feed entry for a job.
type Message interface {
	JobID() string
	Kind() Kind
}

// SnapshotPublished carries one immutable progress observation. The snapshot
// is a clone owned by the bus consumers; producers never mutate it after
// publishing.
type SnapshotPublished struct {
	Snapshot *telemetry.Snapshot `json:"snapshot"`
}

// JobID implements the Message interface.
func (m *SnapshotPublished) JobID() string {
	if m.Snapshot == nil {
		return ""
	}
	return m.Snapshot.JobID
}

// Kind implements the Message interface.
func (m *SnapshotPublished) Kind() Kind { return KindSnapshot }

// JobTerminal announces the terminal status of a job. Failure is set only
// for error status; ReportID only for complete.
type JobTerminal struct {
	Job      string                `json:"job_id"`
	Status   telemetry.JobStatus   `json:"status"`
	Failure  *telemetry.JobFailure `json:"failure,omitempty"`
	ReportID string                `json:"report_id,omitempty"`
}

// JobID implements the Message interface.
func (m *JobTerminal) JobID() string { return m.Job }

// Kind implements the Message interface.
func (m *JobTerminal) Kind() Kind { return KindTerminal }
