// Package telemetry defines the progress-snapshot data model for deep
// research jobs and the tolerant decoding of backend wire payloads onto it.
//
// A Snapshot is the full, immutable, point-in-time state of a research job
// as observed by a client. Producers publish fresh snapshots; consumers hold
// them by reference and never mutate them.
package telemetry

import (
	"time"

	"github.com/supplysight/riskresearch/researchcore/stage"
)

// =============================================================================
// Job Status
// =============================================================================

// JobStatus represents the externally observable status of a research job.
// researching is the only non-terminal value; transitions out of it are
// one-way.
type JobStatus string

const (
	// JobResearching indicates the job is running.
	JobResearching JobStatus = "researching"
	// JobComplete indicates the job finished and a report exists.
	JobComplete JobStatus = "complete"
	// JobError indicates the backend reported a failure.
	JobError JobStatus = "error"
	// JobCancelled indicates the user cancelled the job.
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if this is a terminal status.
func (s JobStatus) IsTerminal() bool {
	return s == JobComplete || s == JobError || s == JobCancelled
}

// JobFailure carries the backend's failure description on error status.
type JobFailure struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// =============================================================================
// Phase
// =============================================================================

// PhaseStatus represents the status of a named sub-step within a stage.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseActive   PhaseStatus = "active"
	PhaseComplete PhaseStatus = "complete"
	PhaseError    PhaseStatus = "error"
)

// Phase is a named sub-step belonging to a stage. Multiple phases may exist
// per stage; normally at most one is active at a time, but zero active
// phases is valid (e.g. during a handoff).
type Phase struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Status PhaseStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// =============================================================================
// Agent
// =============================================================================

// AgentStatus represents the lifecycle status of a research agent.
// Agents never transition backward: queued -> researching -> complete|error.
type AgentStatus string

const (
	AgentQueued      AgentStatus = "queued"
	AgentResearching AgentStatus = "researching"
	AgentComplete    AgentStatus = "complete"
	AgentError       AgentStatus = "error"
)

// Resolved returns true once the agent has reached a terminal status.
// Errored agents count as resolved: the job proceeds regardless.
func (s AgentStatus) Resolved() bool {
	return s == AgentComplete || s == AgentError
}

// AgentCategory is the fixed taxonomy of research agent specializations.
type AgentCategory string

const (
	CategoryMarketDynamics AgentCategory = "market_dynamics"
	CategorySupplierScape  AgentCategory = "supplier_landscape"
	CategoryPricingTrends  AgentCategory = "pricing_trends"
	CategoryRiskFactors    AgentCategory = "risk_factors"
	CategoryRegulatory     AgentCategory = "regulatory"
	CategoryCompetitive    AgentCategory = "competitive_intelligence"
	CategoryTechnology     AgentCategory = "technology_trends"
	CategoryGeneral        AgentCategory = "general"
)

// Categories is the full agent taxonomy in display order.
var Categories = []AgentCategory{
	CategoryMarketDynamics,
	CategorySupplierScape,
	CategoryPricingTrends,
	CategoryRiskFactors,
	CategoryRegulatory,
	CategoryCompetitive,
	CategoryTechnology,
	CategoryGeneral,
}

// IsKnownCategory reports whether c belongs to the fixed taxonomy.
func IsKnownCategory(c AgentCategory) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// Agent is a unit of parallel research work, tracked here only as a status
// record; the actual worker runs backend-side.
type Agent struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Category      AgentCategory `json:"category"`
	Status        AgentStatus   `json:"status"`
	Query         string        `json:"query"`
	SourcesFound  int           `json:"sources_found"`
	UniqueSources int           `json:"unique_sources"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// Duration returns how long the agent worked, or zero if timing is unknown.
func (a *Agent) Duration() time.Duration {
	if a.StartedAt == nil || a.CompletedAt == nil {
		return 0
	}
	return a.CompletedAt.Sub(*a.StartedAt)
}

// =============================================================================
// Insight
// =============================================================================

// Insight is a short finding surfaced during research. Insights accumulate
// in arrival order into an append-only stream.
type Insight struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// =============================================================================
// Synthesis
// =============================================================================

// Synthesis tracks report writing progress; present only during/after the
// synthesis stage.
type Synthesis struct {
	TotalSections    int    `json:"total_sections"`
	SectionsComplete int    `json:"sections_complete"`
	CurrentSection   string `json:"current_section,omitempty"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the aggregate, immutable-per-observation value consumed by
// rendering. A later snapshot of the same job never reports an earlier
// canonical stage and its completed-stage set only grows (absent backend
// error); consumers guard against violations rather than trusting it.
type Snapshot struct {
	JobID    string `json:"job_id"`
	Sequence uint64 `json:"seq"`

	Stage           stage.Stage          `json:"stage"`
	RawStage        string               `json:"raw_stage,omitempty"`
	CompletedStages map[stage.Stage]bool `json:"completed_stages,omitempty"`

	Phases    []Phase    `json:"phases"`
	Agents    []Agent    `json:"agents"`
	Insights  []Insight  `json:"insights"`
	Synthesis *Synthesis `json:"synthesis,omitempty"`

	TotalSources int       `json:"total_sources"`
	StartedAt    time.Time `json:"started_at"`
	Tags         []string  `json:"tags,omitempty"`
}

// NewSnapshot creates an empty plan-stage snapshot for a job.
func NewSnapshot(jobID string) *Snapshot {
	return &Snapshot{
		JobID:           jobID,
		Stage:           stage.StagePlan,
		CompletedStages: make(map[stage.Stage]bool),
		Phases:          []Phase{},
		Agents:          []Agent{},
		Insights:        []Insight{},
		StartedAt:       time.Now().UTC(),
	}
}

// StageCompleted returns true if the given stage has completed.
func (s *Snapshot) StageCompleted(st stage.Stage) bool {
	if s.CompletedStages == nil {
		return false
	}
	return s.CompletedStages[st]
}

// ActivePhases returns the phases currently in active status, in order.
func (s *Snapshot) ActivePhases() []Phase {
	var active []Phase
	for _, p := range s.Phases {
		if p.Status == PhaseActive {
			active = append(active, p)
		}
	}
	return active
}

// ResearchingAgents returns the agents currently researching, in order.
func (s *Snapshot) ResearchingAgents() []Agent {
	var out []Agent
	for _, a := range s.Agents {
		if a.Status == AgentResearching {
			out = append(out, a)
		}
	}
	return out
}

// ResolvedAgents returns the count of agents in a terminal status.
func (s *Snapshot) ResolvedAgents() int {
	n := 0
	for _, a := range s.Agents {
		if a.Status.Resolved() {
			n++
		}
	}
	return n
}

// Clone creates a deep copy of the snapshot. Producers publish clones so
// concurrent readers never observe a half-updated value.
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		JobID:        s.JobID,
		Sequence:     s.Sequence,
		Stage:        s.Stage,
		RawStage:     s.RawStage,
		TotalSources: s.TotalSources,
		StartedAt:    s.StartedAt,
	}
	if s.CompletedStages != nil {
		clone.CompletedStages = make(map[stage.Stage]bool, len(s.CompletedStages))
		for k, v := range s.CompletedStages {
			clone.CompletedStages[k] = v
		}
	}
	if s.Phases != nil {
		clone.Phases = make([]Phase, len(s.Phases))
		copy(clone.Phases, s.Phases)
	}
	if s.Agents != nil {
		clone.Agents = make([]Agent, len(s.Agents))
		for i, a := range s.Agents {
			clone.Agents[i] = a
			if a.StartedAt != nil {
				t := *a.StartedAt
				clone.Agents[i].StartedAt = &t
			}
			if a.CompletedAt != nil {
				t := *a.CompletedAt
				clone.Agents[i].CompletedAt = &t
			}
		}
	}
	if s.Insights != nil {
		clone.Insights = make([]Insight, len(s.Insights))
		copy(clone.Insights, s.Insights)
	}
	if s.Synthesis != nil {
		syn := *s.Synthesis
		clone.Synthesis = &syn
	}
	if s.Tags != nil {
		clone.Tags = make([]string, len(s.Tags))
		copy(clone.Tags, s.Tags)
	}
	return clone
}
