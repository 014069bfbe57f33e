// Package progress computes the single 0-100 completion percentage for a
// research job from a progress snapshot, using the fixed weighted-stage
// schedule owned by the stage package.
package progress

import (
	"math"

	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Compute returns the completion percentage for the snapshot, in [0, 100].
//
// Each stage owns a fixed band of the bar; completed stages contribute their
// full weight, the current stage contributes its internal fraction of its
// own band. Given the snapshot invariants (stage never regresses, the
// completed-stage set only grows), output across successive snapshots of the
// same job is non-decreasing. Only the complete stage yields exactly 100.
func Compute(snap *telemetry.Snapshot) float64 {
	if snap == nil {
		return 0
	}
	if snap.Stage == stage.StageComplete {
		return 100
	}

	pct := stage.BandFloor(snap.Stage)
	pct += stage.Weight(snap.Stage) * stageFraction(snap)
	// 100 is reserved for the complete stage; a delivery snapshot with every
	// phase done holds just under it until the producer advances the stage.
	if pct >= 100 {
		pct = 99
	}
	return clamp(pct)
}

// ComputeForStatus is Compute with the job status applied on top: a complete
// status yields exactly 100 regardless of the snapshot's stage.
func ComputeForStatus(status telemetry.JobStatus, snap *telemetry.Snapshot) float64 {
	if status == telemetry.JobComplete {
		return 100
	}
	return Compute(snap)
}

// stageFraction returns how far through its own band the current stage is,
// in [0, 1). All division edge cases (no agents yet, no sections yet, no
// phases yet) resolve to 0 rather than an error: the band simply has not
// started filling.
func stageFraction(snap *telemetry.Snapshot) float64 {
	switch snap.Stage {
	case stage.StageResearch:
		if len(snap.Agents) == 0 {
			return 0
		}
		return capped(float64(snap.ResolvedAgents()) / float64(len(snap.Agents)))
	case stage.StageSynthesis:
		if snap.Synthesis == nil || snap.Synthesis.TotalSections <= 0 {
			return 0
		}
		return capped(float64(snap.Synthesis.SectionsComplete) / float64(snap.Synthesis.TotalSections))
	default:
		// plan and delivery progress by their phases.
		total := len(snap.Phases)
		if total == 0 {
			return 0
		}
		done := 0
		for _, p := range snap.Phases {
			if p.Status == telemetry.PhaseComplete {
				done++
			}
		}
		return capped(float64(done) / float64(total))
	}
}

// capped bounds a fraction to [0, 1]: the current stage can fill its band
// up to the ceiling but never spill past it.
func capped(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// =============================================================================
// Monotonic tracker
// =============================================================================

// Tracker holds a per-job high-water mark over Compute so a consumer never
// observes regression even if an out-of-order or malformed snapshot slips
// past the ordering guard. Not safe for concurrent use; each consumer owns
// its own.
type Tracker struct {
	high float64
}

// NewTracker creates a tracker with a zero high-water mark.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe computes the percentage for the snapshot and returns the running
// maximum.
func (t *Tracker) Observe(status telemetry.JobStatus, snap *telemetry.Snapshot) float64 {
	pct := ComputeForStatus(status, snap)
	if pct > t.high {
		t.high = pct
	}
	return t.high
}

// Current returns the high-water mark without observing a new snapshot.
func (t *Tracker) Current() float64 {
	return t.high
}

// Reset clears the high-water mark; used when a job restarts via retry.
func (t *Tracker) Reset() {
	t.high = 0
}
