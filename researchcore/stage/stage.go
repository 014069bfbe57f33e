// Package stage defines the canonical research pipeline stages and the
// normalization of backend-reported stage identifiers onto them.
//
// The pipeline is a fixed, ordered five-stage sequence:
//
//	plan -> research -> synthesis -> delivery -> complete
//
// Backend telemetry (current or legacy vocabulary) may report finer-grained
// or renamed identifiers; this package is the single authority that folds
// them into the canonical values.
package stage

// Stage represents one canonical pipeline stage.
type Stage string

const (
	// StagePlan indicates query decomposition and agent allocation.
	StagePlan Stage = "plan"
	// StageResearch indicates parallel agent research work.
	StageResearch Stage = "research"
	// StageSynthesis indicates report section writing.
	StageSynthesis Stage = "synthesis"
	// StageDelivery indicates report formatting and handoff.
	StageDelivery Stage = "delivery"
	// StageComplete indicates the job has finished.
	StageComplete Stage = "complete"
)

// Order is the canonical stage sequence, earliest first.
var Order = []Stage{
	StagePlan,
	StageResearch,
	StageSynthesis,
	StageDelivery,
	StageComplete,
}

// Index returns the position of the stage in the canonical order,
// or -1 for a non-canonical value.
func (s Stage) Index() int {
	for i, st := range Order {
		if st == s {
			return i
		}
	}
	return -1
}

// IsCanonical returns true if s is one of the five canonical stages.
func (s Stage) IsCanonical() bool {
	return s.Index() >= 0
}

// Before returns true if s precedes other in the canonical order.
// Non-canonical values never precede anything.
func (s Stage) Before(other Stage) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si < oi
}

// AtOrAfter returns true if s is other or a later canonical stage.
func (s Stage) AtOrAfter(other Stage) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si >= oi
}

// IsTerminal returns true if this is the final pipeline stage.
func (s Stage) IsTerminal() bool {
	return s == StageComplete
}

// =============================================================================
// Weight Schedule
// =============================================================================

// Stage weights: each non-terminal stage owns a fixed percentage band of the
// total progress bar. Research carries the largest band since it contains the
// parallel agent work. Weights sum to 100; complete has no band of its own.
var weights = map[Stage]float64{
	StagePlan:      10,
	StageResearch:  60,
	StageSynthesis: 20,
	StageDelivery:  10,
	StageComplete:  0,
}

// Weight returns the percentage band owned by the stage.
func Weight(s Stage) float64 {
	return weights[s]
}

// BandFloor returns the progress percentage at which the stage's band begins,
// i.e. the sum of the weights of all earlier stages.
func BandFloor(s Stage) float64 {
	floor := 0.0
	for _, st := range Order {
		if st == s {
			break
		}
		floor += weights[st]
	}
	return floor
}

// BandCeiling returns the progress percentage at which the stage's band ends.
func BandCeiling(s Stage) float64 {
	return BandFloor(s) + Weight(s)
}
