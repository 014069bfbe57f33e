package stage

import "strings"

// Legacy and variant stage identifiers observed on the wire, folded onto the
// canonical stages. Canonical values map to themselves so normalization is
// idempotent.
var aliases = map[string]Stage{
	// plan
	"plan":           StagePlan,
	"planning":       StagePlan,
	"query_planning": StagePlan,
	"decompose":      StagePlan,
	"decomposition":  StagePlan,
	"init":           StagePlan,
	"initializing":   StagePlan,

	// research
	"research":       StageResearch,
	"researching":    StageResearch,
	"agents":         StageResearch,
	"agent_research": StageResearch,
	"searching":      StageResearch,
	"gathering":      StageResearch,
	"sources":        StageResearch,

	// synthesis
	"synthesis":         StageSynthesis,
	"synthesizing":      StageSynthesis,
	"analyzing":         StageSynthesis,
	"analysis":          StageSynthesis,
	"writing":           StageSynthesis,
	"report_generation": StageSynthesis,

	// delivery
	"delivery":   StageDelivery,
	"delivering": StageDelivery,
	"finalizing": StageDelivery,
	"formatting": StageDelivery,
	"packaging":  StageDelivery,

	// complete
	"complete":  StageComplete,
	"completed": StageComplete,
	"done":      StageComplete,
	"finished":  StageComplete,
}

// Normalize maps a raw backend stage identifier to its canonical stage.
// Matching is case-insensitive and ignores surrounding whitespace. It is a
// pure function of its argument: the same input always yields the same
// result. The second return value reports whether the identifier was
// recognized; unrecognized identifiers return (StagePlan, false) and the
// caller decides the fallback via Resolve.
func Normalize(raw string) (Stage, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := aliases[key]; ok {
		return s, true
	}
	return StagePlan, false
}

// Resolve applies the documented fallback policy for unrecognized stage
// identifiers: retain the previously established canonical stage when one is
// known, otherwise default to plan. This is the single place that policy
// lives; all ingestion paths go through it.
func Resolve(raw string, prev Stage, prevKnown bool) Stage {
	if s, ok := Normalize(raw); ok {
		return s
	}
	if prevKnown && prev.IsCanonical() {
		return prev
	}
	return StagePlan
}
