package telemetry

import (
	"encoding/json"
	"time"

	"github.com/supplysight/riskresearch/researchcore/stage"
)

// Wire payloads arrive in two shapes:
//
//   - current: {stage, phases[], agents[], insights[], synthesis{},
//     total_sources, started_at, tags[], seq}
//   - legacy:  {stage, processing_steps[{step,label,status,detail}],
//     sources_count, started}
//
// The variant is detected here, at the ingestion boundary, and both are
// normalized immediately into the single Snapshot shape; neither leaks
// downstream. Missing or malformed fields default to empty/zero; decoding
// never fails on content.

// DecodeJSON decodes one wire observation. prev is the previously held
// snapshot for the same job (nil for the first observation); it supplies the
// fallback stage for unrecognized identifiers and the job identity when the
// payload omits one.
func DecodeJSON(data []byte, prev *Snapshot) *Snapshot {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		if prev != nil {
			return prev.Clone()
		}
		return NewSnapshot("")
	}
	return Decode(raw, prev)
}

// Decode normalizes one already-unmarshaled wire observation into a
// Snapshot. See DecodeJSON.
func Decode(raw map[string]any, prev *Snapshot) *Snapshot {
	if raw == nil {
		if prev != nil {
			return prev.Clone()
		}
		return NewSnapshot("")
	}

	snap := NewSnapshot(asStringDefault(raw["job_id"], prevJobID(prev)))

	rawStage := asStringDefault(raw["stage"], "")
	prevStage, prevKnown := stage.StagePlan, false
	if prev != nil {
		prevStage, prevKnown = prev.Stage, true
	}
	snap.RawStage = rawStage
	snap.Stage = stage.Resolve(rawStage, prevStage, prevKnown)

	snap.Sequence = uint64(asIntDefault(raw["seq"], nextSequence(prev)))
	snap.TotalSources = asIntDefault(raw["total_sources"], asIntDefault(raw["sources_count"], 0))
	snap.Tags = asStringSlice(raw["tags"])

	if t, ok := asTime(raw["started_at"]); ok {
		snap.StartedAt = t
	} else if t, ok := asTime(raw["started"]); ok {
		snap.StartedAt = t
	} else if prev != nil {
		snap.StartedAt = prev.StartedAt
	}

	if steps, ok := raw["processing_steps"]; ok {
		// Legacy shape: flat processing steps become phases; no agent,
		// insight, or synthesis detail exists on this variant.
		snap.Phases = decodeLegacySteps(steps)
	} else {
		snap.Phases = decodePhases(raw["phases"])
		snap.Agents = decodeAgents(raw["agents"])
		snap.Insights = decodeInsights(raw["insights"])
		snap.Synthesis = decodeSynthesis(raw["synthesis"])
	}

	snap.CompletedStages = decodeCompletedStages(raw["completed_stages"], prev)
	// A reported stage implies every earlier stage has completed.
	for _, st := range stage.Order {
		if st == snap.Stage {
			break
		}
		snap.CompletedStages[st] = true
	}

	return snap
}

func prevJobID(prev *Snapshot) string {
	if prev == nil {
		return ""
	}
	return prev.JobID
}

func nextSequence(prev *Snapshot) int {
	if prev == nil {
		return 0
	}
	return int(prev.Sequence) + 1
}

func decodePhases(v any) []Phase {
	items, ok := asSlice(v)
	if !ok {
		return []Phase{}
	}
	phases := make([]Phase, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		phases = append(phases, Phase{
			ID:     asStringDefault(m["id"], ""),
			Label:  asStringDefault(m["label"], asStringDefault(m["id"], "")),
			Status: phaseStatus(asStringDefault(m["status"], "")),
			Detail: asStringDefault(m["detail"], ""),
		})
	}
	return phases
}

func decodeLegacySteps(v any) []Phase {
	items, ok := asSlice(v)
	if !ok {
		return []Phase{}
	}
	phases := make([]Phase, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		phases = append(phases, Phase{
			ID:     asStringDefault(m["step"], ""),
			Label:  asStringDefault(m["label"], asStringDefault(m["step"], "")),
			Status: phaseStatus(asStringDefault(m["status"], "")),
			Detail: asStringDefault(m["detail"], ""),
		})
	}
	return phases
}

func decodeAgents(v any) []Agent {
	items, ok := asSlice(v)
	if !ok {
		return []Agent{}
	}
	agents := make([]Agent, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		agent := Agent{
			ID:            asStringDefault(m["id"], ""),
			Name:          asStringDefault(m["name"], ""),
			Category:      agentCategory(asStringDefault(m["category"], "")),
			Status:        agentStatus(asStringDefault(m["status"], "")),
			Query:         asStringDefault(m["query"], ""),
			SourcesFound:  asIntDefault(m["sources_found"], 0),
			UniqueSources: asIntDefault(m["unique_sources"], 0),
		}
		if t, ok := asTime(m["started_at"]); ok {
			agent.StartedAt = &t
		}
		if t, ok := asTime(m["completed_at"]); ok {
			agent.CompletedAt = &t
		}
		agents = append(agents, agent)
	}
	return agents
}

func decodeInsights(v any) []Insight {
	items, ok := asSlice(v)
	if !ok {
		return []Insight{}
	}
	insights := make([]Insight, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		insights = append(insights, Insight{
			ID:     asStringDefault(m["id"], ""),
			Text:   asStringDefault(m["text"], ""),
			Source: asStringDefault(m["source"], ""),
		})
	}
	return insights
}

func decodeSynthesis(v any) *Synthesis {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return &Synthesis{
		TotalSections:    asIntDefault(m["total_sections"], 0),
		SectionsComplete: asIntDefault(m["sections_complete"], 0),
		CurrentSection:   asStringDefault(m["current_section"], ""),
	}
}

func decodeCompletedStages(v any, prev *Snapshot) map[stage.Stage]bool {
	completed := make(map[stage.Stage]bool)
	// The completed set only grows: start from what was already established.
	if prev != nil {
		for st, done := range prev.CompletedStages {
			if done {
				completed[st] = true
			}
		}
	}
	// Current payloads send a list of stage names; roundtripped snapshots
	// carry a stage -> bool map. Accept both.
	if items, ok := asSlice(v); ok {
		for _, item := range items {
			if s, ok := asString(item); ok {
				if st, ok := stage.Normalize(s); ok {
					completed[st] = true
				}
			}
		}
	} else if m, ok := asMap(v); ok {
		for name, val := range m {
			if done, ok := val.(bool); ok && done {
				if st, ok := stage.Normalize(name); ok {
					completed[st] = true
				}
			}
		}
	}
	return completed
}

func phaseStatus(s string) PhaseStatus {
	switch PhaseStatus(s) {
	case PhaseActive, PhaseComplete, PhaseError:
		return PhaseStatus(s)
	default:
		return PhasePending
	}
}

func agentStatus(s string) AgentStatus {
	switch AgentStatus(s) {
	case AgentResearching, AgentComplete, AgentError:
		return AgentStatus(s)
	default:
		return AgentQueued
	}
}

func agentCategory(s string) AgentCategory {
	if c := AgentCategory(s); IsKnownCategory(c) {
		return c
	}
	return CategoryGeneral
}

// =============================================================================
// Safe assertion helpers
// =============================================================================

// Wire payloads are untyped JSON; every access goes through the comma-ok
// helpers below so a malformed field degrades to its default instead of
// panicking.

func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func asStringDefault(v any, def string) string {
	if s, ok := asString(v); ok {
		return s
	}
	return def
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asIntDefault(v any, def int) int {
	if i, ok := asInt(v); ok {
		return i
	}
	return def
}

func asStringSlice(v any) []string {
	items, ok := asSlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := asString(item); ok {
			out = append(out, s)
		}
	}
	return out
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	case float64:
		// Unix epoch seconds, common on the legacy shape.
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
