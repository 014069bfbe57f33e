// Package activity derives the single human-readable "what is happening
// right now" line for a research job and cycles through the candidate
// messages on a fixed timer.
package activity

import (
	"fmt"
	"strings"

	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// insightCap bounds how many recent insights enter the pool.
const insightCap = 5

// visualizationStatus is the fixed line shown while the visualization
// extraction sub-step of synthesis is active or done.
const visualizationStatus = "Extracting charts and visuals"

// Default subtitles shown when a snapshot yields no candidate messages.
var defaultSubtitles = map[stage.Stage]string{
	stage.StagePlan:      "Planning research approach...",
	stage.StageResearch:  "Researching suppliers...",
	stage.StageSynthesis: "Synthesizing findings...",
	stage.StageDelivery:  "Preparing report...",
	stage.StageComplete:  "Research complete",
}

// DefaultSubtitle returns the fixed fallback line for a stage.
func DefaultSubtitle(st stage.Stage) string {
	if s, ok := defaultSubtitles[st]; ok {
		return s
	}
	return defaultSubtitles[stage.StagePlan]
}

// Pool assembles the candidate message pool fresh from the snapshot. The
// pool is ordered but not ranked; the cycling mechanism rotates through all
// entries. Never empty-handed: callers fall back to DefaultSubtitle when the
// returned pool has no entries.
func Pool(snap *telemetry.Snapshot) []string {
	if snap == nil {
		return nil
	}
	var pool []string

	for _, p := range snap.ActivePhases() {
		if p.Detail != "" {
			pool = append(pool, p.Detail)
		}
	}

	for _, a := range snap.ResearchingAgents() {
		if a.Name != "" {
			pool = append(pool, fmt.Sprintf("Researching: %s", a.Name))
		}
	}

	// Most recent insights, newest first.
	for i, n := len(snap.Insights)-1, 0; i >= 0 && n < insightCap; i, n = i-1, n+1 {
		in := snap.Insights[i]
		if in.Text == "" {
			continue
		}
		if in.Source != "" {
			pool = append(pool, fmt.Sprintf("%s: %s", in.Source, in.Text))
		} else {
			pool = append(pool, in.Text)
		}
	}

	if snap.Stage == stage.StageSynthesis {
		if snap.Synthesis != nil && snap.Synthesis.CurrentSection != "" {
			pool = append(pool, fmt.Sprintf("Writing: %s", snap.Synthesis.CurrentSection))
		}
		if hasVisualizationPhase(snap.Phases) {
			pool = append(pool, visualizationStatus)
		}
	}

	if snap.TotalSources > 0 {
		pool = append(pool, fmt.Sprintf("%d unique sources collected", snap.TotalSources))
	}

	return pool
}

func hasVisualizationPhase(phases []telemetry.Phase) bool {
	for _, p := range phases {
		if p.Status != telemetry.PhaseActive && p.Status != telemetry.PhaseComplete {
			continue
		}
		id := strings.ToLower(p.ID)
		if strings.Contains(id, "visual") || strings.Contains(strings.ToLower(p.Label), "visual") {
			return true
		}
	}
	return false
}
