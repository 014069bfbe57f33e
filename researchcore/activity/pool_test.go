package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplysight/riskresearch/researchcore/stage"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

func researchSnapshot() *telemetry.Snapshot {
	snap := telemetry.NewSnapshot("job_pool")
	snap.Stage = stage.StageResearch
	snap.Phases = []telemetry.Phase{
		{ID: "gather", Status: telemetry.PhaseActive, Detail: "Collecting supplier filings"},
		{ID: "done_one", Status: telemetry.PhaseComplete, Detail: "not shown"},
	}
	snap.Agents = []telemetry.Agent{
		{ID: "a1", Name: "Market Dynamics Analyst", Status: telemetry.AgentResearching},
		{ID: "a2", Name: "Risk Factor Analyst", Status: telemetry.AgentComplete},
	}
	snap.Insights = []telemetry.Insight{
		{ID: "i1", Text: "Capacity tightening in Q3", Source: "Market Dynamics"},
	}
	snap.TotalSources = 17
	return snap
}

// =============================================================================
// POOL COMPOSITION
// =============================================================================

func TestPool_ResearchStageOrdering(t *testing.T) {
	pool := Pool(researchSnapshot())

	require.Equal(t, []string{
		"Collecting supplier filings",
		"Researching: Market Dynamics Analyst",
		"Market Dynamics: Capacity tightening in Q3",
		"17 unique sources collected",
	}, pool)
}

func TestPool_InsightsNewestFirstCapped(t *testing.T) {
	snap := telemetry.NewSnapshot("job_pool")
	snap.Stage = stage.StageResearch
	for _, text := range []string{"one", "two", "three", "four", "five", "six", "seven"} {
		snap.Insights = append(snap.Insights, telemetry.Insight{Text: text})
	}

	pool := Pool(snap)
	require.Len(t, pool, 5)
	assert.Equal(t, []string{"seven", "six", "five", "four", "three"}, pool)
}

func TestPool_SynthesisEntries(t *testing.T) {
	snap := telemetry.NewSnapshot("job_pool")
	snap.Stage = stage.StageSynthesis
	snap.Synthesis = &telemetry.Synthesis{
		TotalSections:    5,
		SectionsComplete: 2,
		CurrentSection:   "Supplier Landscape",
	}
	snap.Phases = []telemetry.Phase{
		{ID: "extract_visualizations", Label: "Extracting visuals", Status: telemetry.PhaseActive},
	}
	snap.TotalSources = 9

	pool := Pool(snap)
	assert.Contains(t, pool, "Writing: Supplier Landscape")
	assert.Contains(t, pool, "Extracting charts and visuals")
	assert.Contains(t, pool, "9 unique sources collected")
}

func TestPool_VisualizationLineOnlyDuringSynthesis(t *testing.T) {
	snap := telemetry.NewSnapshot("job_pool")
	snap.Stage = stage.StageResearch
	snap.Phases = []telemetry.Phase{
		{ID: "extract_visualizations", Status: telemetry.PhaseComplete},
	}
	assert.NotContains(t, Pool(snap), visualizationStatus)

	snap.Stage = stage.StageSynthesis
	assert.Contains(t, Pool(snap), visualizationStatus)

	// A pending visualization phase does not surface the line.
	snap.Phases[0].Status = telemetry.PhasePending
	assert.NotContains(t, Pool(snap), visualizationStatus)
}

func TestPool_EmptySnapshot(t *testing.T) {
	assert.Empty(t, Pool(telemetry.NewSnapshot("job_pool")))
	assert.Nil(t, Pool(nil))
}

func TestDefaultSubtitle(t *testing.T) {
	assert.Equal(t, "Planning research approach...", DefaultSubtitle(stage.StagePlan))
	assert.Equal(t, "Researching suppliers...", DefaultSubtitle(stage.StageResearch))
	assert.Equal(t, "Synthesizing findings...", DefaultSubtitle(stage.StageSynthesis))
	assert.Equal(t, "Preparing report...", DefaultSubtitle(stage.StageDelivery))
	assert.Equal(t, "Research complete", DefaultSubtitle(stage.StageComplete))
	assert.Equal(t, "Planning research approach...", DefaultSubtitle("nonsense"))
}
