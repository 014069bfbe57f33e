package simulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/supplysight/riskresearch/researchcore/config"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

// Agent allocation is deterministic in the query so repeated runs of the
// same research question produce the same plan, which keeps demos and tests
// stable without a seeded random source.

var categoryNames = map[telemetry.AgentCategory]string{
	telemetry.CategoryMarketDynamics: "Market Dynamics Analyst",
	telemetry.CategorySupplierScape:  "Supplier Landscape Scout",
	telemetry.CategoryPricingTrends:  "Pricing Trends Analyst",
	telemetry.CategoryRiskFactors:    "Risk Factor Assessor",
	telemetry.CategoryRegulatory:     "Regulatory Monitor",
	telemetry.CategoryCompetitive:    "Competitive Intelligence Agent",
	telemetry.CategoryTechnology:     "Technology Trends Scout",
	telemetry.CategoryGeneral:        "General Researcher",
}

var categoryKeywords = map[telemetry.AgentCategory][]string{
	telemetry.CategoryMarketDynamics: {"market", "demand", "capacity"},
	telemetry.CategorySupplierScape:  {"supplier", "vendor", "manufacturer"},
	telemetry.CategoryPricingTrends:  {"price", "pricing", "cost", "spend"},
	telemetry.CategoryRiskFactors:    {"risk", "disruption", "exposure"},
	telemetry.CategoryRegulatory:     {"regulat", "compliance", "tariff", "sanction"},
	telemetry.CategoryCompetitive:    {"compet", "rival", "benchmark"},
	telemetry.CategoryTechnology:     {"tech", "innovation", "automation"},
}

// allocateAgents picks the agent roster for a query: keyword-matched
// categories first, the rest of the taxonomy in display order to fill up to
// the configured count.
func allocateAgents(query string, cfg config.SimulatorConfig) []telemetry.Agent {
	count := cfg.MinAgents
	if span := cfg.MaxAgents - cfg.MinAgents; span > 0 {
		count += len(query) % (span + 1)
	}

	lower := strings.ToLower(query)
	picked := make([]telemetry.AgentCategory, 0, count)
	seen := make(map[telemetry.AgentCategory]bool)

	for _, cat := range telemetry.Categories {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				if !seen[cat] {
					picked = append(picked, cat)
					seen[cat] = true
				}
				break
			}
		}
	}
	for _, cat := range telemetry.Categories {
		if len(picked) >= count {
			break
		}
		if !seen[cat] {
			picked = append(picked, cat)
			seen[cat] = true
		}
	}
	if len(picked) > count {
		picked = picked[:count]
	}

	agents := make([]telemetry.Agent, len(picked))
	for i, cat := range picked {
		agents[i] = telemetry.Agent{
			ID:       "agt_" + uuid.New().String()[:8],
			Name:     categoryNames[cat],
			Category: cat,
			Status:   telemetry.AgentQueued,
			Query:    fmt.Sprintf("%s for %q", categoryNames[cat], query),
		}
	}
	return agents
}

// sourcesFor returns the deterministic source count for the i-th agent.
func sourcesFor(i, perAgentCap int) int {
	found := 5 + i*3
	if found > perAgentCap {
		found = perAgentCap
	}
	if found < 1 {
		found = 1
	}
	return found
}

var insightTemplates = map[telemetry.AgentCategory][]string{
	telemetry.CategoryMarketDynamics: {
		"Demand for %s is shifting toward dual-sourcing arrangements",
		"Capacity utilization in the %s segment is above its five-year average",
	},
	telemetry.CategorySupplierScape: {
		"Three tier-2 suppliers dominate the %s supply base",
		"New entrants in %s are concentrated in Southeast Asia",
	},
	telemetry.CategoryPricingTrends: {
		"Spot prices related to %s rose quarter over quarter",
		"Contract pricing for %s is decoupling from index benchmarks",
	},
	telemetry.CategoryRiskFactors: {
		"Single-source exposure identified in the %s category",
		"Logistics lead times for %s remain volatile",
	},
	telemetry.CategoryRegulatory: {
		"Pending tariff changes may affect %s sourcing costs",
		"New compliance reporting applies to %s suppliers from next year",
	},
	telemetry.CategoryCompetitive: {
		"Competitors are locking multi-year agreements covering %s",
	},
	telemetry.CategoryTechnology: {
		"Process automation is reducing unit costs across %s production",
	},
	telemetry.CategoryGeneral: {
		"Aggregated findings for %s cross-checked against prior reports",
	},
}

var sourceLabels = map[telemetry.AgentCategory]string{
	telemetry.CategoryMarketDynamics: "Market Watch",
	telemetry.CategorySupplierScape:  "Supplier Registry",
	telemetry.CategoryPricingTrends:  "Price Index",
	telemetry.CategoryRiskFactors:    "Risk Monitor",
	telemetry.CategoryRegulatory:     "Regulatory Digest",
	telemetry.CategoryCompetitive:    "Competitor Brief",
	telemetry.CategoryTechnology:     "Tech Radar",
	telemetry.CategoryGeneral:        "",
}

// insightsFor renders the canned insight texts for a category.
func insightsFor(cat telemetry.AgentCategory, query string) []string {
	templates := insightTemplates[cat]
	out := make([]string, len(templates))
	for i, tpl := range templates {
		out[i] = fmt.Sprintf(tpl, query)
	}
	return out
}

func sourceLabelFor(cat telemetry.AgentCategory) string {
	return sourceLabels[cat]
}

// sectionTitles returns the synthesis section plan for a report.
func sectionTitles(query string, n int) []string {
	base := []string{
		"Executive Summary",
		"Market Overview",
		"Supplier Risk Assessment",
		"Pricing and Spend Analysis",
		"Recommendations",
		"Regulatory Outlook",
		"Competitive Positioning",
		"Appendix: Sources",
	}
	if n > len(base) {
		n = len(base)
	}
	if n <= 0 {
		n = 1
	}
	titles := make([]string, n)
	copy(titles, base[:n])
	return titles
}

// buildReport assembles the delivered report artifact from the final
// snapshot state.
func (j *Job) buildReport() *reportstore.Report {
	j.mu.Lock()
	snap := j.snap.Clone()
	j.mu.Unlock()

	var b strings.Builder
	title := fmt.Sprintf("Supplier Risk Research: %s", j.query)
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_%d unique sources - %d research agents_\n\n", snap.TotalSources, len(snap.Agents))

	sections := sectionTitles(j.query, j.cfg.ReportSections)
	for _, section := range sections {
		fmt.Fprintf(&b, "## %s\n\n", section)
	}

	if len(snap.Insights) > 0 {
		b.WriteString("## Key Findings\n\n")
		for _, in := range snap.Insights {
			if in.Source != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", in.Text, in.Source)
			} else {
				fmt.Fprintf(&b, "- %s\n", in.Text)
			}
		}
	}

	return &reportstore.Report{
		ID:            "rpt_" + uuid.New().String()[:12],
		JobID:         j.id,
		Title:         title,
		Markdown:      b.String(),
		Sections:      len(sections),
		UniqueSources: snap.TotalSources,
		CreatedAt:     time.Now().UTC(),
	}
}
