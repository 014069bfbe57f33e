// Package config provides engine and service configuration for riskresearch.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`

	// DatabasePath is the SQLite report archive location.
	DatabasePath string `json:"database_path" mapstructure:"database_path"`

	// OTLPEndpoint enables OpenTelemetry tracing when non-empty.
	OTLPEndpoint string `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`

	// CycleInterval is the activity message cycling period.
	CycleInterval time.Duration `json:"cycle_interval" mapstructure:"cycle_interval"`

	// SnapshotBuffer is the per-subscriber feed channel depth.
	SnapshotBuffer int `json:"snapshot_buffer" mapstructure:"snapshot_buffer"`

	Simulator SimulatorConfig `json:"simulator" mapstructure:"simulator"`
}

// SimulatorConfig controls the pacing and shape of simulated research jobs.
type SimulatorConfig struct {
	// StepDelay is the pause between pipeline mutations. Zero runs the job
	// to completion without pausing (used by tests and `run`).
	StepDelay time.Duration `json:"step_delay" mapstructure:"step_delay"`

	// MinAgents and MaxAgents bound how many research agents the plan stage
	// allocates per job.
	MinAgents int `json:"min_agents" mapstructure:"min_agents"`
	MaxAgents int `json:"max_agents" mapstructure:"max_agents"`

	// ReportSections is the number of synthesis sections per report.
	ReportSections int `json:"report_sections" mapstructure:"report_sections"`

	// SourcesPerAgent caps the sources a single agent reports.
	SourcesPerAgent int `json:"sources_per_agent" mapstructure:"sources_per_agent"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8600",
		DatabasePath:   "riskresearch.db",
		CycleInterval:  3 * time.Second,
		SnapshotBuffer: 64,
		Simulator: SimulatorConfig{
			StepDelay:       400 * time.Millisecond,
			MinAgents:       3,
			MaxAgents:       6,
			ReportSections:  5,
			SourcesPerAgent: 12,
		},
	}
}

// Validate checks the configuration and fills defaulted fields in place.
func (c *Config) Validate() error {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = def.CycleInterval
	}
	if c.SnapshotBuffer <= 0 {
		c.SnapshotBuffer = def.SnapshotBuffer
	}
	return c.Simulator.Validate()
}

// Validate checks the simulator configuration and fills defaults in place.
func (c *SimulatorConfig) Validate() error {
	def := Default().Simulator
	if c.StepDelay < 0 {
		return fmt.Errorf("simulator step_delay must be >= 0, got %s", c.StepDelay)
	}
	if c.MinAgents <= 0 {
		c.MinAgents = def.MinAgents
	}
	if c.MaxAgents <= 0 {
		c.MaxAgents = def.MaxAgents
	}
	if c.MaxAgents < c.MinAgents {
		return fmt.Errorf("simulator max_agents %d < min_agents %d", c.MaxAgents, c.MinAgents)
	}
	if c.ReportSections <= 0 {
		c.ReportSections = def.ReportSections
	}
	if c.SourcesPerAgent <= 0 {
		c.SourcesPerAgent = def.SourcesPerAgent
	}
	return nil
}
