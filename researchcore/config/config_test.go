package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8600", cfg.ListenAddr)
	assert.Equal(t, "riskresearch.db", cfg.DatabasePath)
	assert.Equal(t, 3*time.Second, cfg.CycleInterval)
	assert.Equal(t, 64, cfg.SnapshotBuffer)
	assert.Equal(t, 400*time.Millisecond, cfg.Simulator.StepDelay)
	assert.Equal(t, 3, cfg.Simulator.MinAgents)
	assert.Equal(t, 6, cfg.Simulator.MaxAgents)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestValidate_FillsZeroFields(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8600", cfg.ListenAddr)
	assert.Equal(t, "riskresearch.db", cfg.DatabasePath)
	assert.Equal(t, 3*time.Second, cfg.CycleInterval)
	assert.Equal(t, 64, cfg.SnapshotBuffer)
	assert.Equal(t, 3, cfg.Simulator.MinAgents)
	assert.Equal(t, 5, cfg.Simulator.ReportSections)
	assert.Equal(t, 12, cfg.Simulator.SourcesPerAgent)
}

func TestValidate_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		ListenAddr:     ":9999",
		CycleInterval:  time.Second,
		SnapshotBuffer: 8,
		Simulator: SimulatorConfig{
			MinAgents: 2,
			MaxAgents: 4,
		},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, time.Second, cfg.CycleInterval)
	assert.Equal(t, 8, cfg.SnapshotBuffer)
	assert.Equal(t, 2, cfg.Simulator.MinAgents)
	assert.Equal(t, 4, cfg.Simulator.MaxAgents)
}

func TestValidate_ZeroStepDelayIsAllowed(t *testing.T) {
	cfg := Default()
	cfg.Simulator.StepDelay = 0
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.Simulator.StepDelay, "zero delay runs jobs without pausing")
}

func TestValidate_Errors(t *testing.T) {
	t.Run("negative step delay", func(t *testing.T) {
		cfg := Default()
		cfg.Simulator.StepDelay = -time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("max agents below min", func(t *testing.T) {
		cfg := Default()
		cfg.Simulator.MinAgents = 5
		cfg.Simulator.MaxAgents = 2
		assert.Error(t, cfg.Validate())
	})
}
