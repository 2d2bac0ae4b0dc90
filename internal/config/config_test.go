package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 128000, cfg.Agent.Memory.MaxTokens)
	assert.Equal(t, 0.8, cfg.Agent.Memory.ReserveRatio)
	assert.Equal(t, 10, cfg.Agent.Memory.RecentToKeep)
	assert.Equal(t, 0.6, cfg.Agent.Memory.SummarizeThreshold)
	assert.Equal(t, 25, cfg.Crew.WorkerMaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.Runtime.CommandTimeout)
	assert.Equal(t, "loot/notes.json", cfg.Notes.Path)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.max_iterations", 7)
	v.Set("agent.memory.reserve_ratio", 0.5)
	v.Set("crew.worker_max_iterations", 3)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, 0.5, cfg.Agent.Memory.ReserveRatio)
	assert.Equal(t, 3, cfg.Crew.WorkerMaxIterations)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive max iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"reserve ratio above one", func(c *Config) { c.Agent.Memory.ReserveRatio = 1.5 }},
		{"zero reserve ratio", func(c *Config) { c.Agent.Memory.ReserveRatio = 0 }},
		{"threshold above one", func(c *Config) { c.Agent.Memory.SummarizeThreshold = 2 }},
		{"non-positive worker iterations", func(c *Config) { c.Crew.WorkerMaxIterations = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
