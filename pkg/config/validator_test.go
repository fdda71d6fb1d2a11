package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAllDefaults(t *testing.T) {
	require.NoError(t, NewValidator(DefaultConfig()).ValidateAll())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{
			name:     "bad port",
			mutate:   func(c *Config) { c.Server.Port = 0 },
			contains: "port",
		},
		{
			name:     "zero users",
			mutate:   func(c *Config) { c.Coordination.MaxUsersPerSession = 0 },
			contains: "max_users_per_session",
		},
		{
			name:     "zero clients per user",
			mutate:   func(c *Config) { c.Coordination.MaxClientsPerUser = 0 },
			contains: "max_clients_per_user",
		},
		{
			name:     "negative queue size",
			mutate:   func(c *Config) { c.Coordination.MaxQueueSize = -1 },
			contains: "max_queue_size",
		},
		{
			name:     "unknown strategy",
			mutate:   func(c *Config) { c.Conflict.Strategy = "vote" },
			contains: "strategy",
		},
		{
			name:     "negative drift",
			mutate:   func(c *Config) { c.Conflict.MaxVersionDrift = -1 },
			contains: "max_version_drift",
		},
		{
			name:     "zero workers",
			mutate:   func(c *Config) { c.Dispatch.Workers = 0 },
			contains: "workers",
		},
		{
			name:     "zero idle timeout",
			mutate:   func(c *Config) { c.GitHub.Mapping.IdleTimeout = 0 },
			contains: "idle_timeout",
		},
		{
			name:     "zero max mappings",
			mutate:   func(c *Config) { c.Slack.Mapping.MaxMappings = 0 },
			contains: "max_mappings",
		},
		{
			name:     "zero response max length",
			mutate:   func(c *Config) { c.GitHub.Response.MaxLength = 0 },
			contains: "max_length",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestZeroQueueSizeMeansUnbounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coordination.MaxQueueSize = 0
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}
