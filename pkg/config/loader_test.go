package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a huddle.yaml into a temp config dir and returns the dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o600)
	require.NoError(t, err)
	return dir
}

func TestInitializeDefaults(t *testing.T) {
	// Missing file falls back to built-in defaults.
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Coordination.MaxUsersPerSession)
	assert.Equal(t, 5, cfg.Coordination.MaxClientsPerUser)
	assert.Equal(t, 100, cfg.Coordination.MaxQueueSize)
	assert.Equal(t, "last-write-wins", cfg.Conflict.Strategy)
	assert.Equal(t, []string{"editLock"}, cfg.Conflict.NonMergeableFields)
	assert.Equal(t, 10, cfg.Conflict.MaxVersionDrift)
	assert.Equal(t, 24*time.Hour, cfg.GitHub.Mapping.IdleTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Slack.Mapping.IdleTimeout)
	assert.Equal(t, 1000, cfg.GitHub.Mapping.MaxMappings)
	assert.True(t, cfg.GitHub.AutoCreateSessions)
	assert.False(t, cfg.Slack.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestInitializeMergesUserConfig(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9090
coordination:
  max_users_per_session: 3
conflict:
  strategy: merge
  max_version_drift: 5
dispatch:
  workers: 4
  poll_interval: 250ms
github:
  bot_username: huddle-bot
  auto_create_sessions: false
  mapping:
    idle_timeout: 48h
    max_mappings: 50
  response:
    max_length: 2048
slack:
  enabled: true
  bot_user_id: U123
  mapping:
    max_processing: 7
metrics:
  enabled: false
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Coordination.MaxUsersPerSession)
	// Untouched values keep their defaults.
	assert.Equal(t, 5, cfg.Coordination.MaxClientsPerUser)
	assert.Equal(t, "merge", cfg.Conflict.Strategy)
	assert.Equal(t, 5, cfg.Conflict.MaxVersionDrift)
	assert.Equal(t, []string{"editLock"}, cfg.Conflict.NonMergeableFields)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.PollInterval)
	assert.Equal(t, "huddle-bot", cfg.GitHub.BotUsername)
	assert.False(t, cfg.GitHub.AutoCreateSessions)
	assert.Equal(t, 48*time.Hour, cfg.GitHub.Mapping.IdleTimeout)
	assert.Equal(t, 50, cfg.GitHub.Mapping.MaxMappings)
	assert.Equal(t, 2048, cfg.GitHub.Response.MaxLength)
	assert.True(t, cfg.Slack.Enabled)
	assert.Equal(t, "U123", cfg.Slack.BotUserID)
	assert.Equal(t, 7, cfg.Slack.Mapping.MaxProcessing)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestInitializeExpandsEnv(t *testing.T) {
	t.Setenv("HUDDLE_TEST_SECRET", "s3cr3t")

	dir := writeConfig(t, `
github:
  webhook_secret: "{{.HUDDLE_TEST_SECRET}}"
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.GitHub.WebhookSecret)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "server: [not: a: map")

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeInvalidDurationKeepsDefault(t *testing.T) {
	dir := writeConfig(t, `
github:
  mapping:
    idle_timeout: yesterday
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.GitHub.Mapping.IdleTimeout)
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
conflict:
  strategy: newest-wins
`)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "newest-wins")
}
