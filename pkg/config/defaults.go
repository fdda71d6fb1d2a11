package config

import "time"

// DefaultServerConfig returns the built-in listener defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}
}

// DefaultCoordinationConfig returns the built-in membership/queue caps.
func DefaultCoordinationConfig() *CoordinationConfig {
	return &CoordinationConfig{
		MaxUsersPerSession: 10,
		MaxClientsPerUser:  5,
		MaxQueueSize:       100,
	}
}

// DefaultConflictConfig returns the built-in conflict policy.
func DefaultConflictConfig() *ConflictConfig {
	return &ConflictConfig{
		Strategy:           "last-write-wins",
		NonMergeableFields: []string{"editLock"},
		MaxVersionDrift:    10,
	}
}

// DefaultDispatchConfig returns the built-in dispatcher defaults.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		Workers:                 2,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      250 * time.Millisecond,
		InvokeTimeout:           60 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// DefaultGitHubMappingConfig returns the PR mapping-store defaults.
// PR conversations stay relevant for days, hence the long idle timeout.
func DefaultGitHubMappingConfig() *MappingConfig {
	return &MappingConfig{
		IdleTimeout:     24 * time.Hour,
		MaxMappings:     1000,
		CleanupInterval: 1 * time.Hour,
	}
}

// DefaultSlackMappingConfig returns the chat-thread mapping-store defaults.
// Chat threads go cold fast, hence the shorter idle timeout.
func DefaultSlackMappingConfig() *MappingConfig {
	return &MappingConfig{
		IdleTimeout:     6 * time.Hour,
		MaxMappings:     1000,
		CleanupInterval: 15 * time.Minute,
		MaxProcessing:   100,
	}
}

// DefaultResponseConfig returns the built-in response-posting defaults.
func DefaultResponseConfig() *ResponseConfig {
	return &ResponseConfig{
		HeaderTemplate:     "🤖 Agent response",
		MaxLength:          65536,
		PostTimeout:        10 * time.Second,
		MaxConcurrentPosts: 3,
	}
}

// DefaultGitHubConfig returns the built-in source-control integration defaults.
func DefaultGitHubConfig() *GitHubConfig {
	return &GitHubConfig{
		AutoCreateSessions: true,
		APIBaseURL:         "https://api.github.com",
		TokenEnv:           "GITHUB_TOKEN",
		Mapping:            DefaultGitHubMappingConfig(),
		Response:           DefaultResponseConfig(),
	}
}

// DefaultSlackConfig returns the built-in chat integration defaults.
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled:            false,
		TokenEnv:           "SLACK_BOT_TOKEN",
		AutoCreateSessions: true,
		Mapping:            DefaultSlackMappingConfig(),
	}
}

// DefaultMetricsConfig returns the built-in metrics defaults.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{Enabled: true}
}

// DefaultConfig assembles the complete built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Coordination: DefaultCoordinationConfig(),
		Conflict:     DefaultConflictConfig(),
		Dispatch:     DefaultDispatchConfig(),
		GitHub:       DefaultGitHubConfig(),
		Slack:        DefaultSlackConfig(),
		Metrics:      DefaultMetricsConfig(),
	}
}
