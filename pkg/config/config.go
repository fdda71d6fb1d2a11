package config

import "time"

// Config is the umbrella configuration object returned by Initialize()
// and handed to every component at wiring time.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server       *ServerConfig
	Coordination *CoordinationConfig
	Conflict     *ConflictConfig
	Dispatch     *DispatchConfig
	GitHub       *GitHubConfig
	Slack        *SlackConfig
	Metrics      *MetricsConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CoordinationConfig caps session membership and queue growth.
type CoordinationConfig struct {
	// MaxUsersPerSession is the cap on distinct users in one session.
	MaxUsersPerSession int `yaml:"max_users_per_session"`

	// MaxClientsPerUser caps simultaneous connections per user per session.
	MaxClientsPerUser int `yaml:"max_clients_per_user"`

	// MaxQueueSize caps the prompt queue per session. 0 means unbounded.
	MaxQueueSize int `yaml:"max_queue_size"`
}

// ConflictConfig selects the optimistic-concurrency policy applied to
// versioned state updates.
type ConflictConfig struct {
	// Strategy is one of "last-write-wins", "reject", "merge".
	Strategy string `yaml:"strategy"`

	// NonMergeableFields lists state fields that may never be merged past
	// a concurrent modification.
	NonMergeableFields []string `yaml:"non_mergeable_fields"`

	// MaxVersionDrift is the largest tolerated gap between an update's
	// base version and the current version before outright rejection.
	MaxVersionDrift int `yaml:"max_version_drift"`
}

// DispatchConfig controls the worker pool that promotes queued prompts
// into agent invocations.
type DispatchConfig struct {
	// Workers is the number of dispatcher goroutines.
	Workers int

	// PollInterval is the base interval between runnable-session scans.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration

	// InvokeTimeout bounds a single agent invocation.
	InvokeTimeout time.Duration

	// GracefulShutdownTimeout bounds Stop() waiting for in-flight work.
	GracefulShutdownTimeout time.Duration

	// AgentEndpoint is the URL the opaque agent call is POSTed to.
	// Empty disables real dispatch (prompts complete immediately).
	AgentEndpoint string
}

// MappingConfig bounds one external-integration mapping store.
type MappingConfig struct {
	// IdleTimeout evicts mappings with no activity for this long.
	IdleTimeout time.Duration

	// MaxMappings caps the store; inserting past the cap evicts the
	// least-recently-active entry.
	MaxMappings int

	// CleanupInterval is how often the janitor sweeps stale mappings.
	CleanupInterval time.Duration

	// MaxProcessing caps chat threads allowed to sit in "processing".
	// Only the chat store reads it.
	MaxProcessing int
}

// ResponseConfig shapes outbound comment/reply posting.
type ResponseConfig struct {
	HeaderTemplate   string
	FooterTemplate   string
	IncludeCommitSHA bool

	// MaxLength truncates the posted body, appending a marker.
	MaxLength int

	// PostTimeout bounds one outbound post attempt.
	PostTimeout time.Duration

	// MaxConcurrentPosts bounds async posting goroutines.
	MaxConcurrentPosts int64
}

// GitHubConfig holds the source-control integration settings.
type GitHubConfig struct {
	// WebhookSecret verifies X-Hub-Signature-256. Empty disables verification.
	WebhookSecret string

	// BotUsername silences webhook events authored by the bot itself.
	BotUsername string

	// AutoCreateSessions creates a session + mapping when a PR opens.
	AutoCreateSessions bool

	// APIBaseURL is the REST endpoint, overridable for tests.
	APIBaseURL string

	// TokenEnv names the environment variable holding the API token.
	TokenEnv string

	Mapping  *MappingConfig
	Response *ResponseConfig
}

// SlackConfig holds the chat integration settings.
type SlackConfig struct {
	Enabled bool

	// SigningSecret verifies inbound request signatures. Empty disables.
	SigningSecret string

	// BotUserID silences webhook events authored by the bot itself.
	BotUserID string

	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string

	// AutoCreateSessions creates a session + mapping on new mention threads.
	AutoCreateSessions bool

	Mapping *MappingConfig
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}
