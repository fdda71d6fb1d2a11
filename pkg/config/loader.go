package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration file read from the config directory.
const ConfigFileName = "huddle.yaml"

// huddleYAMLConfig represents the complete huddle.yaml file structure.
// Durations are strings ("24h", "500ms") parsed during resolution;
// booleans are pointers so an explicit false survives defaulting.
type huddleYAMLConfig struct {
	Server       *ServerConfig       `yaml:"server"`
	Coordination *CoordinationConfig `yaml:"coordination"`
	Conflict     *ConflictConfig     `yaml:"conflict"`
	Dispatch     *dispatchYAML       `yaml:"dispatch"`
	GitHub       *githubYAML         `yaml:"github"`
	Slack        *slackYAML          `yaml:"slack"`
	Metrics      *metricsYAML        `yaml:"metrics"`
}

type dispatchYAML struct {
	Workers                 int    `yaml:"workers,omitempty"`
	PollInterval            string `yaml:"poll_interval,omitempty"`
	PollIntervalJitter      string `yaml:"poll_interval_jitter,omitempty"`
	InvokeTimeout           string `yaml:"invoke_timeout,omitempty"`
	GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout,omitempty"`
	AgentEndpoint           string `yaml:"agent_endpoint,omitempty"`
}

type mappingYAML struct {
	IdleTimeout     string `yaml:"idle_timeout,omitempty"`
	MaxMappings     int    `yaml:"max_mappings,omitempty"`
	CleanupInterval string `yaml:"cleanup_interval,omitempty"`
	MaxProcessing   int    `yaml:"max_processing,omitempty"`
}

type responseYAML struct {
	HeaderTemplate     string `yaml:"header_template,omitempty"`
	FooterTemplate     string `yaml:"footer_template,omitempty"`
	IncludeCommitSHA   *bool  `yaml:"include_commit_sha,omitempty"`
	MaxLength          int    `yaml:"max_length,omitempty"`
	PostTimeout        string `yaml:"post_timeout,omitempty"`
	MaxConcurrentPosts int64  `yaml:"max_concurrent_posts,omitempty"`
}

type githubYAML struct {
	WebhookSecret      string        `yaml:"webhook_secret,omitempty"`
	BotUsername        string        `yaml:"bot_username,omitempty"`
	AutoCreateSessions *bool         `yaml:"auto_create_sessions,omitempty"`
	APIBaseURL         string        `yaml:"api_base_url,omitempty"`
	TokenEnv           string        `yaml:"token_env,omitempty"`
	Mapping            *mappingYAML  `yaml:"mapping,omitempty"`
	Response           *responseYAML `yaml:"response,omitempty"`
}

type slackYAML struct {
	Enabled            *bool        `yaml:"enabled,omitempty"`
	SigningSecret      string       `yaml:"signing_secret,omitempty"`
	BotUserID          string       `yaml:"bot_user_id,omitempty"`
	TokenEnv           string       `yaml:"token_env,omitempty"`
	AutoCreateSessions *bool        `yaml:"auto_create_sessions,omitempty"`
	Mapping            *mappingYAML `yaml:"mapping,omitempty"`
}

type metricsYAML struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read huddle.yaml from configDir (missing file = built-in defaults)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"conflict_strategy", cfg.Conflict.Strategy,
		"max_users_per_session", cfg.Coordination.MaxUsersPerSession,
		"dispatch_workers", cfg.Dispatch.Workers,
		"slack_enabled", cfg.Slack.Enabled)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Configuration file not found, using built-in defaults", "path", path)
			return cfg, nil
		}
		return nil, NewLoadError(ConfigFileName, err)
	}

	// Expand environment variables before parsing.
	data = ExpandEnv(data)

	var userCfg huddleYAMLConfig
	if err := yaml.Unmarshal(data, &userCfg); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := applyUserConfig(cfg, &userCfg); err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	return cfg, nil
}

// applyUserConfig merges user-provided values over the built-in defaults.
func applyUserConfig(cfg *Config, user *huddleYAMLConfig) error {
	// Plain-scalar sections merge structurally: non-zero values override.
	if user.Server != nil {
		if err := mergo.Merge(cfg.Server, user.Server, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	if user.Coordination != nil {
		if err := mergo.Merge(cfg.Coordination, user.Coordination, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge coordination config: %w", err)
		}
	}
	if user.Conflict != nil {
		if err := mergo.Merge(cfg.Conflict, user.Conflict, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge conflict config: %w", err)
		}
	}

	// Sections with durations and explicit booleans resolve by hand.
	resolveDispatchConfig(cfg.Dispatch, user.Dispatch)
	resolveGitHubConfig(cfg.GitHub, user.GitHub)
	resolveSlackConfig(cfg.Slack, user.Slack)

	if user.Metrics != nil && user.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *user.Metrics.Enabled
	}

	return nil
}

func resolveDispatchConfig(cfg *DispatchConfig, y *dispatchYAML) {
	if y == nil {
		return
	}
	if y.Workers > 0 {
		cfg.Workers = y.Workers
	}
	setDuration(&cfg.PollInterval, y.PollInterval, "dispatch.poll_interval")
	setDuration(&cfg.PollIntervalJitter, y.PollIntervalJitter, "dispatch.poll_interval_jitter")
	setDuration(&cfg.InvokeTimeout, y.InvokeTimeout, "dispatch.invoke_timeout")
	setDuration(&cfg.GracefulShutdownTimeout, y.GracefulShutdownTimeout, "dispatch.graceful_shutdown_timeout")
	if y.AgentEndpoint != "" {
		cfg.AgentEndpoint = y.AgentEndpoint
	}
}

func resolveGitHubConfig(cfg *GitHubConfig, y *githubYAML) {
	if y == nil {
		return
	}
	if y.WebhookSecret != "" {
		cfg.WebhookSecret = y.WebhookSecret
	}
	if y.BotUsername != "" {
		cfg.BotUsername = y.BotUsername
	}
	if y.AutoCreateSessions != nil {
		cfg.AutoCreateSessions = *y.AutoCreateSessions
	}
	if y.APIBaseURL != "" {
		cfg.APIBaseURL = y.APIBaseURL
	}
	if y.TokenEnv != "" {
		cfg.TokenEnv = y.TokenEnv
	}
	resolveMappingConfig(cfg.Mapping, y.Mapping, "github.mapping")
	resolveResponseConfig(cfg.Response, y.Response)
}

func resolveSlackConfig(cfg *SlackConfig, y *slackYAML) {
	if y == nil {
		return
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.SigningSecret != "" {
		cfg.SigningSecret = y.SigningSecret
	}
	if y.BotUserID != "" {
		cfg.BotUserID = y.BotUserID
	}
	if y.TokenEnv != "" {
		cfg.TokenEnv = y.TokenEnv
	}
	if y.AutoCreateSessions != nil {
		cfg.AutoCreateSessions = *y.AutoCreateSessions
	}
	resolveMappingConfig(cfg.Mapping, y.Mapping, "slack.mapping")
}

func resolveMappingConfig(cfg *MappingConfig, y *mappingYAML, section string) {
	if y == nil {
		return
	}
	setDuration(&cfg.IdleTimeout, y.IdleTimeout, section+".idle_timeout")
	setDuration(&cfg.CleanupInterval, y.CleanupInterval, section+".cleanup_interval")
	if y.MaxMappings > 0 {
		cfg.MaxMappings = y.MaxMappings
	}
	if y.MaxProcessing > 0 {
		cfg.MaxProcessing = y.MaxProcessing
	}
}

func resolveResponseConfig(cfg *ResponseConfig, y *responseYAML) {
	if y == nil {
		return
	}
	if y.HeaderTemplate != "" {
		cfg.HeaderTemplate = y.HeaderTemplate
	}
	if y.FooterTemplate != "" {
		cfg.FooterTemplate = y.FooterTemplate
	}
	if y.IncludeCommitSHA != nil {
		cfg.IncludeCommitSHA = *y.IncludeCommitSHA
	}
	if y.MaxLength > 0 {
		cfg.MaxLength = y.MaxLength
	}
	setDuration(&cfg.PostTimeout, y.PostTimeout, "github.response.post_timeout")
	if y.MaxConcurrentPosts > 0 {
		cfg.MaxConcurrentPosts = y.MaxConcurrentPosts
	}
}

// setDuration parses a duration string into dst, keeping the default on
// empty input and warning on malformed input.
func setDuration(dst *time.Duration, value, field string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", value,
			"default", *dst,
			"error", err)
		return
	}
	*dst = d
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
