package config

import (
	"fmt"
)

// validStrategies are the recognized conflict-resolution strategies.
var validStrategies = map[string]bool{
	"last-write-wins": true,
	"reject":          true,
	"merge":           true,
}

// Validator validates configuration with clear, field-qualified error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every section (fail-fast, stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateCoordination(); err != nil {
		return err
	}
	if err := v.validateConflict(); err != nil {
		return err
	}
	if err := v.validateDispatch(); err != nil {
		return err
	}
	if err := v.validateMapping("github.mapping", v.cfg.GitHub.Mapping); err != nil {
		return err
	}
	if err := v.validateMapping("slack.mapping", v.cfg.Slack.Mapping); err != nil {
		return err
	}
	if err := v.validateResponse(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.Server.Port < 1 || v.cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("must be 1-65535, got %d", v.cfg.Server.Port))
	}
	return nil
}

func (v *Validator) validateCoordination() error {
	c := v.cfg.Coordination
	if c.MaxUsersPerSession < 1 {
		return NewValidationError("coordination", "max_users_per_session", fmt.Errorf("must be at least 1, got %d", c.MaxUsersPerSession))
	}
	if c.MaxClientsPerUser < 1 {
		return NewValidationError("coordination", "max_clients_per_user", fmt.Errorf("must be at least 1, got %d", c.MaxClientsPerUser))
	}
	if c.MaxQueueSize < 0 {
		return NewValidationError("coordination", "max_queue_size", fmt.Errorf("must not be negative, got %d", c.MaxQueueSize))
	}
	return nil
}

func (v *Validator) validateConflict() error {
	c := v.cfg.Conflict
	if !validStrategies[c.Strategy] {
		return NewValidationError("conflict", "strategy",
			fmt.Errorf("unknown strategy %q: must be last-write-wins, reject, or merge", c.Strategy))
	}
	if c.MaxVersionDrift < 0 {
		return NewValidationError("conflict", "max_version_drift", fmt.Errorf("must not be negative, got %d", c.MaxVersionDrift))
	}
	return nil
}

func (v *Validator) validateDispatch() error {
	d := v.cfg.Dispatch
	if d.Workers < 1 {
		return NewValidationError("dispatch", "workers", fmt.Errorf("must be at least 1, got %d", d.Workers))
	}
	if d.PollInterval <= 0 {
		return NewValidationError("dispatch", "poll_interval", fmt.Errorf("must be positive, got %v", d.PollInterval))
	}
	if d.InvokeTimeout <= 0 {
		return NewValidationError("dispatch", "invoke_timeout", fmt.Errorf("must be positive, got %v", d.InvokeTimeout))
	}
	return nil
}

func (v *Validator) validateMapping(section string, m *MappingConfig) error {
	if m.IdleTimeout <= 0 {
		return NewValidationError(section, "idle_timeout", fmt.Errorf("must be positive, got %v", m.IdleTimeout))
	}
	if m.MaxMappings < 1 {
		return NewValidationError(section, "max_mappings", fmt.Errorf("must be at least 1, got %d", m.MaxMappings))
	}
	if m.CleanupInterval <= 0 {
		return NewValidationError(section, "cleanup_interval", fmt.Errorf("must be positive, got %v", m.CleanupInterval))
	}
	return nil
}

func (v *Validator) validateResponse() error {
	r := v.cfg.GitHub.Response
	if r.MaxLength < 1 {
		return NewValidationError("github.response", "max_length", fmt.Errorf("must be at least 1, got %d", r.MaxLength))
	}
	if r.MaxConcurrentPosts < 1 {
		return NewValidationError("github.response", "max_concurrent_posts", fmt.Errorf("must be at least 1, got %d", r.MaxConcurrentPosts))
	}
	return nil
}
