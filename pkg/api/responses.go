package api

import (
	"github.com/codeready-toolchain/huddle/pkg/dispatch"
	"github.com/codeready-toolchain/huddle/pkg/models"
)

// ErrorResponse is the uniform failure body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionListResponse is returned by GET /api/v1/multiplayer.
type SessionListResponse struct {
	Sessions []models.Session `json:"sessions"`
	Count    int              `json:"count"`
}

// LockResponse is returned by POST /api/v1/multiplayer/:id/lock.
// Result is "acquired" or "alreadyHeld"; EditLock names the current
// holder either way.
type LockResponse struct {
	Result   string `json:"result"`
	EditLock string `json:"editLock,omitempty"`
	Version  int64  `json:"version"`
}

// UpdateStateResponse is returned by POST/PUT /api/v1/multiplayer/:id/state
// on success.
type UpdateStateResponse struct {
	State        models.SessionState `json:"state"`
	MergedFields []string            `json:"mergedFields,omitempty"`
	Detected     bool                `json:"conflictDetected"`
}

// QueueResponse is returned by GET /api/v1/multiplayer/:id/prompt.
type QueueResponse struct {
	Executing *models.Prompt  `json:"executing,omitempty"`
	Queue     []models.Prompt `json:"queue"`
}

// WebhookResponse acknowledges an accepted webhook delivery.
type WebhookResponse struct {
	OK bool `json:"ok"`
}

// SlackChallengeResponse answers a Slack URL-verification handshake.
type SlackChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string               `json:"status"`
	Version     string               `json:"version"`
	Sessions    int                  `json:"sessions"`
	Connections int                  `json:"connections"`
	Dispatcher  *dispatch.PoolHealth `json:"dispatcher,omitempty"`
	Mappings    map[string]int       `json:"mappings,omitempty"`
}
