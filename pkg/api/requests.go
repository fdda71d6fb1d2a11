package api

import "github.com/codeready-toolchain/huddle/pkg/models"

// CreateSessionRequest is the HTTP request body for POST /api/v1/multiplayer.
type CreateSessionRequest struct {
	ExternalSessionID string `json:"externalSessionID,omitempty"`
	SandboxID         string `json:"sandboxID,omitempty"`
	ConflictStrategy  string `json:"conflictStrategy,omitempty"`
}

// JoinSessionRequest is the HTTP request body for POST /api/v1/multiplayer/:id/join.
type JoinSessionRequest struct {
	UserID string `json:"userID"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
}

// LeaveSessionRequest is the HTTP request body for POST /api/v1/multiplayer/:id/leave.
type LeaveSessionRequest struct {
	UserID string `json:"userID"`
}

// LockRequest is the HTTP request body for POST and DELETE
// /api/v1/multiplayer/:id/lock.
type LockRequest struct {
	UserID string `json:"userID"`
}

// CursorRequest is the HTTP request body for PUT /api/v1/multiplayer/:id/cursor.
type CursorRequest struct {
	UserID string        `json:"userID"`
	Cursor models.Cursor `json:"cursor"`
}

// UpdateStateRequest is the HTTP request body for POST and PUT
// /api/v1/multiplayer/:id/state. Updates holds the partial state keyed
// by field name; "version" is not a writable field.
type UpdateStateRequest struct {
	UserID      string         `json:"userID,omitempty"`
	ClientID    string         `json:"clientID,omitempty"`
	BaseVersion int64          `json:"baseVersion"`
	Updates     map[string]any `json:"updates"`
}

// EnqueuePromptRequest is the HTTP request body for POST /api/v1/multiplayer/:id/prompt.
type EnqueuePromptRequest struct {
	UserID   string `json:"userID"`
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
}

// ReorderPromptRequest is the HTTP request body for POST
// /api/v1/multiplayer/:id/prompt/:pid.
type ReorderPromptRequest struct {
	UserID   string `json:"userID"`
	NewIndex int    `json:"newIndex"`
}
