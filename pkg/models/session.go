// Package models holds the domain types shared across the coordination core:
// the session aggregate, its members, the versioned state, and queued prompts.
// Wire JSON uses the camelCase field names clients and integrations consume.
package models

import "time"

// ClientType identifies the kind of UI a client connection represents.
type ClientType string

const (
	ClientTypeWeb       ClientType = "web"
	ClientTypeChat      ClientType = "chat"
	ClientTypeExtension ClientType = "extension"
	ClientTypeMobile    ClientType = "mobile"
	ClientTypeVoice     ClientType = "voice"
)

// IsValid reports whether the client type is one of the known kinds.
func (t ClientType) IsValid() bool {
	switch t {
	case ClientTypeWeb, ClientTypeChat, ClientTypeExtension, ClientTypeMobile, ClientTypeVoice:
		return true
	}
	return false
}

// GitSyncStatus tracks the workspace git synchronization state.
type GitSyncStatus string

const (
	GitSyncPending GitSyncStatus = "pending"
	GitSyncSyncing GitSyncStatus = "syncing"
	GitSyncSynced  GitSyncStatus = "synced"
	GitSyncFailed  GitSyncStatus = "failed"
)

// IsValid reports whether the status is one of the known git sync states.
func (s GitSyncStatus) IsValid() bool {
	switch s {
	case GitSyncPending, GitSyncSyncing, GitSyncSynced, GitSyncFailed:
		return true
	}
	return false
}

// AgentStatus tracks what the agent attached to a session is doing.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentThinking  AgentStatus = "thinking"
	AgentExecuting AgentStatus = "executing"
	AgentWaiting   AgentStatus = "waiting"
)

// IsValid reports whether the status is one of the known agent states.
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentIdle, AgentThinking, AgentExecuting, AgentWaiting:
		return true
	}
	return false
}

// Cursor is a user's presence position within the shared workspace.
type Cursor struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// User is a human participant in a session.
type User struct {
	UserID   string    `json:"userID"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	Color    string    `json:"color"`
	JoinedAt time.Time `json:"joinedAt"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	out := u
	if u.Cursor != nil {
		c := *u.Cursor
		out.Cursor = &c
	}
	return out
}

// Client is one connected UI instance belonging to a user. A user may hold
// several clients simultaneously (web tab + extension + phone).
type Client struct {
	ClientID     string     `json:"clientID"`
	UserID       string     `json:"userID"`
	Type         ClientType `json:"type"`
	ConnectedAt  time.Time  `json:"connectedAt"`
	LastActivity time.Time  `json:"lastActivity"`
}

// Canonical state field names, as referenced by conflict configuration
// (non_mergeable_fields) and conflict events.
const (
	FieldEditLock      = "editLock"
	FieldAgentStatus   = "agentStatus"
	FieldGitSyncStatus = "gitSyncStatus"
	FieldSandboxID     = "sandboxID"
)

// SessionState is the versioned value optimistic concurrency operates on.
// EditLock holds the locking user's id, empty when unheld. Extra carries
// collaboration fields the core does not interpret.
type SessionState struct {
	EditLock      string         `json:"editLock,omitempty"`
	GitSyncStatus GitSyncStatus  `json:"gitSyncStatus"`
	AgentStatus   AgentStatus    `json:"agentStatus"`
	Extra         map[string]any `json:"extra,omitempty"`
	Version       int64          `json:"version"`
}

// NewSessionState returns the initial state for a fresh session.
func NewSessionState() SessionState {
	return SessionState{
		GitSyncStatus: GitSyncPending,
		AgentStatus:   AgentIdle,
		Version:       0,
	}
}

// Clone returns a deep copy of the state.
func (s SessionState) Clone() SessionState {
	out := s
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Session is the root coordination aggregate: the users, clients, prompt
// queue, and versioned state collaborating on a single agent context.
// Instances of this type are snapshots; the authoritative value lives
// inside the session store.
type Session struct {
	ID                string       `json:"id"`
	ExternalSessionID string       `json:"externalSessionID"`
	SandboxID         string       `json:"sandboxID,omitempty"`
	Users             []User       `json:"users"`
	Clients           []Client     `json:"clients"`
	PromptQueue       []Prompt     `json:"promptQueue"`
	Executing         *Prompt      `json:"executing,omitempty"`
	State             SessionState `json:"state"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// UserCount returns the number of users in the snapshot.
func (s *Session) UserCount() int { return len(s.Users) }

// HasUser reports whether the snapshot contains the given user.
func (s *Session) HasUser(userID string) bool {
	for _, u := range s.Users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}
