// Package events provides the process-local typed pub/sub fabric for the
// coordination core.
//
// ════════════════════════════════════════════════════════════════
// Event taxonomy
// ════════════════════════════════════════════════════════════════
//
// Every mutation of a session flows through the session store, which
// publishes one or more typed events on the Bus. Subscribers (the
// WebSocket gateway, the dispatcher, metrics) receive events
// synchronously in publish order and filter by Scope.
//
// Kind groups:
//
//   Session lifecycle  session.created, session.deleted
//   Membership         user.joined, user.left,
//                      client.connected, client.disconnected
//   Presence           cursor.moved (not versioned)
//   Coordination       lock.acquired, lock.released, state.changed
//   Queue              prompt.queued, prompt.started, prompt.completed,
//                      prompt.cancelled, prompt.reordered
//   Conflict           conflict.detected, conflict.resolved,
//                      conflict.rejected
//   Integration        pr.opened|updated|closed|merged,
//                      comment.created|updated, review.submitted,
//                      response.posted, thread.created|updated|completed
//
// Scopes route events to interested subscribers. Core events belong to
// "session:{id}". Integration events belong to the session they are
// mapped to when a mapping exists, otherwise to their external scope
// ("github:{repo}#{pr}" or "slack:{channel}:{threadTs}").
//
// ════════════════════════════════════════════════════════════════
package events

import (
	"fmt"
	"time"
)

// Kind is the tagged-union discriminator carried in every event's
// "type" field on the wire.
type Kind string

// Session lifecycle events.
const (
	KindSessionCreated Kind = "session.created"
	KindSessionDeleted Kind = "session.deleted"
)

// Membership events.
const (
	KindUserJoined         Kind = "user.joined"
	KindUserLeft           Kind = "user.left"
	KindClientConnected    Kind = "client.connected"
	KindClientDisconnected Kind = "client.disconnected"
)

// Presence events. Cursor movement never changes state.version.
const (
	KindCursorMoved Kind = "cursor.moved"
)

// Coordination events.
const (
	KindLockAcquired Kind = "lock.acquired"
	KindLockReleased Kind = "lock.released"
	KindStateChanged Kind = "state.changed"
)

// Prompt queue events.
const (
	KindPromptQueued    Kind = "prompt.queued"
	KindPromptStarted   Kind = "prompt.started"
	KindPromptCompleted Kind = "prompt.completed"
	KindPromptCancelled Kind = "prompt.cancelled"
	KindPromptReordered Kind = "prompt.reordered"
)

// Conflict resolution events.
const (
	KindConflictDetected Kind = "conflict.detected"
	KindConflictResolved Kind = "conflict.resolved"
	KindConflictRejected Kind = "conflict.rejected"
)

// Integration events from the source-control adapter.
const (
	KindPROpened        Kind = "pr.opened"
	KindPRUpdated       Kind = "pr.updated"
	KindPRClosed        Kind = "pr.closed"
	KindPRMerged        Kind = "pr.merged"
	KindCommentCreated  Kind = "comment.created"
	KindCommentUpdated  Kind = "comment.updated"
	KindReviewSubmitted Kind = "review.submitted"
	KindResponsePosted  Kind = "response.posted"
)

// Integration events from the chat-thread adapter.
const (
	KindThreadCreated   Kind = "thread.created"
	KindThreadUpdated   Kind = "thread.updated"
	KindThreadCompleted Kind = "thread.completed"
)

// SessionScope returns the scope name for a specific session's events.
// Format: "session:{session_id}"
func SessionScope(sessionID string) string {
	return "session:" + sessionID
}

// GitHubScope returns the external scope for an unmapped pull-request event.
func GitHubScope(repo string, prNumber int) string {
	return fmt.Sprintf("github:%s#%d", repo, prNumber)
}

// SlackScope returns the external scope for an unmapped chat-thread event.
func SlackScope(channelID, threadTS string) string {
	return "slack:" + channelID + ":" + threadTS
}

// Event is the sealed union over every published variant. Concrete
// variants live in payloads.go; all embed Header, which supplies the
// three accessors and the seal.
type Event interface {
	// Kind returns the tagged-union discriminator.
	Kind() Kind
	// Scope identifies the session (or external-integration scope) the
	// event belongs to, for subscriber-side filtering.
	Scope() string
	// OccurredAt returns the emission time.
	OccurredAt() time.Time

	sealed()
}

// Header carries the fields every event shares: the discriminator, the
// owning session (empty for unmapped integration events), and the
// emission time. Embedding Header satisfies Event.
type Header struct {
	Type      Kind      `json:"type"`
	SessionID string    `json:"sessionID,omitempty"`
	Timestamp time.Time `json:"timestamp"` // RFC3339Nano on the wire
}

// Kind returns the tagged-union discriminator.
func (h Header) Kind() Kind { return h.Type }

// Scope returns the owning session's scope. Integration variants that
// may exist before a mapping is established override this.
func (h Header) Scope() string { return SessionScope(h.SessionID) }

// OccurredAt returns the emission time.
func (h Header) OccurredAt() time.Time { return h.Timestamp }

func (h Header) sealed() {}

// header builds the common fields for a freshly emitted event.
func header(kind Kind, sessionID string) Header {
	return Header{Type: kind, SessionID: sessionID, Timestamp: time.Now().UTC()}
}
