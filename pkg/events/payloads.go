package events

import (
	"github.com/codeready-toolchain/huddle/pkg/models"
)

// SessionCreated is published once when a session is created.
// Carries the full initial snapshot so list views need no extra fetch.
type SessionCreated struct {
	Header
	Session models.Session `json:"session"`
}

// NewSessionCreated builds a session.created event.
func NewSessionCreated(session models.Session) SessionCreated {
	return SessionCreated{Header: header(KindSessionCreated, session.ID), Session: session}
}

// SessionDeleted is published when a session is removed. Subscribers
// holding per-session resources (gateway connections, dispatch slots)
// release them on receipt.
type SessionDeleted struct {
	Header
}

// NewSessionDeleted builds a session.deleted event.
func NewSessionDeleted(sessionID string) SessionDeleted {
	return SessionDeleted{Header: header(KindSessionDeleted, sessionID)}
}

// UserJoined is published when a user enters a session, including the
// idempotent re-join of an existing user only once (first join).
type UserJoined struct {
	Header
	User models.User `json:"user"`
}

// NewUserJoined builds a user.joined event.
func NewUserJoined(sessionID string, user models.User) UserJoined {
	return UserJoined{Header: header(KindUserJoined, sessionID), User: user}
}

// UserLeft is published after a user's clients are disconnected and any
// held edit lock released.
type UserLeft struct {
	Header
	UserID string `json:"userID"`
}

// NewUserLeft builds a user.left event.
func NewUserLeft(sessionID, userID string) UserLeft {
	return UserLeft{Header: header(KindUserLeft, sessionID), UserID: userID}
}

// ClientConnected is published when a client registers with a session.
type ClientConnected struct {
	Header
	Client models.Client `json:"client"`
}

// NewClientConnected builds a client.connected event.
func NewClientConnected(sessionID string, client models.Client) ClientConnected {
	return ClientConnected{Header: header(KindClientConnected, sessionID), Client: client}
}

// ClientDisconnected is published when a client is removed, either
// explicitly or because its user left.
type ClientDisconnected struct {
	Header
	ClientID string `json:"clientID"`
	UserID   string `json:"userID"`
}

// NewClientDisconnected builds a client.disconnected event.
func NewClientDisconnected(sessionID, clientID, userID string) ClientDisconnected {
	return ClientDisconnected{Header: header(KindClientDisconnected, sessionID), ClientID: clientID, UserID: userID}
}

// CursorMoved is published on presence updates. Presence is not
// versioned: state.version does not change.
type CursorMoved struct {
	Header
	UserID string        `json:"userID"`
	Cursor models.Cursor `json:"cursor"`
}

// NewCursorMoved builds a cursor.moved event.
func NewCursorMoved(sessionID, userID string, cursor models.Cursor) CursorMoved {
	return CursorMoved{Header: header(KindCursorMoved, sessionID), UserID: userID, Cursor: cursor}
}

// LockAcquired is published when the edit lock is granted.
type LockAcquired struct {
	Header
	UserID  string `json:"userID"`
	Version int64  `json:"version"` // state.version after the acquire
}

// NewLockAcquired builds a lock.acquired event.
func NewLockAcquired(sessionID, userID string, version int64) LockAcquired {
	return LockAcquired{Header: header(KindLockAcquired, sessionID), UserID: userID, Version: version}
}

// LockReleased is published when the edit lock is released, by the
// holder or implicitly on leave.
type LockReleased struct {
	Header
	UserID  string `json:"userID"`
	Version int64  `json:"version"` // state.version after the release
}

// NewLockReleased builds a lock.released event.
func NewLockReleased(sessionID, userID string, version int64) LockReleased {
	return LockReleased{Header: header(KindLockReleased, sessionID), UserID: userID, Version: version}
}

// StateChanged carries the full post-mutation state snapshot, version
// included. Published once per committed state mutation.
type StateChanged struct {
	Header
	State models.SessionState `json:"state"`
}

// NewStateChanged builds a state.changed event.
func NewStateChanged(sessionID string, state models.SessionState) StateChanged {
	return StateChanged{Header: header(KindStateChanged, sessionID), State: state}
}

// PromptQueued is published when a prompt is appended to the queue.
type PromptQueued struct {
	Header
	Prompt   models.Prompt `json:"prompt"`
	Position int           `json:"position"` // index in the queue after priority ordering
}

// NewPromptQueued builds a prompt.queued event.
func NewPromptQueued(sessionID string, prompt models.Prompt, position int) PromptQueued {
	return PromptQueued{Header: header(KindPromptQueued, sessionID), Prompt: prompt, Position: position}
}

// PromptStarted is published when the head prompt is promoted to
// executing.
type PromptStarted struct {
	Header
	Prompt models.Prompt `json:"prompt"`
}

// NewPromptStarted builds a prompt.started event.
func NewPromptStarted(sessionID string, prompt models.Prompt) PromptStarted {
	return PromptStarted{Header: header(KindPromptStarted, sessionID), Prompt: prompt}
}

// PromptCompleted is published when the agent reports completion of the
// executing prompt.
type PromptCompleted struct {
	Header
	Prompt models.Prompt `json:"prompt"`
}

// NewPromptCompleted builds a prompt.completed event.
func NewPromptCompleted(sessionID string, prompt models.Prompt) PromptCompleted {
	return PromptCompleted{Header: header(KindPromptCompleted, sessionID), Prompt: prompt}
}

// PromptCancelled is published when a queued prompt is removed by its
// owner or a manager.
type PromptCancelled struct {
	Header
	PromptID    string `json:"promptID"`
	CancelledBy string `json:"cancelledBy"`
}

// NewPromptCancelled builds a prompt.cancelled event.
func NewPromptCancelled(sessionID, promptID, cancelledBy string) PromptCancelled {
	return PromptCancelled{Header: header(KindPromptCancelled, sessionID), PromptID: promptID, CancelledBy: cancelledBy}
}

// PromptReordered is published when a queued prompt moves within its
// priority class.
type PromptReordered struct {
	Header
	PromptID string `json:"promptID"`
	NewIndex int    `json:"newIndex"`
}

// NewPromptReordered builds a prompt.reordered event.
func NewPromptReordered(sessionID, promptID string, newIndex int) PromptReordered {
	return PromptReordered{Header: header(KindPromptReordered, sessionID), PromptID: promptID, NewIndex: newIndex}
}

// ConflictDetected is published when a versioned update arrives with a
// stale baseVersion, before the strategy decides its fate.
type ConflictDetected struct {
	Header
	ClientID          string   `json:"clientID,omitempty"`
	BaseVersion       int64    `json:"baseVersion"`
	CurrentVersion    int64    `json:"currentVersion"`
	ConflictingFields []string `json:"conflictingFields"`
}

// NewConflictDetected builds a conflict.detected event.
func NewConflictDetected(sessionID, clientID string, baseVersion, currentVersion int64, conflicting []string) ConflictDetected {
	return ConflictDetected{
		Header:            header(KindConflictDetected, sessionID),
		ClientID:          clientID,
		BaseVersion:       baseVersion,
		CurrentVersion:    currentVersion,
		ConflictingFields: conflicting,
	}
}

// ConflictResolved is published when an update commits, fresh or after
// strategy resolution. MergedFields lists the field names applied; an
// empty list is a semantic no-op write whose version still advanced.
type ConflictResolved struct {
	Header
	ClientID     string   `json:"clientID,omitempty"`
	Strategy     string   `json:"strategy"`
	Version      int64    `json:"version"` // state.version after the commit
	MergedFields []string `json:"mergedFields"`
}

// NewConflictResolved builds a conflict.resolved event.
func NewConflictResolved(sessionID, clientID, strategy string, version int64, mergedFields []string) ConflictResolved {
	return ConflictResolved{
		Header:       header(KindConflictResolved, sessionID),
		ClientID:     clientID,
		Strategy:     strategy,
		Version:      version,
		MergedFields: mergedFields,
	}
}

// ConflictRejected is published when a stale update is refused: version
// drift exceeded, reject strategy, or a non-mergeable field conflict.
type ConflictRejected struct {
	Header
	ClientID          string   `json:"clientID,omitempty"`
	Reason            string   `json:"reason"`
	BaseVersion       int64    `json:"baseVersion"`
	CurrentVersion    int64    `json:"currentVersion"`
	ConflictingFields []string `json:"conflictingFields,omitempty"`
}

// NewConflictRejected builds a conflict.rejected event.
func NewConflictRejected(sessionID, clientID, reason string, baseVersion, currentVersion int64, conflicting []string) ConflictRejected {
	return ConflictRejected{
		Header:            header(KindConflictRejected, sessionID),
		ClientID:          clientID,
		Reason:            reason,
		BaseVersion:       baseVersion,
		CurrentVersion:    currentVersion,
		ConflictingFields: conflicting,
	}
}

// PREvent is the shared shape for pr.opened, pr.updated, pr.closed and
// pr.merged. SessionID is set when a mapping exists; Action carries the
// vendor's sub-action for pr.updated (edited, synchronize, ...).
type PREvent struct {
	Header
	Repo     string `json:"repo"` // "owner/name"
	PRNumber int    `json:"prNumber"`
	Action   string `json:"action,omitempty"`
	Author   string `json:"author,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Scope routes PR events to their mapped session when one exists,
// otherwise to the repository feed.
func (e PREvent) Scope() string {
	if e.SessionID != "" {
		return SessionScope(e.SessionID)
	}
	return GitHubScope(e.Repo, e.PRNumber)
}

// NewPREvent builds one of the pr.* events. kind must be KindPROpened,
// KindPRUpdated, KindPRClosed or KindPRMerged.
func NewPREvent(kind Kind, sessionID, repo string, prNumber int) PREvent {
	return PREvent{Header: header(kind, sessionID), Repo: repo, PRNumber: prNumber}
}

// CommentEvent is the shared shape for comment.created and
// comment.updated. Path and Line are present only for inline review
// comments.
type CommentEvent struct {
	Header
	Repo      string `json:"repo"`
	PRNumber  int    `json:"prNumber"`
	CommentID int64  `json:"commentID"`
	Author    string `json:"author"`
	Body      string `json:"body,omitempty"`
	Path      string `json:"path,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Scope routes comment events to their mapped session when one exists,
// otherwise to the repository feed.
func (e CommentEvent) Scope() string {
	if e.SessionID != "" {
		return SessionScope(e.SessionID)
	}
	return GitHubScope(e.Repo, e.PRNumber)
}

// NewCommentEvent builds a comment.created or comment.updated event.
func NewCommentEvent(kind Kind, sessionID, repo string, prNumber int, commentID int64, author string) CommentEvent {
	return CommentEvent{
		Header:    header(kind, sessionID),
		Repo:      repo,
		PRNumber:  prNumber,
		CommentID: commentID,
		Author:    author,
	}
}

// ReviewSubmitted is published when a PR review lands.
type ReviewSubmitted struct {
	Header
	Repo     string `json:"repo"`
	PRNumber int    `json:"prNumber"`
	Author   string `json:"author"`
	State    string `json:"state"` // approved, changes_requested, commented
}

// Scope routes review events to their mapped session when one exists,
// otherwise to the repository feed.
func (e ReviewSubmitted) Scope() string {
	if e.SessionID != "" {
		return SessionScope(e.SessionID)
	}
	return GitHubScope(e.Repo, e.PRNumber)
}

// NewReviewSubmitted builds a review.submitted event.
func NewReviewSubmitted(sessionID, repo string, prNumber int, author, state string) ReviewSubmitted {
	return ReviewSubmitted{
		Header:   header(KindReviewSubmitted, sessionID),
		Repo:     repo,
		PRNumber: prNumber,
		Author:   author,
		State:    state,
	}
}

// ResponsePosted is published after an outbound response lands on the
// external service. Target is the external key ("owner/repo#1" or
// "channel:threadTs"); ResponseID is the service-assigned id of the
// posted message.
type ResponsePosted struct {
	Header
	Integration string `json:"integration"` // "github" or "slack"
	Target      string `json:"target"`
	ResponseID  string `json:"responseID"`
	URL         string `json:"url,omitempty"`
}

// Scope routes response events to their mapped session when one exists,
// otherwise to the integration target.
func (e ResponsePosted) Scope() string {
	if e.SessionID != "" {
		return SessionScope(e.SessionID)
	}
	return e.Integration + ":" + e.Target
}

// NewResponsePosted builds a response.posted event.
func NewResponsePosted(sessionID, integration, target, responseID string) ResponsePosted {
	return ResponsePosted{
		Header:      header(KindResponsePosted, sessionID),
		Integration: integration,
		Target:      target,
		ResponseID:  responseID,
	}
}

// ThreadEvent is the shared shape for thread.created, thread.updated
// and thread.completed. Status carries the thread lifecycle state for
// thread.completed (completed or error).
type ThreadEvent struct {
	Header
	ChannelID string `json:"channelID"`
	ThreadTS  string `json:"threadTS"`
	UserID    string `json:"userID,omitempty"` // chat-platform user id
	Status    string `json:"status,omitempty"`
}

// Scope routes thread events to their mapped session when one exists,
// otherwise to the chat-thread feed.
func (e ThreadEvent) Scope() string {
	if e.SessionID != "" {
		return SessionScope(e.SessionID)
	}
	return SlackScope(e.ChannelID, e.ThreadTS)
}

// NewThreadEvent builds one of the thread.* events. kind must be
// KindThreadCreated, KindThreadUpdated or KindThreadCompleted.
func NewThreadEvent(kind Kind, sessionID, channelID, threadTS string) ThreadEvent {
	return ThreadEvent{Header: header(kind, sessionID), ChannelID: channelID, ThreadTS: threadTS}
}
