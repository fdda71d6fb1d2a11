package session

import "errors"

// Sentinel errors returned by store mutators. The HTTP layer maps these
// to status codes; callers branch with errors.Is.
var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionFull indicates the session reached maxUsersPerSession.
	ErrSessionFull = errors.New("session full")

	// ErrUserNotInSession indicates the user is not a member.
	ErrUserNotInSession = errors.New("user not in session")

	// ErrUserNotFound indicates an unknown user id within a session.
	ErrUserNotFound = errors.New("user not found")

	// ErrClientNotFound indicates an unknown client id.
	ErrClientNotFound = errors.New("client not found")

	// ErrClientLimitReached indicates the user reached maxClientsPerUser.
	ErrClientLimitReached = errors.New("client limit reached")

	// ErrNotLockHolder indicates a release attempt by a non-holder.
	ErrNotLockHolder = errors.New("edit lock held by another user")

	// ErrQueueFull indicates the prompt queue reached maxQueueSize.
	ErrQueueFull = errors.New("prompt queue full")

	// ErrPromptNotFound indicates an unknown prompt id.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrPromptExecuting indicates a queue operation aimed at the
	// currently executing prompt.
	ErrPromptExecuting = errors.New("prompt is executing")

	// ErrNotPromptOwner indicates a cancel/reorder by a caller who
	// neither owns the prompt nor manages the session.
	ErrNotPromptOwner = errors.New("not the prompt owner")

	// ErrCrossPriorityReorder indicates a reorder whose target index
	// lies in a different priority class.
	ErrCrossPriorityReorder = errors.New("reorder crosses priority classes")

	// ErrInvalidStrategy indicates an unknown per-session conflict
	// strategy override.
	ErrInvalidStrategy = errors.New("invalid conflict strategy")
)
