package gateway

import "github.com/codeready-toolchain/huddle/pkg/models"

// Error codes carried in error frames. Pre-registration failures also
// close the socket with a policy-violation status.
const (
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeUserNotInSession   = "USER_NOT_IN_SESSION"
	CodeClientLimitReached = "CLIENT_LIMIT_REACHED"
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeLockHeld           = "LOCK_HELD"
	CodeParseError         = "PARSE_ERROR"
)

// clientMessage is one inbound frame. Type selects the operation;
// unknown types earn an INVALID_MESSAGE error frame.
type clientMessage struct {
	Type   string         `json:"type"`
	Cursor *models.Cursor `json:"cursor,omitempty"`
}

// errorFrame tells the client why an operation or the whole connection
// failed. Holder names the current lock holder on LOCK_HELD.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Holder  string `json:"holder,omitempty"`
}

func newErrorFrame(code, message string) errorFrame {
	return errorFrame{Type: "error", Code: code, Message: message}
}

// snapshotFrame carries the full session value, sent once right after
// registration.
type snapshotFrame struct {
	Type    string         `json:"type"`
	Session models.Session `json:"session"`
}

type pongFrame struct {
	Type string `json:"type"`
}
