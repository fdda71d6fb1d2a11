// Package dispatch promotes queued prompts into agent invocations: a
// small worker pool polls the session store for runnable sessions,
// claims queue heads, and makes the opaque outbound call.
package dispatch

import (
	"context"
	"errors"
	"time"
)

// ErrNothingRunnable indicates no session currently has a claimable
// queue head. Workers back off on it.
var ErrNothingRunnable = errors.New("nothing runnable")

// Invocation is the opaque agent call payload. The dispatcher fills it
// from the claimed prompt and its session; the agent interprets it.
type Invocation struct {
	SessionID         string `json:"sessionID"`
	ExternalSessionID string `json:"externalSessionID,omitempty"`
	SandboxID         string `json:"sandboxID,omitempty"`
	PromptID          string `json:"promptID"`
	Prompt            string `json:"prompt"`
}

// Result carries whatever status the agent chose to report. The
// dispatcher observes it without interpreting it.
type Result struct {
	Status string `json:"status,omitempty"`
}

// Invoker makes one agent call. Implementations must honor ctx; the
// pool cancels it on session deletion and shutdown timeout.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// WorkerStatus is the current state of one dispatch worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth is the dispatcher snapshot served on the health endpoint.
type PoolHealth struct {
	IsHealthy           bool           `json:"isHealthy"`
	ActiveWorkers       int            `json:"activeWorkers"`
	TotalWorkers        int            `json:"totalWorkers"`
	RunnableSessions    int            `json:"runnableSessions"`
	InflightInvocations int            `json:"inflightInvocations"`
	WorkerStats         []WorkerHealth `json:"workerStats"`
}

// WorkerHealth is one worker's slice of the pool snapshot.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	CurrentSessionID  string    `json:"currentSessionID,omitempty"`
	PromptsDispatched int       `json:"promptsDispatched"`
	LastActivity      time.Time `json:"lastActivity"`
}
