package models

import "time"

// PromptPriority orders prompts across priority classes.
type PromptPriority string

const (
	PriorityNormal PromptPriority = "normal"
	PriorityHigh   PromptPriority = "high"
	PriorityUrgent PromptPriority = "urgent"
)

// Rank returns the numeric ordering of the priority class; higher runs first.
func (p PromptPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 2
	case PriorityHigh:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether the priority is one of the known classes.
func (p PromptPriority) IsValid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PromptStatus is the prompt lifecycle state.
// Transitions: queued → executing → completed; cancelled only from queued.
type PromptStatus string

const (
	PromptQueued    PromptStatus = "queued"
	PromptExecuting PromptStatus = "executing"
	PromptCompleted PromptStatus = "completed"
	PromptCancelled PromptStatus = "cancelled"
)

// Prompt is one unit of queued agent work.
type Prompt struct {
	PromptID    string         `json:"promptID"`
	UserID      string         `json:"userID"`
	Content     string         `json:"content"`
	Priority    PromptPriority `json:"priority"`
	Status      PromptStatus   `json:"status"`
	QueuedAt    time.Time      `json:"queuedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the prompt.
func (p Prompt) Clone() Prompt {
	out := p
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
