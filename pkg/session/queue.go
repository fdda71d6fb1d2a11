package session

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/huddle/pkg/conflict"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/models"
)

// EnqueueInput carries a new prompt. An empty Priority means normal.
type EnqueueInput struct {
	UserID   string
	Content  string
	Priority models.PromptPriority
}

// Enqueue appends a prompt for a session member. Ordering is FIFO
// within a priority class; urgent runs before high before normal, by
// stable insertion rather than re-sorting.
func (st *Store) Enqueue(sessionID string, input EnqueueInput) (models.Prompt, error) {
	var prompt models.Prompt
	err := st.withSession(sessionID, func(s *session) error {
		if _, ok := s.users[input.UserID]; !ok {
			return fmt.Errorf("%w: %s", ErrUserNotInSession, input.UserID)
		}
		if st.limits.MaxQueueSize > 0 && len(s.queue) >= st.limits.MaxQueueSize {
			return fmt.Errorf("%w: %d prompts", ErrQueueFull, len(s.queue))
		}

		priority := input.Priority
		if priority == "" {
			priority = models.PriorityNormal
		}
		if !priority.IsValid() {
			return fmt.Errorf("invalid priority %q", priority)
		}

		prompt = models.Prompt{
			PromptID: uuid.New().String(),
			UserID:   input.UserID,
			Content:  input.Content,
			Priority: priority,
			Status:   models.PromptQueued,
			QueuedAt: st.now().UTC(),
		}

		// Insert after the last prompt of equal or higher priority.
		position := len(s.queue)
		for i, existing := range s.queue {
			if existing.Priority.Rank() < priority.Rank() {
				position = i
				break
			}
		}
		s.queue = append(s.queue, models.Prompt{})
		copy(s.queue[position+1:], s.queue[position:])
		s.queue[position] = prompt

		st.bus.Publish(events.NewPromptQueued(s.id, prompt.Clone(), position))
		st.bumpVersion(s)
		return nil
	})
	if err != nil {
		return models.Prompt{}, err
	}
	return prompt, nil
}

// StartNext promotes the queue head to executing. Returns nil when a
// prompt is already executing or the queue is empty. The promotion and
// the executing flag flip are one atomic mutation: no observer can see
// the head removed while executing is still unset.
func (st *Store) StartNext(sessionID string) (*models.Prompt, error) {
	var started *models.Prompt
	err := st.withSession(sessionID, func(s *session) error {
		if s.executing != nil || len(s.queue) == 0 {
			return nil
		}

		prompt := s.queue[0]
		s.queue = append([]models.Prompt{}, s.queue[1:]...)

		now := st.now().UTC()
		prompt.Status = models.PromptExecuting
		prompt.StartedAt = &now
		s.executing = &prompt

		st.bus.Publish(events.NewPromptStarted(s.id, prompt.Clone()))
		st.flipAgentStatus(s, models.AgentExecuting)

		p := prompt.Clone()
		started = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// Complete marks the executing prompt finished and returns it. Returns
// nil when nothing is executing.
func (st *Store) Complete(sessionID string) (*models.Prompt, error) {
	var completed *models.Prompt
	err := st.withSession(sessionID, func(s *session) error {
		if s.executing == nil {
			return nil
		}

		prompt := *s.executing
		now := st.now().UTC()
		prompt.Status = models.PromptCompleted
		prompt.CompletedAt = &now
		s.executing = nil

		st.bus.Publish(events.NewPromptCompleted(s.id, prompt.Clone()))
		st.flipAgentStatus(s, models.AgentIdle)

		p := prompt.Clone()
		completed = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// Cancel removes a queued prompt. Only its owner or a manager may
// cancel; the executing prompt is out of reach for queue operations.
func (st *Store) Cancel(sessionID, promptID, userID string, isManager bool) error {
	return st.withSession(sessionID, func(s *session) error {
		if s.executing != nil && s.executing.PromptID == promptID {
			return fmt.Errorf("%w: %s", ErrPromptExecuting, promptID)
		}

		index := -1
		for i, p := range s.queue {
			if p.PromptID == promptID {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrPromptNotFound, promptID)
		}
		if s.queue[index].UserID != userID && !isManager {
			return fmt.Errorf("%w: %s", ErrNotPromptOwner, promptID)
		}

		s.queue = append(s.queue[:index], s.queue[index+1:]...)

		st.bus.Publish(events.NewPromptCancelled(s.id, promptID, userID))
		st.bumpVersion(s)
		return nil
	})
}

// Reorder moves a queued prompt to newIndex, clamped to the queue
// bounds. A prompt never crosses priority classes: if the clamped
// target holds a prompt of a different class, the reorder fails.
func (st *Store) Reorder(sessionID, promptID, userID string, isManager bool, newIndex int) error {
	return st.withSession(sessionID, func(s *session) error {
		if s.executing != nil && s.executing.PromptID == promptID {
			return fmt.Errorf("%w: %s", ErrPromptExecuting, promptID)
		}

		current := -1
		for i, p := range s.queue {
			if p.PromptID == promptID {
				current = i
				break
			}
		}
		if current < 0 {
			return fmt.Errorf("%w: %s", ErrPromptNotFound, promptID)
		}
		prompt := s.queue[current]
		if prompt.UserID != userID && !isManager {
			return fmt.Errorf("%w: %s", ErrNotPromptOwner, promptID)
		}

		target := newIndex
		if target < 0 {
			target = 0
		}
		if target > len(s.queue)-1 {
			target = len(s.queue) - 1
		}
		if s.queue[target].Priority != prompt.Priority {
			return fmt.Errorf("%w: index %d is %s", ErrCrossPriorityReorder, target, s.queue[target].Priority)
		}
		if target == current {
			return nil
		}

		s.queue = append(s.queue[:current], s.queue[current+1:]...)
		s.queue = append(s.queue, models.Prompt{})
		copy(s.queue[target+1:], s.queue[target:])
		s.queue[target] = prompt

		st.bus.Publish(events.NewPromptReordered(s.id, promptID, target))
		st.bumpVersion(s)
		return nil
	})
}

// GetQueue returns the queued prompts in execution order.
func (st *Store) GetQueue(sessionID string) ([]models.Prompt, error) {
	var queue []models.Prompt
	err := st.withSession(sessionID, func(s *session) error {
		queue = make([]models.Prompt, 0, len(s.queue))
		for _, p := range s.queue {
			queue = append(queue, p.Clone())
		}
		return nil
	})
	return queue, err
}

// GetPrompt returns one prompt, queued or executing.
func (st *Store) GetPrompt(sessionID, promptID string) (models.Prompt, error) {
	var prompt models.Prompt
	err := st.withSession(sessionID, func(s *session) error {
		if s.executing != nil && s.executing.PromptID == promptID {
			prompt = s.executing.Clone()
			return nil
		}
		for _, p := range s.queue {
			if p.PromptID == promptID {
				prompt = p.Clone()
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrPromptNotFound, promptID)
	})
	return prompt, err
}

// Runnable lists sessions with a non-empty queue and nothing executing,
// oldest head first, for the dispatcher's poll loop.
func (st *Store) Runnable() []string {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	type head struct {
		sessionID string
		queuedAt  int64
	}
	var heads []head
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && e.s.executing == nil && len(e.s.queue) > 0 {
			heads = append(heads, head{e.s.id, e.s.queue[0].QueuedAt.UnixNano()})
		}
		e.mu.Unlock()
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].queuedAt < heads[j].queuedAt })

	ids := make([]string, 0, len(heads))
	for _, h := range heads {
		ids = append(ids, h.sessionID)
	}
	return ids
}

// flipAgentStatus routes an agent status change through the resolver so
// queue promotions version exactly like client updates.
func (st *Store) flipAgentStatus(s *session, status models.AgentStatus) {
	resolver := st.sessionResolver(s)
	outcome := resolver.Resolve(stateSnapshot(s), conflict.Update{
		BaseVersion: s.state.Version,
		Delta:       conflict.StateDelta{AgentStatus: &status},
		Timestamp:   st.now(),
	})

	st.commit(s, outcome.Result)
	st.bus.Publish(events.NewConflictResolved(
		s.id, "", string(resolver.Strategy()), s.state.Version, outcome.MergedFields))
	st.bus.Publish(events.NewStateChanged(s.id, s.state.Clone()))
}
