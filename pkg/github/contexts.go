package github

import (
	"sync"
	"time"
)

// CommentContext records where an inbound comment sits in its PR so a
// later response can land as an inline reply. Contexts carry the
// mapping key so they can be mass-deleted when the PR mapping goes
// away.
type CommentContext struct {
	CommentID int64     `json:"commentID"`
	Key       string    `json:"key"`            // PRKey of the owning pull request
	Path      string    `json:"path,omitempty"` // empty for top-level issue comments
	Line      int       `json:"line,omitempty"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContextStore is the auxiliary table of comment contexts, keyed by the
// vendor comment id.
type ContextStore struct {
	mu   sync.Mutex
	byID map[int64]CommentContext
}

// NewContextStore creates an empty comment-context table.
func NewContextStore() *ContextStore {
	return &ContextStore{byID: make(map[int64]CommentContext)}
}

// Put inserts or replaces the context for ctx.CommentID.
func (s *ContextStore) Put(ctx CommentContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[ctx.CommentID] = ctx
}

// Get returns the context recorded for commentID.
func (s *ContextStore) Get(commentID int64) (CommentContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.byID[commentID]
	return ctx, ok
}

// DeleteForKey removes every context belonging to the given mapping key
// and returns how many were dropped. Wired to the mapping store's
// eviction hook.
func (s *ContextStore) DeleteForKey(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ctx := range s.byID {
		if ctx.Key == key {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// Count returns the number of stored contexts.
func (s *ContextStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
