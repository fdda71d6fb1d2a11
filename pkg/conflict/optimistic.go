package conflict

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// PendingUpdate is one optimistic write awaiting server confirmation.
type PendingUpdate struct {
	ID        string
	Update    Update
	TrackedAt time.Time
}

// OptimisticUpdater is the client-side companion of the resolver: it
// tracks updates applied locally before the server confirmed them, so a
// reconnecting client can replay what is still unconfirmed. Safe for
// concurrent use.
type OptimisticUpdater struct {
	mu      sync.Mutex
	pending map[string]PendingUpdate
	order   []string
}

// NewOptimisticUpdater creates an empty updater.
func NewOptimisticUpdater() *OptimisticUpdater {
	return &OptimisticUpdater{pending: make(map[string]PendingUpdate)}
}

// Track records an update and returns its generated id.
func (o *OptimisticUpdater) Track(upd Update) string {
	id := shortuuid.New()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[id] = PendingUpdate{ID: id, Update: upd, TrackedAt: time.Now()}
	o.order = append(o.order, id)
	return id
}

// Confirm drops a confirmed update. Returns false for unknown ids.
func (o *OptimisticUpdater) Confirm(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[id]; !ok {
		return false
	}
	o.remove(id)
	return true
}

// Rollback removes and returns a pending update so the caller can undo
// its local effects. Returns false for unknown ids.
func (o *OptimisticUpdater) Rollback(id string) (Update, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[id]
	if !ok {
		return Update{}, false
	}
	o.remove(id)
	return p.Update, true
}

// Pending lists unconfirmed updates in tracking order, for replay after
// a reconnect.
func (o *OptimisticUpdater) Pending() []PendingUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingUpdate, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.pending[id])
	}
	return out
}

// remove must be called with the mutex held.
func (o *OptimisticUpdater) remove(id string) {
	delete(o.pending, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}
