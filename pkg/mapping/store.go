// Package mapping links external identities (a pull request, a chat
// thread) to internal session ids. Each integration owns one Store
// instance; entries are refreshed on every inbound event, idle-evicted
// by a background janitor, and capacity-evicted least-recently-active
// first.
package mapping

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/huddle/pkg/config"
)

// Mapping links one external key to an internal session.
type Mapping[E any] struct {
	ExternalKey    string    `json:"externalKey"`
	SessionID      string    `json:"sessionID"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`

	// Extra carries integration-specific metadata (PR details, thread
	// status). Mutate it through Update, never on a returned copy.
	Extra E `json:"extra"`
}

// Store is a bounded, idle-evicting map of external keys to sessions.
// All methods are safe for concurrent use; lookups return copies.
type Store[E any] struct {
	name string
	cfg  *config.MappingConfig

	mu        sync.Mutex
	entries   map[string]*Mapping[E]
	bySession map[string]string

	// scopeOf groups keys for ForScope (e.g. "owner/repo#42" -> "owner/repo").
	scopeOf func(externalKey string) string

	retain  func(Mapping[E]) bool
	onEvict func(Mapping[E])

	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a mapping store. name labels janitor logs; scopeOf
// derives the ForScope grouping from a key and may be nil if the
// integration never queries by scope.
func NewStore[E any](name string, cfg *config.MappingConfig, scopeOf func(externalKey string) string) *Store[E] {
	return &Store[E]{
		name:      name,
		cfg:       cfg,
		entries:   make(map[string]*Mapping[E]),
		bySession: make(map[string]string),
		scopeOf:   scopeOf,
		now:       time.Now,
	}
}

// OnEvict registers fn to run after a mapping is removed, whether
// deleted explicitly or evicted for idleness or capacity. Adapters use
// it to mass-delete auxiliary rows keyed by the external key. Set it
// during wiring, before the store is shared.
func (s *Store[E]) OnEvict(fn func(Mapping[E])) {
	s.onEvict = fn
}

// RetainWhen exempts mappings for which fn returns true from idle
// eviction. Capacity eviction ignores the hook: the cap is hard. Set it
// during wiring, before the store is shared.
func (s *Store[E]) RetainWhen(fn func(Mapping[E]) bool) {
	s.retain = fn
}

// CreateOrGet returns the mapping for externalKey, creating it if this
// is the first event for that key. Existing mappings get their activity
// refreshed. Creating past MaxMappings first evicts the single
// least-recently-active entry.
func (s *Store[E]) CreateOrGet(externalKey, sessionID string, extra E) (Mapping[E], bool) {
	s.mu.Lock()
	if m, ok := s.entries[externalKey]; ok {
		m.LastActivityAt = s.now()
		out := *m
		s.mu.Unlock()
		return out, false
	}

	var evicted []Mapping[E]
	if s.cfg.MaxMappings > 0 && len(s.entries) >= s.cfg.MaxMappings {
		if victim, ok := s.evictOldestLocked(); ok {
			evicted = append(evicted, victim)
		}
	}

	now := s.now()
	m := &Mapping[E]{
		ExternalKey:    externalKey,
		SessionID:      sessionID,
		CreatedAt:      now,
		LastActivityAt: now,
		Extra:          extra,
	}
	s.entries[externalKey] = m
	s.bySession[sessionID] = externalKey
	out := *m
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	return out, true
}

// Get returns a copy of the mapping for externalKey.
func (s *Store[E]) Get(externalKey string) (Mapping[E], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[externalKey]
	if !ok {
		return Mapping[E]{}, false
	}
	return *m, true
}

// GetBySession returns a copy of the mapping pointing at sessionID.
func (s *Store[E]) GetBySession(sessionID string) (Mapping[E], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.bySession[sessionID]
	if !ok {
		return Mapping[E]{}, false
	}
	m, ok := s.entries[key]
	if !ok {
		return Mapping[E]{}, false
	}
	return *m, true
}

// Touch refreshes the mapping's LastActivityAt.
func (s *Store[E]) Touch(externalKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[externalKey]
	if !ok {
		return false
	}
	m.LastActivityAt = s.now()
	return true
}

// Update applies fn to the mapping's extra payload under the store
// lock. It does not refresh LastActivityAt; callers that want both
// Touch separately.
func (s *Store[E]) Update(externalKey string, fn func(extra *E)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[externalKey]
	if !ok {
		return false
	}
	fn(&m.Extra)
	return true
}

// Delete removes the mapping and fires the eviction hook.
func (s *Store[E]) Delete(externalKey string) bool {
	s.mu.Lock()
	m, ok := s.entries[externalKey]
	if !ok {
		s.mu.Unlock()
		return false
	}
	removed := *m
	s.removeLocked(m)
	s.mu.Unlock()

	s.notifyEvicted([]Mapping[E]{removed})
	return true
}

// ForScope returns copies of every mapping whose key belongs to scope,
// ordered by external key. Returns nil when the store was built
// without a scope function.
func (s *Store[E]) ForScope(scope string) []Mapping[E] {
	if s.scopeOf == nil {
		return nil
	}
	s.mu.Lock()
	var out []Mapping[E]
	for key, m := range s.entries {
		if s.scopeOf(key) == scope {
			out = append(out, *m)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExternalKey < out[j].ExternalKey })
	return out
}

// All returns copies of every live mapping, ordered by external key.
func (s *Store[E]) All() []Mapping[E] {
	s.mu.Lock()
	out := make([]Mapping[E], 0, len(s.entries))
	for _, m := range s.entries {
		out = append(out, *m)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExternalKey < out[j].ExternalKey })
	return out
}

// Count returns the number of live mappings.
func (s *Store[E]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CleanupStale evicts every mapping idle for longer than IdleTimeout,
// skipping retained ones. Returns the number evicted.
func (s *Store[E]) CleanupStale() int {
	s.mu.Lock()
	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	var evicted []Mapping[E]
	for _, m := range s.entries {
		if !m.LastActivityAt.Before(cutoff) {
			continue
		}
		if s.retain != nil && s.retain(*m) {
			continue
		}
		evicted = append(evicted, *m)
	}
	for i := range evicted {
		s.removeLocked(s.entries[evicted[i].ExternalKey])
	}
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	return len(evicted)
}

// CleanupOldest evicts the single entry with the smallest
// LastActivityAt, ignoring the retain hook.
func (s *Store[E]) CleanupOldest() (Mapping[E], bool) {
	s.mu.Lock()
	victim, ok := s.evictOldestLocked()
	s.mu.Unlock()

	if ok {
		s.notifyEvicted([]Mapping[E]{victim})
	}
	return victim, ok
}

// Start launches the periodic stale-mapping sweep. A non-positive
// CleanupInterval disables the janitor.
func (s *Store[E]) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Mapping janitor started",
		"store", s.name,
		"idle_timeout", s.cfg.IdleTimeout,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the janitor to exit and waits for it to finish.
func (s *Store[E]) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Mapping janitor stopped", "store", s.name)
}

func (s *Store[E]) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.CleanupStale(); n > 0 {
				slog.Info("Evicted stale mappings", "store", s.name, "count", n)
			}
		}
	}
}

func (s *Store[E]) evictOldestLocked() (Mapping[E], bool) {
	var oldest *Mapping[E]
	for _, m := range s.entries {
		if oldest == nil || m.LastActivityAt.Before(oldest.LastActivityAt) ||
			(m.LastActivityAt.Equal(oldest.LastActivityAt) && m.ExternalKey < oldest.ExternalKey) {
			oldest = m
		}
	}
	if oldest == nil {
		return Mapping[E]{}, false
	}
	victim := *oldest
	s.removeLocked(oldest)
	return victim, true
}

func (s *Store[E]) removeLocked(m *Mapping[E]) {
	delete(s.entries, m.ExternalKey)
	if s.bySession[m.SessionID] == m.ExternalKey {
		delete(s.bySession, m.SessionID)
	}
}

// notifyEvicted runs the eviction hook outside the store lock so the
// hook may call back into the store.
func (s *Store[E]) notifyEvicted(evicted []Mapping[E]) {
	if s.onEvict == nil {
		return
	}
	for _, m := range evicted {
		s.onEvict(m)
	}
}
