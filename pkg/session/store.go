// Package session holds the authoritative in-memory map of multiplayer
// sessions: membership, client connections, the edit lock, the versioned
// state and the prompt queue. Every mutator emits events on the bus and,
// except cursor updates, advances state.version by exactly one.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/conflict"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/models"
)

// colorPalette is cycled per session for joiners that bring no color.
var colorPalette = [8]string{
	"#2196F3", // blue
	"#4CAF50", // green
	"#FF9800", // orange
	"#9C27B0", // purple
	"#F44336", // red
	"#00BCD4", // cyan
	"#E91E63", // pink
	"#FFC107", // amber
}

// session is the authoritative aggregate. It is only touched while its
// entry mutex is held.
type session struct {
	id         string
	externalID string
	sandboxID  string
	users      map[string]models.User
	clients    map[string]models.Client
	queue      []models.Prompt
	executing  *models.Prompt
	state      models.SessionState
	createdAt  time.Time
	colorIndex int
	resolver   *conflict.Resolver
}

// entry pairs a session with the mutex that serializes its mutations.
// Mutations of different sessions run in parallel.
type entry struct {
	mu      sync.Mutex
	deleted bool
	s       *session
}

// Store is the session coordination core. The outer RWMutex guards the
// lookup maps only; each session serializes its own mutations, and
// events publish while that per-session lock is held so subscribers
// observe them in commit order.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	byExternal map[string]string

	bus         *events.Bus
	limits      config.CoordinationConfig
	conflictCfg config.ConflictConfig
	resolver    *conflict.Resolver

	// now is swappable in tests.
	now func() time.Time
}

// NewStore creates an empty store with the given membership limits and
// default conflict configuration.
func NewStore(limits config.CoordinationConfig, conflictCfg config.ConflictConfig, bus *events.Bus) *Store {
	return &Store{
		sessions:    make(map[string]*entry),
		byExternal:  make(map[string]string),
		bus:         bus,
		limits:      limits,
		conflictCfg: conflictCfg,
		resolver:    conflict.NewResolver(resolverConfig(conflictCfg, "")),
		now:         time.Now,
	}
}

func resolverConfig(cfg config.ConflictConfig, strategyOverride conflict.Strategy) conflict.Config {
	strategy := conflict.Strategy(cfg.Strategy)
	if strategyOverride != "" {
		strategy = strategyOverride
	}
	return conflict.Config{
		Strategy:           strategy,
		NonMergeableFields: cfg.NonMergeableFields,
		MaxVersionDrift:    int64(cfg.MaxVersionDrift),
	}
}

// CreateInput carries the caller-controlled parts of a new session.
type CreateInput struct {
	// ExternalSessionID deduplicates creation: a second create with the
	// same value returns the existing session. Empty means "generate".
	ExternalSessionID string
	// SandboxID optionally binds an execution environment up front.
	SandboxID string
	// ConflictStrategy overrides the store-wide strategy for this
	// session. Empty keeps the default.
	ConflictStrategy conflict.Strategy
}

// Create makes a new session with empty users, clients and queue.
// Supplying an already-known ExternalSessionID returns that session
// instead of creating a duplicate.
func (st *Store) Create(input CreateInput) (models.Session, error) {
	if input.ConflictStrategy != "" && !input.ConflictStrategy.IsValid() {
		return models.Session{}, fmt.Errorf("%w: %s", ErrInvalidStrategy, input.ConflictStrategy)
	}

	for {
		st.mu.Lock()
		if input.ExternalSessionID != "" {
			if id, ok := st.byExternal[input.ExternalSessionID]; ok {
				e := st.sessions[id]
				st.mu.Unlock()
				e.mu.Lock()
				if !e.deleted {
					snap := snapshot(e.s)
					e.mu.Unlock()
					return snap, nil
				}
				// Deleted between lookups; take the create path.
				e.mu.Unlock()
				continue
			}
		}

		id := uuid.New().String()
		externalID := input.ExternalSessionID
		if externalID == "" {
			externalID = id
		}

		s := &session{
			id:         id,
			externalID: externalID,
			sandboxID:  input.SandboxID,
			users:      make(map[string]models.User),
			clients:    make(map[string]models.Client),
			state:      models.NewSessionState(),
			createdAt:  st.now().UTC(),
		}
		if input.ConflictStrategy != "" {
			s.resolver = conflict.NewResolver(resolverConfig(st.conflictCfg, input.ConflictStrategy))
		}
		st.sessions[id] = &entry{s: s}
		st.byExternal[externalID] = id
		st.mu.Unlock()

		snap := snapshot(s)
		st.bus.Publish(events.NewSessionCreated(snap))
		return snap, nil
	}
}

// Delete removes a session. Gateway connections and dispatch slots
// release themselves on the session.deleted event.
func (st *Store) Delete(sessionID string) error {
	st.mu.Lock()
	e, ok := st.sessions[sessionID]
	if !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(st.sessions, sessionID)
	delete(st.byExternal, e.s.externalID)
	st.mu.Unlock()

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	st.bus.Publish(events.NewSessionDeleted(sessionID))
	return nil
}

// Get returns a snapshot of one session.
func (st *Store) Get(sessionID string) (models.Session, error) {
	var snap models.Session
	err := st.withSession(sessionID, func(s *session) error {
		snap = snapshot(s)
		return nil
	})
	return snap, err
}

// GetByExternalID returns a snapshot resolved via externalSessionID.
func (st *Store) GetByExternalID(externalID string) (models.Session, error) {
	st.mu.RLock()
	id, ok := st.byExternal[externalID]
	st.mu.RUnlock()
	if !ok {
		return models.Session{}, fmt.Errorf("%w: external id %s", ErrSessionNotFound, externalID)
	}
	return st.Get(id)
}

// List returns snapshots of all sessions, ordered by creation time.
func (st *Store) List() []models.Session {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	sessions := make([]models.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			sessions = append(sessions, snapshot(e.s))
		}
		e.mu.Unlock()
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// JoinInput carries the joiner's identity and optional presentation.
type JoinInput struct {
	UserID string
	Name   string
	Email  string
	Avatar string
	Color  string
}

// Join adds a user. Re-joining is idempotent: the existing user is
// returned unchanged and no event is emitted. A color from the palette
// is assigned when the joiner brings none.
func (st *Store) Join(sessionID string, input JoinInput) (models.User, error) {
	var user models.User
	err := st.withSession(sessionID, func(s *session) error {
		if existing, ok := s.users[input.UserID]; ok {
			user = existing.Clone()
			return nil
		}
		if len(s.users) >= st.limits.MaxUsersPerSession {
			return fmt.Errorf("%w: %d users", ErrSessionFull, len(s.users))
		}

		color := input.Color
		if color == "" {
			color = colorPalette[s.colorIndex%len(colorPalette)]
			s.colorIndex++
		}
		user = models.User{
			UserID:   input.UserID,
			Name:     input.Name,
			Email:    input.Email,
			Avatar:   input.Avatar,
			Color:    color,
			JoinedAt: st.now().UTC(),
		}
		s.users[user.UserID] = user

		st.bus.Publish(events.NewUserJoined(s.id, user))
		st.bumpVersion(s)
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Leave removes a user, disconnecting all their clients and releasing a
// held edit lock. Derived events keep a fixed order: every
// client.disconnected first, then lock.released when the leaver held
// it, then user.left, then a single state.changed for the whole
// mutation.
func (st *Store) Leave(sessionID, userID string) error {
	return st.withSession(sessionID, func(s *session) error {
		if _, ok := s.users[userID]; !ok {
			return fmt.Errorf("%w: %s", ErrUserNotInSession, userID)
		}

		clientIDs := make([]string, 0, len(s.clients))
		for id, c := range s.clients {
			if c.UserID == userID {
				clientIDs = append(clientIDs, id)
			}
		}
		sort.Strings(clientIDs)
		for _, id := range clientIDs {
			delete(s.clients, id)
			st.bus.Publish(events.NewClientDisconnected(s.id, id, userID))
		}

		if s.state.EditLock == userID {
			s.state.EditLock = ""
			st.bus.Publish(events.NewLockReleased(s.id, userID, s.state.Version+1))
		}

		delete(s.users, userID)
		st.bus.Publish(events.NewUserLeft(s.id, userID))

		st.bumpVersion(s)
		return nil
	})
}

// ConnectInput identifies the connecting client.
type ConnectInput struct {
	UserID string
	Type   models.ClientType
}

// Connect registers a client for a user already in the session. Only
// clients of the same user count against maxClientsPerUser.
func (st *Store) Connect(sessionID string, input ConnectInput) (models.Client, error) {
	var client models.Client
	err := st.withSession(sessionID, func(s *session) error {
		if _, ok := s.users[input.UserID]; !ok {
			return fmt.Errorf("%w: %s", ErrUserNotInSession, input.UserID)
		}
		owned := 0
		for _, c := range s.clients {
			if c.UserID == input.UserID {
				owned++
			}
		}
		if owned >= st.limits.MaxClientsPerUser {
			return fmt.Errorf("%w: %d clients for %s", ErrClientLimitReached, owned, input.UserID)
		}

		clientType := input.Type
		if clientType == "" {
			clientType = models.ClientTypeWeb
		}
		now := st.now().UTC()
		client = models.Client{
			ClientID:     uuid.New().String(),
			UserID:       input.UserID,
			Type:         clientType,
			ConnectedAt:  now,
			LastActivity: now,
		}
		s.clients[client.ClientID] = client

		st.bus.Publish(events.NewClientConnected(s.id, client))
		st.bumpVersion(s)
		return nil
	})
	if err != nil {
		return models.Client{}, err
	}
	return client, nil
}

// Disconnect removes one client. The user stays in the session.
func (st *Store) Disconnect(sessionID, clientID string) error {
	return st.withSession(sessionID, func(s *session) error {
		c, ok := s.clients[clientID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		delete(s.clients, clientID)

		st.bus.Publish(events.NewClientDisconnected(s.id, clientID, c.UserID))
		st.bumpVersion(s)
		return nil
	})
}

// TouchClient refreshes a client's lastActivity. Activity tracking is
// presence-like: no version change, no event.
func (st *Store) TouchClient(sessionID, clientID string) error {
	return st.withSession(sessionID, func(s *session) error {
		c, ok := s.clients[clientID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		c.LastActivity = st.now().UTC()
		s.clients[clientID] = c
		return nil
	})
}

// UpdateCursor moves a user's presence cursor. Presence is not
// versioned: state.version is untouched and only cursor.moved fires.
func (st *Store) UpdateCursor(sessionID, userID string, cursor models.Cursor) error {
	return st.withSession(sessionID, func(s *session) error {
		u, ok := s.users[userID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotInSession, userID)
		}
		c := cursor
		u.Cursor = &c
		s.users[userID] = u

		st.bus.Publish(events.NewCursorMoved(s.id, userID, cursor))
		return nil
	})
}

// AcquireResult reports the outcome of an AcquireLock call.
type AcquireResult string

const (
	// LockAcquired means the caller now holds the edit lock.
	LockAcquired AcquireResult = "acquired"
	// LockAlreadyHeld means someone (possibly the caller) already holds it.
	LockAlreadyHeld AcquireResult = "alreadyHeld"
	// LockNotMember means the caller is not in the session.
	LockNotMember AcquireResult = "notMember"
)

// AcquireLock grants the edit lock when unheld. The returned state
// snapshot names the current holder on LockAlreadyHeld.
func (st *Store) AcquireLock(sessionID, userID string) (AcquireResult, models.SessionState, error) {
	var result AcquireResult
	var state models.SessionState
	err := st.withSession(sessionID, func(s *session) error {
		if _, ok := s.users[userID]; !ok {
			result = LockNotMember
			state = s.state.Clone()
			return nil
		}
		if s.state.EditLock != "" {
			result = LockAlreadyHeld
			state = s.state.Clone()
			return nil
		}

		s.state.EditLock = userID
		st.bus.Publish(events.NewLockAcquired(s.id, userID, s.state.Version+1))
		st.bumpVersion(s)

		result = LockAcquired
		state = s.state.Clone()
		return nil
	})
	if err != nil {
		return "", models.SessionState{}, err
	}
	return result, state, nil
}

// ReleaseLock releases the edit lock. Only the holder may release.
func (st *Store) ReleaseLock(sessionID, userID string) error {
	return st.withSession(sessionID, func(s *session) error {
		if s.state.EditLock != userID {
			return fmt.Errorf("%w: held by %q", ErrNotLockHolder, s.state.EditLock)
		}
		s.state.EditLock = ""
		st.bus.Publish(events.NewLockReleased(s.id, userID, s.state.Version+1))
		st.bumpVersion(s)
		return nil
	})
}

// CanEdit reports whether the user may write: the lock is unheld or
// held by them.
func (st *Store) CanEdit(sessionID, userID string) (bool, error) {
	var can bool
	err := st.withSession(sessionID, func(s *session) error {
		can = s.state.EditLock == "" || s.state.EditLock == userID
		return nil
	})
	return can, err
}

// UpdateState applies a versioned partial update through the session's
// conflict resolver. The outcome reports what was detected, applied or
// rejected; conflict events and state.changed are published here so
// subscribers see them in commit order.
func (st *Store) UpdateState(sessionID string, upd conflict.Update) (conflict.Outcome, error) {
	var outcome conflict.Outcome
	err := st.withSession(sessionID, func(s *session) error {
		resolver := st.sessionResolver(s)
		outcome = resolver.Resolve(stateSnapshot(s), upd)

		if outcome.Detected {
			st.bus.Publish(events.NewConflictDetected(
				s.id, upd.ClientID, outcome.BaseVersion, outcome.CurrentVersion, outcome.ConflictingFields))
		}

		if !outcome.Applied {
			st.bus.Publish(events.NewConflictRejected(
				s.id, upd.ClientID, outcome.Reason,
				outcome.BaseVersion, outcome.CurrentVersion, outcome.ConflictingFields))
			return nil
		}

		// A lock written through the state path must still point at a
		// member, or invariant 1 breaks.
		if outcome.Result.EditLock != "" && outcome.Result.EditLock != s.state.EditLock {
			if _, ok := s.users[outcome.Result.EditLock]; !ok {
				outcome.Applied = false
				outcome.Reason = conflict.ReasonInvalidUpdate
				return fmt.Errorf("%w: lock holder %s", ErrUserNotInSession, outcome.Result.EditLock)
			}
		}

		st.commit(s, outcome.Result)
		st.bus.Publish(events.NewConflictResolved(
			s.id, upd.ClientID, string(resolver.Strategy()), s.state.Version, outcome.MergedFields))
		st.bus.Publish(events.NewStateChanged(s.id, s.state.Clone()))
		return nil
	})
	return outcome, err
}

// GetUsers returns the users of a session, ordered by userID.
func (st *Store) GetUsers(sessionID string) ([]models.User, error) {
	var users []models.User
	err := st.withSession(sessionID, func(s *session) error {
		users = sortedUsers(s)
		return nil
	})
	return users, err
}

// GetClients returns the clients of a session, ordered by clientID.
func (st *Store) GetClients(sessionID string) ([]models.Client, error) {
	var clients []models.Client
	err := st.withSession(sessionID, func(s *session) error {
		clients = sortedClients(s)
		return nil
	})
	return clients, err
}

// GetUser returns one user of a session.
func (st *Store) GetUser(sessionID, userID string) (models.User, error) {
	var user models.User
	err := st.withSession(sessionID, func(s *session) error {
		u, ok := s.users[userID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		user = u.Clone()
		return nil
	})
	return user, err
}

// withSession runs fn with the session's mutation lock held. Events
// published inside fn reach subscribers in commit order.
func (st *Store) withSession(sessionID string, fn func(*session) error) error {
	st.mu.RLock()
	e, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return fn(e.s)
}

// bumpVersion advances state.version by exactly one and publishes the
// closing state.changed for the mutation.
func (st *Store) bumpVersion(s *session) {
	s.state.Version++
	st.bus.Publish(events.NewStateChanged(s.id, s.state.Clone()))
}

// commit writes a resolver result back onto the aggregate.
func (st *Store) commit(s *session, result conflict.Snapshot) {
	s.state.EditLock = result.EditLock
	s.state.GitSyncStatus = result.GitSyncStatus
	s.state.AgentStatus = result.AgentStatus
	s.state.Extra = result.Extra
	s.state.Version = result.Version
	s.sandboxID = result.SandboxID
}

// sessionResolver returns the per-session resolver override, or the
// store-wide default.
func (st *Store) sessionResolver(s *session) *conflict.Resolver {
	if s.resolver != nil {
		return s.resolver
	}
	return st.resolver
}

// stateSnapshot builds the resolver's view of the versioned value.
func stateSnapshot(s *session) conflict.Snapshot {
	return conflict.Snapshot{
		EditLock:      s.state.EditLock,
		SandboxID:     s.sandboxID,
		GitSyncStatus: s.state.GitSyncStatus,
		AgentStatus:   s.state.AgentStatus,
		Extra:         s.state.Extra,
		Version:       s.state.Version,
	}
}

// snapshot copies the aggregate into the wire model. Users and clients
// are sorted so snapshots are deterministic.
func snapshot(s *session) models.Session {
	snap := models.Session{
		ID:                s.id,
		ExternalSessionID: s.externalID,
		SandboxID:         s.sandboxID,
		Users:             sortedUsers(s),
		Clients:           sortedClients(s),
		PromptQueue:       make([]models.Prompt, 0, len(s.queue)),
		State:             s.state.Clone(),
		CreatedAt:         s.createdAt,
	}
	for _, p := range s.queue {
		snap.PromptQueue = append(snap.PromptQueue, p.Clone())
	}
	if s.executing != nil {
		p := s.executing.Clone()
		snap.Executing = &p
	}
	return snap
}

func sortedUsers(s *session) []models.User {
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Clone())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func sortedClients(s *session) []models.Client {
	clients := make([]models.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients
}
