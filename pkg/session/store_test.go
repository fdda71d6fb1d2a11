package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/conflict"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/models"
)

func newTestStore() (*Store, *events.Bus) {
	bus := events.NewBus()
	store := NewStore(
		config.CoordinationConfig{MaxUsersPerSession: 3, MaxClientsPerUser: 2, MaxQueueSize: 5},
		config.ConflictConfig{
			Strategy:           string(conflict.StrategyLastWriteWins),
			NonMergeableFields: []string{models.FieldEditLock},
			MaxVersionDrift:    10,
		},
		bus,
	)
	return store, bus
}

// recorder collects published events for order assertions.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	bus.Subscribe(func(evt events.Event) {
		r.mu.Lock()
		r.events = append(r.events, evt)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Kind())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func mustJoin(t *testing.T, store *Store, sessionID, userID string) models.User {
	t.Helper()
	user, err := store.Join(sessionID, JoinInput{UserID: userID, Name: userID})
	require.NoError(t, err)
	return user
}

func TestCreate(t *testing.T) {
	t.Run("new session starts empty at version zero", func(t *testing.T) {
		store, bus := newTestStore()
		rec := record(bus)

		s, err := store.Create(CreateInput{ExternalSessionID: "ext-1", SandboxID: "sbx-1"})
		require.NoError(t, err)

		assert.NotEmpty(t, s.ID)
		assert.Equal(t, "ext-1", s.ExternalSessionID)
		assert.Equal(t, "sbx-1", s.SandboxID)
		assert.Empty(t, s.Users)
		assert.Empty(t, s.Clients)
		assert.Empty(t, s.PromptQueue)
		assert.Nil(t, s.Executing)
		assert.Equal(t, int64(0), s.State.Version)
		assert.Equal(t, models.GitSyncPending, s.State.GitSyncStatus)
		assert.Equal(t, models.AgentIdle, s.State.AgentStatus)
		assert.Equal(t, []events.Kind{events.KindSessionCreated}, rec.kinds())
	})

	t.Run("create with known external id returns the existing session", func(t *testing.T) {
		store, bus := newTestStore()
		first, err := store.Create(CreateInput{ExternalSessionID: "ext-1"})
		require.NoError(t, err)
		rec := record(bus)

		second, err := store.Create(CreateInput{ExternalSessionID: "ext-1"})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Empty(t, rec.kinds(), "idempotent create emits nothing")
		assert.Equal(t, 1, store.Count())
	})

	t.Run("empty external id defaults to the internal id", func(t *testing.T) {
		store, _ := newTestStore()
		s, err := store.Create(CreateInput{})
		require.NoError(t, err)
		assert.Equal(t, s.ID, s.ExternalSessionID)
	})

	t.Run("unknown strategy override is rejected", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.Create(CreateInput{ConflictStrategy: "newest-wins"})
		assert.ErrorIs(t, err, ErrInvalidStrategy)
	})
}

func TestJoin(t *testing.T) {
	t.Run("joiners without a color get palette colors in order", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})

		a := mustJoin(t, store, s.ID, "user-a")
		b := mustJoin(t, store, s.ID, "user-b")

		assert.Equal(t, colorPalette[0], a.Color)
		assert.Equal(t, colorPalette[1], b.Color)
		assert.False(t, a.JoinedAt.IsZero())
	})

	t.Run("a supplied color is kept", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})

		u, err := store.Join(s.ID, JoinInput{UserID: "user-a", Color: "#ABCDEF"})
		require.NoError(t, err)
		assert.Equal(t, "#ABCDEF", u.Color)
	})

	t.Run("rejoin is idempotent with a single joined event", func(t *testing.T) {
		store, bus := newTestStore()
		s, _ := store.Create(CreateInput{})
		rec := record(bus)

		first := mustJoin(t, store, s.ID, "user-a")
		versionAfterFirst := mustVersion(t, store, s.ID)
		second := mustJoin(t, store, s.ID, "user-a")

		assert.Equal(t, first, second)
		assert.Equal(t, versionAfterFirst, mustVersion(t, store, s.ID), "rejoin must not version")
		assert.Equal(t, []events.Kind{events.KindUserJoined, events.KindStateChanged}, rec.kinds())
	})

	t.Run("session full rejects only new users", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		mustJoin(t, store, s.ID, "user-b")
		mustJoin(t, store, s.ID, "user-c")

		_, err := store.Join(s.ID, JoinInput{UserID: "user-d"})
		assert.ErrorIs(t, err, ErrSessionFull)

		_, err = store.Join(s.ID, JoinInput{UserID: "user-a"})
		assert.NoError(t, err, "an existing user always gets through")
	})

	t.Run("unknown session fails", func(t *testing.T) {
		store, _ := newTestStore()
		_, err := store.Join("missing", JoinInput{UserID: "user-a"})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestConnect(t *testing.T) {
	t.Run("connect requires membership", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})

		_, err := store.Connect(s.ID, ConnectInput{UserID: "ghost"})
		assert.ErrorIs(t, err, ErrUserNotInSession)
	})

	t.Run("client limit counts only the same user's clients", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		mustJoin(t, store, s.ID, "user-b")

		_, err := store.Connect(s.ID, ConnectInput{UserID: "user-a", Type: models.ClientTypeWeb})
		require.NoError(t, err)
		_, err = store.Connect(s.ID, ConnectInput{UserID: "user-a", Type: models.ClientTypeExtension})
		require.NoError(t, err)

		_, err = store.Connect(s.ID, ConnectInput{UserID: "user-a", Type: models.ClientTypeMobile})
		assert.ErrorIs(t, err, ErrClientLimitReached)

		_, err = store.Connect(s.ID, ConnectInput{UserID: "user-b"})
		assert.NoError(t, err, "another user's clients are unaffected")
	})

	t.Run("disconnect removes the client and versions once", func(t *testing.T) {
		store, bus := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		c, err := store.Connect(s.ID, ConnectInput{UserID: "user-a"})
		require.NoError(t, err)

		before := mustVersion(t, store, s.ID)
		rec := record(bus)
		require.NoError(t, store.Disconnect(s.ID, c.ClientID))

		assert.Equal(t, before+1, mustVersion(t, store, s.ID))
		assert.Equal(t, []events.Kind{events.KindClientDisconnected, events.KindStateChanged}, rec.kinds())

		assert.ErrorIs(t, store.Disconnect(s.ID, c.ClientID), ErrClientNotFound)
	})

	t.Run("touch refreshes activity without events", func(t *testing.T) {
		store, bus := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		c, _ := store.Connect(s.ID, ConnectInput{UserID: "user-a"})

		rec := record(bus)
		before := mustVersion(t, store, s.ID)
		require.NoError(t, store.TouchClient(s.ID, c.ClientID))

		assert.Empty(t, rec.kinds())
		assert.Equal(t, before, mustVersion(t, store, s.ID))
	})
}

func TestLeaveEventOrder(t *testing.T) {
	// Lock contention walk-through: the leaver holds the lock and two
	// clients; derived events keep a fixed order with one version bump.
	store, bus := newTestStore()
	s, _ := store.Create(CreateInput{})
	mustJoin(t, store, s.ID, "user-a")
	mustJoin(t, store, s.ID, "user-b")
	mustJoin(t, store, s.ID, "user-c")
	_, err := store.Connect(s.ID, ConnectInput{UserID: "user-a", Type: models.ClientTypeWeb})
	require.NoError(t, err)
	_, err = store.Connect(s.ID, ConnectInput{UserID: "user-a", Type: models.ClientTypeExtension})
	require.NoError(t, err)

	result, _, err := store.AcquireLock(s.ID, "user-a")
	require.NoError(t, err)
	require.Equal(t, LockAcquired, result)

	result, state, err := store.AcquireLock(s.ID, "user-b")
	require.NoError(t, err)
	assert.Equal(t, LockAlreadyHeld, result)
	assert.Equal(t, "user-a", state.EditLock)

	before := mustVersion(t, store, s.ID)
	rec := record(bus)
	require.NoError(t, store.Leave(s.ID, "user-a"))

	assert.Equal(t, []events.Kind{
		events.KindClientDisconnected,
		events.KindClientDisconnected,
		events.KindLockReleased,
		events.KindUserLeft,
		events.KindStateChanged,
	}, rec.kinds())
	assert.Equal(t, before+1, mustVersion(t, store, s.ID), "leave versions exactly once")

	// The lock is free again and the leaver is fully gone.
	snap, err := store.Get(s.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.State.EditLock)
	assert.False(t, snap.HasUser("user-a"))
	for _, c := range snap.Clients {
		assert.NotEqual(t, "user-a", c.UserID)
	}

	result, _, err = store.AcquireLock(s.ID, "user-c")
	require.NoError(t, err)
	assert.Equal(t, LockAcquired, result)
}

func TestLeaveWithoutLockOrClients(t *testing.T) {
	store, bus := newTestStore()
	s, _ := store.Create(CreateInput{})
	mustJoin(t, store, s.ID, "user-a")

	rec := record(bus)
	require.NoError(t, store.Leave(s.ID, "user-a"))

	assert.Equal(t, []events.Kind{events.KindUserLeft, events.KindStateChanged}, rec.kinds())

	assert.ErrorIs(t, store.Leave(s.ID, "user-a"), ErrUserNotInSession)
}

func TestLocks(t *testing.T) {
	t.Run("non member may not acquire", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})

		result, _, err := store.AcquireLock(s.ID, "ghost")
		require.NoError(t, err)
		assert.Equal(t, LockNotMember, result)
	})

	t.Run("reacquire by the holder reports alreadyHeld", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")

		result, _, _ := store.AcquireLock(s.ID, "user-a")
		require.Equal(t, LockAcquired, result)

		result, state, _ := store.AcquireLock(s.ID, "user-a")
		assert.Equal(t, LockAlreadyHeld, result)
		assert.Equal(t, "user-a", state.EditLock)
	})

	t.Run("only the holder may release", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		mustJoin(t, store, s.ID, "user-b")

		_, _, err := store.AcquireLock(s.ID, "user-a")
		require.NoError(t, err)

		assert.ErrorIs(t, store.ReleaseLock(s.ID, "user-b"), ErrNotLockHolder)
		assert.NoError(t, store.ReleaseLock(s.ID, "user-a"))
		assert.ErrorIs(t, store.ReleaseLock(s.ID, "user-a"), ErrNotLockHolder,
			"releasing an unheld lock fails")
	})

	t.Run("canEdit follows the lock", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		mustJoin(t, store, s.ID, "user-b")

		can, err := store.CanEdit(s.ID, "user-b")
		require.NoError(t, err)
		assert.True(t, can, "unheld lock means everyone edits")

		_, _, err = store.AcquireLock(s.ID, "user-a")
		require.NoError(t, err)

		can, _ = store.CanEdit(s.ID, "user-a")
		assert.True(t, can)
		can, _ = store.CanEdit(s.ID, "user-b")
		assert.False(t, can)
	})

	t.Run("at most one acquire succeeds without an intervening release", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		mustJoin(t, store, s.ID, "user-a")
		mustJoin(t, store, s.ID, "user-b")
		mustJoin(t, store, s.ID, "user-c")

		var mu sync.Mutex
		acquired := 0
		var wg sync.WaitGroup
		for _, u := range []string{"user-a", "user-b", "user-c"} {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				result, _, err := store.AcquireLock(s.ID, u)
				if err == nil && result == LockAcquired {
					mu.Lock()
					acquired++
					mu.Unlock()
				}
			}(u)
		}
		wg.Wait()
		assert.Equal(t, 1, acquired)
	})
}

func TestUpdateState(t *testing.T) {
	agentDelta := func(s models.AgentStatus) conflict.StateDelta {
		return conflict.StateDelta{AgentStatus: &s}
	}

	t.Run("fresh update applies and publishes resolved then changed", func(t *testing.T) {
		store, bus := newTestStore()
		s, _ := store.Create(CreateInput{})
		rec := record(bus)

		out, err := store.UpdateState(s.ID, conflict.Update{
			BaseVersion: 0,
			Delta:       agentDelta(models.AgentThinking),
			ClientID:    "client-1",
		})
		require.NoError(t, err)
		require.True(t, out.Applied)

		assert.Equal(t, []events.Kind{events.KindConflictResolved, events.KindStateChanged}, rec.kinds())
		snap, _ := store.Get(s.ID)
		assert.Equal(t, models.AgentThinking, snap.State.AgentStatus)
		assert.Equal(t, int64(1), snap.State.Version)
	})

	t.Run("stale update under last-write-wins applies with detection", func(t *testing.T) {
		store, bus := newTestStore()
		s, _ := store.Create(CreateInput{})
		_, err := store.UpdateState(s.ID, conflict.Update{BaseVersion: 0, Delta: agentDelta(models.AgentThinking)})
		require.NoError(t, err)

		rec := record(bus)
		out, err := store.UpdateState(s.ID, conflict.Update{BaseVersion: 0, Delta: agentDelta(models.AgentWaiting)})
		require.NoError(t, err)

		require.True(t, out.Applied)
		assert.True(t, out.Detected)
		assert.Equal(t, []events.Kind{
			events.KindConflictDetected,
			events.KindConflictResolved,
			events.KindStateChanged,
		}, rec.kinds())
	})

	t.Run("merge applies a stale mergeable update in full", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{ConflictStrategy: conflict.StrategyMerge})
		mustJoin(t, store, s.ID, "user-a")
		_, _, err := store.AcquireLock(s.ID, "user-a")
		require.NoError(t, err)
		// One more bump so the base below (1) is stale against current (3).
		_, err = store.UpdateState(s.ID, conflict.Update{BaseVersion: 2, Delta: agentDelta(models.AgentWaiting)})
		require.NoError(t, err)

		out, err := store.UpdateState(s.ID, conflict.Update{
			BaseVersion: 1,
			Delta: conflict.StateDelta{
				AgentStatus: func() *models.AgentStatus { v := models.AgentThinking; return &v }(),
				Extra:       map[string]any{"customField": "x"},
			},
		})
		require.NoError(t, err)
		require.True(t, out.Applied)
		assert.ElementsMatch(t, []string{models.FieldAgentStatus, "customField"}, out.MergedFields)

		snap, _ := store.Get(s.ID)
		assert.Equal(t, models.AgentThinking, snap.State.AgentStatus)
		assert.Equal(t, "x", snap.State.Extra["customField"])
		assert.Equal(t, "user-a", snap.State.EditLock, "untouched lock survives the merge")
		assert.Equal(t, int64(4), snap.State.Version)
	})

	t.Run("merge refuses to steal a held lock", func(t *testing.T) {
		store, bus := newTestStore()
		s, _ := store.Create(CreateInput{ConflictStrategy: conflict.StrategyMerge})
		mustJoin(t, store, s.ID, "user-a")
		mustJoin(t, store, s.ID, "user-b")
		_, _, err := store.AcquireLock(s.ID, "user-a")
		require.NoError(t, err)

		rec := record(bus)
		steal := "user-b"
		out, err := store.UpdateState(s.ID, conflict.Update{
			BaseVersion: 1, // stale: join+join+acquire bumped to 3
			Delta:       conflict.StateDelta{EditLock: &steal},
		})
		require.NoError(t, err)

		require.False(t, out.Applied)
		assert.Equal(t, conflict.ReasonNonMergeable, out.Reason)
		assert.Equal(t, []events.Kind{events.KindConflictDetected, events.KindConflictRejected}, rec.kinds())

		snap, _ := store.Get(s.ID)
		assert.Equal(t, "user-a", snap.State.EditLock, "rejected update leaves state untouched")
		assert.Equal(t, int64(3), snap.State.Version)
	})

	t.Run("drift beyond the bound rejects", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		for i := 0; i < 12; i++ {
			_, err := store.UpdateState(s.ID, conflict.Update{
				BaseVersion: int64(i),
				Delta:       agentDelta(models.AgentThinking),
			})
			require.NoError(t, err)
		}

		out, err := store.UpdateState(s.ID, conflict.Update{BaseVersion: 0, Delta: agentDelta(models.AgentIdle)})
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Equal(t, conflict.ReasonVersionDrift, out.Reason)
	})

	t.Run("state path may not hand the lock to a stranger", func(t *testing.T) {
		store, _ := newTestStore()
		s, _ := store.Create(CreateInput{})
		ghost := "ghost"

		_, err := store.UpdateState(s.ID, conflict.Update{
			BaseVersion: 0,
			Delta:       conflict.StateDelta{EditLock: &ghost},
		})
		require.ErrorIs(t, err, ErrUserNotInSession)

		snap, _ := store.Get(s.ID)
		assert.Empty(t, snap.State.EditLock)
		assert.Equal(t, int64(0), snap.State.Version)
	})
}

func TestCursor(t *testing.T) {
	store, bus := newTestStore()
	s, _ := store.Create(CreateInput{})
	mustJoin(t, store, s.ID, "user-a")

	before := mustVersion(t, store, s.ID)
	rec := record(bus)
	err := store.UpdateCursor(s.ID, "user-a", models.Cursor{File: "main.go", Line: 10, Column: 2})
	require.NoError(t, err)

	assert.Equal(t, []events.Kind{events.KindCursorMoved}, rec.kinds())
	assert.Equal(t, before, mustVersion(t, store, s.ID), "presence is not versioned")

	u, err := store.GetUser(s.ID, "user-a")
	require.NoError(t, err)
	require.NotNil(t, u.Cursor)
	assert.Equal(t, "main.go", u.Cursor.File)
	assert.Equal(t, 10, u.Cursor.Line)

	assert.ErrorIs(t, store.UpdateCursor(s.ID, "ghost", models.Cursor{}), ErrUserNotInSession)
}

func TestDelete(t *testing.T) {
	store, bus := newTestStore()
	s, _ := store.Create(CreateInput{ExternalSessionID: "ext-1"})
	rec := record(bus)

	require.NoError(t, store.Delete(s.ID))
	assert.Equal(t, []events.Kind{events.KindSessionDeleted}, rec.kinds())

	_, err := store.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete(s.ID), ErrSessionNotFound)

	// The external id is free for reuse afterwards.
	again, err := store.Create(CreateInput{ExternalSessionID: "ext-1"})
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, again.ID)
}

func TestQueries(t *testing.T) {
	store, _ := newTestStore()
	s1, _ := store.Create(CreateInput{})
	s2, _ := store.Create(CreateInput{})
	mustJoin(t, store, s1.ID, "user-b")
	mustJoin(t, store, s1.ID, "user-a")
	_, err := store.Connect(s1.ID, ConnectInput{UserID: "user-a"})
	require.NoError(t, err)

	t.Run("list returns every session", func(t *testing.T) {
		all := store.List()
		require.Len(t, all, 2)
		ids := []string{all[0].ID, all[1].ID}
		assert.Contains(t, ids, s1.ID)
		assert.Contains(t, ids, s2.ID)
	})

	t.Run("users are sorted for deterministic snapshots", func(t *testing.T) {
		users, err := store.GetUsers(s1.ID)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "user-a", users[0].UserID)
		assert.Equal(t, "user-b", users[1].UserID)
	})

	t.Run("clients reference valid users", func(t *testing.T) {
		clients, err := store.GetClients(s1.ID)
		require.NoError(t, err)
		require.Len(t, clients, 1)
		assert.Equal(t, "user-a", clients[0].UserID)
	})

	t.Run("get by external id resolves", func(t *testing.T) {
		snap, err := store.GetByExternalID(s1.ExternalSessionID)
		require.NoError(t, err)
		assert.Equal(t, s1.ID, snap.ID)

		_, err = store.GetByExternalID("missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("snapshots are copies", func(t *testing.T) {
		snap, _ := store.Get(s1.ID)
		snap.Users[0].Name = "mutated"
		fresh, _ := store.Get(s1.ID)
		assert.Equal(t, "user-a", fresh.Users[0].Name)
	})
}

// mustVersion reads the current state version.
func mustVersion(t *testing.T, store *Store, sessionID string) int64 {
	t.Helper()
	snap, err := store.Get(sessionID)
	require.NoError(t, err)
	return snap.State.Version
}
