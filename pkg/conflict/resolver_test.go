package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/models"
)

func defaultResolverConfig(strategy Strategy) Config {
	return Config{
		Strategy:           strategy,
		NonMergeableFields: []string{models.FieldEditLock},
		MaxVersionDrift:    10,
	}
}

func currentSnapshot() Snapshot {
	return Snapshot{
		EditLock:      "user-a",
		GitSyncStatus: models.GitSyncSynced,
		AgentStatus:   models.AgentIdle,
		Version:       5,
	}
}

func agentStatusDelta(status models.AgentStatus) StateDelta {
	return StateDelta{AgentStatus: &status}
}

func TestResolveFreshBaseAlwaysApplies(t *testing.T) {
	for _, strategy := range []Strategy{StrategyLastWriteWins, StrategyReject, StrategyMerge} {
		t.Run(string(strategy), func(t *testing.T) {
			r := NewResolver(defaultResolverConfig(strategy))

			out := r.Resolve(currentSnapshot(), Update{
				BaseVersion: 5,
				Delta:       agentStatusDelta(models.AgentThinking),
				ClientID:    "client-1",
			})

			require.True(t, out.Applied)
			assert.False(t, out.Detected)
			assert.Equal(t, int64(6), out.Result.Version)
			assert.Equal(t, models.AgentThinking, out.Result.AgentStatus)
			assert.Equal(t, []string{models.FieldAgentStatus}, out.MergedFields)
		})
	}
}

func TestResolveLastWriteWinsAppliesStaleUpdate(t *testing.T) {
	r := NewResolver(defaultResolverConfig(StrategyLastWriteWins))

	out := r.Resolve(currentSnapshot(), Update{
		BaseVersion: 3,
		Delta:       agentStatusDelta(models.AgentExecuting),
	})

	require.True(t, out.Applied)
	assert.True(t, out.Detected, "stale base must still report a detected conflict")
	assert.Equal(t, []string{models.FieldAgentStatus}, out.ConflictingFields)
	assert.Equal(t, int64(6), out.Result.Version)
	assert.Equal(t, models.AgentExecuting, out.Result.AgentStatus)
}

func TestResolveRejectStrategyRefusesAnyStaleUpdate(t *testing.T) {
	r := NewResolver(defaultResolverConfig(StrategyReject))

	out := r.Resolve(currentSnapshot(), Update{
		BaseVersion: 4,
		Delta:       agentStatusDelta(models.AgentExecuting),
	})

	require.False(t, out.Applied)
	assert.True(t, out.Detected)
	assert.Equal(t, ReasonStrategy, out.Reason)
	assert.Equal(t, []string{models.FieldAgentStatus}, out.RejectedFields)
	assert.Equal(t, int64(5), out.CurrentVersion)
}

func TestResolveMerge(t *testing.T) {
	t.Run("stale update with mergeable conflicts applies all fields", func(t *testing.T) {
		// agentStatus conflicts (always present) but is mergeable;
		// customField is new. Both must land and version moves 5 → 6.
		r := NewResolver(defaultResolverConfig(StrategyMerge))
		thinking := models.AgentThinking

		out := r.Resolve(currentSnapshot(), Update{
			BaseVersion: 3,
			Delta: StateDelta{
				AgentStatus: &thinking,
				Extra:       map[string]any{"customField": "x"},
			},
		})

		require.True(t, out.Applied)
		assert.True(t, out.Detected)
		assert.Equal(t, []string{models.FieldAgentStatus}, out.ConflictingFields)
		assert.ElementsMatch(t, []string{models.FieldAgentStatus, "customField"}, out.MergedFields)
		assert.Equal(t, int64(6), out.Result.Version)
		assert.Equal(t, models.AgentThinking, out.Result.AgentStatus)
		assert.Equal(t, "x", out.Result.Extra["customField"])
		assert.Equal(t, "user-a", out.Result.EditLock, "untouched fields keep their value")
	})

	t.Run("conflicting non-mergeable field rejects the whole update", func(t *testing.T) {
		r := NewResolver(defaultResolverConfig(StrategyMerge))
		steal := "user-b"
		thinking := models.AgentThinking

		out := r.Resolve(currentSnapshot(), Update{
			BaseVersion: 3,
			Delta: StateDelta{
				EditLock:    &steal,
				AgentStatus: &thinking,
			},
		})

		require.False(t, out.Applied, "a held editLock is non-mergeable; nothing may apply")
		assert.Equal(t, ReasonNonMergeable, out.Reason)
		assert.Contains(t, out.ConflictingFields, models.FieldEditLock)
		assert.ElementsMatch(t, []string{models.FieldEditLock, models.FieldAgentStatus}, out.RejectedFields)
	})

	t.Run("setting an unheld lock does not conflict", func(t *testing.T) {
		r := NewResolver(defaultResolverConfig(StrategyMerge))
		current := currentSnapshot()
		current.EditLock = ""
		acquire := "user-b"

		out := r.Resolve(current, Update{
			BaseVersion: 3,
			Delta:       StateDelta{EditLock: &acquire},
		})

		require.True(t, out.Applied)
		assert.Empty(t, out.ConflictingFields)
		assert.Equal(t, "user-b", out.Result.EditLock)
	})

	t.Run("empty delta on stale base is a no-op success", func(t *testing.T) {
		r := NewResolver(defaultResolverConfig(StrategyMerge))

		out := r.Resolve(currentSnapshot(), Update{BaseVersion: 3})

		require.True(t, out.Applied)
		assert.Empty(t, out.MergedFields)
		assert.Equal(t, int64(6), out.Result.Version,
			"version advances to reflect the attempted write")
		assert.Equal(t, models.AgentIdle, out.Result.AgentStatus)
	})
}

func TestResolveVersionDriftRejectsUnderEveryStrategy(t *testing.T) {
	for _, strategy := range []Strategy{StrategyLastWriteWins, StrategyReject, StrategyMerge} {
		t.Run(string(strategy), func(t *testing.T) {
			r := NewResolver(defaultResolverConfig(strategy))
			current := currentSnapshot()
			current.Version = 20

			out := r.Resolve(current, Update{
				BaseVersion: 5, // drift 15 > 10
				Delta:       agentStatusDelta(models.AgentThinking),
			})

			require.False(t, out.Applied)
			assert.True(t, out.Detected)
			assert.Equal(t, ReasonVersionDrift, out.Reason)
		})
	}

	t.Run("drift exactly at the bound still resolves", func(t *testing.T) {
		r := NewResolver(defaultResolverConfig(StrategyLastWriteWins))
		current := currentSnapshot()
		current.Version = 15

		out := r.Resolve(current, Update{
			BaseVersion: 5, // drift 10 = maxVersionDrift
			Delta:       agentStatusDelta(models.AgentThinking),
		})

		assert.True(t, out.Applied)
	})
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	r := NewResolver(defaultResolverConfig(StrategyLastWriteWins))
	current := currentSnapshot()
	current.Extra = map[string]any{"keep": true}

	out := r.Resolve(current, Update{
		BaseVersion: 5,
		Delta: StateDelta{
			Extra: map[string]any{"keep": false, "new": 1},
		},
	})

	require.True(t, out.Applied)
	assert.Equal(t, int64(5), current.Version, "input snapshot must stay untouched")
	assert.Equal(t, true, current.Extra["keep"])
	assert.Equal(t, false, out.Result.Extra["keep"])
	assert.Equal(t, 1, out.Result.Extra["new"])
}
