// Package conflict implements optimistic concurrency over the versioned
// session value. A client submits a partial update taken against a base
// version; when the base is stale the configured strategy decides
// whether the update applies, merges or is refused.
//
// The resolver is pure: it computes an Outcome without touching shared
// state or publishing events. The session store owns both.
package conflict

import (
	"sort"
	"time"

	"github.com/codeready-toolchain/huddle/pkg/models"
)

// Strategy names the policy applied when baseVersion ≠ current.version.
type Strategy string

const (
	// StrategyLastWriteWins applies stale updates wholesale.
	StrategyLastWriteWins Strategy = "last-write-wins"
	// StrategyReject refuses every stale update.
	StrategyReject Strategy = "reject"
	// StrategyMerge applies stale updates unless they touch a
	// conflicting non-mergeable field, in which case the whole update
	// is refused.
	StrategyMerge Strategy = "merge"
)

// IsValid reports whether the strategy is one of the known policies.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyReject, StrategyMerge:
		return true
	}
	return false
}

// Rejection reasons carried in outcomes and conflict.rejected events.
const (
	ReasonVersionDrift  = "version_drift"
	ReasonStrategy      = "rejected_by_strategy"
	ReasonNonMergeable  = "non_mergeable_conflict"
	ReasonInvalidUpdate = "invalid_update"
)

// Config tunes one resolver instance.
type Config struct {
	Strategy           Strategy
	NonMergeableFields []string
	MaxVersionDrift    int64
}

// Update is one versioned partial write.
type Update struct {
	BaseVersion int64
	Delta       StateDelta
	ClientID    string
	Timestamp   time.Time
}

// Outcome reports what the resolver decided for one update.
type Outcome struct {
	// Applied is true when the update committed; Result then holds the
	// post-apply value with Version already incremented.
	Applied bool
	// Detected is true when the update's base version was stale,
	// regardless of whether the strategy let it through.
	Detected bool
	// Reason names why a refused update was refused.
	Reason string

	BaseVersion    int64
	CurrentVersion int64

	// ConflictingFields lists touched fields already present in the
	// current value (set only when Detected).
	ConflictingFields []string
	// MergedFields lists the fields applied; empty on a no-op write
	// whose version still advanced.
	MergedFields []string
	// RejectedFields lists the touched fields of a refused update.
	RejectedFields []string

	Result Snapshot
}

// Snapshot is the view of the versioned value the resolver operates on:
// the session state plus the sandbox binding, which is versioned with
// it even though it lives on the session aggregate.
type Snapshot struct {
	EditLock      string
	SandboxID     string
	GitSyncStatus models.GitSyncStatus
	AgentStatus   models.AgentStatus
	Extra         map[string]any
	Version       int64
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Resolver applies versioned partial updates under one configured
// strategy. Safe for concurrent use; it holds no mutable state.
type Resolver struct {
	strategy        Strategy
	nonMergeable    map[string]bool
	maxVersionDrift int64
}

// NewResolver creates a resolver for the given configuration.
func NewResolver(cfg Config) *Resolver {
	nonMergeable := make(map[string]bool, len(cfg.NonMergeableFields))
	for _, f := range cfg.NonMergeableFields {
		nonMergeable[f] = true
	}
	return &Resolver{
		strategy:        cfg.Strategy,
		nonMergeable:    nonMergeable,
		maxVersionDrift: cfg.MaxVersionDrift,
	}
}

// Strategy returns the configured policy name.
func (r *Resolver) Strategy() Strategy { return r.strategy }

// Resolve decides the fate of one update against the current value.
//
// A fresh base (baseVersion = current.Version) always applies,
// regardless of strategy. A stale base first has its conflicting fields
// computed, then is checked against the drift bound, then dispatched on
// the strategy. Every committed update increments Version by exactly 1.
func (r *Resolver) Resolve(current Snapshot, upd Update) Outcome {
	out := Outcome{
		BaseVersion:    upd.BaseVersion,
		CurrentVersion: current.Version,
	}

	if upd.BaseVersion == current.Version {
		out.Applied = true
		out.MergedFields = upd.Delta.Fields()
		out.Result = apply(current, upd.Delta)
		return out
	}

	out.Detected = true
	out.ConflictingFields = conflictingFields(current, upd.Delta)

	if current.Version-upd.BaseVersion > r.maxVersionDrift {
		out.Reason = ReasonVersionDrift
		out.RejectedFields = upd.Delta.Fields()
		return out
	}

	switch r.strategy {
	case StrategyReject:
		out.Reason = ReasonStrategy
		out.RejectedFields = upd.Delta.Fields()
		return out

	case StrategyMerge:
		for _, f := range out.ConflictingFields {
			if r.nonMergeable[f] {
				out.Reason = ReasonNonMergeable
				out.RejectedFields = upd.Delta.Fields()
				return out
			}
		}
		out.Applied = true
		out.MergedFields = upd.Delta.Fields()
		out.Result = apply(current, upd.Delta)
		return out

	default: // last-write-wins
		out.Applied = true
		out.MergedFields = upd.Delta.Fields()
		out.Result = apply(current, upd.Delta)
		return out
	}
}

// conflictingFields returns the touched fields already present in the
// current value, in the delta's canonical field order. Optional fields
// (editLock, sandboxID) count as present only when set; the status
// enums always carry a value; Extra keys count when the key exists.
func conflictingFields(current Snapshot, delta StateDelta) []string {
	var conflicting []string
	if delta.EditLock != nil && current.EditLock != "" {
		conflicting = append(conflicting, models.FieldEditLock)
	}
	if delta.SandboxID != nil && current.SandboxID != "" {
		conflicting = append(conflicting, models.FieldSandboxID)
	}
	if delta.GitSyncStatus != nil {
		conflicting = append(conflicting, models.FieldGitSyncStatus)
	}
	if delta.AgentStatus != nil {
		conflicting = append(conflicting, models.FieldAgentStatus)
	}
	var extras []string
	for k := range delta.Extra {
		if _, exists := current.Extra[k]; exists {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	return append(conflicting, extras...)
}

// apply writes the delta onto a copy of the current value and
// increments its version.
func apply(current Snapshot, delta StateDelta) Snapshot {
	next := current.Clone()
	if delta.EditLock != nil {
		next.EditLock = *delta.EditLock
	}
	if delta.SandboxID != nil {
		next.SandboxID = *delta.SandboxID
	}
	if delta.GitSyncStatus != nil {
		next.GitSyncStatus = *delta.GitSyncStatus
	}
	if delta.AgentStatus != nil {
		next.AgentStatus = *delta.AgentStatus
	}
	if len(delta.Extra) > 0 && next.Extra == nil {
		next.Extra = make(map[string]any, len(delta.Extra))
	}
	for k, v := range delta.Extra {
		next.Extra[k] = v
	}
	next.Version++
	return next
}
