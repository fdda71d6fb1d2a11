package conflict

import (
	"fmt"
	"sort"

	"github.com/codeready-toolchain/huddle/pkg/models"
)

// StateDelta is a typed partial update of the versioned session value.
// A nil pointer means "field not touched"; Extra carries collaboration
// fields the core does not interpret.
type StateDelta struct {
	EditLock      *string
	SandboxID     *string
	GitSyncStatus *models.GitSyncStatus
	AgentStatus   *models.AgentStatus
	Extra         map[string]any
}

// IsEmpty reports whether the delta touches no field at all.
func (d StateDelta) IsEmpty() bool {
	return d.EditLock == nil &&
		d.SandboxID == nil &&
		d.GitSyncStatus == nil &&
		d.AgentStatus == nil &&
		len(d.Extra) == 0
}

// Fields returns the names of the touched fields: named fields in
// canonical order, then Extra keys sorted. The order is deterministic
// so event payloads and test expectations are stable.
func (d StateDelta) Fields() []string {
	var fields []string
	if d.EditLock != nil {
		fields = append(fields, models.FieldEditLock)
	}
	if d.SandboxID != nil {
		fields = append(fields, models.FieldSandboxID)
	}
	if d.GitSyncStatus != nil {
		fields = append(fields, models.FieldGitSyncStatus)
	}
	if d.AgentStatus != nil {
		fields = append(fields, models.FieldAgentStatus)
	}
	extras := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	return append(fields, extras...)
}

// DeltaFromMap converts a decoded JSON "updates" object into a typed
// delta, validating enum values. Unknown keys land in Extra untouched.
func DeltaFromMap(updates map[string]any) (StateDelta, error) {
	var delta StateDelta
	for key, value := range updates {
		switch key {
		case models.FieldEditLock:
			s, ok := value.(string)
			if !ok {
				return StateDelta{}, fmt.Errorf("field %s: expected string, got %T", key, value)
			}
			delta.EditLock = &s
		case models.FieldSandboxID:
			s, ok := value.(string)
			if !ok {
				return StateDelta{}, fmt.Errorf("field %s: expected string, got %T", key, value)
			}
			delta.SandboxID = &s
		case models.FieldGitSyncStatus:
			s, ok := value.(string)
			if !ok {
				return StateDelta{}, fmt.Errorf("field %s: expected string, got %T", key, value)
			}
			status := models.GitSyncStatus(s)
			if !status.IsValid() {
				return StateDelta{}, fmt.Errorf("field %s: unknown value %q", key, s)
			}
			delta.GitSyncStatus = &status
		case models.FieldAgentStatus:
			s, ok := value.(string)
			if !ok {
				return StateDelta{}, fmt.Errorf("field %s: expected string, got %T", key, value)
			}
			status := models.AgentStatus(s)
			if !status.IsValid() {
				return StateDelta{}, fmt.Errorf("field %s: unknown value %q", key, s)
			}
			delta.AgentStatus = &status
		case "version":
			// Version is resolver-owned; clients submit baseVersion instead.
			return StateDelta{}, fmt.Errorf("field version may not be updated directly")
		default:
			if delta.Extra == nil {
				delta.Extra = make(map[string]any)
			}
			delta.Extra[key] = value
		}
	}
	return delta, nil
}
