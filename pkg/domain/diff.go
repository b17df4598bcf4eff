package domain

import (
	"reflect"
)

// ContextDiff is the partial update between two snapshots of an execution context.
// Unchanged fields are omitted when serialized.
type ContextDiff struct {
	ContextID string `json:"context_id"`

	CurrentNodeID *string          `json:"current_node_id,omitempty"`
	Status        *ExecutionStatus `json:"status,omitempty"`

	// Variables holds changed, added and deleted keys. Deleted keys carry nil.
	Variables map[string]any `json:"variables,omitempty"`

	// Executed lists node ids appended to the history.
	Executed []string `json:"executed,omitempty"`

	// PendingWait is set when the wait changed; ClearedWait when it was released.
	PendingWait *PendingWait `json:"pending_wait,omitempty"`
	ClearedWait bool         `json:"cleared_wait,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
}

// Diff calculates the difference between prev and next.
// A nil prev yields the whole of next. It returns nil when nothing changed.
func Diff(prev, next *ExecutionContext) *ContextDiff {
	if next == nil {
		return nil
	}

	diff := &ContextDiff{ContextID: next.ID}

	if prev == nil || prev.CurrentNodeID != next.CurrentNodeID {
		node := next.CurrentNodeID
		diff.CurrentNodeID = &node
	}
	if prev == nil || prev.Status != next.Status {
		status := next.Status
		diff.Status = &status
	}
	if prev == nil || prev.FailureReason != next.FailureReason {
		diff.FailureReason = next.FailureReason
	}

	var prevWait *PendingWait
	if prev != nil {
		prevWait = prev.PendingWait
	}
	switch {
	case next.PendingWait != nil && (prevWait == nil || *prevWait != *next.PendingWait):
		pw := *next.PendingWait
		diff.PendingWait = &pw
	case next.PendingWait == nil && prevWait != nil:
		diff.ClearedWait = true
	}

	diff.Variables = diffVariables(prev, next)
	diff.Executed = diffHistory(prev, next)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffVariables(prev, next *ExecutionContext) map[string]any {
	delta := make(map[string]any)

	if prev == nil {
		for k, v := range next.Variables {
			delta[k] = v
		}
	} else {
		for k, v := range next.Variables {
			old, exists := prev.Variables[k]
			if !exists || !reflect.DeepEqual(old, v) {
				delta[k] = v
			}
		}
		for k := range prev.Variables {
			if _, exists := next.Variables[k]; !exists {
				delta[k] = nil
			}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffHistory assumes History is append-only.
func diffHistory(prev, next *ExecutionContext) []string {
	if prev == nil {
		if len(next.History) == 0 {
			return nil
		}
		return next.History
	}
	if len(next.History) > len(prev.History) {
		return next.History[len(prev.History):]
	}
	return nil
}

// IsEmpty reports whether the diff carries any change.
func (d *ContextDiff) IsEmpty() bool {
	return d.CurrentNodeID == nil &&
		d.Status == nil &&
		d.FailureReason == "" &&
		d.PendingWait == nil &&
		!d.ClearedWait &&
		len(d.Variables) == 0 &&
		len(d.Executed) == 0
}
