package domain

import (
	"time"
)

// ExecutionStatus is the state of an execution context.
type ExecutionStatus string

const (
	StatusRunning            ExecutionStatus = "running" // Transient, between steps only
	StatusWaitingForResponse ExecutionStatus = "waiting_for_response"
	StatusWaitingInterval    ExecutionStatus = "waiting_interval"
	StatusCompleted          ExecutionStatus = "completed"
	StatusFailed             ExecutionStatus = "failed"
)

// Terminal reports whether no further event can move the context.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Waiting reports whether the context is parked on an external event.
func (s ExecutionStatus) Waiting() bool {
	return s == StatusWaitingForResponse || s == StatusWaitingInterval
}

// WaitKind tells which node kind registered a pending wait.
type WaitKind string

const (
	WaitInterval WaitKind = "interval"
	WaitQuestion WaitKind = "question"
)

// PendingWait describes the timer a suspended context is parked on.
type PendingWait struct {
	TimerID  string    `json:"timerId"`
	Kind     WaitKind  `json:"kind"`
	NodeID   string    `json:"nodeId"`
	Deadline time.Time `json:"deadline"`
	// ResumeNodeID is where execution continues when the timer fires.
	ResumeNodeID string `json:"resumeNodeId"`
}

// ExecutionContext is the live traversal of one flow for one conversation.
type ExecutionContext struct {
	ID         string          `json:"id"`
	SnapshotID string          `json:"snapshotId"`
	Flow       *FlowDefinition `json:"flow"`
	TenantID   string          `json:"tenantId"`
	Recipient  Recipient       `json:"recipient"`
	TicketID   string          `json:"ticketId,omitempty"`

	CurrentNodeID string          `json:"currentNodeId"`
	Variables     map[string]any  `json:"variables"`
	Status        ExecutionStatus `json:"status"`
	PendingWait   *PendingWait    `json:"pendingWait,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`

	// History tracks the executed node ids, in order.
	History []string `json:"history,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Trigger carries what starts a new conversation against a flow.
type Trigger struct {
	// ContextID is optional; a random id is generated when empty.
	ContextID string
	Recipient Recipient
	TicketID  string
	Variables map[string]any
}

// NewExecutionContext binds a context to a private copy of flow, positioned at entryNodeID.
// Variables are seeded from the flow, then from the trigger.
func NewExecutionContext(id string, flow *FlowDefinition, entryNodeID string, trigger Trigger, now time.Time) *ExecutionContext {
	flow = flow.Clone()
	vars := make(map[string]any, len(flow.Variables)+len(trigger.Variables))
	for k, v := range flow.Variables {
		vars[k] = cloneValue(v)
	}
	for k, v := range trigger.Variables {
		vars[k] = v
	}
	return &ExecutionContext{
		ID:            id,
		SnapshotID:    flow.SnapshotID(),
		Flow:          flow,
		TenantID:      flow.TenantID,
		Recipient:     trigger.Recipient,
		TicketID:      trigger.TicketID,
		CurrentNodeID: entryNodeID,
		Variables:     vars,
		Status:        StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a copy that can be mutated without affecting ec.
// The flow snapshot is shared, since nothing mutates it after NewExecutionContext.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	if ec == nil {
		return nil
	}
	next := *ec
	next.Variables = make(map[string]any, len(ec.Variables))
	for k, v := range ec.Variables {
		next.Variables[k] = v
	}
	if ec.PendingWait != nil {
		pw := *ec.PendingWait
		next.PendingWait = &pw
	}
	next.History = append([]string(nil), ec.History...)
	return &next
}
