package domain

import (
	"context"
	"time"
)

// EventKind identifies what resumes a suspended context.
type EventKind string

const (
	EventInboundReply EventKind = "inbound_reply"
	EventTimerFired   EventKind = "timer_fired"
)

// Event is an inbound stimulus for a suspended context.
type Event struct {
	Kind EventKind `json:"kind"`
	// Text is the reply body (EventInboundReply).
	Text string `json:"text,omitempty"`
	// TimerID names the registration that fired (EventTimerFired).
	// Empty matches whatever wait is pending.
	TimerID string `json:"timerId,omitempty"`
}

// InboundReply builds a reply event.
func InboundReply(text string) Event {
	return Event{Kind: EventInboundReply, Text: text}
}

// TimerFired builds a timer event for the given registration.
func TimerFired(timerID string) Event {
	return Event{Kind: EventTimerFired, TimerID: timerID}
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ContextID string    `json:"context_id"`
	NodeID    string    `json:"node_id"`
	Kind      NodeKind  `json:"kind"`
}

// DispatchEvent reports one outbound send.
type DispatchEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	ContextID string        `json:"context_id"`
	NodeID    string        `json:"node_id"`
	Payload   PayloadKind   `json:"payload"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// StatusEvent reports a status transition of a context.
type StatusEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	ContextID string          `json:"context_id"`
	From      ExecutionStatus `json:"from"`
	To        ExecutionStatus `json:"to"`
	Reason    string          `json:"reason,omitempty"`
}

// TranscodeEvent reports one codec subprocess run.
type TranscodeEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source"`
	Profile   TranscodeProfile `json:"profile"`
	Duration  time.Duration    `json:"duration"`
	Err       error            `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnNodeLeave    func(context.Context, *NodeEvent)
	OnDispatch     func(context.Context, *DispatchEvent)
	OnStatusChange func(context.Context, *StatusEvent)
	OnTranscode    func(context.Context, *TranscodeEvent)
}
