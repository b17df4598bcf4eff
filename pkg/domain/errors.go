package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrContextNotFound is returned when an execution context id is unknown to the store.
	ErrContextNotFound = errors.New("execution context not found")
	// ErrContextExists is returned when creating a context under a taken id.
	ErrContextExists = errors.New("execution context already exists")
	// ErrFlowNotFound is returned when a flow cannot be loaded for a tenant.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrTimerNotFound is returned when a timer id is unknown to the store.
	ErrTimerNotFound = errors.New("timer not found")
	// ErrFlowInactive is returned when starting a flow that is switched off.
	ErrFlowInactive = errors.New("flow is not active")
	// ErrContextTerminal is returned when acting on a completed or failed context.
	ErrContextTerminal = errors.New("execution context is terminal")
	// ErrEventRejected is returned when an event does not fit the context status.
	ErrEventRejected = errors.New("event rejected")
	// ErrCancelled is recorded on contexts closed by their conversation.
	ErrCancelled = errors.New("execution cancelled")
)

// GraphIntegrityError reports a missing node, edge or branch match.
// It is fatal to the context and never retried.
type GraphIntegrityError struct {
	FlowID string
	NodeID string
	Reason string
	Err    error
}

func (e *GraphIntegrityError) Error() string {
	msg := "graph integrity"
	if e.FlowID != "" {
		msg += " (flow " + e.FlowID + ")"
	}
	if e.NodeID != "" {
		msg += " at node " + e.NodeID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GraphIntegrityError) Unwrap() error { return e.Err }

// MimeUnresolvedError reports a media asset whose type could not be classified.
type MimeUnresolvedError struct {
	Path string
}

func (e *MimeUnresolvedError) Error() string {
	return fmt.Sprintf("mime type unresolved for %s", e.Path)
}

// TranscodeFailure reports a codec subprocess failure or a missing output file.
// Stderr keeps the subprocess diagnostics.
type TranscodeFailure struct {
	Source  string
	Profile TranscodeProfile
	Stderr  string
	Err     error
}

func (e *TranscodeFailure) Error() string {
	msg := fmt.Sprintf("transcode %s (%s) failed: %v", e.Source, e.Profile, e.Err)
	if e.Stderr != "" {
		msg += ". Stderr: " + e.Stderr
	}
	return msg
}

func (e *TranscodeFailure) Unwrap() error { return e.Err }

// SendFailure reports a transport rejection.
type SendFailure struct {
	Recipient string
	Err       error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Recipient, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// EventRejectedError reports an event that arrived while the context could not take it.
type EventRejectedError struct {
	ContextID string
	Status    ExecutionStatus
	Event     EventKind
}

func (e *EventRejectedError) Error() string {
	return fmt.Sprintf("context %s: %s rejected while %s", e.ContextID, e.Event, e.Status)
}

func (e *EventRejectedError) Unwrap() error { return ErrEventRejected }

// IsGraphIntegrity reports whether err is or wraps a GraphIntegrityError.
func IsGraphIntegrity(err error) bool {
	var target *GraphIntegrityError
	return errors.As(err, &target)
}

// IsTranscodeFailure reports whether err is or wraps a TranscodeFailure.
func IsTranscodeFailure(err error) bool {
	var target *TranscodeFailure
	return errors.As(err, &target)
}
