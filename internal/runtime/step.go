package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/worker"
)

// execute runs one node and returns the id of the next node.
// Suspending and terminal nodes change ec.Status instead.
func (e *Engine) execute(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) (string, error) {
	switch node.Kind {
	case domain.NodeMessage:
		return e.execMessage(ctx, ec, node)
	case domain.NodeInterval:
		return "", e.execInterval(ctx, ec, node)
	case domain.NodeQuestion:
		return "", e.execQuestion(ctx, ec, node)
	case domain.NodeMediaSend:
		return e.execMedia(ctx, ec, node)
	case domain.NodeIntegration:
		return e.execIntegration(ctx, ec, node)
	case domain.NodeTerminal:
		ec.PendingWait = nil
		e.setStatus(ctx, ec, domain.StatusCompleted, "")
		return "", nil
	default:
		return "", &domain.GraphIntegrityError{
			FlowID: flowID(ec),
			NodeID: node.ID,
			Reason: fmt.Sprintf("unknown node kind %q", node.Kind),
		}
	}
}

func (e *Engine) execMessage(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) (string, error) {
	if node.Message == nil {
		return "", missingPayload(ec, node)
	}
	next, err := resolveEdge(ec.Flow, node, "")
	if err != nil {
		return "", err
	}
	text := e.textPrefix + Render(node.Message.Text, ec.Variables)
	if err := e.send(ctx, ec, node, domain.TextPayload(text)); err != nil {
		return "", err
	}
	return next, nil
}

func (e *Engine) execInterval(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) error {
	if node.Interval == nil {
		return missingPayload(ec, node)
	}
	wait, err := node.Interval.Wait().Duration()
	if err != nil {
		return &domain.GraphIntegrityError{FlowID: flowID(ec), NodeID: node.ID, Reason: "invalid interval", Err: err}
	}
	resume, err := resolveEdge(ec.Flow, node, "")
	if err != nil {
		return err
	}
	return e.park(ctx, ec, node, domain.WaitInterval, wait, resume)
}

func (e *Engine) execQuestion(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) error {
	q := node.Question
	if q == nil {
		return missingPayload(ec, node)
	}
	if _, err := resolveEdge(ec.Flow, node, domain.HandleSuccess); err != nil {
		return err
	}
	onTimeout, err := resolveEdge(ec.Flow, node, domain.HandleTimeout)
	if err != nil {
		return err
	}

	timeout := q.Timeout
	if timeout.IsZero() {
		timeout = domain.DefaultQuestionTimeout
	}
	wait, err := timeout.Duration()
	if err != nil {
		return &domain.GraphIntegrityError{FlowID: flowID(ec), NodeID: node.ID, Reason: "invalid question timeout", Err: err}
	}

	if q.Message != "" {
		text := e.textPrefix + Render(q.Message, ec.Variables)
		if err := e.send(ctx, ec, node, domain.TextPayload(text)); err != nil {
			return err
		}
	}
	return e.park(ctx, ec, node, domain.WaitQuestion, wait, onTimeout)
}

// park registers the wake-up and suspends the context.
func (e *Engine) park(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node, kind domain.WaitKind, wait time.Duration, resume string) error {
	if e.timers == nil {
		return errors.New("no timer registry configured")
	}
	deadline := e.now().Add(wait)
	timerID, err := e.timers.Register(ctx, ec.ID, deadline, kind)
	if err != nil {
		return fmt.Errorf("register %s timer: %w", kind, err)
	}
	ec.PendingWait = &domain.PendingWait{
		TimerID:      timerID,
		Kind:         kind,
		NodeID:       node.ID,
		Deadline:     deadline,
		ResumeNodeID: resume,
	}

	status := domain.StatusWaitingInterval
	if kind == domain.WaitQuestion {
		status = domain.StatusWaitingForResponse
	}
	e.setStatus(ctx, ec, status, "")
	e.logger.Debug("context suspended", "context_id", ec.ID, "node_id", node.ID, "timer_id", timerID, "deadline", deadline)
	return nil
}

func (e *Engine) execMedia(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) (string, error) {
	m := node.Media
	if m == nil {
		return "", missingPayload(ec, node)
	}
	if e.resolver == nil {
		return "", errors.New("no media resolver configured")
	}
	next, err := resolveEdge(ec.Flow, node, "")
	if err != nil {
		return "", err
	}

	name := m.Name
	if name == "" {
		base := filepath.Base(m.Path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	asset := domain.MediaAsset{
		Path:    m.Path,
		Name:    name,
		Caption: Render(m.Caption, ec.Variables),
		Voice:   m.Record,
	}

	payload, err := worker.Do(ctx, e.pool, func(ctx context.Context) (domain.MessagePayload, error) {
		return e.resolver.Resolve(ctx, asset)
	})
	if err != nil {
		return "", err
	}
	if err := e.send(ctx, ec, node, payload); err != nil {
		return "", err
	}
	return next, nil
}

// send dispatches on the pool and reports the outcome to the hooks.
func (e *Engine) send(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node, payload domain.MessagePayload) error {
	if e.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	started := e.now()
	_, err := worker.Do(ctx, e.pool, func(ctx context.Context) (domain.MessageHandle, error) {
		return e.dispatcher.Dispatch(ctx, ec.Recipient, ec.TicketID, payload)
	})
	e.emitDispatch(ctx, ec, node, payload.Kind, e.now().Sub(started), err)
	return err
}

func missingPayload(ec *domain.ExecutionContext, node *domain.Node) error {
	return &domain.GraphIntegrityError{
		FlowID: flowID(ec),
		NodeID: node.ID,
		Reason: fmt.Sprintf("%s node has no data", node.Kind),
	}
}
