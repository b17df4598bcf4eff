// Package dispatch hands resolved payloads to the transport and records the delivery
// side effects (typing presence, ticket last-message cache).
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
)

// Dispatcher sends one message per call and never retries.
type Dispatcher struct {
	transport   ports.Transport
	tickets     ports.TicketUpdater
	typingDelay time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTicketUpdater sets the collaborator that caches the ticket's last message.
func WithTicketUpdater(t ports.TicketUpdater) Option {
	return func(d *Dispatcher) {
		d.tickets = t
	}
}

// WithTypingDelay enables the typing simulation: composing, wait delay, paused.
// Zero disables it.
func WithTypingDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.typingDelay = delay
	}
}

// WithSendTimeout bounds each transport call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.sendTimeout = timeout
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a dispatcher over transport.
func New(transport ports.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends payload to the recipient.
// Transport rejections are returned as *domain.SendFailure. Presence and ticket
// updates are best effort: their failures are logged only.
func (d *Dispatcher) Dispatch(ctx context.Context, to domain.Recipient, ticketID string, payload domain.MessagePayload) (domain.MessageHandle, error) {
	jid := to.JID()

	if d.typingDelay > 0 {
		if err := d.simulateTyping(ctx, jid); err != nil {
			return domain.MessageHandle{}, err
		}
	}

	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	handle, err := d.transport.SendMessage(sendCtx, jid, payload)
	if err != nil {
		return domain.MessageHandle{}, &domain.SendFailure{Recipient: jid, Err: err}
	}
	d.logger.Debug("message sent", "jid", jid, "kind", payload.Kind, "message_id", handle.ID)

	if d.tickets != nil && ticketID != "" {
		if err := d.tickets.UpdateLastMessage(ctx, ticketID, payload.Summary()); err != nil {
			d.logger.Warn("failed to update ticket last message", "ticket_id", ticketID, "err", err)
		}
	}
	return handle, nil
}

func (d *Dispatcher) simulateTyping(ctx context.Context, jid string) error {
	if err := d.transport.SendPresence(ctx, jid, domain.PresenceComposing); err != nil {
		d.logger.Warn("failed to send presence", "jid", jid, "presence", domain.PresenceComposing, "err", err)
	}

	t := time.NewTimer(d.typingDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if err := d.transport.SendPresence(ctx, jid, domain.PresencePaused); err != nil {
		d.logger.Warn("failed to send presence", "jid", jid, "presence", domain.PresencePaused, "err", err)
	}
	return nil
}
