// Package nats delivers outbound messages through a device gateway listening on NATS.
//
// Sends and presence updates are request/reply calls so gateway failures surface
// as errors; ticket updates are fire-and-forget publishes.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
)

// DefaultSubjectPrefix roots every subject used by the adapter.
const DefaultSubjectPrefix = "atendechat"

// Conn is the subset of *nats.Conn the adapter uses.
type Conn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Publish(subj string, data []byte) error
}

// Transport implements ports.Transport and ports.TicketUpdater.
type Transport struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New wraps an established connection.
func New(conn Conn, opts ...Option) *Transport {
	t := &Transport{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials url with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("atendechat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// SendRequest is the body of a send or presence request.
type SendRequest struct {
	JID      string                 `json:"jid"`
	Payload  *domain.MessagePayload `json:"payload,omitempty"`
	Presence domain.Presence        `json:"presence,omitempty"`
}

// SendReply is the gateway's answer to a SendRequest.
type SendReply struct {
	Handle domain.MessageHandle `json:"handle"`
	Error  string               `json:"error,omitempty"`
}

// TicketUpdate is published after each successful send.
type TicketUpdate struct {
	TicketID    string `json:"ticketId"`
	LastMessage string `json:"lastMessage"`
}

// SendSubject is the request subject for a payload kind.
func (t *Transport) SendSubject(kind domain.PayloadKind) string {
	return t.prefix + ".send." + string(kind)
}

// PresenceSubject is the request subject for chat states.
func (t *Transport) PresenceSubject() string {
	return t.prefix + ".presence"
}

// TicketSubject is the publish subject for ticket updates.
func (t *Transport) TicketSubject() string {
	return t.prefix + ".ticket.last_message"
}

func (t *Transport) SendMessage(ctx context.Context, jid string, payload domain.MessagePayload) (domain.MessageHandle, error) {
	reply, err := t.request(ctx, t.SendSubject(payload.Kind), SendRequest{JID: jid, Payload: &payload})
	if err != nil {
		return domain.MessageHandle{}, err
	}
	if reply.Handle.RemoteJID == "" {
		reply.Handle.RemoteJID = jid
	}
	return reply.Handle, nil
}

func (t *Transport) SendPresence(ctx context.Context, jid string, presence domain.Presence) error {
	_, err := t.request(ctx, t.PresenceSubject(), SendRequest{JID: jid, Presence: presence})
	return err
}

func (t *Transport) UpdateLastMessage(ctx context.Context, ticketID, text string) error {
	data, err := json.Marshal(TicketUpdate{TicketID: ticketID, LastMessage: text})
	if err != nil {
		return fmt.Errorf("encode ticket update: %w", err)
	}
	if err := t.conn.Publish(t.TicketSubject(), data); err != nil {
		return fmt.Errorf("publish ticket update: %w", err)
	}
	return nil
}

func (t *Transport) request(ctx context.Context, subject string, req SendRequest) (SendReply, error) {
	var reply SendReply
	data, err := json.Marshal(req)
	if err != nil {
		return reply, fmt.Errorf("encode request: %w", err)
	}

	msg, err := t.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return reply, fmt.Errorf("no gateway listening on %s: %w", subject, err)
		}
		return reply, fmt.Errorf("request %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.logger.Warn("malformed gateway reply", "subject", subject, "error", err)
		return reply, fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("gateway rejected %s: %s", subject, reply.Error)
	}
	return reply, nil
}
