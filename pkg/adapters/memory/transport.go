package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
)

// SentMessage is a message recorded by Transport.
type SentMessage struct {
	JID     string
	Payload domain.MessagePayload
}

// Transport implements ports.Transport by recording every call.
// Set FailWith to make sends fail.
type Transport struct {
	mu        sync.Mutex
	sent      []SentMessage
	presences []domain.Presence
	seq       int

	FailWith error
}

// NewTransport creates a recording transport.
func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) SendMessage(ctx context.Context, jid string, payload domain.MessagePayload) (domain.MessageHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailWith != nil {
		return domain.MessageHandle{}, t.FailWith
	}
	t.seq++
	t.sent = append(t.sent, SentMessage{JID: jid, Payload: payload})
	return domain.MessageHandle{
		ID:        fmt.Sprintf("msg-%d", t.seq),
		RemoteJID: jid,
		Timestamp: time.Now(),
	}, nil
}

func (t *Transport) SendPresence(ctx context.Context, jid string, presence domain.Presence) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presences = append(t.presences, presence)
	return nil
}

// Sent returns a copy of the recorded messages.
func (t *Transport) Sent() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentMessage(nil), t.sent...)
}

// Texts returns the bodies of recorded text messages.
func (t *Transport) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var texts []string
	for _, m := range t.sent {
		if m.Payload.Kind == domain.PayloadText {
			texts = append(texts, m.Payload.Text)
		}
	}
	return texts
}

// Presences returns the recorded chat states.
func (t *Transport) Presences() []domain.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Presence(nil), t.presences...)
}

// Tickets implements ports.TicketUpdater in memory.
type Tickets struct {
	mu   sync.Mutex
	last map[string]string
}

// NewTickets creates an empty ticket cache.
func NewTickets() *Tickets {
	return &Tickets{last: make(map[string]string)}
}

func (t *Tickets) UpdateLastMessage(ctx context.Context, ticketID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[ticketID] = text
	return nil
}

// LastMessage returns the cached last message of a ticket.
func (t *Tickets) LastMessage(ticketID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[ticketID]
}
