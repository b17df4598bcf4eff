package ports

import (
	"context"

	"github.com/listiago/atendechat/pkg/domain"
)

// Transport delivers messages to a device.
type Transport interface {
	// SendMessage delivers one payload to the JID and returns its handle.
	SendMessage(ctx context.Context, jid string, payload domain.MessagePayload) (domain.MessageHandle, error)

	// SendPresence publishes a chat state to the JID.
	SendPresence(ctx context.Context, jid string, presence domain.Presence) error
}

// TicketUpdater refreshes the conversation record after a send.
type TicketUpdater interface {
	UpdateLastMessage(ctx context.Context, ticketID, text string) error
}

// IntegrationInvoker performs ExternalIntegration calls.
// Implementations must honor ctx cancellation.
type IntegrationInvoker interface {
	Invoke(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error)
}
