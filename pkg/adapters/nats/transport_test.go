package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/pkg/domain"
)

type published struct {
	subject string
	data    []byte
}

// fakeConn answers requests with a canned reply.
type fakeConn struct {
	reply     []byte
	err       error
	requests  []published
	published []published
}

func (f *fakeConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.requests = append(f.requests, published{subj, data})
	if f.err != nil {
		return nil, f.err
	}
	return &nats.Msg{Subject: subj, Data: f.reply}, nil
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.published = append(f.published, published{subj, data})
	return nil
}

func TestTransport_SendMessage(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reply, _ := json.Marshal(SendReply{Handle: domain.MessageHandle{ID: "wamid-1", Timestamp: ts}})
	conn := &fakeConn{reply: reply}
	tr := New(conn)

	handle, err := tr.SendMessage(context.Background(), "5511999990000@s.whatsapp.net", domain.TextPayload("oi"))
	require.NoError(t, err)
	assert.Equal(t, "wamid-1", handle.ID)
	assert.Equal(t, "5511999990000@s.whatsapp.net", handle.RemoteJID)
	assert.True(t, ts.Equal(handle.Timestamp))

	require.Len(t, conn.requests, 1)
	assert.Equal(t, "atendechat.send.text", conn.requests[0].subject)

	var req SendRequest
	require.NoError(t, json.Unmarshal(conn.requests[0].data, &req))
	assert.Equal(t, "5511999990000@s.whatsapp.net", req.JID)
	require.NotNil(t, req.Payload)
	assert.Equal(t, "oi", req.Payload.Text)
}

func TestTransport_Presence(t *testing.T) {
	conn := &fakeConn{reply: []byte(`{}`)}
	tr := New(conn, WithSubjectPrefix("tenant-a"))

	require.NoError(t, tr.SendPresence(context.Background(), "x@s.whatsapp.net", domain.PresenceComposing))
	require.Len(t, conn.requests, 1)
	assert.Equal(t, "tenant-a.presence", conn.requests[0].subject)
	assert.JSONEq(t, `{"jid":"x@s.whatsapp.net","presence":"composing"}`, string(conn.requests[0].data))
}

func TestTransport_Errors(t *testing.T) {
	t.Run("Gateway Rejects", func(t *testing.T) {
		tr := New(&fakeConn{reply: []byte(`{"error":"not on whatsapp"}`)})
		_, err := tr.SendMessage(context.Background(), "x", domain.TextPayload("oi"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not on whatsapp")
	})

	t.Run("No Responders", func(t *testing.T) {
		tr := New(&fakeConn{err: nats.ErrNoResponders})
		_, err := tr.SendMessage(context.Background(), "x", domain.MessagePayload{Kind: domain.PayloadImage})
		require.ErrorIs(t, err, nats.ErrNoResponders)
		assert.Contains(t, err.Error(), "atendechat.send.image")
	})

	t.Run("Malformed Reply", func(t *testing.T) {
		tr := New(&fakeConn{reply: []byte(`not json`)})
		err := tr.SendPresence(context.Background(), "x", domain.PresencePaused)
		assert.Error(t, err)
	})

	t.Run("Timeout", func(t *testing.T) {
		tr := New(&fakeConn{err: context.DeadlineExceeded})
		_, err := tr.SendMessage(context.Background(), "x", domain.TextPayload("oi"))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestTransport_UpdateLastMessage(t *testing.T) {
	conn := &fakeConn{}
	tr := New(conn)

	require.NoError(t, tr.UpdateLastMessage(context.Background(), "42", "‎Olá"))
	require.Len(t, conn.published, 1)
	assert.Equal(t, "atendechat.ticket.last_message", conn.published[0].subject)
	assert.JSONEq(t, `{"ticketId":"42","lastMessage":"‎Olá"}`, string(conn.published[0].data))
}

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_RequestReply(t *testing.T) {
	url := skipWithoutNATS(t)

	nc, err := Connect(url, nil)
	require.NoError(t, err)
	defer nc.Close()

	tr := New(nc, WithSubjectPrefix("atendechat-test"))
	sub, err := nc.Subscribe(tr.SendSubject(domain.PayloadText), func(msg *nats.Msg) {
		var req SendRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		data, _ := json.Marshal(SendReply{Handle: domain.MessageHandle{ID: "echo-" + req.Payload.Text}})
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	handle, err := tr.SendMessage(ctx, "x@s.whatsapp.net", domain.TextPayload("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo-ping", handle.ID)
}
