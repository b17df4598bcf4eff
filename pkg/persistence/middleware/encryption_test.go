package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/pkg/adapters/memory"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/persistence/middleware"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func newContext() *domain.ExecutionContext {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &domain.ExecutionContext{
		ID:            "ctx-1",
		TenantID:      "acme",
		Recipient:     domain.Recipient{Number: "5511999990000"},
		CurrentNodeID: "ask",
		Status:        domain.StatusWaitingForResponse,
		Variables:     map[string]any{"cpf": "123.456.789-00"},
		History:       []string{"ask"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)
	secure := mw(underlying)
	ctx := context.Background()

	original := newContext()
	require.NoError(t, secure.Save(ctx, original))

	stored, err := underlying.Load(ctx, "ctx-1")
	require.NoError(t, err)
	assert.NotContains(t, stored.Variables, "cpf")
	assert.Contains(t, stored.Variables, middleware.EnvelopeKey)
	assert.Empty(t, stored.Recipient.Number)
	assert.Empty(t, stored.History)
	assert.Equal(t, "acme", stored.TenantID)
	assert.Equal(t, domain.StatusWaitingForResponse, stored.Status)

	loaded, err := secure.Load(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	require.NoError(t, secure.Archive(ctx, "ctx-1"))
	ids, err := secure.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, secure.Delete(ctx, "ctx-1"))
	_, err = secure.Load(ctx, "ctx-1")
	assert.ErrorIs(t, err, domain.ErrContextNotFound)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	mwOld, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})
	require.NoError(t, err)
	oldStore := mwOld(underlying)
	require.NoError(t, oldStore.Save(ctx, newContext()))

	mwNew, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})
	require.NoError(t, err)
	newStore := mwNew(underlying)

	loaded, err := newStore.Load(ctx, "ctx-1")
	require.NoError(t, err, "fallback key decrypts old data")
	assert.Equal(t, "123.456.789-00", loaded.Variables["cpf"])

	loaded.Variables["cpf"] = "rotated"
	require.NoError(t, newStore.Save(ctx, loaded))

	_, err = oldStore.Load(ctx, "ctx-1")
	assert.Error(t, err, "old key alone cannot read data sealed with the new key")
}

func TestEncryptionMiddleware_PlainContextRefused(t *testing.T) {
	underlying := memory.NewStore()
	require.NoError(t, underlying.Save(context.Background(), newContext()))

	mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)
	_, err = mw(underlying).Load(context.Background(), "ctx-1")
	assert.ErrorContains(t, err, "missing its encrypted envelope")
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	assert.ErrorIs(t, err, middleware.ErrInvalidKey)

	_, err = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.ErrorIs(t, err, middleware.ErrInvalidKey)
}

func TestParseKeys(t *testing.T) {
	active := generateKey(t)
	old := generateKey(t)

	cfg, err := middleware.ParseKeys(
		base64.StdEncoding.EncodeToString(active),
		base64.StdEncoding.EncodeToString(old),
		"",
	)
	require.NoError(t, err)
	assert.Equal(t, active, cfg.ActiveKey)
	assert.Equal(t, [][]byte{old}, cfg.FallbackKeys)

	_, err = middleware.ParseKeys("not base64!")
	assert.Error(t, err)
}
