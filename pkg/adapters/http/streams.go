package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
)

// StreamManager handles active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // ContextID -> Set of Channels
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

func (sm *StreamManager) Subscribe(contextID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[contextID]; !ok {
		sm.subscribers[contextID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[contextID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[contextID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, contextID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(contextID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[contextID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: client buffer full, dropping message", "context_id", contextID)
		}
	}
}

// Observe broadcasts a persisted change; pass it to atendechat.WithChangeObserver.
func (sm *StreamManager) Observe(ctx context.Context, diff *domain.ContextDiff) {
	data, err := json.Marshal(diff)
	if err != nil {
		sm.logger.Warn("SSE: diff encode failed", "context_id", diff.ContextID, "error", err)
		return
	}
	sm.Broadcast(diff.ContextID, string(data))
}

// SubscribeEvents handles GET /v1/contexts/{id}/events (SSE).
// The optional watch parameter (status, variables, history, wait) filters which diffs are sent.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	contextID := chi.URLParam(r, "id")
	if _, err := s.Engine.Get(r.Context(), contextID); err != nil {
		s.fail(w, "subscribe", err, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(contextID)
	defer cancel()
	s.logger.Info("SSE: subscribed", "context_id", contextID)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var watchList []string
	if watch := r.URL.Query().Get("watch"); watch != "" {
		watchList = strings.Split(watch, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: client disconnected", "context_id", contextID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watchList) > 0 && !watched(msg, watchList) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// watched reports whether the diff touches any watched field.
// Undecodable messages are always sent.
func watched(msg string, fields []string) bool {
	var diff domain.ContextDiff
	if err := json.Unmarshal([]byte(msg), &diff); err != nil {
		return true
	}
	for _, field := range fields {
		switch strings.TrimSpace(field) {
		case "status":
			if diff.Status != nil {
				return true
			}
		case "variables":
			if len(diff.Variables) > 0 {
				return true
			}
		case "history":
			if len(diff.Executed) > 0 {
				return true
			}
		case "wait":
			if diff.PendingWait != nil || diff.ClearedWait {
				return true
			}
		}
	}
	return false
}
