// Package http exposes the engine to webhooks and operators.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/internal/sanitize"
	"github.com/listiago/atendechat/pkg/domain"
)

// Engine is the part of the facade the HTTP surface drives.
type Engine interface {
	Start(ctx context.Context, tenantID, flowID string, trigger domain.Trigger) (*domain.ExecutionContext, error)
	Reply(ctx context.Context, contextID, text string) (*domain.ExecutionContext, error)
	Cancel(ctx context.Context, contextID, reason string) (*domain.ExecutionContext, error)
	Get(ctx context.Context, contextID string) (*domain.ExecutionContext, error)
}

// Server holds the handlers.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	metrics http.Handler
	logger  *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithStreams shares a StreamManager, typically one also fed by the engine's change observer.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		if sm != nil {
			s.Streams = sm
		}
	}
}

// WithMetrics serves /metrics from the given gatherer instead of the default registry.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:  engine,
		metrics: promhttp.Handler(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.GetHealth)
	r.Handle("/metrics", s.metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tenants/{tenant}/flows/{flow}/start", s.StartFlow)
		r.Route("/contexts/{id}", func(r chi.Router) {
			r.Get("/", s.GetContext)
			r.Post("/reply", s.Reply)
			r.Post("/cancel", s.Cancel)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return r
}

// StartRequest is the body of POST /v1/tenants/{tenant}/flows/{flow}/start.
type StartRequest struct {
	ContextID string           `json:"contextId,omitempty"`
	Recipient domain.Recipient `json:"recipient"`
	TicketID  string           `json:"ticketId,omitempty"`
	Variables map[string]any   `json:"variables,omitempty"`
}

// ReplyRequest is the body of POST /v1/contexts/{id}/reply.
type ReplyRequest struct {
	Text string `json:"text"`
}

// CancelRequest is the body of POST /v1/contexts/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ContextView is an execution context without its flow snapshot.
type ContextView struct {
	ID            string                 `json:"id"`
	FlowID        string                 `json:"flowId"`
	SnapshotID    string                 `json:"snapshotId"`
	TenantID      string                 `json:"tenantId"`
	Recipient     domain.Recipient       `json:"recipient"`
	TicketID      string                 `json:"ticketId,omitempty"`
	CurrentNodeID string                 `json:"currentNodeId"`
	Status        domain.ExecutionStatus `json:"status"`
	Variables     map[string]any         `json:"variables"`
	PendingWait   *domain.PendingWait    `json:"pendingWait,omitempty"`
	FailureReason string                 `json:"failureReason,omitempty"`
	History       []string               `json:"history,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// ContextResponse carries the resulting context and what the call changed.
type ContextResponse struct {
	Context *ContextView        `json:"context"`
	Diff    *domain.ContextDiff `json:"diff,omitempty"`
}

// ErrorResponse is returned on failure. Context is set when the call failed the context.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Context *ContextView `json:"context,omitempty"`
}

// StartFlow handles POST /v1/tenants/{tenant}/flows/{flow}/start.
func (s *Server) StartFlow(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		s.logger.Warn("start: invalid request body", "error", err)
		return
	}
	if body.Recipient.Number == "" {
		s.writeError(w, http.StatusBadRequest, "recipient.number is required", nil)
		return
	}

	ec, err := s.Engine.Start(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "flow"), domain.Trigger{
		ContextID: body.ContextID,
		Recipient: body.Recipient,
		TicketID:  body.TicketID,
		Variables: body.Variables,
	})
	if err != nil {
		s.fail(w, "start", err, ec)
		return
	}
	s.writeJSON(w, http.StatusCreated, ContextResponse{Context: View(ec), Diff: domain.Diff(nil, ec)})
}

// Reply handles POST /v1/contexts/{id}/reply.
func (s *Server) Reply(w http.ResponseWriter, r *http.Request) {
	var body ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		s.logger.Warn("reply: invalid request body", "error", err)
		return
	}
	text, err := sanitize.Reply(body.Text)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sanitize.ErrReplyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, status, fmt.Sprintf("invalid reply: %v", err), nil)
		s.logger.Warn("reply rejected", "error", err, "size", len(body.Text))
		return
	}

	id := chi.URLParam(r, "id")
	s.transition(w, r, "reply", id, func(ctx context.Context) (*domain.ExecutionContext, error) {
		return s.Engine.Reply(ctx, id, text)
	})
}

// Cancel handles POST /v1/contexts/{id}/cancel. The body is optional.
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	var body CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
			return
		}
	}

	id := chi.URLParam(r, "id")
	s.transition(w, r, "cancel", id, func(ctx context.Context) (*domain.ExecutionContext, error) {
		return s.Engine.Cancel(ctx, id, body.Reason)
	})
}

// GetContext handles GET /v1/contexts/{id}.
func (s *Server) GetContext(w http.ResponseWriter, r *http.Request) {
	ec, err := s.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get", err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, ContextResponse{Context: View(ec)})
}

// GetHealth handles GET /healthz.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// transition runs op and answers with the change relative to the state seen just before.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, op, id string, fn func(context.Context) (*domain.ExecutionContext, error)) {
	prev, err := s.Engine.Get(r.Context(), id)
	if err != nil {
		s.fail(w, op, err, nil)
		return
	}
	next, err := fn(r.Context())
	if err != nil {
		s.fail(w, op, err, next)
		return
	}
	s.writeJSON(w, http.StatusOK, ContextResponse{Context: View(next), Diff: domain.Diff(prev, next)})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error, ec *domain.ExecutionContext) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	} else {
		s.logger.Debug(op+" refused", "error", err)
	}
	var view *ContextView
	if ec != nil && ec.Status == domain.StatusFailed {
		view = View(ec)
	}
	s.writeError(w, status, err.Error(), view)
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrContextNotFound), errors.Is(err, domain.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEventRejected), errors.Is(err, domain.ErrContextTerminal),
		errors.Is(err, domain.ErrFlowInactive), errors.Is(err, domain.ErrContextExists):
		return http.StatusConflict
	case domain.IsGraphIntegrity(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var send *domain.SendFailure
	var mime *domain.MimeUnresolvedError
	if errors.As(err, &send) || errors.As(err, &mime) || domain.IsTranscodeFailure(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// View strips the flow snapshot from a context.
func View(ec *domain.ExecutionContext) *ContextView {
	if ec == nil {
		return nil
	}
	v := &ContextView{
		ID:            ec.ID,
		SnapshotID:    ec.SnapshotID,
		TenantID:      ec.TenantID,
		Recipient:     ec.Recipient,
		TicketID:      ec.TicketID,
		CurrentNodeID: ec.CurrentNodeID,
		Status:        ec.Status,
		Variables:     ec.Variables,
		PendingWait:   ec.PendingWait,
		FailureReason: ec.FailureReason,
		History:       ec.History,
		CreatedAt:     ec.CreatedAt,
		UpdatedAt:     ec.UpdatedAt,
	}
	if ec.Flow != nil {
		v.FlowID = ec.Flow.ID
	}
	return v
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, ec *ContextView) {
	s.writeJSON(w, status, ErrorResponse{Error: msg, Context: ec})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
