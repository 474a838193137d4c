package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/metrics"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/ratelimit"
)

// maxBodyBytes caps a chat request body.
const maxBodyBytes = 64 << 10

// Assistant answers chat messages and manages their sessions.
type Assistant interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Reply, error)
	Forget(sessionID string) bool
	Remaining() ratelimit.Remaining
}

// StatusProvider reports gateway adapter status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	assistant Assistant
	status    StatusProvider
	webhook   *gateway.WebhookAdapter
	db        Pinger
	origins   []string
	logger    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithGatewayStatus exposes adapter status on /api/gateway/status.
func WithGatewayStatus(s StatusProvider) Option {
	return func(h *Handler) { h.status = s }
}

// WithWebhook mounts the webhook adapter under /api/gateway/webhook.
func WithWebhook(w *gateway.WebhookAdapter) Option {
	return func(h *Handler) { h.webhook = w }
}

// WithDatabase makes the health check ping the ledger database.
func WithDatabase(p Pinger) Option {
	return func(h *Handler) { h.db = p }
}

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.origins = origins
		}
	}
}

// NewHandler creates a new API handler.
func NewHandler(assistant Assistant, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		assistant: assistant,
		origins:   []string{"*"},
		logger:    logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/chat", h.chat)
		r.Get("/chat/rate-limit", h.rateLimit)
		r.Delete("/chat/sessions/{id}", h.forgetSession)

		r.Get("/gateway/status", h.gatewayStatus)
		if h.webhook != nil {
			r.Mount("/gateway/webhook", h.webhook.Routes())
		}
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "service": "finsight"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	reply, err := h.assistant.Handle(r.Context(), orchestrator.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		Source:    "api",
	})
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if err != nil {
		h.logger.Error("chat failed", zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) rateLimit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.assistant.Remaining())
}

func (h *Handler) forgetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.assistant.Forget(id) {
		h.logger.Info("session forgotten", zap.String("session", id))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, []gateway.AdapterStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.status.StatusAll())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
