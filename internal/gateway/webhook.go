package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultWebhookTimeout bounds how long a webhook request waits for its reply.
const DefaultWebhookTimeout = 60 * time.Second

// WebhookAdapter implements GatewayAdapter over HTTP. Each POST is routed
// like a chat message from any other platform, so slash commands and
// per-user sessions work the same; the reply is written to the response.
type WebhookAdapter struct {
	handler MessageHandler
	pending map[string]chan *OutboundMessage // request id -> waiting response
	timeout time.Duration
	status  statusTracker
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewWebhookAdapter creates an HTTP gateway adapter. timeout <= 0 means
// DefaultWebhookTimeout.
func NewWebhookAdapter(timeout time.Duration, logger *zap.Logger) *WebhookAdapter {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookAdapter{
		pending: make(map[string]chan *OutboundMessage),
		timeout: timeout,
		status:  statusTracker{platform: "webhook"},
		logger:  logger,
	}
}

func (a *WebhookAdapter) Platform() string { return "webhook" }

func (a *WebhookAdapter) Connect(_ context.Context) error {
	a.status.connected()
	return nil
}

func (a *WebhookAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

func (a *WebhookAdapter) Close() error {
	a.status.disconnected()
	return nil
}

func (a *WebhookAdapter) Status() AdapterStatus {
	a.mu.RLock()
	n := len(a.pending)
	a.mu.RUnlock()
	a.status.details(fmt.Sprintf("pending=%d", n))
	return a.status.snapshot()
}

// Send delivers a reply to the request waiting on msg.ReplyTo.
func (a *WebhookAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.pending[msg.ReplyTo]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no pending webhook request: %s", msg.ReplyTo)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("webhook request %s already answered", msg.ReplyTo)
	}
}

// Routes returns a chi router with the webhook endpoint.
func (a *WebhookAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

type webhookRequest struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Content   string `json:"content"`
}

func (a *WebhookAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = "default"
	}

	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, "no message handler")
		return
	}

	id := uuid.NewString()
	ch := make(chan *OutboundMessage, 1)
	a.mu.Lock()
	a.pending[id] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	go h(&InboundMessage{
		Platform:  "webhook",
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now(),
		ReplyTo:   id,
	})

	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(msg)
	case <-time.After(a.timeout):
		a.logger.Warn("webhook reply timed out", zap.String("request", id))
		writeError(w, http.StatusGatewayTimeout, "response timeout")
	case <-r.Context().Done():
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
