// Package providertest offers a scripted Provider for tests.
package providertest

import (
	"context"
	"strings"
	"sync"

	"github.com/nidhogg/finsight/internal/provider"
)

// Reply produces the content for one request.
type Reply func(req *provider.ChatRequest) (string, error)

// Stub is a Provider whose answers come from Reply. It records every request.
type Stub struct {
	IDValue string
	Reply   Reply

	mu       sync.Mutex
	requests []provider.ChatRequest
}

// New returns a stub that answers with reply.
func New(id string, reply Reply) *Stub {
	return &Stub{IDValue: id, Reply: reply}
}

// Fixed returns a stub that always answers content.
func Fixed(id, content string) *Stub {
	return New(id, func(*provider.ChatRequest) (string, error) { return content, nil })
}

func (s *Stub) ID() string   { return s.IDValue }
func (s *Stub) Name() string { return "stub " + s.IDValue }

func (s *Stub) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := s.Reply(req)
	if err != nil {
		return nil, err
	}
	return &provider.ChatResponse{ID: "stub", Model: req.Model, Content: content, FinishReason: "stop"}, nil
}

func (s *Stub) HealthCheck(context.Context) error { return nil }

// Calls returns how many requests the stub received.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the recorded requests.
func (s *Stub) Requests() []provider.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.ChatRequest(nil), s.requests...)
}

// SystemPrompt returns the first system message of a request.
func SystemPrompt(req *provider.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

// Contains reports whether any message of req contains substr.
func Contains(req *provider.ChatRequest, substr string) bool {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}
