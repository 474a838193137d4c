package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakeProvider struct {
	id    string
	err   error
	reply string
	calls int
	model string
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }
func (f *fakeProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	f.model = req.Model
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.reply}, nil
}
func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

func TestRouterUsesBindingAndDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &fakeProvider{id: "a", reply: "from a"}
	b := &fakeProvider{id: "b", reply: "from b"}
	r.Register(a)
	r.Register(b)
	r.Bind(PurposePlanner, "b", "planner-model")

	resp, err := r.Route(context.Background(), PurposePlanner, &ChatRequest{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "from b" || b.model != "planner-model" {
		t.Errorf("planner not routed to b with pinned model: %q %q", resp.Content, b.model)
	}

	resp, err = r.Route(context.Background(), PurposeAggregator, &ChatRequest{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "from a" {
		t.Errorf("unbound purpose should use default, got %q", resp.Content)
	}
}

func TestRouterFallback(t *testing.T) {
	r := NewRouter(zap.NewNop())
	bad := &fakeProvider{id: "bad", err: errors.New("boom")}
	good := &fakeProvider{id: "good", reply: "ok"}
	r.Register(bad)
	r.Register(good)
	r.SetFallbacks(PurposeAggregator, []string{"missing", "good"})

	resp, err := r.Route(context.Background(), PurposeAggregator, &ChatRequest{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "ok" || bad.calls != 1 || good.calls != 1 {
		t.Errorf("fallback not used: content=%q bad=%d good=%d", resp.Content, bad.calls, good.calls)
	}
}

func TestRouterAllFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), PurposePlanner, &ChatRequest{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}

	boom := errors.New("boom")
	r.Register(&fakeProvider{id: "only", err: boom})
	if _, err := r.Route(context.Background(), PurposePlanner, &ChatRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestOpenAIProviderChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"ok\":true}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{
		ID: "openai", Endpoint: srv.URL, APIKey: "test-key", Models: []string{"gpt-4o-mini"},
	}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != `{"ok":true}` || resp.Usage.TotalTokens != 8 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Errorf("model not defaulted from config: %v", got["model"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("json mode not requested: %v", got["response_format"])
	}
}

func TestOpenAIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "openai", Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestAnthropicConvertRequest(t *testing.T) {
	p := NewAnthropicProvider(ProviderConfig{ID: "claude"}, zap.NewNop())
	ar := p.convertRequest(&ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
		JSONMode: true,
	})
	if ar.Model != defaultAnthropicModel || ar.MaxTokens != 4096 {
		t.Errorf("defaults not applied: %+v", ar)
	}
	if len(ar.Messages) != 1 || ar.Messages[0].Role != "user" {
		t.Errorf("system message not lifted: %+v", ar.Messages)
	}
	if ar.System != "be brief\n\n"+jsonOnlyInstruction {
		t.Errorf("unexpected system: %q", ar.System)
	}
}

func TestAnthropicProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != anthropicVersion {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"msg_1","model":"claude","content":[{"type":"text","text":"hel"},{"type":"text","text":"lo"}],"stop_reason":"end_turn","usage":{"input_tokens":2,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" || resp.Usage.TotalTokens != 3 {
		t.Errorf("unexpected response: %+v", resp)
	}
}
