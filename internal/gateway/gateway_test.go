package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	connectErr error
	handler    MessageHandler

	mu   sync.Mutex
	sent []*OutboundMessage
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error {
	return f.connectErr
}
func (f *fakeAdapter) OnMessage(h MessageHandler) { f.handler = h }
func (f *fakeAdapter) Close() error               { return nil }
func (f *fakeAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: f.platform, Connected: f.connectErr == nil}
}
func (f *fakeAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func TestGatewayRoutesInbound(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "slack"}
	gw.Register(a)

	var got *InboundMessage
	gw.SetHandler(func(m *InboundMessage) { got = m })
	a.handler(&InboundMessage{Platform: "slack", ChannelID: "C1", UserID: "U1", Content: "hi"})

	if got == nil || got.Content != "hi" {
		t.Fatalf("handler not called: %+v", got)
	}
	if key := got.ConversationKey(); key != "slack:C1:U1" {
		t.Errorf("conversation key = %q", key)
	}
}

func TestGatewaySend(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "discord"}
	gw.Register(a)

	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "discord", ChannelID: "c", Content: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(a.sent))
	}
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestConnectAllContinuesPastFailures(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	gw.Register(&fakeAdapter{platform: "slack", connectErr: errors.New("bad token")})
	gw.Register(&fakeAdapter{platform: "discord"})

	err := gw.ConnectAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connect slack") {
		t.Fatalf("ConnectAll error = %v", err)
	}

	st := gw.StatusAll()
	if len(st) != 2 || st[0].Platform != "discord" || st[1].Platform != "slack" {
		t.Fatalf("StatusAll = %+v", st)
	}
	if !st[0].Connected || st[1].Connected {
		t.Errorf("unexpected connection flags: %+v", st)
	}
	if names := gw.Adapters(); len(names) != 2 || names[0] != "discord" {
		t.Errorf("Adapters = %v", names)
	}
}

func TestStatusTracker(t *testing.T) {
	s := statusTracker{platform: "p"}
	if st := s.snapshot(); st.Connected || st.ConnectedAt != nil {
		t.Fatalf("fresh tracker = %+v", st)
	}
	s.connected()
	s.details("bot=x")
	st := s.snapshot()
	if !st.Connected || st.ConnectedAt == nil || st.Details != "bot=x" {
		t.Fatalf("connected tracker = %+v", st)
	}
	s.failed(errors.New("boom"))
	if st := s.snapshot(); st.Connected || st.Error != "boom" {
		t.Fatalf("failed tracker = %+v", st)
	}
}

func TestStripSlackMentions(t *testing.T) {
	if got := stripSlackMentions("<@U12AB> how much on food?"); got != "how much on food?" {
		t.Errorf("got %q", got)
	}
}

func TestAddressedContent(t *testing.T) {
	tests := []struct {
		content string
		direct  bool
		want    string
		ok      bool
	}{
		{"<@42> budget?", false, "budget?", true},
		{"<@!42> budget?", false, "budget?", true},
		{"budget?", false, "", false},
		{"budget?", true, "budget?", true},
	}
	for _, tt := range tests {
		got, ok := addressedContent(tt.content, tt.direct, "42")
		if got != tt.want || ok != tt.ok {
			t.Errorf("addressedContent(%q, %v) = %q, %v", tt.content, tt.direct, got, ok)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if parts := splitMessage("short", 10); len(parts) != 1 {
		t.Fatalf("parts = %v", parts)
	}
	long := strings.Repeat("abcd\n", 10)
	parts := splitMessage(long, 12)
	var total int
	for _, p := range parts {
		if len([]rune(p)) > 12 {
			t.Errorf("chunk too long: %q", p)
		}
		total += strings.Count(p, "abcd")
	}
	if total != 10 {
		t.Errorf("lost content: %v", parts)
	}
}

func TestWebhookRoundTrip(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	wh := NewWebhookAdapter(time.Second, zap.NewNop())
	gw.Register(wh)
	gw.SetHandler(func(m *InboundMessage) {
		_ = gw.Send(context.Background(), &OutboundMessage{
			Platform:  m.Platform,
			ChannelID: m.ChannelID,
			ReplyTo:   m.ReplyTo,
			Content:   "echo: " + m.Content,
		})
	})

	body, _ := json.Marshal(webhookRequest{UserID: "u1", Content: "hello"})
	rec := httptest.NewRecorder()
	wh.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out OutboundMessage
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Content != "echo: hello" || out.ChannelID != "default" {
		t.Errorf("reply = %+v", out)
	}
}

func TestWebhookValidation(t *testing.T) {
	wh := NewWebhookAdapter(time.Second, zap.NewNop())
	wh.OnMessage(func(*InboundMessage) {})
	for name, body := range map[string]string{
		"bad json":   "{",
		"no content": `{"user_id":"u"}`,
		"no user":    `{"content":"hi"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			wh.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}
}

func TestWebhookTimeout(t *testing.T) {
	wh := NewWebhookAdapter(20*time.Millisecond, zap.NewNop())
	wh.OnMessage(func(*InboundMessage) {})
	rec := httptest.NewRecorder()
	wh.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/message",
		strings.NewReader(`{"user_id":"u","content":"hi"}`)))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", rec.Code)
	}
}
