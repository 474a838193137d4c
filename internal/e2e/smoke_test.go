//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("FINSIGHT_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

var client = &http.Client{Timeout: 90 * time.Second}

type webhookResponse struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
	Intent    string `json:"intent,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Intent    string `json:"intent"`
	SessionID string `json:"session_id"`
}

func post(t *testing.T, path string, body any, out any) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
	}
}

// sendWebhook routes a message through the webhook gateway, the same path a
// Slack or Discord message takes.
func sendWebhook(t *testing.T, user, content string) webhookResponse {
	t.Helper()
	var msg webhookResponse
	post(t, "/api/gateway/webhook/message", map[string]string{
		"user_id": user, "user_name": user, "content": content,
	}, &msg)
	return msg
}

func TestSlashHelp(t *testing.T) {
	reply := sendWebhook(t, "smoke-help", "/help")
	if !strings.Contains(reply.Content, "/limits") {
		t.Errorf("expected the command list, got: %s", reply.Content)
	}
}

func TestSlashLimits(t *testing.T) {
	reply := sendWebhook(t, "smoke-limits", "/limits")
	if !strings.Contains(reply.Content, "today") {
		t.Errorf("unexpected /limits reply: %s", reply.Content)
	}
}

func TestSlashStatus(t *testing.T) {
	reply := sendWebhook(t, "smoke-status", "/status")
	if !strings.Contains(reply.Content, "webhook") {
		t.Errorf("expected the webhook adapter in /status, got: %s", reply.Content)
	}
}

func TestWebhookConversation(t *testing.T) {
	first := sendWebhook(t, "smoke-convo", "What's my remaining budget?")
	if !strings.ContainsRune(first.Content, '₹') {
		t.Errorf("expected a rupee figure, got: %s", first.Content)
	}
	second := sendWebhook(t, "smoke-convo", "How much did I spend on food?")
	if second.SessionID != first.SessionID {
		t.Errorf("conversation changed session: %s -> %s", first.SessionID, second.SessionID)
	}

	forget := sendWebhook(t, "smoke-convo", "/forget")
	if !strings.Contains(forget.Content, "forgotten") {
		t.Errorf("unexpected /forget reply: %s", forget.Content)
	}
}

func TestChatAPI(t *testing.T) {
	var out chatResponse
	post(t, "/api/chat", map[string]string{"message": "How much did I spend on food last month?"}, &out)
	if out.SessionID == "" || out.Response == "" {
		t.Fatalf("incomplete reply: %+v", out)
	}
	t.Logf("intent=%s reply: %.300s", out.Intent, out.Response)
}
