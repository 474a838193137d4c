package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/ratelimit"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content == "" {
		t.Error("expected error message for unknown command")
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

func TestIsCommand(t *testing.T) {
	for in, want := range map[string]bool{
		"/help":           true,
		"  /limits":       true,
		"/":               false,
		"/ spaced":        false,
		"how much on /x?": false,
		"":                false,
	} {
		if got := IsCommand(in); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDispatchCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Builtins{})
	result, err := reg.Dispatch(context.Background(), "/HELP", &CommandContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Content, "/help") {
		t.Errorf("help output = %q", result.Content)
	}
}

type limits ratelimit.Remaining

func (l limits) Remaining() ratelimit.Remaining { return ratelimit.Remaining(l) }

type forgetter map[string]bool

func (f forgetter) Forget(key string) bool {
	ok := f[key]
	delete(f, key)
	return ok
}

type statuses []gateway.AdapterStatus

func (s statuses) StatusAll() []gateway.AdapterStatus { return s }

type categories struct {
	names []string
	err   error
}

func (c categories) Categories(context.Context) ([]string, error) { return c.names, c.err }

func TestBuiltins(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Builtins{
		Limits:     limits{Minute: 3, Day: 1200},
		Forgetter:  forgetter{"slack:C1:U1": true},
		Status:     statuses{{Platform: "slack", Connected: true}, {Platform: "discord", Error: "bad token"}},
		Categories: categories{names: []string{"Food", "Rent"}},
	})
	if n := len(reg.List()); n != 5 {
		t.Fatalf("registered %d commands, want 5", n)
	}

	ctx := context.Background()
	cc := &CommandContext{Platform: "slack", ConversationKey: "slack:C1:U1"}
	tests := []struct {
		input string
		want  string
	}{
		{"/limits", "3 this minute, 1200 today"},
		{"/forget", "forgotten"},
		{"/forget", "Nothing to forget"},
		{"/status", "discord: disconnected (bad token)"},
		{"/categories", "Food, Rent"},
		{"/help", "/forget: Start a fresh conversation"},
		{"/nope", "Unknown command: /nope"},
	}
	for _, tt := range tests {
		result, err := reg.Dispatch(ctx, tt.input, cc)
		if err != nil {
			t.Fatalf("%s: %v", tt.input, err)
		}
		if !strings.Contains(result.Content, tt.want) {
			t.Errorf("%s: got %q, want it to contain %q", tt.input, result.Content, tt.want)
		}
	}
}

func TestCategoriesError(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Builtins{Categories: categories{err: errors.New("db down")}})
	if _, err := reg.Dispatch(context.Background(), "/categories", &CommandContext{}); err == nil {
		t.Error("expected error")
	}
}
