package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/ratelimit"
)

// LimitReporter reports the LLM call budget left.
type LimitReporter interface {
	Remaining() ratelimit.Remaining
}

// Forgetter drops a conversation's session.
type Forgetter interface {
	Forget(conversationKey string) bool
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// CategoryLister lists the user's spending categories.
type CategoryLister interface {
	Categories(ctx context.Context) ([]string, error)
}

// Builtins are the dependencies of the built-in commands. A nil field
// leaves its command unregistered.
type Builtins struct {
	Limits     LimitReporter
	Forgetter  Forgetter
	Status     StatusProvider
	Categories CategoryLister
}

// RegisterBuiltins registers /help plus every command whose dependency is set.
func RegisterBuiltins(reg *Registry, b Builtins) {
	reg.Register(helpCommand(reg))
	if b.Limits != nil {
		reg.Register(limitsCommand(b.Limits))
	}
	if b.Forgetter != nil {
		reg.Register(forgetCommand(b.Forgetter))
	}
	if b.Status != nil {
		reg.Register(statusCommand(b.Status))
	}
	if b.Categories != nil {
		reg.Register(categoriesCommand(b.Categories))
	}
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Ask me about your spending, budget or savings goals, e.g. \"How much did I spend on food last month?\"\n\nCommands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func limitsCommand(l LimitReporter) *Command {
	return &Command{
		Name:        "limits",
		Description: "Show how many AI calls are left this minute and today",
		Usage:       "/limits",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			rem := l.Remaining()
			return &CommandResult{
				Content: fmt.Sprintf("AI calls left: %d this minute, %d today.", rem.Minute, rem.Day),
				Data:    rem,
			}, nil
		},
	}
}

func forgetCommand(f Forgetter) *Command {
	return &Command{
		Name:        "forget",
		Description: "Start a fresh conversation",
		Usage:       "/forget",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if cc == nil || !f.Forget(cc.ConversationKey) {
				return &CommandResult{Content: "Nothing to forget, we haven't talked yet."}, nil
			}
			return &CommandResult{Content: "Done. I've forgotten our conversation."}, nil
		},
	}
}

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Error != "" {
					fmt.Fprintf(&b, " (%s)", a.Error)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String(), Data: adapters}, nil
		},
	}
}

func categoriesCommand(l CategoryLister) *Command {
	return &Command{
		Name:        "categories",
		Description: "List your spending categories",
		Usage:       "/categories",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cats, err := l.Categories(ctx)
			if err != nil {
				return nil, fmt.Errorf("list categories: %w", err)
			}
			if len(cats) == 0 {
				return &CommandResult{Content: "No categories yet."}, nil
			}
			return &CommandResult{Content: "Your categories: " + strings.Join(cats, ", "), Data: cats}, nil
		},
	}
}
