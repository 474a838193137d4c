// Package planner turns a user message into a task DAG.
package planner

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/metrics"
	"github.com/nidhogg/finsight/internal/provider"
	"github.com/nidhogg/finsight/internal/ratelimit"
	"github.com/nidhogg/finsight/internal/task"
	"github.com/nidhogg/finsight/internal/trace"
)

// Limiter gates outbound LLM calls.
type Limiter interface {
	TryAcquire() (bool, ratelimit.Remaining)
}

// Chatter sends a chat request to the provider serving a purpose.
type Chatter interface {
	Route(ctx context.Context, purpose string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// CategorySource lists the user's spending categories.
type CategorySource interface {
	Categories(ctx context.Context) ([]string, error)
}

// Planner produces a DAG for every non-empty message. The LLM path is tried
// first; the keyword matcher takes over when the limiter denies the call, the
// call fails, or its output does not decode into a valid DAG.
type Planner struct {
	limiter Limiter
	llm     Chatter
	known   []string
	source  CategorySource
	model   string
	logger  *zap.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithCategories adds static category names to the ones the ledger reports.
func WithCategories(names []string) Option {
	return func(p *Planner) { p.known = append(p.known, names...) }
}

// WithCategorySource sets where live category names come from.
func WithCategorySource(src CategorySource) Option {
	return func(p *Planner) { p.source = src }
}

// WithModel pins the model used for planning calls.
func WithModel(model string) Option {
	return func(p *Planner) { p.model = model }
}

// New creates a planner. llm may be nil, in which case every message goes
// through the keyword matcher.
func New(limiter Limiter, llm Chatter, logger *zap.Logger, opts ...Option) *Planner {
	p := &Planner{limiter: limiter, llm: llm, logger: logger}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan builds the DAG for message. It only fails for an empty message.
func (p *Planner) Plan(ctx context.Context, message string, sc task.SessionContext) (*task.DAG, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &task.PlanningError{Reason: "empty message"}
	}
	tr := trace.FromContext(ctx)
	start := time.Now()
	categories := p.categories(ctx)

	denied := false
	if p.llm != nil {
		if ok, _ := p.limiter.TryAcquire(); !ok {
			denied = true
			p.logger.Info("planner llm call denied by rate limiter")
			tr.Record(trace.FallbackTriggered, "planner", "", 0, map[string]any{"reason": "rate_limited"})
		} else {
			dag, err := p.planWithLLM(ctx, message, sc, categories)
			if err == nil {
				p.finish(tr, dag, start)
				return dag, nil
			}
			p.logger.Warn("llm planning failed, using fallback matcher", zap.Error(err))
			tr.Record(trace.FallbackTriggered, "planner", "", 0, map[string]any{"reason": err.Error()})
		}
	}

	dag := Match(message, sc, categories)
	if dag == nil {
		dag = task.NewClarify(message, "")
		dag.RateLimited = denied
	} else {
		dag.Source = task.SourceFallback
	}
	dag.Session = sc
	p.finish(tr, dag, start)
	return dag, nil
}

func (p *Planner) planWithLLM(ctx context.Context, message string, sc task.SessionContext, categories []string) (*task.DAG, error) {
	req := &provider.ChatRequest{
		Model: p.model,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(message, sc, categories)},
		},
		Temperature: 0,
		MaxTokens:   1024,
		JSONMode:    true,
	}
	start := time.Now()
	resp, err := p.llm.Route(ctx, provider.PurposePlanner, req)
	trace.FromContext(ctx).Record(trace.LLMCall, "planner", "", time.Since(start),
		map[string]any{"purpose": "plan", "ok": err == nil})
	if err != nil {
		return nil, err
	}
	dag, err := Decode(resp.Content, message)
	if err != nil {
		return nil, err
	}
	dag.Session = sc
	return dag, nil
}

func (p *Planner) finish(tr *trace.Trace, dag *task.DAG, start time.Time) {
	metrics.PlannerPath.WithLabelValues(string(dag.Source)).Inc()
	types := make([]string, 0, len(dag.Tasks))
	for _, t := range dag.Tasks {
		types = append(types, string(t.Type))
	}
	tr.Record(trace.DAGCreated, "planner", "", time.Since(start), map[string]any{
		"source": string(dag.Source), "tasks": types, "rate_limited": dag.RateLimited,
	})
	p.logger.Debug("planned query",
		zap.String("source", string(dag.Source)),
		zap.Strings("tasks", types))
}

// categories merges the static list with the ledger's. Ledger errors are
// logged and ignored; the static list still lets the matcher work.
func (p *Planner) categories(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" || seen[strings.ToLower(n)] {
				continue
			}
			seen[strings.ToLower(n)] = true
			out = append(out, n)
		}
	}
	if p.source != nil {
		names, err := p.source.Categories(ctx)
		if err != nil {
			p.logger.Warn("could not load categories", zap.Error(err))
		}
		add(names)
	}
	add(p.known)
	return out
}
