// Package aggregator turns task results into the reply the user reads.
package aggregator

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

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

const systemPrompt = `You are a friendly personal finance assistant. Answer the user's question using ONLY the computed results you are given.
Rules:
- Quote amounts in rupees with the ₹ symbol and Indian digit grouping (₹1,50,000).
- Be concise: at most five short sentences or bullet points.
- If a task failed, say briefly that you couldn't compute that part.
- Never invent numbers that are not in the results.`

// Aggregator formats replies. The LLM writes the prose when the limiter
// allows it; otherwise a deterministic bullet list is produced.
type Aggregator struct {
	limiter Limiter
	llm     Chatter
	model   string
	logger  *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithModel pins the model used for formatting calls.
func WithModel(model string) Option {
	return func(a *Aggregator) { a.model = model }
}

// New creates an aggregator. A nil llm always uses the bullet list.
func New(limiter Limiter, llm Chatter, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{limiter: limiter, llm: llm, logger: logger}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Format returns the reply for message. It never returns an empty string.
func (a *Aggregator) Format(ctx context.Context, message string, dag *task.DAG, results map[string]*task.Result) string {
	tr := trace.FromContext(ctx)
	if a.llm != nil {
		if err := ctx.Err(); err != nil {
			// no budget is spent on a call that would fail at once
			metrics.LLMCalls.WithLabelValues(provider.PurposeAggregator, "deadline").Inc()
			tr.Record(trace.FallbackTriggered, "aggregator", "", 0, map[string]any{"reason": err.Error()})
		} else if ok, _ := a.limiter.TryAcquire(); !ok {
			metrics.LLMCalls.WithLabelValues(provider.PurposeAggregator, "rate_limited").Inc()
			tr.Record(trace.FallbackTriggered, "aggregator", "", 0, map[string]any{"reason": "rate_limited"})
		} else if text, err := a.formatWithLLM(ctx, message, dag, results); err != nil {
			a.logger.Warn("llm formatting failed, using bullet list", zap.Error(err))
			tr.Record(trace.FallbackTriggered, "aggregator", "", 0, map[string]any{"reason": err.Error()})
		} else if !sane(text) {
			a.logger.Warn("llm reply failed sanity check, using bullet list", zap.Int("length", len(text)))
			tr.Record(trace.FallbackTriggered, "aggregator", "", 0, map[string]any{"reason": "insane_reply"})
		} else {
			metrics.AggregatorPath.WithLabelValues("llm").Inc()
			return text
		}
	}
	metrics.AggregatorPath.WithLabelValues("fallback").Inc()
	return Bullets(dag, results)
}

func (a *Aggregator) formatWithLLM(ctx context.Context, message string, dag *task.DAG, results map[string]*task.Result) (string, error) {
	payload, err := compact(dag, results)
	if err != nil {
		return "", err
	}
	req := &provider.ChatRequest{
		Model: a.model,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "User question: " + message + "\n\nComputed results:\n" + payload},
		},
		Temperature: 0.3,
		MaxTokens:   512,
	}
	start := time.Now()
	resp, err := a.llm.Route(ctx, provider.PurposeAggregator, req)
	trace.FromContext(ctx).Record(trace.LLMCall, "aggregator", "", time.Since(start),
		map[string]any{"purpose": "format", "ok": err == nil})
	if err != nil {
		metrics.LLMCalls.WithLabelValues(provider.PurposeAggregator, "error").Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues(provider.PurposeAggregator, "ok").Inc()
	return strings.TrimSpace(resp.Content), nil
}

// sane rejects empty replies and replies without a single digit; every
// answer this assistant gives is about an amount or a count.
func sane(text string) bool {
	return strings.TrimSpace(text) != "" && strings.IndexFunc(text, unicode.IsDigit) >= 0
}

type resultView struct {
	Task   string         `json:"task"`
	Type   task.Type      `json:"type"`
	Status task.Status    `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// compact serialises the results in DAG order for the prompt.
func compact(dag *task.DAG, results map[string]*task.Result) (string, error) {
	views := make([]resultView, 0, len(dag.Tasks))
	for _, t := range dag.Tasks {
		r, ok := results[t.ID]
		if !ok {
			continue
		}
		v := resultView{Task: t.ID, Type: t.Type, Status: r.Status}
		if r.Succeeded() {
			v.Data = r.Data
		} else {
			v.Error = r.Error
		}
		views = append(views, v)
	}
	b, err := json.Marshal(views)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
