package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/metrics"
	"github.com/nidhogg/finsight/internal/planner"
	"github.com/nidhogg/finsight/internal/ratelimit"
	"github.com/nidhogg/finsight/internal/session"
	"github.com/nidhogg/finsight/internal/task"
	"github.com/nidhogg/finsight/internal/trace"
)

// DefaultTimeout bounds one request end to end.
const DefaultTimeout = 30 * time.Second

// Planner builds the DAG for a message.
type Planner interface {
	Plan(ctx context.Context, message string, sc task.SessionContext) (*task.DAG, error)
}

// Formatter turns results into the reply text.
type Formatter interface {
	Format(ctx context.Context, message string, dag *task.DAG, results map[string]*task.Result) string
}

// Budget reports the LLM quota left without consuming it.
type Budget interface {
	Remaining() ratelimit.Remaining
}

// TracePublisher ships a finished trace somewhere other processes can read.
type TracePublisher interface {
	PublishTrace(ctx context.Context, tr *trace.Trace) error
}

// Steward receives every chat message and runs it through the pipeline:
// session lookup, planning, execution, aggregation and session update.
type Steward struct {
	sessions  *session.Store
	planner   Planner
	scheduler *Scheduler
	formatter Formatter
	budget    Budget
	bus       TracePublisher
	timeout   time.Duration
	logger    *zap.Logger
}

// StewardOption configures a Steward.
type StewardOption func(*Steward)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) StewardOption {
	return func(s *Steward) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTracePublisher publishes each request's trace after it is answered.
func WithTracePublisher(p TracePublisher) StewardOption {
	return func(s *Steward) { s.bus = p }
}

// NewSteward wires the pipeline.
func NewSteward(sessions *session.Store, p Planner, sched *Scheduler, f Formatter, budget Budget, logger *zap.Logger, opts ...StewardOption) *Steward {
	s := &Steward{
		sessions:  sessions,
		planner:   p,
		scheduler: sched,
		formatter: f,
		budget:    budget,
		timeout:   DefaultTimeout,
		logger:    logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle answers one message. The only error is ErrEmptyMessage; every other
// outcome, including failures, is a Reply with a polite response.
func (s *Steward) Handle(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// A supplied id is kept even when nothing is stored under it yet; only an
	// empty id gets a fresh one.
	sess, found := s.sessions.Get(req.SessionID)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if !found {
		s.logger.Debug("session expired or unknown, starting it empty",
			zap.String("session", sessionID))
	}
	tr := trace.New(sessionID, msg)
	ctx = trace.NewContext(ctx, tr)
	tr.Record(trace.SessionLoaded, "steward", "", 0, map[string]any{
		"found": found, "turns": len(sess.Turns), "source": req.Source,
	})

	sc := sess.Context(session.HistoryTurns)
	sc.SessionID = sessionID

	out := s.answer(ctx, msg, sc)

	s.sessions.AppendTurn(sessionID, session.RoleUser, msg)
	s.sessions.AppendTurn(sessionID, session.RoleAssistant, out.response)
	if !out.entity.IsZero() {
		ent := mergeEntity(sc.LastEntity, out.entity)
		s.sessions.SetLastEntity(sessionID, ent)
		tr.Record(trace.ContextUpdated, "steward", "", 0, map[string]any{
			"category": ent.Category, "time_range": ent.TimeRange,
		})
	}
	if len(out.last) > 0 {
		s.sessions.SetLastResults(sessionID, out.last)
	}

	tr.Finish(out.response, out.intent != IntentError)
	metrics.RequestsTotal.WithLabelValues(string(out.intent)).Inc()
	metrics.RequestDuration.Observe(time.Since(start).Seconds())

	sum := tr.Summarize()
	s.logger.Info("answered query",
		zap.String("session", sessionID),
		zap.String("trace", tr.ID),
		zap.String("intent", string(out.intent)),
		zap.Int("llm_calls", sum.LLMCalls),
		zap.Int("tasks", sum.TasksExecuted),
		zap.Int("failed", sum.TasksFailed),
		zap.Duration("elapsed", time.Since(start)))

	if s.bus != nil {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := s.bus.PublishTrace(pctx, tr); err != nil {
			s.logger.Warn("trace publish failed", zap.Error(err))
		}
		pcancel()
	}

	reply := &Reply{
		Response:  out.response,
		Intent:    out.intent,
		SessionID: sessionID,
		TraceID:   tr.ID,
	}
	if s.budget != nil {
		reply.RateLimit = s.budget.Remaining()
	}
	return reply, nil
}

// Forget drops a session. It reports whether one existed.
func (s *Steward) Forget(sessionID string) bool {
	return s.sessions.Delete(sessionID)
}

// Remaining reports the LLM budget left.
func (s *Steward) Remaining() ratelimit.Remaining {
	if s.budget == nil {
		return ratelimit.Remaining{}
	}
	return s.budget.Remaining()
}

type outcome struct {
	response string
	intent   Intent
	entity   task.Entity
	last     map[string]map[string]any
}

func (s *Steward) answer(ctx context.Context, msg string, sc task.SessionContext) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("steward panicked", zap.Any("panic", p), zap.String("query", msg))
			out = outcome{response: apologyReply, intent: IntentError}
		}
	}()

	dag, err := s.planner.Plan(ctx, msg, sc)
	if err != nil {
		var pe *task.PlanningError
		if errors.As(err, &pe) {
			s.logger.Info("could not plan query", zap.Error(err))
			return outcome{response: rephraseReply, intent: IntentClarify}
		}
		s.logger.Error("planner failed", zap.Error(err))
		return outcome{response: apologyReply, intent: IntentError}
	}

	if dag.IsClarify() {
		if dag.RateLimited {
			return outcome{response: rateLimitedReply, intent: IntentRateLimited}
		}
		q := dag.Question
		if q == "" {
			q = task.DefaultClarifyQuestion
		}
		return outcome{response: q, intent: IntentClarify}
	}

	base := map[string]any{
		"session_id": sc.SessionID,
		"message":    msg,
	}
	if sc.LastEntity.Category != "" {
		base["last_category"] = sc.LastEntity.Category
	}
	if sc.LastEntity.TimeRange != "" {
		base["last_time_range"] = sc.LastEntity.TimeRange
	}

	results, err := s.scheduler.Execute(ctx, dag, base)
	if err != nil {
		var ce *task.CycleError
		if errors.As(err, &ce) {
			s.logger.Error("planned dag has a cycle", zap.Strings("tasks", ce.Remaining))
		} else {
			s.logger.Error("dag execution failed", zap.Error(err))
		}
		return outcome{response: apologyReply, intent: IntentError}
	}

	out.response = s.formatter.Format(ctx, msg, dag, results)
	out.intent = intentFor(dag)
	out.last = make(map[string]map[string]any)
	for _, t := range dag.Tasks {
		r := results[t.ID]
		if !r.Succeeded() {
			continue
		}
		out.last[t.ID] = r.Data
		if _, ok := out.last[string(t.Type)]; !ok {
			out.last[string(t.Type)] = r.Data
		}
		out.entity = mergeEntity(out.entity, planner.EntityFrom(t))
	}
	return out
}

// intentFor names a DAG by its task type, or multi_step when it mixes types.
func intentFor(dag *task.DAG) Intent {
	var first task.Type
	for _, t := range dag.Tasks {
		if t.Type == task.Clarify {
			continue
		}
		if first == "" {
			first = t.Type
		} else if t.Type != first {
			return IntentMultiStep
		}
	}
	if first == "" {
		return IntentClarify
	}
	return Intent(first)
}

// mergeEntity keeps the fields of prev that next leaves empty.
func mergeEntity(prev, next task.Entity) task.Entity {
	if next.Category == "" {
		next.Category = prev.Category
	}
	if next.TimeRange == "" {
		next.TimeRange = prev.TimeRange
	}
	return next
}
