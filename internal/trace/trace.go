// Package trace records what happened while answering one query.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a trace event.
type EventType string

const (
	DAGCreated        EventType = "dag_created"
	TaskStarted       EventType = "task_started"
	TaskCompleted     EventType = "task_completed"
	TaskFailed        EventType = "task_failed"
	LLMCall           EventType = "llm_call"
	ContextUpdated    EventType = "context_updated"
	SessionLoaded     EventType = "session_loaded"
	FallbackTriggered EventType = "fallback_triggered"
)

// Event is a single entry in an execution trace.
type Event struct {
	Type     EventType      `json:"type"`
	At       time.Time      `json:"at"`
	Agent    string         `json:"agent,omitempty"`
	TaskID   string         `json:"task_id,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Trace collects events for one request. All methods are safe for concurrent
// use and do nothing on a nil *Trace.
type Trace struct {
	ID        string    `json:"trace_id"`
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	StartedAt time.Time `json:"started_at"`

	mu       sync.Mutex
	events   []Event
	llmCalls int
	done     int
	failed   int
	response string
	success  bool
	finished time.Time
}

// New starts a trace.
func New(sessionID, query string) *Trace {
	return &Trace{
		ID:        uuid.New().String()[:12],
		SessionID: sessionID,
		Query:     query,
		StartedAt: time.Now(),
	}
}

// Add appends an event.
func (t *Trace) Add(e Event) {
	if t == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	switch e.Type {
	case LLMCall:
		t.llmCalls++
	case TaskCompleted:
		t.done++
	case TaskFailed:
		t.failed++
	}
}

// Record is shorthand for Add with the common fields.
func (t *Trace) Record(typ EventType, agent, taskID string, d time.Duration, data map[string]any) {
	t.Add(Event{Type: typ, Agent: agent, TaskID: taskID, Duration: d, Data: data})
}

// SetSession sets the session id once it is known.
func (t *Trace) SetSession(id string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.SessionID = id
	t.mu.Unlock()
}

// Finish marks the trace complete.
func (t *Trace) Finish(response string, success bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.response = response
	t.success = success
	t.finished = time.Now()
	t.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []Event {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// Count returns how many events of typ were recorded.
func (t *Trace) Count(typ EventType) int {
	n := 0
	for _, e := range t.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Summary is the aggregate view of a trace.
type Summary struct {
	TraceID       string        `json:"trace_id"`
	SessionID     string        `json:"session_id"`
	Query         string        `json:"query"`
	Events        int           `json:"events"`
	LLMCalls      int           `json:"llm_calls"`
	TasksExecuted int           `json:"tasks_executed"`
	TasksFailed   int           `json:"tasks_failed"`
	Success       bool          `json:"success"`
	Duration      time.Duration `json:"duration"`
	Response      string        `json:"response,omitempty"`
}

// Summarize returns totals for the trace.
func (t *Trace) Summarize() Summary {
	if t == nil {
		return Summary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.finished
	if end.IsZero() {
		end = time.Now()
	}
	return Summary{
		TraceID:       t.ID,
		SessionID:     t.SessionID,
		Query:         t.Query,
		Events:        len(t.events),
		LLMCalls:      t.llmCalls,
		TasksExecuted: t.done,
		TasksFailed:   t.failed,
		Success:       t.success,
		Duration:      end.Sub(t.StartedAt),
		Response:      t.response,
	}
}

type ctxKey struct{}

// NewContext returns a context carrying t.
func NewContext(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the trace in ctx, or nil.
func FromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(ctxKey{}).(*Trace)
	return t
}
