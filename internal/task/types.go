package task

import (
	"fmt"
	"time"
)

// Type identifies which compute agent handles a task.
type Type string

const (
	BudgetStatus       Type = "budget_status"
	CategorySpend      Type = "category_spend"
	TrendsOverview     Type = "trends_overview"
	AffordabilityCheck Type = "affordability_check"
	SavingsAdvice      Type = "savings_advice"
	CustomScenario     Type = "custom_scenario"
	Clarify            Type = "clarify"
	FutureProjection   Type = "future_projection"
	GoalPlanning       Type = "goal_planning"
	BudgetForecast     Type = "budget_forecast"
	TimeRangeSpend     Type = "time_range_spend"
	AverageSpending    Type = "average_spending"
	SpendingVelocity   Type = "spending_velocity"
	SuggestGoal        Type = "suggest_goal"
	CreateGoal         Type = "create_goal"
)

// AllTypes lists every supported task type in catalogue order.
var AllTypes = []Type{
	BudgetStatus, CategorySpend, TrendsOverview, AffordabilityCheck,
	SavingsAdvice, CustomScenario, Clarify, FutureProjection, GoalPlanning,
	BudgetForecast, TimeRangeSpend, AverageSpending, SpendingVelocity,
	SuggestGoal, CreateGoal,
}

var knownTypes = func() map[Type]bool {
	m := make(map[Type]bool, len(AllTypes))
	for _, t := range AllTypes {
		m[t] = true
	}
	return m
}()

// ParseType validates a raw type tag against the closed set of task types.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !knownTypes[t] {
		return "", fmt.Errorf("%q: %w", s, ErrUnknownTaskType)
	}
	return t, nil
}

// Status tracks a task through one DAG execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Source records which planner path produced a DAG.
type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
	SourceClarify  Source = "clarify"
)

// Task is a single unit of work inside a DAG.
type Task struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Params      Params   `json:"params"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Result      *Result  `json:"result,omitempty"`
}

// Result is the outcome of one task.
type Result struct {
	TaskID   string         `json:"task_id"`
	Type     Type           `json:"type"`
	Status   Status         `json:"status"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	TimedOut bool           `json:"timed_out,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Succeeded reports whether the task produced data.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// Entity is the last category or time range a conversation referred to.
type Entity struct {
	Category  string `json:"category,omitempty"`
	TimeRange string `json:"time_range,omitempty"`
}

// IsZero reports whether no field is set.
func (e Entity) IsZero() bool {
	return e.Category == "" && e.TimeRange == ""
}

// Turn is a single message in a conversation log.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// SessionContext is the conversational state the planner sees.
type SessionContext struct {
	SessionID  string `json:"session_id,omitempty"`
	LastEntity Entity `json:"last_entity"`
	Turns      []Turn `json:"turns,omitempty"`
}

// DAG is the planned task graph for one user query.
type DAG struct {
	Message     string         `json:"message"`
	Summary     string         `json:"summary,omitempty"`
	Tasks       []*Task        `json:"tasks"`
	Session     SessionContext `json:"session"`
	Source      Source         `json:"source"`
	RateLimited bool           `json:"rate_limited,omitempty"`
	// Question is set for clarify-only plans.
	Question string `json:"question,omitempty"`
}

// Get returns the task with the given id.
func (d *DAG) Get(id string) (*Task, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// IsClarify reports whether the DAG only asks the user for more input.
func (d *DAG) IsClarify() bool {
	if len(d.Tasks) == 0 {
		return true
	}
	for _, t := range d.Tasks {
		if t.Type != Clarify {
			return false
		}
	}
	return true
}

// NewClarify builds a single-task DAG asking the user to rephrase.
func NewClarify(message, question string) *DAG {
	if question == "" {
		question = DefaultClarifyQuestion
	}
	return &DAG{
		Message:  message,
		Source:   SourceClarify,
		Question: question,
		Tasks: []*Task{{
			ID:          "op_1",
			Type:        Clarify,
			Params:      Params{"question": question},
			Description: "ask the user to clarify",
			Status:      StatusPending,
		}},
	}
}

// DefaultClarifyQuestion is used when nothing in the message was recognised.
const DefaultClarifyQuestion = "I couldn't quite work out what you'd like to know. " +
	"You can ask about your budget, spending in a category, trends, savings goals, or whether you can afford something."
