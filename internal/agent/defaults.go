package agent

import (
	"context"
	"time"

	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/task"
)

// computer binds the finance helpers to the handlers.
type computer struct {
	fin    *finance
	pricer PriceLookup
}

// NewDefaultRegistry registers a handler for every task type. A nil clock
// means time.Now; a nil pricer makes affordability checks without an
// explicit amount fail with ErrPriceUnavailable.
func NewDefaultRegistry(ledger store.Ledger, pricer PriceLookup, clock Clock) *Registry {
	if clock == nil {
		clock = time.Now
	}
	c := &computer{fin: &finance{ledger: ledger, now: clock}, pricer: pricer}

	r := NewRegistry()
	r.Register(task.BudgetStatus, c.budgetStatus)
	r.Register(task.CategorySpend, c.categorySpend)
	r.Register(task.BudgetForecast, c.budgetForecast)
	r.Register(task.TrendsOverview, c.trendsOverview)
	r.Register(task.SavingsAdvice, c.savingsAdvice)
	r.Register(task.SpendingVelocity, c.spendingVelocity)
	r.Register(task.TimeRangeSpend, c.timeRangeSpend)
	r.Register(task.AverageSpending, c.averageSpending)
	r.Register(task.CustomScenario, c.customScenario)
	r.Register(task.FutureProjection, c.futureProjection)
	r.Register(task.GoalPlanning, c.goalPlanning)
	r.Register(task.SuggestGoal, c.suggestGoal)
	r.Register(task.CreateGoal, c.createGoal)
	r.Register(task.AffordabilityCheck, c.affordabilityCheck)
	r.Register(task.Clarify, clarify)
	return r
}

// clarify echoes the question back so the aggregator can ask it.
func clarify(_ context.Context, params task.Params, _ Context) (map[string]any, error) {
	q := params.String("question")
	if q == "" {
		q = task.DefaultClarifyQuestion
	}
	return map[string]any{"question": q}, nil
}
