package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/provider"
	"github.com/nidhogg/finsight/internal/provider/providertest"
	"github.com/nidhogg/finsight/internal/ratelimit"
	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/task"
)

// 2025-03-20 is a Thursday. With salary day 1 the cycle runs from
// Fri 2025-02-28 (1 March is a Saturday) to 2025-03-31.
var fixedNow = time.Date(2025, 3, 20, 15, 4, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func day(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }

func cycleLedger() *store.MemoryLedger {
	l := store.NewMemoryLedger(store.Settings{
		SalaryDay: 1, BudgetType: store.BudgetFixed, BudgetValue: 30000,
		IgnoredCategories: []string{"Transfer"},
		IncomeCategories:  []string{"Salary"},
	})
	l.Add(
		store.Transaction{Amount: 80000, Type: store.Credit, Category: "Salary", Date: day(2, 28)},
		store.Transaction{Amount: 15000, Type: store.Debit, Category: "Rent", Merchant: "Landlord", Date: day(3, 2)},
		store.Transaction{Amount: 3000, Type: store.Debit, Category: "Food", Merchant: "Swiggy", Date: day(3, 5)},
		store.Transaction{Amount: 5000, Type: store.Debit, Category: "Transfer", Date: day(3, 6)},
	)
	return l
}

// historyLedger has identical spending in January, February and March.
func historyLedger() *store.MemoryLedger {
	l := store.NewMemoryLedger(store.Settings{SalaryDay: 1, BudgetType: store.BudgetFixed, BudgetValue: 20000})
	for _, m := range []time.Month{time.January, time.February, time.March} {
		l.Add(
			store.Transaction{Amount: 6000, Type: store.Debit, Category: "Food", Date: day(m, 10)},
			store.Transaction{Amount: 4000, Type: store.Debit, Category: "Shopping", Date: day(m, 10)},
		)
	}
	return l
}

func run(t *testing.T, r *Registry, typ task.Type, params task.Params, deps Context) map[string]any {
	t.Helper()
	out, err := r.Execute(context.Background(), typ, params, deps)
	require.NoError(t, err)
	return out
}

func TestAdjustedPayday(t *testing.T) {
	tests := []struct {
		name      string
		year      int
		month     time.Month
		salaryDay int
		want      time.Time
	}{
		{"weekday", 2025, time.March, 20, day(3, 20)},
		{"saturday moves to friday", 2025, time.March, 1, day(2, 28)},
		{"sunday moves to friday", 2025, time.June, 1, day(5, 30)},
		{"clamped to month end", 2025, time.February, 31, day(2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adjustedPayday(tt.year, tt.month, tt.salaryDay))
		})
	}
}

func TestCycleDates(t *testing.T) {
	start, end := cycleDates(day(3, 20), 1, 0)
	assert.Equal(t, day(2, 28), start)
	assert.Equal(t, day(3, 31), end)

	start, end = cycleDates(day(3, 20), 1, 1)
	// 1 February is also a Saturday
	assert.Equal(t, day(1, 31), start)
	assert.Equal(t, day(2, 27), end)
}

func TestBudgetStatus(t *testing.T) {
	r := NewDefaultRegistry(cycleLedger(), nil, fixedClock)
	out := run(t, r, task.BudgetStatus, nil, nil)

	assert.Equal(t, 30000.0, out["budget"])
	assert.Equal(t, 18000.0, out["spent"])
	assert.Equal(t, 12000.0, out["remaining"])
	assert.Equal(t, 12, out["days_left"])
	assert.Equal(t, 1000.0, out["safe_daily"])
	assert.Equal(t, "Green", out["status"])

	breakdown := out["category_breakdown"].([]map[string]any)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "Rent", breakdown[0]["name"])
}

func TestBudgetStatusPercentageUsesLookbackSalary(t *testing.T) {
	l := cycleLedger()
	st, _ := l.Settings(context.Background())
	st.BudgetType = store.BudgetPercentage
	st.BudgetValue = 50
	l.SetSettings(st)

	// salary landed two days before the cycle started
	l2 := store.NewMemoryLedger(st)
	l2.Add(
		store.Transaction{Amount: 60000, Type: store.Credit, Category: "Salary", Date: day(2, 26)},
		store.Transaction{Amount: 1000, Type: store.Debit, Category: "Food", Date: day(3, 3)},
	)
	out := run(t, NewDefaultRegistry(l2, nil, fixedClock), task.BudgetStatus, nil, nil)
	assert.Equal(t, 30000.0, out["budget"])
}

func TestCategorySpend(t *testing.T) {
	r := NewDefaultRegistry(cycleLedger(), nil, fixedClock)

	out := run(t, r, task.CategorySpend, task.Params{"category_name": "food"}, nil)
	assert.Equal(t, "Food", out["category"])
	assert.Equal(t, 3000.0, out["amount"])
	assert.InDelta(t, 16.7, out["percentage"], 0.01)

	out = run(t, r, task.CategorySpend, task.Params{"category_name": "Travel"}, nil)
	assert.Equal(t, true, out["not_found"])
	assert.Contains(t, out["available_categories"], "Rent")

	_, err := r.Execute(context.Background(), task.CategorySpend, task.Params{}, nil)
	assert.Error(t, err)
}

func TestSpendingVelocity(t *testing.T) {
	l := cycleLedger()
	l.Add(
		store.Transaction{Amount: 1000, Type: store.Debit, Category: "Food", Date: day(3, 15)},
		store.Transaction{Amount: 500, Type: store.Debit, Category: "Food", Date: day(3, 8)},
	)
	out := run(t, NewDefaultRegistry(l, nil, fixedClock), task.SpendingVelocity, task.Params{"window_days": 7}, nil)
	assert.Equal(t, 1000.0, out["current_spend"])
	assert.Equal(t, 500.0, out["previous_spend"])
	assert.Equal(t, 100.0, out["change_percent"])
	assert.Equal(t, "increasing_fast", out["status"])
}

func TestBudgetForecast(t *testing.T) {
	l := cycleLedger()
	l.Add(store.Transaction{Amount: 7000, Type: store.Debit, Category: "Food", Date: day(3, 18)})
	out := run(t, NewDefaultRegistry(l, nil, fixedClock), task.BudgetForecast, nil, nil)

	// 25000 spent, 1000/day for the 12 days left
	assert.Equal(t, 1000.0, out["current_daily_rate"])
	assert.Equal(t, 37000.0, out["projected_total_spend"])
	assert.Equal(t, "over_budget", out["status"])
	assert.Equal(t, false, out["will_stay_under_budget"])
}

func TestTimeRangeSpend(t *testing.T) {
	r := NewDefaultRegistry(cycleLedger(), nil, fixedClock)

	out := run(t, r, task.TimeRangeSpend, task.Params{"category_name": "food", "relative": "last_month"}, nil)
	assert.Equal(t, 3000.0, out["total"])
	assert.Equal(t, 1, out["transaction_count"])
	assert.Equal(t, "Food", out["matched_category"])

	// income counts only as a credit and ignored categories never count
	out = run(t, r, task.TimeRangeSpend, task.Params{"relative": "last_month"}, nil)
	assert.Equal(t, 98000.0, out["total"])
	assert.NotContains(t, out["breakdown_by_category"], "Transfer")
}

func TestAverageSpending(t *testing.T) {
	r := NewDefaultRegistry(historyLedger(), nil, fixedClock)
	out := run(t, r, task.AverageSpending, task.Params{"category_name": "shop"}, nil)

	assert.Equal(t, 10000.0, out["avg_monthly_total"])
	assert.Equal(t, 3, out["months_analyzed"])
	req := out["requested_category"].(map[string]any)
	assert.Equal(t, "Shopping", req["name"])
	assert.Equal(t, 4000.0, req["avg_monthly"])
	assert.Equal(t, true, req["found"])
}

func TestCustomScenario(t *testing.T) {
	r := NewDefaultRegistry(historyLedger(), nil, fixedClock)
	out := run(t, r, task.CustomScenario, task.Params{
		"adjustments": map[string]any{"Food": float64(-10000), "Travel": float64(-1000)},
	}, nil)

	// food is capped at its 6000 average; the unmatched cut still counts
	assert.Equal(t, 10000.0, out["current_monthly_surplus"])
	assert.Equal(t, 7000.0, out["additional_monthly_savings"])
	assert.Equal(t, 17000.0, out["new_monthly_surplus"])
	assert.Equal(t, 102000.0, out["total_projected_savings"])
}

func TestFutureProjection(t *testing.T) {
	r := NewDefaultRegistry(historyLedger(), nil, fixedClock)
	out := run(t, r, task.FutureProjection, task.Params{"months_forward": 3}, nil)

	proj := out["monthly_projections"].([]map[string]any)
	require.Len(t, proj, 3)
	assert.Equal(t, 30000.0, proj[2]["accumulated_savings"])
	assert.Equal(t, 30000.0, out["total_projected_savings"])
}

func TestGoalPlanning(t *testing.T) {
	r := NewDefaultRegistry(historyLedger(), nil, fixedClock)

	out := run(t, r, task.GoalPlanning, task.Params{"target_amount": 50000}, nil)
	assert.Equal(t, 5.0, out["months_needed"])
	faster := out["faster_option"].(map[string]any)
	assert.Equal(t, 12000.0, faster["monthly_savings"])

	out = run(t, r, task.GoalPlanning, task.Params{"target_amount": 60000, "target_months": 5}, nil)
	assert.Equal(t, 12000.0, out["required_monthly_savings"])
	assert.Equal(t, 2000.0, out["shortfall"])
	assert.Equal(t, true, out["achievable_with_cuts"])

	_, err := r.Execute(context.Background(), task.GoalPlanning, task.Params{}, nil)
	assert.Error(t, err)
}

func TestSuggestAndCreateGoal(t *testing.T) {
	l := cycleLedger()
	r := NewDefaultRegistry(l, nil, fixedClock)

	out := run(t, r, task.SuggestGoal, task.Params{"category_name": "rent"}, nil)
	assert.Equal(t, true, out["should_suggest"])
	assert.Equal(t, 13500.0, out["suggested_cap"])

	out = run(t, r, task.CreateGoal, task.Params{"category_name": "rent"}, nil)
	assert.Equal(t, "Rent", out["category"])
	assert.Equal(t, 13500.0, out["cap_amount"])

	goals, err := l.Goals(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "chatbot", goals[0].CreatedVia)

	out = run(t, r, task.SuggestGoal, task.Params{"category_name": "rent"}, nil)
	assert.Equal(t, false, out["should_suggest"])
	assert.Equal(t, true, out["already_has_goal"])

	out = run(t, r, task.CreateGoal, task.Params{"category_name": "food", "reduction_percent": 50}, nil)
	assert.Equal(t, 1500.0, out["cap_amount"])

	_, err = r.Execute(context.Background(), task.CreateGoal, task.Params{"category_name": "yachts"}, nil)
	assert.Error(t, err)
}

type fakePricer struct {
	quote Quote
	err   error
}

func (f fakePricer) LookupPrice(context.Context, string) (Quote, error) { return f.quote, f.err }

func TestAffordabilityCheck(t *testing.T) {
	tests := []struct {
		name   string
		pricer PriceLookup
		params task.Params
		deps   Context
		want   bool
	}{
		{"one-time within a year", fakePricer{quote: Quote{Price: 100000, OneTime: true}},
			task.Params{"product_name": "laptop"}, nil, true},
		{"one-time beyond a year", fakePricer{quote: Quote{Price: 150000, OneTime: true}},
			task.Params{"product_name": "bike"}, nil, false},
		{"monthly cost under surplus", nil, task.Params{"product_name": "gym", "monthly_cost": 2500}, nil, true},
		{"scenario savings cover it", fakePricer{quote: Quote{Price: 50000, OneTime: true}},
			task.Params{"product_name": "trip"},
			Context{string(task.CustomScenario): {"total_projected_savings": 78000.0, "new_monthly_surplus": 13000.0}}, true},
		{"scenario savings fall short", fakePricer{quote: Quote{Price: 90000, OneTime: true}},
			task.Params{"product_name": "trip"},
			Context{"op_1": {}, string(task.FutureProjection): {"total_projected_savings": 78000.0}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewDefaultRegistry(historyLedger(), tt.pricer, fixedClock)
			out := run(t, r, task.AffordabilityCheck, tt.params, tt.deps)
			assert.Equal(t, tt.want, out["can_afford"])
			assert.NotEmpty(t, out["recommendation"])
		})
	}
}

func TestAffordabilityPriceUnavailable(t *testing.T) {
	r := NewDefaultRegistry(historyLedger(), fakePricer{err: ErrPriceUnavailable}, fixedClock)
	_, err := r.Execute(context.Background(), task.AffordabilityCheck, task.Params{"product_name": "x"}, nil)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestClarifyAndUnknown(t *testing.T) {
	r := NewDefaultRegistry(historyLedger(), nil, fixedClock)
	out := run(t, r, task.Clarify, task.Params{"question": "Which month?"}, nil)
	assert.Equal(t, "Which month?", out["question"])

	assert.Len(t, r.Types(), len(task.AllTypes))
	_, err := NewRegistry().Execute(context.Background(), task.BudgetStatus, nil, nil)
	assert.True(t, errors.Is(err, task.ErrUnknownTaskType))
}

func TestParseQuote(t *testing.T) {
	q := ParseQuote("Product: iPhone 15\n**Price:** ₹79,900\nType: one-time")
	assert.Equal(t, "iPhone 15", q.Product)
	assert.Equal(t, 79900.0, q.Price)
	assert.True(t, q.OneTime)

	q = ParseQuote("Product: Netflix\nPrice: 649 INR\nType: monthly")
	assert.Equal(t, 649.0, q.Price)
	assert.False(t, q.OneTime)

	assert.Zero(t, ParseQuote("I am not sure").Price)
}

func TestLLMPriceLookup(t *testing.T) {
	stub := providertest.Fixed("stub", "Product: Trip to Goa\nPrice: 45,000\nType: one-time")
	router := provider.NewRouter(zap.NewNop())
	router.Register(stub)

	lookup := NewLLMPriceLookup(ratelimit.New(1, 10), router, zap.NewNop())
	q, err := lookup.LookupPrice(context.Background(), "trip to goa")
	require.NoError(t, err)
	assert.Equal(t, 45000.0, q.Price)
	assert.True(t, q.OneTime)

	// the minute budget of one is spent
	_, err = lookup.LookupPrice(context.Background(), "trip to goa")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.Equal(t, 1, stub.Calls())
}

func TestFormatINR(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "₹0"},
		{999, "₹999"},
		{50.5, "₹50.50"},
		{100000, "₹1,00,000"},
		{1234567.5, "₹12,34,568"},
		{-2500, "-₹2,500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatINR(tt.in), "FormatINR(%v)", tt.in)
	}
}
