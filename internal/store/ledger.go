package store

import (
	"context"
	"strings"
	"time"
)

// Budget types.
const (
	BudgetFixed      = "FIXED"
	BudgetPercentage = "PERCENTAGE"
)

// Payment types.
const (
	Debit  = "DEBIT"
	Credit = "CREDIT"
)

// Settings are the per-user budgeting preferences.
type Settings struct {
	SalaryDay   int     `json:"salary_day"`
	BudgetType  string  `json:"budget_type"`
	BudgetValue float64 `json:"budget_value"`
	// IgnoredCategories never count as spend or income.
	IgnoredCategories []string `json:"ignored_categories"`
	// IncomeCategories count toward income instead of spend.
	IncomeCategories []string `json:"income_categories"`
}

// DefaultSettings is used when a user has not saved any.
func DefaultSettings() Settings {
	return Settings{SalaryDay: 1, BudgetType: BudgetFixed, BudgetValue: 30000}
}

// Transaction is one ledger line.
type Transaction struct {
	ID       int64     `json:"id"`
	Amount   float64   `json:"amount"`
	Type     string    `json:"type"`
	Category string    `json:"category"`
	Merchant string    `json:"merchant,omitempty"`
	Date     time.Time `json:"date"`
}

// Signed returns the amount as spend: debits positive, credits negative.
func (t Transaction) Signed() float64 {
	if strings.EqualFold(t.Type, Credit) {
		return -t.Amount
	}
	return t.Amount
}

// Filter narrows a transaction query. Zero fields are unbounded; From and To
// are inclusive calendar dates.
type Filter struct {
	From     time.Time
	To       time.Time
	Category string
	Type     string
}

// Match reports whether t passes the filter.
func (f Filter) Match(t Transaction) bool {
	d := dateOf(t.Date)
	if !f.From.IsZero() && d.Before(dateOf(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(dateOf(f.To)) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, t.Category) {
		return false
	}
	if f.Type != "" && !strings.EqualFold(f.Type, t.Type) {
		return false
	}
	return true
}

// Goal is a monthly spending cap on one category.
type Goal struct {
	ID         int64     `json:"id"`
	Category   string    `json:"category"`
	CapAmount  float64   `json:"cap_amount"`
	Active     bool      `json:"is_active"`
	CreatedVia string    `json:"created_via"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger is the read-mostly view of a user's financial data.
type Ledger interface {
	Settings(ctx context.Context) (Settings, error)
	Transactions(ctx context.Context, f Filter) ([]Transaction, error)
	Categories(ctx context.Context) ([]string, error)
	Goals(ctx context.Context) ([]Goal, error)
	CreateGoal(ctx context.Context, g Goal) (Goal, error)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
