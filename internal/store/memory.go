package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger used by tests and when PostgreSQL is
// not reachable.
type MemoryLedger struct {
	mu         sync.RWMutex
	settings   Settings
	txns       []Transaction
	goals      []Goal
	categories map[string]string // lower -> display
	nextID     int64
	now        func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger with the given settings.
func NewMemoryLedger(settings Settings) *MemoryLedger {
	return &MemoryLedger{
		settings:   settings,
		categories: make(map[string]string),
		now:        time.Now,
	}
}

// Add appends transactions. Missing IDs are assigned.
func (m *MemoryLedger) Add(txns ...Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txns {
		m.nextID++
		if t.ID == 0 {
			t.ID = m.nextID
		}
		t.Type = strings.ToUpper(t.Type)
		if t.Type == "" {
			t.Type = Debit
		}
		t.Date = dateOf(t.Date)
		t.Category = m.addCategory(t.Category)
		m.txns = append(m.txns, t)
	}
}

// AddCategories registers category names without transactions.
func (m *MemoryLedger) AddCategories(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.addCategory(n)
	}
}

func (m *MemoryLedger) addCategory(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Uncategorized"
	}
	key := strings.ToLower(name)
	if existing, ok := m.categories[key]; ok {
		return existing
	}
	m.categories[key] = name
	return name
}

func (m *MemoryLedger) Settings(context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.settings
	st.IgnoredCategories = append([]string(nil), st.IgnoredCategories...)
	st.IncomeCategories = append([]string(nil), st.IncomeCategories...)
	return st, nil
}

// SetSettings replaces the stored settings.
func (m *MemoryLedger) SetSettings(st Settings) {
	m.mu.Lock()
	m.settings = st
	m.mu.Unlock()
}

func (m *MemoryLedger) Transactions(ctx context.Context, f Filter) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Transaction
	for _, t := range m.txns {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryLedger) Categories(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.categories))
	for _, name := range m.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryLedger) Goals(context.Context) ([]Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Goal
	for _, g := range m.goals {
		if g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *MemoryLedger) CreateGoal(_ context.Context, g Goal) (Goal, error) {
	if g.CapAmount <= 0 {
		return Goal{}, fmt.Errorf("goal cap must be positive, got %.2f", g.CapAmount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g.Category = m.addCategory(g.Category)
	for i := range m.goals {
		if m.goals[i].Active && strings.EqualFold(m.goals[i].Category, g.Category) {
			m.goals[i].Active = false
		}
	}
	if g.CreatedVia == "" {
		g.CreatedVia = "chatbot"
	}
	g.ID = int64(len(m.goals) + 1)
	g.Active = true
	g.CreatedAt = m.now().UTC()
	m.goals = append(m.goals, g)
	return g, nil
}

// SeedDemo fills the ledger with roughly three months of plausible spending
// ending at now. The data is deterministic for a given now.
func (m *MemoryLedger) SeedDemo(now time.Time) {
	type line struct {
		category string
		merchant string
		amount   float64
		every    int // days
	}
	pattern := []line{
		{"Food", "Swiggy", 450, 2},
		{"Groceries", "BigBasket", 1800, 7},
		{"Transport", "Uber", 320, 3},
		{"Shopping", "Amazon", 2400, 11},
		{"Entertainment", "BookMyShow", 900, 14},
		{"Utilities", "Electricity Board", 2100, 30},
		{"Subscriptions", "Netflix", 649, 30},
		{"Rent", "Landlord", 18000, 30},
	}
	start := dateOf(now).AddDate(0, 0, -89)
	var txns []Transaction
	for day := 0; day < 90; day++ {
		d := start.AddDate(0, 0, day)
		for i, p := range pattern {
			if (day+i)%p.every != 0 {
				continue
			}
			// small deterministic variation so trends are not flat
			amt := p.amount * (1 + float64((day*7+i*13)%21-10)/100)
			txns = append(txns, Transaction{
				Amount: float64(int(amt)), Type: Debit, Category: p.category, Merchant: p.merchant, Date: d,
			})
		}
		if d.Day() == 1 {
			txns = append(txns, Transaction{Amount: 85000, Type: Credit, Category: "Salary", Merchant: "Employer", Date: d})
		}
	}
	m.mu.Lock()
	m.settings = Settings{
		SalaryDay: 1, BudgetType: BudgetFixed, BudgetValue: 60000,
		IncomeCategories: []string{"Salary"},
	}
	m.mu.Unlock()
	m.Add(txns...)
}
