package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFilterMatch(t *testing.T) {
	txn := Transaction{Amount: 100, Type: Debit, Category: "Food", Date: day(2025, 3, 10).Add(15 * time.Hour)}

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"inclusive from", Filter{From: day(2025, 3, 10)}, true},
		{"inclusive to", Filter{To: day(2025, 3, 10)}, true},
		{"after to", Filter{To: day(2025, 3, 9)}, false},
		{"before from", Filter{From: day(2025, 3, 11)}, false},
		{"category case", Filter{Category: "food"}, true},
		{"other category", Filter{Category: "Rent"}, false},
		{"type", Filter{Type: "debit"}, true},
		{"wrong type", Filter{Type: Credit}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Match(txn))
		})
	}
}

func TestSigned(t *testing.T) {
	assert.Equal(t, 50.0, Transaction{Amount: 50, Type: Debit}.Signed())
	assert.Equal(t, -50.0, Transaction{Amount: 50, Type: "credit"}.Signed())
}

func TestMemoryLedgerTransactions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(DefaultSettings())
	m.Add(
		Transaction{Amount: 300, Category: "Food", Date: day(2025, 3, 12)},
		Transaction{Amount: 200, Category: "food", Date: day(2025, 3, 2)},
		Transaction{Amount: 900, Category: "Rent", Date: day(2025, 3, 1)},
	)

	got, err := m.Transactions(ctx, Filter{Category: "Food"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Date.Before(got[1].Date), "results should be oldest first")
	assert.Equal(t, Debit, got[0].Type)

	cats, err := m.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Food", "Rent"}, cats)
}

func TestMemoryLedgerGoals(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(DefaultSettings())

	_, err := m.CreateGoal(ctx, Goal{Category: "Food", CapAmount: 0})
	assert.Error(t, err)

	first, err := m.CreateGoal(ctx, Goal{Category: "Food", CapAmount: 5000})
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, "chatbot", first.CreatedVia)

	_, err = m.CreateGoal(ctx, Goal{Category: "food", CapAmount: 4000})
	require.NoError(t, err)

	goals, err := m.Goals(ctx)
	require.NoError(t, err)
	require.Len(t, goals, 1, "a new goal replaces the active one on the same category")
	assert.Equal(t, 4000.0, goals[0].CapAmount)
	assert.Equal(t, "Food", goals[0].Category)
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	now := day(2025, 6, 15)
	m := NewMemoryLedger(DefaultSettings())
	m.SeedDemo(now)

	all, err := m.Transactions(ctx, Filter{})
	require.NoError(t, err)
	assert.NotEmpty(t, all)
	assert.False(t, all[len(all)-1].Date.After(now))

	st, err := m.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Salary"}, st.IncomeCategories)
}
