package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Settings returns the user's budgeting preferences, or DefaultSettings when
// none are saved.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	var st Settings
	err := s.db.QueryRow(ctx, `
		SELECT salary_day, budget_type, budget_value::float8,
		       ignored_categories, income_categories
		FROM user_settings WHERE user_id = $1`, s.userID,
	).Scan(&st.SalaryDay, &st.BudgetType, &st.BudgetValue, &st.IgnoredCategories, &st.IncomeCategories)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	st.BudgetType = strings.ToUpper(st.BudgetType)
	return st, nil
}

// SaveSettings upserts the user's budgeting preferences.
func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	if st.SalaryDay < 1 || st.SalaryDay > 31 {
		return fmt.Errorf("salary day %d out of range", st.SalaryDay)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_settings (user_id, salary_day, budget_type, budget_value, ignored_categories, income_categories)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			salary_day = EXCLUDED.salary_day,
			budget_type = EXCLUDED.budget_type,
			budget_value = EXCLUDED.budget_value,
			ignored_categories = EXCLUDED.ignored_categories,
			income_categories = EXCLUDED.income_categories`,
		s.userID, st.SalaryDay, strings.ToUpper(st.BudgetType), st.BudgetValue,
		nonNil(st.IgnoredCategories), nonNil(st.IncomeCategories),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Transactions returns ledger lines matching f, oldest first.
func (s *Store) Transactions(ctx context.Context, f Filter) ([]Transaction, error) {
	var (
		where = []string{"t.user_id = $1"}
		args  = []any{s.userID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("t.txn_date >= $%d", dateOf(f.From))
	}
	if !f.To.IsZero() {
		add("t.txn_date <= $%d", dateOf(f.To))
	}
	if f.Category != "" {
		add("lower(c.name) = lower($%d)", f.Category)
	}
	if f.Type != "" {
		add("upper(t.payment_type) = upper($%d)", f.Type)
	}

	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.amount::float8, upper(t.payment_type), COALESCE(c.name, 'Uncategorized'),
		       COALESCE(t.merchant_name, ''), t.txn_date
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY t.txn_date, t.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Amount, &t.Type, &t.Category, &t.Merchant, &t.Date); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// AddTransaction inserts a ledger line, creating its category if needed.
func (s *Store) AddTransaction(ctx context.Context, t Transaction) (int64, error) {
	catID, err := s.categoryID(ctx, t.Category)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, amount, payment_type, merchant_name, category_id, txn_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		s.userID, t.Amount, strings.ToUpper(t.Type), t.Merchant, catID, dateOf(t.Date),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("add transaction: %w", err)
	}
	return id, nil
}

// Categories returns every category name in alphabetical order.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan categories: %w", err)
	}
	return names, nil
}

// Goals returns the user's active goals.
func (s *Store) Goals(ctx context.Context) ([]Goal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT g.id, c.name, g.cap_amount::float8, g.is_active, g.created_via, g.created_at
		FROM goals g
		JOIN categories c ON c.id = g.category_id
		WHERE g.user_id = $1 AND g.is_active
		ORDER BY g.created_at`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		if err := rows.Scan(&g.ID, &g.Category, &g.CapAmount, &g.Active, &g.CreatedVia, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// CreateGoal inserts a goal, replacing any active goal on the same category.
func (s *Store) CreateGoal(ctx context.Context, g Goal) (Goal, error) {
	if g.CapAmount <= 0 {
		return Goal{}, fmt.Errorf("goal cap must be positive, got %.2f", g.CapAmount)
	}
	if g.CreatedVia == "" {
		g.CreatedVia = "chatbot"
	}
	catID, err := s.categoryID(ctx, g.Category)
	if err != nil {
		return Goal{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Goal{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE goals SET is_active = false
		WHERE user_id = $1 AND category_id = $2 AND is_active`, s.userID, catID); err != nil {
		return Goal{}, fmt.Errorf("deactivate goals: %w", err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO goals (user_id, category_id, cap_amount, is_active, created_via, created_at)
		VALUES ($1, $2, $3, true, $4, $5)
		RETURNING id, created_at`,
		s.userID, catID, g.CapAmount, g.CreatedVia, time.Now().UTC(),
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Goal{}, fmt.Errorf("commit goal: %w", err)
	}
	g.Active = true
	s.logger.Debug("goal created",
		zap.Int64("id", g.ID),
		zap.String("category", g.Category),
		zap.Float64("cap", g.CapAmount))
	return g, nil
}

func (s *Store) categoryID(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Uncategorized"
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		SELECT id FROM categories WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup category %q: %w", name, err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = categories.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve category %q: %w", name, err)
	}
	return id, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
