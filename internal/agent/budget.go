package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/nidhogg/finsight/internal/task"
)

func breakdownData(cats []categoryAmount, limit int) []map[string]any {
	if limit > 0 && len(cats) > limit {
		cats = cats[:limit]
	}
	out := make([]map[string]any, 0, len(cats))
	for _, c := range cats {
		out = append(out, map[string]any{"name": c.Name, "amount": round2(c.Amount)})
	}
	return out
}

func (c *computer) budgetStatus(ctx context.Context, _ task.Params, _ Context) (map[string]any, error) {
	h, err := c.fin.health(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"budget":             round2(h.Budget),
		"spent":              round2(h.Spend),
		"remaining":          round2(h.Remaining),
		"days_left":          h.DaysLeft,
		"safe_daily":         round2(h.SafeDaily),
		"projected_spend":    round2(h.ProjectedSpend),
		"spend_diff_percent": round1(h.SpendDiffPercent),
		"status":             h.Status,
		"cycle":              period(h.CycleStart, h.CycleEnd),
		"category_breakdown": breakdownData(h.Categories, 0),
	}, nil
}

func (c *computer) categorySpend(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	name := params.String("category_name")
	if name == "" {
		return nil, errors.New("category_name is required")
	}
	h, err := c.fin.health(ctx)
	if err != nil {
		return nil, err
	}
	matched, ok := h.findCategory(name)
	if !ok {
		available := make([]string, 0, 5)
		for i, cat := range h.Categories {
			if i == 5 {
				break
			}
			available = append(available, cat.Name)
		}
		return map[string]any{
			"category":             name,
			"amount":               0.0,
			"not_found":            true,
			"available_categories": available,
		}, nil
	}
	var pct float64
	if h.Spend > 0 {
		pct = matched.Amount / h.Spend * 100
	}
	return map[string]any{
		"category":   matched.Name,
		"amount":     round2(matched.Amount),
		"percentage": round1(pct),
		"cycle":      period(h.CycleStart, h.CycleEnd),
	}, nil
}

// budgetForecast projects end-of-cycle spend from the last week's daily rate.
func (c *computer) budgetForecast(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	h, err := c.fin.health(ctx)
	if err != nil {
		return nil, err
	}
	v, err := c.fin.velocity(ctx, 7)
	if err != nil {
		return nil, err
	}

	days := params.Int("days_forward", 0)
	if days <= 0 {
		days = h.DaysLeft
	}
	dailyRate := v.Current / float64(v.Window)
	projectedTotal := h.Spend + dailyRate*float64(days)
	projectedRemaining := h.Budget - projectedTotal

	var status, message string
	switch {
	case projectedRemaining > h.Budget*0.2:
		status = "well_under_budget"
		message = fmt.Sprintf("You're on track to end the cycle with %s remaining.", FormatINR(projectedRemaining))
	case projectedRemaining > 0:
		status = "under_budget"
		message = fmt.Sprintf("You'll likely stay under budget with %s to spare.", FormatINR(projectedRemaining))
	case projectedRemaining == 0:
		status = "on_budget"
		message = "You're projected to hit exactly your budget."
	default:
		status = "over_budget"
		message = fmt.Sprintf("At the current rate you'll overspend by %s.", FormatINR(-projectedRemaining))
	}

	var safeDaily float64
	if days > 0 {
		safeDaily = h.Remaining / float64(days)
	}
	return map[string]any{
		"current_budget":           round2(h.Budget),
		"current_spend":            round2(h.Spend),
		"current_remaining":        round2(h.Remaining),
		"days_left_in_cycle":       h.DaysLeft,
		"projection_days":          days,
		"current_daily_rate":       round2(dailyRate),
		"safe_daily_spend":         round2(safeDaily),
		"spending_velocity_status": v.Status,
		"projected_total_spend":    round2(projectedTotal),
		"projected_remaining":      round2(projectedRemaining),
		"status":                   status,
		"message":                  message,
		"will_stay_under_budget":   projectedRemaining >= 0,
	}, nil
}
