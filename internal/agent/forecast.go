package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/task"
)

func (c *computer) timeRangeSpend(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	st, err := c.fin.ledger.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cls := newClassifier(st)
	start, end := dateRange(c.fin.today(), params.String("relative"), params.Int("months_back", 0),
		params.String("start_date"), params.String("end_date"))

	paymentType := strings.ToUpper(params.String("payment_type"))
	if paymentType == "ALL" {
		paymentType = ""
	}
	txns, err := c.fin.ledger.Transactions(ctx, store.Filter{From: start, To: end, Type: paymentType})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	categoryName := params.String("category_name")
	needle := strings.ToLower(categoryName)
	var total float64
	var count int
	byCat := map[string]float64{}
	for _, t := range txns {
		if cls.isIgnored(t.Category) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(t.Category), needle) {
			continue
		}
		if paymentType == "" && cls.isIncome(t.Category) && !strings.EqualFold(t.Type, store.Credit) {
			continue
		}
		total += t.Amount
		count++
		byCat[t.Category] += t.Amount
	}

	var matched any
	if needle != "" {
		names := make([]string, 0, len(byCat))
		for name := range byCat {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) > 0 {
			matched = names[0]
		}
	}
	breakdown := make(map[string]any, len(byCat))
	for k, v := range byCat {
		breakdown[k] = round2(v)
	}
	return map[string]any{
		"period":                period(start, end),
		"total":                 round2(total),
		"transaction_count":     count,
		"category_filter":       categoryName,
		"matched_category":      matched,
		"payment_type_filter":   paymentType,
		"breakdown_by_category": breakdown,
	}, nil
}

func (c *computer) averageSpending(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	monthsBack := params.Int("months_back", 3)
	h, err := c.fin.historical(ctx, monthsBack)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"months_analyzed":   h.Months,
		"avg_monthly_total": round2(h.AvgSpend),
		"avg_by_category":   h.categoryMap(),
		"period":            period(c.fin.today().AddDate(0, 0, -max(monthsBack, 1)*30), c.fin.today()),
	}
	if name := params.String("category_name"); name != "" {
		req := map[string]any{"name": name, "avg_monthly": 0.0, "found": false}
		if m, ok := h.matchCategory(name); ok {
			req = map[string]any{"name": m.Name, "avg_monthly": round2(m.Amount), "found": true}
		}
		out["requested_category"] = req
	}
	return out, nil
}

// adjustment is the effect of one category change on monthly savings.
type adjustment struct {
	Category  string
	Current   float64
	Intended  float64
	Savings   float64
	NewSpend  float64
	Unmatched bool
}

// applyAdjustments turns category changes into monthly savings. A negative
// change is a reduction and can never exceed what the category averages.
func applyAdjustments(h *historical, changes map[string]float64) ([]adjustment, float64) {
	names := make([]string, 0, len(changes))
	for k := range changes {
		names = append(names, k)
	}
	sort.Strings(names)

	var total float64
	out := make([]adjustment, 0, len(names))
	for _, name := range names {
		change := changes[name]
		reduction := 0.0
		if change < 0 {
			reduction = -change
		}
		adj := adjustment{Category: name, Intended: reduction}
		if m, ok := h.matchCategory(name); ok {
			adj.Category = m.Name
			adj.Current = m.Amount
			adj.Savings = math.Min(reduction, m.Amount)
			adj.NewSpend = m.Amount - adj.Savings
		} else {
			adj.Savings = reduction
			adj.Unmatched = true
		}
		total += adj.Savings
		out = append(out, adj)
	}
	return out, total
}

func adjustmentData(list []adjustment) map[string]any {
	out := make(map[string]any, len(list))
	for _, a := range list {
		out[a.Category] = map[string]any{
			"current_avg_spend":  round2(a.Current),
			"intended_reduction": round2(a.Intended),
			"actual_savings":     round2(a.Savings),
			"new_avg_spend":      round2(a.NewSpend),
			"matched":            !a.Unmatched,
		}
	}
	return out
}

func (c *computer) customScenario(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	months := params.Int("months", 6)
	if months <= 0 {
		months = 6
	}
	h, err := c.fin.historical(ctx, 3)
	if err != nil {
		return nil, err
	}
	adjs, savings := applyAdjustments(h, params.FloatMap("adjustments"))
	newSurplus := h.AvgSurplus + savings
	return map[string]any{
		"months":                     months,
		"current_monthly_surplus":    round2(h.AvgSurplus),
		"avg_monthly_budget":         round2(h.AvgBudget),
		"avg_monthly_spend":          round2(h.AvgSpend),
		"adjustments":                adjustmentData(adjs),
		"additional_monthly_savings": round2(savings),
		"new_monthly_surplus":        round2(newSurplus),
		"total_projected_savings":    round2(newSurplus * float64(months)),
	}, nil
}

func (c *computer) futureProjection(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	months := params.Int("months_forward", 6)
	if months <= 0 {
		months = 6
	}
	h, err := c.fin.historical(ctx, 3)
	if err != nil {
		return nil, err
	}
	adjs, savings := applyAdjustments(h, params.FloatMap("adjustments"))
	newSurplus := h.AvgSurplus + savings

	projections := make([]map[string]any, 0, months)
	var accumulated float64
	for m := 1; m <= months; m++ {
		accumulated += newSurplus
		projections = append(projections, map[string]any{
			"month":               m,
			"surplus":             round2(newSurplus),
			"accumulated_savings": round2(accumulated),
		})
	}
	return map[string]any{
		"months_projected": months,
		"historical_context": map[string]any{
			"avg_monthly_budget":      round2(h.AvgBudget),
			"avg_monthly_spend":       round2(h.AvgSpend),
			"current_monthly_surplus": round2(h.AvgSurplus),
		},
		"adjustments":                adjustmentData(adjs),
		"additional_monthly_savings": round2(savings),
		"new_monthly_surplus":        round2(newSurplus),
		"monthly_projections":        projections,
		"total_projected_savings":    round2(accumulated),
	}, nil
}

func (c *computer) goalPlanning(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	target := params.Float("target_amount", 0)
	if target <= 0 {
		return nil, fmt.Errorf("target_amount must be positive")
	}
	h, err := c.fin.historical(ctx, 3)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"target_amount":     round2(target),
		"goal_name":         params.String("goal_name"),
		"current_surplus":   round2(h.AvgSurplus),
		"avg_monthly_spend": round2(h.AvgSpend),
	}

	if months := params.Int("target_months", 0); months > 0 {
		required := target / float64(months)
		shortfall := math.Max(0, required-h.AvgSurplus)
		out["target_months"] = months
		out["required_monthly_savings"] = round2(required)
		out["shortfall"] = round2(shortfall)
		out["achievable"] = shortfall == 0

		if shortfall > 0 {
			var suggestions []map[string]any
			remaining := shortfall
			for _, cat := range h.CategorySpend {
				if remaining <= 0 {
					break
				}
				cut := math.Min(cat.Amount*0.3, remaining)
				if cut < 100 {
					continue
				}
				suggestions = append(suggestions, map[string]any{
					"category":      cat.Name,
					"current_spend": round2(cat.Amount),
					"suggested_cut": round2(cut),
				})
				remaining -= cut
			}
			out["cut_suggestions"] = suggestions
			out["achievable_with_cuts"] = remaining <= 0
		}
		return out, nil
	}

	if h.AvgSurplus <= 0 {
		out["months_needed"] = nil
		out["feasible"] = false
		out["faster_option"] = map[string]any{"feasible": false}
		return out, nil
	}
	monthsNeeded := target / h.AvgSurplus
	faster := h.AvgSurplus * 1.2
	out["months_needed"] = round1(monthsNeeded)
	out["feasible"] = true
	out["faster_option"] = map[string]any{
		"feasible":        true,
		"monthly_savings": round2(faster),
		"months_needed":   round1(target / faster),
		"extra_needed":    round2(faster - h.AvgSurplus),
	}
	return out, nil
}
