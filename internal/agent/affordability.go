package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/nidhogg/finsight/internal/task"
)

// maxMonthsToSave is how long a one-time purchase may take to save for
// before it counts as unaffordable.
const maxMonthsToSave = 12

// scenarioFigures pulls projected savings from an upstream scenario result.
func scenarioFigures(deps Context) (savings, surplus float64) {
	up, ok := deps.ByType(task.CustomScenario, task.FutureProjection)
	if !ok {
		return 0, 0
	}
	p := task.Params(up)
	savings = p.Float("scenario_savings", p.Float("total_projected_savings", 0))
	surplus = p.Float("monthly_surplus", p.Float("new_monthly_surplus", 0))
	return savings, surplus
}

func (c *computer) affordabilityCheck(ctx context.Context, params task.Params, deps Context) (map[string]any, error) {
	product := params.String("product_name")
	q := Quote{Product: product}
	switch {
	case params.Float("monthly_cost", 0) > 0:
		q.Price = params.Float("monthly_cost", 0)
	case params.Float("price", 0) > 0:
		q.Price = params.Float("price", 0)
		q.OneTime = true
	default:
		if c.pricer == nil {
			return nil, fmt.Errorf("no price given for %s: %w", product, ErrPriceUnavailable)
		}
		var err error
		if q, err = c.pricer.LookupPrice(ctx, product); err != nil {
			return nil, err
		}
	}
	if q.Price <= 0 {
		return nil, fmt.Errorf("could not determine price for %s: %w", product, ErrPriceUnavailable)
	}

	out := map[string]any{
		"product":              q.Product,
		"product_price":        round2(q.Price),
		"is_one_time_purchase": q.OneTime,
	}

	var canAfford bool
	var recommendation string
	savings, surplus := scenarioFigures(deps)
	if savings > 0 {
		out["scenario_applied"] = true
		if q.OneTime {
			canAfford = savings >= q.Price
			out["comparison"] = "projected_savings vs total_price"
			out["projected_savings"] = round2(savings)
			out["surplus_after_purchase"] = round2(savings - q.Price)
			if canAfford {
				recommendation = fmt.Sprintf("Yes! With your adjusted spending, you'll save %s which covers the %s cost.",
					FormatINR(savings), FormatINR(q.Price))
			} else {
				recommendation = fmt.Sprintf("You'll be %s short. Consider extending the savings period or reducing more.",
					FormatINR(q.Price-savings))
			}
		} else {
			canAfford = surplus >= q.Price
			out["comparison"] = "monthly_surplus vs monthly_cost"
			out["monthly_surplus"] = round2(surplus)
			out["monthly_cost"] = round2(q.Price)
		}
	} else {
		out["scenario_applied"] = false
		h, err := c.fin.historical(ctx, 3)
		if err != nil {
			return nil, err
		}
		out["avg_monthly_surplus"] = round2(h.AvgSurplus)
		if q.OneTime {
			monthsNeeded := math.Inf(1)
			if h.AvgSurplus > 0 {
				monthsNeeded = q.Price / h.AvgSurplus
			}
			canAfford = monthsNeeded <= maxMonthsToSave
			out["comparison"] = "current_savings_rate"
			if math.IsInf(monthsNeeded, 1) {
				out["months_to_save"] = "never (no surplus)"
			} else {
				out["months_to_save"] = round1(monthsNeeded)
			}
			if canAfford {
				recommendation = fmt.Sprintf("At your current savings rate, you can afford this in about %.1f months.", monthsNeeded)
			}
		} else {
			canAfford = h.AvgSurplus >= q.Price
			out["comparison"] = "monthly_surplus vs monthly_cost"
			out["monthly_cost"] = round2(q.Price)
		}
	}

	if recommendation == "" {
		if canAfford {
			recommendation = "This fits within your monthly surplus."
		} else {
			recommendation = "This would exceed your current surplus. Consider cutting other expenses first."
		}
	}
	out["can_afford"] = canAfford
	out["recommendation"] = recommendation
	return out, nil
}
