package aggregator

import (
	"fmt"
	"strings"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/task"
)

var inr = agent.FormatINR

// Bullets renders one line per task in DAG order: the key figure of each
// succeeded task and a "couldn't compute" line for each failed one. A
// suggested goal adds a follow-up question.
func Bullets(dag *task.DAG, results map[string]*task.Result) string {
	var lines []string
	var followUps []string
	for _, t := range dag.Tasks {
		r, ok := results[t.ID]
		if !ok {
			continue
		}
		if !r.Succeeded() {
			lines = append(lines, "• "+failedLine(t, r))
			continue
		}
		if line := keyFigure(t.Type, r.Data); line != "" {
			lines = append(lines, "• "+line)
		}
		if t.Type == task.SuggestGoal && truthy(r.Data["should_suggest"]) {
			followUps = append(followUps, fmt.Sprintf("Would you like me to set a monthly cap of %s for %s?",
				inr(num(r.Data, "suggested_cap")), str(r.Data, "category")))
		}
	}
	if len(lines) == 0 {
		return task.DefaultClarifyQuestion
	}
	out := strings.Join(lines, "\n")
	if len(followUps) > 0 {
		out += "\n\n" + strings.Join(followUps, "\n")
	}
	return out
}

func failedLine(t *task.Task, r *task.Result) string {
	label := t.Description
	if label == "" {
		label = strings.ReplaceAll(string(t.Type), "_", " ")
	}
	switch {
	case r.TimedOut:
		return fmt.Sprintf("Couldn't compute %s in time.", label)
	case strings.HasPrefix(r.Error, "dependency "):
		return fmt.Sprintf("Couldn't compute %s because an earlier step failed.", label)
	case strings.Contains(r.Error, "price"):
		return fmt.Sprintf("Couldn't compute %s: I couldn't find a price. Try including one, e.g. \"for ₹50,000\".", label)
	default:
		return fmt.Sprintf("Couldn't compute %s.", label)
	}
}

// keyFigure is the one-line summary of a succeeded task.
func keyFigure(typ task.Type, d map[string]any) string {
	switch typ {
	case task.BudgetStatus:
		return fmt.Sprintf("Budget %s, spent %s, remaining %s with %d days left (safe daily spend %s, status %s).",
			inr(num(d, "budget")), inr(num(d, "spent")), inr(num(d, "remaining")),
			int(num(d, "days_left")), inr(num(d, "safe_daily")), str(d, "status"))

	case task.CategorySpend:
		if truthy(d["not_found"]) {
			return fmt.Sprintf("No spending on %s this cycle (%s).", str(d, "category"), inr(0))
		}
		return fmt.Sprintf("%s: %s this cycle (%.1f%% of your spending).",
			str(d, "category"), inr(num(d, "amount")), num(d, "percentage"))

	case task.TrendsOverview:
		parts := []string{}
		if inc := names(d["increasing_categories"], "category"); len(inc) > 0 {
			parts = append(parts, "rising in "+strings.Join(inc, ", "))
		}
		if dec := names(d["decreasing_categories"], "category"); len(dec) > 0 {
			parts = append(parts, "falling in "+strings.Join(dec, ", "))
		}
		rec := list(d["top_recurring"])
		parts = append(parts, fmt.Sprintf("%d recurring payments", len(rec)))
		if len(rec) > 0 {
			parts[len(parts)-1] += fmt.Sprintf(", largest %s at %s", str(rec[0], "merchant"), inr(num(rec[0], "avg_amount")))
		}
		return "Spending trends: " + strings.Join(parts, "; ") + "."

	case task.AffordabilityCheck:
		return fmt.Sprintf("%s at %s: %s", str(d, "product"), inr(num(d, "product_price")), str(d, "recommendation"))

	case task.SavingsAdvice:
		line := fmt.Sprintf("You have %s left of your budget (status %s).", inr(num(d, "remaining_budget")), str(d, "burn_status"))
		if top, ok := d["top_expense"].(map[string]any); ok {
			line += fmt.Sprintf(" Your biggest expense is %s at %s (%.1f%%).",
				str(top, "category"), inr(num(top, "amount")), num(top, "percentage"))
		}
		if inc := names(d["increasing_categories"], "category"); len(inc) > 0 {
			line += " Rising: " + strings.Join(inc, ", ") + "."
		}
		return line

	case task.CustomScenario:
		return fmt.Sprintf("With those changes you'd save %s a month, %s over %d months.",
			inr(num(d, "new_monthly_surplus")), inr(num(d, "total_projected_savings")), int(num(d, "months")))

	case task.FutureProjection:
		return fmt.Sprintf("Projected savings: %s over %d months (%s a month).",
			inr(num(d, "total_projected_savings")), int(num(d, "months_projected")), inr(num(d, "new_monthly_surplus")))

	case task.GoalPlanning:
		if _, ok := d["target_months"]; ok {
			line := fmt.Sprintf("To save %s in %d months you need %s a month.",
				inr(num(d, "target_amount")), int(num(d, "target_months")), inr(num(d, "required_monthly_savings")))
			if s := num(d, "shortfall"); s > 0 {
				line += fmt.Sprintf(" That's %s more than your current surplus.", inr(s))
			} else {
				line += " Your current surplus covers it."
			}
			return line
		}
		if !truthy(d["feasible"]) {
			return fmt.Sprintf("You currently have no monthly surplus to put towards %s.", inr(num(d, "target_amount")))
		}
		return fmt.Sprintf("At %s a month you'd reach %s in about %.1f months.",
			inr(num(d, "current_surplus")), inr(num(d, "target_amount")), num(d, "months_needed"))

	case task.BudgetForecast:
		return fmt.Sprintf("%s Projected spend %s against a budget of %s.",
			str(d, "message"), inr(num(d, "projected_total_spend")), inr(num(d, "current_budget")))

	case task.TimeRangeSpend:
		what := "in total"
		if c := str(d, "matched_category"); c != "" {
			what = "on " + c
		} else if c := str(d, "category_filter"); c != "" {
			what = "on " + c
		}
		p, _ := d["period"].(map[string]any)
		return fmt.Sprintf("You spent %s %s between %s and %s (%d transactions).",
			inr(num(d, "total")), what, str(p, "start"), str(p, "end"), int(num(d, "transaction_count")))

	case task.AverageSpending:
		line := fmt.Sprintf("Average monthly spend over %d months: %s.", int(num(d, "months_analyzed")), inr(num(d, "avg_monthly_total")))
		if rc, ok := d["requested_category"].(map[string]any); ok {
			if truthy(rc["found"]) {
				line = fmt.Sprintf("You spend about %s a month on %s. ", inr(num(rc, "avg_monthly")), str(rc, "name")) + line
			} else {
				line = fmt.Sprintf("No spending found for %s. ", str(rc, "name")) + line
			}
		}
		return line

	case task.SpendingVelocity:
		return fmt.Sprintf("Spending is %s: %s in the last %d days versus %s before (%+.1f%%).",
			str(d, "status"), inr(num(d, "current_spend")), int(num(d, "window_days")),
			inr(num(d, "previous_spend")), num(d, "change_percent"))

	case task.SuggestGoal:
		if truthy(d["already_has_goal"]) {
			return fmt.Sprintf("You already have a %s cap for %s and have used %.1f%% of it.",
				inr(num(d, "goal_cap")), str(d, "category"), num(d, "progress_percent"))
		}
		if c := str(d, "category"); c != "" {
			return fmt.Sprintf("%s is %.1f%% of your spending (%s). %s",
				c, num(d, "percentage"), inr(num(d, "current_spend")), str(d, "reason"))
		}
		return str(d, "reason")

	case task.CreateGoal:
		return fmt.Sprintf("%s. You've spent %s on it so far this cycle.", str(d, "message"), inr(num(d, "current_spend")))

	case task.Clarify:
		return str(d, "question")
	}
	return ""
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func str(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

func list(v any) []map[string]any {
	switch l := v.(type) {
	case []map[string]any:
		return l
	case []any:
		out := make([]map[string]any, 0, len(l))
		for _, e := range l {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func names(v any, key string) []string {
	var out []string
	for _, m := range list(v) {
		if s := str(m, key); s != "" {
			out = append(out, s)
		}
	}
	return out
}
