package planner

import (
	"fmt"
	"strings"

	"github.com/nidhogg/finsight/internal/task"
)

const systemPrompt = "You are a financial query analyzer for a personal finance assistant. Output valid JSON only."

// catalogue describes every operation the planner may emit.
var catalogue = []struct {
	Type   task.Type
	Params string
	Doc    string
}{
	{task.BudgetStatus, "", "current cycle budget, spend and remaining amount"},
	{task.CategorySpend, "category_name", "spend in one category this cycle"},
	{task.TrendsOverview, "", "month over month trends, high spend months and recurring payments"},
	{task.AffordabilityCheck, "product_name, monthly_cost", "whether the user can afford something; use monthly_cost=0 to look the price up"},
	{task.SavingsAdvice, "", "where the user could save"},
	{task.CustomScenario, "adjustments, months", "projected savings with spending changes; adjustments maps category to monthly change, negative for cuts"},
	{task.FutureProjection, "months_forward, adjustments", "month by month savings projection"},
	{task.GoalPlanning, "target_amount, target_months, goal_name", "plan to reach a savings target"},
	{task.BudgetForecast, "days_forward", "forecast of the budget at the end of the cycle"},
	{task.TimeRangeSpend, "category_name, months_back, relative, start_date, end_date, payment_type", "spend over a period; relative is one of last_week, this_week, last_month, this_month, last_3_months, last_6_months, last_year"},
	{task.AverageSpending, "category_name, months_back", "average monthly spend"},
	{task.SpendingVelocity, "window_days", "whether spending is speeding up or slowing down"},
	{task.SuggestGoal, "category_name", "whether to suggest a spending cap for a category"},
	{task.CreateGoal, "category_name, cap_amount, reduction_percent", "create a spending cap the user asked for"},
	{task.Clarify, "question", "ask the user a clarifying question"},
}

const outputFormat = `Respond with ONLY this JSON object:
{
  "query_summary": "short summary of the question",
  "operations": [
    {"id": "op_1", "type": "operation_type", "params": {}, "description": "what it does", "depends_on": []}
  ],
  "requires_clarification": false,
  "clarification_question": null
}

Rules:
- depends_on lists ids of earlier operations whose results this one needs.
- For "if I cut X, can I afford Y" emit custom_scenario as op_1 and affordability_check depending on op_1.
- Follow-ups like "what about last month?" reuse the previous category from the context below.
- Match category names to the user's categories.
- Never ask for clarification when the data above can answer the question.`

func buildPrompt(message string, sc task.SessionContext, categories []string) string {
	var b strings.Builder
	b.WriteString("Parse the user's question into operations to execute.\n\nAvailable operations:\n")
	for i, c := range catalogue {
		if c.Params == "" {
			fmt.Fprintf(&b, "%d. %s - %s\n", i+1, c.Type, c.Doc)
		} else {
			fmt.Fprintf(&b, "%d. %s (params: %s) - %s\n", i+1, c.Type, c.Params, c.Doc)
		}
	}

	b.WriteString("\nUser's categories: ")
	if len(categories) == 0 {
		b.WriteString("unknown")
	} else {
		b.WriteString(strings.Join(categories, ", "))
	}
	b.WriteString("\n")

	if !sc.LastEntity.IsZero() {
		b.WriteString("\nLast referenced:")
		if sc.LastEntity.Category != "" {
			fmt.Fprintf(&b, " category=%s", sc.LastEntity.Category)
		}
		if sc.LastEntity.TimeRange != "" {
			fmt.Fprintf(&b, " time_range=%s", sc.LastEntity.TimeRange)
		}
		b.WriteString("\n")
	}
	if len(sc.Turns) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range sc.Turns {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}

	b.WriteString("\n")
	b.WriteString(outputFormat)
	fmt.Fprintf(&b, "\n\nUser query: %q", message)
	return b.String()
}
