package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/task"
)

// suggestThreshold is the share of cycle spend above which a cap is offered.
const suggestThreshold = 15.0

func (c *computer) suggestGoal(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	name := params.String("category_name")
	h, err := c.fin.health(ctx)
	if err != nil {
		return nil, err
	}
	var matched categoryAmount
	var ok bool
	if name == "" && len(h.Categories) > 0 {
		matched, ok = h.Categories[0], true
	} else {
		matched, ok = h.findCategory(name)
	}
	if !ok {
		return map[string]any{
			"should_suggest": false,
			"reason":         fmt.Sprintf("Category '%s' not found in spending data", name),
		}, nil
	}

	goals, err := c.fin.ledger.Goals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	for _, g := range goals {
		if g.Active && strings.EqualFold(g.Category, matched.Name) {
			var progress float64
			if g.CapAmount > 0 {
				progress = matched.Amount / g.CapAmount * 100
			}
			return map[string]any{
				"should_suggest":   false,
				"already_has_goal": true,
				"category":         matched.Name,
				"current_spend":    round2(matched.Amount),
				"goal_cap":         round2(g.CapAmount),
				"progress_percent": round1(progress),
			}, nil
		}
	}

	pct := h.categoryShare(matched.Name)
	should := pct > suggestThreshold
	reason := "Spending is within normal range"
	if should {
		reason = fmt.Sprintf("%s makes up %.1f%% of your spending", matched.Name, pct)
	}
	return map[string]any{
		"should_suggest": should,
		"category":       matched.Name,
		"current_spend":  round2(matched.Amount),
		"percentage":     round1(pct),
		"suggested_cap":  roundHundred(matched.Amount * 0.9),
		"reason":         reason,
	}, nil
}

// createGoal is the only handler that writes to the ledger.
func (c *computer) createGoal(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	name := params.String("category_name")
	if name == "" {
		return nil, errors.New("category name is required to create a goal")
	}
	cats, err := c.fin.ledger.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	category := ""
	for _, cat := range cats {
		if strings.EqualFold(cat, name) {
			category = cat
			break
		}
		if category == "" && strings.Contains(strings.ToLower(cat), strings.ToLower(name)) {
			category = cat
		}
	}
	if category == "" {
		return nil, fmt.Errorf("category '%s' not found", name)
	}

	h, err := c.fin.health(ctx)
	if err != nil {
		return nil, err
	}
	var current float64
	for _, cat := range h.Categories {
		if strings.EqualFold(cat.Name, category) {
			current = cat.Amount
			break
		}
	}

	var capAmount float64
	switch {
	case params.Has("cap_amount"):
		capAmount = params.Float("cap_amount", 0)
	case params.Has("reduction_percent"):
		capAmount = current * (1 - params.Float("reduction_percent", 0)/100)
	default:
		capAmount = current * 0.9
	}
	capAmount = max(0, roundHundred(capAmount))
	if capAmount == 0 {
		return nil, fmt.Errorf("no spending in %s this cycle to base a cap on", category)
	}

	g, err := c.fin.ledger.CreateGoal(ctx, store.Goal{Category: category, CapAmount: capAmount, CreatedVia: "chatbot"})
	if err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}
	return map[string]any{
		"goal_id":       g.ID,
		"category":      g.Category,
		"cap_amount":    capAmount,
		"current_spend": round2(current),
		"message":       fmt.Sprintf("Created a spending cap of %s for %s", FormatINR(capAmount), g.Category),
	}, nil
}
