package planner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nidhogg/finsight/internal/task"
)

func res(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var (
	followUpRe = regexp.MustCompile(`^(?:and |so |ok(?:ay)?,? )?(?:what|how) about (.+)$|^and (?:for |in |on )?(.+)$`)

	affordabilityRes = res(
		`can i (?:afford|buy|purchase|get)\s+(?:an? |the )?(.+)`,
		`should i buy\s+(?:an? |the )?(.+)`,
		`is (.+) affordable`,
		`emi for\s+(?:an? |the )?(.+)`,
		`budget for\s+(?:an? |the )?(.+)`,
	)
	goalCreateRes = res(
		`(?:set|create|add|make)\s+(?:a |an )?(?:spending )?(?:goal|cap|limit)\s+(?:for|on)\s+(?:my )?(.+)`,
		`(?:cap|limit)\s+(?:my )?(.+?)\s+(?:spending|spend|expenses?)\s+(?:at|to)\b`,
	)
	goalSuggestRes = res(
		`should i (?:set|have|create) (?:a )?(?:goal|cap|limit)`,
		`(?:suggest|recommend) (?:a )?(?:goal|cap|limit)`,
	)
	goalPlanRes = res(
		`(?:can i|how (?:can i|do i|to)) save\s+(?:₹|rs\.? ?)?(\d[\d,.]*\s*(?:k|lakhs?|l)?)\s+(?:in|within|by) (\d+) months?`,
		`save\s+(?:₹|rs\.? ?)?(\d[\d,.]*\s*(?:k|lakhs?|l)?)\s+(?:in|within|by) (\d+) months?`,
		`(?:want to|need to|planning to) save\s+(?:₹|rs\.? ?)?(\d[\d,.]*\s*(?:k|lakhs?|l)?)`,
	)
	timeRangeRes = res(
		`(?:how much|what) (?:have i|did i) spen[dt] (?:on )?(.+?) (?:in|during|over|for) (?:the )?(?:past|last) \d+ months?`,
		`(.+?) (?:spending|expenses?) (?:in|during|over|for) (?:the )?(?:past|last) \d+ months?`,
		`(?:how much|what) (?:have i|did i) spen[dt] (?:on )?(.+?) (?:in |during )?(?:the )?(?:last|this|past) (?:week|month|year)`,
		`(.+?) (?:spending|expenses?) (?:in |during )?(?:the )?(?:last|this|past) (?:week|month|year)`,
	)
	averageRes = res(
		`(?:what'?s?|what is) (?:my )?average (?:monthly )?(.+?) (?:spend|spending|expenses?)`,
		`average (?:monthly )?(?:spending|expenses?|spend) (?:on|for) (.+)`,
		`how much do i (?:usually|typically|normally) spend on (.+)`,
	)
	forecastRes = res(
		`will i (?:stay|be|remain) (?:under|within) (?:my )?budget`,
		`am i going to (?:overspend|exceed|go over)`,
		`(?:end of )?(?:month|cycle) (?:budget )?(?:forecast|projection)`,
		`(?:predict|project|forecast) (?:my )?(?:spending|budget)`,
	)
	velocityRes = res(
		`(?:am i|is my) spending (?:increasing|decreasing|going up|going down)`,
		`spending (?:rate|velocity|pace)`,
		`(?:how )?(?:fast|quickly) am i spending`,
	)
	trendsRes = res(
		`spending trends?`,
		`how (?:has|have) my (?:spending|expenses) (?:changed|been)`,
		`month(?:ly)? comparison`,
		`which (?:month|day) do i spend`,
		`\btrends?\b`,
		`recurring (?:payments?|charges?|subscriptions?)`,
	)
	savingsRes = res(
		`where can i (?:save|cut)`,
		`reduce (?:my )?(?:spending|expenses)`,
		`saving(?:s)? (?:tips|advice)`,
		`how (?:can i|to) save`,
	)
	budgetRes = res(
		`(?:what'?s?|how'?s?|what is|how is) my (?:remaining |current )?budget`,
		`budget (?:status|left|remaining)`,
		`how much (?:can i|do i have (?:left )?to) spend`,
		`am i over (?:my )?budget`,
		`(?:remaining|left in my) budget`,
		`\bbudget\b`,
	)
	categorySpendRes = res(
		`how much (?:do i|did i|have i) spen[dt] on (.+)`,
		`spending on (.+)`,
		`what(?:'s| is) my (.+) spend`,
		`(.+) expenses?$`,
	)

	monthsBackRe = regexp.MustCompile(`(?:past|last) (\d+) months?`)
	amountRe     = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(k|lakhs?|l)?\b`)
	trailingRe   = regexp.MustCompile(`[?!.,;:]+$`)
)

// timeRange is a recognised period phrase.
type timeRange struct {
	Relative   string
	MonthsBack int
}

func (t timeRange) label() string {
	if t.Relative != "" {
		return t.Relative
	}
	return "last_" + strconv.Itoa(t.MonthsBack) + "_months"
}

func (t timeRange) apply(p task.Params) {
	if t.Relative != "" {
		p["relative"] = t.Relative
	} else {
		p["months_back"] = t.MonthsBack
	}
}

func parseTimeRange(s string) (timeRange, bool) {
	if m := monthsBackRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return timeRange{MonthsBack: n}, true
		}
	}
	phrases := []struct{ phrase, rel string }{
		{"last week", "last_week"}, {"past week", "last_week"},
		{"this week", "this_week"},
		{"last month", "last_month"}, {"past month", "last_month"}, {"previous month", "last_month"},
		{"this month", "this_month"},
		{"last year", "last_year"}, {"past year", "last_year"},
	}
	for _, p := range phrases {
		if strings.Contains(s, p.phrase) {
			return timeRange{Relative: p.rel}, true
		}
	}
	return timeRange{}, false
}

// relativeFromLabel reverses timeRange.label for a stored entity.
func relativeFromLabel(label string) (timeRange, bool) {
	if label == "" {
		return timeRange{}, false
	}
	if strings.HasPrefix(label, "last_") && strings.HasSuffix(label, "_months") {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(label, "last_"), "_months")); err == nil {
			return timeRange{MonthsBack: n}, true
		}
	}
	return timeRange{Relative: label}, true
}

// findCategory returns the known category mentioned in s, preferring the
// longest match. A category also matches on any of its words of four or
// more letters, so "dining" finds "Food & Dining".
func findCategory(s string, known []string) string {
	sorted := append([]string(nil), known...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	words := " " + strings.Join(strings.FieldsFunc(strings.ToLower(s), notLetter), " ") + " "
	for _, cat := range sorted {
		norm := strings.Join(strings.FieldsFunc(strings.ToLower(cat), notLetter), " ")
		if norm != "" && strings.Contains(words, " "+norm+" ") {
			return cat
		}
	}
	for _, cat := range sorted {
		for _, w := range strings.FieldsFunc(strings.ToLower(cat), notLetter) {
			if len(w) >= 4 && (strings.Contains(words, " "+w+" ") || strings.Contains(words, " "+w+"s ")) {
				return cat
			}
		}
	}
	return ""
}

func notLetter(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

// resolveCategory maps free text to a known category when possible.
func resolveCategory(text string, known []string) string {
	text = strings.TrimSpace(trailingRe.ReplaceAllString(strings.TrimSpace(text), ""))
	text = strings.TrimPrefix(text, "my ")
	if text == "" {
		return ""
	}
	if cat := findCategory(text, known); cat != "" {
		return cat
	}
	return text
}

func parseAmount(s string) (float64, bool) {
	m := amountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "k":
		v *= 1000
	case "l", "lakh", "lakhs":
		v *= 100000
	}
	return v, true
}

func single(message string, typ task.Type, params task.Params, desc string) *task.DAG {
	if params == nil {
		params = task.Params{}
	}
	return &task.DAG{
		Message: message,
		Summary: desc,
		Tasks: []*task.Task{{
			ID: "op_1", Type: typ, Params: params, Description: desc, Status: task.StatusPending,
		}},
	}
}

func firstMatch(list []*regexp.Regexp, s string) ([]string, bool) {
	for _, re := range list {
		if m := re.FindStringSubmatch(s); m != nil {
			return m, true
		}
	}
	return nil, false
}

// Match is the deterministic planner. It returns a single-task DAG for a
// recognised phrasing, or nil when nothing matches. It never emits
// dependencies.
func Match(message string, sc task.SessionContext, known []string) *task.DAG {
	s := strings.ToLower(strings.TrimSpace(message))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "’", "'")
	if s == "" {
		return nil
	}

	if m := followUpRe.FindStringSubmatch(trailingRe.ReplaceAllString(s, "")); m != nil {
		rest := m[1]
		if rest == "" {
			rest = m[2]
		}
		if dag := followUp(message, rest, sc, known); dag != nil {
			return dag
		}
	}

	if m, ok := firstMatch(affordabilityRes, s); ok {
		product := strings.TrimSpace(trailingRe.ReplaceAllString(m[1], ""))
		params := task.Params{"product_name": product, "monthly_cost": 0}
		if i := strings.Index(product, " for "); i > 0 {
			if amt, ok := parseAmount(product[i:]); ok {
				params["product_name"] = strings.TrimSpace(product[:i])
				if strings.Contains(product[i:], "month") {
					params["monthly_cost"] = amt
				} else {
					params["price"] = amt
				}
			}
		}
		return single(message, task.AffordabilityCheck, params, "check affordability")
	}

	if _, ok := firstMatch(goalSuggestRes, s); ok {
		params := task.Params{}
		if cat := findCategory(s, known); cat != "" {
			params["category_name"] = cat
		}
		return single(message, task.SuggestGoal, params, "suggest a spending cap")
	}
	if m, ok := firstMatch(goalCreateRes, s); ok {
		name := m[1]
		for _, sep := range []string{" at ", " to ", " of "} {
			if i := strings.Index(name, sep); i > 0 {
				name = name[:i]
			}
		}
		params := task.Params{"category_name": resolveCategory(name, known)}
		if i := strings.Index(s, " at "); i > 0 {
			if amt, ok := parseAmount(s[i:]); ok {
				params["cap_amount"] = amt
			}
		}
		return single(message, task.CreateGoal, params, "create a spending cap")
	}
	if m, ok := firstMatch(goalPlanRes, s); ok {
		amt, _ := parseAmount(m[1])
		params := task.Params{"target_amount": amt}
		if len(m) > 2 && m[2] != "" {
			n, _ := strconv.Atoi(m[2])
			params["target_months"] = n
		}
		return single(message, task.GoalPlanning, params, "plan a savings goal")
	}

	if m, ok := firstMatch(averageRes, s); ok {
		params := task.Params{}
		if cat := resolveCategory(m[1], known); cat != "" {
			params["category_name"] = cat
		}
		if tr, ok := parseTimeRange(s); ok && tr.MonthsBack > 0 {
			params["months_back"] = tr.MonthsBack
		}
		return single(message, task.AverageSpending, params, "average monthly spend")
	}

	simple := []struct {
		list []*regexp.Regexp
		typ  task.Type
		desc string
	}{
		{forecastRes, task.BudgetForecast, "forecast the cycle"},
		{velocityRes, task.SpendingVelocity, "spending velocity"},
		{trendsRes, task.TrendsOverview, "spending trends"},
		{savingsRes, task.SavingsAdvice, "savings advice"},
	}
	for _, sm := range simple {
		if _, ok := firstMatch(sm.list, s); ok {
			return single(message, sm.typ, nil, sm.desc)
		}
	}

	if tr, ok := parseTimeRange(s); ok {
		params := task.Params{}
		if m, ok := firstMatch(timeRangeRes, s); ok {
			if cat := resolveCategory(m[1], known); cat != "" {
				params["category_name"] = cat
			}
		} else if strings.Contains(s, "spen") || strings.Contains(s, "expense") {
			if cat := findCategory(s, known); cat != "" {
				params["category_name"] = cat
			}
		}
		if len(params) > 0 || strings.Contains(s, "spen") || strings.Contains(s, "expense") {
			tr.apply(params)
			return single(message, task.TimeRangeSpend, params, "spend over a period")
		}
	}

	if m, ok := firstMatch(categorySpendRes, s); ok {
		if cat := resolveCategory(m[1], known); cat != "" {
			if tr, ok := parseTimeRange(s); ok {
				params := task.Params{"category_name": cat}
				tr.apply(params)
				return single(message, task.TimeRangeSpend, params, "spend over a period")
			}
			return single(message, task.CategorySpend, task.Params{"category_name": cat}, "category spend")
		}
	}

	if _, ok := firstMatch(budgetRes, s); ok {
		return single(message, task.BudgetStatus, nil, "budget status")
	}

	if cat := findCategory(s, known); cat != "" {
		if tr, ok := parseTimeRange(s); ok {
			params := task.Params{"category_name": cat}
			tr.apply(params)
			return single(message, task.TimeRangeSpend, params, "spend over a period")
		}
		return single(message, task.CategorySpend, task.Params{"category_name": cat}, "category spend")
	}

	if tr, ok := parseTimeRange(s); ok && sc.LastEntity.Category != "" {
		params := task.Params{"category_name": sc.LastEntity.Category}
		tr.apply(params)
		return single(message, task.TimeRangeSpend, params, "spend over a period")
	}
	return nil
}

// followUp resolves "what about X" against the session's last entity. X may
// be a period, a category, or both.
func followUp(message, rest string, sc task.SessionContext, known []string) *task.DAG {
	tr, hasRange := parseTimeRange(rest)
	cat := findCategory(rest, known)

	switch {
	case hasRange && cat == "":
		params := task.Params{}
		if sc.LastEntity.Category != "" {
			params["category_name"] = sc.LastEntity.Category
		}
		tr.apply(params)
		return single(message, task.TimeRangeSpend, params, "spend over a period")
	case cat != "":
		if !hasRange {
			tr, hasRange = relativeFromLabel(sc.LastEntity.TimeRange)
		}
		if hasRange {
			params := task.Params{"category_name": cat}
			tr.apply(params)
			return single(message, task.TimeRangeSpend, params, "spend over a period")
		}
		return single(message, task.CategorySpend, task.Params{"category_name": cat}, "category spend")
	}
	return nil
}

// EntityFrom extracts the category and period a task referred to.
func EntityFrom(t *task.Task) task.Entity {
	var e task.Entity
	if t == nil {
		return e
	}
	e.Category = t.Params.String("category_name")
	if rel := t.Params.String("relative"); rel != "" {
		e.TimeRange = rel
	} else if n := t.Params.Int("months_back", 0); n > 0 && t.Type == task.TimeRangeSpend {
		e.TimeRange = timeRange{MonthsBack: n}.label()
	}
	return e
}
