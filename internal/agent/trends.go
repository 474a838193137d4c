package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/task"
)

// velocity compares spend in the last window days with the window before it.
type velocity struct {
	Window   int
	Current  float64
	Previous float64
	Change   float64
	Status   string
}

func (f *finance) velocity(ctx context.Context, window int) (*velocity, error) {
	if window <= 0 {
		window = 7
	}
	st, err := f.ledger.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cls := newClassifier(st)
	today := f.today()
	curStart := today.AddDate(0, 0, -window)
	prevStart := today.AddDate(0, 0, -2*window)
	prevEnd := curStart.AddDate(0, 0, -1)

	txns, err := f.ledger.Transactions(ctx, store.Filter{From: prevStart, To: today})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	v := &velocity{Window: window}
	for _, t := range txns {
		if !cls.isSpend(t) {
			continue
		}
		switch {
		case !t.Date.Before(curStart):
			v.Current += t.Amount
		case !t.Date.After(prevEnd):
			v.Previous += t.Amount
		}
	}
	v.Change = changePercent(v.Current, v.Previous)
	switch {
	case v.Change > 20:
		v.Status = "increasing_fast"
	case v.Change > 5:
		v.Status = "increasing"
	case v.Change < -20:
		v.Status = "decreasing_fast"
	case v.Change < -5:
		v.Status = "decreasing"
	default:
		v.Status = "stable"
	}
	return v, nil
}

type categoryTrend struct {
	Category string
	Previous float64
	Current  float64
	Change   float64
	Trend    string
}

type monthSpend struct {
	Month  string
	Amount float64
	High   bool
}

type recurring struct {
	Merchant  string
	Category  string
	Count     int
	AvgAmount float64
	Frequency string
}

// trends is the multi-month view used by trends_overview and savings_advice.
type trends struct {
	Categories []categoryTrend
	Months     []monthSpend
	Recurring  []recurring
}

func (tr *trends) byTrend(kind string, limit int) []categoryTrend {
	var out []categoryTrend
	for _, c := range tr.Categories {
		if c.Trend == kind {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if kind == "decreasing" {
			return out[i].Change < out[j].Change
		}
		return out[i].Change > out[j].Change
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// trends looks at the last six calendar months of spending.
func (f *finance) trends(ctx context.Context) (*trends, error) {
	st, err := f.ledger.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cls := newClassifier(st)
	today := f.today()
	firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := firstOfMonth.AddDate(0, -6, 0)
	txns, err := f.ledger.Transactions(ctx, store.Filter{From: from, To: today})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	lastMonth := firstOfMonth.AddDate(0, -1, 0).Format("2006-01")
	prevMonth := firstOfMonth.AddDate(0, -2, 0).Format("2006-01")

	monthly := map[string]float64{}
	byCat := map[string]map[string]float64{}
	byMerchant := map[string][]store.Transaction{}
	for _, t := range txns {
		if !cls.isSpend(t) {
			continue
		}
		key := t.Date.Format("2006-01")
		monthly[key] += t.Amount
		if byCat[t.Category] == nil {
			byCat[t.Category] = map[string]float64{}
		}
		byCat[t.Category][key] += t.Amount
		if m := strings.TrimSpace(t.Merchant); len(m) >= 3 {
			byMerchant[strings.ToLower(m)] = append(byMerchant[strings.ToLower(m)], t)
		}
	}

	tr := &trends{}
	for cat, months := range byCat {
		cur, prev := months[lastMonth], months[prevMonth]
		if cur == 0 && prev == 0 {
			continue
		}
		ct := categoryTrend{Category: cat, Previous: prev, Current: cur, Change: changePercent(cur, prev), Trend: "stable"}
		switch {
		case ct.Change > 10:
			ct.Trend = "increasing"
		case ct.Change < -10:
			ct.Trend = "decreasing"
		}
		tr.Categories = append(tr.Categories, ct)
	}
	sort.Slice(tr.Categories, func(i, j int) bool {
		if tr.Categories[i].Current != tr.Categories[j].Current {
			return tr.Categories[i].Current > tr.Categories[j].Current
		}
		return tr.Categories[i].Category < tr.Categories[j].Category
	})

	// the running month is partial and would skew the seasonal average
	delete(monthly, firstOfMonth.Format("2006-01"))
	if len(monthly) > 0 {
		avg := sum(monthly) / float64(len(monthly))
		for m, amt := range monthly {
			tr.Months = append(tr.Months, monthSpend{Month: m, Amount: amt, High: amt > avg*1.2})
		}
		sort.Slice(tr.Months, func(i, j int) bool { return tr.Months[i].Month < tr.Months[j].Month })
	}

	for _, list := range byMerchant {
		if r, ok := detectRecurring(list); ok {
			tr.Recurring = append(tr.Recurring, r)
		}
	}
	sort.Slice(tr.Recurring, func(i, j int) bool {
		if tr.Recurring[i].AvgAmount != tr.Recurring[j].AvgAmount {
			return tr.Recurring[i].AvgAmount > tr.Recurring[j].AvgAmount
		}
		return tr.Recurring[i].Merchant < tr.Recurring[j].Merchant
	})
	return tr, nil
}

// detectRecurring classifies a merchant's transactions by their average gap.
// list must be in date order.
func detectRecurring(list []store.Transaction) (recurring, bool) {
	if len(list) < 3 {
		return recurring{}, false
	}
	var gaps, total float64
	for i, t := range list {
		total += t.Amount
		if i > 0 {
			gaps += float64(daysBetween(list[i-1].Date, t.Date))
		}
	}
	avgGap := gaps / float64(len(list)-1)
	var freq string
	switch {
	case avgGap >= 5 && avgGap <= 9:
		freq = "weekly"
	case avgGap >= 12 && avgGap <= 18:
		freq = "bi-weekly"
	case avgGap >= 25 && avgGap <= 35:
		freq = "monthly"
	default:
		return recurring{}, false
	}
	return recurring{
		Merchant:  list[0].Merchant,
		Category:  list[0].Category,
		Count:     len(list),
		AvgAmount: total / float64(len(list)),
		Frequency: freq,
	}, true
}

func trendData(list []categoryTrend) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, c := range list {
		out = append(out, map[string]any{
			"category":       c.Category,
			"previous":       round2(c.Previous),
			"current":        round2(c.Current),
			"change_percent": round1(c.Change),
			"trend":          c.Trend,
		})
	}
	return out
}

func (c *computer) trendsOverview(ctx context.Context, _ task.Params, _ Context) (map[string]any, error) {
	tr, err := c.fin.trends(ctx)
	if err != nil {
		return nil, err
	}
	var high []map[string]any
	for _, m := range tr.Months {
		if m.High {
			high = append(high, map[string]any{"month": m.Month, "amount": round2(m.Amount)})
		}
	}
	recur := make([]map[string]any, 0, 5)
	for i, r := range tr.Recurring {
		if i == 5 {
			break
		}
		recur = append(recur, map[string]any{
			"merchant":   r.Merchant,
			"category":   r.Category,
			"frequency":  r.Frequency,
			"avg_amount": round2(r.AvgAmount),
			"count":      r.Count,
		})
	}
	top := tr.Categories
	if len(top) > 5 {
		top = top[:5]
	}
	return map[string]any{
		"increasing_categories": trendData(tr.byTrend("increasing", 3)),
		"decreasing_categories": trendData(tr.byTrend("decreasing", 3)),
		"high_spend_months":     high,
		"top_recurring":         recur,
		"category_trends":       trendData(top),
	}, nil
}

func (c *computer) savingsAdvice(ctx context.Context, _ task.Params, _ Context) (map[string]any, error) {
	tr, err := c.fin.trends(ctx)
	if err != nil {
		return nil, err
	}
	h, err := c.fin.health(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"increasing_categories": trendData(tr.byTrend("increasing", 3)),
		"burn_status":           h.Status,
		"remaining_budget":      round2(h.Remaining),
		"total_spend":           round2(h.Spend),
		"safe_daily":            round2(h.SafeDaily),
	}
	if len(h.Categories) > 0 {
		top := h.Categories[0]
		out["top_expense"] = map[string]any{
			"category":   top.Name,
			"amount":     round2(top.Amount),
			"percentage": round1(h.categoryShare(top.Name)),
		}
	}
	return out, nil
}

func (c *computer) spendingVelocity(ctx context.Context, params task.Params, _ Context) (map[string]any, error) {
	v, err := c.fin.velocity(ctx, params.Int("window_days", 7))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"window_days":     v.Window,
		"current_spend":   round2(v.Current),
		"previous_spend":  round2(v.Previous),
		"change_percent":  round1(v.Change),
		"status":          v.Status,
		"daily_average":   round2(v.Current / float64(v.Window)),
		"previous_period": period(c.fin.today().AddDate(0, 0, -2*v.Window), c.fin.today().AddDate(0, 0, -v.Window-1)),
		"current_period":  period(c.fin.today().AddDate(0, 0, -v.Window), c.fin.today()),
	}, nil
}
