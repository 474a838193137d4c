package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/finsight/internal/store"
)

// Clock returns the current time.
type Clock func() time.Time

// finance computes figures over a ledger. It holds no state between calls.
type finance struct {
	ledger store.Ledger
	now    Clock
}

func (f *finance) today() time.Time {
	y, m, d := f.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// categoryAmount is one line of a spend breakdown.
type categoryAmount struct {
	Name   string
	Amount float64
}

func breakdownList(totals map[string]float64) []categoryAmount {
	out := make([]categoryAmount, 0, len(totals))
	for name, amt := range totals {
		out = append(out, categoryAmount{Name: name, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// classifier decides how settings treat a category.
type classifier struct {
	ignored map[string]bool
	income  map[string]bool
}

func newClassifier(st store.Settings) classifier {
	c := classifier{ignored: map[string]bool{}, income: map[string]bool{}}
	for _, n := range st.IgnoredCategories {
		c.ignored[strings.ToLower(strings.TrimSpace(n))] = true
	}
	for _, n := range st.IncomeCategories {
		c.income[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return c
}

func (c classifier) isIgnored(cat string) bool { return c.ignored[strings.ToLower(cat)] }
func (c classifier) isIncome(cat string) bool  { return c.income[strings.ToLower(cat)] }

// isSpend reports whether t is a debit that counts toward spending.
func (c classifier) isSpend(t store.Transaction) bool {
	return !c.isIgnored(t.Category) && !c.isIncome(t.Category) && strings.EqualFold(t.Type, store.Debit)
}

// adjustedPayday returns the salary date for a month, clamped to the month's
// last day and moved back to Friday when it falls on a weekend.
func adjustedPayday(year int, month time.Month, salaryDay int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if salaryDay > last {
		salaryDay = last
	}
	if salaryDay < 1 {
		salaryDay = 1
	}
	d := time.Date(year, month, salaryDay, 0, 0, 0, 0, time.UTC)
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, -2)
	}
	return d
}

// cycleDates returns the inclusive bounds of the salary cycle offset cycles
// before the one containing today.
func cycleDates(today time.Time, salaryDay, offset int) (time.Time, time.Time) {
	anchorY, anchorM := today.Year(), today.Month()
	if today.Before(adjustedPayday(anchorY, anchorM, salaryDay)) {
		anchorM--
		if anchorM < time.January {
			anchorM = time.December
			anchorY--
		}
	}
	linear := anchorY*12 + int(anchorM-1) - offset
	ty, tm := linear/12, time.Month(linear%12+1)
	start := adjustedPayday(ty, tm, salaryDay)

	next := linear + 1
	ny, nm := next/12, time.Month(next%12+1)
	end := adjustedPayday(ny, nm, salaryDay).AddDate(0, 0, -1)
	return start, end
}

func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// health is the state of the current salary cycle.
type health struct {
	CycleStart       time.Time
	CycleEnd         time.Time
	DaysInCycle      int
	DaysPassed       int
	DaysLeft         int
	Budget           float64
	Spend            float64
	Income           float64
	Remaining        float64
	SafeDaily        float64
	ProjectedSpend   float64
	PrevSpendToDate  float64
	SpendDiffPercent float64
	Status           string
	Categories       []categoryAmount
}

func (h *health) categoryShare(name string) float64 {
	for _, c := range h.Categories {
		if strings.EqualFold(c.Name, name) && h.Spend > 0 {
			return c.Amount / h.Spend * 100
		}
	}
	return 0
}

func (h *health) findCategory(name string) (categoryAmount, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return categoryAmount{}, false
	}
	for _, c := range h.Categories {
		if strings.Contains(strings.ToLower(c.Name), name) {
			return c, true
		}
	}
	return categoryAmount{}, false
}

// health computes budget usage for the current salary cycle.
func (f *finance) health(ctx context.Context) (*health, error) {
	st, err := f.ledger.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cls := newClassifier(st)
	today := f.today()
	start, end := cycleDates(today, st.SalaryDay, 0)
	prevStart, prevEnd := cycleDates(today, st.SalaryDay, 1)

	from := prevStart
	if lookback := start.AddDate(0, 0, -7); lookback.Before(from) {
		from = lookback
	}
	txns, err := f.ledger.Transactions(ctx, store.Filter{From: from, To: end})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	h := &health{CycleStart: start, CycleEnd: end}
	h.DaysInCycle = daysBetween(start, end) + 1
	h.DaysPassed = max(0, min(daysBetween(start, today), h.DaysInCycle))
	h.DaysLeft = max(0, h.DaysInCycle-h.DaysPassed)

	cats := map[string]float64{}
	var lookbackIncome float64
	for _, t := range txns {
		if cls.isIgnored(t.Category) {
			continue
		}
		d := t.Date
		switch {
		case !d.Before(start) && !d.After(end):
			if cls.isIncome(t.Category) {
				h.Income += -t.Signed()
				continue
			}
			h.Spend += t.Signed()
			if strings.EqualFold(t.Type, store.Debit) {
				cats[t.Category] += t.Amount
			} else if _, ok := cats[t.Category]; ok {
				cats[t.Category] -= t.Amount
			}
		case !d.Before(prevStart) && !d.After(prevEnd):
			if cls.isIncome(t.Category) {
				if d.Before(start) && !d.Before(start.AddDate(0, 0, -7)) && strings.EqualFold(t.Type, store.Credit) {
					lookbackIncome = t.Amount
				}
				continue
			}
			if daysBetween(prevStart, d)+1 <= h.DaysPassed {
				h.PrevSpendToDate += t.Signed()
			}
		}
	}

	incomeBase := h.Income
	if st.BudgetType == store.BudgetPercentage && incomeBase == 0 {
		// salary credited just before the cycle start
		incomeBase = lookbackIncome
	}
	h.Budget = st.BudgetValue
	if st.BudgetType == store.BudgetPercentage {
		h.Budget = incomeBase * st.BudgetValue / 100
	}
	h.Remaining = h.Budget - h.Spend
	if h.DaysLeft > 0 && h.Remaining > 0 {
		h.SafeDaily = h.Remaining / float64(h.DaysLeft)
	}
	if h.DaysPassed > 0 {
		h.ProjectedSpend = h.Spend / float64(h.DaysPassed) * float64(h.DaysInCycle)
	}
	switch {
	case h.PrevSpendToDate > 0:
		h.SpendDiffPercent = (h.Spend - h.PrevSpendToDate) / h.PrevSpendToDate * 100
	case h.Spend > 0:
		h.SpendDiffPercent = 100
	}
	switch {
	case h.Budget <= 0 || h.ProjectedSpend <= h.Budget:
		h.Status = "Green"
	case h.ProjectedSpend <= h.Budget*1.1:
		h.Status = "Amber"
	default:
		h.Status = "Red"
	}

	positive := map[string]float64{}
	for k, v := range cats {
		if v > 0 {
			positive[k] = v
		}
	}
	h.Categories = breakdownList(positive)
	return h, nil
}

// historical holds monthly averages over a trailing window.
type historical struct {
	AvgIncome     float64
	AvgSpend      float64
	AvgBudget     float64
	AvgSurplus    float64
	CategorySpend []categoryAmount
	Months        int
}

func (h *historical) categoryMap() map[string]float64 {
	out := make(map[string]float64, len(h.CategorySpend))
	for _, c := range h.CategorySpend {
		out[c.Name] = round2(c.Amount)
	}
	return out
}

// matchCategory finds the averaged category whose name contains, or is
// contained in, name.
func (h *historical) matchCategory(name string) (categoryAmount, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return categoryAmount{}, false
	}
	for _, c := range h.CategorySpend {
		lc := strings.ToLower(c.Name)
		if strings.Contains(lc, n) || strings.Contains(n, lc) {
			return c, true
		}
	}
	return categoryAmount{}, false
}

// historical averages income and spend per calendar month over the last
// monthsBack*30 days.
func (f *finance) historical(ctx context.Context, monthsBack int) (*historical, error) {
	if monthsBack <= 0 {
		monthsBack = 3
	}
	st, err := f.ledger.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cls := newClassifier(st)
	cutoff := f.today().AddDate(0, 0, -monthsBack*30)
	txns, err := f.ledger.Transactions(ctx, store.Filter{From: cutoff, To: f.today()})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	income := map[string]float64{}
	spend := map[string]float64{}
	cats := map[string]float64{}
	for _, t := range txns {
		if cls.isIgnored(t.Category) {
			continue
		}
		key := t.Date.Format("2006-01")
		if cls.isIncome(t.Category) {
			if strings.EqualFold(t.Type, store.Credit) {
				income[key] += t.Amount
			}
			continue
		}
		if strings.EqualFold(t.Type, store.Debit) {
			spend[key] += t.Amount
			cats[t.Category] += t.Amount
		}
	}

	h := &historical{Months: max(len(spend), 1)}
	h.AvgIncome = sum(income) / float64(max(len(income), 1))
	h.AvgSpend = sum(spend) / float64(h.Months)
	avgCats := make(map[string]float64, len(cats))
	for k, v := range cats {
		avgCats[k] = v / float64(h.Months)
	}
	h.CategorySpend = breakdownList(avgCats)

	h.AvgBudget = st.BudgetValue
	if st.BudgetType == store.BudgetPercentage && h.AvgIncome > 0 {
		h.AvgBudget = h.AvgIncome * st.BudgetValue / 100
	}
	h.AvgSurplus = h.AvgBudget - h.AvgSpend
	return h, nil
}

// dateRange resolves relative, months_back, start_date and end_date params
// into inclusive bounds. The default is the last 30 days.
func dateRange(today time.Time, relative string, monthsBack int, startDate, endDate string) (time.Time, time.Time) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(relative)), " ", "_") {
	case "last_week", "past_week":
		return today.AddDate(0, 0, -7), today
	case "this_week":
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		return today.AddDate(0, 0, -offset), today
	case "last_month", "past_month":
		return today.AddDate(0, 0, -30), today
	case "this_month":
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), today
	case "last_3_months", "past_3_months":
		return today.AddDate(0, 0, -90), today
	case "last_6_months", "past_6_months":
		return today.AddDate(0, 0, -180), today
	case "last_year", "past_year":
		return today.AddDate(0, 0, -365), today
	}
	if monthsBack > 0 {
		return today.AddDate(0, 0, -monthsBack*30), today
	}
	start, okStart := parseDate(startDate)
	end, okEnd := parseDate(endDate)
	switch {
	case okStart && okEnd:
		return start, end
	case okStart:
		return start, today
	case okEnd:
		return today.AddDate(0, 0, -30), end
	}
	return today.AddDate(0, 0, -30), today
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}

func period(start, end time.Time) map[string]any {
	return map[string]any{"start": start.Format("2006-01-02"), "end": end.Format("2006-01-02")}
}

func sum(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }

// roundHundred rounds to the nearest 100.
func roundHundred(v float64) float64 { return math.Round(v/100) * 100 }

func changePercent(current, previous float64) float64 {
	switch {
	case previous > 0:
		return (current - previous) / previous * 100
	case current > 0:
		return 100
	}
	return 0
}
