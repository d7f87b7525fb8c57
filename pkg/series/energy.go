package series

import (
	"cmp"
	"slices"
)

// PeriodTotal is the energy attributed to one day or month. Value is nil
// when no sample fell in the period, distinguishing "no data" from zero.
type PeriodTotal struct {
	Period string   `json:"period"`
	Value  *float64 `json:"value"`
}

// DailyTotals reduces samples of a daily-resetting counter to one value per
// local day in w. A day's total is the highest reading after its last reset,
// so a stale reading from before the counter reset at midnight does not
// count toward the new day. Every day from the start of w through its end is
// present, in order.
func DailyTotals(samples []ValidSample, w Window) []PeriodTotal {
	if w.Empty() {
		return []PeriodTotal{}
	}
	ordered := slices.Clone(samples)
	slices.SortStableFunc(ordered, func(a, b ValidSample) int {
		return cmp.Compare(a.EpochMillis, b.EpochMillis)
	})
	byDay := make(map[string][]float64)
	for _, s := range ordered {
		t := s.Time()
		if !w.Contains(t) {
			continue
		}
		d := t.In(Location).Format(DateLayout)
		byDay[d] = append(byDay[d], s.Value)
	}

	var out []PeriodTotal
	last := w.LocalEnd().Format(DateLayout)
	for d := w.LocalStart(); ; d = d.AddDate(0, 0, 1) {
		key := d.Format(DateLayout)
		total := PeriodTotal{Period: key}
		if vals, ok := byDay[key]; ok {
			total.Value = ptr(sinceReset(vals))
		}
		out = append(out, total)
		if key == last {
			break
		}
	}
	return out
}

// CounterTotal is the value a daily counter reached by the end of a resampled
// day, or nil when the day has no samples.
func CounterTotal(buckets []Bucket) *float64 {
	var vals []float64
	for _, b := range buckets {
		if b.Sampled() && b.Value != nil {
			vals = append(vals, *b.Value)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	return ptr(sinceReset(vals))
}

// sinceReset returns the highest of the ordered counter readings that follow
// the last decrease.
func sinceReset(vals []float64) float64 {
	start := 0
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			start = i
		}
	}
	return slices.Max(vals[start:])
}

// MonthlyTotals sums daily totals per calendar month, preserving order.
// Months where no day has data stay nil.
func MonthlyTotals(days []PeriodTotal) []PeriodTotal {
	out := []PeriodTotal{}
	for _, d := range days {
		if len(d.Period) < len(MonthLayout) {
			continue
		}
		month := d.Period[:len(MonthLayout)]
		if len(out) == 0 || out[len(out)-1].Period != month {
			out = append(out, PeriodTotal{Period: month})
		}
		if d.Value == nil {
			continue
		}
		cur := &out[len(out)-1]
		if cur.Value == nil {
			cur.Value = ptr(0.0)
		}
		*cur.Value += *d.Value
	}
	return out
}

// Sum adds up all non-nil totals.
func Sum(totals []PeriodTotal) float64 {
	var sum float64
	for _, t := range totals {
		if t.Value != nil {
			sum += *t.Value
		}
	}
	return sum
}
