package series

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the civil date format used by every endpoint.
	DateLayout = "2006-01-02"
	// MonthLayout identifies a calendar month.
	MonthLayout = "2006-01"
	// YearLayout identifies a calendar year.
	YearLayout = "2006"
)

// Location is the civil timezone the dashboard reports in. UTC+7 has no
// daylight saving so a fixed zone is exact.
var Location = time.FixedZone("UTC+7", 7*60*60)

// Window is the UTC range to query the upstream history for. A local day
// [00:00, 24:00) in UTC+7 becomes [previous day 17:00Z, same day 16:59:59Z].
type Window struct {
	// Date is the requested period in its original layout (day, month or year).
	Date  string    `json:"date"`
	Start time.Time `json:"startUtc"`
	End   time.Time `json:"endUtc"`
	// Today is true when the period contains the current instant, in which
	// case End has been clamped to now.
	Today bool `json:"today"`
}

// Empty reports whether the window covers no time at all, which happens for
// periods that start in the future.
func (w Window) Empty() bool {
	return w.End.Before(w.Start)
}

// Until is the exclusive end of the window: the start of the next period for
// closed periods, or just after now for the current one.
func (w Window) Until() time.Time {
	if w.Today {
		return w.End.Add(time.Nanosecond)
	}
	// End is the last whole second of a closed period
	return w.End.Add(time.Second)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !w.Empty() && !t.Before(w.Start) && t.Before(w.Until())
}

// LocalStart returns the start of the window in UTC+7.
func (w Window) LocalStart() time.Time {
	return w.Start.In(Location)
}

// LocalEnd returns the end of the window in UTC+7.
func (w Window) LocalEnd() time.Time {
	return w.End.In(Location)
}

// Today returns the current civil date in UTC+7.
func Today(now time.Time) string {
	return now.In(Location).Format(DateLayout)
}

// ResolveWindow converts a YYYY-MM-DD date in UTC+7 into the UTC range to
// query. When date is today the end is clamped to now so in-progress days
// return partial data instead of future gaps.
func ResolveWindow(date string, now time.Time) (Window, error) {
	day, err := time.ParseInLocation(DateLayout, date, Location)
	if err != nil {
		return Window{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return clampWindow(day.Format(DateLayout), day, day.AddDate(0, 0, 1), now), nil
}

// ResolveMonth is ResolveWindow for a YYYY-MM month.
func ResolveMonth(month string, now time.Time) (Window, error) {
	first, err := time.ParseInLocation(MonthLayout, month, Location)
	if err != nil {
		return Window{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	return clampWindow(first.Format(MonthLayout), first, first.AddDate(0, 1, 0), now), nil
}

// ResolveYear is ResolveWindow for a YYYY year.
func ResolveYear(year string, now time.Time) (Window, error) {
	first, err := time.ParseInLocation(YearLayout, year, Location)
	if err != nil {
		return Window{}, fmt.Errorf("invalid year %q: %w", year, err)
	}
	return clampWindow(first.Format(YearLayout), first, first.AddDate(1, 0, 0), now), nil
}

func clampWindow(label string, start, next time.Time, now time.Time) Window {
	w := Window{
		Date:  label,
		Start: start.UTC(),
		End:   next.Add(-time.Second).UTC(),
	}
	now = now.UTC()
	if now.Before(next) {
		// covers both "today" and periods entirely in the future, the latter
		// ending up with End before Start
		w.End = now
		w.Today = !now.Before(w.Start)
	}
	return w
}
