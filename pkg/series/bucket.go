package series

import (
	"fmt"
	"time"
)

const (
	FiveMinutes   = 5 * time.Minute
	ThirtyMinutes = 30 * time.Minute

	day = 24 * time.Hour
)

// Bucket is one slot of a fixed-width local-time grid.
type Bucket struct {
	Label string `json:"time"`
	// Value is nil only before the first sample of a signal without a
	// default.
	Value *float64 `json:"value"`

	sampled bool
}

// Sampled reports whether a real sample landed in this slot, as opposed to
// the value being held forward.
func (b Bucket) Sampled() bool {
	return b.sampled
}

// Float returns the value or 0 when there is none.
func (b Bucket) Float() float64 {
	if b.Value == nil {
		return 0
	}
	return *b.Value
}

func validGrid(width time.Duration) error {
	if width < time.Minute || width%time.Minute != 0 || day%width != 0 {
		return fmt.Errorf("invalid grid width %s: must be whole minutes dividing a day", width)
	}
	return nil
}

// slotCount returns how many grid slots lie between the local start of w and
// the slot containing its end, inclusive.
func slotCount(w Window, width time.Duration) int {
	if w.Empty() {
		return 0
	}
	n := int(w.End.Sub(w.Start)/width) + 1
	if limit := int(day / width); n > limit {
		n = limit
	}
	return n
}

// Bucketize places ordered samples onto a grid of the given width covering
// w from local midnight through the slot containing w.End. Within a slot
// the latest sample wins; slots without a sample hold the previous slot's
// value, or def before the first sample.
func Bucketize(samples []ValidSample, width time.Duration, w Window, def *float64) ([]Bucket, error) {
	if err := validGrid(width); err != nil {
		return nil, err
	}
	n := slotCount(w, width)
	values := make([]*float64, n)
	for _, s := range samples {
		t := s.Time()
		if !w.Contains(t) {
			continue
		}
		idx := int(t.Sub(w.Start) / width)
		if idx >= n {
			continue
		}
		values[idx] = ptr(s.Value)
	}
	return fill(values, width, w, def), nil
}

// BucketizeSeries builds the same grid from a pre-aggregated array where
// index i holds slot i, as the inverter integration publishes in its
// series_5min_w attribute. Nil entries and values outside r are treated as
// missing samples.
func BucketizeSeries(values []*float64, width time.Duration, w Window, r Range, def *float64) ([]Bucket, error) {
	if err := validGrid(width); err != nil {
		return nil, err
	}
	n := slotCount(w, width)
	slots := make([]*float64, n)
	for i := 0; i < n && i < len(values); i++ {
		if values[i] == nil || !r.Contains(*values[i]) {
			continue
		}
		slots[i] = ptr(*values[i])
	}
	return fill(slots, width, w, def), nil
}

func fill(slots []*float64, width time.Duration, w Window, def *float64) []Bucket {
	start := w.LocalStart()
	buckets := make([]Bucket, len(slots))
	last := def
	for i, v := range slots {
		if v != nil {
			last = v
		}
		b := Bucket{
			Label:   start.Add(time.Duration(i) * width).Format("15:04"),
			sampled: v != nil,
		}
		if last != nil {
			b.Value = ptr(*last)
		}
		buckets[i] = b
	}
	return buckets
}

func ptr[T any](v T) *T {
	return &v
}
