package series

// DefaultNoiseFloor is the value at or below which readings are considered
// sensor glitches for min/max purposes.
const DefaultNoiseFloor = 1

// Summary reduces a bucketed series to the fields the dashboard shows.
type Summary struct {
	Min     *float64 `json:"min"`
	MinTime *string  `json:"minTime"`
	Max     *float64 `json:"max"`
	MaxTime *string  `json:"maxTime"`
	Current *float64 `json:"current"`
	// Count is the number of buckets that received a real sample.
	Count int `json:"count"`
}

// Summarize tracks min and max with the label of their first occurrence,
// ignoring values at or below noiseFloor, and reports the last bucket as
// current. Sub-floor values still count towards Count and Current.
func Summarize(buckets []Bucket, noiseFloor float64) Summary {
	var sum Summary
	for _, b := range buckets {
		if b.sampled {
			sum.Count++
		}
		if b.Value == nil {
			continue
		}
		v := *b.Value
		if v <= noiseFloor {
			continue
		}
		if sum.Min == nil || v < *sum.Min {
			sum.Min = ptr(v)
			sum.MinTime = ptr(b.Label)
		}
		if sum.Max == nil || v > *sum.Max {
			sum.Max = ptr(v)
			sum.MaxTime = ptr(b.Label)
		}
	}
	if len(buckets) > 0 {
		if last := buckets[len(buckets)-1].Value; last != nil {
			sum.Current = ptr(*last)
		}
	}
	return sum
}
