package series

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RawSample is a single history record as Home Assistant returns it.
type RawSample struct {
	Timestamp string `json:"last_changed"`
	State     string `json:"state"`
}

// ValidSample is a parsed, range-checked reading.
type ValidSample struct {
	EpochMillis int64   `json:"ts"`
	Value       float64 `json:"value"`
}

// Time returns the sample's instant.
func (s ValidSample) Time() time.Time {
	return time.UnixMilli(s.EpochMillis)
}

// Rejection is the reason a RawSample did not produce a ValidSample.
type Rejection string

const (
	RejectDateMismatch Rejection = "date_mismatch"
	RejectInvalidState Rejection = "invalid_state"
	RejectOutOfRange   Rejection = "out_of_range"
)

// Error implements the error interface.
func (r Rejection) Error() string {
	return "sample rejected: " + string(r)
}

// Range bounds the values a signal can legitimately report.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
	// Exclusive excludes both Min and Max themselves.
	Exclusive bool `yaml:"exclusive"`
}

// Unbounded accepts every finite value.
var Unbounded = Range{Min: math.Inf(-1), Max: math.Inf(1)}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v float64) bool {
	if r.Exclusive {
		return v > r.Min && v < r.Max
	}
	return v >= r.Min && v <= r.Max
}

// Normalizer validates raw history records for one signal and one day.
type Normalizer struct {
	// Date is the requested YYYY-MM-DD date in UTC+7. Samples whose local
	// date differs are rejected. Empty disables the check, which is what
	// month and year rollups want.
	Date  string
	Range Range
}

// Normalize parses one raw sample. The returned error is always a Rejection.
func (n Normalizer) Normalize(raw RawSample) (ValidSample, error) {
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		// a sample we cannot place in time can never match the requested day
		return ValidSample{}, RejectDateMismatch
	}
	if n.Date != "" && ts.In(Location).Format(DateLayout) != n.Date {
		return ValidSample{}, RejectDateMismatch
	}

	state := strings.TrimSpace(raw.State)
	switch state {
	case "", "unknown", "unavailable", "none", "None":
		return ValidSample{}, RejectInvalidState
	}
	v, err := strconv.ParseFloat(state, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ValidSample{}, RejectInvalidState
	}
	if !n.Range.Contains(v) {
		return ValidSample{}, RejectOutOfRange
	}
	return ValidSample{EpochMillis: ts.UnixMilli(), Value: v}, nil
}

// NormalizeAll drops every rejected sample and returns the rest ordered by
// time. Rejections are tallied by reason; a bad sample never fails the batch.
func (n Normalizer) NormalizeAll(raws []RawSample) ([]ValidSample, map[Rejection]int) {
	valid := make([]ValidSample, 0, len(raws))
	rejected := make(map[Rejection]int)
	for _, raw := range raws {
		s, err := n.Normalize(raw)
		if err != nil {
			rejected[err.(Rejection)]++
			continue
		}
		valid = append(valid, s)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].EpochMillis < valid[j].EpochMillis
	})
	return valid, rejected
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	// some integrations drop the zone entirely, those are UTC
	if t, err2 := time.Parse("2006-01-02T15:04:05.999999999", s); err2 == nil {
		return t, nil
	}
	return time.Time{}, err
}
