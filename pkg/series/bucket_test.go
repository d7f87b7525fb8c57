package series

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pastDay(t *testing.T) Window {
	t.Helper()
	w, err := ResolveWindow("2025-03-10", time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return w
}

func sampleAt(w Window, width time.Duration, slot int, offset time.Duration, v float64) ValidSample {
	ts := w.Start.Add(time.Duration(slot)*width + offset)
	return ValidSample{EpochMillis: ts.UnixMilli(), Value: v}
}

func values(buckets []Bucket) []any {
	out := make([]any, len(buckets))
	for i, b := range buckets {
		if b.Value == nil {
			out[i] = nil
		} else {
			out[i] = *b.Value
		}
	}
	return out
}

func TestBucketizeCompleteness(t *testing.T) {
	zero := 0.0
	today, err := ResolveWindow("2025-03-10", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	tests := []struct {
		name  string
		w     Window
		width time.Duration
		n     int
		last  string
	}{
		{"past day 5m", pastDay(t), FiveMinutes, 288, "23:55"},
		{"past day 30m", pastDay(t), ThirtyMinutes, 48, "23:30"},
		{"today at 09:00 5m", today, FiveMinutes, 109, "09:00"},
		{"today at 09:00 30m", today, ThirtyMinutes, 19, "09:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// sparse input: a single sample
			samples := []ValidSample{sampleAt(tt.w, tt.width, 2, time.Minute, 5)}
			buckets, err := Bucketize(samples, tt.width, tt.w, &zero)
			require.NoError(t, err)
			require.Len(t, buckets, tt.n)
			assert.Equal(t, "00:00", buckets[0].Label)
			assert.Equal(t, tt.last, buckets[len(buckets)-1].Label)

			start := tt.w.LocalStart()
			for i, b := range buckets {
				assert.Equal(t, start.Add(time.Duration(i)*tt.width).Format("15:04"), b.Label, "slot %d", i)
			}
		})
	}

	t.Run("empty window", func(t *testing.T) {
		future, err := ResolveWindow("2025-03-11", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		buckets, err := Bucketize(nil, FiveMinutes, future, &zero)
		require.NoError(t, err)
		assert.NotNil(t, buckets)
		assert.Empty(t, buckets)
	})

	t.Run("invalid width", func(t *testing.T) {
		for _, width := range []time.Duration{0, 30 * time.Second, 7 * time.Minute, 90 * time.Second} {
			_, err := Bucketize(nil, width, pastDay(t), nil)
			assert.Error(t, err, width.String())
		}
	})
}

func TestBucketizeHoldForward(t *testing.T) {
	w := pastDay(t)
	zero := 0.0
	samples := []ValidSample{
		sampleAt(w, FiveMinutes, 3, 90*time.Second, 30),
		sampleAt(w, FiveMinutes, 7, 0, 70),
	}
	buckets, err := Bucketize(samples, FiveMinutes, w, &zero)
	require.NoError(t, err)
	require.Len(t, buckets, 288)

	for i, b := range buckets {
		require.NotNil(t, b.Value, "slot %d", i)
		switch {
		case i < 3:
			assert.Equal(t, 0.0, *b.Value, "slot %d", i)
		case i < 7:
			assert.Equal(t, 30.0, *b.Value, "slot %d", i)
		default:
			assert.Equal(t, 70.0, *b.Value, "slot %d", i)
		}
		assert.Equal(t, i == 3 || i == 7, b.Sampled(), "slot %d", i)
	}
}

func TestBucketizeNilDefault(t *testing.T) {
	w := pastDay(t)
	buckets, err := Bucketize([]ValidSample{sampleAt(w, FiveMinutes, 2, 0, 55)}, FiveMinutes, w, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, 55.0, 55.0}, values(buckets[:4]))

	// mutating one bucket must not leak into the held-forward ones
	*buckets[2].Value = 1
	assert.Equal(t, 55.0, *buckets[3].Value)
}

func TestBucketizeLastWriteWins(t *testing.T) {
	w := pastDay(t)
	samples := []ValidSample{
		sampleAt(w, FiveMinutes, 1, 0, 10),
		sampleAt(w, FiveMinutes, 1, 2*time.Minute, 20),
		sampleAt(w, FiveMinutes, 1, 4*time.Minute+59*time.Second, 30),
		sampleAt(w, FiveMinutes, 2, 0, 40),
	}
	buckets, err := Bucketize(samples, FiveMinutes, w, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 30.0, 40.0, 40.0}, values(buckets[:4]))
}

func TestBucketizeIgnoresOutsideWindow(t *testing.T) {
	today, err := ResolveWindow("2025-03-10", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	samples := []ValidSample{
		{EpochMillis: today.Start.Add(-time.Minute).UnixMilli(), Value: 99},
		sampleAt(today, FiveMinutes, 0, 0, 1),
		{EpochMillis: today.End.Add(time.Minute).UnixMilli(), Value: 99},
	}
	buckets, err := Bucketize(samples, FiveMinutes, today, nil)
	require.NoError(t, err)
	for _, b := range buckets {
		assert.Equal(t, 1.0, *b.Value)
	}
}

func TestBucketizeLastSecondOfDay(t *testing.T) {
	w := pastDay(t)
	late := ValidSample{EpochMillis: w.End.Add(500 * time.Millisecond).UnixMilli(), Value: 12}
	buckets, err := Bucketize([]ValidSample{late}, FiveMinutes, w, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 288)
	require.NotNil(t, buckets[287].Value)
	assert.Equal(t, 12.0, *buckets[287].Value)
	assert.True(t, buckets[287].Sampled())
}

func TestBucketizeSeries(t *testing.T) {
	today, err := ResolveWindow("2025-03-10", time.Date(2025, 3, 9, 17, 12, 0, 0, time.UTC))
	require.NoError(t, err)
	v := func(f float64) *float64 { return &f }
	zero := 0.0

	// 00:12 local means slots 00:00, 00:05 and 00:10 exist
	buckets, err := BucketizeSeries([]*float64{v(100), nil, v(-5), v(300), v(400)}, FiveMinutes, today, Range{Min: 0, Max: 1000}, &zero)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, []any{100.0, 100.0, 100.0}, values(buckets))
	assert.True(t, buckets[0].Sampled())
	assert.False(t, buckets[1].Sampled())
	assert.False(t, buckets[2].Sampled(), "out of range value is not a sample")
}

func TestResampleIdempotent(t *testing.T) {
	w := pastDay(t)
	sig := DefaultSignals()[SignalBatterySOC]
	var raws []RawSample
	for i := 0; i < 500; i++ {
		ts := w.Start.Add(time.Duration(i) * 173 * time.Second)
		raws = append(raws, RawSample{
			Timestamp: ts.Format(time.RFC3339Nano),
			State:     fmt.Sprintf("%d", (i*7)%101),
		})
	}

	first, err := sig.Resample(raws, w)
	require.NoError(t, err)
	second, err := sig.Resample(raws, w)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResampleRejectedIsolation(t *testing.T) {
	w := pastDay(t)
	sig := DefaultSignals()[SignalBatterySOC]
	clean := []RawSample{
		{Timestamp: "2025-03-09T17:03:00Z", State: "40"},
		{Timestamp: "2025-03-09T19:00:00Z", State: "55"},
		{Timestamp: "2025-03-10T06:30:00Z", State: "91"},
	}
	dirty := []RawSample{
		clean[0],
		{Timestamp: "2025-03-09T18:00:00Z", State: "unavailable"},
		clean[1],
		clean[2],
	}

	a, err := sig.Resample(clean, w)
	require.NoError(t, err)
	b, err := sig.Resample(dirty, w)
	require.NoError(t, err)
	assert.Equal(t, a.Timeline, b.Timeline)
	assert.Equal(t, a.Summary, b.Summary)
	assert.Equal(t, 1, b.Rejected[RejectInvalidState])
}

func TestResampleJSONShape(t *testing.T) {
	w := pastDay(t)
	sig := DefaultSignals()[SignalTemperature]
	s, err := sig.Resample([]RawSample{{Timestamp: "2025-03-09T17:07:00Z", State: "35"}}, w)
	require.NoError(t, err)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	for _, key := range []string{"signal", "unit", "timeline", "min", "max", "minTime", "maxTime", "current", "count"} {
		assert.Contains(t, doc, key)
	}
	assert.NotContains(t, doc, "Rejected")
	timeline := doc["timeline"].([]any)
	assert.Equal(t, map[string]any{"time": "00:00", "value": nil}, timeline[0])
	assert.Equal(t, map[string]any{"time": "00:05", "value": 35.0}, timeline[1])
}
