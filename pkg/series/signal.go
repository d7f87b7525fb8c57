package series

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Signal names as exposed by the inverter integration's sensor entities.
const (
	SignalPVPower        = "pv_power"
	SignalBatteryPower   = "battery_power"
	SignalGridPower      = "grid_power"
	SignalLoadPower      = "load_power"
	SignalBatterySOC     = "battery_soc"
	SignalTemperature    = "temperature"
	SignalPVToday        = "pv_today"
	SignalLoadToday      = "load_today"
	SignalGridToday      = "grid_today"
	SignalChargeToday    = "charge_today"
	SignalDischargeToday = "discharge_today"
)

// Signal describes how one sensor is validated and resampled.
type Signal struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
	// Grid is the bucket width used for its daily timeline.
	Grid  time.Duration `json:"-"`
	Range Range         `json:"-"`
	// Default is held before the first sample of the day. Nil renders as null.
	Default *float64 `json:"-"`
	// NoiseFloor excludes values at or below it from min/max.
	NoiseFloor float64 `json:"-"`
	// SeriesAttr names a sensor attribute carrying today's pre-bucketed
	// values, if the integration publishes one.
	SeriesAttr string `json:"-"`
	// Counter marks daily-resetting energy counters (kWh).
	Counter bool `json:"-"`
}

// Normalizer returns a Normalizer for this signal on the given date.
func (s Signal) Normalizer(date string) Normalizer {
	return Normalizer{Date: date, Range: s.Range}
}

// Series is a resampled day of one signal.
type Series struct {
	Signal   string           `json:"signal"`
	Unit     string           `json:"unit"`
	Timeline []Bucket         `json:"timeline"`
	Summary                   // inlined into the JSON document
	Rejected map[Rejection]int `json:"-"`
}

// Resample runs the full pipeline on one day of raw history: normalize,
// bucketize and summarize.
func (s Signal) Resample(raws []RawSample, w Window) (Series, error) {
	valid, rejected := s.Normalizer(w.Date).NormalizeAll(raws)
	buckets, err := Bucketize(valid, s.Grid, w, s.Default)
	if err != nil {
		return Series{}, fmt.Errorf("failed to bucketize %s: %w", s.Name, err)
	}
	return Series{
		Signal:   s.Name,
		Unit:     s.Unit,
		Timeline: buckets,
		Summary:  Summarize(buckets, s.NoiseFloor),
		Rejected: rejected,
	}, nil
}

// ResampleSeries is Resample for a pre-bucketed attribute array.
func (s Signal) ResampleSeries(values []*float64, w Window) (Series, error) {
	buckets, err := BucketizeSeries(values, s.Grid, w, s.Range, s.Default)
	if err != nil {
		return Series{}, fmt.Errorf("failed to bucketize %s: %w", s.Name, err)
	}
	return Series{
		Signal:   s.Name,
		Unit:     s.Unit,
		Timeline: buckets,
		Summary:  Summarize(buckets, s.NoiseFloor),
	}, nil
}

// Empty returns a well-typed series with no data, used when the upstream
// could not be reached.
func (s Signal) Empty() Series {
	return Series{
		Signal:   s.Name,
		Unit:     s.Unit,
		Timeline: []Bucket{},
	}
}

// Signals is a set of signal definitions keyed by name.
type Signals map[string]Signal

// Get returns the named signal.
func (s Signals) Get(name string) (Signal, error) {
	sig, ok := s[name]
	if !ok {
		return Signal{}, fmt.Errorf("unknown signal: %s", name)
	}
	return sig, nil
}

// Names returns all signal names in sorted order.
func (s Signals) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultSignals returns a fresh copy of the built-in signal set.
func DefaultSignals() Signals {
	zero := 0.0
	// battery and grid power are signed so there is no noise floor
	noFloor := math.Inf(-1)
	power := func(name string, r Range, floor float64) Signal {
		return Signal{
			Name:       name,
			Unit:       "W",
			Grid:       FiveMinutes,
			Range:      r,
			Default:    &zero,
			NoiseFloor: floor,
			SeriesAttr: "series_5min_w",
		}
	}
	counter := func(name string) Signal {
		return Signal{
			Name:       name,
			Unit:       "kWh",
			Grid:       ThirtyMinutes,
			Range:      Range{Min: 0, Max: math.Inf(1)},
			Default:    &zero,
			NoiseFloor: noFloor,
			Counter:    true,
		}
	}
	return Signals{
		SignalPVPower:      power(SignalPVPower, Range{Min: 0, Max: math.Inf(1)}, DefaultNoiseFloor),
		SignalLoadPower:    power(SignalLoadPower, Range{Min: 0, Max: math.Inf(1)}, DefaultNoiseFloor),
		SignalBatteryPower: power(SignalBatteryPower, Unbounded, noFloor),
		SignalGridPower:    power(SignalGridPower, Unbounded, noFloor),
		SignalBatterySOC: {
			Name:       SignalBatterySOC,
			Unit:       "%",
			Grid:       FiveMinutes,
			Range:      Range{Min: 0, Max: 100},
			NoiseFloor: DefaultNoiseFloor,
		},
		SignalTemperature: {
			Name:       SignalTemperature,
			Unit:       "°C",
			Grid:       FiveMinutes,
			Range:      Range{Min: 0, Max: 100, Exclusive: true},
			NoiseFloor: DefaultNoiseFloor,
		},
		SignalPVToday:        counter(SignalPVToday),
		SignalLoadToday:      counter(SignalLoadToday),
		SignalGridToday:      counter(SignalGridToday),
		SignalChargeToday:    counter(SignalChargeToday),
		SignalDischargeToday: counter(SignalDischargeToday),
	}
}
