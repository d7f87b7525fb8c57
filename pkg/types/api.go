package types

import (
	"time"

	"github.com/lightearth/lightearth-proxy/pkg/series"
)

// Envelope is embedded in every device data response. On upstream failure
// Success is false and Error says why while the rest of the document keeps
// its shape.
type Envelope struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
	Version  string `json:"version"`
	Error    string `json:"error,omitempty"`
}

// SeriesResponse is a single resampled signal for one day.
type SeriesResponse struct {
	Envelope
	Date string `json:"date"`
	series.Series
}

// MultiSeriesResponse is several signals resampled onto the same grid.
type MultiSeriesResponse struct {
	Envelope
	Date   string                   `json:"date"`
	Series map[string]series.Series `json:"series"`
}

// EnergyDayResponse is one day of energy counters on a 30 minute grid.
type EnergyDayResponse struct {
	Envelope
	Date   string                   `json:"date"`
	Series map[string]series.Series `json:"series"`
	// Totals holds the end-of-day (or so far today) value of each counter.
	Totals map[string]*float64 `json:"totals"`
}

// EnergyPeriodResponse is a month or year of energy counters.
type EnergyPeriodResponse struct {
	Envelope
	Period string `json:"period"`
	// Granularity is "day" for months and "month" for years.
	Granularity string                          `json:"granularity"`
	Signals     map[string][]series.PeriodTotal `json:"signals"`
	Totals      map[string]float64              `json:"totals"`
}

// RealtimeValue is the latest reading of one signal.
type RealtimeValue struct {
	Value       *float64  `json:"value"`
	Unit        string    `json:"unit"`
	LastChanged time.Time `json:"lastChanged,omitzero"`
}

// RealtimeResponse is the latest reading of every live signal.
type RealtimeResponse struct {
	Envelope
	Timestamp time.Time                `json:"timestamp"`
	Values    map[string]RealtimeValue `json:"values"`
}

// Savings is what local generation saved under the tiered tariff.
type Savings struct {
	Currency string  `json:"currency"`
	Today    float64 `json:"today"`
	Month    float64 `json:"month"`
}

// DashboardResponse combines live values with today's and this month's
// totals.
type DashboardResponse struct {
	Envelope
	Date     string                   `json:"date"`
	Realtime map[string]RealtimeValue `json:"realtime"`
	Today    map[string]*float64      `json:"today"`
	Month    map[string]float64       `json:"month"`
	Savings  Savings                  `json:"savings"`
}
