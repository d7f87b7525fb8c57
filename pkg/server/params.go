package server

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/lightearth/lightearth-proxy/pkg/series"
)

var (
	deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	// inverter serials are two letters followed by nine digits
	serialPattern = regexp.MustCompile(`^[A-Z]{2}\d{9}$`)
)

var errInvalidDeviceID = errors.New("invalid device id")

func deviceID(r *http.Request) (string, error) {
	id := r.PathValue("deviceId")
	if !deviceIDPattern.MatchString(id) {
		return "", errInvalidDeviceID
	}
	return id, nil
}

// normalizeSerial validates a serial for registration and upper-cases it.
func normalizeSerial(s string) (string, error) {
	serial := strings.ToUpper(strings.TrimSpace(s))
	if !serialPattern.MatchString(serial) {
		return "", fmt.Errorf("invalid device id %q: expected two letters followed by nine digits", s)
	}
	return serial, nil
}

// dayWindow resolves the date query parameter, defaulting to today in UTC+7.
func (s *Server) dayWindow(r *http.Request) (series.Window, error) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = series.Today(s.now())
	}
	return series.ResolveWindow(date, s.now())
}

func (s *Server) monthWindow(r *http.Request) (series.Window, error) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = s.now().In(series.Location).Format(series.MonthLayout)
	}
	return series.ResolveMonth(month, s.now())
}

func (s *Server) yearWindow(r *http.Request) (series.Window, error) {
	year := r.URL.Query().Get("year")
	if year == "" {
		year = s.now().In(series.Location).Format(series.YearLayout)
	}
	return series.ResolveYear(year, s.now())
}
