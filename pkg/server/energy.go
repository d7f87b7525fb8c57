package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lightearth/lightearth-proxy/pkg/common"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/series"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

// handleEnergyDay serves the daily counters on the 30 minute grid.
func (s *Server) handleEnergyDay(w http.ResponseWriter, r *http.Request) {
	device, err := deviceID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	win, err := s.dayWindow(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := "energy/day/" + device + "/" + win.Date
	s.serveCached(w, r, key, live(win), func(ctx context.Context) (any, bool) {
		ctx = log.WithAttrs(ctx, slog.String("deviceID", device), slog.String("date", win.Date))
		set, err := s.daySeriesSet(ctx, device, counterSignals, win)
		resp := types.EnergyDayResponse{
			Envelope: types.Envelope{
				Success:  err == nil,
				DeviceID: device,
				Version:  common.Version(),
			},
			Date:   win.Date,
			Series: set,
			Totals: make(map[string]*float64, len(set)),
		}
		for name, res := range set {
			resp.Totals[name] = counterTotal(res)
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch energy history", slog.Any("error", err))
			resp.Error = "upstream unavailable: " + err.Error()
		}
		return resp, resp.Success
	})
}

// handleEnergyMonth serves one total per day of a month for every counter.
func (s *Server) handleEnergyMonth(w http.ResponseWriter, r *http.Request) {
	device, err := deviceID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	win, err := s.monthWindow(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := "energy/month/" + device + "/" + win.Date
	s.serveCached(w, r, key, live(win), func(ctx context.Context) (any, bool) {
		ctx = log.WithAttrs(ctx, slog.String("deviceID", device), slog.String("month", win.Date))
		days, err := s.monthTotals(ctx, device, win)
		return periodResponse(ctx, device, win.Date, "day", days, err), err == nil
	})
}

// handleEnergyYear serves one total per month of a year for every counter.
// History is fetched a month at a time to keep each upstream query small.
func (s *Server) handleEnergyYear(w http.ResponseWriter, r *http.Request) {
	device, err := deviceID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	win, err := s.yearWindow(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := "energy/year/" + device + "/" + win.Date
	s.serveCached(w, r, key, live(win), func(ctx context.Context) (any, bool) {
		ctx = log.WithAttrs(ctx, slog.String("deviceID", device), slog.String("year", win.Date))
		months, err := s.yearTotals(ctx, device, win)
		return periodResponse(ctx, device, win.Date, "month", months, err), err == nil
	})
}

func (s *Server) yearTotals(ctx context.Context, device string, year series.Window) (map[string][]series.PeriodTotal, error) {
	if year.Empty() {
		return map[string][]series.PeriodTotal{}, nil
	}
	start := year.LocalStart()
	var windows []series.Window
	for m := 0; m < 12; m++ {
		mw, err := series.ResolveMonth(start.AddDate(0, m, 0).Format(series.MonthLayout), s.now())
		if err != nil {
			return nil, err
		}
		if mw.Empty() {
			break
		}
		windows = append(windows, mw)
	}

	perMonth := make([]map[string][]series.PeriodTotal, len(windows))
	var g errgroup.Group
	// each month fans out again per counter
	g.SetLimit(max(1, s.fetchParallelism/len(counterSignals)))
	var mu sync.Mutex
	for i, mw := range windows {
		g.Go(func() error {
			days, err := s.monthTotals(ctx, device, mw)
			if err != nil {
				return fmt.Errorf("%s: %w", mw.Date, err)
			}
			mu.Lock()
			perMonth[i] = days
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]series.PeriodTotal, len(counterSignals))
	for _, name := range counterSignals {
		var days []series.PeriodTotal
		for _, m := range perMonth {
			days = append(days, m[name]...)
		}
		out[name] = series.MonthlyTotals(days)
	}
	return out, nil
}

func periodResponse(ctx context.Context, device, period, granularity string, totals map[string][]series.PeriodTotal, err error) types.EnergyPeriodResponse {
	resp := types.EnergyPeriodResponse{
		Envelope: types.Envelope{
			Success:  err == nil,
			DeviceID: device,
			Version:  common.Version(),
		},
		Period:      period,
		Granularity: granularity,
		Signals:     make(map[string][]series.PeriodTotal, len(counterSignals)),
		Totals:      make(map[string]float64, len(counterSignals)),
	}
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch energy totals", slog.Any("error", err))
		resp.Error = "upstream unavailable: " + err.Error()
	}
	for _, name := range counterSignals {
		list := totals[name]
		if list == nil {
			list = []series.PeriodTotal{}
		}
		resp.Signals[name] = list
		resp.Totals[name] = series.Sum(list)
	}
	return resp
}
