package server

import (
	"context"
	"errors"
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

// realtime reads the current state of every live signal concurrently.
// Signals that fail or report something out of range have a nil value; the
// error joins every failure.
func (s *Server) realtime(ctx context.Context, device string) (map[string]types.RealtimeValue, error) {
	out := make(map[string]types.RealtimeValue, len(liveSignals))
	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	g.SetLimit(s.fetchParallelism)
	for _, name := range liveSignals {
		sig, err := s.signals.Get(name)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			v := types.RealtimeValue{Unit: sig.Unit}
			st, err := s.ha.State(ctx, s.ha.EntityID(device, name))
			if err == nil {
				v.LastChanged = st.LastChanged
				if f, ferr := st.Float(); ferr == nil && sig.Range.Contains(f) {
					v.Value = &f
				}
			}
			mu.Lock()
			defer mu.Unlock()
			out[name] = v
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			// collected instead of returned so one failure does not hide the rest
			return nil
		})
	}
	g.Wait()
	return out, errors.Join(errs...)
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	device, err := deviceID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.serveCached(w, r, "realtime/"+device, true, func(ctx context.Context) (any, bool) {
		ctx = log.WithAttrs(ctx, slog.String("deviceID", device))
		values, err := s.realtime(ctx, device)
		resp := types.RealtimeResponse{
			Envelope: types.Envelope{
				Success:  err == nil,
				DeviceID: device,
				Version:  common.Version(),
			},
			Timestamp: s.now().UTC(),
			Values:    values,
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch realtime values", slog.Any("error", err))
			resp.Error = "upstream unavailable: " + err.Error()
		}
		return resp, resp.Success
	})
}

// handleDashboard combines live values, today's and this month's energy and
// what local generation saved under the tariff.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	device, err := deviceID(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := s.now()
	today, err := series.ResolveWindow(series.Today(now), now)
	if err != nil {
		panic(err)
	}
	month, err := series.ResolveMonth(now.In(series.Location).Format(series.MonthLayout), now)
	if err != nil {
		panic(err)
	}

	s.serveCached(w, r, "dashboard/"+device, true, func(ctx context.Context) (any, bool) {
		ctx = log.WithAttrs(ctx, slog.String("deviceID", device))
		resp := types.DashboardResponse{
			Envelope: types.Envelope{
				DeviceID: device,
				Version:  common.Version(),
			},
			Date:  today.Date,
			Today: make(map[string]*float64, len(counterSignals)),
			Month: make(map[string]float64, len(counterSignals)),
		}
		if s.tariff != nil {
			resp.Savings.Currency = s.tariff.Currency
		}

		var (
			realtimeErr, todayErr, monthErr error
			todaySet                        map[string]series.Series
			monthDays                       map[string][]series.PeriodTotal
		)
		var g errgroup.Group
		g.Go(func() error {
			resp.Realtime, realtimeErr = s.realtime(ctx, device)
			return nil
		})
		g.Go(func() error {
			todaySet, todayErr = s.daySeriesSet(ctx, device, counterSignals, today)
			return nil
		})
		g.Go(func() error {
			monthDays, monthErr = s.monthTotals(ctx, device, month)
			return nil
		})
		g.Wait()

		for _, name := range counterSignals {
			resp.Today[name] = counterTotal(todaySet[name])
			resp.Month[name] = series.Sum(monthDays[name])
		}
		if s.tariff != nil {
			load, grid := resp.Month[series.SignalLoadToday], resp.Month[series.SignalGridToday]
			dayLoad, dayGrid := value(resp.Today[series.SignalLoadToday]), value(resp.Today[series.SignalGridToday])
			resp.Savings.Month = s.tariff.Savings(load, grid)
			// month totals already include today
			resp.Savings.Today = s.tariff.IncrementalSavings(max(0, load-dayLoad), max(0, grid-dayGrid), dayLoad, dayGrid)
		}

		err := errors.Join(realtimeErr, todayErr, monthErr)
		resp.Success = err == nil
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to build dashboard", slog.Any("error", err))
			resp.Error = "upstream unavailable: " + err.Error()
		}
		return resp, resp.Success
	})
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
