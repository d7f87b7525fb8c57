package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lightearth/lightearth-proxy/pkg/homeassistant"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/metrics"
	"github.com/lightearth/lightearth-proxy/pkg/series"
)

var (
	powerSignals = []string{
		series.SignalPVPower,
		series.SignalBatteryPower,
		series.SignalGridPower,
		series.SignalLoadPower,
	}
	liveSignals = append(append([]string{}, powerSignals...),
		series.SignalBatterySOC,
		series.SignalTemperature,
	)
	counterSignals = []string{
		series.SignalPVToday,
		series.SignalLoadToday,
		series.SignalGridToday,
		series.SignalChargeToday,
		series.SignalDischargeToday,
	}
)

func live(w series.Window) bool {
	return w.Today || w.Empty()
}

// daySeries resamples one day of a signal. Today's power timelines come from
// the integration's pre-bucketed attribute when it has one, falling back to
// the History API. On failure the returned series is empty but well formed.
func (s *Server) daySeries(ctx context.Context, deviceID string, sig series.Signal, w series.Window) (series.Series, error) {
	if w.Empty() {
		return sig.Empty(), nil
	}
	entity := s.ha.EntityID(deviceID, sig.Name)

	if w.Today && s.preferAttributes && sig.SeriesAttr != "" {
		st, err := s.ha.State(ctx, entity)
		if err == nil {
			if values, ok := st.FloatSeries(sig.SeriesAttr); ok {
				return sig.ResampleSeries(values, w)
			}
		} else {
			log.Ctx(ctx).DebugContext(ctx, "failed to read series attribute, using history", slog.String("entity", entity), slog.Any("error", err))
		}
	}

	raws, err := s.ha.History(ctx, entity, w, historyOptions(sig)...)
	if err != nil {
		return sig.Empty(), err
	}
	res, err := sig.Resample(raws, w)
	if err != nil {
		return sig.Empty(), err
	}
	s.recordRejected(ctx, entity, sig.Name, res.Rejected)
	return res, nil
}

// historyOptions leaves out the state carried over from before the window
// for counters, whose previous value belongs to the previous day.
func historyOptions(sig series.Signal) []homeassistant.HistoryOption {
	if sig.Counter {
		return []homeassistant.HistoryOption{homeassistant.SkipInitialState()}
	}
	return nil
}

func (s *Server) recordRejected(ctx context.Context, entity, signal string, rejected map[series.Rejection]int) {
	for reason, n := range rejected {
		metrics.RejectedSamples(signal, string(reason), n)
	}
	if len(rejected) > 0 {
		log.Ctx(ctx).DebugContext(ctx, "dropped samples", slog.String("entity", entity), slog.Any("rejected", rejected))
	}
}

// daySeriesSet resamples several signals concurrently. The first upstream
// error is returned along with every series, failed ones empty.
func (s *Server) daySeriesSet(ctx context.Context, deviceID string, names []string, w series.Window) (map[string]series.Series, error) {
	out := make(map[string]series.Series, len(names))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.fetchParallelism)
	for _, name := range names {
		sig, err := s.signals.Get(name)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			res, err := s.daySeries(ctx, deviceID, sig, w)
			mu.Lock()
			out[name] = res
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return out, g.Wait()
}

// counterTotal is the value a daily counter reached on the day of res, or
// nil when nothing was recorded.
func counterTotal(res series.Series) *float64 {
	return series.CounterTotal(res.Timeline)
}

// periodTotals reduces counter history over w to one value per local day.
func (s *Server) periodTotals(ctx context.Context, deviceID string, sig series.Signal, w series.Window) ([]series.PeriodTotal, error) {
	if w.Empty() {
		return []series.PeriodTotal{}, nil
	}
	entity := s.ha.EntityID(deviceID, sig.Name)
	raws, err := s.ha.History(ctx, entity, w, historyOptions(sig)...)
	if err != nil {
		return nil, err
	}
	// multi-day windows, so no single date to check samples against
	valid, rejected := series.Normalizer{Range: sig.Range}.NormalizeAll(raws)
	s.recordRejected(ctx, entity, sig.Name, rejected)
	return series.DailyTotals(valid, w), nil
}

// monthTotals returns per-day totals of every counter over a month window.
func (s *Server) monthTotals(ctx context.Context, deviceID string, w series.Window) (map[string][]series.PeriodTotal, error) {
	out := make(map[string][]series.PeriodTotal, len(counterSignals))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.fetchParallelism)
	for _, name := range counterSignals {
		sig, err := s.signals.Get(name)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			days, err := s.periodTotals(ctx, deviceID, sig, w)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			mu.Lock()
			out[name] = days
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
