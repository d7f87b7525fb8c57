package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lightearth/lightearth-proxy/pkg/common"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

// handleHistorySignal serves a single resampled signal for one day.
func (s *Server) handleHistorySignal(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		sig, err := s.signals.Get(name)
		if err != nil {
			// we want to have a stack trace when this happens
			panic(err)
		}

		key := "history/" + name + "/" + device + "/" + win.Date
		s.serveCached(w, r, key, live(win), func(ctx context.Context) (any, bool) {
			ctx = log.WithAttrs(ctx, slog.String("deviceID", device), slog.String("date", win.Date))
			res, err := s.daySeries(ctx, device, sig, win)
			resp := types.SeriesResponse{
				Envelope: types.Envelope{
					Success:  err == nil,
					DeviceID: device,
					Version:  common.Version(),
				},
				Date:   win.Date,
				Series: res,
			}
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to fetch history", slog.String("signal", name), slog.Any("error", err))
				resp.Error = "upstream unavailable: " + err.Error()
			}
			return resp, resp.Success
		})
	}
}

// handleHistoryPower serves the four power flows on the 5 minute grid.
func (s *Server) handleHistoryPower(w http.ResponseWriter, r *http.Request) {
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

	key := "history/power/" + device + "/" + win.Date
	s.serveCached(w, r, key, live(win), func(ctx context.Context) (any, bool) {
		ctx = log.WithAttrs(ctx, slog.String("deviceID", device), slog.String("date", win.Date))
		set, err := s.daySeriesSet(ctx, device, powerSignals, win)
		resp := types.MultiSeriesResponse{
			Envelope: types.Envelope{
				Success:  err == nil,
				DeviceID: device,
				Version:  common.Version(),
			},
			Date:   win.Date,
			Series: set,
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch power history", slog.Any("error", err))
			resp.Error = "upstream unavailable: " + err.Error()
		}
		return resp, resp.Success
	})
}
