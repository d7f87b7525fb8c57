package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lightearth/lightearth-proxy/pkg/homeassistant"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := types.ParseRegistrationStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	regs, err := s.storage.ListRegistrations(ctx, status)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list registrations", slog.Any("error", err))
		writeJSONError(w, "failed to list registrations", http.StatusInternalServerError)
		return
	}

	// Always return an array, even if empty
	if regs == nil {
		regs = []types.Registration{}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, regs, http.StatusOK)
}

// loadRegistration fetches the registration named in the path, writing the
// error response itself when it cannot.
func (s *Server) loadRegistration(w http.ResponseWriter, r *http.Request) (types.Registration, bool) {
	ctx := r.Context()
	id := r.PathValue("id")
	reg, err := s.storage.GetRegistration(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRegistrationNotFound) {
			writeJSONError(w, "registration not found", http.StatusNotFound)
			return types.Registration{}, false
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get registration", slog.String("id", id), slog.Any("error", err))
		writeJSONError(w, "failed to get registration", http.StatusInternalServerError)
		return types.Registration{}, false
	}
	return reg, true
}

func (s *Server) saveRegistration(w http.ResponseWriter, r *http.Request, reg types.Registration) {
	ctx := r.Context()
	reg.ReviewedBy = s.getAdminEmail(r)
	reg.UpdatedAt = s.now().UTC()
	if err := s.storage.UpdateRegistration(ctx, reg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update registration", slog.String("id", reg.ID), slog.Any("error", err))
		writeJSONError(w, "failed to update registration", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "registration updated", slog.String("id", reg.ID), slog.String("deviceID", reg.DeviceID), slog.String("status", string(reg.Status)))
	writeJSON(w, reg, http.StatusOK)
}

// transitionRegistration moves the registration named in the path out of
// status from, writing the error response itself when it cannot.
func (s *Server) transitionRegistration(w http.ResponseWriter, r *http.Request, from types.RegistrationStatus, update func(*types.Registration)) (types.Registration, bool) {
	ctx := r.Context()
	id := r.PathValue("id")
	reviewer := s.getAdminEmail(r)
	now := s.now().UTC()
	reg, err := s.storage.TransitionRegistration(ctx, id, from, func(reg *types.Registration) {
		update(reg)
		reg.ReviewedBy = reviewer
		reg.UpdatedAt = now
	})
	switch {
	case err == nil:
		log.Ctx(ctx).InfoContext(ctx, "registration updated", slog.String("id", reg.ID), slog.String("deviceID", reg.DeviceID), slog.String("status", string(reg.Status)))
		return reg, true
	case errors.Is(err, storage.ErrRegistrationNotFound):
		writeJSONError(w, "registration not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrStatusConflict):
		writeJSONError(w, "registration is "+string(reg.Status), http.StatusConflict)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "failed to update registration", slog.String("id", id), slog.Any("error", err))
		writeJSONError(w, "failed to update registration", http.StatusInternalServerError)
	}
	return types.Registration{}, false
}

// handleApproveRegistration adds the device to Home Assistant and marks the
// registration approved. The registration is claimed as approving first so
// only one request adds the device. If Home Assistant refuses, it goes back
// to pending so it can be retried.
func (s *Server) handleApproveRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reg, ok := s.transitionRegistration(w, r, types.RegistrationPending, func(reg *types.Registration) {
		reg.Status = types.RegistrationApproving
	})
	if !ok {
		return
	}

	entryID, err := s.ha.AddDevice(ctx, reg.DeviceID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to add device", slog.String("id", reg.ID), slog.String("deviceID", reg.DeviceID), slog.Any("error", err))
		// release the claim even if the admin went away
		_, rerr := s.storage.TransitionRegistration(context.WithoutCancel(ctx), reg.ID, types.RegistrationApproving, func(reg *types.Registration) {
			reg.Status = types.RegistrationPending
		})
		if rerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to release registration", slog.String("id", reg.ID), slog.Any("error", rerr))
		}
		msg := "failed to add device to home assistant"
		var ferr *homeassistant.FlowError
		if errors.As(err, &ferr) && ferr.Reason != "" {
			msg += ": " + ferr.Reason
		}
		writeJSONError(w, msg, http.StatusBadGateway)
		return
	}

	reg, ok = s.transitionRegistration(w, r, types.RegistrationApproving, func(reg *types.Registration) {
		reg.Status = types.RegistrationApproved
		reg.EntryID = entryID
		reg.Reason = ""
	})
	if !ok {
		return
	}
	writeJSON(w, reg, http.StatusOK)
}

func (s *Server) handleRejectRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode rejection", slog.Any("error", err))
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	reg, ok := s.transitionRegistration(w, r, types.RegistrationPending, func(reg *types.Registration) {
		reg.Status = types.RegistrationRejected
		reg.Reason = strings.TrimSpace(req.Reason)
	})
	if !ok {
		return
	}
	writeJSON(w, reg, http.StatusOK)
}

// handleDeleteRegistration removes a device. Approved devices are removed
// from Home Assistant first.
func (s *Server) handleDeleteRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reg, ok := s.loadRegistration(w, r)
	if !ok {
		return
	}
	if reg.Status == types.RegistrationRemoved {
		writeJSON(w, reg, http.StatusOK)
		return
	}
	if reg.Status == types.RegistrationApproving {
		writeJSONError(w, "registration is "+string(reg.Status), http.StatusConflict)
		return
	}

	if reg.Status == types.RegistrationApproved && reg.EntryID != "" {
		err := s.ha.DeleteEntry(ctx, reg.EntryID)
		if err != nil && !errors.Is(err, homeassistant.ErrNotFound) {
			log.Ctx(ctx).ErrorContext(ctx, "failed to delete config entry", slog.String("id", reg.ID), slog.String("entryID", reg.EntryID), slog.Any("error", err))
			writeJSONError(w, "failed to remove device from home assistant", http.StatusBadGateway)
			return
		}
	}

	reg.Status = types.RegistrationRemoved
	s.saveRegistration(w, r, reg)
}
