package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lightearth/lightearth-proxy/pkg/common"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

const (
	maxRegistrationBody = 4096
	maxNameLength       = 100
	maxContactLength    = 200
)

type registerRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Contact  string `json:"contact"`
}

// handleRegister queues a device for admin review.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBody)
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode registration", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	serial, err := normalizeSerial(req.DeviceID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	contact := strings.TrimSpace(req.Contact)
	if utf8.RuneCountInString(name) > maxNameLength {
		writeJSONError(w, "name is too long", http.StatusBadRequest)
		return
	}
	if contact == "" || utf8.RuneCountInString(contact) > maxContactLength {
		writeJSONError(w, "contact is required and must be at most 200 characters", http.StatusBadRequest)
		return
	}

	now := s.now().UTC()
	reg := types.Registration{
		ID:        uuid.NewString(),
		DeviceID:  serial,
		Name:      name,
		Contact:   contact,
		Status:    types.RegistrationPending,
		CreatedAt: now,
		UpdatedAt: now,
		ClientIP:  common.ClientIP(r, s.proxyTrust),
	}
	if err := s.storage.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, storage.ErrDeviceRegistered) {
			writeJSONError(w, "device is already registered", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to create registration", slog.String("deviceID", serial), slog.Any("error", err))
		writeJSONError(w, "failed to create registration", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "registration submitted", slog.String("id", reg.ID), slog.String("deviceID", serial), slog.String("ip", reg.ClientIP))
	writeJSON(w, reg.Public(), http.StatusAccepted)
}

// handleRegistrationStatus lets a submitter poll their registration.
func (s *Server) handleRegistrationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := uuid.Validate(id); err != nil {
		writeJSONError(w, "invalid registration id", http.StatusBadRequest)
		return
	}

	reg, err := s.storage.GetRegistration(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRegistrationNotFound) {
			writeJSONError(w, "registration not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get registration", slog.String("id", id), slog.Any("error", err))
		writeJSONError(w, "failed to get registration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, reg.Public(), http.StatusOK)
}
