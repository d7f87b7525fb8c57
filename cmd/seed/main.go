package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/types"
)

// seed fills the local Firestore emulator with device registrations in every
// review state so the admin endpoints have something to show.
func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	var count int
	lflag.JSON(&count, "seed-count", 12, "Number of registrations to create")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding registrations", slog.Int("count", count))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	statuses := []types.RegistrationStatus{
		types.RegistrationPending,
		types.RegistrationPending,
		types.RegistrationApproved,
		types.RegistrationRejected,
		types.RegistrationRemoved,
	}
	now := time.Now().UTC()

	var created int
	for i := 0; i < count; i++ {
		status := statuses[rng.Intn(len(statuses))]
		createdAt := now.Add(-time.Duration(rng.Intn(30*24)) * time.Hour)
		reg := types.Registration{
			ID:        uuid.NewString(),
			DeviceID:  fmt.Sprintf("P%c%09d", 'A'+rune(rng.Intn(26)), rng.Intn(1_000_000_000)),
			Name:      fmt.Sprintf("Test inverter %d", i+1),
			Contact:   fmt.Sprintf("owner%d@example.com", i+1),
			Status:    status,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		if status != types.RegistrationPending {
			reg.UpdatedAt = createdAt.Add(time.Duration(rng.Intn(48)) * time.Hour)
			reg.ReviewedBy = "seed@example.com"
		}
		switch status {
		case types.RegistrationApproved:
			reg.EntryID = uuid.NewString()
		case types.RegistrationRejected:
			reg.Reason = "could not verify ownership"
		}

		if err := s.CreateRegistration(ctx, reg); err != nil {
			if errors.Is(err, storage.ErrDeviceRegistered) {
				continue
			}
			log.Ctx(ctx).ErrorContext(ctx, "failed to create registration", slog.String("deviceID", reg.DeviceID), slog.Any("error", err))
			os.Exit(1)
		}
		created++
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding complete", slog.Int("created", created))
}
