package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/lightearth/lightearth-proxy/pkg/types"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrDeviceRegistered is returned when creating a registration for a
	// device that already has a pending or approved one.
	ErrDeviceRegistered = errors.New("device already registered")
	// ErrStatusConflict is returned when a registration is no longer in the
	// status a transition expected.
	ErrStatusConflict = errors.New("registration status changed")
)

// Database defines the interface for persisting device registrations.
type Database interface {
	// CreateRegistration stores a new registration unless the device already
	// has an active one, in which case ErrDeviceRegistered is returned. The
	// check and insert are atomic.
	CreateRegistration(ctx context.Context, reg types.Registration) error
	GetRegistration(ctx context.Context, id string) (types.Registration, error)
	// FindRegistrationsByDevice returns every registration for a device,
	// oldest first.
	FindRegistrationsByDevice(ctx context.Context, deviceID string) ([]types.Registration, error)
	// ListRegistrations returns registrations with the given status, or all of
	// them when status is empty, newest first.
	ListRegistrations(ctx context.Context, status types.RegistrationStatus) ([]types.Registration, error)
	UpdateRegistration(ctx context.Context, reg types.Registration) error
	// TransitionRegistration applies update to the registration only while its
	// status is still from. The read and the write are atomic. On
	// ErrStatusConflict the current registration is returned unchanged.
	TransitionRegistration(ctx context.Context, id string, from types.RegistrationStatus, update func(*types.Registration)) (types.Registration, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
