package homeassistant

import (
	"context"

	"github.com/lightearth/lightearth-proxy/pkg/series"
)

// Provider is the subset of the Home Assistant API the proxy relies on.
type Provider interface {
	// EntityID returns the sensor entity for a device's signal.
	EntityID(deviceID, signal string) string

	// History returns the raw state changes of an entity within w.
	History(ctx context.Context, entityID string, w series.Window, opts ...HistoryOption) ([]series.RawSample, error)

	// State returns the current state of an entity including attributes.
	State(ctx context.Context, entityID string) (State, error)

	// AddDevice runs the integration's config flow for a device and returns
	// the created config entry id.
	AddDevice(ctx context.Context, deviceID string) (string, error)

	// DeleteEntry removes a config entry.
	DeleteEntry(ctx context.Context, entryID string) error
}
