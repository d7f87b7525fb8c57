package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"

	"github.com/lightearth/lightearth-proxy/pkg/cache"
	"github.com/lightearth/lightearth-proxy/pkg/homeassistant"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/series"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/tariff"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockHA struct {
	mock.Mock
	// entities queried with history options
	skipped sync.Map
}

var _ homeassistant.Provider = (*mockHA)(nil)

func (m *mockHA) EntityID(deviceID, signal string) string {
	return "sensor.device_" + strings.ToLower(deviceID) + "_" + signal
}

// History notes in skipped which entities were queried with options.
func (m *mockHA) History(ctx context.Context, entityID string, w series.Window, opts ...homeassistant.HistoryOption) ([]series.RawSample, error) {
	if len(opts) > 0 {
		m.skipped.Store(entityID, true)
	}
	args := m.Called(ctx, entityID, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]series.RawSample), args.Error(1)
}

func (m *mockHA) State(ctx context.Context, entityID string) (homeassistant.State, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(homeassistant.State), args.Error(1)
}

func (m *mockHA) AddDevice(ctx context.Context, deviceID string) (string, error) {
	args := m.Called(ctx, deviceID)
	return args.String(0), args.Error(1)
}

func (m *mockHA) DeleteEntry(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

// testNow is 09:00 on 2025-03-10 in UTC+7.
var testNow = time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

func newTestServer(ha homeassistant.Provider, db storage.Database) *Server {
	tr := tariff.Default()
	return &Server{
		ha:               ha,
		storage:          db,
		tariff:           &tr,
		signals:          series.DefaultSignals(),
		responses:        cache.New(100, time.Hour),
		registry:         prometheus.NewRegistry(),
		preferAttributes: true,
		todayTTL:         time.Minute,
		pastTTL:          time.Hour,
		fetchParallelism: 4,
		serverName:       "lightearth-test",
		now:              func() time.Time { return testNow },
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

// at builds a raw history sample at a UTC+7 wall-clock time.
func at(local string, state string) series.RawSample {
	t, err := time.ParseInLocation("2006-01-02 15:04", local, series.Location)
	if err != nil {
		panic(err)
	}
	return series.RawSample{Timestamp: t.UTC().Format(time.RFC3339), State: state}
}
