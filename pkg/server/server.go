package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightearth/lightearth-proxy/pkg/cache"
	"github.com/lightearth/lightearth-proxy/pkg/common"
	"github.com/lightearth/lightearth-proxy/pkg/homeassistant"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/metrics"
	"github.com/lightearth/lightearth-proxy/pkg/ratelimit"
	"github.com/lightearth/lightearth-proxy/pkg/series"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/tariff"
)

type contextKey string

const adminEmailContextKey contextKey = "adminEmail"

// tokenVerifier is a function that validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server serves the dashboard API on top of Home Assistant and the
// device registration workflow.
type Server struct {
	ha        homeassistant.Provider
	storage   storage.Database
	tariff    *tariff.Tariff
	signals   series.Signals
	responses *cache.Cache
	registry  *prometheus.Registry

	apiLimiter      *ratelimit.Store
	registerLimiter *ratelimit.Store

	listenAddr string
	httpServer *http.Server
	serverName string

	adminEmails   []string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	corsOrigins   []string
	proxyTrust    common.ProxyTrust

	preferAttributes bool
	todayTTL         time.Duration
	pastTTL          time.Duration
	fetchParallelism int

	now func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(ha homeassistant.Provider, db storage.Database, tr *tariff.Tariff, responses *cache.Cache) *Server {
	srv := &Server{
		ha:         ha,
		storage:    db,
		tariff:     tr,
		signals:    series.DefaultSignals(),
		responses:  responses,
		registry:   metrics.NewRegistry(),
		serverName: "lightearth",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	srv.apiLimiter = ratelimit.Configured("api", ratelimit.Config{Interval: 500 * time.Millisecond, Burst: 60})
	srv.registerLimiter = ratelimit.Configured("register", ratelimit.Config{Interval: 10 * time.Minute, Burst: 3})

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to review registrations")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	bypassAuth := lflag.Bool("insecure-bypass-admin-auth", false, "Allow admin endpoints without a token (only when no oidc-audiences are set)")
	corsOrigins := lflag.String("cors-origins", "*", "comma-delimited list of origins allowed to call the API")
	preferAttributes := lflag.Bool("prefer-attributes", true, "Read today's power timelines from the series_5min_w sensor attribute when available")
	todayTTL := lflag.Duration("cache-ttl-today", time.Minute, "How long responses for the current day are cached")
	pastTTL := lflag.Duration("cache-ttl-past", time.Hour, "How long responses for past days are cached")
	proxyHeader := lflag.String("trusted-proxy-header", "", "Header a trusted edge sets to the client address (e.g. CF-Connecting-IP); only set this when every request passes through that edge")
	proxyHops := 0
	lflag.JSON(&proxyHops, "trusted-proxy-hops", proxyHops, "Number of trusted proxies appending to X-Forwarded-For in front of the server")
	fetchParallelism := 4
	lflag.JSON(&fetchParallelism, "ha-parallelism", fetchParallelism, "Maximum concurrent Home Assistant requests per API request")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.adminEmails = splitList(*adminEmails)
		srv.corsOrigins = splitList(*corsOrigins)
		srv.preferAttributes = *preferAttributes
		srv.todayTTL = *todayTTL
		srv.pastTTL = *pastTTL
		srv.fetchParallelism = fetchParallelism
		srv.proxyTrust = common.ProxyTrust{Header: *proxyHeader, Hops: proxyHops}
		if srv.proxyTrust.Hops < 0 {
			panic(fmt.Sprintf("invalid trusted-proxy-hops: %d", proxyHops))
		}
		if srv.fetchParallelism < 1 {
			srv.fetchParallelism = 1
		}

		if len(oidcAudiences) > 0 {
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				var issuer string
				switch n {
				case "google":
					issuer = "https://accounts.google.com"
				case "apple":
					issuer = "https://appleid.apple.com"
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
			}
		}
		if *bypassAuth {
			if len(srv.oidcVerifiers) > 0 {
				log.Ctx(context.Background()).Error("insecure-bypass-admin-auth cannot be combined with oidc-audiences")
				os.Exit(1)
			}
			srv.bypassAuth = true
		}
	})

	return srv
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/realtime/{deviceId}", s.handleRealtime)
	apiMux.HandleFunc("GET /api/history/power/{deviceId}", s.handleHistoryPower)
	apiMux.HandleFunc("GET /api/history/soc/{deviceId}", s.handleHistorySignal(series.SignalBatterySOC))
	apiMux.HandleFunc("GET /api/history/temperature/{deviceId}", s.handleHistorySignal(series.SignalTemperature))
	apiMux.HandleFunc("GET /api/energy/day/{deviceId}", s.handleEnergyDay)
	apiMux.HandleFunc("GET /api/energy/month/{deviceId}", s.handleEnergyMonth)
	apiMux.HandleFunc("GET /api/energy/year/{deviceId}", s.handleEnergyYear)
	apiMux.HandleFunc("GET /api/dashboard/{deviceId}", s.handleDashboard)
	apiMux.HandleFunc("GET /api/devices/register/{id}", s.handleRegistrationStatus)
	apiMux.Handle("POST /api/devices/register", s.rateLimitMiddleware("register", s.registerLimiter, http.HandlerFunc(s.handleRegister)))

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /api/admin/registrations", s.handleListRegistrations)
	adminMux.HandleFunc("POST /api/admin/registrations/{id}/approve", s.handleApproveRegistration)
	adminMux.HandleFunc("POST /api/admin/registrations/{id}/reject", s.handleRejectRegistration)
	adminMux.HandleFunc("DELETE /api/admin/registrations/{id}", s.handleDeleteRegistration)

	mux := http.NewServeMux()
	mux.Handle("/api/admin/", s.adminMiddleware(adminMux))
	mux.Handle("/api/", s.rateLimitMiddleware("api", s.apiLimiter, apiMux))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler(s.registry))

	return s.revisionMiddleware(
		s.corsMiddleware(
			gziphandler.GzipHandler(
				s.securityHeadersMiddleware(
					s.requestLogMiddleware(mux),
				),
			),
		),
	)
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
