package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/lightearth/lightearth-proxy/pkg/cache"
	"github.com/lightearth/lightearth-proxy/pkg/homeassistant"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/server"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
	"github.com/lightearth/lightearth-proxy/pkg/tariff"
)

func main() {
	// init packages
	ha := homeassistant.Configured()
	s := storage.Configured()
	tr := tariff.Configured()
	responses := cache.Configured()

	// init server
	srv := server.Configured(ha, s, tr, responses)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	log.Ctx(ctx).InfoContext(
		ctx,
		"starting proxy",
		slog.String("tariff", tr.Name),
		slog.String("currency", tr.Currency),
	)

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
