// Command relay serves the expert chat API: it forwards each chat request to
// the persona's generation backend and streams the reply back as frames.
//
// Usage:
//
//	relay [-config expertchat.toml]
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nstogner/expertchat/pkg/config"
	"github.com/nstogner/expertchat/pkg/model/gemini"
	"github.com/nstogner/expertchat/pkg/persona"
	"github.com/nstogner/expertchat/pkg/relay"
	"github.com/nstogner/expertchat/pkg/server"
	"github.com/nstogner/expertchat/pkg/store/sqlite"
	"github.com/nstogner/expertchat/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Relay failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Config.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Setup logger.
	logCloser, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "expertchat-relay", cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	// Initialize personas and their backends.
	registry := persona.NewRegistry(cfg.PersonaCatalog()...)
	backends := persona.Backends{LocalURL: cfg.UpstreamURL}
	if cfg.GeminiAPIKey != "" {
		backends.Gemini, err = gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return err
		}
	}
	if err := registry.BindAll(backends); err != nil {
		return err
	}

	// Initialize store.
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []server.Option{server.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)}
	if cfg.StaticDir != "" {
		opts = append(opts, server.WithStatic(os.DirFS(cfg.StaticDir)))
	}
	srv := server.New(registry, store, relay.New(), opts...)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(cfg.Listen)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down relay server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
