/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/RouHim/funkstrom/internal/config"
	"github.com/RouHim/funkstrom/internal/events"
	"github.com/RouHim/funkstrom/internal/library"
	"github.com/RouHim/funkstrom/internal/liveset"
	"github.com/RouHim/funkstrom/internal/logging"
	"github.com/RouHim/funkstrom/internal/metadata"
	"github.com/RouHim/funkstrom/internal/playout"
	"github.com/RouHim/funkstrom/internal/ring"
	"github.com/RouHim/funkstrom/internal/schedule"
	"github.com/RouHim/funkstrom/internal/server"
	"github.com/RouHim/funkstrom/internal/telemetry"
	"github.com/RouHim/funkstrom/internal/transcode"
)

const (
	dataDir      = "./data"
	databasePath = "./data/database.db"

	// ringChunkCap and ringSeconds bound each stream's broadcast buffer:
	// up to ringSeconds of encoded audio at the stream bitrate.
	ringChunkCap = 1000
	ringSeconds  = 8

	// listenerGrace is how long connected listeners get to drain on
	// shutdown before their sockets are closed.
	listenerGrace = 2 * time.Second
)

var (
	configPath string
	logger     zerolog.Logger
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "funkstrom",
	Short: "Funkstrom - Icecast-compatible internet radio server",
	Long:  "Funkstrom broadcasts a local music library (and scheduled playlist or liveset programs) as Icecast-compatible HTTP audio streams.",
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broadcast server",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the music library and exit",
	RunE:  runScan,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./data/config.toml", "path to the TOML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	logger = logging.Setup(cfg.Server.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("addr", server.ListenAddr(&cfg.Server)).
		Str("music_directory", cfg.Library.MusicDirectory).
		Str("station", cfg.Station.StationName).
		Msg("starting funkstrom server")

	if info, err := os.Stat(cfg.Library.MusicDirectory); err != nil || !info.IsDir() {
		return fmt.Errorf("music directory not readable: %s", cfg.Library.MusicDirectory)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		StationName:  cfg.Station.StationName,
		Version:      server.Version,
		OTLPEndpoint: cfg.Server.OTLPEndpoint,
		Enabled:      cfg.Server.TracingEnabled,
		SampleRate:   cfg.Server.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error().Err(err).Msg("trace flush on shutdown failed")
		}
	}()

	bus := events.NewBus()
	metrics := telemetry.NewMetrics()

	store, err := library.Open(databasePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("closing library database failed")
		}
	}()

	scanner := library.NewScanner(cfg.Library.MusicDirectory, store, bus, logger)
	if err := scanner.EnsureIndexed(); err != nil {
		return fmt.Errorf("index music library: %w", err)
	}

	provider, err := library.NewProvider(store, cfg.Library.Shuffle, cfg.Library.Repeat, logger)
	if err != nil {
		return err
	}

	controller := playout.NewController(provider, liveset.NewClient(logger), store, cfg.Library.Shuffle, bus, logger)

	// Background tasks share one cancellation root; HTTP shuts down first
	// and separately so listeners get a grace window.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = controller.Run(ctx) }()

	if engine := buildScheduleEngine(controller); engine != nil {
		go func() { _ = engine.Run(ctx) }()
	}

	endpoints, err := startDrivers(ctx, controller, bus, metrics)
	if err != nil {
		return err
	}

	go scanner.RunNightly(ctx)
	go func() {
		if err := scanner.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("music directory watcher stopped")
		}
	}()

	srv := server.New(cfg.Station, endpoints, metaBus, bus, metrics, logger)

	addr := server.ListenAddr(&cfg.Server)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	httpServer := &http.Server{Handler: srv.Router()}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	logStartupURLs()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-quit:
	}

	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), listenerGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("closing remaining listener connections")
		_ = httpServer.Close()
	}

	// Drivers kill their transcoder subprocesses on cancellation.
	cancel()

	logger.Info().Msg("funkstrom stopped")
	return nil
}

// metaBus is shared by the primary driver (writer) and the HTTP surface
// (readers).
var metaBus = metadata.NewBus()

// buildScheduleEngine validates configured programs; with none active and
// valid, no engine exists and no scheduling wakeups ever happen.
func buildScheduleEngine(controller *playout.Controller) *schedule.Engine {
	if cfg.Schedule == nil || len(cfg.Schedule.Programs) == 0 {
		logger.Info().Msg("no programs configured, running in library-only mode")
		return nil
	}

	validated := schedule.ValidatePrograms(cfg.Schedule.Programs, logger)
	if len(validated) == 0 {
		logger.Info().Msg("no active valid programs found, running in library-only mode")
		return nil
	}

	logger.Info().Int("programs", len(validated)).Msg("schedule engine initialized")
	return schedule.NewEngine(validated, controller.Commands(), cfg.Library.Repeat, logger)
}

// startDrivers creates one transcoder driver per enabled stream. The
// first enabled stream (sorted by name) is the primary and publishes
// track metadata. The FFmpeg binary is verified before any driver runs.
func startDrivers(ctx context.Context, controller *playout.Controller, bus *events.Bus, metrics *telemetry.Metrics) ([]*server.StreamEndpoint, error) {
	names := cfg.EnabledStreamNames()
	endpoints := make([]*server.StreamEndpoint, 0, len(names))

	for i, name := range names {
		streamCfg := cfg.Streams[name]

		logger.Info().
			Str("stream", name).
			Str("format", streamCfg.Format).
			Int("bitrate", streamCfg.Bitrate).
			Int("sample_rate", streamCfg.SampleRate).
			Msg("setting up stream")

		encoder := transcode.NewEncoder(cfg.Server.FFmpegPath, streamCfg, logger)
		if i == 0 {
			if err := encoder.CheckAvailable(); err != nil {
				return nil, err
			}
		}

		buffer := ring.New(ringChunkCap, streamCfg.Bitrate*1000/8*ringSeconds)

		var meta *metadata.Bus
		if i == 0 {
			meta = metaBus
		}

		driver := transcode.NewDriver(name, encoder, controller.Subscribe(), buffer, meta, bus, metrics, logger)
		go func() { _ = driver.Run(ctx) }()

		endpoints = append(endpoints, &server.StreamEndpoint{
			Name:   name,
			Stream: streamCfg,
			Buffer: buffer,
		})
	}

	return endpoints, nil
}

func logStartupURLs() {
	logger.Info().Msg("funkstrom server started successfully")
	for _, name := range cfg.EnabledStreamNames() {
		logger.Info().Msgf("  stream %q: http://%s:%d/%s (%dkbps)",
			name, cfg.Server.BindAddress, cfg.Server.Port, name, cfg.Streams[name].Bitrate)
	}
	logger.Info().Msgf("status: http://%s:%d/status", cfg.Server.BindAddress, cfg.Server.Port)
	logger.Info().Msgf("info:   http://%s:%d/", cfg.Server.BindAddress, cfg.Server.Port)
	logger.Info().Msgf("docs:   http://%s:%d/swagger", cfg.Server.BindAddress, cfg.Server.Port)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := loadConfig(); err != nil {
		return err
	}

	store, err := library.Open(databasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	scanner := library.NewScanner(cfg.Library.MusicDirectory, store, nil, logger)
	if err := scanner.EnsureIndexed(); err != nil {
		return err
	}

	count, err := store.TrackCount()
	if err != nil {
		return err
	}
	logger.Info().Int64("tracks", count).Msg("library scan complete")
	return nil
}
