package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/config"
	"github.com/agnij-dutta/attack-capital/internal/fanout"
	"github.com/agnij-dutta/attack-capital/internal/fragstore"
	"github.com/agnij-dutta/attack-capital/internal/metrics"
	"github.com/agnij-dutta/attack-capital/internal/server"
	"github.com/agnij-dutta/attack-capital/internal/session"
	"github.com/agnij-dutta/attack-capital/internal/stitch"
	"github.com/agnij-dutta/attack-capital/internal/store"
	"github.com/agnij-dutta/attack-capital/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "scribe-server"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("ws_port", cfg.Server.WSPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Float64("chunk_period", cfg.Audio.ChunkPeriod),
		slog.Int64("max_session_bytes", cfg.Audio.MaxSessionBytes),
		slog.String("fragment_root", cfg.Storage.FragmentRoot),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("Failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Database initialized", slog.String("driver", cfg.Database.Driver))

	frags, err := fragstore.New(cfg.Storage.FragmentRoot, cfg.Storage.GetRetention(),
		cfg.Storage.GetSweepInterval(), logger)
	if err != nil {
		logger.Error("Failed to initialize fragment store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stitcher := stitch.New(stitch.Config{
		FFmpegPath:       cfg.Stitcher.FFmpegPath,
		FFprobePath:      cfg.Stitcher.FFprobePath,
		ToolTimeout:      cfg.Stitcher.GetToolTimeout(),
		GraphToolTimeout: cfg.Stitcher.GetGraphToolTimeout(),
		StdoutMaxBytes:   cfg.Stitcher.StdoutMaxBytes,
		DebugSave:        cfg.Stitcher.DebugSaveStitched,
	}, logger)

	transcriber, err := transcription.NewHTTPTranscriber(transcription.ClientConfig{
		Endpoint: cfg.Transcription.Endpoint,
		APIKey:   cfg.Transcription.APIKey,
		Model:    cfg.Transcription.Model,
		Timeout:  cfg.Transcription.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create transcriber client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	summarizer, err := transcription.NewHTTPSummarizer(transcription.ClientConfig{
		Endpoint: cfg.Summary.Endpoint,
		APIKey:   cfg.Summary.APIKey,
		Model:    cfg.Summary.Model,
		Timeout:  cfg.Summary.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create summarizer client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	gateway := transcription.NewGateway(transcriber, transcription.GatewayConfig{
		MaxAttempts:   cfg.Transcription.MaxAttempts,
		RetryBase:     cfg.Transcription.GetRetryBase(),
		ContextChunks: cfg.Transcription.ContextChunks,
		ContextChars:  cfg.Transcription.ContextChars,
		OnRetry:       appMetrics.RecordTranscriptionRetry,
	}, logger)

	hub := fanout.NewHub(logger)

	registry := session.NewRegistry(session.Config{
		ChunkPeriod:      cfg.Audio.GetChunkPeriod(),
		MinFragmentBytes: cfg.Audio.MinFragmentBytes,
		MinStitchBytes:   cfg.Audio.MinStitchBytes,
		MaxSessionBytes:  cfg.Audio.MaxSessionBytes,
		SilenceEnergy:    cfg.Audio.SilenceEnergy,
		SilenceMaxBytes:  cfg.Audio.SilenceMaxBytes,
		DebugSave:        cfg.Stitcher.DebugSaveStitched,
	}, frags, db, stitcher, gateway, summarizer, hub, appMetrics, logger)

	// Re-attach sessions interrupted by the previous shutdown before
	// accepting new connections.
	if err := registry.Recover(); err != nil {
		logger.Error("Crash recovery failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	wsServer := server.NewWSServer(server.WSServerConfig{
		Port:         cfg.Server.WSPort,
		Address:      cfg.Server.BindAddress,
		PingInterval: cfg.Server.GetPingInterval(),
	}, registry, hub, appMetrics, logger)
	wsServer.Start()

	var httpServer *server.HTTPServer
	if cfg.Server.HTTPEnabled {
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:    cfg.Server.HTTPPort,
			Address: cfg.Server.BindAddress,
		}, logger, cfg, registry, wsServer, appMetrics)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.WSPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping websocket server", slog.String("error", err.Error()))
	}

	// Disarm every scheduler; buffered fragments stay on disk and are
	// replayed by recovery on the next start.
	registry.Shutdown()
	frags.Close()

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
