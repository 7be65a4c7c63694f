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

	"github.com/joho/godotenv"

	"github.com/atcovolan/gastos-telegram-bot/internal/asr"
	"github.com/atcovolan/gastos-telegram-bot/internal/audio"
	"github.com/atcovolan/gastos-telegram-bot/internal/config"
	"github.com/atcovolan/gastos-telegram-bot/internal/expense"
	"github.com/atcovolan/gastos-telegram-bot/internal/job"
	"github.com/atcovolan/gastos-telegram-bot/internal/metrics"
	"github.com/atcovolan/gastos-telegram-bot/internal/scheduler"
	"github.com/atcovolan/gastos-telegram-bot/internal/server"
	"github.com/atcovolan/gastos-telegram-bot/internal/telegram"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "gastos-telegram-bot"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Pick up a local .env with the bot token, if present
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.String("webhook_mode", cfg.Server.WebhookMode),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.Int("workers", cfg.Queue.Workers),
		slog.String("asr_engine", cfg.ASR.Engine),
		slog.String("language", cfg.ASR.Language),
		slog.Bool("expense_enabled", cfg.Expense.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Telegram client handles both audio fetching and reply delivery
	botClient, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		APIEndpoint:    cfg.Telegram.APIEndpoint,
		FileEndpoint:   cfg.Telegram.FileEndpoint,
		RequestTimeout: cfg.Telegram.GetRequestTimeout(),
		FetchRetries:   cfg.Telegram.FetchRetries,
		DeliverRetries: cfg.Telegram.DeliverRetries,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create bot client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	normalizer := audio.NewNormalizer(audio.NormalizerConfig{
		FFmpegPath:  cfg.Audio.FFmpegPath,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		MaxDuration: cfg.Audio.GetMaxDuration(),
	}, logger)

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription engine initialized", slog.String("engine", cfg.ASR.Engine))

	var recorder expense.Recorder
	if cfg.Expense.Enabled {
		recorder = expense.NewCSVLedger(cfg.Expense.LedgerPath)
		logger.Info("Expense ledger initialized", slog.String("path", cfg.Expense.LedgerPath))
	}

	registry := job.NewRegistry(logger, cfg.Queue.GetJobRetention())

	sched := scheduler.New(&cfg.Queue, cfg.ASR.Language, scheduler.Dependencies{
		Registry:   registry,
		Fetcher:    botClient,
		Normalizer: normalizer,
		Engine:     engine,
		Dispatcher: botClient,
		Recorder:   recorder,
	}, logger, appMetrics)

	httpServer := server.NewHTTPServer(cfg, logger, registry, sched, botClient, recorder, appMetrics)

	// Start the worker pool, then the HTTP server
	sched.Start()
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new updates)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the worker pool (waits for in-flight jobs)
	sched.Stop()

	// Stop the registry last, monitoring reads it until the end
	registry.Stop()

	stats := sched.GetStatistics()
	logger.Info("Final scheduler statistics",
		slog.Uint64("jobs_processed", stats.JobsProcessed),
		slog.Uint64("jobs_failed", stats.JobsFailed),
		slog.Uint64("jobs_rejected", stats.JobsRejected),
	)

	logger.Info("Service stopped")
}

// buildEngine selects the configured transcription backend.
func buildEngine(cfg *config.Config, logger *slog.Logger) (asr.Engine, error) {
	switch cfg.ASR.Engine {
	case config.ASREngineLocal:
		return asr.NewLocalEngine(asr.LocalConfig{
			BinaryPath: cfg.ASR.Local.BinaryPath,
			ModelPath:  cfg.ASR.Local.ModelPath,
			SampleRate: cfg.Audio.SampleRate,
		}, logger), nil
	case config.ASREngineRemote:
		return asr.NewRemoteEngine(asr.RemoteConfig{
			Endpoint:      cfg.ASR.Remote.Endpoint,
			APIKey:        cfg.ASR.Remote.APIKey,
			Timeout:       cfg.ASR.Remote.GetTimeout(),
			MaxRetries:    cfg.ASR.Remote.MaxRetries,
			MaxConcurrent: cfg.ASR.Remote.MaxConcurrent,
			SampleRate:    cfg.Audio.SampleRate,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.ASR.Engine)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
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
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
