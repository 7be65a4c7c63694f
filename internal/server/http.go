package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atcovolan/gastos-telegram-bot/internal/config"
	"github.com/atcovolan/gastos-telegram-bot/internal/expense"
	"github.com/atcovolan/gastos-telegram-bot/internal/job"
	"github.com/atcovolan/gastos-telegram-bot/internal/metrics"
	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
	"github.com/atcovolan/gastos-telegram-bot/internal/scheduler"
)

const serviceVersion = "1.0.0"

// Submitter feeds accepted jobs into the processing queue.
type Submitter interface {
	Submit(j *job.Job) error
	GetStatistics() scheduler.Statistics
}

// Dispatcher posts synchronous replies for the text message path.
type Dispatcher interface {
	Deliver(ctx context.Context, env pipeline.ReplyEnvelope) error
}

// HTTPServer exposes the webhook endpoint plus monitoring and
// management endpoints.
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	registry   *job.Registry
	submitter  Submitter
	dispatcher Dispatcher
	recorder   expense.Recorder
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP server with all routes configured.
// The recorder may be nil when expense tracking is disabled.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, registry *job.Registry,
	submitter Submitter, dispatcher Dispatcher, recorder expense.Recorder, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		registry:   registry,
		submitter:  submitter,
		dispatcher: dispatcher,
		recorder:   recorder,
		metrics:    m,
		startTime:  time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      h.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// routes configures the HTTP API routes.
func (h *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()

	// Webhook ingestion endpoint
	r.Post(h.config.Server.WebhookPath, h.withMetrics(h.config.Server.WebhookPath, h.handleWebhook))

	// Monitoring endpoints
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/jobs/{id}", h.withMetrics("/jobs/{id}", h.handleJobDetail))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	r.Get("/", h.withMetrics("/", h.handleRoot))

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Response writer wrapper to capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
		slog.String("webhook_path", h.config.Server.WebhookPath),
		slog.String("webhook_mode", h.config.Server.WebhookMode),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// Handler returns the configured router, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.submitter.GetStatistics()
	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "gastos-telegram-bot",
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"scheduler": map[string]interface{}{
				"status":         "running",
				"queue_size":     stats.QueueSize,
				"queue_capacity": stats.QueueCapacity,
				"workers":        stats.Workers,
			},
			"registry": map[string]interface{}{
				"status":       "running",
				"jobs_tracked": h.registry.Count(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.submitter.GetStatistics()
	uptime := time.Since(h.startTime)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"queue":     stats,
		"jobs": map[string]interface{}{
			"tracked": h.registry.Count(),
		},
	})
}

// handleJobDetail implements the /jobs/{job_id} endpoint
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	snap, err := h.registry.Get(id)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Sanitized configuration: the bot token and ASR key never leave
	// the process.
	sanitized := map[string]interface{}{
		"server": map[string]interface{}{
			"port":         h.config.Server.Port,
			"address":      h.config.Server.Address,
			"webhook_path": h.config.Server.WebhookPath,
			"webhook_mode": h.config.Server.WebhookMode,
		},
		"queue": map[string]interface{}{
			"capacity":           h.config.Queue.Capacity,
			"workers":            h.config.Queue.Workers,
			"fetch_timeout":      h.config.Queue.FetchTimeout,
			"decode_timeout":     h.config.Queue.DecodeTimeout,
			"transcribe_timeout": h.config.Queue.TranscribeTimeout,
			"deliver_timeout":    h.config.Queue.DeliverTimeout,
		},
		"audio": map[string]interface{}{
			"ffmpeg_path":  h.config.Audio.FFmpegPath,
			"sample_rate":  h.config.Audio.SampleRate,
			"channels":     h.config.Audio.Channels,
			"bit_depth":    h.config.Audio.BitDepth,
			"max_duration": h.config.Audio.MaxDurationSec,
		},
		"asr": map[string]interface{}{
			"engine":   h.config.ASR.Engine,
			"language": h.config.ASR.Language,
		},
		"expense": map[string]interface{}{
			"enabled":     h.config.Expense.Enabled,
			"ledger_path": h.config.Expense.LedgerPath,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Gastos Telegram Bot",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"POST " + h.config.Server.WebhookPath: "Telegram webhook ingestion",
			"GET /health":                         "Service health check",
			"GET /stats":                          "Queue and job statistics",
			"GET /jobs/{job_id}":                  "Get job state",
			"GET /config":                         "Get service configuration",
			"GET /metrics":                        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
