package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/ble-audio-recorder/internal/capture"
	"github.com/skypro1111/ble-audio-recorder/internal/catalog"
	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
)

const (
	serviceName    = "ble-audio-recorder"
	serviceVersion = "1.0.0"

	defaultListLimit = 50
	maxListLimit     = 1000
)

// HTTPServer provides HTTP API endpoints for monitoring a recording
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	recorder *capture.Recorder
	udp      *UDPServer
	catalog  *catalog.Catalog
	metrics  *metrics.Metrics

	startTime time.Time
}

// HTTPServerOptions wires the components the API reports on. UDP and
// Catalog may be nil when the recorder runs with another source or without
// an index.
type HTTPServerOptions struct {
	Config   *config.Config
	Recorder *capture.Recorder
	UDP      *UDPServer
	Catalog  *catalog.Catalog
	Metrics  *metrics.Metrics

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, opts HTTPServerOptions) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    opts.Config,
		recorder:  opts.Recorder,
		udp:       opts.UDP,
		catalog:   opts.Catalog,
		metrics:   opts.Metrics,
		startTime: time.Now(),
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)

	h.server = &http.Server{
		Addr:         cfg.GetAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding or tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("/recordings", h.withMetrics("/recordings", h.handleRecordings))
	mux.HandleFunc("/recordings/", h.withMetrics("/recordings/{session_id}", h.handleRecordingDetail))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

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

// Start listens and serves in the background. Listen errors are returned.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]interface{}{}
	if h.recorder != nil {
		st := h.recorder.Status()
		components["recorder"] = map[string]interface{}{
			"status":         st.State,
			"queue_size":     st.QueueSize,
			"queue_capacity": st.QueueCapacity,
		}
	}
	if h.udp != nil {
		udpStats := h.udp.GetStatistics()
		components["udp_source"] = map[string]interface{}{
			"status":             "running",
			"datagrams_received": udpStats.DatagramsReceived,
			"packets_delivered":  udpStats.PacketsDelivered,
			"parse_errors":       udpStats.ParseErrors,
		}
	}
	if h.catalog != nil {
		components["catalog"] = map[string]interface{}{"status": "open"}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.recorder != nil {
		stats["recorder"] = h.recorder.Status()
	}
	if h.udp != nil {
		stats["udp"] = h.udp.GetStatistics()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration not available", http.StatusNotFound)
		return
	}

	c := h.config
	stages := make([]map[string]interface{}, 0, len(c.Chain.Stages))
	for _, s := range c.Chain.Stages {
		stages = append(stages, map[string]interface{}{
			"kind":   s.Kind,
			"params": s.Params,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"source": map[string]interface{}{
			"kind":         c.Source.Kind,
			"bind_address": c.Source.BindAddress,
			"udp_port":     c.Source.UDPPort,
			"replay_file":  c.Source.ReplayFile,
			"packet_bytes": c.Source.PacketBytes,
		},
		"recording": map[string]interface{}{
			"duration":           c.Recording.Duration,
			"queue_size":         c.Recording.QueueSize,
			"live_pitch":         c.Recording.LivePitch,
			"block_size":         c.Recording.BlockSize,
			"warmup_passthrough": c.Recording.WarmupPassthrough,
		},
		"rate": map[string]interface{}{
			"policy":    c.Rate.Policy,
			"nominal":   c.Rate.Nominal,
			"tolerance": c.Rate.Tolerance,
		},
		"chain": map[string]interface{}{
			"stages":         stages,
			"external_pitch": c.Chain.ExternalPitch,
		},
		"output": map[string]interface{}{
			"directory":       c.Output.Directory,
			"raw_prefix":      c.Output.RawPrefix,
			"enhanced_prefix": c.Output.EnhancedPrefix,
			"save_raw":        c.Output.SaveRaw,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleRecordings implements the /recordings endpoint
func (h *HTTPServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.catalog == nil {
		http.Error(w, "Catalog not enabled", http.StatusNotFound)
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.catalog.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list recordings", slog.String("error", err.Error()))
		http.Error(w, "Failed to list recordings", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":      len(entries),
		"timestamp":  time.Now().UTC(),
		"recordings": entries,
	})
}

// handleRecordingDetail implements the /recordings/{session_id} endpoint
func (h *HTTPServer) handleRecordingDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.catalog == nil {
		http.Error(w, "Catalog not enabled", http.StatusNotFound)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/recordings/")
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	entry, ok, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load recording",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to load recording", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "BLE Audio Recorder",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"GET /health":                  "Service health check",
			"GET /stats":                   "Recorder and source statistics",
			"GET /config":                  "Active configuration",
			"GET /recordings":              "List cataloged recordings, newest first",
			"GET /recordings/{session_id}": "Get one cataloged recording",
			"GET /metrics":                 "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
