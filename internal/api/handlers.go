package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"reelgate/internal/feed"
	"reelgate/internal/kv"
	"reelgate/internal/observability/logging"
	"reelgate/internal/observability/metrics"
	"reelgate/internal/session"
)

// Handler owns the API surface. Both managers are injected explicitly; no
// handler reaches for ambient state.
type Handler struct {
	sessions *session.Manager
	feeds    *feed.Registry
	kv       kv.Store
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// HandlerConfig wires the API's collaborators.
type HandlerConfig struct {
	Sessions *session.Manager
	Feeds    *feed.Registry
	KV       kv.Store
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// NewHandler constructs the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Handler{
		sessions: cfg.Sessions,
		feeds:    cfg.Feeds,
		kv:       cfg.KV,
		metrics:  recorder,
		logger:   logger,
	}
}

// requestLogger annotates the handler logger with the request's correlation
// IDs. The middleware stack has already stamped them on the context.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if contextLogger := logging.LoggerFromContext(r.Context()); contextLogger != nil {
		return contextLogger
	}
	return logging.WithContext(r.Context(), h.logger)
}

// Health reports process liveness plus KV reachability. A down KV store is
// reported degraded but still returns 200: the feed surface keeps working
// for sessions that already hold OAuth refresh tokens.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	status := map[string]string{"status": "ok"}
	if h.kv != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.kv.Ping(ctx); err != nil {
			status["kv"] = "unreachable"
			h.metrics.SetKVHealth("kv", "unreachable")
		} else {
			status["kv"] = "ok"
			h.metrics.SetKVHealth("kv", "ok")
		}
	}
	writeJSON(w, http.StatusOK, status)
}
