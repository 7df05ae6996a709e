package handlers

import (
	"net/http"
	"os"
	"runtime"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/services/workqueue"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status string           `json:"status"`
	Queue  *workqueue.Stats `json:"queue,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// QueueStatsProvider reports work queue occupancy. JobService implements it.
type QueueStatsProvider interface {
	Stats() workqueue.Stats
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	queue  QueueStatsProvider
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. queue may be nil.
func NewHealthHandler(cfg *config.Config, queue QueueStatsProvider, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, queue: queue, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok"}
	if h.queue != nil {
		stats := h.queue.Stats()
		response.Queue = &stats
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "edp-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
