package handlers

import (
	"errors"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/artifacts"
)

// ArtifactsHandler serves stored artifacts (graphs, series, profiles) by key,
// so the references inside a profile document resolve over HTTP.
type ArtifactsHandler struct {
	store  artifacts.Store
	logger *zap.Logger
}

func NewArtifactsHandler(store artifacts.Store, logger *zap.Logger) *ArtifactsHandler {
	return &ArtifactsHandler{store: store, logger: logger.Named("artifacts-handler")}
}

// RegisterRoutes registers the artifact routes on the given router.
func (h *ArtifactsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/artifacts/*", h.Get)
}

// Get handles GET /api/v1/artifacts/{key...}.
func (h *ArtifactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := artifacts.ValidateKey(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_key", err.Error())
		return
	}

	data, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "not_found", "Artifact not found")
			return
		}
		h.logger.Error("Failed to read artifact", zap.String("key", key), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "read_artifact_failed", "Failed to read artifact")
		return
	}

	writeBody(w, h.logger, mimetype.Detect(data).String(), data)
}
