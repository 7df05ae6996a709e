package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/repositories"
)

// ParseJobID reads the {id} path parameter. On failure it writes a 400
// invalid_job_id response and returns false.
func ParseJobID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, "invalid_job_id", "Invalid job ID format")
		return uuid.Nil, false
	}
	return id, true
}

// ParseJobFilter reads the list query: state (repeatable, comma-separated)
// and limit (positive integer). On failure it writes a 400 response and
// returns false.
func ParseJobFilter(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (repositories.JobFilter, bool) {
	var filter repositories.JobFilter
	query := r.URL.Query()

	for _, raw := range query["state"] {
		for _, s := range strings.Split(raw, ",") {
			state := models.JobState(strings.TrimSpace(s))
			if !state.IsValid() {
				writeError(w, logger, http.StatusBadRequest, "invalid_state", "Unknown job state: "+s)
				return filter, false
			}
			filter.States = append(filter.States, state)
		}
	}

	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, logger, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return filter, false
		}
		filter.Limit = limit
	}

	return filter, true
}
