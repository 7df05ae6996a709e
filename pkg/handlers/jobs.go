package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/logging"
	"github.com/ekaya-inc/edp-engine/pkg/models"
	"github.com/ekaya-inc/edp-engine/pkg/services"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory.
const multipartMemory = 32 << 20

// SubmitJobRequest is the body of POST /api/v1/jobs.
type SubmitJobRequest struct {
	Asset     models.Asset              `json:"asset"`
	Overrides *config.AnalysisOverrides `json:"overrides,omitempty"`
}

// JobLinks points at the sub-resources of a job.
type JobLinks struct {
	Self   string `json:"self"`
	Result string `json:"result"`
	Log    string `json:"log"`
}

// JobResponse is a job as returned by the API.
type JobResponse struct {
	*models.Job
	Links JobLinks `json:"links"`
}

// JobListResponse is the body of GET /api/v1/jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// JobsHandler serves the job submission and lookup API.
type JobsHandler struct {
	jobs           services.JobService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewJobsHandler creates a JobsHandler. Uploads larger than maxUploadBytes are rejected.
func NewJobsHandler(jobs services.JobService, maxUploadBytes int64, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.Named("jobs-handler"),
	}
}

// RegisterRoutes registers the job API on the given router.
func (h *JobsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.List)
		r.Post("/upload", h.Upload)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
		r.Get("/{id}/result", h.Result)
		r.Get("/{id}/log", h.Log)
		r.Post("/{id}/cancel", h.Cancel)
	})
}

// Submit handles POST /api/v1/jobs.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	job, err := h.jobs.Submit(r.Context(), services.SubmitRequest{
		Asset:     req.Asset,
		Overrides: req.Overrides,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "submit_failed")
		return
	}

	h.logger.Info("Job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("location", logging.SanitizeLocation(job.Asset.Location)))

	w.Header().Set("Location", jobPath(job))
	writeData(w, h.logger, http.StatusAccepted, newJobResponse(job))
}

// Upload handles POST /api/v1/jobs/upload.
// The multipart form carries the asset in "file" and optional analysis
// overrides as a YAML document in "config" (file part or plain field).
func (h *JobsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.logger, http.StatusRequestEntityTooLarge, "upload_too_large",
				"Upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "missing_file", "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file")
		return
	}

	overrides, err := h.uploadOverrides(r)
	if err != nil {
		writeServiceError(w, h.logger, err, "submit_failed")
		return
	}

	declared := r.FormValue("declared_type")
	if declared == "" {
		declared = header.Header.Get("Content-Type")
	}
	if declared == "application/octet-stream" {
		declared = ""
	}

	job, err := h.jobs.SubmitUpload(r.Context(), services.Upload{
		Filename:     header.Filename,
		DeclaredType: declared,
		Name:         r.FormValue("name"),
		Data:         data,
		Overrides:    overrides,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "submit_failed")
		return
	}

	h.logger.Info("Upload submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)))

	w.Header().Set("Location", jobPath(job))
	writeData(w, h.logger, http.StatusAccepted, newJobResponse(job))
}

func (h *JobsHandler) uploadOverrides(r *http.Request) (*config.AnalysisOverrides, error) {
	if f, _, err := r.FormFile("config"); err == nil {
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return config.ParseOverrides(data)
	}
	if v := r.FormValue("config"); v != "" {
		return config.ParseOverrides([]byte(v))
	}
	return nil, nil
}

// List handles GET /api/v1/jobs?state=...&limit=...
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := ParseJobFilter(w, r, h.logger)
	if !ok {
		return
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_jobs_failed")
		return
	}

	response := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs)), Count: len(jobs)}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, newJobResponse(job))
	}
	writeData(w, h.logger, http.StatusOK, response)
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_job_failed")
		return
	}

	writeData(w, h.logger, http.StatusOK, newJobResponse(job))
}

// Result handles GET /api/v1/jobs/{id}/result and returns the profile document.
func (h *JobsHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	data, err := h.jobs.Result(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_result_failed")
		return
	}

	writeBody(w, h.logger, "application/json", data)
}

// Log handles GET /api/v1/jobs/{id}/log.
func (h *JobsHandler) Log(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	text, err := h.jobs.Log(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_log_failed")
		return
	}

	writeBody(w, h.logger, "text/plain; charset=utf-8", []byte(text))
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.jobs.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "cancel_failed")
		return
	}

	h.logger.Info("Job cancel requested", zap.String("job_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/jobs/{id}.
func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.jobs.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete_failed")
		return
	}

	h.logger.Info("Job deleted", zap.String("job_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

func jobPath(job *models.Job) string {
	return "/api/v1/jobs/" + job.ID.String()
}

func newJobResponse(job *models.Job) JobResponse {
	self := jobPath(job)
	return JobResponse{
		Job: job,
		Links: JobLinks{
			Self:   self,
			Result: self + "/result",
			Log:    self + "/log",
		},
	}
}
