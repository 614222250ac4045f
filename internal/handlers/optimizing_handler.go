// -----------------------------------------------------------------------
// OptimizingHandler - HTTP surface for optimizing jobs
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/access"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/models"
)

// OptimizingHandler serves the /api/optimizing-jobs routes.
type OptimizingHandler struct {
	access *access.AccessPoints
	config *common.SchedulerConfig
	logger arbor.ILogger
}

func NewOptimizingHandler(ap *access.AccessPoints, config *common.SchedulerConfig, logger arbor.ILogger) *OptimizingHandler {
	return &OptimizingHandler{access: ap, config: config, logger: logger}
}

// ListHandler handles GET /api/optimizing-jobs.
func (h *OptimizingHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	opts, err := h.access.ListOptimizingJobs(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, opts)
}

// scheduleOptimizingRequest accepts the optimizing job fields plus flexible
// string duration forms.
type scheduleOptimizingRequest struct {
	models.OptimizingJob
	StartTimeRaw      string `json:"start_time_raw,omitempty"`
	DurationRaw       string `json:"duration_raw,omitempty"`
	DelayRaw          string `json:"delay_raw,omitempty"`
	ReRunDurationRaw  string `json:"rerun_duration_raw,omitempty"`
	IncludeThreadsRaw string `json:"include_threads_raw,omitempty"`
}

func (req *scheduleOptimizingRequest) resolve(config *common.SchedulerConfig) (*models.OptimizingJob, error) {
	opt := req.OptimizingJob
	if req.StartTimeRaw != "" {
		t, err := common.ParseTimestamp(req.StartTimeRaw)
		if err != nil {
			return nil, err
		}
		opt.StartTime = t
	}
	for _, f := range []struct {
		raw  string
		dest *time.Duration
	}{
		{req.DurationRaw, &opt.Duration},
		{req.DelayRaw, &opt.DelayBetweenIterations},
		{req.ReRunDurationRaw, &opt.ReRunDuration},
	} {
		if f.raw == "" {
			continue
		}
		d, err := common.ParseFlexibleDuration(f.raw)
		if err != nil {
			return nil, err
		}
		*f.dest = d
	}
	if req.IncludeThreadsRaw != "" {
		opt.IncludeThreadsInDescription = common.IsTruthy(req.IncludeThreadsRaw, config.TreatOneAsOn)
	}
	return &opt, nil
}

// ScheduleHandler handles POST /api/optimizing-jobs.
func (h *OptimizingHandler) ScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req scheduleOptimizingRequest
	if !DecodeBody(w, r, &req) {
		return
	}
	opt, err := req.resolve(h.config)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	scheduled, err := h.access.ScheduleOptimizingJob(r.Context(), opt)
	if err != nil {
		h.logger.Warn().Err(err).Str("algorithm", opt.AlgorithmName).Msg("Optimizing job rejected")
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Str("optimizing_job_id", scheduled.ID).Msg("Optimizing job scheduled")
	WriteJSON(w, http.StatusCreated, scheduled)
}

// AlgorithmsHandler handles GET /api/optimizing-jobs/algorithms. The optional
// job_class query parameter narrows the list to algorithms available for that
// class.
func (h *OptimizingHandler) AlgorithmsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	algorithms, err := h.access.ListAlgorithms(r.URL.Query().Get("job_class"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, algorithms)
}

// Routes dispatches /api/optimizing-jobs/{id} and its action subpaths.
func (h *OptimizingHandler) Routes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/optimizing-jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			opt, err := h.access.GetOptimizingJob(r.Context(), id)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, opt)
		case http.MethodDelete:
			// iterations are deleted too unless include_iterations=false
			includeIterations := true
			if raw := r.URL.Query().Get("include_iterations"); raw != "" {
				includeIterations = common.IsTruthy(raw, h.config.TreatOneAsOn)
			}
			if err := h.access.DeleteOptimizingJob(r.Context(), id, includeIterations); err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteSuccess(w, "optimizing job deleted")
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "iterations":
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		iterations, err := h.access.GetOptimizingJobIterations(r.Context(), id)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, iterations)
	case "cancel":
		h.action(w, r, id, "optimizing job cancelled", h.access.CancelOptimizingJob)
	case "pause":
		h.action(w, r, id, "optimizing job pause requested", h.access.PauseOptimizingJob)
	case "unpause":
		h.action(w, r, id, "optimizing job resumed", h.access.UnpauseOptimizingJob)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *OptimizingHandler) action(w http.ResponseWriter, r *http.Request, id, message string, fn func(context.Context, string) error) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, message)
}
