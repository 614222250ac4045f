// -----------------------------------------------------------------------
// JobHandler - HTTP surface for job scheduling and lifecycle
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/access"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/models"
)

// JobHandler serves the /api/jobs routes.
type JobHandler struct {
	access *access.AccessPoints
	logger arbor.ILogger
}

func NewJobHandler(ap *access.AccessPoints, logger arbor.ILogger) *JobHandler {
	return &JobHandler{access: ap, logger: logger}
}

// ListJobsHandler handles GET /api/jobs. The optional state query parameter
// selects pending, running, recent, or completed; default is everything live.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	switch r.URL.Query().Get("state") {
	case "pending":
		WriteJSON(w, http.StatusOK, h.access.ListPendingJobs())
	case "running":
		WriteJSON(w, http.StatusOK, h.access.ListRunningJobs())
	case "recent":
		WriteJSON(w, http.StatusOK, h.access.RecentCompletedJobs(r.Context()))
	case "completed":
		jobs, err := h.access.ListCompletedJobs(r.Context())
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, jobs)
	default:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"pending": h.access.ListPendingJobs(),
			"running": h.access.ListRunningJobs(),
			"recent":  h.access.RecentCompletedJobs(r.Context()),
		})
	}
}

// scheduleJobRequest accepts the job fields plus the legacy string schedule
// forms: 14-digit timestamps and flexible durations ("5m", "300").
type scheduleJobRequest struct {
	models.Job
	StartTimeRaw string `json:"start_time_raw,omitempty"`
	StopTimeRaw  string `json:"stop_time_raw,omitempty"`
	DurationRaw  string `json:"duration_raw,omitempty"`
}

func (req *scheduleJobRequest) resolve() (*models.Job, error) {
	job := req.Job
	if req.StartTimeRaw != "" {
		t, err := common.ParseTimestamp(req.StartTimeRaw)
		if err != nil {
			return nil, err
		}
		job.StartTime = t
	}
	if req.StopTimeRaw != "" {
		t, err := common.ParseTimestamp(req.StopTimeRaw)
		if err != nil {
			return nil, err
		}
		job.StopTime = &t
	}
	if req.DurationRaw != "" {
		d, err := common.ParseFlexibleDuration(req.DurationRaw)
		if err != nil {
			return nil, err
		}
		job.Duration = d
	}
	return &job, nil
}

// ScheduleJobHandler handles POST /api/jobs.
func (h *JobHandler) ScheduleJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req scheduleJobRequest
	if !DecodeBody(w, r, &req) {
		return
	}
	job, err := req.resolve()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	scheduled, err := h.access.ScheduleJob(r.Context(), job)
	if err != nil {
		h.logger.Warn().Err(err).Str("class", job.JobClassName).Msg("Job rejected")
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Str("job_id", scheduled.ID).Str("class", scheduled.JobClassName).Msg("Job scheduled")
	WriteJSON(w, http.StatusCreated, scheduled)
}

// JobRoutes dispatches /api/jobs/{id} and its action subpaths.
func (h *JobHandler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			job, err := h.access.GetJob(r.Context(), id)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, job)
		case http.MethodDelete:
			if err := h.access.DeleteJob(r.Context(), id); err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteSuccess(w, "job deleted")
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "cancel":
		h.jobAction(w, r, id, "job cancelled", h.access.CancelJob)
	case "stop":
		h.jobAction(w, r, id, "job stop requested", h.access.StopJob)
	case "disable":
		h.jobAction(w, r, id, "job disabled", h.access.DisableJob)
	case "enable":
		h.jobAction(w, r, id, "job enabled", h.access.EnableJob)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *JobHandler) jobAction(w http.ResponseWriter, r *http.Request, id, message string, fn func(context.Context, string) error) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := fn(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, message)
}
