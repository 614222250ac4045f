// -----------------------------------------------------------------------
// FolderHandler - HTTP surface for job folders
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/access"
	"github.com/ternarybob/onero/internal/models"
)

// FolderHandler serves the /api/folders routes.
type FolderHandler struct {
	access *access.AccessPoints
	logger arbor.ILogger
}

func NewFolderHandler(ap *access.AccessPoints, logger arbor.ILogger) *FolderHandler {
	return &FolderHandler{access: ap, logger: logger}
}

// FoldersHandler handles GET (list) and POST (create) on /api/folders.
func (h *FolderHandler) FoldersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		folders, err := h.access.ListFolders(r.Context())
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, folders)
	case http.MethodPost:
		var folder models.Folder
		if !DecodeBody(w, r, &folder) {
			return
		}
		if err := h.access.CreateFolder(r.Context(), &folder); err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, folder)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// moveRequest is the body of a move action. IncludeIterations defaults to
// true: an optimizing job normally moves together with its iterations.
type moveRequest struct {
	JobID             string `json:"job_id,omitempty"`
	OptimizingJobID   string `json:"optimizing_job_id,omitempty"`
	IncludeIterations *bool  `json:"include_iterations,omitempty"`
}

// FolderRoutes dispatches /api/folders/{name} and its subpaths.
func (h *FolderHandler) FolderRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/folders/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			folder, err := h.access.GetFolder(r.Context(), name)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			jobs, opts, err := h.access.FolderJobs(r.Context(), name)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"folder":          folder,
				"jobs":            jobs,
				"optimizing_jobs": opts,
			})
		case http.MethodDelete:
			if err := h.access.DeleteFolder(r.Context(), name); err != nil {
				WriteDomainError(w, err)
				return
			}
			WriteSuccess(w, "folder deleted")
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "move":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		var req moveRequest
		if !DecodeBody(w, r, &req) {
			return
		}

		var err error
		switch {
		case req.JobID != "":
			err = h.access.MoveJobToFolder(r.Context(), req.JobID, name)
		case req.OptimizingJobID != "":
			includeIterations := req.IncludeIterations == nil || *req.IncludeIterations
			err = h.access.MoveOptimizingJobToFolder(r.Context(), req.OptimizingJobID, name, includeIterations)
		default:
			WriteError(w, http.StatusBadRequest, "job_id or optimizing_job_id required")
			return
		}
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteSuccess(w, "moved")
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
