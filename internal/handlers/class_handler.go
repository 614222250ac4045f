// -----------------------------------------------------------------------
// ClassHandler - HTTP surface for job class descriptors
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/access"
)

// ClassHandler serves the /api/classes routes.
type ClassHandler struct {
	access *access.AccessPoints
	logger arbor.ILogger
}

func NewClassHandler(ap *access.AccessPoints, logger arbor.ILogger) *ClassHandler {
	return &ClassHandler{access: ap, logger: logger}
}

// ListHandler handles GET /api/classes.
func (h *ClassHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.access.ListJobClasses())
}

// ReloadHandler handles POST /api/classes/reload, re-reading the descriptor
// directory.
func (h *ClassHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.access.ReloadJobClasses(); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info().Msg("Job classes reloaded")
	WriteSuccess(w, "job classes reloaded")
}

// ClassRoutes dispatches GET /api/classes/{name}.
func (h *ClassHandler) ClassRoutes(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/classes/")
	class := h.access.GetJobClass(name)
	if class == nil {
		WriteError(w, http.StatusNotFound, "unknown job class "+name)
		return
	}
	WriteJSON(w, http.StatusOK, class)
}
