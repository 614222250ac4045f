// -----------------------------------------------------------------------
// ClientHandler - HTTP surface for the client fleet
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/access"
)

// ClientHandler serves the /api/clients and /api/managers routes.
type ClientHandler struct {
	access *access.AccessPoints
	logger arbor.ILogger
}

func NewClientHandler(ap *access.AccessPoints, logger arbor.ILogger) *ClientHandler {
	return &ClientHandler{access: ap, logger: logger}
}

// ListClientsHandler handles GET /api/clients. The kind query parameter
// selects load or monitor; default returns both.
func (h *ClientHandler) ListClientsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	switch r.URL.Query().Get("kind") {
	case "load":
		WriteJSON(w, http.StatusOK, h.access.ListLoadClients())
	case "monitor":
		WriteJSON(w, http.StatusOK, h.access.ListMonitorClients())
	default:
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"load":    h.access.ListLoadClients(),
			"monitor": h.access.ListMonitorClients(),
		})
	}
}

// ClientRoutes dispatches /api/clients/{id}/disconnect.
func (h *ClientHandler) ClientRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/clients/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "disconnect" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var err error
	if r.URL.Query().Get("force") == "true" {
		err = h.access.ForceClientDisconnect(r.Context(), id)
	} else {
		err = h.access.RequestClientDisconnect(r.Context(), id)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, "disconnect requested")
}

// ListManagersHandler handles GET /api/managers.
func (h *ClientHandler) ListManagersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.access.ListClientManagers())
}

// ConnectClientsHandler handles POST /api/managers/connect-clients, spreading
// a request for new load clients across the manager fleet.
func (h *ClientHandler) ConnectClientsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	count, ok := h.countParam(w, r, false)
	if !ok {
		return
	}

	plan, err := h.access.ConnectClients(r.Context(), count)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Int("count", count).Int("managers", len(plan)).Msg("Client connect request issued")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"plan":   plan,
	})
}

// ManagerRoutes dispatches /api/managers/{id}/start-clients and stop-clients.
func (h *ClientHandler) ManagerRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/managers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var err error
	switch action {
	case "start-clients":
		count, ok := h.countParam(w, r, false)
		if !ok {
			return
		}
		err = h.access.StartManagerClients(r.Context(), id, count)
	case "stop-clients":
		// -1 stops everything the manager started
		count, ok := h.countParam(w, r, true)
		if !ok {
			return
		}
		err = h.access.StopManagerClients(r.Context(), id, count)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, "request issued")
}

func (h *ClientHandler) countParam(w http.ResponseWriter, r *http.Request, allowAll bool) (int, bool) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err == nil && (count > 0 || (allowAll && count == -1)) {
		return count, true
	}
	message := "count must be a positive integer"
	if allowAll {
		message = "count must be a positive integer or -1 for all"
	}
	WriteError(w, http.StatusBadRequest, message)
	return 0, false
}
