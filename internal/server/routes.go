package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes - worker populations
	mux.HandleFunc("/ws/client", s.app.Hub.HandleLoadClient)
	mux.HandleFunc("/ws/monitor", s.app.Hub.HandleMonitorClient)
	mux.HandleFunc("/ws/manager", s.app.Hub.HandleManager)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)           // GET (list), POST (schedule)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.JobRoutes) // GET/DELETE /{id}, POST /{id}/{action}

	// API routes - Optimizing jobs
	mux.HandleFunc("/api/optimizing-jobs", s.handleOptimizingRoute)
	mux.HandleFunc("/api/optimizing-jobs/algorithms", s.app.OptimizingHandler.AlgorithmsHandler)
	mux.HandleFunc("/api/optimizing-jobs/", s.app.OptimizingHandler.Routes)

	// API routes - Client fleet
	mux.HandleFunc("/api/clients", s.app.ClientHandler.ListClientsHandler)
	mux.HandleFunc("/api/clients/", s.app.ClientHandler.ClientRoutes) // POST /{id}/disconnect
	mux.HandleFunc("/api/managers", s.app.ClientHandler.ListManagersHandler)
	mux.HandleFunc("/api/managers/connect-clients", s.app.ClientHandler.ConnectClientsHandler)
	mux.HandleFunc("/api/managers/", s.app.ClientHandler.ManagerRoutes) // POST /{id}/start-clients|stop-clients

	// API routes - Folders
	mux.HandleFunc("/api/folders", s.app.FolderHandler.FoldersHandler)
	mux.HandleFunc("/api/folders/", s.app.FolderHandler.FolderRoutes)

	// API routes - Job classes
	mux.HandleFunc("/api/classes", s.app.ClassHandler.ListHandler)
	mux.HandleFunc("/api/classes/reload", s.app.ClassHandler.ReloadHandler)
	mux.HandleFunc("/api/classes/", s.app.ClassHandler.ClassRoutes)

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.StatusHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute splits list and schedule on /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.ScheduleJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOptimizingRoute splits list and schedule on /api/optimizing-jobs by method
func (s *Server) handleOptimizingRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.OptimizingHandler.ListHandler(w, r)
	case http.MethodPost:
		s.app.OptimizingHandler.ScheduleHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
