// Package api exposes the backup engine over HTTP: run triggering,
// cancellation, status and history queries, source-list configuration and a
// websocket stream of run notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/romsteck/homeroute-backup/pkg/buildinfo"
	"github.com/romsteck/homeroute-backup/pkg/engine"
	"github.com/romsteck/homeroute-backup/pkg/events"
	"github.com/romsteck/homeroute-backup/pkg/history"
	"github.com/romsteck/homeroute-backup/pkg/plog"
	"github.com/romsteck/homeroute-backup/pkg/runlock"
)

// BackupService is the engine seam the server drives.
type BackupService interface {
	Execute(ctx context.Context) (*history.BackupRun, error)
	Cancel() error
	IsRunning() bool
	History() []history.BackupRun
}

// SourceConfig is the config seam for the source-path list.
type SourceConfig interface {
	Sources() []string
	SetSources(sources []string) error
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	backup  BackupService
	sources SourceConfig
	hub     *events.Hub
}

// NewServer creates the API server.
func NewServer(backup BackupService, sources SourceConfig, hub *events.Hub) *Server {
	return &Server{backup: backup, sources: sources, hub: hub}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/backup", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/cancel", s.handleCancel)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/sources", s.handleGetSources)
		r.Put("/sources", s.handleSetSources)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

// handleRun triggers a full backup run and blocks until it finishes. The
// cancel and status endpoints stay responsive in their own handlers.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.backup.Execute(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, engine.ErrRunInProgress):
			status = http.StatusConflict
		case errors.Is(err, engine.ErrNoValidSources):
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	// Partial and cancelled runs completed their lifecycle; per-source errors
	// are visible in details.results.
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"details": run,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.backup.Cancel(); err != nil {
		status := http.StatusConflict
		if !errors.Is(err, runlock.ErrNoRun) {
			status = http.StatusInternalServerError
		}
		s.writeJSON(w, status, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "cancellation requested",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"running": s.backup.IsRunning(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backup.History())
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"sources": s.sources.Sources(),
	})
}

func (s *Server) handleSetSources(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sources []string `json:"sources"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid request body: " + err.Error(),
		})
		return
	}
	if err := s.sources.SetSources(body.Sources); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"sources": body.Sources,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		plog.Warn("Could not write response", "error", err)
	}
}
