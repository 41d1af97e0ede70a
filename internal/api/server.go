// Package api exposes the session manager over HTTP, in front of the record
// store and the relay. Actor identity arrives pre-resolved in X-User-Id;
// the client role in X-Client-Type.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"session-service/internal/event"
	"session-service/internal/selector"
	"session-service/internal/session"
	"session-service/internal/store"
)

type Server struct {
	mgr *session.Manager
}

func NewServer(mgr *session.Manager) *Server {
	return &Server{mgr: mgr}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)

	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleRemoveSession)
	r.Post("/sessions/{id}/claim", s.handleClaimSession)
	r.Post("/sessions/{id}/join", s.handleJoinSession)
	r.Put("/sessions/{id}/settings", s.handleUpdateSettings)

	r.Get("/sessions/{id}/playing", s.handleGetPlaying)
	r.Put("/sessions/{id}/playing", s.handleSetPlaying)
	r.Post("/sessions/{id}/next", s.handleNextSong)
	r.Post("/sessions/{id}/finished", s.handleSongFinished)
	r.Post("/sessions/{id}/control", s.handleControl)

	r.Get("/sessions/{id}/playlist", s.handleGetPlaylist)
	r.Post("/sessions/{id}/songs", s.handleAddSong)
	r.Delete("/sessions/{id}/songs/{songId}", s.handleRemoveSong)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "session-service",
	})
}

func actor(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func clientType(r *http.Request) event.ClientType {
	switch event.ClientType(r.Header.Get("X-Client-Type")) {
	case event.ClientHost:
		return event.ClientHost
	case event.ClientService:
		return event.ClientService
	}
	return event.ClientGuest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("session-service: write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeTypedError maps the manager's typed failures onto HTTP statuses.
// Returns false when err was nil or only a publish failure (the mutation
// stood, so the request still succeeds).
func writeTypedError(w http.ResponseWriter, op string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, session.ErrNotify):
		// Durable state changed; notification is best-effort (relayed
		// clients resync on next read).
		log.Printf("session-service: %s: %v", op, err)
		return false
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, session.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid session state")
	case errors.Is(err, session.ErrDuplicateSong):
		writeError(w, http.StatusConflict, "song already in playlist")
	case errors.Is(err, selector.ErrQueueExhausted):
		writeError(w, http.StatusConflict, "playlist finished")
	case errors.Is(err, selector.ErrUnknownStrategy):
		writeError(w, http.StatusBadRequest, "unknown algorithm")
	default:
		log.Printf("session-service: %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return true
}
