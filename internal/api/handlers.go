package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"session-service/internal/event"
	"session-service/internal/session"
	"session-service/internal/store"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.mgr.Create(r.Context(), clientType(r))
	if writeTypedError(w, "create session", err) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.GetSession(r.Context(), chi.URLParam(r, "id"))
	if writeTypedError(w, "get session", err) {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.Remove(r.Context(), chi.URLParam(r, "id"), clientType(r))
	if writeTypedError(w, "remove session", err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaimSession(w http.ResponseWriter, r *http.Request) {
	hostID := actor(r)
	if hostID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var body struct {
		PlaylistID string          `json:"playlistId"`
		Settings   *store.Settings `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.PlaylistID) == "" {
		writeError(w, http.StatusBadRequest, "missing playlistId")
		return
	}
	settings := store.DefaultSettings()
	if body.Settings != nil {
		settings = *body.Settings
	}

	err := s.mgr.Claim(r.Context(), chi.URLParam(r, "id"), hostID, body.PlaylistID, settings, clientType(r))
	if writeTypedError(w, "claim session", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	userID := actor(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	err := s.mgr.Join(r.Context(), chi.URLParam(r, "id"), userID, clientType(r))
	if writeTypedError(w, "join session", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := actor(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	var settings store.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.mgr.UpdateSettings(r.Context(), chi.URLParam(r, "id"), userID, settings, clientType(r))
	if writeTypedError(w, "update settings", err) {
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetPlaying(w http.ResponseWriter, r *http.Request) {
	ref, err := s.mgr.GetCurrentlyPlaying(r.Context(), chi.URLParam(r, "id"))
	if writeTypedError(w, "get playing", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currentlyPlaying": ref})
}

func (s *Server) handleSetPlaying(w http.ResponseWriter, r *http.Request) {
	userID := actor(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	var body struct {
		CurrentlyPlaying *store.SongRef `json:"currentlyPlaying"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.mgr.SetCurrentlyPlaying(r.Context(), chi.URLParam(r, "id"), userID, body.CurrentlyPlaying)
	if writeTypedError(w, "set playing", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleNextSong(w http.ResponseWriter, r *http.Request) {
	song, err := s.mgr.NextSong(r.Context(), chi.URLParam(r, "id"), actor(r), clientType(r))
	if writeTypedError(w, "next song", err) {
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (s *Server) handleSongFinished(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SongID string `json:"songId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.SongID == "" {
		writeError(w, http.StatusBadRequest, "missing songId")
		return
	}
	err := s.mgr.SongFinished(r.Context(), chi.URLParam(r, "id"), body.SongID, clientType(r))
	if writeTypedError(w, "song finished", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleControl dispatches player control actions: skip, previous, pause,
// resume, and play (with a songId).
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		SongID string `json:"songId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	var err error
	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case "play":
		if body.SongID == "" {
			writeError(w, http.StatusBadRequest, "play requires songId")
			return
		}
		err = s.mgr.PlaySong(r.Context(), id, actor(r), clientType(r), body.SongID)
	case "skip":
		err = s.mgr.Control(r.Context(), id, actor(r), clientType(r), event.KindSkipSong)
	case "previous":
		err = s.mgr.Control(r.Context(), id, actor(r), clientType(r), event.KindPreviousSong)
	case "pause":
		err = s.mgr.Control(r.Context(), id, actor(r), clientType(r), event.KindPauseSong)
	case "resume":
		err = s.mgr.Control(r.Context(), id, actor(r), clientType(r), event.KindResumeSong)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if writeTypedError(w, "control", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, songs, err := s.mgr.GetPlaylist(r.Context(), chi.URLParam(r, "id"), actor(r))
	if writeTypedError(w, "get playlist", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"playlist": pl,
		"songs":    songs,
	})
}

func (s *Server) handleAddSong(w http.ResponseWriter, r *http.Request) {
	userID := actor(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var body struct {
		Source        string `json:"source"`
		SourceID      string `json:"sourceId"`
		Title         string `json:"title"`
		Artist        string `json:"artist"`
		Cover         string `json:"cover"`
		LengthSeconds int    `json:"lengthSeconds"`
		Album         string `json:"album"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	body.Title = strings.TrimSpace(body.Title)
	body.SourceID = strings.TrimSpace(body.SourceID)
	source := store.SourceKind(strings.ToLower(strings.TrimSpace(body.Source)))
	if source != store.SourceYoutube && source != store.SourceSpotify {
		writeError(w, http.StatusBadRequest, `unsupported source (must be "youtube" or "spotify")`)
		return
	}
	if body.SourceID == "" {
		writeError(w, http.StatusBadRequest, "missing sourceId")
		return
	}
	if body.Title == "" || len(body.Title) > 300 {
		writeError(w, http.StatusBadRequest, "title must be between 1 and 300 characters")
		return
	}

	song, err := s.mgr.AddSong(r.Context(), chi.URLParam(r, "id"), userID, clientType(r), session.NewSong{
		Source:        source,
		SourceID:      body.SourceID,
		Title:         body.Title,
		Artist:        body.Artist,
		Cover:         body.Cover,
		LengthSeconds: body.LengthSeconds,
		Album:         body.Album,
	})
	if writeTypedError(w, "add song", err) {
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (s *Server) handleRemoveSong(w http.ResponseWriter, r *http.Request) {
	userID := actor(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	err := s.mgr.RemoveSong(r.Context(), chi.URLParam(r, "id"), userID, clientType(r), chi.URLParam(r, "songId"))
	if writeTypedError(w, "remove song", err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
