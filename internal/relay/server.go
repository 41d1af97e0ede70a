package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"session-service/internal/event"
)

var upgrader = websocket.Upgrader{
	// The relay sits behind the gateway; origin policy is enforced there.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// channelFor is the redis pub/sub channel carrying a session's events.
func channelFor(sessionID string) string {
	return "session:" + sessionID
}

// Server is the relay daemon: it ingests event frames per session, stamps
// them, and fans them out through redis to every subscriber of that session.
type Server struct {
	hub *Hub
	rdb *redis.Client
}

func NewServer(hub *Hub, rdb *redis.Client) *Server {
	return &Server{hub: hub, rdb: rdb}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Post("/input/{sessionId}", s.handleInput)
	r.Get("/stream/session/{sessionId}", s.handleStream)
	r.Get("/ws/{sessionId}", s.handleWS)

	return r
}

// RunSubscriber routes redis session channels into the hub. Blocks until the
// context is cancelled.
func (s *Server) RunSubscriber(ctx context.Context) {
	sub := s.rdb.PSubscribe(ctx, channelFor("*"))
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		sessionID := strings.TrimPrefix(msg.Channel, "session:")
		s.hub.Broadcast(sessionID, []byte(msg.Payload))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "relay",
	})
}

// handleInput accepts one event frame for a session. The relay is an opaque
// ordered channel: it validates the frame shape and stamps the ingest time,
// but does not interpret the event type.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	var frame event.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if frame.EventType == "" {
		http.Error(w, "missing eventType", http.StatusBadRequest)
		return
	}
	frame.Session = sessionID
	frame.Timestamp = time.Now().UTC()

	data, err := json.Marshal(frame)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	if err := s.rdb.Publish(r.Context(), channelFor(sessionID), string(data)).Err(); err != nil {
		log.Printf("relay: publish error: %v", err)
		http.Error(w, "redis error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleStream serves a session's live event stream as newline-delimited
// JSON frames, flushed as they arrive.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.Subscribe(sessionID)
	defer s.hub.Unsubscribe(sessionID, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: ws upgrade: %v", err)
		return
	}

	client := &wsClient{
		hub:     s.hub,
		session: sessionID,
		conn:    conn,
		send:    s.hub.Subscribe(sessionID),
	}
	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("relay: write json: %v", err)
	}
}
