package relay

// message is one event frame addressed to a session room.
type message struct {
	session string
	data    []byte
}

// subscription ties a subscriber channel to a session room.
type subscription struct {
	session string
	ch      chan []byte
}

// Hub owns the per-session subscriber rooms and fans inbound frames out to
// every subscriber of the frame's session. Stream handlers and websocket
// clients both attach as plain channels.
type Hub struct {
	rooms map[string]map[chan []byte]bool

	broadcast  chan message
	register   chan subscription
	unregister chan subscription
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[chan []byte]bool),
		broadcast:  make(chan message),
		register:   make(chan subscription),
		unregister: make(chan subscription),
	}
}

// Subscribe attaches a new subscriber to the session's room. The returned
// channel is closed by the hub when the subscriber is dropped.
func (h *Hub) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 256)
	h.register <- subscription{session: sessionID, ch: ch}
	return ch
}

// Unsubscribe detaches a subscriber; safe to call after the hub already
// dropped it.
func (h *Hub) Unsubscribe(sessionID string, ch chan []byte) {
	h.unregister <- subscription{session: sessionID, ch: ch}
}

// Broadcast delivers one frame to every subscriber of the session, in the
// order frames are handed to the hub.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.broadcast <- message{session: sessionID, data: data}
}

func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			room := h.rooms[sub.session]
			if room == nil {
				room = make(map[chan []byte]bool)
				h.rooms[sub.session] = room
			}
			room[sub.ch] = true

		case sub := <-h.unregister:
			if room, ok := h.rooms[sub.session]; ok {
				if room[sub.ch] {
					delete(room, sub.ch)
					close(sub.ch)
				}
				if len(room) == 0 {
					delete(h.rooms, sub.session)
				}
			}

		case msg := <-h.broadcast:
			room := h.rooms[msg.session]
			for ch := range room {
				select {
				case ch <- msg.data:
				default:
					// Slow subscriber; drop it rather than stall the room.
					delete(room, ch)
					close(ch)
				}
			}
			if len(room) == 0 {
				delete(h.rooms, msg.session)
			}
		}
	}
}
