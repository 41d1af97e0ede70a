// Package event defines the typed events exchanged between session
// participants through the relay, and the wire codec for them.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"session-service/internal/store"
)

// ErrProtocol reports a frame that does not conform to the event protocol:
// an unknown event type or a payload that does not match its type.
var ErrProtocol = errors.New("protocol error")

// Kind identifies an event type. The enumeration is closed: decoding a kind
// not listed here fails with ErrProtocol.
type Kind string

const (
	KindSessionCreated         Kind = "SESSION_CREATED"
	KindSessionRemoved         Kind = "SESSION_REMOVED"
	KindSessionSettingsChanged Kind = "SESSION_SETTINGS_CHANGED"
	KindYoutubeSongAdded       Kind = "YOUTUBE_SONG_ADDED"
	KindSpotifySongAdded       Kind = "SPOTIFY_SONG_ADDED"
	KindSongRemoved            Kind = "SONG_REMOVED"
	KindSkipSong               Kind = "SKIP_SONG"
	KindPlaySong               Kind = "PLAY_SONG"
	KindPreviousSong           Kind = "PREVIOUS_SONG"
	KindPauseSong              Kind = "PAUSE_SONG"
	KindResumeSong             Kind = "RESUME_SONG"
	KindSongFinished           Kind = "SONG_FINISHED"
	KindNextSong               Kind = "NEXT_SONG"
	KindPlaylistFinished       Kind = "PLAYLIST_FINISHED"
	KindNewUser                Kind = "NEW_USER"
	KindYoutubeError           Kind = "YOUTUBE_ERROR"
	KindSpotifyError           Kind = "SPOTIFY_ERROR"
	KindQueueTooSmall          Kind = "QUEUE_TOO_SMALL"
)

// ClientType identifies the role of the client that produced an event.
type ClientType string

const (
	ClientHost    ClientType = "HOST"
	ClientGuest   ClientType = "GUEST"
	ClientService ClientType = "SERVICE"
)

// Payload is the tagged union of event payloads. The concrete type is
// determined by the event Kind.
type Payload interface {
	isPayload()
}

// SettingsPayload carries a full settings snapshot
// (SESSION_CREATED, SESSION_SETTINGS_CHANGED).
type SettingsPayload struct {
	Settings store.Settings `json:"settings"`
}

// SongPayload carries a song (song added, NEXT_SONG, PLAY_SONG, SONG_FINISHED).
type SongPayload struct {
	Song store.Song `json:"song"`
}

// SongRemovedPayload identifies a removed song.
type SongRemovedPayload struct {
	SongID     string `json:"songId"`
	PlaylistID string `json:"playlistId"`
}

// UserPayload identifies a user (NEW_USER).
type UserPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload carries a platform or queue error description.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EmptyPayload is used by events that carry no data.
type EmptyPayload struct{}

func (SettingsPayload) isPayload()    {}
func (SongPayload) isPayload()        {}
func (SongRemovedPayload) isPayload() {}
func (UserPayload) isPayload()        {}
func (ErrorPayload) isPayload()       {}
func (EmptyPayload) isPayload()       {}

// Event is a single decoded relay event.
type Event struct {
	Session    string
	ClientType ClientType
	Kind       Kind
	Timestamp  time.Time
	Payload    Payload
}

// Frame is the wire shape pushed to and streamed from the relay.
// Timestamp is assigned by the relay on ingest.
type Frame struct {
	Session    string          `json:"session"`
	ClientType string          `json:"clientType"`
	EventType  string          `json:"eventType"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
	Data       json.RawMessage `json:"data"`
}

// Encode serializes an event into its wire frame.
func Encode(e Event) ([]byte, error) {
	if _, ok := payloadFor(e.Kind); !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrProtocol, e.Kind)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Frame{
		Session:    e.Session,
		ClientType: string(e.ClientType),
		EventType:  string(e.Kind),
		Timestamp:  e.Timestamp,
		Data:       data,
	})
}

// Decode parses one wire frame into a typed Event. Unknown event types and
// payloads that do not match the type fail with ErrProtocol.
func Decode(b []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return decodeFrame(f)
}

func decodeFrame(f Frame) (Event, error) {
	kind := Kind(f.EventType)
	payload, ok := payloadFor(kind)
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrProtocol, f.EventType)
	}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, payload); err != nil {
			return Event{}, fmt.Errorf("%w: bad %s payload: %v", ErrProtocol, f.EventType, err)
		}
	}
	e := Event{
		Session:    f.Session,
		ClientType: ClientType(f.ClientType),
		Kind:       kind,
		Timestamp:  f.Timestamp,
	}
	switch p := payload.(type) {
	case *SettingsPayload:
		e.Payload = *p
	case *SongPayload:
		e.Payload = *p
	case *SongRemovedPayload:
		e.Payload = *p
	case *UserPayload:
		e.Payload = *p
	case *ErrorPayload:
		e.Payload = *p
	case *EmptyPayload:
		e.Payload = *p
	}
	return e, nil
}

// payloadFor returns a fresh payload value for the kind, or false for kinds
// outside the enumeration. The mapping is total over the declared kinds.
func payloadFor(k Kind) (Payload, bool) {
	switch k {
	case KindSessionCreated, KindSessionSettingsChanged:
		return &SettingsPayload{}, true
	case KindYoutubeSongAdded, KindSpotifySongAdded, KindPlaySong, KindSongFinished, KindNextSong:
		return &SongPayload{}, true
	case KindSongRemoved:
		return &SongRemovedPayload{}, true
	case KindNewUser:
		return &UserPayload{}, true
	case KindYoutubeError, KindSpotifyError, KindQueueTooSmall:
		return &ErrorPayload{}, true
	case KindSessionRemoved, KindSkipSong, KindPreviousSong, KindPauseSong, KindResumeSong, KindPlaylistFinished:
		return &EmptyPayload{}, true
	}
	return nil, false
}
