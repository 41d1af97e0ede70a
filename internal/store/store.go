// Package store defines the durable record model for sessions, playlists and
// songs, and the Store interface the rest of the service talks to. The store
// is the single source of truth; concurrent writers are reconciled by its
// atomic single-record primitives, never by client-side locking.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports an absent record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a conditional update that did not match the
	// record's current state.
	ErrConflict = errors.New("record state conflict")
	// ErrDuplicate reports an insert that violates a uniqueness rule.
	ErrDuplicate = errors.New("duplicate record")
)

// SessionState is the lifecycle state of a session record.
type SessionState string

const (
	StateUnclaimed SessionState = "unclaimed"
	StateActive    SessionState = "active"
)

// SourceKind names the music platform a song comes from.
type SourceKind string

const (
	SourceYoutube SourceKind = "youtube"
	SourceSpotify SourceKind = "spotify"
)

// Settings is the immutable policy snapshot attached to an active session.
// It is always replaced wholesale, never field-patched.
type Settings struct {
	AllowYoutube bool `json:"allowYoutube"`
	AllowSpotify bool `json:"allowSpotify"`

	AllowEvents    bool     `json:"allowEvents"`
	EventFrequency int      `json:"eventFrequency"`
	AllowedEvents  []string `json:"allowedEvents,omitempty"`
	EventWords     []string `json:"eventWords,omitempty"`

	AnyoneCanUsePlayerControls bool `json:"anyoneCanUsePlayerControls"`
	AnyoneCanAddToQueue        bool `json:"anyoneCanAddToQueue"`
	AnyoneCanSeeHistory        bool `json:"anyoneCanSeeHistory"`
	AnyoneCanSeeQueue          bool `json:"anyoneCanSeeQueue"`
	AnyoneCanSeePlaylist       bool `json:"anyoneCanSeePlaylist"`

	Algorithm string `json:"algorithmUsed"`
}

// DefaultSettings returns the settings a freshly claimed session gets when
// the host supplies none.
func DefaultSettings() Settings {
	return Settings{
		AllowYoutube:               true,
		AllowSpotify:               true,
		AnyoneCanUsePlayerControls: true,
		AnyoneCanAddToQueue:        true,
		AnyoneCanSeeHistory:        true,
		AnyoneCanSeeQueue:          true,
		AnyoneCanSeePlaylist:       true,
		Algorithm:                  "modern",
	}
}

// SongRef points at the song a session is currently playing.
type SongRef struct {
	SongID   string     `json:"songId"`
	Source   SourceKind `json:"source"`
	SourceID string     `json:"sourceId"`
	Title    string     `json:"title"`
}

// Session is a live collaborative-listening instance.
type Session struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"createdAt"`
	State            SessionState `json:"state"`
	HostUserID       string       `json:"hostUserId,omitempty"`
	PlaylistID       string       `json:"playlistId,omitempty"`
	CurrentlyPlaying *SongRef     `json:"currentlyPlaying,omitempty"`
	Settings         Settings     `json:"settings"`
	Members          []string     `json:"members,omitempty"`
}

// Playlist groups songs; contributors is append-only and deduplicated.
type Playlist struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Name         string    `json:"name"`
	OwnerUserID  string    `json:"ownerUserId"`
	Contributors []string  `json:"contributors,omitempty"`
}

// Song belongs to a playlist; (Source, SourceID) is unique per playlist.
type Song struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"createdAt"`
	PlaylistID    string     `json:"playlistId"`
	AddedByUserID string     `json:"addedByUserId"`
	Source        SourceKind `json:"source"`
	SourceID      string     `json:"sourceId"`
	Title         string     `json:"title"`
	Artist        string     `json:"artist,omitempty"`
	Cover         string     `json:"cover,omitempty"`
	LengthSeconds int        `json:"lengthSeconds,omitempty"`
	Album         string     `json:"album,omitempty"`
	PlayCount     int        `json:"playCount"`
}

// Store is keyed CRUD over the three record kinds plus the atomic primitives
// the session core depends on: deduplicated array append and counter
// increment, both single-statement so concurrent writers cannot race-lose.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// ClaimSession transitions id from unclaimed to active, attaching host,
	// playlist and settings. ErrConflict if the session is not unclaimed.
	ClaimSession(ctx context.Context, id, hostUserID, playlistID string, settings Settings) error
	UpdateSettings(ctx context.Context, id string, settings Settings) error
	SetCurrentlyPlaying(ctx context.Context, id string, ref *SongRef) error
	// AddMember atomically adds userID to the session's member set.
	// Returns false if the user was already a member.
	AddMember(ctx context.Context, id, userID string) (bool, error)
	DeleteSession(ctx context.Context, id string) error

	CreatePlaylist(ctx context.Context, p Playlist) error
	GetPlaylist(ctx context.Context, id string) (Playlist, error)
	// AppendContributor atomically appends userID to the playlist's
	// contributor list unless already present. Returns false when present.
	AppendContributor(ctx context.Context, playlistID, userID string) (bool, error)

	// InsertSong fails with ErrDuplicate when (Source, SourceID) already
	// exists in the song's playlist.
	InsertSong(ctx context.Context, s Song) error
	GetSong(ctx context.Context, id string) (Song, error)
	ListSongs(ctx context.Context, playlistID string) ([]Song, error)
	DeleteSong(ctx context.Context, id string) error
	// IncrementPlayCount adds exactly one play to the song, atomically.
	IncrementPlayCount(ctx context.Context, songID string) error
	// ResetPlayCounts zeroes every play count in the playlist.
	ResetPlayCounts(ctx context.Context, playlistID string) error
}
