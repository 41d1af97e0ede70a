// Package session owns session lifecycle and the permission model. Every
// mutating operation follows the same shape: authorize, mutate durable state,
// publish the matching event. A failed mutation publishes nothing; a failed
// publish after a successful mutation is surfaced but never rolled back.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"session-service/internal/event"
	"session-service/internal/selector"
	"session-service/internal/store"
)

var (
	// ErrInvalidTransition reports a session lifecycle violation.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrPermissionDenied reports an action the actor may not perform.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDuplicateSong reports a song already present in the playlist.
	ErrDuplicateSong = errors.New("song already in playlist")
	// ErrNotify wraps a publish failure that happened after a successful
	// mutation. The durable state change is retained.
	ErrNotify = errors.New("event publish failed")
)

// Notifier pushes one typed event to the relay.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, clientType event.ClientType, kind event.Kind, payload event.Payload) error
}

// Manager coordinates sessions against the record store and the relay.
type Manager struct {
	store    store.Store
	notifier Notifier
}

func NewManager(st store.Store, n Notifier) *Manager {
	return &Manager{store: st, notifier: n}
}

// Create allocates an unclaimed session and returns its id.
func (m *Manager) Create(ctx context.Context, clientType event.ClientType) (string, error) {
	id := uuid.NewString()
	err := m.store.CreateSession(ctx, store.Session{
		ID:    id,
		State: store.StateUnclaimed,
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, m.publish(ctx, id, clientType, event.KindSessionCreated, event.SettingsPayload{})
}

// Claim transitions an unclaimed session to active, attaching host, playlist
// and settings. The playlist record is created if it does not exist yet.
func (m *Manager) Claim(ctx context.Context, sessionID, hostUserID, playlistID string, settings store.Settings, clientType event.ClientType) error {
	if _, err := selector.Parse(settings.Algorithm); err != nil {
		return err
	}
	if err := m.store.ClaimSession(ctx, sessionID, hostUserID, playlistID, settings); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrInvalidTransition
		}
		return err
	}
	if _, err := m.store.GetPlaylist(ctx, playlistID); errors.Is(err, store.ErrNotFound) {
		err := m.store.CreatePlaylist(ctx, store.Playlist{
			ID:          playlistID,
			OwnerUserID: hostUserID,
		})
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("create playlist: %w", err)
		}
	}
	return m.publish(ctx, sessionID, clientType, event.KindSessionCreated, event.SettingsPayload{Settings: settings})
}

// Join adds userID to the session members and the playlist contributors.
// Re-joining is a silent no-op; NEW_USER is published only on first join.
func (m *Manager) Join(ctx context.Context, sessionID, userID string, clientType event.ClientType) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.State != store.StateActive {
		return ErrInvalidTransition
	}
	addedMember, err := m.store.AddMember(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	addedContributor, err := m.store.AppendContributor(ctx, s.PlaylistID, userID)
	if err != nil {
		return err
	}
	if !addedMember && !addedContributor {
		return nil
	}
	return m.publish(ctx, sessionID, clientType, event.KindNewUser, event.UserPayload{UserID: userID})
}

func (m *Manager) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// SetCurrentlyPlaying overwrites the session's currently-playing marker,
// gated by the controlPlayback capability. No event is published: PLAY_SONG
// and NEXT_SONG cover the flows watchers follow, this is the resync hook.
func (m *Manager) SetCurrentlyPlaying(ctx context.Context, sessionID, actor string, ref *store.SongRef) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanPerform(s.Settings, ActionControlPlayback, actor, s) {
		return ErrPermissionDenied
	}
	return m.store.SetCurrentlyPlaying(ctx, sessionID, ref)
}

func (m *Manager) GetCurrentlyPlaying(ctx context.Context, sessionID string) (*store.SongRef, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.CurrentlyPlaying, nil
}

// GetPlaylist returns the session's playlist and songs, gated by the
// viewPlaylist capability.
func (m *Manager) GetPlaylist(ctx context.Context, sessionID, actor string) (store.Playlist, []store.Song, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Playlist{}, nil, err
	}
	if !CanPerform(s.Settings, ActionViewPlaylist, actor, s) {
		return store.Playlist{}, nil, ErrPermissionDenied
	}
	pl, err := m.store.GetPlaylist(ctx, s.PlaylistID)
	if err != nil {
		return store.Playlist{}, nil, err
	}
	songs, err := m.store.ListSongs(ctx, s.PlaylistID)
	if err != nil {
		return store.Playlist{}, nil, err
	}
	return pl, songs, nil
}

// UpdateSettings replaces the session settings wholesale. Host only.
func (m *Manager) UpdateSettings(ctx context.Context, sessionID, actor string, settings store.Settings, clientType event.ClientType) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanPerform(s.Settings, ActionChangeSettings, actor, s) {
		return ErrPermissionDenied
	}
	if _, err := selector.Parse(settings.Algorithm); err != nil {
		return err
	}
	if err := m.store.UpdateSettings(ctx, sessionID, settings); err != nil {
		return err
	}
	return m.publish(ctx, sessionID, clientType, event.KindSessionSettingsChanged, event.SettingsPayload{Settings: settings})
}

// ResetPlaylist zeroes every play count in the session's playlist and
// announces PLAYLIST_FINISHED. It does not touch currentlyPlaying; whoever
// handles the event decides what plays next.
func (m *Manager) ResetPlaylist(ctx context.Context, sessionID string, clientType event.ClientType) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.ResetPlayCounts(ctx, s.PlaylistID); err != nil {
		return err
	}
	return m.publish(ctx, sessionID, clientType, event.KindPlaylistFinished, event.EmptyPayload{})
}

// Remove deletes the session. Removing an already-removed session reports
// ErrNotFound so callers can detect stale state.
func (m *Manager) Remove(ctx context.Context, sessionID string, clientType event.ClientType) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	return m.publish(ctx, sessionID, clientType, event.KindSessionRemoved, event.EmptyPayload{})
}

// NewSong is the caller-supplied part of a song being added to the queue.
type NewSong struct {
	Source        store.SourceKind
	SourceID      string
	Title         string
	Artist        string
	Cover         string
	LengthSeconds int
	Album         string
}

// AddSong authorizes the actor, auto-joins them as a contributor, rejects
// duplicates on (source, sourceId) and publishes the platform's song-added
// event.
func (m *Manager) AddSong(ctx context.Context, sessionID, actor string, clientType event.ClientType, ns NewSong) (store.Song, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Song{}, err
	}
	if s.State != store.StateActive {
		return store.Song{}, ErrInvalidTransition
	}
	if !CanPerform(s.Settings, ActionAddToQueue, actor, s) {
		return store.Song{}, ErrPermissionDenied
	}

	var kind event.Kind
	switch ns.Source {
	case store.SourceYoutube:
		if !s.Settings.AllowYoutube {
			return store.Song{}, ErrPermissionDenied
		}
		kind = event.KindYoutubeSongAdded
	case store.SourceSpotify:
		if !s.Settings.AllowSpotify {
			return store.Song{}, ErrPermissionDenied
		}
		kind = event.KindSpotifySongAdded
	default:
		return store.Song{}, fmt.Errorf("unknown source %q", ns.Source)
	}

	if err := m.Join(ctx, sessionID, actor, clientType); err != nil && !errors.Is(err, ErrNotify) {
		return store.Song{}, err
	}

	song := store.Song{
		ID:            uuid.NewString(),
		PlaylistID:    s.PlaylistID,
		AddedByUserID: actor,
		Source:        ns.Source,
		SourceID:      ns.SourceID,
		Title:         ns.Title,
		Artist:        ns.Artist,
		Cover:         ns.Cover,
		LengthSeconds: ns.LengthSeconds,
		Album:         ns.Album,
	}
	if err := m.store.InsertSong(ctx, song); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Song{}, ErrDuplicateSong
		}
		return store.Song{}, err
	}
	return song, m.publish(ctx, sessionID, clientType, kind, event.SongPayload{Song: song})
}

// RemoveSong deletes a song from the session's playlist.
func (m *Manager) RemoveSong(ctx context.Context, sessionID, actor string, clientType event.ClientType, songID string) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanPerform(s.Settings, ActionAddToQueue, actor, s) {
		return ErrPermissionDenied
	}
	song, err := m.store.GetSong(ctx, songID)
	if err != nil {
		return err
	}
	if song.PlaylistID != s.PlaylistID {
		return store.ErrNotFound
	}
	if err := m.store.DeleteSong(ctx, songID); err != nil {
		return err
	}
	return m.publish(ctx, sessionID, clientType, event.KindSongRemoved, event.SongRemovedPayload{
		SongID:     songID,
		PlaylistID: s.PlaylistID,
	})
}

// NextSong runs the session's selection strategy over the playlist. On
// exhaustion the playlist is reset and PLAYLIST_FINISHED announced, and
// selector.ErrQueueExhausted is returned so the caller knows nothing was
// picked. On a pick, the session's currently-playing is updated and
// NEXT_SONG published.
func (m *Manager) NextSong(ctx context.Context, sessionID, actor string, clientType event.ClientType) (store.Song, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Song{}, err
	}
	if s.State != store.StateActive {
		return store.Song{}, ErrInvalidTransition
	}
	if !CanPerform(s.Settings, ActionControlPlayback, actor, s) {
		return store.Song{}, ErrPermissionDenied
	}

	strategy, err := selector.Parse(s.Settings.Algorithm)
	if err != nil {
		return store.Song{}, err
	}
	pl, err := m.store.GetPlaylist(ctx, s.PlaylistID)
	if err != nil {
		return store.Song{}, err
	}
	songs, err := m.store.ListSongs(ctx, s.PlaylistID)
	if err != nil {
		return store.Song{}, err
	}

	song, err := selector.SelectNext(songs, pl.Contributors, strategy)
	if errors.Is(err, selector.ErrQueueExhausted) {
		if resetErr := m.ResetPlaylist(ctx, sessionID, clientType); resetErr != nil {
			return store.Song{}, resetErr
		}
		return store.Song{}, err
	}
	if err != nil {
		return store.Song{}, err
	}

	ref := &store.SongRef{
		SongID:   song.ID,
		Source:   song.Source,
		SourceID: song.SourceID,
		Title:    song.Title,
	}
	if err := m.store.SetCurrentlyPlaying(ctx, sessionID, ref); err != nil {
		return store.Song{}, err
	}
	return song, m.publish(ctx, sessionID, clientType, event.KindNextSong, event.SongPayload{Song: song})
}

// SongFinished records one completed play and announces SONG_FINISHED. The
// song must belong to the session's playlist before anything is counted.
func (m *Manager) SongFinished(ctx context.Context, sessionID, songID string, clientType event.ClientType) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	song, err := m.store.GetSong(ctx, songID)
	if err != nil {
		return err
	}
	if song.PlaylistID != s.PlaylistID {
		return store.ErrNotFound
	}
	if err := m.store.IncrementPlayCount(ctx, songID); err != nil {
		return err
	}
	song.PlayCount++
	return m.publish(ctx, sessionID, clientType, event.KindSongFinished, event.SongPayload{Song: song})
}

// PlaySong makes the given song the session's currently-playing one and
// announces PLAY_SONG.
func (m *Manager) PlaySong(ctx context.Context, sessionID, actor string, clientType event.ClientType, songID string) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanPerform(s.Settings, ActionControlPlayback, actor, s) {
		return ErrPermissionDenied
	}
	song, err := m.store.GetSong(ctx, songID)
	if err != nil {
		return err
	}
	if song.PlaylistID != s.PlaylistID {
		return store.ErrNotFound
	}
	ref := &store.SongRef{
		SongID:   song.ID,
		Source:   song.Source,
		SourceID: song.SourceID,
		Title:    song.Title,
	}
	if err := m.store.SetCurrentlyPlaying(ctx, sessionID, ref); err != nil {
		return err
	}
	return m.publish(ctx, sessionID, clientType, event.KindPlaySong, event.SongPayload{Song: song})
}

// Control publishes one of the payload-free player control events
// (skip, previous, pause, resume) under the controlPlayback capability.
func (m *Manager) Control(ctx context.Context, sessionID, actor string, clientType event.ClientType, kind event.Kind) error {
	switch kind {
	case event.KindSkipSong, event.KindPreviousSong, event.KindPauseSong, event.KindResumeSong:
	default:
		return fmt.Errorf("not a control event: %q", kind)
	}
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanPerform(s.Settings, ActionControlPlayback, actor, s) {
		return ErrPermissionDenied
	}
	return m.publish(ctx, sessionID, clientType, kind, event.EmptyPayload{})
}

func (m *Manager) publish(ctx context.Context, sessionID string, clientType event.ClientType, kind event.Kind, payload event.Payload) error {
	if m.notifier == nil {
		return nil
	}
	if err := m.notifier.Notify(ctx, sessionID, clientType, kind, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrNotify, err)
	}
	return nil
}
