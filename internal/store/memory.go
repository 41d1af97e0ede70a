package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. It
// honors the same atomicity contract as the Postgres store: every method is
// a single critical section.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]Session
	playlists map[string]Playlist
	songs     map[string]Song
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]Session),
		playlists: make(map[string]Playlist),
		songs:     make(map[string]Song),
	}
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	s.Members = slices.Clone(s.Members)
	return s, nil
}

func (m *Memory) ClaimSession(_ context.Context, id, hostUserID, playlistID string, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State != StateUnclaimed {
		return ErrConflict
	}
	s.State = StateActive
	s.HostUserID = hostUserID
	s.PlaylistID = playlistID
	s.Settings = settings
	m.sessions[id] = s
	return nil
}

func (m *Memory) UpdateSettings(_ context.Context, id string, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Settings = settings
	m.sessions[id] = s
	return nil
}

func (m *Memory) SetCurrentlyPlaying(_ context.Context, id string, ref *SongRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.CurrentlyPlaying = ref
	m.sessions[id] = s
	return nil
}

func (m *Memory) AddMember(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if slices.Contains(s.Members, userID) {
		return false, nil
	}
	s.Members = append(slices.Clone(s.Members), userID)
	m.sessions[id] = s
	return true, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) CreatePlaylist(_ context.Context, p Playlist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playlists[p.ID]; ok {
		return ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.playlists[p.ID] = p
	return nil
}

func (m *Memory) GetPlaylist(_ context.Context, id string) (Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[id]
	if !ok {
		return Playlist{}, ErrNotFound
	}
	p.Contributors = slices.Clone(p.Contributors)
	return p, nil
}

func (m *Memory) AppendContributor(_ context.Context, playlistID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[playlistID]
	if !ok {
		return false, ErrNotFound
	}
	if slices.Contains(p.Contributors, userID) {
		return false, nil
	}
	p.Contributors = append(slices.Clone(p.Contributors), userID)
	m.playlists[playlistID] = p
	return true, nil
}

func (m *Memory) InsertSong(_ context.Context, s Song) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.songs {
		if existing.PlaylistID == s.PlaylistID && existing.Source == s.Source && existing.SourceID == s.SourceID {
			return ErrDuplicate
		}
	}
	if _, ok := m.songs[s.ID]; ok {
		return ErrDuplicate
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.songs[s.ID] = s
	return nil
}

func (m *Memory) GetSong(_ context.Context, id string) (Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return Song{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSongs(_ context.Context, playlistID string) ([]Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	songs := []Song{}
	for _, s := range m.songs {
		if s.PlaylistID == playlistID {
			songs = append(songs, s)
		}
	}
	slices.SortFunc(songs, func(a, b Song) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return songs, nil
}

func (m *Memory) DeleteSong(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.songs[id]; !ok {
		return ErrNotFound
	}
	delete(m.songs, id)
	return nil
}

func (m *Memory) IncrementPlayCount(_ context.Context, songID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.PlayCount++
	m.songs[songID] = s
	return nil
}

func (m *Memory) ResetPlayCounts(_ context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.songs {
		if s.PlaylistID == playlistID {
			s.PlayCount = 0
			m.songs[id] = s
		}
	}
	return nil
}
