package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateSession(ctx, Session{ID: "s1", State: StateUnclaimed}))
	assert.ErrorIs(t, m.CreateSession(ctx, Session{ID: "s1"}), ErrDuplicate)

	_, err := m.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.ClaimSession(ctx, "s1", "host", "pl-1", DefaultSettings()))
	assert.ErrorIs(t, m.ClaimSession(ctx, "s1", "host", "pl-1", DefaultSettings()), ErrConflict)
	assert.ErrorIs(t, m.ClaimSession(ctx, "nope", "host", "pl-1", DefaultSettings()), ErrNotFound)

	s, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, "host", s.HostUserID)

	require.NoError(t, m.DeleteSession(ctx, "s1"))
	assert.ErrorIs(t, m.DeleteSession(ctx, "s1"), ErrNotFound)
}

func TestMemory_AddMemberIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateSession(ctx, Session{ID: "s1"}))

	added, err := m.AddMember(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.AddMember(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.False(t, added)

	s, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, s.Members)
}

func TestMemory_AppendContributorConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreatePlaylist(ctx, Playlist{ID: "pl-1", Name: "p", OwnerUserID: "host"}))

	// Two distinct users appended concurrently must both land; repeats of
	// the same user must not duplicate.
	var wg sync.WaitGroup
	for range 20 {
		for _, u := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := m.AppendContributor(ctx, "pl-1", user)
				assert.NoError(t, err)
			}(u)
		}
	}
	wg.Wait()

	pl, err := m.GetPlaylist(ctx, "pl-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, pl.Contributors)
}

func TestMemory_SongDedupAndCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreatePlaylist(ctx, Playlist{ID: "pl-1"}))

	song := Song{ID: "a", PlaylistID: "pl-1", Source: SourceYoutube, SourceID: "yt1", Title: "X"}
	require.NoError(t, m.InsertSong(ctx, song))

	dup := Song{ID: "b", PlaylistID: "pl-1", Source: SourceYoutube, SourceID: "yt1", Title: "X again"}
	assert.ErrorIs(t, m.InsertSong(ctx, dup), ErrDuplicate)

	// Same source id in another playlist is fine.
	other := Song{ID: "c", PlaylistID: "pl-2", Source: SourceYoutube, SourceID: "yt1", Title: "X"}
	require.NoError(t, m.InsertSong(ctx, other))

	require.NoError(t, m.IncrementPlayCount(ctx, "a"))
	require.NoError(t, m.IncrementPlayCount(ctx, "a"))
	got, err := m.GetSong(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.PlayCount)

	require.NoError(t, m.ResetPlayCounts(ctx, "pl-1"))
	got, err = m.GetSong(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.PlayCount)

	songs, err := m.ListSongs(ctx, "pl-1")
	require.NoError(t, err)
	assert.Len(t, songs, 1)

	require.NoError(t, m.DeleteSong(ctx, "a"))
	assert.ErrorIs(t, m.DeleteSong(ctx, "a"), ErrNotFound)
	assert.ErrorIs(t, m.IncrementPlayCount(ctx, "a"), ErrNotFound)
}

func TestMemory_SetCurrentlyPlaying(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateSession(ctx, Session{ID: "s1"}))

	ref := &SongRef{SongID: "a", Source: SourceYoutube, SourceID: "yt1", Title: "X"}
	require.NoError(t, m.SetCurrentlyPlaying(ctx, "s1", ref))

	s, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s.CurrentlyPlaying)
	assert.Equal(t, "a", s.CurrentlyPlaying.SongID)

	require.NoError(t, m.SetCurrentlyPlaying(ctx, "s1", nil))
	s, err = m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, s.CurrentlyPlaying)
}
