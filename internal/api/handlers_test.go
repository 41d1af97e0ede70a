package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-service/internal/event"
	"session-service/internal/session"
	"session-service/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []event.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, sessionID string, clientType event.ClientType, kind event.Kind, payload event.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event.Event{
		Session:    sessionID,
		ClientType: clientType,
		Kind:       kind,
		Payload:    payload,
	})
	return nil
}

func (n *recordingNotifier) kinds() []event.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]event.Kind, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

func newTestAPI(t *testing.T) (*httptest.Server, *store.Memory, *recordingNotifier) {
	t.Helper()
	mem := store.NewMemory()
	rec := &recordingNotifier{}
	ts := httptest.NewServer(NewServer(session.NewManager(mem, rec)).Router())
	t.Cleanup(ts.Close)
	return ts, mem, rec
}

func doReq(t *testing.T, ts *httptest.Server, method, path, userID, body string) *http.Response {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("{}")
	} else {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// createClaimed creates a session and claims it as "host" with playlist
// "pl-1" and default settings.
func createClaimed(t *testing.T, ts *httptest.Server, rec *recordingNotifier) string {
	t.Helper()
	resp := doReq(t, ts, http.MethodPost, "/sessions", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+created.ID+"/claim", "host", `{"playlistId":"pl-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec.reset()
	return created.ID
}

func TestCreateAndGetSession(t *testing.T) {
	ts, _, rec := newTestAPI(t)

	resp := doReq(t, ts, http.MethodPost, "/sessions", "", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []event.Kind{event.KindSessionCreated}, rec.kinds())

	resp = doReq(t, ts, http.MethodGet, "/sessions/"+created.ID, "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var sess store.Session
	decodeBody(t, resp, &sess)
	assert.Equal(t, store.StateUnclaimed, sess.State)

	resp = doReq(t, ts, http.MethodGet, "/sessions/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClaimSession(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodGet, "/sessions/"+id, "", "")
	var sess store.Session
	decodeBody(t, resp, &sess)
	assert.Equal(t, store.StateActive, sess.State)
	assert.Equal(t, "host", sess.HostUserID)
	assert.Equal(t, "pl-1", sess.PlaylistID)

	// Claiming twice is a lifecycle violation.
	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/claim", "other", `{"playlistId":"pl-2"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestClaimSession_Validation(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	resp := doReq(t, ts, http.MethodPost, "/sessions/x/claim", "", `{"playlistId":"pl-1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing user")

	resp = doReq(t, ts, http.MethodPost, "/sessions/x/claim", "host", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing playlistId")

	resp = doReq(t, ts, http.MethodPost, "/sessions/x/claim", "host",
		`{"playlistId":"pl-1","settings":{"algorithmUsed":"fifo"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown algorithm")
}

func TestJoinSession(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/join", "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindNewUser}, rec.kinds())

	// Re-joining succeeds but stays silent.
	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/join", "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindNewUser}, rec.kinds())

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/join", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinSession_RequiresClaim(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	resp := doReq(t, ts, http.MethodPost, "/sessions", "", "")
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+created.ID+"/join", "u1", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUpdateSettings(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	newSettings := `{"allowYoutube":true,"algorithmUsed":"classic"}`

	resp := doReq(t, ts, http.MethodPut, "/sessions/"+id+"/settings", "guest", newSettings)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "settings are host-only")
	assert.Empty(t, rec.kinds())

	resp = doReq(t, ts, http.MethodPut, "/sessions/"+id+"/settings", "host", newSettings)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindSessionSettingsChanged}, rec.kinds())

	var sess store.Session
	resp = doReq(t, ts, http.MethodGet, "/sessions/"+id, "", "")
	decodeBody(t, resp, &sess)
	assert.Equal(t, "classic", sess.Settings.Algorithm)
	assert.False(t, sess.Settings.AnyoneCanAddToQueue, "replace, not merge")
}

func TestAddSong(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	body := `{"source":"youtube","sourceId":"yt1","title":"First Song"}`
	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var song store.Song
	decodeBody(t, resp, &song)
	assert.Equal(t, "u1", song.AddedByUserID)
	assert.Equal(t, "pl-1", song.PlaylistID)
	// Adding a song implicitly joins the session first.
	assert.Equal(t, []event.Kind{event.KindNewUser, event.KindYoutubeSongAdded}, rec.kinds())

	rec.reset()
	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u2", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate (source, sourceId)")
	assert.Equal(t, []event.Kind{event.KindNewUser}, rec.kinds(), "failed insert publishes no song event")
}

func TestAddSong_Validation(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "", `{"source":"youtube","sourceId":"x","title":"t"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1", `{"source":"soundcloud","sourceId":"x","title":"t"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1", `{"source":"youtube","title":"t"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1",
		`{"source":"youtube","sourceId":"x","title":"`+strings.Repeat("a", 301)+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddSong_PlatformDisabled(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	settings := store.DefaultSettings()
	settings.AllowSpotify = false
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	resp := doReq(t, ts, http.MethodPut, "/sessions/"+id+"/settings", "host", string(data))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1",
		`{"source":"spotify","sourceId":"sp1","title":"t"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRemoveSong(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1",
		`{"source":"youtube","sourceId":"yt1","title":"t"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var song store.Song
	decodeBody(t, resp, &song)
	rec.reset()

	resp = doReq(t, ts, http.MethodDelete, "/sessions/"+id+"/songs/"+song.ID, "u1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindSongRemoved}, rec.kinds())

	resp = doReq(t, ts, http.MethodDelete, "/sessions/"+id+"/songs/"+song.ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNextSong(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1",
		`{"source":"youtube","sourceId":"yt1","title":"t"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec.reset()

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/next", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var song store.Song
	decodeBody(t, resp, &song)
	assert.Equal(t, "yt1", song.SourceID)
	assert.Equal(t, []event.Kind{event.KindNextSong}, rec.kinds())

	resp = doReq(t, ts, http.MethodGet, "/sessions/"+id+"/playing", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var playing struct {
		CurrentlyPlaying *store.SongRef `json:"currentlyPlaying"`
	}
	decodeBody(t, resp, &playing)
	require.NotNil(t, playing.CurrentlyPlaying)
	assert.Equal(t, song.ID, playing.CurrentlyPlaying.SongID)
}

func TestSetPlaying(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	body := `{"currentlyPlaying":{"songId":"a","source":"youtube","sourceId":"yt1","title":"X"}}`

	resp := doReq(t, ts, http.MethodPut, "/sessions/"+id+"/playing", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing user")

	resp = doReq(t, ts, http.MethodPut, "/sessions/"+id+"/playing", "guest", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, ts, http.MethodGet, "/sessions/"+id+"/playing", "", "")
	var playing struct {
		CurrentlyPlaying *store.SongRef `json:"currentlyPlaying"`
	}
	decodeBody(t, resp, &playing)
	require.NotNil(t, playing.CurrentlyPlaying)
	assert.Equal(t, "a", playing.CurrentlyPlaying.SongID)

	// With player controls closed, guests may no longer overwrite it.
	settings := store.DefaultSettings()
	settings.AnyoneCanUsePlayerControls = false
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	resp = doReq(t, ts, http.MethodPut, "/sessions/"+id+"/settings", "host", string(data))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, ts, http.MethodPut, "/sessions/"+id+"/playing", "guest", `{"currentlyPlaying":null}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doReq(t, ts, http.MethodGet, "/sessions/"+id+"/playing", "", "")
	decodeBody(t, resp, &playing)
	require.NotNil(t, playing.CurrentlyPlaying, "rejected write left state untouched")
}

func TestNextSong_ExhaustedQueue(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/next", "u1", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "playlist finished", body.Error)
	assert.Equal(t, []event.Kind{event.KindPlaylistFinished}, rec.kinds())
}

func TestSongFinished(t *testing.T) {
	ts, mem, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1",
		`{"source":"youtube","sourceId":"yt1","title":"t"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var song store.Song
	decodeBody(t, resp, &song)
	rec.reset()

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/finished", "u1", `{"songId":"`+song.ID+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindSongFinished}, rec.kinds())

	got, err := mem.GetSong(context.Background(), song.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PlayCount)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/finished", "u1", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing songId")
}

func TestControl(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/control", "guest", `{"action":"pause"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindPauseSong}, rec.kinds())

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/control", "guest", `{"action":"eject"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/control", "guest", `{"action":"play"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "play requires songId")
}

func TestControl_PermissionDenied(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	settings := store.DefaultSettings()
	settings.AnyoneCanUsePlayerControls = false
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	resp := doReq(t, ts, http.MethodPut, "/sessions/"+id+"/settings", "host", string(data))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec.reset()

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/control", "guest", `{"action":"skip"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, rec.kinds())

	resp = doReq(t, ts, http.MethodPost, "/sessions/"+id+"/control", "host", `{"action":"skip"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetPlaylist(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodPost, "/sessions/"+id+"/songs", "u1",
		`{"source":"youtube","sourceId":"yt1","title":"t"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, ts, http.MethodGet, "/sessions/"+id+"/playlist", "guest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Playlist store.Playlist `json:"playlist"`
		Songs    []store.Song   `json:"songs"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "pl-1", body.Playlist.ID)
	assert.Len(t, body.Songs, 1)
}

func TestRemoveSession(t *testing.T) {
	ts, _, rec := newTestAPI(t)
	id := createClaimed(t, ts, rec)

	resp := doReq(t, ts, http.MethodDelete, "/sessions/"+id, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []event.Kind{event.KindSessionRemoved}, rec.kinds())

	resp = doReq(t, ts, http.MethodDelete, "/sessions/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doReq(t, ts, http.MethodGet, "/sessions/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
