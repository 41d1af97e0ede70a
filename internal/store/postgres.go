package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the slice of pgxpool.Pool the store uses, extracted so tests can
// substitute pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on top of pgx. All atomicity-critical operations
// are single statements.
type Postgres struct {
	db PgxPool
}

func NewPostgres(db PgxPool) *Postgres {
	return &Postgres{db: db}
}

// AutoMigrate creates the schema if it does not exist.
func AutoMigrate(ctx context.Context, db PgxPool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			state             TEXT NOT NULL DEFAULT 'unclaimed',
			host_user_id      TEXT NOT NULL DEFAULT '',
			playlist_id       TEXT NOT NULL DEFAULT '',
			currently_playing JSONB,
			settings          JSONB NOT NULL DEFAULT '{}',
			members           TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS playlists (
			id            TEXT PRIMARY KEY,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			name          TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			contributors  TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS songs (
			id             TEXT PRIMARY KEY,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			playlist_id    TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
			added_by       TEXT NOT NULL,
			source         TEXT NOT NULL,
			source_id      TEXT NOT NULL,
			title          TEXT NOT NULL,
			artist         TEXT NOT NULL DEFAULT '',
			cover          TEXT NOT NULL DEFAULT '',
			length_seconds INT NOT NULL DEFAULT 0,
			album          TEXT NOT NULL DEFAULT '',
			play_count     INT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_songs_playlist_source
			ON songs(playlist_id, source, source_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s Session) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO sessions (id, state, host_user_id, playlist_id, settings, members)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, string(s.State), s.HostUserID, s.PlaylistID, settings, s.Members)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		s        Session
		state    string
		playing  []byte
		settings []byte
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, created_at, state, host_user_id, playlist_id, currently_playing, settings, members
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.CreatedAt, &state, &s.HostUserID, &s.PlaylistID, &playing, &settings, &s.Members)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.State = SessionState(state)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s.Settings); err != nil {
			return Session{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if len(playing) > 0 {
		var ref SongRef
		if err := json.Unmarshal(playing, &ref); err != nil {
			return Session{}, fmt.Errorf("unmarshal currently playing: %w", err)
		}
		s.CurrentlyPlaying = &ref
	}
	return s, nil
}

// ClaimSession is a conditional update: only an unclaimed session matches, so
// two concurrent claims cannot both win.
func (p *Postgres) ClaimSession(ctx context.Context, id, hostUserID, playlistID string, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE sessions
		SET state = 'active', host_user_id = $2, playlist_id = $3, settings = $4
		WHERE id = $1 AND state = 'unclaimed'
	`, id, hostUserID, playlistID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing session from one already claimed.
		if _, err := p.GetSession(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) UpdateSettings(ctx context.Context, id string, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tag, err := p.db.Exec(ctx, `UPDATE sessions SET settings = $2 WHERE id = $1`, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetCurrentlyPlaying(ctx context.Context, id string, ref *SongRef) error {
	var data []byte
	if ref != nil {
		var err error
		if data, err = json.Marshal(ref); err != nil {
			return fmt.Errorf("marshal song ref: %w", err)
		}
	}
	tag, err := p.db.Exec(ctx, `UPDATE sessions SET currently_playing = $2 WHERE id = $1`, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AddMember(ctx context.Context, id, userID string) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE sessions
		SET members = array_append(members, $2)
		WHERE id = $1 AND NOT members @> ARRAY[$2]
	`, id, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetSession(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) DeleteSession(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreatePlaylist(ctx context.Context, pl Playlist) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO playlists (id, name, owner_user_id, contributors)
		VALUES ($1, $2, $3, $4)
	`, pl.ID, pl.Name, pl.OwnerUserID, pl.Contributors)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetPlaylist(ctx context.Context, id string) (Playlist, error) {
	var pl Playlist
	err := p.db.QueryRow(ctx, `
		SELECT id, created_at, name, owner_user_id, contributors
		FROM playlists
		WHERE id = $1
	`, id).Scan(&pl.ID, &pl.CreatedAt, &pl.Name, &pl.OwnerUserID, &pl.Contributors)
	if errors.Is(err, pgx.ErrNoRows) {
		return Playlist{}, ErrNotFound
	}
	return pl, err
}

// AppendContributor is a single conditional statement so two users joining at
// the same moment both land in the list, and the same user twice does not.
func (p *Postgres) AppendContributor(ctx context.Context, playlistID, userID string) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE playlists
		SET contributors = array_append(contributors, $2)
		WHERE id = $1 AND NOT contributors @> ARRAY[$2]
	`, playlistID, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.GetPlaylist(ctx, playlistID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) InsertSong(ctx context.Context, s Song) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO songs (id, playlist_id, added_by, source, source_id, title, artist, cover, length_seconds, album, play_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.PlaylistID, s.AddedByUserID, string(s.Source), s.SourceID,
		s.Title, s.Artist, s.Cover, s.LengthSeconds, s.Album, s.PlayCount)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetSong(ctx context.Context, id string) (Song, error) {
	var (
		s      Song
		source string
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, created_at, playlist_id, added_by, source, source_id, title, artist, cover, length_seconds, album, play_count
		FROM songs
		WHERE id = $1
	`, id).Scan(&s.ID, &s.CreatedAt, &s.PlaylistID, &s.AddedByUserID, &source, &s.SourceID,
		&s.Title, &s.Artist, &s.Cover, &s.LengthSeconds, &s.Album, &s.PlayCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Song{}, ErrNotFound
	}
	s.Source = SourceKind(source)
	return s, err
}

func (p *Postgres) ListSongs(ctx context.Context, playlistID string) ([]Song, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, created_at, playlist_id, added_by, source, source_id, title, artist, cover, length_seconds, album, play_count
		FROM songs
		WHERE playlist_id = $1
		ORDER BY created_at ASC
	`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	songs := []Song{}
	for rows.Next() {
		var (
			s      Song
			source string
		)
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.PlaylistID, &s.AddedByUserID, &source, &s.SourceID,
			&s.Title, &s.Artist, &s.Cover, &s.LengthSeconds, &s.Album, &s.PlayCount); err != nil {
			return nil, err
		}
		s.Source = SourceKind(source)
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

func (p *Postgres) DeleteSong(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM songs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) IncrementPlayCount(ctx context.Context, songID string) error {
	tag, err := p.db.Exec(ctx, `UPDATE songs SET play_count = play_count + 1 WHERE id = $1`, songID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ResetPlayCounts(ctx context.Context, playlistID string) error {
	_, err := p.db.Exec(ctx, `UPDATE songs SET play_count = 0 WHERE playlist_id = $1`, playlistID)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
