package db

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-music/config"
	"github.com/aluiziolira/go-scrape-music/models"
)

var validSchemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

//go:embed schema_postgres.sql
var postgresSchema string

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Postgres writes records into tables of one Postgres schema.
type Postgres struct {
	pool   pool
	schema string
}

// NewPostgres connects to the database described by cfg.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if !validSchemaName.MatchString(cfg.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: p, schema: cfg.Schema}, nil
}

// NewPostgresWithPool constructs a sink from an existing pool (primarily for testing).
func NewPostgresWithPool(p pool, schema string) (*Postgres, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if schema == "" {
		schema = "public"
	}
	if !validSchemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	return &Postgres{pool: p, schema: schema}, nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Migrate creates the tables when they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	ddl := strings.ReplaceAll(postgresSchema, "{{schema}}", p.schema)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate schema %s: %w", p.schema, err)
	}
	return nil
}

func (p *Postgres) table(name string) string {
	return p.schema + "." + name
}

// inTx runs fn in one transaction, rolling back when fn fails.
func (p *Postgres) inTx(ctx context.Context, what string, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s insert: %w", what, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}

// execAll runs query once per argument list.
func execAll(ctx context.Context, tx pgx.Tx, what, query string, rows [][]any) error {
	for _, args := range rows {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", what, err)
		}
	}
	return nil
}

// SaveGenres inserts genres into genre_genre.
func (p *Postgres) SaveGenres(ctx context.Context, genres []models.Genre) error {
	if len(genres) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (name, description) VALUES ($1, $2) ON CONFLICT DO NOTHING`, p.table("genre_genre"))
	rows := make([][]any, 0, len(genres))
	for _, g := range genres {
		rows = append(rows, []any{g.Name, shortDescription(g.Description)})
	}
	return p.inTx(ctx, "genres", func(tx pgx.Tx) error {
		return execAll(ctx, tx, "genres", query, rows)
	})
}

// SaveArtists inserts artists and links each to genre.
func (p *Postgres) SaveArtists(ctx context.Context, genre string, artists []models.Artist) error {
	if len(artists) == 0 {
		return nil
	}
	artistQuery := fmt.Sprintf(`INSERT INTO %s (username, description, avatar) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, p.table("artist_artist"))
	linkQuery := fmt.Sprintf(`INSERT INTO %s (artist, genre) VALUES ($1, $2) ON CONFLICT DO NOTHING`, p.table("artist_artist_genres"))

	return p.inTx(ctx, fmt.Sprintf("artists of %q", genre), func(tx pgx.Tx) error {
		for _, a := range artists {
			if _, err := tx.Exec(ctx, artistQuery, a.Username, shortDescription(a.Description), a.Avatar); err != nil {
				return fmt.Errorf("insert artist %q: %w", a.Username, err)
			}
			if _, err := tx.Exec(ctx, linkQuery, a.Username, genre); err != nil {
				return fmt.Errorf("link artist %q to %q: %w", a.Username, genre, err)
			}
		}
		return nil
	})
}

// SaveAlbumPage inserts the albums of artist into albums_album and their
// songs into song_song in one transaction.
func (p *Postgres) SaveAlbumPage(ctx context.Context, artist string, albums []models.Album, songs []models.Song) error {
	if len(albums) == 0 && len(songs) == 0 {
		return nil
	}
	albumQuery := fmt.Sprintf(`INSERT INTO %s (artist, name, publication_date, cover) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, p.table("albums_album"))
	songQuery := fmt.Sprintf(`INSERT INTO %s (artist, album, name, duration) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, p.table("song_song"))

	albumRows := make([][]any, 0, len(albums))
	for _, a := range albums {
		albumRows = append(albumRows, []any{artist, a.Name, a.PublicationDate, a.Cover})
	}
	songRows := make([][]any, 0, len(songs))
	for _, s := range songs {
		songRows = append(songRows, []any{artist, s.Album, s.Name, s.Duration})
	}

	return p.inTx(ctx, fmt.Sprintf("albums of %q", artist), func(tx pgx.Tx) error {
		if err := execAll(ctx, tx, "albums", albumQuery, albumRows); err != nil {
			return err
		}
		return execAll(ctx, tx, "songs", songQuery, songRows)
	})
}

// ListGenres returns every genre in insertion order.
func (p *Postgres) ListGenres(ctx context.Context) ([]models.Genre, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT name, description FROM %s ORDER BY id`, p.table("genre_genre")))
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Genre, error) {
		var g models.Genre
		err := row.Scan(&g.Name, &g.Description)
		return g, err
	})
}

// ListArtists returns every artist in insertion order.
func (p *Postgres) ListArtists(ctx context.Context) ([]models.Artist, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT username, description, avatar FROM %s ORDER BY id`, p.table("artist_artist")))
	if err != nil {
		return nil, fmt.Errorf("list artists: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Artist, error) {
		var a models.Artist
		err := row.Scan(&a.Username, &a.Description, &a.Avatar)
		return a, err
	})
}

// ListAlbums returns every album in insertion order.
func (p *Postgres) ListAlbums(ctx context.Context) ([]AlbumRecord, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT artist, name, publication_date, cover FROM %s ORDER BY id`, p.table("albums_album")))
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AlbumRecord, error) {
		var a AlbumRecord
		err := row.Scan(&a.Artist, &a.Name, &a.PublicationDate, &a.Cover)
		return a, err
	})
}

// ListSongs returns every song in insertion order.
func (p *Postgres) ListSongs(ctx context.Context) ([]SongRecord, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT artist, album, name, duration FROM %s ORDER BY id`, p.table("song_song")))
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SongRecord, error) {
		var s SongRecord
		var d time.Duration
		if err := row.Scan(&s.Artist, &s.Album, &s.Name, &d); err != nil {
			return s, err
		}
		s.Duration = d
		return s, nil
	})
}
