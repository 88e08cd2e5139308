package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aluiziolira/go-scrape-music/models"
)

// DB represents the sqlite3 database file.
type DB struct{ *gorm.DB }

//go:embed schema.sql
var schema string

type genreRow struct {
	Name        string
	Description string
}

func (genreRow) TableName() string { return "genre_genre" }

type artistRow struct {
	Username    string
	Description string
	Avatar      string
}

func (artistRow) TableName() string { return "artist_artist" }

type artistGenreRow struct {
	Artist string
	Genre  string
}

func (artistGenreRow) TableName() string { return "artist_artist_genres" }

type albumRow struct {
	Artist          string
	Name            string
	PublicationDate time.Time
	Cover           string
}

func (albumRow) TableName() string { return "albums_album" }

type songRow struct {
	Artist   string
	Album    string
	Name     string
	Duration string
}

func (songRow) TableName() string { return "song_song" }

// Open returns a connection to a migrated sqlite3 database file on disk,
// creating the file and running migrations if necessary.
func Open(filename string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening db file at '%s': %w", filename, err)
	}

	db := &DB{gdb}

	if err := db.Exec(schema).Error; err != nil {
		return nil, fmt.Errorf("error migrating db at '%s': %w", filename, err)
	}

	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// createAll inserts rows through tx, doing nothing for rows that already exist.
func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// SaveGenres inserts genres into genre_genre.
func (db *DB) SaveGenres(ctx context.Context, genres []models.Genre) error {
	rows := make([]genreRow, 0, len(genres))
	for _, g := range genres {
		rows = append(rows, genreRow{Name: g.Name, Description: shortDescription(g.Description)})
	}
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createAll(tx, rows); err != nil {
			return fmt.Errorf("error inserting genres: %w", err)
		}
		return nil
	})
}

// SaveArtists inserts artists and links each to genre.
func (db *DB) SaveArtists(ctx context.Context, genre string, artists []models.Artist) error {
	if len(artists) == 0 {
		return nil
	}
	rows := make([]artistRow, 0, len(artists))
	links := make([]artistGenreRow, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, artistRow{Username: a.Username, Description: shortDescription(a.Description), Avatar: a.Avatar})
		links = append(links, artistGenreRow{Artist: a.Username, Genre: genre})
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createAll(tx, rows); err != nil {
			return fmt.Errorf("error inserting artists of '%s': %w", genre, err)
		}
		if err := createAll(tx, links); err != nil {
			return fmt.Errorf("error linking artists to '%s': %w", genre, err)
		}
		return nil
	})
}

// SaveAlbumPage inserts the albums of artist into albums_album and their
// songs into song_song in one transaction.
func (db *DB) SaveAlbumPage(ctx context.Context, artist string, albums []models.Album, songs []models.Song) error {
	if len(albums) == 0 && len(songs) == 0 {
		return nil
	}
	albumRows := make([]albumRow, 0, len(albums))
	for _, a := range albums {
		albumRows = append(albumRows, albumRow{Artist: artist, Name: a.Name, PublicationDate: a.PublicationDate, Cover: a.Cover})
	}
	songRows := make([]songRow, 0, len(songs))
	for _, s := range songs {
		songRows = append(songRows, songRow{Artist: artist, Album: s.Album, Name: s.Name, Duration: models.FormatClock(s.Duration)})
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createAll(tx, albumRows); err != nil {
			return fmt.Errorf("error inserting albums of '%s': %w", artist, err)
		}
		if err := createAll(tx, songRows); err != nil {
			return fmt.Errorf("error inserting songs of '%s': %w", artist, err)
		}
		return nil
	})
}

// ListGenres returns every genre in insertion order.
func (db *DB) ListGenres(ctx context.Context) ([]models.Genre, error) {
	var rows []genreRow
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing genres: %w", err)
	}
	genres := make([]models.Genre, 0, len(rows))
	for _, r := range rows {
		genres = append(genres, models.Genre{Name: r.Name, Description: r.Description})
	}
	return genres, nil
}

// ListArtists returns every artist in insertion order.
func (db *DB) ListArtists(ctx context.Context) ([]models.Artist, error) {
	var rows []artistRow
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing artists: %w", err)
	}
	artists := make([]models.Artist, 0, len(rows))
	for _, r := range rows {
		artists = append(artists, models.Artist{Username: r.Username, Description: r.Description, Avatar: r.Avatar})
	}
	return artists, nil
}

// ListAlbums returns every album in insertion order.
func (db *DB) ListAlbums(ctx context.Context) ([]AlbumRecord, error) {
	var rows []albumRow
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing albums: %w", err)
	}
	albums := make([]AlbumRecord, 0, len(rows))
	for _, r := range rows {
		albums = append(albums, AlbumRecord{
			Artist: r.Artist,
			Album:  models.Album{Name: r.Name, PublicationDate: r.PublicationDate.UTC(), Cover: r.Cover},
		})
	}
	return albums, nil
}

// ListSongs returns every song in insertion order.
func (db *DB) ListSongs(ctx context.Context) ([]SongRecord, error) {
	var rows []songRow
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing songs: %w", err)
	}
	songs := make([]SongRecord, 0, len(rows))
	for _, r := range rows {
		d, err := models.ParseClock(r.Duration)
		if err != nil {
			return nil, fmt.Errorf("error reading song '%s': %w", r.Name, err)
		}
		songs = append(songs, SongRecord{
			Artist: r.Artist,
			Song:   models.Song{Name: r.Name, Duration: d, Album: r.Album},
		})
	}
	return songs, nil
}
