// Package db writes harvested records to relational databases and reads them back.
package db

import (
	"context"
	"encoding/json"

	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/parser"
)

// AlbumRecord is an album row with the artist it belongs to.
type AlbumRecord struct {
	Artist string
	models.Album
}

// SongRecord is a song row with the artist it belongs to. Song.Album names the album.
type SongRecord struct {
	Artist string
	models.Song
}

// MarshalJSON nests the album under its artist.
func (r AlbumRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Artist string       `json:"artist"`
		Album  models.Album `json:"album"`
	}{r.Artist, r.Album})
}

// MarshalJSON nests the song under its artist and album.
func (r SongRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Artist string      `json:"artist"`
		Album  string      `json:"album"`
		Song   models.Song `json:"song"`
	}{r.Artist, r.Song.Album, r.Song})
}

// Catalog reads persisted rows back.
type Catalog interface {
	ListGenres(ctx context.Context) ([]models.Genre, error)
	ListArtists(ctx context.Context) ([]models.Artist, error)
	ListAlbums(ctx context.Context) ([]AlbumRecord, error)
	ListSongs(ctx context.Context) ([]SongRecord, error)
}

// shortDescription keeps the first sentence of a description for the row.
func shortDescription(description string) string {
	return parser.FirstSentence(description)
}
