package pipeline

import (
	"context"

	"github.com/aluiziolira/go-scrape-music/models"
)

// RecordSink receives each persisted batch. Implementations write a batch
// atomically and ignore rows they already hold.
type RecordSink interface {
	SaveGenres(ctx context.Context, genres []models.Genre) error
	SaveArtists(ctx context.Context, genre string, artists []models.Artist) error
	SaveAlbumPage(ctx context.Context, artist string, albums []models.Album, songs []models.Song) error
}

// MultiSink hands every batch to each sink in order and stops at the first error.
// Sinks do not share a transaction: after a failure the earlier sinks keep the
// batch, and the rerun of the stage inserts it again as a no-op.
type MultiSink []RecordSink

// SaveGenres implements RecordSink.
func (m MultiSink) SaveGenres(ctx context.Context, genres []models.Genre) error {
	for _, s := range m {
		if err := s.SaveGenres(ctx, genres); err != nil {
			return err
		}
	}
	return nil
}

// SaveArtists implements RecordSink.
func (m MultiSink) SaveArtists(ctx context.Context, genre string, artists []models.Artist) error {
	for _, s := range m {
		if err := s.SaveArtists(ctx, genre, artists); err != nil {
			return err
		}
	}
	return nil
}

// SaveAlbumPage implements RecordSink.
func (m MultiSink) SaveAlbumPage(ctx context.Context, artist string, albums []models.Album, songs []models.Song) error {
	for _, s := range m {
		if err := s.SaveAlbumPage(ctx, artist, albums, songs); err != nil {
			return err
		}
	}
	return nil
}
