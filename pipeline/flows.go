package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-music/checkpoint"
	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/parser"
	"github.com/aluiziolira/go-scrape-music/scraper"
)

func (o *Orchestrator) resolveArtistImages(ctx context.Context, artists []string) ([]checkpoint.Artifact, error) {
	refs := make([]models.ImageRef, 0, len(artists))
	for _, artist := range artists {
		img, err := o.engine.ResolveImage(ctx, scraper.KindArtistImage, o.resolver.ArtistPage(artist), o.resolver.ArtistImages(artist))
		if err != nil {
			return nil, fmt.Errorf("image of %s: %w", artist, err)
		}
		u, ok := img.Get()
		if !ok {
			o.missingImage(artist)
			continue
		}
		refs = append(refs, models.ImageRef{Name: artist, URL: u})
	}
	return []checkpoint.Artifact{{Name: ArtifactArtistImages, Payload: refs}}, nil
}

func (o *Orchestrator) persistArtists(ctx context.Context, genre string, names []string) ([]checkpoint.Artifact, error) {
	artists := make([]models.Artist, 0, len(names))
	for _, name := range names {
		desc, err := o.engine.ExtractFrom(ctx, o.resolver.ArtistDescription(name), scraper.KindDescription)
		if err != nil {
			return nil, fmt.Errorf("description of %s: %w", name, err)
		}
		artist := models.Artist{
			Username:    name,
			Description: desc.OrElse(models.NoDescription),
			Avatar:      o.mediaPath(name),
		}
		if err := parser.ValidateArtist(artist); err != nil {
			o.logger.Warn("skipping artist", slog.String("genre", genre), slog.Any("error", err))
			continue
		}
		artists = append(artists, artist)
	}

	err := o.save(ctx, func(ctx context.Context, sink RecordSink) error {
		return sink.SaveArtists(ctx, genre, artists)
	})
	if err != nil {
		return nil, fmt.Errorf("save artists: %w", err)
	}
	o.result.RecordCount += len(artists)
	o.metrics.AddItems("artist", len(artists))
	return []checkpoint.Artifact{{Name: ArtifactArtists, Payload: artists}}, nil
}

func (o *Orchestrator) resolveAlbumCovers(ctx context.Context, artist string, albums []string) ([]checkpoint.Artifact, error) {
	refs := make([]models.ImageRef, 0, len(albums))
	for _, album := range albums {
		img, err := o.engine.ResolveImage(ctx, scraper.KindAlbumCover, o.resolver.Album(artist, album), o.resolver.AlbumCovers(artist, album))
		if err != nil {
			return nil, fmt.Errorf("cover of %s/%s: %w", artist, album, err)
		}
		u, ok := img.Get()
		if !ok {
			o.missingImage(artist + "/" + album)
			continue
		}
		refs = append(refs, models.ImageRef{Name: album, URL: u})
	}
	return []checkpoint.Artifact{{Name: ArtifactAlbumCovers, Payload: refs}}, nil
}

// persistAlbums builds every album of the page and its songs, then hands both
// to the sink as one batch.
func (o *Orchestrator) persistAlbums(ctx context.Context, artist string, names []string) ([]checkpoint.Artifact, error) {
	albums := make([]models.Album, 0, len(names))
	songs := make([]models.Song, 0)
	for _, name := range names {
		album, tracks, err := o.albumDetails(ctx, artist, name)
		if err != nil {
			return nil, err
		}
		if err := parser.ValidateAlbum(album); err != nil {
			o.logger.Warn("skipping album", slog.String("artist", artist), slog.Any("error", err))
			continue
		}
		albums = append(albums, album)
		songs = append(songs, tracks...)
	}

	err := o.save(ctx, func(ctx context.Context, sink RecordSink) error {
		return sink.SaveAlbumPage(ctx, artist, albums, songs)
	})
	if err != nil {
		return nil, fmt.Errorf("save albums: %w", err)
	}

	o.result.RecordCount += len(albums) + len(songs)
	o.metrics.AddItems("album", len(albums))
	o.metrics.AddItems("song", len(songs))
	return []checkpoint.Artifact{
		{Name: ArtifactAlbums, Payload: albums},
		{Name: ArtifactSongs, Payload: songs},
	}, nil
}

// albumDetails reads an album page. A missing page yields the album with the
// fallback release date and no songs.
func (o *Orchestrator) albumDetails(ctx context.Context, artist, name string) (models.Album, []models.Song, error) {
	album := models.Album{
		Name:            name,
		PublicationDate: parser.FallbackReleaseDate,
		Cover:           o.mediaPath(artist, name),
	}

	doc, err := o.engine.Document(ctx, o.resolver.Album(artist, name))
	if err != nil {
		if !scraper.IsStatus(err) {
			return album, nil, err
		}
		o.logger.Warn("album page unavailable",
			slog.String("artist", artist),
			slog.String("album", name),
			slog.Any("error", err),
		)
		return album, nil, nil
	}

	date, err := releaseDate(doc)
	if err != nil {
		return album, nil, fmt.Errorf("release date of %s/%s: %w", artist, name, err)
	}
	album.PublicationDate = date
	return album, o.tracks(doc, artist, name), nil
}

// releaseDate reads the second catalogue metadata entry. Albums without it
// get the fallback date.
func releaseDate(doc *goquery.Document) (time.Time, error) {
	meta := scraper.Extract(doc, scraper.Rules[scraper.KindAlbumMetadata])
	if len(meta) < 2 {
		return parser.FallbackReleaseDate, nil
	}
	return parser.ParseDate(meta[1])
}

// tracks pairs track names with durations by position. A track whose duration
// does not parse is dropped.
func (o *Orchestrator) tracks(doc *goquery.Document, artist, album string) []models.Song {
	names := scraper.Extract(doc, scraper.Rules[scraper.KindTrackName])
	durations := scraper.Extract(doc, scraper.Rules[scraper.KindTrackDuration])
	if len(names) != len(durations) {
		o.logger.Warn("track list and durations differ in length",
			slog.String("album", artist+"/"+album),
			slog.Int("names", len(names)),
			slog.Int("durations", len(durations)),
		)
	}

	n := min(len(names), len(durations))
	songs := make([]models.Song, 0, n)
	for i := 0; i < n; i++ {
		d, err := parser.ParseDuration(durations[i])
		if err != nil {
			o.logger.Warn("dropping track",
				slog.String("album", artist+"/"+album),
				slog.String("track", names[i]),
				slog.Any("error", err),
			)
			continue
		}
		songs = append(songs, models.Song{Name: names[i], Duration: d, Album: album})
	}
	return songs
}

func (o *Orchestrator) persistGenres(ctx context.Context, names []string) ([]checkpoint.Artifact, error) {
	genres := make([]models.Genre, 0, len(names))
	for _, name := range names {
		desc, err := o.engine.ExtractFrom(ctx, o.resolver.GenreWiki(name), scraper.KindGenreWiki)
		if err != nil {
			return nil, fmt.Errorf("wiki of %s: %w", name, err)
		}
		genres = append(genres, models.Genre{Name: name, Description: desc.OrElse(models.NoDescription)})
	}

	err := o.save(ctx, func(ctx context.Context, sink RecordSink) error {
		return sink.SaveGenres(ctx, genres)
	})
	if err != nil {
		return nil, fmt.Errorf("save genres: %w", err)
	}
	o.result.RecordCount += len(genres)
	o.metrics.AddItems("genre", len(genres))
	return []checkpoint.Artifact{{Name: ArtifactGenres, Payload: genres}}, nil
}

// downloadImages fetches the images listed in a unit's resolved-URL artifact.
// prefix places them in a subdirectory of the asset root.
func (o *Orchestrator) downloadImages(ctx context.Context, unit models.WorkUnit, artifact string, prefix []string) error {
	var refs []models.ImageRef
	if err := o.store.ReadArtifact(unit, artifact, &refs); err != nil {
		return err
	}
	assets := make([]Asset, 0, len(refs))
	for _, ref := range refs {
		segments := append(append([]string{}, prefix...), ref.Name)
		assets = append(assets, Asset{URL: ref.URL, Path: assetPath(segments...)})
	}
	n, err := o.downloads.Download(ctx, assets)
	o.result.AssetCount += n
	return err
}
