// Package pipeline sequences the stages of each work unit: resolve image
// URLs, persist records, then download the images those records reference.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-music/checkpoint"
	"github.com/aluiziolira/go-scrape-music/config"
	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/parser"
	"github.com/aluiziolira/go-scrape-music/resolver"
	"github.com/aluiziolira/go-scrape-music/scraper"
	"github.com/aluiziolira/go-scrape-music/storage"
)

var (
	// ErrInvalidGenre is returned for a genre outside the configured set.
	ErrInvalidGenre = errors.New("pipeline: invalid genre")
	// ErrInvalidPage is returned for a page outside [1, max_pages).
	ErrInvalidPage = errors.New("pipeline: invalid page")
	// ErrInvalidArtist is returned for an empty artist name.
	ErrInvalidArtist = errors.New("pipeline: invalid artist")
)

// Artifact names. Each is also the top-level directory of its snapshots.
const (
	ArtifactArtistImages = "artist_images"
	ArtifactArtists      = "artists"
	ArtifactAlbumCovers  = "album_covers"
	ArtifactAlbums       = "albums"
	ArtifactSongs        = "songs"
	ArtifactGenres       = "genres"
)

var genreIndex = models.WorkUnit{Kind: models.UnitGenreIndex, Key: "all", Page: 1}

// Deps are the collaborators an Orchestrator works through.
type Deps struct {
	// Fetcher serves HTML pages.
	Fetcher scraper.Fetcher
	// Assets serves binary downloads; Fetcher is used when nil.
	Assets scraper.Fetcher
	Store  *checkpoint.Store
	// Files receives downloaded assets.
	Files   storage.FS
	Sink    RecordSink
	Metrics *scraper.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs work units one at a time.
type Orchestrator struct {
	cfg       *config.Config
	resolver  resolver.Resolver
	engine    *scraper.Engine
	store     *checkpoint.Store
	downloads *Downloader
	sink      RecordSink
	inserts   Limiter
	metrics   *scraper.Metrics
	logger    *slog.Logger

	maxPages map[string]int
	result   *models.RunResult
}

// New builds an Orchestrator from an explicit configuration.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Fetcher == nil || deps.Store == nil || deps.Files == nil {
		return nil, fmt.Errorf("fetcher, checkpoint store and asset files are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	assets := deps.Assets
	if assets == nil {
		assets = deps.Fetcher
	}

	return &Orchestrator{
		cfg:       cfg,
		resolver:  resolver.New(cfg.LastFMBaseURL, cfg.GeniusBaseURL),
		engine:    scraper.NewEngine(deps.Fetcher, deps.Metrics, logger),
		store:     deps.Store,
		downloads: NewDownloader(assets, deps.Files, NewImageProcessor(cfg.ImageMaxSize), NewLimiter(cfg.DownloadDelay), deps.Metrics, logger),
		sink:      deps.Sink,
		inserts:   NewLimiter(cfg.InsertDelay),
		metrics:   deps.Metrics,
		logger:    logger,
		maxPages:  make(map[string]int),
		result:    newResult(),
	}, nil
}

func newResult() *models.RunResult {
	return &models.RunResult{StartTime: time.Now(), ErrorsByType: make(map[string]int)}
}

// Result returns the counters accumulated since the orchestrator was built
// or Run last started.
func (o *Orchestrator) Result() *models.RunResult {
	o.result.EndTime = time.Now()
	return o.result
}

// Run harvests genres, every planned genre page and, when enabled, the album
// pages of every harvested artist. A failed unit is recorded and the run
// moves on; the failures are returned joined. Cancellation stops the run.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	o.result = newResult()
	var failures []error
	fail := func(what string, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		o.recordFailure(what, err)
		failures = append(failures, err)
		return nil
	}

	if err := o.RunGenres(ctx); err != nil {
		if abort := fail(genreIndex.String(), err); abort != nil {
			return o.Result(), abort
		}
	}

	for _, genre := range o.cfg.Genres {
		units, err := o.Plan(ctx, models.UnitGenre, genre)
		if err != nil {
			if abort := fail(genre, err); abort != nil {
				return o.Result(), abort
			}
			continue
		}
		for _, unit := range units {
			if err := o.RunGenrePage(ctx, unit.Key, unit.Page); err != nil {
				if abort := fail(unit.String(), err); abort != nil {
					return o.Result(), abort
				}
			}
		}
	}

	if o.cfg.HarvestAlbums {
		artists, err := o.HarvestedArtists()
		if err != nil {
			return o.Result(), err
		}
		for _, artist := range artists {
			units, err := o.Plan(ctx, models.UnitArtist, artist)
			if err != nil {
				if abort := fail(artist, err); abort != nil {
					return o.Result(), abort
				}
				continue
			}
			for _, unit := range units {
				if err := o.RunArtistPage(ctx, unit.Key, unit.Page); err != nil {
					if abort := fail(unit.String(), err); abort != nil {
						return o.Result(), abort
					}
				}
			}
		}
	}

	return o.Result(), errors.Join(failures...)
}

// Plan lists the pages of a genre or artist to process: 1 up to, but not
// including, the smaller of the configured limit and the discovered max_pages.
func (o *Orchestrator) Plan(ctx context.Context, kind models.UnitKind, key string) ([]models.WorkUnit, error) {
	var boundsURL string
	var limit int
	switch kind {
	case models.UnitGenre:
		if !o.cfg.IsKnownGenre(key) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGenre, key)
		}
		boundsURL, limit = o.resolver.GenreArtists(key), o.cfg.ArtistsPageLimit
	case models.UnitArtist:
		if strings.TrimSpace(key) == "" {
			return nil, ErrInvalidArtist
		}
		boundsURL, limit = o.resolver.ArtistAlbums(key, 1), o.cfg.AlbumsPageLimit
	default:
		return nil, fmt.Errorf("cannot plan work units of kind %q", kind)
	}

	maxPages, err := o.discoverMaxPages(ctx, kind, key, boundsURL)
	if err != nil {
		return nil, err
	}
	upper := min(limit, maxPages)
	units := make([]models.WorkUnit, 0, max(upper-1, 0))
	for page := 1; page < upper; page++ {
		units = append(units, models.WorkUnit{Kind: kind, Key: key, Page: page})
	}
	return units, nil
}

// RunGenrePage processes one page of a genre's artist listing.
func (o *Orchestrator) RunGenrePage(ctx context.Context, genre string, page int) error {
	if !o.cfg.IsKnownGenre(genre) {
		return fmt.Errorf("%w: %q", ErrInvalidGenre, genre)
	}
	if page < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	unit := models.WorkUnit{Kind: models.UnitGenre, Key: genre, Page: page}
	return o.runUnit(ctx, unitPlan{
		unit:        unit,
		boundsURL:   o.resolver.GenreArtists(genre),
		listingURL:  o.resolver.GenreArtistsPage(genre, page),
		listKind:    scraper.KindGenreArtist,
		resolveURLs: o.resolveArtistImages,
		persist: func(ctx context.Context, artists []string) ([]checkpoint.Artifact, error) {
			return o.persistArtists(ctx, genre, artists)
		},
		download: func(ctx context.Context) error {
			return o.downloadImages(ctx, unit, ArtifactArtistImages, nil)
		},
	})
}

// RunArtistPage processes one page of an artist's album list.
func (o *Orchestrator) RunArtistPage(ctx context.Context, artist string, page int) error {
	if strings.TrimSpace(artist) == "" {
		return ErrInvalidArtist
	}
	if page < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	unit := models.WorkUnit{Kind: models.UnitArtist, Key: artist, Page: page}
	return o.runUnit(ctx, unitPlan{
		unit:       unit,
		boundsURL:  o.resolver.ArtistAlbums(artist, 1),
		listingURL: o.resolver.ArtistAlbums(artist, page),
		listKind:   scraper.KindAlbum,
		resolveURLs: func(ctx context.Context, albums []string) ([]checkpoint.Artifact, error) {
			return o.resolveAlbumCovers(ctx, artist, albums)
		},
		persist: func(ctx context.Context, albums []string) ([]checkpoint.Artifact, error) {
			return o.persistAlbums(ctx, artist, albums)
		},
		download: func(ctx context.Context) error {
			return o.downloadImages(ctx, unit, ArtifactAlbumCovers, []string{artist})
		},
	})
}

// RunGenres persists a record for every configured genre.
func (o *Orchestrator) RunGenres(ctx context.Context) error {
	done, err := o.store.IsComplete(genreIndex, models.StageRecordsPersisted)
	if err != nil {
		return err
	}
	if done {
		o.skipped(genreIndex)
		return nil
	}
	if err := o.runStage(ctx, genreIndex, models.StageRecordsPersisted, o.cfg.Genres, o.persistGenres); err != nil {
		return err
	}
	o.result.UnitsCompleted++
	return nil
}

// HarvestedArtists returns the usernames of every persisted artist in first-seen order.
func (o *Orchestrator) HarvestedArtists() ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	err := o.eachArtistPage(func(_ models.WorkUnit, artists []models.Artist) error {
		for _, a := range artists {
			if _, ok := seen[a.Username]; ok {
				continue
			}
			seen[a.Username] = struct{}{}
			names = append(names, a.Username)
		}
		return nil
	})
	return names, err
}

// eachArtistPage calls fn for every genre page whose records are complete.
func (o *Orchestrator) eachArtistPage(fn func(unit models.WorkUnit, artists []models.Artist) error) error {
	for _, genre := range o.cfg.Genres {
		pages, err := o.store.Pages(ArtifactArtists, genre)
		if err != nil {
			return err
		}
		for _, page := range pages {
			unit := models.WorkUnit{Kind: models.UnitGenre, Key: genre, Page: page}
			done, err := o.store.IsComplete(unit, models.StageRecordsPersisted)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
			var artists []models.Artist
			if err := o.store.ReadArtifact(unit, ArtifactArtists, &artists); err != nil {
				return err
			}
			if err := fn(unit, artists); err != nil {
				return err
			}
		}
	}
	return nil
}

type unitPlan struct {
	unit        models.WorkUnit
	boundsURL   string
	listingURL  string
	listKind    scraper.Kind
	resolveURLs func(ctx context.Context, items []string) ([]checkpoint.Artifact, error)
	persist     func(ctx context.Context, items []string) ([]checkpoint.Artifact, error)
	download    func(ctx context.Context) error
}

// runUnit skips a unit whose stages are all complete without any fetch.
// A unit whose records and URLs are complete but whose asset pass did not
// finish only downloads again. Otherwise it checks the page bounds, reads the
// listing once, runs the incomplete stages and then the asset pass.
func (o *Orchestrator) runUnit(ctx context.Context, p unitPlan) error {
	urlsDone, err := o.store.IsComplete(p.unit, models.StageURLsResolved)
	if err != nil {
		return err
	}
	recordsDone, err := o.store.IsComplete(p.unit, models.StageRecordsPersisted)
	if err != nil {
		return err
	}
	if urlsDone && recordsDone {
		assetsDone, err := o.store.IsComplete(p.unit, models.StageAssetsDownloaded)
		if err != nil {
			return err
		}
		if assetsDone {
			o.skipped(p.unit)
			return nil
		}
		o.logger.Info("resuming asset downloads", slog.String("unit", p.unit.String()))
		return o.runAssets(ctx, p)
	}

	maxPages, err := o.discoverMaxPages(ctx, p.unit.Kind, p.unit.Key, p.boundsURL)
	if err != nil {
		return err
	}
	if p.unit.Page >= maxPages {
		return fmt.Errorf("%w: %s page %d outside [1, %d)", ErrInvalidPage, p.unit.Key, p.unit.Page, maxPages)
	}
	o.reportInterrupted(p.unit)

	doc, err := o.engine.Document(ctx, p.listingURL)
	if err != nil {
		return fmt.Errorf("listing for %s: %w", p.unit, err)
	}
	items := scraper.Extract(doc, scraper.Rules[p.listKind])
	o.metrics.AddItems(string(p.listKind), len(items))

	// The images of this unit change with its stages.
	if err := o.store.Restart(p.unit, models.StageAssetsDownloaded); err != nil {
		return err
	}
	if !urlsDone {
		if err := o.runStage(ctx, p.unit, models.StageURLsResolved, items, p.resolveURLs); err != nil {
			return err
		}
	}
	if !recordsDone {
		if err := o.runStage(ctx, p.unit, models.StageRecordsPersisted, items, p.persist); err != nil {
			return err
		}
	}
	return o.runAssets(ctx, p)
}

// runAssets downloads the unit's images and completes it.
func (o *Orchestrator) runAssets(ctx context.Context, p unitPlan) error {
	err := o.runStage(ctx, p.unit, models.StageAssetsDownloaded, nil, func(ctx context.Context, _ []string) ([]checkpoint.Artifact, error) {
		return nil, p.download(ctx)
	})
	if err != nil {
		return err
	}
	o.result.UnitsCompleted++
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, unit models.WorkUnit, stage models.Stage, items []string, fn func(context.Context, []string) ([]checkpoint.Artifact, error)) error {
	if err := o.store.Begin(unit, stage); err != nil {
		return err
	}
	artifacts, err := fn(ctx, items)
	if err != nil {
		o.metrics.IncStage(string(stage), "failed")
		return fmt.Errorf("%s %s: %w", unit, stage, err)
	}
	if err := o.store.MarkComplete(unit, stage, artifacts...); err != nil {
		return err
	}
	o.metrics.IncStage(string(stage), "complete")
	o.logger.Info("stage complete",
		slog.String("unit", unit.String()),
		slog.String("stage", string(stage)),
		slog.Int("items", len(items)),
	)
	return nil
}

func (o *Orchestrator) discoverMaxPages(ctx context.Context, kind models.UnitKind, key, boundsURL string) (int, error) {
	cacheKey := string(kind) + "\x00" + key
	if n, ok := o.maxPages[cacheKey]; ok {
		return n, nil
	}
	doc, err := o.engine.Document(ctx, boundsURL)
	if err != nil {
		return 0, fmt.Errorf("discover pages of %s %q: %w", kind, key, err)
	}
	n, err := scraper.MaxPages(doc)
	if err != nil {
		return 0, fmt.Errorf("discover pages of %s %q: %w", kind, key, err)
	}
	o.maxPages[cacheKey] = n
	return n, nil
}

// reportInterrupted logs stages a previous run began but did not finish.
// They are run again from the start.
func (o *Orchestrator) reportInterrupted(unit models.WorkUnit) {
	for _, stage := range []models.Stage{models.StageURLsResolved, models.StageRecordsPersisted, models.StageAssetsDownloaded} {
		rec, err := o.store.Status(unit, stage)
		if err == nil && rec.Status == models.StatusInProgress {
			o.logger.Warn("resuming interrupted stage",
				slog.String("unit", unit.String()),
				slog.String("stage", string(stage)),
				slog.Time("started", rec.UpdatedAt),
			)
		}
	}
}

func (o *Orchestrator) skipped(unit models.WorkUnit) {
	o.metrics.IncStage("unit", "skipped")
	o.result.UnitsSkipped++
	o.logger.Debug("work unit already complete", slog.String("unit", unit.String()))
}

func (o *Orchestrator) recordFailure(what string, err error) {
	label := errorLabel(err)
	o.result.ErrorsByType[label]++
	o.result.FailedUnits = append(o.result.FailedUnits, what)
	o.metrics.IncError(label)
	o.logger.Error("work unit failed",
		slog.String("unit", what),
		slog.String("category", label),
		slog.Any("error", err),
	)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidGenre):
		return "invalid_genre"
	case errors.Is(err, ErrInvalidPage):
		return "invalid_page"
	case errors.Is(err, ErrInvalidArtist):
		return "invalid_artist"
	case errors.Is(err, parser.ErrUnknownMonth):
		return "unknown_month"
	case errors.Is(err, parser.ErrMalformedDate):
		return "malformed_date"
	}
	return scraper.ErrorTypeLabel(err)
}

// save hands a batch to the sink, spaced from the previous batch by the insert delay.
func (o *Orchestrator) save(ctx context.Context, write func(ctx context.Context, sink RecordSink) error) error {
	if o.sink == nil {
		return nil
	}
	if err := o.inserts.Wait(ctx); err != nil {
		return err
	}
	return write(ctx, o.sink)
}

// mediaPath is the placeholder reference stored in a record for an image.
func (o *Orchestrator) mediaPath(segments ...string) string {
	return path.Join(o.cfg.MediaFolder, assetPath(segments...))
}

func (o *Orchestrator) missingImage(name string) {
	o.result.MissingImages = append(o.result.MissingImages, name)
	o.logger.Warn("no image found on either source", slog.String("item", name))
}
