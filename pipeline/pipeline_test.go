package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-music/checkpoint"
	"github.com/aluiziolira/go-scrape-music/config"
	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/parser"
	"github.com/aluiziolira/go-scrape-music/scraper"
	"github.com/aluiziolira/go-scrape-music/storage"
)

const (
	lastfm = "http://lastfm.test"
	genius = "http://genius.test"
)

const rockPage1HTML = `<html><body>
<h3 class="big-artist-list-title"><a href="/music/Nirvana">Nirvana</a></h3>
<h3 class="big-artist-list-title"><a href="/music/Queen">Queen</a></h3>
<ul>
  <li class="pagination-page"><a>1</a></li>
  <li class="pagination-page"><a>2</a></li>
  <li class="pagination-page"><a>3</a></li>
</ul>
</body></html>`

const rockPage2HTML = `<html><body>
<h3 class="big-artist-list-title"><a href="/music/Pixies">Pixies</a></h3>
</body></html>`

const nirvanaHTML = `<html><body>
<div class="header-new-background-image" content="https://img.test/nirvana.jpg"></div>
</body></html>`

const queenGalleryHTML = `<html><body>
<a class="image-list-item"><img src="https://img.test/queen.jpg"></a>
</body></html>`

const nirvanaAlbumsHTML = `<html><body>
<h3 class="resource-list--release-list-item-name">Albums</h3>
<h3 class="resource-list--release-list-item-name">Popular</h3>
<h3 class="resource-list--release-list-item-name">Singles</h3>
<h3 class="resource-list--release-list-item-name">Live</h3>
<h3 class="resource-list--release-list-item-name"><a>Nevermind</a></h3>
<h3 class="resource-list--release-list-item-name"><a>Bleach</a></h3>
</body></html>`

const nevermindHTML = `<html><body>
<a class="cover-art"><img src="https://img.test/nevermind.jpg"></a>
<dl>
  <dd class="catalogue-metadata-description">Rock</dd>
  <dd class="catalogue-metadata-description">24 сентября 1991</dd>
</dl>
<table>
  <tr><td class="chartlist-name">Lithium</td><td class="chartlist-duration">4:17</td></tr>
  <tr><td class="chartlist-name">Polly</td><td class="chartlist-duration">x:y</td></tr>
  <tr><td class="chartlist-name">Breed</td><td class="chartlist-duration">3:03</td></tr>
</table>
</body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]scraper.Response
	errs  map[string]error
	calls map[string]int
	total int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]scraper.Response),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) page(url, body string) {
	f.pages[url] = scraper.Response{URL: url, StatusCode: 200, Body: []byte(body)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (scraper.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	f.total++
	if err := ctx.Err(); err != nil {
		return scraper.Response{}, err
	}
	if err := f.errs[url]; err != nil {
		return scraper.Response{}, err
	}
	if resp, ok := f.pages[url]; ok {
		return resp, nil
	}
	return scraper.Response{URL: url, StatusCode: 404}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

type fakeSink struct {
	genres  []models.Genre
	artists map[string][]models.Artist
	albums  map[string][]models.Album
	songs   map[string][]models.Song
	batches int
	// albumErr fails every album page batch.
	albumErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		artists: make(map[string][]models.Artist),
		albums:  make(map[string][]models.Album),
		songs:   make(map[string][]models.Song),
	}
}

func (s *fakeSink) SaveGenres(_ context.Context, genres []models.Genre) error {
	s.batches++
	s.genres = append(s.genres, genres...)
	return nil
}

func (s *fakeSink) SaveArtists(_ context.Context, genre string, artists []models.Artist) error {
	s.batches++
	s.artists[genre] = append(s.artists[genre], artists...)
	return nil
}

func (s *fakeSink) SaveAlbumPage(_ context.Context, artist string, albums []models.Album, songs []models.Song) error {
	if s.albumErr != nil {
		return s.albumErr
	}
	s.batches++
	s.albums[artist] = append(s.albums[artist], albums...)
	s.songs[artist] = append(s.songs[artist], songs...)
	return nil
}

type harness struct {
	cfg       *config.Config
	fetcher   *fakeFetcher
	sink      *fakeSink
	store     *checkpoint.Store
	jsonRoot  string
	imageRoot string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.LastFMBaseURL = lastfm
	cfg.GeniusBaseURL = genius
	cfg.Genres = []string{"rock", "jazz"}
	cfg.DownloadDelay = 0
	cfg.InsertDelay = 0
	cfg.JSONRoot = filepath.Join(dir, "jsons")
	cfg.ImagesDir = filepath.Join(dir, "media")

	jsonFS, err := storage.NewLocal(cfg.JSONRoot)
	require.NoError(t, err)

	f := newFakeFetcher()
	f.page(lastfm+"/tag/rock/artists", rockPage1HTML)
	f.page(lastfm+"/tag/rock/artists?page=1", rockPage1HTML)
	f.page(lastfm+"/tag/rock/artists?page=2", rockPage2HTML)
	f.page(lastfm+"/tag/rock/wiki", `<div class="wiki-content">Rock music. Loud.</div>`)
	f.page(lastfm+"/music/Nirvana", nirvanaHTML)
	f.page(lastfm+"/music/Queen/+images", queenGalleryHTML)
	f.page(genius+"/artists/Nirvana", `<p>Grunge band.</p><p>Formed 1987.</p>`)
	f.page("https://img.test/nirvana.jpg", "nirvana-bytes")
	f.page("https://img.test/queen.jpg", "queen-bytes")
	f.page(lastfm+"/music/Nirvana/+albums?page=1", nirvanaAlbumsHTML)
	f.page(lastfm+"/music/Nirvana/Nevermind", nevermindHTML)
	f.page("https://img.test/nevermind.jpg", "nevermind-bytes")

	return &harness{
		cfg:       cfg,
		fetcher:   f,
		sink:      newFakeSink(),
		store:     checkpoint.New(jsonFS, nil),
		jsonRoot:  cfg.JSONRoot,
		imageRoot: cfg.ImagesDir,
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	images, err := storage.NewLocal(h.imageRoot)
	require.NoError(t, err)
	o, err := New(h.cfg, Deps{
		Fetcher: h.fetcher,
		Store:   h.store,
		Files:   images,
		Sink:    h.sink,
	})
	require.NoError(t, err)
	return o
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRunGenrePagePersistsRecordsAndAssets(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)

	require.NoError(t, o.RunGenrePage(context.Background(), "rock", 1))

	want := []models.Artist{
		{Username: "Nirvana", Description: "Grunge band. Formed 1987.", Avatar: "media/Nirvana.png"},
		{Username: "Queen", Description: models.NoDescription, Avatar: "media/Queen.png"},
	}
	unit := models.WorkUnit{Kind: models.UnitGenre, Key: "rock", Page: 1}
	var artists []models.Artist
	require.NoError(t, h.store.ReadArtifact(unit, ArtifactArtists, &artists))
	assert.Equal(t, want, artists)
	assert.Equal(t, want, h.sink.artists["rock"])

	var refs []models.ImageRef
	require.NoError(t, h.store.ReadArtifact(unit, ArtifactArtistImages, &refs))
	assert.Equal(t, []models.ImageRef{
		{Name: "Nirvana", URL: "https://img.test/nirvana.jpg"},
		{Name: "Queen", URL: "https://img.test/queen.jpg"},
	}, refs)

	assert.Equal(t, "nirvana-bytes", string(readFile(t, filepath.Join(h.imageRoot, "Nirvana.png"))))
	assert.Equal(t, "queen-bytes", string(readFile(t, filepath.Join(h.imageRoot, "Queen.png"))))

	result := o.Result()
	assert.Equal(t, 1, result.UnitsCompleted)
	assert.Equal(t, 2, result.AssetCount)
	assert.Equal(t, 2, result.RecordCount)
}

func TestRunGenrePageSecondRunIsSideEffectFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orchestrator(t).RunGenrePage(ctx, "rock", 1))

	artifact := filepath.Join(h.jsonRoot, "artists", "rock", "1.json")
	before := readFile(t, artifact)
	fetches := h.fetcher.count()
	batches := h.sink.batches

	o := h.orchestrator(t)
	require.NoError(t, o.RunGenrePage(ctx, "rock", 1))

	assert.Equal(t, fetches, h.fetcher.count(), "no fetch for a completed unit")
	assert.Equal(t, batches, h.sink.batches)
	assert.Equal(t, before, readFile(t, artifact))
	assert.Equal(t, 1, o.Result().UnitsSkipped)
}

func TestRunGenrePageBounds(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)
	ctx := context.Background()

	err := o.RunGenrePage(ctx, "rock", 0)
	assert.ErrorIs(t, err, ErrInvalidPage)
	assert.Zero(t, h.fetcher.count())

	err = o.RunGenrePage(ctx, "rock", 3)
	assert.ErrorIs(t, err, ErrInvalidPage)
	assert.Equal(t, 1, h.fetcher.count(), "only the pagination probe is fetched")
	assert.Equal(t, 1, h.fetcher.calls[lastfm+"/tag/rock/artists"])

	_, statErr := os.Stat(filepath.Join(h.jsonRoot, "artists", "rock", "3.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunGenrePageUnknownGenre(t *testing.T) {
	h := newHarness(t)
	err := h.orchestrator(t).RunGenrePage(context.Background(), "polka", 1)
	assert.ErrorIs(t, err, ErrInvalidGenre)
	assert.Zero(t, h.fetcher.count())
}

func TestImageFallbackConsultedOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orchestrator(t).RunGenrePage(context.Background(), "rock", 1))

	assert.Equal(t, 1, h.fetcher.calls[lastfm+"/music/Queen"])
	assert.Equal(t, 1, h.fetcher.calls[lastfm+"/music/Queen/+images"])
	assert.Zero(t, h.fetcher.calls[lastfm+"/music/Nirvana/+images"], "primary hit skips the gallery")
}

func TestTransportErrorLeavesStageIncomplete(t *testing.T) {
	h := newHarness(t)
	h.fetcher.errs[lastfm+"/music/Queen"] = scraper.ErrConnection{Err: errors.New("connection reset")}

	err := h.orchestrator(t).RunGenrePage(context.Background(), "rock", 1)
	require.Error(t, err)
	assert.Equal(t, "connection", scraper.ErrorTypeLabel(err))

	unit := models.WorkUnit{Kind: models.UnitGenre, Key: "rock", Page: 1}
	rec, err := h.store.Status(unit, models.StageURLsResolved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	done, err := h.store.IsComplete(unit, models.StageRecordsPersisted)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, h.sink.artists)
}

func TestInterruptedStageIsRerun(t *testing.T) {
	h := newHarness(t)
	unit := models.WorkUnit{Kind: models.UnitGenre, Key: "rock", Page: 1}
	require.NoError(t, h.store.Begin(unit, models.StageRecordsPersisted))

	require.NoError(t, h.orchestrator(t).RunGenrePage(context.Background(), "rock", 1))

	done, err := h.store.IsComplete(unit, models.StageRecordsPersisted)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMissingURLArtifactReopensOnlyThatStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orchestrator(t).RunGenrePage(ctx, "rock", 1))
	batches := h.sink.batches

	refs := filepath.Join(h.jsonRoot, "artist_images", "rock", "1.json")
	require.NoError(t, os.Remove(refs))

	o := h.orchestrator(t)
	require.NoError(t, o.RunGenrePage(ctx, "rock", 1))

	assert.FileExists(t, refs)
	assert.Equal(t, batches, h.sink.batches, "records are not persisted twice")
	assert.Equal(t, 1, h.fetcher.calls[genius+"/artists/Nirvana"])
	assert.Zero(t, o.Result().AssetCount, "images already on disk are kept")
}

func TestRunArtistPage(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t)
	require.NoError(t, o.RunArtistPage(context.Background(), "Nirvana", 1))

	unit := models.WorkUnit{Kind: models.UnitArtist, Key: "Nirvana", Page: 1}
	var albums []models.Album
	require.NoError(t, h.store.ReadArtifact(unit, ArtifactAlbums, &albums))
	require.Len(t, albums, 2)
	assert.Equal(t, "Nevermind", albums[0].Name)
	assert.True(t, albums[0].PublicationDate.Equal(time.Date(1991, time.September, 24, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "media/Nirvana/Nevermind.png", albums[0].Cover)
	assert.Equal(t, "Bleach", albums[1].Name)
	assert.True(t, albums[1].PublicationDate.Equal(parser.FallbackReleaseDate))

	songs := h.sink.songs["Nirvana"]
	require.Len(t, songs, 2, "malformed duration is dropped")
	assert.Equal(t, models.Song{Name: "Lithium", Duration: 4*time.Minute + 17*time.Second, Album: "Nevermind"}, songs[0])
	assert.Equal(t, "Breed", songs[1].Name)

	assert.Equal(t, "nevermind-bytes", string(readFile(t, filepath.Join(h.imageRoot, "Nirvana", "Nevermind.png"))))
	assert.Equal(t, []string{"Nirvana/Bleach"}, o.Result().MissingImages)
}

func TestRunArtistPageSecondRunIsSideEffectFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.orchestrator(t).RunArtistPage(ctx, "Nirvana", 1))

	artifacts := []string{
		filepath.Join(h.jsonRoot, "album_covers", "Nirvana", "1.json"),
		filepath.Join(h.jsonRoot, "albums", "Nirvana", "1.json"),
		filepath.Join(h.jsonRoot, "songs", "Nirvana", "1.json"),
	}
	before := make([][]byte, len(artifacts))
	for i, path := range artifacts {
		before[i] = readFile(t, path)
	}
	cover := readFile(t, filepath.Join(h.imageRoot, "Nirvana", "Nevermind.png"))
	fetches := h.fetcher.count()
	batches := h.sink.batches

	o := h.orchestrator(t)
	require.NoError(t, o.RunArtistPage(ctx, "Nirvana", 1))

	assert.Equal(t, fetches, h.fetcher.count(), "no fetch for a completed unit")
	assert.Equal(t, batches, h.sink.batches)
	for i, path := range artifacts {
		assert.Equal(t, before[i], readFile(t, path), path)
	}
	assert.Equal(t, cover, readFile(t, filepath.Join(h.imageRoot, "Nirvana", "Nevermind.png")))
	assert.Equal(t, 1, o.Result().UnitsSkipped)
}

func TestFailedSongBatchPersistsNoAlbums(t *testing.T) {
	h := newHarness(t)
	h.sink.albumErr = errors.New("songs table unavailable")

	err := h.orchestrator(t).RunArtistPage(context.Background(), "Nirvana", 1)
	require.ErrorContains(t, err, "songs table unavailable")

	unit := models.WorkUnit{Kind: models.UnitArtist, Key: "Nirvana", Page: 1}
	done, err := h.store.IsComplete(unit, models.StageRecordsPersisted)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, h.sink.albums)
	assert.Empty(t, h.sink.songs)
	assert.NoFileExists(t, filepath.Join(h.jsonRoot, "albums", "Nirvana", "1.json"))

	h.sink.albumErr = nil
	require.NoError(t, h.orchestrator(t).RunArtistPage(context.Background(), "Nirvana", 1))
	assert.Len(t, h.sink.albums["Nirvana"], 2)
	assert.Len(t, h.sink.songs["Nirvana"], 2)
}

func TestFailedDownloadIsRetriedOnNextRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetcher.errs["https://img.test/queen.jpg"] = scraper.ErrConnection{Err: errors.New("reset")}

	err := h.orchestrator(t).RunGenrePage(ctx, "rock", 1)
	require.ErrorContains(t, err, "reset")
	assert.NoFileExists(t, filepath.Join(h.imageRoot, "Queen.png"))

	unit := models.WorkUnit{Kind: models.UnitGenre, Key: "rock", Page: 1}
	done, err := h.store.IsComplete(unit, models.StageRecordsPersisted)
	require.NoError(t, err)
	assert.True(t, done, "records survive the failed download")
	batches := h.sink.batches
	listing := h.fetcher.calls[lastfm+"/tag/rock/artists?page=1"]

	delete(h.fetcher.errs, "https://img.test/queen.jpg")
	o := h.orchestrator(t)
	require.NoError(t, o.RunGenrePage(ctx, "rock", 1))

	assert.Equal(t, "queen-bytes", string(readFile(t, filepath.Join(h.imageRoot, "Queen.png"))))
	assert.Equal(t, 1, h.fetcher.calls["https://img.test/nirvana.jpg"], "images on disk are not fetched again")
	assert.Equal(t, listing, h.fetcher.calls[lastfm+"/tag/rock/artists?page=1"], "listing is not read again")
	assert.Equal(t, batches, h.sink.batches)
	assert.Equal(t, 1, o.Result().UnitsCompleted)

	fetches := h.fetcher.count()
	require.NoError(t, h.orchestrator(t).RunGenrePage(ctx, "rock", 1))
	assert.Equal(t, fetches, h.fetcher.count(), "unit is complete once its images are")
}

func TestUnknownMonthLeavesNoRecords(t *testing.T) {
	h := newHarness(t)
	h.fetcher.page(lastfm+"/music/Nirvana/Nevermind", `<html><body>
<dd class="catalogue-metadata-description">Rock</dd>
<dd class="catalogue-metadata-description">5 brumaire 1991</dd>
</body></html>`)

	err := h.orchestrator(t).RunArtistPage(context.Background(), "Nirvana", 1)
	assert.ErrorIs(t, err, parser.ErrUnknownMonth)

	unit := models.WorkUnit{Kind: models.UnitArtist, Key: "Nirvana", Page: 1}
	done, err := h.store.IsComplete(unit, models.StageRecordsPersisted)
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoFileExists(t, filepath.Join(h.jsonRoot, "albums", "Nirvana", "1.json"))
	assert.NoFileExists(t, filepath.Join(h.jsonRoot, "songs", "Nirvana", "1.json"))
	assert.Empty(t, h.sink.albums)
	assert.Empty(t, h.sink.songs)
}

func TestPlanCapsPagesAtLimit(t *testing.T) {
	h := newHarness(t)
	h.cfg.ArtistsPageLimit = 10
	o := h.orchestrator(t)

	units, err := o.Plan(context.Background(), models.UnitGenre, "rock")
	require.NoError(t, err)
	assert.Equal(t, []models.WorkUnit{
		{Kind: models.UnitGenre, Key: "rock", Page: 1},
		{Kind: models.UnitGenre, Key: "rock", Page: 2},
	}, units)

	h.cfg.ArtistsPageLimit = 2
	units, err = h.orchestrator(t).Plan(context.Background(), models.UnitGenre, "rock")
	require.NoError(t, err)
	assert.Len(t, units, 1)
}

func TestRunHarvestsGenresArtistsAndAlbums(t *testing.T) {
	h := newHarness(t)
	h.cfg.Genres = []string{"rock"}
	h.cfg.ArtistsPageLimit = 3
	h.cfg.HarvestAlbums = true
	o := h.orchestrator(t)

	result, err := o.Run(context.Background())
	require.Error(t, err, "artists without an album list fail their unit")

	assert.Equal(t, []models.Genre{{Name: "rock", Description: "Rock music. Loud."}}, h.sink.genres)
	assert.Len(t, h.sink.artists["rock"], 3)
	assert.Len(t, h.sink.albums["Nirvana"], 2)
	assert.ElementsMatch(t, []string{"Queen", "Pixies"}, result.FailedUnits)
	assert.Equal(t, 2, result.ErrorsByType["not_found"])
	assert.Contains(t, result.MissingImages, "Pixies")
	assert.Equal(t, 4, result.UnitsCompleted, "genre index, two genre pages and one artist page")

	exportPath := filepath.Join(t.TempDir(), "out", "artists.jsonl")
	w, err := NewWriter("json", exportPath)
	require.NoError(t, err)
	n, err := o.Export(context.Background(), w)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 3, n)
	assert.Contains(t, string(readFile(t, exportPath)), `"image_url":"https://img.test/queen.jpg"`)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orchestrator(t).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.fetcher.count())
}

func TestNewRejectsMissingDeps(t *testing.T) {
	_, err := New(config.DefaultConfig(), Deps{})
	assert.Error(t, err)

	cfg := config.DefaultConfig()
	cfg.Genres = nil
	_, err = New(cfg, Deps{})
	assert.ErrorContains(t, err, "genres")
}
