package scraper

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const genrePageHTML = `<html><body>
<ol>
  <li><h3 class="big-artist-list-title"><a href="/music/Nirvana">Nirvana</a></h3></li>
  <li><h3 class="big-artist-list-title"><a href="/music/AC%2FDC">AC/DC</a></h3></li>
  <li><h3 class="big-artist-list-title"><a href="/music/Queen">  Queen </a></h3></li>
</ol>
<ul class="pagination-list">
  <li class="pagination-page"><a href="?page=1">1</a></li>
  <li class="pagination-page"><a href="?page=2">2</a></li>
  <li class="pagination-page"><a href="?page=17">17</a></li>
</ul>
</body></html>`

const albumListHTML = `<html><body>
<h3 class="resource-list--release-list-item-name">Albums</h3>
<h3 class="resource-list--release-list-item-name">Popular</h3>
<h3 class="resource-list--release-list-item-name">Singles</h3>
<h3 class="resource-list--release-list-item-name">Live</h3>
<h3 class="resource-list--release-list-item-name"><a href="/music/Nirvana/Nevermind">Nevermind</a></h3>
<h3 class="resource-list--release-list-item-name"><a href="/music/Nirvana/In+Utero">In Utero</a></h3>
<h3 class="resource-list--release-list-item-name"><a href="/music/Nirvana/Bleach">Bleach</a></h3>
</body></html>`

const galleryHTML = `<html><body>
<ul>
  <li><a class="image-list-item" href="/i/1"><img src="https://img.test/1.jpg" alt=""></a></li>
  <li><a class="image-list-item" href="/i/2"><img src="https://img.test/2.jpg" alt=""></a></li>
</ul>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		html string
		kind Kind
		want []string
	}{
		{name: "genre artists in order", html: genrePageHTML, kind: KindGenreArtist, want: []string{"Nirvana", "AC/DC", "Queen"}},
		{name: "album offset", html: albumListHTML, kind: KindAlbum, want: []string{"Nevermind", "In Utero", "Bleach"}},
		{name: "gallery image attribute", html: galleryHTML, kind: KindGalleryImage, want: []string{"https://img.test/1.jpg", "https://img.test/2.jpg"}},
		{name: "last pagination page", html: genrePageHTML, kind: KindPagination, want: []string{"17"}},
		{name: "no match", html: galleryHTML, kind: KindGenreArtist, want: nil},
		{name: "offset larger than matches", html: genrePageHTML, kind: KindAlbum, want: nil},
		{name: "joined paragraphs", html: `<p>Kurt Cobain.</p><div><p>Seattle
band.</p></div>`, kind: KindDescription, want: []string{"Kurt Cobain. Seattle band."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(mustDoc(t, tt.html), Rules[tt.kind])
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Fatalf("Extract(%s) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestAlbumOffsetYieldsNMinusFour(t *testing.T) {
	doc := mustDoc(t, albumListHTML)
	raw := doc.Find(Rules[KindAlbum].Selector()).Length()
	if got := len(Extract(doc, Rules[KindAlbum])); got != raw-4 {
		t.Fatalf("extracted %d albums from %d matches, want %d", got, raw, raw-4)
	}
}

func TestExtractMissingChildIsSkipped(t *testing.T) {
	doc := mustDoc(t, `<a class="image-list-item" href="/x"></a><a class="image-list-item"><img src="b.jpg"></a>`)
	got := Extract(doc, Rules[KindGalleryImage])
	if len(got) != 1 || got[0] != "b.jpg" {
		t.Fatalf("Extract() = %q, want [b.jpg]", got)
	}
}

func TestMaxPages(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    int
		wantErr bool
	}{
		{name: "pagination present", html: genrePageHTML, want: 17},
		{name: "no pagination", html: galleryHTML, want: 2},
		{name: "garbage", html: `<li class="pagination-page">next</li>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MaxPages(mustDoc(t, tt.html))
			if (err != nil) != tt.wantErr {
				t.Fatalf("MaxPages() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("MaxPages() = %d, want %d", got, tt.want)
			}
		})
	}
}

// stubFetcher serves canned responses and counts requests per URL.
type stubFetcher struct {
	pages map[string]Response
	errs  map[string]error
	calls map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: map[string]Response{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (s *stubFetcher) add(url string, status int, body string) {
	s.pages[url] = Response{URL: url, StatusCode: status, Body: []byte(body)}
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (Response, error) {
	s.calls[url]++
	if err, ok := s.errs[url]; ok {
		return Response{}, err
	}
	if resp, ok := s.pages[url]; ok {
		return resp, nil
	}
	return Response{URL: url, StatusCode: http.StatusNotFound}, nil
}

func TestResolveImageFallsBackOnce(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.add("http://src/artist", http.StatusOK, `<html><body><h1>Nirvana</h1></body></html>`)
	fetcher.add("http://src/artist/+images", http.StatusOK, galleryHTML)

	engine := NewEngine(fetcher, NewMetrics(), nil)
	got, err := engine.ResolveImage(context.Background(), KindArtistImage, "http://src/artist", "http://src/artist/+images")
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if v, ok := got.Get(); !ok || v != "https://img.test/1.jpg" {
		t.Fatalf("ResolveImage() = %q, %v", v, ok)
	}
	if fetcher.calls["http://src/artist"] != 1 || fetcher.calls["http://src/artist/+images"] != 1 {
		t.Fatalf("calls = %v, want one per tier", fetcher.calls)
	}
}

func TestResolveImagePrimaryHitSkipsFallback(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.add("http://src/artist", http.StatusOK, `<div class="header-new-background-image" content="https://img.test/hero.jpg"></div>`)

	engine := NewEngine(fetcher, nil, nil)
	got, err := engine.ResolveImage(context.Background(), KindArtistImage, "http://src/artist", "http://src/artist/+images")
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if v, _ := got.Get(); v != "https://img.test/hero.jpg" {
		t.Fatalf("ResolveImage() = %q", v)
	}
	if fetcher.calls["http://src/artist/+images"] != 0 {
		t.Fatalf("fallback fetched although primary matched")
	}
}

func TestResolveImageBothTiersMiss(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.add("http://src/artist/+images", http.StatusOK, `<html></html>`)

	engine := NewEngine(fetcher, nil, nil)
	got, err := engine.ResolveImage(context.Background(), KindArtistImage, "http://src/artist", "http://src/artist/+images")
	if err != nil {
		t.Fatalf("ResolveImage() error: %v", err)
	}
	if got.Present() {
		t.Fatalf("expected absent image")
	}
	if fetcher.calls["http://src/artist"] != 1 || fetcher.calls["http://src/artist/+images"] != 1 {
		t.Fatalf("calls = %v, want both tiers attempted", fetcher.calls)
	}
}

func TestResolvePropagatesTransportError(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.errs["http://src/artist"] = ErrConnection{Err: errors.New("refused")}

	engine := NewEngine(fetcher, nil, nil)
	_, err := engine.ResolveImage(context.Background(), KindArtistImage, "http://src/artist", "http://src/artist/+images")
	var conn ErrConnection
	if !errors.As(err, &conn) {
		t.Fatalf("ResolveImage() error = %v, want ErrConnection", err)
	}
	if fetcher.calls["http://src/artist/+images"] != 0 {
		t.Fatalf("fallback attempted after transport failure")
	}
}

func TestDocumentClassifiesStatus(t *testing.T) {
	fetcher := newStubFetcher()
	engine := NewEngine(fetcher, nil, nil)

	_, err := engine.Document(context.Background(), "http://src/missing")
	if !IsStatus(err) {
		t.Fatalf("Document() error = %v, want status error", err)
	}
	if got := ErrorTypeLabel(err); got != "not_found" {
		t.Fatalf("ErrorTypeLabel() = %q, want not_found", got)
	}
}

func TestRulesAreSelfConsistent(t *testing.T) {
	for kind, rule := range Rules {
		if rule.Kind != kind {
			t.Errorf("rule %q registered under %q", rule.Kind, kind)
		}
		if rule.Tag == "" {
			t.Errorf("rule %q has no tag", kind)
		}
		if rule.Fallback != "" {
			if _, ok := Rules[rule.Fallback]; !ok {
				t.Errorf("rule %q falls back to unknown %q", kind, rule.Fallback)
			}
		}
	}
	if Rules[KindAlbum].Skip != 4 {
		t.Errorf("album rule skip = %d, want 4", Rules[KindAlbum].Skip)
	}
}
