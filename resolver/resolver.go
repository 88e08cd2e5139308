// Package resolver maps entity identifiers to source URLs.
package resolver

import (
	"net/url"
	"strconv"
	"strings"
)

// Resolver builds request URLs. It performs no I/O and no validation.
type Resolver struct {
	lastfm string
	genius string
}

// New returns a Resolver for the given source base URLs.
func New(lastfmBase, geniusBase string) Resolver {
	return Resolver{
		lastfm: strings.TrimRight(lastfmBase, "/"),
		genius: strings.TrimRight(geniusBase, "/"),
	}
}

// GenreArtists returns the first artist listing page of a genre.
func (r Resolver) GenreArtists(genre string) string {
	return r.lastfm + "/tag/" + segment(genre) + "/artists"
}

// GenreArtistsPage returns one page of a genre's artist listing.
func (r Resolver) GenreArtistsPage(genre string, page int) string {
	return withPage(r.GenreArtists(genre), page)
}

// GenreWiki returns the page holding a genre's description.
func (r Resolver) GenreWiki(genre string) string {
	return r.lastfm + "/tag/" + segment(genre) + "/wiki"
}

// ArtistDescription returns the page holding an artist's biography.
func (r Resolver) ArtistDescription(artist string) string {
	return r.genius + "/artists/" + segment(artist)
}

// ArtistPage returns the artist's main page, the primary image source.
func (r Resolver) ArtistPage(artist string) string {
	return r.lastfm + "/music/" + segment(artist)
}

// ArtistImages returns the artist's image gallery.
func (r Resolver) ArtistImages(artist string) string {
	return r.ArtistPage(artist) + "/+images"
}

// ArtistAlbums returns one page of an artist's album list.
func (r Resolver) ArtistAlbums(artist string, page int) string {
	return withPage(r.ArtistPage(artist)+"/+albums", page)
}

// Album returns a single album page.
func (r Resolver) Album(artist, album string) string {
	return r.ArtistPage(artist) + "/" + segment(album)
}

// AlbumCovers returns an album's cover gallery.
func (r Resolver) AlbumCovers(artist, album string) string {
	return r.Album(artist, album) + "/+images"
}

// segment escapes s for use as one path segment. last.fm writes spaces as
// '+', so a literal '+' is escaped first.
func segment(s string) string {
	escaped := strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	return strings.ReplaceAll(escaped, "%20", "+")
}

func withPage(base string, page int) string {
	return base + "?page=" + strconv.Itoa(page)
}
