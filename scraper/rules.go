package scraper

import "fmt"

// Kind names an extraction rule.
type Kind string

const (
	KindPagination    Kind = "pagination"
	KindGenreArtist   Kind = "genre_artist"
	KindArtistImage   Kind = "artist_image"
	KindGalleryImage  Kind = "gallery_image"
	KindAlbum         Kind = "album"
	KindAlbumCover    Kind = "album_cover"
	KindAlbumMetadata Kind = "album_metadata"
	KindTrackName     Kind = "track_name"
	KindTrackDuration Kind = "track_duration"
	KindDescription   Kind = "description"
	KindGenreWiki     Kind = "genre_wiki"
)

// Rule declares where a fragment lives in a page.
type Rule struct {
	Kind  Kind
	Tag   string
	Class string
	// Child is the index of the element child holding the payload; -1 is the matched node.
	Child int
	// Attr names an attribute to read instead of the text.
	Attr string
	// Skip drops this many leading matches.
	Skip int
	// Last keeps only the final match.
	Last bool
	// Join concatenates all fragments into one, separated by spaces.
	Join bool
	// Fallback is the rule applied to the secondary source when this one finds nothing.
	Fallback Kind
}

// Selector returns the CSS selector for the rule's tag and class.
func (r Rule) Selector() string {
	if r.Class == "" {
		return r.Tag
	}
	return r.Tag + "." + r.Class
}

// Rules holds every dependency on the structure of the source pages.
var Rules = map[Kind]Rule{
	KindPagination: {
		Kind: KindPagination, Tag: "li", Class: "pagination-page", Child: -1, Last: true,
	},
	KindGenreArtist: {
		Kind: KindGenreArtist, Tag: "h3", Class: "big-artist-list-title", Child: 0,
	},
	KindArtistImage: {
		Kind: KindArtistImage, Tag: "div", Class: "header-new-background-image", Child: -1, Attr: "content",
		Fallback: KindGalleryImage,
	},
	KindGalleryImage: {
		Kind: KindGalleryImage, Tag: "a", Class: "image-list-item", Child: 0, Attr: "src",
	},
	// The first four headings of an album list are section titles.
	KindAlbum: {
		Kind: KindAlbum, Tag: "h3", Class: "resource-list--release-list-item-name", Child: -1, Skip: 4,
	},
	KindAlbumCover: {
		Kind: KindAlbumCover, Tag: "a", Class: "cover-art", Child: 0, Attr: "src",
		Fallback: KindGalleryImage,
	},
	KindAlbumMetadata: {
		Kind: KindAlbumMetadata, Tag: "dd", Class: "catalogue-metadata-description", Child: -1,
	},
	KindTrackName: {
		Kind: KindTrackName, Tag: "td", Class: "chartlist-name", Child: -1,
	},
	KindTrackDuration: {
		Kind: KindTrackDuration, Tag: "td", Class: "chartlist-duration", Child: -1,
	},
	KindDescription: {
		Kind: KindDescription, Tag: "p", Child: -1, Join: true,
	},
	KindGenreWiki: {
		Kind: KindGenreWiki, Tag: "div", Class: "wiki-content", Child: -1,
	},
}

// RuleFor returns the rule registered for kind.
func RuleFor(kind Kind) (Rule, error) {
	rule, ok := Rules[kind]
	if !ok {
		return Rule{}, fmt.Errorf("no extraction rule for %q", kind)
	}
	return rule, nil
}
