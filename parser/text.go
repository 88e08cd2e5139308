package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-music/models"
)

// ValidateArtist ensures an artist has the fields every sink requires.
func ValidateArtist(a models.Artist) error {
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("artist missing username")
	}
	if strings.TrimSpace(a.Avatar) == "" {
		return fmt.Errorf("artist missing avatar for %s", a.Username)
	}
	return nil
}

// ValidateAlbum ensures an album has a name and a date.
func ValidateAlbum(a models.Album) error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("album missing name")
	}
	if a.PublicationDate.IsZero() {
		return fmt.Errorf("album missing publication date for %s", a.Name)
	}
	return nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// FirstSentence keeps description text up to and including the first period.
// The sentinel and text without a period are returned unchanged.
func FirstSentence(description string) string {
	if description == models.NoDescription {
		return description
	}
	idx := strings.Index(description, ".")
	if idx < 0 {
		return description
	}
	return description[:idx+1]
}
