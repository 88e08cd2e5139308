// Package models defines data structures for the harvester.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the persisted form of a publication date.
const DateLayout = "2006-01-02"

// NoDescription is persisted when no description page exists for an item.
const NoDescription = "No description needed."

// Artist represents an artist listed on a genre page.
type Artist struct {
	Username    string `json:"username"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
}

// Album represents an album listed on an artist page.
type Album struct {
	Name            string
	PublicationDate time.Time
	Cover           string
}

type albumJSON struct {
	Name            string `json:"name"`
	PublicationDate string `json:"publication_date"`
	Cover           string `json:"cover"`
}

// MarshalJSON writes the publication date as an ISO-8601 date.
func (a Album) MarshalJSON() ([]byte, error) {
	return marshal(albumJSON{
		Name:            a.Name,
		PublicationDate: a.PublicationDate.Format(DateLayout),
		Cover:           a.Cover,
	})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (a *Album) UnmarshalJSON(data []byte) error {
	var raw albumJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := time.Parse(DateLayout, raw.PublicationDate)
	if err != nil {
		return fmt.Errorf("album %q publication date: %w", raw.Name, err)
	}
	*a = Album{Name: raw.Name, PublicationDate: date, Cover: raw.Cover}
	return nil
}

// Song represents a track listed on an album page.
type Song struct {
	Name     string
	Duration time.Duration
	// Album is not part of the snapshot; sinks use it to link rows.
	Album string
}

type songJSON struct {
	Name     string `json:"name"`
	Duration string `json:"duration"`
}

// MarshalJSON writes the duration as an HH:MM:SS time string.
func (s Song) MarshalJSON() ([]byte, error) {
	return marshal(songJSON{Name: s.Name, Duration: FormatClock(s.Duration)})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (s *Song) UnmarshalJSON(data []byte) error {
	var raw songJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := ParseClock(raw.Duration)
	if err != nil {
		return fmt.Errorf("song %q duration: %w", raw.Name, err)
	}
	*s = Song{Name: raw.Name, Duration: d}
	return nil
}

// Genre represents one of the configured genres.
type Genre struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ImageRef pairs an item with the URL of its image.
type ImageRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FormatClock renders d as HH:MM:SS. Minutes and seconds carry into the next unit.
func FormatClock(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ParseClock parses the HH:MM:SS form produced by FormatClock.
func ParseClock(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// marshal keeps '&', '<' and '>' literal so names read as they do on the page.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
