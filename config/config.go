package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

// Config holds harvester configuration.
type Config struct {
	LastFMBaseURL    string
	GeniusBaseURL    string
	Genres           []string
	ArtistsPageLimit int
	AlbumsPageLimit  int
	HarvestAlbums    bool
	Delay            time.Duration
	DownloadDelay    time.Duration
	InsertDelay      time.Duration
	Timeout          time.Duration
	CacheSize        int
	JSONRoot         string
	ImagesDir        string
	MediaFolder      string // prefix of avatar and cover placeholders
	ImageMaxSize     int    // 0 keeps downloaded images untouched
	UserAgent        string
	AcceptLanguage   string
	RespectRobotsTxt bool
	SQLitePath       string
	Postgres         PostgresConfig
	ExportFile       string
	ExportFormat     string // csv, json, or dual
	MetricsAddr      string
	Verbose          bool
}

// PostgresConfig holds the settings of the optional Postgres sink.
type PostgresConfig struct {
	Enabled  bool
	User     string
	Password string
	Host     string
	Port     int
	Name     string
	Schema   string
}

// DSN renders the connection string understood by pgx.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Name,
	}
	return u.String()
}

// DefaultGenres is the fixed set of genres the harvester accepts.
var DefaultGenres = []string{"rock", "hip-hop", "jazz", "british", "punk", "80s"}

// DefaultConfig returns the defaults used against the live sources.
func DefaultConfig() *Config {
	return &Config{
		LastFMBaseURL:    "https://www.last.fm/ru",
		GeniusBaseURL:    "https://genius.com",
		Genres:           slices.Clone(DefaultGenres),
		ArtistsPageLimit: 2,
		AlbumsPageLimit:  2,
		HarvestAlbums:    false,
		Delay:            0,
		DownloadDelay:    2 * time.Second,
		InsertDelay:      750 * time.Millisecond,
		Timeout:          10 * time.Second,
		CacheSize:        256,
		JSONRoot:         "jsons",
		ImagesDir:        "media",
		MediaFolder:      "media",
		ImageMaxSize:     0,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		AcceptLanguage:   "ru-RU,ru;q=0.9,en;q=0.8",
		RespectRobotsTxt: false,
		SQLitePath:       "",
		Postgres: PostgresConfig{
			Host:   "localhost",
			Port:   5432,
			Schema: "public",
		},
		ExportFile:   "output/artists.csv",
		ExportFormat: "csv",
	}
}

// IsKnownGenre reports whether name belongs to the configured genre set.
func (c *Config) IsKnownGenre(name string) bool {
	return slices.Contains(c.Genres, name)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"last.fm": c.LastFMBaseURL, "genius": c.GeniusBaseURL} {
		if raw == "" {
			return fmt.Errorf("%s base URL cannot be empty", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s base URL: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s base URL must include a host", name)
		}
	}

	if len(c.Genres) == 0 {
		return fmt.Errorf("genres cannot be empty")
	}
	if c.ArtistsPageLimit <= 0 {
		return fmt.Errorf("artists page limit must be positive")
	}
	if c.AlbumsPageLimit <= 0 {
		return fmt.Errorf("albums page limit must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.DownloadDelay < 0 {
		return fmt.Errorf("download delay cannot be negative")
	}
	if c.InsertDelay < 0 {
		return fmt.Errorf("insert delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.JSONRoot == "" {
		return fmt.Errorf("json root cannot be empty")
	}
	if c.ImagesDir == "" {
		return fmt.Errorf("images dir cannot be empty")
	}
	if c.ImageMaxSize < 0 {
		return fmt.Errorf("image max size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Postgres.Enabled {
		if c.Postgres.Name == "" || c.Postgres.User == "" {
			return fmt.Errorf("postgres sink requires DB_NAME and DB_USER")
		}
		if c.Postgres.Port <= 0 {
			return fmt.Errorf("postgres port must be positive")
		}
		if c.Postgres.Schema == "" {
			return fmt.Errorf("postgres schema cannot be empty")
		}
	}
	if c.ExportFormat != "csv" && c.ExportFormat != "json" && c.ExportFormat != "dual" {
		return fmt.Errorf("export format must be csv, json, or dual")
	}

	return nil
}
