package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load returns DefaultConfig with .env files and environment overrides applied.
// .env.local is read before .env and neither overrides variables already set.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from the process environment.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString("LASTFM_BASE_URL"); ok {
		cfg.LastFMBaseURL = v
	}
	if v, ok := EnvString("GENIUS_BASE_URL"); ok {
		cfg.GeniusBaseURL = v
	}
	if v, ok := EnvList("HARVEST_GENRES"); ok {
		cfg.Genres = v
	}
	if v, ok := EnvString("HARVEST_JSON_ROOT"); ok {
		cfg.JSONRoot = v
	}
	if v, ok := EnvString("HARVEST_IMAGES_DIR"); ok {
		cfg.ImagesDir = v
	}
	if v, ok := EnvString("RELATIVE_MEDIA_FOLDER"); ok {
		cfg.MediaFolder = v
	}
	if v, ok := EnvString("HARVEST_SQLITE"); ok {
		cfg.SQLitePath = v
	}
	if v, ok := EnvString("HARVEST_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"HARVEST_ARTISTS_PAGE_LIMIT", &cfg.ArtistsPageLimit},
		{"HARVEST_ALBUMS_PAGE_LIMIT", &cfg.AlbumsPageLimit},
		{"HARVEST_CACHE_SIZE", &cfg.CacheSize},
		{"HARVEST_IMAGE_MAX_SIZE", &cfg.ImageMaxSize},
		{"DB_PORT", &cfg.Postgres.Port},
	}
	for _, e := range ints {
		v, ok, err := EnvInt(e.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		if ok {
			*e.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HARVEST_DELAY", &cfg.Delay},
		{"HARVEST_DOWNLOAD_DELAY", &cfg.DownloadDelay},
		{"HARVEST_INSERT_DELAY", &cfg.InsertDelay},
		{"HARVEST_TIMEOUT", &cfg.Timeout},
	}
	for _, e := range durations {
		v, ok, err := EnvDuration(e.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		if ok {
			*e.dst = v
		}
	}

	if v, ok, err := EnvBool("HARVEST_ALBUMS"); err != nil {
		return fmt.Errorf("invalid HARVEST_ALBUMS: %w", err)
	} else if ok {
		cfg.HarvestAlbums = v
	}

	if v, ok := EnvString("DB_USER"); ok {
		cfg.Postgres.User = v
	}
	if v, ok := EnvString("DB_PASSWORD"); ok {
		cfg.Postgres.Password = v
	}
	if v, ok := EnvString("DB_HOST"); ok {
		cfg.Postgres.Host = v
	}
	if v, ok := EnvString("DB_NAME"); ok {
		cfg.Postgres.Name = v
		cfg.Postgres.Enabled = true
	}
	if v, ok := EnvString("SCHEMA_NAME"); ok {
		cfg.Postgres.Schema = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// EnvDuration parses key with time.ParseDuration when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// EnvBool parses key with strconv.ParseBool when it is set.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return v, true, nil
}

// EnvList splits a comma-separated value, dropping empty entries.
func EnvList(key string) ([]string, bool) {
	raw, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, len(out) > 0
}
