package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aluiziolira/go-scrape-music/checkpoint"
	"github.com/aluiziolira/go-scrape-music/config"
	"github.com/aluiziolira/go-scrape-music/db"
	"github.com/aluiziolira/go-scrape-music/pipeline"
	"github.com/aluiziolira/go-scrape-music/scraper"
	"github.com/aluiziolira/go-scrape-music/storage"
)

type app struct {
	orchestrator *pipeline.Orchestrator
	fetcher      *scraper.CollyFetcher
	metrics      *scraper.Metrics
	closers      []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{metrics: scraper.NewMetrics()}

	fetcher, err := scraper.NewCollyFetcher(cfg, a.metrics, logger)
	if err != nil {
		return nil, err
	}
	a.fetcher = fetcher
	pages, err := scraper.NewCachingFetcher(fetcher, cfg.CacheSize, a.metrics)
	if err != nil {
		return nil, err
	}

	snapshots, err := storage.NewLocal(cfg.JSONRoot)
	if err != nil {
		return nil, err
	}
	images, err := storage.NewLocal(cfg.ImagesDir)
	if err != nil {
		return nil, err
	}

	sink, err := a.openSinks(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator, err = pipeline.New(cfg, pipeline.Deps{
		Fetcher: pages,
		Assets:  fetcher,
		Store:   checkpoint.New(snapshots, logger),
		Files:   images,
		Sink:    sink,
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openSinks opens every configured database. No database means snapshots only.
func (a *app) openSinks(ctx context.Context, cfg *config.Config) (pipeline.RecordSink, error) {
	var sinks pipeline.MultiSink
	if cfg.SQLitePath != "" {
		lite, err := db.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { lite.Close() })
		sinks = append(sinks, lite)
	}
	if cfg.Postgres.Enabled {
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, pg)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
}

// listEntities prints rows as indented JSON, reading Postgres when enabled and SQLite otherwise.
func listEntities(ctx context.Context, cfg *config.Config, entity string) error {
	var catalog db.Catalog
	switch {
	case cfg.Postgres.Enabled:
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		catalog = pg
	case cfg.SQLitePath != "":
		lite, err := db.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer lite.Close()
		catalog = lite
	default:
		return fmt.Errorf("list needs a database: pass -db or set DB_NAME")
	}

	var rows any
	var err error
	switch entity {
	case "artists":
		rows, err = catalog.ListArtists(ctx)
	case "albums":
		rows, err = catalog.ListAlbums(ctx)
	case "songs":
		rows, err = catalog.ListSongs(ctx)
	case "genres":
		rows, err = catalog.ListGenres(ctx)
	default:
		return fmt.Errorf("unknown entity %q", entity)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
