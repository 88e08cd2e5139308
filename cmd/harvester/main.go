package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-music/config"
	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/pipeline"
	"github.com/aluiziolira/go-scrape-music/scraper"
)

const usage = `usage: harvester <command> [flags]

commands:
  run      harvest every configured genre, then albums when enabled
  genre    harvest one page of a genre (-genre, -page)
  artist   harvest one page of an artist's albums (-artist, -page)
  genres   persist genre descriptions
  list     print rows from the database (-entity)
  export   write persisted artists to a file (-format, -output)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	bindSharedFlags(fs, cfg)
	genre := fs.String("genre", "", "Genre to harvest (genre)")
	artist := fs.String("artist", "", "Artist whose albums to harvest (artist)")
	page := fs.Int("page", 1, "Listing page to harvest (genre, artist)")
	entity := fs.String("entity", "artists", "Rows to list: artists, albums, songs or genres (list)")
	fs.BoolVar(&cfg.HarvestAlbums, "albums", cfg.HarvestAlbums, "Harvest albums of every persisted artist (run)")
	fs.StringVar(&cfg.ExportFormat, "format", cfg.ExportFormat, "Export format: csv, json or dual (export)")
	fs.StringVar(&cfg.ExportFile, "output", cfg.ExportFile, "Export file path (export)")

	switch command {
	case "run", "genre", "artist", "genres", "list", "export":
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	_ = fs.Parse(os.Args[2:])
	cfg.ExportFormat = strings.ToLower(cfg.ExportFormat)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current request")
	}()

	if command == "list" {
		if err := listEntities(ctx, cfg, *entity); err != nil {
			slog.Error("list failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		slog.Error("initialising harvester", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Close()

	metricsServer := startMetricsServer(cfg.MetricsAddr, a.metrics)

	slog.Info("starting harvest",
		slog.String("command", command),
		slog.String("json_root", cfg.JSONRoot),
		slog.Any("genres", cfg.Genres),
	)

	var result *models.RunResult
	switch command {
	case "run":
		result, err = a.orchestrator.Run(ctx)
	case "genre":
		err = a.orchestrator.RunGenrePage(ctx, *genre, *page)
		result = a.orchestrator.Result()
	case "artist":
		err = a.orchestrator.RunArtistPage(ctx, *artist, *page)
		result = a.orchestrator.Result()
	case "genres":
		err = a.orchestrator.RunGenres(ctx)
		result = a.orchestrator.Result()
	case "export":
		err = export(ctx, a.orchestrator, cfg.ExportFormat, cfg.ExportFile)
	}

	stopMetricsServer(metricsServer)

	if result != nil {
		result.RequestCount = a.fetcher.RequestCount()
		printSummary(result, cfg.JSONRoot)
	}
	if err != nil {
		slog.Error("harvest failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func bindSharedFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.JSONRoot, "root", cfg.JSONRoot, "Directory holding JSON snapshots and status records")
	fs.StringVar(&cfg.ImagesDir, "images", cfg.ImagesDir, "Directory receiving downloaded images")
	fs.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database file; empty disables the SQLite sink")
	fs.BoolVar(&cfg.Postgres.Enabled, "postgres", cfg.Postgres.Enabled, "Write records to Postgres (DB_* variables)")
	fs.DurationVar(&cfg.DownloadDelay, "download-delay", cfg.DownloadDelay, "Pause between image downloads")
	fs.DurationVar(&cfg.InsertDelay, "insert-delay", cfg.InsertDelay, "Pause between database batches")
	fs.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
}

func export(ctx context.Context, o *pipeline.Orchestrator, format, filename string) error {
	writer, err := pipeline.NewWriter(format, filename)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	n, err := o.Export(ctx, writer)
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close writer: %w", closeErr)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no persisted artists to export")
	}
	slog.Info("export complete", slog.Int("rows", n), slog.String("output", filename))
	return nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *models.RunResult, jsonRoot string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")
	fmt.Printf("  Units done:    %d\n", result.UnitsCompleted)
	fmt.Printf("  Units skipped: %d\n", result.UnitsSkipped)
	fmt.Printf("  Records:       %d\n", result.RecordCount)
	fmt.Printf("  Images:        %d\n", result.AssetCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	if len(result.MissingImages) > 0 {
		fmt.Printf("  No image:      %d\n", len(result.MissingImages))
	}
	fmt.Printf("  Failed units:  %d\n", len(result.FailedUnits))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", result.Duration().Round(time.Millisecond))
	fmt.Printf("  Snapshots:     %s\n", jsonRoot)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
