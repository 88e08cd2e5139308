package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-scrape-music/scraper"
	"github.com/aluiziolira/go-scrape-music/storage"
)

// Asset is a binary to download and the path it is stored under.
type Asset struct {
	URL  string
	Path string
}

// Downloader fetches assets one at a time with a fixed delay between downloads.
type Downloader struct {
	fetcher  scraper.Fetcher
	files    storage.FS
	images   *ImageProcessor
	limiter  Limiter
	metrics  *scraper.Metrics
	logger   *slog.Logger
}

// NewDownloader returns a Downloader writing into files. images may be nil.
func NewDownloader(fetcher scraper.Fetcher, files storage.FS, images *ImageProcessor, limiter Limiter, metrics *scraper.Metrics, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &Downloader{
		fetcher:  fetcher,
		files:    files,
		images:   images,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
	}
}

// Download stores every asset not already present and returns how many it wrote.
// A non-2xx response skips that asset; a transport error stops the pass.
func (d *Downloader) Download(ctx context.Context, assets []Asset) (int, error) {
	written := 0
	for _, asset := range assets {
		ok, err := d.files.Exists(asset.Path)
		if err != nil {
			return written, err
		}
		if ok {
			d.metrics.IncAsset("skipped")
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return written, err
		}
		resp, err := d.fetcher.Fetch(ctx, asset.URL)
		if err != nil {
			d.metrics.IncAsset("failed")
			return written, fmt.Errorf("download %s: %w", asset.URL, err)
		}
		if !resp.OK() {
			d.metrics.IncAsset("failed")
			d.logger.Warn("asset download failed",
				slog.String("url", asset.URL),
				slog.Int("status", resp.StatusCode),
			)
			continue
		}

		data := resp.Body
		if d.images != nil {
			processed, err := d.images.Process(data)
			if err != nil {
				d.logger.Warn("storing image unprocessed",
					slog.String("url", asset.URL),
					slog.Any("error", err),
				)
			} else {
				data = processed
			}
		}
		if err := d.files.Write(asset.Path, data); err != nil {
			return written, err
		}
		d.metrics.IncAsset("downloaded")
		written++
	}
	return written, nil
}

var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// assetName turns an artist or album name into a file name segment. A name
// that had to be changed gets a short hash of the original so distinct names
// keep distinct files.
func assetName(name string) string {
	clean := strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, "_"))
	if clean == "" || strings.Trim(clean, ".") == "" {
		clean = "_"
	}
	if clean != name {
		sum := sha256.Sum256([]byte(name))
		clean += "-" + hex.EncodeToString(sum[:4])
	}
	return clean
}

// assetPath joins name segments into a .png path.
func assetPath(segments ...string) string {
	names := make([]string, len(segments))
	for i, s := range segments {
		names[i] = assetName(s)
	}
	return path.Join(names...) + ".png"
}
