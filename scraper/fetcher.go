// Package scraper fetches source pages and extracts fragments from them.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-music/config"
)

// Response is a fetched page. Non-2xx statuses are returned, not treated as errors.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is in the 2xx range.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher issues a GET for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Response, error)
}

// CollyFetcher fetches pages one at a time through a colly collector.
type CollyFetcher struct {
	collector      *colly.Collector
	acceptLanguage string
	metrics        *Metrics
	logger         *slog.Logger

	requestCount int64
}

// NewCollyFetcher builds a fetcher configured from cfg.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*CollyFetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &CollyFetcher{
		collector:      collector,
		acceptLanguage: cfg.AcceptLanguage,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

// WithTransport replaces the HTTP transport used for every request.
func (f *CollyFetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// RequestCount returns the number of requests issued so far.
func (f *CollyFetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

type fetchResult struct {
	resp Response
	err  error
}

// Fetch blocks until the response for rawURL has been read.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	var resp Response
	var got bool
	c := f.collector.Clone()
	c.ParseHTTPErrorResponse = true
	c.OnRequest(func(r *colly.Request) {
		if f.acceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.acceptLanguage)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		resp = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		got = true
	})

	start := time.Now()
	atomic.AddInt64(&f.requestCount, 1)
	done := make(chan fetchResult, 1)
	go func() {
		err := c.Visit(rawURL)
		done <- fetchResult{resp: resp, err: err}
	}()

	var result fetchResult
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case result = <-done:
	}
	f.metrics.ObserveDuration(time.Since(start))

	if result.err != nil {
		classified := classifyError(result.err, 0)
		f.metrics.IncRequest("error")
		f.metrics.IncError(ErrorTypeLabel(classified))
		f.logger.Error("request error",
			slog.String("url", rawURL),
			slog.String("category", ErrorTypeLabel(classified)),
			slog.Any("error", result.err),
		)
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, classified)
	}
	if !got {
		f.metrics.IncRequest("error")
		return Response{}, fmt.Errorf("fetch %s: no response received", rawURL)
	}

	if result.resp.OK() {
		f.metrics.IncRequest("ok")
	} else {
		f.metrics.IncRequest("non_2xx")
		f.logger.Debug("non-2xx response",
			slog.Int("status", result.resp.StatusCode),
			slog.String("url", rawURL),
		)
	}
	return result.resp, nil
}
