package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-music/models"
	"github.com/aluiziolira/go-scrape-music/parser"
)

// ErrUnparsable marks a 2xx body the HTML parser rejected.
var ErrUnparsable = errors.New("scraper: unparsable document")

// Extract returns the rule's fragments in document order. No match yields an
// empty slice.
func Extract(doc *goquery.Document, rule Rule) []string {
	sel := doc.Find(rule.Selector())
	if sel.Length() <= rule.Skip {
		return nil
	}
	if rule.Skip > 0 {
		sel = sel.Slice(rule.Skip, goquery.ToEnd)
	}
	if rule.Last {
		sel = sel.Last()
	}

	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if v, ok := payload(s, rule); ok {
			out = append(out, v)
		}
	})
	if rule.Join && len(out) > 0 {
		out = []string{strings.Join(out, " ")}
	}
	return out
}

// ExtractFirst returns the first fragment, if any.
func ExtractFirst(doc *goquery.Document, rule Rule) models.Optional[string] {
	fragments := Extract(doc, rule)
	if len(fragments) == 0 {
		return models.None[string]()
	}
	return models.Some(fragments[0])
}

func payload(s *goquery.Selection, rule Rule) (string, bool) {
	node := s
	if rule.Child >= 0 {
		children := s.Children()
		if rule.Child >= children.Length() {
			return "", false
		}
		node = children.Eq(rule.Child)
	}
	if rule.Attr != "" {
		v, ok := node.Attr(rule.Attr)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	return parser.NormalizeText(node.Text()), true
}

// MaxPages reads the pagination control. A page without one has a single
// page, so the exclusive bound is 2.
func MaxPages(doc *goquery.Document) (int, error) {
	last, ok := ExtractFirst(doc, Rules[KindPagination]).Get()
	if !ok {
		return 2, nil
	}
	n, err := strconv.Atoi(last)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("pagination control holds %q, not a page number", last)
	}
	return n, nil
}

// Target pairs a page with the rule applied to it.
type Target struct {
	URL  string
	Kind Kind
}

// Engine fetches pages and applies extraction rules to them.
type Engine struct {
	fetcher Fetcher
	metrics *Metrics
	logger  *slog.Logger
}

// NewEngine returns an Engine reading pages through fetcher.
func NewEngine(fetcher Fetcher, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fetcher: fetcher, metrics: metrics, logger: logger}
}

// Document fetches rawURL and parses it. A non-2xx status is returned as a
// classified error that satisfies IsStatus.
func (e *Engine) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		if resp.URL == "" {
			resp.URL = rawURL
		}
		return nil, statusError(resp)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnparsable, rawURL, err)
	}
	return doc, nil
}

// ResolveWithFallback tries each target once, in order, and returns the
// first fragment found. A non-2xx or unparsable page counts as a miss;
// transport errors are returned.
func (e *Engine) ResolveWithFallback(ctx context.Context, targets ...Target) (models.Optional[string], error) {
	for i, target := range targets {
		rule, err := RuleFor(target.Kind)
		if err != nil {
			return models.None[string](), err
		}
		if i > 0 {
			e.metrics.IncFallback(string(targets[0].Kind))
			e.logger.Debug("falling back to secondary source",
				slog.String("kind", string(targets[0].Kind)),
				slog.String("url", target.URL),
			)
		}

		doc, err := e.Document(ctx, target.URL)
		if err != nil {
			if IsStatus(err) || errors.Is(err, ErrUnparsable) {
				continue
			}
			return models.None[string](), err
		}
		if v := ExtractFirst(doc, rule); v.Present() {
			return v, nil
		}
	}
	return models.None[string](), nil
}

// ExtractFrom applies kind's rule to a single page.
func (e *Engine) ExtractFrom(ctx context.Context, rawURL string, kind Kind) (models.Optional[string], error) {
	return e.ResolveWithFallback(ctx, Target{URL: rawURL, Kind: kind})
}

// ResolveImage applies kind's rule to primaryURL and, when it finds nothing,
// the rule's declared fallback to fallbackURL.
func (e *Engine) ResolveImage(ctx context.Context, kind Kind, primaryURL, fallbackURL string) (models.Optional[string], error) {
	rule, err := RuleFor(kind)
	if err != nil {
		return models.None[string](), err
	}
	targets := []Target{{URL: primaryURL, Kind: kind}}
	if rule.Fallback != "" {
		targets = append(targets, Target{URL: fallbackURL, Kind: rule.Fallback})
	}
	return e.ResolveWithFallback(ctx, targets...)
}
