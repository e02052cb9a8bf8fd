package sitemap

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitescout/internal/clock"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/robots"
)

const (
	defaultMaxDepth     = 3
	defaultMaxSitemaps  = 50
	defaultMaxURLs      = 50000
	defaultCacheTimeout = time.Hour
	defaultFetchTimeout = 30 * time.Second
	probeConcurrency    = 5
)

// CommonLocations are the paths probed when a site declares no sitemap.
var CommonLocations = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.xml.gz",
	"/sitemaps.xml",
	"/sitemap.txt",
	"/wp-sitemap.xml",
	"/post-sitemap.xml",
	"/page-sitemap.xml",
	"/product-sitemap.xml",
	"/news-sitemap.xml",
	"/video-sitemap.xml",
	"/image-sitemap.xml",
	"/rss.xml",
	"/feed.xml",
	"/atom.xml",
}

// Options configures a Parser. MaxDepth, MaxSitemaps and MaxURLs are hard ceilings.
type Options struct {
	Fetcher      fetch.Fetcher
	Logger       *zap.Logger
	Clock        clock.Clock
	CacheTimeout time.Duration
	FetchTimeout time.Duration
	MaxDepth     int
	MaxSitemaps  int
	MaxURLs      int
}

// ParseOptions tunes a single Parse call.
type ParseOptions struct {
	Recursive bool
	// MaxDepth lowers the configured ceiling for this call when positive.
	MaxDepth int
}

type cacheEntry struct {
	doc       Document
	fetchedAt time.Time
}

// Parser fetches and flattens sitemaps. It is safe for concurrent use.
type Parser struct {
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	stats Stats
}

// New builds a Parser.
func New(opts Options) *Parser {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.MaxSitemaps <= 0 {
		opts.MaxSitemaps = defaultMaxSitemaps
	}
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = defaultMaxURLs
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = defaultCacheTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		opts:   opts,
		clock:  clock.OrSystem(opts.Clock),
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}
}

// walk tracks ceilings shared by every document of one Parse call.
type walk struct {
	maxDepth int
	visited  map[string]struct{}
	children int
	entries  []Entry
}

// Parse fetches sitemapURL and returns its entries. Index documents are expanded when
// opts.Recursive is set; otherwise their children are returned with IsSitemap set.
// Failures of the root document are returned; failures of child sitemaps are counted and skipped.
func (p *Parser) Parse(ctx context.Context, sitemapURL string, opts ParseOptions) ([]Entry, error) {
	doc, err := p.document(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	w := &walk{
		maxDepth: p.opts.MaxDepth,
		visited:  map[string]struct{}{sitemapURL: {}},
	}
	if opts.MaxDepth > 0 && opts.MaxDepth < w.maxDepth {
		w.maxDepth = opts.MaxDepth
	}
	if doc.Format == FormatIndex && !opts.Recursive {
		for _, child := range doc.Sitemaps {
			w.entries = append(w.entries, Entry{URL: child, Source: sitemapURL, IsSitemap: true})
		}
	} else {
		p.expand(ctx, doc, 0, w)
	}
	p.mu.Lock()
	p.stats.URLsReturned += len(w.entries)
	p.mu.Unlock()
	return w.entries, nil
}

func (p *Parser) expand(ctx context.Context, doc Document, depth int, w *walk) {
	for _, entry := range doc.Entries {
		if len(w.entries) >= p.opts.MaxURLs {
			return
		}
		w.entries = append(w.entries, entry)
	}
	if doc.Format != FormatIndex {
		return
	}
	for _, child := range doc.Sitemaps {
		if len(w.entries) >= p.opts.MaxURLs || w.children >= p.opts.MaxSitemaps {
			return
		}
		if depth+1 > w.maxDepth {
			p.logger.Debug("sitemap depth ceiling reached", zap.String("url", child), zap.Int("depth", depth+1))
			metrics.ObserveSitemapDocument("skipped")
			return
		}
		if _, seen := w.visited[child]; seen {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		w.visited[child] = struct{}{}
		w.children++
		childDoc, err := p.document(ctx, child)
		if err != nil {
			p.logger.Warn("child sitemap failed", zap.String("url", child), zap.Error(err))
			continue
		}
		p.expand(ctx, childDoc, depth+1, w)
	}
}

// document returns the parsed document for one URL, using the cache while it is fresh.
func (p *Parser) document(ctx context.Context, sitemapURL string) (Document, error) {
	now := p.clock.Now()
	p.mu.Lock()
	if cached, ok := p.cache[sitemapURL]; ok && now.Sub(cached.fetchedAt) < p.opts.CacheTimeout {
		p.stats.CacheHits++
		p.mu.Unlock()
		return cached.doc, nil
	}
	p.mu.Unlock()

	if p.opts.Fetcher == nil {
		return Document{}, fetch.ErrNoFetcher
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()
	resp, err := fetch.Get(fetchCtx, p.opts.Fetcher, sitemapURL)
	p.mu.Lock()
	p.stats.DocumentsFetched++
	p.mu.Unlock()
	if err != nil {
		p.recordError()
		return Document{}, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	if !resp.OK() {
		p.recordError()
		return Document{}, fmt.Errorf("fetch sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}

	compressed := IsGzip(resp.Body)
	doc, err := ParseDocument(resp.Body, sitemapURL)
	if err != nil {
		p.recordError()
		return Document{}, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	metrics.ObserveSitemapDocument("parsed")

	p.mu.Lock()
	p.stats.DocumentsParsed++
	if compressed {
		p.stats.Decompressed++
	}
	p.cache[sitemapURL] = cacheEntry{doc: doc, fetchedAt: now}
	p.mu.Unlock()
	return doc, nil
}

func (p *Parser) recordError() {
	metrics.ObserveSitemapDocument("error")
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}

// DiscoverFromRobotsTxt returns the Sitemap URLs declared in a robots.txt file.
func (p *Parser) DiscoverFromRobotsTxt(ctx context.Context, robotsURL string) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()
	resp, err := fetch.Get(fetchCtx, p.opts.Fetcher, robotsURL)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	if !resp.OK() {
		return nil, nil
	}
	return robots.Parse(string(resp.Body)).Sitemaps, nil
}

// ProbeCommonLocations issues HEAD requests for CommonLocations on domain. Failed probes
// report Exists=false. Results keep CommonLocations order.
func (p *Parser) ProbeCommonLocations(ctx context.Context, domain string) []ProbeResult {
	base := originOf(domain)
	results := make([]ProbeResult, len(CommonLocations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, loc := range CommonLocations {
		i, loc := i, loc
		target := base + loc
		results[i] = ProbeResult{URL: target, Format: FormatFromPath(loc)}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, p.opts.FetchTimeout)
			defer cancel()
			resp, err := fetch.Head(probeCtx, p.opts.Fetcher, target)
			if err != nil {
				return nil
			}
			results[i].Exists = resp.OK()
			if ct := resp.ContentType(); results[i].Exists && ct != "" {
				results[i].Format = formatFromContentType(ct, results[i].Format)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats returns a snapshot of parser counters.
func (p *Parser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ClearCache drops every cached document.
func (p *Parser) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[string]cacheEntry)
	p.mu.Unlock()
}

// FormatFromPath guesses a document format from a URL path.
func FormatFromPath(rawPath string) Format {
	name := strings.ToLower(path.Base(rawPath))
	name = strings.TrimSuffix(name, ".gz")
	switch {
	case strings.HasSuffix(name, ".txt"):
		return FormatText
	case strings.Contains(name, "rss") || strings.Contains(name, "feed"):
		return FormatRSS
	case strings.Contains(name, "atom"):
		return FormatAtom
	case strings.Contains(name, "index"):
		return FormatIndex
	case strings.HasSuffix(name, ".xml"):
		return FormatURLSet
	default:
		return FormatUnknown
	}
}

func formatFromContentType(contentType string, fallback Format) Format {
	switch {
	case strings.Contains(contentType, "rss"):
		return FormatRSS
	case strings.Contains(contentType, "atom"):
		return FormatAtom
	case strings.HasPrefix(contentType, "text/plain"):
		return FormatText
	default:
		return fallback
	}
}

func originOf(domain string) string {
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil || u.Host == "" {
		return strings.TrimRight(domain, "/")
	}
	return u.Scheme + "://" + u.Host
}
