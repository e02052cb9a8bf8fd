package crawler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	whatwgUrl "github.com/nlnwa/whatwg-url/url"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/sitemap"
	"github.com/JakeFAU/sitescout/internal/urlpattern"
)

// ErrNoSitemapSource is returned by DiscoverFromSitemaps when no sitemap parser was configured.
var ErrNoSitemapSource = errors.New("sitemap source is not configured")

var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// LinkDiscoverer owns the frontier state of one crawl session. It is safe for concurrent use,
// but distinct sessions must not share an instance without calling Reset.
type LinkDiscoverer struct {
	matcher  PatternMatcher
	robots   RobotsChecker
	sitemaps SitemapSource
	logger   *zap.Logger

	mu              sync.Mutex
	cfg             Config
	policy          *policy
	discovered      map[string]struct{}
	queued          map[string]struct{}
	blockedByRobots map[string]struct{}
	fromSitemap     map[string]struct{}
	filtered        map[string]int
	byPattern       map[string]int
}

// NewLinkDiscoverer validates cfg and builds a discoverer. matcher, robots and sitemaps may be nil.
func NewLinkDiscoverer(
	cfg Config,
	matcher PatternMatcher,
	robots RobotsChecker,
	sitemaps SitemapSource,
	logger *zap.Logger,
) (*LinkDiscoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &LinkDiscoverer{
		matcher:  matcher,
		robots:   robots,
		sitemaps: sitemaps,
		logger:   logger,
	}
	d.resetLocked(cfg)
	return d, nil
}

// Reset clears all frontier state. A non-nil cfg replaces the current configuration.
func (d *LinkDiscoverer) Reset(cfg *Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.cfg
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
		next = *cfg
	}
	d.resetLocked(next)
	return nil
}

func (d *LinkDiscoverer) resetLocked(cfg Config) {
	d.cfg = cfg
	d.policy = newPolicy(cfg, d.matcher)
	d.discovered = make(map[string]struct{})
	d.queued = make(map[string]struct{})
	d.blockedByRobots = make(map[string]struct{})
	d.fromSitemap = make(map[string]struct{})
	d.filtered = make(map[string]int)
	d.byPattern = make(map[string]int)
}

type anchor struct {
	href     string
	text     string
	nofollow bool
}

// ExtractLinks returns the new links found in html, in document order. It does not consult
// robots.txt. Nothing is returned once depth reaches MaxDepth or the frontier is full.
func (d *LinkDiscoverer) ExtractLinks(html, baseURL string, depth int) []DiscoveredLink {
	d.mu.Lock()
	maxDepth := d.cfg.MaxDepth
	full := len(d.discovered) >= d.cfg.MaxURLs
	d.mu.Unlock()
	if depth >= maxDepth || full {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		d.logger.Warn("parse html failed", zap.String("url", baseURL), zap.Error(err))
		return nil
	}
	base := baseURL
	if href, found := doc.Find("base[href]").Attr("href"); found {
		if u, err := urlParser.ParseRef(baseURL, href); err == nil {
			base = u.Href(false)
		}
	}
	var anchors []anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rel, _ := s.Attr("rel")
		anchors = append(anchors, anchor{
			href:     href,
			text:     strings.Join(strings.Fields(s.Text()), " "),
			nofollow: hasToken(rel, "nofollow"),
		})
	})

	sourceURL, err := NormalizeURL(baseURL, d.normalizeOptions())
	if err != nil {
		sourceURL = baseURL
	}
	baseHost := hostOf(baseURL)

	d.mu.Lock()
	defer d.mu.Unlock()
	var links []DiscoveredLink
	for _, a := range anchors {
		if len(d.discovered) >= d.cfg.MaxURLs {
			break
		}
		if ignoredHref(a.href) || (a.nofollow && d.cfg.RespectNofollow) {
			d.rejectLocked(reasonIgnored)
			continue
		}
		resolved, err := urlParser.ParseRef(base, strings.TrimSpace(a.href))
		if err != nil {
			d.rejectLocked(reasonInvalid)
			continue
		}
		scheme := resolved.Scheme()
		if scheme != "http" && scheme != "https" {
			d.rejectLocked(reasonIgnored)
			continue
		}
		normalized, err := NormalizeURL(resolved.Href(false), d.cfg.normalizeOptions())
		if err != nil {
			d.rejectLocked(reasonInvalid)
			continue
		}
		if ignoredTarget(pathOf(normalized)) {
			d.rejectLocked(reasonIgnored)
			continue
		}
		match, reason := d.policy.evaluate(normalized, baseHost)
		if reason != "" {
			d.rejectLocked(reason)
			continue
		}
		if _, seen := d.discovered[normalized]; seen {
			d.rejectLocked(reasonDuplicate)
			continue
		}
		d.acceptLocked(normalized, match)
		metrics.ObserveLink(verdictAccepted)
		links = append(links, newLink(normalized, a.text, depth+1, sourceURL, match))
	}
	return links
}

// ExtractLinksAsync extracts links like ExtractLinks and then drops those robots.txt disallows.
// Allowed links carry the host crawl delay in Metadata["crawlDelay"] (seconds).
func (d *LinkDiscoverer) ExtractLinksAsync(ctx context.Context, html, baseURL string, depth int) ([]DiscoveredLink, error) {
	links := d.ExtractLinks(html, baseURL, depth)
	return d.filterRobots(ctx, links)
}

// filterRobots checks links in parallel and preserves their order.
func (d *LinkDiscoverer) filterRobots(ctx context.Context, links []DiscoveredLink) ([]DiscoveredLink, error) {
	if d.robots == nil || len(links) == 0 {
		return links, nil
	}
	allowed := make([]bool, len(links))
	delays := make([]float64, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(robotsConcurrency)
	for i := range links {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdict := d.robots.IsAllowed(gctx, links[i].URL)
			allowed[i] = verdict.Allowed
			delays[i] = verdict.CrawlDelay.Seconds()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("check robots: %w", err)
	}

	out := make([]DiscoveredLink, 0, len(links))
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, link := range links {
		if !allowed[i] {
			d.blockedByRobots[link.URL] = struct{}{}
			d.filtered[reasonRobots]++
			metrics.ObserveLink(reasonRobots)
			continue
		}
		if delays[i] > 0 {
			if link.Metadata == nil {
				link.Metadata = make(map[string]any, 1)
			}
			link.Metadata["crawlDelay"] = delays[i]
		}
		out = append(out, link)
	}
	return out, nil
}

// DiscoverFromSitemaps seeds the frontier with depth-0 links from the site's sitemaps. Each
// sitemap URL is parsed once per call; a sitemap that fails to parse is logged and skipped.
func (d *LinkDiscoverer) DiscoverFromSitemaps(ctx context.Context, siteURL string, opts SitemapOptions) ([]DiscoveredLink, error) {
	if d.sitemaps == nil {
		return nil, ErrNoSitemapSource
	}
	origin := originOf(siteURL)
	if origin == "" {
		return nil, fmt.Errorf("discover from sitemaps: invalid site url %q", siteURL)
	}

	var candidates []string
	candidates = append(candidates, opts.Sitemaps...)
	if opts.UseRobots && d.robots != nil {
		candidates = append(candidates, d.robots.GetSitemaps(ctx, siteURL)...)
	}
	if opts.GuessDefault || len(candidates) == 0 {
		candidates = append(candidates, origin+"/sitemap.xml")
	}

	baseHost := hostOf(siteURL)
	seenSitemaps := make(map[string]struct{}, len(candidates))
	var links []DiscoveredLink
	for _, sm := range candidates {
		if _, dup := seenSitemaps[sm]; dup {
			continue
		}
		seenSitemaps[sm] = struct{}{}
		if d.IsLimitReached() {
			break
		}
		entries, err := d.sitemaps.Parse(ctx, sm, sitemap.ParseOptions{Recursive: true, MaxDepth: opts.MaxDepth})
		if err != nil {
			d.logger.Warn("sitemap seeding failed", zap.String("sitemap", sm), zap.Error(err))
			continue
		}
		links = append(links, d.acceptEntries(entries, baseHost)...)
	}

	if opts.CheckRobots {
		var err error
		if links, err = d.filterRobots(ctx, links); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	for _, link := range links {
		d.fromSitemap[link.URL] = struct{}{}
	}
	d.mu.Unlock()
	return links, nil
}

func (d *LinkDiscoverer) acceptEntries(entries []sitemap.Entry, baseHost string) []DiscoveredLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	var links []DiscoveredLink
	for _, entry := range entries {
		if len(d.discovered) >= d.cfg.MaxURLs {
			break
		}
		if entry.IsSitemap {
			continue
		}
		normalized, err := NormalizeURL(entry.URL, d.cfg.normalizeOptions())
		if err != nil {
			d.rejectLocked(reasonInvalid)
			continue
		}
		match, reason := d.policy.evaluate(normalized, baseHost)
		if reason != "" {
			d.rejectLocked(reason)
			continue
		}
		if _, seen := d.discovered[normalized]; seen {
			d.rejectLocked(reasonDuplicate)
			continue
		}
		d.acceptLocked(normalized, match)
		metrics.ObserveLink(verdictFromSitemap)
		link := newLink(normalized, "", 0, entry.Source, match)
		link.Metadata = sitemapMetadata(link.Metadata, entry)
		links = append(links, link)
	}
	return links
}

// MarkQueued records that url was handed to the scheduler.
func (d *LinkDiscoverer) MarkQueued(rawURL string) {
	key := d.key(rawURL)
	d.mu.Lock()
	d.queued[key] = struct{}{}
	d.mu.Unlock()
}

// IsQueued reports whether url was marked as queued.
func (d *LinkDiscoverer) IsQueued(rawURL string) bool {
	key := d.key(rawURL)
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.queued[key]
	return ok
}

// IsLimitReached reports whether the frontier holds MaxURLs links.
func (d *LinkDiscoverer) IsLimitReached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.discovered) >= d.cfg.MaxURLs
}

// Stats returns a snapshot of frontier counters.
func (d *LinkDiscoverer) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Discovered:      len(d.discovered),
		Queued:          len(d.queued),
		BlockedByRobots: len(d.blockedByRobots),
		FromSitemap:     len(d.fromSitemap),
		Filtered:        maps.Clone(d.filtered),
		ByPattern:       maps.Clone(d.byPattern),
		MaxURLs:         d.cfg.MaxURLs,
		MaxDepth:        d.cfg.MaxDepth,
		LimitReached:    len(d.discovered) >= d.cfg.MaxURLs,
	}
}

func (d *LinkDiscoverer) normalizeOptions() NormalizeOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.normalizeOptions()
}

func (d *LinkDiscoverer) key(rawURL string) string {
	normalized, err := NormalizeURL(rawURL, d.normalizeOptions())
	if err != nil {
		return rawURL
	}
	return normalized
}

func (d *LinkDiscoverer) rejectLocked(reason string) {
	d.filtered[reason]++
	metrics.ObserveLink(reason)
}

func (d *LinkDiscoverer) acceptLocked(normalized string, match *urlpattern.MatchResult) {
	d.discovered[normalized] = struct{}{}
	name := urlpattern.DefaultName
	if match != nil {
		name = match.Pattern
	}
	d.byPattern[name]++
}

func newLink(normalized, text string, depth int, source string, match *urlpattern.MatchResult) DiscoveredLink {
	link := DiscoveredLink{
		URL:        normalized,
		AnchorText: text,
		Depth:      depth,
		SourceURL:  source,
	}
	if match != nil {
		link.Pattern = match.Pattern
		link.Params = match.Params
		link.Activities = match.Activities
		link.Metadata = maps.Clone(match.Metadata)
	}
	return link
}

func sitemapMetadata(meta map[string]any, entry sitemap.Entry) map[string]any {
	if meta == nil {
		meta = make(map[string]any, 4)
	}
	meta["fromSitemap"] = true
	if entry.LastMod != "" {
		meta["lastmod"] = entry.LastMod
	}
	if entry.ChangeFreq != "" {
		meta["changefreq"] = entry.ChangeFreq
	}
	if entry.Priority != nil {
		meta["priority"] = *entry.Priority
	}
	return meta
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func hasToken(list, token string) bool {
	for _, field := range strings.Fields(strings.ToLower(list)) {
		if field == token {
			return true
		}
	}
	return false
}
