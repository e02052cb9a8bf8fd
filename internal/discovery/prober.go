// Package discovery performs one-shot site reconnaissance: robots.txt analysis, probing of
// well-known sitemap, feed, API and static-file locations, platform fingerprinting, and
// per-search-engine crawler compatibility scoring.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitescout/internal/clock"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/robots"
)

const (
	defaultMaxConcurrent = 10
	defaultProbeTimeout  = 10 * time.Second
)

// Config tunes a Prober.
type Config struct {
	UserAgent     string
	MaxConcurrent int
	ProbeTimeout  time.Duration
}

// Options selects which probes a Discover call runs. An empty Categories runs them all.
type Options struct {
	Categories []Category
	// MaxConcurrent overrides the configured in-flight probe ceiling when positive.
	MaxConcurrent int
}

func (o Options) enabled(c Category) bool {
	if len(o.Categories) == 0 {
		return true
	}
	for _, want := range o.Categories {
		if want == c {
			return true
		}
	}
	return false
}

// Prober runs discovery batteries against a site.
type Prober struct {
	fetcher fetch.Fetcher
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
}

// NewProber builds a Prober. A nil clock uses the system clock.
func NewProber(fetcher fetch.Fetcher, cfg Config, clk clock.Clock, logger *zap.Logger) *Prober {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{fetcher: fetcher, cfg: cfg, clock: clock.OrSystem(clk), logger: logger}
}

type probeResult struct {
	status      int
	contentType string
	err         error
}

func (r probeResult) found() bool {
	return r.err == nil && r.status >= 200 && r.status < 300
}

// Discover probes baseURL. Only an unusable base URL is returned as an error; every probe
// failure is recorded in Report.Errors.
func (p *Prober) Discover(ctx context.Context, baseURL string, opts Options) (Report, error) {
	origin, host, err := parseBase(baseURL)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Domain:    host,
		Timestamp: p.clock.Now(),
		Discovered: Discovered{
			Sitemaps:     []SitemapHit{},
			Feeds:        []Hit{},
			APIs:         []Hit{},
			StaticFiles:  []Hit{},
			Platforms:    []Platform{},
			Subdomains:   []string{},
			ExposedPaths: []string{},
		},
		Errors: []ProbeError{},
	}

	var (
		robotsStatus int
		robotsBody   []byte
	)
	if opts.enabled(CategoryRobots) {
		robotsStatus, robotsBody = p.analyzeRobots(ctx, origin, host, &report)
	}

	paths := p.plan(opts)
	limit := p.cfg.MaxConcurrent
	if opts.MaxConcurrent > 0 {
		limit = opts.MaxConcurrent
	}
	results := p.probeAll(ctx, origin, paths, limit, opts)
	report.Stats.URLsProbed += len(paths)

	for _, path := range paths {
		res := results[path]
		if res.err != nil {
			report.Errors = append(report.Errors, ProbeError{Probe: categoryOf(path, opts), URL: origin + path, Message: res.err.Error()})
		}
		if res.found() {
			report.Stats.URLsFound++
		}
	}

	if opts.enabled(CategorySitemap) {
		for _, path := range sitemapPaths {
			if res := results[path]; res.found() {
				addSitemap(&report, origin+path, path, "probe", res)
			}
		}
	}
	if opts.enabled(CategoryFeed) {
		for _, path := range feedPaths {
			if res := results[path]; res.found() {
				report.Discovered.Feeds = append(report.Discovered.Feeds, Hit{
					URL: origin + path, Path: path, Status: res.status, ContentType: res.contentType,
					Type: classifyFeed(path, res.contentType), Source: "probe",
				})
			}
		}
	}
	if opts.enabled(CategoryAPI) {
		for _, path := range apiPaths {
			if res := results[path]; res.found() {
				report.Discovered.APIs = append(report.Discovered.APIs, Hit{
					URL: origin + path, Path: path, Status: res.status, ContentType: res.contentType,
					Type: classifyAPI(path), Source: "probe",
				})
			}
		}
	}
	if opts.enabled(CategoryStatic) {
		for _, path := range staticPaths {
			if res := results[path]; res.found() {
				report.Discovered.StaticFiles = append(report.Discovered.StaticFiles, Hit{
					URL: origin + path, Path: path, Status: res.status, ContentType: res.contentType, Source: "probe",
				})
			}
		}
	}
	if opts.enabled(CategoryPlatform) {
		report.Discovered.Platforms = detectPlatforms(results)
	}

	sort.SliceStable(report.Discovered.Sitemaps, func(i, j int) bool {
		return report.Discovered.Sitemaps[i].Score > report.Discovered.Sitemaps[j].Score
	})

	if opts.enabled(CategoryRobots) {
		report.Compatibility = scoreCompatibility(robotsStatus, robotsBody, report.Robots, report.Discovered.Sitemaps)
	}
	report.summarize()
	p.logger.Info("discovery finished",
		zap.String("domain", host),
		zap.Int("probed", report.Stats.URLsProbed),
		zap.Int("found", report.Stats.URLsFound),
		zap.Int("errors", report.Stats.Errors),
	)
	return report, nil
}

// analyzeRobots fetches robots.txt and folds its directives into the report. It returns the
// HTTP status (zero on transport failure) and the body for compatibility scoring.
func (p *Prober) analyzeRobots(ctx context.Context, origin, host string, report *Report) (int, []byte) {
	robotsURL := origin + "/robots.txt"
	report.Stats.URLsProbed++
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	resp, err := fetch.Get(fetchCtx, p.fetcher, robotsURL)
	if err != nil {
		report.Errors = append(report.Errors, ProbeError{Probe: CategoryRobots, URL: robotsURL, Message: err.Error()})
		report.Robots = &RobotsAnalysis{}
		metrics.ObserveDiscoveryProbe(string(CategoryRobots), false)
		return 0, nil
	}
	analysis := &RobotsAnalysis{Found: resp.OK()}
	report.Robots = analysis
	metrics.ObserveDiscoveryProbe(string(CategoryRobots), analysis.Found)
	if !analysis.Found {
		return resp.StatusCode, nil
	}
	report.Stats.URLsFound++

	rules := robots.Parse(string(resp.Body))
	agent := p.cfg.UserAgent
	if agent == "" {
		agent = "*"
	}
	analysis.Sitemaps = rules.Sitemaps
	analysis.Disallowed = rules.DisallowedPaths(agent)
	analysis.Allowed = rules.AllowedPaths(agent)
	analysis.CrawlDelay = rules.ForAgent(agent).CrawlDelay.Seconds()
	analysis.Host = rules.Host

	seenExposed := map[string]struct{}{}
	for _, path := range analysis.Disallowed {
		if apiLikePath.MatchString(path) {
			report.Discovered.APIs = append(report.Discovered.APIs, Hit{
				URL: origin + path, Path: path, Type: classifyAPI(path), Source: "robots",
			})
		}
		if sensitivePath.MatchString(path) {
			if _, dup := seenExposed[path]; !dup {
				seenExposed[path] = struct{}{}
				report.Discovered.ExposedPaths = append(report.Discovered.ExposedPaths, path)
			}
		}
	}

	seenHosts := map[string]struct{}{host: {}}
	candidates := append([]string{}, rules.Sitemaps...)
	if rules.Host != "" {
		candidates = append(candidates, "https://"+strings.TrimPrefix(strings.TrimPrefix(rules.Host, "https://"), "http://"))
	}
	for _, raw := range candidates {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		sub := strings.ToLower(u.Hostname())
		if _, seen := seenHosts[sub]; seen || registrableDomain(sub) != registrableDomain(host) {
			continue
		}
		seenHosts[sub] = struct{}{}
		report.Discovered.Subdomains = append(report.Discovered.Subdomains, sub)
	}
	for _, sm := range rules.Sitemaps {
		path := sm
		if u, err := url.Parse(sm); err == nil {
			path = u.Path
		}
		addSitemap(report, sm, path, "robots", probeResult{status: http.StatusOK})
	}
	return resp.StatusCode, resp.Body
}

// plan returns the unique probe paths for the enabled categories, in battery order.
func (p *Prober) plan(opts Options) []string {
	var paths []string
	seen := map[string]struct{}{}
	add := func(list []string) {
		for _, path := range list {
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			paths = append(paths, path)
		}
	}
	if opts.enabled(CategorySitemap) {
		add(sitemapPaths)
	}
	if opts.enabled(CategoryFeed) {
		add(feedPaths)
	}
	if opts.enabled(CategoryAPI) {
		add(apiPaths)
	}
	if opts.enabled(CategoryStatic) {
		add(staticPaths)
	}
	if opts.enabled(CategoryPlatform) {
		for _, platform := range platformPaths {
			add(platform.paths)
		}
	}
	return paths
}

// probeAll issues HEAD requests in chunks of limit, waiting for each chunk before the next.
func (p *Prober) probeAll(ctx context.Context, origin string, paths []string, limit int, opts Options) map[string]probeResult {
	results := make(map[string]probeResult, len(paths))
	chunk := make([]probeResult, limit)
	for start := 0; start < len(paths); start += limit {
		end := min(start+limit, len(paths))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				chunk[i-start] = p.probe(ctx, origin+paths[i])
				return nil
			})
		}
		_ = g.Wait()
		for i := start; i < end; i++ {
			results[paths[i]] = chunk[i-start]
			metrics.ObserveDiscoveryProbe(string(categoryOf(paths[i], opts)), chunk[i-start].found())
		}
	}
	return results
}

func (p *Prober) probe(ctx context.Context, target string) probeResult {
	if err := ctx.Err(); err != nil {
		return probeResult{err: err}
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	resp, err := fetch.Head(probeCtx, p.fetcher, target)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp, err = fetch.Get(probeCtx, p.fetcher, target)
	}
	if err != nil {
		return probeResult{err: fmt.Errorf("probe %s: %w", target, err)}
	}
	return probeResult{status: resp.StatusCode, contentType: resp.ContentType()}
}

func addSitemap(report *Report, target, path, source string, res probeResult) {
	for _, existing := range report.Discovered.Sitemaps {
		if existing.URL == target {
			return
		}
	}
	kind, score := classifySitemap(path)
	report.Discovered.Sitemaps = append(report.Discovered.Sitemaps, SitemapHit{
		Hit: Hit{
			URL: target, Path: path, Status: res.status, ContentType: res.contentType,
			Type: kind, Source: source,
		},
		Score: score,
	})
}

func detectPlatforms(results map[string]probeResult) []Platform {
	out := []Platform{}
	for _, platform := range platformPaths {
		detected := Platform{Name: platform.name, Probed: len(platform.paths), Evidence: []string{}}
		for _, path := range platform.paths {
			if results[path].found() {
				detected.Found++
				detected.Evidence = append(detected.Evidence, path)
			}
		}
		if detected.Found == 0 {
			continue
		}
		detected.Confidence = float64(detected.Found) / float64(detected.Probed)
		out = append(out, detected)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// categoryOf attributes a probe path to the first enabled battery listing it.
// Paths no enabled battery lists come from the platform signatures.
func categoryOf(path string, opts Options) Category {
	batteries := []struct {
		category Category
		paths    []string
	}{
		{CategorySitemap, sitemapPaths},
		{CategoryFeed, feedPaths},
		{CategoryAPI, apiPaths},
		{CategoryStatic, staticPaths},
	}
	for _, b := range batteries {
		if !opts.enabled(b.category) {
			continue
		}
		for _, candidate := range b.paths {
			if candidate == path {
				return b.category
			}
		}
	}
	return CategoryPlatform
}

func parseBase(baseURL string) (origin, host string, err error) {
	raw := strings.TrimSpace(baseURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "", fmt.Errorf("parse base url: %q has no http(s) host", baseURL)
	}
	return u.Scheme + "://" + u.Host, strings.ToLower(u.Hostname()), nil
}

func registrableDomain(host string) string {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
