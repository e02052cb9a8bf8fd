package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/clock"
	"github.com/JakeFAU/sitescout/internal/fetch"
)

type page struct {
	status      int
	contentType string
	body        string
	headStatus  int
	err         error
}

type fakeSite struct {
	mu       sync.Mutex
	origin   string
	pages    map[string]page
	requests map[string][]string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFakeSite(origin string, pages map[string]page) *fakeSite {
	return &fakeSite{origin: origin, pages: pages, requests: map[string][]string{}}
}

func (s *fakeSite) Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		current := s.maxInFlight.Load()
		if n <= current || s.maxInFlight.CompareAndSwap(current, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return fetch.Response{}, ctx.Err()
		}
	}

	path := strings.TrimPrefix(req.URL, s.origin)
	s.mu.Lock()
	s.requests[path] = append(s.requests[path], req.Method)
	p, ok := s.pages[path]
	s.mu.Unlock()
	if !ok {
		return fetch.Response{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if p.err != nil {
		return fetch.Response{}, p.err
	}
	status := p.status
	if req.Method == http.MethodHead && p.headStatus != 0 {
		status = p.headStatus
	}
	headers := http.Header{}
	if p.contentType != "" {
		headers.Set("Content-Type", p.contentType)
	}
	resp := fetch.Response{URL: req.URL, StatusCode: status, Headers: headers}
	if req.Method == http.MethodGet {
		resp.Body = []byte(p.body)
	}
	return resp, nil
}

const robotsBody = `User-agent: *
Disallow: /api/private/
Disallow: /wp-admin/
Disallow: /checkout
Allow: /wp-admin/admin-ajax.php
Crawl-delay: 5

User-agent: Baiduspider
Disallow: /

Sitemap: https://example.com/sitemap.xml
Sitemap: https://blog.example.com/post-sitemap.xml
`

func fullSite() *fakeSite {
	ok := page{status: http.StatusOK}
	return newFakeSite("https://example.com", map[string]page{
		"/robots.txt":        {status: http.StatusOK, contentType: "text/plain", body: robotsBody},
		"/sitemap_index.xml": ok,
		"/news-sitemap.xml":  ok,
		"/feed":              {status: http.StatusOK, contentType: "application/rss+xml; charset=utf-8"},
		"/atom.xml":          {status: http.StatusOK, contentType: "application/atom+xml"},
		"/rss":               {err: errors.New("connection reset by peer")},
		"/graphql":           {status: http.StatusOK, headStatus: http.StatusMethodNotAllowed, contentType: "application/json"},
		"/ads.txt":           ok,
		"/products.json":     ok,
		"/collections.json":  ok,
		"/cart.js":           ok,
		"/wp-login.php":      ok,
	})
}

func TestDiscoverBuildsReport(t *testing.T) {
	t.Parallel()
	site := fullSite()
	clk := clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	p := NewProber(site, Config{UserAgent: "SiteScout/1.0"}, clk, zap.NewNop())

	report, err := p.Discover(context.Background(), "https://example.com/some/page", Options{})
	require.NoError(t, err)
	require.Equal(t, "example.com", report.Domain)
	require.Equal(t, clk.Now(), report.Timestamp)

	require.NotNil(t, report.Robots)
	require.True(t, report.Robots.Found)
	require.Equal(t, 5.0, report.Robots.CrawlDelay)
	require.Equal(t, []string{"/api/private/", "/wp-admin/", "/checkout"}, report.Robots.Disallowed)
	require.Equal(t, []string{"/wp-admin/admin-ajax.php"}, report.Robots.Allowed)

	var sitemapURLs []string
	for _, sm := range report.Discovered.Sitemaps {
		sitemapURLs = append(sitemapURLs, sm.URL)
	}
	require.Equal(t, []string{
		"https://example.com/sitemap_index.xml",
		"https://example.com/news-sitemap.xml",
		"https://blog.example.com/post-sitemap.xml",
		"https://example.com/sitemap.xml",
	}, sitemapURLs)
	require.Equal(t, "index", report.Discovered.Sitemaps[0].Type)
	require.Equal(t, "robots", report.Discovered.Sitemaps[3].Source)

	require.Len(t, report.Discovered.Feeds, 2)
	require.Equal(t, "rss", report.Discovered.Feeds[0].Type)
	require.Equal(t, "atom", report.Discovered.Feeds[1].Type)

	var apis []string
	for _, api := range report.Discovered.APIs {
		apis = append(apis, api.Source+":"+api.Path)
	}
	require.Equal(t, []string{"robots:/api/private/", "probe:/graphql"}, apis)
	require.Equal(t, []string{"/api/private/", "/wp-admin/"}, report.Discovered.ExposedPaths)
	require.Equal(t, []string{"blog.example.com"}, report.Discovered.Subdomains)

	require.Len(t, report.Discovered.StaticFiles, 1)
	require.Equal(t, "/ads.txt", report.Discovered.StaticFiles[0].Path)

	require.Len(t, report.Discovered.Platforms, 2)
	require.Equal(t, "shopify", report.Discovered.Platforms[0].Name)
	require.InDelta(t, 0.75, report.Discovered.Platforms[0].Confidence, 1e-9)
	require.Equal(t, "wordpress", report.Discovered.Platforms[1].Name)
	require.InDelta(t, 0.25, report.Discovered.Platforms[1].Confidence, 1e-9)

	require.Len(t, report.Errors, 1)
	require.Equal(t, CategoryFeed, report.Errors[0].Probe)
	require.Equal(t, "https://example.com/rss", report.Errors[0].URL)
	require.Equal(t, 1, report.Stats.Errors)

	// robots.txt plus 10 probe hits.
	require.Equal(t, 11, report.Stats.URLsFound)
	require.Equal(t, 1+len(p.plan(Options{})), report.Stats.URLsProbed)
	require.InDelta(t, float64(report.Stats.URLsFound)/float64(report.Stats.URLsProbed), report.Summary.SuccessRate, 1e-9)
	require.Equal(t, 4, report.Summary.Sitemaps)
	require.Equal(t, 2, report.Summary.Platforms)

	require.False(t, report.Compatibility["baidu"].Allowed)
	require.Zero(t, report.Compatibility["baidu"].Score)
	require.True(t, report.Compatibility["google"].Allowed)
	require.Equal(t, 80, report.Compatibility["google"].Score)
	require.Equal(t, 85, report.Compatibility["bing"].Score)
	require.Equal(t, 75, report.Compatibility["yandex"].Score)

	site.mu.Lock()
	require.Equal(t, []string{http.MethodHead, http.MethodGet}, site.requests["/graphql"])
	site.mu.Unlock()
}

func TestDiscoverBoundsConcurrency(t *testing.T) {
	t.Parallel()
	site := newFakeSite("https://example.com", map[string]page{})
	site.delay = 5 * time.Millisecond
	p := NewProber(site, Config{MaxConcurrent: 10}, nil, nil)

	_, err := p.Discover(context.Background(), "example.com", Options{MaxConcurrent: 3})
	require.NoError(t, err)
	require.LessOrEqual(t, site.maxInFlight.Load(), int32(3))
	require.Greater(t, site.maxInFlight.Load(), int32(0))

	site = newFakeSite("https://example.com", map[string]page{})
	site.delay = 5 * time.Millisecond
	p = NewProber(site, Config{}, nil, nil)
	_, err = p.Discover(context.Background(), "example.com", Options{})
	require.NoError(t, err)
	require.LessOrEqual(t, site.maxInFlight.Load(), int32(defaultMaxConcurrent))
}

func TestDiscoverRobotsFailureIsRecorded(t *testing.T) {
	t.Parallel()
	site := newFakeSite("https://example.com", map[string]page{
		"/robots.txt": {err: errors.New("dial tcp: i/o timeout")},
	})
	p := NewProber(site, Config{}, nil, nil)

	report, err := p.Discover(context.Background(), "https://example.com", Options{Categories: []Category{CategoryRobots}})
	require.NoError(t, err)
	require.NotNil(t, report.Robots)
	require.False(t, report.Robots.Found)
	require.Len(t, report.Errors, 1)
	require.Equal(t, CategoryRobots, report.Errors[0].Probe)
	require.Equal(t, 1, report.Stats.URLsProbed)
	for _, c := range report.Compatibility {
		require.True(t, c.Allowed)
	}
}

func TestDiscoverCategoryFilter(t *testing.T) {
	t.Parallel()
	site := fullSite()
	p := NewProber(site, Config{}, nil, nil)

	report, err := p.Discover(context.Background(), "https://example.com", Options{Categories: []Category{CategorySitemap}})
	require.NoError(t, err)
	require.Nil(t, report.Robots)
	require.Nil(t, report.Compatibility)
	require.Empty(t, report.Discovered.Feeds)
	require.Empty(t, report.Discovered.Platforms)
	require.Len(t, report.Discovered.Sitemaps, 2)

	site.mu.Lock()
	defer site.mu.Unlock()
	require.NotContains(t, site.requests, "/robots.txt")
	require.NotContains(t, site.requests, "/feed")
}

func TestDiscoverAttributesSharedPathsToEnabledCategory(t *testing.T) {
	t.Parallel()
	reset := errors.New("connection reset by peer")
	site := newFakeSite("https://example.com", map[string]page{
		"/wp-sitemap.xml":         {err: reset},
		"/sitemap_products_1.xml": {err: reset},
		"/jsonapi":                {err: reset},
	})
	p := NewProber(site, Config{}, nil, nil)

	report, err := p.Discover(context.Background(), "https://example.com", Options{Categories: []Category{CategoryPlatform}})
	require.NoError(t, err)
	require.Len(t, report.Errors, 3)
	for _, e := range report.Errors {
		require.Equal(t, CategoryPlatform, e.Probe, e.URL)
	}

	all := Options{}
	require.Equal(t, CategorySitemap, categoryOf("/wp-sitemap.xml", all))
	require.Equal(t, CategoryAPI, categoryOf("/jsonapi", all))
	require.Equal(t, CategoryAPI, categoryOf("/jsonapi", Options{Categories: []Category{CategoryAPI, CategoryPlatform}}))
	require.Equal(t, CategoryPlatform, categoryOf("/wp-login.php", all))
}

func TestDiscoverRejectsInvalidBase(t *testing.T) {
	t.Parallel()
	p := NewProber(fetch.Func(func(context.Context, fetch.Request) (fetch.Response, error) {
		t.Fatal("no request expected")
		return fetch.Response{}, nil
	}), Config{}, nil, nil)

	_, err := p.Discover(context.Background(), "ftp://example.com", Options{})
	require.Error(t, err)
	_, err = p.Discover(context.Background(), "https://", Options{})
	require.Error(t, err)
}

func TestReportIsJSONSerializable(t *testing.T) {
	t.Parallel()
	p := NewProber(fullSite(), Config{}, nil, nil)
	report, err := p.Discover(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"domain", "timestamp", "stats", "discovered", "summary", "compatibility", "errors"} {
		require.Contains(t, decoded, key)
	}
	require.Contains(t, decoded["summary"], "successRate")
}

func TestClassifySitemap(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path  string
		kind  string
		score int
	}{
		{"/sitemap_index.xml", "index", scoreIndex},
		{"/wp-sitemap.xml", "index", scoreIndex},
		{"/news-sitemap.xml", "news", scoreNews},
		{"/video-sitemap.xml", "video", scoreMedia},
		{"/sitemap-images.xml", "image", scoreMedia},
		{"/sitemap_products_1.xml", "product", scoreProduct},
		{"/category-sitemap.xml", "category", scoreCategory},
		{"/post-sitemap.xml", "post", scorePostPage},
		{"/page-sitemap.xml", "page", scorePostPage},
		{"/en/sitemap.xml", "localized", scoreLocalized},
		{"/sitemap-de.xml", "localized", scoreLocalized},
		{"/sitemap.xml", "generic", scoreGeneric},
	}
	for _, tc := range cases {
		kind, score := classifySitemap(tc.path)
		if kind != tc.kind || score != tc.score {
			t.Fatalf("classifySitemap(%q) = %s/%d, want %s/%d", tc.path, kind, score, tc.kind, tc.score)
		}
	}
}
