package crawler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/robots"
	"github.com/JakeFAU/sitescout/internal/sitemap"
	"github.com/JakeFAU/sitescout/internal/urlpattern"
)

const pageHTML = `<html><body>
<a href="/about/">About</a>
<a href="post-1?b=2&a=1">  First
   post </a>
<a href="https://EXAMPLE.com:443/about">About again</a>
<a href="mailto:team@example.com">mail</a>
<a href="#top">top</a>
<a href="javascript:void(0)">js</a>
<a href="/logo.png">logo</a>
<a href="/login">login</a>
<a href="https://other.com/page">other</a>
<a href="">empty</a>
</body></html>`

type fakeRobots struct {
	disallow []string
	delay    time.Duration
	sitemaps []string
}

func (f *fakeRobots) IsAllowed(_ context.Context, rawURL string) robots.Verdict {
	for _, p := range f.disallow {
		if strings.Contains(rawURL, p) {
			return robots.Verdict{Allowed: false}
		}
	}
	return robots.Verdict{Allowed: true, CrawlDelay: f.delay}
}

func (f *fakeRobots) GetSitemaps(context.Context, string) []string {
	return f.sitemaps
}

type fakeSitemaps struct {
	mu      sync.Mutex
	entries map[string][]sitemap.Entry
	errs    map[string]error
	calls   map[string]int
}

func (f *fakeSitemaps) Parse(_ context.Context, sitemapURL string, _ sitemap.ParseOptions) ([]sitemap.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[sitemapURL]++
	if err := f.errs[sitemapURL]; err != nil {
		return nil, err
	}
	if entries, ok := f.entries[sitemapURL]; ok {
		return entries, nil
	}
	return nil, fmt.Errorf("fetch sitemap %s: status 404", sitemapURL)
}

func newDiscoverer(t *testing.T, cfg Config, matcher PatternMatcher, rc RobotsChecker, sm SitemapSource) *LinkDiscoverer {
	t.Helper()
	d, err := NewLinkDiscoverer(cfg, matcher, rc, sm, zap.NewNop())
	require.NoError(t, err)
	return d
}

func urls(links []DiscoveredLink) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.URL)
	}
	return out
}

func TestExtractLinksFiltersAndNormalizes(t *testing.T) {
	t.Parallel()
	d := newDiscoverer(t, DefaultConfig(), nil, nil, nil)

	links := d.ExtractLinks(pageHTML, "https://example.com/blog/", 0)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/blog/post-1?a=1&b=2",
	}, urls(links))
	require.Equal(t, "First post", links[1].AnchorText)
	for _, l := range links {
		require.Equal(t, 1, l.Depth)
		require.Equal(t, "https://example.com/blog", l.SourceURL)
	}

	stats := d.Stats()
	require.Equal(t, 2, stats.Discovered)
	require.Equal(t, 6, stats.Filtered[reasonIgnored])
	require.Equal(t, 1, stats.Filtered[reasonDuplicate])
	require.Equal(t, 1, stats.Filtered[reasonOffDomain])
	require.Equal(t, 2, stats.ByPattern[urlpattern.DefaultName])
}

func TestExtractLinksDeduplicatesAcrossCalls(t *testing.T) {
	t.Parallel()
	d := newDiscoverer(t, DefaultConfig(), nil, nil, nil)

	first := d.ExtractLinks(pageHTML, "https://example.com/blog/", 1)
	require.NotEmpty(t, first)
	second := d.ExtractLinks(pageHTML, "https://example.com/blog/", 1)
	require.Empty(t, second)
}

func TestExtractLinksDepthCeiling(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxDepth = 2
	d := newDiscoverer(t, cfg, nil, nil, nil)

	require.Empty(t, d.ExtractLinks(pageHTML, "https://example.com/", 2))
	require.Empty(t, d.ExtractLinks(pageHTML, "https://example.com/", 7))
	require.Zero(t, d.Stats().Discovered)

	links := d.ExtractLinks(pageHTML, "https://example.com/", 1)
	require.NotEmpty(t, links)
	require.Equal(t, 2, links[0].Depth)
}

func TestExtractLinksVolumeCeiling(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxURLs = 3
	d := newDiscoverer(t, cfg, nil, nil, nil)

	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, `<a href="/p/%d">p%d</a>`, i, i)
	}
	links := d.ExtractLinks(b.String(), "https://example.com/", 0)
	require.Len(t, links, 3)
	require.True(t, d.IsLimitReached())
	require.True(t, d.Stats().LimitReached)

	require.Empty(t, d.ExtractLinks(`<a href="/fresh">fresh</a>`, "https://example.com/", 0))
	require.Equal(t, 3, d.Stats().Discovered)
}

func TestExtractLinksBlockedDomains(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.SameDomainOnly = false
	cfg.BlockedDomains = []string{"ads.example.com"}
	d := newDiscoverer(t, cfg, nil, nil, nil)

	html := `<a href="https://ads.example.com/x">ad</a>
<a href="https://www.example.com/y">page</a>
<a href="https://cdn.ads.example.com/z">cdn ad</a>`
	got := urls(d.ExtractLinks(html, "https://www.example.com/", 0))
	require.Equal(t, []string{"https://www.example.com/y"}, got)
	require.NotContains(t, got, "https://ads.example.com/x")
	require.Equal(t, 2, d.Stats().Filtered[reasonBlocked])
}

func TestExtractLinksDomainScope(t *testing.T) {
	t.Parallel()
	html := `<a href="https://www.example.com/a">same</a>
<a href="https://blog.example.com/b">sub</a>
<a href="https://example.org/c">other</a>`

	strict := newDiscoverer(t, DefaultConfig(), nil, nil, nil)
	require.Equal(t, []string{"https://www.example.com/a"}, urls(strict.ExtractLinks(html, "https://www.example.com/", 0)))

	cfg := DefaultConfig()
	cfg.IncludeSubdomains = true
	subs := newDiscoverer(t, cfg, nil, nil, nil)
	require.Equal(t, []string{
		"https://www.example.com/a",
		"https://blog.example.com/b",
	}, urls(subs.ExtractLinks(html, "https://www.example.com/", 0)))

	cfg = DefaultConfig()
	cfg.SameDomainOnly = false
	cfg.AllowedDomains = []string{"example.org", "blog.example.com"}
	allow := newDiscoverer(t, cfg, nil, nil, nil)
	require.Equal(t, []string{
		"https://blog.example.com/b",
		"https://example.org/c",
	}, urls(allow.ExtractLinks(html, "https://www.example.com/", 0)))
}

func TestExtractLinksRegexFilters(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.IgnoreRegex = regexp.MustCompile(`/tag/`)
	cfg.FollowRegex = regexp.MustCompile(`/(blog|tag)/`)
	d := newDiscoverer(t, cfg, nil, nil, nil)

	html := `<a href="/blog/one">one</a><a href="/tag/go">tag</a><a href="/about">about</a>`
	require.Equal(t, []string{"https://example.com/blog/one"}, urls(d.ExtractLinks(html, "https://example.com/", 0)))
	stats := d.Stats()
	require.Equal(t, 1, stats.Filtered[reasonIgnoreRegex])
	require.Equal(t, 1, stats.Filtered[reasonFollowRegex])
}

func TestExtractLinksFollowPatterns(t *testing.T) {
	t.Parallel()
	matcher, err := urlpattern.New(map[string]urlpattern.Config{
		"product": {Match: "/dp/:asin", Priority: 5, Activities: []string{"scrape"}, Metadata: map[string]any{"kind": "product"}},
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.FollowPatterns = []string{"product"}
	d := newDiscoverer(t, cfg, matcher, nil, nil)

	html := `<a href="/dp/B08N5WRWNW">widget</a><a href="/about">about</a>`
	links := d.ExtractLinks(html, "https://shop.example.com/", 0)
	require.Len(t, links, 1)
	require.Equal(t, "product", links[0].Pattern)
	require.Equal(t, "B08N5WRWNW", links[0].Params["asin"])
	require.Equal(t, []string{"scrape"}, links[0].Activities)
	require.Equal(t, "product", links[0].Metadata["kind"])
	require.Equal(t, 1, d.Stats().Filtered[reasonPattern])
	require.Equal(t, 1, d.Stats().ByPattern["product"])

	cfg.FollowPatterns = []string{"product", urlpattern.DefaultName}
	require.NoError(t, d.Reset(&cfg))
	require.Len(t, d.ExtractLinks(html, "https://shop.example.com/", 0), 2)
}

func TestExtractLinksBaseHrefAndNofollow(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.RespectNofollow = true
	d := newDiscoverer(t, cfg, nil, nil, nil)

	html := `<html><head><base href="https://example.com/docs/v2/"></head><body>
<a href="intro">intro</a>
<a href="/ads" rel="sponsored nofollow">sponsored</a>
</body></html>`
	require.Equal(t, []string{"https://example.com/docs/v2/intro"}, urls(d.ExtractLinks(html, "https://example.com/", 0)))
}

func TestExtractLinksAsyncAppliesRobots(t *testing.T) {
	t.Parallel()
	rc := &fakeRobots{disallow: []string{"/private"}, delay: 2 * time.Second}
	d := newDiscoverer(t, DefaultConfig(), nil, rc, nil)

	html := `<a href="/public/a">a</a><a href="/private/b">b</a><a href="/public/c">c</a>`
	links, err := d.ExtractLinksAsync(context.Background(), html, "https://example.com/", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/public/a", "https://example.com/public/c"}, urls(links))
	for _, l := range links {
		require.Equal(t, 2.0, l.Metadata["crawlDelay"])
	}
	stats := d.Stats()
	require.Equal(t, 1, stats.BlockedByRobots)
	require.Equal(t, 3, stats.Discovered)
}

func TestExtractLinksAsyncCanceled(t *testing.T) {
	t.Parallel()
	d := newDiscoverer(t, DefaultConfig(), nil, &fakeRobots{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.ExtractLinksAsync(ctx, `<a href="/x">x</a>`, "https://example.com/", 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverFromSitemaps(t *testing.T) {
	t.Parallel()
	priority := 0.7
	sm := &fakeSitemaps{
		entries: map[string][]sitemap.Entry{
			"https://example.com/sitemap.xml": {
				{URL: "https://example.com/a", LastMod: "2024-01-01", Priority: &priority, Source: "https://example.com/sitemap.xml"},
				{URL: "https://example.com/b", Source: "https://example.com/sitemap.xml"},
				{URL: "https://other.com/x", Source: "https://example.com/sitemap.xml"},
				{URL: "https://example.com/a/", Source: "https://example.com/sitemap.xml"},
				{URL: "https://example.com/logo.png", Source: "https://example.com/sitemap.xml"},
			},
		},
		errs: map[string]error{"https://example.com/sitemap-robots.xml": errors.New("boom")},
	}
	rc := &fakeRobots{
		disallow: []string{"/b"},
		sitemaps: []string{"https://example.com/sitemap-robots.xml", "https://example.com/sitemap.xml"},
	}
	d := newDiscoverer(t, DefaultConfig(), nil, rc, sm)

	links, err := d.DiscoverFromSitemaps(context.Background(), "https://example.com/", SitemapOptions{
		Sitemaps:     []string{"https://example.com/sitemap.xml"},
		UseRobots:    true,
		GuessDefault: true,
		CheckRobots:  true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/logo.png"}, urls(links))
	require.Zero(t, links[0].Depth)
	require.Equal(t, "2024-01-01", links[0].Metadata["lastmod"])
	require.Equal(t, 0.7, links[0].Metadata["priority"])
	require.Equal(t, true, links[0].Metadata["fromSitemap"])

	require.Equal(t, 1, sm.calls["https://example.com/sitemap.xml"])
	require.Equal(t, 1, sm.calls["https://example.com/sitemap-robots.xml"])

	stats := d.Stats()
	require.Equal(t, 2, stats.FromSitemap)
	require.Equal(t, 1, stats.BlockedByRobots)

	require.Empty(t, d.ExtractLinks(`<a href="/a">a</a>`, "https://example.com/", 0))
}

func TestDiscoverFromSitemapsDefaultGuess(t *testing.T) {
	t.Parallel()
	sm := &fakeSitemaps{entries: map[string][]sitemap.Entry{
		"https://example.com/sitemap.xml": {{URL: "https://example.com/only"}},
	}}
	d := newDiscoverer(t, DefaultConfig(), nil, nil, sm)

	links, err := d.DiscoverFromSitemaps(context.Background(), "https://example.com/some/page", SitemapOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/only"}, urls(links))
}

func TestDiscoverFromSitemapsErrors(t *testing.T) {
	t.Parallel()
	d := newDiscoverer(t, DefaultConfig(), nil, nil, nil)
	_, err := d.DiscoverFromSitemaps(context.Background(), "https://example.com/", SitemapOptions{})
	require.ErrorIs(t, err, ErrNoSitemapSource)

	d = newDiscoverer(t, DefaultConfig(), nil, nil, &fakeSitemaps{})
	_, err = d.DiscoverFromSitemaps(context.Background(), "not a url", SitemapOptions{})
	require.Error(t, err)
}

func TestQueuedAndReset(t *testing.T) {
	t.Parallel()
	d := newDiscoverer(t, DefaultConfig(), nil, nil, nil)

	d.MarkQueued("HTTPS://Example.com/a/")
	require.True(t, d.IsQueued("https://example.com/a"))
	require.False(t, d.IsQueued("https://example.com/b"))
	d.ExtractLinks(`<a href="/x">x</a>`, "https://example.com/", 0)
	require.Equal(t, 1, d.Stats().Queued)
	require.Equal(t, 1, d.Stats().Discovered)

	require.NoError(t, d.Reset(nil))
	stats := d.Stats()
	require.Zero(t, stats.Queued)
	require.Zero(t, stats.Discovered)
	require.Len(t, d.ExtractLinks(`<a href="/x">x</a>`, "https://example.com/", 0), 1)

	bad := DefaultConfig()
	bad.MaxURLs = 0
	require.Error(t, d.Reset(&bad))
	_, err := NewLinkDiscoverer(bad, nil, nil, nil, nil)
	require.Error(t, err)
}
