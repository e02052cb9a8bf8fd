package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/app"
	"github.com/JakeFAU/sitescout/internal/config"
	"github.com/JakeFAU/sitescout/internal/discovery"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/fulltext"
)

const (
	siteOrigin = "https://example.com"
	homeHTML   = `<html><body>
<a href="/about">About</a>
<a href="/private/ledger">Ledger</a>
<a href="https://elsewhere.org/">Elsewhere</a>
</body></html>`
	robotsTxt  = "User-agent: *\nDisallow: /private\nSitemap: https://example.com/sitemap.xml\n"
	sitemapXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/products/1</loc></url>
  <url><loc>https://example.com/products/2</loc></url>
</urlset>`
)

func siteFetcher() fetch.Fetcher {
	pages := map[string]string{
		"/":            homeHTML,
		"/robots.txt":  robotsTxt,
		"/sitemap.xml": sitemapXML,
	}
	return fetch.Func(func(_ context.Context, req fetch.Request) (fetch.Response, error) {
		path := strings.TrimPrefix(req.URL, siteOrigin)
		if path == "" {
			path = "/"
		}
		body, ok := pages[path]
		if !ok {
			return fetch.Response{URL: req.URL, StatusCode: http.StatusNotFound}, nil
		}
		resp := fetch.Response{URL: req.URL, StatusCode: http.StatusOK}
		if req.Method != http.MethodHead {
			resp.Body = []byte(body)
		}
		return resp, nil
	})
}

// execute runs the root command with a stubbed application factory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
		return app.Build(ctx, cfg, app.WithLogger(zap.NewNop()), app.WithFetcher(siteFetcher()))
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRobotsCommand(t *testing.T) {
	out, err := execute(t, "robots", siteOrigin+"/private/ledger")
	require.NoError(t, err)

	var got robotsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.Allowed)
	assert.Equal(t, []string{siteOrigin + "/sitemap.xml"}, got.Sitemaps)
	assert.NotEmpty(t, got.UserAgent)
}

func TestLinksCommand(t *testing.T) {
	out, err := execute(t, "links", siteOrigin+"/", "--sitemaps")
	require.NoError(t, err)

	var got linksOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	urls := make([]string, 0, len(got.Links))
	for _, link := range got.Links {
		urls = append(urls, link.URL)
	}
	assert.ElementsMatch(t, []string{
		siteOrigin + "/about",
		siteOrigin + "/products/1",
		siteOrigin + "/products/2",
	}, urls)
	assert.Empty(t, got.Published)
}

func TestLinksCommandPublishNeedsBackend(t *testing.T) {
	_, err := execute(t, "links", siteOrigin+"/", "--publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub.backend")
}

func TestLinksCommandPublishesToMemory(t *testing.T) {
	t.Setenv("SITESCOUT_PUBSUB_BACKEND", "memory")
	out, err := execute(t, "links", siteOrigin+"/", "--publish")
	require.NoError(t, err)

	var got linksOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got.Published, len(got.Links))
	assert.Len(t, got.Links, 1)
}

func TestSitemapCommand(t *testing.T) {
	out, err := execute(t, "sitemap", siteOrigin+"/sitemap.xml")
	require.NoError(t, err)

	var got sitemapOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Entries, 2)
	assert.Equal(t, siteOrigin+"/products/1", got.Entries[0].URL)
}

func TestDiscoverCommand(t *testing.T) {
	out, err := execute(t, "discover", siteOrigin, "--categories", "robots,sitemap")
	require.NoError(t, err)

	var report discovery.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "example.com", report.Domain)
	require.NotNil(t, report.Robots)
	assert.NotEmpty(t, report.Discovered.Sitemaps)
}

func TestIndexCommands(t *testing.T) {
	out, err := execute(t, "index", "stats")
	require.NoError(t, err)
	var stats fulltext.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.TotalEntries)

	_, err = execute(t, "index", "search", "products", "cedar")
	require.Error(t, err)

	_, err = execute(t, "index", "rebuild")
	require.NoError(t, err)
}

func TestIndexCommandsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fulltext:\n  enabled: false\n"), 0o600))

	_, err := execute(t, "--config", path, "index", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestBadConfigFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "robots", siteOrigin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
