package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/crawler"
	"github.com/JakeFAU/sitescout/internal/discovery"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/publisher"
	"github.com/JakeFAU/sitescout/internal/sitemap"
)

type discoverRequest struct {
	URL           string               `json:"url"`
	Categories    []discovery.Category `json:"categories"`
	MaxConcurrent int                  `json:"max_concurrent"`
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prober == nil {
		writeError(w, http.StatusServiceUnavailable, "discovery is not configured")
		return
	}
	var req discoverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	report, err := s.deps.Prober.Discover(r.Context(), req.URL, discovery.Options{
		Categories:    req.Categories,
		MaxConcurrent: req.MaxConcurrent,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type linksRequest struct {
	URL      string `json:"url"`
	HTML     string `json:"html"`
	Depth    int    `json:"depth"`
	Render   bool   `json:"render"`
	Sitemaps bool   `json:"sitemaps"`
	Publish  bool   `json:"publish"`
}

type linksResponse struct {
	Links      []crawler.DiscoveredLink `json:"links"`
	Published  []string                 `json:"published,omitempty"`
	Stats      crawler.Stats            `json:"stats"`
	FetchedURL string                   `json:"fetchedUrl,omitempty"`
}

// extractLinks runs one page through the shared frontier. Without html in the
// body the page is fetched, optionally through the headless fetcher.
func (s *Server) extractLinks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Frontier == nil {
		writeError(w, http.StatusServiceUnavailable, "link discovery is not configured")
		return
	}
	var req linksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.Depth < 0 {
		writeError(w, http.StatusBadRequest, "depth must be >= 0")
		return
	}

	ctx := r.Context()
	resp := linksResponse{}
	html := req.HTML
	baseURL := req.URL
	if html == "" {
		fetcher := s.deps.Fetcher
		if req.Render {
			if s.deps.HeadlessFetch == nil {
				writeError(w, http.StatusBadRequest, "headless rendering is not enabled")
				return
			}
			fetcher = s.deps.HeadlessFetch
		}
		page, err := fetch.Get(ctx, fetcher, req.URL)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if !page.OK() {
			writeError(w, http.StatusBadGateway, "fetch returned status "+strconv.Itoa(page.StatusCode))
			return
		}
		html = string(page.Body)
		if page.URL != "" {
			baseURL = page.URL
			resp.FetchedURL = page.URL
		}
	}

	links, err := s.deps.Frontier.ExtractLinksAsync(ctx, html, baseURL, req.Depth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Sitemaps {
		seeded, err := s.deps.Frontier.DiscoverFromSitemaps(ctx, baseURL, crawler.SitemapOptions{
			UseRobots:    true,
			GuessDefault: true,
			CheckRobots:  s.deps.SitemapRobots,
		})
		if err != nil && !errors.Is(err, crawler.ErrNoSitemapSource) {
			s.logger.Warn("sitemap seeding failed", zap.String("url", baseURL), zap.Error(err))
		}
		links = append(links, seeded...)
	}
	if links == nil {
		links = []crawler.DiscoveredLink{}
	}
	resp.Links = links

	if req.Publish && len(links) > 0 {
		ids, err := publisher.PublishLinks(ctx, s.deps.Publisher, s.deps.Topic, hostOf(baseURL), links)
		for _, link := range links[:len(ids)] {
			s.deps.Frontier.MarkQueued(link.URL)
		}
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		resp.Published = ids
	}
	resp.Stats = s.deps.Frontier.Stats()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) frontierStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Frontier == nil {
		writeError(w, http.StatusServiceUnavailable, "link discovery is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Frontier.Stats())
}

func (s *Server) frontierReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Frontier == nil {
		writeError(w, http.StatusServiceUnavailable, "link discovery is not configured")
		return
	}
	if err := s.deps.Frontier.Reset(nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Frontier.Stats())
}

type robotsResponse struct {
	URL        string   `json:"url"`
	UserAgent  string   `json:"userAgent"`
	Allowed    bool     `json:"allowed"`
	CrawlDelay float64  `json:"crawlDelay,omitempty"`
	Sitemaps   []string `json:"sitemaps"`
}

func (s *Server) checkRobots(w http.ResponseWriter, r *http.Request) {
	if s.deps.Robots == nil {
		writeError(w, http.StatusServiceUnavailable, "robots validation is not configured")
		return
	}
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	verdict := s.deps.Robots.IsAllowed(r.Context(), target)
	sitemaps := s.deps.Robots.GetSitemaps(r.Context(), target)
	if sitemaps == nil {
		sitemaps = []string{}
	}
	writeJSON(w, http.StatusOK, robotsResponse{
		URL:        target,
		UserAgent:  s.deps.Robots.UserAgent(),
		Allowed:    verdict.Allowed,
		CrawlDelay: verdict.CrawlDelay.Seconds(),
		Sitemaps:   sitemaps,
	})
}

type sitemapResponse struct {
	URL     string          `json:"url"`
	Entries []sitemap.Entry `json:"entries"`
	Stats   sitemap.Stats   `json:"stats"`
}

func (s *Server) parseSitemap(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sitemaps == nil {
		writeError(w, http.StatusServiceUnavailable, "sitemap parsing is not configured")
		return
	}
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	opts := sitemap.ParseOptions{Recursive: true}
	if raw := q.Get("recursive"); raw != "" {
		recursive, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "recursive must be a boolean")
			return
		}
		opts.Recursive = recursive
	}
	if raw := q.Get("max_depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 {
			writeError(w, http.StatusBadRequest, "max_depth must be a non-negative integer")
			return
		}
		opts.MaxDepth = depth
	}
	entries, err := s.deps.Sitemaps.Parse(r.Context(), target, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if entries == nil {
		entries = []sitemap.Entry{}
	}
	writeJSON(w, http.StatusOK, sitemapResponse{URL: target, Entries: entries, Stats: s.deps.Sitemaps.Stats()})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
