package discovery

import (
	"fmt"
	"time"
)

// Category groups probe paths.
type Category string

// Probe categories.
const (
	CategoryRobots   Category = "robots"
	CategorySitemap  Category = "sitemap"
	CategoryFeed     Category = "feed"
	CategoryAPI      Category = "api"
	CategoryStatic   Category = "static"
	CategoryPlatform Category = "platform"
)

// Hit is a probed path that answered with a 2xx status.
type Hit struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Type        string `json:"type,omitempty"`
	Source      string `json:"source"`
}

// SitemapHit is a sitemap location with its ranking score.
type SitemapHit struct {
	Hit
	Score int `json:"score"`
}

// Platform is a fingerprinted platform or framework.
type Platform struct {
	Name       string   `json:"name"`
	Confidence float64  `json:"confidence"`
	Found      int      `json:"found"`
	Probed     int      `json:"probed"`
	Evidence   []string `json:"evidence"`
}

// RobotsAnalysis summarizes the site's robots.txt.
type RobotsAnalysis struct {
	Found      bool     `json:"found"`
	Sitemaps   []string `json:"sitemaps,omitempty"`
	Disallowed []string `json:"disallowed,omitempty"`
	Allowed    []string `json:"allowed,omitempty"`
	CrawlDelay float64  `json:"crawlDelay,omitempty"`
	Host       string   `json:"host,omitempty"`
}

// Compatibility scores how well the site serves one search engine crawler.
type Compatibility struct {
	Agent   string   `json:"agent"`
	Allowed bool     `json:"allowed"`
	Score   int      `json:"score"`
	Notes   []string `json:"notes,omitempty"`
}

// ProbeStats counts probe activity.
type ProbeStats struct {
	URLsProbed int `json:"urlsProbed"`
	URLsFound  int `json:"urlsFound"`
	Errors     int `json:"errors"`
}

// Discovered holds everything the probes found.
type Discovered struct {
	Sitemaps     []SitemapHit `json:"sitemaps"`
	Feeds        []Hit        `json:"feeds"`
	APIs         []Hit        `json:"apis"`
	StaticFiles  []Hit        `json:"staticFiles"`
	Platforms    []Platform   `json:"platforms"`
	Subdomains   []string     `json:"subdomains"`
	ExposedPaths []string     `json:"exposedPaths"`
}

// Summary is the count view of Discovered.
type Summary struct {
	Sitemaps     int     `json:"sitemaps"`
	Feeds        int     `json:"feeds"`
	APIs         int     `json:"apis"`
	StaticFiles  int     `json:"staticFiles"`
	Platforms    int     `json:"platforms"`
	Subdomains   int     `json:"subdomains"`
	ExposedPaths int     `json:"exposedPaths"`
	SuccessRate  float64 `json:"successRate"`
}

// ProbeError records a failed probe. Probe failures never abort discovery.
type ProbeError struct {
	Probe   Category `json:"probe"`
	URL     string   `json:"url"`
	Message string   `json:"message"`
}

func (e ProbeError) Error() string {
	return fmt.Sprintf("%s probe %s: %s", e.Probe, e.URL, e.Message)
}

// Report is the JSON-serializable result of Discover.
type Report struct {
	Domain        string                   `json:"domain"`
	Timestamp     time.Time                `json:"timestamp"`
	Stats         ProbeStats               `json:"stats"`
	Robots        *RobotsAnalysis          `json:"robots,omitempty"`
	Discovered    Discovered               `json:"discovered"`
	Compatibility map[string]Compatibility `json:"compatibility,omitempty"`
	Summary       Summary                  `json:"summary"`
	Errors        []ProbeError             `json:"errors"`
}

func (r *Report) summarize() {
	d := r.Discovered
	r.Summary = Summary{
		Sitemaps:     len(d.Sitemaps),
		Feeds:        len(d.Feeds),
		APIs:         len(d.APIs),
		StaticFiles:  len(d.StaticFiles),
		Platforms:    len(d.Platforms),
		Subdomains:   len(d.Subdomains),
		ExposedPaths: len(d.ExposedPaths),
	}
	r.Stats.Errors = len(r.Errors)
	if r.Stats.URLsProbed > 0 {
		r.Summary.SuccessRate = float64(r.Stats.URLsFound) / float64(r.Stats.URLsProbed)
	}
}
