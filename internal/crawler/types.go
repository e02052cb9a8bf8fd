package crawler

// DiscoveredLink is a link accepted into the frontier.
type DiscoveredLink struct {
	URL        string            `json:"url"`
	AnchorText string            `json:"anchorText,omitempty"`
	Depth      int               `json:"depth"`
	SourceURL  string            `json:"sourceUrl"`
	Pattern    string            `json:"pattern,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Activities []string          `json:"activities,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// SitemapOptions controls frontier seeding from sitemaps.
type SitemapOptions struct {
	// Sitemaps lists explicit sitemap URLs.
	Sitemaps []string
	// UseRobots adds the sitemaps declared in robots.txt.
	UseRobots bool
	// GuessDefault adds {origin}/sitemap.xml. It is also used when no other source yields a URL.
	GuessDefault bool
	// CheckRobots drops entries robots.txt disallows.
	CheckRobots bool
	// MaxDepth bounds sitemap index recursion; zero uses the parser default.
	MaxDepth int
}

// Stats summarizes frontier state.
type Stats struct {
	Discovered      int            `json:"discovered"`
	Queued          int            `json:"queued"`
	BlockedByRobots int            `json:"blockedByRobots"`
	FromSitemap     int            `json:"fromSitemap"`
	Filtered        map[string]int `json:"filtered"`
	ByPattern       map[string]int `json:"byPattern"`
	MaxURLs         int            `json:"maxUrls"`
	MaxDepth        int            `json:"maxDepth"`
	LimitReached    bool           `json:"limitReached"`
}
