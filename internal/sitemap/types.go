// Package sitemap fetches and flattens XML sitemaps, sitemap indexes, and the text, RSS and
// Atom documents sites commonly publish in their place.
package sitemap

// Format identifies the kind of document a sitemap URL returned.
type Format string

// Known document formats.
const (
	FormatURLSet  Format = "urlset"
	FormatIndex   Format = "sitemapindex"
	FormatText    Format = "text"
	FormatRSS     Format = "rss"
	FormatAtom    Format = "atom"
	FormatUnknown Format = "unknown"
)

// Image is an image:image extension entry.
type Image struct {
	Loc     string `json:"loc"`
	Caption string `json:"caption,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Video is a video:video extension entry.
type Video struct {
	ThumbnailLoc string `json:"thumbnailLoc,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	ContentLoc   string `json:"contentLoc,omitempty"`
	PlayerLoc    string `json:"playerLoc,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

// News is a news:news extension entry.
type News struct {
	PublicationName string `json:"publicationName,omitempty"`
	Language        string `json:"language,omitempty"`
	PublicationDate string `json:"publicationDate,omitempty"`
	Title           string `json:"title,omitempty"`
}

// Alternate is an xhtml:link rel="alternate" hreflang entry.
type Alternate struct {
	Hreflang string `json:"hreflang"`
	Href     string `json:"href"`
}

// Entry is one URL found in a sitemap.
type Entry struct {
	URL        string      `json:"url"`
	LastMod    string      `json:"lastmod,omitempty"`
	ChangeFreq string      `json:"changefreq,omitempty"`
	Priority   *float64    `json:"priority,omitempty"`
	Source     string      `json:"source"`
	Images     []Image     `json:"images,omitempty"`
	Videos     []Video     `json:"videos,omitempty"`
	News       *News       `json:"news,omitempty"`
	Alternates []Alternate `json:"alternates,omitempty"`
	// IsSitemap marks a child sitemap reference returned from a non-recursive index parse.
	IsSitemap bool `json:"isSitemap,omitempty"`
}

// Document is a single parsed sitemap document before index expansion.
type Document struct {
	Format   Format
	Entries  []Entry
	Sitemaps []string
}

// ProbeResult reports whether a conventional sitemap location exists.
type ProbeResult struct {
	URL    string `json:"url"`
	Exists bool   `json:"exists"`
	Format Format `json:"format"`
}

// Stats counts parser activity since construction.
type Stats struct {
	DocumentsFetched int `json:"documentsFetched"`
	DocumentsParsed  int `json:"documentsParsed"`
	Errors           int `json:"errors"`
	CacheHits        int `json:"cacheHits"`
	Decompressed     int `json:"decompressed"`
	URLsReturned     int `json:"urlsReturned"`
}
