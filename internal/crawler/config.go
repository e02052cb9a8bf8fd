package crawler

import (
	"fmt"
	"regexp"
)

const (
	defaultMaxDepth = 3
	defaultMaxURLs  = 10000
	// robotsConcurrency bounds parallel robots checks in the async variants.
	robotsConcurrency = 10
)

// Config captures every knob that influences link discovery for one crawl session.
type Config struct {
	MaxDepth          int
	MaxURLs           int
	SameDomainOnly    bool
	IncludeSubdomains bool
	AllowedDomains    []string
	BlockedDomains    []string
	FollowPatterns    []string
	IgnoreRegex       *regexp.Regexp
	FollowRegex       *regexp.Regexp
	RemoveQueryString bool
	SortQueryParams   bool
	RespectNofollow   bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxDepth:        defaultMaxDepth,
		MaxURLs:         defaultMaxURLs,
		SameDomainOnly:  true,
		SortQueryParams: true,
	}
}

// Validate checks for obviously bad configuration values.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("links.max_depth must be >= 0")
	}
	if c.MaxURLs <= 0 {
		return fmt.Errorf("links.max_urls must be > 0")
	}
	return nil
}

func (c Config) normalizeOptions() NormalizeOptions {
	return NormalizeOptions{RemoveQuery: c.RemoveQueryString, SortQuery: c.SortQueryParams}
}
