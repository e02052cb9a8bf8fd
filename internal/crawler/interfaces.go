package crawler

import (
	"context"

	"github.com/JakeFAU/sitescout/internal/robots"
	"github.com/JakeFAU/sitescout/internal/sitemap"
	"github.com/JakeFAU/sitescout/internal/urlpattern"
)

// PatternMatcher classifies URLs against named patterns.
type PatternMatcher interface {
	Match(rawURL string) *urlpattern.MatchResult
}

// RobotsChecker answers robots.txt questions for a URL.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) robots.Verdict
	GetSitemaps(ctx context.Context, domainURL string) []string
}

// SitemapSource flattens a sitemap URL into entries.
type SitemapSource interface {
	Parse(ctx context.Context, sitemapURL string, opts sitemap.ParseOptions) ([]sitemap.Entry, error)
}
