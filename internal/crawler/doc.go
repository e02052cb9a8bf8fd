// Package crawler turns fetched pages and sitemaps into the next crawl frontier. The
// LinkDiscoverer extracts anchors, resolves and normalizes them, runs them through the
// domain, pattern and robots policy, and deduplicates them against per-session frontier state.
package crawler
