package discovery

import (
	"fmt"

	"github.com/temoto/robotstxt"
)

// searchEngines maps report keys to the crawler product token each engine sends.
var searchEngines = []struct {
	key   string
	agent string
}{
	{"google", "Googlebot"},
	{"bing", "Bingbot"},
	{"yandex", "YandexBot"},
	{"baidu", "Baiduspider"},
	{"duckduckgo", "DuckDuckBot"},
}

var sitemapExtensions = []string{"news", "image", "video"}

// extensionSupport lists the sitemap extensions each engine documents support for.
var extensionSupport = map[string]map[string]bool{
	"google":     {"news": true, "image": true, "video": true},
	"bing":       {"news": true, "image": true, "video": true},
	"yandex":     {"image": true, "video": true},
	"baidu":      {},
	"duckduckgo": {},
}

var (
	honoursCrawlDelay = map[string]bool{"bing": true, "yandex": true, "duckduckgo": true}
	honoursHost       = map[string]bool{"yandex": true}
)

// scoreCompatibility rates each engine from the robots.txt body and the sitemaps observed.
// status is the robots.txt HTTP status; zero means the fetch failed.
func scoreCompatibility(status int, body []byte, analysis *RobotsAnalysis, sitemaps []SitemapHit) map[string]Compatibility {
	data, err := robotstxt.FromStatusAndBytes(statusOrNotFound(status), body)
	if err != nil {
		data, _ = robotstxt.FromStatusAndBytes(404, nil)
	}

	types := make(map[string]bool, len(sitemaps))
	for _, sm := range sitemaps {
		types[sm.Type] = true
	}

	out := make(map[string]Compatibility, len(searchEngines))
	for _, engine := range searchEngines {
		c := Compatibility{Agent: engine.agent, Allowed: data.TestAgent("/", engine.agent)}
		if !c.Allowed {
			c.Notes = append(c.Notes, "root path disallowed")
			out[engine.key] = c
			continue
		}
		c.Score = 40
		if len(sitemaps) > 0 {
			c.Score += 20
		} else {
			c.Notes = append(c.Notes, "no sitemap found")
		}
		if analysis != nil && len(analysis.Sitemaps) > 0 {
			c.Score += 10
		}
		for _, ext := range sitemapExtensions {
			if types[ext] && extensionSupport[engine.key][ext] {
				c.Score += 10
				c.Notes = append(c.Notes, fmt.Sprintf("%s sitemap supported", ext))
			}
		}
		if analysis != nil && analysis.CrawlDelay > 0 {
			if honoursCrawlDelay[engine.key] {
				c.Score += 5
			} else {
				c.Notes = append(c.Notes, "crawl-delay ignored by this engine")
			}
		}
		if analysis != nil && analysis.Host != "" && honoursHost[engine.key] {
			c.Score += 5
		}
		if c.Score > 100 {
			c.Score = 100
		}
		out[engine.key] = c
	}
	return out
}

func statusOrNotFound(status int) int {
	if status == 0 {
		return 404
	}
	return status
}
