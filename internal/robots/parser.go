// Package robots parses robots.txt files and answers allow/deny queries per user agent.
//
// All groups whose User-agent line names the crawler's product token, or "*", contribute
// rules. The longest matching pattern decides; when an Allow and a Disallow pattern of the
// same length both match, Allow wins.
package robots

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rule is one Allow or Disallow line.
type Rule struct {
	Pattern string `json:"pattern"`
	Allow   bool   `json:"allow"`

	re *regexp.Regexp
}

// Group is a run of User-agent lines and the directives that follow them.
type Group struct {
	Agents     []string      `json:"agents"`
	Rules      []Rule        `json:"rules"`
	CrawlDelay time.Duration `json:"crawlDelay,omitempty"`
}

// Rules is a parsed robots.txt document.
type Rules struct {
	Groups    []Group   `json:"groups"`
	Sitemaps  []string  `json:"sitemaps"`
	Host      string    `json:"host,omitempty"`
	Noindex   []string  `json:"noindex,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
	// AllowAll is set when no usable document was available.
	AllowAll bool `json:"allowAll"`
}

// RuleSet is the effective rule list for one user agent.
type RuleSet struct {
	Rules      []Rule
	CrawlDelay time.Duration
}

// Parse reads a robots.txt body. Unknown directives and malformed lines are skipped.
func Parse(content string) *Rules {
	out := &Rules{}
	var (
		current     *Group
		lastWasRule bool
	)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if current == nil || lastWasRule {
				out.Groups = append(out.Groups, Group{})
				current = &out.Groups[len(out.Groups)-1]
				lastWasRule = false
			}
			current.Agents = append(current.Agents, strings.ToLower(value))
		case "allow", "disallow":
			if current == nil {
				continue
			}
			lastWasRule = true
			if value == "" {
				continue
			}
			current.Rules = append(current.Rules, newRule(value, key == "allow"))
		case "crawl-delay":
			if current == nil {
				continue
			}
			lastWasRule = true
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
				current.CrawlDelay = time.Duration(secs * float64(time.Second))
			}
		case "sitemap":
			if value != "" {
				out.Sitemaps = append(out.Sitemaps, value)
			}
		case "host":
			if out.Host == "" {
				out.Host = value
			}
		case "noindex":
			if value != "" {
				out.Noindex = append(out.Noindex, value)
			}
		}
	}
	return out
}

// AllowEverything returns a document that permits every path.
func AllowEverything(fetchedAt time.Time) *Rules {
	return &Rules{AllowAll: true, FetchedAt: fetchedAt}
}

// ProductToken extracts the crawler name from a User-Agent string ("SiteScout/1.0 (+url)" -> "sitescout").
func ProductToken(userAgent string) string {
	token := strings.TrimSpace(userAgent)
	if idx := strings.IndexAny(token, "/ ("); idx >= 0 {
		token = token[:idx]
	}
	return strings.ToLower(token)
}

// ForAgent pools the rules of every group naming the agent or "*". The crawl delay comes from
// the most specific group that declares one.
func (r *Rules) ForAgent(userAgent string) RuleSet {
	var set RuleSet
	if r == nil || r.AllowAll {
		return set
	}
	token := ProductToken(userAgent)
	var exactDelay, wildcardDelay time.Duration
	for _, g := range r.Groups {
		exact, wildcard := false, false
		for _, agent := range g.Agents {
			switch {
			case agent == "*":
				wildcard = true
			case token != "" && (agent == token || ProductToken(agent) == token):
				exact = true
			}
		}
		if !exact && !wildcard {
			continue
		}
		set.Rules = append(set.Rules, g.Rules...)
		if exact && g.CrawlDelay > 0 && exactDelay == 0 {
			exactDelay = g.CrawlDelay
		}
		if wildcard && g.CrawlDelay > 0 && wildcardDelay == 0 {
			wildcardDelay = g.CrawlDelay
		}
	}
	set.CrawlDelay = wildcardDelay
	if exactDelay > 0 {
		set.CrawlDelay = exactDelay
	}
	return set
}

// Allowed reports whether path (including any query string) may be fetched.
func (s RuleSet) Allowed(path string) bool {
	if path == "" {
		path = "/"
	}
	if path == "/robots.txt" {
		return true
	}
	best := -1
	allowed := true
	for _, rule := range s.Rules {
		if !rule.matches(path) {
			continue
		}
		length := len(rule.Pattern)
		switch {
		case length > best:
			best = length
			allowed = rule.Allow
		case length == best && rule.Allow:
			allowed = true
		}
	}
	return allowed
}

// Test is a shorthand for ForAgent(agent).Allowed(path).
func (r *Rules) Test(userAgent, path string) bool {
	return r.ForAgent(userAgent).Allowed(path)
}

// DisallowedPaths lists every Disallow pattern of the groups that apply to the agent.
func (r *Rules) DisallowedPaths(userAgent string) []string {
	return r.patterns(userAgent, false)
}

// AllowedPaths lists every Allow pattern of the groups that apply to the agent.
func (r *Rules) AllowedPaths(userAgent string) []string {
	return r.patterns(userAgent, true)
}

func (r *Rules) patterns(userAgent string, allow bool) []string {
	var out []string
	for _, rule := range r.ForAgent(userAgent).Rules {
		if rule.Allow == allow {
			out = append(out, rule.Pattern)
		}
	}
	return out
}

func newRule(pattern string, allow bool) Rule {
	rule := Rule{Pattern: pattern, Allow: allow}
	if strings.ContainsAny(pattern, "*$") {
		rule.re = compileWildcard(pattern)
	}
	return rule
}

func (r Rule) matches(path string) bool {
	if r.re != nil {
		return r.re.MatchString(path)
	}
	return strings.HasPrefix(path, r.Pattern)
}

// compileWildcard turns "*" into ".*" and a trailing "$" into an end anchor.
func compileWildcard(pattern string) *regexp.Regexp {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(parts, ".*")
	if anchored {
		expr += "$"
	}
	return regexp.MustCompile(expr)
}
