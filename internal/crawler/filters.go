package crawler

import (
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/sitescout/internal/urlpattern"
)

// Filter reasons reported in Stats.Filtered and the links_total metric.
const (
	reasonIgnored      = "ignored"
	reasonIgnoreRegex  = "ignore_regex"
	reasonBlocked      = "blocked_domain"
	reasonOffDomain    = "off_domain"
	reasonNotAllowed   = "not_allowed_domain"
	reasonFollowRegex  = "follow_regex"
	reasonPattern      = "pattern"
	reasonDuplicate    = "duplicate"
	reasonInvalid      = "invalid"
	reasonRobots       = "robots"
	verdictAccepted    = "accepted"
	verdictFromSitemap = "sitemap"
)

var ignoredSchemes = []string{"mailto:", "tel:", "javascript:", "data:", "sms:", "ftp:"}

var ignoredExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {}, ".bmp": {},
	".pdf": {}, ".zip": {}, ".rar": {}, ".gz": {}, ".tar": {}, ".7z": {}, ".exe": {}, ".dmg": {},
	".msi": {}, ".apk": {}, ".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".webm": {},
	".wav": {}, ".css": {}, ".js": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
}

var ignoredPaths = regexp.MustCompile(`(?i)^/(login|logout|signin|signout|sign-in|sign-up|signup|register|cart|checkout|account|my-account|wp-admin|wp-login\.php|admin)(/|$)`)

// ignoredHref applies the fixed anchor ignore list to the raw href.
func ignoredHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, scheme := range ignoredSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// ignoredTarget applies the fixed ignore list to the resolved URL path.
func ignoredTarget(urlPath string) bool {
	if _, ok := ignoredExtensions[strings.ToLower(path.Ext(urlPath))]; ok {
		return true
	}
	return ignoredPaths.MatchString(urlPath)
}

// policy is the compiled filter chain shared by anchors and sitemap entries.
type policy struct {
	cfg       Config
	blocklist *domainBlocklist
	follow    map[string]struct{}
	matcher   PatternMatcher
}

func newPolicy(cfg Config, matcher PatternMatcher) *policy {
	p := &policy{
		cfg:       cfg,
		blocklist: newDomainBlocklist(cfg.BlockedDomains),
		matcher:   matcher,
	}
	if len(cfg.FollowPatterns) > 0 {
		p.follow = make(map[string]struct{}, len(cfg.FollowPatterns))
		for _, name := range cfg.FollowPatterns {
			p.follow[name] = struct{}{}
		}
	}
	return p
}

// evaluate runs filters 2 through 7 against a normalized URL. It returns the pattern match
// (possibly nil) and an empty reason when the link is accepted.
func (p *policy) evaluate(normalized, baseHost string) (*urlpattern.MatchResult, string) {
	if p.cfg.IgnoreRegex != nil && p.cfg.IgnoreRegex.MatchString(normalized) {
		return nil, reasonIgnoreRegex
	}
	host := hostOf(normalized)
	if p.blocklist.IsBlocked(host) {
		return nil, reasonBlocked
	}
	if p.cfg.SameDomainOnly && baseHost != "" {
		if p.cfg.IncludeSubdomains {
			if registrableDomain(host) != registrableDomain(baseHost) {
				return nil, reasonOffDomain
			}
		} else if !sameHost(host, baseHost) {
			return nil, reasonOffDomain
		}
	}
	if len(p.cfg.AllowedDomains) > 0 && !p.allowedDomain(host) {
		return nil, reasonNotAllowed
	}
	if p.cfg.FollowRegex != nil && !p.cfg.FollowRegex.MatchString(normalized) {
		return nil, reasonFollowRegex
	}
	var match *urlpattern.MatchResult
	if p.matcher != nil {
		match = p.matcher.Match(normalized)
	}
	if p.matcher != nil && p.follow != nil {
		name := urlpattern.DefaultName
		if match != nil {
			name = match.Pattern
		}
		if _, ok := p.follow[name]; !ok {
			return nil, reasonPattern
		}
	}
	return match, ""
}

func (p *policy) allowedDomain(host string) bool {
	for _, domain := range p.cfg.AllowedDomains {
		if hostWithin(host, domain) {
			return true
		}
	}
	return false
}
