package robots

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/sitescout/internal/clock"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/metrics"
)

const (
	defaultCacheTimeout = time.Hour
	defaultFetchTimeout = 10 * time.Second
	maxRobotsBytes      = 1 << 20
)

// DelaySink receives crawl delays discovered in robots.txt, typically a per-host rate limiter.
type DelaySink interface {
	SetCrawlDelay(rawURL string, delay time.Duration)
}

// Options configures a Validator.
type Options struct {
	UserAgent    string
	CacheTimeout time.Duration
	FetchTimeout time.Duration
	Fetcher      fetch.Fetcher
	Clock        clock.Clock
	Logger       *zap.Logger
	DelaySink    DelaySink
}

// Verdict answers an IsAllowed query.
type Verdict struct {
	Allowed    bool          `json:"allowed"`
	CrawlDelay time.Duration `json:"crawlDelay,omitempty"`
}

// Validator fetches robots.txt once per origin and caches it for CacheTimeout.
// Expired entries are refetched lazily on the next query. It is safe for concurrent use.
type Validator struct {
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Rules
	group singleflight.Group
}

// NewValidator builds a Validator.
func NewValidator(opts Options) *Validator {
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = defaultCacheTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		opts:   opts,
		clock:  clock.OrSystem(opts.Clock),
		logger: logger,
		cache:  make(map[string]*Rules),
	}
}

// UserAgent returns the agent the validator evaluates rules for.
func (v *Validator) UserAgent() string {
	return v.opts.UserAgent
}

// IsAllowed checks a URL against its origin's robots.txt. Unparseable URLs are denied;
// an unreachable robots.txt allows everything.
func (v *Validator) IsAllowed(ctx context.Context, rawURL string) Verdict {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Verdict{Allowed: false}
	}
	rules := v.load(ctx, u)
	set := rules.ForAgent(v.opts.UserAgent)
	target := u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return Verdict{Allowed: set.Allowed(target), CrawlDelay: set.CrawlDelay}
}

// GetSitemaps returns the Sitemap URLs declared by the origin of domainURL.
func (v *Validator) GetSitemaps(ctx context.Context, domainURL string) []string {
	u, err := parseOrigin(domainURL)
	if err != nil {
		return nil
	}
	return append([]string(nil), v.load(ctx, u).Sitemaps...)
}

// Preload warms the cache for the origin of domainURL.
func (v *Validator) Preload(ctx context.Context, domainURL string) {
	if u, err := parseOrigin(domainURL); err == nil {
		v.load(ctx, u)
	}
}

// Rules returns the cached or freshly fetched document for the origin of domainURL.
func (v *Validator) Rules(ctx context.Context, domainURL string) (*Rules, error) {
	u, err := parseOrigin(domainURL)
	if err != nil {
		return nil, err
	}
	return v.load(ctx, u), nil
}

// Clear drops every cached document.
func (v *Validator) Clear() {
	v.mu.Lock()
	v.cache = make(map[string]*Rules)
	v.mu.Unlock()
}

func (v *Validator) load(ctx context.Context, u *url.URL) *Rules {
	key := originKey(u)
	now := v.clock.Now()

	v.mu.RLock()
	cached, ok := v.cache[key]
	v.mu.RUnlock()
	if ok && now.Sub(cached.FetchedAt) < v.opts.CacheTimeout {
		return cached
	}

	// The shared fetch outlives any one caller; FetchTimeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	flight := v.group.DoChan(key, func() (any, error) {
		rules := v.fetch(fetchCtx, key)
		v.mu.Lock()
		v.cache[key] = rules
		v.mu.Unlock()
		if v.opts.DelaySink != nil {
			if delay := rules.ForAgent(v.opts.UserAgent).CrawlDelay; delay > 0 {
				v.opts.DelaySink.SetCrawlDelay(key, delay)
			}
		}
		return rules, nil
	})
	select {
	case res := <-flight:
		if rules, _ := res.Val.(*Rules); rules != nil {
			return rules
		}
		return AllowEverything(now)
	case <-ctx.Done():
		return AllowEverything(now)
	}
}

func (v *Validator) fetch(ctx context.Context, origin string) *Rules {
	robotsURL := origin + "/robots.txt"
	now := v.clock.Now()
	if v.opts.Fetcher == nil {
		return AllowEverything(now)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, v.opts.FetchTimeout)
	defer cancel()
	resp, err := fetch.Get(fetchCtx, v.opts.Fetcher, robotsURL)
	if err != nil {
		metrics.ObserveRobotsFetch("error")
		v.logger.Warn("robots fetch failed; allowing access", zap.String("url", robotsURL), zap.Error(err))
		return AllowEverything(now)
	}
	if resp.Fallback != "" {
		v.logger.Warn("robots body synthesized by transport",
			zap.String("url", robotsURL), zap.String("reason", resp.Fallback))
	}
	switch {
	case resp.OK():
		body := resp.Body
		if len(body) > maxRobotsBytes {
			body = body[:maxRobotsBytes]
		}
		rules := Parse(string(body))
		rules.FetchedAt = now
		metrics.ObserveRobotsFetch("ok")
		return rules
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		metrics.ObserveRobotsFetch("missing")
		return AllowEverything(now)
	default:
		metrics.ObserveRobotsFetch("error")
		v.logger.Warn("robots returned unexpected status; allowing access",
			zap.String("url", robotsURL), zap.Int("status", resp.StatusCode))
		return AllowEverything(now)
	}
}

func parseOrigin(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse domain url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("domain url %q has no host", raw)
	}
	return u, nil
}

func originKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host)
}
