package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/crawler"
	"github.com/JakeFAU/sitescout/internal/discovery"
	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/publisher"
	"github.com/JakeFAU/sitescout/internal/sitemap"
)

func newDiscoverCmd() *cobra.Command {
	var (
		categories  []string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "Probe a site for robots.txt, sitemaps, feeds and APIs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts := discovery.Options{MaxConcurrent: concurrency}
			for _, c := range categories {
				opts.Categories = append(opts.Categories, discovery.Category(strings.ToLower(strings.TrimSpace(c))))
			}
			report, err := appInstance.Prober().Discover(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("discover %s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "probe categories (robots, sitemap, feed, api, static, platform)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum concurrent probes (0 uses the configured default)")
	return cmd
}

type linksOutput struct {
	Links     []crawler.DiscoveredLink `json:"links"`
	Published []string                 `json:"published,omitempty"`
	Stats     crawler.Stats            `json:"stats"`
}

func newLinksCmd() *cobra.Command {
	var (
		headless bool
		depth    int
		sitemaps bool
		publish  bool
	)
	cmd := &cobra.Command{
		Use:   "links <url>",
		Short: "Fetch a page and list the crawlable links it exposes.",
		Long: `links fetches one page, extracts its links through the configured URL
patterns and domain rules, and filters them against robots.txt. With --sitemaps
the site's sitemaps seed additional links; with --publish the accepted links are
sent to the configured frontier topic.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := appInstance.Logger()

			fetcher, err := appInstance.PageFetcher(headless)
			if err != nil {
				return err
			}
			discoverer, err := appInstance.NewLinkDiscoverer()
			if err != nil {
				return err
			}
			page, err := fetch.Get(ctx, fetcher, args[0])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			if !page.OK() {
				return fmt.Errorf("fetch %s: status %d", args[0], page.StatusCode)
			}
			baseURL := args[0]
			if page.URL != "" {
				baseURL = page.URL
			}

			links, err := discoverer.ExtractLinksAsync(ctx, string(page.Body), baseURL, depth)
			if err != nil {
				return fmt.Errorf("extract links: %w", err)
			}
			if sitemaps {
				seeded, err := discoverer.DiscoverFromSitemaps(ctx, baseURL, crawler.SitemapOptions{
					UseRobots:    true,
					GuessDefault: true,
					CheckRobots:  appInstance.Config().Links.CheckRobots,
				})
				if err != nil && !errors.Is(err, crawler.ErrNoSitemapSource) {
					logger.Warn("sitemap seeding failed", zap.String("url", baseURL), zap.Error(err))
				}
				links = append(links, seeded...)
			}
			if links == nil {
				links = []crawler.DiscoveredLink{}
			}

			out := linksOutput{Links: links}
			if publish && len(links) > 0 {
				pub := appInstance.Publisher()
				if pub == nil {
					return errors.New("publish requested but pubsub.backend is none")
				}
				ids, err := publisher.PublishLinks(ctx, pub, appInstance.Config().PubSub.Topic, hostname(baseURL), links)
				if err != nil {
					return fmt.Errorf("publish links: %w", err)
				}
				out.Published = ids
			}
			out.Stats = discoverer.Stats()
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "render the page with headless Chrome before extracting")
	cmd.Flags().IntVar(&depth, "depth", 0, "crawl depth of the page")
	cmd.Flags().BoolVar(&sitemaps, "sitemaps", false, "seed links from the site's sitemaps")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish accepted links to the frontier topic")
	return cmd
}

type sitemapOutput struct {
	URL     string          `json:"url"`
	Entries []sitemap.Entry `json:"entries"`
	Stats   sitemap.Stats   `json:"stats"`
}

func newSitemapCmd() *cobra.Command {
	var (
		recursive bool
		maxDepth  int
	)
	cmd := &cobra.Command{
		Use:   "sitemap <url>",
		Short: "Parse a sitemap, sitemap index or feed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			parser := appInstance.Sitemaps()
			entries, err := parser.Parse(cmd.Context(), args[0], sitemap.ParseOptions{Recursive: recursive, MaxDepth: maxDepth})
			if err != nil {
				return fmt.Errorf("parse sitemap %s: %w", args[0], err)
			}
			if entries == nil {
				entries = []sitemap.Entry{}
			}
			return writeJSON(cmd.OutOrStdout(), sitemapOutput{URL: args[0], Entries: entries, Stats: parser.Stats()})
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", true, "follow sitemap index children")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "index nesting limit (0 uses the configured default)")
	return cmd
}

type robotsOutput struct {
	URL        string   `json:"url"`
	UserAgent  string   `json:"userAgent"`
	Allowed    bool     `json:"allowed"`
	CrawlDelay float64  `json:"crawlDelay,omitempty"`
	Sitemaps   []string `json:"sitemaps"`
}

func newRobotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "robots <url>",
		Short: "Check whether robots.txt allows a URL for the configured user agent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			validator := appInstance.Robots()
			verdict := validator.IsAllowed(cmd.Context(), args[0])
			sitemaps := validator.GetSitemaps(cmd.Context(), args[0])
			if sitemaps == nil {
				sitemaps = []string{}
			}
			return writeJSON(cmd.OutOrStdout(), robotsOutput{
				URL:        args[0],
				UserAgent:  validator.UserAgent(),
				Allowed:    verdict.Allowed,
				CrawlDelay: verdict.CrawlDelay.Seconds(),
				Sitemaps:   sitemaps,
			})
		},
	}
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
