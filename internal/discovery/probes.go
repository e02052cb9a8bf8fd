package discovery

import (
	"regexp"
	"strings"
)

var sitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.xml.gz",
	"/sitemap.txt",
	"/sitemaps.xml",
	"/wp-sitemap.xml",
	"/post-sitemap.xml",
	"/page-sitemap.xml",
	"/product-sitemap.xml",
	"/category-sitemap.xml",
	"/sitemap-products.xml",
	"/sitemap_products_1.xml",
	"/sitemap-categories.xml",
	"/news-sitemap.xml",
	"/sitemap-news.xml",
	"/video-sitemap.xml",
	"/image-sitemap.xml",
	"/sitemap-images.xml",
	"/en/sitemap.xml",
	"/sitemap-en.xml",
}

var feedPaths = []string{
	"/feed",
	"/feed/",
	"/rss",
	"/rss.xml",
	"/feed.xml",
	"/atom.xml",
	"/index.xml",
	"/blog/feed",
	"/feeds/posts/default",
	"/blog/rss.xml",
}

var apiPaths = []string{
	"/api",
	"/api/v1",
	"/api/v2",
	"/graphql",
	"/wp-json",
	"/openapi.json",
	"/swagger.json",
	"/api-docs",
	"/.well-known/openapi.json",
	"/rest/V1",
	"/jsonapi",
}

var staticPaths = []string{
	"/humans.txt",
	"/ads.txt",
	"/app-ads.txt",
	"/security.txt",
	"/.well-known/security.txt",
	"/manifest.json",
	"/site.webmanifest",
	"/favicon.ico",
	"/browserconfig.xml",
	"/crossdomain.xml",
	"/llms.txt",
}

// platformPaths lists well-known endpoints per platform. Confidence is found/probed.
var platformPaths = []struct {
	name  string
	paths []string
}{
	{"shopify", []string{"/products.json", "/collections.json", "/cart.js", "/sitemap_products_1.xml"}},
	{"wordpress", []string{"/wp-json/wp/v2/posts", "/wp-login.php", "/xmlrpc.php", "/wp-sitemap.xml"}},
	{"woocommerce", []string{"/wp-json/wc/store/products", "/wp-json/wc/v3", "/shop/"}},
	{"magento", []string{"/rest/V1/store/storeConfigs", "/customer/account/login", "/static/version1/frontend/"}},
	{"drupal", []string{"/jsonapi", "/core/misc/drupal.js", "/user/login"}},
	{"ghost", []string{"/ghost/api/content/settings/", "/ghost/", "/rss/"}},
	{"nextjs", []string{"/_next/static/", "/_next/image", "/api/auth/session"}},
	{"nuxt", []string{"/_nuxt/", "/__nuxt_error"}},
	{"gatsby", []string{"/page-data/index/page-data.json", "/page-data/app-data.json"}},
}

// Sitemap type scores. Higher sorts first.
const (
	scoreIndex     = 100
	scoreNews      = 90
	scoreMedia     = 80
	scoreProduct   = 70
	scoreCategory  = 60
	scorePostPage  = 50
	scoreLocalized = 40
	scoreGeneric   = 30
)

var localizedSitemap = regexp.MustCompile(`(?i)(^/[a-z]{2}(-[a-z]{2})?/)|([-_][a-z]{2}(-[a-z]{2})?\.xml)`)

// classifySitemap returns the sitemap type and its ranking score.
func classifySitemap(path string) (string, int) {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "index") || p == "/wp-sitemap.xml":
		return "index", scoreIndex
	case strings.Contains(p, "news"):
		return "news", scoreNews
	case strings.Contains(p, "video"):
		return "video", scoreMedia
	case strings.Contains(p, "image"):
		return "image", scoreMedia
	case strings.Contains(p, "product"):
		return "product", scoreProduct
	case strings.Contains(p, "categor"):
		return "category", scoreCategory
	case strings.Contains(p, "post"):
		return "post", scorePostPage
	case strings.Contains(p, "page"):
		return "page", scorePostPage
	case localizedSitemap.MatchString(p):
		return "localized", scoreLocalized
	default:
		return "generic", scoreGeneric
	}
}

func classifyFeed(path, contentType string) string {
	ct := strings.ToLower(contentType)
	p := strings.ToLower(path)
	switch {
	case strings.Contains(ct, "atom") || strings.Contains(p, "atom"):
		return "atom"
	case strings.Contains(ct, "json"):
		return "json"
	default:
		return "rss"
	}
}

func classifyAPI(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "graphql"):
		return "graphql"
	case strings.Contains(p, "openapi") || strings.Contains(p, "swagger") || strings.Contains(p, "api-docs"):
		return "openapi"
	case strings.Contains(p, "wp-json"):
		return "wordpress"
	case strings.Contains(p, "jsonapi"):
		return "jsonapi"
	default:
		return "rest"
	}
}

var apiLikePath = regexp.MustCompile(`(?i)(^|/)(api|graphql|rest|v[0-9]+|wp-json|jsonapi|ajax)(/|$|\.)|\.json$`)

var sensitivePath = regexp.MustCompile(`(?i)(^|/)(admin|administrator|wp-admin|login|private|internal|backup|backups|\.git|\.env|config|staging|dev|tmp|cgi-bin|phpmyadmin)(/|$|\.)`)
