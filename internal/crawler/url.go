package crawler

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// NormalizeOptions controls the optional steps of NormalizeURL.
type NormalizeOptions struct {
	RemoveQuery bool
	SortQuery   bool
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, fragments and trailing slashes
// (except for the root path), and optionally strips or sorts query parameters.
// Normalizing an already normalized URL returns it unchanged.
func NormalizeURL(rawURL string, opts NormalizeOptions) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url: %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = strings.TrimRight(u.RawPath, "/")
		if u.Path == "" {
			u.Path = "/"
			u.RawPath = ""
		}
	}

	u.ForceQuery = false
	switch {
	case opts.RemoveQuery:
		u.RawQuery = ""
	case opts.SortQuery && u.RawQuery != "":
		u.RawQuery = sortRawQuery(u.RawQuery)
	}

	return u.String(), nil
}

// sortRawQuery orders query pairs by key without decoding them, so pairs
// url.Values would reject still take part in the key. Values of a repeated
// key keep their order.
func sortRawQuery(raw string) string {
	pairs := slices.DeleteFunc(strings.Split(raw, "&"), func(p string) bool { return p == "" })
	slices.SortStableFunc(pairs, func(a, b string) int {
		return strings.Compare(queryKey(a), queryKey(b))
	})
	return strings.Join(pairs, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	return key
}
