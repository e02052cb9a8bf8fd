package crawler

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	sorted := NormalizeOptions{SortQuery: true}
	cases := []struct {
		name string
		in   string
		opts NormalizeOptions
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", sorted, "https://example.com/Path"},
		{"drops default https port", "https://example.com:443/a", sorted, "https://example.com/a"},
		{"drops default http port", "http://example.com:80/a", sorted, "http://example.com/a"},
		{"keeps custom port", "http://example.com:8080/a", sorted, "http://example.com:8080/a"},
		{"drops fragment", "https://example.com/a#top", sorted, "https://example.com/a"},
		{"strips trailing slash", "https://example.com/a/b/", sorted, "https://example.com/a/b"},
		{"strips repeated trailing slashes", "https://example.com/a//", sorted, "https://example.com/a"},
		{"keeps root slash", "https://example.com/", sorted, "https://example.com/"},
		{"adds root slash", "https://example.com", sorted, "https://example.com/"},
		{"sorts query", "https://example.com/s?b=2&a=1", sorted, "https://example.com/s?a=1&b=2"},
		{"keeps query order when not sorting", "https://example.com/s?b=2&a=1", NormalizeOptions{}, "https://example.com/s?b=2&a=1"},
		{"removes query", "https://example.com/s?b=2&a=1", NormalizeOptions{RemoveQuery: true}, "https://example.com/s"},
		{"drops empty query", "https://example.com/s?", sorted, "https://example.com/s"},
		{"sorts malformed pairs without dropping them", "https://e.com/x?b=%zz&a=1", sorted, "https://e.com/x?a=1&b=%zz"},
		{"keeps repeated key order", "https://e.com/x?q=2&b=1&q=1", sorted, "https://e.com/x?b=1&q=2&q=1"},
		{"drops empty pairs", "https://e.com/x?b=1&&a=2&", sorted, "https://e.com/x?a=2&b=1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in, tc.opts)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"HTTPS://Example.com:443/a/b/?z=1&a=2#frag",
		"http://example.com/a%2Fb/",
		"https://example.com/search?q=hello+world&q=again",
		"https://example.com//",
		"https://user@example.com/path/../x/",
		"https://example.com/caf%C3%A9/",
		"https://example.com/?",
		"https://e.com/x?b=%zz&a=1&b=",
	}
	for _, opts := range []NormalizeOptions{{}, {SortQuery: true}, {RemoveQuery: true}} {
		for _, in := range inputs {
			once, err := NormalizeURL(in, opts)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error: %v", in, err)
			}
			twice, err := NormalizeURL(once, opts)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error: %v", once, err)
			}
			if once != twice {
				t.Fatalf("normalization not idempotent for %q with %+v: %q then %q", in, opts, once, twice)
			}
		}
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()
	if _, err := NormalizeURL("/relative/path", NormalizeOptions{}); err == nil {
		t.Fatalf("expected relative URL to be rejected")
	}
	if _, err := NormalizeURL("http://[::1", NormalizeOptions{}); err == nil {
		t.Fatalf("expected malformed URL to be rejected")
	}
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"example.com":       "example.com",
		"www.example.com":   "example.com",
		"a.b.example.com":   "example.com",
		"localhost":         "localhost",
		"Shop.Example.COM.": "example.com",
	}
	for in, want := range cases {
		if got := registrableDomain(in); got != want {
			t.Fatalf("registrableDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
