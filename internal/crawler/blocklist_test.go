package crawler

import "testing"

func TestDomainBlocklist(t *testing.T) {
	t.Run("substring match", func(t *testing.T) {
		bl := newDomainBlocklist([]string{"ads.example.com"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if !bl.IsBlocked("ads.example.com") {
			t.Fatalf("expected ads.example.com to be blocked")
		}
		if !bl.IsBlocked("eu.ads.example.com") {
			t.Fatalf("expected hosts containing the entry to be blocked")
		}
		if bl.IsBlocked("example.com") {
			t.Fatalf("did not expect the parent domain to be blocked")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		bl := newDomainBlocklist([]string{"*.ru", ".cn", "*.ru"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if len(bl.suffixes) != 2 {
			t.Fatalf("expected duplicate suffixes to collapse, got %v", bl.suffixes)
		}
		cases := []struct {
			host    string
			blocked bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"shop.cn", true},
			{"example.com", false},
			{"rust-lang.org", false},
		}
		for _, tc := range cases {
			if got := bl.IsBlocked(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("empty config", func(t *testing.T) {
		if bl := newDomainBlocklist([]string{" ", ""}); bl != nil {
			t.Fatalf("expected nil blocklist for blank entries")
		}
	})

	t.Run("nil blocklist", func(t *testing.T) {
		var bl *domainBlocklist
		if bl.IsBlocked("anything") {
			t.Fatalf("nil blocklist should never block")
		}
	})
}
