package crawler

import "strings"

// domainBlocklist stores substring entries and suffix wildcards derived from configuration.
// A plain entry blocks every host containing it; "*.example.com" and ".example.com" block the
// domain and its subdomains.
type domainBlocklist struct {
	contains []string
	suffixes []string
}

func newDomainBlocklist(patterns []string) *domainBlocklist {
	matcher := &domainBlocklist{}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			suffix := strings.TrimPrefix(value, "*.")
			if suffix != "" {
				matcher.suffixes = appendUnique(matcher.suffixes, suffix)
			}
		case strings.HasPrefix(value, "."):
			suffix := strings.TrimPrefix(value, ".")
			if suffix != "" {
				matcher.suffixes = appendUnique(matcher.suffixes, suffix)
			}
		default:
			matcher.contains = appendUnique(matcher.contains, value)
		}
	}
	if len(matcher.contains) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func (b *domainBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	for _, entry := range b.contains {
		if strings.Contains(host, entry) {
			return true
		}
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
