// Package urlpattern compiles declarative URL patterns and matches URLs against them.
//
// Pattern sources use Express-style syntax: ":name" captures a path segment, ":name?" an
// optional one, "*" skips one segment and "**" any number of them. A "?" that does not
// follow a parameter starts a query sub-pattern such as "?q=:term&page=:page?".
package urlpattern

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultName is the config key of the fallback pattern.
const DefaultName = "default"

// ErrInvalidPattern is returned for configs that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid url pattern")

// Config declares one named pattern. One of Match, Regex or RegexSource is set, except for
// the default entry which needs none.
type Config struct {
	Match string
	Regex *regexp.Regexp
	// RegexSource is compiled verbatim when Regex is nil.
	RegexSource string
	// ParamNames names the capture groups of Regex in order. When empty, named groups
	// are used and unnamed ones become param1, param2, ...
	ParamNames []string
	Activities []string
	// Extract maps a param name to a query-string key.
	Extract  map[string]string
	Priority int
	Metadata map[string]any
}

// Pattern is a compiled, immutable pattern.
type Pattern struct {
	Name       string
	Source     string
	ParamNames []string
	Activities []string
	Extract    map[string]string
	Priority   int
	Metadata   map[string]any

	regex *regexp.Regexp
	query []queryToken
	order int
}

// Regex returns the compiled path expression.
func (p *Pattern) Regex() *regexp.Regexp { return p.regex }

// MatchResult describes the winning pattern for a URL.
type MatchResult struct {
	Pattern    string            `json:"pattern"`
	Params     map[string]string `json:"params"`
	Activities []string          `json:"activities"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Priority   int               `json:"priority"`
	IsDefault  bool              `json:"isDefault"`
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithActivities restricts pattern activities to the given names.
func WithActivities(names ...string) Option {
	return func(m *Matcher) {
		m.validActivities = make(map[string]struct{}, len(names))
		for _, name := range names {
			m.validActivities[name] = struct{}{}
		}
	}
}

// Matcher holds compiled patterns. It is safe for concurrent use.
type Matcher struct {
	mu              sync.RWMutex
	patterns        []*Pattern
	fallback        *Pattern
	validActivities map[string]struct{}
	seq             int
}

// New compiles every config. Configs are registered in name order so ties resolve deterministically.
func New(configs map[string]Config, opts ...Option) (*Matcher, error) {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.AddPattern(name, configs[name]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddPattern compiles and registers a pattern, replacing any pattern with the same name.
func (m *Matcher) AddPattern(name string, cfg Config) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: pattern name is required", ErrInvalidPattern)
	}
	if err := m.checkActivities(name, cfg.Activities); err != nil {
		return err
	}
	p := &Pattern{
		Name:       name,
		Source:     cfg.Match,
		Activities: append([]string(nil), cfg.Activities...),
		Extract:    copyStrings(cfg.Extract),
		Priority:   cfg.Priority,
		Metadata:   cfg.Metadata,
	}

	if name == DefaultName {
		m.mu.Lock()
		m.fallback = p
		m.mu.Unlock()
		return nil
	}

	if cfg.Regex == nil && cfg.RegexSource != "" {
		re, err := regexp.Compile(cfg.RegexSource)
		if err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrInvalidPattern, name, err)
		}
		cfg.Regex = re
	}

	switch {
	case cfg.Regex != nil:
		names, err := regexParamNames(cfg.Regex, cfg.ParamNames)
		if err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrInvalidPattern, name, err)
		}
		p.regex = cfg.Regex
		p.ParamNames = names
		p.Source = cfg.Regex.String()
	case cfg.Match != "":
		ast, err := tokenize(cfg.Match)
		if err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrInvalidPattern, name, err)
		}
		re, names, err := compilePath(ast.path)
		if err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrInvalidPattern, name, err)
		}
		p.regex = re
		p.ParamNames = names
		p.query = ast.query
	default:
		return fmt.Errorf("%w: pattern %q has no match expression", ErrInvalidPattern, name)
	}
	if len(p.ParamNames) != p.regex.NumSubexp() {
		return fmt.Errorf("%w: pattern %q declares %d params for %d capture groups",
			ErrInvalidPattern, name, len(p.ParamNames), p.regex.NumSubexp())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p.order = m.seq
	m.removeLocked(name)
	m.patterns = append(m.patterns, p)
	return nil
}

// RemovePattern unregisters a pattern. It reports whether the pattern existed.
func (m *Matcher) RemovePattern(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == DefaultName {
		existed := m.fallback != nil
		m.fallback = nil
		return existed
	}
	return m.removeLocked(name)
}

func (m *Matcher) removeLocked(name string) bool {
	for i, p := range m.patterns {
		if p.Name == name {
			m.patterns = append(m.patterns[:i], m.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists registered pattern names in registration order.
func (m *Matcher) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.patterns)+1)
	for _, p := range m.patterns {
		out = append(out, p.Name)
	}
	if m.fallback != nil {
		out = append(out, DefaultName)
	}
	return out
}

type candidate struct {
	pattern *Pattern
	params  map[string]string
}

// Match returns the best match for a full URL or bare path. Higher priority wins, then the
// pattern that bound more params, then registration order. When nothing matches the default
// pattern is returned, or nil when none is registered.
func (m *Matcher) Match(rawURL string) *MatchResult {
	path, query := splitTarget(rawURL)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []candidate
	for _, p := range m.patterns {
		params, ok := p.match(path, query)
		if ok {
			found = append(found, candidate{pattern: p, params: params})
		}
	}
	if len(found) == 0 {
		if m.fallback == nil {
			return nil
		}
		return m.fallback.result(map[string]string{}, true)
	}
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.pattern.Priority != b.pattern.Priority {
			return a.pattern.Priority > b.pattern.Priority
		}
		if len(a.params) != len(b.params) {
			return len(a.params) > len(b.params)
		}
		return a.pattern.order < b.pattern.order
	})
	best := found[0]
	return best.pattern.result(best.params, false)
}

// Matches reports whether a non-default pattern matches.
func (m *Matcher) Matches(rawURL string) bool {
	res := m.Match(rawURL)
	return res != nil && !res.IsDefault
}

func (p *Pattern) match(path string, query url.Values) (map[string]string, bool) {
	groups := p.regex.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(p.ParamNames))
	for i, name := range p.ParamNames {
		if value := groups[i+1]; value != "" {
			if decoded, err := url.PathUnescape(value); err == nil {
				value = decoded
			}
			params[name] = value
		}
	}
	for _, tok := range p.query {
		values, present := query[tok.key]
		switch {
		case tok.param != "":
			if present && len(values) > 0 && values[0] != "" {
				params[tok.param] = values[0]
			}
		case tok.literal != "":
			if !present || len(values) == 0 || !strings.EqualFold(values[0], tok.literal) {
				return nil, false
			}
		default:
			if !present {
				return nil, false
			}
		}
	}
	for param, key := range p.Extract {
		if value := query.Get(key); value != "" {
			params[param] = value
		}
	}
	return params, true
}

func (p *Pattern) result(params map[string]string, isDefault bool) *MatchResult {
	return &MatchResult{
		Pattern:    p.Name,
		Params:     params,
		Activities: append([]string(nil), p.Activities...),
		Metadata:   p.Metadata,
		Priority:   p.Priority,
		IsDefault:  isDefault,
	}
}

func (m *Matcher) checkActivities(name string, activities []string) error {
	if m.validActivities == nil {
		return nil
	}
	for _, activity := range activities {
		if _, ok := m.validActivities[activity]; !ok {
			return fmt.Errorf("%w: pattern %q uses unknown activity %q", ErrInvalidPattern, name, activity)
		}
	}
	return nil
}

func regexParamNames(re *regexp.Regexp, declared []string) ([]string, error) {
	if len(declared) > 0 {
		if len(declared) != re.NumSubexp() {
			return nil, fmt.Errorf("declares %d params for %d capture groups", len(declared), re.NumSubexp())
		}
		return append([]string(nil), declared...), nil
	}
	names := make([]string, 0, re.NumSubexp())
	for i, name := range re.SubexpNames()[1:] {
		if name == "" {
			name = "param" + strconv.Itoa(i+1)
		}
		names = append(names, name)
	}
	return names, nil
}

// splitTarget extracts the path and query of a URL. Input that does not parse is used as a raw path.
func splitTarget(raw string) (string, url.Values) {
	u, err := url.Parse(raw)
	if err != nil {
		path, rawQuery, _ := strings.Cut(raw, "?")
		query, _ := url.ParseQuery(rawQuery)
		if query == nil {
			query = url.Values{}
		}
		return path, query
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return path, u.Query()
}

func copyStrings(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
