package urlpattern

import (
	"fmt"
	"regexp"
	"strings"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segOptionalParam
	segWildcard
	segDoubleWildcard
)

type segment struct {
	kind  segmentKind
	value string
}

// queryToken is one key=value term of the query sub-pattern.
type queryToken struct {
	key      string
	param    string
	literal  string
	optional bool
}

// parsedPattern is the AST of a pattern source string.
type parsedPattern struct {
	path  []segment
	query []queryToken
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// tokenize splits a pattern source into path segments and an optional query sub-pattern.
// A '?' directly after a parameter name marks it optional; any other '?' seen before a
// wildcard starts the query sub-pattern.
func tokenize(src string) (parsedPattern, error) {
	var (
		out         parsedPattern
		literal     strings.Builder
		sawWildcard bool
	)
	flush := func() {
		if literal.Len() > 0 {
			out.path = append(out.path, segment{kind: segLiteral, value: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == ':' && i+1 < len(src) && isIdentByte(src[i+1]):
			flush()
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			name := src[i+1 : j]
			kind := segParam
			if j < len(src) && src[j] == '?' {
				kind = segOptionalParam
				j++
			}
			out.path = append(out.path, segment{kind: kind, value: name})
			i = j - 1
		case c == '*':
			flush()
			sawWildcard = true
			if i+1 < len(src) && src[i+1] == '*' {
				out.path = append(out.path, segment{kind: segDoubleWildcard})
				i++
				continue
			}
			out.path = append(out.path, segment{kind: segWildcard})
		case c == '?' && !sawWildcard:
			flush()
			query, err := tokenizeQuery(src[i+1:])
			if err != nil {
				return parsedPattern{}, err
			}
			out.query = query
			return out, nil
		default:
			literal.WriteByte(c)
		}
	}
	flush()
	return out, nil
}

func tokenizeQuery(src string) ([]queryToken, error) {
	var tokens []queryToken
	for _, term := range strings.Split(src, "&") {
		if term == "" {
			continue
		}
		key, value, hasValue := strings.Cut(term, "=")
		if key == "" {
			return nil, fmt.Errorf("query term %q has no key", term)
		}
		tok := queryToken{key: key}
		switch {
		case !hasValue:
		case strings.HasPrefix(value, ":"):
			name := strings.TrimPrefix(value, ":")
			if strings.HasSuffix(name, "?") {
				name = strings.TrimSuffix(name, "?")
				tok.optional = true
			}
			if name == "" {
				return nil, fmt.Errorf("query term %q has an empty parameter name", term)
			}
			tok.param = name
		default:
			tok.literal = value
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// compilePath renders path segments into an anchored, case-insensitive regex that tolerates a
// trailing slash and a trailing query or fragment. It returns the capture names in group order.
func compilePath(segments []segment) (*regexp.Regexp, []string, error) {
	var (
		b     strings.Builder
		names []string
	)
	b.WriteString("(?i)^")
	for i, seg := range segments {
		switch seg.kind {
		case segLiteral:
			value := seg.value
			// "/:id?" makes the whole segment optional, slash included.
			if i+1 < len(segments) && segments[i+1].kind == segOptionalParam && strings.HasSuffix(value, "/") {
				value = strings.TrimSuffix(value, "/")
			}
			b.WriteString(regexp.QuoteMeta(value))
		case segParam:
			b.WriteString("([^/]+)")
			names = append(names, seg.value)
		case segOptionalParam:
			if i > 0 && segments[i-1].kind == segLiteral && strings.HasSuffix(segments[i-1].value, "/") {
				b.WriteString("(?:/([^/]*))?")
			} else {
				b.WriteString("([^/]*)")
			}
			names = append(names, seg.value)
		case segWildcard:
			b.WriteString("[^/]+")
		case segDoubleWildcard:
			b.WriteString(".*")
		}
	}
	b.WriteString(`/?(?:[?#].*)?$`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, nil, fmt.Errorf("compile %q: %w", b.String(), err)
	}
	return re, names, nil
}
