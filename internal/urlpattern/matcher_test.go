package urlpattern

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchExtractsPathParam(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{
		"product": {Match: "/dp/:asin", Priority: 5, Activities: []string{"screenshot"}},
	})
	require.NoError(t, err)

	res := m.Match("https://www.amazon.com/dp/B08N5WRWNW")
	require.NotNil(t, res)
	require.Equal(t, "product", res.Pattern)
	require.Equal(t, "B08N5WRWNW", res.Params["asin"])
	require.Equal(t, 5, res.Priority)
	require.Equal(t, []string{"screenshot"}, res.Activities)
	require.False(t, res.IsDefault)
}

func TestMatchPrefersPriorityThenSpecificity(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{
		"generic":  {Match: "/shop/**", Priority: 1},
		"category": {Match: "/shop/:category", Priority: 1},
		"item":     {Match: "/shop/:category/:item", Priority: 1},
		"promoted": {Match: "/shop/sale/*", Priority: 9},
	})
	require.NoError(t, err)

	require.Equal(t, "promoted", m.Match("/shop/sale/shoes").Pattern)
	require.Equal(t, "item", m.Match("/shop/tools/hammer").Pattern)
	require.Equal(t, "category", m.Match("/shop/tools").Pattern)
	require.Equal(t, "generic", m.Match("/shop/a/b/c").Pattern)
}

func TestMatchToleratesTrailingSlashQueryAndCase(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{"post": {Match: "/Blog/:slug"}})
	require.NoError(t, err)

	for _, target := range []string{
		"/blog/hello",
		"/blog/hello/",
		"/BLOG/hello?utm=1",
		"https://example.com/blog/hello#top",
	} {
		res := m.Match(target)
		require.NotNil(t, res, target)
		require.Equal(t, "hello", res.Params["slug"], target)
	}
	require.Nil(t, m.Match("/blog/hello/comments"))
}

func TestLiteralMetacharactersAreEscaped(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{"feed": {Match: "/feed.xml"}})
	require.NoError(t, err)

	require.True(t, m.Matches("/feed.xml"))
	require.False(t, m.Matches("/feedXxml"))
}

func TestOptionalParam(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{"list": {Match: "/products/:page?"}})
	require.NoError(t, err)

	res := m.Match("/products/3")
	require.NotNil(t, res)
	require.Equal(t, "3", res.Params["page"])

	res = m.Match("/products")
	require.NotNil(t, res)
	_, bound := res.Params["page"]
	require.False(t, bound)
}

func TestQuerySubPattern(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{
		"search": {Match: "/search?q=:term&page=:page?"},
		"sorted": {Match: "/list?sort=price", Priority: 2},
	})
	require.NoError(t, err)

	res := m.Match("https://example.com/search?q=boots&page=2")
	require.NotNil(t, res)
	require.Equal(t, "search", res.Pattern)
	require.Equal(t, "boots", res.Params["term"])
	require.Equal(t, "2", res.Params["page"])

	require.True(t, m.Matches("/list?sort=price"))
	require.False(t, m.Matches("/list?sort=name"))
}

func TestExtractPullsQueryParams(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{
		"item": {Match: "/item/:id", Extract: map[string]string{"variant": "v"}},
	})
	require.NoError(t, err)

	res := m.Match("/item/42?v=red")
	require.Equal(t, map[string]string{"id": "42", "variant": "red"}, res.Params)
}

func TestRegexPatterns(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{
		"named":      {Regex: regexp.MustCompile(`^/u/(?P<user>[a-z]+)$`)},
		"positional": {RegexSource: `^/p/(\d+)/(\d+)$`, ParamNames: []string{"year", "id"}},
		"anonymous":  {RegexSource: `^/x/(\w+)$`},
	})
	require.NoError(t, err)

	require.Equal(t, "alice", m.Match("/u/alice").Params["user"])
	res := m.Match("/p/2024/7")
	require.Equal(t, map[string]string{"year": "2024", "id": "7"}, res.Params)
	require.Equal(t, "abc", m.Match("/x/abc").Params["param1"])
}

func TestInvalidConfigs(t *testing.T) {
	t.Parallel()

	cases := map[string]Config{
		"bad regex":   {RegexSource: `(`},
		"mismatch":    {RegexSource: `^/(a)/(b)$`, ParamNames: []string{"only"}},
		"empty match": {},
	}
	for name, cfg := range cases {
		_, err := New(map[string]Config{"p": cfg})
		if !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("%s: expected ErrInvalidPattern, got %v", name, err)
		}
	}

	_, err := New(map[string]Config{"p": {Match: "/a", Activities: []string{"teleport"}}},
		WithActivities("screenshot", "extract"))
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestDefaultPattern(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{
		"post":      {Match: "/post/:id"},
		DefaultName: {Activities: []string{"basic"}},
	})
	require.NoError(t, err)

	res := m.Match("/about")
	require.NotNil(t, res)
	require.True(t, res.IsDefault)
	require.Equal(t, DefaultName, res.Pattern)
	require.Equal(t, []string{"basic"}, res.Activities)
	require.False(t, m.Matches("/about"))
	require.True(t, m.Matches("/post/1"))
}

func TestAddAndRemovePatterns(t *testing.T) {
	t.Parallel()

	m, err := New(nil)
	require.NoError(t, err)
	require.Nil(t, m.Match("/a/1"))

	require.NoError(t, m.AddPattern("a", Config{Match: "/a/:id"}))
	require.NoError(t, m.AddPattern("b", Config{Match: "/b/:id"}))
	require.True(t, m.Matches("/a/1"))
	require.Equal(t, []string{"a", "b"}, m.Names())

	require.True(t, m.RemovePattern("a"))
	require.False(t, m.RemovePattern("a"))
	require.False(t, m.Matches("/a/1"))
	require.True(t, m.Matches("/b/1"))
}

func TestInvalidURLUsedAsRawPath(t *testing.T) {
	t.Parallel()

	m, err := New(map[string]Config{"pct": {Match: "/bad/:v"}})
	require.NoError(t, err)

	res := m.Match("/bad/%zz")
	require.NotNil(t, res)
	require.Equal(t, "%zz", res.Params["v"])
}
