package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureScheme(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com", EnsureScheme("example.com"))
	require.Equal(t, "http://example.com", EnsureScheme("http://example.com"))
	require.Equal(t, "HTTPS://example.com", EnsureScheme("HTTPS://example.com"))
	require.Equal(t, "https://example.com/x", EnsureScheme("//example.com/x"))
	require.Equal(t, "", EnsureScheme("  "))
}

func TestParseBaseURL(t *testing.T) {
	t.Parallel()

	u, err := ParseBaseURL("Example.com#top")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", u.String())
	require.Equal(t, "example.com", Hostname(u.String()))

	for _, raw := range []string{"", "ftp://example.com", "https://", "http://%zz"} {
		_, err := ParseBaseURL(raw)
		require.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{"https://example.com", "/"},
		{"https://example.com/", "/"},
		{"https://example.com/about/", "/about"},
		{"https://example.com/a/b//", "/a/b"},
		{"https://example.com/search?q=go", "/search?q=go"},
		{"https://example.com/docs/#intro", "/docs#intro"},
		{"/pricing/", "/pricing"},
		{"//double", "//double"},
		{"http://%zz", "/"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, NormalizePath(tc.in), tc.in)
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://example.com/a/b/",
		"https://example.com/?x=1#frag",
		"https://example.com/caf%C3%A9/",
		"https://example.com//x//",
		"/plain",
		"",
	}
	for _, in := range inputs {
		once := NormalizePath(in)
		require.Equal(t, once, NormalizePath(once), in)
	}
}

func FuzzNormalizePathIdempotent(f *testing.F) {
	for _, seed := range []string{"https://example.com/a/", "/x?y#z", "//", "%"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		once := NormalizePath(raw)
		if twice := NormalizePath(once); twice != once {
			t.Fatalf("NormalizePath not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	})
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/docs/")
	require.NoError(t, err)

	key, abs, ok := resolveLink(base, "intro#part")
	require.True(t, ok)
	require.Equal(t, "https://example.com/docs/intro", key)
	require.True(t, sameHost(abs, base))

	_, _, ok = resolveLink(base, "mailto:a@b.c")
	require.False(t, ok)

	key, _, ok = resolveLink(base, "https://example.com")
	require.True(t, ok)
	require.Equal(t, "https://example.com/", key)
}
