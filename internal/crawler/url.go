package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL reports a base URL that cannot be crawled.
var ErrInvalidURL = errors.New("invalid url")

// EnsureScheme prefixes https:// when raw carries no scheme.
func EnsureScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return "https://" + raw
}

// ParseBaseURL normalizes raw into an absolute http(s) URL with a lower-cased host.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(EnsureScheme(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Hostname returns the lower-cased hostname of raw, or "" when unparseable.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NormalizePath maps a URL (absolute or path-only) to the path key used for
// deduplicating pages. Trailing slashes are stripped except for the root, and
// the query and fragment are kept. Unparseable input maps to "/".
func NormalizePath(raw string) string {
	if strings.HasPrefix(raw, "/") {
		// Path-only input: anchor it so "//x" is not read as a host.
		raw = "http://path.invalid" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		p += "#" + u.EscapedFragment()
	}
	return p
}

// resolveLink resolves href against base and returns the canonical crawl key
// (host lower-cased, fragment removed). ok is false for non-http(s) targets.
func resolveLink(base *url.URL, href string) (string, *url.URL, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", nil, false
	}
	abs.Host = strings.ToLower(abs.Host)
	abs.Fragment = ""
	abs.RawFragment = ""
	if abs.Path == "" {
		abs.Path = "/"
	}
	return abs.String(), abs, true
}

func sameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}
