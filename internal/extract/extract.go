// Package extract turns fetched HTML into page metadata, outbound links, and a
// bounded plain-text body using goquery.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

const (
	// DefaultMaxContentChars bounds the plain-text body kept per page.
	DefaultMaxContentChars = 30000
	// DefaultDescriptionChars bounds the paragraph fallback for descriptions.
	DefaultDescriptionChars = 160
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\r\p{Zs}]+`)
	blankLineRun    = regexp.MustCompile(`\n\s*\n+`)
)

// Config controls truncation limits.
type Config struct {
	MaxContentChars  int
	DescriptionChars int
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	cfg Config
}

var _ crawler.Extractor = (*Extractor)(nil)

// New returns an Extractor, filling zero limits with defaults.
func New(cfg Config) *Extractor {
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if cfg.DescriptionChars <= 0 {
		cfg.DescriptionChars = DefaultDescriptionChars
	}
	return &Extractor{cfg: cfg}
}

// Extract parses body. Relative links are resolved against pageURL.
func (e *Extractor) Extract(body []byte, pageURL *url.URL) (crawler.Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extracted{}, fmt.Errorf("parse html: %w", err)
	}
	out := crawler.Extracted{
		Title:       title(doc),
		Description: e.description(doc),
		Keywords:    keywords(doc),
		Links:       links(doc, pageURL),
	}
	out.Content = e.content(doc)
	return out, nil
}

func title(doc *goquery.Document) string {
	if t := clean(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := clean(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return metaContent(doc, `meta[property="og:title"]`)
}

func (e *Extractor) description(doc *goquery.Document) string {
	if d := metaContent(doc, `meta[name="description"]`); d != "" {
		return d
	}
	if d := metaContent(doc, `meta[property="og:description"]`); d != "" {
		return d
	}
	if p := clean(doc.Find("p").First().Text()); p != "" {
		return truncate(p, e.cfg.DescriptionChars)
	}
	return ""
}

func keywords(doc *goquery.Document) []string {
	raw := metaContent(doc, `meta[name="keywords"]`)
	out := []string{}
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func links(doc *goquery.Document, pageURL *url.URL) []string {
	seen := map[string]struct{}{}
	out := []string{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := ref
		if pageURL != nil {
			abs = pageURL.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		abs.RawFragment = ""
		key := abs.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	})
	return out
}

func (e *Extractor) content(doc *goquery.Document) string {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find("script, style, noscript, iframe, svg").Remove()
	return truncate(collapse(textWithBreaks(root)), e.cfg.MaxContentChars)
}

// textWithBreaks renders text, inserting newlines at block boundaries so the
// blank-line collapsing has structure to work with.
func textWithBreaks(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				b.WriteString(c.Text())
				return
			}
			block := isBlock(goquery.NodeName(c))
			if block {
				b.WriteString("\n")
			}
			walk(c)
			if block {
				b.WriteString("\n")
			}
		})
	}
	walk(sel)
	return b.String()
}

func isBlock(name string) bool {
	switch name {
	case "p", "div", "section", "article", "header", "footer", "main", "nav", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "ol", "table", "tr",
		"br", "hr", "blockquote", "pre", "form", "dd", "dt", "dl":
		return true
	}
	return false
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return clean(v)
}

func clean(s string) string {
	return strings.TrimSpace(horizontalSpace.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
