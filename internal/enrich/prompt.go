package enrich

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxContentChars bounds the page text sent upstream per path.
const DefaultMaxContentChars = 4000

const systemPrompt = "You label website pages for search and AI-usage policies. " +
	"Answer with exactly six lines and nothing else."

// Job is one path waiting for enrichment.
type Job struct {
	Path    string
	URL     string
	Title   string
	Content string
}

// BuildPrompt renders the user message for job, truncating the page text to
// maxChars runes.
func BuildPrompt(job Job, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}
	content := strings.TrimSpace(job.Content)
	if utf8.RuneCountInString(content) > maxChars {
		content = string([]rune(content)[:maxChars])
	}
	if content == "" {
		content = "(no text content was extracted)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Path: %s\n", job.Path)
	if job.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", job.URL)
	}
	if job.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", job.Title)
	}
	b.WriteString("\nPage content:\n")
	b.WriteString(content)
	b.WriteString("\n\nRespond using exactly these labeled lines:\n")
	b.WriteString("SUMMARY: one or two sentences describing the page\n")
	b.WriteString("CONTEXT: who the page is for and when it is useful\n")
	b.WriteString("KEYWORDS: up to eight comma-separated keywords\n")
	b.WriteString("CONTENT_TYPE: one of page, article, blog, product, category, documentation, landing, about, contact, legal, pricing, faq\n")
	b.WriteString("PRIORITY: one of high, medium, low\n")
	b.WriteString("AI_USAGE: one of allow, restrict, disallow\n")
	return b.String()
}
