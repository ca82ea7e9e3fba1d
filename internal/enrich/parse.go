package enrich

import (
	"strings"
	"time"
)

// Defaults applied when a field is missing or outside its enumeration.
const (
	DefaultSummary     = "Summary unavailable"
	DefaultContext     = "Context unavailable"
	DefaultContentType = "page"
	DefaultPriority    = "medium"
	DefaultUsage       = "allow"
)

var (
	contentTypes = enumSet("page", "article", "blog", "product", "category", "documentation",
		"landing", "about", "contact", "legal", "pricing", "faq")
	priorities = enumSet("high", "medium", "low")
	usages     = enumSet("allow", "restrict", "disallow")
)

func enumSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// Label identifies which field a response line carries.
type Label int

// Response line labels.
const (
	LabelUnrecognized Label = iota
	LabelSummary
	LabelContext
	LabelKeywords
	LabelContentType
	LabelPriority
	LabelUsage
)

var labelNames = map[string]Label{
	"SUMMARY":      LabelSummary,
	"CONTEXT":      LabelContext,
	"KEYWORDS":     LabelKeywords,
	"CONTENT_TYPE": LabelContentType,
	"PRIORITY":     LabelPriority,
	"AI_USAGE":     LabelUsage,
}

// Record is the enrichment outcome for one path.
type Record struct {
	Path             string    `json:"path"`
	Summary          string    `json:"summary"`
	Context          string    `json:"context"`
	Keywords         []string  `json:"keywords"`
	ContentType      string    `json:"contentType"`
	Priority         string    `json:"priority"`
	AIUsageDirective string    `json:"aiUsageDirective"`
	GeneratedAt      time.Time `json:"generatedAt"`
	Model            string    `json:"model"`
}

// Fields holds the raw values found in a completion. Empty means absent.
type Fields struct {
	Summary      string
	Context      string
	Keywords     []string
	ContentType  string
	Priority     string
	Usage        string
	Unrecognized []string
}

// ClassifyLine splits a response line into its label and value. Labels are
// case-insensitive and may be wrapped in list markers or markdown bold.
func ClassifyLine(line string) (Label, string) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "-*•#> \t0123456789.)")
	trimmed = strings.TrimSpace(trimmed)
	name, value, ok := strings.Cut(trimmed, ":")
	if !ok {
		return LabelUnrecognized, trimmed
	}
	name = strings.Trim(strings.TrimSpace(name), "*_` ")
	name = strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(name))
	label, known := labelNames[name]
	if !known {
		return LabelUnrecognized, trimmed
	}
	return label, cleanValue(value)
}

func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "*`")
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '[' && v[len(v)-1] == ']') {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

// Parse classifies every line of text. The first occurrence of a label wins;
// empty values count as absent.
func Parse(text string) Fields {
	var f Fields
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		label, value := ClassifyLine(line)
		switch label {
		case LabelSummary:
			setOnce(&f.Summary, value)
		case LabelContext:
			setOnce(&f.Context, value)
		case LabelKeywords:
			if f.Keywords == nil {
				f.Keywords = splitKeywords(value)
			}
		case LabelContentType:
			setOnce(&f.ContentType, value)
		case LabelPriority:
			setOnce(&f.Priority, value)
		case LabelUsage:
			setOnce(&f.Usage, value)
		default:
			f.Unrecognized = append(f.Unrecognized, value)
		}
	}
	return f
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func splitKeywords(raw string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, kw := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		kw = strings.Trim(strings.TrimSpace(kw), `"'`)
		key := strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// Record applies the default table and enumeration coercion.
func (f Fields) Record(path, model string, now time.Time) Record {
	rec := Record{
		Path:             path,
		Summary:          orDefault(f.Summary, DefaultSummary),
		Context:          orDefault(f.Context, DefaultContext),
		Keywords:         []string{},
		ContentType:      coerce(f.ContentType, contentTypes, DefaultContentType),
		Priority:         coerce(f.Priority, priorities, DefaultPriority),
		AIUsageDirective: coerce(f.Usage, usages, DefaultUsage),
		GeneratedAt:      now,
		Model:            model,
	}
	if len(f.Keywords) > 0 {
		rec.Keywords = append(rec.Keywords, f.Keywords...)
	}
	return rec
}

// DefaultRecord is the record used when a path could not be enriched.
func DefaultRecord(path, model string, now time.Time) Record {
	return Fields{}.Record(path, model, now)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func coerce(v string, allowed map[string]struct{}, def string) string {
	v = strings.ToLower(strings.TrimSpace(strings.Trim(v, ".")))
	if _, ok := allowed[v]; ok {
		return v
	}
	return def
}
