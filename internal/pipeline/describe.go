package pipeline

import "strings"

var segmentFamilies = map[string]string{
	"blog":          "Blog and article content",
	"news":          "Blog and article content",
	"articles":      "Blog and article content",
	"posts":         "Blog and article content",
	"docs":          "Documentation and guides",
	"documentation": "Documentation and guides",
	"guides":        "Documentation and guides",
	"help":          "Documentation and guides",
	"products":      "Product and catalog pages",
	"shop":          "Product and catalog pages",
	"store":         "Product and catalog pages",
	"collections":   "Product and catalog pages",
	"pricing":       "Pricing information",
	"plans":         "Pricing information",
	"about":         "About the organization",
	"team":          "About the organization",
	"company":       "About the organization",
	"contact":       "Contact and support",
	"support":       "Contact and support",
	"legal":         "Legal and policy pages",
	"privacy":       "Legal and policy pages",
	"terms":         "Legal and policy pages",
	"api":           "API reference",
}

// DescribePath labels a normalized path by its shape.
func DescribePath(path string) string {
	rest, _, parameterized := strings.Cut(path, "?")
	rest, _, _ = strings.Cut(rest, "#")
	suffix := ""
	if parameterized {
		suffix = " (parameterized)"
	}
	trimmed := strings.Trim(rest, "/")
	if trimmed == "" {
		return "Homepage" + suffix
	}
	segment, _, _ := strings.Cut(trimmed, "/")
	if family, ok := segmentFamilies[strings.ToLower(segment)]; ok {
		return family + suffix
	}
	return "Pages under /" + segment + suffix
}
