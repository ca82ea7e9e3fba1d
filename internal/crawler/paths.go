package crawler

// DiscoveredPaths returns the distinct normalized paths of urls that live on
// domain, in discovery order.
func DiscoveredPaths(urls []string, domain string) []string {
	seen := make(map[string]struct{}, len(urls))
	paths := make([]string, 0, len(urls))
	for _, u := range urls {
		if Hostname(u) != domain {
			continue
		}
		p := NormalizePath(u)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

// MatchPathMetadata pairs each path with the page sharing its normalized path.
// Successful pages win over failed ones; the first match wins otherwise.
func MatchPathMetadata(paths []string, pages []PageRecord) []PathMetadata {
	byPath := make(map[string]PageRecord, len(pages))
	for _, page := range pages {
		existing, ok := byPath[page.Path]
		if !ok || (!existing.Success && page.Success) {
			byPath[page.Path] = page
		}
	}
	out := make([]PathMetadata, 0, len(paths))
	for _, p := range paths {
		meta := PathMetadata{Path: p, Keywords: []string{}}
		if page, ok := byPath[p]; ok {
			meta.URL = page.URL
			meta.Title = page.Title
			meta.Description = page.Description
			if len(page.Keywords) > 0 {
				meta.Keywords = page.Keywords
			}
		}
		out = append(out, meta)
	}
	return out
}
