// Package crawler walks one site breadth first. SitePageFetcher turns a URL
// into a PageRecord (rate limit, fetch, extract) and Engine drives the
// frontier, the page cap, and the depth limit, reporting each visit to an
// Observer.
package crawler
