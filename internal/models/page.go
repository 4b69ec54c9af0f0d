package models

import (
	"net/url"
	"strings"
)

// Page describes one discovered page of a site. The slug doubles as the
// filename-safe identifier for capture artifacts.
type Page struct {
	Slug   string `json:"slug"`
	Title  string `json:"title"`
	Path   string `json:"path"`
	Parent string `json:"parent,omitempty"` // slug of the page this one was discovered from
	Depth  int    `json:"depth"`            // link distance from the site root
	Site   string `json:"site"`             // base URL of the owning site
}

// SlugFromPath converts a URL path to a filename-safe slug.
// "/" and "" map to "home"; other paths drop the surrounding slashes and
// replace the remaining ones with dashes.
func SlugFromPath(path string) string {
	if path == "" || path == "/" {
		return "home"
	}
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", "-")
}

// SiteSlug derives a short site identifier from the first hostname label,
// e.g. "https://example.com" -> "example".
func SiteSlug(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "site"
	}
	host := parsed.Hostname()
	host = strings.TrimPrefix(host, "www.")
	if i := strings.Index(host, "."); i > 0 {
		return host[:i]
	}
	return host
}

// URL resolves the page's absolute URL from its site base URL
func (p Page) URL() string {
	return strings.TrimRight(p.Site, "/") + p.Path
}
