package models

import "testing"

func TestSlugFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "home"},
		{"", "home"},
		{"/about", "about"},
		{"/about/", "about"},
		{"/docs/getting-started", "docs-getting-started"},
		{"/a/b/c", "a-b-c"},
	}

	for _, tt := range tests {
		if got := SlugFromPath(tt.path); got != tt.want {
			t.Errorf("SlugFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSiteSlug(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com", "example"},
		{"https://www.example.com", "example"},
		{"https://blog.example.co.uk", "blog"},
		{"http://localhost:8080", "localhost"},
		{"not a url at all %%", "site"},
		{"", "site"},
	}

	for _, tt := range tests {
		if got := SiteSlug(tt.url); got != tt.want {
			t.Errorf("SiteSlug(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		site string
		path string
		want string
	}{
		{"https://example.com", "/about", "https://example.com/about"},
		{"https://example.com/", "/about", "https://example.com/about"},
		{"https://example.com", "/", "https://example.com/"},
	}

	for _, tt := range tests {
		page := Page{Site: tt.site, Path: tt.path}
		if got := page.URL(); got != tt.want {
			t.Errorf("Page{Site: %q, Path: %q}.URL() = %q, want %q", tt.site, tt.path, got, tt.want)
		}
	}
}
