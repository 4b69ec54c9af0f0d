package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/sitelens/internal/common"
	"github.com/ternarybob/sitelens/internal/models"
)

func testCrawlerConfig(maxDepth, maxPages int) common.CrawlerConfig {
	return common.CrawlerConfig{
		UserAgent:      "sitelens-test",
		RequestTimeout: "5s",
		RequestDelay:   "1ms",
		MaxDepth:       maxDepth,
		MaxPages:       maxPages,
	}
}

func newStubSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><head><title>Home</title></head><body>
			<a href="/about">About</a>
			<a href="/contact">Contact</a>
			<a href="/about">About again</a>
			<a href="https://elsewhere.example.com/external">External</a>
			<a href="mailto:hi@example.com">Mail</a>
			<a href="#section">Fragment</a>
		</body></html>`))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>About Us</title></head><body>
			<a href="/team">Team</a>
		</body></html>`))
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Contact</title></head><body></body></html>`))
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Team</title></head><body></body></html>`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDiscoverWorker_CrawlsSameHostToDepth(t *testing.T) {
	server := newStubSite(t)
	worker := NewDiscoverWorker(testCrawlerConfig(1, 10), common.GetLogger())

	result, err := worker.Discover(context.Background(), models.JobPayload{
		ProjectID: "proj_crawl",
		Site:      server.URL,
	})
	require.NoError(t, err)
	require.Equal(t, server.URL, result.Site)

	byPath := make(map[string]models.Page)
	for _, page := range result.Pages {
		byPath[page.Path] = page
	}

	// Depth 1 reaches the root's links but not /team
	require.Len(t, result.Pages, 3)
	assert.Contains(t, byPath, "/")
	assert.Contains(t, byPath, "/about")
	assert.Contains(t, byPath, "/contact")
	assert.NotContains(t, byPath, "/team")

	root := byPath["/"]
	assert.Equal(t, "home", root.Slug)
	assert.Equal(t, "Home", root.Title)
	assert.Equal(t, 0, root.Depth)
	assert.Empty(t, root.Parent)

	about := byPath["/about"]
	assert.Equal(t, "about", about.Slug)
	assert.Equal(t, "About Us", about.Title)
	assert.Equal(t, 1, about.Depth)
	assert.Equal(t, "home", about.Parent)
}

func TestDiscoverWorker_DeeperCrawlReachesGrandchildren(t *testing.T) {
	server := newStubSite(t)
	worker := NewDiscoverWorker(testCrawlerConfig(2, 10), common.GetLogger())

	result, err := worker.Discover(context.Background(), models.JobPayload{Site: server.URL})
	require.NoError(t, err)

	paths := make(map[string]bool)
	for _, page := range result.Pages {
		paths[page.Path] = true
	}
	assert.True(t, paths["/team"], "depth 2 should reach /team")
	require.Len(t, result.Pages, 4)
}

func TestDiscoverWorker_MaxPagesCapsCrawl(t *testing.T) {
	server := newStubSite(t)
	worker := NewDiscoverWorker(testCrawlerConfig(3, 10), common.GetLogger())

	result, err := worker.Discover(context.Background(), models.JobPayload{
		Site:   server.URL,
		Config: models.ProjectConfig{MaxPages: 2, MaxDepth: 3},
	})
	require.NoError(t, err)
	assert.Len(t, result.Pages, 2)
}

func TestDiscoverWorker_ProjectConfigOverridesDefaults(t *testing.T) {
	server := newStubSite(t)
	worker := NewDiscoverWorker(testCrawlerConfig(3, 10), common.GetLogger())

	// Project-level depth 0 limits the crawl to the root page
	result, err := worker.Discover(context.Background(), models.JobPayload{
		Site:   server.URL,
		Config: models.ProjectConfig{MaxDepth: -1, MaxPages: 10},
	})
	require.NoError(t, err)
	// Negative values fall back to the crawler defaults
	assert.Greater(t, len(result.Pages), 1)
}

func TestDiscoverWorker_DeadRootFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	worker := NewDiscoverWorker(testCrawlerConfig(1, 10), common.GetLogger())
	_, err := worker.Discover(context.Background(), models.JobPayload{Site: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site root")
}

func TestDiscoverWorker_UnreachableInteriorPageSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Home</title></head><body>
			<a href="/broken">Broken</a>
			<a href="/ok">OK</a>
		</body></html>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>OK</title></head><body></body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	worker := NewDiscoverWorker(testCrawlerConfig(1, 10), common.GetLogger())
	result, err := worker.Discover(context.Background(), models.JobPayload{Site: server.URL})
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	for _, page := range result.Pages {
		assert.NotEqual(t, "/broken", page.Path)
	}
}

func TestDiscoverWorker_InvalidSiteURL(t *testing.T) {
	worker := NewDiscoverWorker(testCrawlerConfig(1, 10), common.GetLogger())

	_, err := worker.Discover(context.Background(), models.JobPayload{Site: "://not-a-url"})
	require.Error(t, err)
}

func TestShouldSkipLink(t *testing.T) {
	skipped := []string{"", "javascript:void(0)", "mailto:a@b.com", "tel:+1234", "#anchor", "data:text/plain,hi", "  MAILTO:x@y.com"}
	for _, href := range skipped {
		if !shouldSkipLink(href) {
			t.Errorf("expected %q to be skipped", href)
		}
	}

	kept := []string{"/about", "https://example.com/x", "relative/path", "?page=2"}
	for _, href := range kept {
		if shouldSkipLink(href) {
			t.Errorf("expected %q to be kept", href)
		}
	}
}
