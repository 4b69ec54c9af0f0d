package workers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
	"golang.org/x/time/rate"
)

// DiscoverWorker walks a site breadth-first from its root and produces the
// page set for the scanning phase. Only same-host links count; depth and
// page limits come from the project config with crawler config defaults.
type DiscoverWorker struct {
	client       *http.Client
	config       common.CrawlerConfig
	logger       arbor.ILogger
	requestDelay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDiscoverWorker creates a discover worker from crawler configuration
func NewDiscoverWorker(config common.CrawlerConfig, logger arbor.ILogger) *DiscoverWorker {
	return &DiscoverWorker{
		client: &http.Client{
			Timeout: common.ParseDurationOr(config.RequestTimeout, 30*time.Second),
		},
		config:       config,
		logger:       logger,
		requestDelay: common.ParseDurationOr(config.RequestDelay, 500*time.Millisecond),
		limiters:     make(map[string]*rate.Limiter),
	}
}

// Handler adapts the worker to the pool's handler contract
func (w *DiscoverWorker) Handler() interfaces.JobHandler {
	return func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
		return w.Discover(ctx, payload)
	}
}

type crawlTarget struct {
	path   string
	parent string
	depth  int
}

// Discover runs the BFS for one site and returns its DiscoverResult
func (w *DiscoverWorker) Discover(ctx context.Context, payload models.JobPayload) (*models.DiscoverResult, error) {
	site := strings.TrimRight(payload.Site, "/")
	base, err := url.Parse(site)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site url: %q", payload.Site)
	}

	maxDepth := payload.Config.MaxDepth
	if maxDepth <= 0 {
		maxDepth = w.config.MaxDepth
	}
	maxPages := payload.Config.MaxPages
	if maxPages <= 0 {
		maxPages = w.config.MaxPages
	}

	visited := map[string]bool{"/": true}
	queue := []crawlTarget{{path: "/", depth: 0}}
	var pages []models.Page

	for len(queue) > 0 && len(pages) < maxPages {
		target := queue[0]
		queue = queue[1:]

		if err := w.limiter(base.Host).Wait(ctx); err != nil {
			return nil, err
		}

		doc, err := w.fetch(ctx, site+target.path)
		if err != nil {
			// A dead root means nothing is reachable; interior pages are skipped
			if target.path == "/" {
				return nil, fmt.Errorf("failed to fetch site root %s: %w", site, err)
			}
			w.logger.Warn().
				Err(err).
				Str("site", site).
				Str("path", target.path).
				Msg("Skipping unreachable page")
			continue
		}

		pages = append(pages, models.Page{
			Slug:   models.SlugFromPath(target.path),
			Title:  pageTitle(doc),
			Path:   target.path,
			Parent: target.parent,
			Depth:  target.depth,
			Site:   site,
		})

		if target.depth >= maxDepth {
			continue
		}

		for _, path := range w.extractPaths(doc, base) {
			if visited[path] {
				continue
			}
			visited[path] = true
			queue = append(queue, crawlTarget{
				path:   path,
				parent: models.SlugFromPath(target.path),
				depth:  target.depth + 1,
			})
		}
	}

	w.logger.Info().
		Str("site", site).
		Int("pages_found", len(pages)).
		Msg("Site discovery completed")

	return &models.DiscoverResult{Site: site, Pages: pages}, nil
}

func (w *DiscoverWorker) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", w.config.UserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("non-HTML content type %q for %s", contentType, pageURL)
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

// extractPaths discovers same-host link paths from anchor tags
func (w *DiscoverWorker) extractPaths(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var paths []string

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || shouldSkipLink(href) {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil || resolved.Hostname() != base.Hostname() {
			return
		}

		path := resolved.EscapedPath()
		if path == "" {
			path = "/"
		}
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	})

	return paths
}

// shouldSkipLink filters scheme-based and fragment-only links
func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" {
		return true
	}
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "#", "data:"} {
		if strings.HasPrefix(href, prefix) {
			return true
		}
	}
	return false
}

func pageTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func (w *DiscoverWorker) limiter(host string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()

	limiter, ok := w.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(w.requestDelay), 1)
		w.limiters[host] = limiter
	}
	return limiter
}
