package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
)

// viewport describes one screenshot configuration
type viewport struct {
	name   string
	width  int64
	height int64
	scale  float64
}

// captureViewports are rendered for every page, in order
var captureViewports = []viewport{
	{name: "desktop", width: 1920, height: 1080, scale: 1.0},
	{name: "mobile", width: 390, height: 844, scale: 2.0},
}

// elementBoxJS collects bounding boxes for the structural elements the
// analysis phase scores layout against. Hidden elements are excluded.
const elementBoxJS = `
(() => {
	const selectors = "h1, h2, h3, nav, header, footer, main, form, button, a.cta, [role=button]";
	const boxes = [];
	for (const el of document.querySelectorAll(selectors)) {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		boxes.push({
			tag: el.tagName.toLowerCase(),
			text: (el.textContent || "").trim().slice(0, 120),
			x: Math.round(rect.x),
			y: Math.round(rect.y),
			width: Math.round(rect.width),
			height: Math.round(rect.height),
		});
	}
	return boxes;
})()`

// CaptureWorker renders a page in headless Chrome and produces the capture
// bundle for analysis: markdown content, per-viewport screenshots, and
// element layout boxes.
type CaptureWorker struct {
	config      common.CaptureConfig
	capturesDir string
	userAgent   string
	jsWait      time.Duration
	logger      arbor.ILogger
}

// NewCaptureWorker creates a capture worker writing under capturesDir
func NewCaptureWorker(config common.CaptureConfig, crawler common.CrawlerConfig, capturesDir string, logger arbor.ILogger) *CaptureWorker {
	return &CaptureWorker{
		config:      config,
		capturesDir: capturesDir,
		userAgent:   crawler.UserAgent,
		jsWait:      common.ParseDurationOr(config.JavaScriptWaitTime, 2*time.Second),
		logger:      logger,
	}
}

// Handler adapts the worker to the pool's handler contract
func (w *CaptureWorker) Handler() interfaces.JobHandler {
	return func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
		return w.Capture(ctx, payload)
	}
}

// Capture renders one page and returns its CaptureResult
func (w *CaptureWorker) Capture(ctx context.Context, payload models.JobPayload) (*models.CaptureResult, error) {
	if payload.Page == nil {
		return nil, fmt.Errorf("capture payload missing page")
	}
	page := *payload.Page
	pageURL := page.URL()

	outDir := filepath.Join(w.capturesDir, payload.ProjectID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	browserCtx, cancel := w.newBrowserContext(ctx)
	defer cancel()

	var html, title string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(w.jsWait),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", pageURL, err)
	}

	var elements []models.ElementBox
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(elementBoxJS, &elements)); err != nil {
		w.logger.Warn().
			Err(err).
			Str("url", pageURL).
			Msg("Element box extraction failed")
	}

	screenshots := make(map[string]string)
	if w.config.Screenshots {
		shots, err := w.takeScreenshots(browserCtx, outDir, page)
		if err != nil {
			return nil, err
		}
		screenshots = shots
	}

	markdown, err := w.toMarkdown(pageURL, html)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to markdown: %w", pageURL, err)
	}

	if title == "" {
		title = page.Title
	}

	w.logger.Info().
		Str("url", pageURL).
		Int("markdown_bytes", len(markdown)).
		Int("screenshots", len(screenshots)).
		Int("elements", len(elements)).
		Msg("Page capture completed")

	return &models.CaptureResult{
		Site:        page.Site,
		Page:        page,
		Title:       title,
		Markdown:    markdown,
		Screenshots: screenshots,
		Elements:    elements,
	}, nil
}

func (w *CaptureWorker) newBrowserContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", w.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if w.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(w.userAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	cancel := func() {
		browserCancel()
		allocatorCancel()
	}
	return browserCtx, cancel
}

// takeScreenshots renders each viewport as a full-page PNG and returns a
// map of viewport name to file path
func (w *CaptureWorker) takeScreenshots(browserCtx context.Context, outDir string, page models.Page) (map[string]string, error) {
	screenshots := make(map[string]string)

	for _, vp := range captureViewports {
		var buf []byte
		err := chromedp.Run(browserCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return emulation.SetDeviceMetricsOverride(vp.width, vp.height, vp.scale, vp.name == "mobile").Do(ctx)
			}),
			chromedp.Sleep(250*time.Millisecond),
			chromedp.FullScreenshot(&buf, 90),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to screenshot %s viewport for %s: %w", vp.name, page.URL(), err)
		}

		filename := fmt.Sprintf("%s_%s_%s.png", models.SiteSlug(page.Site), page.Slug, vp.name)
		path := filepath.Join(outDir, filename)
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return nil, fmt.Errorf("failed to write screenshot %s: %w", path, err)
		}
		screenshots[vp.name] = path
	}

	return screenshots, nil
}

func (w *CaptureWorker) toMarkdown(pageURL, html string) (string, error) {
	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(markdown), nil
}
