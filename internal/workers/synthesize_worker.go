package workers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
	"github.com/ternarybob/sitelens/internal/services/llm"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const synthesizeSystemPrompt = `You are a website content strategist. You are given per-page quality scores
for a primary website and its competitors. Write a short executive summary (3 to 5 sentences) comparing the
sites and naming the most impactful improvements for the primary site. Respond with plain prose only.`

const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Site Comparison Report</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #1a202c; }
table { border-collapse: collapse; width: 100%%; margin: 1rem 0; }
th, td { border: 1px solid #cbd5e0; padding: 0.4rem 0.6rem; text-align: left; }
th { background: #edf2f7; }
h1, h2 { border-bottom: 1px solid #e2e8f0; padding-bottom: 0.3rem; }
</style>
</head>
<body>
%s
</body>
</html>
`

// siteSummary aggregates page reports for one site
type siteSummary struct {
	site    string
	reports []*models.PageReport
	average models.ContentScores
}

// SynthesizeWorker aggregates the project's page reports into a comparison
// report, written as markdown and rendered HTML under the project's capture
// directory. It works with whatever analyses completed; an empty set still
// produces a report saying so.
type SynthesizeWorker struct {
	capturesDir string
	provider    llm.Provider
	logger      arbor.ILogger
}

// NewSynthesizeWorker creates a synthesize worker. Provider may be nil.
func NewSynthesizeWorker(capturesDir string, provider llm.Provider, logger arbor.ILogger) *SynthesizeWorker {
	return &SynthesizeWorker{
		capturesDir: capturesDir,
		provider:    provider,
		logger:      logger,
	}
}

// Handler adapts the worker to the pool's handler contract
func (w *SynthesizeWorker) Handler() interfaces.JobHandler {
	return func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
		return w.Synthesize(ctx, payload)
	}
}

// Synthesize writes the project report and returns its SynthesisReport
func (w *SynthesizeWorker) Synthesize(ctx context.Context, payload models.JobPayload) (*models.SynthesisReport, error) {
	outDir := filepath.Join(w.capturesDir, payload.ProjectID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	summaries := groupBySite(payload.Sites, payload.Analyses)
	markdown := w.buildMarkdown(ctx, payload, summaries)

	mdPath := filepath.Join(outDir, "report.md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0644); err != nil {
		return nil, fmt.Errorf("failed to write markdown report: %w", err)
	}

	htmlPath := filepath.Join(outDir, "report.html")
	rendered, err := renderHTML(markdown)
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML report: %w", err)
	}
	if err := os.WriteFile(htmlPath, rendered, 0644); err != nil {
		return nil, fmt.Errorf("failed to write HTML report: %w", err)
	}

	w.logger.Info().
		Str("project_id", payload.ProjectID).
		Int("pages_covered", len(payload.Analyses)).
		Str("report", mdPath).
		Msg("Synthesis report written")

	return &models.SynthesisReport{
		ProjectID:    payload.ProjectID,
		Sites:        payload.Sites,
		PagesCovered: len(payload.Analyses),
		MarkdownPath: mdPath,
		HTMLPath:     htmlPath,
	}, nil
}

func (w *SynthesizeWorker) buildMarkdown(ctx context.Context, payload models.JobPayload, summaries []*siteSummary) string {
	var b strings.Builder

	b.WriteString("# Site Comparison Report\n\n")
	fmt.Fprintf(&b, "Project `%s`. %d sites, %d pages analyzed.\n\n",
		payload.ProjectID, len(payload.Sites), len(payload.Analyses))

	if len(payload.Analyses) == 0 {
		b.WriteString("No pages completed analysis; no scores are available for this run.\n")
		return b.String()
	}

	if summary := w.executiveSummary(ctx, summaries); summary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	b.WriteString("## Site Rankings\n\n")
	b.WriteString("| Rank | Site | Pages | Clarity | Structure | Readability | CTA | Overall |\n")
	b.WriteString("|------|------|-------|---------|-----------|-------------|-----|--------|\n")
	for i, s := range summaries {
		fmt.Fprintf(&b, "| %d | %s | %d | %.0f | %.0f | %.0f | %.0f | **%.0f** |\n",
			i+1, s.site, len(s.reports),
			s.average.Clarity, s.average.Structure, s.average.Readability,
			s.average.CallToAction, s.average.Overall)
	}
	b.WriteString("\n")

	for _, s := range summaries {
		fmt.Fprintf(&b, "## %s\n\n", s.site)
		b.WriteString("| Page | Words | Clarity | Structure | Readability | CTA | Overall |\n")
		b.WriteString("|------|-------|---------|-----------|-------------|-----|--------|\n")
		for _, r := range s.reports {
			fmt.Fprintf(&b, "| [%s](%s) | %d | %.0f | %.0f | %.0f | %.0f | %.0f |\n",
				r.Page.Path, r.Page.URL(), r.WordCount,
				r.Scores.Clarity, r.Scores.Structure, r.Scores.Readability,
				r.Scores.CallToAction, r.Scores.Overall)
		}
		b.WriteString("\n")
		for _, r := range s.reports {
			if r.Summary != "" {
				fmt.Fprintf(&b, "- **%s**: %s\n", r.Page.Path, r.Summary)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// executiveSummary asks the provider for a comparison narrative. Failures
// are logged and the report goes out without the section.
func (w *SynthesizeWorker) executiveSummary(ctx context.Context, summaries []*siteSummary) string {
	if w.provider == nil {
		return ""
	}

	var prompt strings.Builder
	prompt.WriteString("Average scores per site (0-100):\n")
	for _, s := range summaries {
		fmt.Fprintf(&prompt, "- %s: clarity %.0f, structure %.0f, readability %.0f, call-to-action %.0f, overall %.0f (%d pages)\n",
			s.site, s.average.Clarity, s.average.Structure, s.average.Readability,
			s.average.CallToAction, s.average.Overall, len(s.reports))
	}

	resp, err := w.provider.GenerateContent(ctx, &llm.ContentRequest{
		System: synthesizeSystemPrompt,
		Prompt: prompt.String(),
	})
	if err != nil {
		w.logger.Warn().
			Err(err).
			Msg("Executive summary generation failed, report continues without it")
		return ""
	}
	return strings.TrimSpace(resp.Text)
}

// groupBySite partitions reports by site, preserving the project's site
// order and ranking by overall average. Sites with no completed analyses
// still appear, with zero scores.
func groupBySite(sites []string, analyses []*models.PageReport) []*siteSummary {
	bySite := make(map[string]*siteSummary)
	var summaries []*siteSummary

	for _, site := range sites {
		s := &siteSummary{site: site}
		bySite[site] = s
		summaries = append(summaries, s)
	}

	for _, report := range analyses {
		s, ok := bySite[report.Site]
		if !ok {
			s = &siteSummary{site: report.Site}
			bySite[report.Site] = s
			summaries = append(summaries, s)
		}
		s.reports = append(s.reports, report)
	}

	for _, s := range summaries {
		s.average = averageScores(s.reports)
		sort.SliceStable(s.reports, func(i, j int) bool {
			return s.reports[i].Page.Path < s.reports[j].Page.Path
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].average.Overall > summaries[j].average.Overall
	})

	return summaries
}

func averageScores(reports []*models.PageReport) models.ContentScores {
	if len(reports) == 0 {
		return models.ContentScores{}
	}

	var avg models.ContentScores
	for _, r := range reports {
		avg.Clarity += r.Scores.Clarity
		avg.Structure += r.Scores.Structure
		avg.Readability += r.Scores.Readability
		avg.CallToAction += r.Scores.CallToAction
		avg.Overall += r.Scores.Overall
	}

	n := float64(len(reports))
	avg.Clarity /= n
	avg.Structure /= n
	avg.Readability /= n
	avg.CallToAction /= n
	avg.Overall /= n
	return avg
}

func renderHTML(markdown string) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithXHTML()),
	)

	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf(htmlReportTemplate, body.String())), nil
}
