package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
	"github.com/ternarybob/sitelens/internal/services/llm"
)

const analyzeSystemPrompt = `You are a website content quality reviewer. Score the page content you are given.
Respond with a single JSON object and nothing else, using this exact shape:
{"clarity": 0-100, "structure": 0-100, "readability": 0-100, "call_to_action": 0-100, "summary": "one to two sentences"}`

// maxContentChars caps how much page markdown is sent to the provider
const maxContentChars = 8000

// ctaKeywords drive the heuristic call-to-action score
var ctaKeywords = []string{
	"contact", "sign up", "signup", "subscribe", "get started",
	"buy", "order", "book", "learn more", "try", "download", "demo",
}

// AnalyzeWorker scores captured page content. With a provider configured it
// asks the model for scores; without one, or when the model returns
// unusable output, it falls back to deterministic heuristics so the
// pipeline always produces a report.
type AnalyzeWorker struct {
	provider llm.Provider
	logger   arbor.ILogger
}

// NewAnalyzeWorker creates an analyze worker. Provider may be nil.
func NewAnalyzeWorker(provider llm.Provider, logger arbor.ILogger) *AnalyzeWorker {
	return &AnalyzeWorker{
		provider: provider,
		logger:   logger,
	}
}

// Handler adapts the worker to the pool's handler contract
func (w *AnalyzeWorker) Handler() interfaces.JobHandler {
	return func(ctx context.Context, payload models.JobPayload) (interface{}, error) {
		return w.Analyze(ctx, payload)
	}
}

// Analyze scores one captured page and returns its PageReport
func (w *AnalyzeWorker) Analyze(ctx context.Context, payload models.JobPayload) (*models.PageReport, error) {
	capture := payload.Capture
	if capture == nil {
		return nil, fmt.Errorf("analyze payload missing capture result")
	}

	scores, summary := w.score(ctx, capture)

	return &models.PageReport{
		Site:      capture.Site,
		Page:      capture.Page,
		Scores:    scores,
		Summary:   summary,
		WordCount: countWords(capture.Markdown),
	}, nil
}

func (w *AnalyzeWorker) score(ctx context.Context, capture *models.CaptureResult) (models.ContentScores, string) {
	if w.provider != nil {
		scores, summary, err := w.scoreWithProvider(ctx, capture)
		if err == nil {
			return scores, summary
		}
		w.logger.Warn().
			Err(err).
			Str("url", capture.Page.URL()).
			Str("provider", string(w.provider.GetProviderType())).
			Msg("Provider scoring failed, using heuristic scores")
	}
	return heuristicScores(capture.Markdown)
}

// providerScores is the JSON shape the model is instructed to return
type providerScores struct {
	Clarity      float64 `json:"clarity"`
	Structure    float64 `json:"structure"`
	Readability  float64 `json:"readability"`
	CallToAction float64 `json:"call_to_action"`
	Summary      string  `json:"summary"`
}

func (w *AnalyzeWorker) scoreWithProvider(ctx context.Context, capture *models.CaptureResult) (models.ContentScores, string, error) {
	content := capture.Markdown
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	prompt := fmt.Sprintf("Page title: %s\nPage URL: %s\n\nPage content (markdown):\n%s",
		capture.Title, capture.Page.URL(), content)

	resp, err := w.provider.GenerateContent(ctx, &llm.ContentRequest{
		System: analyzeSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return models.ContentScores{}, "", err
	}

	var parsed providerScores
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		return models.ContentScores{}, "", fmt.Errorf("failed to parse provider response: %w", err)
	}

	scores := models.ContentScores{
		Clarity:      clampScore(parsed.Clarity),
		Structure:    clampScore(parsed.Structure),
		Readability:  clampScore(parsed.Readability),
		CallToAction: clampScore(parsed.CallToAction),
	}
	scores.Overall = overall(scores)

	return scores, strings.TrimSpace(parsed.Summary), nil
}

// heuristicScores derives scores from measurable content properties. The
// same input always produces the same scores.
func heuristicScores(markdown string) (models.ContentScores, string) {
	words := countWords(markdown)
	headings := countHeadings(markdown)
	avgSentence := averageSentenceLength(markdown)
	ctaHits := countCTAKeywords(markdown)

	scores := models.ContentScores{
		Clarity:      clampScore(bandScore(words, 150, 1200)),
		Structure:    clampScore(40 + float64(min(headings, 6))*10),
		Readability:  clampScore(readabilityScore(avgSentence)),
		CallToAction: clampScore(30 + float64(min(ctaHits, 5))*14),
	}
	scores.Overall = overall(scores)

	summary := fmt.Sprintf("Heuristic analysis: %d words, %d headings, %d call-to-action signals.",
		words, headings, ctaHits)

	return scores, summary
}

// bandScore rewards word counts inside [low, high] and tapers outside it
func bandScore(words, low, high int) float64 {
	switch {
	case words == 0:
		return 0
	case words < low:
		return 30 + 50*float64(words)/float64(low)
	case words <= high:
		return 80
	default:
		over := float64(words-high) / float64(high)
		return 80 - min(over*40, 40)
	}
}

// readabilityScore peaks for average sentence lengths of 10 to 20 words
func readabilityScore(avgSentence float64) float64 {
	switch {
	case avgSentence == 0:
		return 20
	case avgSentence < 10:
		return 55 + avgSentence*2
	case avgSentence <= 20:
		return 75
	default:
		return 75 - min((avgSentence-20)*3, 55)
	}
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func countHeadings(markdown string) int {
	count := 0
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			count++
		}
	}
	return count
}

func averageSentenceLength(text string) float64 {
	sentences := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}
	if sentences == 0 {
		return 0
	}
	return float64(countWords(text)) / float64(sentences)
}

func countCTAKeywords(markdown string) int {
	lower := strings.ToLower(markdown)
	hits := 0
	for _, keyword := range ctaKeywords {
		hits += strings.Count(lower, keyword)
	}
	return hits
}

func overall(s models.ContentScores) float64 {
	return clampScore((s.Clarity + s.Structure + s.Readability + s.CallToAction) / 4)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// extractJSON trims any prose the model wrapped around the JSON object
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
