package models

// DiscoverResult is the value a discover handler returns: the page set for
// one site. The coordinator aggregates these across sites to start scanning.
type DiscoverResult struct {
	Site  string `json:"site"`
	Pages []Page `json:"pages"`
}

// ElementBox is the rendered geometry of one page element, in CSS pixels
// relative to the document origin.
type ElementBox struct {
	Tag    string  `json:"tag"`
	Text   string  `json:"text,omitempty"` // truncated text content, for identification
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CaptureResult is the value a scan handler returns for one page
type CaptureResult struct {
	Site        string            `json:"site"`
	Page        Page              `json:"page"`
	Title       string            `json:"title"`
	Markdown    string            `json:"markdown"`              // extracted page content
	Screenshots map[string]string `json:"screenshots,omitempty"` // viewport name -> file path
	Elements    []ElementBox      `json:"elements,omitempty"`
}

// ContentScores are 0-100 ratings produced by the analyze stage
type ContentScores struct {
	Clarity      float64 `json:"clarity"`
	Structure    float64 `json:"structure"`
	Readability  float64 `json:"readability"`
	CallToAction float64 `json:"call_to_action"`
	Overall      float64 `json:"overall"`
}

// PageReport is the value an analyze handler returns for one page
type PageReport struct {
	Site      string        `json:"site"`
	Page      Page          `json:"page"`
	Scores    ContentScores `json:"scores"`
	Summary   string        `json:"summary,omitempty"`
	WordCount int           `json:"word_count"`
}

// SynthesisReport is the value the synthesize handler returns for a project
type SynthesisReport struct {
	ProjectID    string   `json:"project_id"`
	Sites        []string `json:"sites"`
	PagesCovered int      `json:"pages_covered"`
	MarkdownPath string   `json:"markdown_path"`
	HTMLPath     string   `json:"html_path"`
}
