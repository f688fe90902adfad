package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Paragraph is one unit of source text. Page is 1-based; 0 means the source
// could not report a page.
type Paragraph struct {
	Text string
	Page int
}

// Result is the extraction outcome for one paragraph. The negative outcome has
// no divisions and zero confidence.
type Result struct {
	ParagraphIndex int
	Text           string
	Divisions      []string
	Confidence     float64
}

// Positive reports whether the result names at least one division.
func (r Result) Positive() bool { return len(r.Divisions) > 0 }

// Stats counts what a batch extraction did.
type Stats struct {
	Paragraphs      int
	Matched         int
	ClassifierCalls int
	Failures        int
	Positive        int
}

// Extractor runs the two-stage cascade: the Matcher pre-filter, then the
// Classifier for matching paragraphs only.
type Extractor struct {
	matcher    *Matcher
	classifier Classifier
	logger     *slog.Logger
}

// NewExtractor creates an Extractor from a pre-filter and a classifier.
func NewExtractor(m *Matcher, c Classifier) *Extractor {
	return &Extractor{matcher: m, classifier: c, logger: slog.Default()}
}

// WithClassifier returns a copy of the Extractor that uses c.
func (e *Extractor) WithClassifier(c Classifier) *Extractor {
	cp := *e
	cp.classifier = c
	return &cp
}

// Matcher returns the pre-filter.
func (e *Extractor) Matcher() *Matcher { return e.matcher }

// Ready checks the classifier can serve requests. It must succeed before a
// batch extraction begins.
func (e *Extractor) Ready(ctx context.Context) error {
	if err := e.classifier.Ready(ctx); err != nil {
		return fmt.Errorf("checking classifier: %w", err)
	}
	return nil
}

// Extract returns one Result per paragraph, in input order. Classification
// failures degrade the affected paragraph to the negative outcome and are
// counted in Stats; they never abort the batch.
func (e *Extractor) Extract(ctx context.Context, paragraphs []Paragraph) ([]Result, Stats) {
	results := make([]Result, len(paragraphs))
	stats := Stats{Paragraphs: len(paragraphs)}

	for i, p := range paragraphs {
		text := strings.TrimSpace(p.Text)
		results[i] = Result{ParagraphIndex: i, Text: text}

		if !e.matcher.Match(text) {
			continue
		}
		stats.Matched++

		stats.ClassifierCalls++
		parsed, err := e.classifier.Classify(ctx, text)
		if err != nil {
			stats.Failures++
			e.logger.Warn("classification failed", "paragraph", i, "error", err)
			continue
		}

		divs := e.canonicalize(parsed.Divisions)
		if len(divs) == 0 {
			continue
		}
		results[i].Divisions = divs
		results[i].Confidence = Clamp(parsed.Confidence)
		stats.Positive++
	}

	e.logger.Debug("extraction finished",
		"paragraphs", stats.Paragraphs,
		"matched", stats.Matched,
		"classifier_calls", stats.ClassifierCalls,
		"failures", stats.Failures,
	)
	return results, stats
}

// canonicalize maps model names onto configured identifiers, dropping unknown
// names and duplicates while keeping first-seen order.
func (e *Extractor) canonicalize(names []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		id, ok := e.matcher.Canonical(n)
		if !ok {
			e.logger.Debug("dropping unknown division from classifier output", "name", n)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
