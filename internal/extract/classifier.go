package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/pagegeneral/internal/engine"
)

// DefaultTimeout bounds a single classification call. Local inference on a
// 7B model routinely takes tens of seconds per paragraph.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrClassifierUnavailable is returned by Ready when the classifier
	// backend or its model cannot be reached.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty classifier response")

	// ErrUnparseable is returned when no strategy recovers an answer.
	ErrUnparseable = errors.New("unparseable classifier response")
)

// Classifier decides which divisions a single paragraph references.
type Classifier interface {
	Classify(ctx context.Context, text string) (Parsed, error)
	Ready(ctx context.Context) error
}

// Generator is the subset of engine.Engine the LLM classifier needs.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts engine.GenerateOptions) (string, error)
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
}

// LLMClassifier asks a local language model to classify paragraphs.
type LLMClassifier struct {
	gen       Generator
	model     string
	divisions []string
	opts      engine.GenerateOptions
	timeout   time.Duration
}

// NewLLMClassifier creates a classifier that prompts model with the given
// division list. A zero timeout means DefaultTimeout.
func NewLLMClassifier(gen Generator, model string, divisions []string, opts engine.GenerateOptions, timeout time.Duration) *LLMClassifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMClassifier{gen: gen, model: model, divisions: divisions, opts: opts, timeout: timeout}
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (Parsed, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.gen.Generate(ctx, c.model, BuildPrompt(text, c.divisions), c.opts)
	if err != nil {
		return Parsed{}, fmt.Errorf("generate: %w", err)
	}
	if raw == "" {
		return Parsed{}, ErrEmptyResponse
	}

	p, ok := ParseResponse(raw)
	if !ok {
		return Parsed{}, fmt.Errorf("%w: %.100q", ErrUnparseable, raw)
	}
	return p, nil
}

// Ready probes the backend and checks that the model is installed.
func (c *LLMClassifier) Ready(ctx context.Context) error {
	if !c.gen.IsRunning(ctx) {
		return fmt.Errorf("%w: inference backend not reachable", ErrClassifierUnavailable)
	}
	if !c.gen.HasModel(ctx, c.model) {
		return fmt.Errorf("%w: model %s not installed", ErrClassifierUnavailable, c.model)
	}
	return nil
}

// PatternClassifier classifies with the pre-filter patterns alone. It is the
// degraded mode used when no language model is available: confidence falls as
// the number of distinct divisions in one paragraph grows.
type PatternClassifier struct {
	matcher *Matcher
}

// NewPatternClassifier creates a regex-only classifier.
func NewPatternClassifier(m *Matcher) *PatternClassifier {
	return &PatternClassifier{matcher: m}
}

func (c *PatternClassifier) Classify(_ context.Context, text string) (Parsed, error) {
	found := c.matcher.Find(text)
	var conf float64
	switch n := len(found); {
	case n == 0:
		conf = 0
	case n == 1:
		conf = 0.95
	case n <= 3:
		conf = 0.85
	default:
		conf = 0.75
	}
	return Parsed{Divisions: found, Confidence: conf}, nil
}

func (c *PatternClassifier) Ready(context.Context) error { return nil }
