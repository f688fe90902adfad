// Package reranking re-orders search hits by asking a local model how well
// each passage answers the question.
package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/pagegeneral/internal/engine"
	"github.com/kalambet/pagegeneral/internal/retrieval"
)

const defaultConcurrency = 3

// Reranker re-scores search hits by relevance to a question.
type Reranker interface {
	Rerank(ctx context.Context, question string, hits []retrieval.ScoredRecord) ([]retrieval.ScoredRecord, error)
}

// Chatter is the model surface the reranker needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error)
}

// NewReranker returns an LLMReranker if enabled and llm is set, NoOpReranker
// otherwise.
//
// topK controls the early-return threshold: once topK hits have been scored,
// the reranker returns that subset without waiting for the rest. Set topK to
// 0 (or >= len(hits)) to score everything.
func NewReranker(llm Chatter, model string, enabled bool, timeout time.Duration, threshold float64, topK int) Reranker {
	if !enabled || llm == nil {
		return &NoOpReranker{}
	}
	return &LLMReranker{
		llm:       llm,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// LLMReranker scores (question, passage) pairs with a local model, at most
// defaultConcurrency at a time. A model score s in [0, 1] replaces the hit's
// distance with 1-s, so lower is still better.
type LLMReranker struct {
	llm       Chatter
	model     string
	timeout   time.Duration
	threshold float64
	topK      int // early-return threshold; 0 = score all
	logger    *slog.Logger
}

// Rerank scores each hit and returns the ones whose relevance reaches the
// threshold, closest first. If the timeout fires before scoring completes
// the hits are returned unchanged.
func (r *LLMReranker) Rerank(ctx context.Context, question string, hits []retrieval.ScoredRecord) ([]retrieval.ScoredRecord, error) {
	if len(hits) == 0 {
		return hits, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	earlyReturnAt := r.topK
	if earlyReturnAt <= 0 || earlyReturnAt >= len(hits) {
		earlyReturnAt = 0
	}

	// Buffered so workers never block on send after collection stops.
	results := make(chan retrieval.ScoredRecord, len(hits))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for _, h := range hits {
		wg.Add(1)
		go func(hit retrieval.ScoredRecord) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreHit(timeoutCtx, question, hit)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return
				}
				r.logger.Debug("reranker: score failed, keeping distance", "id", hit.ID, "error", err)
				results <- hit
				return
			}
			hit.Distance = float32(1 - score)
			results <- hit
		}(h)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]retrieval.ScoredRecord, 0, len(hits))
collect:
	for {
		select {
		case h, ok := <-results:
			if !ok {
				break collect
			}
			scored = append(scored, h)
			if earlyReturnAt > 0 && len(scored) >= earlyReturnAt {
				cancel()
				break collect
			}
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("reranker timed out, keeping search order", "hits", len(hits), "timeout", r.timeout)
			return hits, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return hits, nil
	}

	filtered := make([]retrieval.ScoredRecord, 0, len(scored))
	for _, h := range scored {
		if 1-float64(h.Distance) >= r.threshold {
			filtered = append(filtered, h)
		}
	}

	// Results arrive in completion order; ties fall back to id.
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Distance != filtered[j].Distance {
			return filtered[i].Distance < filtered[j].Distance
		}
		return filtered[i].ID < filtered[j].ID
	})

	return filtered, nil
}

func (r *LLMReranker) scoreHit(ctx context.Context, question string, hit retrieval.ScoredRecord) (float64, error) {
	prompt := "Rate how well the following passage helps answer the question, on a scale of 0.0 to 1.0.\n" +
		"Question: " + question + "\n" +
		"Passage: " + hit.Document + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	original := 1 - float64(hit.Distance)
	resp, err := r.llm.Chat(ctx, r.model, []engine.Message{
		{Role: "user", Content: prompt},
	}, engine.GenerateOptions{Temperature: 0, MaxTokens: 20})
	if err != nil {
		return original, err
	}

	score, parseErr := parseScore(resp, original)
	if parseErr != nil {
		r.logger.Debug("reranker: parse failed, keeping distance", "resp", resp, "error", parseErr)
		return original, nil
	}
	return clamp01(score), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// parseScore extracts a relevance score from a model reply. Small local
// models often wrap JSON in markdown code fences or add filler, so the
// fences are stripped and the outermost braces are decoded. On failure
// originalScore is returned so the hit is not penalised.
func parseScore(resp string, originalScore float64) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return originalScore, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return originalScore, fmt.Errorf("unmarshal score: %w", err)
	}
	return obj.Score, nil
}

// NoOpReranker passes hits through unchanged.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, hits []retrieval.ScoredRecord) ([]retrieval.ScoredRecord, error) {
	return hits, nil
}
