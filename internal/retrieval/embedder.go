package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/pagegeneral/internal/engine"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of texts sent in one embedding request.
const DefaultBatchSize = 64

// maxInflight bounds concurrent embedding requests to the engine.
const maxInflight = 2

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine    engine.Engine
	model     string
	batchSize int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// A batchSize <= 0 falls back to DefaultBatchSize.
func NewEmbedder(e engine.Engine, model string, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{engine: e, model: model, batchSize: batchSize}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. Returns nil (not
// error) for empty input.
//
// A book is one logical batch, but more than batchSize texts are split into
// sub-batches of batchSize, at most two in flight, so one large book never
// becomes a single oversized request. Callers see a single call: the first
// failing sub-batch fails the whole batch and no partial vectors are returned.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxInflight)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.Embed(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
