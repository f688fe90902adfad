package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/pagegeneral/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, texts []string) ([][]float32, error)
}

func (m *mockEngine) Generate(_ context.Context, _, _ string, _ engine.GenerateOptions) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ engine.GenerateOptions) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, model, texts)
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return false }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return false }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return fmt.Errorf("not implemented")
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

// constEmbed returns dim-sized vectors for every input.
func constEmbed(dim int) func(context.Context, string, []string) ([][]float32, error) {
	return func(_ context.Context, _ string, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = makeVector(dim)
		}
		return out, nil
	}
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	e := NewEmbedder(&mockEngine{embedFn: constEmbed(384)}, "nomic-embed-text", 0)

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_OllamaError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ []string) ([][]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 0)

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestEmbedBatch_SplitsAndKeepsOrder(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			mu.Lock()
			sizes = append(sizes, len(texts))
			mu.Unlock()
			out := make([][]float32, len(texts))
			for i, text := range texts {
				var n int
				fmt.Sscanf(text, "t%d", &n)
				out[i] = []float32{float32(n)}
			}
			return out, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 4)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 10 {
		t.Fatalf("got %d vectors, want 10", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d = %v, out of order", i, v)
		}
	}
	if len(sizes) != 3 {
		t.Errorf("got %d engine calls, want 3 (sizes %v)", len(sizes), sizes)
	}
	for _, n := range sizes {
		if n > 4 {
			t.Errorf("sub-batch of %d exceeds batch size 4", n)
		}
	}
}

func TestEmbedBatch_OllamaError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			for _, text := range texts {
				if text == "b" {
					return nil, errors.New("embedding failed")
				}
			}
			return constEmbed(8)(context.Background(), "", texts)
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 1)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %d vectors alongside the error, want none", len(vecs))
	}
}

func TestEmbedBatch_OneCallWithinBatchSize(t *testing.T) {
	var calls int
	mock := &mockEngine{
		embedFn: func(ctx context.Context, model string, texts []string) ([][]float32, error) {
			calls++
			return constEmbed(8)(ctx, model, texts)
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 0)

	texts := make([]string, DefaultBatchSize)
	for i := range texts {
		texts[i] = fmt.Sprintf("paragraph %d", i)
	}
	if _, err := e.EmbedBatch(context.Background(), texts); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls != 1 {
		t.Errorf("got %d engine calls for %d texts, want 1", calls, len(texts))
	}
}

func TestEmbedBatch_ShortResponse(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ []string) ([][]float32, error) {
			return [][]float32{makeVector(8)}, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 0)

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when the engine returns fewer vectors than texts")
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ []string) ([][]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text", 0)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}
