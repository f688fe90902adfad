//go:build integration

package retrieval

import (
	"context"
	"testing"

	"github.com/kalambet/pagegeneral/internal/engine"
)

// setupIntegrationRetriever builds a retriever over an in-memory store and a
// running Ollama instance. It skips the test if Ollama or the embedding
// model is not available.
func setupIntegrationRetriever(t *testing.T) *Retriever {
	t.Helper()

	eng := engine.NewOllamaEngine("http://localhost:11434")
	if !eng.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	if !eng.HasModel(context.Background(), "nomic-embed-text") {
		t.Skip("nomic-embed-text model not available, skipping integration test")
	}

	return NewRetriever(NewEmbedder(eng, "nomic-embed-text", 8), NewSQLiteStore(openTestDB(t)))
}

func TestRetriever_RealEmbeddings(t *testing.T) {
	ctx := context.Background()
	r := setupIntegrationRetriever(t)

	paragraphs := []Paragraph{
		{Text: "The 5th Division crossed the river under heavy artillery fire.", Page: 1, Divisions: []string{"5"}, Confidence: 0.9},
		{Text: "Supply wagons were delayed by the autumn rains.", Page: 2},
		{Text: "Cavalry of the 9th Division scouted the northern hills.", Page: 3, Divisions: []string{"9"}, Confidence: 0.85},
	}
	if _, err := r.AddBook(ctx, BookMeta{ID: "campaign", Name: "Campaign"}, paragraphs); err != nil {
		t.Fatalf("AddBook: %v", err)
	}

	hits, err := r.Search(ctx, "river crossing under fire", Scope{}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != ParagraphID("campaign", 0) {
		t.Errorf("top hit = %+v, want the river crossing paragraph", hits)
	}

	scoped, err := r.Search(ctx, "river crossing under fire", Scope{Division: "9"}, 3)
	if err != nil {
		t.Fatalf("Search in division: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != ParagraphID("campaign", 2) {
		t.Errorf("division 9 hits = %+v, want only the cavalry paragraph", scoped)
	}
}
