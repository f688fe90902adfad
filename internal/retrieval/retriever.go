package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// BookMeta identifies the book a batch of paragraphs belongs to.
type BookMeta struct {
	ID   string
	Name string
}

// Paragraph is one paragraph ready for storage. Paragraphs without divisions
// are stored in the main collection only.
type Paragraph struct {
	Text          string
	Page          int
	PageEstimated bool
	Divisions     []string
	Confidence    float64
}

// Scope narrows a search or listing. Empty BookIDs means every book; a
// non-empty Division restricts to that division's collection.
type Scope struct {
	BookIDs  []string
	Division string
}

func (s Scope) collection() string {
	if s.Division == "" {
		return MainCollection
	}
	return CollectionName(s.Division)
}

func (s Scope) filter() Filter { return Filter{BookIDs: s.BookIDs} }

// keep drops records whose divisions do not include the scoped division.
// Distinct identifiers may share a sanitised collection name.
func (s Scope) keep(r Record) bool {
	return s.Division == "" || r.Divisions.Contains(s.Division)
}

// ParagraphID returns the stable vector id of paragraph i of a book.
func ParagraphID(bookID string, i int) string {
	return fmt.Sprintf("%s_para_%d", bookID, i)
}

// Retriever combines embedding and vector storage for whole books.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddBook embeds every paragraph in one batch and stores it in the main
// collection and in the collection of each of its divisions. It returns the
// number of paragraphs stored. Either all records are stored or none.
func (r *Retriever) AddBook(ctx context.Context, book BookMeta, paragraphs []Paragraph) (int, error) {
	if len(paragraphs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		texts[i] = p.Text
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding book %s: %w", book.ID, err)
	}

	now := r.now()
	records := make([]Record, 0, len(paragraphs))
	for i, p := range paragraphs {
		divs := NewDivisions(p.Divisions)
		base := Record{
			ID:             ParagraphID(book.ID, i),
			Collection:     MainCollection,
			BookID:         book.ID,
			BookName:       book.Name,
			Document:       p.Text,
			Embedding:      vecs[i],
			Divisions:      divs,
			Confidence:     p.Confidence,
			SourcePage:     p.Page,
			PageEstimated:  p.PageEstimated,
			ParagraphIndex: i,
			CreatedAt:      now,
		}
		records = append(records, base)

		seen := make(map[string]bool, len(divs))
		for _, d := range divs {
			name := CollectionName(d)
			if seen[name] {
				continue
			}
			seen[name] = true
			rec := base
			rec.Collection = name
			records = append(records, rec)
		}
	}

	if err := r.store.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("storing book %s: %w", book.ID, err)
	}
	r.logger.Debug("stored book vectors", "book_id", book.ID, "paragraphs", len(paragraphs), "records", len(records))
	return len(paragraphs), nil
}

// Search embeds the query and returns the topK closest paragraphs in scope.
// A blank query or an unknown division yields no results.
func (r *Retriever) Search(ctx context.Context, query string, scope Scope, topK int) ([]ScoredRecord, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, scope.collection(), vec, topK, scope.filter())
	if err != nil {
		return nil, err
	}
	out := scored[:0]
	for _, s := range scored {
		if scope.keep(s.Record) {
			out = append(out, s)
		}
	}
	return out, nil
}

// List returns every paragraph in scope ordered by book and paragraph index.
func (r *Retriever) List(ctx context.Context, scope Scope) ([]Record, error) {
	records, err := r.store.List(ctx, scope.collection(), scope.filter())
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if scope.keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteBook removes a book from every collection and returns the number of
// records removed.
func (r *Retriever) DeleteBook(ctx context.Context, bookID string) (int, error) {
	n, err := r.store.DeleteBook(ctx, bookID)
	if err != nil {
		return 0, fmt.Errorf("deleting vectors of book %s: %w", bookID, err)
	}
	return n, nil
}

// CountBook returns the number of paragraphs stored for a book.
func (r *Retriever) CountBook(ctx context.Context, bookID string) (int, error) {
	return r.store.Count(ctx, MainCollection, Filter{BookIDs: []string{bookID}})
}

// Count returns the number of paragraphs stored for all books.
func (r *Retriever) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx, MainCollection, Filter{})
}

// DivisionStats counts paragraphs per division identifier within the given
// books. Empty bookIDs counts every book.
func (r *Retriever) DivisionStats(ctx context.Context, bookIDs ...string) (map[string]int, error) {
	records, err := r.store.List(ctx, MainCollection, Filter{BookIDs: bookIDs})
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int)
	for _, rec := range records {
		for _, d := range rec.Divisions {
			stats[d]++
		}
	}
	return stats, nil
}
