// Package query reads ingested books back out: listings, division summaries,
// JSON export, semantic search and question answering.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/pagegeneral/internal/composer"
	"github.com/kalambet/pagegeneral/internal/engine"
	"github.com/kalambet/pagegeneral/internal/registry"
	"github.com/kalambet/pagegeneral/internal/reranking"
	"github.com/kalambet/pagegeneral/internal/retrieval"
)

// ErrNoLLM is returned by Ask when no language model is configured.
var ErrNoLLM = errors.New("no language model configured")

// Books is the registry surface the query layer reads.
type Books interface {
	Get(id string) (registry.BookRecord, error)
	ListReady() ([]registry.BookRecord, error)
}

// Index is the vector store surface the query layer reads.
type Index interface {
	List(ctx context.Context, scope retrieval.Scope) ([]retrieval.Record, error)
	Search(ctx context.Context, query string, scope retrieval.Scope, topK int) ([]retrieval.ScoredRecord, error)
}

// Chatter answers prompts for Ask.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error)
}

// Service composes the registry and the vector store. Only books that are
// ready in the registry are ever visible.
type Service struct {
	books     Books
	index     Index
	llm       Chatter
	model     string
	opts      engine.GenerateOptions
	reranker  reranking.Reranker
	composer  *composer.Composer
	outputDir string
	logger    *slog.Logger
}

// NewService creates a Service. outputDir is where ExportFile writes when no
// path is given.
func NewService(books Books, index Index, outputDir string) *Service {
	return &Service{
		books:     books,
		index:     index,
		composer:  composer.New(0),
		outputDir: outputDir,
		logger:    slog.Default(),
	}
}

// WithLLM returns a copy of the Service that answers questions with model.
func (s *Service) WithLLM(llm Chatter, model string, opts engine.GenerateOptions) *Service {
	cp := *s
	cp.llm, cp.model, cp.opts = llm, model, opts
	return &cp
}

// WithReranker returns a copy of the Service that reranks Ask candidates.
// Ask then retrieves twice topK passages and keeps the best topK.
func (s *Service) WithReranker(r reranking.Reranker) *Service {
	cp := *s
	cp.reranker = r
	return &cp
}

// WithContextBudget returns a copy of the Service whose Ask prompts carry at
// most maxTokens of passages.
func (s *Service) WithContextBudget(maxTokens int) *Service {
	cp := *s
	cp.composer = composer.New(maxTokens)
	return &cp
}

// ListBooks returns the ready books.
func (s *Service) ListBooks() ([]registry.BookRecord, error) {
	books, err := s.books.ListReady()
	if err != nil {
		return nil, fmt.Errorf("listing ready books: %w", err)
	}
	return books, nil
}

// readyScope resolves a book id to the set of visible book ids. An empty
// bookID means every ready book. ok is false when nothing is visible, which
// callers report as an empty result.
func (s *Service) readyScope(bookID string) (ids []string, ok bool, err error) {
	if bookID != "" {
		b, err := s.books.Get(bookID)
		if errors.Is(err, registry.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("reading book %s: %w", bookID, err)
		}
		if b.Status != registry.StatusReady {
			return nil, false, nil
		}
		return []string{bookID}, true, nil
	}

	books, err := s.ListBooks()
	if err != nil {
		return nil, false, err
	}
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	return ids, len(ids) > 0, nil
}

// ParagraphOptions selects paragraphs for listing and export.
type ParagraphOptions struct {
	BookID            string
	OnlyWithDivisions bool
	IncludeEmbeddings bool
}

// Paragraph is one exported paragraph. ID is the stored record id, unique
// across books.
type Paragraph struct {
	ID        string            `json:"id"`
	Embedding []float32         `json:"embedding"`
	Document  string            `json:"document"`
	Metadata  ParagraphMetadata `json:"metadata"`
}

// ParagraphMetadata describes where a paragraph came from and which divisions
// it references.
type ParagraphMetadata struct {
	Division   []string `json:"division"`
	Confidence float64  `json:"confidence"`
	SourcePage int      `json:"source_page"`
	// PageEstimated marks SourcePage as a paragraphs-per-page estimate.
	PageEstimated bool   `json:"page_estimated"`
	BookID        string `json:"book_id"`
	BookName      string `json:"book_name"`
}

func toParagraph(r retrieval.Record, withEmbedding bool) Paragraph {
	p := Paragraph{
		ID:        r.ID,
		Embedding: []float32{},
		Document:  r.Document,
		Metadata: ParagraphMetadata{
			Division:      []string(r.Divisions),
			Confidence:    r.Confidence,
			SourcePage:    r.SourcePage,
			PageEstimated: r.PageEstimated,
			BookID:        r.BookID,
			BookName:      r.BookName,
		},
	}
	if p.Metadata.Division == nil {
		p.Metadata.Division = []string{}
	}
	if withEmbedding && r.Embedding != nil {
		p.Embedding = r.Embedding
	}
	return p
}

// Paragraphs lists paragraphs of ready books ordered by book and position.
// An unknown or unready book yields an empty list.
func (s *Service) Paragraphs(ctx context.Context, opts ParagraphOptions) ([]Paragraph, error) {
	ids, ok, err := s.readyScope(opts.BookID)
	if err != nil || !ok {
		return []Paragraph{}, err
	}
	records, err := s.index.List(ctx, retrieval.Scope{BookIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("listing paragraphs: %w", err)
	}

	out := make([]Paragraph, 0, len(records))
	for _, r := range records {
		if opts.OnlyWithDivisions && len(r.Divisions) == 0 {
			continue
		}
		out = append(out, toParagraph(r, opts.IncludeEmbeddings))
	}
	return out, nil
}

// Passage is one search hit.
type Passage struct {
	Paragraph
	Distance float32 `json:"distance"`
}

// Search returns the topK paragraphs of ready books closest to question,
// optionally narrowed to one book and one division. An unknown division or
// book yields no passages.
func (s *Service) Search(ctx context.Context, question string, bookID, division string, topK int) ([]Passage, error) {
	hits, err := s.search(ctx, question, bookID, division, topK)
	if err != nil {
		return nil, err
	}
	return toPassages(hits), nil
}

func (s *Service) search(ctx context.Context, question string, bookID, division string, topK int) ([]retrieval.ScoredRecord, error) {
	ids, ok, err := s.readyScope(bookID)
	if err != nil || !ok {
		return nil, err
	}
	hits, err := s.index.Search(ctx, question, retrieval.Scope{BookIDs: ids, Division: division}, topK)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return hits, nil
}

func toPassages(hits []retrieval.ScoredRecord) []Passage {
	out := make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = Passage{Paragraph: toParagraph(h.Record, false), Distance: h.Distance}
	}
	return out
}

// Answer is a generated answer with the passages it was grounded on.
type Answer struct {
	Question string    `json:"question"`
	Division string    `json:"division"`
	Answer   string    `json:"answer"`
	Sources  []Passage `json:"sources"`
}

// Ask searches a division for question and asks the language model to answer
// from the retrieved passages only. With no passages the model is not called.
// Sources lists the passages that fit in the prompt.
func (s *Service) Ask(ctx context.Context, question, division string, topK int) (Answer, error) {
	ans := Answer{Question: question, Division: division, Sources: []Passage{}}
	if s.llm == nil {
		return ans, ErrNoLLM
	}

	fetch := topK
	if s.reranker != nil {
		fetch = topK * 2
	}
	hits, err := s.search(ctx, question, "", division, fetch)
	if err != nil {
		return ans, err
	}
	if s.reranker != nil && len(hits) > 0 {
		hits, err = s.reranker.Rerank(ctx, question, hits)
		if err != nil {
			return ans, fmt.Errorf("reranking: %w", err)
		}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if len(hits) == 0 {
		ans.Answer = "No passages found for this division."
		return ans, nil
	}

	passages := toPassages(hits)
	sources := make([]composer.Source, len(passages))
	for i, p := range passages {
		sources[i] = composer.Source{
			Label: fmt.Sprintf("%s, p.%d", p.Metadata.BookName, p.Metadata.SourcePage),
			Text:  p.Document,
			Score: 1 - p.Distance,
		}
	}
	msgs, used := s.composer.Compose(answerInstructions, question, division, sources)
	for _, i := range used {
		ans.Sources = append(ans.Sources, passages[i])
	}
	if len(used) < len(sources) {
		s.logger.Debug("passages trimmed to context budget", "kept", len(used), "retrieved", len(sources))
	}
	if len(used) == 0 {
		ans.Answer = "No passages fit the context budget."
		return ans, nil
	}

	reply, err := s.llm.Chat(ctx, s.model, msgs, s.opts)
	if err != nil {
		return ans, fmt.Errorf("generating answer: %w", err)
	}
	ans.Answer = strings.TrimSpace(reply)
	s.logger.Debug("answered question", "division", division, "sources", len(ans.Sources))
	return ans, nil
}

const answerInstructions = `You answer questions about military history using only the passages provided.
Cite every claim with the bracketed source label of the passage it comes from.
If the passages do not contain the answer, say so. Answer in the language of the question, briefly.`
