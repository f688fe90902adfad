// Package ingest turns documents on disk into ready books: registry records
// plus stored, classified paragraph vectors.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/pagegeneral/internal/chunk"
	"github.com/kalambet/pagegeneral/internal/extract"
	"github.com/kalambet/pagegeneral/internal/registry"
	"github.com/kalambet/pagegeneral/internal/retrieval"
	"github.com/kalambet/pagegeneral/internal/source"
	"github.com/kalambet/pagegeneral/internal/storage"
)

// Status is the outcome of ingesting one document.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Kind tells apart the failures a user can see.
type Kind string

const (
	KindNone       Kind = ""
	KindSource     Kind = "source"
	KindClassifier Kind = "classifier"
	KindStorage    Kind = "storage"
)

// Options controls a single ingestion.
type Options struct {
	// Title overrides the book title; the file name stem is used otherwise.
	Title string
	// Force re-ingests a book that is already ready.
	Force bool
}

// Result reports what IngestFile did.
type Result struct {
	Path       string `json:"path"`
	Status     Status `json:"status"`
	BookID     string `json:"book_id,omitempty"`
	Message    string `json:"message"`
	Paragraphs int    `json:"paragraphs"`
	Pages      int    `json:"pages"`
	Kind       Kind   `json:"kind,omitempty"`
}

// BatchResult reports what IngestDir did.
type BatchResult struct {
	Results   []Result `json:"results"`
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
}

// Progress receives human-readable steps and a completion percentage.
type Progress func(msg string, percent int)

// Books is the registry surface the pipeline needs.
type Books interface {
	Get(id string) (registry.BookRecord, error)
	Add(id string, meta registry.Metadata) (string, error)
	UpdateStatus(id string, to registry.Status) error
	UpdateMetadata(id string, meta registry.Metadata) error
	GetByFilename(filename string) (registry.BookRecord, error)
	Delete(id string) error
}

// Index is the vector store surface the pipeline needs.
type Index interface {
	AddBook(ctx context.Context, book retrieval.BookMeta, paragraphs []retrieval.Paragraph) (int, error)
	DeleteBook(ctx context.Context, bookID string) (int, error)
	CountBook(ctx context.Context, bookID string) (int, error)
}

// RunLog records the outcome of every ingestion.
type RunLog interface {
	RecordRun(r storage.Run) (string, error)
}

// Pipeline ingests documents one at a time.
type Pipeline struct {
	books     Books
	index     Index
	extractor *extract.Extractor
	fallback  extract.Classifier
	runs      RunLog
	open      func(ctx context.Context, path string) (source.Document, error)
	builder   chunk.Builder
	progress  Progress
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFallback sets a classifier used when the primary classifier's
// readiness probe fails. Without one, an unavailable classifier aborts
// ingestion.
func WithFallback(c extract.Classifier) Option {
	return func(p *Pipeline) { p.fallback = c }
}

// WithRunLog records every ingestion outcome in log.
func WithRunLog(log RunLog) Option {
	return func(p *Pipeline) { p.runs = log }
}

// WithThreshold sets the confidence threshold for division assignment.
func WithThreshold(t float64) Option {
	return func(p *Pipeline) { p.builder.Threshold = t }
}

// WithParagraphsPerPage sets the page estimate for sources without pages.
func WithParagraphsPerPage(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.builder.ParagraphsPerPage = n
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn Progress) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithSource replaces the document parser.
func WithSource(open func(ctx context.Context, path string) (source.Document, error)) Option {
	return func(p *Pipeline) { p.open = open }
}

// NewPipeline creates a Pipeline.
func NewPipeline(books Books, index Index, extractor *extract.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		books:     books,
		index:     index,
		extractor: extractor,
		open:      source.Open,
		builder:   chunk.NewBuilder("", ""),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) report(msg string, percent int) {
	p.logger.Info(msg, "percent", percent)
	if p.progress != nil {
		p.progress(msg, percent)
	}
}

func failure(res Result, kind Kind, format string, args ...any) Result {
	res.Status = StatusError
	res.Kind = kind
	res.Message = string(kind) + " error: " + fmt.Sprintf(format, args...)
	return res
}

// IngestFile ingests one document and records the outcome in the run log.
func (p *Pipeline) IngestFile(ctx context.Context, path string, opts Options) Result {
	started := p.now()
	res := p.ingest(ctx, path, opts)
	p.record(res, started)
	return res
}

func (p *Pipeline) record(res Result, started time.Time) {
	if p.runs == nil {
		return
	}
	_, err := p.runs.RecordRun(storage.Run{
		Path:       res.Path,
		BookID:     res.BookID,
		Status:     string(res.Status),
		Kind:       string(res.Kind),
		Message:    res.Message,
		Paragraphs: res.Paragraphs,
		Pages:      res.Pages,
		StartedAt:  started,
		FinishedAt: p.now(),
	})
	if err != nil {
		p.logger.Warn("recording ingest run failed", "path", res.Path, "error", err)
	}
}

func (p *Pipeline) ingest(ctx context.Context, path string, opts Options) Result {
	res := Result{Path: path}
	name := filepath.Base(path)

	info, err := os.Stat(path)
	if err != nil {
		return failure(res, KindSource, "file not found: %s", path)
	}
	if info.IsDir() {
		return failure(res, KindSource, "%s is a directory", path)
	}
	bookID, err := registry.HashFile(path)
	if err != nil {
		return failure(res, KindSource, "%v", err)
	}
	res.BookID = bookID
	p.report("checking "+name, 5)

	existing, err := p.books.Get(bookID)
	stale := false
	switch {
	case errors.Is(err, registry.ErrNotFound):
	case err != nil:
		return failure(res, KindStorage, "reading registry: %v", err)
	case existing.Status == registry.StatusReady && !opts.Force:
		stored, err := p.index.CountBook(ctx, bookID)
		if err != nil {
			return failure(res, KindStorage, "counting stored paragraphs: %v", err)
		}
		if stored > 0 || existing.Paragraphs == 0 {
			res.Status = StatusSkipped
			res.Message = fmt.Sprintf("already ingested as %q", existing.Title)
			res.Paragraphs = existing.Paragraphs
			res.Pages = existing.Pages
			return res
		}
		p.logger.Warn("ready book has no stored paragraphs, re-ingesting", "book_id", bookID, "expected", existing.Paragraphs)
		stale = true
	default:
		// Forced, or a previous attempt never reached ready.
		stale = true
	}

	p.report("parsing "+name, 15)
	doc, err := p.open(ctx, path)
	if err != nil {
		return failure(res, KindSource, "%v", err)
	}
	res.Pages = doc.Pages
	p.report(fmt.Sprintf("%d paragraphs extracted", len(doc.Paragraphs)), 25)

	extractor, err := p.readyExtractor(ctx)
	if err != nil {
		return failure(res, KindClassifier, "%v", err)
	}

	// Previous records go only once the new copy has parsed and the
	// classifier answered.
	if stale {
		p.report("removing previous records", 28)
		if _, err := p.index.DeleteBook(ctx, bookID); err != nil {
			return failure(res, KindStorage, "removing previous vectors: %v", err)
		}
		if err := p.books.Delete(bookID); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return failure(res, KindStorage, "removing previous record: %v", err)
		}
	}

	var earlier string
	switch prev, err := p.books.GetByFilename(name); {
	case err == nil && prev.ID != bookID:
		earlier = prev.ID
		p.logger.Info("file content changed since last ingest", "filename", name, "previous_book_id", prev.ID, "book_id", bookID)
	case err != nil && !errors.Is(err, registry.ErrNotFound):
		return failure(res, KindStorage, "reading registry: %v", err)
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	meta := registry.Metadata{Filename: name, Title: title, Pages: doc.Pages, Paragraphs: len(doc.Paragraphs)}
	if _, err := p.books.Add(bookID, meta); err != nil {
		return failure(res, KindStorage, "registering book: %v", err)
	}
	if err := p.books.UpdateStatus(bookID, registry.StatusProcessing); err != nil {
		return p.fail(res, KindStorage, "marking book processing: %v", err)
	}
	p.report("registered "+title, 30)

	results, stats := extractor.Extract(ctx, doc.Paragraphs)
	p.logger.Info("classified paragraphs",
		"book_id", bookID,
		"matched", stats.Matched,
		"positive", stats.Positive,
		"failures", stats.Failures,
	)
	p.report(fmt.Sprintf("%d of %d paragraphs reference a division", stats.Positive, stats.Paragraphs), 60)

	paragraphs := p.paragraphs(bookID, title, doc, results)

	p.report(fmt.Sprintf("embedding %d paragraphs", len(paragraphs)), 65)
	stored, err := p.index.AddBook(ctx, retrieval.BookMeta{ID: bookID, Name: title}, paragraphs)
	if err != nil {
		return p.fail(res, KindStorage, "%v", err)
	}
	res.Paragraphs = stored

	if err := p.books.UpdateMetadata(bookID, registry.Metadata{Paragraphs: stored}); err != nil {
		return p.fail(res, KindStorage, "updating book metadata: %v", err)
	}
	if err := p.books.UpdateStatus(bookID, registry.StatusReady); err != nil {
		return p.fail(res, KindStorage, "marking book ready: %v", err)
	}
	p.report("done: "+name, 100)

	res.Status = StatusSuccess
	res.Message = fmt.Sprintf("ingested %q", title)
	if earlier != "" {
		res.Message += fmt.Sprintf(" (an earlier copy of %s is stored as %s)", name, earlier)
	}
	return res
}

// fail marks the book error and returns the failure result.
func (p *Pipeline) fail(res Result, kind Kind, format string, args ...any) Result {
	if err := p.books.UpdateStatus(res.BookID, registry.StatusError); err != nil {
		p.logger.Error("marking book error failed", "book_id", res.BookID, "error", err)
	}
	return failure(res, kind, format, args...)
}

// readyExtractor probes the classifier, switching to the fallback when the
// probe fails and a fallback is configured.
func (p *Pipeline) readyExtractor(ctx context.Context) (*extract.Extractor, error) {
	err := p.extractor.Ready(ctx)
	if err == nil {
		return p.extractor, nil
	}
	if p.fallback == nil {
		return nil, err
	}
	p.logger.Warn("classifier unavailable, using pattern fallback", "error", err)
	return p.extractor.WithClassifier(p.fallback), nil
}

// paragraphs joins source pages with accepted chunks. Every paragraph is
// stored; only accepted chunks carry divisions and confidence.
func (p *Pipeline) paragraphs(bookID, title string, doc source.Document, results []extract.Result) []retrieval.Paragraph {
	pages := make([]int, len(doc.Paragraphs))
	for i, para := range doc.Paragraphs {
		pages[i] = para.Page
	}

	b := p.builder
	b.BookID, b.BookName = bookID, title
	accepted := make(map[int]chunk.Chunk)
	for _, c := range b.Build(results, pages) {
		accepted[c.Metadata.ParagraphIndex] = c
	}

	out := make([]retrieval.Paragraph, len(results))
	for i, r := range results {
		para := retrieval.Paragraph{Text: r.Text, Page: pages[i]}
		if para.Page <= 0 {
			para.Page, para.PageEstimated = chunk.EstimatePage(i, b.ParagraphsPerPage), true
		}
		if c, ok := accepted[i]; ok {
			para.Divisions = c.Metadata.Division
			para.Confidence = c.Metadata.Confidence
		}
		out[i] = para
	}
	return out
}

// IngestDir ingests every supported document directly inside dir, in name
// order, one at a time.
func (p *Pipeline) IngestDir(ctx context.Context, dir string, opts Options) (BatchResult, error) {
	paths, err := ListSupported(dir)
	if err != nil {
		return BatchResult{}, err
	}

	// A title names one book; it never applies to a whole directory.
	opts.Title = ""

	var batch BatchResult
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		p.logger.Info("ingesting", "file", filepath.Base(path), "index", i+1, "total", len(paths))
		res := p.IngestFile(ctx, path, opts)
		batch.Results = append(batch.Results, res)
		switch res.Status {
		case StatusSuccess:
			batch.Processed++
		case StatusSkipped:
			batch.Skipped++
		default:
			batch.Errors++
		}
	}
	return batch, nil
}

// ListSupported returns the supported documents directly inside dir, sorted
// by name.
func ListSupported(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !source.Supported(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
