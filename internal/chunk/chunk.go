// Package chunk turns accepted extraction results into storage-ready records.
package chunk

import (
	"fmt"

	"github.com/kalambet/pagegeneral/internal/extract"
)

const (
	// DefaultThreshold is the minimum confidence for a result to become a chunk.
	DefaultThreshold = 0.5

	// DefaultParagraphsPerPage feeds EstimatePage when the source has no pages.
	DefaultParagraphsPerPage = 50
)

// Metadata is the normalised attribute set stored alongside a chunk.
type Metadata struct {
	Division       []string
	Confidence     float64
	SourcePage     int
	BookName       string
	BookID         string
	ParagraphIndex int
	// PageEstimated is true when SourcePage came from EstimatePage rather
	// than from the source document.
	PageEstimated bool
}

// Chunk is one accepted paragraph ready for the vector store.
type Chunk struct {
	ID       string
	Document string
	Metadata Metadata
}

// ID returns the chunk id for a paragraph index. It is unique within a book.
func ID(paragraphIndex int) string {
	return fmt.Sprintf("parag_%d", paragraphIndex)
}

// EstimatePage approximates a 1-based page number from a flat paragraph
// index. It is a heuristic for sources without pagination and is not accurate
// for real documents, whose page lengths vary.
func EstimatePage(paragraphIndex, paragraphsPerPage int) int {
	if paragraphsPerPage <= 0 {
		paragraphsPerPage = DefaultParagraphsPerPage
	}
	if paragraphIndex < 0 {
		paragraphIndex = 0
	}
	return paragraphIndex/paragraphsPerPage + 1
}

// Builder filters extraction results and attaches book identity.
type Builder struct {
	Threshold         float64
	ParagraphsPerPage int
	BookName          string
	BookID            string
}

// NewBuilder returns a Builder with the default threshold and page estimate.
func NewBuilder(bookID, bookName string) Builder {
	return Builder{
		Threshold:         DefaultThreshold,
		ParagraphsPerPage: DefaultParagraphsPerPage,
		BookName:          bookName,
		BookID:            bookID,
	}
}

// Accepts reports whether a result passes the builder's filter.
func (b Builder) Accepts(r extract.Result) bool {
	return len(r.Divisions) > 0 && r.Confidence >= b.Threshold
}

// Build converts accepted results into chunks. pages[i] is the known source
// page of paragraph i; a missing or zero entry falls back to EstimatePage.
// Build has no side effects and never returns more chunks than results.
func (b Builder) Build(results []extract.Result, pages []int) []Chunk {
	var out []Chunk
	for _, r := range results {
		if !b.Accepts(r) {
			continue
		}

		page, estimated := 0, false
		if r.ParagraphIndex >= 0 && r.ParagraphIndex < len(pages) {
			page = pages[r.ParagraphIndex]
		}
		if page <= 0 {
			page, estimated = EstimatePage(r.ParagraphIndex, b.ParagraphsPerPage), true
		}

		divs := make([]string, len(r.Divisions))
		copy(divs, r.Divisions)

		out = append(out, Chunk{
			ID:       ID(r.ParagraphIndex),
			Document: r.Text,
			Metadata: Metadata{
				Division:       divs,
				Confidence:     r.Confidence,
				SourcePage:     page,
				BookName:       b.BookName,
				BookID:         b.BookID,
				ParagraphIndex: r.ParagraphIndex,
				PageEstimated:  estimated,
			},
		})
	}
	return out
}
