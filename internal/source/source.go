// Package source turns documents on disk into ordered paragraphs tagged with
// their source page.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/pagegeneral/internal/extract"
)

var (
	// ErrUnsupported is returned for file types no parser handles.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrNoText is returned when a document yields no paragraphs, e.g. a
	// scanned PDF without a text layer.
	ErrNoText = errors.New("no extractable text")
)

// Document is a parsed source document.
type Document struct {
	Paragraphs []extract.Paragraph
	// Pages is the page count reported by the source, or 0 when unknown.
	Pages int
}

// PagesKnown reports whether paragraphs carry real page numbers.
func (d Document) PagesKnown() bool { return d.Pages > 0 }

// Parser extracts paragraphs from raw document bytes.
type Parser interface {
	Parse(ctx context.Context, data []byte) (Document, error)
}

var parsers = map[string]Parser{
	".pdf":  PDF{},
	".html": HTML{},
	".htm":  HTML{},
	".txt":  Text{},
	".md":   Text{},
}

// Supported reports whether path has an extension a parser handles.
func Supported(path string) bool {
	_, ok := parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the supported file extensions.
func Extensions() []string {
	out := make([]string, 0, len(parsers))
	for ext := range parsers {
		out = append(out, ext)
	}
	return out
}

// Open reads path and parses it with the parser registered for its extension.
func Open(ctx context.Context, path string) (Document, error) {
	p, ok := parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := p.Parse(ctx, data)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if len(doc.Paragraphs) == 0 {
		return Document{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), ErrNoText)
	}
	return doc, nil
}

// splitParagraphs splits page text on blank lines, joining the lines of each
// paragraph with single spaces.
func splitParagraphs(text string, page int) []extract.Paragraph {
	var out []extract.Paragraph
	var lines []string
	flush := func() {
		if len(lines) == 0 {
			return
		}
		out = append(out, extract.Paragraph{Text: strings.Join(lines, " "), Page: page})
		lines = lines[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}
