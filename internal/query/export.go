package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ExportOptions selects what Export writes.
type ExportOptions struct {
	BookID            string
	OnlyWithDivisions bool
	IncludeEmbeddings bool
}

// Document is the export JSON document.
type Document struct {
	Summary    Summary     `json:"summary"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// ExportResult reports what ExportFile wrote.
type ExportResult struct {
	OutputFile      string   `json:"output_file"`
	TotalParagraphs int      `json:"total_paragraphs"`
	DivisionsFound  []string `json:"divisions_found"`
}

// Build assembles the export document. The summary always covers every
// paragraph in scope, even when OnlyWithDivisions trims the listing.
func (s *Service) Build(ctx context.Context, opts ExportOptions) (Document, error) {
	all, err := s.Paragraphs(ctx, ParagraphOptions{BookID: opts.BookID, IncludeEmbeddings: opts.IncludeEmbeddings})
	if err != nil {
		return Document{}, err
	}
	doc := Document{Summary: Summarize(all), Paragraphs: all}
	if opts.OnlyWithDivisions {
		doc.Paragraphs = make([]Paragraph, 0, doc.Summary.ParagraphsWithDivisions)
		for _, p := range all {
			if len(p.Metadata.Division) > 0 {
				doc.Paragraphs = append(doc.Paragraphs, p)
			}
		}
	}
	return doc, nil
}

// Export writes the export document to w as two-space indented JSON.
func (s *Service) Export(ctx context.Context, w io.Writer, opts ExportOptions) (Document, error) {
	doc, err := s.Build(ctx, opts)
	if err != nil {
		return Document{}, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return Document{}, fmt.Errorf("encoding export: %w", err)
	}
	return doc, nil
}

// DefaultExportPath returns the file ExportFile writes when given no path.
func (s *Service) DefaultExportPath(bookID string) string {
	name := "divisions_export.json"
	if bookID != "" {
		name = fmt.Sprintf("divisions_export_%s.json", bookID)
	}
	return filepath.Join(s.outputDir, name)
}

// ExportFile writes the export document to path, or to DefaultExportPath when
// path is empty. The file is replaced atomically.
func (s *Service) ExportFile(ctx context.Context, path string, opts ExportOptions) (ExportResult, error) {
	if path == "" {
		path = s.DefaultExportPath(opts.BookID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("creating export directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.json")
	if err != nil {
		return ExportResult{}, fmt.Errorf("creating export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	doc, err := s.Export(ctx, tmp, opts)
	if err != nil {
		tmp.Close()
		return ExportResult{}, err
	}
	if err := tmp.Close(); err != nil {
		return ExportResult{}, fmt.Errorf("closing export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ExportResult{}, fmt.Errorf("writing export file: %w", err)
	}

	s.logger.Info("export written", "path", path, "paragraphs", len(doc.Paragraphs))
	return ExportResult{
		OutputFile:      path,
		TotalParagraphs: len(doc.Paragraphs),
		DivisionsFound:  doc.Summary.Divisions,
	}, nil
}
