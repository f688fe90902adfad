package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDF parses documents with a text layer, page by page.
type PDF struct{}

func (PDF) Parse(ctx context.Context, data []byte) (Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("opening pdf: %w", err)
	}

	n := reader.NumPage()
	doc := Document{Pages: n}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Document{}, fmt.Errorf("reading text of page %d: %w", i, err)
		}
		doc.Paragraphs = append(doc.Paragraphs, splitParagraphs(text, i)...)
	}
	return doc, nil
}
