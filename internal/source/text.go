package source

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Text parses plain text and Markdown. Form feeds separate pages; text with
// no form feed has unknown pagination.
type Text struct{}

func (Text) Parse(ctx context.Context, data []byte) (Document, error) {
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if !strings.Contains(s, "\f") {
		return Document{Paragraphs: splitParagraphs(s, 0)}, nil
	}

	pages := strings.Split(s, "\f")
	// A trailing form feed does not start a new page.
	if strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	var doc Document
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		doc.Paragraphs = append(doc.Paragraphs, splitParagraphs(p, i+1)...)
	}
	doc.Pages = len(pages)
	return doc, nil
}
