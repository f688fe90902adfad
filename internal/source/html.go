package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// HTML parses web pages. Each block element becomes one paragraph; HTML has no
// pagination, so every paragraph has page 0.
type HTML struct{}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "blockquote": true, "td": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "pre": true, "br": true, "tr": true,
}

var skipTags = map[string]bool{"script": true, "style": true, "head": true, "noscript": true, "nav": true}

func (HTML) Parse(ctx context.Context, data []byte) (Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("parsing html: %w", err)
	}

	var doc Document
	var sb strings.Builder
	flush := func() {
		if text := strings.Join(strings.Fields(sb.String()), " "); text != "" {
			doc.Paragraphs = append(doc.Paragraphs, splitParagraphs(text, 0)...)
		}
		sb.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			if skipTags[n.Data] {
				return
			}
		}
		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(root)
	flush()

	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	return doc, nil
}
