package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestText_FlatParagraphs(t *testing.T) {
	doc, err := Text{}.Parse(context.Background(), []byte("First line\ncontinues here.\n\n\nSecond paragraph.\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Paragraphs) != 2 {
		t.Fatalf("got %d paragraphs, want 2", len(doc.Paragraphs))
	}
	if doc.Paragraphs[0].Text != "First line continues here." {
		t.Errorf("paragraph 0 = %q", doc.Paragraphs[0].Text)
	}
	if doc.PagesKnown() || doc.Paragraphs[1].Page != 0 {
		t.Errorf("flat text should have unknown pages, got %+v", doc)
	}
}

func TestText_FormFeedPages(t *testing.T) {
	doc, err := Text{}.Parse(context.Background(), []byte("a one\n\na two\fb one\f"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Pages != 2 {
		t.Errorf("Pages = %d, want 2", doc.Pages)
	}
	want := []struct {
		text string
		page int
	}{{"a one", 1}, {"a two", 1}, {"b one", 2}}
	if len(doc.Paragraphs) != len(want) {
		t.Fatalf("got %d paragraphs, want %d", len(doc.Paragraphs), len(want))
	}
	for i, w := range want {
		if doc.Paragraphs[i].Text != w.text || doc.Paragraphs[i].Page != w.page {
			t.Errorf("paragraph %d = %+v, want %+v", i, doc.Paragraphs[i], w)
		}
	}
}

func TestHTML_BlocksBecomeParagraphs(t *testing.T) {
	page := `<html><head><title>x</title><style>p{}</style></head><body>
		<h1>The   Battle</h1>
		<p>The 5th Division <b>held</b> the ridge.</p>
		<script>var x = 1;</script>
		<ul><li>First item</li><li>Second item</li></ul>
	</body></html>`
	doc, err := HTML{}.Parse(context.Background(), []byte(page))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"The Battle", "The 5th Division held the ridge.", "First item", "Second item"}
	if len(doc.Paragraphs) != len(want) {
		t.Fatalf("got %d paragraphs %+v, want %d", len(doc.Paragraphs), doc.Paragraphs, len(want))
	}
	for i, w := range want {
		if doc.Paragraphs[i].Text != w {
			t.Errorf("paragraph %d = %q, want %q", i, doc.Paragraphs[i].Text, w)
		}
		if doc.Paragraphs[i].Page != 0 {
			t.Errorf("paragraph %d page = %d, want 0", i, doc.Paragraphs[i].Page)
		}
	}
}

func TestPDF_Corrupt(t *testing.T) {
	if _, err := (PDF{}).Parse(context.Background(), []byte("not a pdf")); err == nil {
		t.Error("expected error for corrupt pdf")
	}
}

func TestOpen_Dispatch(t *testing.T) {
	path := writeFile(t, "book.TXT", "One paragraph.\n\nAnother.")
	doc, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(doc.Paragraphs) != 2 {
		t.Errorf("got %d paragraphs, want 2", len(doc.Paragraphs))
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, writeFile(t, "book.docx", "x")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("docx error = %v, want ErrUnsupported", err)
	}
	if _, err := Open(ctx, writeFile(t, "empty.txt", "  \n\n ")); !errors.Is(err, ErrNoText) {
		t.Errorf("empty error = %v, want ErrNoText", err)
	}
	if _, err := Open(ctx, filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
	if !Supported("a.pdf") || Supported("a.docx") {
		t.Error("Supported mismatch")
	}
}
