package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/pagegeneral/internal/engine"
	"github.com/kalambet/pagegeneral/internal/registry"
	"github.com/kalambet/pagegeneral/internal/retrieval"
)

type fakeBooks struct {
	books []registry.BookRecord
}

func (f *fakeBooks) Get(id string) (registry.BookRecord, error) {
	for _, b := range f.books {
		if b.ID == id {
			return b, nil
		}
	}
	return registry.BookRecord{}, registry.ErrNotFound
}

func (f *fakeBooks) ListReady() ([]registry.BookRecord, error) {
	var out []registry.BookRecord
	for _, b := range f.books {
		if b.Status == registry.StatusReady {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeIndex struct {
	records   []retrieval.Record
	lastScope retrieval.Scope
}

func (f *fakeIndex) inScope(r retrieval.Record, scope retrieval.Scope) bool {
	if scope.Division != "" && !r.Divisions.Contains(scope.Division) {
		return false
	}
	if len(scope.BookIDs) == 0 {
		return true
	}
	for _, id := range scope.BookIDs {
		if r.BookID == id {
			return true
		}
	}
	return false
}

func (f *fakeIndex) List(_ context.Context, scope retrieval.Scope) ([]retrieval.Record, error) {
	f.lastScope = scope
	var out []retrieval.Record
	for _, r := range f.records {
		if f.inScope(r, scope) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, scope retrieval.Scope, topK int) ([]retrieval.ScoredRecord, error) {
	f.lastScope = scope
	var out []retrieval.ScoredRecord
	for _, r := range f.records {
		if f.inScope(r, scope) && len(out) < topK {
			out = append(out, retrieval.ScoredRecord{Record: r, Distance: float32(len(out)) * 0.1})
		}
	}
	return out, nil
}

type fakeChatter struct {
	messages []engine.Message
	reply    string
	err      error
}

func (f *fakeChatter) Chat(_ context.Context, _ string, messages []engine.Message, _ engine.GenerateOptions) (string, error) {
	f.messages = messages
	return f.reply, f.err
}

// newCorpus builds a ready book "war" with 10 paragraphs, 4 with divisions,
// and an unready book "draft".
func newCorpus() (*fakeBooks, *fakeIndex) {
	books := &fakeBooks{books: []registry.BookRecord{
		{ID: "war", Title: "War", Status: registry.StatusReady},
		{ID: "draft", Title: "Draft", Status: registry.StatusProcessing},
	}}
	divs := map[int][]string{1: {"9"}, 3: {"5", "10"}, 6: {"5"}, 8: {"Gallipoli Group"}}
	idx := &fakeIndex{}
	for i := 0; i < 10; i++ {
		r := retrieval.Record{
			ID:             retrieval.ParagraphID("war", i),
			BookID:         "war",
			BookName:       "War",
			Document:       fmt.Sprintf("Paragraph %d & more", i),
			Embedding:      []float32{float32(i), 0.5},
			Divisions:      retrieval.NewDivisions(divs[i]),
			SourcePage:     i/5 + 1,
			ParagraphIndex: i,
		}
		if len(r.Divisions) > 0 {
			r.Confidence = 0.8
		}
		idx.records = append(idx.records, r)
	}
	idx.records = append(idx.records, retrieval.Record{
		ID: "draft_para_0", BookID: "draft", Document: "unready", Divisions: retrieval.Divisions{"5"},
	})
	return books, idx
}

func TestExport_OnlyWithDivisions(t *testing.T) {
	books, idx := newCorpus()
	svc := NewService(books, idx, t.TempDir())

	var buf bytes.Buffer
	doc, err := svc.Export(context.Background(), &buf, ExportOptions{OnlyWithDivisions: true})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(doc.Paragraphs) != 4 {
		t.Errorf("got %d paragraphs, want 4", len(doc.Paragraphs))
	}
	if doc.Summary.ParagraphsWithDivisions != 4 || doc.Summary.TotalParagraphs != 10 {
		t.Errorf("summary = %+v", doc.Summary)
	}

	var decoded struct {
		Summary    map[string]json.RawMessage `json:"summary"`
		Paragraphs []map[string]json.RawMessage
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if string(decoded.Paragraphs[0]["embedding"]) != "[]" {
		t.Errorf("embedding without IncludeEmbeddings = %s, want []", decoded.Paragraphs[0]["embedding"])
	}
	if string(decoded.Paragraphs[0]["id"]) != `"war_para_1"` {
		t.Errorf("first id = %s, want war_para_1", decoded.Paragraphs[0]["id"])
	}
	if !strings.Contains(buf.String(), "\n  \"summary\": {") {
		t.Error("export is not two-space indented")
	}
	if !strings.Contains(buf.String(), "Paragraph 1 & more") {
		t.Error("export escaped HTML characters")
	}
}

func TestExport_Deterministic(t *testing.T) {
	books, idx := newCorpus()
	svc := NewService(books, idx, t.TempDir())

	var a, b bytes.Buffer
	if _, err := svc.Export(context.Background(), &a, ExportOptions{IncludeEmbeddings: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := svc.Export(context.Background(), &b, ExportOptions{IncludeEmbeddings: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("two exports of the same corpus differ")
	}
	if !strings.Contains(a.String(), `"embedding": [
        3,
        0.5
      ]`) {
		t.Error("embeddings missing from export")
	}
}

func TestParagraphs_IDsUniqueAcrossBooks(t *testing.T) {
	books, idx := newCorpus()
	books.books = append(books.books, registry.BookRecord{ID: "peace", Title: "Peace", Status: registry.StatusReady})
	for i := 0; i < 3; i++ {
		idx.records = append(idx.records, retrieval.Record{
			ID: retrieval.ParagraphID("peace", i), BookID: "peace", BookName: "Peace",
			Document: fmt.Sprintf("Peace paragraph %d", i), ParagraphIndex: i,
		})
	}
	svc := NewService(books, idx, "")

	paras, err := svc.Paragraphs(context.Background(), ParagraphOptions{})
	if err != nil {
		t.Fatalf("Paragraphs: %v", err)
	}
	if len(paras) != 13 {
		t.Fatalf("got %d paragraphs, want 13", len(paras))
	}
	seen := make(map[string]bool)
	for _, p := range paras {
		if seen[p.ID] {
			t.Errorf("duplicate paragraph id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen["war_para_0"] || !seen["peace_para_0"] {
		t.Errorf("ids = %v, want both books' first paragraphs", seen)
	}

	scoped, err := svc.Paragraphs(context.Background(), ParagraphOptions{BookID: "peace"})
	if err != nil {
		t.Fatalf("Paragraphs(peace): %v", err)
	}
	if len(scoped) != 3 || scoped[2].ID != "peace_para_2" {
		t.Errorf("scoped paragraphs = %+v", scoped)
	}
}

func TestSummary_Ordering(t *testing.T) {
	books, idx := newCorpus()
	svc := NewService(books, idx, t.TempDir())

	sum, err := svc.Summary(context.Background(), "")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := []string{"5", "9", "10", "Gallipoli Group"}
	if strings.Join(sum.Divisions, "|") != strings.Join(want, "|") {
		t.Errorf("divisions = %v, want %v", sum.Divisions, want)
	}
	if sum.DivisionCounts.Get("5") != 2 || sum.DivisionCounts.Get("10") != 1 {
		t.Errorf("counts = %v", sum.DivisionCounts)
	}

	data, err := json.Marshal(sum.DivisionCounts)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"5":2,"9":1,"10":1,"Gallipoli Group":1}` {
		t.Errorf("division_counts = %s", data)
	}

	var back DivisionCounts
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(back) != 4 || back[2].Division != "10" {
		t.Errorf("decoded counts lost order: %v", back)
	}
}

func TestSortDivisions(t *testing.T) {
	ids := []string{"beta", "24", "007", "4", "Alpha", "100", "7"}
	SortDivisions(ids)
	want := "4|007|7|24|100|Alpha|beta"
	if got := strings.Join(ids, "|"); got != want {
		t.Errorf("sorted = %s, want %s", got, want)
	}
}

func TestSummary_EmptyScopes(t *testing.T) {
	books, idx := newCorpus()
	svc := NewService(books, idx, t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"draft", "unknown"} {
		sum, err := svc.Summary(ctx, id)
		if err != nil {
			t.Fatalf("Summary(%s): %v", id, err)
		}
		if sum.TotalParagraphs != 0 || len(sum.Divisions) != 0 {
			t.Errorf("Summary(%s) = %+v, want empty", id, sum)
		}
		data, _ := json.Marshal(sum)
		if !strings.Contains(string(data), `"divisions":[]`) || !strings.Contains(string(data), `"division_counts":{}`) {
			t.Errorf("empty summary JSON = %s", data)
		}
	}

	// The unready book never leaks into corpus-wide results.
	paras, err := svc.Paragraphs(ctx, ParagraphOptions{})
	if err != nil {
		t.Fatalf("Paragraphs: %v", err)
	}
	for _, p := range paras {
		if p.Metadata.BookID == "draft" {
			t.Error("paragraph of unready book listed")
		}
	}
	if len(idx.lastScope.BookIDs) != 1 || idx.lastScope.BookIDs[0] != "war" {
		t.Errorf("index scope = %+v, want ready books only", idx.lastScope)
	}
}

func TestListBooks_ReadyOnly(t *testing.T) {
	books, idx := newCorpus()
	got, err := NewService(books, idx, "").ListBooks()
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "war" {
		t.Errorf("ListBooks = %v", got)
	}
}

func TestSearch_Scopes(t *testing.T) {
	books, idx := newCorpus()
	svc := NewService(books, idx, "")
	ctx := context.Background()

	hits, err := svc.Search(ctx, "ridge", "", "5", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits in division 5, want 2", len(hits))
	}

	none, err := svc.Search(ctx, "ridge", "draft", "", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("Search in unready book = %v, %v; want empty", none, err)
	}
}

func TestAsk(t *testing.T) {
	books, idx := newCorpus()
	llm := &fakeChatter{reply: "  It held the ridge [War, p.1].  "}
	svc := NewService(books, idx, "").WithLLM(llm, "qwen2.5:7b", engine.GenerateOptions{Temperature: 0.1})

	ans, err := svc.Ask(context.Background(), "Where was the 5th?", "5", 5)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != "It held the ridge [War, p.1]." {
		t.Errorf("answer = %q", ans.Answer)
	}
	if len(ans.Sources) != 2 {
		t.Errorf("got %d sources, want 2", len(ans.Sources))
	}
	prompt := llm.messages[len(llm.messages)-1].Content
	for _, want := range []string{"Division: 5", "[War, p.1]", "[War, p.2]", "Question: Where was the 5th?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAsk_NoPassagesSkipsModel(t *testing.T) {
	books, idx := newCorpus()
	llm := &fakeChatter{reply: "unused"}
	svc := NewService(books, idx, "").WithLLM(llm, "m", engine.GenerateOptions{})

	ans, err := svc.Ask(context.Background(), "q", "42", 5)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if llm.messages != nil {
		t.Error("model called without passages")
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources = %v", ans.Sources)
	}
}

func TestAsk_Errors(t *testing.T) {
	books, idx := newCorpus()
	if _, err := NewService(books, idx, "").Ask(context.Background(), "q", "5", 5); !errors.Is(err, ErrNoLLM) {
		t.Errorf("Ask without LLM error = %v, want ErrNoLLM", err)
	}

	llm := &fakeChatter{err: errors.New("timeout")}
	svc := NewService(books, idx, "").WithLLM(llm, "m", engine.GenerateOptions{})
	if _, err := svc.Ask(context.Background(), "q", "5", 5); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Ask error = %v, want wrapped timeout", err)
	}
}

type reverseReranker struct{ got int }

func (r *reverseReranker) Rerank(_ context.Context, _ string, hits []retrieval.ScoredRecord) ([]retrieval.ScoredRecord, error) {
	r.got = len(hits)
	out := make([]retrieval.ScoredRecord, len(hits))
	for i, h := range hits {
		out[len(hits)-1-i] = h
	}
	return out, nil
}

func TestAsk_Reranked(t *testing.T) {
	books, idx := newCorpus()
	rr := &reverseReranker{}
	svc := NewService(books, idx, "").
		WithLLM(&fakeChatter{reply: "ok"}, "m", engine.GenerateOptions{}).
		WithReranker(rr)

	ans, err := svc.Ask(context.Background(), "q", "5", 1)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if rr.got != 2 {
		t.Errorf("reranker saw %d candidates, want 2", rr.got)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ID != "war_para_6" {
		t.Errorf("sources = %+v, want the reranked war_para_6 only", ans.Sources)
	}
}

func TestAsk_ContextBudget(t *testing.T) {
	books, idx := newCorpus()
	llm := &fakeChatter{reply: "unused"}
	svc := NewService(books, idx, "").
		WithLLM(llm, "m", engine.GenerateOptions{}).
		WithContextBudget(1)

	ans, err := svc.Ask(context.Background(), "q", "5", 5)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if llm.messages != nil {
		t.Error("model called although no passage fit the budget")
	}
	if len(ans.Sources) != 0 || ans.Answer == "" {
		t.Errorf("answer = %+v", ans)
	}
}

func TestExportFile_DefaultPath(t *testing.T) {
	books, idx := newCorpus()
	out := filepath.Join(t.TempDir(), "output")
	svc := NewService(books, idx, out)

	res, err := svc.ExportFile(context.Background(), "", ExportOptions{BookID: "war", OnlyWithDivisions: true})
	if err != nil {
		t.Fatalf("ExportFile: %v", err)
	}
	want := filepath.Join(out, "divisions_export_war.json")
	if res.OutputFile != want {
		t.Errorf("OutputFile = %q, want %q", res.OutputFile, want)
	}
	if res.TotalParagraphs != 4 || len(res.DivisionsFound) != 4 {
		t.Errorf("result = %+v", res)
	}

	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if doc.Summary.DivisionCounts.Get("5") != 2 {
		t.Errorf("decoded summary = %+v", doc.Summary)
	}

	entries, _ := os.ReadDir(out)
	if len(entries) != 1 {
		t.Errorf("export left %d files behind, want 1", len(entries))
	}
}
