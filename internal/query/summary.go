package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Summary describes the divisions found in a set of paragraphs.
type Summary struct {
	TotalParagraphs         int            `json:"total_paragraphs"`
	ParagraphsWithDivisions int            `json:"paragraphs_with_divisions"`
	Divisions               []string       `json:"divisions"`
	DivisionCounts          DivisionCounts `json:"division_counts"`
}

// DivisionCount is the number of paragraphs referencing one division.
type DivisionCount struct {
	Division string
	Count    int
}

// DivisionCounts is an ordered division -> count mapping. It encodes as a JSON
// object whose keys keep the slice order.
type DivisionCounts []DivisionCount

// Get returns the count for division, or 0.
func (d DivisionCounts) Get(division string) int {
	for _, c := range d {
		if c.Division == division {
			return c.Count
		}
	}
	return 0
}

func (d DivisionCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(c.Division)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(c.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *DivisionCounts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("division_counts: expected object, got %v", tok)
	}
	out := DivisionCounts{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("division_counts: unexpected key %v", tok)
		}
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("division_counts[%s]: %w", key, err)
		}
		out = append(out, DivisionCount{Division: key, Count: n})
	}
	*d = out
	return nil
}

func marshalNoEscape(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SortDivisions orders identifiers numerically when they are purely numeric;
// other identifiers follow, in lexicographic order.
func SortDivisions(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aErr := strconv.ParseUint(ids[i], 10, 64)
		b, bErr := strconv.ParseUint(ids[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			if a != b {
				return a < b
			}
			return ids[i] < ids[j]
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}

// Summarize derives a Summary from paragraphs.
func Summarize(paragraphs []Paragraph) Summary {
	counts := make(map[string]int)
	sum := Summary{TotalParagraphs: len(paragraphs)}
	for _, p := range paragraphs {
		if len(p.Metadata.Division) == 0 {
			continue
		}
		sum.ParagraphsWithDivisions++
		for _, d := range p.Metadata.Division {
			counts[d]++
		}
	}

	sum.Divisions = make([]string, 0, len(counts))
	for d := range counts {
		sum.Divisions = append(sum.Divisions, d)
	}
	SortDivisions(sum.Divisions)

	sum.DivisionCounts = make(DivisionCounts, len(sum.Divisions))
	for i, d := range sum.Divisions {
		sum.DivisionCounts[i] = DivisionCount{Division: d, Count: counts[d]}
	}
	return sum
}

// Summary summarises every paragraph of one ready book, or of all ready books
// when bookID is empty.
func (s *Service) Summary(ctx context.Context, bookID string) (Summary, error) {
	paragraphs, err := s.Paragraphs(ctx, ParagraphOptions{BookID: bookID})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(paragraphs), nil
}
