package extract

import (
	"reflect"
	"testing"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher([]string{"4", "5", "7", "9", "23", "24", "Gallipoli Group"}, nil, 20)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func TestMatch_NumberedReferences(t *testing.T) {
	m := newTestMatcher(t)

	matching := []string{
		"The 5th Division crossed the river at dawn.",
		"At noon the 24th Infantry Division was relieved.",
		"5. Piyade Tümeni komutanı cepheye gitmek üzere hazırlanıyordu.",
		"9 ncu Tümen sabaha karşı mevzilerine ulaştı.",
		"Yedinci alay ile birlikte 7. Fırka ileri sürüldü.",
		"Reinforcements from the Gallipoli Group arrived late.",
		"23RD DIVISION HEADQUARTERS MOVED TO THE VILLAGE.",
	}
	for _, text := range matching {
		if !m.Match(text) {
			t.Errorf("Match(%q) = false, want true", text)
		}
	}

	notMatching := []string{
		"The 15th Division crossed the river at dawn.",
		"Hava çok soğuktu ama askerler yürüyüşteydi.",
		"In 1915 five divisions were raised in the region.",
		"The 5th regiment lost contact with its flank.",
	}
	for _, text := range notMatching {
		if m.Match(text) {
			t.Errorf("Match(%q) = true, want false", text)
		}
	}
}

func TestMatch_ShortParagraphNeverMatches(t *testing.T) {
	m := newTestMatcher(t)
	if m.Match("5th Division") {
		t.Error("Match on text shorter than the minimum length should be false")
	}
	if m.Match("   5th Division here   ") {
		t.Error("minimum length must be measured on trimmed text")
	}
}

func TestMatch_ExtraPatterns(t *testing.T) {
	m, err := NewMatcher([]string{"4"}, []string{`dördüncü\s+tümen`}, 0)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if !m.Match("Dördüncü Tümen geri çekildi") {
		t.Error("extra pattern should participate in the pre-filter, case-insensitively")
	}
	if got := m.Find("Dördüncü Tümen geri çekildi"); len(got) != 0 {
		t.Errorf("Find() = %v, extra patterns must not produce identifiers", got)
	}
}

func TestNewMatcher_Errors(t *testing.T) {
	if _, err := NewMatcher(nil, nil, 20); err == nil {
		t.Error("expected error for empty division list")
	}
	if _, err := NewMatcher([]string{"5"}, []string{"(unclosed"}, 20); err == nil {
		t.Error("expected error for invalid extra pattern")
	}
}

func TestFind_OrderOfAppearance(t *testing.T) {
	m := newTestMatcher(t)
	got := m.Find("9. Piyade Tümeni ile 24. Piyade Tümeni ve 4. Tümen ortak operasyon yapacaklardı.")
	want := []string{"9", "24", "4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Find() = %v, want %v", got, want)
	}
}

func TestCanonical(t *testing.T) {
	m := newTestMatcher(t)
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"5", "5", true},
		{" 5 ", "5", true},
		{"5th Division", "5", true},
		{"4. Piyade Tümeni", "4", true},
		{"24.Tümen", "24", true},
		{"gallipoli group", "Gallipoli Group", true},
		{"12th Division", "", false},
		{"Beşinci Tümen", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := m.Canonical(c.in)
		if got != c.want || ok != c.wantOK {
			t.Errorf("Canonical(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestDivisions_DedupAndCommaStrip(t *testing.T) {
	m, err := NewMatcher([]string{"5", " 5", "Group, North", ""}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"5", "Group North"}
	if got := m.Divisions(); !reflect.DeepEqual(got, want) {
		t.Errorf("Divisions() = %v, want %v", got, want)
	}
}
