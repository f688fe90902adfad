package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// boundary rejects matches glued to a preceding letter or digit, so "15th"
// never matches identifier "5".
const boundary = `(?:^|[^\p{L}\p{N}])`

// ordinalSuffix covers "5th", "5.", "5'inci", "5 nci", "5nci".
const ordinalSuffix = `(?:\s*(?:st|nd|rd|th)|\.|\s*'?[ıiuü]?nc[ıiuü])?`

// unitWord is the noun that follows a numbered division reference, allowing up
// to two qualifiers in between ("5th Infantry Division", "5. Piyade Tümeni").
const unitWord = `\s+(?:\p{L}+\s+){0,2}?(?:division|div\.|t[üu]men\p{L}*|f[ıi]rka\p{L}*)`

var leadingNumber = regexp.MustCompile(`^\d+`)

type idPattern struct {
	id string
	re *regexp.Regexp
}

// Matcher is the cheap pre-filter stage. It recognises the configured division
// identifiers in free text and maps free-form names back onto them.
type Matcher struct {
	combined  *regexp.Regexp
	ids       []idPattern
	numeric   map[string]string
	minLength int
}

// NewMatcher compiles a matcher for the given identifiers. Purely numeric
// identifiers match numbered unit references; any other identifier matches as
// an escaped literal. Extra patterns are OR-ed into the pre-filter only.
func NewMatcher(divisions, extraPatterns []string, minLength int) (*Matcher, error) {
	m := &Matcher{numeric: make(map[string]string), minLength: minLength}

	seen := make(map[string]bool)
	var alts []string
	for _, d := range divisions {
		d = strings.TrimSpace(strings.ReplaceAll(d, ",", ""))
		if d == "" || seen[strings.ToLower(d)] {
			continue
		}
		seen[strings.ToLower(d)] = true

		var expr string
		if isDigits(d) {
			n := normNumber(d)
			expr = boundary + `0*` + n + ordinalSuffix + unitWord
			m.numeric[n] = d
		} else {
			expr = boundary + regexp.QuoteMeta(d) + `(?:$|[^\p{L}\p{N}])`
		}
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern for division %q: %w", d, err)
		}
		m.ids = append(m.ids, idPattern{id: d, re: re})
		alts = append(alts, `(?:`+expr+`)`)
	}
	if len(m.ids) == 0 {
		return nil, fmt.Errorf("no division identifiers configured")
	}

	for _, p := range extraPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("compiling extra pattern %q: %w", p, err)
		}
		alts = append(alts, `(?:`+p+`)`)
	}

	combined, err := regexp.Compile(`(?i)` + strings.Join(alts, "|"))
	if err != nil {
		return nil, fmt.Errorf("compiling combined pattern: %w", err)
	}
	m.combined = combined
	return m, nil
}

// Divisions returns the configured identifiers in configuration order.
func (m *Matcher) Divisions() []string {
	out := make([]string, len(m.ids))
	for i, p := range m.ids {
		out[i] = p.id
	}
	return out
}

// Match reports whether the paragraph should be sent to the classifier.
// Paragraphs shorter than the minimum length never match.
func (m *Matcher) Match(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < m.minLength {
		return false
	}
	return m.combined.MatchString(text)
}

// Find returns the identifiers referenced in text, ordered by first
// occurrence. It ignores the minimum length and the extra patterns.
func (m *Matcher) Find(text string) []string {
	type hit struct {
		id  string
		pos int
	}
	var hits []hit
	for _, p := range m.ids {
		if loc := p.re.FindStringIndex(text); loc != nil {
			hits = append(hits, hit{id: p.id, pos: loc[0]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out
}

// Canonical maps a free-form division name, typically from model output, onto
// a configured identifier. "5th Division", "5. Piyade Tümeni" and "5" all map
// to "5" when "5" is configured.
func (m *Matcher) Canonical(name string) (string, bool) {
	name = strings.TrimSpace(strings.ReplaceAll(name, ",", " "))
	if name == "" {
		return "", false
	}
	for _, p := range m.ids {
		if strings.EqualFold(p.id, name) {
			return p.id, true
		}
	}
	if found := m.Find(name); len(found) == 1 {
		return found[0], true
	}
	if n := leadingNumber.FindString(name); n != "" {
		if id, ok := m.numeric[normNumber(n)]; ok {
			return id, true
		}
	}
	return "", false
}

func normNumber(s string) string {
	if n := strings.TrimLeft(s, "0"); n != "" {
		return n
	}
	return "0"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
