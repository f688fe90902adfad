package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// divisionSep joins identifiers in the scalar storage column.
const divisionSep = ", "

// Divisions is an ordered list of division identifiers. The vector store keeps
// it in a single text column; Encode and DecodeDivisions are the only
// conversions between the two forms.
type Divisions []string

// NewDivisions normalises a list for storage: items are trimmed, commas are
// removed from inside items, and empty items and duplicates are dropped while
// keeping first-seen order. For any normalised list d,
// DecodeDivisions(d.Encode()) equals d.
func NewDivisions(items []string) Divisions {
	var out Divisions
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.TrimSpace(strings.ReplaceAll(it, ",", ""))
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// Encode returns the comma-joined storage form. An empty list encodes to "".
func (d Divisions) Encode() string {
	return strings.Join(d, divisionSep)
}

// DecodeDivisions splits a stored value back into a list, trimming whitespace
// and skipping empty items. "" decodes to an empty list.
func DecodeDivisions(s string) Divisions {
	var out Divisions
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Contains reports whether id is one of the divisions.
func (d Divisions) Contains(id string) bool {
	for _, x := range d {
		if x == id {
			return true
		}
	}
	return false
}

// MainCollection holds every paragraph of every book.
const MainCollection = "paragraphs"

const (
	// collectionPrefix keeps division collections apart from MainCollection
	// and already satisfies the 3-character minimum name length.
	collectionPrefix = "div_"
	maxNameLen       = 63
)

var transliterate = map[rune]string{
	'ı': "i", 'İ': "i", 'ş': "s", 'Ş': "s", 'ç': "c", 'Ç': "c",
	'ğ': "g", 'Ğ': "g", 'ü': "u", 'Ü': "u", 'ö': "o", 'Ö': "o",
	'â': "a", 'Â': "a", 'î': "i", 'Î': "i", 'û': "u", 'Û': "u",
	'é': "e", 'è': "e", 'ê': "e", 'ë': "e", 'á': "a", 'à': "a",
	'ä': "a", 'ó': "o", 'ò': "o", 'ô': "o", 'ú': "u", 'ù': "u",
	'í': "i", 'ì': "i", 'ï': "i", 'ñ': "n", 'ß': "ss",
}

// CollectionName maps a division identifier to its per-division collection.
// The mapping is deterministic: letters are lower-cased and transliterated to
// ASCII, whitespace becomes "_", dots are dropped and anything outside
// [a-z0-9_-] is removed. Names that would exceed 63 characters are truncated
// and suffixed with a digest of the original identifier, so long identifiers
// sharing a prefix stay distinct.
func CollectionName(division string) string {
	var sb strings.Builder
	sb.WriteString(collectionPrefix)
	for _, r := range strings.TrimSpace(division) {
		if s, ok := transliterate[r]; ok {
			sb.WriteString(s)
			continue
		}
		switch {
		case unicode.IsSpace(r):
			sb.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(unicode.ToLower(r))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		}
	}

	name := sb.String()
	if len(name) > maxNameLen {
		sum := sha256.Sum256([]byte(division))
		suffix := "_" + hex.EncodeToString(sum[:])[:8]
		name = name[:maxNameLen-len(suffix)] + suffix
	}
	return name
}
