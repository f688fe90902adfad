package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// defaultConfidence applies when the model omits the confidence field.
const defaultConfidence = 0.5

// Parsed is a successfully recovered classifier answer. Divisions are the raw
// names reported by the model, not yet mapped onto configured identifiers.
type Parsed struct {
	Divisions  []string
	Confidence float64
}

// Strategy attempts to recover a Parsed answer from raw model text.
// The boolean is false when the text is unparseable by this strategy.
type Strategy func(raw string) (Parsed, bool)

// cascade is tried in order; the first strategy that succeeds wins.
var cascade = []Strategy{
	decodeDirect,
	decodeFirstObject,
}

// ParseResponse runs the recovery cascade over raw model output.
// It never fails loudly: unrecoverable text yields ok == false.
func ParseResponse(raw string) (Parsed, bool) {
	for _, s := range cascade {
		if p, ok := s(raw); ok {
			return p, true
		}
	}
	return Parsed{}, false
}

// decodeDirect strips Markdown code fences and decodes the remainder as a
// single JSON object.
func decodeDirect(raw string) (Parsed, bool) {
	return decodeObject(stripFences(raw))
}

// decodeFirstObject decodes the first balanced {...} substring, skipping any
// prose the model wrapped around it.
func decodeFirstObject(raw string) (Parsed, bool) {
	obj, ok := firstObject(raw)
	if !ok {
		return Parsed{}, false
	}
	return decodeObject(obj)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag such as ```json.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// firstObject returns the first brace-balanced substring, honouring JSON
// string literals so braces inside quoted text are not counted.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

type wireAnswer struct {
	Divisions  json.RawMessage `json:"divisions"`
	Confidence json.RawMessage `json:"confidence"`
}

func decodeObject(s string) (Parsed, bool) {
	var w wireAnswer
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Parsed{}, false
	}
	divs, err := decodeDivisions(w.Divisions)
	if err != nil {
		return Parsed{}, false
	}
	return Parsed{Divisions: divs, Confidence: decodeConfidence(w.Confidence)}, true
}

// decodeDivisions accepts a list of strings or numbers, a single
// comma-joined string, or null/absent.
func decodeDivisions(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case float64:
				out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
			default:
				return nil, fmt.Errorf("unsupported division item %T", item)
			}
		}
		return out, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("divisions is neither a list nor a string: %w", err)
	}
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// decodeConfidence accepts a number or a numeric string. Absent or null
// values default to 0.5; anything else unreadable counts as 0.
func decodeConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return defaultConfidence
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Clamp(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return Clamp(f)
		}
	}
	return 0
}

// Clamp bounds a confidence to [0,1]. NaN becomes 0.
func Clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
