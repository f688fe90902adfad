package engine

// Message is one turn of a chat. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions carry the sampling settings from the ollama config section.
// A zero MaxTokens leaves the server default in place.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// PullProgress is one status line streamed while a model downloads.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Models names the model behind each role. An empty name means the role is
// not needed, e.g. the classifier when the pattern fallback may stand in.
type Models struct {
	Classifier string
	Embedding  string
	Answer     string
}

// Required returns the distinct non-empty names in classifier, embedding,
// answer order.
func (m Models) Required() []string {
	var out []string
	for _, name := range []string{m.Classifier, m.Embedding, m.Answer} {
		if name == "" || contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
