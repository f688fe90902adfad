// Package composer builds the chat prompts used to answer questions from
// retrieved passages, keeping the injected passages within a token budget.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/pagegeneral/internal/engine"
)

const (
	defaultMaxContextTokens = 4000
	separator               = "\n---\n"
)

// Source is one passage offered to the model.
type Source struct {
	Label string // citation label, e.g. "Gallipoli, p.12"
	Text  string
	Score float32 // higher is more relevant
}

// Composer assembles question prompts from passages.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for passages.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose builds the system and user messages for question. When the
// passages exceed the budget the lowest-scoring ones are dropped first; the
// kept passages stay in their given order. used holds the indexes of the
// sources that made it into the prompt.
func (c *Composer) Compose(instructions, question, division string, sources []Source) (msgs []engine.Message, used []int) {
	var head strings.Builder
	if division != "" {
		fmt.Fprintf(&head, "Division: %s\n\n", division)
	}
	head.WriteString("Passages:\n")
	tail := fmt.Sprintf("\nQuestion: %s\n", question)

	used = c.selectSources(sources, EstimateTokens(head.String())+EstimateTokens(tail))

	var sb strings.Builder
	sb.WriteString(head.String())
	for n, i := range used {
		if n > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(formatSource(sources[i]))
	}
	sb.WriteString(tail)

	msgs = []engine.Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: sb.String()},
	}
	return msgs, used
}

// selectSources picks sources by descending score until the budget left
// after reserved tokens runs out, and returns their indexes in input order.
func (c *Composer) selectSources(sources []Source, reserved int) []int {
	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sources[order[a]].Score > sources[order[b]].Score
	})

	remaining := c.MaxContextTokens - reserved
	picked := make([]int, 0, len(sources))
	for _, i := range order {
		tokens := EstimateTokens(separator + formatSource(sources[i]))
		if tokens > remaining {
			continue
		}
		picked = append(picked, i)
		remaining -= tokens
	}
	sort.Ints(picked)
	return picked
}

func formatSource(s Source) string {
	return fmt.Sprintf("[%s]\n%s\n", s.Label, s.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
