package extract

import (
	"fmt"
	"strings"
)

const promptHeader = `You are a military history annotator. Decide which of the listed divisions are referenced in the paragraph below. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

Rules:
- Only report divisions from the list.
- A division may be written as an ordinal ("5th Division", "5. Piyade Tümeni", "5 nci Tümen"), spelled out ("Beşinci Tümen", "Fifth Division"), or abbreviated ("5. Tüm.", "5th Div.").
- A bare number without a unit noun is not a reference.
- confidence is a number between 0 and 1.`

// BuildPrompt constructs the classification prompt for one paragraph.
func BuildPrompt(text string, divisions []string) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)

	sb.WriteString("\n\nKnown divisions:\n")
	for _, d := range divisions {
		fmt.Fprintf(&sb, "- %s\n", d)
	}

	sb.WriteString("\nParagraph:\n")
	sb.WriteString(strings.TrimSpace(text))

	sb.WriteString("\n\nRespond with:\n")
	sb.WriteString(`{"divisions": ["<division>", ...], "confidence": <number>}`)
	sb.WriteString("\nIf no listed division is referenced, respond with:\n")
	sb.WriteString(`{"divisions": [], "confidence": 0}`)
	sb.WriteString("\n\nJSON:")

	return sb.String()
}
