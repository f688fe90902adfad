package extract

import (
	"strings"
	"testing"
)

func TestBuildPrompt_ListsDivisionsAndParagraph(t *testing.T) {
	p := BuildPrompt("  The 5th Division held the ridge.  ", []string{"4", "5", "Gallipoli Group"})

	for _, want := range []string{"- 4\n", "- 5\n", "- Gallipoli Group\n", "Paragraph:\nThe 5th Division held the ridge.\n", `"confidence"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.HasSuffix(p, "JSON:") {
		t.Error("prompt should end with the JSON cue")
	}
}
