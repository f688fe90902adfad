package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/pagegeneral/internal/ingest"
	"github.com/kalambet/pagegeneral/internal/query"
	"github.com/kalambet/pagegeneral/internal/registry"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Progress and diagnostics go to stderr so stdout stays pipeable.

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// printResult reports one ingested file: skips are warnings, not errors.
func printResult(res ingest.Result) {
	switch res.Status {
	case ingest.StatusSuccess:
		printSuccess("%s: %s", res.Path, res.Message)
	case ingest.StatusSkipped:
		printWarning("%s: %s", res.Path, res.Message)
	default:
		printError("%s: %s", res.Path, res.Message)
	}
}

var statusColors = map[registry.Status]string{
	registry.StatusReady:      colorGreen,
	registry.StatusError:      colorRed,
	registry.StatusPending:    colorYellow,
	registry.StatusProcessing: colorYellow,
}

// printBook writes one registry line. Status is padded before colouring so
// columns line up with colour on or off.
func printBook(w io.Writer, b registry.BookRecord) {
	fmt.Fprintf(w, "%s  %s  %4d pages  %5d paragraphs  %s\n",
		colorize(colorCyan, b.ID),
		colorize(statusColors[b.Status], fmt.Sprintf("%-10s", b.Status)),
		b.Pages,
		b.Paragraphs,
		b.Title,
	)
}

func printSummary(w io.Writer, sum query.Summary) {
	fmt.Fprintf(w, "Paragraphs:               %d\n", sum.TotalParagraphs)
	fmt.Fprintf(w, "Paragraphs with divisions: %d\n", sum.ParagraphsWithDivisions)
	if len(sum.DivisionCounts) == 0 {
		fmt.Fprintln(w, "No divisions found.")
		return
	}
	for _, c := range sum.DivisionCounts {
		fmt.Fprintf(w, "  %-20s %d\n", c.Division, c.Count)
	}
}

// pageLabel renders a source page; "~" marks a paragraphs-per-page estimate.
func pageLabel(m query.ParagraphMetadata) string {
	page := fmt.Sprintf("p.%d", m.SourcePage)
	if m.PageEstimated {
		page = "~" + page
	}
	return page
}

func printPassages(w io.Writer, passages []query.Passage) {
	if len(passages) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, p := range passages {
		fmt.Fprintf(w, "\n%s [%s, %s] [distance: %.3f]\n",
			colorize(colorBold, fmt.Sprintf("Result %d", i+1)), p.Metadata.BookName, pageLabel(p.Metadata), p.Distance)
		if len(p.Metadata.Division) > 0 {
			fmt.Fprintf(w, "  Divisions: %s\n", strings.Join(p.Metadata.Division, ", "))
		}
		fmt.Fprintf(w, "  %s\n", truncate(p.Document, 500))
	}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
