package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/louhivuori/wcbatch/internal/batch"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// summaryLine pairs a label with a count for the end-of-run report.
type summaryLine struct {
	Label string
	Count int
}

// printSummary writes the end-of-run report. Counts get locale-aware
// thousands separators; the decorative rule is skipped when stdout is not a
// terminal so piped output stays clean.
func printSummary(w io.Writer, title string, sum batch.Summary, lines []summaryLine, elapsed time.Duration) {
	p := message.NewPrinter(language.English)

	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(w, strings.Repeat("-", len(title)))
	}

	fmt.Fprintln(w, title)

	p.Fprintf(w, "  Rows processed:    %d\n", sum.RowsConsumed)

	for _, line := range lines {
		p.Fprintf(w, "  %-18s %d\n", line.Label+":", line.Count)
	}

	p.Fprintf(w, "  API requests made: %d\n", sum.APIRequests)

	if elapsed > 0 {
		fmt.Fprintf(w, "  Completed in:      %s\n", elapsed.Round(time.Millisecond))
	}

	if sum.Halted {
		fmt.Fprintln(w, "  Run halted before end of input.")
	}
}

// summaryForTally builds the per-category lines in a fixed display order.
func summaryForTally(sum batch.Summary, order []batch.Category, labels map[batch.Category]string) []summaryLine {
	lines := make([]summaryLine, 0, len(order))

	for _, c := range order {
		lines = append(lines, summaryLine{Label: labels[c], Count: sum.Tally[c]})
	}

	return lines
}
