package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/louhivuori/wcbatch/internal/batch"
	"github.com/louhivuori/wcbatch/internal/input"
)

// flagHeldFirst selects the two-pass search order: institution holdings
// first, falling back to a global search, instead of the reverse.
var flagHeldFirst bool

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <input.csv>",
		Short: "Find OCLC numbers by alternate record identifiers",
		Long: `Search WorldCat for each input row using its first available alternate
identifier, in priority order: LCCN Fixed, LCCN, ISBN, ISSN, then the
086 classification number (combined with the 074 item number when both
are present). Each row needs one or two brief-bib searches: one filtered
to your institution's holdings and one global, stopping early when the
first pass finds a single match.

The input file must contain the column "MMS ID"; the identifier columns
are optional. ISBN, ISSN, 086, and 074 accept multiple values separated
by semicolons.`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().BoolVar(&flagHeldFirst, "held-first", false,
		"search your institution's holdings before the global index")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	src, err := input.OpenCSV(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	sinks, closeAll, err := openSinks(rt.outputDir(), fileMatched, fileUnmatched, fileErrors)
	if err != nil {
		return err
	}
	defer closeAll()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	driver := batch.NewDriver(rt.Client, rt.Config.Batch.MaxRecordsPerRequest, rt.Logger)

	start := time.Now()

	sum, runErr := driver.Search(ctx, src, rt.Config.API.InstitutionSymbol, flagHeldFirst, batch.SearchSinks{
		Matched:   sinks[0],
		Unmatched: sinks[1],
		Errors:    sinks[2],
	})

	lines := summaryForTally(sum,
		[]batch.Category{batch.CategoryMatched, batch.CategoryUnmatched, batch.CategoryError},
		map[batch.Category]string{
			batch.CategoryMatched:   "Matched",
			batch.CategoryUnmatched: "Unmatched",
			batch.CategoryError:     "Errors",
		})
	lines = append(lines,
		summaryLine{Label: "One-request rows", Count: sum.RowsNeedingOneRequest},
		summaryLine{Label: "Two-request rows", Count: sum.RowsNeedingTwoRequests},
	)

	printSummary(os.Stdout, "Search WorldCat", sum, lines, time.Since(start))

	return runErr
}
