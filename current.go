package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/louhivuori/wcbatch/internal/batch"
	"github.com/louhivuori/wcbatch/internal/input"
)

func newGetCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-current <input.csv>",
		Short: "Check each record's OCLC number for currency",
		Long: `Read MMS ID / OCLC number pairs from the input CSV and check each OCLC
number against WorldCat in bulk. Records whose number is already current,
records needing an update, and records with errors are written to separate
CSV files in the output directory.

The input file must contain the columns "MMS ID" and "Unique OCLC Number
from Alma Record's 035 $a".`,
		Args: cobra.ExactArgs(1),
		RunE: runGetCurrent,
	}
}

func runGetCurrent(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	src, err := input.OpenCSV(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	sinks, closeAll, err := openSinks(rt.outputDir(), fileAlreadyCurrent, fileNeedsCurrent, fileErrors)
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

	sum, runErr := driver.GetCurrentNumbers(ctx, src, batch.GetCurrentSinks{
		Current: sinks[0],
		Old:     sinks[1],
		Errors:  sinks[2],
	})

	printSummary(os.Stdout, "Get current OCLC numbers", sum, summaryForTally(sum,
		[]batch.Category{batch.CategoryCurrent, batch.CategoryOld, batch.CategoryError},
		map[batch.Category]string{
			batch.CategoryCurrent: "Already current",
			batch.CategoryOld:     "Needs update",
			batch.CategoryError:   "Errors",
		}), time.Since(start))

	return runErr
}
