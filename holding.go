package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/louhivuori/wcbatch/internal/batch"
	"github.com/louhivuori/wcbatch/internal/input"
)

// flagCascade controls what unset-holding does when local holdings records
// exist: 0 aborts per record, 1 removes them along with the holding.
var flagCascade int

func newSetHoldingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-holding <input.csv>",
		Short: "Set the institution's holding on each record",
		Long: `Read OCLC numbers from the input CSV and set your institution's WorldCat
holding on each in bulk. Records updated, records already holding, and
records with errors are written to separate CSV files in the output
directory.

The input file must contain the column "OCLC Number".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldings(cmd, args, batch.SetHolding)
		},
	}
}

func newUnsetHoldingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unset-holding <input.csv>",
		Short: "Unset the institution's holding on each record",
		Long: `Read OCLC numbers from the input CSV and remove your institution's
WorldCat holding from each in bulk. Records updated, records with no
holding to remove, and records with errors are written to separate CSV
files in the output directory.

The input file must contain the column "OCLC Number".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldings(cmd, args, batch.UnsetHolding)
		},
	}

	cmd.Flags().IntVar(&flagCascade, "cascade", 0,
		"0 = abort per record when local holdings records exist, 1 = remove them too")

	return cmd
}

func runHoldings(cmd *cobra.Command, args []string, op batch.HoldingOp) error {
	if flagCascade != 0 && flagCascade != 1 {
		return fmt.Errorf("invalid --cascade value %d (must be 0 or 1)", flagCascade)
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}

	src, err := input.OpenCSV(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	sinks, closeAll, err := openSinks(rt.outputDir(), fileUpdated, fileNoUpdateNeeded, fileErrors)
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

	sum, runErr := driver.ProcessHoldings(ctx, src, op, flagCascade, batch.HoldingSinks{
		Updated:        sinks[0],
		NoUpdateNeeded: sinks[1],
		Errors:         sinks[2],
	})

	printSummary(os.Stdout, fmt.Sprintf("%s holdings", titleForOp(op)), sum, summaryForTally(sum,
		[]batch.Category{batch.CategoryUpdated, batch.CategoryNoUpdateNeeded, batch.CategoryError},
		map[batch.Category]string{
			batch.CategoryUpdated:        "Updated",
			batch.CategoryNoUpdateNeeded: "No update needed",
			batch.CategoryError:          "Errors",
		}), time.Since(start))

	return runErr
}

func titleForOp(op batch.HoldingOp) string {
	if op == batch.UnsetHolding {
		return "Unset"
	}

	return "Set"
}
