package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/louhivuori/wcbatch/internal/input"
	"github.com/louhivuori/wcbatch/internal/output"
	"github.com/louhivuori/wcbatch/internal/record"
	"github.com/louhivuori/wcbatch/internal/worldcat"
)

// Input column headings. Matching is case-insensitive.
const (
	ColumnMMSID       = "MMS ID"
	ColumnOCLCFrom035 = "Unique OCLC Number from Alma Record's 035 $a"
	ColumnOCLCNumber  = "OCLC Number"
)

// HoldingOp selects between setting and unsetting holdings.
type HoldingOp int

const (
	SetHolding HoldingOp = iota + 1
	UnsetHolding
)

func (op HoldingOp) String() string {
	if op == UnsetHolding {
		return "unset"
	}

	return "set"
}

// Driver runs the batch-processing loop: pull rows from the source, validate
// and dedupe, fill the buffer, flush on full and at end of input, and keep
// every row accounted for in exactly one outcome category. Strictly
// sequential, one bulk request in flight at a time.
type Driver struct {
	client       *worldcat.Client
	maxBatchSize int
	logger       *slog.Logger
}

// NewDriver creates a driver. maxBatchSize is the server-enforced cap on
// identifiers per bulk request.
func NewDriver(client *worldcat.Client, maxBatchSize int, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{client: client, maxBatchSize: maxBatchSize, logger: logger}
}

// GetCurrentNumbers checks every input row's OCLC number for currency.
// Input columns: "MMS ID" and "Unique OCLC Number from Alma Record's 035 $a".
func (d *Driver) GetCurrentNumbers(ctx context.Context, src input.Source, sinks GetCurrentSinks) (Summary, error) {
	tally := NewTally(CategoryCurrent, CategoryOld, CategoryError)
	sum := Summary{Tally: tally}
	buf := NewDictBuffer()
	seen := make(map[string]struct{})

	var runErr error

	for runErr == nil && !sum.Halted {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			runErr = err
			sum.Halted = true

			break
		}

		sum.RowsConsumed++

		rawMMS, ok := row.Field(ColumnMMSID)
		if !ok {
			runErr = d.missingColumn(ColumnMMSID, tally, sinks.Errors, headerGetErr,
				func(msg string) []string { return []string{"", "", msg} })
			sum.Halted = true

			break
		}

		rawNum, ok := row.Field(ColumnOCLCFrom035)
		if !ok {
			runErr = d.missingColumn(ColumnOCLCFrom035, tally, sinks.Errors, headerGetErr,
				func(msg string) []string { return []string{rawMMS, "", msg} })
			sum.Halted = true

			break
		}

		mmsID, vErr := record.ValidateIdentifier(rawMMS, "MMS ID")
		if vErr != nil {
			if runErr = d.rowError(row, vErr, tally, sinks.Errors, headerGetErr,
				[]string{rawMMS, rawNum, vErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		oclcNum, vErr := record.ParseOCLCNumber(rawNum)
		if vErr != nil {
			if runErr = d.rowError(row, vErr, tally, sinks.Errors, headerGetErr,
				[]string{mmsID, rawNum, vErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		// Run-scoped dedup on both identifiers: a repeated MMS ID is a
		// repeated row, and a repeated OCLC number would collide in the
		// buffer's key space.
		dupErr := markSeen(seen, "mms:"+mmsID, fmt.Sprintf("record with MMS ID %s has already been processed", mmsID))
		if dupErr == nil {
			dupErr = markSeen(seen, "ocn:"+oclcNum, fmt.Sprintf("record with OCLC number %s has already been processed", oclcNum))
		}

		if dupErr != nil {
			if runErr = d.rowError(row, dupErr, tally, sinks.Errors, headerGetErr,
				[]string{mmsID, oclcNum, dupErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		// Dedup above guarantees this cannot collide; a failure here is a
		// defect in this driver and halts the run.
		if addErr := buf.Add(oclcNum, mmsID); addErr != nil {
			runErr = addErr
			sum.Halted = true

			break
		}

		if buf.Len() >= d.maxBatchSize {
			halt, flushErr := d.flushGetCurrent(ctx, buf, tally, sinks)
			buf.Clear()

			if halt {
				runErr = flushErr
				sum.Halted = true
			}
		}
	}

	if runErr == nil && !sum.Halted && buf.Len() > 0 {
		halt, flushErr := d.flushGetCurrent(ctx, buf, tally, sinks)
		buf.Clear()

		if halt {
			runErr = flushErr
			sum.Halted = true
		}
	}

	sum.APIRequests = d.client.RequestCount()

	if runErr == nil {
		runErr = checkConservation(sum)
	}

	return sum, runErr
}

// ProcessHoldings sets or unsets the institution's holding for every input
// row. Input column: "OCLC Number". cascade applies to unset only: 0 aborts
// per record when local holdings records exist, 1 forces removal.
func (d *Driver) ProcessHoldings(
	ctx context.Context,
	src input.Source,
	op HoldingOp,
	cascade int,
	sinks HoldingSinks,
) (Summary, error) {
	tally := NewTally(CategoryUpdated, CategoryNoUpdateNeeded, CategoryError)
	sum := Summary{Tally: tally}
	buf := NewSetBuffer()
	seen := make(map[string]struct{})

	var runErr error

	for runErr == nil && !sum.Halted {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			runErr = err
			sum.Halted = true

			break
		}

		sum.RowsConsumed++

		rawNum, ok := row.Field(ColumnOCLCNumber)
		if !ok {
			runErr = d.missingColumn(ColumnOCLCNumber, tally, sinks.Errors, headerHoldingErr,
				func(msg string) []string { return []string{"", "", msg} })
			sum.Halted = true

			break
		}

		oclcNum, vErr := record.ParseOCLCNumber(rawNum)
		if vErr != nil {
			if runErr = d.rowError(row, vErr, tally, sinks.Errors, headerHoldingErr,
				[]string{rawNum, "", vErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		dupErr := markSeen(seen, oclcNum, fmt.Sprintf("record with OCLC number %s has already been processed", oclcNum))
		if dupErr != nil {
			if runErr = d.rowError(row, dupErr, tally, sinks.Errors, headerHoldingErr,
				[]string{oclcNum, "", dupErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		if addErr := buf.Add(oclcNum); addErr != nil {
			runErr = addErr
			sum.Halted = true

			break
		}

		if buf.Len() >= d.maxBatchSize {
			halt, flushErr := d.flushHoldings(ctx, buf, op, cascade, tally, sinks)
			buf.Clear()

			if halt {
				runErr = flushErr
				sum.Halted = true
			}
		}
	}

	if runErr == nil && !sum.Halted && buf.Len() > 0 {
		halt, flushErr := d.flushHoldings(ctx, buf, op, cascade, tally, sinks)
		buf.Clear()

		if halt {
			runErr = flushErr
			sum.Halted = true
		}
	}

	sum.APIRequests = d.client.RequestCount()

	if runErr == nil {
		runErr = checkConservation(sum)
	}

	return sum, runErr
}

// flushGetCurrent dispatches one checkcontrolnumbers call and classifies the
// response. On failure it attributes the error to every buffered record,
// except for malformed responses and output write failures, which re-raise
// immediately. halt reports whether the run must stop.
func (d *Driver) flushGetCurrent(
	ctx context.Context,
	buf *DictBuffer,
	tally Tally,
	sinks GetCurrentSinks,
) (halt bool, err error) {
	d.logger.Debug("flushing records buffer",
		slog.String("operation", "get_current_number"),
		slog.Int("records", buf.Len()),
	)

	body, err := d.client.CheckControlNumbers(ctx, buf.Numbers())
	if err == nil {
		err = ClassifyControlNumbers(body, buf, tally, sinks, d.logger)
		if err == nil {
			return false, nil
		}
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return true, err
	}

	var sinkErr *SinkWriteError
	if errors.As(err, &sinkErr) {
		return true, err
	}

	f := classifyFlushFailure(err)

	n := buf.Len()
	for i, num := range buf.Numbers() {
		mmsID, _ := buf.CompanionID(num)
		msg := fmt.Sprintf("Error %s (record #%d of %d in batch): %v", f.Stage, i+1, n, f.Err)

		if wErr := appendRow(sinks.Errors, headerGetErr, []string{mmsID, num, msg}); wErr != nil {
			return true, wErr
		}

		tally.Inc(CategoryError)
	}

	d.logFailure(f, n)

	if f.Fatal {
		return true, f.Err
	}

	return false, nil
}

// flushHoldings dispatches one ih/datalist call and classifies the response.
// Same failure handling as flushGetCurrent.
func (d *Driver) flushHoldings(
	ctx context.Context,
	buf *SetBuffer,
	op HoldingOp,
	cascade int,
	tally Tally,
	sinks HoldingSinks,
) (halt bool, err error) {
	d.logger.Debug("flushing records buffer",
		slog.String("operation", op.String()+"_holding"),
		slog.Int("records", buf.Len()),
	)

	var body []byte

	if op == UnsetHolding {
		body, err = d.client.UnsetHoldings(ctx, buf.Numbers(), cascade)
	} else {
		body, err = d.client.SetHoldings(ctx, buf.Numbers())
	}

	if err == nil {
		err = ClassifyHoldings(body, tally, sinks, d.logger)
		if err == nil {
			return false, nil
		}
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return true, err
	}

	var sinkErr *SinkWriteError
	if errors.As(err, &sinkErr) {
		return true, err
	}

	f := classifyFlushFailure(err)

	n := buf.Len()
	for i, num := range buf.Numbers() {
		msg := fmt.Sprintf("Error %s (record #%d of %d in batch): %v", f.Stage, i+1, n, f.Err)

		if wErr := appendRow(sinks.Errors, headerHoldingErr, []string{num, "", msg}); wErr != nil {
			return true, wErr
		}

		tally.Inc(CategoryError)
	}

	d.logFailure(f, n)

	if f.Fatal {
		return true, f.Err
	}

	return false, nil
}

// rowError records a row-local failure: one error row, one error tally. The
// row is skipped; the run continues. The returned error is non-nil only when
// the sink itself failed.
func (d *Driver) rowError(
	row input.Row,
	cause error,
	tally Tally,
	sink output.Sink,
	header []string,
	outRow []string,
) error {
	d.logger.Warn("skipping row",
		slog.Int("line", row.Line()),
		slog.String("error", cause.Error()),
	)

	tally.Inc(CategoryError)

	return appendRow(sink, header, outRow)
}

// missingColumn records a required-column failure and returns the error that
// halts the run: every remaining row would fail identically.
func (d *Driver) missingColumn(
	column string,
	tally Tally,
	sink output.Sink,
	header []string,
	makeRow func(msg string) []string,
) error {
	missing := &MissingColumnError{Column: column}

	d.logger.Error("halting run", slog.String("error", missing.Error()))

	tally.Inc(CategoryError)

	if err := appendRow(sink, header, makeRow(missing.Error())); err != nil {
		return err
	}

	return missing
}

// markSeen adds key to the run-scoped dedup set, failing if already present.
func markSeen(seen map[string]struct{}, key, msg string) error {
	if _, dup := seen[key]; dup {
		return errors.New(msg)
	}

	seen[key] = struct{}{}

	return nil
}

// checkConservation verifies every consumed row landed in exactly one
// category.
func checkConservation(sum Summary) error {
	if got := sum.Tally.Total(); got != sum.RowsConsumed {
		return &ConsistencyCheckError{RowsConsumed: sum.RowsConsumed, Tallied: got}
	}

	return nil
}

// logFailure logs a batch-level failure after attribution.
func (d *Driver) logFailure(f Failure, records int) {
	d.logger.Error("batch failure attributed to buffered records",
		slog.String("stage", f.Stage),
		slog.Int("records_in_batch", records),
		slog.Bool("fatal", f.Fatal),
		slog.String("error", f.Err.Error()),
	)
}
