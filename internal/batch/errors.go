package batch

import (
	"errors"
	"fmt"

	"github.com/louhivuori/wcbatch/internal/worldcat"
)

// MalformedResponseError reports a bulk API response body that could not be
// parsed. It is never swallowed: a malformed response indicates systemic
// trouble that would recur on the next batch, so the run halts immediately
// with no batch-level attribution (the response could not be interpreted, so
// there is nothing to attribute).
type MalformedResponseError struct {
	Err  error
	Body string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("batch: malformed API response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// SinkWriteError reports a failed write to an output CSV file. It halts the
// run immediately with no batch-level attribution: the attribution rows
// would go to the same files.
type SinkWriteError struct {
	Err error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("batch: writing output row: %v", e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// MissingColumnError reports an input file without a required column. The
// affected row is recorded as an error and the run halts: every subsequent
// row would fail the same way.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("batch: input file must contain a column named %q", e.Column)
}

// FailureScope distinguishes a failure that dooms one row from one that
// dooms the whole buffered batch.
type FailureScope int

const (
	// RowLevel failures are recorded against a single row and skipped.
	RowLevel FailureScope = iota
	// BatchLevel failures are attributed to every identifier still buffered.
	BatchLevel
)

// Failure is the driver's decision about an error from the flush path: its
// scope, whether it halts the remaining input, and the stage label used in
// error rows. Branching on this struct rather than on error types at the
// call site keeps the skip-one-row versus drain-and-halt decision in one place.
type Failure struct {
	Scope FailureScope
	Fatal bool
	Stage string
	Err   error
}

// Stage labels for error rows.
const (
	stageRequest  = "making WorldCat API request"
	stageClassify = "processing records buffer"
)

// classifyFlushFailure maps an error from dispatch-or-classify into a
// Failure. HTTP and connection errors (including timeouts) are fatal batch
// failures; anything else from the flush path is a batch failure that does
// not halt the run.
//
// MalformedResponseError and SinkWriteError never reach here; the driver
// re-raises them before attribution.
func classifyFlushFailure(err error) Failure {
	var httpErr *worldcat.HTTPError
	if errors.As(err, &httpErr) {
		return Failure{Scope: BatchLevel, Fatal: true, Stage: stageRequest, Err: err}
	}

	var connErr *worldcat.ConnectionError
	if errors.As(err, &connErr) {
		return Failure{Scope: BatchLevel, Fatal: true, Stage: stageRequest, Err: err}
	}

	return Failure{Scope: BatchLevel, Fatal: false, Stage: stageClassify, Err: err}
}
