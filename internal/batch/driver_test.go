package batch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louhivuori/wcbatch/internal/credstore"
	"github.com/louhivuori/wcbatch/internal/input"
	"github.com/louhivuori/wcbatch/internal/worldcat"
)

// sliceSource is an in-memory input.Source.
type sliceSource struct {
	rows []input.Row
	next int
}

func (s *sliceSource) Next() (input.Row, error) {
	if s.next >= len(s.rows) {
		return input.Row{}, io.EOF
	}

	row := s.rows[s.next]
	s.next++

	return row, nil
}

// newRow builds an input.Row with the lower-cased field keys the CSV source
// produces.
func newRow(index int, fields map[string]string) input.Row {
	m := make(map[string]string, len(fields))
	for k, v := range fields {
		m[strings.ToLower(k)] = v
	}

	return input.Row{Index: index, Fields: m}
}

// getCurrentRow is a row for the get-current operation.
func getCurrentRow(index int, mmsID, oclcNum string) input.Row {
	return newRow(index, map[string]string{
		ColumnMMSID:       mmsID,
		ColumnOCLCFrom035: oclcNum,
	})
}

// holdingRow is a row for the set/unset-holding operations.
func holdingRow(index int, oclcNum string) input.Row {
	return newRow(index, map[string]string{ColumnOCLCNumber: oclcNum})
}

// newTestDriver builds a Driver over a fake API server with seeded
// credentials so no token exchange happens.
func newTestDriver(t *testing.T, maxBatch int, handler http.Handler) *Driver {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := credstore.New(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, store.Save(credstore.Credentials{AccessToken: "tok", TokenType: "Bearer"}))

	tokens, err := worldcat.NewTokenManager("key", "secret", "https://oauth.example/token",
		store, srv.Client(), discardLogger())
	require.NoError(t, err)

	client := worldcat.NewClient(srv.URL, srv.URL, srv.Client(), tokens,
		worldcat.TransactionIDBuilder{}, discardLogger())

	return NewDriver(client, maxBatch, discardLogger())
}

// requestedNumbers parses the oclcNumbers parameter of a bulk request.
func requestedNumbers(r *http.Request) []string {
	return strings.Split(r.URL.Query().Get("oclcNumbers"), ",")
}

// writeControlNumbers responds as if every requested number is found and
// already current.
func writeControlNumbers(t *testing.T, w http.ResponseWriter, numbers []string) {
	t.Helper()

	resp := worldcat.ControlNumbersResponse{}
	for _, n := range numbers {
		resp.Entries = append(resp.Entries, worldcat.ControlNumberEntry{
			RequestedOclcNumber: n,
			CurrentOclcNumber:   n,
			Found:               true,
		})
	}

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	w.Write(body) //nolint:errcheck // test handler
}

// writeHoldings responds with the given status marker for every requested
// number.
func writeHoldings(t *testing.T, w http.ResponseWriter, numbers []string, status, detail string) {
	t.Helper()

	resp := worldcat.HoldingsResponse{}
	for _, n := range numbers {
		resp.Entries = append(resp.Entries, worldcat.HoldingEntry{
			RequestedOclcNumber: n,
			CurrentOclcNumber:   n,
			HTTPStatusCode:      status,
			ErrorDetail:         detail,
		})
	}

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	w.Write(body) //nolint:errcheck // test handler
}

func TestGetCurrentNumbersFlushesOnFullAndAtEOF(t *testing.T) {
	var batchSizes []int

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		numbers := requestedNumbers(r)
		batchSizes = append(batchSizes, len(numbers))
		writeControlNumbers(t, w, numbers)
	})

	d := newTestDriver(t, 3, handler)

	rows := make([]input.Row, 10)
	for i := range rows {
		rows[i] = getCurrentRow(i, "99"+strconv.Itoa(i), "100"+strconv.Itoa(i))
	}

	current := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: current, Old: &memSink{}, Errors: &memSink{}})

	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3, 1}, batchSizes)
	assert.Equal(t, 10, sum.RowsConsumed)
	assert.Equal(t, 10, sum.Tally[CategoryCurrent])
	assert.Equal(t, 4, sum.APIRequests)
	assert.False(t, sum.Halted)

	// Header plus one row per record.
	assert.Len(t, current.rows, 11)
}

func TestGetCurrentNumbersRowLevelErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeControlNumbers(t, w, requestedNumbers(r))
	})

	d := newTestDriver(t, 50, handler)

	rows := []input.Row{
		getCurrentRow(0, "991", "1001"),
		getCurrentRow(1, "992", "not-a-number"), // invalid OCLC number
		getCurrentRow(2, "991", "1003"),         // duplicate MMS ID
		getCurrentRow(3, "994", "1001"),         // duplicate OCLC number
		getCurrentRow(4, "995", "1005"),
	}

	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: &memSink{}, Old: &memSink{}, Errors: errs})

	require.NoError(t, err)
	assert.Equal(t, 5, sum.RowsConsumed)
	assert.Equal(t, 2, sum.Tally[CategoryCurrent])
	assert.Equal(t, 3, sum.Tally[CategoryError])
	assert.False(t, sum.Halted)

	require.Len(t, errs.rows, 4) // header + 3 errors
	assert.Contains(t, errs.rows[2][2], "already been processed")
	assert.Contains(t, errs.rows[3][2], "already been processed")
}

func TestGetCurrentNumbersMissingColumnHalts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeControlNumbers(t, w, requestedNumbers(r))
	})

	d := newTestDriver(t, 50, handler)

	src := &sliceSource{rows: []input.Row{
		newRow(0, map[string]string{ColumnMMSID: "991"}), // no OCLC number column
		newRow(1, map[string]string{ColumnMMSID: "992"}),
	}}

	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), src,
		GetCurrentSinks{Current: &memSink{}, Old: &memSink{}, Errors: errs})

	var missing *MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ColumnOCLCFrom035, missing.Column)

	assert.True(t, sum.Halted)
	assert.Equal(t, 1, sum.RowsConsumed)
	assert.Equal(t, 1, sum.Tally[CategoryError])
	assert.Equal(t, 1, src.next, "remaining rows must not be consumed")
	assert.Len(t, errs.rows, 2) // header + 1 error
}

func TestGetCurrentNumbersAttributesBatchFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"server error"}`)) //nolint:errcheck // test handler
	})

	d := newTestDriver(t, 50, handler)

	rows := []input.Row{
		getCurrentRow(0, "991", "1001"),
		getCurrentRow(1, "992", "1002"),
	}

	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: &memSink{}, Old: &memSink{}, Errors: errs})

	var httpErr *worldcat.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)

	assert.True(t, sum.Halted)
	assert.Equal(t, 2, sum.Tally[CategoryError])

	require.Len(t, errs.rows, 3) // header + one row per buffered record
	assert.Equal(t, "991", errs.rows[1][0])
	assert.Contains(t, errs.rows[1][2], "Error making WorldCat API request (record #1 of 2 in batch)")
	assert.Contains(t, errs.rows[2][2], "Error making WorldCat API request (record #2 of 2 in batch)")
}

func TestGetCurrentNumbersMalformedResponseHaltsWithoutAttribution(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>proxy error</html>`)) //nolint:errcheck // test handler
	})

	d := newTestDriver(t, 50, handler)

	rows := []input.Row{
		getCurrentRow(0, "991", "1001"),
		getCurrentRow(1, "992", "1002"),
	}

	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: &memSink{}, Old: &memSink{}, Errors: errs})

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)

	assert.True(t, sum.Halted)
	assert.Equal(t, 0, sum.Tally.Total(), "uninterpretable response must not move counters")
	assert.Empty(t, errs.rows, "no attribution rows for a response that could not be read")
}

func TestGetCurrentNumbersNonFatalBatchFailureContinues(t *testing.T) {
	flushes := 0

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flushes++
		if flushes == 1 {
			// Well-formed response naming a number that was never requested:
			// a classification failure, not a transport or HTTP one.
			writeControlNumbers(t, w, []string{"4040404"})

			return
		}

		writeControlNumbers(t, w, requestedNumbers(r))
	})

	d := newTestDriver(t, 2, handler)

	rows := []input.Row{
		getCurrentRow(0, "991", "1001"),
		getCurrentRow(1, "992", "1002"),
		getCurrentRow(2, "993", "1003"),
		getCurrentRow(3, "994", "1004"),
	}

	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: &memSink{}, Old: &memSink{}, Errors: errs})

	require.NoError(t, err)
	assert.False(t, sum.Halted)
	assert.Equal(t, 2, flushes)
	assert.Equal(t, 4, sum.RowsConsumed)
	assert.Equal(t, 2, sum.Tally[CategoryError], "first batch attributed as errors")
	assert.Equal(t, 2, sum.Tally[CategoryCurrent], "second batch processed normally")

	require.Len(t, errs.rows, 3)
	assert.Contains(t, errs.rows[1][2], "Error processing records buffer (record #1 of 2 in batch)")
}

func TestGetCurrentNumbersRejectedResponseLeavesCountsExact(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A valid buffered entry followed by a number that was never
		// requested. The whole response must be rejected before any entry
		// moves a counter, or the batch-level attribution that follows would
		// count the first record twice.
		writeControlNumbers(t, w, []string{requestedNumbers(r)[0], "4040404"})
	})

	d := newTestDriver(t, 2, handler)

	rows := []input.Row{
		getCurrentRow(0, "991", "1001"),
		getCurrentRow(1, "992", "1002"),
	}

	current := &memSink{}
	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: current, Old: &memSink{}, Errors: errs})

	require.NoError(t, err, "exact attribution must satisfy the end-of-run accounting")
	assert.False(t, sum.Halted)
	assert.Equal(t, 2, sum.RowsConsumed)
	assert.Equal(t, 0, sum.Tally[CategoryCurrent], "no entry classified from a rejected response")
	assert.Equal(t, 2, sum.Tally[CategoryError])
	assert.Empty(t, current.rows)
	require.Len(t, errs.rows, 3)
}

// brokenSink fails every write.
type brokenSink struct{}

func (brokenSink) Empty() bool { return true }

func (brokenSink) Append([]string) error { return errors.New("disk full") }

func TestGetCurrentNumbersOutputWriteFailureHalts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeControlNumbers(t, w, requestedNumbers(r))
	})

	d := newTestDriver(t, 50, handler)

	rows := []input.Row{getCurrentRow(0, "991", "1001")}

	errs := &memSink{}
	sum, err := d.GetCurrentNumbers(context.Background(), &sliceSource{rows: rows},
		GetCurrentSinks{Current: brokenSink{}, Old: &memSink{}, Errors: errs})

	var sinkErr *SinkWriteError
	require.ErrorAs(t, err, &sinkErr)
	assert.True(t, sum.Halted)
	assert.Empty(t, errs.rows, "no attribution rows when the output files themselves fail")
}

func TestProcessHoldingsSet(t *testing.T) {
	var methods []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		assert.Equal(t, "/ih/datalist", r.URL.Path)
		writeHoldings(t, w, requestedNumbers(r), worldcat.HoldingStatusOK, "")
	})

	d := newTestDriver(t, 2, handler)

	rows := []input.Row{
		holdingRow(0, "100"),
		holdingRow(1, "200"),
		holdingRow(2, "300"),
	}

	updated := &memSink{}
	sum, err := d.ProcessHoldings(context.Background(), &sliceSource{rows: rows},
		SetHolding, 0, HoldingSinks{Updated: updated, NoUpdateNeeded: &memSink{}, Errors: &memSink{}})

	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPost, http.MethodPost}, methods)
	assert.Equal(t, 3, sum.RowsConsumed)
	assert.Equal(t, 3, sum.Tally[CategoryUpdated])
	assert.Equal(t, 2, sum.APIRequests)
	assert.Len(t, updated.rows, 4)
}

func TestProcessHoldingsUnsetCascade(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("cascade"))
		writeHoldings(t, w, requestedNumbers(r), worldcat.HoldingStatusConflict, "Holding is not set")
	})

	d := newTestDriver(t, 50, handler)

	rows := []input.Row{holdingRow(0, "100"), holdingRow(1, "200")}

	noUpdate := &memSink{}
	sum, err := d.ProcessHoldings(context.Background(), &sliceSource{rows: rows},
		UnsetHolding, 1, HoldingSinks{Updated: &memSink{}, NoUpdateNeeded: noUpdate, Errors: &memSink{}})

	require.NoError(t, err)
	assert.Equal(t, 2, sum.Tally[CategoryNoUpdateNeeded])
	assert.Len(t, noUpdate.rows, 3)
}

func TestProcessHoldingsRowLevelErrorsAndDuplicates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHoldings(t, w, requestedNumbers(r), worldcat.HoldingStatusOK, "")
	})

	d := newTestDriver(t, 50, handler)

	rows := []input.Row{
		holdingRow(0, "ocm100"),
		holdingRow(1, "bogus!"),
		holdingRow(2, "(OCoLC)00000100"), // normalizes to 100, duplicate of row 0
		holdingRow(3, "200"),
	}

	errs := &memSink{}
	sum, err := d.ProcessHoldings(context.Background(), &sliceSource{rows: rows},
		SetHolding, 0, HoldingSinks{Updated: &memSink{}, NoUpdateNeeded: &memSink{}, Errors: errs})

	require.NoError(t, err)
	assert.Equal(t, 4, sum.RowsConsumed)
	assert.Equal(t, 2, sum.Tally[CategoryUpdated])
	assert.Equal(t, 2, sum.Tally[CategoryError])
	require.Len(t, errs.rows, 3)
	assert.Contains(t, errs.rows[2][2], "already been processed")
}
