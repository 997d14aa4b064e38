package batch

import (
	"bytes"
	"encoding/csv"
	"io"
	"log/slog"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink collects rows in memory.
type memSink struct {
	rows [][]string
}

func (s *memSink) Empty() bool {
	return len(s.rows) == 0
}

func (s *memSink) Append(row []string) error {
	s.rows = append(s.rows, append([]string(nil), row...))

	return nil
}

// csvBytes renders the collected rows the way the CSV sinks write them.
func (s *memSink) csvBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.WriteAll(s.rows))

	return buf.Bytes()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyControlNumbers(t *testing.T) {
	buf := NewDictBuffer()
	require.NoError(t, buf.Add("1000000", "9911"))
	require.NoError(t, buf.Add("2000000", "9912"))
	require.NoError(t, buf.Add("3000000", "9913"))

	body := []byte(`{"entry": [
		{"requestedOclcNumber": "1000000", "currentOclcNumber": "1000000", "found": true, "merged": false},
		{"requestedOclcNumber": "2000000", "currentOclcNumber": "2500000", "found": true, "merged": true},
		{"requestedOclcNumber": "3000000", "currentOclcNumber": "", "found": false, "merged": false}
	]}`)

	tally := NewTally(CategoryCurrent, CategoryOld, CategoryError)
	current := &memSink{}
	old := &memSink{}
	errs := &memSink{}

	err := ClassifyControlNumbers(body, buf, tally,
		GetCurrentSinks{Current: current, Old: old, Errors: errs}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, tally[CategoryCurrent])
	assert.Equal(t, 1, tally[CategoryOld])
	assert.Equal(t, 1, tally[CategoryError])

	g := goldie.New(t)
	g.Assert(t, "control_numbers_current", current.csvBytes(t))
	g.Assert(t, "control_numbers_old", old.csvBytes(t))
	g.Assert(t, "control_numbers_errors", errs.csvBytes(t))
}

func TestClassifyControlNumbersMalformedBody(t *testing.T) {
	buf := NewDictBuffer()
	require.NoError(t, buf.Add("1000000", "9911"))

	tally := NewTally(CategoryCurrent, CategoryOld, CategoryError)
	sinks := GetCurrentSinks{Current: &memSink{}, Old: &memSink{}, Errors: &memSink{}}

	err := ClassifyControlNumbers([]byte(`<html>Bad Gateway</html>`), buf, tally, sinks, discardLogger())

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Body, "Bad Gateway")

	// A body that cannot be interpreted must not move any counters.
	assert.Equal(t, 0, tally.Total())
}

func TestClassifyControlNumbersUnknownEntry(t *testing.T) {
	buf := NewDictBuffer()
	require.NoError(t, buf.Add("1000000", "9911"))

	// A valid entry precedes the unknown one: rejection must happen before
	// any entry is tallied or written, so the caller's per-record attribution
	// stays exact.
	body := []byte(`{"entry": [
		{"requestedOclcNumber": "1000000", "currentOclcNumber": "1000000", "found": true, "merged": false},
		{"requestedOclcNumber": "4040404", "currentOclcNumber": "4040404", "found": true, "merged": false}
	]}`)

	tally := NewTally(CategoryCurrent, CategoryOld, CategoryError)
	current := &memSink{}
	sinks := GetCurrentSinks{Current: current, Old: &memSink{}, Errors: &memSink{}}

	err := ClassifyControlNumbers(body, buf, tally, sinks, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4040404")
	assert.NotErrorAs(t, err, new(*MalformedResponseError))
	assert.Equal(t, 0, tally.Total(), "rejected response must not move counters")
	assert.Empty(t, current.rows)
}

func TestClassifyHoldings(t *testing.T) {
	body := []byte(`{"entry": [
		{"requestedOclcNumber": "100", "currentOclcNumber": "100", "httpStatusCode": "HTTP 200 OK", "errorDetail": ""},
		{"requestedOclcNumber": "200", "currentOclcNumber": "250", "httpStatusCode": "HTTP 200 OK", "errorDetail": ""},
		{"requestedOclcNumber": "300", "currentOclcNumber": "300", "httpStatusCode": "HTTP 409 Conflict", "errorDetail": "Holding is already set"},
		{"requestedOclcNumber": "400", "currentOclcNumber": "400", "httpStatusCode": "HTTP 403 Forbidden", "errorDetail": "Access denied"}
	]}`)

	tally := NewTally(CategoryUpdated, CategoryNoUpdateNeeded, CategoryError)
	updated := &memSink{}
	noUpdate := &memSink{}
	errs := &memSink{}

	err := ClassifyHoldings(body, tally,
		HoldingSinks{Updated: updated, NoUpdateNeeded: noUpdate, Errors: errs}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 2, tally[CategoryUpdated])
	assert.Equal(t, 1, tally[CategoryNoUpdateNeeded])
	assert.Equal(t, 1, tally[CategoryError])

	g := goldie.New(t)
	g.Assert(t, "holdings_updated", updated.csvBytes(t))
	g.Assert(t, "holdings_no_update_needed", noUpdate.csvBytes(t))
	g.Assert(t, "holdings_errors", errs.csvBytes(t))
}

func TestClassifyHoldingsMalformedBody(t *testing.T) {
	tally := NewTally(CategoryUpdated, CategoryNoUpdateNeeded, CategoryError)
	sinks := HoldingSinks{Updated: &memSink{}, NoUpdateNeeded: &memSink{}, Errors: &memSink{}}

	err := ClassifyHoldings([]byte(`{"entry": [`), tally, sinks, discardLogger())

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 0, tally.Total())
}

func TestAppendRowWritesHeaderOnce(t *testing.T) {
	sink := &memSink{}

	require.NoError(t, appendRow(sink, []string{"A", "B"}, []string{"1", "2"}))
	require.NoError(t, appendRow(sink, []string{"A", "B"}, []string{"3", "4"}))

	assert.Equal(t, [][]string{{"A", "B"}, {"1", "2"}, {"3", "4"}}, sink.rows)
}
