package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/louhivuori/wcbatch/internal/input"
	"github.com/louhivuori/wcbatch/internal/output"
	"github.com/louhivuori/wcbatch/internal/record"
	"github.com/louhivuori/wcbatch/internal/worldcat"
)

// Alternate-identifier column headings for the search operation. Only
// "MMS ID" is required; the rest are optional and may be absent or empty.
const (
	ColumnLCCNFixed  = "LCCN Fixed"
	ColumnLCCN       = "LCCN"
	ColumnISBN       = "ISBN"
	ColumnISSN       = "ISSN"
	ColumnGovDoc086  = "Government Document Classification Number"
	ColumnGPOItem074 = "GPO Item Number"
)

var (
	headerMatched   = []string{"MMS ID", "OCLC Number"}
	headerUnmatched = []string{"MMS ID", "Records Held by Institution", "Total Records"}
	headerSearchErr = []string{"MMS ID", "Error"}
)

// SearchSinks receive the per-row outcomes of the search operation.
type SearchSinks struct {
	Matched   output.Sink
	Unmatched output.Sink
	Errors    output.Sink
}

// searchOutcome is the result of up to two brief-bib searches for one row.
// Held and Total are -1 when the corresponding pass was not made.
type searchOutcome struct {
	OCLCNumber string
	Held       int
	Total      int
}

// BuildQuery builds a brief-bib search expression from the first available
// alternate identifier, in priority order: LCCN fixed, LCCN, ISBN, ISSN,
// then the 086 classification number (combined with the 074 item number when
// both are present; 074 alone is not searchable). Multi-valued fields are
// split on ';' and joined with OR. Returns "" when no identifier is usable.
func BuildQuery(rec SearchRecord) string {
	if v := strings.TrimSpace(rec.LCCNFixed); v != "" {
		return "nl:" + v
	}

	if v := strings.TrimSpace(rec.LCCN); v != "" {
		return "nl:" + v
	}

	if v := record.SplitAndJoin(rec.ISBN, "bn:", ";"); v != "" {
		return v
	}

	if v := record.SplitAndJoin(rec.ISSN, "in:", ";"); v != "" {
		return v
	}

	query := record.SplitAndJoin(rec.GovDocClassNum086, "", ";")
	if query == "" {
		return ""
	}

	if v := record.SplitAndJoin(rec.GPOItemNum074, "", ";"); v != "" {
		query += " AND " + v
	}

	return query
}

// Search looks up an OCLC number for every input row by its alternate
// identifiers. Each row needs one or two brief-bib requests: one pass with
// the "held by" filter and one without, ordered by heldFirst, stopping early
// when the first pass is decisive.
//
//   - heldFirst: search the institution's holdings first; fall back to a
//     global search only when the institution holds no matching record.
//   - global first: fall back to the held-by filter only when the global
//     search is ambiguous (more than one result).
//
// A row matches when the decisive pass returns exactly one record.
func (d *Driver) Search(
	ctx context.Context,
	src input.Source,
	symbol string,
	heldFirst bool,
	sinks SearchSinks,
) (Summary, error) {
	tally := NewTally(CategoryMatched, CategoryUnmatched, CategoryError)
	sum := Summary{Tally: tally}
	buf := NewSearchBuffer()
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
			runErr = d.missingColumn(ColumnMMSID, tally, sinks.Errors, headerSearchErr,
				func(msg string) []string { return []string{"", msg} })
			sum.Halted = true

			break
		}

		mmsID, vErr := record.ValidateIdentifier(rawMMS, "MMS ID")
		if vErr != nil {
			if runErr = d.rowError(row, vErr, tally, sinks.Errors, headerSearchErr,
				[]string{rawMMS, vErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		dupErr := markSeen(seen, mmsID, fmt.Sprintf("record with MMS ID %s has already been processed", mmsID))
		if dupErr != nil {
			if runErr = d.rowError(row, dupErr, tally, sinks.Errors, headerSearchErr,
				[]string{mmsID, dupErr.Error()}); runErr != nil {
				sum.Halted = true
			}

			continue
		}

		rec := searchRecordFromRow(row, mmsID)

		if addErr := buf.Add(rec); addErr != nil {
			runErr = addErr
			sum.Halted = true

			break
		}

		halt, rowErr := d.searchBuffered(ctx, buf, symbol, heldFirst, tally, &sum, sinks)
		buf.Clear()

		if halt {
			runErr = rowErr
			sum.Halted = true
		}
	}

	sum.APIRequests = d.client.RequestCount()

	if runErr == nil {
		runErr = checkConservation(sum)
	}

	return sum, runErr
}

// searchBuffered processes the single buffered record: builds the query,
// runs the one- or two-pass search, and classifies the outcome. The buffer
// holds exactly one record, so batch-level attribution reduces to one error
// row. halt reports whether the run must stop.
func (d *Driver) searchBuffered(
	ctx context.Context,
	buf *SearchBuffer,
	symbol string,
	heldFirst bool,
	tally Tally,
	sum *Summary,
	sinks SearchSinks,
) (halt bool, err error) {
	rec, ok := buf.Record()
	if !ok {
		return true, errors.New("batch: search buffer is empty")
	}

	query := BuildQuery(rec)
	if query == "" {
		qErr := fmt.Errorf("cannot build a valid search query: record must include at least one of "+
			"%s, %s, %s, %s, %s, and these are all empty or invalid",
			ColumnLCCNFixed, ColumnLCCN, ColumnISBN, ColumnISSN, ColumnGovDoc086)

		if wErr := d.rowError(input.Row{Index: rec.Index}, qErr, tally, sinks.Errors,
			headerSearchErr, []string{rec.MMSID, qErr.Error()}); wErr != nil {
			return true, wErr
		}

		return false, nil
	}

	before := d.client.RequestCount()

	outcome, err := d.searchTwoPass(ctx, query, symbol, heldFirst)
	if err != nil {
		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			return true, err
		}

		f := classifyFlushFailure(err)
		msg := fmt.Sprintf("Error %s (record #1 of 1 in batch): %v", f.Stage, f.Err)

		if wErr := appendRow(sinks.Errors, headerSearchErr, []string{rec.MMSID, msg}); wErr != nil {
			return true, wErr
		}

		tally.Inc(CategoryError)
		d.logFailure(f, 1)

		if f.Fatal {
			return true, f.Err
		}

		return false, nil
	}

	switch delta := d.client.RequestCount() - before; delta {
	case 1:
		sum.RowsNeedingOneRequest++
	case 2:
		sum.RowsNeedingTwoRequests++
	default:
		d.logger.Warn("unexpected request count for search row",
			slog.Int("line", rec.Index+2),
			slog.Int("requests", delta),
		)
	}

	if outcome.OCLCNumber != "" {
		tally.Inc(CategoryMatched)
		d.logger.Debug("search matched",
			slog.Int("line", rec.Index+2),
			slog.String("oclc_number", outcome.OCLCNumber),
		)

		if wErr := appendRow(sinks.Matched, headerMatched, []string{rec.MMSID, outcome.OCLCNumber}); wErr != nil {
			return true, wErr
		}

		return false, nil
	}

	tally.Inc(CategoryUnmatched)

	if wErr := appendRow(sinks.Unmatched, headerUnmatched, []string{
		rec.MMSID,
		formatCount(outcome.Held),
		formatCount(outcome.Total),
	}); wErr != nil {
		return true, wErr
	}

	return false, nil
}

// searchTwoPass runs the brief-bib search, making a second request only when
// the first pass is not decisive.
func (d *Driver) searchTwoPass(
	ctx context.Context,
	query, symbol string,
	heldFirst bool,
) (searchOutcome, error) {
	outcome := searchOutcome{Held: -1, Total: -1}

	if heldFirst {
		held, err := d.searchOnce(ctx, query, symbol)
		if err != nil {
			return outcome, err
		}

		outcome.Held = held.NumberOfRecords

		if held.NumberOfRecords > 0 {
			if held.NumberOfRecords == 1 {
				outcome.OCLCNumber = held.BriefRecords[0].OclcNumber
			}

			return outcome, nil
		}

		// The institution holds nothing matching; widen to all of WorldCat.
		global, err := d.searchOnce(ctx, query, "")
		if err != nil {
			return outcome, err
		}

		outcome.Total = global.NumberOfRecords
		if global.NumberOfRecords == 1 {
			outcome.OCLCNumber = global.BriefRecords[0].OclcNumber
		}

		return outcome, nil
	}

	global, err := d.searchOnce(ctx, query, "")
	if err != nil {
		return outcome, err
	}

	outcome.Total = global.NumberOfRecords

	if global.NumberOfRecords <= 1 {
		if global.NumberOfRecords == 1 {
			outcome.OCLCNumber = global.BriefRecords[0].OclcNumber
		}

		return outcome, nil
	}

	// Ambiguous global result; narrow with the "held by" filter.
	held, err := d.searchOnce(ctx, query, symbol)
	if err != nil {
		return outcome, err
	}

	outcome.Held = held.NumberOfRecords
	if held.NumberOfRecords == 1 {
		outcome.OCLCNumber = held.BriefRecords[0].OclcNumber
	}

	return outcome, nil
}

// searchOnce issues one brief-bib request and decodes the response.
func (d *Driver) searchOnce(ctx context.Context, query, heldBySymbol string) (worldcat.BriefBibsResponse, error) {
	var resp worldcat.BriefBibsResponse

	body, err := d.client.SearchBriefBibs(ctx, query, heldBySymbol)
	if err != nil {
		return resp, err
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, &MalformedResponseError{Err: err, Body: string(body)}
	}

	if resp.NumberOfRecords == 1 && len(resp.BriefRecords) == 0 {
		return resp, &MalformedResponseError{
			Err:  errors.New("response reports one record but carries none"),
			Body: string(body),
		}
	}

	return resp, nil
}

// searchRecordFromRow pulls the alternate-identifier columns from the row.
// Absent columns read as empty.
func searchRecordFromRow(row input.Row, mmsID string) SearchRecord {
	field := func(name string) string {
		v, _ := row.Field(name)

		return v
	}

	return SearchRecord{
		Index:             row.Index,
		MMSID:             mmsID,
		LCCNFixed:         field(ColumnLCCNFixed),
		LCCN:              field(ColumnLCCN),
		ISBN:              field(ColumnISBN),
		ISSN:              field(ColumnISSN),
		GovDocClassNum086: field(ColumnGovDoc086),
		GPOItemNum074:     field(ColumnGPOItem074),
	}
}

func formatCount(n int) string {
	if n < 0 {
		return ""
	}

	return strconv.Itoa(n)
}
