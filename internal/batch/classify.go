package batch

import (
	"fmt"
	"log/slog"

	"github.com/segmentio/encoding/json"

	"github.com/louhivuori/wcbatch/internal/output"
	"github.com/louhivuori/wcbatch/internal/worldcat"
)

// Output column headings, written once per sink when it is first appended to.
var (
	headerCurrent = []string{"MMS ID", "Current OCLC Number"}
	headerOld     = []string{"MMS ID", "Current OCLC Number", "Original OCLC Number"}
	headerGetErr  = []string{"MMS ID", "OCLC Number", "Error"}

	headerUpdated    = []string{"Requested OCLC Number", "New OCLC Number (if applicable)", "Warning"}
	headerHoldingErr = []string{"Requested OCLC Number", "New OCLC Number (if applicable)", "Error"}
)

// GetCurrentSinks are the three output destinations for a
// get-current-number run.
type GetCurrentSinks struct {
	Current output.Sink
	Old     output.Sink
	Errors  output.Sink
}

// HoldingSinks are the three output destinations for a set/unset-holding run.
type HoldingSinks struct {
	Updated        output.Sink
	NoUpdateNeeded output.Sink
	Errors         output.Sink
}

// appendRow writes the header first when the sink is empty, then the row.
// Write failures come back as *SinkWriteError so the driver halts instead of
// attributing them to buffered records.
func appendRow(sink output.Sink, header, row []string) error {
	if sink.Empty() {
		if err := sink.Append(header); err != nil {
			return &SinkWriteError{Err: err}
		}
	}

	if err := sink.Append(row); err != nil {
		return &SinkWriteError{Err: err}
	}

	return nil
}

// ClassifyControlNumbers routes each per-record entry of a
// checkcontrolnumbers response into current, old, or error, writing one row
// per entry and incrementing the matching tally. A non-parseable body fails
// with *MalformedResponseError and leaves the tally untouched.
func ClassifyControlNumbers(
	body []byte,
	buf *DictBuffer,
	tally Tally,
	sinks GetCurrentSinks,
	logger *slog.Logger,
) error {
	var resp worldcat.ControlNumbersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &MalformedResponseError{Err: err, Body: string(body)}
	}

	// Validate the whole response against the buffer before tallying or
	// writing anything: a rejected response must leave counters untouched so
	// the caller's batch-level attribution counts every record exactly once.
	for _, entry := range resp.Entries {
		if _, ok := buf.CompanionID(entry.RequestedOclcNumber); !ok {
			// The response mentions a number this buffer never requested;
			// the buffer and the request body diverged.
			return fmt.Errorf("batch: response entry %s has no buffered record", entry.RequestedOclcNumber)
		}
	}

	for _, entry := range resp.Entries {
		mmsID, _ := buf.CompanionID(entry.RequestedOclcNumber)

		switch {
		case !entry.Found:
			logger.Warn("requested OCLC number not found",
				slog.String("oclc_number", entry.RequestedOclcNumber),
				slog.String("mms_id", mmsID),
			)

			tally.Inc(CategoryError)

			if err := appendRow(sinks.Errors, headerGetErr, []string{
				mmsID,
				entry.RequestedOclcNumber,
				"OCLC number not found",
			}); err != nil {
				return err
			}
		case !entry.Merged:
			tally.Inc(CategoryCurrent)

			if err := appendRow(sinks.Current, headerCurrent, []string{
				mmsID,
				entry.CurrentOclcNumber,
			}); err != nil {
				return err
			}
		default:
			tally.Inc(CategoryOld)

			if err := appendRow(sinks.Old, headerOld, []string{
				mmsID,
				entry.CurrentOclcNumber,
				entry.RequestedOclcNumber,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// ClassifyHoldings routes each per-record entry of a set/unset-holding
// response by its embedded HTTP status marker: 200 is updated, 409 is
// no-update-needed, anything else is an error. When the service reports a
// different current number than the one requested, the row carries a warning
// that the source catalog record may need separate correction.
func ClassifyHoldings(
	body []byte,
	tally Tally,
	sinks HoldingSinks,
	logger *slog.Logger,
) error {
	var resp worldcat.HoldingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &MalformedResponseError{Err: err, Body: string(body)}
	}

	for _, entry := range resp.Entries {
		newNumber := ""
		warning := ""

		if entry.CurrentOclcNumber != entry.RequestedOclcNumber {
			newNumber = entry.CurrentOclcNumber
			warning = fmt.Sprintf(
				"Warning: OCLC number %s has been updated to %s. Consider updating the catalog record.",
				entry.RequestedOclcNumber, newNumber)

			logger.Warn("requested OCLC number superseded",
				slog.String("requested", entry.RequestedOclcNumber),
				slog.String("current", entry.CurrentOclcNumber),
			)
		}

		switch entry.HTTPStatusCode {
		case worldcat.HoldingStatusOK:
			tally.Inc(CategoryUpdated)

			if err := appendRow(sinks.Updated, headerUpdated, []string{
				entry.RequestedOclcNumber,
				newNumber,
				warning,
			}); err != nil {
				return err
			}
		case worldcat.HoldingStatusConflict:
			tally.Inc(CategoryNoUpdateNeeded)

			detail := entry.ErrorDetail
			if warning != "" {
				detail = detail + ". " + warning
			}

			if err := appendRow(sinks.NoUpdateNeeded, headerHoldingErr, []string{
				entry.RequestedOclcNumber,
				newNumber,
				detail,
			}); err != nil {
				return err
			}
		default:
			logger.Warn("holding update failed",
				slog.String("oclc_number", entry.RequestedOclcNumber),
				slog.String("status", entry.HTTPStatusCode),
				slog.String("detail", entry.ErrorDetail),
			)

			tally.Inc(CategoryError)

			detail := fmt.Sprintf("%s: %s", entry.HTTPStatusCode, entry.ErrorDetail)
			if warning != "" {
				detail = detail + ". " + warning
			}

			if err := appendRow(sinks.Errors, headerHoldingErr, []string{
				entry.RequestedOclcNumber,
				newNumber,
				detail,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}
