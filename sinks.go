package main

import (
	"path/filepath"

	"github.com/louhivuori/wcbatch/internal/output"
)

// Result file names, one trio per operation. Files are opened in append mode
// so an interrupted run can be resumed against the same directory.
const (
	fileAlreadyCurrent = "already_has_current_oclc_number.csv"
	fileNeedsCurrent   = "needs_current_oclc_number.csv"

	fileUpdated        = "records_updated.csv"
	fileNoUpdateNeeded = "records_with_no_update_needed.csv"

	fileMatched   = "records_with_oclc_num.csv"
	fileUnmatched = "records_with_zero_or_multiple_matches.csv"

	fileErrors = "records_with_errors.csv"
)

// openSinks opens one CSV sink per name under dir. On failure, sinks already
// opened are closed before returning. The returned closeAll is safe to defer
// alongside explicit error handling.
func openSinks(dir string, names ...string) ([]*output.CSVSink, func(), error) {
	sinks := make([]*output.CSVSink, 0, len(names))

	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	for _, name := range names {
		s, err := output.OpenCSV(filepath.Join(dir, name))
		if err != nil {
			closeAll()

			return nil, nil, err
		}

		sinks = append(sinks, s)
	}

	return sinks, closeAll, nil
}
