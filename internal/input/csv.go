// Package input reads record rows from CSV input files. The reader is lazy
// and single-pass: rows stream through the batch driver one at a time, and
// the row index is carried along purely for error messages.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Row is one record from the input file. Fields maps lower-cased column
// headings to cell values. Index is the zero-based data-row position; the
// spreadsheet line number (header plus one-based rows) is Index+2.
type Row struct {
	Index  int
	Fields map[string]string
}

// Line returns the spreadsheet line number for error messages.
func (r Row) Line() int {
	return r.Index + 2
}

// Field returns the named column's value. The second return reports whether
// the column exists in the input file at all.
func (r Row) Field(name string) (string, bool) {
	v, ok := r.Fields[strings.ToLower(name)]
	return v, ok
}

// Source produces a finite, single-pass sequence of rows.
// Next returns io.EOF once the input is exhausted.
type Source interface {
	Next() (Row, error)
}

// CSVSource reads rows from a CSV file with a header row.
type CSVSource struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	index   int
}

// OpenCSV opens the CSV file at path and consumes its header row.
func OpenCSV(path string) (*CSVSource, error) {
	if !strings.HasSuffix(path, ".csv") {
		return nil, fmt.Errorf("input: invalid format for %s: must be a CSV file (.csv)", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: opening %s: %w", path, err)
	}

	r := csv.NewReader(f)
	// Input exports sometimes have ragged rows; pad instead of failing.
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("input: %s is empty (missing header row)", path)
	}

	if err != nil {
		f.Close()
		return nil, fmt.Errorf("input: reading header of %s: %w", path, err)
	}

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}

	return &CSVSource{file: f, reader: r, headers: normalized}, nil
}

// Next returns the next data row, or io.EOF when the file is exhausted.
func (s *CSVSource) Next() (Row, error) {
	cells, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return Row{}, io.EOF
	}

	if err != nil {
		return Row{}, fmt.Errorf("input: reading row %d: %w", s.index+2, err)
	}

	fields := make(map[string]string, len(s.headers))
	for i, h := range s.headers {
		if i < len(cells) {
			fields[h] = cells[i]
		} else {
			fields[h] = ""
		}
	}

	row := Row{Index: s.index, Fields: fields}
	s.index++

	return row, nil
}

// Close releases the underlying file.
func (s *CSVSource) Close() error {
	return s.file.Close()
}
