// Package output provides appendable row destinations for classification
// results. Each sink is a CSV file opened in append mode; the header row is
// written exactly once, the first time a row lands in an empty destination.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Sink is an appendable row destination. Empty reports whether the
// destination currently holds no data, so callers can emit a header first.
type Sink interface {
	Empty() bool
	Append(row []string) error
}

// filePerms for output CSV files.
const filePerms = 0o644

// CSVSink appends rows to a CSV file on disk. Rows are flushed to the file
// after every Append so a crash mid-run loses at most the in-flight row.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
	// wrote tracks whether this sink has appended anything, so Empty stays
	// correct without re-statting after every write.
	wrote bool
	empty bool
}

// OpenCSV opens (or creates) the file at path in append mode, creating
// parent directories as needed.
func OpenCSV(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("output: creating directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerms)
	if err != nil {
		return nil, fmt.Errorf("output: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("output: stat %s: %w", path, err)
	}

	return &CSVSink{
		file:   f,
		writer: csv.NewWriter(f),
		empty:  info.Size() == 0,
	}, nil
}

// Empty reports whether the underlying file holds no rows.
func (s *CSVSink) Empty() bool {
	return s.empty && !s.wrote
}

// Append writes one row and flushes it to the file.
func (s *CSVSink) Append(row []string) error {
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("output: writing row to %s: %w", s.file.Name(), err)
	}

	s.writer.Flush()

	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("output: flushing %s: %w", s.file.Name(), err)
	}

	s.wrote = true

	return nil
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	s.writer.Flush()

	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("output: flushing %s: %w", s.file.Name(), err)
	}

	return s.file.Close()
}
