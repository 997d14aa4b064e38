// Package batch implements the records-buffer core: bounded identifier
// buffers that fill from an input row source, flush as single bulk API calls,
// and classify every per-record result into exactly one outcome category.
package batch

import "fmt"

// DuplicateIdentifierError reports an Add of an identifier that is already
// buffered. The driver dedupes rows before buffering, so hitting this is a
// programming error, not a data condition.
type DuplicateIdentifierError struct {
	Identifier string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("batch: identifier %s already exists in records buffer", e.Identifier)
}

// Buffer is the common surface of the three buffer variants. Capacity is not
// enforced here; the driver checks Len against the configured maximum and
// decides when to flush.
type Buffer interface {
	Len() int
	// Clear empties the buffer unconditionally. There is no partial clear.
	Clear()
}

// DictBuffer maps each original OCLC number to its companion MMS ID.
// Insertion order is preserved so request URLs and batch error rows are
// deterministic.
type DictBuffer struct {
	keys    []string
	entries map[string]string
}

// NewDictBuffer returns an empty dictionary buffer.
func NewDictBuffer() *DictBuffer {
	return &DictBuffer{entries: make(map[string]string)}
}

// Add stores an OCLC number with its MMS ID. Fails with
// *DuplicateIdentifierError if the OCLC number is already buffered.
func (b *DictBuffer) Add(oclcNumber, mmsID string) error {
	if _, exists := b.entries[oclcNumber]; exists {
		return &DuplicateIdentifierError{Identifier: oclcNumber}
	}

	b.keys = append(b.keys, oclcNumber)
	b.entries[oclcNumber] = mmsID

	return nil
}

// Len returns the number of buffered records.
func (b *DictBuffer) Len() int {
	return len(b.keys)
}

// Clear empties the buffer.
func (b *DictBuffer) Clear() {
	b.keys = b.keys[:0]
	b.entries = make(map[string]string)
}

// Numbers returns the buffered OCLC numbers in insertion order. The slice is
// read-only to callers during a flush.
func (b *DictBuffer) Numbers() []string {
	return b.keys
}

// CompanionID looks up the MMS ID for a buffered OCLC number.
func (b *DictBuffer) CompanionID(oclcNumber string) (string, bool) {
	id, ok := b.entries[oclcNumber]
	return id, ok
}

// SetBuffer holds a set of OCLC numbers, insertion-ordered.
type SetBuffer struct {
	keys []string
	seen map[string]struct{}
}

// NewSetBuffer returns an empty set buffer.
func NewSetBuffer() *SetBuffer {
	return &SetBuffer{seen: make(map[string]struct{})}
}

// Add stores an OCLC number. Fails with *DuplicateIdentifierError if the
// number is already buffered.
func (b *SetBuffer) Add(oclcNumber string) error {
	if _, exists := b.seen[oclcNumber]; exists {
		return &DuplicateIdentifierError{Identifier: oclcNumber}
	}

	b.keys = append(b.keys, oclcNumber)
	b.seen[oclcNumber] = struct{}{}

	return nil
}

// Len returns the number of buffered records.
func (b *SetBuffer) Len() int {
	return len(b.keys)
}

// Clear empties the buffer.
func (b *SetBuffer) Clear() {
	b.keys = b.keys[:0]
	b.seen = make(map[string]struct{})
}

// Numbers returns the buffered OCLC numbers in insertion order.
func (b *SetBuffer) Numbers() []string {
	return b.keys
}

// SearchRecord is the identifier tuple for one row of a search run. Every
// field except MMSID may be empty; multi-valued fields are ';'-separated.
type SearchRecord struct {
	Index             int
	MMSID             string
	LCCNFixed         string
	LCCN              string
	ISBN              string
	ISSN              string
	GovDocClassNum086 string
	GPOItemNum074     string
}

// SearchBuffer holds at most one search record at a time. Searches are
// issued per row, so "bulk" here means one tuple of alternate identifiers.
type SearchBuffer struct {
	records []SearchRecord
}

// NewSearchBuffer returns an empty search buffer.
func NewSearchBuffer() *SearchBuffer {
	return &SearchBuffer{}
}

// Add stores the record. Fails with *DuplicateIdentifierError if the buffer
// is not empty; it never holds more than one record.
func (b *SearchBuffer) Add(rec SearchRecord) error {
	if len(b.records) > 0 {
		return &DuplicateIdentifierError{Identifier: rec.MMSID}
	}

	b.records = append(b.records, rec)

	return nil
}

// Len returns 0 or 1.
func (b *SearchBuffer) Len() int {
	return len(b.records)
}

// Clear empties the buffer.
func (b *SearchBuffer) Clear() {
	b.records = b.records[:0]
}

// Record returns the buffered record. ok is false when the buffer is empty.
func (b *SearchBuffer) Record() (SearchRecord, bool) {
	if len(b.records) == 0 {
		return SearchRecord{}, false
	}

	return b.records[0], true
}
