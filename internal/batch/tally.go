package batch

import "fmt"

// Category names one outcome bucket. Every input row lands in exactly one
// category by the end of a run; the conservation check below enforces it.
type Category string

// Categories for the get-current-number operation.
const (
	CategoryCurrent Category = "current"
	CategoryOld     Category = "old"
	CategoryError   Category = "error"
)

// Categories for the set/unset-holding operations. CategoryError is shared.
const (
	CategoryUpdated        Category = "updated"
	CategoryNoUpdateNeeded Category = "no_update_needed"
)

// Categories for the search operation. CategoryError is shared.
const (
	CategoryMatched   Category = "matched"
	CategoryUnmatched Category = "unmatched"
)

// Tally counts outcomes per category. Mutated only by the classifier and the
// driver's failure-attribution path; never concurrently.
type Tally map[Category]int

// NewTally returns a Tally with the given categories pre-registered at zero,
// so the final summary lists every category even when its count stays 0.
func NewTally(categories ...Category) Tally {
	t := make(Tally, len(categories))
	for _, c := range categories {
		t[c] = 0
	}

	return t
}

// Inc increments the count for a category.
func (t Tally) Inc(c Category) {
	t[c]++
}

// AddN adds n to the count for a category.
func (t Tally) AddN(c Category, n int) {
	t[c] += n
}

// Total returns the sum over all categories.
func (t Tally) Total() int {
	sum := 0
	for _, n := range t {
		sum += n
	}

	return sum
}

// ConsistencyCheckError is raised at end of run when the per-category counts
// do not sum to the number of rows consumed from the input. It signals a
// logic defect in the buffer/classifier accounting, not a data problem.
type ConsistencyCheckError struct {
	RowsConsumed int
	Tallied      int
}

func (e *ConsistencyCheckError) Error() string {
	return fmt.Sprintf("batch: consistency check failed: %d row(s) consumed from input but %d tallied across output categories",
		e.RowsConsumed, e.Tallied)
}

// Summary is the final result of a run: per-category totals, how many rows
// were consumed from the input, how many API requests were made, and whether
// processing halted before the input was exhausted.
type Summary struct {
	Tally        Tally
	RowsConsumed int
	APIRequests  int
	Halted       bool

	// Search runs also report how many rows needed one versus two searches.
	RowsNeedingOneRequest  int
	RowsNeedingTwoRequests int
}
