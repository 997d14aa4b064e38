package worldcat

import (
	"strings"
	"time"
)

// txnTimeFormat is the UTC timestamp layout inside transaction IDs.
const txnTimeFormat = "2006-01-02T15:04:05Z"

// TransactionIDBuilder assembles the transactionID correlation string sent
// with each bulk request: institution symbol, UTC timestamp, and principal
// ID joined with underscores. Any component may be empty, in which case it
// and its separator are omitted.
type TransactionIDBuilder struct {
	Enabled           bool
	InstitutionSymbol string
	PrincipalID       string

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// Build returns the transaction ID, or "" when disabled or when neither the
// institution symbol nor the principal ID is configured (a bare timestamp
// identifies nothing useful on the service side).
func (b TransactionIDBuilder) Build() string {
	if !b.Enabled {
		return ""
	}

	if b.InstitutionSymbol == "" && b.PrincipalID == "" {
		return ""
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	parts := make([]string, 0, 3)

	if b.InstitutionSymbol != "" {
		parts = append(parts, b.InstitutionSymbol)
	}

	parts = append(parts, now().UTC().Format(txnTimeFormat))

	if b.PrincipalID != "" {
		parts = append(parts, b.PrincipalID)
	}

	return strings.Join(parts, "_")
}
