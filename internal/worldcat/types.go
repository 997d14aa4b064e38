package worldcat

// Wire types for Metadata API response bodies. The client returns raw bytes;
// the classifier decodes into these.

// ControlNumberEntry is one per-record result from checkcontrolnumbers.
type ControlNumberEntry struct {
	RequestedOclcNumber string `json:"requestedOclcNumber"`
	CurrentOclcNumber   string `json:"currentOclcNumber"`
	// Found reports whether the requested number exists at all.
	Found bool `json:"found"`
	// Merged reports whether the requested number was merged into another
	// record; when false, the requested number is the current one.
	Merged bool `json:"merged"`
}

// ControlNumbersResponse is the body of a checkcontrolnumbers call.
type ControlNumbersResponse struct {
	Entries []ControlNumberEntry `json:"entry"`
}

// HoldingEntry is one per-record result from a set/unset holdings call. The
// outcome arrives as an embedded status marker string, e.g. "HTTP 200 OK" or
// "HTTP 409 Conflict", with detail text for non-OK outcomes.
type HoldingEntry struct {
	RequestedOclcNumber string `json:"requestedOclcNumber"`
	CurrentOclcNumber   string `json:"currentOclcNumber"`
	HTTPStatusCode      string `json:"httpStatusCode"`
	ErrorDetail         string `json:"errorDetail"`
}

// HoldingsResponse is the body of an ih/datalist call.
type HoldingsResponse struct {
	Entries []HoldingEntry `json:"entry"`
}

// Status markers inside HoldingEntry.HTTPStatusCode.
const (
	HoldingStatusOK       = "HTTP 200 OK"
	HoldingStatusConflict = "HTTP 409 Conflict"
)

// BriefRecord is one match from a brief-bibs search.
type BriefRecord struct {
	OclcNumber string `json:"oclcNumber"`
	Title      string `json:"title"`
	Creator    string `json:"creator"`
}

// BriefBibsResponse is the body of a brief-bibs search.
type BriefBibsResponse struct {
	NumberOfRecords int           `json:"numberOfRecords"`
	BriefRecords    []BriefRecord `json:"briefRecords"`
}
