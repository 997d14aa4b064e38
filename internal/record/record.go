// Package record validates and normalizes bibliographic record identifiers.
// OCLC numbers arrive from catalog exports with an assortment of legacy
// prefixes and padding; everything downstream works with bare digit strings.
package record

import (
	"fmt"
	"strings"
)

// OrgCodePrefix is the OCLC organization code prefix found in MARC 035 $a
// values, e.g. "(OCoLC)00123456".
const OrgCodePrefix = "(OCoLC)"

// validPrefixes are the legacy alphabetic prefixes an OCLC number may carry.
// "|a" appears in some catalog exports where the subfield delimiter leaked
// into the value.
var validPrefixes = map[string]bool{
	"ocm": true,
	"ocn": true,
	"on":  true,
	"|a":  true,
}

// InvalidIdentifierError reports a value that cannot be used as a record
// identifier, with the field name it came from for error messages.
type InvalidIdentifierError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("record: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ValidateIdentifier trims the raw value and verifies it is a non-empty
// string of digits. Returns the normalized digit string.
func ValidateIdentifier(raw, field string) (string, error) {
	value := strings.TrimSpace(raw)
	value = strings.Trim(value, `"'`)

	if value == "" {
		return "", &InvalidIdentifierError{Field: field, Value: raw, Reason: "value is empty"}
	}

	for _, r := range value {
		if r < '0' || r > '9' {
			return "", &InvalidIdentifierError{
				Field:  field,
				Value:  value,
				Reason: "value contains a non-digit character",
			}
		}
	}

	return value, nil
}

// RemoveLeadingZeros strips leading zeros from an already-validated digit
// string. "0000123" becomes "123"; a string of all zeros collapses to "0".
func RemoveLeadingZeros(digits string) string {
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return "0"
	}

	return trimmed
}

// StripOrgCodePrefix removes the "(OCoLC)" prefix if present.
func StripOrgCodePrefix(value string) string {
	return strings.TrimPrefix(value, OrgCodePrefix)
}

// ParseOCLCNumber normalizes a raw OCLC number: strips the org code prefix,
// a legacy alphabetic prefix (ocm/ocn/on/|a), a single trailing '#', and
// leading zeros. Fails if what remains is not a non-zero digit string.
func ParseOCLCNumber(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	value = StripOrgCodePrefix(value)
	value = strings.TrimSpace(value)

	// Split off any alphabetic prefix ahead of the first digit.
	firstDigit := strings.IndexFunc(value, func(r rune) bool { return r >= '0' && r <= '9' })
	if firstDigit < 0 {
		return "", &InvalidIdentifierError{
			Field:  "OCLC number",
			Value:  raw,
			Reason: "value contains no digits",
		}
	}

	prefix := value[:firstDigit]
	digits := value[firstDigit:]

	if prefix != "" && !validPrefixes[prefix] {
		return "", &InvalidIdentifierError{
			Field:  "OCLC number",
			Value:  raw,
			Reason: fmt.Sprintf("invalid prefix %q (valid prefixes: ocm, ocn, on, |a)", prefix),
		}
	}

	// Tolerate a single trailing '#', seen in some exported records.
	digits = strings.TrimSuffix(digits, "#")

	normalized, err := ValidateIdentifier(digits, "OCLC number")
	if err != nil {
		return "", err
	}

	normalized = RemoveLeadingZeros(normalized)
	if normalized == "0" {
		return "", &InvalidIdentifierError{
			Field:  "OCLC number",
			Value:  raw,
			Reason: "value cannot be zero",
		}
	}

	return normalized, nil
}

// SplitAndJoin splits a multi-valued identifier field on sep, validates and
// prefixes each value with the given search index (e.g. "bn:"), and joins the
// results with " OR ". Empty and invalid values are dropped. Returns "" when
// no usable values remain.
func SplitAndJoin(raw, index, sep string) string {
	parts := strings.Split(raw, sep)
	terms := make([]string, 0, len(parts))

	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}

		terms = append(terms, index+value)
	}

	return strings.Join(terms, " OR ")
}
