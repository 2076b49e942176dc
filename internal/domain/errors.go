package domain

import "fmt"

// ParseReason classifies why a workbook could not be parsed.
type ParseReason string

const (
	ReasonMissingSheet    ParseReason = "missing-sheet"
	ReasonMissingColumn   ParseReason = "missing-column"
	ReasonNonNumericValue ParseReason = "non-numeric-value"
	ReasonMissingDate     ParseReason = "missing-date"
	ReasonDateMismatch    ParseReason = "date-mismatch"
)

// ParseError reports a workbook that deviates from the catalog layout.
type ParseError struct {
	Reason ParseReason
	Sheet  string
	Cell   string
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse workbook: " + string(e.Reason)
	if e.Sheet != "" {
		msg += fmt.Sprintf(" (sheet %q", e.Sheet)
		if e.Cell != "" {
			msg += ", cell " + e.Cell
		}
		msg += ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
