package core

// error_messages.go maps technical errors to coded, user-facing messages.
//
// # Error Codes Reference
//
// Users quote the code to support staff for faster diagnosis. Codes are
// grouped by category:
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Patterns: "duplicate key"
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Timeout: Operation timed out
//	DB007 - Deadlock: Database was busy with conflicting operations
//	DB008 - Busy: The embedded database is locked by another writer
//	        Patterns: "database is locked"
//	DB009 - Not found: The record no longer exists
//	        Patterns: "store: not found"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Malformed CSV
//	FILE003 - Unreadable workbook ("cannot open workbook", "cannot read sheet")
//	FILE004 - No file provided
//	FILE005 - Empty file ("file is empty")
//	FILE006 - No header row ("no header row found")
//	FILE007 - Legacy .xls workbook ("legacy .xls")
//	FILE008 - Header row without data rows ("no data rows")
//
// # Import Session Errors (IMP001-IMP099)
//
//	IMP001 - Session expired ("import session not found")
//	IMP002 - Wrong step ("invalid session state")
//	IMP003 - Missing company ("company id is required")
//	IMP004 - Request cancelled ("context canceled")
//	IMP005 - Request timeout ("context deadline exceeded")
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Required field unmapped ("missing required mapping")
//	MAP002 - Nothing to backfill ("no backfill column is mapped")
//	MAP003 - Unknown field ("unknown field")
//	MAP004 - Unknown column ("column not found")
//	MAP005 - Unknown sheet ("sheet not found")
//
// # Normalization Errors (NRM001-NRM099)
//
//	NRM001 - Stale decision ("value is not pending review")
//	NRM002 - Conflicting decisions ("decided twice")
//	NRM003 - Empty decision ("no decisions submitted", "decision lists no values")
//	NRM004 - Wrong target ("not backed by a catalog")
//	NRM005 - Missing canonical name ("empty canonical name")
//
// # Commit Errors (CMT001-CMT099)
//
//	CMT001 - Duplicate serials ("duplicate serial numbers")
//	CMT002 - Bad exchange rate ("exchange rate must be greater than 0")
//	CMT003 - Nothing to commit ("no qualifying rows")
//	CMT004 - System busy ("too many concurrent commits")
//	CMT005 - Serial taken during commit ("store: conflict")
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests ("rate limit")
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Support staff should check the
// application logs for the original technical error.
//
// # Pattern Matching
//
// Patterns are matched case-insensitively using strings.Contains. The first
// matching pattern wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the reference at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Commit (CMT)
	// Listed first: "duplicate serial numbers" must win over "duplicate key".
	// =========================================================================
	{"duplicate serial numbers", UserMessage{"Some serial numbers are already in inventory or repeated in the file", "Remove or correct the duplicate rows and try again", "CMT001"}},
	{"exchange rate must be greater than 0", UserMessage{"The exchange rate must be greater than 0", "Enter a positive rate, or leave it blank for 1", "CMT002"}},
	{"no qualifying rows", UserMessage{"No rows can be committed", "Every row needs a brand and a unit cost greater than 0", "CMT003"}},
	{"too many concurrent commits", UserMessage{"The system is busy committing other imports", "Please wait a moment and try again", "CMT004"}},
	{"store: conflict", UserMessage{"Another import added some of these serial numbers", "Preview again to see the conflicting rows", "CMT005"}},

	// =========================================================================
	// Store (DB)
	// =========================================================================
	{"duplicate key", UserMessage{"A record with this ID already exists", "Review the file for duplicates", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your file", "DB002"}},
	{"violates unique", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your file", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Refresh and try again", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Refresh and try again", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"database is locked", UserMessage{"Database was busy with another write", "Please try again", "DB008"}},
	{"store: not found", UserMessage{"The record no longer exists", "Refresh and pick another record", "DB009"}},

	// =========================================================================
	// File (FILE)
	// =========================================================================
	{"file too large", UserMessage{"File exceeds maximum size limit", "Split the file into smaller chunks", "FILE001"}},
	{"malformed csv", UserMessage{"File is not a valid CSV", "Ensure the file is delimited with consistent quoting", "FILE002"}},
	{"cannot open workbook", UserMessage{"The workbook could not be read", "Re-save the file as .xlsx or .csv", "FILE003"}},
	{"cannot read sheet", UserMessage{"A sheet in the workbook could not be read", "Re-save the file as .xlsx or .csv", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a spreadsheet to upload", "FILE004"}},
	{"file is empty", UserMessage{"The uploaded file is empty", "Upload a file with a header row and data rows", "FILE005"}},
	{"no header row found", UserMessage{"No header row was found", "Upload a file with a header row and data rows", "FILE006"}},
	{"legacy .xls", UserMessage{"Legacy .xls workbooks are not supported", "Save the file as .xlsx or .csv", "FILE007"}},
	{"no data rows", UserMessage{"The sheet has a header row but no data rows", "Add at least one data row below the header", "FILE008"}},

	// =========================================================================
	// Import session (IMP)
	// =========================================================================
	{"import session not found", UserMessage{"Import session not found", "The session may have expired. Please upload the file again", "IMP001"}},
	{"invalid session state", UserMessage{"This step is not available right now", "Refresh to see where the import stands", "IMP002"}},
	{"company id is required", UserMessage{"No company was selected", "Select a company and try again", "IMP003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or check your connection", "IMP005"}},

	// =========================================================================
	// Mapping (MAP)
	// =========================================================================
	{"missing required mapping", UserMessage{"A required field has no column mapped", "Map a column to every required field", "MAP001"}},
	{"no backfill column is mapped", UserMessage{"No column is mapped to a field that can be backfilled", "Map at least one backfill column", "MAP002"}},
	{"unknown field", UserMessage{"That field does not exist", "Pick a field from the list", "MAP003"}},
	{"column not found", UserMessage{"That column is not in the sheet", "Check the column header", "MAP004"}},
	{"sheet not found", UserMessage{"That sheet is not in the workbook", "Choose one of the listed sheets", "MAP005"}},

	// =========================================================================
	// Normalization (NRM)
	// =========================================================================
	{"value is not pending review", UserMessage{"Some values were already decided or are not in this import", "Refresh the groups and resubmit", "NRM001"}},
	{"decided twice", UserMessage{"The same value has two decisions", "Submit one decision per value", "NRM002"}},
	{"no decisions submitted", UserMessage{"No decisions were submitted", "Decide at least one group", "NRM003"}},
	{"decision lists no values", UserMessage{"A decision does not name any values", "Include the values the decision covers", "NRM003"}},
	{"not backed by a catalog", UserMessage{"This field cannot be linked to an existing record", "Create a new value or skip instead", "NRM004"}},
	{"empty canonical name", UserMessage{"A new value needs a name", "Enter the canonical name", "NRM005"}},

	// =========================================================================
	// Rate limiting (RATE)
	// =========================================================================
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := ValidationError{Field: "brand", Message: "missing required mapping"}
//	msg := MapError(err)
//	// msg.Code == "MAP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
