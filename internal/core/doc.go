// Package core runs supplier spreadsheet imports for receiving.
//
// It holds the import session state machine and is independent of any
// transport. Web handlers, the CLI and tests drive it the same way.
//
// # Session Lifecycle
//
// A session is opened from an uploaded file and walks these states:
//
//	choose_sheet -> map -> normalize -> preview -> complete
//	choose_sheet -> append -> complete
//
// choose_sheet is only entered for workbooks with more than one non-empty
// sheet. normalize is skipped when every value resolves on its own.
//
//  1. [Service.StartImport] decodes the file and suggests column mappings
//     from the company's column rules.
//  2. [Service.UpdateMapping] lets the user correct suggestions.
//  3. [Service.ConfirmMappings] optionally learns the corrections and takes
//     the normalize snapshot: values are resolved from value-lookup rules and
//     the rest are grouped by similarity for review.
//  4. [Service.SubmitDecisions] applies reviewer decisions in batches.
//  5. [Service.Preview] and [Service.Commit] convert costs, exclude bad rows
//     and write line items in one transaction.
//
// Append sessions ([Service.StartAppend], [Service.CommitAppend]) fill
// blank columns of line items that were already received.
//
// Sessions live in memory. [Service.StartSweeper] drops sessions idle for
// longer than [Options.SessionTTL].
//
// # Concurrency
//
// Each session has its own lock, so one session's operations are serialized
// while different sessions proceed in parallel. Commits are additionally
// bounded by a [CommitLimiter].
//
// # Error Handling
//
// Operations return [ValidationError], [ConflictError], [ParseError] or
// [ErrInvalidState] for caller mistakes. Partial persistence failures are
// reported as [PersistenceError] values on the result rather than returned.
// [MapError] turns any of them into a coded [UserMessage].
package core
