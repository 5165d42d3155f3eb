package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kamal2602/thinkhub-sub001/internal/mapping"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// State is where an import session sits in its lifecycle.
type State string

const (
	// StateChooseSheet waits for the caller to pick one sheet of a workbook.
	StateChooseSheet State = "choose_sheet"
	// StateMap holds suggested column mappings open for review.
	StateMap State = "map"
	// StateNormalize holds entity groups awaiting reviewer decisions.
	StateNormalize State = "normalize"
	// StatePreview has everything resolved; line items can be previewed and committed.
	StatePreview State = "preview"
	// StateAppend holds an append import open for mapping review.
	StateAppend State = "append"
	// StateComplete is terminal.
	StateComplete State = "complete"
)

// Kind separates receiving imports from post-receipt backfills.
type Kind string

const (
	KindImport Kind = "import"
	KindAppend Kind = "append"
)

// Options tunes the import pipeline. Zero values take the defaults below.
type Options struct {
	MappingThreshold     float64
	SimilarityThreshold  float64
	MaxMatches           int
	Concurrency          int
	SampleValues         int
	SessionTTL           time.Duration
	MaxConcurrentCommits int
	CommitWait           time.Duration
}

const (
	DefaultSampleValues = 5
	DefaultSessionTTL   = 2 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.MappingThreshold <= 0 {
		o.MappingThreshold = mapping.DefaultThreshold
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = normalize.DefaultSimilarityThreshold
	}
	if o.MaxMatches <= 0 {
		o.MaxMatches = normalize.DefaultMaxMatches
	}
	if o.Concurrency <= 0 {
		o.Concurrency = normalize.DefaultConcurrency
	}
	if o.SampleValues <= 0 {
		o.SampleValues = DefaultSampleValues
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	return o
}

// Session is a read-only snapshot of an import session.
type Session struct {
	ID              uuid.UUID                     `json:"id"`
	CompanyID       uuid.UUID                     `json:"companyId"`
	Kind            Kind                          `json:"kind"`
	FileName        string                        `json:"fileName"`
	State           State                         `json:"state"`
	Sheets          []string                      `json:"sheets,omitempty"`
	SheetName       string                        `json:"sheetName,omitempty"`
	Headers         []string                      `json:"headers,omitempty"`
	RowCount        int                           `json:"rowCount"`
	Mappings        []mapping.ColumnMapping       `json:"mappings,omitempty"`
	DuplicateFields []string                      `json:"duplicateFields,omitempty"`
	PendingGroups   int                           `json:"pendingGroups"`
	AutoResolved    []normalize.NormalizedMapping `json:"autoResolved,omitempty"`
	Failures        []*PersistenceError           `json:"failures,omitempty"`
	Result          *CommitResult                 `json:"result,omitempty"`
	AppendResult    *AppendResult                 `json:"appendResult,omitempty"`
	CreatedAt       time.Time                     `json:"createdAt"`
	UpdatedAt       time.Time                     `json:"updatedAt"`
}

// BatchReport summarizes one SubmitDecisions call. Decisions that failed
// outright and alias or rule writes that failed are both listed in Failures;
// everything else in the batch stays applied.
type BatchReport struct {
	Applied  int                           `json:"applied"`
	Mappings []normalize.NormalizedMapping `json:"mappings"`
	Failures []*PersistenceError           `json:"failures,omitempty"`
	Pending  int                           `json:"pending"`
	State    State                         `json:"state"`
}

// CommitOptions carries the reviewer's choices at preview and commit time.
type CommitOptions struct {
	// ExchangeRate converts unit costs into the company currency. Blank means 1.
	ExchangeRate string `json:"exchangeRate"`
}

// ExcludedRow is a data row left out of the commit.
type ExcludedRow struct {
	Row     int      `json:"row"`
	Serial  string   `json:"serial,omitempty"`
	Reasons []string `json:"reasons"`
}

// DuplicateSerial is a serial number that appears on more than one row.
type DuplicateSerial struct {
	Serial string `json:"serial"`
	Rows   []int  `json:"rows"`
}

// Preview is what a commit would write.
type Preview struct {
	TotalRows        int               `json:"totalRows"`
	ValidRows        int               `json:"validRows"`
	ExcludedRows     int               `json:"excludedRows"`
	ExchangeRate     decimal.Decimal   `json:"exchangeRate"`
	TotalCost        decimal.Decimal   `json:"totalCost"`
	Items            []store.LineItem  `json:"items"`
	Excluded         []ExcludedRow     `json:"excluded"`
	ExistingSerials  []string          `json:"existingSerials"`
	DuplicateInFile  []DuplicateSerial `json:"duplicateInFile"`
	CanCommit        bool              `json:"canCommit"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	ImportID  uuid.UUID       `json:"importId"`
	Inserted  int             `json:"inserted"`
	Excluded  int             `json:"excluded"`
	TotalCost decimal.Decimal `json:"totalCost"`
}

// AppendResult is the outcome of a backfill import.
type AppendResult struct {
	Updated   int                 `json:"updated"`
	Unchanged int                 `json:"unchanged"`
	Skipped   int                 `json:"skipped"`
	NotFound  []string            `json:"notFound"`
	Failures  []*PersistenceError `json:"failures,omitempty"`
}
