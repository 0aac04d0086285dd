package domain

import "time"

type ClaimState string

const (
	ClaimProcessing ClaimState = "processing"
	// ClaimPersisted marks a file whose record is stored but which was not archived yet.
	ClaimPersisted ClaimState = "persisted"
)

// Claim is the exclusive right of one pipeline run to process a file.
type Claim struct {
	Token     string     `json:"token"`
	Path      string     `json:"path"`
	LockPath  string     `json:"-"`
	State     ClaimState `json:"state"`
	InvoiceID int64      `json:"invoice_id,omitempty"`
	ClaimedAt time.Time  `json:"claimed_at"`
}

type StabilizationState string

const (
	StabilizationDetected    StabilizationState = "detected"
	StabilizationStabilizing StabilizationState = "stabilizing"
	StabilizationStable      StabilizationState = "stable"
	StabilizationTimedOut    StabilizationState = "failed-timeout"
)

type IngestOutcome string

const (
	OutcomeArchived        IngestOutcome = "archived"
	OutcomeSkipped         IngestOutcome = "skipped"
	OutcomeStabilizeFailed IngestOutcome = "stabilize_failed"
	OutcomeParseError      IngestOutcome = "parse_error"
	OutcomePersistError    IngestOutcome = "persist_error"
	OutcomeArchiveError    IngestOutcome = "archive_error"
)
