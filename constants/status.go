package constants

// ProcessingStatus is the status flag written on every stored extraction.
type ProcessingStatus string

// Stable values (store these exact strings in the document store).
const (
	ProcessingCompleted ProcessingStatus = "Completed"
	ProcessingFailed    ProcessingStatus = "Failed"
)

// RecordStatus is the legacy active flag on stored records ("1" = active).
const RecordStatusActive = "1"

// MessageOutcome is the per-message result reported by the poller.
type MessageOutcome string

const (
	OutcomeStored    MessageOutcome = "stored"    // persisted and marked seen
	OutcomeDuplicate MessageOutcome = "duplicate" // already in the ledger; only marked seen
	OutcomeRejected  MessageOutcome = "rejected"  // permanent failure recorded, marked seen
	OutcomeFailed    MessageOutcome = "failed"    // transient failure, left unseen
)
