package app

import "imessage-undeleter/internal/tracker"

// Operation names recorded in run history and used to pick how the state
// store is opened.
const (
	OpRun       = "run"
	OpPurge     = "purge"
	OpBackup    = "backup"
	OpStatus    = "status"
	OpDeletions = "deletions"
	OpHistory   = "history"
	OpKeysInit  = "keys-init"
	OpDecrypt   = "decrypt"
)

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// mutating operations migrate the state store and leave a run record.
var mutating = map[string]bool{OpRun: true, OpPurge: true}

// storeless operations only touch key files and archives.
var storeless = map[string]bool{OpKeysInit: true, OpDecrypt: true}

// RunRecord tracks a CLI operation that may mutate the state store.
// Records are created in memory with ID=0. Only mutating commands persist
// them (giving them an auto-increment ID from the database).
type RunRecord struct {
	ID        int64
	Operation string
	Status    string
	Stats     tracker.Stats
}

// NewRunRecord creates a new in-memory run record.
func NewRunRecord(operation string) *RunRecord {
	return &RunRecord{
		Operation: operation,
		Status:    StatusSuccess,
	}
}

// Persisted returns true if this record has been saved to the database.
func (r *RunRecord) Persisted() bool {
	return r.ID != 0
}

// Mutating reports whether the operation writes to the state store.
func (r *RunRecord) Mutating() bool {
	return mutating[r.Operation]
}

// Fail marks the record as failed.
func (r *RunRecord) Fail() {
	r.Status = StatusError
}
