package domain

import "time"

// BatchStatus represents the final state of a dispatched batch.
type BatchStatus string

const (
	BatchStatusQueued         BatchStatus = "QUEUED"
	BatchStatusCompleted      BatchStatus = "COMPLETED"
	BatchStatusPartialFailure BatchStatus = "PARTIAL_FAILURE"
	BatchStatusFailed         BatchStatus = "FAILED"
	BatchStatusRejected       BatchStatus = "REJECTED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusQueued, BatchStatusCompleted, BatchStatusPartialFailure, BatchStatusFailed, BatchStatusRejected:
		return true
	}
	return false
}

// StatusFromStatistics derives the batch status from its outcome counts.
func StatusFromStatistics(stats Statistics) BatchStatus {
	switch {
	case stats.Failed == 0:
		return BatchStatusCompleted
	case stats.Successful == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartialFailure
	}
}

// Batch is the persisted record of one dispatch call.
type Batch struct {
	ID                string
	TemplateName      TemplateName
	Subject           string
	Status            BatchStatus
	TotalCount        int
	SuccessCount      int
	FailedCount       int
	DuplicatesRemoved int
	RejectReason      *string
	Results           []BatchResult
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BatchResult is a persisted per-recipient outcome.
type BatchResult struct {
	ID        string
	BatchID   string
	Position  int
	Address   string
	Success   bool
	MessageID *string
	Error     *string
	Kind      *ErrorKind
	CreatedAt time.Time
}
