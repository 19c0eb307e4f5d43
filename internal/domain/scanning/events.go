package scanning

import (
	"time"

	"github.com/google/uuid"
)

// ScanCompleted is published when a session reaches a terminal state. It is
// a compact record for downstream consumers; full results live in storage.
type ScanCompleted struct {
	BatchID    uuid.UUID     `json:"batch_id"`
	RequestID  string        `json:"request_id"`
	Kind       ScanKind      `json:"scan_kind"`
	Status     SessionStatus `json:"status"`
	TotalFiles int           `json:"total_files"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewScanCompleted builds the terminal event for a batch.
func NewScanCompleted(batch Batch, requestID string, status SessionStatus) ScanCompleted {
	return ScanCompleted{
		BatchID:    batch.ID,
		RequestID:  requestID,
		Kind:       batch.ScanKind,
		Status:     status,
		TotalFiles: batch.TotalFiles,
		OccurredAt: time.Now().UTC(),
	}
}
