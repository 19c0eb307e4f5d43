package scanning

import (
	"time"

	"github.com/google/uuid"
)

// Batch is the persisted record of one scan submission. It groups the
// results produced by a single scan request for historical listing.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	ScanKind   ScanKind  `json:"scan_kind"`
	TotalFiles int       `json:"total_files"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewBatch creates a batch record for a submission of totalFiles work items.
func NewBatch(kind ScanKind, totalFiles int) Batch {
	return Batch{
		ID:         uuid.New(),
		ScanKind:   kind,
		TotalFiles: totalFiles,
		CreatedAt:  time.Now().UTC(),
	}
}
