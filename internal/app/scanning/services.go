package scanning

import (
	"context"

	"github.com/google/uuid"

	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
)

// StreamSender pushes frames to the channel registered for a request id.
// Send reports whether a live channel existed; a missed frame is not an
// error because clients may register late or disconnect mid-session.
type StreamSender interface {
	Send(requestID string, frame scanning.StreamFrame) bool
}

// ImageClassifier is the boundary to the image model service.
type ImageClassifier interface {
	// Classify runs the model's label prediction on one image.
	Classify(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error)
	// Metadata extracts file-based labels and embedded metadata.
	Metadata(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error)
}

// DocumentClassifier is the boundary to the document scanner service. The
// whole work list goes upstream in a single call; per-file outcomes come
// back in the result slice.
type DocumentClassifier interface {
	ScanDocuments(ctx context.Context, items []scanning.WorkItem, piiTypes []string) ([]scanning.DocumentResult, error)
}

// InspectorFactory opens a database connection for the requested engine.
// Unknown engines yield scanning.ErrUnsupportedEngine.
type InspectorFactory interface {
	Open(ctx context.Context, engine config.EngineKind, connString string) (Inspector, error)
}

// ResultStore persists batches and their results for historical listing.
// Streaming never depends on persistence, so callers treat store errors as
// log-only.
type ResultStore interface {
	CreateBatch(ctx context.Context, batch scanning.Batch) error
	SaveImageResults(ctx context.Context, batchID uuid.UUID, results []scanning.ClassificationResult) error
	SaveDocumentResults(ctx context.Context, batchID uuid.UUID, results []scanning.DocumentResult) error
	SaveDatabaseReport(ctx context.Context, batchID uuid.UUID, report *scanning.DatabaseScanReport) error
}

// CompletionPublisher emits the terminal event of a session to the event
// bus. Implementations may be disabled; the coordinator tolerates a nil
// publisher.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, evt scanning.ScanCompleted) error
}
