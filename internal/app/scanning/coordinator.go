package scanning

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

// ErrMissingTable indicates a single-table scan arrived without a table name.
var ErrMissingTable = errors.New("table name required for single-table scan")

// DatabaseScanRequest carries the parameters of a database scan submission.
type DatabaseScanRequest struct {
	Kind       scanning.ScanKind
	Engine     config.EngineKind
	ConnString string
	Table      string
	PIITypes   []string
}

// Coordinator runs one scan session per request id: it validates the
// submission, dispatches work to the matching classifier, and streams result
// groups followed by exactly one terminal frame. Submissions are
// acknowledged once dispatch is accepted; the session itself runs in a
// background goroutine detached from the request context.
type Coordinator struct {
	dispatcher   *BatchDispatcher
	orchestrator *DBOrchestrator

	images     ImageClassifier
	documents  DocumentClassifier
	inspectors InspectorFactory

	streams   StreamSender
	store     ResultStore
	publisher CompletionPublisher

	groupSize int

	logger *logger.Logger
	tracer trace.Tracer

	mu       sync.RWMutex
	sessions map[string]scanning.SessionStatus
}

// NewCoordinator wires the coordinator to its collaborators. publisher may
// be nil when eventing is disabled.
func NewCoordinator(
	dispatcher *BatchDispatcher,
	orchestrator *DBOrchestrator,
	images ImageClassifier,
	documents DocumentClassifier,
	inspectors InspectorFactory,
	streams StreamSender,
	store ResultStore,
	publisher CompletionPublisher,
	groupSize int,
	log *logger.Logger,
	tracer trace.Tracer,
) *Coordinator {
	return &Coordinator{
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		images:       images,
		documents:    documents,
		inspectors:   inspectors,
		streams:      streams,
		store:        store,
		publisher:    publisher,
		groupSize:    groupSize,
		logger:       log.With("component", "scan_coordinator"),
		tracer:       tracer,
		sessions:     make(map[string]scanning.SessionStatus),
	}
}

// Status reports the lifecycle state of an in-flight session for the
// request id. Settled sessions are removed and report no state.
func (c *Coordinator) Status(requestID string) (scanning.SessionStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.sessions[requestID]
	return status, ok
}

// StartImageScan accepts an image session and returns its batch record.
// The session runs in the background; results reach the client over the
// channel registered for requestID.
func (c *Coordinator) StartImageScan(
	ctx context.Context,
	requestID string,
	kind scanning.ScanKind,
	items []scanning.WorkItem,
) (scanning.Batch, error) {
	if kind != scanning.ScanKindImageClassify && kind != scanning.ScanKindImageMetadata {
		return scanning.Batch{}, scanning.ErrUnknownScanKind
	}
	if len(items) == 0 {
		return scanning.Batch{}, scanning.ErrNoWorkItems
	}

	batch := scanning.NewBatch(kind, len(items))
	c.createSession(requestID)

	go c.runImageSession(context.WithoutCancel(ctx), requestID, batch, items)
	return batch, nil
}

func (c *Coordinator) runImageSession(
	ctx context.Context,
	requestID string,
	batch scanning.Batch,
	items []scanning.WorkItem,
) {
	ctx, span := c.tracer.Start(ctx, "coordinator.image_session",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("scan_kind", string(batch.ScanKind)),
			attribute.Int("num_items", len(items)),
		),
	)
	defer span.End()

	c.transition(ctx, requestID, scanning.SessionStatusDispatching)
	c.persistBatch(ctx, batch)

	classify := c.images.Classify
	if batch.ScanKind == scanning.ScanKindImageMetadata {
		classify = c.images.Metadata
	}

	emit := func(ctx context.Context, results []scanning.ClassificationResult) {
		if err := c.store.SaveImageResults(ctx, batch.ID, results); err != nil {
			c.logger.Warn(ctx, "persisting image results failed",
				"batch_id", batch.ID, "error", err)
		}
		c.send(ctx, requestID, scanning.BatchFrame(requestID, batch.ScanKind, results))
	}

	if err := c.dispatcher.Dispatch(ctx, batch.ScanKind, items, classify, emit); err != nil {
		c.fail(ctx, span, requestID, batch, err)
		return
	}
	c.complete(ctx, requestID, batch)
}

// StartDocumentScan accepts a document session. The whole work list goes to
// the document scanner in one upstream call; an unreachable scanner fails
// the session before any batch frame is sent.
func (c *Coordinator) StartDocumentScan(
	ctx context.Context,
	requestID string,
	items []scanning.WorkItem,
	piiTypes []string,
) (scanning.Batch, error) {
	if len(items) == 0 {
		return scanning.Batch{}, scanning.ErrNoWorkItems
	}

	batch := scanning.NewBatch(scanning.ScanKindDocumentPII, len(items))
	c.createSession(requestID)

	go c.runDocumentSession(context.WithoutCancel(ctx), requestID, batch, items, piiTypes)
	return batch, nil
}

func (c *Coordinator) runDocumentSession(
	ctx context.Context,
	requestID string,
	batch scanning.Batch,
	items []scanning.WorkItem,
	piiTypes []string,
) {
	ctx, span := c.tracer.Start(ctx, "coordinator.document_session",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.Int("num_items", len(items)),
		),
	)
	defer span.End()

	c.transition(ctx, requestID, scanning.SessionStatusDispatching)
	c.persistBatch(ctx, batch)

	results, err := c.documents.ScanDocuments(ctx, items, piiTypes)
	c.releaseAll(ctx, items)
	if err != nil {
		c.fail(ctx, span, requestID, batch, err)
		return
	}

	if err := c.store.SaveDocumentResults(ctx, batch.ID, results); err != nil {
		c.logger.Warn(ctx, "persisting document results failed",
			"batch_id", batch.ID, "error", err)
	}

	size := c.groupSize
	if size <= 0 {
		size = len(results)
	}
	for start := 0; start < len(results); start += size {
		end := min(start+size, len(results))
		c.send(ctx, requestID, scanning.BatchFrame(requestID, batch.ScanKind, results[start:end]))
	}
	c.complete(ctx, requestID, batch)
}

// StartDatabaseScan accepts a database session: schema-only classification,
// a full sweep of every table, or a single named table.
func (c *Coordinator) StartDatabaseScan(
	ctx context.Context,
	requestID string,
	req DatabaseScanRequest,
) (scanning.Batch, error) {
	switch req.Kind {
	case scanning.ScanKindDBMetadata, scanning.ScanKindDBFull:
	case scanning.ScanKindDBTable:
		if req.Table == "" {
			return scanning.Batch{}, ErrMissingTable
		}
	default:
		return scanning.Batch{}, scanning.ErrUnknownScanKind
	}

	batch := scanning.NewBatch(req.Kind, 0)
	c.createSession(requestID)

	go c.runDatabaseSession(context.WithoutCancel(ctx), requestID, batch, req)
	return batch, nil
}

func (c *Coordinator) runDatabaseSession(
	ctx context.Context,
	requestID string,
	batch scanning.Batch,
	req DatabaseScanRequest,
) {
	ctx, span := c.tracer.Start(ctx, "coordinator.database_session",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("scan_kind", string(req.Kind)),
			attribute.String("engine", string(req.Engine)),
		),
	)
	defer span.End()

	c.transition(ctx, requestID, scanning.SessionStatusDispatching)
	c.persistBatch(ctx, batch)

	insp, err := c.inspectors.Open(ctx, req.Engine, req.ConnString)
	if err != nil {
		c.fail(ctx, span, requestID, batch, err)
		return
	}
	defer insp.Close()

	var payload any
	switch req.Kind {
	case scanning.ScanKindDBMetadata:
		payload, err = c.orchestrator.ClassifySchema(ctx, insp)
	case scanning.ScanKindDBFull:
		var tables []string
		tables, err = insp.ListTables(ctx)
		if err == nil {
			payload, err = c.scanAndPersist(ctx, batch, insp, req, tables)
		}
	case scanning.ScanKindDBTable:
		payload, err = c.scanAndPersist(ctx, batch, insp, req, []string{req.Table})
	}
	if err != nil {
		c.fail(ctx, span, requestID, batch, err)
		return
	}

	c.send(ctx, requestID, scanning.BatchFrame(requestID, batch.ScanKind, payload))
	c.complete(ctx, requestID, batch)
}

func (c *Coordinator) scanAndPersist(
	ctx context.Context,
	batch scanning.Batch,
	insp Inspector,
	req DatabaseScanRequest,
	tables []string,
) (*scanning.DatabaseScanReport, error) {
	report, err := c.orchestrator.ScanTables(ctx, insp, req.ConnString, tables, req.PIITypes)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveDatabaseReport(ctx, batch.ID, report); err != nil {
		c.logger.Warn(ctx, "persisting database report failed",
			"batch_id", batch.ID, "error", err)
	}
	return report, nil
}

// send pushes one frame. A missing channel drops the frame; clients that
// never registered simply do not observe the stream.
func (c *Coordinator) send(ctx context.Context, requestID string, frame scanning.StreamFrame) {
	if !c.streams.Send(requestID, frame) {
		c.logger.Debug(ctx, "no live channel for frame", "request_id", requestID)
	}
}

// complete and fail settle the session and publish before the terminal frame
// goes out, so a client observing the terminal frame sees final state.
func (c *Coordinator) complete(ctx context.Context, requestID string, batch scanning.Batch) {
	c.endSession(ctx, requestID, scanning.SessionStatusCompleted)
	c.publish(ctx, batch, requestID, scanning.SessionStatusCompleted)
	c.send(ctx, requestID, scanning.DoneFrame(requestID, batch.ScanKind))
}

func (c *Coordinator) fail(
	ctx context.Context,
	span trace.Span,
	requestID string,
	batch scanning.Batch,
	err error,
) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "session failed")
	c.logger.Error(ctx, "scan session failed",
		"request_id", requestID, "scan_kind", batch.ScanKind, "error", err)

	c.endSession(ctx, requestID, scanning.SessionStatusFailed)
	c.publish(ctx, batch, requestID, scanning.SessionStatusFailed)
	c.send(ctx, requestID, scanning.ErrorFrame(requestID, batch.ScanKind, err.Error()))
}

func (c *Coordinator) publish(
	ctx context.Context,
	batch scanning.Batch,
	requestID string,
	status scanning.SessionStatus,
) {
	if c.publisher == nil {
		return
	}
	evt := scanning.NewScanCompleted(batch, requestID, status)
	if err := c.publisher.PublishCompletion(ctx, evt); err != nil {
		c.logger.Warn(ctx, "publishing completion event failed",
			"batch_id", batch.ID, "error", err)
	}
}

func (c *Coordinator) persistBatch(ctx context.Context, batch scanning.Batch) {
	if err := c.store.CreateBatch(ctx, batch); err != nil {
		c.logger.Warn(ctx, "persisting batch failed", "batch_id", batch.ID, "error", err)
	}
}

func (c *Coordinator) releaseAll(ctx context.Context, items []scanning.WorkItem) {
	for _, item := range items {
		if err := item.Release(); err != nil {
			c.logger.Warn(ctx, "releasing work item failed",
				"file", item.FileName, "error", err)
		}
	}
}

func (c *Coordinator) createSession(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[requestID] = scanning.SessionStatusCreated
}

func (c *Coordinator) transition(ctx context.Context, requestID string, target scanning.SessionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.sessions[requestID]
	if err := current.ValidateTransition(target); err != nil {
		c.logger.Warn(ctx, "session transition rejected",
			"request_id", requestID, "error", err)
		return
	}
	c.sessions[requestID] = target
}

// endSession validates the terminal transition and removes the entry. The
// session map holds in-flight sessions only; settled sessions are not
// retained.
func (c *Coordinator) endSession(ctx context.Context, requestID string, target scanning.SessionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sessions[requestID].ValidateTransition(target); err != nil {
		c.logger.Warn(ctx, "session transition rejected",
			"request_id", requestID, "error", err)
	}
	delete(c.sessions, requestID)
}
