package scanning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/pii"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
)

// frameRecorder captures every frame pushed to a session's channel and
// signals when the terminal frame arrives.
type frameRecorder struct {
	mu     sync.Mutex
	frames []scanning.StreamFrame
	live   bool
	done   chan struct{}
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{live: true, done: make(chan struct{}, 8)}
}

func (r *frameRecorder) Send(requestID string, frame scanning.StreamFrame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	if frame.Done {
		r.done <- struct{}{}
	}
	return r.live
}

func (r *frameRecorder) wait(t *testing.T) []scanning.StreamFrame {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not reach a terminal frame")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scanning.StreamFrame(nil), r.frames...)
}

type memStore struct {
	mu            sync.Mutex
	batches       []scanning.Batch
	imageSaves    [][]scanning.ClassificationResult
	documentSaves [][]scanning.DocumentResult
	reports       []*scanning.DatabaseScanReport
	err           error
}

func (s *memStore) CreateBatch(ctx context.Context, batch scanning.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.err
}

func (s *memStore) SaveImageResults(ctx context.Context, batchID uuid.UUID, results []scanning.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageSaves = append(s.imageSaves, results)
	return s.err
}

func (s *memStore) SaveDocumentResults(ctx context.Context, batchID uuid.UUID, results []scanning.DocumentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documentSaves = append(s.documentSaves, results)
	return s.err
}

func (s *memStore) SaveDatabaseReport(ctx context.Context, batchID uuid.UUID, report *scanning.DatabaseScanReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return s.err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []scanning.ScanCompleted
}

func (p *capturePublisher) PublishCompletion(ctx context.Context, evt scanning.ScanCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) all() []scanning.ScanCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scanning.ScanCompleted(nil), p.events...)
}

type stubImageClassifier struct{}

func (stubImageClassifier) Classify(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
	return scanning.ClassificationResult{FileName: item.FileName, Label: "document"}, nil
}

func (stubImageClassifier) Metadata(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
	return scanning.ClassificationResult{FileName: item.FileName, InferredLabel: "photo"}, nil
}

type stubDocumentClassifier struct {
	results []scanning.DocumentResult
	err     error
}

func (s *stubDocumentClassifier) ScanDocuments(ctx context.Context, items []scanning.WorkItem, piiTypes []string) ([]scanning.DocumentResult, error) {
	return s.results, s.err
}

type stubInspectorFactory struct {
	insp Inspector
	err  error
}

func (f *stubInspectorFactory) Open(ctx context.Context, engine config.EngineKind, connString string) (Inspector, error) {
	return f.insp, f.err
}

type coordinatorFixture struct {
	streams    *frameRecorder
	store      *memStore
	publisher  *capturePublisher
	documents  *stubDocumentClassifier
	inspectors *stubInspectorFactory

	coordinator *Coordinator
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	reg, err := pii.NewRegistry()
	require.NoError(t, err)

	log := testLogger()
	tracer := noop.NewTracerProvider().Tracer("test")

	f := &coordinatorFixture{
		streams:    newFrameRecorder(),
		store:      &memStore{},
		publisher:  &capturePublisher{},
		documents:  &stubDocumentClassifier{},
		inspectors: &stubInspectorFactory{},
	}
	f.coordinator = NewCoordinator(
		NewBatchDispatcher(5, time.Second, log, tracer),
		NewDBOrchestrator(reg, log, tracer),
		stubImageClassifier{},
		f.documents,
		f.inspectors,
		f.streams,
		f.store,
		f.publisher,
		5,
		log,
		tracer,
	)
	return f
}

func TestImageSessionStreamsGroupsThenDone(t *testing.T) {
	f := newCoordinatorFixture(t)
	items := makeWorkItems(t, 7)

	batch, err := f.coordinator.StartImageScan(context.Background(),
		"req-1", scanning.ScanKindImageClassify, items)
	require.NoError(t, err)
	require.Equal(t, 7, batch.TotalFiles)

	frames := f.streams.wait(t)
	require.Len(t, frames, 3)

	first, ok := frames[0].Batch.([]scanning.ClassificationResult)
	require.True(t, ok)
	require.Len(t, first, 5)
	for i, res := range first {
		require.Equal(t, items[i].FileName, res.FileName)
	}

	second, ok := frames[1].Batch.([]scanning.ClassificationResult)
	require.True(t, ok)
	require.Len(t, second, 2)
	require.Equal(t, items[5].FileName, second[0].FileName)
	require.Equal(t, items[6].FileName, second[1].FileName)

	terminal := frames[2]
	require.True(t, terminal.Done)
	require.Empty(t, terminal.Error)
	require.Equal(t, "req-1", terminal.RequestID)
	require.Equal(t, scanning.ScanKindImageClassify, terminal.Kind)

	events := f.publisher.all()
	require.Len(t, events, 1)
	require.Equal(t, batch.ID, events[0].BatchID)
	require.Equal(t, scanning.SessionStatusCompleted, events[0].Status)
}

func TestStartImageScanValidation(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.StartImageScan(context.Background(),
		"req-1", scanning.ScanKindDocumentPII, makeWorkItems(t, 1))
	require.ErrorIs(t, err, scanning.ErrUnknownScanKind)

	_, err = f.coordinator.StartImageScan(context.Background(),
		"req-1", scanning.ScanKindImageClassify, nil)
	require.ErrorIs(t, err, scanning.ErrNoWorkItems)
}

func TestImageSessionCompletesDespiteStoreErrors(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.store.err = errors.New("database unavailable")

	_, err := f.coordinator.StartImageScan(context.Background(),
		"req-1", scanning.ScanKindImageClassify, makeWorkItems(t, 2))
	require.NoError(t, err)

	frames := f.streams.wait(t)
	require.True(t, frames[len(frames)-1].Done)
	require.Empty(t, frames[len(frames)-1].Error)
}

func TestDocumentSessionFailsBeforeAnyBatchFrame(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.documents.err = scanning.NewConnectionError("document-scanner",
		errors.New("connection refused"))

	items := makeWorkItems(t, 3)
	_, err := f.coordinator.StartDocumentScan(context.Background(),
		"req-1", items, []string{"email"})
	require.NoError(t, err)

	frames := f.streams.wait(t)
	require.Len(t, frames, 1)
	require.True(t, frames[0].Done)
	require.NotEmpty(t, frames[0].Error)
	require.Nil(t, frames[0].Batch)

	events := f.publisher.all()
	require.Len(t, events, 1)
	require.Equal(t, scanning.SessionStatusFailed, events[0].Status)

	// Backing files are released even when the upstream call fails.
	for _, item := range items {
		_, statErr := os.Stat(item.Path)
		require.ErrorIs(t, statErr, os.ErrNotExist)
	}
}

func TestDocumentSessionChunksResults(t *testing.T) {
	f := newCoordinatorFixture(t)
	for i := 0; i < 7; i++ {
		f.documents.results = append(f.documents.results, scanning.DocumentResult{
			FileName: fmt.Sprintf("doc-%d.pdf", i),
			PIIFound: i%2 == 0,
		})
	}

	_, err := f.coordinator.StartDocumentScan(context.Background(),
		"req-1", makeWorkItems(t, 7), nil)
	require.NoError(t, err)

	frames := f.streams.wait(t)
	require.Len(t, frames, 3)

	first, ok := frames[0].Batch.([]scanning.DocumentResult)
	require.True(t, ok)
	require.Len(t, first, 5)
	require.Equal(t, "doc-0.pdf", first[0].FileName)

	second, ok := frames[1].Batch.([]scanning.DocumentResult)
	require.True(t, ok)
	require.Len(t, second, 2)
	require.True(t, frames[2].Done)

	require.Len(t, f.store.documentSaves, 1)
}

func TestDatabaseSessionSingleTable(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.inspectors.insp = &fakeInspector{
		rows: map[string][]scanning.Row{
			"customers": {{"email": "jane.doe@example.com"}},
		},
	}

	_, err := f.coordinator.StartDatabaseScan(context.Background(), "req-1",
		DatabaseScanRequest{
			Kind:       scanning.ScanKindDBTable,
			Engine:     config.EnginePostgres,
			ConnString: "postgres://user@host/salesdb",
			Table:      "customers",
			PIITypes:   []string{"email"},
		})
	require.NoError(t, err)

	frames := f.streams.wait(t)
	require.Len(t, frames, 2)

	report, ok := frames[0].Batch.(*scanning.DatabaseScanReport)
	require.True(t, ok)
	require.Equal(t, "salesdb", report.DBName)
	require.Len(t, report.Tables, 1)
	require.True(t, frames[1].Done)

	require.Len(t, f.store.reports, 1)
}

func TestDatabaseSessionFailsOnUnsupportedEngine(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.inspectors.err = scanning.ErrUnsupportedEngine

	_, err := f.coordinator.StartDatabaseScan(context.Background(), "req-1",
		DatabaseScanRequest{
			Kind:       scanning.ScanKindDBFull,
			Engine:     config.EngineKind("oracle"),
			ConnString: "oracle://host/db",
		})
	require.NoError(t, err)

	frames := f.streams.wait(t)
	require.Len(t, frames, 1)
	require.True(t, frames[0].Done)
	require.NotEmpty(t, frames[0].Error)
}

func TestStartDatabaseScanValidation(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.StartDatabaseScan(context.Background(), "req-1",
		DatabaseScanRequest{Kind: scanning.ScanKindDBTable})
	require.ErrorIs(t, err, ErrMissingTable)

	_, err = f.coordinator.StartDatabaseScan(context.Background(), "req-1",
		DatabaseScanRequest{Kind: scanning.ScanKindImageClassify})
	require.ErrorIs(t, err, scanning.ErrUnknownScanKind)
}

func TestSessionCompletesWithoutLiveChannel(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.streams.live = false

	_, err := f.coordinator.StartImageScan(context.Background(),
		"req-1", scanning.ScanKindImageMetadata, makeWorkItems(t, 2))
	require.NoError(t, err)

	frames := f.streams.wait(t)
	require.True(t, frames[len(frames)-1].Done)

	events := f.publisher.all()
	require.Len(t, events, 1)
	require.Equal(t, scanning.SessionStatusCompleted, events[0].Status)
}

func TestSessionEntriesReleasedOnSettle(t *testing.T) {
	f := newCoordinatorFixture(t)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("req-%d", i)
		_, err := f.coordinator.StartImageScan(context.Background(),
			id, scanning.ScanKindImageClassify, makeWorkItems(t, 2))
		require.NoError(t, err)
		f.streams.wait(t)

		_, ok := f.coordinator.Status(id)
		require.False(t, ok, "session %s should be released after its terminal frame", id)
	}
}
