package scanning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	otelglobal "go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func makeWorkItems(t *testing.T, n int) []scanning.WorkItem {
	t.Helper()
	dir := t.TempDir()

	items := make([]scanning.WorkItem, n)
	for i := range items {
		path := filepath.Join(dir, fmt.Sprintf("upload-%d", i))
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
		items[i] = scanning.WorkItem{
			FileName: fmt.Sprintf("file-%d.png", i),
			Path:     path,
		}
	}
	return items
}

func TestDispatchEmptyInput(t *testing.T) {
	d := NewBatchDispatcher(5, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))

	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, nil,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			t.Fatal("classify must not be called for empty input")
			return scanning.ClassificationResult{}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {
			t.Fatal("emit must not be called for empty input")
		},
	)
	require.ErrorIs(t, err, scanning.ErrNoWorkItems)
}

func TestDispatchGroupSizesAndOrder(t *testing.T) {
	d := NewBatchDispatcher(5, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 7)

	var groups [][]scanning.ClassificationResult
	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			return scanning.ClassificationResult{FileName: item.FileName, Label: "document"}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {
			groups = append(groups, results)
		},
	)
	require.NoError(t, err)

	// ceil(7/5) groups of sizes 5 and 2, preserving input order.
	require.Len(t, groups, 2)
	require.Len(t, groups[0], 5)
	require.Len(t, groups[1], 2)

	var got []string
	for _, g := range groups {
		for _, r := range g {
			got = append(got, r.FileName)
		}
	}
	for i, name := range got {
		require.Equal(t, fmt.Sprintf("file-%d.png", i), name)
	}
}

func TestDispatchResultOrderUnaffectedByCompletionOrder(t *testing.T) {
	d := NewBatchDispatcher(5, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 5)

	var emitted []scanning.ClassificationResult
	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			// Earlier items finish later.
			if item.FileName == "file-0.png" {
				time.Sleep(50 * time.Millisecond)
			}
			return scanning.ClassificationResult{FileName: item.FileName}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {
			emitted = results
		},
	)
	require.NoError(t, err)

	require.Len(t, emitted, 5)
	for i, r := range emitted {
		require.Equal(t, fmt.Sprintf("file-%d.png", i), r.FileName)
	}
}

func TestDispatchItemFailureBecomesErrorResult(t *testing.T) {
	d := NewBatchDispatcher(5, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 3)

	var emitted []scanning.ClassificationResult
	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			if item.FileName == "file-1.png" {
				return scanning.ClassificationResult{}, errors.New("boom")
			}
			return scanning.ClassificationResult{FileName: item.FileName, Label: "receipt"}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {
			emitted = results
		},
	)
	require.NoError(t, err)

	// Every input filename appears exactly once, failures included.
	require.Len(t, emitted, 3)
	require.Equal(t, "receipt", emitted[0].Label)
	require.Equal(t, scanning.ErrorLabel, emitted[1].Label)
	require.Equal(t, "file-1.png", emitted[1].FileName)
	require.Equal(t, "receipt", emitted[2].Label)
}

func TestDispatchTimeoutIsPerItemFailure(t *testing.T) {
	d := NewBatchDispatcher(5, 20*time.Millisecond, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 2)

	var emitted []scanning.ClassificationResult
	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			if item.FileName == "file-0.png" {
				<-ctx.Done()
				return scanning.ClassificationResult{}, ctx.Err()
			}
			return scanning.ClassificationResult{FileName: item.FileName, Label: "id-card"}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {
			emitted = results
		},
	)
	require.NoError(t, err)
	require.Equal(t, scanning.ErrorLabel, emitted[0].Label)
	require.Equal(t, "id-card", emitted[1].Label)
}

func TestDispatchReleasesEveryItemExactlyOnce(t *testing.T) {
	d := NewBatchDispatcher(2, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 4)

	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			if item.FileName == "file-2.png" {
				return scanning.ClassificationResult{}, errors.New("boom")
			}
			return scanning.ClassificationResult{FileName: item.FileName}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {},
	)
	require.NoError(t, err)

	for _, item := range items {
		_, statErr := os.Stat(item.Path)
		require.True(t, os.IsNotExist(statErr), "backing file %s should be removed", item.Path)
	}
}

func TestDispatchRecordsItemCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	previous := otelglobal.GetMeterProvider()
	otelglobal.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otelglobal.SetMeterProvider(previous) })

	d := NewBatchDispatcher(5, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 3)

	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			if item.FileName == "file-1.png" {
				return scanning.ClassificationResult{}, errors.New("boom")
			}
			return scanning.ClassificationResult{FileName: item.FileName}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {},
	)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	require.Equal(t, int64(3), counterValue(t, rm, "scan_items_dispatched_total"))
	require.Equal(t, int64(1), counterValue(t, rm, "scan_item_failures_total"))
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s was not recorded", name)
	return 0
}

func TestDispatchGroupsAreSequential(t *testing.T) {
	d := NewBatchDispatcher(2, time.Second, testLogger(), noop.NewTracerProvider().Tracer("test"))
	items := makeWorkItems(t, 4)

	var mu sync.Mutex
	var order []string

	err := d.Dispatch(context.Background(), scanning.ScanKindImageClassify, items,
		func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
			mu.Lock()
			order = append(order, "classify:"+item.FileName)
			mu.Unlock()
			return scanning.ClassificationResult{FileName: item.FileName}, nil
		},
		func(ctx context.Context, results []scanning.ClassificationResult) {
			mu.Lock()
			order = append(order, "emit")
			mu.Unlock()
		},
	)
	require.NoError(t, err)

	// The first group's emit happens before any second-group classify.
	firstEmit := -1
	for i, ev := range order {
		if ev == "emit" {
			firstEmit = i
			break
		}
	}
	require.GreaterOrEqual(t, firstEmit, 2)
	for _, ev := range order[:firstEmit] {
		require.Contains(t, []string{"classify:file-0.png", "classify:file-1.png"}, ev)
	}
}
