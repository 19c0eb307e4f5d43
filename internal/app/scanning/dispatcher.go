package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
	"github.com/ahrav/pii-sentinel/pkg/common/otel"
)

// ItemClassifier performs one remote classification call for a single work
// item. Implementations must honor the context deadline.
type ItemClassifier func(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error)

// GroupEmitter receives each group's results, in item order, before the next
// group is dispatched.
type GroupEmitter func(ctx context.Context, results []scanning.ClassificationResult)

// BatchDispatcher splits a work list into fixed-size groups and drives
// dispatch: groups strictly sequential, items within a group concurrent.
// Result order within a group matches input order regardless of completion
// order. A per-item failure becomes an Error-labeled placeholder and never
// aborts the group.
type BatchDispatcher struct {
	groupSize   int
	itemTimeout time.Duration

	itemsDispatched metric.Int64Counter
	itemFailures    metric.Int64Counter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBatchDispatcher creates a dispatcher with the given group size and
// per-item timeout. Item counters register against the global meter
// provider.
func NewBatchDispatcher(groupSize int, itemTimeout time.Duration, log *logger.Logger, tracer trace.Tracer) *BatchDispatcher {
	meter := otel.GetMeterProvider().Meter("batch_dispatcher")
	itemsDispatched, _ := meter.Int64Counter("scan_items_dispatched_total",
		metric.WithDescription("Work items handed to a classifier, by scan kind."))
	itemFailures, _ := meter.Int64Counter("scan_item_failures_total",
		metric.WithDescription("Work items that produced an error placeholder, by scan kind."))

	return &BatchDispatcher{
		groupSize:       groupSize,
		itemTimeout:     itemTimeout,
		itemsDispatched: itemsDispatched,
		itemFailures:    itemFailures,
		logger:          log.With("component", "batch_dispatcher"),
		tracer:          tracer,
	}
}

// Dispatch partitions items and classifies them group by group, handing each
// completed group to emit before the next group starts. Every item's backing
// file is released exactly once, whether its classification succeeded or
// failed. An empty work list fails fast before any dispatch.
func (d *BatchDispatcher) Dispatch(
	ctx context.Context,
	kind scanning.ScanKind,
	items []scanning.WorkItem,
	classify ItemClassifier,
	emit GroupEmitter,
) error {
	if len(items) == 0 {
		return scanning.ErrNoWorkItems
	}

	ctx, span := d.tracer.Start(ctx, "batch_dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("scan_kind", string(kind)),
			attribute.Int("num_items", len(items)),
			attribute.Int("group_size", d.groupSize),
		),
	)
	defer span.End()

	groups := scanning.ChunkWorkItems(items, d.groupSize)
	span.SetAttributes(attribute.Int("num_groups", len(groups)))

	for _, group := range groups {
		results := d.dispatchGroup(ctx, kind, group, classify)
		emit(ctx, results)
	}

	return nil
}

// dispatchGroup fans the group's items out concurrently and joins them all
// before returning, which keeps result order equal to input order.
func (d *BatchDispatcher) dispatchGroup(
	ctx context.Context,
	kind scanning.ScanKind,
	group []scanning.WorkItem,
	classify ItemClassifier,
) []scanning.ClassificationResult {
	results := make([]scanning.ClassificationResult, len(group))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range group {
		g.Go(func() error {
			results[i] = d.classifyItem(gctx, kind, item, classify)
			return nil
		})
	}
	// Workers never return errors; failures become placeholder results.
	_ = g.Wait()

	return results
}

func (d *BatchDispatcher) classifyItem(
	ctx context.Context,
	kind scanning.ScanKind,
	item scanning.WorkItem,
	classify ItemClassifier,
) scanning.ClassificationResult {
	defer func() {
		if err := item.Release(); err != nil {
			d.logger.Warn(ctx, "failed to release work item", "file", item.FileName, "error", err)
		}
	}()

	kindAttr := metric.WithAttributes(attribute.String("scan_kind", string(kind)))
	d.itemsDispatched.Add(ctx, 1, kindAttr)

	ctx, cancel := context.WithTimeout(ctx, d.itemTimeout)
	defer cancel()

	res, err := classify(ctx, item)
	if err != nil {
		d.itemFailures.Add(ctx, 1, kindAttr)
		d.logger.Warn(ctx, "item classification failed", "file", item.FileName, "error", err)
		return scanning.ErrorResult(kind, item.FileName)
	}
	return res
}
