package scanning

import (
	"context"
	"fmt"
	"strings"

	regexp "github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pii-sentinel/internal/domain/pii"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

// Inspector abstracts row sampling and table metadata access over a target
// relational store. Implementations live in internal/infra/dbinspect.
type Inspector interface {
	// SampleRows fetches a bounded sample of rows for the named table.
	SampleRows(ctx context.Context, table string) ([]scanning.Row, error)
	// TableOwner returns the owning principal of the named table. It
	// degrades to scanning.UnknownOwner instead of failing.
	TableOwner(ctx context.Context, table string) string
	// ListTables returns the table names of the default schema.
	ListTables(ctx context.Context) ([]string, error)
	// ListColumns returns column name to declared data type for a table.
	ListColumns(ctx context.Context, table string) (map[string]string, error)
	// Close releases the underlying connections.
	Close()
}

var dbNameRe = regexp.MustCompile(`/([^/?]+)(\?|$)`)

// ExtractDBName derives a logical database name from a connection string:
// the first path segment after the last slash and before any query string.
func ExtractDBName(connString string) string {
	m := dbNameRe.FindStringSubmatch(connString)
	if m == nil {
		return scanning.UnknownDatabase
	}
	return m[1]
}

// DBOrchestrator iterates tables, runs the classification engine over every
// sampled row and aggregates per-table statistics and per-database
// classification summaries.
type DBOrchestrator struct {
	registry *pii.Registry

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDBOrchestrator creates an orchestrator over the given registry.
func NewDBOrchestrator(registry *pii.Registry, log *logger.Logger, tracer trace.Tracer) *DBOrchestrator {
	return &DBOrchestrator{
		registry: registry,
		logger:   log.With("component", "db_orchestrator"),
		tracer:   tracer,
	}
}

// ScanTables produces the aggregate report for the named tables, in input
// order. The first fatal connection failure aborts the remaining tables.
func (o *DBOrchestrator) ScanTables(
	ctx context.Context,
	insp Inspector,
	connString string,
	tables []string,
	allowList []string,
) (*scanning.DatabaseScanReport, error) {
	ctx, span := o.tracer.Start(ctx, "db_orchestrator.scan_tables",
		trace.WithAttributes(
			attribute.Int("num_tables", len(tables)),
			attribute.Int("allow_list_size", len(allowList)),
		),
	)
	defer span.End()

	// One engine per scan keeps row identifiers scoped to this request.
	engine := NewEngine(o.registry)

	report := &scanning.DatabaseScanReport{DBName: ExtractDBName(connString)}

	for _, table := range tables {
		summary, columns, err := o.scanTable(ctx, insp, engine, table, allowList)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "table scan failed")
			return nil, fmt.Errorf("scanning table %s: %w", table, err)
		}
		report.Tables = append(report.Tables, summary)
		report.TableScans = append(report.TableScans, columns)
	}

	return report, nil
}

func (o *DBOrchestrator) scanTable(
	ctx context.Context,
	insp Inspector,
	engine *Engine,
	table string,
	allowList []string,
) (scanning.TableScanSummary, scanning.TableColumns, error) {
	rows, err := insp.SampleRows(ctx, table)
	if err != nil {
		return scanning.TableScanSummary{}, scanning.TableColumns{}, err
	}

	var (
		tally    scanning.CategoryTally
		order    []string
		perField = make(map[string]*scanning.ColumnStats)
	)

	for _, row := range rows {
		findings := engine.ScanRow(table, row, allowList)

		// Every field present in the row counts as scanned once, so a
		// field matching in 4 of 10 rows reports 40.00 accuracy.
		for _, field := range sortedFields(row) {
			stats, ok := perField[field]
			if !ok {
				stats = &scanning.ColumnStats{
					Name:     field,
					DataType: kindOf(row[field]),
				}
				perField[field] = stats
				order = append(order, field)
			}
			stats.Scanned++
		}

		matchedFields := make(map[string]bool, len(findings.Matches))
		for _, m := range findings.Matches {
			cat := o.registry.CategoryOf(m.PIIType)
			switch cat {
			case pii.CategoryIdentifiers:
				tally.Identifiers++
			case pii.CategoryBehavioral:
				tally.Behavioral++
			default:
				tally.PII++
			}

			if stats := perField[m.Field]; stats.Classification == "" {
				stats.Classification = string(cat)
			}
			matchedFields[m.Field] = true
		}

		for field := range matchedFields {
			perField[field].Matched++
		}
	}

	// Only columns with at least one detection are reported.
	columns := scanning.TableColumns{Name: table}
	for _, field := range order {
		stats := perField[field]
		if stats.Matched == 0 {
			continue
		}
		stats.Accuracy = scanning.FormatAccuracy(stats.Matched, stats.Scanned)
		columns.Columns = append(columns.Columns, *stats)
	}

	summary := scanning.TableScanSummary{
		Name:            table,
		Owner:           insp.TableOwner(ctx, table),
		RowCount:        len(rows),
		Classifications: tally,
	}

	o.logger.Debug(ctx, "table scan complete",
		"table", table,
		"rows", summary.RowCount,
		"columns", len(columns.Columns),
	)

	return summary, columns, nil
}

// ClassifySchema infers PII types from column names only, without sampling
// any data. A column is tagged with the first pattern name its lowercased
// name contains.
func (o *DBOrchestrator) ClassifySchema(ctx context.Context, insp Inspector) (scanning.SchemaClassification, error) {
	ctx, span := o.tracer.Start(ctx, "db_orchestrator.classify_schema")
	defer span.End()

	tables, err := insp.ListTables(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing tables failed")
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	result := make(scanning.SchemaClassification, len(tables))
	for _, table := range tables {
		cols, err := insp.ListColumns(ctx, table)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "listing columns failed")
			return nil, fmt.Errorf("listing columns of %s: %w", table, err)
		}

		classified := make(map[string]scanning.ColumnMetadata, len(cols))
		for name, dataType := range cols {
			meta := scanning.ColumnMetadata{DataType: dataType}
			lower := strings.ToLower(name)
			for _, patternName := range o.registry.Names() {
				if strings.Contains(lower, patternName) {
					meta.PIIType = patternName
					break
				}
			}
			classified[name] = meta
		}
		result[table] = classified
	}

	return result, nil
}

// kindOf names a sampled value's dynamic type for reporting.
func kindOf(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
