// Package postgres persists scan batches and their results. Streaming never
// depends on these writes; callers treat failures as log-only.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/internal/infra/storage"
)

var _ appscan.ResultStore = (*Store)(nil)

// defaultDBAttributes defines standard OpenTelemetry attributes for
// database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const writeTimeout = 3 * time.Second

// Store is the Postgres-backed result store.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a result store over the given pool.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

// CreateBatch persists the batch record of a scan submission.
func (s *Store) CreateBatch(ctx context.Context, batch scanning.Batch) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("batch_id", batch.ID.String()),
		attribute.String("scan_kind", string(batch.ScanKind)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_batch", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		_, err := s.pool.Exec(ctx, `
			INSERT INTO batches (id, scan_kind, total_files, created_at)
			VALUES ($1, $2, $3, $4)`,
			batch.ID, string(batch.ScanKind), batch.TotalFiles, batch.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return nil
	})
}

// SaveImageResults persists one emitted group of image results.
func (s *Store) SaveImageResults(ctx context.Context, batchID uuid.UUID, results []scanning.ClassificationResult) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("batch_id", batchID.String()),
		attribute.Int("num_results", len(results)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_image_results", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		var queued pgx.Batch
		for _, res := range results {
			metadata, err := json.Marshal(res.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", res.FileName, err)
			}
			queued.Queue(`
				INSERT INTO image_results (batch_id, file_name, label, inferred_label, metadata)
				VALUES ($1, $2, $3, $4, $5)`,
				batchID, res.FileName, res.Label, res.InferredLabel, metadata,
			)
		}

		if err := s.pool.SendBatch(ctx, &queued).Close(); err != nil {
			return fmt.Errorf("insert image results: %w", err)
		}
		return nil
	})
}

// SaveDocumentResults persists the per-file results of a document scan.
func (s *Store) SaveDocumentResults(ctx context.Context, batchID uuid.UUID, results []scanning.DocumentResult) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("batch_id", batchID.String()),
		attribute.Int("num_results", len(results)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_document_results", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		var queued pgx.Batch
		for _, res := range results {
			classifications, err := json.Marshal(res.Classifications)
			if err != nil {
				return fmt.Errorf("encode classifications for %s: %w", res.FileName, err)
			}
			queued.Queue(`
				INSERT INTO document_results (batch_id, file_name, pii_found, classifications, error)
				VALUES ($1, $2, $3, $4, $5)`,
				batchID, res.FileName, res.PIIFound, classifications, res.Error,
			)
		}

		if err := s.pool.SendBatch(ctx, &queued).Close(); err != nil {
			return fmt.Errorf("insert document results: %w", err)
		}
		return nil
	})
}

// SaveDatabaseReport persists a database scan report: the scan record, the
// per-table summaries, and the per-column statistics, in one transaction.
func (s *Store) SaveDatabaseReport(ctx context.Context, batchID uuid.UUID, report *scanning.DatabaseScanReport) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("batch_id", batchID.String()),
		attribute.String("db_name", report.DBName),
		attribute.Int("num_tables", len(report.Tables)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_database_report", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var scanID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO db_scans (batch_id, db_name)
			VALUES ($1, $2)
			RETURNING id`,
			batchID, report.DBName,
		).Scan(&scanID)
		if err != nil {
			return fmt.Errorf("insert db scan: %w", err)
		}

		for _, table := range report.Tables {
			_, err := tx.Exec(ctx, `
				INSERT INTO db_table_metadata
					(db_scan_id, table_name, owner, row_count, pii_count, identifier_count, behavioral_count)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				scanID, table.Name, table.Owner, table.RowCount,
				table.Classifications.PII,
				table.Classifications.Identifiers,
				table.Classifications.Behavioral,
			)
			if err != nil {
				return fmt.Errorf("insert table metadata for %s: %w", table.Name, err)
			}
		}

		for _, table := range report.TableScans {
			for _, col := range table.Columns {
				_, err := tx.Exec(ctx, `
					INSERT INTO db_column_results
						(db_scan_id, table_name, column_name, data_type, classification, scanned, matched, accuracy)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
					scanID, table.Name, col.Name, col.DataType,
					col.Classification, col.Scanned, col.Matched, col.Accuracy,
				)
				if err != nil {
					return fmt.Errorf("insert column result for %s.%s: %w", table.Name, col.Name, err)
				}
			}
		}

		return tx.Commit(ctx)
	})
}
