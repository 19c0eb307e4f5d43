package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/internal/infra/storage"
)

// ListBatches returns every persisted batch, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]scanning.Batch, error) {
	var batches []scanning.Batch

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_batches", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, scan_kind, total_files, created_at
			FROM batches
			ORDER BY created_at DESC`,
		)
		if err != nil {
			return fmt.Errorf("query batches: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var b scanning.Batch
			var kind string
			if err := rows.Scan(&b.ID, &kind, &b.TotalFiles, &b.CreatedAt); err != nil {
				return fmt.Errorf("scan batch row: %w", err)
			}
			b.ScanKind = scanning.ScanKind(kind)
			batches = append(batches, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// GetImageResults returns the image results persisted for a batch.
func (s *Store) GetImageResults(ctx context.Context, batchID uuid.UUID) ([]scanning.ClassificationResult, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("batch_id", batchID.String()))

	var results []scanning.ClassificationResult
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_image_results", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT file_name, label, inferred_label, metadata
			FROM image_results
			WHERE batch_id = $1
			ORDER BY id`,
			batchID,
		)
		if err != nil {
			return fmt.Errorf("query image results: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var res scanning.ClassificationResult
			var metadata []byte
			if err := rows.Scan(&res.FileName, &res.Label, &res.InferredLabel, &metadata); err != nil {
				return fmt.Errorf("scan image result row: %w", err)
			}
			if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
			results = append(results, res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetDocumentResults returns the document results persisted for a batch.
func (s *Store) GetDocumentResults(ctx context.Context, batchID uuid.UUID) ([]scanning.DocumentResult, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("batch_id", batchID.String()))

	var results []scanning.DocumentResult
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_document_results", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT file_name, pii_found, classifications, error
			FROM document_results
			WHERE batch_id = $1
			ORDER BY id`,
			batchID,
		)
		if err != nil {
			return fmt.Errorf("query document results: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var res scanning.DocumentResult
			var classifications []byte
			if err := rows.Scan(&res.FileName, &res.PIIFound, &classifications, &res.Error); err != nil {
				return fmt.Errorf("scan document result row: %w", err)
			}
			if err := json.Unmarshal(classifications, &res.Classifications); err != nil {
				return fmt.Errorf("decode classifications: %w", err)
			}
			results = append(results, res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetDatabaseReport reconstructs the report persisted for a batch's database
// scan. Batches without a database scan yield ErrBatchNotFound.
func (s *Store) GetDatabaseReport(ctx context.Context, batchID uuid.UUID) (*scanning.DatabaseScanReport, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("batch_id", batchID.String()))

	var report scanning.DatabaseScanReport
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_database_report", dbAttrs, func(ctx context.Context) error {
		var scanID int64
		err := s.pool.QueryRow(ctx, `
			SELECT id, db_name
			FROM db_scans
			WHERE batch_id = $1
			ORDER BY id DESC
			LIMIT 1`,
			batchID,
		).Scan(&scanID, &report.DBName)
		if errors.Is(err, pgx.ErrNoRows) {
			return scanning.ErrBatchNotFound
		}
		if err != nil {
			return fmt.Errorf("query db scan: %w", err)
		}

		if err := s.loadTableMetadata(ctx, scanID, &report); err != nil {
			return err
		}
		return s.loadColumnResults(ctx, scanID, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Store) loadTableMetadata(ctx context.Context, scanID int64, report *scanning.DatabaseScanReport) error {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, owner, row_count, pii_count, identifier_count, behavioral_count
		FROM db_table_metadata
		WHERE db_scan_id = $1
		ORDER BY id`,
		scanID,
	)
	if err != nil {
		return fmt.Errorf("query table metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table scanning.TableScanSummary
		err := rows.Scan(&table.Name, &table.Owner, &table.RowCount,
			&table.Classifications.PII,
			&table.Classifications.Identifiers,
			&table.Classifications.Behavioral,
		)
		if err != nil {
			return fmt.Errorf("scan table metadata row: %w", err)
		}
		report.Tables = append(report.Tables, table)
	}
	return rows.Err()
}

func (s *Store) loadColumnResults(ctx context.Context, scanID int64, report *scanning.DatabaseScanReport) error {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, column_name, data_type, classification, scanned, matched, accuracy
		FROM db_column_results
		WHERE db_scan_id = $1
		ORDER BY id`,
		scanID,
	)
	if err != nil {
		return fmt.Errorf("query column results: %w", err)
	}
	defer rows.Close()

	// Columns are grouped back under their table, preserving insert order.
	byTable := make(map[string]int)
	for i, table := range report.Tables {
		report.TableScans = append(report.TableScans, scanning.TableColumns{Name: table.Name})
		byTable[table.Name] = i
	}

	for rows.Next() {
		var tableName string
		var col scanning.ColumnStats
		err := rows.Scan(&tableName, &col.Name, &col.DataType,
			&col.Classification, &col.Scanned, &col.Matched, &col.Accuracy)
		if err != nil {
			return fmt.Errorf("scan column result row: %w", err)
		}

		idx, ok := byTable[tableName]
		if !ok {
			report.TableScans = append(report.TableScans, scanning.TableColumns{Name: tableName})
			idx = len(report.TableScans) - 1
			byTable[tableName] = idx
		}
		report.TableScans[idx].Columns = append(report.TableScans[idx].Columns, col)
	}
	return rows.Err()
}
