package scanning

import "fmt"

// UnknownOwner is reported when table ownership cannot be determined.
// Ownership is informational, so lookups degrade to this sentinel instead of
// failing the scan.
const UnknownOwner = "Unknown"

// UnknownDatabase is reported when no database name can be derived from a
// connection descriptor.
const UnknownDatabase = "Unknown_DB"

// CategoryTally counts detections per classification category for one table.
type CategoryTally struct {
	PII         int `json:"pii"`
	Identifiers int `json:"identifiers"`
	Behavioral  int `json:"behavioral"`
}

// ColumnStats holds the per-column detection statistics accumulated while
// scanning a table's sampled rows.
type ColumnStats struct {
	Name           string `json:"name"`
	DataType       string `json:"data_type"`
	Classification string `json:"classification"`
	Scanned        int    `json:"scanned"`
	Matched        int    `json:"matched"`
	// Accuracy is matched/scanned as a percentage with two-decimal
	// precision, e.g. "40.00".
	Accuracy string `json:"accuracy"`
}

// FormatAccuracy renders matched/scanned as a two-decimal percentage.
func FormatAccuracy(matched, scanned int) string {
	if scanned == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(matched)/float64(scanned)*100)
}

// TableScanSummary aggregates one table's scan: row count, owning principal
// and category tallies. It is finalized once all sampled rows are processed.
type TableScanSummary struct {
	Name            string        `json:"name"`
	Owner           string        `json:"owner"`
	RowCount        int           `json:"rowCount"`
	Classifications CategoryTally `json:"classifications"`
}

// TableColumns pairs a table with the detection statistics of its columns.
// Tables with no sampled rows have no columns.
type TableColumns struct {
	Name    string        `json:"name"`
	Columns []ColumnStats `json:"columns"`
}

// DatabaseScanReport is the aggregate output of a full or single-table
// database scan. Table order follows input order.
type DatabaseScanReport struct {
	DBName     string             `json:"db_name"`
	Tables     []TableScanSummary `json:"table_metadata"`
	TableScans []TableColumns     `json:"table_scans"`
}

// ColumnMetadata describes one column in a schema-only classification:
// its declared data type and the PII type inferred from the column name,
// if any.
type ColumnMetadata struct {
	DataType string `json:"type"`
	PIIType  string `json:"pii_type,omitempty"`
}

// SchemaClassification maps table name to column name to inferred metadata.
type SchemaClassification map[string]map[string]ColumnMetadata
