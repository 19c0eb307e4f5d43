// Package scanning defines the domain model for PII scan sessions: the scan
// kinds a client can request, the work items and batches flowing through the
// pipeline, and the result shapes streamed back or persisted.
package scanning

import "errors"

// ScanKind identifies the type of classification a scan request asks for.
type ScanKind string

const (
	// ScanKindImageClassify runs the image model's label prediction.
	ScanKindImageClassify ScanKind = "image-classify"
	// ScanKindImageMetadata extracts file-based labels and embedded metadata.
	ScanKindImageMetadata ScanKind = "image-metadata"
	// ScanKindDocumentPII scans document text for PII patterns.
	ScanKindDocumentPII ScanKind = "document-pii"
	// ScanKindDBMetadata classifies database columns from schema metadata only.
	ScanKindDBMetadata ScanKind = "db-metadata"
	// ScanKindDBFull samples and scans every table in a database.
	ScanKindDBFull ScanKind = "db-full"
	// ScanKindDBTable samples and scans a single named table.
	ScanKindDBTable ScanKind = "db-table"
)

// ErrUnknownScanKind indicates a request named a scan kind the system does
// not recognize. The request is rejected before any dispatch.
var ErrUnknownScanKind = errors.New("unknown scan kind")

// ParseScanKind validates a client-supplied scan kind string.
func ParseScanKind(s string) (ScanKind, error) {
	switch k := ScanKind(s); k {
	case ScanKindImageClassify,
		ScanKindImageMetadata,
		ScanKindDocumentPII,
		ScanKindDBMetadata,
		ScanKindDBFull,
		ScanKindDBTable:
		return k, nil
	}
	return "", ErrUnknownScanKind
}
