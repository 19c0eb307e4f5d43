package scanning

// Row is one sampled database row, keyed by column name. Only string-valued
// fields participate in pattern matching.
type Row map[string]any

// RowMatch records a single detection: the field that matched and the PII
// type whose pattern matched it. A field may appear in several matches and a
// PII type may match several fields of the same row.
type RowMatch struct {
	Field   string `json:"field"`
	PIIType string `json:"pii_type"`
}

// RowFindings is the per-row output of the classification engine. RowID is
// generated by the engine and is unique within a single scan session.
type RowFindings struct {
	Table   string     `json:"table"`
	RowID   string     `json:"rowId"`
	Matches []RowMatch `json:"matches"`
}

// HasMatches reports whether any pattern matched the row.
func (f RowFindings) HasMatches() bool { return len(f.Matches) > 0 }

// TableRowFinding collapses a row's findings to the deduplicated set of
// matched PII types, without per-field detail.
type TableRowFinding struct {
	Table    string   `json:"table"`
	RowID    string   `json:"rowId"`
	PIIFound bool     `json:"piiFound"`
	Types    []string `json:"types"`
}
