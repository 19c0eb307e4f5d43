package scanning

// ErrorLabel marks a per-item classification failure in an emitted result.
// Item failures are data, not session failures.
const ErrorLabel = "Error"

// ClassificationResult is the per-item output of an image classification.
// For the classify kind Label carries the model's prediction; for the
// metadata kind InferredLabel carries the filename-based inference.
type ClassificationResult struct {
	FileName      string         `json:"filename"`
	Label         string         `json:"label,omitempty"`
	InferredLabel string         `json:"inferred_label,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// ErrorResult builds the placeholder emitted for an item whose remote
// classification failed or timed out.
func ErrorResult(kind ScanKind, fileName string) ClassificationResult {
	res := ClassificationResult{FileName: fileName, Metadata: map[string]any{}}
	if kind == ScanKindImageMetadata {
		res.InferredLabel = ErrorLabel
	} else {
		res.Label = ErrorLabel
	}
	return res
}

// DocumentResult is the per-file output of a document PII scan. The
// Classifications map counts matches per PII type. Error is set when the
// scanner could not process that single file.
type DocumentResult struct {
	FileName        string         `json:"file_name"`
	PIIFound        bool           `json:"pii_found"`
	Classifications map[string]int `json:"classifications,omitempty"`
	Error           string         `json:"error,omitempty"`
}
