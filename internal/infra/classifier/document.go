package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

var _ appscan.DocumentClassifier = (*DocumentClient)(nil)

// DocumentClient calls the document scanner service. The whole work list
// goes upstream in one call, so a transport failure or non-2xx status is a
// total failure for the session, wrapped as a ConnectionError.
type DocumentClient struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewDocumentClient builds a client for the document scanner at baseURL.
func NewDocumentClient(baseURL string, timeout time.Duration, log *logger.Logger) *DocumentClient {
	return &DocumentClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.With("component", "document_classifier"),
	}
}

// ScanDocuments submits every work item in one multipart request with the
// requested PII types and returns the per-file results.
func (c *DocumentClient) ScanDocuments(ctx context.Context, items []scanning.WorkItem, piiTypes []string) ([]scanning.DocumentResult, error) {
	body, contentType, err := documentForm(items, piiTypes)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/document-upload", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, scanning.NewConnectionError("document-scanner", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, scanning.NewConnectionError("document-scanner",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var results []scanning.DocumentResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, scanning.NewConnectionError("document-scanner",
			fmt.Errorf("decoding response: %w", err))
	}
	return results, nil
}

// documentForm builds a multipart body with every file under the repeated
// "files" field and each requested PII type under "pii_types".
func documentForm(items []scanning.WorkItem, piiTypes []string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, item := range items {
		if err := appendFile(w, item); err != nil {
			return nil, "", err
		}
	}
	for _, piiType := range piiTypes {
		if err := w.WriteField("pii_types", piiType); err != nil {
			return nil, "", fmt.Errorf("building form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func appendFile(w *multipart.Writer, item scanning.WorkItem) error {
	f, err := os.Open(item.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", item.FileName, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", item.FileName)
	if err != nil {
		return fmt.Errorf("building form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading %s: %w", item.FileName, err)
	}
	return nil
}
