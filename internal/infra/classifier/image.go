// Package classifier provides HTTP clients for the external classification
// services: the image model and the document scanner. Uploads go out as
// multipart form data; responses come back as JSON.
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

var _ appscan.ImageClassifier = (*ImageClient)(nil)

// ImageClient calls the image model service. Failures are per-item; the
// dispatcher converts them into error placeholders rather than failing the
// session.
type ImageClient struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewImageClient builds a client for the image model at baseURL. The
// per-call deadline comes from the caller's context; timeout only bounds
// a call whose context carries no deadline.
func NewImageClient(baseURL string, timeout time.Duration, log *logger.Logger) *ImageClient {
	return &ImageClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log.With("component", "image_classifier"),
	}
}

// imageResponse is the model service's wire shape.
type imageResponse struct {
	FileBased string         `json:"file_based"`
	Label     string         `json:"label"`
	Metadata  map[string]any `json:"metadata"`
}

// Classify runs the model's label prediction on one image.
func (c *ImageClient) Classify(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
	resp, err := c.post(ctx, "/predict", item)
	if err != nil {
		return scanning.ClassificationResult{}, err
	}
	return scanning.ClassificationResult{
		FileName: item.FileName,
		Label:    resp.Label,
		Metadata: nonNilMetadata(resp.Metadata),
	}, nil
}

// Metadata extracts the filename-based label and embedded metadata.
func (c *ImageClient) Metadata(ctx context.Context, item scanning.WorkItem) (scanning.ClassificationResult, error) {
	resp, err := c.post(ctx, "/metadata", item)
	if err != nil {
		return scanning.ClassificationResult{}, err
	}
	return scanning.ClassificationResult{
		FileName:      item.FileName,
		InferredLabel: resp.FileBased,
		Metadata:      nonNilMetadata(resp.Metadata),
	}, nil
}

func (c *ImageClient) post(ctx context.Context, path string, item scanning.WorkItem) (*imageResponse, error) {
	body, contentType, err := imageForm(item)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling image model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("image model returned status %d", resp.StatusCode)
	}

	var decoded imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding image model response: %w", err)
	}
	return &decoded, nil
}

// imageForm builds a multipart body with the item's file under the "image"
// field, the field name the model service expects.
func imageForm(item scanning.WorkItem) (io.Reader, string, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", item.FileName, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", item.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("building form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", item.FileName, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
