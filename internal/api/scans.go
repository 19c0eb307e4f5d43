package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
)

const maxUploadBytes = 64 << 20

// handleImageScan accepts a multipart image submission. The scan runs in the
// background; results stream over the channel registered for the request id.
func (s *Server) handleImageScan(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("id")
	if requestID == "" {
		s.respondError(w, r, http.StatusBadRequest, "missing id")
		return
	}

	kind := scanning.ScanKindImageClassify
	if r.URL.Query().Get("type") == "metadata" {
		kind = scanning.ScanKindImageMetadata
	}

	items, err := s.saveUploads(r, "images")
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := s.starter.StartImageScan(r.Context(), requestID, kind, items)
	if err != nil {
		releaseItems(items)
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	s.respond(w, r, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"batch_id": batch.ID,
	})
}

// handleDocumentScan accepts a multipart document submission plus the PII
// types to scan for.
func (s *Server) handleDocumentScan(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("id")
	if requestID == "" {
		s.respondError(w, r, http.StatusBadRequest, "missing id")
		return
	}

	items, err := s.saveUploads(r, "files")
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	piiTypes := r.MultipartForm.Value["pii_types"]

	batch, err := s.starter.StartDocumentScan(r.Context(), requestID, items, piiTypes)
	if err != nil {
		releaseItems(items)
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	s.respond(w, r, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"batch_id": batch.ID,
	})
}

type databaseScanRequest struct {
	ID         string   `json:"id" validate:"required"`
	ConnString string   `json:"conn_string" validate:"required"`
	DBType     string   `json:"db_type" validate:"required,oneof=postgres mysql"`
	ScanType   string   `json:"scan_type" validate:"required,oneof=db-metadata db-full db-table"`
	TableName  string   `json:"table_name" validate:"required_if=ScanType db-table"`
	PIITypes   []string `json:"pii_types"`
}

// handleDatabaseScan accepts a JSON database scan submission.
func (s *Server) handleDatabaseScan(w http.ResponseWriter, r *http.Request) {
	var req databaseScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			s.respondError(w, r, http.StatusBadRequest, vErrs.Error())
			return
		}
		s.respondError(w, r, http.StatusBadRequest, "invalid request")
		return
	}

	kind, err := scanning.ParseScanKind(req.ScanType)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := s.starter.StartDatabaseScan(r.Context(), req.ID, appscan.DatabaseScanRequest{
		Kind:       kind,
		Engine:     config.EngineKind(req.DBType),
		ConnString: req.ConnString,
		Table:      req.TableName,
		PIITypes:   req.PIITypes,
	})
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	s.respond(w, r, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"batch_id": batch.ID,
	})
}

// saveUploads spools the named multipart files to the upload directory and
// returns them as work items. The session owns the spooled files and
// releases them after dispatch.
func (s *Server) saveUploads(r *http.Request, field string) ([]scanning.WorkItem, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parsing multipart form: %w", err)
	}

	if err := os.MkdirAll(s.cfg.Scan.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	headers := r.MultipartForm.File[field]
	items := make([]scanning.WorkItem, 0, len(headers))
	for _, header := range headers {
		item, err := s.spoolFile(header)
		if err != nil {
			releaseItems(items)
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Server) spoolFile(header *multipart.FileHeader) (scanning.WorkItem, error) {
	src, err := header.Open()
	if err != nil {
		return scanning.WorkItem{}, fmt.Errorf("opening upload %s: %w", header.Filename, err)
	}
	defer src.Close()

	name := filepath.Base(header.Filename)
	path := filepath.Join(s.cfg.Scan.UploadDir, uuid.New().String()+"-"+name)

	dst, err := os.Create(path)
	if err != nil {
		return scanning.WorkItem{}, fmt.Errorf("spooling upload %s: %w", name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return scanning.WorkItem{}, fmt.Errorf("writing upload %s: %w", name, err)
	}

	return scanning.WorkItem{FileName: name, Path: path}, nil
}

func releaseItems(items []scanning.WorkItem) {
	for _, item := range items {
		_ = item.Release()
	}
}
