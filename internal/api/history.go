package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
)

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.history.ListBatches(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "listing batches failed", "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if batches == nil {
		batches = []scanning.Batch{}
	}
	s.respond(w, r, http.StatusOK, batches)
}

func (s *Server) handleBatchImages(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchID(w, r)
	if !ok {
		return
	}

	results, err := s.history.GetImageResults(r.Context(), batchID)
	if err != nil {
		s.logger.Error(r.Context(), "loading image results failed",
			"batch_id", batchID, "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if results == nil {
		results = []scanning.ClassificationResult{}
	}
	s.respond(w, r, http.StatusOK, results)
}

func (s *Server) handleBatchDocuments(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchID(w, r)
	if !ok {
		return
	}

	results, err := s.history.GetDocumentResults(r.Context(), batchID)
	if err != nil {
		s.logger.Error(r.Context(), "loading document results failed",
			"batch_id", batchID, "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if results == nil {
		results = []scanning.DocumentResult{}
	}
	s.respond(w, r, http.StatusOK, results)
}

func (s *Server) handleBatchDatabase(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchID(w, r)
	if !ok {
		return
	}

	report, err := s.history.GetDatabaseReport(r.Context(), batchID)
	if errors.Is(err, scanning.ErrBatchNotFound) {
		s.respondError(w, r, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "loading database report failed",
			"batch_id", batchID, "error", err)
		s.respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	s.respond(w, r, http.StatusOK, report)
}

func (s *Server) batchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid batch id")
		return uuid.UUID{}, false
	}
	return id, true
}
