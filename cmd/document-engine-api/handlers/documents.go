// Package handlers provides HTTP handlers for the Document Engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// DocumentHandler handles document registration and lookup requests.
type DocumentHandler struct {
	logger  *observability.Logger
	service *analysis.Service
	view    *storage.DocumentViewRepository
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(logger *observability.Logger, service *analysis.Service, view *storage.DocumentViewRepository) *DocumentHandler {
	return &DocumentHandler{
		logger:  logger,
		service: service,
		view:    view,
	}
}

// RegisterDocumentDTO represents the API request for registering a document.
type RegisterDocumentDTO struct {
	Filename string         `json:"filename"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocumentDTO represents a document in API responses.
type DocumentDTO struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename"`
	ContentHash     string          `json:"contentHash"`
	SizeBytes       int64           `json:"sizeBytes"`
	MimeType        string          `json:"mimeType,omitempty"`
	Status          string          `json:"status"`
	TotalChunks     *int            `json:"totalChunks,omitempty"`
	ConfidenceScore *float64        `json:"confidenceScore,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	UploadedAt      time.Time       `json:"uploadedAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
}

// DocumentOverviewDTO represents a document list row with its latest
// analysis state.
type DocumentOverviewDTO struct {
	DocumentDTO
	LatestAnalysisID     string     `json:"latestAnalysisId,omitempty"`
	LatestAnalysisStatus string     `json:"latestAnalysisStatus,omitempty"`
	LastAnalyzedAt       *time.Time `json:"lastAnalyzedAt,omitempty"`
}

// DocumentListDTO represents the API response for document listings.
type DocumentListDTO struct {
	Documents  []DocumentOverviewDTO `json:"documents"`
	TotalCount int                   `json:"totalCount"`
	ComputedAt time.Time             `json:"computedAt"`
}

// Register handles POST /v1/documents.
func (h *DocumentHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO RegisterDocumentDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if reqDTO.Content == "" {
		h.writeError(w, http.StatusBadRequest, "content is required", "")
		return
	}

	doc, err := h.service.RegisterDocument(ctx, analysis.RegisterRequest{
		Filename: reqDTO.Filename,
		Content:  reqDTO.Content,
		Metadata: reqDTO.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrEmptyDocument):
			h.writeError(w, http.StatusBadRequest, "content is required", "")
		case errors.Is(err, analysis.ErrContentTooLarge):
			h.writeError(w, http.StatusRequestEntityTooLarge, "document too large", err.Error())
		case errors.Is(err, analysis.ErrUnsupportedType):
			h.writeError(w, http.StatusBadRequest, "unsupported document type", err.Error())
		default:
			h.logger.Error().Err(err).Msg("Document registration failed")
			h.writeError(w, http.StatusInternalServerError, "registration failed", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toDocumentDTO(doc)); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// Get handles GET /v1/documents/{documentId}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", "")
		return
	}

	doc, err := h.service.Document(ctx, docID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "document not found", "")
			return
		}
		h.logger.Error().Err(err).Msg("Document lookup failed")
		h.writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toDocumentDTO(doc)); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// Delete handles DELETE /v1/documents/{documentId}. Analyses for the
// document are removed with it.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", "")
		return
	}

	if err := h.service.DeleteDocument(ctx, docID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "document not found", "")
			return
		}
		h.logger.Error().Err(err).Msg("Document deletion failed")
		h.writeError(w, http.StatusInternalServerError, "deletion failed", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /v1/documents with optional status, mimeType,
// minConfidence, uploadedAfter, limit and offset query parameters.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	query := storage.DocumentViewQuery{}
	for _, s := range q["status"] {
		query.Statuses = append(query.Statuses, storage.DocumentStatus(s))
	}
	query.MimeTypes = q["mimeType"]
	if v := q.Get("minConfidence"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid minConfidence", "")
			return
		}
		query.MinConfidence = &min
	}
	if v := q.Get("uploadedAfter"); v != "" {
		after, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid uploadedAfter", "expected RFC 3339 timestamp")
			return
		}
		query.UploadedAfter = &after
	}
	query.Limit = intParam(q.Get("limit"), 0)
	query.Offset = intParam(q.Get("offset"), 0)

	result, err := h.view.Query(ctx, query)
	if err != nil {
		h.logger.Error().Err(err).Msg("Document listing failed")
		h.writeError(w, http.StatusInternalServerError, "listing failed", err.Error())
		return
	}

	if result.CacheHint.Cacheable {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(result.CacheHint.TTL.Seconds())))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toDocumentListDTO(result)); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// Search handles GET /v1/documents/search?q=keyword.
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keyword := r.URL.Query().Get("q")
	if keyword == "" {
		h.writeError(w, http.StatusBadRequest, "q is required", "")
		return
	}
	limit := intParam(r.URL.Query().Get("limit"), 0)

	rows, err := h.view.SearchByKeyword(ctx, keyword, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Document search failed")
		h.writeError(w, http.StatusInternalServerError, "search failed", err.Error())
		return
	}

	list := toDocumentListDTO(&storage.DocumentViewResult{
		Documents:  rows,
		TotalCount: len(rows),
		ComputedAt: time.Now(),
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// Stats handles GET /v1/documents/stats.
func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.view.StatusCounts(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Status counts failed")
		h.writeError(w, http.StatusInternalServerError, "stats failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"statusCounts": counts}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func toDocumentDTO(doc *storage.Document) DocumentDTO {
	dto := DocumentDTO{
		ID:              doc.ID.String(),
		Filename:        doc.Filename,
		ContentHash:     doc.ContentHash,
		SizeBytes:       doc.SizeBytes,
		Status:          string(doc.Status),
		TotalChunks:     doc.TotalChunks,
		ConfidenceScore: doc.ConfidenceScore,
		Metadata:        doc.Metadata,
		UploadedAt:      doc.UploadedAt,
		ProcessedAt:     doc.ProcessedAt,
	}
	if doc.MimeType != nil {
		dto.MimeType = *doc.MimeType
	}
	return dto
}

func toDocumentListDTO(result *storage.DocumentViewResult) DocumentListDTO {
	dto := DocumentListDTO{
		Documents:  make([]DocumentOverviewDTO, 0, len(result.Documents)),
		TotalCount: result.TotalCount,
		ComputedAt: result.ComputedAt,
	}
	for i := range result.Documents {
		ov := &result.Documents[i]
		row := DocumentOverviewDTO{
			DocumentDTO:    toDocumentDTO(&ov.Document),
			LastAnalyzedAt: ov.LastAnalyzedAt,
		}
		if ov.LatestAnalysisID != nil {
			row.LatestAnalysisID = ov.LatestAnalysisID.String()
		}
		if ov.LatestAnalysisStatus != nil {
			row.LatestAnalysisStatus = string(*ov.LatestAnalysisStatus)
		}
		dto.Documents = append(dto.Documents, row)
	}
	return dto
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}
