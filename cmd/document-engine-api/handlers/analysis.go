package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// AnalysisHandler handles document analysis requests.
type AnalysisHandler struct {
	logger  *observability.Logger
	service *analysis.Service
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(logger *observability.Logger, service *analysis.Service) *AnalysisHandler {
	return &AnalysisHandler{
		logger:  logger,
		service: service,
	}
}

// AnalysisOptionsDTO selects pipeline stages. Omitted toggles keep their
// defaults, which enable every stage.
type AnalysisOptionsDTO struct {
	ExtractEntities *bool `json:"extractEntities,omitempty"`
	GenerateSummary *bool `json:"generateSummary,omitempty"`
	DetectAnomalies *bool `json:"detectAnomalies,omitempty"`
	LinkEntities    *bool `json:"linkEntities,omitempty"`
	MaxChunkSize    int   `json:"maxChunkSize,omitempty"`
	OverlapSize     int   `json:"overlapSize,omitempty"`
}

// AnalyzeDocumentDTO represents the API request for analyzing a
// registered document.
type AnalyzeDocumentDTO struct {
	Options *AnalysisOptionsDTO `json:"options,omitempty"`
}

// AnalyzeTextDTO represents the API request for analyzing inline text.
type AnalyzeTextDTO struct {
	Content string              `json:"content"`
	Options *AnalysisOptionsDTO `json:"options,omitempty"`
}

// TicketDTO reports an accepted background analysis.
type TicketDTO struct {
	AnalysisID string `json:"analysisId"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
}

// AnalysisDTO represents an analysis record in API responses. Result
// carries the stored pipeline output in its persisted serialization.
type AnalysisDTO struct {
	AnalysisID  string          `json:"analysisId"`
	DocumentID  string          `json:"documentId"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Analyze handles POST /v1/documents/{documentId}/analyze. The pipeline
// runs in the background; cached and reused results return immediately.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", "")
		return
	}

	var reqDTO AnalyzeDocumentDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ticket, err := h.service.AnalyzeAsync(ctx, analysis.AnalyzeRequest{
		DocumentID: docID,
		Options:    reqDTO.Options.toOptions(),
	})
	if err != nil {
		h.respondAnalysisError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if ticket.Response != nil {
		if err := json.NewEncoder(w).Encode(ticket.Response); err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode response")
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(TicketDTO{
		AnalysisID: ticket.AnalysisID.String(),
		DocumentID: ticket.DocumentID.String(),
		Status:     string(ticket.Status),
	}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// AnalyzeText handles POST /v1/analyze. The text is registered as an
// inline document and analyzed synchronously.
func (h *AnalysisHandler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO AnalyzeTextDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if reqDTO.Content == "" {
		h.writeError(w, http.StatusBadRequest, "content is required", "")
		return
	}

	resp, err := h.service.Analyze(ctx, analysis.AnalyzeRequest{
		Text:    reqDTO.Content,
		Options: reqDTO.Options.toOptions(),
	})
	if err != nil {
		h.respondAnalysisError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// GetLatest handles GET /v1/documents/{documentId}/analysis.
func (h *AnalysisHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", "")
		return
	}

	rec, err := h.service.LatestAnalysis(ctx, docID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "no analysis found", "")
			return
		}
		h.logger.Error().Err(err).Msg("Analysis lookup failed")
		h.writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toAnalysisDTO(rec)); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// ListByDocument handles GET /v1/documents/{documentId}/analyses.
func (h *AnalysisHandler) ListByDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(chi.URLParam(r, "documentId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id", "")
		return
	}

	recs, err := h.service.AnalysesForDocument(ctx, docID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Analysis listing failed")
		h.writeError(w, http.StatusInternalServerError, "listing failed", err.Error())
		return
	}

	dtos := make([]AnalysisDTO, 0, len(recs))
	for _, rec := range recs {
		dtos = append(dtos, toAnalysisDTO(rec))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"analyses": dtos}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// Get handles GET /v1/analyses/{analysisId}, the poll target for
// accepted background runs.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	analysisID, err := uuid.Parse(chi.URLParam(r, "analysisId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid analysis id", "")
		return
	}

	rec, err := h.service.Analysis(ctx, analysisID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "analysis not found", "")
			return
		}
		h.logger.Error().Err(err).Msg("Analysis lookup failed")
		h.writeError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toAnalysisDTO(rec)); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (dto *AnalysisOptionsDTO) toOptions() storage.AnalysisOptions {
	opts := storage.DefaultAnalysisOptions()
	if dto == nil {
		return opts
	}
	if dto.ExtractEntities != nil {
		opts.ExtractEntities = *dto.ExtractEntities
	}
	if dto.GenerateSummary != nil {
		opts.GenerateSummary = *dto.GenerateSummary
	}
	if dto.DetectAnomalies != nil {
		opts.DetectAnomalies = *dto.DetectAnomalies
	}
	if dto.LinkEntities != nil {
		opts.LinkEntities = *dto.LinkEntities
	}
	opts.MaxChunkSize = dto.MaxChunkSize
	opts.OverlapSize = dto.OverlapSize
	return opts
}

func toAnalysisDTO(rec *storage.AnalysisRecord) AnalysisDTO {
	dto := AnalysisDTO{
		AnalysisID:  rec.ID.String(),
		DocumentID:  rec.DocumentID.String(),
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Result:      rec.Result,
	}
	if rec.Error != nil {
		dto.Error = *rec.Error
	}
	return dto
}

func (h *AnalysisHandler) respondAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "document not found", "")
	case errors.Is(err, analysis.ErrEmptyDocument):
		h.writeError(w, http.StatusBadRequest, "document has no content", "")
	case errors.Is(err, analysis.ErrNoStagesEnabled):
		h.writeError(w, http.StatusBadRequest, "no analysis stages enabled", "")
	case errors.Is(err, analysis.ErrContentTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "document too large", err.Error())
	case errors.Is(err, analysis.ErrNoUsableOutput):
		h.writeError(w, http.StatusUnprocessableEntity, "analysis produced no usable output", "")
	default:
		h.logger.Error().Err(err).Msg("Analysis failed")
		h.writeError(w, http.StatusInternalServerError, "analysis failed", err.Error())
	}
}

func (h *AnalysisHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
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
