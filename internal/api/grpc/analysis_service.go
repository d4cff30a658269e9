// Package grpc provides gRPC/Connect service implementations for the Document Engine.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// Procedure paths for the Connect analysis service.
const (
	AnalysisServiceAnalyzeProcedure     = "/document.v1.AnalysisService/Analyze"
	AnalysisServiceGetAnalysisProcedure = "/document.v1.AnalysisService/GetAnalysis"
)

// AnalysisService implements the gRPC/Connect analysis service.
type AnalysisService struct {
	logger  *observability.Logger
	service *analysis.Service
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(logger *observability.Logger, service *analysis.Service) *AnalysisService {
	return &AnalysisService{
		logger:  logger,
		service: service,
	}
}

// NewAnalysisServiceHandler returns the route prefix and HTTP handler
// exposing the service's Connect procedures.
func NewAnalysisServiceHandler(svc *AnalysisService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(AnalysisServiceAnalyzeProcedure, connect.NewUnaryHandler(AnalysisServiceAnalyzeProcedure, svc.Analyze, opts...))
	mux.Handle(AnalysisServiceGetAnalysisProcedure, connect.NewUnaryHandler(AnalysisServiceGetAnalysisProcedure, svc.GetAnalysis, opts...))
	return "/document.v1.AnalysisService/", mux
}

// AnalyzeRequest represents the gRPC request message. Exactly one of
// DocumentID and Content selects the input.
type AnalyzeRequest struct {
	DocumentID string           `json:"document_id,omitempty"`
	Content    string           `json:"content,omitempty"`
	Options    *AnalysisOptions `json:"options,omitempty"`
}

// AnalysisOptions represents stage selection in gRPC. A nil message
// enables every stage.
type AnalysisOptions struct {
	ExtractEntities bool  `json:"extract_entities"`
	GenerateSummary bool  `json:"generate_summary"`
	DetectAnomalies bool  `json:"detect_anomalies"`
	LinkEntities    bool  `json:"link_entities"`
	MaxChunkSize    int32 `json:"max_chunk_size,omitempty"`
	OverlapSize     int32 `json:"overlap_size,omitempty"`
}

// GetAnalysisRequest represents the gRPC lookup request message.
type GetAnalysisRequest struct {
	AnalysisID string `json:"analysis_id"`
}

// AnalyzeResponse represents the gRPC response message.
type AnalyzeResponse struct {
	AnalysisID     string            `json:"analysis_id"`
	DocumentID     string            `json:"document_id"`
	Status         string            `json:"status"`
	TotalChunks    int32             `json:"total_chunks"`
	Extraction     *ExtractionResult `json:"extraction,omitempty"`
	Summary        *SummaryResult    `json:"summary,omitempty"`
	Anomalies      *AnomalyReport    `json:"anomalies,omitempty"`
	EntityLinking  *LinkingResult    `json:"entity_linking,omitempty"`
	Confidence     *Confidence       `json:"confidence,omitempty"`
	DegradedStages []string          `json:"degraded_stages,omitempty"`
	TokensUsed     int32             `json:"tokens_used"`
	ProcessingTime float64           `json:"processing_time"`
	FromCache      bool              `json:"from_cache,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

// GetAnalysisResponse represents the gRPC lookup response message.
type GetAnalysisResponse struct {
	AnalysisID  string           `json:"analysis_id"`
	DocumentID  string           `json:"document_id"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   string           `json:"created_at"`
	StartedAt   string           `json:"started_at,omitempty"`
	CompletedAt string           `json:"completed_at,omitempty"`
	Result      *AnalyzeResponse `json:"result,omitempty"`
}

// Confidence represents the blended document confidence in gRPC.
type Confidence struct {
	OverallConfidence float64            `json:"overall_confidence"`
	Level             string             `json:"level"`
	ComponentScores   map[string]float64 `json:"component_scores"`
	ComponentWeights  map[string]float64 `json:"component_weights"`
}

// Entity represents an extracted entity in gRPC.
type Entity struct {
	ID            string  `json:"id"`
	EntityType    string  `json:"entity_type"`
	EntityValue   string  `json:"entity_value"`
	Confidence    float64 `json:"confidence"`
	PositionStart int32   `json:"position_start,omitempty"`
	PositionEnd   int32   `json:"position_end,omitempty"`
	ChunkIndex    int32   `json:"chunk_index,omitempty"`
}

// NumericalValue represents an extracted number in gRPC.
type NumericalValue struct {
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
	Context string  `json:"context"`
}

// Risk represents an identified risk in gRPC.
type Risk struct {
	RiskType    string  `json:"risk_type"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
}

// ExtractedData aggregates extraction output in gRPC.
type ExtractedData struct {
	Entities        []*Entity         `json:"entities"`
	KeyPoints       []string          `json:"key_points"`
	Dates           []string          `json:"dates"`
	NumericalValues []*NumericalValue `json:"numerical_values"`
	Risks           []*Risk           `json:"risks"`
}

// ExtractionResult represents the extraction stage outcome in gRPC.
type ExtractionResult struct {
	Data            *ExtractedData `json:"extracted_data"`
	Confidence      float64        `json:"confidence"`
	ChunksProcessed int32          `json:"chunks_processed"`
	ChunksTotal     int32          `json:"chunks_total"`
	RepairAttempts  int32          `json:"repair_attempts"`
	TokensUsed      int32          `json:"tokens_used"`
	ProcessingTime  float64        `json:"processing_time"`
}

// SummaryItem represents one summary tier entry in gRPC.
type SummaryItem struct {
	Level        string  `json:"level"`
	Content      string  `json:"content"`
	Confidence   float64 `json:"confidence"`
	ChunkIndices []int32 `json:"chunk_indices,omitempty"`
}

// SummaryResult represents the summarization stage outcome in gRPC.
type SummaryResult struct {
	GlobalSummary    string         `json:"global_summary"`
	SectionSummaries []*SummaryItem `json:"section_summaries"`
	ChunkSummaries   []*SummaryItem `json:"chunk_summaries"`
	Confidence       float64        `json:"confidence"`
	TokensUsed       int32          `json:"tokens_used"`
	ProcessingTime   float64        `json:"processing_time"`
}

// Anomaly represents one detected anomaly in gRPC.
type Anomaly struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Severity    string            `json:"severity"`
	Confidence  float64           `json:"confidence"`
	Location    string            `json:"location,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// AnomalyReport represents the anomaly stage outcome in gRPC.
type AnomalyReport struct {
	Anomalies  []*Anomaly `json:"anomalies"`
	Confidence float64    `json:"confidence"`
}

// Relationship represents an entity relationship in gRPC.
type Relationship struct {
	SourceEntityID   string  `json:"source_entity_id"`
	TargetEntityID   string  `json:"target_entity_id"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// CanonicalEntity represents a registry entry in gRPC.
type CanonicalEntity struct {
	ID              string   `json:"id"`
	EntityType      string   `json:"entity_type"`
	EntityValue     string   `json:"entity_value"`
	Confidence      float64  `json:"confidence"`
	Variations      []string `json:"variations,omitempty"`
	OccurrenceCount int32    `json:"occurrence_count"`
	ChunksMentioned []int32  `json:"chunks_mentioned,omitempty"`
}

// LinkingResult represents the linking stage outcome in gRPC.
type LinkingResult struct {
	Relationships []*Relationship    `json:"relationships"`
	Registry      []*CanonicalEntity `json:"registry"`
	Confidence    float64            `json:"confidence"`
}

// Analyze handles gRPC/Connect analysis requests.
func (s *AnalysisService) Analyze(ctx context.Context, req *connect.Request[AnalyzeRequest]) (*connect.Response[AnalyzeResponse], error) {
	msg := req.Msg

	if msg.DocumentID == "" && msg.Content == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("document_id or content is required"))
	}

	var documentID uuid.UUID
	if msg.DocumentID != "" {
		parsed, err := uuid.Parse(msg.DocumentID)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid document_id format"))
		}
		documentID = parsed
	}

	opts := storage.DefaultAnalysisOptions()
	if msg.Options != nil {
		opts = storage.AnalysisOptions{
			ExtractEntities: msg.Options.ExtractEntities,
			GenerateSummary: msg.Options.GenerateSummary,
			DetectAnomalies: msg.Options.DetectAnomalies,
			LinkEntities:    msg.Options.LinkEntities,
			MaxChunkSize:    int(msg.Options.MaxChunkSize),
			OverlapSize:     int(msg.Options.OverlapSize),
		}
	}

	resp, err := s.service.Analyze(ctx, analysis.AnalyzeRequest{
		DocumentID: documentID,
		Text:       msg.Content,
		Options:    opts,
	})
	if err != nil {
		return nil, s.toConnectError(err)
	}

	return connect.NewResponse(toGRPCResponse(resp)), nil
}

// GetAnalysis handles gRPC/Connect analysis lookups.
func (s *AnalysisService) GetAnalysis(ctx context.Context, req *connect.Request[GetAnalysisRequest]) (*connect.Response[GetAnalysisResponse], error) {
	msg := req.Msg

	if msg.AnalysisID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("analysis_id is required"))
	}
	analysisID, err := uuid.Parse(msg.AnalysisID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid analysis_id format"))
	}

	rec, err := s.service.Analysis(ctx, analysisID)
	if err != nil {
		return nil, s.toConnectError(err)
	}

	grpcResp := &GetAnalysisResponse{
		AnalysisID: rec.ID.String(),
		DocumentID: rec.DocumentID.String(),
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Error != nil {
		grpcResp.Error = *rec.Error
	}
	if rec.StartedAt != nil {
		grpcResp.StartedAt = rec.StartedAt.Format(time.RFC3339)
	}
	if rec.CompletedAt != nil {
		grpcResp.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
	}
	if len(rec.Result) > 0 {
		var stored analysis.Response
		if err := json.Unmarshal(rec.Result, &stored); err != nil {
			s.logger.Error().Err(err).Str("analysis_id", rec.ID.String()).Msg("Failed to decode stored analysis result")
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		grpcResp.Result = toGRPCResponse(&stored)
	}

	return connect.NewResponse(grpcResp), nil
}

func (s *AnalysisService) toConnectError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, analysis.ErrEmptyDocument),
		errors.Is(err, analysis.ErrNoStagesEnabled),
		errors.Is(err, analysis.ErrContentTooLarge),
		errors.Is(err, analysis.ErrUnsupportedType):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, analysis.ErrNoUsableOutput):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		s.logger.Error().Err(err).Msg("Analyze failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}

func toGRPCResponse(resp *analysis.Response) *AnalyzeResponse {
	grpcResp := &AnalyzeResponse{
		AnalysisID:     resp.AnalysisID.String(),
		DocumentID:     resp.DocumentID.String(),
		Status:         string(resp.Status),
		TotalChunks:    int32(resp.TotalChunks),
		DegradedStages: resp.DegradedStages,
		TokensUsed:     int32(resp.TokensUsed),
		ProcessingTime: resp.ProcessingTime,
		FromCache:      resp.FromCache,
		CreatedAt:      resp.CreatedAt.Format(time.RFC3339),
	}

	if resp.Confidence != nil {
		grpcResp.Confidence = &Confidence{
			OverallConfidence: resp.Confidence.Score,
			Level:             string(resp.Confidence.Level),
			ComponentScores:   resp.Confidence.Components,
			ComponentWeights:  resp.Confidence.Weights,
		}
	}
	if resp.Extraction != nil {
		grpcResp.Extraction = toGRPCExtraction(resp.Extraction)
	}
	if resp.Summary != nil {
		grpcResp.Summary = toGRPCSummary(resp.Summary)
	}
	if resp.Anomalies != nil {
		grpcResp.Anomalies = toGRPCAnomalies(resp.Anomalies)
	}
	if resp.EntityLinking != nil {
		grpcResp.EntityLinking = toGRPCLinking(resp.EntityLinking)
	}

	return grpcResp
}

func toGRPCExtraction(res *storage.ExtractionResult) *ExtractionResult {
	data := &ExtractedData{
		Entities:        make([]*Entity, 0, len(res.Data.Entities)),
		KeyPoints:       res.Data.KeyPoints,
		Dates:           res.Data.Dates,
		NumericalValues: make([]*NumericalValue, 0, len(res.Data.NumericalValues)),
		Risks:           make([]*Risk, 0, len(res.Data.Risks)),
	}
	for _, entity := range res.Data.Entities {
		e := &Entity{
			ID:          entity.ID.String(),
			EntityType:  entity.EntityType,
			EntityValue: entity.EntityValue,
			Confidence:  entity.ConfidenceScore,
		}
		if entity.PositionStart != nil {
			e.PositionStart = int32(*entity.PositionStart)
		}
		if entity.PositionEnd != nil {
			e.PositionEnd = int32(*entity.PositionEnd)
		}
		if entity.ChunkIndex != nil {
			e.ChunkIndex = int32(*entity.ChunkIndex)
		}
		data.Entities = append(data.Entities, e)
	}
	for _, num := range res.Data.NumericalValues {
		n := &NumericalValue{
			Value:   num.Value,
			Context: num.Context,
		}
		if num.Unit != nil {
			n.Unit = *num.Unit
		}
		data.NumericalValues = append(data.NumericalValues, n)
	}
	for _, risk := range res.Data.Risks {
		data.Risks = append(data.Risks, &Risk{
			RiskType:    risk.RiskType,
			Description: risk.Description,
			Severity:    string(risk.Severity),
			Confidence:  risk.ConfidenceScore,
		})
	}

	return &ExtractionResult{
		Data:            data,
		Confidence:      res.ConfidenceScore,
		ChunksProcessed: int32(res.ChunksProcessed),
		ChunksTotal:     int32(res.ChunksTotal),
		RepairAttempts:  int32(res.RepairAttempts),
		TokensUsed:      int32(res.TokensUsed),
		ProcessingTime:  res.ProcessingTime,
	}
}

func toGRPCSummary(res *storage.SummaryResult) *SummaryResult {
	return &SummaryResult{
		GlobalSummary:    res.GlobalSummary,
		SectionSummaries: toGRPCSummaryItems(res.SectionSummaries),
		ChunkSummaries:   toGRPCSummaryItems(res.ChunkSummaries),
		Confidence:       res.ConfidenceScore,
		TokensUsed:       int32(res.TokensUsed),
		ProcessingTime:   res.ProcessingTime,
	}
}

func toGRPCSummaryItems(items []storage.SummaryItem) []*SummaryItem {
	out := make([]*SummaryItem, 0, len(items))
	for _, item := range items {
		indices := make([]int32, 0, len(item.ChunkIndices))
		for _, idx := range item.ChunkIndices {
			indices = append(indices, int32(idx))
		}
		out = append(out, &SummaryItem{
			Level:        string(item.Level),
			Content:      item.Content,
			Confidence:   item.ConfidenceScore,
			ChunkIndices: indices,
		})
	}
	return out
}

func toGRPCAnomalies(rep *storage.AnomalyReport) *AnomalyReport {
	out := &AnomalyReport{
		Anomalies:  make([]*Anomaly, 0, len(rep.Anomalies)),
		Confidence: rep.ConfidenceScore,
	}
	for _, anomaly := range rep.Anomalies {
		details := make(map[string]string)
		for k, v := range anomaly.Details {
			if str, ok := v.(string); ok {
				details[k] = str
			}
		}
		out.Anomalies = append(out.Anomalies, &Anomaly{
			ID:          anomaly.ID.String(),
			Type:        string(anomaly.Type),
			Description: anomaly.Description,
			Severity:    string(anomaly.Severity),
			Confidence:  anomaly.ConfidenceScore,
			Location:    anomaly.Location,
			Details:     details,
		})
	}
	return out
}

func toGRPCLinking(res *storage.LinkingResult) *LinkingResult {
	out := &LinkingResult{
		Relationships: make([]*Relationship, 0, len(res.Relationships)),
		Registry:      make([]*CanonicalEntity, 0, len(res.Registry)),
		Confidence:    res.ConfidenceScore,
	}
	for _, rel := range res.Relationships {
		out.Relationships = append(out.Relationships, &Relationship{
			SourceEntityID:   rel.SourceEntityID.String(),
			TargetEntityID:   rel.TargetEntityID.String(),
			RelationshipType: rel.RelationshipType,
			Confidence:       rel.ConfidenceScore,
		})
	}
	for _, entry := range res.Registry {
		indices := make([]int32, 0, len(entry.ChunksMentioned))
		for _, idx := range entry.ChunksMentioned {
			indices = append(indices, int32(idx))
		}
		out.Registry = append(out.Registry, &CanonicalEntity{
			ID:              entry.ID.String(),
			EntityType:      entry.EntityType,
			EntityValue:     entry.EntityValue,
			Confidence:      entry.ConfidenceScore,
			Variations:      entry.Variations,
			OccurrenceCount: int32(entry.OccurrenceCount),
			ChunksMentioned: indices,
		})
	}
	return out
}
