package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Analysis status values reported by the API.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// AnalysisOptions selects pipeline stages. Omitted toggles keep the
// server defaults, which enable every stage.
type AnalysisOptions struct {
	ExtractEntities *bool `json:"extractEntities,omitempty"`
	GenerateSummary *bool `json:"generateSummary,omitempty"`
	DetectAnomalies *bool `json:"detectAnomalies,omitempty"`
	LinkEntities    *bool `json:"linkEntities,omitempty"`
	MaxChunkSize    int   `json:"maxChunkSize,omitempty"`
	OverlapSize     int   `json:"overlapSize,omitempty"`
}

// Bool returns a pointer to v, for setting AnalysisOptions toggles.
func Bool(v bool) *bool { return &v }

// Ticket reports an accepted background analysis. Poll Analysis or call
// WaitForAnalysis with its AnalysisID.
type Ticket struct {
	AnalysisID string `json:"analysisId"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
}

// AnalysisRecord is the stored state of one analysis run. Result holds
// the serialized AnalysisResult once the run completes.
type AnalysisRecord struct {
	AnalysisID  string          `json:"analysisId"`
	DocumentID  string          `json:"documentId"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// AnalysisResult is the complete outcome of one analysis run.
type AnalysisResult struct {
	AnalysisID     string         `json:"analysis_id"`
	DocumentID     string         `json:"document_id"`
	Status         string         `json:"status"`
	TotalChunks    int            `json:"total_chunks"`
	Extraction     *Extraction    `json:"extraction,omitempty"`
	Summary        *Summary       `json:"summary,omitempty"`
	Anomalies      *AnomalyReport `json:"anomalies,omitempty"`
	EntityLinking  *EntityLinking `json:"entity_linking,omitempty"`
	Confidence     *Confidence    `json:"confidence,omitempty"`
	DegradedStages []string       `json:"degraded_stages,omitempty"`
	TokensUsed     int            `json:"tokens_used"`
	ProcessingTime float64        `json:"processing_time"`
	FromCache      bool           `json:"from_cache,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Extraction is the structured-extraction outcome across all chunks.
type Extraction struct {
	ID              string        `json:"id"`
	DocumentID      string        `json:"document_id"`
	Data            ExtractedData `json:"extracted_data"`
	ConfidenceScore float64       `json:"confidence_score"`
	ChunksProcessed int           `json:"chunks_processed"`
	ChunksTotal     int           `json:"chunks_total"`
	RepairAttempts  int           `json:"repair_attempts"`
	TokensUsed      int           `json:"tokens_used"`
	ProcessingTime  float64       `json:"processing_time"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ExtractedData aggregates everything extracted from a document.
type ExtractedData struct {
	Entities        []Entity         `json:"entities"`
	KeyPoints       []string         `json:"key_points"`
	Dates           []string         `json:"dates"`
	NumericalValues []NumericalValue `json:"numerical_values"`
	Risks           []Risk           `json:"risks"`
}

// Entity is a single typed value pulled out of one chunk.
type Entity struct {
	ID              string  `json:"id"`
	EntityType      string  `json:"entity_type"`
	EntityValue     string  `json:"entity_value"`
	ConfidenceScore float64 `json:"confidence_score"`
	ChunkIndex      *int    `json:"chunk_index,omitempty"`
}

// NumericalValue is a number with the text context it was found in.
type NumericalValue struct {
	Value   float64 `json:"value"`
	Unit    *string `json:"unit,omitempty"`
	Context string  `json:"context"`
}

// Risk is a model-identified risk statement.
type Risk struct {
	RiskType        string  `json:"risk_type"`
	Description     string  `json:"description"`
	Severity        string  `json:"severity"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Summary holds the three summary tiers for a document.
type Summary struct {
	ID               string        `json:"id"`
	DocumentID       string        `json:"document_id"`
	GlobalSummary    string        `json:"global_summary"`
	SectionSummaries []SummaryItem `json:"section_summaries"`
	ChunkSummaries   []SummaryItem `json:"chunk_summaries"`
	ConfidenceScore  float64       `json:"confidence_score"`
	TokensUsed       int           `json:"tokens_used"`
	ProcessingTime   float64       `json:"processing_time"`
	CreatedAt        time.Time     `json:"created_at"`
}

// SummaryItem is one summary at chunk, section, or global level.
type SummaryItem struct {
	Level           string  `json:"level"`
	Content         string  `json:"content"`
	ConfidenceScore float64 `json:"confidence_score"`
	ChunkIndices    []int   `json:"chunk_indices"`
}

// AnomalyReport groups detected anomalies with the detector's overall
// confidence.
type AnomalyReport struct {
	Anomalies       []Anomaly `json:"anomalies"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// Anomaly is one detected inconsistency in extracted data or content.
type Anomaly struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	Severity        string         `json:"severity"`
	ConfidenceScore float64        `json:"confidence_score"`
	Location        string         `json:"location"`
	Details         map[string]any `json:"details,omitempty"`
}

// EntityLinking is the outcome of entity linking across chunks.
type EntityLinking struct {
	Relationships   []EntityRelationship `json:"relationships"`
	Registry        []CanonicalEntity    `json:"registry"`
	ConfidenceScore float64              `json:"confidence_score"`
}

// EntityRelationship links two entity occurrences that refer to the
// same real-world entity.
type EntityRelationship struct {
	ID               string  `json:"id"`
	SourceEntityID   string  `json:"source_entity_id"`
	TargetEntityID   string  `json:"target_entity_id"`
	RelationshipType string  `json:"relationship_type"`
	ConfidenceScore  float64 `json:"confidence_score"`
}

// CanonicalEntity consolidates every occurrence of one entity across
// chunks.
type CanonicalEntity struct {
	ID              string   `json:"id"`
	EntityType      string   `json:"entity_type"`
	EntityValue     string   `json:"entity_value"`
	ConfidenceScore float64  `json:"confidence_score"`
	Variations      []string `json:"variations"`
	OccurrenceCount int      `json:"occurrence_count"`
	ChunksMentioned []int    `json:"chunks_mentioned"`
}

// Confidence blends per-stage scores into the document verdict.
type Confidence struct {
	Score      float64            `json:"overall_confidence"`
	Level      string             `json:"level"`
	Components map[string]float64 `json:"component_scores"`
	Weights    map[string]float64 `json:"component_weights"`
}

type analyzeDocumentRequest struct {
	Options *AnalysisOptions `json:"options,omitempty"`
}

type analyzeTextRequest struct {
	Content string           `json:"content"`
	Options *AnalysisOptions `json:"options,omitempty"`
}

// AnalyzeText analyzes inline text synchronously. The text is
// registered as an inline document on the server.
func (c *Client) AnalyzeText(ctx context.Context, content string, opts *AnalysisOptions) (*AnalysisResult, error) {
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}

	var result AnalysisResult
	req := analyzeTextRequest{Content: content, Options: opts}
	if err := c.do(ctx, http.MethodPost, "/v1/analyze", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzeDocument starts an analysis of a registered document. When the
// server already has the result it comes back immediately; otherwise
// the returned ticket identifies the background run to poll.
func (c *Client) AnalyzeDocument(ctx context.Context, documentID string, opts *AnalysisOptions) (*AnalysisResult, *Ticket, error) {
	path := "/v1/documents/" + url.PathEscape(documentID) + "/analyze"
	resp, err := c.send(ctx, http.MethodPost, path, analyzeDocumentRequest{Options: opts})
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result AnalysisResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, nil, fmt.Errorf("decode response: %w", err)
		}
		return &result, nil, nil
	case http.StatusAccepted:
		var ticket Ticket
		if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
			return nil, nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, &ticket, nil
	default:
		return nil, nil, decodeAPIError(resp)
	}
}

// Analysis retrieves an analysis record by ID.
func (c *Client) Analysis(ctx context.Context, analysisID string) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	path := "/v1/analyses/" + url.PathEscape(analysisID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestAnalysis retrieves the most recent analysis for a document.
func (c *Client) LatestAnalysis(ctx context.Context, documentID string) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	path := "/v1/documents/" + url.PathEscape(documentID) + "/analysis"
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AnalysesForDocument lists a document's analysis runs, newest first.
func (c *Client) AnalysesForDocument(ctx context.Context, documentID string) ([]AnalysisRecord, error) {
	var out struct {
		Analyses []AnalysisRecord `json:"analyses"`
	}
	path := "/v1/documents/" + url.PathEscape(documentID) + "/analyses"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Analyses, nil
}

// WaitForAnalysis polls an analysis until it completes or fails. A zero
// interval polls every two seconds.
func (c *Client) WaitForAnalysis(ctx context.Context, analysisID string, interval time.Duration) (*AnalysisResult, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := c.Analysis(ctx, analysisID)
		if err != nil {
			return nil, err
		}

		switch rec.Status {
		case StatusCompleted:
			var result AnalysisResult
			if err := json.Unmarshal(rec.Result, &result); err != nil {
				return nil, fmt.Errorf("decode analysis result: %w", err)
			}
			return &result, nil
		case StatusFailed:
			reason := rec.Error
			if reason == "" {
				reason = "analysis failed"
			}
			return nil, fmt.Errorf("analysis %s failed: %s", analysisID, reason)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
