// Package storage provides database models and repositories for the Document Engine.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// AnalysisStatus represents the state of one analysis run.
type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// SummaryLevel represents the tier of a summary item.
type SummaryLevel string

const (
	SummaryLevelChunk   SummaryLevel = "chunk"
	SummaryLevelSection SummaryLevel = "section"
	SummaryLevelGlobal  SummaryLevel = "global"
)

// Severity grades risks and anomalies.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AnomalyType identifies the rule that raised an anomaly. Model-scan
// anomalies carry whatever type string the model assigned.
type AnomalyType string

const (
	AnomalyTypeDuplicateEntity       AnomalyType = "duplicate_entity"
	AnomalyTypeInvalidDateFormat     AnomalyType = "invalid_date_format"
	AnomalyTypeFutureDate            AnomalyType = "future_date"
	AnomalyTypeExtremeValue          AnomalyType = "extreme_numerical_value"
	AnomalyTypeNegativeAmount        AnomalyType = "negative_amount"
	AnomalyTypeContradictoryContract AnomalyType = "contradictory_contract_status"
)

// Document represents an uploaded document and its processing state.
// Content is stored alongside the row so analyses can be rerun without
// re-uploading.
type Document struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Filename        string          `json:"filename" db:"filename"`
	Content         string          `json:"-" db:"content"`
	ContentHash     string          `json:"content_hash" db:"content_hash"`
	SizeBytes       int64           `json:"size_bytes" db:"size_bytes"`
	MimeType        *string         `json:"mime_type,omitempty" db:"mime_type"`
	Status          DocumentStatus  `json:"status" db:"status"`
	TotalChunks     *int            `json:"total_chunks,omitempty" db:"total_chunks"`
	ConfidenceScore *float64        `json:"confidence_score,omitempty" db:"confidence_score"`
	Metadata        json.RawMessage `json:"metadata" db:"metadata"`
	UploadedAt      time.Time       `json:"uploaded_at" db:"uploaded_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// ExtractedEntity is a single typed value pulled out of one chunk.
// Entities from different chunks are never merged at this layer.
type ExtractedEntity struct {
	ID              uuid.UUID `json:"id"`
	EntityType      string    `json:"entity_type"`
	EntityValue     string    `json:"entity_value"`
	ConfidenceScore float64   `json:"confidence_score"`
	PositionStart   *int      `json:"position_start,omitempty"`
	PositionEnd     *int      `json:"position_end,omitempty"`
	ChunkIndex      *int      `json:"chunk_index,omitempty"`
}

// NumericalValue is a number with the text context it was found in.
type NumericalValue struct {
	Value   float64 `json:"value"`
	Unit    *string `json:"unit,omitempty"`
	Context string  `json:"context"`
}

// Risk is a model-identified risk statement.
type Risk struct {
	RiskType        string   `json:"risk_type"`
	Description     string   `json:"description"`
	Severity        Severity `json:"severity"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// ExtractedData aggregates everything extracted from a document.
// KeyPoints and Dates are deduplicated; Entities, NumericalValues and
// Risks keep chunk-index order with duplicates allowed.
type ExtractedData struct {
	Entities        []ExtractedEntity `json:"entities"`
	KeyPoints       []string          `json:"key_points"`
	Dates           []string          `json:"dates"`
	NumericalValues []NumericalValue  `json:"numerical_values"`
	Risks           []Risk            `json:"risks"`
}

// TotalItems counts extracted items across all collections.
func (d *ExtractedData) TotalItems() int {
	return len(d.Entities) + len(d.KeyPoints) + len(d.Dates) + len(d.NumericalValues) + len(d.Risks)
}

// ExtractionResult is the outcome of one extraction run over a chunk
// sequence. ChunksProcessed counts chunks that produced usable output;
// degraded chunks contribute nothing but never fail the run.
type ExtractionResult struct {
	ID              uuid.UUID     `json:"id"`
	DocumentID      uuid.UUID     `json:"document_id"`
	Data            ExtractedData `json:"extracted_data"`
	ConfidenceScore float64       `json:"confidence_score"`
	ChunksProcessed int           `json:"chunks_processed"`
	ChunksTotal     int           `json:"chunks_total"`
	RepairAttempts  int           `json:"repair_attempts"`
	TokensUsed      int           `json:"tokens_used"`
	ProcessingTime  float64       `json:"processing_time"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SummaryItem is one summary at chunk, section, or global level.
type SummaryItem struct {
	Level           SummaryLevel `json:"level"`
	Content         string       `json:"content"`
	ConfidenceScore float64      `json:"confidence_score"`
	ChunkIndices    []int        `json:"chunk_indices"`
}

// SummaryResult holds the three summary tiers for a document.
type SummaryResult struct {
	ID               uuid.UUID     `json:"id"`
	DocumentID       uuid.UUID     `json:"document_id"`
	GlobalSummary    string        `json:"global_summary"`
	SectionSummaries []SummaryItem `json:"section_summaries"`
	ChunkSummaries   []SummaryItem `json:"chunk_summaries"`
	ConfidenceScore  float64       `json:"confidence_score"`
	TokensUsed       int           `json:"tokens_used"`
	ProcessingTime   float64       `json:"processing_time"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Anomaly is one detected inconsistency in extracted data or content.
type Anomaly struct {
	ID              uuid.UUID      `json:"id"`
	Type            AnomalyType    `json:"type"`
	Description     string         `json:"description"`
	Severity        Severity       `json:"severity"`
	ConfidenceScore float64        `json:"confidence_score"`
	Location        string         `json:"location"`
	Details         map[string]any `json:"details,omitempty"`
}

// AnomalyReport groups detected anomalies with the detector's overall
// confidence in the detection pass.
type AnomalyReport struct {
	Anomalies       []Anomaly `json:"anomalies"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// EntityRelationship links two extracted entity occurrences that refer
// to the same real-world entity.
type EntityRelationship struct {
	ID               uuid.UUID `json:"id"`
	SourceEntityID   uuid.UUID `json:"source_entity_id"`
	TargetEntityID   uuid.UUID `json:"target_entity_id"`
	RelationshipType string    `json:"relationship_type"`
	ConfidenceScore  float64   `json:"confidence_score"`
}

// CanonicalEntity is a registry entry consolidating every occurrence of
// one entity across chunks.
type CanonicalEntity struct {
	ID              uuid.UUID `json:"id"`
	EntityType      string    `json:"entity_type"`
	EntityValue     string    `json:"entity_value"`
	ConfidenceScore float64   `json:"confidence_score"`
	Variations      []string  `json:"variations"`
	OccurrenceCount int       `json:"occurrence_count"`
	ChunksMentioned []int     `json:"chunks_mentioned"`
}

// LinkingResult is the outcome of entity linking across chunks.
type LinkingResult struct {
	Relationships   []EntityRelationship `json:"relationships"`
	Registry        []CanonicalEntity    `json:"registry"`
	ConfidenceScore float64              `json:"confidence_score"`
}

// AnalysisOptions selects which stages run and how text is chunked.
type AnalysisOptions struct {
	ExtractEntities bool `json:"extract_entities"`
	GenerateSummary bool `json:"generate_summary"`
	DetectAnomalies bool `json:"detect_anomalies"`
	LinkEntities    bool `json:"link_entities"`
	MaxChunkSize    int  `json:"max_chunk_size"`
	OverlapSize     int  `json:"overlap_size"`
}

// DefaultAnalysisOptions enables every stage. Chunk sizing stays zero so
// the service falls back to its configured chunker settings.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		ExtractEntities: true,
		GenerateSummary: true,
		DetectAnomalies: true,
		LinkEntities:    true,
	}
}

// AnalysisRecord represents one analysis run over a document. Result
// holds the serialized stage outputs once the run completes.
type AnalysisRecord struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	DocumentID  uuid.UUID       `json:"document_id" db:"document_id"`
	Status      AnalysisStatus  `json:"status" db:"status"`
	ContentHash string          `json:"content_hash" db:"content_hash"`
	OptionsHash string          `json:"options_hash" db:"options_hash"`
	Options     json.RawMessage `json:"options" db:"options"`
	Result      json.RawMessage `json:"result,omitempty" db:"result"`
	Error       *string         `json:"error,omitempty" db:"error"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
