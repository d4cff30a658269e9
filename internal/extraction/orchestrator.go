// Package extraction pulls structured data out of ordered chunk
// sequences through schema-validated model calls in bounded batches.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/confidence"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/schema"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// DefaultBatchSize bounds concurrent model calls per batch.
const DefaultBatchSize = 5

const (
	extractionTemperature      = 0.1
	defaultExtractionMaxTokens = 2000
)

// targetSchemaDoc is the JSON Schema every extraction payload must
// conform to before its fields enter the aggregate.
const targetSchemaDoc = `{
	"type": "object",
	"properties": {
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"entity_type": {"type": "string"},
					"entity_value": {"type": "string"},
					"confidence_score": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["entity_type", "entity_value", "confidence_score"]
			}
		},
		"key_points": {
			"type": "array",
			"items": {"type": "string"}
		},
		"dates": {
			"type": "array",
			"items": {"type": "string"}
		},
		"numerical_values": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"value": {"type": "number"},
					"unit": {"type": "string"},
					"context": {"type": "string"}
				},
				"required": ["value", "context"]
			}
		},
		"risks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"risk_type": {"type": "string"},
					"description": {"type": "string"},
					"severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
					"confidence_score": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["risk_type", "description", "severity"]
			}
		}
	},
	"required": ["entities", "key_points", "dates", "numerical_values", "risks"]
}`

var extractionTarget = schema.MustCompile("extracted_data", targetSchemaDoc)

const extractionPromptTemplate = `Extract structured information from the following text chunk according to the specified schema.

SCHEMA DESCRIPTION:
Extract the following information from the text:
- entities: Array of objects with entity_type, entity_value, and confidence_score
- key_points: Array of important points from the text
- dates: Array of dates in ISO format (YYYY-MM-DD)
- numerical_values: Array of objects with value, unit (if applicable), and context
- risks: Array of objects with risk_type, description, severity (low/medium/high/critical), and confidence_score

TEXT CHUNK (Index: %d):
%s

Please return only the structured data in valid JSON format without any additional explanation or markdown formatting:
{
  "entities": [
    {
      "entity_type": "string",
      "entity_value": "string",
      "confidence_score": 0.0-1.0
    }
  ],
  "key_points": ["string"],
  "dates": ["YYYY-MM-DD"],
  "numerical_values": [
    {
      "value": number,
      "unit": "string (optional)",
      "context": "string"
    }
  ],
  "risks": [
    {
      "risk_type": "string",
      "description": "string",
      "severity": "low|medium|high|critical",
      "confidence_score": 0.0-1.0
    }
  ]
}`

// ChunkOutcome is the unit result for one chunk. A degraded chunk
// contributes nothing to the aggregate but never fails the run.
type ChunkOutcome struct {
	ChunkIndex     int
	Payload        *ChunkPayload
	Degraded       bool
	Reason         string
	RepairAttempts int
	TokensUsed     int
}

// ChunkPayload is the validated per-chunk extraction shape.
type ChunkPayload struct {
	Entities []struct {
		EntityType      string  `json:"entity_type"`
		EntityValue     string  `json:"entity_value"`
		ConfidenceScore float64 `json:"confidence_score"`
	} `json:"entities"`
	KeyPoints       []string                 `json:"key_points"`
	Dates           []string                 `json:"dates"`
	NumericalValues []storage.NumericalValue `json:"numerical_values"`
	Risks           []storage.Risk           `json:"risks"`
}

// Config holds orchestrator settings.
type Config struct {
	BatchSize         int
	MaxRepairAttempts int
	MaxTokens         int
	// Progress, when set, is called after each batch resolves with the
	// number of chunks completed so far.
	Progress func(completed, total int)
}

// Orchestrator fans chunk extractions out in bounded batches and folds
// the validated payloads into one aggregate. Each batch fully resolves
// before the next starts; results are reassembled by chunk index.
type Orchestrator struct {
	logger     *observability.Logger
	client     llm.Client
	validator  *schema.Validator
	calculator *confidence.Calculator
	batchSize  int
	maxRepairs int
	maxTokens  int
	progress   func(completed, total int)
}

// NewOrchestrator creates an extraction orchestrator.
func NewOrchestrator(logger *observability.Logger, client llm.Client, calculator *confidence.Calculator, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = schema.DefaultMaxRepairAttempts
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultExtractionMaxTokens
	}
	return &Orchestrator{
		logger:     logger,
		client:     client,
		validator:  schema.NewValidator(logger, client, schema.Config{MaxRepairAttempts: cfg.MaxRepairAttempts}),
		calculator: calculator,
		batchSize:  cfg.BatchSize,
		maxRepairs: cfg.MaxRepairAttempts,
		maxTokens:  cfg.MaxTokens,
		progress:   cfg.Progress,
	}
}

// Extract runs structured extraction over the chunk sequence. Chunk
// failures degrade to empty contributions; if every chunk degrades the
// result is an empty aggregate with zero confidence, not an error.
func (o *Orchestrator) Extract(ctx context.Context, chunks []chunking.Chunk) (*storage.ExtractionResult, error) {
	start := time.Now()

	o.logger.Info().
		Int("chunks", len(chunks)).
		Int("batch_size", o.batchSize).
		Msg("Starting extraction")

	outcomes := make([]ChunkOutcome, len(chunks))

	for batchStart := 0; batchStart < len(chunks); batchStart += o.batchSize {
		batchEnd := batchStart + o.batchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, chunk := range chunks[batchStart:batchEnd] {
			wg.Add(1)
			go func(c chunking.Chunk) {
				defer wg.Done()
				outcome := o.extractChunk(ctx, c)

				mu.Lock()
				outcomes[c.Index] = outcome
				mu.Unlock()
			}(chunk)
		}

		// The batch resolves completely before the next one starts.
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.progress != nil {
			o.progress(batchEnd, len(chunks))
		}
	}

	result := o.fold(chunks, outcomes)
	result.ProcessingTime = time.Since(start).Seconds()

	o.logger.Info().
		Int("entities", len(result.Data.Entities)).
		Int("key_points", len(result.Data.KeyPoints)).
		Int("dates", len(result.Data.Dates)).
		Int("numerical_values", len(result.Data.NumericalValues)).
		Int("risks", len(result.Data.Risks)).
		Int("chunks_processed", result.ChunksProcessed).
		Float64("confidence", result.ConfidenceScore).
		Msg("Extraction completed")

	return result, nil
}

// extractChunk runs one chunk through prompt, model, and validation.
func (o *Orchestrator) extractChunk(ctx context.Context, chunk chunking.Chunk) ChunkOutcome {
	outcome := ChunkOutcome{ChunkIndex: chunk.Index}

	reply, err := o.client.Invoke(ctx, llm.InvokeRequest{
		Prompt:         fmt.Sprintf(extractionPromptTemplate, chunk.Index, chunk.Text),
		Temperature:    extractionTemperature,
		MaxTokens:      o.maxTokens,
		StructuredMode: true,
	})
	if err != nil {
		o.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Chunk extraction call failed")
		outcome.Degraded = true
		outcome.Reason = fmt.Sprintf("model invocation: %v", err)
		return outcome
	}
	outcome.TokensUsed = reply.TokensIn + reply.TokensOut

	validated, err := o.validator.ValidateAndRepair(ctx, reply.Content, extractionTarget)
	if err != nil {
		o.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Chunk extraction output invalid")
		outcome.Degraded = true
		outcome.Reason = fmt.Sprintf("validation: %v", err)
		if errors.Is(err, schema.ErrValidationExhausted) {
			outcome.RepairAttempts = o.maxRepairs
		}
		return outcome
	}
	outcome.RepairAttempts = validated.RepairAttempts

	var payload ChunkPayload
	if err := json.Unmarshal(validated.Value, &payload); err != nil {
		outcome.Degraded = true
		outcome.Reason = fmt.Sprintf("decode payload: %v", err)
		return outcome
	}
	outcome.Payload = &payload
	return outcome
}

// fold merges per-chunk outcomes into the aggregate in chunk-index
// order. Key points and dates are deduplicated keeping first
// occurrence; entities, numerical values, and risks keep every
// occurrence.
func (o *Orchestrator) fold(chunks []chunking.Chunk, outcomes []ChunkOutcome) *storage.ExtractionResult {
	result := &storage.ExtractionResult{
		ID:          uuid.New(),
		ChunksTotal: len(chunks),
		CreatedAt:   time.Now().UTC(),
	}

	data := storage.ExtractedData{}
	seenKeyPoints := make(map[string]struct{})
	seenDates := make(map[string]struct{})

	for _, outcome := range outcomes {
		result.TokensUsed += outcome.TokensUsed
		result.RepairAttempts += outcome.RepairAttempts

		if outcome.Degraded {
			continue
		}
		result.ChunksProcessed++

		chunkIndex := outcome.ChunkIndex
		for _, e := range outcome.Payload.Entities {
			data.Entities = append(data.Entities, storage.ExtractedEntity{
				ID:              uuid.New(),
				EntityType:      e.EntityType,
				EntityValue:     e.EntityValue,
				ConfidenceScore: e.ConfidenceScore,
				ChunkIndex:      &chunkIndex,
			})
		}

		for _, point := range outcome.Payload.KeyPoints {
			if _, ok := seenKeyPoints[point]; ok {
				continue
			}
			seenKeyPoints[point] = struct{}{}
			data.KeyPoints = append(data.KeyPoints, point)
		}

		for _, date := range outcome.Payload.Dates {
			if _, ok := seenDates[date]; ok {
				continue
			}
			seenDates[date] = struct{}{}
			data.Dates = append(data.Dates, date)
		}

		data.NumericalValues = append(data.NumericalValues, outcome.Payload.NumericalValues...)
		data.Risks = append(data.Risks, outcome.Payload.Risks...)
	}

	result.Data = data

	if result.ChunksProcessed == 0 {
		result.ConfidenceScore = 0
		return result
	}

	breakdown := o.calculator.Extraction(&result.Data, result.ChunksProcessed, result.ChunksTotal, result.RepairAttempts, o.maxRepairs)
	result.ConfidenceScore = breakdown.Score
	return result
}
