// Package anomaly flags inconsistencies in extracted document data.
// Rule checks cover duplicate entities, date problems, numerical
// outliers, and contradictory contract statuses; an optional model
// scan looks for anomalies the rules cannot express.
package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/schema"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

const (
	scanTemperature = 0.1
	scanMaxTokens   = 2000

	// extremeValueThreshold marks magnitudes that usually indicate a
	// data entry error rather than a real figure.
	extremeValueThreshold = 1e10
)

var negativeAmountWords = []string{"amount", "payment", "revenue", "profit"}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var scanTarget = schema.MustCompile("anomaly_scan", `{
	"type": "object",
	"properties": {
		"anomalies": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string"},
					"description": {"type": "string"},
					"severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
					"confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
					"location": {"type": "string"},
					"details": {"type": "object"}
				},
				"required": ["type", "description", "severity", "confidence_score"]
			}
		}
	},
	"required": ["anomalies"]
}`)

const scanPromptTemplate = `Analyze the following text chunk for anomalies, inconsistencies, or unusual patterns.

EXTRACTED DATA SUMMARY:
%s

TEXT CHUNK:
%s

Identify any anomalies and return them in the following JSON format:
{
  "anomalies": [
    {
      "type": "string",
      "description": "detailed description of the anomaly",
      "severity": "low|medium|high|critical",
      "confidence_score": 0.0-1.0,
      "location": "%s",
      "details": {
        "context": "surrounding text context",
        "extracted_vs_actual": "comparison between extracted and actual text"
      }
    }
  ]
}

Return only the JSON without additional text:`

// Config holds detector settings.
type Config struct {
	// DisableModelScan restricts detection to rule checks.
	DisableModelScan bool
	// MaxRepairAttempts bounds repair round-trips for scan payloads.
	MaxRepairAttempts int
}

// Detector runs rule checks over extracted data and, unless disabled,
// a per-chunk model scan of the source text.
type Detector struct {
	logger    *observability.Logger
	client    llm.Client
	validator *schema.Validator
	scan      bool
}

// NewDetector creates an anomaly detector.
func NewDetector(logger *observability.Logger, client llm.Client, cfg Config) *Detector {
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = schema.DefaultMaxRepairAttempts
	}
	return &Detector{
		logger:    logger,
		client:    client,
		validator: schema.NewValidator(logger, client, schema.Config{MaxRepairAttempts: cfg.MaxRepairAttempts}),
		scan:      !cfg.DisableModelScan,
	}
}

// Detect runs every enabled check and reports the findings with an
// overall detection confidence.
func (d *Detector) Detect(ctx context.Context, data *storage.ExtractedData, chunks []chunking.Chunk) (*storage.AnomalyReport, error) {
	d.logger.Info().Bool("model_scan", d.scan).Msg("Starting anomaly detection")

	anomalies := ruleAnomalies(data)

	if d.scan {
		scanned, err := d.modelAnomalies(ctx, data, chunks)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, scanned...)
	}

	report := &storage.AnomalyReport{
		Anomalies:       anomalies,
		ConfidenceScore: DetectionConfidence(anomalies),
	}

	d.logger.Info().
		Int("anomalies", len(anomalies)).
		Float64("confidence", report.ConfidenceScore).
		Msg("Anomaly detection completed")

	return report, nil
}

// DetectionConfidence scores how much to trust a detection pass:
// severity-weighted mean anomaly confidence blended with a count
// factor that saturates at ten findings. No findings scores zero.
func DetectionConfidence(anomalies []storage.Anomaly) float64 {
	if len(anomalies) == 0 {
		return 0
	}

	var weightedScore, totalWeight float64
	for _, a := range anomalies {
		weight := severityWeight(a.Severity)
		weightedScore += a.ConfidenceScore * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}

	countFactor := math.Min(float64(len(anomalies))/10.0, 1.0)
	return (weightedScore/totalWeight)*0.7 + countFactor*0.3
}

func severityWeight(severity storage.Severity) float64 {
	switch severity {
	case storage.SeverityLow:
		return 0.3
	case storage.SeverityMedium:
		return 0.5
	case storage.SeverityHigh:
		return 0.8
	case storage.SeverityCritical:
		return 1.0
	default:
		return 0.5
	}
}

func ruleAnomalies(data *storage.ExtractedData) []storage.Anomaly {
	var anomalies []storage.Anomaly
	anomalies = append(anomalies, duplicateEntityAnomalies(data)...)
	anomalies = append(anomalies, dateAnomalies(data)...)
	anomalies = append(anomalies, numericalAnomalies(data)...)
	anomalies = append(anomalies, contractStatusAnomalies(data)...)
	return anomalies
}

// duplicateEntityAnomalies flags entity types that occur with more
// than one distinct value after case and whitespace normalization.
func duplicateEntityAnomalies(data *storage.ExtractedData) []storage.Anomaly {
	var types []string
	grouped := make(map[string][]storage.ExtractedEntity)
	for _, entity := range data.Entities {
		if _, ok := grouped[entity.EntityType]; !ok {
			types = append(types, entity.EntityType)
		}
		grouped[entity.EntityType] = append(grouped[entity.EntityType], entity)
	}

	var anomalies []storage.Anomaly
	for _, entityType := range types {
		entities := grouped[entityType]
		if len(entities) < 2 {
			continue
		}

		seen := make(map[string]struct{})
		var values []string
		for _, entity := range entities {
			value := strings.ToLower(strings.TrimSpace(entity.EntityValue))
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			values = append(values, value)
		}
		if len(values) < 2 {
			continue
		}

		anomalies = append(anomalies, storage.Anomaly{
			ID:              uuid.New(),
			Type:            storage.AnomalyTypeDuplicateEntity,
			Description:     fmt.Sprintf("Multiple different values found for entity type %q: %v", entityType, values),
			Severity:        storage.SeverityMedium,
			ConfidenceScore: 0.7,
			Location:        "entity_type:" + entityType,
			Details: map[string]any{
				"entity_type": entityType,
				"values":      values,
				"count":       len(entities),
			},
		})
	}
	return anomalies
}

// dateAnomalies flags unparseable date strings individually and all
// future dates as one finding.
func dateAnomalies(data *storage.ExtractedData) []storage.Anomaly {
	var anomalies []storage.Anomaly
	now := time.Now()

	var futureDates []string
	for _, dateStr := range data.Dates {
		parsed, ok := parseDate(dateStr)
		if !ok {
			anomalies = append(anomalies, storage.Anomaly{
				ID:              uuid.New(),
				Type:            storage.AnomalyTypeInvalidDateFormat,
				Description:     fmt.Sprintf("Invalid date format: %s", dateStr),
				Severity:        storage.SeverityHigh,
				ConfidenceScore: 0.9,
				Location:        "date:" + dateStr,
				Details:         map[string]any{"date_string": dateStr},
			})
			continue
		}
		if parsed.After(now) {
			futureDates = append(futureDates, dateStr)
		}
	}

	if len(futureDates) > 0 {
		anomalies = append(anomalies, storage.Anomaly{
			ID:              uuid.New(),
			Type:            storage.AnomalyTypeFutureDate,
			Description:     fmt.Sprintf("Found %d dates in the future", len(futureDates)),
			Severity:        storage.SeverityMedium,
			ConfidenceScore: 0.6,
			Location:        "dates_section",
			Details:         map[string]any{"future_dates": futureDates},
		})
	}
	return anomalies
}

func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// numericalAnomalies flags extreme magnitudes and negative values in
// contexts that imply a positive figure.
func numericalAnomalies(data *storage.ExtractedData) []storage.Anomaly {
	var anomalies []storage.Anomaly
	for _, num := range data.NumericalValues {
		location := "numerical_value:" + strconv.FormatFloat(num.Value, 'f', -1, 64)

		if math.Abs(num.Value) > extremeValueThreshold {
			anomalies = append(anomalies, storage.Anomaly{
				ID:              uuid.New(),
				Type:            storage.AnomalyTypeExtremeValue,
				Description:     fmt.Sprintf("Extremely large numerical value found: %v in context %q", num.Value, num.Context),
				Severity:        storage.SeverityHigh,
				ConfidenceScore: 0.8,
				Location:        location,
				Details:         map[string]any{"value": num.Value, "context": num.Context},
			})
		}

		if num.Value < 0 && containsAny(strings.ToLower(num.Context), negativeAmountWords) {
			anomalies = append(anomalies, storage.Anomaly{
				ID:              uuid.New(),
				Type:            storage.AnomalyTypeNegativeAmount,
				Description:     fmt.Sprintf("Negative value found in context where positive expected: %v in %q", num.Value, num.Context),
				Severity:        storage.SeverityMedium,
				ConfidenceScore: 0.7,
				Location:        location,
				Details:         map[string]any{"value": num.Value, "context": num.Context},
			})
		}
	}
	return anomalies
}

func containsAny(s string, words []string) bool {
	for _, word := range words {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}

// contractStatusAnomalies flags documents whose contract entities carry
// both signed and unsigned status wording.
func contractStatusAnomalies(data *storage.ExtractedData) []storage.Anomaly {
	var statuses []string
	for _, entity := range data.Entities {
		if !strings.Contains(strings.ToLower(entity.EntityType), "contract") {
			continue
		}
		value := strings.ToLower(entity.EntityValue)
		switch {
		case containsAny(value, []string{"signed", "executed", "agreed"}):
			statuses = append(statuses, "signed")
		case containsAny(value, []string{"unsigned", "draft", "pending"}):
			statuses = append(statuses, "unsigned")
		}
	}

	var hasSigned, hasUnsigned bool
	for _, status := range statuses {
		if status == "signed" {
			hasSigned = true
		}
		if status == "unsigned" {
			hasUnsigned = true
		}
	}
	if !hasSigned || !hasUnsigned {
		return nil
	}

	return []storage.Anomaly{{
		ID:              uuid.New(),
		Type:            storage.AnomalyTypeContradictoryContract,
		Description:     "Found contradictory contract statuses in document",
		Severity:        storage.SeverityHigh,
		ConfidenceScore: 0.8,
		Location:        "contract_section",
		Details:         map[string]any{"statuses_found": statuses},
	}}
}

type scanPayload struct {
	Anomalies []struct {
		Type            string         `json:"type"`
		Description     string         `json:"description"`
		Severity        string         `json:"severity"`
		ConfidenceScore float64        `json:"confidence_score"`
		Location        string         `json:"location"`
		Details         map[string]any `json:"details"`
	} `json:"anomalies"`
}

// modelAnomalies scans each chunk with the model. A failing chunk
// contributes nothing; only context cancellation aborts the scan.
func (d *Detector) modelAnomalies(ctx context.Context, data *storage.ExtractedData, chunks []chunking.Chunk) ([]storage.Anomaly, error) {
	summary := extractedDataSummary(data)

	var anomalies []storage.Anomaly
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		location := fmt.Sprintf("chunk_%d", chunk.Index)
		reply, err := d.client.Invoke(ctx, llm.InvokeRequest{
			Prompt:         fmt.Sprintf(scanPromptTemplate, summary, chunk.Text, location),
			Temperature:    scanTemperature,
			MaxTokens:      scanMaxTokens,
			StructuredMode: true,
		})
		if err != nil {
			d.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Anomaly scan call failed")
			continue
		}

		validated, err := d.validator.ValidateAndRepair(ctx, reply.Content, scanTarget)
		if err != nil {
			d.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Anomaly scan output invalid")
			continue
		}

		var payload scanPayload
		if err := json.Unmarshal(validated.Value, &payload); err != nil {
			d.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Anomaly scan payload undecodable")
			continue
		}

		for _, found := range payload.Anomalies {
			if found.Location == "" {
				found.Location = location
			}
			anomalies = append(anomalies, storage.Anomaly{
				ID:              uuid.New(),
				Type:            storage.AnomalyType(found.Type),
				Description:     found.Description,
				Severity:        storage.Severity(found.Severity),
				ConfidenceScore: found.ConfidenceScore,
				Location:        found.Location,
				Details:         found.Details,
			})
		}
	}
	return anomalies, nil
}

// extractedDataSummary renders extracted data as the plain-text digest
// embedded in scan prompts.
func extractedDataSummary(data *storage.ExtractedData) string {
	parts := []string{"ENTITIES:"}
	for _, entity := range data.Entities {
		parts = append(parts, fmt.Sprintf("- %s: %s", entity.EntityType, entity.EntityValue))
	}

	parts = append(parts, "\nKEY POINTS:")
	for _, point := range data.KeyPoints {
		parts = append(parts, "- "+point)
	}

	parts = append(parts, "\nDATES:")
	for _, date := range data.Dates {
		parts = append(parts, "- "+date)
	}

	parts = append(parts, "\nNUMERICAL VALUES:")
	for _, num := range data.NumericalValues {
		parts = append(parts, fmt.Sprintf("- %v (%s)", num.Value, num.Context))
	}

	parts = append(parts, "\nRISKS:")
	for _, risk := range data.Risks {
		parts = append(parts, fmt.Sprintf("- %s: %s", risk.RiskType, risk.Description))
	}

	return strings.Join(parts, "\n")
}
