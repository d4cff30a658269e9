package anomaly

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

func ruleOnlyDetector() *Detector {
	return NewDetector(observability.DefaultLogger(), llm.NewMockClient(""), Config{DisableModelScan: true})
}

func entity(entityType, value string) storage.ExtractedEntity {
	return storage.ExtractedEntity{EntityType: entityType, EntityValue: value, ConfidenceScore: 0.9}
}

func findByType(anomalies []storage.Anomaly, anomalyType storage.AnomalyType) []storage.Anomaly {
	var matched []storage.Anomaly
	for _, a := range anomalies {
		if a.Type == anomalyType {
			matched = append(matched, a)
		}
	}
	return matched
}

func TestDetector_Detect_DuplicateEntityValues(t *testing.T) {
	data := &storage.ExtractedData{
		Entities: []storage.ExtractedEntity{
			entity("organization", "Acme Corp"),
			entity("organization", " ACME CORP "),
			entity("organization", "Beta LLC"),
			entity("person", "Jane Doe"),
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	duplicates := findByType(report.Anomalies, storage.AnomalyTypeDuplicateEntity)
	require.Len(t, duplicates, 1)
	assert.Equal(t, storage.SeverityMedium, duplicates[0].Severity)
	assert.InDelta(t, 0.7, duplicates[0].ConfidenceScore, 0.0001)
	assert.Equal(t, "entity_type:organization", duplicates[0].Location)
	assert.Equal(t, []string{"acme corp", "beta llc"}, duplicates[0].Details["values"])
	assert.Equal(t, 3, duplicates[0].Details["count"])
}

func TestDetector_Detect_RepeatedIdenticalValueNotFlagged(t *testing.T) {
	data := &storage.ExtractedData{
		Entities: []storage.ExtractedEntity{
			entity("organization", "Acme Corp"),
			entity("organization", "acme corp"),
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	assert.Empty(t, report.Anomalies)
	assert.Zero(t, report.ConfidenceScore)
}

func TestDetector_Detect_InvalidDateFormat(t *testing.T) {
	data := &storage.ExtractedData{
		Dates: []string{"2024-03-15", "March 15, 2024"},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	invalid := findByType(report.Anomalies, storage.AnomalyTypeInvalidDateFormat)
	require.Len(t, invalid, 1)
	assert.Equal(t, storage.SeverityHigh, invalid[0].Severity)
	assert.InDelta(t, 0.9, invalid[0].ConfidenceScore, 0.0001)
	assert.Equal(t, "date:March 15, 2024", invalid[0].Location)
	assert.Equal(t, "March 15, 2024", invalid[0].Details["date_string"])
}

func TestDetector_Detect_FutureDatesGroupedIntoOneFinding(t *testing.T) {
	data := &storage.ExtractedData{
		Dates: []string{"2999-01-01", "2020-06-30", "2998-12-31"},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	future := findByType(report.Anomalies, storage.AnomalyTypeFutureDate)
	require.Len(t, future, 1)
	assert.Equal(t, storage.SeverityMedium, future[0].Severity)
	assert.InDelta(t, 0.6, future[0].ConfidenceScore, 0.0001)
	assert.Equal(t, "dates_section", future[0].Location)
	assert.Equal(t, []string{"2999-01-01", "2998-12-31"}, future[0].Details["future_dates"])
	assert.Contains(t, future[0].Description, "2 dates")
}

func TestParseDate_Layouts(t *testing.T) {
	valid := []string{
		"2024-03-15",
		"2024-03-15T10:30:00",
		"2024-03-15T10:30:00Z",
		"2024-03-15T10:30:00+02:00",
	}
	for _, value := range valid {
		_, ok := parseDate(value)
		assert.True(t, ok, value)
	}

	invalid := []string{"15/03/2024", "March 15, 2024", "2024-13-45", ""}
	for _, value := range invalid {
		_, ok := parseDate(value)
		assert.False(t, ok, value)
	}
}

func TestDetector_Detect_ExtremeNumericalValue(t *testing.T) {
	data := &storage.ExtractedData{
		NumericalValues: []storage.NumericalValue{
			{Value: 5e10, Context: "total budget"},
			{Value: 950, Context: "unit price"},
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	extreme := findByType(report.Anomalies, storage.AnomalyTypeExtremeValue)
	require.Len(t, extreme, 1)
	assert.Equal(t, storage.SeverityHigh, extreme[0].Severity)
	assert.InDelta(t, 0.8, extreme[0].ConfidenceScore, 0.0001)
	assert.Equal(t, "numerical_value:50000000000", extreme[0].Location)
}

func TestDetector_Detect_NegativeAmount(t *testing.T) {
	data := &storage.ExtractedData{
		NumericalValues: []storage.NumericalValue{
			{Value: -500, Context: "monthly payment amount"},
			{Value: -12, Context: "temperature delta"},
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	negative := findByType(report.Anomalies, storage.AnomalyTypeNegativeAmount)
	require.Len(t, negative, 1)
	assert.Equal(t, storage.SeverityMedium, negative[0].Severity)
	assert.InDelta(t, 0.7, negative[0].ConfidenceScore, 0.0001)
	assert.Equal(t, -500.0, negative[0].Details["value"])
}

func TestDetector_Detect_ExtremeNegativeRevenueFlaggedTwice(t *testing.T) {
	data := &storage.ExtractedData{
		NumericalValues: []storage.NumericalValue{
			{Value: -2e10, Context: "annual revenue"},
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	assert.Len(t, findByType(report.Anomalies, storage.AnomalyTypeExtremeValue), 1)
	assert.Len(t, findByType(report.Anomalies, storage.AnomalyTypeNegativeAmount), 1)
}

func TestDetector_Detect_ContradictoryContractStatus(t *testing.T) {
	data := &storage.ExtractedData{
		Entities: []storage.ExtractedEntity{
			entity("contract_status", "Signed by both parties"),
			entity("contract_status", "Draft pending review"),
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	contradictory := findByType(report.Anomalies, storage.AnomalyTypeContradictoryContract)
	require.Len(t, contradictory, 1)
	assert.Equal(t, storage.SeverityHigh, contradictory[0].Severity)
	assert.InDelta(t, 0.8, contradictory[0].ConfidenceScore, 0.0001)
	assert.Equal(t, "contract_section", contradictory[0].Location)
	assert.Equal(t, []string{"signed", "unsigned"}, contradictory[0].Details["statuses_found"])
}

func TestDetector_Detect_ConsistentContractStatusNotFlagged(t *testing.T) {
	data := &storage.ExtractedData{
		Entities: []storage.ExtractedEntity{
			entity("contract_status", "Signed on 2024-01-10"),
			entity("contract_status", "Executed by counsel"),
		},
	}

	report, err := ruleOnlyDetector().Detect(context.Background(), data, nil)

	require.NoError(t, err)
	assert.Empty(t, findByType(report.Anomalies, storage.AnomalyTypeContradictoryContract))
}

func TestDetector_Detect_CleanData(t *testing.T) {
	report, err := ruleOnlyDetector().Detect(context.Background(), &storage.ExtractedData{}, nil)

	require.NoError(t, err)
	assert.Empty(t, report.Anomalies)
	assert.Zero(t, report.ConfidenceScore)
}

func TestDetectionConfidence(t *testing.T) {
	tests := []struct {
		name      string
		anomalies []storage.Anomaly
		want      float64
	}{
		{name: "none", anomalies: nil, want: 0},
		{
			name:      "single medium",
			anomalies: []storage.Anomaly{{Severity: storage.SeverityMedium, ConfidenceScore: 0.7}},
			want:      0.52,
		},
		{
			name: "high and low weighted",
			anomalies: []storage.Anomaly{
				{Severity: storage.SeverityHigh, ConfidenceScore: 0.9},
				{Severity: storage.SeverityLow, ConfidenceScore: 0.3},
			},
			want: 0.5755,
		},
		{
			name: "unknown severity uses middle weight",
			anomalies: []storage.Anomaly{
				{Severity: storage.Severity("weird"), ConfidenceScore: 0.5},
			},
			want: 0.38,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DetectionConfidence(tt.anomalies), 0.001)
		})
	}
}

func TestDetectionConfidence_SaturatesAtTenFindings(t *testing.T) {
	anomalies := make([]storage.Anomaly, 12)
	for i := range anomalies {
		anomalies[i] = storage.Anomaly{Severity: storage.SeverityCritical, ConfidenceScore: 1.0}
	}
	assert.InDelta(t, 1.0, DetectionConfidence(anomalies), 0.0001)
}

func TestDetector_Detect_ModelScanFindings(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(req llm.InvokeRequest) (string, error) {
		if strings.Contains(req.Prompt, "first chunk text") {
			return `{"anomalies": [{"type": "inconsistent_numbers", "description": "Totals do not add up", "severity": "high", "confidence_score": 0.85, "location": "chunk_0", "details": {"context": "sum line"}}]}`, nil
		}
		return `{"anomalies": []}`, nil
	})

	detector := NewDetector(observability.DefaultLogger(), client, Config{})
	data := &storage.ExtractedData{
		Entities: []storage.ExtractedEntity{entity("organization", "Acme Corp")},
	}
	chunks := []chunking.Chunk{
		{Index: 0, Text: "first chunk text"},
		{Index: 1, Text: "second chunk text"},
	}

	report, err := detector.Detect(context.Background(), data, chunks)

	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, storage.AnomalyType("inconsistent_numbers"), report.Anomalies[0].Type)
	assert.Equal(t, storage.SeverityHigh, report.Anomalies[0].Severity)
	assert.Equal(t, "chunk_0", report.Anomalies[0].Location)
	assert.Equal(t, "sum line", report.Anomalies[0].Details["context"])
	assert.Positive(t, report.ConfidenceScore)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].StructuredMode)
	assert.Contains(t, calls[0].Prompt, "EXTRACTED DATA SUMMARY:")
	assert.Contains(t, calls[0].Prompt, "- organization: Acme Corp")
}

func TestDetector_Detect_ModelScanDefaultsOmittedLocation(t *testing.T) {
	client := llm.NewMockClient(`{"anomalies": [{"type": "odd_phrasing", "description": "Clause wording is unusual", "severity": "low", "confidence_score": 0.4}]}`)

	detector := NewDetector(observability.DefaultLogger(), client, Config{})
	report, err := detector.Detect(context.Background(), &storage.ExtractedData{}, []chunking.Chunk{{Index: 3, Text: "clause text"}})

	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, "chunk_3", report.Anomalies[0].Location)
}

func TestDetector_Detect_ModelScanFailureSkipsChunk(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(req llm.InvokeRequest) (string, error) {
		if strings.Contains(req.Prompt, "broken chunk text") {
			return "", errors.New("model unavailable")
		}
		return `{"anomalies": [{"type": "odd_phrasing", "description": "Clause wording is unusual", "severity": "low", "confidence_score": 0.4, "location": "chunk_1"}]}`, nil
	})

	detector := NewDetector(observability.DefaultLogger(), client, Config{})
	report, err := detector.Detect(context.Background(), &storage.ExtractedData{}, []chunking.Chunk{
		{Index: 0, Text: "broken chunk text"},
		{Index: 1, Text: "healthy chunk text"},
	})

	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, "chunk_1", report.Anomalies[0].Location)
}

func TestDetector_Detect_ModelScanDisabled(t *testing.T) {
	client := llm.NewMockClient(`{"anomalies": []}`)
	detector := NewDetector(observability.DefaultLogger(), client, Config{DisableModelScan: true})

	_, err := detector.Detect(context.Background(), &storage.ExtractedData{}, []chunking.Chunk{{Index: 0, Text: "chunk text"}})

	require.NoError(t, err)
	assert.Zero(t, client.CallCount())
}

func TestDetector_Detect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	detector := NewDetector(observability.DefaultLogger(), llm.NewMockClient(`{"anomalies": []}`), Config{})
	report, err := detector.Detect(ctx, &storage.ExtractedData{}, []chunking.Chunk{{Index: 0, Text: "chunk text"}})

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, report)
}
