package confidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

func newTestCalculator() *Calculator {
	return NewCalculator(observability.DefaultLogger(), Config{})
}

// tenItemData builds extracted data with exactly ten items and an
// entity confidence mean of 0.9.
func tenItemData() *storage.ExtractedData {
	return &storage.ExtractedData{
		Entities: []storage.ExtractedEntity{
			{EntityType: "party", EntityValue: "Acme Corp", ConfidenceScore: 0.9},
			{EntityType: "party", EntityValue: "Widget LLC", ConfidenceScore: 0.9},
			{EntityType: "contract_value", EntityValue: "$1.2M", ConfidenceScore: 0.9},
		},
		KeyPoints:       []string{"payment due in 30 days", "term is two years", "renewal is automatic"},
		Dates:           []string{"2024-01-15", "2026-01-15"},
		NumericalValues: []storage.NumericalValue{{Value: 1200000, Context: "contract value"}},
		Risks: []storage.Risk{
			{RiskType: "financial", Description: "late payment penalty", Severity: storage.SeverityMedium, ConfidenceScore: 0.7},
		},
	}
}

func TestCalculator_Extraction_FullSignals(t *testing.T) {
	c := newTestCalculator()

	b := c.Extraction(tenItemData(), 5, 5, 0, 3)

	assert.InDelta(t, 1.0, b.Signals[SignalValidity], 1e-9)
	assert.InDelta(t, 0.9, b.Signals[SignalConsistency], 1e-9)
	assert.InDelta(t, 1.0, b.Signals[SignalCoverage], 1e-9)
	assert.InDelta(t, 1.0, b.Signals[SignalRepetition], 1e-9)
	assert.InDelta(t, 1.0, b.Signals[SignalRepair], 1e-9)
	assert.InDelta(t, 1.0, b.Signals[SignalTokenUse], 1e-9)

	// 1.0*0.3 + 0.9*0.2 + 1.0*0.15 + 1.0*0.1 + 1.0*0.15 + 1.0*0.1
	assert.InDelta(t, 0.98, b.Score, 1e-9)
	assert.Equal(t, LevelHigh, b.Level)
}

func TestCalculator_Extraction_RepairPenaltyMonotonic(t *testing.T) {
	c := newTestCalculator()

	prev := 2.0
	for attempts := 0; attempts <= 5; attempts++ {
		b := c.Extraction(tenItemData(), 5, 5, attempts, 3)
		assert.LessOrEqual(t, b.Score, prev, "attempts=%d", attempts)
		prev = b.Score
	}
}

func TestCalculator_Extraction_EmptyData(t *testing.T) {
	c := newTestCalculator()

	b := c.Extraction(&storage.ExtractedData{}, 0, 4, 0, 3)

	assert.Zero(t, b.Signals[SignalValidity])
	assert.Zero(t, b.Signals[SignalConsistency])
	assert.Zero(t, b.Signals[SignalCoverage])
	// Only the penalty and token signals contribute.
	assert.InDelta(t, 0.35, b.Score, 1e-9)
	assert.Equal(t, LevelVeryLow, b.Level)
}

func TestCalculator_Extraction_PartialCoverage(t *testing.T) {
	c := newTestCalculator()

	b := c.Extraction(tenItemData(), 2, 4, 0, 3)
	assert.InDelta(t, 0.5, b.Signals[SignalCoverage], 1e-9)

	b = c.Extraction(tenItemData(), 0, 0, 0, 3)
	assert.Zero(t, b.Signals[SignalCoverage])
}

func TestCalculator_Extraction_CustomWeights(t *testing.T) {
	c := NewCalculator(observability.DefaultLogger(), Config{
		Weights: Weights{Validity: 1.0},
	})

	data := &storage.ExtractedData{
		KeyPoints: []string{"a", "b", "c", "d", "e"},
	}
	b := c.Extraction(data, 1, 1, 0, 3)
	assert.InDelta(t, 0.5, b.Score, 1e-9)
}

func TestCalculator_Summary_Scoring(t *testing.T) {
	c := newTestCalculator()

	section := func(indices ...int) storage.SummaryItem {
		return storage.SummaryItem{
			Level:           storage.SummaryLevelSection,
			Content:         strings.Repeat("y", 50),
			ConfidenceScore: 0.8,
			ChunkIndices:    indices,
		}
	}
	chunk := func(idx int) storage.SummaryItem {
		return storage.SummaryItem{
			Level:           storage.SummaryLevelChunk,
			Content:         strings.Repeat("z", 50),
			ConfidenceScore: 0.8,
			ChunkIndices:    []int{idx},
		}
	}

	result := &storage.SummaryResult{
		GlobalSummary:    strings.Repeat("x", 100),
		SectionSummaries: []storage.SummaryItem{section(0, 1, 2), section(3, 4, 5)},
		ChunkSummaries: []storage.SummaryItem{
			chunk(0), chunk(1), chunk(2), chunk(3), chunk(4), chunk(5),
		},
	}

	// Summary text totals 500 chars against 5000 source chars, a 10:1
	// compression, so token efficiency saturates at 1.
	b := c.Summary(result, 5000, 6, 0)

	// completeness = 0.4 + 0.3*(2/5) + 0.3*(6/6)
	assert.InDelta(t, 0.82, b.Signals[SignalValidity], 1e-9)
	assert.InDelta(t, 0.8, b.Signals[SignalConsistency], 1e-9)
	assert.InDelta(t, 1.0, b.Signals[SignalCoverage], 1e-9)
	assert.InDelta(t, 1.0, b.Signals[SignalTokenUse], 1e-9)
	assert.InDelta(t, 0.906, b.Score, 1e-9)
	assert.Equal(t, LevelHigh, b.Level)
}

func TestCalculator_Summary_EmptyResult(t *testing.T) {
	c := newTestCalculator()

	b := c.Summary(&storage.SummaryResult{}, 1000, 0, 0)
	assert.Zero(t, b.Signals[SignalValidity])
	assert.Zero(t, b.Signals[SignalConsistency])
	assert.Zero(t, b.Signals[SignalCoverage])
	assert.Equal(t, LevelVeryLow, b.Level)
}

func TestCalculator_Overall(t *testing.T) {
	c := newTestCalculator()

	o := c.Overall(0.9, 0.8, 0.5, 0.6)

	// 0.9*0.3 + 0.8*0.3 + 0.5*0.2 + 0.6*0.2
	assert.InDelta(t, 0.73, o.Score, 1e-9)
	assert.Equal(t, LevelMedium, o.Level)

	require.Contains(t, o.Components, "extraction")
	assert.InDelta(t, 0.9, o.Components["extraction"], 1e-9)
	assert.InDelta(t, 0.2, o.Weights["entity_linking"], 1e-9)
}

func TestCalculator_OverallFor_RenormalizesOverPresentStages(t *testing.T) {
	c := newTestCalculator()

	o := c.OverallFor(map[string]float64{
		ComponentExtraction: 0.9,
		ComponentSummary:    0.7,
	})

	// Extraction and summary weights are equal, so the blend is a plain mean.
	assert.InDelta(t, 0.8, o.Score, 1e-9)
	assert.Equal(t, LevelHigh, o.Level)
	assert.InDelta(t, 0.5, o.Weights[ComponentExtraction], 1e-9)
	assert.InDelta(t, 0.5, o.Weights[ComponentSummary], 1e-9)
	assert.NotContains(t, o.Weights, ComponentAnomaly)
}

func TestCalculator_OverallFor_NoStages(t *testing.T) {
	c := newTestCalculator()

	o := c.OverallFor(map[string]float64{})

	assert.Zero(t, o.Score)
	assert.Equal(t, LevelVeryLow, o.Level)
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0.95, LevelHigh},
		{0.8, LevelHigh},
		{0.79999, LevelMedium},
		{0.6, LevelMedium},
		{0.59999, LevelLow},
		{0.4, LevelLow},
		{0.39999, LevelVeryLow},
		{0.0, LevelVeryLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score=%v", tt.score)
	}
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, DefaultWeights().total(), 1e-9)

	o := DefaultOverallWeights()
	assert.InDelta(t, 1.0, o.Extraction+o.Summary+o.Anomaly+o.Linking, 1e-9)
}
