// Package confidence scores stage outputs through weighted signal
// blending and maps scores onto qualitative levels.
package confidence

import (
	"math"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// Signal names used in confidence breakdowns.
const (
	SignalValidity    = "extraction_validity"
	SignalConsistency = "entity_consistency"
	SignalCoverage    = "text_coverage"
	SignalRepetition  = "repetition_penalty"
	SignalRepair      = "repair_attempts"
	SignalTokenUse    = "token_efficiency"
)

// Level is a qualitative confidence label.
type Level string

const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelVeryLow Level = "very_low"
)

// Weights blends per-signal scores into one scalar. The struct is
// copied at construction and never mutated afterwards.
type Weights struct {
	Validity    float64
	Consistency float64
	Coverage    float64
	Repetition  float64
	Repair      float64
	TokenUse    float64
}

// DefaultWeights returns the standard signal weighting.
func DefaultWeights() Weights {
	return Weights{
		Validity:    0.30,
		Consistency: 0.20,
		Coverage:    0.15,
		Repetition:  0.10,
		Repair:      0.15,
		TokenUse:    0.10,
	}
}

func (w Weights) total() float64 {
	return w.Validity + w.Consistency + w.Coverage + w.Repetition + w.Repair + w.TokenUse
}

// OverallWeights blends per-stage confidences into the document score.
type OverallWeights struct {
	Extraction float64
	Summary    float64
	Anomaly    float64
	Linking    float64
}

// Component names accepted by OverallFor.
const (
	ComponentExtraction = "extraction"
	ComponentSummary    = "summary"
	ComponentAnomaly    = "anomaly"
	ComponentLinking    = "entity_linking"
)

// DefaultOverallWeights returns the standard stage weighting.
func DefaultOverallWeights() OverallWeights {
	return OverallWeights{
		Extraction: 0.3,
		Summary:    0.3,
		Anomaly:    0.2,
		Linking:    0.2,
	}
}

// Breakdown is a per-signal score map with its derived weighted scalar.
type Breakdown struct {
	Signals map[string]float64 `json:"signals"`
	Score   float64            `json:"score"`
	Level   Level              `json:"level"`
}

// Overall is the blended document-level confidence.
type Overall struct {
	Score      float64            `json:"overall_confidence"`
	Level      Level              `json:"level"`
	Components map[string]float64 `json:"component_scores"`
	Weights    map[string]float64 `json:"component_weights"`
}

// Config holds calculator settings. Zero-valued weight sets fall back
// to the defaults.
type Config struct {
	Weights        Weights
	OverallWeights OverallWeights
}

// Calculator derives confidence scores for extraction and summary
// results. Weights are fixed at construction.
type Calculator struct {
	logger  *observability.Logger
	weights Weights
	overall OverallWeights
}

// NewCalculator creates a calculator with the given weights.
func NewCalculator(logger *observability.Logger, cfg Config) *Calculator {
	if cfg.Weights.total() == 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.OverallWeights.Extraction+cfg.OverallWeights.Summary+cfg.OverallWeights.Anomaly+cfg.OverallWeights.Linking == 0 {
		cfg.OverallWeights = DefaultOverallWeights()
	}
	return &Calculator{
		logger:  logger,
		weights: cfg.Weights,
		overall: cfg.OverallWeights,
	}
}

// Extraction scores an extraction outcome. Validity normalizes the item
// count against ten expected items, consistency averages entity
// confidences, and coverage is the ratio of chunks that produced usable
// output. Repair attempts drag both penalty signals down, so the score
// never increases with more repairs.
func (c *Calculator) Extraction(data *storage.ExtractedData, processedChunks, totalChunks, repairAttempts, maxRepairs int) *Breakdown {
	if maxRepairs <= 0 {
		maxRepairs = 3
	}

	signals := map[string]float64{
		SignalValidity:    math.Min(float64(data.TotalItems())/10.0, 1.0),
		SignalConsistency: meanEntityConfidence(data.Entities),
		SignalCoverage:    ratio(processedChunks, totalChunks),
		SignalRepetition:  math.Max(0, 1-float64(repairAttempts)/float64(maxRepairs)),
		SignalRepair:      math.Max(0, 1-0.2*float64(repairAttempts)),
		SignalTokenUse:    1.0,
	}

	return c.breakdown(signals)
}

// Summary scores a hierarchical summary. Completeness rewards the
// presence of the global tier, up to five sections, and chunk coverage;
// consistency averages the per-item confidences.
func (c *Calculator) Summary(result *storage.SummaryResult, originalLength, chunkCount, repairAttempts int) *Breakdown {
	completeness := 0.0
	if result.GlobalSummary != "" {
		completeness += 0.4
	}
	if len(result.SectionSummaries) > 0 {
		completeness += 0.3 * math.Min(1.0, float64(len(result.SectionSummaries))/5.0)
	}
	if len(result.ChunkSummaries) > 0 && chunkCount > 0 {
		completeness += 0.3 * math.Min(1.0, float64(len(result.ChunkSummaries))/float64(chunkCount))
	}

	totalSummaryLen := len(result.GlobalSummary)
	var confidences []float64
	for _, item := range result.SectionSummaries {
		totalSummaryLen += len(item.Content)
		confidences = append(confidences, item.ConfidenceScore)
	}
	for _, item := range result.ChunkSummaries {
		totalSummaryLen += len(item.Content)
		confidences = append(confidences, item.ConfidenceScore)
	}

	efficiency := float64(originalLength) / math.Max(float64(totalSummaryLen), 1)

	signals := map[string]float64{
		SignalValidity:    completeness,
		SignalConsistency: mean(confidences),
		SignalCoverage:    ratio(len(result.ChunkSummaries), chunkCount),
		SignalRepetition:  math.Max(0, 1-float64(repairAttempts)/3.0),
		SignalRepair:      math.Max(0, 1-0.2*float64(repairAttempts)),
		SignalTokenUse:    math.Min(1.0, efficiency/10.0),
	}

	return c.breakdown(signals)
}

// Overall blends per-stage confidences into the document score.
func (c *Calculator) Overall(extraction, summary, anomaly, linking float64) *Overall {
	return c.OverallFor(map[string]float64{
		ComponentExtraction: extraction,
		ComponentSummary:    summary,
		ComponentAnomaly:    anomaly,
		ComponentLinking:    linking,
	})
}

// OverallFor blends confidences for the stages that actually ran.
// Configured weights are renormalized over the present components, so a
// skipped stage does not drag the document score.
func (c *Calculator) OverallFor(components map[string]float64) *Overall {
	configured := map[string]float64{
		ComponentExtraction: c.overall.Extraction,
		ComponentSummary:    c.overall.Summary,
		ComponentAnomaly:    c.overall.Anomaly,
		ComponentLinking:    c.overall.Linking,
	}

	var total float64
	for name := range components {
		total += configured[name]
	}
	if total == 0 {
		return &Overall{
			Level:      Classify(0),
			Components: components,
			Weights:    map[string]float64{},
		}
	}

	var score float64
	weights := make(map[string]float64, len(components))
	for name, value := range components {
		w := configured[name] / total
		weights[name] = w
		score += clamp01(value) * w
	}
	score = round3(score)

	return &Overall{
		Score:      score,
		Level:      Classify(score),
		Components: components,
		Weights:    weights,
	}
}

// Classify maps a score onto a qualitative level.
func Classify(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelHigh
	case score >= 0.6:
		return LevelMedium
	case score >= 0.4:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

func (c *Calculator) breakdown(signals map[string]float64) *Breakdown {
	for name, value := range signals {
		signals[name] = clamp01(value)
	}

	w := c.weights
	sum := signals[SignalValidity]*w.Validity +
		signals[SignalConsistency]*w.Consistency +
		signals[SignalCoverage]*w.Coverage +
		signals[SignalRepetition]*w.Repetition +
		signals[SignalRepair]*w.Repair +
		signals[SignalTokenUse]*w.TokenUse

	score := round3(sum / w.total())

	c.logger.Debug().
		Float64("score", score).
		Interface("signals", signals).
		Msg("Confidence computed")

	return &Breakdown{
		Signals: signals,
		Score:   score,
		Level:   Classify(score),
	}
}

func meanEntityConfidence(entities []storage.ExtractedEntity) float64 {
	if len(entities) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entities {
		sum += e.ConfidenceScore
	}
	return sum / float64(len(entities))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func ratio(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return clamp01(float64(part) / float64(whole))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
