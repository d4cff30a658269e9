package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
)

// DefaultMaxRepairAttempts bounds model round-trips for a single payload.
const DefaultMaxRepairAttempts = 3

// Repair requests run cold and with a fixed output budget regardless of
// the caller's generation settings.
const (
	repairTemperature = 0.1
	repairMaxTokens   = 2000
)

// ErrValidationExhausted is returned when a payload still fails
// validation after every repair attempt.
var ErrValidationExhausted = errors.New("structured output validation exhausted")

const repairPromptTemplate = `The following JSON content is malformed and needs to be repaired according to the schema:

SCHEMA DESCRIPTION:
%s

MALFORMED CONTENT:
%s

Please return only the corrected JSON content without any additional explanation or markdown formatting.`

// Config holds validator settings.
type Config struct {
	// MaxRepairAttempts is the number of model repair round-trips
	// allowed per payload. Zero disables repair, negative values fall
	// back to the default.
	MaxRepairAttempts int
}

// Result is a successfully validated payload. Value holds the exact
// JSON that passed validation, ready to unmarshal into a typed struct.
type Result struct {
	Value          json.RawMessage
	RepairAttempts int
}

// Validator parses model output as JSON, checks it against a target
// schema, and asks the model to repair payloads that fail. Repair
// always restarts from the original content rather than compounding
// earlier repair output.
type Validator struct {
	logger            *observability.Logger
	client            llm.Client
	maxRepairAttempts int
}

// NewValidator creates a validator backed by the given model client.
func NewValidator(logger *observability.Logger, client llm.Client, cfg Config) *Validator {
	if cfg.MaxRepairAttempts < 0 {
		cfg.MaxRepairAttempts = DefaultMaxRepairAttempts
	}
	return &Validator{
		logger:            logger,
		client:            client,
		maxRepairAttempts: cfg.MaxRepairAttempts,
	}
}

// ValidateAndRepair extracts the JSON candidate from content, validates
// it against target, and drives repair round-trips until the payload
// validates or attempts run out. The total number of parse attempts is
// at most MaxRepairAttempts plus one.
func (v *Validator) ValidateAndRepair(ctx context.Context, content string, target Target) (*Result, error) {
	value, err := parseAndValidate(extractJSON(content), target)
	if err == nil {
		return &Result{Value: value}, nil
	}

	lastErr := err
	for attempt := 1; attempt <= v.maxRepairAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		repaired, repairErr := v.repair(ctx, content, target)
		if repairErr != nil {
			v.logger.Warn().
				Err(repairErr).
				Int("attempt", attempt).
				Str("schema", target.Name()).
				Msg("Repair round-trip failed")
			lastErr = repairErr
			continue
		}

		value, err = parseAndValidate(repaired, target)
		if err == nil {
			v.logger.Info().
				Int("repair_attempts", attempt).
				Str("schema", target.Name()).
				Msg("Repaired structured output")
			return &Result{Value: value, RepairAttempts: attempt}, nil
		}

		v.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("schema", target.Name()).
			Msg("Repaired output still invalid")
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d repair attempts: %w", ErrValidationExhausted, v.maxRepairAttempts, lastErr)
}

// Valid reports whether content parses as JSON at all.
func (v *Validator) Valid(content string) bool {
	return json.Valid([]byte(extractJSON(content)))
}

func (v *Validator) repair(ctx context.Context, content string, target Target) (string, error) {
	result, err := v.client.Invoke(ctx, llm.InvokeRequest{
		Prompt:      fmt.Sprintf(repairPromptTemplate, target.Description(), content),
		Temperature: repairTemperature,
		MaxTokens:   repairMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("repair request: %w", err)
	}
	return extractJSON(result.Content), nil
}

func parseAndValidate(candidate string, target Target) (json.RawMessage, error) {
	value, err := target.Parse(candidate)
	if err != nil {
		return nil, err
	}
	if err := target.Conforms(value); err != nil {
		return nil, fmt.Errorf("schema %q: %w", target.Name(), err)
	}
	return json.RawMessage(candidate), nil
}

// extractJSON pulls the JSON payload out of a model response that may
// wrap it in markdown fences or surrounding prose. A ```json fence wins,
// then the first generic fence that opens with an object or array, then
// the trimmed content itself.
func extractJSON(content string) string {
	if idx := strings.Index(content, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(content[start:], "```"); end != -1 {
			return strings.TrimSpace(content[start : start+end])
		}
	}

	if strings.Contains(content, "```") {
		parts := strings.SplitN(content, "```", 3)
		if len(parts) >= 2 {
			block := strings.TrimSpace(parts[1])
			if strings.HasPrefix(block, "{") || strings.HasPrefix(block, "[") {
				return block
			}
		}
	}

	return strings.TrimSpace(content)
}
