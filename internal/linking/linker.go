// Package linking connects entity occurrences across chunks. Values
// are normalized and grouped by string similarity; each multi-member
// group yields pairwise same_as relationships and one consolidated
// registry entry.
package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/schema"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

const (
	// RelationshipSameAs marks two occurrences of one real-world entity.
	RelationshipSameAs = "same_as"

	// DefaultSimilarityThreshold is the character-overlap ratio above
	// which two normalized values count as the same entity.
	DefaultSimilarityThreshold = 0.8

	variantsTemperature = 0.1
	variantsMaxTokens   = 2000
)

var spaceRun = regexp.MustCompile(`\s+`)

// corporateSuffixes are stripped one after another, so stacked
// suffixes ("acme corp inc") reduce fully.
var corporateSuffixes = []string{" inc", " llc", " corp", " company"}

var variantsTarget = schema.MustCompile("entity_variants", `{
	"type": "array",
	"items": {"type": "string"}
}`)

const variantsPromptTemplate = `Find all possible variants or alternative forms of the entity '%s' in the following text.
Variants might include different capitalizations, abbreviations, or alternative names that refer to the same entity.

TEXT:
%s

Return a JSON list of all detected variants:`

// Config holds linker settings.
type Config struct {
	// MaxRepairAttempts bounds repair round-trips for variant payloads.
	MaxRepairAttempts int
	// SimilarityThreshold overrides the overlap ratio for merging values.
	SimilarityThreshold float64
}

// Linker groups similar entities, derives relationships, and builds
// the canonical registry. The model client is only used for variant
// detection; Link itself is pure computation.
type Linker struct {
	logger    *observability.Logger
	client    llm.Client
	validator *schema.Validator
	threshold float64
}

// NewLinker creates an entity linker.
func NewLinker(logger *observability.Logger, client llm.Client, cfg Config) *Linker {
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = schema.DefaultMaxRepairAttempts
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return &Linker{
		logger:    logger,
		client:    client,
		validator: schema.NewValidator(logger, client, schema.Config{MaxRepairAttempts: cfg.MaxRepairAttempts}),
		threshold: cfg.SimilarityThreshold,
	}
}

// Link groups the entities, emits pairwise same_as relationships for
// every multi-occurrence group, and consolidates each group into a
// registry entry. Output order follows first occurrence in the input.
func (l *Linker) Link(entities []storage.ExtractedEntity) *storage.LinkingResult {
	l.logger.Info().Int("entities", len(entities)).Msg("Starting entity linking")

	groups := groupSimilarEntities(entities, l.threshold)

	var relationships []storage.EntityRelationship
	for _, group := range groups {
		if len(group.entities) < 2 {
			continue
		}
		for i := 0; i < len(group.entities); i++ {
			for j := i + 1; j < len(group.entities); j++ {
				relationships = append(relationships, storage.EntityRelationship{
					ID:               uuid.New(),
					SourceEntityID:   group.entities[i].ID,
					TargetEntityID:   group.entities[j].ID,
					RelationshipType: RelationshipSameAs,
					ConfidenceScore:  math.Min(group.entities[i].ConfidenceScore, group.entities[j].ConfidenceScore),
				})
			}
		}
	}

	registry := make([]storage.CanonicalEntity, 0, len(groups))
	for _, group := range groups {
		registry = append(registry, consolidateGroup(group))
	}

	result := &storage.LinkingResult{
		Relationships:   relationships,
		Registry:        registry,
		ConfidenceScore: LinkingConfidence(relationships, registry),
	}

	l.logger.Info().
		Int("relationships", len(relationships)).
		Int("registry_entries", len(registry)).
		Float64("confidence", result.ConfidenceScore).
		Msg("Entity linking completed")

	return result
}

// DetectVariants asks the model for alternative forms of baseEntity
// appearing in text. Model or validation failure falls back to the
// base entity alone.
func (l *Linker) DetectVariants(ctx context.Context, text, baseEntity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply, err := l.client.Invoke(ctx, llm.InvokeRequest{
		Prompt:         fmt.Sprintf(variantsPromptTemplate, baseEntity, text),
		Temperature:    variantsTemperature,
		MaxTokens:      variantsMaxTokens,
		StructuredMode: true,
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("entity", baseEntity).Msg("Variant detection call failed")
		return []string{baseEntity}, nil
	}

	validated, err := l.validator.ValidateAndRepair(ctx, reply.Content, variantsTarget)
	if err != nil {
		l.logger.Warn().Err(err).Str("entity", baseEntity).Msg("Variant detection output invalid")
		return []string{baseEntity}, nil
	}

	var variants []string
	if err := json.Unmarshal(validated.Value, &variants); err != nil {
		return []string{baseEntity}, nil
	}

	trimmed := make([]string, len(variants))
	for i, variant := range variants {
		trimmed[i] = strings.TrimSpace(variant)
	}
	return trimmed, nil
}

// LinkingConfidence scores a linking pass from mean relationship
// confidence and how strongly mentions consolidate into few registry
// entries. Empty relationships and registry score zero.
func LinkingConfidence(relationships []storage.EntityRelationship, registry []storage.CanonicalEntity) float64 {
	if len(relationships) == 0 && len(registry) == 0 {
		return 0
	}

	var avgRelationship float64
	if len(relationships) > 0 {
		var sum float64
		for _, rel := range relationships {
			sum += rel.ConfidenceScore
		}
		avgRelationship = sum / float64(len(relationships))
	}

	var consolidation float64
	if len(registry) > 0 {
		totalOccurrences := 0
		for _, entry := range registry {
			totalOccurrences += entry.OccurrenceCount
		}
		consolidation = math.Min(1.0, float64(totalOccurrences)/float64(len(registry))/10.0)
	}

	return 0.6*avgRelationship + 0.4*consolidation
}

type entityGroup struct {
	key      string
	entities []storage.ExtractedEntity
}

// groupSimilarEntities assigns each entity to the first existing group
// whose key its normalized value matches, or opens a new group keyed by
// that normalized value. Group order follows first occurrence.
func groupSimilarEntities(entities []storage.ExtractedEntity, threshold float64) []*entityGroup {
	var groups []*entityGroup
	for _, entity := range entities {
		normalized := normalizeEntityValue(entity.EntityValue)

		matched := false
		for _, group := range groups {
			if isSimilarEntity(normalized, group.key, threshold) {
				group.entities = append(group.entities, entity)
				matched = true
				break
			}
		}
		if !matched {
			groups = append(groups, &entityGroup{key: normalized, entities: []storage.ExtractedEntity{entity}})
		}
	}
	return groups
}

func consolidateGroup(group *entityGroup) storage.CanonicalEntity {
	base := group.entities[0]

	seenVariations := make(map[string]struct{})
	var variations []string
	seenChunks := make(map[int]struct{})
	var chunks []int
	var totalConfidence float64

	for _, entity := range group.entities {
		if _, ok := seenVariations[entity.EntityValue]; !ok {
			seenVariations[entity.EntityValue] = struct{}{}
			variations = append(variations, entity.EntityValue)
		}
		if entity.ChunkIndex != nil {
			if _, ok := seenChunks[*entity.ChunkIndex]; !ok {
				seenChunks[*entity.ChunkIndex] = struct{}{}
				chunks = append(chunks, *entity.ChunkIndex)
			}
		}
		totalConfidence += entity.ConfidenceScore
	}
	sort.Ints(chunks)

	return storage.CanonicalEntity{
		ID:              uuid.New(),
		EntityType:      base.EntityType,
		EntityValue:     group.key,
		ConfidenceScore: totalConfidence / float64(len(group.entities)),
		Variations:      variations,
		OccurrenceCount: len(group.entities),
		ChunksMentioned: chunks,
	}
}

// normalizeEntityValue lowercases, collapses whitespace, and strips a
// leading article plus corporate suffixes.
func normalizeEntityValue(value string) string {
	normalized := spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), " ")
	normalized = strings.TrimPrefix(normalized, "the ")
	for _, suffix := range corporateSuffixes {
		normalized = strings.TrimSuffix(normalized, suffix)
	}
	return normalized
}

// isSimilarEntity reports whether two normalized values refer to the
// same entity: exact match, containment, or high character overlap.
// Values whose lengths differ by more than half the longer length are
// never similar.
func isSimilarEntity(a, b string, threshold float64) bool {
	if a == b {
		return true
	}

	lenA := utf8.RuneCountInString(a)
	lenB := utf8.RuneCountInString(b)
	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}
	diff := lenA - lenB
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > float64(maxLen)*0.5 {
		return false
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	return charOverlap(a, b) > threshold
}

// charOverlap is the Jaccard ratio of the two rune sets.
func charOverlap(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := runeSet(a)
	setB := runeSet(b)

	common := 0
	union := len(setB)
	for r := range setA {
		if _, ok := setB[r]; ok {
			common++
		} else {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(common) / float64(union)
}

func runeSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		set[r] = struct{}{}
	}
	return set
}
