package linking

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

func newTestLinker(client llm.Client) *Linker {
	return NewLinker(observability.DefaultLogger(), client, Config{})
}

func linkEntity(entityType, value string, confidence float64, chunk int) storage.ExtractedEntity {
	idx := chunk
	return storage.ExtractedEntity{
		ID:              uuid.New(),
		EntityType:      entityType,
		EntityValue:     value,
		ConfidenceScore: confidence,
		ChunkIndex:      &idx,
	}
}

func TestLinker_Link_GroupsVariationsOfOneEntity(t *testing.T) {
	first := linkEntity("organization", "Acme Corp", 0.9, 0)
	second := linkEntity("organization", "ACME CORP", 0.8, 1)
	third := linkEntity("organization", "The Acme Company", 0.7, 2)
	person := linkEntity("person", "Jane Doe", 0.95, 0)

	result := newTestLinker(llm.NewMockClient("")).Link([]storage.ExtractedEntity{first, second, third, person})

	require.Len(t, result.Relationships, 3)
	for _, rel := range result.Relationships {
		assert.Equal(t, RelationshipSameAs, rel.RelationshipType)
	}
	assert.Equal(t, first.ID, result.Relationships[0].SourceEntityID)
	assert.Equal(t, second.ID, result.Relationships[0].TargetEntityID)
	assert.InDelta(t, 0.8, result.Relationships[0].ConfidenceScore, 0.0001)
	assert.InDelta(t, 0.7, result.Relationships[1].ConfidenceScore, 0.0001)
	assert.InDelta(t, 0.7, result.Relationships[2].ConfidenceScore, 0.0001)

	require.Len(t, result.Registry, 2)
	acme := result.Registry[0]
	assert.Equal(t, "organization", acme.EntityType)
	assert.Equal(t, "acme", acme.EntityValue)
	assert.InDelta(t, 0.8, acme.ConfidenceScore, 0.0001)
	assert.Equal(t, []string{"Acme Corp", "ACME CORP", "The Acme Company"}, acme.Variations)
	assert.Equal(t, 3, acme.OccurrenceCount)
	assert.Equal(t, []int{0, 1, 2}, acme.ChunksMentioned)

	jane := result.Registry[1]
	assert.Equal(t, "jane doe", jane.EntityValue)
	assert.Equal(t, 1, jane.OccurrenceCount)

	// Mean relationship confidence 0.7333, consolidation 4/2/10.
	assert.InDelta(t, 0.52, result.ConfidenceScore, 0.001)
}

func TestLinker_Link_FirstMatchingGroupWins(t *testing.T) {
	first := linkEntity("organization", "AB Corp", 0.9, 0)
	second := linkEntity("organization", "ABC Inc", 0.8, 1)

	result := newTestLinker(llm.NewMockClient("")).Link([]storage.ExtractedEntity{first, second})

	require.Len(t, result.Registry, 1)
	assert.Equal(t, "ab", result.Registry[0].EntityValue)
	assert.Equal(t, []string{"AB Corp", "ABC Inc"}, result.Registry[0].Variations)
	require.Len(t, result.Relationships, 1)
}

func TestLinker_Link_SingletonsProduceNoRelationships(t *testing.T) {
	result := newTestLinker(llm.NewMockClient("")).Link([]storage.ExtractedEntity{
		linkEntity("organization", "Acme Corp", 0.9, 0),
		linkEntity("person", "Jane Doe", 0.8, 1),
	})

	assert.Empty(t, result.Relationships)
	require.Len(t, result.Registry, 2)
	assert.InDelta(t, 0.04, result.ConfidenceScore, 0.0001)
}

func TestLinker_Link_RepeatedChunkIndexDeduplicated(t *testing.T) {
	result := newTestLinker(llm.NewMockClient("")).Link([]storage.ExtractedEntity{
		linkEntity("organization", "Acme Corp", 0.9, 2),
		linkEntity("organization", "acme corp", 0.8, 0),
		linkEntity("organization", "Acme Corp", 0.7, 2),
	})

	require.Len(t, result.Registry, 1)
	assert.Equal(t, []int{0, 2}, result.Registry[0].ChunksMentioned)
	assert.Equal(t, []string{"Acme Corp", "acme corp"}, result.Registry[0].Variations)
	assert.Equal(t, 3, result.Registry[0].OccurrenceCount)
}

func TestLinker_Link_NoEntities(t *testing.T) {
	result := newTestLinker(llm.NewMockClient("")).Link(nil)

	assert.Empty(t, result.Relationships)
	assert.Empty(t, result.Registry)
	assert.Zero(t, result.ConfidenceScore)
}

func TestNormalizeEntityValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The  Acme   Corp ", "acme"},
		{"ACME Inc", "acme"},
		{"Beta Company", "beta"},
		{"Gamma LLC", "gamma"},
		{"Delta Corp Inc", "delta"},
		{"Plain Name", "plain name"},
		{"inc", "inc"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeEntityValue(tt.in), tt.in)
	}
}

func TestIsSimilarEntity(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"acme", "acme", true},
		{"acme corporation", "acme corp", true},
		{"acme corporation", "acme", false},
		{"jane doe", "john doe", false},
		{"abc", "abcd", true},
		{"ab", "zzzzzz", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isSimilarEntity(tt.a, tt.b, DefaultSimilarityThreshold), "%s vs %s", tt.a, tt.b)
	}
}

func TestCharOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, charOverlap("listen", "silent"), 0.0001)
	assert.InDelta(t, 0.75, charOverlap("jane doe", "john doe"), 0.0001)
	assert.InDelta(t, 1.0, charOverlap("", ""), 0.0001)
	assert.InDelta(t, 0.0, charOverlap("abc", ""), 0.0001)
}

func TestLinker_DetectVariants_ParsesList(t *testing.T) {
	client := llm.NewMockClient(`["Acme Corp", " ACME ", "Acme Incorporated"]`)
	linker := newTestLinker(client)

	variants, err := linker.DetectVariants(context.Background(), "Acme Corp, also known as ACME.", "Acme Corp")

	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp", "ACME", "Acme Incorporated"}, variants)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].StructuredMode)
	assert.Contains(t, calls[0].Prompt, "'Acme Corp'")
	assert.Contains(t, calls[0].Prompt, "also known as ACME")
}

func TestLinker_DetectVariants_FallsBackOnCallFailure(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(llm.InvokeRequest) (string, error) {
		return "", errors.New("model unavailable")
	})

	variants, err := newTestLinker(client).DetectVariants(context.Background(), "some text", "Acme Corp")

	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp"}, variants)
}

func TestLinker_DetectVariants_FallsBackOnNonListPayload(t *testing.T) {
	client := llm.NewMockClient(`{"variants": ["Acme"]}`)

	variants, err := newTestLinker(client).DetectVariants(context.Background(), "some text", "Acme Corp")

	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp"}, variants)
}

func TestLinker_DetectVariants_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	variants, err := newTestLinker(llm.NewMockClient(`[]`)).DetectVariants(ctx, "some text", "Acme Corp")

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, variants)
}
