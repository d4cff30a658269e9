package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/confidence"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

func newTestSummarizer(client llm.Client, cfg Config) *Summarizer {
	logger := observability.DefaultLogger()
	return NewSummarizer(logger, client, confidence.NewCalculator(logger, confidence.Config{}), cfg)
}

func tieredRespondFunc(t *testing.T) func(llm.InvokeRequest) (string, error) {
	t.Helper()
	return func(req llm.InvokeRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "SECTION SUMMARIES:"):
			return "Global summary.", nil
		case strings.Contains(req.Prompt, "SECTION TEXT:"):
			return "Section summary.", nil
		case strings.Contains(req.Prompt, "TEXT CHUNK (Index: 0):"):
			return "Summary of chunk zero.", nil
		case strings.Contains(req.Prompt, "TEXT CHUNK (Index: 1):"):
			return "Summary of chunk one.", nil
		default:
			return "", fmt.Errorf("unexpected prompt: %s", req.Prompt)
		}
	}
}

func TestSummarizer_Summarize_ThreeTiers(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(tieredRespondFunc(t))

	summ := newTestSummarizer(client, Config{})
	result, err := summ.Summarize(context.Background(), []chunking.Chunk{
		{Index: 0, Text: "alpha chunk body"},
		{Index: 1, Text: "bravo chunk body"},
	})

	require.NoError(t, err)
	require.Len(t, result.ChunkSummaries, 2)
	assert.Equal(t, storage.SummaryLevelChunk, result.ChunkSummaries[0].Level)
	assert.Equal(t, "Summary of chunk zero.", result.ChunkSummaries[0].Content)
	assert.Equal(t, []int{0}, result.ChunkSummaries[0].ChunkIndices)
	assert.InDelta(t, 0.8, result.ChunkSummaries[0].ConfidenceScore, 0.0001)
	assert.Equal(t, "Summary of chunk one.", result.ChunkSummaries[1].Content)
	assert.Equal(t, []int{1}, result.ChunkSummaries[1].ChunkIndices)

	require.Len(t, result.SectionSummaries, 1)
	assert.Equal(t, storage.SummaryLevelSection, result.SectionSummaries[0].Level)
	assert.Equal(t, "Section summary.", result.SectionSummaries[0].Content)
	assert.Equal(t, []int{0, 1}, result.SectionSummaries[0].ChunkIndices)

	assert.Equal(t, "Global summary.", result.GlobalSummary)
	assert.Positive(t, result.TokensUsed)
	assert.Greater(t, result.ConfidenceScore, 0.5)
	assert.Equal(t, 4, client.CallCount())
}

func TestSummarizer_Summarize_PromptsRollUpwards(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(tieredRespondFunc(t))

	summ := newTestSummarizer(client, Config{})
	_, err := summ.Summarize(context.Background(), []chunking.Chunk{
		{Index: 0, Text: "alpha chunk body"},
		{Index: 1, Text: "bravo chunk body"},
	})
	require.NoError(t, err)

	var sectionPrompt, globalPrompt string
	for _, call := range client.Calls() {
		assert.InDelta(t, 0.3, call.Temperature, 0.0001)
		assert.False(t, call.StructuredMode)
		switch {
		case strings.Contains(call.Prompt, "SECTION SUMMARIES:"):
			globalPrompt = call.Prompt
		case strings.Contains(call.Prompt, "SECTION TEXT:"):
			sectionPrompt = call.Prompt
		}
	}

	require.NotEmpty(t, sectionPrompt)
	assert.Contains(t, sectionPrompt, "Summary of chunk zero.\n\nSummary of chunk one.")
	require.NotEmpty(t, globalPrompt)
	assert.Contains(t, globalPrompt, "Section summary.")
}

func TestSummarizer_Summarize_SectionGrouping(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(req llm.InvokeRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "SECTION SUMMARIES:"):
			return "Global summary.", nil
		case strings.Contains(req.Prompt, "SECTION TEXT:"):
			return "Section summary.", nil
		default:
			return "Chunk summary.", nil
		}
	})

	summ := newTestSummarizer(client, Config{})
	chunks := make([]chunking.Chunk, 12)
	for i := range chunks {
		chunks[i] = chunking.Chunk{Index: i, Text: fmt.Sprintf("body %d", i)}
	}

	result, err := summ.Summarize(context.Background(), chunks)

	require.NoError(t, err)
	require.Len(t, result.ChunkSummaries, 12)
	require.Len(t, result.SectionSummaries, 3)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, result.SectionSummaries[0].ChunkIndices)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, result.SectionSummaries[1].ChunkIndices)
	assert.Equal(t, []int{10, 11}, result.SectionSummaries[2].ChunkIndices)
	// 12 chunk calls, 3 section calls, 1 global call.
	assert.Equal(t, 16, client.CallCount())
}

func TestSummarizer_Summarize_ChunkFailureSentinel(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(req llm.InvokeRequest) (string, error) {
		if strings.Contains(req.Prompt, "bravo chunk body") {
			return "", errors.New("model unavailable")
		}
		switch {
		case strings.Contains(req.Prompt, "SECTION SUMMARIES:"):
			return "Global summary.", nil
		case strings.Contains(req.Prompt, "SECTION TEXT:"):
			return "Section summary.", nil
		default:
			return "Summary of chunk zero.", nil
		}
	})

	summ := newTestSummarizer(client, Config{})
	result, err := summ.Summarize(context.Background(), []chunking.Chunk{
		{Index: 0, Text: "alpha chunk body"},
		{Index: 1, Text: "bravo chunk body"},
	})

	require.NoError(t, err)
	require.Len(t, result.ChunkSummaries, 2)
	assert.Equal(t, "[SUMMARY ERROR for chunk 1]", result.ChunkSummaries[1].Content)
	assert.Zero(t, result.ChunkSummaries[1].ConfidenceScore)
	assert.Equal(t, []int{1}, result.ChunkSummaries[1].ChunkIndices)
	assert.Equal(t, "Global summary.", result.GlobalSummary)
}

func TestSummarizer_Summarize_SectionFailureSentinel(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(req llm.InvokeRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "SECTION SUMMARIES:"):
			return "Global summary.", nil
		case strings.Contains(req.Prompt, "SECTION TEXT:"):
			return "", errors.New("model unavailable")
		default:
			return "Chunk summary.", nil
		}
	})

	summ := newTestSummarizer(client, Config{})
	result, err := summ.Summarize(context.Background(), []chunking.Chunk{
		{Index: 0, Text: "alpha chunk body"},
		{Index: 1, Text: "bravo chunk body"},
	})

	require.NoError(t, err)
	require.Len(t, result.SectionSummaries, 1)
	assert.Equal(t, "[SECTION SUMMARY ERROR]", result.SectionSummaries[0].Content)
	assert.Zero(t, result.SectionSummaries[0].ConfidenceScore)
	assert.Equal(t, []int{0, 1}, result.SectionSummaries[0].ChunkIndices)
	assert.Equal(t, "Global summary.", result.GlobalSummary)
}

func TestSummarizer_Summarize_GlobalFailureSentinel(t *testing.T) {
	client := llm.NewMockClient("")
	client.SetRespondFunc(func(req llm.InvokeRequest) (string, error) {
		if strings.Contains(req.Prompt, "SECTION SUMMARIES:") {
			return "", errors.New("model unavailable")
		}
		return "Some summary.", nil
	})

	summ := newTestSummarizer(client, Config{})
	result, err := summ.Summarize(context.Background(), []chunking.Chunk{{Index: 0, Text: "alpha chunk body"}})

	require.NoError(t, err)
	assert.Equal(t, "[GLOBAL SUMMARY ERROR]", result.GlobalSummary)
}

func TestSummarizer_Summarize_NoChunks(t *testing.T) {
	client := llm.NewMockClient("")
	summ := newTestSummarizer(client, Config{})

	result, err := summ.Summarize(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, "No content to summarize.", result.GlobalSummary)
	assert.Empty(t, result.ChunkSummaries)
	assert.Empty(t, result.SectionSummaries)
	assert.Zero(t, client.CallCount())
	assert.Zero(t, result.TokensUsed)
}

func TestSummarizer_Summarize_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := llm.NewMockClient("Some summary.")
	summ := newTestSummarizer(client, Config{})

	result, err := summ.Summarize(ctx, []chunking.Chunk{{Index: 0, Text: "alpha chunk body"}})

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}
