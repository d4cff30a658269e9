// Package summarize builds hierarchical document summaries. Chunk
// summaries run in bounded concurrent batches, contiguous groups of
// chunk summaries roll up into section summaries, and the sections
// roll up into a single global summary.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/confidence"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

const (
	// DefaultBatchSize bounds concurrent chunk-summary calls.
	DefaultBatchSize = 5
	// DefaultSectionSize is how many chunk summaries form one section.
	DefaultSectionSize = 5

	summaryTemperature      = 0.3
	defaultSummaryMaxTokens = 2000

	itemConfidence = 0.8

	emptyDocumentSummary = "No content to summarize."
)

const chunkPromptTemplate = `Provide a concise summary of the following text chunk:

TEXT CHUNK (Index: %d):
%s

SUMMARY:`

const sectionPromptTemplate = `Provide a coherent summary of the following section composed of multiple text segments:

SECTION TEXT:
%s

SECTION SUMMARY:`

const globalPromptTemplate = `Provide a comprehensive yet concise global summary of the entire document based on the following section summaries:

SECTION SUMMARIES:
%s

GLOBAL SUMMARY:`

// Config holds summarizer settings.
type Config struct {
	BatchSize   int
	SectionSize int
	MaxTokens   int
}

// Summarizer produces chunk, section, and global summaries. A failed
// call yields an error-sentinel item with zero confidence instead of
// failing the run.
type Summarizer struct {
	logger      *observability.Logger
	client      llm.Client
	calculator  *confidence.Calculator
	batchSize   int
	sectionSize int
	maxTokens   int
}

// NewSummarizer creates a hierarchical summarizer.
func NewSummarizer(logger *observability.Logger, client llm.Client, calculator *confidence.Calculator, cfg Config) *Summarizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SectionSize <= 0 {
		cfg.SectionSize = DefaultSectionSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultSummaryMaxTokens
	}
	return &Summarizer{
		logger:      logger,
		client:      client,
		calculator:  calculator,
		batchSize:   cfg.BatchSize,
		sectionSize: cfg.SectionSize,
		maxTokens:   cfg.MaxTokens,
	}
}

// Summarize runs the three-tier summarization over the chunk sequence.
func (s *Summarizer) Summarize(ctx context.Context, chunks []chunking.Chunk) (*storage.SummaryResult, error) {
	start := time.Now()

	s.logger.Info().Int("chunks", len(chunks)).Msg("Starting hierarchical summarization")

	var tokens int

	chunkSummaries, err := s.chunkSummaries(ctx, chunks, &tokens)
	if err != nil {
		return nil, err
	}

	sectionSummaries, err := s.sectionSummaries(ctx, chunkSummaries, &tokens)
	if err != nil {
		return nil, err
	}

	globalSummary, err := s.globalSummary(ctx, sectionSummaries, &tokens)
	if err != nil {
		return nil, err
	}

	result := &storage.SummaryResult{
		ID:               uuid.New(),
		GlobalSummary:    globalSummary,
		SectionSummaries: sectionSummaries,
		ChunkSummaries:   chunkSummaries,
		TokensUsed:       tokens,
		ProcessingTime:   time.Since(start).Seconds(),
		CreatedAt:        time.Now().UTC(),
	}

	originalLength := 0
	for _, chunk := range chunks {
		originalLength += len(chunk.Text)
	}
	result.ConfidenceScore = s.calculator.Summary(result, originalLength, len(chunks), 0).Score

	s.logger.Info().
		Int("chunk_summaries", len(chunkSummaries)).
		Int("section_summaries", len(sectionSummaries)).
		Int("tokens_used", tokens).
		Float64("confidence", result.ConfidenceScore).
		Msg("Hierarchical summarization completed")

	return result, nil
}

// chunkSummaries summarizes every chunk in bounded concurrent batches,
// keeping input order in the returned slice.
func (s *Summarizer) chunkSummaries(ctx context.Context, chunks []chunking.Chunk, tokens *int) ([]storage.SummaryItem, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	items := make([]storage.SummaryItem, len(chunks))
	tokensByChunk := make([]int, len(chunks))

	for batchStart := 0; batchStart < len(chunks); batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}

		var wg sync.WaitGroup
		for pos := batchStart; pos < batchEnd; pos++ {
			wg.Add(1)
			go func(pos int, chunk chunking.Chunk) {
				defer wg.Done()
				items[pos], tokensByChunk[pos] = s.summarizeChunk(ctx, chunk)
			}(pos, chunks[pos])
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	for _, used := range tokensByChunk {
		*tokens += used
	}
	return items, nil
}

func (s *Summarizer) summarizeChunk(ctx context.Context, chunk chunking.Chunk) (storage.SummaryItem, int) {
	reply, err := s.client.Invoke(ctx, llm.InvokeRequest{
		Prompt:      fmt.Sprintf(chunkPromptTemplate, chunk.Index, chunk.Text),
		Temperature: summaryTemperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		s.logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Chunk summary failed")
		return storage.SummaryItem{
			Level:           storage.SummaryLevelChunk,
			Content:         fmt.Sprintf("[SUMMARY ERROR for chunk %d]", chunk.Index),
			ConfidenceScore: 0,
			ChunkIndices:    []int{chunk.Index},
		}, 0
	}

	return storage.SummaryItem{
		Level:           storage.SummaryLevelChunk,
		Content:         strings.TrimSpace(reply.Content),
		ConfidenceScore: itemConfidence,
		ChunkIndices:    []int{chunk.Index},
	}, reply.TokensIn + reply.TokensOut
}

// sectionSummaries rolls contiguous groups of chunk summaries into
// section summaries, one model call per section in order.
func (s *Summarizer) sectionSummaries(ctx context.Context, chunkSummaries []storage.SummaryItem, tokens *int) ([]storage.SummaryItem, error) {
	if len(chunkSummaries) == 0 {
		return nil, nil
	}

	var sections []storage.SummaryItem
	for groupStart := 0; groupStart < len(chunkSummaries); groupStart += s.sectionSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		groupEnd := groupStart + s.sectionSize
		if groupEnd > len(chunkSummaries) {
			groupEnd = len(chunkSummaries)
		}
		group := chunkSummaries[groupStart:groupEnd]

		contents := make([]string, len(group))
		indices := make([]int, len(group))
		for i, item := range group {
			contents[i] = item.Content
			indices[i] = item.ChunkIndices[0]
		}

		reply, err := s.client.Invoke(ctx, llm.InvokeRequest{
			Prompt:      fmt.Sprintf(sectionPromptTemplate, strings.Join(contents, "\n\n")),
			Temperature: summaryTemperature,
			MaxTokens:   s.maxTokens,
		})
		if err != nil {
			s.logger.Warn().Err(err).Int("section", len(sections)).Msg("Section summary failed")
			sections = append(sections, storage.SummaryItem{
				Level:           storage.SummaryLevelSection,
				Content:         "[SECTION SUMMARY ERROR]",
				ConfidenceScore: 0,
				ChunkIndices:    indices,
			})
			continue
		}

		*tokens += reply.TokensIn + reply.TokensOut
		sections = append(sections, storage.SummaryItem{
			Level:           storage.SummaryLevelSection,
			Content:         strings.TrimSpace(reply.Content),
			ConfidenceScore: itemConfidence,
			ChunkIndices:    indices,
		})
	}

	s.logger.Debug().Int("sections", len(sections)).Msg("Section summaries generated")
	return sections, nil
}

// globalSummary rolls the section summaries into one document summary.
func (s *Summarizer) globalSummary(ctx context.Context, sectionSummaries []storage.SummaryItem, tokens *int) (string, error) {
	if len(sectionSummaries) == 0 {
		return emptyDocumentSummary, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	contents := make([]string, len(sectionSummaries))
	for i, item := range sectionSummaries {
		contents[i] = item.Content
	}

	reply, err := s.client.Invoke(ctx, llm.InvokeRequest{
		Prompt:      fmt.Sprintf(globalPromptTemplate, strings.Join(contents, "\n\n")),
		Temperature: summaryTemperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Global summary failed")
		return "[GLOBAL SUMMARY ERROR]", nil
	}

	*tokens += reply.TokensIn + reply.TokensOut
	return strings.TrimSpace(reply.Content), nil
}
