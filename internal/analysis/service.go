// Package analysis wires the document pipeline together: chunking,
// extraction, summarization, anomaly detection, and entity linking,
// folded into one persisted, cacheable result per document and option
// set.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/anomaly"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/cache"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/chunking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/confidence"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/extraction"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/linking"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/llm"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/summarize"
)

// Common errors
var (
	ErrEmptyDocument   = errors.New("document has no content")
	ErrNoStagesEnabled = errors.New("no analysis stages enabled")
	ErrNoUsableOutput  = errors.New("analysis produced no usable output")
	ErrContentTooLarge = errors.New("document content too large")
	ErrUnsupportedType = errors.New("unsupported document type")
)

// DefaultCacheTTL bounds how long completed analysis responses stay cached.
const DefaultCacheTTL = time.Hour

// DefaultJobTimeout bounds background analysis runs started by
// AnalyzeAsync.
const DefaultJobTimeout = 10 * time.Minute

// AnalyzeRequest names the document to analyze. Either DocumentID refers
// to a registered document, or Text carries inline content; when both are
// set the registered document wins.
type AnalyzeRequest struct {
	DocumentID uuid.UUID
	Text       string
	Options    storage.AnalysisOptions
}

// Response is the complete outcome of one analysis run. The same
// serialization is persisted on the analysis record, cached, and returned
// to API callers.
type Response struct {
	AnalysisID     uuid.UUID                 `json:"analysis_id"`
	DocumentID     uuid.UUID                 `json:"document_id"`
	Status         storage.AnalysisStatus    `json:"status"`
	TotalChunks    int                       `json:"total_chunks"`
	Extraction     *storage.ExtractionResult `json:"extraction,omitempty"`
	Summary        *storage.SummaryResult    `json:"summary,omitempty"`
	Anomalies      *storage.AnomalyReport    `json:"anomalies,omitempty"`
	EntityLinking  *storage.LinkingResult    `json:"entity_linking,omitempty"`
	Confidence     *confidence.Overall       `json:"confidence"`
	DegradedStages []string                  `json:"degraded_stages,omitempty"`
	TokensUsed     int                       `json:"tokens_used"`
	ProcessingTime float64                   `json:"processing_time"`
	FromCache      bool                      `json:"from_cache,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// Config holds pipeline settings. Zero values fall back to each stage's
// defaults.
type Config struct {
	Chunking          chunking.Config
	Extraction        extraction.Config
	Summarization     summarize.Config
	Anomaly           anomaly.Config
	Linking           linking.Config
	Confidence        confidence.Config
	MaxContentBytes   int64
	AllowedExtensions []string
	CacheTTL          time.Duration
	JobTimeout        time.Duration
}

// Service runs the document analysis pipeline.
type Service struct {
	logger            *observability.Logger
	repos             *storage.Repositories
	cache             cache.Client
	calculator        *confidence.Calculator
	extractor         *extraction.Orchestrator
	summarizer        *summarize.Summarizer
	detector          *anomaly.Detector
	linker            *linking.Linker
	chunking          chunking.Config
	maxContentBytes   int64
	allowedExtensions []string
	cacheTTL          time.Duration
	jobTimeout        time.Duration
}

// NewService creates the analysis service and its stage components.
func NewService(logger *observability.Logger, client llm.Client, repos *storage.Repositories, cacheClient cache.Client, cfg Config) *Service {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultMaxContentBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	calculator := confidence.NewCalculator(logger, cfg.Confidence)
	return &Service{
		logger:            logger,
		repos:             repos,
		cache:             cacheClient,
		calculator:        calculator,
		extractor:         extraction.NewOrchestrator(logger, client, calculator, cfg.Extraction),
		summarizer:        summarize.NewSummarizer(logger, client, calculator, cfg.Summarization),
		detector:          anomaly.NewDetector(logger, client, cfg.Anomaly),
		linker:            linking.NewLinker(logger, client, cfg.Linking),
		chunking:          cfg.Chunking,
		maxContentBytes:   cfg.MaxContentBytes,
		allowedExtensions: cfg.AllowedExtensions,
		cacheTTL:          cfg.CacheTTL,
		jobTimeout:        cfg.JobTimeout,
	}
}

// Ticket reports where an analysis stands after AnalyzeAsync. Response
// is set only when the result was already available and no background
// run was started.
type Ticket struct {
	AnalysisID uuid.UUID              `json:"analysis_id"`
	DocumentID uuid.UUID              `json:"document_id"`
	Status     storage.AnalysisStatus `json:"status"`
	Response   *Response              `json:"response,omitempty"`
}

// preparedRun carries everything resolved up front that the pipeline
// needs to execute.
type preparedRun struct {
	doc      *storage.Document
	text     string
	opts     storage.AnalysisOptions
	rec      *storage.AnalysisRecord
	cacheKey string
}

// Analyze runs the enabled pipeline stages over a document and returns
// the combined result. Identical content analyzed with identical options
// is served from cache or from an earlier completed run.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*Response, error) {
	prep, hit, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		return hit, nil
	}
	return s.run(ctx, prep.doc, prep.text, prep.opts, prep.rec, prep.cacheKey)
}

// AnalyzeAsync resolves the request, creates the analysis record, and
// runs the pipeline in the background. Cache and reuse hits skip the
// background run and come back completed on the ticket.
func (s *Service) AnalyzeAsync(ctx context.Context, req AnalyzeRequest) (*Ticket, error) {
	prep, hit, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		return &Ticket{
			AnalysisID: hit.AnalysisID,
			DocumentID: hit.DocumentID,
			Status:     storage.AnalysisStatusCompleted,
			Response:   hit,
		}, nil
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.jobTimeout)
		defer cancel()
		// Failures are recorded on the analysis record by run.
		_, _ = s.run(runCtx, prep.doc, prep.text, prep.opts, prep.rec, prep.cacheKey)
	}()

	return &Ticket{
		AnalysisID: prep.rec.ID,
		DocumentID: prep.doc.ID,
		Status:     storage.AnalysisStatusPending,
	}, nil
}

// prepare validates the request, resolves the document and dedup keys,
// and either finds an existing result or creates a fresh pending record.
func (s *Service) prepare(ctx context.Context, req AnalyzeRequest) (*preparedRun, *Response, error) {
	opts := req.Options
	if !opts.ExtractEntities && !opts.GenerateSummary && !opts.DetectAnomalies && !opts.LinkEntities {
		return nil, nil, ErrNoStagesEnabled
	}

	var doc *storage.Document
	text := req.Text
	if req.DocumentID != uuid.Nil {
		loaded, err := s.repos.Documents.GetByID(ctx, req.DocumentID)
		if err != nil {
			return nil, nil, err
		}
		doc = loaded
		text = doc.Content
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, ErrEmptyDocument
	}

	contentHash := contentDigest(text)
	if doc != nil {
		contentHash = doc.ContentHash
	}
	fingerprint, err := optionsFingerprint(opts)
	if err != nil {
		return nil, nil, err
	}
	cacheKey := cache.AnalysisCacheKey(contentHash, fingerprint)

	if resp := s.cachedResponse(ctx, cacheKey, req.DocumentID); resp != nil {
		return nil, resp, nil
	}
	if resp := s.reusedResponse(ctx, cacheKey, contentHash, fingerprint, req.DocumentID); resp != nil {
		return nil, resp, nil
	}

	if doc == nil {
		doc, err = s.ensureInlineDocument(ctx, text, contentHash)
		if err != nil {
			return nil, nil, err
		}
	}

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("encode analysis options: %w", err)
	}
	rec := &storage.AnalysisRecord{
		DocumentID:  doc.ID,
		ContentHash: contentHash,
		OptionsHash: fingerprint,
		Options:     optsJSON,
	}
	if err := s.repos.Analyses.Create(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("create analysis record: %w", err)
	}

	return &preparedRun{doc: doc, text: text, opts: opts, rec: rec, cacheKey: cacheKey}, nil, nil
}

// run executes the pipeline stages and drives record and document status
// transitions around them.
func (s *Service) run(ctx context.Context, doc *storage.Document, text string, opts storage.AnalysisOptions, rec *storage.AnalysisRecord, cacheKey string) (*Response, error) {
	start := time.Now()

	if err := s.repos.Analyses.MarkProcessing(ctx, rec.ID); err != nil {
		s.logger.Warn().Err(err).Str("analysis_id", rec.ID.String()).Msg("Failed to mark analysis processing")
	}
	if err := s.repos.Documents.UpdateStatus(ctx, doc.ID, storage.DocumentStatusProcessing); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("Failed to update document status")
	}

	chunks := s.chunkerFor(opts).Chunk(text)

	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("analysis_id", rec.ID.String()).
		Int("chunks", len(chunks)).
		Msg("Starting document analysis")

	var (
		extractionRes *storage.ExtractionResult
		summaryRes    *storage.SummaryResult
		anomalyRep    *storage.AnomalyReport
		linkingRes    *storage.LinkingResult
		degraded      []string
	)
	components := map[string]float64{}

	if opts.ExtractEntities {
		res, err := s.extractor.Extract(ctx, chunks)
		if err != nil {
			return nil, s.fail(ctx, doc, rec, err)
		}
		res.DocumentID = doc.ID
		extractionRes = res
		components[confidence.ComponentExtraction] = res.ConfidenceScore
		if res.ChunksProcessed == 0 {
			degraded = append(degraded, "extraction")
		}
	}

	if opts.GenerateSummary {
		res, err := s.summarizer.Summarize(ctx, chunks)
		if err != nil {
			return nil, s.fail(ctx, doc, rec, err)
		}
		res.DocumentID = doc.ID
		summaryRes = res
		components[confidence.ComponentSummary] = res.ConfidenceScore
		if !summaryUsable(res) {
			degraded = append(degraded, "summary")
		}
	}

	if opts.DetectAnomalies {
		data := &storage.ExtractedData{}
		if extractionRes != nil {
			data = &extractionRes.Data
		}
		rep, err := s.detector.Detect(ctx, data, chunks)
		if err != nil {
			return nil, s.fail(ctx, doc, rec, err)
		}
		anomalyRep = rep
		components[confidence.ComponentAnomaly] = rep.ConfidenceScore
	}

	if opts.LinkEntities {
		if extractionRes == nil {
			s.logger.Warn().
				Str("document_id", doc.ID.String()).
				Msg("Entity linking skipped without extraction output")
		} else {
			linkingRes = s.linker.Link(extractionRes.Data.Entities)
			components[confidence.ComponentLinking] = linkingRes.ConfidenceScore
		}
	}

	// A degraded stage only lowers confidence. The run fails outright when
	// neither model-backed stage produced anything to build on.
	primaryEnabled := opts.ExtractEntities || opts.GenerateSummary
	extractionUsable := extractionRes != nil && extractionRes.ChunksProcessed > 0
	summaryOK := summaryRes != nil && summaryUsable(summaryRes)
	if primaryEnabled && !extractionUsable && !summaryOK {
		return nil, s.fail(ctx, doc, rec, ErrNoUsableOutput)
	}

	overall := s.calculator.OverallFor(components)

	tokens := 0
	if extractionRes != nil {
		tokens += extractionRes.TokensUsed
	}
	if summaryRes != nil {
		tokens += summaryRes.TokensUsed
	}

	resp := &Response{
		AnalysisID:     rec.ID,
		DocumentID:     doc.ID,
		Status:         storage.AnalysisStatusCompleted,
		TotalChunks:    len(chunks),
		Extraction:     extractionRes,
		Summary:        summaryRes,
		Anomalies:      anomalyRep,
		EntityLinking:  linkingRes,
		Confidence:     overall,
		DegradedStages: degraded,
		TokensUsed:     tokens,
		ProcessingTime: time.Since(start).Seconds(),
		CreatedAt:      time.Now().UTC(),
	}

	resultDoc, err := json.Marshal(resp)
	if err != nil {
		return nil, s.fail(ctx, doc, rec, fmt.Errorf("encode analysis result: %w", err))
	}
	if err := s.repos.Analyses.Complete(ctx, rec.ID, resultDoc); err != nil {
		return nil, s.fail(ctx, doc, rec, fmt.Errorf("persist analysis result: %w", err))
	}
	if err := s.repos.Documents.MarkProcessed(ctx, doc.ID, len(chunks), overall.Score); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("Failed to mark document processed")
	}
	if err := s.cache.Set(ctx, cacheKey, resultDoc, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache analysis response")
	}

	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("analysis_id", rec.ID.String()).
		Float64("confidence", overall.Score).
		Int("degraded_stages", len(degraded)).
		Float64("duration_seconds", resp.ProcessingTime).
		Msg("Document analysis completed")

	return resp, nil
}

// Document retrieves a registered document.
func (s *Service) Document(ctx context.Context, id uuid.UUID) (*storage.Document, error) {
	return s.repos.Documents.GetByID(ctx, id)
}

// Analysis retrieves an analysis record.
func (s *Service) Analysis(ctx context.Context, id uuid.UUID) (*storage.AnalysisRecord, error) {
	return s.repos.Analyses.GetByID(ctx, id)
}

// LatestAnalysis retrieves the most recent analysis for a document.
func (s *Service) LatestAnalysis(ctx context.Context, documentID uuid.UUID) (*storage.AnalysisRecord, error) {
	return s.repos.Analyses.LatestByDocument(ctx, documentID)
}

// AnalysesForDocument lists a document's analysis runs, newest first.
func (s *Service) AnalysesForDocument(ctx context.Context, documentID uuid.UUID) ([]*storage.AnalysisRecord, error) {
	return s.repos.Analyses.ListByDocument(ctx, documentID)
}

// cachedResponse serves a prior run from the cache, or nil on any miss.
func (s *Service) cachedResponse(ctx context.Context, key string, documentID uuid.UUID) *Response {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
		}
		return nil
	}
	resp := &Response{}
	if err := json.Unmarshal(data, resp); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cached analysis")
		return nil
	}
	if documentID != uuid.Nil && resp.DocumentID != documentID {
		return nil
	}
	resp.FromCache = true
	return resp
}

// reusedResponse serves a prior completed run from storage, or nil when
// none matches. Hits are written back to the cache.
func (s *Service) reusedResponse(ctx context.Context, key, contentHash, fingerprint string, documentID uuid.UUID) *Response {
	rec, err := s.repos.Analyses.FindCompleted(ctx, contentHash, fingerprint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("Analysis reuse lookup failed")
		}
		return nil
	}
	if documentID != uuid.Nil && rec.DocumentID != documentID {
		return nil
	}
	if len(rec.Result) == 0 {
		return nil
	}
	resp := &Response{}
	if err := json.Unmarshal(rec.Result, resp); err != nil {
		s.logger.Warn().Err(err).Str("analysis_id", rec.ID.String()).Msg("Discarding undecodable stored analysis")
		return nil
	}
	if err := s.cache.Set(ctx, key, rec.Result, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache reused analysis")
	}
	resp.FromCache = true
	return resp
}

// ensureInlineDocument finds or registers the document row backing an
// inline text request.
func (s *Service) ensureInlineDocument(ctx context.Context, text, contentHash string) (*storage.Document, error) {
	doc, err := s.repos.Documents.GetByContentHash(ctx, contentHash)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up document by content hash: %w", err)
	}

	mime := "text/plain"
	doc = &storage.Document{
		Filename:    "inline.txt",
		Content:     text,
		ContentHash: contentHash,
		SizeBytes:   int64(len(text)),
		MimeType:    &mime,
	}
	if err := s.repos.Documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("register inline document: %w", err)
	}
	return doc, nil
}

// fail records the failure on both the analysis and the document, then
// returns the cause. Bookkeeping survives a cancelled request context.
func (s *Service) fail(ctx context.Context, doc *storage.Document, rec *storage.AnalysisRecord, cause error) error {
	bctx := context.WithoutCancel(ctx)
	if err := s.repos.Analyses.Fail(bctx, rec.ID, cause.Error()); err != nil {
		s.logger.Warn().Err(err).Str("analysis_id", rec.ID.String()).Msg("Failed to record analysis failure")
	}
	if err := s.repos.Documents.UpdateStatus(bctx, doc.ID, storage.DocumentStatusFailed); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("Failed to record document failure")
	}
	s.logger.Error().Err(cause).
		Str("document_id", doc.ID.String()).
		Str("analysis_id", rec.ID.String()).
		Msg("Document analysis failed")
	return cause
}

func (s *Service) chunkerFor(opts storage.AnalysisOptions) *chunking.Chunker {
	cfg := s.chunking
	if opts.MaxChunkSize > 0 {
		cfg.MaxChunkSize = opts.MaxChunkSize
	}
	if opts.OverlapSize > 0 {
		cfg.OverlapSize = opts.OverlapSize
	}
	return chunking.NewChunker(cfg)
}

func summaryUsable(res *storage.SummaryResult) bool {
	for _, item := range res.ChunkSummaries {
		if item.ConfidenceScore > 0 {
			return true
		}
	}
	return false
}

func contentDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// optionsFingerprint derives a stable hash of the option set so runs with
// different options never collide in the cache or the reuse lookup.
func optionsFingerprint(opts storage.AnalysisOptions) (string, error) {
	data, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode analysis options: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
