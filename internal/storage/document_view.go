// Package storage provides document overview queries with cache hints.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentViewRepository provides read-model queries over documents joined
// with their latest analysis. Content bodies are never loaded here; callers
// that need the full text go through DocumentRepository.
type DocumentViewRepository struct {
	db DB
}

// NewDocumentViewRepository creates a new document view repository.
func NewDocumentViewRepository(db DB) *DocumentViewRepository {
	return &DocumentViewRepository{db: db}
}

// DocumentViewQuery represents a filtered query against the document view.
type DocumentViewQuery struct {
	Statuses      []DocumentStatus
	MimeTypes     []string
	MinConfidence *float64
	UploadedAfter *time.Time
	Limit         int
	Offset        int
}

// DocumentOverview is one row of the view: document metadata plus the state
// of its most recent analysis, if any.
type DocumentOverview struct {
	Document
	LatestAnalysisID     *uuid.UUID      `json:"latest_analysis_id,omitempty"`
	LatestAnalysisStatus *AnalysisStatus `json:"latest_analysis_status,omitempty"`
	LastAnalyzedAt       *time.Time      `json:"last_analyzed_at,omitempty"`
}

// DocumentViewResult contains the query result with cache hints.
type DocumentViewResult struct {
	Documents  []DocumentOverview
	TotalCount int
	CacheHint  CacheHint
	ComputedAt time.Time
}

// CacheHint provides caching guidance for the result.
type CacheHint struct {
	// Cacheable indicates if the result can be cached
	Cacheable bool
	// TTL is the recommended cache duration
	TTL time.Duration
	// Key is the cache key for this result
	Key string
	// Version tracks data freshness
	Version int64
}

const documentViewSelect = `
	SELECT
		d.id, d.filename, d.content_hash, d.size_bytes, d.mime_type,
		d.status, d.total_chunks, d.confidence_score, d.metadata,
		d.uploaded_at, d.processed_at, d.created_at, d.updated_at,
		a.id, a.status, a.completed_at
	FROM documents d
	LEFT JOIN analyses a ON a.id = (
		SELECT id FROM analyses
		WHERE document_id = d.id
		ORDER BY created_at DESC
		LIMIT 1
	)
`

// Query executes a filtered document view query with cache hints.
func (r *DocumentViewRepository) Query(ctx context.Context, q DocumentViewQuery) (*DocumentViewResult, error) {
	query := documentViewSelect + "	WHERE 1 = 1"
	var args []interface{}
	argIdx := 1

	placeholder := func() string {
		p := fmt.Sprintf("$%d", argIdx)
		argIdx++
		return p
	}

	if len(q.Statuses) > 0 {
		query += " AND d.status IN ("
		for i, status := range q.Statuses {
			if i > 0 {
				query += ", "
			}
			query += placeholder()
			args = append(args, status)
		}
		query += ")"
	}

	if len(q.MimeTypes) > 0 {
		query += " AND d.mime_type IN ("
		for i, mt := range q.MimeTypes {
			if i > 0 {
				query += ", "
			}
			query += placeholder()
			args = append(args, mt)
		}
		query += ")"
	}

	if q.MinConfidence != nil {
		query += " AND d.confidence_score >= " + placeholder()
		args = append(args, *q.MinConfidence)
	}

	if q.UploadedAfter != nil {
		query += " AND d.uploaded_at >= " + placeholder()
		args = append(args, *q.UploadedAfter)
	}

	query += " ORDER BY d.uploaded_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + placeholder()
	args = append(args, limit)

	if q.Offset > 0 {
		query += " OFFSET " + placeholder()
		args = append(args, q.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []DocumentOverview
	var newest time.Time
	for rows.Next() {
		ov, err := scanOverview(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *ov)
		if ov.UpdatedAt.After(newest) {
			newest = ov.UpdatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &DocumentViewResult{
		Documents:  docs,
		TotalCount: len(docs),
		CacheHint:  r.computeCacheHint(q, newest),
		ComputedAt: time.Now(),
	}, nil
}

// SearchByKeyword performs a keyword search across filenames and content.
func (r *DocumentViewRepository) SearchByKeyword(ctx context.Context, keyword string, limit int) ([]DocumentOverview, error) {
	query := documentViewSelect + `
	WHERE UPPER(d.filename) LIKE '%' || UPPER($1) || '%'
		OR UPPER(d.content) LIKE '%' || UPPER($1) || '%'
	ORDER BY d.uploaded_at DESC
	LIMIT $2
	`
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, query, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []DocumentOverview
	for rows.Next() {
		ov, err := scanOverview(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *ov)
	}
	return docs, rows.Err()
}

// StatusCounts returns the number of documents per lifecycle status.
func (r *DocumentViewRepository) StatusCounts(ctx context.Context) (map[DocumentStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM documents
		GROUP BY status
		ORDER BY status
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[DocumentStatus]int)
	for rows.Next() {
		var status DocumentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanOverview(scan func(dest ...interface{}) error) (*DocumentOverview, error) {
	ov := &DocumentOverview{}
	err := scan(
		&ov.ID, &ov.Filename, &ov.ContentHash, &ov.SizeBytes, &ov.MimeType,
		&ov.Status, &ov.TotalChunks, &ov.ConfidenceScore, &ov.Metadata,
		&ov.UploadedAt, &ov.ProcessedAt, &ov.CreatedAt, &ov.UpdatedAt,
		&ov.LatestAnalysisID, &ov.LatestAnalysisStatus, &ov.LastAnalyzedAt,
	)
	if err != nil {
		return nil, err
	}
	return ov, nil
}

// computeCacheHint determines caching recommendations for a query.
func (r *DocumentViewRepository) computeCacheHint(q DocumentViewQuery, newest time.Time) CacheHint {
	key := "documents:view"
	for _, status := range q.Statuses {
		key += ":" + string(status)
	}
	for _, mt := range q.MimeTypes {
		key += ":" + mt
	}

	// Base TTL of 5 minutes; filtered queries churn faster.
	ttl := 5 * time.Minute
	if len(q.Statuses) > 0 || q.MinConfidence != nil {
		ttl = 2 * time.Minute
	}

	var version int64
	if !newest.IsZero() {
		version = newest.Unix()
	}

	return CacheHint{
		Cacheable: true,
		TTL:       ttl,
		Key:       key,
		Version:   version,
	}
}
