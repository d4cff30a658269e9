package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it, so repositories can run inside or outside a transaction.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DocumentRepository handles document CRUD operations.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	if doc.Status == "" {
		doc.Status = DocumentStatusUploaded
	}
	if len(doc.Metadata) == 0 {
		doc.Metadata = json.RawMessage(`{}`)
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents (id, filename, content, content_hash, size_bytes, mime_type,
			status, total_chunks, confidence_score, metadata, uploaded_at, processed_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Filename, doc.Content, doc.ContentHash, doc.SizeBytes, doc.MimeType,
		doc.Status, doc.TotalChunks, doc.ConfidenceScore, string(doc.Metadata),
		doc.UploadedAt, doc.ProcessedAt, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, filename, content, content_hash, size_bytes, mime_type,
			status, total_chunks, confidence_score, metadata, uploaded_at, processed_at,
			created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Filename, &doc.Content, &doc.ContentHash, &doc.SizeBytes, &doc.MimeType,
		&doc.Status, &doc.TotalChunks, &doc.ConfidenceScore, &doc.Metadata,
		&doc.UploadedAt, &doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// GetByContentHash retrieves the most recent document with the given content hash.
// Used to detect re-uploads of identical content.
func (r *DocumentRepository) GetByContentHash(ctx context.Context, contentHash string) (*Document, error) {
	query := `
		SELECT id, filename, content, content_hash, size_bytes, mime_type,
			status, total_chunks, confidence_score, metadata, uploaded_at, processed_at,
			created_at, updated_at
		FROM documents
		WHERE content_hash = $1
		ORDER BY uploaded_at DESC
		LIMIT 1
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, contentHash).Scan(
		&doc.ID, &doc.Filename, &doc.Content, &doc.ContentHash, &doc.SizeBytes, &doc.MimeType,
		&doc.Status, &doc.TotalChunks, &doc.ConfidenceScore, &doc.Metadata,
		&doc.UploadedAt, &doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// List retrieves documents ordered by upload time, newest first.
func (r *DocumentRepository) List(ctx context.Context, limit, offset int) ([]*Document, error) {
	query := `
		SELECT id, filename, content, content_hash, size_bytes, mime_type,
			status, total_chunks, confidence_score, metadata, uploaded_at, processed_at,
			created_at, updated_at
		FROM documents
		ORDER BY uploaded_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		err := rows.Scan(
			&doc.ID, &doc.Filename, &doc.Content, &doc.ContentHash, &doc.SizeBytes, &doc.MimeType,
			&doc.Status, &doc.TotalChunks, &doc.ConfidenceScore, &doc.Metadata,
			&doc.UploadedAt, &doc.ProcessedAt, &doc.CreatedAt, &doc.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateStatus updates a document's lifecycle status.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error {
	query := `
		UPDATE documents
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessed records a finished analysis on the document itself: final
// status, chunk count, confidence, and the processing timestamp.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id uuid.UUID, totalChunks int, confidenceScore float64) error {
	now := time.Now()
	query := `
		UPDATE documents
		SET status = $1, total_chunks = $2, confidence_score = $3, processed_at = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		DocumentStatusCompleted, totalChunks, confidenceScore, now, now, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a document. Analyses cascade at the schema level.
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM documents WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AnalysisRepository handles analysis record operations.
type AnalysisRepository struct {
	db DB
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(db DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create creates a new analysis record in its initial state.
func (r *AnalysisRepository) Create(ctx context.Context, rec *AnalysisRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = AnalysisStatusPending
	}
	if len(rec.Options) == 0 {
		rec.Options = json.RawMessage(`{}`)
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt

	query := `
		INSERT INTO analyses (id, document_id, status, content_hash, options_hash, options,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.DocumentID, rec.Status, rec.ContentHash, rec.OptionsHash,
		string(rec.Options), rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// GetByID retrieves an analysis record by ID.
func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*AnalysisRecord, error) {
	query := `
		SELECT id, document_id, status, content_hash, options_hash, options, result,
			error, started_at, completed_at, created_at, updated_at
		FROM analyses
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// LatestByDocument retrieves the most recent analysis for a document.
func (r *AnalysisRepository) LatestByDocument(ctx context.Context, documentID uuid.UUID) (*AnalysisRecord, error) {
	query := `
		SELECT id, document_id, status, content_hash, options_hash, options, result,
			error, started_at, completed_at, created_at, updated_at
		FROM analyses
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, documentID))
}

// ListByDocument retrieves all analyses for a document, newest first.
func (r *AnalysisRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*AnalysisRecord, error) {
	query := `
		SELECT id, document_id, status, content_hash, options_hash, options, result,
			error, started_at, completed_at, created_at, updated_at
		FROM analyses
		WHERE document_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FindCompleted retrieves the most recent completed analysis for the given
// content and options hashes. The key matches the response cache key, so a
// cold cache can still reuse an earlier run.
func (r *AnalysisRepository) FindCompleted(ctx context.Context, contentHash, optionsHash string) (*AnalysisRecord, error) {
	query := `
		SELECT id, document_id, status, content_hash, options_hash, options, result,
			error, started_at, completed_at, created_at, updated_at
		FROM analyses
		WHERE content_hash = $1 AND options_hash = $2 AND status = $3
		ORDER BY completed_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, contentHash, optionsHash, AnalysisStatusCompleted))
}

// MarkProcessing transitions an analysis to the processing state.
func (r *AnalysisRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	query := `
		UPDATE analyses
		SET status = $1, started_at = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, AnalysisStatusProcessing, now, now, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete transitions an analysis to the completed state and stores its result.
func (r *AnalysisRepository) Complete(ctx context.Context, id uuid.UUID, resultDoc json.RawMessage) error {
	now := time.Now()
	query := `
		UPDATE analyses
		SET status = $1, result = $2, completed_at = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		AnalysisStatusCompleted, string(resultDoc), now, now, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail transitions an analysis to the failed state and records the failure reason.
func (r *AnalysisRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now()
	query := `
		UPDATE analyses
		SET status = $1, error = $2, completed_at = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query, AnalysisStatusFailed, reason, now, now, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AnalysisRepository) scanOne(row *sql.Row) (*AnalysisRecord, error) {
	rec, err := scanAnalysis(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// scanAnalysis reads one analysis row. The result column is nullable, so it
// goes through sql.NullString rather than straight into json.RawMessage.
func scanAnalysis(scan func(dest ...interface{}) error) (*AnalysisRecord, error) {
	rec := &AnalysisRecord{}
	var result sql.NullString
	err := scan(
		&rec.ID, &rec.DocumentID, &rec.Status, &rec.ContentHash, &rec.OptionsHash,
		&rec.Options, &result, &rec.Error, &rec.StartedAt, &rec.CompletedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	return rec, nil
}

// Repositories bundles all repositories together.
type Repositories struct {
	Documents *DocumentRepository
	Analyses  *AnalysisRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Documents: NewDocumentRepository(db),
		Analyses:  NewAnalysisRepository(db),
	}
}
