package integration

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// newSQLiteDB opens a migrated in-memory database. The connection pool is
// capped at one because each SQLite in-memory connection is its own
// database. Foreign keys are enabled so analyses cascade on document
// delete, matching the production DSN.
func newSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=1")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, storage.Migrate(ctx, db, "sqlite"))

	return db
}

func seedDocument(t *testing.T, repos *storage.Repositories, filename, content string) *storage.Document {
	t.Helper()

	mime := mimeFor(filename)
	doc := &storage.Document{
		Filename:    filename,
		Content:     content,
		ContentHash: fmt.Sprintf("hash-%s", filename),
		SizeBytes:   int64(len(content)),
		MimeType:    &mime,
	}
	require.NoError(t, repos.Documents.Create(context.Background(), doc))
	return doc
}

func mimeFor(filename string) string {
	if len(filename) > 3 && filename[len(filename)-3:] == ".md" {
		return "text/markdown"
	}
	return "text/plain"
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	require.GreaterOrEqual(t, applied, 2)

	require.NoError(t, storage.Migrate(ctx, db, "sqlite"))

	var rerun int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&rerun))
	assert.Equal(t, applied, rerun)
}

func TestDocumentRepositoryLifecycle(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := seedDocument(t, repos, "contract.txt", "Master services agreement between Acme Corporation and Initech.")
	require.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, storage.DocumentStatusUploaded, doc.Status)

	loaded, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, loaded.Filename)
	assert.Equal(t, doc.Content, loaded.Content)
	assert.Equal(t, doc.ContentHash, loaded.ContentHash)
	require.NotNil(t, loaded.MimeType)
	assert.Equal(t, "text/plain", *loaded.MimeType)
	assert.Nil(t, loaded.TotalChunks)
	assert.Nil(t, loaded.ProcessedAt)

	byHash, err := repos.Documents.GetByContentHash(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byHash.ID)

	require.NoError(t, repos.Documents.UpdateStatus(ctx, doc.ID, storage.DocumentStatusProcessing))
	loaded, err = repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusProcessing, loaded.Status)

	require.NoError(t, repos.Documents.MarkProcessed(ctx, doc.ID, 4, 0.87))
	loaded, err = repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.TotalChunks)
	assert.Equal(t, 4, *loaded.TotalChunks)
	require.NotNil(t, loaded.ConfidenceScore)
	assert.InDelta(t, 0.87, *loaded.ConfidenceScore, 0.001)
	assert.NotNil(t, loaded.ProcessedAt)

	require.NoError(t, repos.Documents.Delete(ctx, doc.ID))
	_, err = repos.Documents.GetByID(ctx, doc.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Mutations on missing rows surface as not found
	require.ErrorIs(t, repos.Documents.UpdateStatus(ctx, uuid.New(), storage.DocumentStatusFailed), storage.ErrNotFound)
	require.ErrorIs(t, repos.Documents.MarkProcessed(ctx, uuid.New(), 1, 0.5), storage.ErrNotFound)
	require.ErrorIs(t, repos.Documents.Delete(ctx, uuid.New()), storage.ErrNotFound)
}

func TestDocumentListPagination(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		doc := &storage.Document{
			Filename:    fmt.Sprintf("report-%d.txt", i),
			Content:     fmt.Sprintf("quarterly report %d", i),
			ContentHash: fmt.Sprintf("list-hash-%d", i),
			SizeBytes:   20,
			UploadedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repos.Documents.Create(ctx, doc))
	}

	page, err := repos.Documents.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "report-2.txt", page[0].Filename)
	assert.Equal(t, "report-1.txt", page[1].Filename)

	rest, err := repos.Documents.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "report-0.txt", rest[0].Filename)
}

func TestAnalysisRepositoryLifecycle(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := seedDocument(t, repos, "statement.txt", "Quarterly statement for review.")

	rec := &storage.AnalysisRecord{
		DocumentID:  doc.ID,
		ContentHash: doc.ContentHash,
		OptionsHash: "opts-a",
	}
	require.NoError(t, repos.Analyses.Create(ctx, rec))
	require.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, storage.AnalysisStatusPending, rec.Status)

	loaded, err := repos.Analyses.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, loaded.DocumentID)
	assert.Nil(t, loaded.StartedAt)
	assert.Nil(t, loaded.CompletedAt)
	assert.Nil(t, loaded.Error)

	require.NoError(t, repos.Analyses.MarkProcessing(ctx, rec.ID))
	loaded, err = repos.Analyses.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.AnalysisStatusProcessing, loaded.Status)
	assert.NotNil(t, loaded.StartedAt)

	require.NoError(t, repos.Analyses.Complete(ctx, rec.ID, []byte(`{"total_chunks":2}`)))
	loaded, err = repos.Analyses.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.AnalysisStatusCompleted, loaded.Status)
	assert.JSONEq(t, `{"total_chunks":2}`, string(loaded.Result))
	assert.NotNil(t, loaded.CompletedAt)

	failed := &storage.AnalysisRecord{
		DocumentID:  doc.ID,
		ContentHash: doc.ContentHash,
		OptionsHash: "opts-b",
	}
	require.NoError(t, repos.Analyses.Create(ctx, failed))
	require.NoError(t, repos.Analyses.Fail(ctx, failed.ID, "model unavailable"))
	loaded, err = repos.Analyses.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.AnalysisStatusFailed, loaded.Status)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, "model unavailable", *loaded.Error)

	latest, err := repos.Analyses.LatestByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, latest.ID)

	all, err := repos.Analyses.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, failed.ID, all[0].ID)
	assert.Equal(t, rec.ID, all[1].ID)

	_, err = repos.Analyses.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnalysisReuseLookup(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := seedDocument(t, repos, "policy.txt", "Policy document for reuse checks.")

	// A failed run with matching hashes must never be reused
	failed := &storage.AnalysisRecord{DocumentID: doc.ID, ContentHash: doc.ContentHash, OptionsHash: "reuse-opts"}
	require.NoError(t, repos.Analyses.Create(ctx, failed))
	require.NoError(t, repos.Analyses.Fail(ctx, failed.ID, "timeout"))

	_, err := repos.Analyses.FindCompleted(ctx, doc.ContentHash, "reuse-opts")
	require.ErrorIs(t, err, storage.ErrNotFound)

	completed := &storage.AnalysisRecord{DocumentID: doc.ID, ContentHash: doc.ContentHash, OptionsHash: "reuse-opts"}
	require.NoError(t, repos.Analyses.Create(ctx, completed))
	require.NoError(t, repos.Analyses.Complete(ctx, completed.ID, []byte(`{"status":"completed"}`)))

	found, err := repos.Analyses.FindCompleted(ctx, doc.ContentHash, "reuse-opts")
	require.NoError(t, err)
	assert.Equal(t, completed.ID, found.ID)

	// Different option fingerprints stay isolated
	_, err = repos.Analyses.FindCompleted(ctx, doc.ContentHash, "other-opts")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteDocumentCascadesAnalyses(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := seedDocument(t, repos, "cascade.txt", "Cascade delete target.")

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		rec := &storage.AnalysisRecord{
			DocumentID:  doc.ID,
			ContentHash: doc.ContentHash,
			OptionsHash: fmt.Sprintf("cascade-opts-%d", i),
		}
		require.NoError(t, repos.Analyses.Create(ctx, rec))
		ids = append(ids, rec.ID)
	}

	require.NoError(t, repos.Documents.Delete(ctx, doc.ID))

	for _, id := range ids {
		_, err := repos.Analyses.GetByID(ctx, id)
		require.ErrorIs(t, err, storage.ErrNotFound)
	}

	remaining, err := repos.Analyses.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDocumentViewQueryFilters(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	view := storage.NewDocumentViewRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)

	completedDoc := &storage.Document{
		Filename:    "invoice.txt",
		Content:     "Invoice for services rendered.",
		ContentHash: "view-hash-1",
		SizeBytes:   30,
		UploadedAt:  base,
	}
	require.NoError(t, repos.Documents.Create(ctx, completedDoc))
	require.NoError(t, repos.Documents.MarkProcessed(ctx, completedDoc.ID, 2, 0.9))

	rec := &storage.AnalysisRecord{DocumentID: completedDoc.ID, ContentHash: completedDoc.ContentHash, OptionsHash: "view-opts"}
	require.NoError(t, repos.Analyses.Create(ctx, rec))
	require.NoError(t, repos.Analyses.Complete(ctx, rec.ID, []byte(`{}`)))

	mdMime := "text/markdown"
	pendingDoc := &storage.Document{
		Filename:    "notes.md",
		Content:     "Meeting notes, unprocessed.",
		ContentHash: "view-hash-2",
		SizeBytes:   27,
		MimeType:    &mdMime,
		UploadedAt:  base.Add(time.Hour),
	}
	require.NoError(t, repos.Documents.Create(ctx, pendingDoc))

	// Unfiltered query returns both, newest upload first
	res, err := view.Query(ctx, storage.DocumentViewQuery{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, pendingDoc.ID, res.Documents[0].ID)
	assert.Equal(t, completedDoc.ID, res.Documents[1].ID)
	assert.Equal(t, 2, res.TotalCount)
	assert.True(t, res.CacheHint.Cacheable)
	assert.Equal(t, 5*time.Minute, res.CacheHint.TTL)
	assert.False(t, res.ComputedAt.IsZero())

	// Status filter
	res, err = view.Query(ctx, storage.DocumentViewQuery{Statuses: []storage.DocumentStatus{storage.DocumentStatusCompleted}})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, completedDoc.ID, res.Documents[0].ID)
	require.NotNil(t, res.Documents[0].LatestAnalysisID)
	assert.Equal(t, rec.ID, *res.Documents[0].LatestAnalysisID)
	require.NotNil(t, res.Documents[0].LatestAnalysisStatus)
	assert.Equal(t, storage.AnalysisStatusCompleted, *res.Documents[0].LatestAnalysisStatus)
	assert.NotNil(t, res.Documents[0].LastAnalyzedAt)
	assert.Equal(t, 2*time.Minute, res.CacheHint.TTL)

	// Mime type filter
	res, err = view.Query(ctx, storage.DocumentViewQuery{MimeTypes: []string{"text/markdown"}})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, pendingDoc.ID, res.Documents[0].ID)
	assert.Nil(t, res.Documents[0].LatestAnalysisID)

	// Confidence floor excludes the unscored document
	minConf := 0.8
	res, err = view.Query(ctx, storage.DocumentViewQuery{MinConfidence: &minConf})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, completedDoc.ID, res.Documents[0].ID)

	// Upload cutoff
	cutoff := base.Add(30 * time.Minute)
	res, err = view.Query(ctx, storage.DocumentViewQuery{UploadedAfter: &cutoff})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, pendingDoc.ID, res.Documents[0].ID)

	// Pagination
	res, err = view.Query(ctx, storage.DocumentViewQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, completedDoc.ID, res.Documents[0].ID)
}

func TestDocumentViewSearchAndStatusCounts(t *testing.T) {
	db := newSQLiteDB(t)
	repos := storage.NewRepositories(db)
	view := storage.NewDocumentViewRepository(db)
	ctx := context.Background()

	seedDocument(t, repos, "merger-agreement.txt", "Agreement covering the proposed merger of two entities.")
	seedDocument(t, repos, "minutes.txt", "Board minutes discussing the MERGER timeline.")
	other := seedDocument(t, repos, "handbook.txt", "Employee handbook, unrelated content.")
	require.NoError(t, repos.Documents.UpdateStatus(ctx, other.ID, storage.DocumentStatusFailed))

	// Keyword search is case-insensitive across filename and content
	hits, err := view.SearchByKeyword(ctx, "merger", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	hits, err = view.SearchByKeyword(ctx, "handbook", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, other.ID, hits[0].ID)

	hits, err = view.SearchByKeyword(ctx, "nonexistent-term", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	counts, err := view.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[storage.DocumentStatusUploaded])
	assert.Equal(t, 1, counts[storage.DocumentStatusFailed])
}
