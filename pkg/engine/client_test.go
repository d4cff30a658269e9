package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServerClient(t *testing.T, handler http.HandlerFunc, apiKey string) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{BaseURL: server.URL, APIKey: apiKey})
	require.NoError(t, err)
	return client
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, 60*time.Second, client.httpClient.Timeout)

	custom := &http.Client{Timeout: 5 * time.Second}
	client, err = NewClient(ClientConfig{HTTPClient: custom})
	require.NoError(t, err)
	assert.Same(t, custom, client.httpClient)
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotContentType string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Document{ID: "d1"})
	}, "secret-key")

	_, err := client.RegisterDocument(context.Background(), RegisterDocumentRequest{
		Filename: "a.txt",
		Content:  "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "application/json", gotContentType)
}

func TestRequestWithoutCredentials(t *testing.T) {
	var sawAuthHeader bool
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, sawAuthHeader = r.Header["Authorization"]
		json.NewEncoder(w).Encode(Health{Status: "ok"})
	}, "")

	_, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, sawAuthHeader)
}

func TestListDocumentsQueryEncoding(t *testing.T) {
	var gotQuery map[string][]string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(DocumentList{})
	}, "")

	minConfidence := 0.75
	uploadedAfter := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := client.ListDocuments(context.Background(), ListDocumentsQuery{
		Statuses:      []string{"completed", "failed"},
		MimeTypes:     []string{"text/plain"},
		MinConfidence: &minConfidence,
		UploadedAfter: &uploadedAfter,
		Limit:         10,
		Offset:        20,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"completed", "failed"}, gotQuery["status"])
	assert.Equal(t, []string{"text/plain"}, gotQuery["mimeType"])
	assert.Equal(t, []string{"0.75"}, gotQuery["minConfidence"])
	assert.Equal(t, []string{"2026-03-01T12:00:00Z"}, gotQuery["uploadedAfter"])
	assert.Equal(t, []string{"10"}, gotQuery["limit"])
	assert.Equal(t, []string{"20"}, gotQuery["offset"])
}

func TestListDocumentsOmitsZeroValues(t *testing.T) {
	var gotRawQuery string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(DocumentList{})
	}, "")

	_, err := client.ListDocuments(context.Background(), ListDocumentsQuery{})
	require.NoError(t, err)
	assert.Empty(t, gotRawQuery)
}

func TestAnalyzeTextSendsStageSelection(t *testing.T) {
	var gotBody map[string]any
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(AnalysisResult{Status: StatusCompleted})
	}, "")

	_, err := client.AnalyzeText(context.Background(), "some text", &AnalysisOptions{
		ExtractEntities: Bool(false),
		GenerateSummary: Bool(true),
	})
	require.NoError(t, err)

	assert.Equal(t, "some text", gotBody["content"])
	opts, ok := gotBody["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, opts["extractEntities"])
	assert.Equal(t, true, opts["generateSummary"])
	assert.NotContains(t, opts, "detectAnomalies")
}

func TestAnalyzeTextRequiresContent(t *testing.T) {
	client, err := NewClient(ClientConfig{})
	require.NoError(t, err)

	_, err = client.AnalyzeText(context.Background(), "", nil)
	assert.ErrorContains(t, err, "content is required")
}

func TestAnalyzeDocumentDistinguishesTicketFromResult(t *testing.T) {
	var calls atomic.Int32
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(Ticket{AnalysisID: "a1", DocumentID: "d1", Status: StatusPending})
			return
		}
		json.NewEncoder(w).Encode(AnalysisResult{AnalysisID: "a1", Status: StatusCompleted, FromCache: true})
	}, "")

	result, ticket, err := client.AnalyzeDocument(context.Background(), "d1", nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NotNil(t, ticket)
	assert.Equal(t, StatusPending, ticket.Status)

	result, ticket, err = client.AnalyzeDocument(context.Background(), "d1", nil)
	require.NoError(t, err)
	assert.Nil(t, ticket)
	require.NotNil(t, result)
	assert.True(t, result.FromCache)
}

func TestWaitForAnalysisPollsUntilCompleted(t *testing.T) {
	stored, err := json.Marshal(AnalysisResult{AnalysisID: "a1", Status: StatusCompleted, TotalChunks: 3})
	require.NoError(t, err)

	var polls atomic.Int32
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec := AnalysisRecord{AnalysisID: "a1", Status: StatusProcessing}
		if polls.Add(1) >= 3 {
			rec.Status = StatusCompleted
			rec.Result = stored
		}
		json.NewEncoder(w).Encode(rec)
	}, "")

	result, err := client.WaitForAnalysis(context.Background(), "a1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalChunks)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitForAnalysisReportsFailure(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AnalysisRecord{
			AnalysisID: "a1",
			Status:     StatusFailed,
			Error:      "analysis produced no usable output",
		})
	}, "")

	_, err := client.WaitForAnalysis(context.Background(), "a1", 5*time.Millisecond)
	assert.ErrorContains(t, err, "no usable output")
}

func TestWaitForAnalysisHonorsContext(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AnalysisRecord{AnalysisID: "a1", Status: StatusProcessing})
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.WaitForAnalysis(ctx, "a1", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "document not found", "detail": "no such id"}`))
	}, "")

	_, err := client.Document(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "document not found", apiErr.Message)
	assert.Equal(t, "no such id", apiErr.Detail)
	assert.Contains(t, apiErr.Error(), "document not found")
}

func TestAPIErrorFallsBackToStatusText(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}, "")

	_, err := client.Health(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
}

func TestDeleteDocumentAcceptsNoContent(t *testing.T) {
	var gotMethod, gotPath string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}, "")

	require.NoError(t, client.DeleteDocument(context.Background(), "d1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/documents/d1", gotPath)
}

func TestAnalysesForDocumentUnwrapsEnvelope(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"analyses": []AnalysisRecord{
				{AnalysisID: "a2", Status: StatusCompleted},
				{AnalysisID: "a1", Status: StatusFailed},
			},
		})
	}, "")

	recs, err := client.AnalysesForDocument(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a2", recs[0].AnalysisID)
}
