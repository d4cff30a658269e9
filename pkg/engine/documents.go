package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Document represents a registered document and its processing state.
type Document struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename"`
	ContentHash     string          `json:"contentHash"`
	SizeBytes       int64           `json:"sizeBytes"`
	MimeType        string          `json:"mimeType,omitempty"`
	Status          string          `json:"status"`
	TotalChunks     *int            `json:"totalChunks,omitempty"`
	ConfidenceScore *float64        `json:"confidenceScore,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	UploadedAt      time.Time       `json:"uploadedAt"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
}

// DocumentOverview is one listing row: document metadata plus the state
// of its most recent analysis, if any.
type DocumentOverview struct {
	Document
	LatestAnalysisID     string     `json:"latestAnalysisId,omitempty"`
	LatestAnalysisStatus string     `json:"latestAnalysisStatus,omitempty"`
	LastAnalyzedAt       *time.Time `json:"lastAnalyzedAt,omitempty"`
}

// DocumentList is a page of listing rows.
type DocumentList struct {
	Documents  []DocumentOverview `json:"documents"`
	TotalCount int                `json:"totalCount"`
	ComputedAt time.Time          `json:"computedAt"`
}

// RegisterDocumentRequest carries a document to register.
type RegisterDocumentRequest struct {
	Filename string         `json:"filename"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListDocumentsQuery filters a document listing. Zero values are
// omitted from the request.
type ListDocumentsQuery struct {
	Statuses      []string
	MimeTypes     []string
	MinConfidence *float64
	UploadedAfter *time.Time
	Limit         int
	Offset        int
}

// RegisterDocument uploads document content for later analysis.
func (c *Client) RegisterDocument(ctx context.Context, req RegisterDocumentRequest) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodPost, "/v1/documents", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Document retrieves a document by ID.
func (c *Client) Document(ctx context.Context, documentID string) (*Document, error) {
	var doc Document
	path := "/v1/documents/" + url.PathEscape(documentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document and all of its analyses.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	path := "/v1/documents/" + url.PathEscape(documentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListDocuments retrieves documents with their latest analysis state,
// newest upload first.
func (c *Client) ListDocuments(ctx context.Context, query ListDocumentsQuery) (*DocumentList, error) {
	params := url.Values{}
	for _, status := range query.Statuses {
		params.Add("status", status)
	}
	for _, mimeType := range query.MimeTypes {
		params.Add("mimeType", mimeType)
	}
	if query.MinConfidence != nil {
		params.Set("minConfidence", strconv.FormatFloat(*query.MinConfidence, 'f', -1, 64))
	}
	if query.UploadedAfter != nil {
		params.Set("uploadedAfter", query.UploadedAfter.Format(time.RFC3339))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}

	path := "/v1/documents"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list DocumentList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SearchDocuments performs a keyword search across filenames and
// content.
func (c *Client) SearchDocuments(ctx context.Context, keyword string, limit int) (*DocumentList, error) {
	if keyword == "" {
		return nil, fmt.Errorf("keyword is required")
	}

	params := url.Values{}
	params.Set("q", keyword)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var list DocumentList
	if err := c.do(ctx, http.MethodGet, "/v1/documents/search?"+params.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DocumentStats returns the number of documents per lifecycle status.
func (c *Client) DocumentStats(ctx context.Context) (map[string]int, error) {
	var out struct {
		StatusCounts map[string]int `json:"statusCounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/documents/stats", nil, &out); err != nil {
		return nil, err
	}
	return out.StatusCounts, nil
}
