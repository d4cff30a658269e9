package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/cache"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// DefaultMaxContentBytes caps registered document content at 10MB.
const DefaultMaxContentBytes = 10 << 20

// DefaultAllowedExtensions returns the text formats accepted for
// registration.
func DefaultAllowedExtensions() []string {
	return []string{".txt", ".md", ".csv"}
}

// RegisterRequest carries a document to register.
type RegisterRequest struct {
	Filename string
	Content  string
	Metadata map[string]any
}

// RegisterDocument validates and stores a document, ready for analysis.
func (s *Service) RegisterDocument(ctx context.Context, req RegisterRequest) (*storage.Document, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyDocument
	}
	if int64(len(req.Content)) > s.maxContentBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrContentTooLarge, len(req.Content), s.maxContentBytes)
	}

	filename := SanitizeFilename(req.Filename)
	if filename == "" {
		filename = "document.txt"
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.extensionAllowed(ext) {
		return nil, fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedType, ext, strings.Join(s.allowedExtensions, ", "))
	}

	var metadata json.RawMessage
	if len(req.Metadata) > 0 {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode document metadata: %w", err)
		}
		metadata = data
	}

	mime := MimeTypeFor(ext)
	doc := &storage.Document{
		Filename:    filename,
		Content:     req.Content,
		ContentHash: contentDigest(req.Content),
		SizeBytes:   int64(len(req.Content)),
		MimeType:    &mime,
		Metadata:    metadata,
	}
	if err := s.repos.Documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("filename", doc.Filename).
		Int64("size_bytes", doc.SizeBytes).
		Msg("Registered document")

	return doc, nil
}

// DeleteDocument removes a document, its analyses, and any cached
// responses for its content.
func (s *Service) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	doc, err := s.repos.Documents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repos.Documents.Delete(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		prefix := cache.CacheKey("analysis", doc.ContentHash)
		if err := s.cache.DeleteByPrefix(ctx, prefix); err != nil {
			s.logger.Warn().Err(err).Str("document_id", id.String()).Msg("Failed to invalidate cached analyses")
		}
	}

	s.logger.Info().
		Str("document_id", id.String()).
		Str("filename", doc.Filename).
		Msg("Deleted document")

	return nil
}

func (s *Service) extensionAllowed(ext string) bool {
	for _, allowed := range s.allowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-.]`)

// SanitizeFilename strips directory components and replaces anything
// outside word characters, hyphens, and dots with underscores. Names
// longer than 255 bytes are truncated ahead of the extension.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return ""
	}
	sanitized := unsafeFilenameChars.ReplaceAllString(filename, "_")
	if len(sanitized) > 255 {
		ext := filepath.Ext(sanitized)
		sanitized = sanitized[:255-len(ext)] + ext
	}
	return sanitized
}

// MimeTypeFor maps an accepted extension onto its MIME type.
func MimeTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
