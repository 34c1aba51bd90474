package textindex

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// Search limits.
const (
	DefaultLimit   = 20
	MaxLimit       = 100
	MaxSnippetLen  = 200
	snippetLeadLen = 60
)

// SearchOptions controls a search.
type SearchOptions struct {
	CaseSensitive bool
	Limit         int
	Offset        int
}

// Indexer stores extracted text and searches it.
type Indexer struct {
	repo database.Repository
}

// NewIndexer creates an Indexer backed by repo.
func NewIndexer(repo database.Repository) *Indexer {
	return &Indexer{repo: repo}
}

// Index replaces the document's search entries with pages. Pages without
// text get no entry. Text is also attached to existing page rows. It
// returns the number of pages indexed.
func (ix *Indexer) Index(ctx context.Context, documentID string, pages []PageText) (int, error) {
	entries := make([]models.TextSearchEntry, 0, len(pages))
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		entries = append(entries, models.TextSearchEntry{
			DocumentID: documentID,
			PageNumber: p.PageNumber,
			Content:    p.Text,
		})
	}

	if err := ix.repo.ReplaceTextEntries(ctx, documentID, entries); err != nil {
		return 0, docerr.Wrap(docerr.StorageError, err, "failed to store text index").WithDocument(documentID)
	}

	for _, e := range entries {
		err := ix.repo.SetPageText(ctx, documentID, e.PageNumber, e.Content)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			log.WithFields(log.Fields{"document_id": documentID, "page": e.PageNumber}).
				WithError(err).Warn("⚠️  Failed to attach text to page")
		}
	}
	return len(entries), nil
}

// Search finds pages whose text contains query. Results are ordered by
// page number and carry a snippet of at most MaxSnippetLen characters
// around the first match.
func (ix *Indexer) Search(ctx context.Context, documentID, query string, opts SearchOptions) ([]models.SearchResult, error) {
	query = normalizeSpace(query)
	if query == "" {
		return []models.SearchResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	offset := max(opts.Offset, 0)

	entries, err := ix.repo.ListTextEntries(ctx, documentID)
	if err != nil {
		return nil, docerr.Wrap(docerr.StorageError, err, "failed to load text index").WithDocument(documentID)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PageNumber < entries[j].PageNumber })

	needle := query
	if !opts.CaseSensitive {
		needle = fold(query)
	}

	results := []models.SearchResult{}
	skipped := 0
	for _, e := range entries {
		content := normalizeSpace(e.Content)
		haystack := content
		if !opts.CaseSensitive {
			haystack = fold(content)
		}

		count := strings.Count(haystack, needle)
		if count == 0 {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}

		// fold keeps the rune count, so rune offsets in haystack match content.
		at := utf8.RuneCountInString(haystack[:strings.Index(haystack, needle)])
		results = append(results, models.SearchResult{
			PageNumber: e.PageNumber,
			Snippet:    snippet(content, at, utf8.RuneCountInString(needle)),
			Matches:    count,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// fold lower-cases rune by rune so positions stay aligned with the input.
func fold(s string) string {
	return strings.Map(unicode.ToLower, s)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// snippet cuts a window of at most MaxSnippetLen runes around the match at
// rune offset at.
func snippet(content string, at, matchLen int) string {
	runes := []rune(content)
	if len(runes) <= MaxSnippetLen {
		return content
	}
	start := max(0, at-snippetLeadLen)
	if matchLen > MaxSnippetLen-snippetLeadLen {
		start = at
	}
	end := min(len(runes), start+MaxSnippetLen)
	if end-start < MaxSnippetLen {
		start = max(0, end-MaxSnippetLen)
	}
	return string(runes[start:end])
}
