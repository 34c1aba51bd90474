// Package viewer serves documents to authenticated viewers: page images
// through the page cache and renderer, text search, statistics and
// deletion.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/analytics"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/cache"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/render"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/textindex"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
)

// Errors returned to the HTTP layer.
var (
	ErrForbidden      = errors.New("document belongs to another user")
	ErrPageOutOfRange = errors.New("page number out of range")
	ErrInvalidOptions = errors.New("invalid render options")
)

const (
	docCacheSize = 512
	docCacheTTL  = 30 * time.Second
)

// Deps are the collaborators of a Service.
type Deps struct {
	Repo      database.Repository
	Store     storage.BlobStore
	Renderer  *render.Renderer
	Cache     *cache.PageCache
	Indexer   *textindex.Indexer
	Analytics *analytics.Service
}

// Service is safe for concurrent use.
type Service struct {
	deps           Deps
	requestTimeout time.Duration
	// docs caches document metadata for the page hot path.
	docs *expirable.LRU[string, *models.Document]
}

// New creates a viewer service. requestTimeout bounds a synchronous page
// render; zero leaves only the caller's context.
func New(deps Deps, requestTimeout time.Duration) *Service {
	return &Service{
		deps:           deps,
		requestTimeout: requestTimeout,
		docs:           expirable.NewLRU[string, *models.Document](docCacheSize, nil, docCacheTTL),
	}
}

// Page is a page image ready to send.
type Page struct {
	Data        []byte
	ContentType string
	FromCache   bool
	Placeholder bool
}

// Document returns the document if viewer may read it.
func (s *Service) Document(ctx context.Context, documentID, viewer string) (*models.Document, error) {
	doc, ok := s.docs.Get(documentID)
	if !ok {
		d, err := s.deps.Repo.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		// Only finished documents are stable enough to cache.
		if d.Status.IsTerminal() {
			s.docs.Add(documentID, d)
		}
		doc = d
	}
	if doc.OwnerID != viewer {
		return nil, ErrForbidden
	}
	return doc, nil
}

// Forget drops cached metadata and rendered pages for a document. Call it
// whenever the document is reprocessed.
func (s *Service) Forget(documentID string) {
	s.docs.Remove(documentID)
	s.deps.Cache.PurgeDocument(documentID)
}

// GetPage returns page pageNumber rendered with opts. The page cache is
// checked first; on a miss the page is rendered synchronously. Rendering
// problems degrade to a placeholder image, only a missing source blob
// returns an error.
func (s *Service) GetPage(ctx context.Context, documentID string, pageNumber int, opts render.Options, viewer string) (*Page, error) {
	doc, err := s.Document(ctx, documentID, viewer)
	if err != nil {
		return nil, err
	}
	if pageNumber < 1 || (doc.TotalPages > 0 && pageNumber > doc.TotalPages) {
		return nil, ErrPageOutOfRange
	}
	opts, err = opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	key := cache.Key{
		DocumentID: documentID,
		PageNumber: pageNumber,
		Width:      opts.Width,
		Height:     opts.Height,
		Quality:    opts.Quality,
		Format:     opts.Format,
		Watermark:  opts.Watermark,
	}
	if data, ok := s.deps.Cache.Get(key); ok {
		s.logView(documentID, pageNumber, viewer)
		return &Page{Data: data, ContentType: render.ContentType(opts.Format), FromCache: true}, nil
	}

	renderCtx := ctx
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	res, err := s.deps.Renderer.RenderPage(renderCtx, doc, pageNumber, opts)
	if err != nil {
		return nil, err
	}

	if !res.Placeholder {
		// Placeholders are not cached so the next request tries again.
		s.deps.Cache.Put(key, res.Data)
		if opts.Watermark == "" {
			s.ensurePageRow(ctx, doc, pageNumber, res)
		}
	}
	s.logView(documentID, pageNumber, viewer)
	return &Page{Data: res.Data, ContentType: render.ContentType(res.Format), Placeholder: res.Placeholder}, nil
}

// ensurePageRow stores a lazily rendered page the worker has not written
// yet. Failures are only logged; the image has already been served.
func (s *Service) ensurePageRow(ctx context.Context, doc *models.Document, pageNumber int, res *render.Result) {
	_, err := s.deps.Repo.GetPage(ctx, doc.ID, pageNumber)
	if err == nil || !errors.Is(err, database.ErrNotFound) {
		return
	}
	fields := log.Fields{"document_id": doc.ID, "page": pageNumber}

	imageKey := storage.PageKey(doc.ID, pageNumber, res.Format)
	if err := s.deps.Store.Put(ctx, imageKey, res.Data); err != nil {
		log.WithFields(fields).WithError(err).Warn("⚠️  Failed to store lazily rendered page")
		return
	}
	page := &models.Page{DocumentID: doc.ID, PageNumber: pageNumber, ImageKey: imageKey, Width: res.Width, Height: res.Height}
	if err := s.deps.Repo.UpsertPage(ctx, page); err != nil {
		log.WithFields(fields).WithError(err).Warn("⚠️  Failed to save lazily rendered page")
	}
}

// Search runs a text search over the document's pages.
func (s *Service) Search(ctx context.Context, documentID, query string, opts textindex.SearchOptions, viewer string) ([]models.SearchResult, error) {
	if _, err := s.Document(ctx, documentID, viewer); err != nil {
		return nil, err
	}
	results, err := s.deps.Indexer.Search(ctx, documentID, query, opts)
	if err != nil {
		return nil, err
	}
	s.deps.Analytics.Log(models.AccessLogEntry{
		DocumentID: documentID,
		UserID:     optional(viewer),
		Action:     models.ActionSearch,
	})
	return results, nil
}

// Stats returns the document's access statistics.
func (s *Service) Stats(ctx context.Context, documentID, viewer string) (*models.DocumentStats, error) {
	if _, err := s.Document(ctx, documentID, viewer); err != nil {
		return nil, err
	}
	return s.deps.Analytics.Stats(ctx, documentID)
}

// RecordEvent logs a client-reported event (navigation, download, share).
func (s *Service) RecordEvent(ctx context.Context, documentID, viewer string, req models.RecordEventRequest) error {
	if _, err := s.Document(ctx, documentID, viewer); err != nil {
		return err
	}
	action, err := models.ParseAccessAction(req.Action)
	if err != nil {
		return err
	}
	s.deps.Analytics.Log(models.AccessLogEntry{
		DocumentID: documentID,
		UserID:     optional(viewer),
		PageNumber: req.PageNumber,
		Action:     action,
		SessionID:  req.SessionID,
		TimeSpent:  max(req.TimeSpent, 0),
	})
	return nil
}

// DeleteDocument removes the document and everything attached to it. The
// repository delete is atomic; blob cleanup afterwards is best effort.
func (s *Service) DeleteDocument(ctx context.Context, documentID, viewer string) error {
	doc, err := s.Document(ctx, documentID, viewer)
	if err != nil {
		return err
	}
	pages, err := s.deps.Repo.ListPages(ctx, documentID)
	if err != nil {
		return docerr.Wrap(docerr.StorageError, err, "failed to list pages").WithDocument(documentID)
	}

	if err := s.deps.Repo.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.Forget(documentID)

	keys := []string{doc.StorageKey}
	for _, p := range pages {
		keys = append(keys, p.ImageKey)
		if p.ThumbnailKey != nil {
			keys = append(keys, *p.ThumbnailKey)
		}
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := s.deps.Store.Delete(ctx, k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.WithFields(log.Fields{"document_id": documentID, "key": k}).WithError(err).Warn("⚠️  Failed to delete blob")
		}
	}
	log.WithField("document_id", documentID).Info("🗑️  Document deleted")
	return nil
}

func (s *Service) logView(documentID string, pageNumber int, viewer string) {
	s.deps.Analytics.Log(models.AccessLogEntry{
		DocumentID: documentID,
		UserID:     optional(viewer),
		PageNumber: &pageNumber,
		Action:     models.ActionView,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
