// Package storage provides byte storage for uploaded PDFs and rendered
// page images.
//
// Go Pattern: The pipeline depends only on the small BlobStore interface.
// Concrete backends (local disk, S3/MinIO, Google Cloud Storage, memory)
// are chosen once at startup from configuration, so services never know
// where bytes actually live.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/config"
	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// ErrNotFound is returned by every backend when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// BlobStore stores opaque bytes by key. Keys use forward slashes.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete is idempotent: deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// OriginalKey is where new uploads are written.
func OriginalKey(documentID string) string {
	return path.Join("documents", documentID, "original.pdf")
}

// PageKey is the key of a page image rendered at the default size.
func PageKey(documentID string, page int, format string) string {
	return path.Join("documents", documentID, "pages", fmt.Sprintf("%d.%s", page, format))
}

// ThumbnailKey is the key of a page thumbnail.
func ThumbnailKey(documentID string, page int, format string) string {
	return path.Join("documents", documentID, "thumbs", fmt.Sprintf("%d.%s", page, format))
}

// candidateKeys lists every key under which a document's source PDF may
// have been stored, most likely first. Older uploads used filesystem-style
// paths ("/uploads/x.pdf") and a temp area ("temp/<id>.pdf"); provider
// uploads use OriginalKey.
func candidateKeys(doc *models.Document) []string {
	var keys []string
	seen := map[string]bool{}
	add := func(k string) {
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	direct := strings.TrimPrefix(path.Clean("/"+doc.StorageKey), "/")
	if doc.StorageKey != "" {
		add(doc.StorageKey)
		add(direct)
		add(strings.TrimPrefix(direct, "uploads/"))
		add(path.Join("temp", path.Base(direct)))
	}
	add(path.Join("temp", doc.ID+".pdf"))
	add(OriginalKey(doc.ID))
	return keys
}

// ResolveBlob loads a document's source PDF, trying each supported key
// convention in turn. A missing blob and a failing backend both surface
// as StorageError; the message tells them apart.
func ResolveBlob(ctx context.Context, store BlobStore, doc *models.Document) ([]byte, error) {
	var lastErr error
	for _, key := range candidateKeys(doc) {
		data, err := store.Get(ctx, key)
		if err == nil {
			if key != doc.StorageKey {
				logrus.WithFields(logrus.Fields{
					"document_id": doc.ID,
					"storage_key": doc.StorageKey,
					"resolved":    key,
				}).Debug("blob resolved through fallback key")
			}
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			// A backend failure is not a reason to try other names.
			return nil, docerr.Wrap(docerr.StorageError, err, "failed to read source PDF").WithDocument(doc.ID)
		}
		lastErr = err
	}
	return nil, docerr.Wrap(docerr.StorageError, lastErr, "source PDF not found under any known key").WithDocument(doc.ID)
}

// Open builds the backend selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case config.StorageGCS:
		return NewGCSStore(ctx, cfg.GCSBucket)
	case config.StorageMemory:
		return NewMemoryStore(), nil
	default:
		return NewLocalStore(cfg.StorageDir)
	}
}
