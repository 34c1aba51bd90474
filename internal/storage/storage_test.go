package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

func TestBackendsRoundTrip(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	backends := map[string]BlobStore{
		"local":  local,
		"memory": NewMemoryStore(),
	}

	for name, store := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := PageKey("doc-1", 2, "webp")

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, key, []byte("image")))
			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("image"), got)

			require.NoError(t, store.Delete(ctx, key))
			require.NoError(t, store.Delete(ctx, key), "delete is idempotent")
			_, err = store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.pdf", []byte("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "documents/abc/original.pdf", OriginalKey("abc"))
	assert.Equal(t, "documents/abc/pages/3.png", PageKey("abc", 3, "png"))
	assert.Equal(t, "documents/abc/thumbs/1.jpeg", ThumbnailKey("abc", 1, "jpeg"))
}

func TestResolveBlobKeyConventions(t *testing.T) {
	tests := []struct {
		name      string
		storedAt  string
		storedKey string
	}{
		{"direct key", "custom/path/file.pdf", "custom/path/file.pdf"},
		{"filesystem-style path", "uploads/file.pdf", "/uploads/file.pdf"},
		{"uploads prefix stripped", "file.pdf", "uploads/file.pdf"},
		{"temp area by name", "temp/file.pdf", "/var/tmp/file.pdf"},
		{"temp area by id", "temp/doc-9.pdf", ""},
		{"provider key", "documents/doc-9/original.pdf", "s3://bucket/elsewhere.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			require.NoError(t, store.Put(context.Background(), tt.storedAt, []byte("%PDF-1.4")))

			doc := &models.Document{ID: "doc-9", StorageKey: tt.storedKey}
			data, err := ResolveBlob(context.Background(), store, doc)
			require.NoError(t, err)
			assert.Equal(t, []byte("%PDF-1.4"), data)
		})
	}
}

func TestResolveBlobMissing(t *testing.T) {
	doc := &models.Document{ID: "doc-1", StorageKey: "nowhere.pdf"}
	_, err := ResolveBlob(context.Background(), NewMemoryStore(), doc)

	require.Error(t, err)
	assert.Equal(t, docerr.StorageError, docerr.KindOf(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestResolveBlobBackendFailure(t *testing.T) {
	doc := &models.Document{ID: "doc-1", StorageKey: "a.pdf"}
	_, err := ResolveBlob(context.Background(), failingStore{NewMemoryStore()}, doc)

	require.Error(t, err)
	assert.True(t, docerr.IsRetryable(err))
	assert.NotErrorIs(t, err, ErrNotFound)
}
