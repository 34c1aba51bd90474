package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

func TestLogIsWrittenAsynchronously(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	s := New(repo, 10)

	user := "viewer-1"
	page := 2
	s.Log(models.AccessLogEntry{DocumentID: "d", UserID: &user, PageNumber: &page, Action: models.ActionView, TimeSpent: 4})
	s.Log(models.AccessLogEntry{DocumentID: "d", UserID: &user, Action: models.ActionSearch})
	s.Shutdown()

	stats, err := s.Stats(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAccesses)
	assert.Equal(t, 1, stats.UniqueViewers)
	assert.Equal(t, 4, stats.TotalTimeSpent)
	assert.Equal(t, []models.PageViews{{PageNumber: 2, Views: 1}}, stats.TopPages)
	require.Len(t, stats.ViewsByDate, 1)
}

type brokenRepo struct {
	*database.MemoryRepository
}

func (brokenRepo) InsertAccessLog(ctx context.Context, e *models.AccessLogEntry) error {
	return errors.New("database is down")
}

func TestLogNeverFailsTheCaller(t *testing.T) {
	s := New(brokenRepo{database.NewMemoryRepository()}, 1)
	assert.NotPanics(t, func() {
		for i := 0; i < 50; i++ {
			s.Log(models.AccessLogEntry{DocumentID: "d", Action: models.ActionView})
		}
	})
	s.Shutdown()

	// After shutdown events are dropped silently.
	assert.NotPanics(t, func() { s.Log(models.AccessLogEntry{DocumentID: "d", Action: models.ActionView}) })
	s.Shutdown()
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	s := New(repo, 10)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Log(models.AccessLogEntry{DocumentID: "d", Action: models.ActionView, CreatedAt: now.Add(-100 * 24 * time.Hour)})
	s.Log(models.AccessLogEntry{DocumentID: "d", Action: models.ActionView, CreatedAt: now.Add(-time.Hour)})
	s.Shutdown()

	n, err := s.Prune(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := s.Stats(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAccesses)
}
