package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

func newDoc(t *testing.T, r *MemoryRepository, id string) *models.Document {
	t.Helper()
	d := &models.Document{ID: id, Title: "Doc " + id, OwnerID: "owner-1", StorageKey: "documents/" + id + "/original.pdf", FileSize: 2048}
	require.NoError(t, r.CreateDocument(context.Background(), d))
	return d
}

func TestDocumentStatusOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	newDoc(t, r, "d1")

	require.NoError(t, r.SetDocumentStatus(ctx, "d1", models.DocumentProcessing, false))
	assert.ErrorIs(t, r.SetDocumentStatus(ctx, "d1", models.DocumentPending, false), ErrInvalidTransition)

	require.NoError(t, r.CompleteDocument(ctx, "d1", 3, true))
	assert.ErrorIs(t, r.SetDocumentStatus(ctx, "d1", models.DocumentProcessing, false), ErrInvalidTransition)

	// Explicit re-enqueue is the only way back.
	require.NoError(t, r.SetDocumentStatus(ctx, "d1", models.DocumentPending, true))
	d, err := r.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPending, d.Status)
	assert.Nil(t, d.ProcessedAt)
}

func TestCreateJobIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	newDoc(t, r, "d1")

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	createdCount := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, created, err := r.CreateJob(ctx, "d1")
			if !assert.NoError(t, err) {
				return
			}
			ids <- job.ID
			createdCount <- created
		}()
	}
	wg.Wait()
	close(ids)
	close(createdCount)

	unique := map[string]bool{}
	for id := range ids {
		unique[id] = true
	}
	created := 0
	for c := range createdCount {
		if c {
			created++
		}
	}
	assert.Len(t, unique, 1)
	assert.Equal(t, 1, created)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	newDoc(t, r, "d1")

	job, _, err := r.CreateJob(ctx, "d1")
	require.NoError(t, err)

	_, err = r.StartJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = r.StartJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "a processing job cannot start twice")

	require.NoError(t, r.UpdateJobProgress(ctx, job.ID, 60))
	require.NoError(t, r.UpdateJobProgress(ctx, job.ID, 30))
	got, _ := r.GetJob(ctx, job.ID)
	assert.Equal(t, 60, got.Progress, "progress never decreases")

	require.NoError(t, r.RequeueJob(ctx, job.ID, "storage hiccup"))
	got, _ = r.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobQueued, got.Status)
	assert.Equal(t, 0, got.Progress)

	started, err := r.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, started.Attempts)

	require.NoError(t, r.CompleteJob(ctx, job.ID))
	assert.ErrorIs(t, r.FailJob(ctx, job.ID, "late"), ErrInvalidTransition, "terminal jobs are immutable")

	// A new job can be created once the previous one is terminal.
	next, created, err := r.CreateJob(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, job.ID, next.ID)
}

func TestPruneJobsKeepsNewest(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	var completed []string
	for i := 0; i < 4; i++ {
		d := newDoc(t, r, string(rune('a'+i)))
		job, _, err := r.CreateJob(ctx, d.ID)
		require.NoError(t, err)
		_, err = r.StartJob(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, r.CompleteJob(ctx, job.ID))
		completed = append(completed, job.ID)
	}
	live := newDoc(t, r, "live")
	liveJob, _, err := r.CreateJob(ctx, live.ID)
	require.NoError(t, err)

	pruned, err := r.PruneJobs(ctx, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	for i, id := range completed {
		_, err := r.GetJob(ctx, id)
		if i < 2 {
			assert.ErrorIs(t, err, ErrNotFound, "oldest completed jobs are pruned")
		} else {
			assert.NoError(t, err)
		}
	}
	_, err = r.GetJob(ctx, liveJob.ID)
	assert.NoError(t, err, "live jobs are never pruned")
}

func TestDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	newDoc(t, r, "d1")
	newDoc(t, r, "d2")

	require.NoError(t, r.UpsertPage(ctx, &models.Page{DocumentID: "d1", PageNumber: 1, ImageKey: "k"}))
	require.NoError(t, r.ReplaceTextEntries(ctx, "d1", []models.TextSearchEntry{{PageNumber: 1, Content: "x"}}))
	require.NoError(t, r.InsertAccessLog(ctx, &models.AccessLogEntry{DocumentID: "d1", Action: models.ActionView}))
	require.NoError(t, r.InsertAccessLog(ctx, &models.AccessLogEntry{DocumentID: "d2", Action: models.ActionView}))
	_, _, err := r.CreateJob(ctx, "d1")
	require.NoError(t, err)

	require.NoError(t, r.DeleteDocument(ctx, "d1"))

	_, err = r.GetDocument(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
	pages, _ := r.ListPages(ctx, "d1")
	assert.Empty(t, pages)
	text, _ := r.ListTextEntries(ctx, "d1")
	assert.Empty(t, text)
	_, err = r.GetLiveJob(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := r.DocumentStats(ctx, "d2", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAccesses, "other documents keep their logs")

	assert.ErrorIs(t, r.DeleteDocument(ctx, "d1"), ErrNotFound)
}

func TestUpsertPageKeepsAttachedText(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	newDoc(t, r, "d1")

	require.NoError(t, r.UpsertPage(ctx, &models.Page{DocumentID: "d1", PageNumber: 1, ImageKey: "a"}))
	require.NoError(t, r.SetPageText(ctx, "d1", 1, "hello"))
	require.NoError(t, r.UpsertPage(ctx, &models.Page{DocumentID: "d1", PageNumber: 1, ImageKey: "b", Width: 10}))

	p, err := r.GetPage(ctx, "d1", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", p.ImageKey)
	require.NotNil(t, p.Text)
	assert.Equal(t, "hello", *p.Text)

	assert.Error(t, r.UpsertPage(ctx, &models.Page{DocumentID: "d1", PageNumber: 0}))
	assert.ErrorIs(t, r.SetPageText(ctx, "d1", 7, "x"), ErrNotFound)
}

func TestDocumentStats(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	newDoc(t, r, "d1")

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	alice, bob := "alice", "bob"
	page := func(n int) *int { return &n }

	events := []models.AccessLogEntry{
		{UserID: &alice, PageNumber: page(1), Action: models.ActionView, TimeSpent: 5, CreatedAt: day1},
		{UserID: &alice, PageNumber: page(2), Action: models.ActionView, TimeSpent: 7, CreatedAt: day1},
		{UserID: &bob, PageNumber: page(2), Action: models.ActionView, TimeSpent: 3, CreatedAt: day2},
		{UserID: &bob, Action: models.ActionSearch, CreatedAt: day2},
		{Action: models.ActionView, PageNumber: page(3), CreatedAt: day1.Add(-60 * 24 * time.Hour)},
	}
	for i := range events {
		events[i].DocumentID = "d1"
		require.NoError(t, r.InsertAccessLog(ctx, &events[i]))
	}

	stats, err := r.DocumentStats(ctx, "d1", day1.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalAccesses)
	assert.Equal(t, 2, stats.UniqueViewers)
	assert.Equal(t, 15, stats.TotalTimeSpent)
	assert.Equal(t, []models.PageViews{{PageNumber: 2, Views: 2}, {PageNumber: 1, Views: 1}, {PageNumber: 3, Views: 1}}, stats.TopPages)
	assert.Equal(t, []models.DailyViews{{Date: "2026-03-01", Views: 2}, {Date: "2026-03-02", Views: 1}}, stats.ViewsByDate)

	pruned, err := r.PruneAccessLogs(ctx, day1.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
