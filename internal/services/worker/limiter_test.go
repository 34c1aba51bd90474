package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

func TestLimiterBurstThenSpacing(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(5, time.Minute)
	l.now = func() time.Time { return now }
	l.lastRefill = now

	for i := 0; i < 5; i++ {
		ok, _ := l.reserve()
		require.True(t, ok, "start %d within burst", i+1)
	}
	ok, wait := l.reserve()
	assert.False(t, ok)
	assert.InDelta(t, 12*time.Second, wait, float64(time.Millisecond))

	now = now.Add(12 * time.Second)
	ok, _ = l.reserve()
	assert.True(t, ok, "one token refilled after window/limit")
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		ok, _ := l.reserve()
		require.True(t, ok)
	}
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "1"}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "2"}))
	assert.ErrorIs(t, q.Enqueue(ctx, Message{JobID: "3"}), ErrQueueFull)
	assert.Equal(t, 2, q.Len(ctx))

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", msg.JobID, "FIFO")

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx)
	if err != nil {
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
	assert.ErrorIs(t, q.Enqueue(ctx, Message{}), ErrQueueClosed)
}

type fakePruner struct {
	retention time.Duration
}

func (f *fakePruner) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 4, nil
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		require.NoError(t, repo.CreateDocument(ctx, &models.Document{ID: id, OwnerID: "o"}))
		job, _, err := repo.CreateJob(ctx, id)
		require.NoError(t, err)
		_, err = repo.StartJob(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, repo.FailJob(ctx, job.ID, "boom"))
	}

	pruner := &fakePruner{}
	s := NewSweeper(repo, pruner, RetentionOptions{KeepFailed: 1})

	assert.Equal(t, int64(2), s.SweepJobs(ctx))
	assert.Equal(t, int64(4), s.SweepAccessLogs(ctx))
	assert.Equal(t, 90*24*time.Hour, pruner.retention)

	require.NoError(t, s.Start())
	s.Stop()
}
