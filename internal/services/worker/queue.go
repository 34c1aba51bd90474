package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned when the in-memory queue cannot take more jobs.
var ErrQueueFull = errors.New("job queue is full; try again later")

// ErrQueueClosed is returned by Dequeue once the queue has been closed.
var ErrQueueClosed = errors.New("job queue closed")

// Message is what travels through the queue. The job row in the
// repository stays the source of truth; a message only points at it.
type Message struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Format     string `json:"format,omitempty"`
	Quality    string `json:"quality,omitempty"`

	raw string // original payload, used to acknowledge redis messages
}

// Queue delivers each message at least once. Consumers acknowledge a
// message after handling it; duplicates are filtered by the job state
// machine (a job can only be started from QUEUED).
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (Message, error)
	Ack(ctx context.Context, msg Message) error
	Len(ctx context.Context) int
	Close() error
}

// MemoryQueue is a buffered channel. Messages are lost on restart; the
// pool's startup recovery re-enqueues live jobs from the repository.
type MemoryQueue struct {
	// Go Pattern: This buffered channel acts as our job queue.
	// Buffered means it can hold `size` jobs before Enqueue fails.
	ch        chan Message
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryQueue creates an in-process queue holding up to size messages.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 100
	}
	return &MemoryQueue{ch: make(chan Message, size), done: make(chan struct{})}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message) error {
	// Go Pattern: `select` with `default` makes channel operations non-blocking.
	// Without default, sending to a full channel would block the HTTP handler.
	select {
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return Message{}, ErrQueueClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, msg Message) error { return nil }

func (q *MemoryQueue) Len(ctx context.Context) int { return len(q.ch) }

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// Redis list names.
const (
	redisPendingList    = "docview:jobs:pending"
	redisProcessingList = "docview:jobs:processing"
	redisPollTimeout    = 2 * time.Second
)

// RedisQueue is a reliable list queue: BLMOVE moves a message from the
// pending list to the processing list atomically, and Ack removes it from
// there. Messages left in the processing list by a crashed process are
// moved back by Restore.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue connects to the redis server at url (redis://host:port/db).
func NewRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, redisPendingList, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Message, error) {
	for {
		raw, err := q.client.BLMove(ctx, redisPendingList, redisProcessingList, "RIGHT", "LEFT", redisPollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("redis dequeue: %w", err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			// Unreadable payloads would block the processing list forever.
			q.client.LRem(ctx, redisProcessingList, 1, raw)
			return Message{}, fmt.Errorf("invalid queue payload: %w", err)
		}
		msg.raw = raw
		return msg, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, msg Message) error {
	if msg.raw == "" {
		return nil
	}
	return q.client.LRem(ctx, redisProcessingList, 1, msg.raw).Err()
}

func (q *RedisQueue) Len(ctx context.Context) int {
	n, err := q.client.LLen(ctx, redisPendingList).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Restore moves messages stranded in the processing list back to pending.
func (q *RedisQueue) Restore(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, redisProcessingList, redisPendingList, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
