// Package worker runs document processing jobs in the background.
//
// Go Pattern: Goroutines and channels are Go's concurrency primitives.
// This worker pool pattern is very common in Go:
// 1. Jobs are recorded in the repository and pushed onto a queue
// 2. N worker goroutines read from the queue
// 3. HTTP handlers submit jobs and poll their status
// 4. Workers process jobs concurrently, one job per worker at a time
//
// The repository is the source of truth. The queue delivers at least once;
// a job can only move from QUEUED to PROCESSING once per attempt, so a
// duplicate delivery is dropped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/render"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/textindex"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/validator"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
)

// Inspector performs the full structural parse of a document.
type Inspector interface {
	Inspect(data []byte) (*validator.Structure, error)
}

// Deps are the collaborators a Pool needs.
type Deps struct {
	Repo      database.Repository
	Store     storage.BlobStore
	Queue     Queue
	Renderer  *render.Renderer
	Indexer   *textindex.Indexer
	Validator *validator.Validator
	Inspector Inspector
}

// Options tunes the pool. Zero values use the defaults.
type Options struct {
	Concurrency       int
	MaxRetries        int           // attempts per job, including the first
	RetryDelay        time.Duration // backoff base, doubled per attempt
	RateLimit         int           // job starts per RateWindow
	RateWindow        time.Duration
	ProcessingTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 60 * time.Second
	}
	if o.ProcessingTimeout <= 0 {
		o.ProcessingTimeout = 30 * time.Minute
	}
	return o
}

// SubmitOptions carries per-job rendering preferences.
type SubmitOptions struct {
	Format  string
	Quality string
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	deps    Deps
	opts    Options
	limiter *Limiter

	// active holds documents a worker in this process is handling right now.
	active mapset.Set[string]

	// Go Pattern: sync.WaitGroup tracks running goroutines.
	// We call wg.Add(1) when starting a worker, wg.Done() when it finishes,
	// and wg.Wait() blocks until all workers are done (used for graceful shutdown).
	wg sync.WaitGroup

	// Go Pattern: context.Context with cancel for graceful shutdown.
	// When we call cancel(), all workers' contexts are cancelled.
	ctx    context.Context
	cancel context.CancelFunc

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPool creates a new worker pool. Call Start to launch the workers.
func NewPool(deps Deps, opts Options) *Pool {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		deps:    deps,
		opts:    opts,
		limiter: NewLimiter(opts.RateLimit, opts.RateWindow),
		active:  mapset.NewSet[string](),
		ctx:     ctx,
		cancel:  cancel,
		sleep:   sleepCtx,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	log.Infof("🚀 Starting %d background workers", p.opts.Concurrency)
	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels in-flight work and waits for every worker and pending
// retry timer to exit. Jobs interrupted here stay PROCESSING and are
// picked up by Recover on the next start.
func (p *Pool) Stop() {
	log.Info("⏹️  Stopping workers...")
	p.cancel()
	p.wg.Wait()
	log.Info("✅ All workers stopped")
}

// Submit creates a job for a document and queues it. If data is non-nil
// it is first written to the document's storage key.
//
// Submitting a document that already has a QUEUED or PROCESSING job
// returns that job's id and queues nothing.
func (p *Pool) Submit(ctx context.Context, documentID string, data []byte, opts SubmitOptions) (string, error) {
	doc, err := p.deps.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}

	if data != nil {
		key := doc.StorageKey
		if key == "" {
			key = storage.OriginalKey(doc.ID)
		}
		if err := p.deps.Store.Put(ctx, key, data); err != nil {
			p.failDocument(ctx, documentID)
			return "", docerr.Wrap(docerr.StorageError, err, "failed to store document").WithDocument(documentID)
		}
	}

	job, created, err := p.deps.Repo.CreateJob(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if !created {
		log.WithFields(log.Fields{"document_id": documentID, "job_id": job.ID}).
			Info("♻️  Document already has a live job")
		return job.ID, nil
	}

	msg := Message{JobID: job.ID, DocumentID: documentID, Format: opts.Format, Quality: opts.Quality}
	if err := p.deps.Queue.Enqueue(ctx, msg); err != nil {
		p.abandon(ctx, job, err)
		return "", err
	}

	jobsTotal.WithLabelValues("queued").Inc()
	log.WithFields(log.Fields{"document_id": documentID, "job_id": job.ID}).Info("📥 Job queued")
	return job.ID, nil
}

// Resubmit creates a fresh job for a document whose previous processing
// finished (or never got a job). A document with a live job returns that
// job instead. Terminal jobs are never modified.
func (p *Pool) Resubmit(ctx context.Context, documentID string, opts SubmitOptions) (string, error) {
	doc, err := p.deps.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if live, err := p.deps.Repo.GetLiveJob(ctx, documentID); err == nil {
		return live.ID, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return "", err
	}

	if doc.Status.IsTerminal() {
		if err := p.deps.Repo.SetDocumentStatus(ctx, documentID, models.DocumentPending, true); err != nil {
			return "", fmt.Errorf("failed to reset document: %w", err)
		}
	}
	return p.Submit(ctx, documentID, nil, opts)
}

// GetJobStatus returns the polling view of a job.
func (p *Pool) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	job, err := p.deps.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &models.JobStatusResponse{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		Status:       job.Status,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
	}, nil
}

// QueueSize returns the number of queued messages.
func (p *Pool) QueueSize() int {
	return p.deps.Queue.Len(p.ctx)
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int {
	return p.opts.Concurrency
}

// Recover re-queues jobs left behind by a previous process. QUEUED jobs
// are queued again; PROCESSING jobs are put back to QUEUED, unless they
// started longer than the processing timeout ago, in which case they fail.
// A job the queue refuses is failed so the document can be resubmitted.
func (p *Pool) Recover(ctx context.Context) error {
	if rq, ok := p.deps.Queue.(*RedisQueue); ok {
		if n, err := rq.Restore(ctx); err != nil {
			log.WithError(err).Warn("⚠️  Failed to restore in-flight redis messages")
		} else if n > 0 {
			log.Infof("♻️  Restored %d in-flight messages", n)
		}
	}

	jobs, err := p.deps.Repo.ListJobsByStatus(ctx, models.JobQueued, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("failed to list live jobs: %w", err)
	}

	for _, job := range jobs {
		fields := log.Fields{"document_id": job.DocumentID, "job_id": job.ID}
		if job.Status == models.JobProcessing {
			if job.StartedAt != nil && time.Since(*job.StartedAt) > p.opts.ProcessingTimeout {
				p.fail(ctx, &job, docerr.New(docerr.ProcessingTimeout, "job did not finish before the service restarted"))
				continue
			}
			if err := p.deps.Repo.RequeueJob(ctx, job.ID, "service restarted"); err != nil {
				log.WithFields(fields).WithError(err).Warn("⚠️  Failed to requeue interrupted job")
				continue
			}
		}
		if err := p.deps.Queue.Enqueue(ctx, Message{JobID: job.ID, DocumentID: job.DocumentID}); err != nil {
			log.WithFields(fields).WithError(err).Warn("⚠️  Failed to re-enqueue job")
			p.abandon(ctx, &job, err)
			continue
		}
		log.WithFields(fields).Info("♻️  Recovered job")
	}
	return nil
}

// worker is the main loop for each worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log.Debugf("👷 Worker %d started", id)

	for {
		msg, err := p.deps.Queue.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				log.Debugf("👷 Worker %d stopped", id)
				return
			}
			log.WithError(err).Warn("⚠️  Dequeue failed")
			if p.sleep(p.ctx, time.Second) != nil {
				return
			}
			continue
		}

		if err := p.limiter.Wait(p.ctx); err != nil {
			// Shutting down; the message stays unacknowledged.
			return
		}
		p.handle(msg)
		if err := p.deps.Queue.Ack(p.ctx, msg); err != nil {
			log.WithError(err).WithField("job_id", msg.JobID).Warn("⚠️  Failed to acknowledge message")
		}
	}
}

// handle runs one delivery of a job and decides between completion, retry
// and failure.
func (p *Pool) handle(msg Message) {
	fields := log.Fields{"document_id": msg.DocumentID, "job_id": msg.JobID}

	if !p.active.Add(msg.DocumentID) {
		// Another worker has this document. The live-job invariant means
		// this is a stale duplicate delivery.
		log.WithFields(fields).Debug("Skipping duplicate delivery")
		return
	}
	defer p.active.Remove(msg.DocumentID)

	ctx := p.ctx
	job, err := p.deps.Repo.StartJob(ctx, msg.JobID)
	if err != nil {
		if !errors.Is(err, database.ErrInvalidTransition) && !errors.Is(err, database.ErrNotFound) {
			log.WithFields(fields).WithError(err).Error("❌ Failed to start job")
		}
		return
	}
	log.WithFields(fields).WithField("attempt", job.Attempts).Info("⚙️  Processing document")

	if err := p.deps.Repo.SetDocumentStatus(ctx, msg.DocumentID, models.DocumentProcessing, false); err != nil {
		p.fail(ctx, job, docerr.Wrap(docerr.StorageError, err, "document is not available for processing"))
		return
	}

	started := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, p.opts.ProcessingTimeout)
	err = p.process(jobCtx, job, msg)
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	cancel()
	jobDuration.Observe(time.Since(started).Seconds())

	if err == nil {
		jobsTotal.WithLabelValues(string(models.JobCompleted)).Inc()
		log.WithFields(fields).WithField("duration", time.Since(started).Round(time.Millisecond)).Info("✅ Document processed")
		return
	}

	if ctx.Err() != nil {
		// Pool shutdown, not a job failure. Recover picks the job up.
		log.WithFields(fields).Warn("⚠️  Job interrupted by shutdown")
		return
	}
	if timedOut {
		err = docerr.Wrap(docerr.ProcessingTimeout, err,
			fmt.Sprintf("processing exceeded %s", p.opts.ProcessingTimeout))
	}

	de := docerr.As(err).WithDocument(msg.DocumentID)
	if docerr.IsRetryable(de) && job.Attempts < p.opts.MaxRetries {
		p.retry(job, msg, de)
		return
	}
	p.fail(ctx, job, de)
}

// retry puts the job back to QUEUED and re-enqueues it after an
// exponential backoff.
func (p *Pool) retry(job *models.ProcessingJob, msg Message, cause *docerr.Error) {
	delay := p.opts.RetryDelay << (job.Attempts - 1)
	fields := log.Fields{"document_id": job.DocumentID, "job_id": job.ID, "attempt": job.Attempts, "delay": delay}

	if err := p.deps.Repo.RequeueJob(p.ctx, job.ID, cause.Error()); err != nil {
		log.WithFields(fields).WithError(err).Error("❌ Failed to requeue job")
		p.fail(p.ctx, job, cause)
		return
	}
	jobsTotal.WithLabelValues("retried").Inc()
	log.WithFields(fields).WithError(cause).Warn("🔁 Transient failure, retrying")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sleep(p.ctx, delay) != nil {
			return
		}
		msg.raw = ""
		if err := p.deps.Queue.Enqueue(p.ctx, msg); err != nil {
			log.WithFields(fields).WithError(err).Error("❌ Failed to re-enqueue job")
			p.fail(p.ctx, job, docerr.Wrap(docerr.StorageError, err, "retry could not be queued"))
		}
	}()
}

// fail marks the job and its document FAILED with a user-facing message.
func (p *Pool) fail(ctx context.Context, job *models.ProcessingJob, err error) {
	de := docerr.As(err)
	uf := docerr.UserMessage(de)
	message := fmt.Sprintf("%s: %s", uf.Title, de.Message)

	fields := log.Fields{"document_id": job.DocumentID, "job_id": job.ID, "kind": de.Kind}
	if ferr := p.deps.Repo.FailJob(ctx, job.ID, message); ferr != nil {
		log.WithFields(fields).WithError(ferr).Error("❌ Failed to mark job as failed")
	}
	p.failDocument(ctx, job.DocumentID)
	jobsTotal.WithLabelValues(string(models.JobFailed)).Inc()
	log.WithFields(fields).WithError(de).Error("❌ Document processing failed")
}

// abandon fails a job that never reached the queue. Nothing live is left
// behind, so the owner can resubmit later.
func (p *Pool) abandon(ctx context.Context, job *models.ProcessingJob, err error) {
	reason := "could not be queued: " + err.Error()
	if ferr := p.deps.Repo.FailJob(ctx, job.ID, reason); ferr != nil {
		log.WithError(ferr).WithField("job_id", job.ID).Error("❌ Failed to mark unqueued job as failed")
	}
	p.failDocument(ctx, job.DocumentID)
	jobsTotal.WithLabelValues(string(models.JobFailed)).Inc()
}

func (p *Pool) failDocument(ctx context.Context, documentID string) {
	err := p.deps.Repo.SetDocumentStatus(ctx, documentID, models.DocumentFailed, false)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		log.WithField("document_id", documentID).WithError(err).Warn("⚠️  Failed to mark document as failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
