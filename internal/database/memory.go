package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// MemoryURL selects MemoryRepository instead of Postgres.
const MemoryURL = "memory://"

// MemoryRepository is a Repository kept entirely in process memory. It
// follows the same transition rules as the Postgres implementation and is
// used by tests and by single-node runs with DATABASE_URL=memory://.
type MemoryRepository struct {
	mu        sync.Mutex
	documents map[string]*models.Document
	pages     map[string]map[int]*models.Page
	jobs      map[string]*models.ProcessingJob
	text      map[string][]models.TextSearchEntry
	logs      []models.AccessLogEntry

	now func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		documents: make(map[string]*models.Document),
		pages:     make(map[string]map[int]*models.Page),
		jobs:      make(map[string]*models.ProcessingJob),
		text:      make(map[string][]models.TextSearchEntry),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source (tests only).
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

// --- Documents ---

func (r *MemoryRepository) CreateDocument(ctx context.Context, d *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := r.documents[d.ID]; exists {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	if d.Status == "" {
		d.Status = models.DocumentPending
	}
	d.CreatedAt = r.now()
	d.UpdatedAt = d.CreatedAt

	cp := *d
	r.documents[d.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, reset bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if !d.Status.CanTransition(status, reset) {
		return fmt.Errorf("document %s %s -> %s: %w", id, d.Status, status, ErrInvalidTransition)
	}
	d.Status = status
	if reset {
		d.ProcessedAt = nil
	}
	d.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) CompleteDocument(ctx context.Context, id string, totalPages int, textExtracted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if d.Status != models.DocumentProcessing {
		return fmt.Errorf("document %s is not processing: %w", id, ErrInvalidTransition)
	}
	now := r.now()
	d.Status = models.DocumentCompleted
	d.TotalPages = totalPages
	d.TextExtracted = textExtracted
	d.ProcessedAt = &now
	d.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) DeleteDocument(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	// Holding the lock for the whole cascade makes it atomic to readers.
	delete(r.documents, id)
	delete(r.pages, id)
	delete(r.text, id)
	for jid, j := range r.jobs {
		if j.DocumentID == id {
			delete(r.jobs, jid)
		}
	}
	kept := r.logs[:0]
	for _, e := range r.logs {
		if e.DocumentID != id {
			kept = append(kept, e)
		}
	}
	r.logs = kept
	return nil
}

// --- Pages ---

func (r *MemoryRepository) UpsertPage(ctx context.Context, p *models.Page) error {
	if p.PageNumber < 1 {
		return fmt.Errorf("page numbers start at 1, got %d", p.PageNumber)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[p.DocumentID]; !ok {
		return fmt.Errorf("document %s: %w", p.DocumentID, ErrNotFound)
	}

	byNum := r.pages[p.DocumentID]
	if byNum == nil {
		byNum = make(map[int]*models.Page)
		r.pages[p.DocumentID] = byNum
	}

	cp := *p
	if existing, ok := byNum[p.PageNumber]; ok {
		cp.CreatedAt = existing.CreatedAt
		if cp.ThumbnailKey == nil {
			cp.ThumbnailKey = existing.ThumbnailKey
		}
		if cp.Text == nil {
			cp.Text = existing.Text
		}
		if cp.WordBounds == nil {
			cp.WordBounds = existing.WordBounds
		}
	} else {
		cp.CreatedAt = r.now()
	}
	byNum[p.PageNumber] = &cp
	p.CreatedAt = cp.CreatedAt
	return nil
}

func (r *MemoryRepository) GetPage(ctx context.Context, documentID string, pageNumber int) (*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[documentID][pageNumber]
	if !ok {
		return nil, fmt.Errorf("page %d of document %s: %w", pageNumber, documentID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) ListPages(ctx context.Context, documentID string) ([]models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := make([]models.Page, 0, len(r.pages[documentID]))
	for _, p := range r.pages[documentID] {
		pages = append(pages, *p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

func (r *MemoryRepository) SetPageText(ctx context.Context, documentID string, pageNumber int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[documentID][pageNumber]
	if !ok {
		return fmt.Errorf("page %d of document %s: %w", pageNumber, documentID, ErrNotFound)
	}
	t := text
	p.Text = &t
	return nil
}

// --- Jobs ---

func (r *MemoryRepository) liveJobLocked(documentID string) *models.ProcessingJob {
	for _, j := range r.jobs {
		if j.DocumentID == documentID && j.Status.IsLive() {
			return j
		}
	}
	return nil
}

func (r *MemoryRepository) CreateJob(ctx context.Context, documentID string) (*models.ProcessingJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[documentID]; !ok {
		return nil, false, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	if live := r.liveJobLocked(documentID); live != nil {
		cp := *live
		return &cp, false, nil
	}

	job := &models.ProcessingJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     models.JobQueued,
		CreatedAt:  r.now(),
	}
	r.jobs[job.ID] = job
	cp := *job
	return &cp, true, nil
}

func (r *MemoryRepository) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) GetLiveJob(ctx context.Context, documentID string) (*models.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.liveJobLocked(documentID)
	if live == nil {
		return nil, fmt.Errorf("live job for document %s: %w", documentID, ErrNotFound)
	}
	cp := *live
	return &cp, nil
}

func (r *MemoryRepository) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.ProcessingJob, error) {
	want := mapset.NewSet(statuses...)
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []models.ProcessingJob
	for _, j := range r.jobs {
		if want.Contains(j.Status) {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, nil
}

func (r *MemoryRepository) StartJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != models.JobQueued {
		return nil, fmt.Errorf("job %s is not queued: %w", id, ErrInvalidTransition)
	}
	now := r.now()
	j.Status = models.JobProcessing
	j.Progress = 0
	j.Attempts++
	j.StartedAt = &now
	j.ErrorMessage = ""
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != models.JobProcessing {
		return nil
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

func (r *MemoryRepository) RequeueJob(ctx context.Context, id string, reason string) error {
	return r.transition(id, func(j *models.ProcessingJob) bool {
		if j.Status != models.JobProcessing {
			return false
		}
		j.Status = models.JobQueued
		j.Progress = 0
		j.ErrorMessage = reason
		return true
	})
}

func (r *MemoryRepository) CompleteJob(ctx context.Context, id string) error {
	return r.transition(id, func(j *models.ProcessingJob) bool {
		if j.Status != models.JobProcessing {
			return false
		}
		now := r.now()
		j.Status = models.JobCompleted
		j.Progress = 100
		j.ErrorMessage = ""
		j.CompletedAt = &now
		return true
	})
}

func (r *MemoryRepository) FailJob(ctx context.Context, id string, message string) error {
	return r.transition(id, func(j *models.ProcessingJob) bool {
		if !j.Status.IsLive() {
			return false
		}
		now := r.now()
		j.Status = models.JobFailed
		j.ErrorMessage = message
		j.CompletedAt = &now
		return true
	})
}

func (r *MemoryRepository) transition(id string, apply func(j *models.ProcessingJob) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !apply(j) {
		return fmt.Errorf("job %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (r *MemoryRepository) PruneJobs(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned int64
	for status, keep := range map[models.JobStatus]int{
		models.JobCompleted: keepCompleted,
		models.JobFailed:    keepFailed,
	} {
		var matching []*models.ProcessingJob
		for _, j := range r.jobs {
			if j.Status == status {
				matching = append(matching, j)
			}
		}
		sort.Slice(matching, func(i, k int) bool {
			return finishedAt(matching[i]).After(finishedAt(matching[k]))
		})
		for i := keep; i < len(matching); i++ {
			delete(r.jobs, matching[i].ID)
			pruned++
		}
	}
	return pruned, nil
}

func finishedAt(j *models.ProcessingJob) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.CreatedAt
}

// --- Text entries ---

func (r *MemoryRepository) ReplaceTextEntries(ctx context.Context, documentID string, entries []models.TextSearchEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cp := make([]models.TextSearchEntry, len(entries))
	for i, e := range entries {
		e.DocumentID = documentID
		e.CreatedAt = now
		cp[i] = e
	}
	sort.Slice(cp, func(i, k int) bool { return cp[i].PageNumber < cp[k].PageNumber })
	r.text[documentID] = cp
	return nil
}

func (r *MemoryRepository) ListTextEntries(ctx context.Context, documentID string) ([]models.TextSearchEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TextSearchEntry, len(r.text[documentID]))
	copy(out, r.text[documentID])
	return out, nil
}

// --- Access logs ---

func (r *MemoryRepository) InsertAccessLog(ctx context.Context, e *models.AccessLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	r.logs = append(r.logs, *e)
	return nil
}

func (r *MemoryRepository) DocumentStats(ctx context.Context, documentID string, since time.Time) (*models.DocumentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.DocumentStats{
		DocumentID:  documentID,
		TopPages:    []models.PageViews{},
		ViewsByDate: []models.DailyViews{},
	}
	viewers := mapset.NewThreadUnsafeSet[string]()
	pageViews := map[int]int{}
	dayViews := map[string]int{}

	for _, e := range r.logs {
		if e.DocumentID != documentID {
			continue
		}
		stats.TotalAccesses++
		stats.TotalTimeSpent += e.TimeSpent
		if e.UserID != nil {
			viewers.Add(*e.UserID)
		}
		if e.Action != models.ActionView {
			continue
		}
		if e.PageNumber != nil {
			pageViews[*e.PageNumber]++
		}
		if !e.CreatedAt.Before(since) {
			dayViews[e.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}
	stats.UniqueViewers = viewers.Cardinality()

	for page, views := range pageViews {
		stats.TopPages = append(stats.TopPages, models.PageViews{PageNumber: page, Views: views})
	}
	sort.Slice(stats.TopPages, func(i, k int) bool {
		a, b := stats.TopPages[i], stats.TopPages[k]
		if a.Views != b.Views {
			return a.Views > b.Views
		}
		return a.PageNumber < b.PageNumber
	})
	if len(stats.TopPages) > TopPagesLimit {
		stats.TopPages = stats.TopPages[:TopPagesLimit]
	}

	for day, views := range dayViews {
		stats.ViewsByDate = append(stats.ViewsByDate, models.DailyViews{Date: day, Views: views})
	}
	sort.Slice(stats.ViewsByDate, func(i, k int) bool { return stats.ViewsByDate[i].Date < stats.ViewsByDate[k].Date })

	return stats, nil
}

func (r *MemoryRepository) PruneAccessLogs(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.logs[:0]
	var pruned int64
	for _, e := range r.logs {
		if e.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	r.logs = kept
	return pruned, nil
}
