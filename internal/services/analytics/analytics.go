// Package analytics records viewer events and summarizes them per document.
//
// Logging is fire-and-forget: events go through a buffered channel to a
// background writer, and a failure to record one is logged and dropped.
// A view or search request never fails because of analytics.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

const (
	defaultBuffer = 1024
	writeTimeout  = 5 * time.Second
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "access_log_events_total",
	Help: "Access log events by result (written, dropped, failed).",
}, []string{"result"})

// Service writes access-log entries asynchronously.
type Service struct {
	repo   database.Repository
	events chan models.AccessLogEntry
	now    func() time.Time

	closeOnce  sync.Once
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New starts the background writer. buffer <= 0 uses the default.
func New(repo database.Repository, buffer int) *Service {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &Service{
		repo:       repo,
		events:     make(chan models.AccessLogEntry, buffer),
		now:        func() time.Time { return time.Now().UTC() },
		shutdownCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Log queues an event. It never blocks and never fails: when the buffer is
// full or the service is shut down the event is dropped with a warning.
func (s *Service) Log(e models.AccessLogEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	select {
	case <-s.shutdownCh:
		eventsTotal.WithLabelValues("dropped").Inc()
		return
	default:
	}

	select {
	case s.events <- e:
	default:
		eventsTotal.WithLabelValues("dropped").Inc()
		log.WithFields(log.Fields{"document_id": e.DocumentID, "action": e.Action}).
			Warn("⚠️  Access log buffer full, dropping event")
	}
}

// Shutdown stops accepting events and waits for queued ones to be written.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() { close(s.shutdownCh) })
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.events:
			s.write(e)
		case <-s.shutdownCh:
			// Drain what is already queued.
			for {
				select {
				case e := <-s.events:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(e models.AccessLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.repo.InsertAccessLog(ctx, &e); err != nil {
		eventsTotal.WithLabelValues("failed").Inc()
		log.WithFields(log.Fields{"document_id": e.DocumentID, "action": e.Action}).
			WithError(err).Warn("⚠️  Failed to record access log")
		return
	}
	eventsTotal.WithLabelValues("written").Inc()
}

// Stats summarizes a document's events. Views by date cover the last
// 30 days; the other figures cover everything retained.
func (s *Service) Stats(ctx context.Context, documentID string) (*models.DocumentStats, error) {
	return s.repo.DocumentStats(ctx, documentID, s.now().Add(-database.StatsWindow))
}

// Prune deletes events older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PruneAccessLogs(ctx, s.now().Add(-retention))
}
