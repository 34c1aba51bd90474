package worker

import (
	"context"
	"sync"
	"time"

	cron "github.com/robfig/cron"
	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/database"
)

// AccessLogPruner drops access-log entries older than a retention period.
type AccessLogPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionOptions configures the periodic cleanup.
type RetentionOptions struct {
	KeepCompleted      int
	KeepFailed         int
	AccessLogRetention time.Duration
}

// Sweeper prunes old jobs hourly and old access logs daily.
type Sweeper struct {
	repo    database.Repository
	logs    AccessLogPruner
	opts    RetentionOptions
	cron    *cron.Cron
	running sync.Mutex
}

// NewSweeper creates a sweeper. logs may be nil to skip access-log pruning.
func NewSweeper(repo database.Repository, logs AccessLogPruner, opts RetentionOptions) *Sweeper {
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 10
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 50
	}
	if opts.AccessLogRetention <= 0 {
		opts.AccessLogRetention = 90 * 24 * time.Hour
	}
	return &Sweeper{repo: repo, logs: logs, opts: opts, cron: cron.New()}
}

// Start schedules the sweeps.
func (s *Sweeper) Start() error {
	if err := s.cron.AddFunc("@hourly", func() { s.SweepJobs(context.Background()) }); err != nil {
		return err
	}
	if s.logs != nil {
		if err := s.cron.AddFunc("@daily", func() { s.SweepAccessLogs(context.Background()) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Info("🧹 Retention sweeps scheduled")
	return nil
}

// Stop stops the schedule.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// SweepJobs keeps only the newest completed and failed jobs.
func (s *Sweeper) SweepJobs(ctx context.Context) int64 {
	s.running.Lock()
	defer s.running.Unlock()

	n, err := s.repo.PruneJobs(ctx, s.opts.KeepCompleted, s.opts.KeepFailed)
	if err != nil {
		log.WithError(err).Warn("⚠️  Job retention sweep failed")
		return 0
	}
	if n > 0 {
		sweepRemovals.WithLabelValues("processing_jobs").Add(float64(n))
		log.Infof("🧹 Pruned %d finished jobs", n)
	}
	return n
}

// SweepAccessLogs removes access-log entries past the retention period.
func (s *Sweeper) SweepAccessLogs(ctx context.Context) int64 {
	if s.logs == nil {
		return 0
	}
	n, err := s.logs.Prune(ctx, s.opts.AccessLogRetention)
	if err != nil {
		log.WithError(err).Warn("⚠️  Access log retention sweep failed")
		return 0
	}
	if n > 0 {
		sweepRemovals.WithLabelValues("access_logs").Add(float64(n))
		log.Infof("🧹 Pruned %d access log entries", n)
	}
	return n
}
