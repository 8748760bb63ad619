package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/config"
	applog "github.com/yourusername/edge-scanner/internal/logger"
)

// ScanFunc runs one scan cycle
type ScanFunc func(ctx context.Context) error

// ErrSkipped marks a scan the caller declined to run; it is logged at debug level only
var ErrSkipped = errors.New("scan skipped")

// Scheduler triggers scans on a fixed interval. The job chain recovers panics and
// either skips or delays a tick that fires while the previous scan is still running.
type Scheduler struct {
	cron            *cron.Cron
	job             cron.Job
	interval        time.Duration
	logger          *logrus.Logger
	mu              sync.RWMutex
	isRunning       bool
	entryID         cron.EntryID
	gracefulTimeout time.Duration
}

// NewScheduler creates a scheduler for scan at the given interval and overlap policy
func NewScheduler(interval time.Duration, overlapPolicy string, scan ScanFunc, logger *logrus.Logger) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("scan interval must be at least 1s, got %s", interval)
	}
	if scan == nil {
		return nil, errors.New("scan function is required")
	}
	if logger == nil {
		logger = applog.Discard()
	}

	cronLogger := cronLogrus{entry: logger.WithField("component", "scheduler")}
	wrappers := []cron.JobWrapper{cron.Recover(cronLogger)}
	switch overlapPolicy {
	case config.OverlapQueue:
		wrappers = append(wrappers, cron.DelayIfStillRunning(cronLogger))
	case config.OverlapSkip, "":
		wrappers = append(wrappers, cron.SkipIfStillRunning(cronLogger))
	default:
		return nil, fmt.Errorf("unknown overlap policy %q", overlapPolicy)
	}

	s := &Scheduler{
		cron:            cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger)),
		interval:        interval,
		logger:          logger,
		gracefulTimeout: 30 * time.Second,
	}
	s.job = cron.NewChain(wrappers...).Then(cron.FuncJob(func() {
		s.runScan(scan)
	}))
	return s, nil
}

func (s *Scheduler) runScan(scan ScanFunc) {
	started := time.Now()
	err := scan(context.Background())
	switch {
	case err == nil:
		s.logger.WithField("duration_ms", time.Since(started).Milliseconds()).Debug("Scheduled scan completed")
	case errors.Is(err, ErrSkipped):
		s.logger.WithError(err).Debug("Scheduled scan skipped")
	default:
		s.logger.WithError(err).Error("Scheduled scan failed")
	}
}

// Job returns the wrapped job as the cron runner invokes it
func (s *Scheduler) Job() cron.Job {
	return s.job
}

// Start schedules the job and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.entryID = s.cron.Schedule(cron.Every(s.interval), s.job)
	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("interval", s.interval.String()).Info("Scheduler started")

	return nil
}

// Stop stops the cron runner and waits for a running scan, up to the graceful timeout
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cron.Remove(s.entryID)
	s.isRunning = false

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.gracefulTimeout):
		return fmt.Errorf("scheduler stop timed out after %s", s.gracefulTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns the time of the next scheduled scan
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	entry := s.cron.Entry(s.entryID)
	if !entry.Valid() {
		return time.Time{}
	}
	return entry.Next
}

// cronLogrus adapts logrus to cron.Logger
type cronLogrus struct {
	entry *logrus.Entry
}

func (l cronLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogrus) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
