package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron      *cron.Cron
	sweeper   PaymentSweeper
	logger    *logrus.Logger
	purgeSpec string
	retention time.Duration
}

// NewCronService creates a new CronService
func NewCronService(sweeper PaymentSweeper, logger *logrus.Logger, purgeSpec string, retention time.Duration) *CronService {
	// seconds precision: "0 0 3 * * *" is 03:00:00 every day
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:      c,
		sweeper:   sweeper,
		logger:    logger,
		purgeSpec: purgeSpec,
		retention: retention,
	}
}

// Start schedules the jobs and starts the scheduler
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.purgeSpec, s.purgeExpiredJob); err != nil {
		return fmt.Errorf("failed to schedule purge job: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"schedule":  s.purgeSpec,
		"retention": s.retention.String(),
	}).Info("Scheduled: purge expired payments")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// purgeExpiredJob deletes EXPIRED payments older than the retention window
func (s *CronService) purgeExpiredJob() {
	if _, err := s.RunPurgeNow(context.Background()); err != nil {
		s.logger.WithError(err).Error("[CRON] Failed to purge expired payments")
	}
}

// RunPurgeNow runs the purge job immediately
func (s *CronService) RunPurgeNow(ctx context.Context) (int64, error) {
	startTime := time.Now()

	purged, err := s.sweeper.PurgeExpired(ctx, s.retention)
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"purged":      purged,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("[CRON] Purged expired payments")
	return purged, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
