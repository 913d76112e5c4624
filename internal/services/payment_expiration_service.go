package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PaymentSweeper is the part of the engine driven by background jobs
type PaymentSweeper interface {
	ExpireStale(ctx context.Context, batchSize int) (int, error)
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// PaymentExpirationService periodically expires CREATED/PENDING payments older than the TTL
type PaymentExpirationService struct {
	sweeper   PaymentSweeper
	logger    *logrus.Logger
	interval  time.Duration
	batchSize int

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewPaymentExpirationService creates a new payment expiration service
func NewPaymentExpirationService(sweeper PaymentSweeper, logger *logrus.Logger, interval time.Duration, batchSize int) *PaymentExpirationService {
	return &PaymentExpirationService{
		sweeper:   sweeper,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background expiration job
func (s *PaymentExpirationService) Start() {
	s.logger.WithField("interval", s.interval.String()).Info("Starting payment expiration service")
	go s.run()
}

// Stop stops the job and waits for an in-flight sweep to finish
func (s *PaymentExpirationService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping payment expiration service")
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *PaymentExpirationService) run() {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("Payment expiration service stopped")
			return
		}
	}
}

// RunOnce runs a single expiration cycle and returns how many payments it expired
func (s *PaymentExpirationService) RunOnce(ctx context.Context) int {
	start := time.Now()
	expired, err := s.sweeper.ExpireStale(ctx, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Payment expiration sweep failed")
	}
	if expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"count":       expired,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Expired stale payments")
	}
	return expired
}
