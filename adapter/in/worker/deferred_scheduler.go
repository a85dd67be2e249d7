package worker

import (
	"context"
	"time"

	"mailsweep/core/port/in"
	"mailsweep/pkg/logger"
)

// DeferredRetryScheduler periodically replays sender updates that failed
// against storage, so a database hiccup during a scan loses no messages.
type DeferredRetryScheduler struct {
	detection     in.DetectionService
	checkInterval time.Duration
	batchLimit    int
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewDeferredRetryScheduler(detection in.DetectionService, checkInterval time.Duration) *DeferredRetryScheduler {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeferredRetryScheduler{
		detection:     detection,
		checkInterval: checkInterval,
		batchLimit:    100,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the retry scheduler.
func (s *DeferredRetryScheduler) Start() {
	logger.Info("[DeferredRetryScheduler] starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the retry scheduler.
func (s *DeferredRetryScheduler) Stop() {
	logger.Info("[DeferredRetryScheduler] stopping...")
	s.cancel()
}

func (s *DeferredRetryScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// one immediate pass on startup
	s.processDue()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[DeferredRetryScheduler] stopped")
			return
		case <-ticker.C:
			s.processDue()
		}
	}
}

func (s *DeferredRetryScheduler) processDue() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	retried, succeeded, err := s.detection.RetryDeferred(ctx, s.batchLimit)
	if err != nil {
		logger.Error("[DeferredRetryScheduler] retry pass failed: %v", err)
		return
	}
	if retried > 0 {
		logger.Info("[DeferredRetryScheduler] retried %d deferred updates, %d succeeded", retried, succeeded)
	}
}

// SetCheckInterval sets the check interval (for testing).
func (s *DeferredRetryScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
