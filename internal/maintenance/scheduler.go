package maintenance

import (
	"context"
	"sync"
	"time"

	"tournament-api/internal/observability"
)

// Scheduler runs the cleanup on a fixed interval in a background goroutine.
// A failed run is logged and retried on the next tick.
type Scheduler struct {
	cleaner   Cleaner
	logger    *observability.Logger
	interval  time.Duration
	batchSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(cleaner Cleaner, logger *observability.Logger, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{cleaner: cleaner, logger: logger, interval: interval, batchSize: batchSize}
}

// Start is a no-op when the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) {
	started := time.Now()
	result, err := s.cleaner.CleanupStaleAuthData(ctx, s.batchSize)
	fields := resultFields(result)
	fields["duration_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		// Batches deleted before the failure are still reported.
		fields["error"] = err.Error()
		s.logger.Error("session_sweep_failed", fields)
		return
	}
	s.logger.Info("session_sweep_completed", fields)
}
