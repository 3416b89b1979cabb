package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"tournament-api/internal/observability"
)

var (
	ErrQueueFull = errors.New("mail queue full")
	ErrClosed    = errors.New("mail sender closed")
)

type job struct {
	to   string
	kind Kind
	vars map[string]string
}

// AsyncSender queues sends on a bounded channel drained by a fixed pool of
// workers. Send never blocks the caller; failures are only logged.
type AsyncSender struct {
	next    Sender
	logger  *observability.Logger
	timeout time.Duration
	queue   chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSender(next Sender, logger *observability.Logger, workers, queueSize int) *AsyncSender {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	s := &AsyncSender{
		next:    next,
		logger:  logger,
		timeout: 30 * time.Second,
		queue:   make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

func (s *AsyncSender) Send(_ context.Context, to string, kind Kind, vars map[string]string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	select {
	case s.queue <- job{to: to, kind: kind, vars: vars}:
		return nil
	default:
		s.logger.Warn("mail_queue_full", map[string]any{"kind": string(kind)})
		return ErrQueueFull
	}
}

func (s *AsyncSender) work() {
	defer s.wg.Done()
	for j := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Send(ctx, j.to, j.kind, j.vars); err != nil {
			s.logger.Error("mail_send_failed", map[string]any{"kind": string(j.kind), "error": err.Error()})
		}
		cancel()
	}
}

// Close stops accepting work and waits for queued mail until ctx is done.
func (s *AsyncSender) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
