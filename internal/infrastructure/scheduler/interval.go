package scheduler

import (
	"context"
	"sync"
	"time"

	"ReviewHarvester/internal/ports"
)

// IntervalScheduler runs a job immediately and then every interval. Runs never
// overlap, and a tick that arrives while the job is busy is discarded once it
// returns, so a long run is not followed by an immediate catch-up run.
type IntervalScheduler struct {
	every time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler firing every interval.
func NewIntervalScheduler(every time.Duration) *IntervalScheduler {
	if every <= 0 {
		every = 24 * time.Hour
	}
	return &IntervalScheduler{every: every}
}

// Start begins ticking in a background goroutine. Calling Start twice is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		runLoop(ctx, ticker.C, stop, job)
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job to return.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runLoop(ctx context.Context, ticks <-chan time.Time, stop <-chan struct{}, job func(time.Time)) {
	run := func(t time.Time) {
		job(t)
		select {
		case <-ticks:
		default:
		}
	}

	run(time.Now())
	for {
		select {
		case t := <-ticks:
			run(t)
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}
