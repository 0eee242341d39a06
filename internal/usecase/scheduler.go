package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"ReviewHarvester/internal/ports"
)

// Scheduler wires the interval driver with the pipeline use case.
type Scheduler struct {
	driver ports.Scheduler
	job    func(ctx context.Context) (Summary, error)
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, job func(ctx context.Context) (Summary, error), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{driver: driver, job: job, logger: logger}
}

// Start registers the pipeline with the provided scheduler. A failed run is
// logged and the next tick runs again.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.job == nil {
		return nil
	}

	job := func(trigger time.Time) {
		summary, err := s.job(ctx)
		if err != nil {
			s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
			return
		}
		s.logger.Info("scheduled run done",
			"trigger", trigger,
			"new_records_added", summary.NewRecordsAdded,
			"total_records", summary.TotalRecords,
		)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
