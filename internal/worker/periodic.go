package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/service"
)

// Periodic runs a task on a fixed interval until its context ends.
// A run never overlaps the previous one.
type Periodic struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context, now time.Time) error
	clock    func() time.Time
	logger   *zap.Logger
}

// NewPeriodic builds a runner.
func NewPeriodic(name string, interval time.Duration, task func(ctx context.Context, now time.Time) error, logger *zap.Logger) *Periodic {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Periodic{name: name, interval: interval, task: task, clock: time.Now, logger: logger}
}

// Run blocks until ctx is done. The task runs once immediately.
func (p *Periodic) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("worker started", zap.String("worker", p.name), zap.Duration("interval", p.interval))
	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopped", zap.String("worker", p.name))
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Periodic) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panicked", zap.String("worker", p.name), zap.Any("panic", r))
		}
	}()
	if err := p.task(ctx, p.clock()); err != nil && ctx.Err() == nil {
		p.logger.Warn("worker run failed", zap.String("worker", p.name), zap.Error(err))
	}
}

// NewNoShowWorker sweeps for no-shows every interval.
func NewNoShowWorker(noShows *service.NoShowService, interval time.Duration, logger *zap.Logger) *Periodic {
	return NewPeriodic("no_show_sweep", interval, func(ctx context.Context, now time.Time) error {
		_, err := noShows.ProcessNoShows(ctx, now)
		return err
	}, logger)
}

// NewReminderWorker sends due reminders every interval.
func NewReminderWorker(reminders *service.ReminderService, interval time.Duration, logger *zap.Logger) *Periodic {
	return NewPeriodic("appointment_reminders", interval, func(ctx context.Context, now time.Time) error {
		_, err := reminders.SendDueReminders(ctx, now)
		return err
	}, logger)
}
