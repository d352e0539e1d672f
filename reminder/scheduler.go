// Package reminder runs the background delivery loop for time-based
// reminders. Join-based reminders are pulled by the IRC frontend through
// the join-check endpoint and never pass through this loop.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/lolo"
)

const (
	// StartupGrace delays the first tick so the HTTP boundary and the
	// IRC frontend come up first.
	StartupGrace = 10 * time.Second
	// PollInterval is the scheduler tick.
	PollInterval = 15 * time.Second

	batchSize = 50
)

// Notifier is the slice of the IRC frontend the scheduler needs.
type Notifier interface {
	UserStatus(ctx context.Context, channel, nick string) (bool, error)
	SendMessage(ctx context.Context, target, message string) error
}

// Scheduler delivers due time reminders. One instance runs per process,
// started at boot and stopped at shutdown.
type Scheduler struct {
	store    lolo.Store
	notifier Notifier
	logger   *slog.Logger

	grace time.Duration
	poll  time.Duration
	now   func() time.Time
}

// New creates a scheduler with default timing.
func New(store lolo.Store, notifier Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		logger:   logger,
		grace:    StartupGrace,
		poll:     PollInterval,
		now:      time.Now,
	}
}

// Run loops until ctx is cancelled. Every tick is error-contained: a
// failing store or frontend only delays delivery.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.grace):
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("reminder tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick processes every due time reminder once.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.store.DueTimeReminders(ctx, now, batchSize)
	if err != nil {
		return err
	}
	for _, r := range due {
		if err := s.deliver(ctx, r, now); err != nil {
			s.logger.Warn("reminder delivery failed", "id", r.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) deliver(ctx context.Context, r lolo.Reminder, now time.Time) error {
	if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
		s.logger.Info("reminder expired", "id", r.ID)
		return s.store.SetReminderStatus(ctx, r.ID, lolo.ReminderFailed)
	}

	online, err := s.notifier.UserStatus(ctx, r.Channel, r.TargetNick)
	if err != nil {
		// Frontend unreachable: leave the reminder pending and retry on
		// the next tick without burning a delivery attempt.
		return err
	}
	if !online {
		attempts, err := s.store.IncrementDeliveryAttempts(ctx, r.ID)
		if err != nil {
			return err
		}
		if attempts >= lolo.MaxDeliveryAttempts {
			s.logger.Info("reminder gave up after offline retries", "id", r.ID, "attempts", attempts)
			return s.store.SetReminderStatus(ctx, r.ID, lolo.ReminderFailed)
		}
		return nil
	}

	if err := s.notifier.SendMessage(ctx, r.Channel, r.IRCLine()); err != nil {
		return err
	}

	if period := r.RecurrencePeriod(); period > 0 && r.DeliverAt != nil {
		// Advance from the scheduled time, not from now, so the cadence
		// never drifts. Missed periods fire on subsequent ticks.
		next := r.DeliverAt.Add(period)
		s.logger.Info("reminder delivered, recurring", "id", r.ID, "next", next)
		return s.store.RescheduleReminder(ctx, r.ID, next, now)
	}

	s.logger.Info("reminder delivered", "id", r.ID)
	return s.store.MarkReminderDelivered(ctx, r.ID, now)
}
