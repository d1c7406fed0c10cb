package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/tiergate/internal/notifier"
	"go.uber.org/zap"
)

const (
	JobUsageReset        = "usage_reset"
	JobSubscriptionSweep = "subscription_sweep"
	JobRenewalReminder   = "renewal_reminder"
	JobPredictionReset   = "prediction_reset"
)

const (
	usageResetHour      = 0
	renewalReminderHour = 9
	renewalReminderDays = 7
)

// jobSpec binds a job to its cadence. lastSlot returns the most recent due
// slot at or before now; the watermark in Scheduler decides whether that
// slot already fired.
type jobSpec struct {
	name     string
	lastSlot func(now time.Time) time.Time
	run      func(ctx context.Context) error
}

func (s *Scheduler) jobSpecs() []jobSpec {
	return []jobSpec{
		{
			name:     JobUsageReset,
			lastSlot: func(now time.Time) time.Time { return lastDailySlot(now, usageResetHour) },
			run:      s.usageResetJob,
		},
		{
			name:     JobSubscriptionSweep,
			lastSlot: lastHourlySlot,
			run:      s.sweepJob,
		},
		{
			name:     JobRenewalReminder,
			lastSlot: func(now time.Time) time.Time { return lastDailySlot(now, renewalReminderHour) },
			run:      s.renewalReminderJob,
		},
		{
			name:     JobPredictionReset,
			lastSlot: lastMonthlySlot,
			run:      s.predictionResetJob,
		},
	}
}

func (s *Scheduler) usageResetJob(ctx context.Context) error {
	report, err := s.usageSvc.ResetDaily(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	s.log.Info("daily usage reset finished",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Bool("alert", report.AlertTriggered),
	)
	return nil
}

func (s *Scheduler) sweepJob(ctx context.Context) error {
	report, err := s.subscriptionSvc.Sweep(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	s.log.Info("subscription sweep finished",
		zap.Int("processed", report.Processed),
		zap.Int("expired", report.Expired),
		zap.Int("downgraded", report.Downgraded),
		zap.Int("failed", report.Failed),
		zap.Bool("alert", report.AlertTriggered),
	)
	return nil
}

func (s *Scheduler) renewalReminderJob(ctx context.Context) error {
	now := s.clock.Now()
	subs, err := s.subscriptionSvc.FindExpiring(ctx, now, renewalReminderDays)
	if err != nil {
		return err
	}

	for i := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.dispatch.Dispatch(subs[i].UserID, notifier.TemplateRenewalReminder, map[string]any{
			"tier":           string(subs[i].Tier),
			"end_date":       subs[i].EndDate,
			"days_remaining": renewalReminderDays,
		})
	}

	s.log.Info("renewal reminders dispatched", zap.Int("count", len(subs)))
	return nil
}

func (s *Scheduler) predictionResetJob(ctx context.Context) error {
	report, err := s.usageSvc.ResetMonthlyPredictions(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	s.log.Info("monthly prediction reset finished",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Bool("alert", report.AlertTriggered),
	)
	return nil
}

func lastDailySlot(now time.Time, hour int) time.Time {
	u := now.UTC()
	slot := time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, time.UTC)
	if slot.After(u) {
		slot = slot.AddDate(0, 0, -1)
	}
	return slot
}

func lastHourlySlot(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour)
}

func lastMonthlySlot(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
