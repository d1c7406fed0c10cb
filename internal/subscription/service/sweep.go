package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiergate/internal/notifier"
	obsmetrics "github.com/smallbiznis/tiergate/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// Sweep implements domain.Service. Each row is its own unit of work: the
// guarded repository updates make re-runs and concurrent sweeps no-ops, and
// one user's failure never rolls back another's.
func (s *Service) Sweep(ctx context.Context, now time.Time) (subscriptiondomain.SweepReport, error) {
	now = now.UTC()
	report := subscriptiondomain.SweepReport{}
	log := s.log.With(zap.String("job", "subscription_sweep"))

	// Failed rows stay in the due set, so later FindDue pages return them
	// again within the same run; each row is counted exactly once.
	failedIDs := make(map[snowflake.ID]struct{})

	for {
		batch, err := s.repo.FindDue(ctx, s.db, now, sweepBatchSize)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for i := range batch {
			if _, seen := failedIDs[batch[i].ID]; seen {
				continue
			}

			// Shutdown lets the in-flight row finish; we stop between
			// rows, never mid-transition.
			if err := ctx.Err(); err != nil {
				s.finishSweep(log, &report)
				return report, err
			}

			report.Processed++
			if err := s.sweepOne(ctx, &batch[i], now, &report); err != nil {
				report.Failed++
				failedIDs[batch[i].ID] = struct{}{}
				log.Warn("sweep user failed",
					zap.String("user_id", batch[i].UserID.String()),
					zap.Error(err),
				)
			} else {
				progressed = true
			}
		}

		// Bail once a pass makes no progress so failed rows cannot spin
		// the loop.
		if !progressed {
			break
		}
		if len(batch) < sweepBatchSize {
			break
		}
	}

	s.finishSweep(log, &report)
	return report, nil
}

func (s *Service) sweepOne(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time, report *subscriptiondomain.SweepReport) error {
	if !sub.DueForSweep(now) {
		return nil
	}

	scheduled := sub.ScheduledTierChange != nil &&
		sub.ScheduledChangeDate != nil &&
		!sub.ScheduledChangeDate.After(now)

	if scheduled {
		// Renewal-with-downgrade: apply the deferred tier and roll the
		// billing window forward one standard cycle.
		newTier := *sub.ScheduledTierChange
		newStart := sub.EndDate
		newEnd := sub.EndDate.Add(standardCycle)

		applied, err := s.repo.ApplyScheduledChange(ctx, s.db, sub.ID, newTier, now, newStart, newEnd)
		if err != nil {
			return err
		}
		if applied {
			report.Downgraded++
			s.dispatch.Dispatch(sub.UserID, notifier.TemplateDowngradeApplied, map[string]any{
				"new_tier": string(newTier),
				"end_date": newEnd,
			})
		}
		return nil
	}

	collapse := sub.CancelledAt != nil
	expired, err := s.repo.Expire(ctx, s.db, sub.ID, now, tierdomain.TierFree, collapse)
	if err != nil {
		return err
	}
	if expired {
		report.Expired++
		s.dispatch.Dispatch(sub.UserID, notifier.TemplateSubscriptionExpired, map[string]any{
			"tier":      string(sub.Tier),
			"cancelled": collapse,
		})
	}
	return nil
}

func (s *Service) finishSweep(log *zap.Logger, report *subscriptiondomain.SweepReport) {
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddUsersProcessed("subscription_sweep", report.Processed)
	schedMetrics.AddUserFailures("subscription_sweep", report.Failed)
	schedMetrics.SetFailureRate("subscription_sweep", report.FailureRate())

	if report.FailureRate() > s.alertRate {
		report.AlertTriggered = true
		schedMetrics.IncBulkAlert("subscription_sweep")
		log.Error("sweep failure rate above alert threshold",
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Float64("failure_rate", report.FailureRate()),
		)
	}
}
