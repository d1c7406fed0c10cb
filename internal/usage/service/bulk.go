package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/tiergate/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ResetDaily implements domain.Service. Every known user gets a fresh
// counter row for the day, limits resolved from their current tier. One
// user's failure never stops the batch.
func (s *Service) ResetDaily(ctx context.Context, asOf time.Time) (usagedomain.BulkReport, error) {
	day := usagedomain.DayOf(asOf)
	log := s.log.With(zap.String("job", "usage_reset"), zap.Time("day", day))

	report := usagedomain.BulkReport{}
	userIDs, err := s.subRepo.ListUserIDs(ctx, s.db)
	if err != nil {
		return report, err
	}

	for _, userID := range userIDs {
		// Shutdown stops between users, never mid-reset.
		if err := ctx.Err(); err != nil {
			s.finishBulk("usage_reset", log, &report)
			return report, err
		}

		report.Processed++
		if err := s.resetUser(ctx, userID, day); err != nil {
			report.Failed++
			log.Warn("daily reset failed for user",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	s.finishBulk("usage_reset", log, &report)
	return report, nil
}

// ResetMonthlyPredictions implements domain.Service. Only the prediction
// counter and its limit are touched; query counters keep their daily cadence.
func (s *Service) ResetMonthlyPredictions(ctx context.Context, asOf time.Time) (usagedomain.BulkReport, error) {
	day := usagedomain.DayOf(asOf)
	log := s.log.With(zap.String("job", "prediction_reset"), zap.Time("day", day))

	report := usagedomain.BulkReport{}
	userIDs, err := s.subRepo.ListUserIDs(ctx, s.db)
	if err != nil {
		return report, err
	}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			s.finishBulk("prediction_reset", log, &report)
			return report, err
		}

		report.Processed++
		if err := s.resetUserPredictions(ctx, userID, day); err != nil {
			report.Failed++
			log.Warn("prediction reset failed for user",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	s.finishBulk("prediction_reset", log, &report)
	return report, nil
}

func (s *Service) resetUser(ctx context.Context, userID snowflake.ID, day time.Time) error {
	rec, err := s.buildRecord(ctx, userID, day)
	if err != nil {
		return err
	}
	if rec.FeatureUsage == nil {
		rec.FeatureUsage = datatypes.JSONMap{}
	}
	return s.repo.UpsertReset(ctx, s.db, &rec)
}

func (s *Service) resetUserPredictions(ctx context.Context, userID snowflake.ID, day time.Time) error {
	if _, err := s.GetOrCreate(ctx, userID, day); err != nil {
		return err
	}

	tier, err := s.subSvc.ResolveTier(ctx, userID)
	if err != nil {
		return err
	}
	def, err := s.catalog.GetConfig(tier)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	return s.repo.ResetPredictions(ctx, s.db, userID, day, def.PredictionsPerMonth, now)
}

func (s *Service) finishBulk(job string, log *zap.Logger, report *usagedomain.BulkReport) {
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddUsersProcessed(job, report.Processed)
	schedMetrics.AddUserFailures(job, report.Failed)
	schedMetrics.SetFailureRate(job, report.FailureRate())

	if report.FailureRate() > s.alertRate {
		report.AlertTriggered = true
		schedMetrics.IncBulkAlert(job)
		log.Error("bulk reset failure rate above alert threshold",
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Float64("failure_rate", report.FailureRate()),
		)
	}
}
