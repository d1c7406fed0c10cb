package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	backoff "github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/tiergate/internal/clock"
	"github.com/smallbiznis/tiergate/internal/config"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"github.com/smallbiznis/tiergate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	incrementMaxTries     = 3
	incrementRetryInitial = 20 * time.Millisecond
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  usagedomain.Repository

	Catalog tierdomain.Service
	SubSvc  subscriptiondomain.Service
	SubRepo subscriptiondomain.Repository
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	alertRate float64

	genID *snowflake.Node
	clock clock.Clock
	repo  usagedomain.Repository

	catalog tierdomain.Service
	subSvc  subscriptiondomain.Service
	subRepo subscriptiondomain.Repository
}

func NewService(p ServiceParam) usagedomain.Service {
	alertRate := p.Cfg.BulkFailureAlertRate
	if alertRate <= 0 {
		alertRate = 0.01
	}

	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		alertRate: alertRate,

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		catalog: p.Catalog,
		subSvc:  p.SubSvc,
		subRepo: p.SubRepo,
	}
}

// GetOrCreate implements domain.Service. Creation is race-safe: a losing
// insert resolves to the row the winner created.
func (s *Service) GetOrCreate(ctx context.Context, userID snowflake.ID, day time.Time) (usagedomain.UsageRecord, error) {
	if userID == 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidUser
	}
	day = usagedomain.DayOf(day)

	existing, err := s.repo.FindByUserDay(ctx, s.db, userID, day)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	rec, err := s.buildRecord(ctx, userID, day)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &rec); err != nil {
		if db.IsDuplicateKeyErr(err) {
			winner, findErr := s.repo.FindByUserDay(ctx, s.db, userID, day)
			if findErr != nil {
				return usagedomain.UsageRecord{}, findErr
			}
			if winner != nil {
				return *winner, nil
			}
		}
		return usagedomain.UsageRecord{}, err
	}

	return rec, nil
}

// CheckAndIncrement implements domain.Service.
func (s *Service) CheckAndIncrement(ctx context.Context, userID snowflake.ID, kind usagedomain.UsageKind) (bool, int, error) {
	if kind != usagedomain.KindQuery && kind != usagedomain.KindPrediction {
		return false, 0, usagedomain.ErrInvalidKind
	}

	now := s.clock.Now().UTC()
	day := usagedomain.DayOf(now)

	if _, err := s.GetOrCreate(ctx, userID, day); err != nil {
		return false, 0, err
	}

	allowed, err := s.incrementWithRetry(ctx, userID, day, kind, now)
	if err != nil {
		return false, 0, err
	}

	rec, err := s.repo.FindByUserDay(ctx, s.db, userID, day)
	if err != nil || rec == nil {
		// The increment already settled; remaining is advisory.
		return allowed, 0, nil
	}
	return allowed, rec.Remaining(kind), nil
}

// incrementWithRetry retries the conditional UPDATE on transient store
// errors only. Safe because the increment is idempotent per denial and a
// granted unit is observed through rows-affected, never re-applied.
func (s *Service) incrementWithRetry(ctx context.Context, userID snowflake.ID, day time.Time, kind usagedomain.UsageKind, now time.Time) (bool, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = incrementRetryInitial

	operation := func() (bool, error) {
		allowed, err := s.repo.IncrementIfBelow(ctx, s.db, userID, day, kind, now)
		if err != nil {
			if db.IsTransientErr(err) {
				return false, err
			}
			return false, backoff.Permanent(err)
		}
		return allowed, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(incrementMaxTries),
	)
}

// RaiseLimitsForDay implements domain.Service.
func (s *Service) RaiseLimitsForDay(ctx context.Context, userID snowflake.ID, day time.Time, queriesLimit, predictionsLimit int) error {
	now := s.clock.Now().UTC()
	_, err := s.repo.RaiseLimits(ctx, s.db, userID, usagedomain.DayOf(day), queriesLimit, predictionsLimit, now)
	return err
}

// IncrementFeatureUsage implements domain.Service.
func (s *Service) IncrementFeatureUsage(ctx context.Context, userID snowflake.ID, feature string) error {
	now := s.clock.Now().UTC()
	day := usagedomain.DayOf(now)

	if _, err := s.GetOrCreate(ctx, userID, day); err != nil {
		return err
	}
	return s.repo.IncrementFeature(ctx, s.db, userID, day, feature, now)
}

func (s *Service) buildRecord(ctx context.Context, userID snowflake.ID, day time.Time) (usagedomain.UsageRecord, error) {
	tier, err := s.subSvc.ResolveTier(ctx, userID)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}
	def, err := s.catalog.GetConfig(tier)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	var subscriptionID *snowflake.ID
	if sub, err := s.subRepo.FindByUserID(ctx, s.db, userID); err == nil && sub != nil &&
		sub.Status == subscriptiondomain.SubscriptionStatusActive {
		id := sub.ID
		subscriptionID = &id
	}

	now := s.clock.Now().UTC()
	return usagedomain.UsageRecord{
		ID:               s.genID.Generate(),
		UserID:           userID,
		SubscriptionID:   subscriptionID,
		Day:              day,
		QueriesLimit:     def.QueriesPerDay,
		PredictionsLimit: def.PredictionsPerMonth,
		FeatureUsage:     datatypes.JSONMap{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
