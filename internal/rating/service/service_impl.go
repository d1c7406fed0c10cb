package service

import (
	ratingdomain "github.com/smallbiznis/tiergate/internal/rating/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Catalog tierdomain.Service
}

type Service struct {
	log     *zap.Logger
	catalog tierdomain.Service
}

func NewService(p ServiceParam) ratingdomain.Service {
	return &Service{
		log:     p.Log.Named("rating.service"),
		catalog: p.Catalog,
	}
}

// Prorate implements domain.Service.
func (s *Service) Prorate(current, next tierdomain.Tier, daysRemaining int) (int64, error) {
	if daysRemaining < 0 {
		return 0, ratingdomain.ErrInvalidDaysRemaining
	}

	curDef, err := s.catalog.GetConfig(current)
	if err != nil {
		return 0, err
	}
	nextDef, err := s.catalog.GetConfig(next)
	if err != nil {
		return 0, err
	}

	delta := int64(daysRemaining) * (nextDef.MonthlyPrice - curDef.MonthlyPrice)
	return roundDiv(delta, ratingdomain.BillingCycleDays), nil
}

// roundDiv divides n by d rounding half away from zero, which keeps
// Prorate antisymmetric across upgrade/downgrade pairs.
func roundDiv(n, d int64) int64 {
	if n >= 0 {
		return (n + d/2) / d
	}
	return -((-n + d/2) / d)
}
