package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/tiergate/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/tiergate/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Catalog  tierdomain.Service
	SubSvc   subscriptiondomain.Service
	UsageSvc usagedomain.Service
}

type Service struct {
	log      *zap.Logger
	catalog  tierdomain.Service
	subSvc   subscriptiondomain.Service
	usageSvc usagedomain.Service
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		log:      p.Log.Named("entitlement.service"),
		catalog:  p.Catalog,
		subSvc:   p.SubSvc,
		usageSvc: p.UsageSvc,
	}
}

// CanAccessFeature implements domain.Service. Fails closed.
func (s *Service) CanAccessFeature(ctx context.Context, userID snowflake.ID, feature string) entitlementdomain.FeatureDecision {
	metrics := obsmetrics.Entitlement()

	tier, err := s.subSvc.ResolveTier(ctx, userID)
	if err != nil {
		s.log.Warn("tier resolution failed, denying feature",
			zap.String("user_id", userID.String()),
			zap.String("feature", feature),
			zap.Error(err),
		)
		metrics.IncFailPolicy("feature", obsmetrics.FailPolicyClosed)
		metrics.IncFeatureDecision(feature, false)
		return entitlementdomain.FeatureDecision{
			Allowed:     false,
			CurrentTier: tierdomain.TierFree,
			Reason:      entitlementdomain.ReasonInternalError,
		}
	}

	def, err := s.catalog.GetConfig(tier)
	if err != nil {
		metrics.IncFailPolicy("feature", obsmetrics.FailPolicyClosed)
		metrics.IncFeatureDecision(feature, false)
		return entitlementdomain.FeatureDecision{
			Allowed:     false,
			CurrentTier: tier,
			Reason:      entitlementdomain.ReasonInternalError,
		}
	}

	if def.HasFeature(feature) {
		metrics.IncFeatureDecision(feature, true)
		if err := s.usageSvc.IncrementFeatureUsage(ctx, userID, feature); err != nil {
			// Observability counter only; the grant stands.
			s.log.Warn("feature usage counter skipped",
				zap.String("user_id", userID.String()),
				zap.String("feature", feature),
				zap.Error(err),
			)
		}
		return entitlementdomain.FeatureDecision{
			Allowed:     true,
			CurrentTier: tier,
			Reason:      entitlementdomain.ReasonOK,
		}
	}

	required := s.catalog.TiersWithFeature(feature)
	metrics.IncFeatureDecision(feature, false)
	return entitlementdomain.FeatureDecision{
		Allowed:       false,
		CurrentTier:   tier,
		RequiredTiers: required,
		Reason:        entitlementdomain.ReasonFeatureNotInTier,
		Upgrade:       s.cheapestOf(required),
	}
}

// CanConsumeQuota implements domain.Service. Fails open.
func (s *Service) CanConsumeQuota(ctx context.Context, userID snowflake.ID, kind usagedomain.UsageKind) entitlementdomain.QuotaDecision {
	metrics := obsmetrics.Entitlement()

	tier, err := s.subSvc.ResolveTier(ctx, userID)
	if err != nil {
		tier = tierdomain.TierFree
	}

	allowed, remaining, err := s.usageSvc.CheckAndIncrement(ctx, userID, kind)
	if errors.Is(err, usagedomain.ErrInvalidKind) || errors.Is(err, usagedomain.ErrInvalidUser) {
		// Malformed requests deny outright; fail-open is reserved for
		// store failures.
		metrics.IncQuotaDecision(string(kind), false)
		return entitlementdomain.QuotaDecision{
			Allowed:     false,
			Kind:        kind,
			CurrentTier: tier,
			Reason:      entitlementdomain.ReasonInvalidRequest,
		}
	}
	if err != nil {
		s.log.Warn("quota check failed, allowing",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		metrics.IncFailPolicy("quota", obsmetrics.FailPolicyOpen)
		metrics.IncQuotaDecision(string(kind), true)
		return entitlementdomain.QuotaDecision{
			Allowed:     true,
			Kind:        kind,
			Remaining:   0,
			CurrentTier: tier,
			Reason:      entitlementdomain.ReasonInternalError,
		}
	}

	metrics.IncQuotaDecision(string(kind), allowed)
	if allowed {
		return entitlementdomain.QuotaDecision{
			Allowed:     true,
			Kind:        kind,
			Remaining:   remaining,
			CurrentTier: tier,
			Reason:      entitlementdomain.ReasonOK,
		}
	}

	return entitlementdomain.QuotaDecision{
		Allowed:     false,
		Kind:        kind,
		Remaining:   remaining,
		CurrentTier: tier,
		Reason:      entitlementdomain.ReasonQuotaExceeded,
		Upgrade:     s.nextTierWithHigherCap(tier, kind),
	}
}

// cheapestOf returns an upgrade prompt for the lowest-ranked tier in the
// list, nil when no tier grants the capability.
func (s *Service) cheapestOf(tiers []tierdomain.Tier) *entitlementdomain.UpgradePrompt {
	for _, t := range tiers {
		def, err := s.catalog.GetConfig(t)
		if err != nil {
			continue
		}
		return &entitlementdomain.UpgradePrompt{
			Tier:         def.ID,
			MonthlyPrice: def.MonthlyPrice,
		}
	}
	return nil
}

// nextTierWithHigherCap walks the catalog upward from the user's tier and
// returns the first tier whose cap for the kind is larger (or unlimited).
func (s *Service) nextTierWithHigherCap(current tierdomain.Tier, kind usagedomain.UsageKind) *entitlementdomain.UpgradePrompt {
	currentCap := 0
	if def, err := s.catalog.GetConfig(current); err == nil {
		currentCap = capFor(def, kind)
	}
	if currentCap == tierdomain.Unlimited {
		return nil
	}

	for _, def := range s.catalog.List() {
		if s.catalog.Compare(def.ID, current) <= 0 {
			continue
		}
		next := capFor(def, kind)
		if next == tierdomain.Unlimited || next > currentCap {
			return &entitlementdomain.UpgradePrompt{
				Tier:         def.ID,
				MonthlyPrice: def.MonthlyPrice,
			}
		}
	}
	return nil
}

func capFor(def tierdomain.TierDefinition, kind usagedomain.UsageKind) int {
	if kind == usagedomain.KindPrediction {
		return def.PredictionsPerMonth
	}
	return def.QueriesPerDay
}
