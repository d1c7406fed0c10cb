package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/tiergate/internal/entitlement/domain"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	tierservice "github.com/smallbiznis/tiergate/internal/tier/service"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubResolver struct {
	tier tierdomain.Tier
	err  error
}

func (s *stubResolver) ResolveTier(context.Context, snowflake.ID) (tierdomain.Tier, error) {
	return s.tier, s.err
}

func (s *stubResolver) Activate(context.Context, subscriptiondomain.ActivateRequest) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}
func (s *stubResolver) ActivateFromPayment(context.Context, subscriptiondomain.PaymentEvent) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}
func (s *stubResolver) CreatePending(context.Context, snowflake.ID, tierdomain.Tier, string) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}
func (s *stubResolver) Upgrade(context.Context, snowflake.ID, tierdomain.Tier) (subscriptiondomain.UpgradeResult, error) {
	return subscriptiondomain.UpgradeResult{}, nil
}
func (s *stubResolver) Downgrade(context.Context, snowflake.ID, tierdomain.Tier) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}
func (s *stubResolver) Cancel(context.Context, snowflake.ID) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}
func (s *stubResolver) GetByUserID(context.Context, snowflake.ID) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
}
func (s *stubResolver) Sweep(context.Context, time.Time) (subscriptiondomain.SweepReport, error) {
	return subscriptiondomain.SweepReport{}, nil
}
func (s *stubResolver) FindExpiring(context.Context, time.Time, int) ([]subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (s *stubResolver) List(context.Context, subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	return subscriptiondomain.ListSubscriptionResponse{}, nil
}

type stubUsageService struct {
	allowed   bool
	remaining int
	err       error

	featureIncrements []string
}

func (s *stubUsageService) GetOrCreate(context.Context, snowflake.ID, time.Time) (usagedomain.UsageRecord, error) {
	return usagedomain.UsageRecord{}, nil
}
func (s *stubUsageService) CheckAndIncrement(context.Context, snowflake.ID, usagedomain.UsageKind) (bool, int, error) {
	return s.allowed, s.remaining, s.err
}
func (s *stubUsageService) ResetDaily(context.Context, time.Time) (usagedomain.BulkReport, error) {
	return usagedomain.BulkReport{}, nil
}
func (s *stubUsageService) ResetMonthlyPredictions(context.Context, time.Time) (usagedomain.BulkReport, error) {
	return usagedomain.BulkReport{}, nil
}
func (s *stubUsageService) RaiseLimitsForDay(context.Context, snowflake.ID, time.Time, int, int) error {
	return nil
}
func (s *stubUsageService) IncrementFeatureUsage(ctx context.Context, userID snowflake.ID, feature string) error {
	s.featureIncrements = append(s.featureIncrements, feature)
	return nil
}

func newGate(resolver *stubResolver, usage *stubUsageService) entitlementdomain.Service {
	return NewService(ServiceParam{
		Log:      zap.NewNop(),
		Catalog:  tierservice.NewService(),
		SubSvc:   resolver,
		UsageSvc: usage,
	})
}

func TestCanAccessFeature_GrantedByTier(t *testing.T) {
	usage := &stubUsageService{}
	gate := newGate(&stubResolver{tier: tierdomain.TierPremium}, usage)

	decision := gate.CanAccessFeature(context.Background(), 42, tierdomain.FeatureDocumentOCR)

	assert.True(t, decision.Allowed)
	assert.Equal(t, tierdomain.TierPremium, decision.CurrentTier)
	assert.Equal(t, entitlementdomain.ReasonOK, decision.Reason)
	assert.Equal(t, []string{tierdomain.FeatureDocumentOCR}, usage.featureIncrements)
}

func TestCanAccessFeature_DeniedWithUpgradePath(t *testing.T) {
	gate := newGate(&stubResolver{tier: tierdomain.TierFree}, &stubUsageService{})

	decision := gate.CanAccessFeature(context.Background(), 42, tierdomain.FeatureAdvancedSearch)

	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlementdomain.ReasonFeatureNotInTier, decision.Reason)
	assert.Equal(t,
		[]tierdomain.Tier{tierdomain.TierStarter, tierdomain.TierPremium, tierdomain.TierUltimate},
		decision.RequiredTiers,
	)
	require.NotNil(t, decision.Upgrade)
	assert.Equal(t, tierdomain.TierStarter, decision.Upgrade.Tier)
	assert.Equal(t, int64(990), decision.Upgrade.MonthlyPrice)
}

func TestCanAccessFeature_UnknownFeatureDenied(t *testing.T) {
	gate := newGate(&stubResolver{tier: tierdomain.TierUltimate}, &stubUsageService{})

	decision := gate.CanAccessFeature(context.Background(), 42, "holographic_ui")

	assert.False(t, decision.Allowed)
	assert.Empty(t, decision.RequiredTiers)
	assert.Nil(t, decision.Upgrade)
}

func TestCanAccessFeature_FailsClosedOnResolutionError(t *testing.T) {
	gate := newGate(&stubResolver{err: errors.New("store down")}, &stubUsageService{})

	decision := gate.CanAccessFeature(context.Background(), 42, tierdomain.FeatureAPIAccess)

	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlementdomain.ReasonInternalError, decision.Reason)
}

func TestCanConsumeQuota_Granted(t *testing.T) {
	gate := newGate(
		&stubResolver{tier: tierdomain.TierStarter},
		&stubUsageService{allowed: true, remaining: 12},
	)

	decision := gate.CanConsumeQuota(context.Background(), 42, usagedomain.KindQuery)

	assert.True(t, decision.Allowed)
	assert.Equal(t, 12, decision.Remaining)
	assert.Equal(t, entitlementdomain.ReasonOK, decision.Reason)
	assert.Nil(t, decision.Upgrade)
}

func TestCanConsumeQuota_DeniedWithUpgradePrompt(t *testing.T) {
	gate := newGate(
		&stubResolver{tier: tierdomain.TierStarter},
		&stubUsageService{allowed: false, remaining: 0},
	)

	decision := gate.CanConsumeQuota(context.Background(), 42, usagedomain.KindQuery)

	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlementdomain.ReasonQuotaExceeded, decision.Reason)
	require.NotNil(t, decision.Upgrade)
	// Premium is the next tier with a larger daily query cap (50 -> 200).
	assert.Equal(t, tierdomain.TierPremium, decision.Upgrade.Tier)
}

func TestCanConsumeQuota_NoPromptPastUltimate(t *testing.T) {
	gate := newGate(
		&stubResolver{tier: tierdomain.TierUltimate},
		&stubUsageService{allowed: false, remaining: 0},
	)

	decision := gate.CanConsumeQuota(context.Background(), 42, usagedomain.KindPrediction)

	assert.False(t, decision.Allowed)
	assert.Nil(t, decision.Upgrade)
}

func TestCanConsumeQuota_InvalidKindDenied(t *testing.T) {
	gate := newGate(
		&stubResolver{tier: tierdomain.TierStarter},
		&stubUsageService{err: usagedomain.ErrInvalidKind},
	)

	decision := gate.CanConsumeQuota(context.Background(), 42, usagedomain.UsageKind("tokens"))

	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlementdomain.ReasonInvalidRequest, decision.Reason)
	assert.Nil(t, decision.Upgrade)
}

func TestCanConsumeQuota_FailsOpenOnStoreError(t *testing.T) {
	gate := newGate(
		&stubResolver{tier: tierdomain.TierStarter},
		&stubUsageService{err: errors.New("store down")},
	)

	decision := gate.CanConsumeQuota(context.Background(), 42, usagedomain.KindQuery)

	assert.True(t, decision.Allowed)
	assert.Equal(t, entitlementdomain.ReasonInternalError, decision.Reason)
}
