package service

import (
	"testing"

	ratingdomain "github.com/smallbiznis/tiergate/internal/rating/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	tierservice "github.com/smallbiznis/tiergate/internal/tier/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProrationService() ratingdomain.Service {
	return NewService(ServiceParam{
		Log:     zap.NewNop(),
		Catalog: tierservice.NewService(),
	})
}

func TestProrate_MidCycleUpgrade(t *testing.T) {
	svc := newProrationService()

	// 15 days left, starter (990) to premium (2990):
	// 15 * 2000 / 30 = 1000.
	amount, err := svc.Prorate(tierdomain.TierStarter, tierdomain.TierPremium, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount)
}

func TestProrate_ZeroDaysRemaining(t *testing.T) {
	svc := newProrationService()

	amount, err := svc.Prorate(tierdomain.TierStarter, tierdomain.TierUltimate, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), amount)
}

func TestProrate_SameTierIsFree(t *testing.T) {
	svc := newProrationService()

	amount, err := svc.Prorate(tierdomain.TierPremium, tierdomain.TierPremium, 21)
	require.NoError(t, err)
	assert.Equal(t, int64(0), amount)
}

func TestProrate_Antisymmetry(t *testing.T) {
	svc := newProrationService()

	for days := 0; days <= ratingdomain.BillingCycleDays; days++ {
		up, err := svc.Prorate(tierdomain.TierStarter, tierdomain.TierUltimate, days)
		require.NoError(t, err)
		down, err := svc.Prorate(tierdomain.TierUltimate, tierdomain.TierStarter, days)
		require.NoError(t, err)
		assert.Equal(t, up, -down, "days=%d", days)
	}
}

func TestProrate_FullCycleEqualsPriceDelta(t *testing.T) {
	svc := newProrationService()

	amount, err := svc.Prorate(tierdomain.TierFree, tierdomain.TierPremium, ratingdomain.BillingCycleDays)
	require.NoError(t, err)
	assert.Equal(t, int64(2990), amount)
}

func TestProrate_InvalidInputs(t *testing.T) {
	svc := newProrationService()

	_, err := svc.Prorate(tierdomain.TierStarter, tierdomain.TierPremium, -1)
	assert.ErrorIs(t, err, ratingdomain.ErrInvalidDaysRemaining)

	_, err = svc.Prorate(tierdomain.Tier("platinum"), tierdomain.TierPremium, 10)
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)

	_, err = svc.Prorate(tierdomain.TierStarter, tierdomain.Tier("platinum"), 10)
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)
}
