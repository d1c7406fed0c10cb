package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tiergate/internal/clock"
	"github.com/smallbiznis/tiergate/internal/config"
	"github.com/smallbiznis/tiergate/internal/notifier"
	ratingservice "github.com/smallbiznis/tiergate/internal/rating/service"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/tiergate/internal/subscription/repository"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	tierservice "github.com/smallbiznis/tiergate/internal/tier/service"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	usagerepository "github.com/smallbiznis/tiergate/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type subscriptionTestEnv struct {
	db        *gorm.DB
	svc       subscriptiondomain.Service
	clock     *clock.FakeClock
	node      *snowflake.Node
	usageRepo usagedomain.Repository
}

func setupSubscriptionTest(t *testing.T) *subscriptionTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&usagedomain.UsageRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	catalog := tierservice.NewService()
	usageRepo := usagerepository.Provide()
	dispatch := notifier.NewDispatcher(notifier.NewLogNotifier(zap.NewNop()), zap.NewNop())

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Cfg:   config.Config{BulkFailureAlertRate: 0.01},
		GenID: node,
		Clock: fake,
		Repo:  subscriptionrepository.Provide(),

		Catalog: catalog,
		RatingSvc: ratingservice.NewService(ratingservice.ServiceParam{
			Log:     zap.NewNop(),
			Catalog: catalog,
		}),
		UsageRepo: usageRepo,
		Dispatch:  dispatch,
	})

	return &subscriptionTestEnv{
		db:        db,
		svc:       svc,
		clock:     fake,
		node:      node,
		usageRepo: usageRepo,
	}
}

func (e *subscriptionTestEnv) activate(t *testing.T, userID snowflake.ID, tier tierdomain.Tier, days int) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := e.svc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
		UserID:       userID,
		Tier:         tier,
		DurationDays: days,
	})
	require.NoError(t, err)
	return sub
}

func TestActivate_CreatesActiveSubscription(t *testing.T) {
	env := setupSubscriptionTest(t)
	userID := env.node.Generate()
	now := env.clock.Now()

	sub := env.activate(t, userID, tierdomain.TierStarter, 30)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, tierdomain.TierStarter, sub.Tier)
	assert.Equal(t, now, sub.StartDate)
	assert.Equal(t, now.Add(30*24*time.Hour), sub.EndDate)
	assert.True(t, sub.AutoRenew)
}

func TestActivate_RenewalKeepsSingleRow(t *testing.T) {
	env := setupSubscriptionTest(t)
	userID := env.node.Generate()

	first := env.activate(t, userID, tierdomain.TierStarter, 30)
	env.clock.Advance(10 * 24 * time.Hour)
	second := env.activate(t, userID, tierdomain.TierPremium, 30)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, tierdomain.TierPremium, second.Tier)
	assert.Equal(t, env.clock.Now().Add(30*24*time.Hour), second.EndDate)

	var count int64
	require.NoError(t, env.db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestActivate_Validation(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()

	_, err := env.svc.Activate(ctx, subscriptiondomain.ActivateRequest{Tier: tierdomain.TierStarter, DurationDays: 30})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	_, err = env.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: env.node.Generate(), Tier: tierdomain.TierStarter})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidDuration)

	_, err = env.svc.Activate(ctx, subscriptiondomain.ActivateRequest{UserID: env.node.Generate(), Tier: tierdomain.Tier("platinum"), DurationDays: 30})
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)
}

func TestActivateFromPayment(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	_, err := env.svc.ActivateFromPayment(ctx, subscriptiondomain.PaymentEvent{
		Type:   subscriptiondomain.PaymentEventPending,
		UserID: userID, Tier: tierdomain.TierStarter, DurationDays: 30, ExternalRef: "ord_1",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPaymentEvent)

	_, err = env.svc.ActivateFromPayment(ctx, subscriptiondomain.PaymentEvent{
		Type:   subscriptiondomain.PaymentEventCaptured,
		UserID: userID, Tier: tierdomain.TierStarter, DurationDays: 30,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrMissingExternalRef)

	sub, err := env.svc.ActivateFromPayment(ctx, subscriptiondomain.PaymentEvent{
		Type:   subscriptiondomain.PaymentEventCaptured,
		UserID: userID, Tier: tierdomain.TierPremium, DurationDays: 365, ExternalRef: "ord_2",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "ord_2", sub.ExternalRef)
}

func TestCreatePending(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	pending, err := env.svc.CreatePending(ctx, userID, tierdomain.TierPremium, "ord_9")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPending, pending.Status)

	// Pending never grants a tier.
	tier, err := env.svc.ResolveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierFree, tier)

	env.activate(t, userID, tierdomain.TierPremium, 30)

	_, err = env.svc.CreatePending(ctx, userID, tierdomain.TierUltimate, "ord_10")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestUpgrade_ImmediateWithProrationAndCapRaise(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	env.activate(t, userID, tierdomain.TierStarter, 30)
	env.clock.Advance(15 * 24 * time.Hour)
	now := env.clock.Now()
	day := usagedomain.DayOf(now)

	// Today's counters were created under starter limits.
	require.NoError(t, env.usageRepo.Insert(ctx, env.db, &usagedomain.UsageRecord{
		ID: env.node.Generate(), UserID: userID, Day: day,
		QueryCount: 47, QueriesLimit: 50,
		PredictionCount: 2, PredictionsLimit: 100,
		FeatureUsage: datatypes.JSONMap{},
		CreatedAt:    now, UpdatedAt: now,
	}))

	result, err := env.svc.Upgrade(ctx, userID, tierdomain.TierPremium)
	require.NoError(t, err)

	// 15 days at (2990-990)/30 per day.
	assert.Equal(t, int64(1000), result.ProratedAmount)
	assert.Equal(t, tierdomain.TierPremium, result.Subscription.Tier)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, result.Subscription.Status)

	// The billing window did not move.
	sub, err := env.svc.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*24*time.Hour), sub.EndDate)

	// Today's caps were raised in place, counts preserved.
	rec, err := env.usageRepo.FindByUserDay(ctx, env.db, userID, day)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 47, rec.QueryCount)
	assert.Equal(t, 200, rec.QueriesLimit)
	assert.Equal(t, 500, rec.PredictionsLimit)
}

func TestUpgrade_RejectsNonUpgrade(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	_, err := env.svc.Upgrade(ctx, userID, tierdomain.TierPremium)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	env.activate(t, userID, tierdomain.TierPremium, 30)

	_, err = env.svc.Upgrade(ctx, userID, tierdomain.TierStarter)
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotAnUpgrade)

	_, err = env.svc.Upgrade(ctx, userID, tierdomain.TierPremium)
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotAnUpgrade)
}

func TestUpgrade_ClearsPendingDowngrade(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	env.activate(t, userID, tierdomain.TierPremium, 30)

	_, err := env.svc.Downgrade(ctx, userID, tierdomain.TierStarter)
	require.NoError(t, err)

	result, err := env.svc.Upgrade(ctx, userID, tierdomain.TierUltimate)
	require.NoError(t, err)
	assert.Nil(t, result.Subscription.ScheduledTierChange)
	assert.Nil(t, result.Subscription.ScheduledChangeDate)
}

func TestDowngrade_DeferredUntilSweep(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	activated := env.activate(t, userID, tierdomain.TierPremium, 30)

	sub, err := env.svc.Downgrade(ctx, userID, tierdomain.TierStarter)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierPremium, sub.Tier)
	require.NotNil(t, sub.ScheduledTierChange)
	assert.Equal(t, tierdomain.TierStarter, *sub.ScheduledTierChange)
	require.NotNil(t, sub.ScheduledChangeDate)
	assert.Equal(t, activated.EndDate, *sub.ScheduledChangeDate)

	// Sweeping before the cycle ends changes nothing.
	report, err := env.svc.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)

	tier, err := env.svc.ResolveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierPremium, tier)

	// Past the end date the sweep applies the change and rolls the window.
	env.clock.Advance(31 * 24 * time.Hour)
	report, err = env.svc.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downgraded)
	assert.Equal(t, 0, report.Expired)

	sub, err = env.svc.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierStarter, sub.Tier)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.ScheduledTierChange)
	assert.Equal(t, activated.EndDate, sub.StartDate)
	assert.Equal(t, activated.EndDate.Add(30*24*time.Hour), sub.EndDate)
}

func TestDowngrade_RejectsNonDowngrade(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	env.activate(t, userID, tierdomain.TierStarter, 30)

	_, err := env.svc.Downgrade(ctx, userID, tierdomain.TierPremium)
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotADowngrade)
}

func TestCancel_PreservesAccessUntilEndDate(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	userID := env.node.Generate()

	env.activate(t, userID, tierdomain.TierPremium, 30)

	sub, err := env.svc.Cancel(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.AutoRenew)
	require.NotNil(t, sub.CancelledAt)

	_, err = env.svc.Cancel(ctx, userID)
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyCancelled)

	tier, err := env.svc.ResolveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierPremium, tier)

	// After the paid window the sweep expires and collapses the tier.
	env.clock.Advance(31 * 24 * time.Hour)
	report, err := env.svc.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	sub, err = env.svc.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, tierdomain.TierFree, sub.Tier)

	tier, err = env.svc.ResolveTier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierFree, tier)
}

func TestSweep_ExpiresDueOnlyAndIsIdempotent(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	dueUser := env.node.Generate()
	freshUser := env.node.Generate()

	env.activate(t, dueUser, tierdomain.TierPremium, 10)
	env.activate(t, freshUser, tierdomain.TierStarter, 60)

	env.clock.Advance(11 * 24 * time.Hour)
	report, err := env.svc.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Expired)
	assert.False(t, report.AlertTriggered)

	// Uncancelled expiry keeps the last paid tier on the row.
	sub, err := env.svc.GetByUserID(ctx, dueUser)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, tierdomain.TierPremium, sub.Tier)

	fresh, err := env.svc.GetByUserID(ctx, freshUser)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, fresh.Status)

	// Re-running with no time advance is a no-op.
	report, err = env.svc.Sweep(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
}

func TestResolveTier_DefaultsToFree(t *testing.T) {
	env := setupSubscriptionTest(t)

	tier, err := env.svc.ResolveTier(context.Background(), env.node.Generate())
	require.NoError(t, err)
	assert.Equal(t, tierdomain.TierFree, tier)
}

func TestFindExpiring_ExactWindow(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()
	in7 := env.node.Generate()
	in3 := env.node.Generate()

	env.activate(t, in7, tierdomain.TierStarter, 7)
	env.activate(t, in3, tierdomain.TierStarter, 3)

	subs, err := env.svc.FindExpiring(ctx, env.clock.Now(), 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, in7, subs[0].UserID)
}

func TestList_FilterAndPageSize(t *testing.T) {
	env := setupSubscriptionTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.activate(t, env.node.Generate(), tierdomain.TierStarter, 30)
	}

	resp, err := env.svc.List(ctx, subscriptiondomain.ListSubscriptionRequest{Status: "active", PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Subscriptions, 2)
	assert.True(t, resp.HasMore)

	_, err = env.svc.List(ctx, subscriptiondomain.ListSubscriptionRequest{Status: "bogus"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

type failingExpireRepo struct {
	subscriptiondomain.Repository
	failID snowflake.ID
}

func (r *failingExpireRepo) Expire(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time, collapseTier tierdomain.Tier, collapse bool) (bool, error) {
	if id == r.failID {
		return false, gorm.ErrInvalidDB
	}
	return r.Repository.Expire(ctx, db, id, now, collapseTier, collapse)
}

func TestSweep_CountsFailedRowsOnce(t *testing.T) {
	env := setupSubscriptionTest(t)
	repo := &failingExpireRepo{Repository: subscriptionrepository.Provide()}
	catalog := tierservice.NewService()
	svc := NewService(ServiceParam{
		DB:    env.db,
		Log:   zap.NewNop(),
		Cfg:   config.Config{BulkFailureAlertRate: 0.01},
		GenID: env.node,
		Clock: env.clock,
		Repo:  repo,

		Catalog: catalog,
		RatingSvc: ratingservice.NewService(ratingservice.ServiceParam{
			Log:     zap.NewNop(),
			Catalog: catalog,
		}),
		UsageRepo: env.usageRepo,
		Dispatch:  notifier.NewDispatcher(notifier.NewLogNotifier(zap.NewNop()), zap.NewNop()),
	})

	// One more row than a sweep batch holds, so the run pages twice and the
	// failed row comes back in the second page.
	total := sweepBatchSize + 1
	var failing subscriptiondomain.Subscription
	for i := 0; i < total; i++ {
		sub := env.activate(t, env.node.Generate(), tierdomain.TierStarter, 30)
		if i == 0 {
			failing = sub
		}
	}
	repo.failID = failing.ID

	env.clock.Advance(31 * 24 * time.Hour)
	report, err := svc.Sweep(context.Background(), env.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, total, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, total-1, report.Expired)
}
