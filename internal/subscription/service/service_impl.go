package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tiergate/internal/clock"
	"github.com/smallbiznis/tiergate/internal/config"
	"github.com/smallbiznis/tiergate/internal/notifier"
	ratingdomain "github.com/smallbiznis/tiergate/internal/rating/domain"
	subscriptiondomain "github.com/smallbiznis/tiergate/internal/subscription/domain"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
	"github.com/smallbiznis/tiergate/pkg/db/option"
	"github.com/smallbiznis/tiergate/pkg/db/pagination"
	"github.com/smallbiznis/tiergate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const standardCycle = ratingdomain.BillingCycleDays * 24 * time.Hour

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository

	Catalog   tierdomain.Service
	RatingSvc ratingdomain.Service
	UsageRepo usagedomain.Repository
	Dispatch  *notifier.Dispatcher
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	alertRate float64

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository

	catalog   tierdomain.Service
	ratingSvc ratingdomain.Service
	usageRepo usagedomain.Repository
	dispatch  *notifier.Dispatcher

	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	alertRate := p.Cfg.BulkFailureAlertRate
	if alertRate <= 0 {
		alertRate = 0.01
	}

	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		alertRate: alertRate,

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		catalog:   p.Catalog,
		ratingSvc: p.RatingSvc,
		usageRepo: p.UsageRepo,
		dispatch:  p.Dispatch,

		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
	}
}

// Activate implements domain.Service.
func (s *Service) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (subscriptiondomain.Subscription, error) {
	if req.UserID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}
	if req.DurationDays <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidDuration
	}
	if _, err := s.catalog.GetConfig(req.Tier); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now().UTC()
	sub := subscriptiondomain.Subscription{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Tier:        req.Tier,
		Status:      subscriptiondomain.SubscriptionStatusActive,
		StartDate:   now,
		EndDate:     now.Add(time.Duration(req.DurationDays) * 24 * time.Hour),
		AutoRenew:   true,
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Upsert(ctx, s.db, &sub); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	// Re-read so callers see the canonical row (the upsert keeps the
	// original id when a row already existed).
	stored, err := s.repo.FindByUserID(ctx, s.db, req.UserID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if stored == nil {
		return sub, nil
	}
	return *stored, nil
}

// ActivateFromPayment implements domain.Service.
func (s *Service) ActivateFromPayment(ctx context.Context, event subscriptiondomain.PaymentEvent) (subscriptiondomain.Subscription, error) {
	if event.Type != subscriptiondomain.PaymentEventCaptured {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidPaymentEvent
	}
	if strings.TrimSpace(event.ExternalRef) == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrMissingExternalRef
	}

	return s.Activate(ctx, subscriptiondomain.ActivateRequest{
		UserID:       event.UserID,
		Tier:         event.Tier,
		DurationDays: event.DurationDays,
		ExternalRef:  event.ExternalRef,
	})
}

// CreatePending implements domain.Service.
func (s *Service) CreatePending(ctx context.Context, userID snowflake.ID, tier tierdomain.Tier, ref string) (subscriptiondomain.Subscription, error) {
	if userID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}
	if _, err := s.catalog.GetConfig(tier); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	existing, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if existing != nil && existing.Status == subscriptiondomain.SubscriptionStatusActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}

	// Pending rows hold a one-day placeholder window; activation from the
	// captured payment replaces it.
	now := s.clock.Now().UTC()
	sub := subscriptiondomain.Subscription{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Tier:        tier,
		Status:      subscriptiondomain.SubscriptionStatusPending,
		StartDate:   now,
		EndDate:     now.Add(24 * time.Hour),
		AutoRenew:   false,
		ExternalRef: strings.TrimSpace(ref),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Upsert(ctx, s.db, &sub); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return sub, nil
}

// Upgrade implements domain.Service. The tier swaps immediately, the billing
// window stays, and today's usage caps are raised inside the same
// transaction so the very next quota check sees the new limits.
func (s *Service) Upgrade(ctx context.Context, userID snowflake.ID, newTier tierdomain.Tier) (subscriptiondomain.UpgradeResult, error) {
	newDef, err := s.catalog.GetConfig(newTier)
	if err != nil {
		return subscriptiondomain.UpgradeResult{}, err
	}

	now := s.clock.Now().UTC()
	var result subscriptiondomain.UpgradeResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		if !s.catalog.IsUpgrade(sub.Tier, newTier) {
			return subscriptiondomain.ErrNotAnUpgrade
		}

		amount, err := s.ratingSvc.Prorate(sub.Tier, newTier, sub.DaysRemaining(now))
		if err != nil {
			return err
		}

		sub.Tier = newTier
		// An immediate upgrade supersedes any pending downgrade.
		sub.ScheduledTierChange = nil
		sub.ScheduledChangeDate = nil
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		// Raise today's caps in place; a missing row means no usage yet
		// today and the next lazy create seeds the new tier's limits.
		if _, err := s.usageRepo.RaiseLimits(ctx, tx, userID, usagedomain.DayOf(now), newDef.QueriesPerDay, newDef.PredictionsPerMonth, now); err != nil {
			return err
		}

		result = subscriptiondomain.UpgradeResult{
			Subscription:   *sub,
			ProratedAmount: amount,
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.UpgradeResult{}, err
	}

	return result, nil
}

// Downgrade implements domain.Service. Nothing changes now; the sweep
// applies the new tier when the current cycle ends.
func (s *Service) Downgrade(ctx context.Context, userID snowflake.ID, newTier tierdomain.Tier) (subscriptiondomain.Subscription, error) {
	if _, err := s.catalog.GetConfig(newTier); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now().UTC()
	var updated subscriptiondomain.Subscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		if !s.catalog.IsDowngrade(sub.Tier, newTier) {
			return subscriptiondomain.ErrNotADowngrade
		}

		tier := newTier
		changeDate := sub.EndDate
		sub.ScheduledTierChange = &tier
		sub.ScheduledChangeDate = &changeDate
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		updated = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	return updated, nil
}

// Cancel implements domain.Service. Access is preserved until EndDate; the
// sweep collapses the row afterwards.
func (s *Service) Cancel(ctx context.Context, userID snowflake.ID) (subscriptiondomain.Subscription, error) {
	now := s.clock.Now().UTC()
	var updated subscriptiondomain.Subscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		if sub.CancelledAt != nil {
			return subscriptiondomain.ErrAlreadyCancelled
		}

		cancelledAt := now
		sub.AutoRenew = false
		sub.CancelledAt = &cancelledAt
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		updated = *sub
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	return updated, nil
}

// GetByUserID implements domain.Service.
func (s *Service) GetByUserID(ctx context.Context, userID snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

// ResolveTier implements domain.Service. Users without an ACTIVE
// subscription resolve to the free tier rather than erroring.
func (s *Service) ResolveTier(ctx context.Context, userID snowflake.ID) (tierdomain.Tier, error) {
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return "", err
	}
	if sub == nil || sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return tierdomain.TierFree, nil
	}
	return sub.Tier, nil
}

// FindExpiring implements domain.Service.
func (s *Service) FindExpiring(ctx context.Context, asOf time.Time, daysRemaining int) ([]subscriptiondomain.Subscription, error) {
	from := asOf.UTC().Add(time.Duration(daysRemaining) * 24 * time.Hour)
	to := from.Add(24 * time.Hour)
	return s.repo.FindExpiringBetween(ctx, s.db, from, to)
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	filter := &subscriptiondomain.Subscription{}
	if status := strings.TrimSpace(req.Status); status != "" {
		switch subscriptiondomain.SubscriptionStatus(strings.ToUpper(status)) {
		case subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusCancelled,
			subscriptiondomain.SubscriptionStatusExpired,
			subscriptiondomain.SubscriptionStatusPending:
			filter.Status = subscriptiondomain.SubscriptionStatus(strings.ToUpper(status))
		default:
			return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidStatus
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.subscriptionRepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy("created_at", "desc", map[string]bool{"created_at": true}),
	)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *subscriptiondomain.Subscription) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		return token
	})
	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	resp := subscriptiondomain.ListSubscriptionResponse{PageInfo: *pageInfo}
	for _, item := range items {
		resp.Subscriptions = append(resp.Subscriptions, *item)
	}
	return resp, nil
}
