package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	"github.com/smallbiznis/tiergate/pkg/db/pagination"
)

type ActivateRequest struct {
	UserID       snowflake.ID
	Tier         tierdomain.Tier
	DurationDays int
	ExternalRef  string
}

type UpgradeResult struct {
	Subscription   Subscription
	ProratedAmount int64
}

type ListSubscriptionRequest struct {
	Status    string
	PageToken string
	PageSize  int32
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type Service interface {
	// Activate upserts the user's subscription into ACTIVE with a fresh
	// billing window and clears any scheduled change.
	Activate(ctx context.Context, req ActivateRequest) (Subscription, error)

	// ActivateFromPayment applies an already-verified gateway event.
	ActivateFromPayment(ctx context.Context, event PaymentEvent) (Subscription, error)

	// CreatePending records a subscription awaiting payment capture.
	CreatePending(ctx context.Context, userID snowflake.ID, tier tierdomain.Tier, ref string) (Subscription, error)

	// Upgrade swaps the tier immediately, keeps the billing window, raises
	// today's usage caps and returns the prorated amount for the caller to
	// bill.
	Upgrade(ctx context.Context, userID snowflake.ID, newTier tierdomain.Tier) (UpgradeResult, error)

	// Downgrade defers the change to the end of the current cycle.
	Downgrade(ctx context.Context, userID snowflake.ID, newTier tierdomain.Tier) (Subscription, error)

	// Cancel turns off auto-renew; access is preserved until EndDate.
	Cancel(ctx context.Context, userID snowflake.ID) (Subscription, error)

	GetByUserID(ctx context.Context, userID snowflake.ID) (Subscription, error)

	// ResolveTier maps a user to their effective tier; users without an
	// ACTIVE subscription resolve to free.
	ResolveTier(ctx context.Context, userID snowflake.ID) (tierdomain.Tier, error)

	// Sweep expires due subscriptions and applies deferred downgrades.
	// Idempotent: re-running with no time advance is a no-op.
	Sweep(ctx context.Context, now time.Time) (SweepReport, error)

	// FindExpiring returns ACTIVE subscriptions with exactly daysRemaining
	// whole days left as of asOf.
	FindExpiring(ctx context.Context, asOf time.Time, daysRemaining int) ([]Subscription, error)

	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidDuration       = errors.New("invalid_duration")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrNotAnUpgrade          = errors.New("not_an_upgrade")
	ErrNotADowngrade         = errors.New("not_a_downgrade")
	ErrAlreadyCancelled      = errors.New("already_cancelled")
	ErrInvalidPaymentEvent   = errors.New("invalid_payment_event")
	ErrMissingExternalRef    = errors.New("missing_external_ref")
)
