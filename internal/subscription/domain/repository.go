package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	"gorm.io/gorm"
)

// Repository is the persistence port for subscriptions. Mutations that
// enforce lifecycle invariants use conditional updates so that concurrent
// sweep workers stay idempotent without long-held locks.
type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error

	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)

	// FindDue returns ACTIVE rows with end_date <= now, oldest first.
	FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)

	// FindExpiringBetween returns ACTIVE rows whose end_date falls inside
	// [from, to).
	FindExpiringBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Subscription, error)

	// ListUserIDs returns every user known to the engine: subscription
	// holders plus users with historical usage rows.
	ListUserIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)

	// ApplyScheduledChange atomically applies a due deferred tier change,
	// rolling the billing window forward. Returns false when another worker
	// already applied it.
	ApplyScheduledChange(ctx context.Context, db *gorm.DB, id snowflake.ID, newTier tierdomain.Tier, now, newStart, newEnd time.Time) (bool, error)

	// Expire atomically marks a due ACTIVE row EXPIRED, collapsing the tier
	// to free when the row was cancelled. Returns false when another worker
	// already expired it.
	Expire(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time, collapseTier tierdomain.Tier, collapse bool) (bool, error)
}
