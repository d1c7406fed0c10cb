package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence port for usage counters. The conditional
// increment is the linearization point for quota enforcement: one UPDATE
// per call, guarded by the cap, so concurrent callers for the same
// (user, day) can never over-consume.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rec *UsageRecord) error
	FindByUserDay(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time) (*UsageRecord, error)

	// IncrementIfBelow bumps the counter for kind when below the cap (or
	// the cap is -1). Returns false without mutation when at/over cap.
	IncrementIfBelow(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, kind UsageKind, now time.Time) (bool, error)

	// UpsertReset (re)creates the row for (user, day) with zeroed counters
	// and the given limits.
	UpsertReset(ctx context.Context, db *gorm.DB, rec *UsageRecord) error

	// ResetPredictions zeroes the prediction counter and refreshes its
	// limit, leaving query counters untouched.
	ResetPredictions(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, predictionsLimit int, now time.Time) error

	// RaiseLimits swaps in new caps for an existing row (in-place upgrade).
	// Returns false when no row exists for (user, day).
	RaiseLimits(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, queriesLimit, predictionsLimit int, now time.Time) (bool, error)

	// IncrementFeature bumps the observability-only feature counter.
	IncrementFeature(ctx context.Context, db *gorm.DB, userID snowflake.ID, day time.Time, feature string, now time.Time) error
}
