package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetOrCreate returns the counter row for (user, day), lazily creating
	// it with limits seeded from the user's current tier.
	GetOrCreate(ctx context.Context, userID snowflake.ID, day time.Time) (UsageRecord, error)

	// CheckAndIncrement atomically consumes one unit of quota. Returns
	// whether the unit was granted and the remaining allowance (-1 when
	// unlimited). Denial mutates nothing.
	CheckAndIncrement(ctx context.Context, userID snowflake.ID, kind UsageKind) (bool, int, error)

	// ResetDaily (re)creates today's record for every known user with
	// limits resolved from their current tier. Per-user failures are
	// counted, never fatal to the batch.
	ResetDaily(ctx context.Context, asOf time.Time) (BulkReport, error)

	// ResetMonthlyPredictions zeroes prediction counters for every known
	// user, same bulk semantics as ResetDaily.
	ResetMonthlyPredictions(ctx context.Context, asOf time.Time) (BulkReport, error)

	// RaiseLimitsForDay raises the caps of an existing record in place,
	// used by immediate upgrades.
	RaiseLimitsForDay(ctx context.Context, userID snowflake.ID, day time.Time, queriesLimit, predictionsLimit int) error

	// IncrementFeatureUsage is a best-effort observability counter with no
	// enforcement semantics.
	IncrementFeatureUsage(ctx context.Context, userID snowflake.ID, feature string) error
}

var (
	ErrInvalidUser = errors.New("invalid_user")
	ErrInvalidKind = errors.New("invalid_usage_kind")
)
