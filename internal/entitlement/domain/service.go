package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
)

// Service is the single decision point callers consult before serving a
// gated feature or consuming a metered unit.
//
// The two checks resolve internal errors in opposite directions. A feature
// check fails closed: granting a paid capability by accident leaks revenue.
// A quota check fails open: a store hiccup must not take query serving down
// for every user at once.
type Service interface {
	// CanAccessFeature reports whether the user's current tier grants the
	// feature. Never returns an error; resolution failures deny.
	CanAccessFeature(ctx context.Context, userID snowflake.ID, feature string) FeatureDecision

	// CanConsumeQuota atomically consumes one unit of the kind when the
	// user is below their cap. Never returns an error; store failures allow.
	CanConsumeQuota(ctx context.Context, userID snowflake.ID, kind usagedomain.UsageKind) QuotaDecision
}
