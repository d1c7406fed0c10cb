// Package domain defines entitlement decision types. Decisions are values,
// never errors: a denied check carries its reason and an upgrade path so the
// edge can render it without interpreting Go errors.
package domain

import (
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
	usagedomain "github.com/smallbiznis/tiergate/internal/usage/domain"
)

// Decision reason codes.
const (
	ReasonOK               = "ok"
	ReasonFeatureNotInTier = "feature_not_in_tier"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonInvalidRequest   = "invalid_request"
	ReasonInternalError    = "internal_error"
)

// UpgradePrompt names the cheapest tier that would lift the denial.
type UpgradePrompt struct {
	Tier         tierdomain.Tier `json:"tier"`
	MonthlyPrice int64           `json:"monthly_price"`
}

// FeatureDecision is the outcome of a feature gate check.
type FeatureDecision struct {
	Allowed       bool              `json:"allowed"`
	CurrentTier   tierdomain.Tier   `json:"current_tier"`
	RequiredTiers []tierdomain.Tier `json:"required_tiers,omitempty"`
	Reason        string            `json:"reason"`
	Upgrade       *UpgradePrompt    `json:"upgrade,omitempty"`
}

// QuotaDecision is the outcome of a quota consumption check. Remaining is
// post-consumption, -1 when unlimited.
type QuotaDecision struct {
	Allowed     bool                  `json:"allowed"`
	Kind        usagedomain.UsageKind `json:"kind"`
	Remaining   int                   `json:"remaining"`
	CurrentTier tierdomain.Tier       `json:"current_tier"`
	Reason      string                `json:"reason"`
	Upgrade     *UpgradePrompt        `json:"upgrade,omitempty"`
}
