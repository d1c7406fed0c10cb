// Package domain defines the static tier catalog consumed by the
// entitlement, usage and subscription services.
package domain

import "errors"

// Tier is a named subscription level. Tiers form a total order:
// free < starter < premium < ultimate.
type Tier string

const (
	TierFree     Tier = "free"
	TierStarter  Tier = "starter"
	TierPremium  Tier = "premium"
	TierUltimate Tier = "ultimate"
)

// Unlimited marks a cap that is never enforced.
const Unlimited = -1

// PriceDuration selects which catalog price applies.
type PriceDuration string

const (
	DurationMonthly PriceDuration = "monthly"
	DurationYearly  PriceDuration = "yearly"
)

// Feature codes gated by tier.
const (
	FeatureAdvancedSearch   = "advanced_search"
	FeatureExportReports    = "export_reports"
	FeatureDocumentOCR      = "document_ocr"
	FeatureBatchPredictions = "batch_predictions"
	FeatureAPIAccess        = "api_access"
	FeaturePrioritySupport  = "priority_support"
)

// TierDefinition captures limits, prices and feature flags for one tier.
// Prices are integer minor-currency units. Definitions are immutable and
// owned by the catalog.
type TierDefinition struct {
	ID                  Tier
	DisplayName         string
	MonthlyPrice        int64
	YearlyPrice         int64
	QueriesPerDay       int
	PredictionsPerMonth int
	Features            []string
}

// HasFeature reports whether the tier's flag set contains the feature code.
func (d TierDefinition) HasFeature(code string) bool {
	for _, f := range d.Features {
		if f == code {
			return true
		}
	}
	return false
}

var (
	ErrTierNotFound    = errors.New("tier_not_found")
	ErrTierNotPriced   = errors.New("tier_not_priced")
	ErrInvalidDuration = errors.New("invalid_price_duration")
)
