package domain

// Service exposes catalog lookups. Unknown tiers fail closed: callers get
// ErrTierNotFound and must deny rather than guess.
type Service interface {
	// GetConfig returns the definition for a tier or ErrTierNotFound.
	GetConfig(tier Tier) (TierDefinition, error)

	// Compare orders two tiers: -1 when a < b, 0 when equal, 1 when a > b.
	// Unknown tiers sort below free.
	Compare(a, b Tier) int

	IsUpgrade(from, to Tier) bool
	IsDowngrade(from, to Tier) bool

	// GetPrice returns the catalog price in minor units. The free tier has
	// no price and returns ErrTierNotPriced.
	GetPrice(tier Tier, duration PriceDuration) (int64, error)

	// List returns all definitions in ascending tier order.
	List() []TierDefinition

	// TiersWithFeature returns the tiers whose flag set grants the feature,
	// in ascending order.
	TiersWithFeature(code string) []Tier
}
