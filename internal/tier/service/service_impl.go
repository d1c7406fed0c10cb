package service

import (
	tierdomain "github.com/smallbiznis/tiergate/internal/tier/domain"
)

// catalog holds the static tier table. Order matters: index is rank.
var catalog = []tierdomain.TierDefinition{
	{
		ID:                  tierdomain.TierFree,
		DisplayName:         "Free",
		MonthlyPrice:        0,
		YearlyPrice:         0,
		QueriesPerDay:       10,
		PredictionsPerMonth: 5,
		Features:            nil,
	},
	{
		ID:                  tierdomain.TierStarter,
		DisplayName:         "Starter",
		MonthlyPrice:        990,
		YearlyPrice:         9900,
		QueriesPerDay:       50,
		PredictionsPerMonth: 100,
		Features: []string{
			tierdomain.FeatureAdvancedSearch,
			tierdomain.FeatureExportReports,
		},
	},
	{
		ID:                  tierdomain.TierPremium,
		DisplayName:         "Premium",
		MonthlyPrice:        2990,
		YearlyPrice:         29900,
		QueriesPerDay:       200,
		PredictionsPerMonth: 500,
		Features: []string{
			tierdomain.FeatureAdvancedSearch,
			tierdomain.FeatureExportReports,
			tierdomain.FeatureDocumentOCR,
			tierdomain.FeatureBatchPredictions,
			tierdomain.FeatureAPIAccess,
		},
	},
	{
		ID:                  tierdomain.TierUltimate,
		DisplayName:         "Ultimate",
		MonthlyPrice:        9990,
		YearlyPrice:         99900,
		QueriesPerDay:       tierdomain.Unlimited,
		PredictionsPerMonth: 2000,
		Features: []string{
			tierdomain.FeatureAdvancedSearch,
			tierdomain.FeatureExportReports,
			tierdomain.FeatureDocumentOCR,
			tierdomain.FeatureBatchPredictions,
			tierdomain.FeatureAPIAccess,
			tierdomain.FeaturePrioritySupport,
		},
	},
}

type Service struct {
	rank map[tierdomain.Tier]int
}

func NewService() tierdomain.Service {
	rank := make(map[tierdomain.Tier]int, len(catalog))
	for i, def := range catalog {
		rank[def.ID] = i
	}
	return &Service{rank: rank}
}

// GetConfig implements domain.Service.
func (s *Service) GetConfig(tier tierdomain.Tier) (tierdomain.TierDefinition, error) {
	idx, ok := s.rank[tier]
	if !ok {
		return tierdomain.TierDefinition{}, tierdomain.ErrTierNotFound
	}
	return catalog[idx], nil
}

// Compare implements domain.Service. Unknown tiers rank below free so that
// IsUpgrade never fires toward an unknown tier.
func (s *Service) Compare(a, b tierdomain.Tier) int {
	ra, rb := s.rankOf(a), s.rankOf(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

func (s *Service) IsUpgrade(from, to tierdomain.Tier) bool {
	if _, ok := s.rank[to]; !ok {
		return false
	}
	return s.Compare(from, to) < 0
}

func (s *Service) IsDowngrade(from, to tierdomain.Tier) bool {
	if _, ok := s.rank[to]; !ok {
		return false
	}
	return s.Compare(from, to) > 0
}

// GetPrice implements domain.Service.
func (s *Service) GetPrice(tier tierdomain.Tier, duration tierdomain.PriceDuration) (int64, error) {
	def, err := s.GetConfig(tier)
	if err != nil {
		return 0, err
	}
	if def.ID == tierdomain.TierFree {
		return 0, tierdomain.ErrTierNotPriced
	}

	switch duration {
	case tierdomain.DurationMonthly:
		return def.MonthlyPrice, nil
	case tierdomain.DurationYearly:
		return def.YearlyPrice, nil
	default:
		return 0, tierdomain.ErrInvalidDuration
	}
}

// List implements domain.Service.
func (s *Service) List() []tierdomain.TierDefinition {
	out := make([]tierdomain.TierDefinition, len(catalog))
	copy(out, catalog)
	return out
}

// TiersWithFeature implements domain.Service.
func (s *Service) TiersWithFeature(code string) []tierdomain.Tier {
	var out []tierdomain.Tier
	for _, def := range catalog {
		if def.HasFeature(code) {
			out = append(out, def.ID)
		}
	}
	return out
}

func (s *Service) rankOf(t tierdomain.Tier) int {
	if idx, ok := s.rank[t]; ok {
		return idx
	}
	return -1
}
