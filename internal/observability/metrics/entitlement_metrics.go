package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"

	FailPolicyOpen   = "open"
	FailPolicyClosed = "closed"
)

// EntitlementMetrics counts gate decisions and fail-open/fail-closed events.
type EntitlementMetrics struct {
	featureDecisions *prometheus.CounterVec
	quotaDecisions   *prometheus.CounterVec
	failPolicyHits   *prometheus.CounterVec
}

var (
	entitlementMetricsOnce sync.Once
	entitlementMetrics     *EntitlementMetrics
)

// Entitlement returns the singleton entitlement metrics registry.
func Entitlement() *EntitlementMetrics {
	entitlementMetricsOnce.Do(func() {
		entitlementMetrics = newEntitlementMetrics(prometheus.DefaultRegisterer)
	})
	return entitlementMetrics
}

// ResetEntitlementMetricsForTest resets the entitlement metrics singleton for tests.
func ResetEntitlementMetricsForTest() {
	entitlementMetricsOnce = sync.Once{}
	entitlementMetrics = nil
}

func newEntitlementMetrics(registerer prometheus.Registerer) *EntitlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	featureDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_feature_decisions_total",
		Help: "Feature access decisions by outcome.",
	}, []string{"feature", "decision"})
	quotaDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_quota_decisions_total",
		Help: "Quota consumption decisions by kind and outcome.",
	}, []string{"kind", "decision"})
	failPolicyHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiergate_gate_fail_policy_total",
		Help: "Internal errors resolved by the gate's fail-open/fail-closed policy.",
	}, []string{"check", "policy"})

	for _, c := range []prometheus.Collector{featureDecisions, quotaDecisions, failPolicyHits} {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &EntitlementMetrics{
		featureDecisions: featureDecisions,
		quotaDecisions:   quotaDecisions,
		failPolicyHits:   failPolicyHits,
	}
}

func (m *EntitlementMetrics) IncFeatureDecision(feature string, allowed bool) {
	if m == nil {
		return
	}
	m.featureDecisions.WithLabelValues(feature, decisionLabel(allowed)).Inc()
}

func (m *EntitlementMetrics) IncQuotaDecision(kind string, allowed bool) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(kind, decisionLabel(allowed)).Inc()
}

func (m *EntitlementMetrics) IncFailPolicy(check, policy string) {
	if m == nil {
		return
	}
	m.failPolicyHits.WithLabelValues(check, policy).Inc()
}

func decisionLabel(allowed bool) string {
	if allowed {
		return DecisionAllowed
	}
	return DecisionDenied
}
