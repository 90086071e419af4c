package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RewardMetrics holds the counters emitted by the reward pipeline. The
// instruments resolve against whatever meter provider is installed when
// NewRewardMetrics runs, so call it after Init.
type RewardMetrics struct {
	awarded     metric.Int64Counter
	rejected    metric.Int64Counter
	claims      metric.Int64Counter
	transitions metric.Int64Counter
}

// NewRewardMetrics creates the reward counters on the global meter
func NewRewardMetrics() *RewardMetrics {
	meter := otel.Meter(instrumentationName)
	m := &RewardMetrics{}
	// Instrument creation only fails on invalid names; the returned
	// instrument is a usable no-op in that case.
	m.awarded, _ = meter.Int64Counter("rewards_awarded_total",
		metric.WithDescription("Rewards accepted, by action and settlement method"))
	m.rejected, _ = meter.Int64Counter("rewards_rejected_total",
		metric.WithDescription("Rewards rejected, by reason code"))
	m.claims, _ = meter.Int64Counter("claims_total",
		metric.WithDescription("Pending balance claims, by outcome"))
	m.transitions, _ = meter.Int64Counter("chain_circuit_transitions_total",
		metric.WithDescription("Chain gateway circuit breaker transitions, by new state"))
	return m
}

// RewardAwarded counts an accepted award
func (m *RewardMetrics) RewardAwarded(ctx context.Context, action, method string) {
	if m == nil {
		return
	}
	m.awarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("method", method),
	))
}

// RewardRejected counts a rejected award
func (m *RewardMetrics) RewardRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ClaimFinished counts a claim by outcome
func (m *RewardMetrics) ClaimFinished(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CircuitTransition counts a circuit breaker state change
func (m *RewardMetrics) CircuitTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", state)))
}
