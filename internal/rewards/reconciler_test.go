package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tastemind/tastemind/internal/chain/chaintest"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/events"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/pkg/config"
)

func shortClaims(c *config.RewardsConfig) { c.ClaimTimeout = 50 * time.Millisecond }

func (h *harness) reconciler() *rewards.Reconciler {
	outbox := db.NewOutboxRepository(db.NewRepository(h.db))
	relay := events.NewRelay(outbox, events.NewLogPublisher(), 100, 3)
	return rewards.NewReconciler(h.ledger, h.gateway, relay, h.cfg)
}

func TestReconcilerConfirmsIndeterminateClaim(t *testing.T) {
	h := newHarness(t, shortClaims)
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1", "r2")
	ctx := context.Background()

	h.node.SetMode(chaintest.Slow)
	h.node.Delay = 300 * time.Millisecond
	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrClaimIndeterminate)
	h.node.SetMode(chaintest.Healthy)

	h.clock.advance(time.Minute)
	report, err := h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ClaimsConfirmed)
	require.Zero(t, report.BalanceDrifts)
	require.Positive(t, report.EventsRelayed)

	h.requireBalance("A", "0")
	require.Equal(t, int64(2), h.countRecords("account_id = ? AND status = ?", "A", models.RewardClaimed))

	// a second pass has nothing left to do
	report, err = h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.ClaimsConfirmed)
	require.Zero(t, report.EventsRelayed)
}

func TestReconcilerFailsLostClaimAfterMaxAge(t *testing.T) {
	h := newHarness(t, shortClaims)
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1")
	ctx := context.Background()

	h.node.SetMode(chaintest.Blackhole)
	h.node.Delay = 300 * time.Millisecond
	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrClaimIndeterminate)
	h.node.SetMode(chaintest.Healthy)

	h.clock.advance(time.Minute)
	report, err := h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ClaimsPending)

	h.clock.advance(time.Hour)
	report, err = h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ClaimsFailed)
	h.requireBalance("A", "5")

	// released records can be claimed again
	res, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.NoError(t, err)
	requireAmount(t, "5", res.TotalClaimed)
	require.Equal(t, 1, h.node.Mints())
}

func TestReconcilerLeavesClaimWhenChainUnreachable(t *testing.T) {
	h := newHarness(t, shortClaims)
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1")
	ctx := context.Background()

	h.node.SetMode(chaintest.Blackhole)
	h.node.Delay = 300 * time.Millisecond
	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrClaimIndeterminate)

	h.node.SetMode(chaintest.Down)
	h.clock.advance(2 * time.Hour)
	report, err := h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.ClaimsFailed)
	require.Equal(t, 1, report.ClaimsPending)
}

func TestReconcilerResolvesStrandedReservations(t *testing.T) {
	h := newHarness(t, shortClaims)
	h.walletAccount("B", models.ReputationEstablished, walletB)
	ctx := context.Background()

	// one mint lands after the caller gave up, one never reaches the node
	h.node.SetMode(chaintest.Slow)
	h.node.Delay = 300 * time.Millisecond
	landed := h.award("B", rewards.ActionRecommendation, "r1")
	require.Equal(t, models.MethodOnChain, landed.SettlementMethod)
	require.Equal(t, models.RewardPending, landed.Status)

	h.node.SetMode(chaintest.Blackhole)
	lost := h.award("B", rewards.ActionRecommendation, "r2")
	require.Equal(t, models.RewardPending, lost.Status)
	h.node.SetMode(chaintest.Healthy)

	h.requireBalance("B", "0")

	// too young to touch
	report, err := h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.ReservationsSettled+report.ReservationsConverted)

	h.clock.advance(6 * time.Minute)
	report, err = h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ReservationsSettled)
	require.Equal(t, 1, report.ReservationsConverted)

	settled := h.record(landed.RecordID)
	require.Equal(t, models.RewardClaimed, settled.Status)
	require.NotNil(t, settled.ChainTxDigest)

	converted := h.record(lost.RecordID)
	require.Equal(t, models.RewardPending, converted.Status)
	require.Equal(t, models.MethodPending, converted.SettlementMethod)
	h.requireBalance("B", "5")
}

func TestReconcilerProbesOpenCircuit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.node.SetMode(chaintest.Down)
	for i := 0; i < 5; i++ {
		h.gateway.HealthCheck(ctx)
	}
	require.True(t, h.gateway.CircuitStatus().IsOpen)
	h.node.SetMode(chaintest.Healthy)

	h.clock.advance(31 * time.Second)
	report, err := h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, report.CircuitProbed)
	require.False(t, h.gateway.CircuitStatus().IsOpen)

	report, err = h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, report.CircuitProbed)
}

func TestReconcilerReportsBalanceDrift(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationEstablished)
	h.emailAccount("C", models.ReputationEstablished)
	accrue(h, "A", "r1")
	accrue(h, "C", "r1")
	ctx := context.Background()

	require.NoError(t, h.db.Model(&models.PendingBalance{}).
		Where("account_id = ?", "C").
		Update("balance", decimal.NewFromInt(99)).Error)

	report, err := h.reconciler().RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.BalanceDrifts)

	drifts, err := h.ledger.Audit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, "C", drifts[0].AccountID)
	requireAmount(t, "5", drifts[0].RecordSum)

	// audit only reports
	h.requireBalance("C", "99")
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.reconciler().Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
