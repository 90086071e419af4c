package rewards_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tastemind/tastemind/internal/chain/chaintest"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/pkg/config"
)

func accrue(h *harness, account string, targets ...string) {
	for _, target := range targets {
		res := h.award(account, rewards.ActionRecommendation, target)
		require.True(h.t, res.Accepted)
	}
}

func TestClaimPendingDrainsBalance(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationNew)
	accrue(h, "A", "r1", "r2", "r3")
	h.requireBalance("A", "7.5")

	res, err := h.claims.ClaimPending(context.Background(), "A", walletC)
	require.NoError(t, err)
	requireAmount(t, "7.5", res.TotalClaimed)
	require.Equal(t, 3, res.RecordsClaimed)
	require.NotEmpty(t, res.TxDigest)
	h.requireBalance("A", "0")

	var claimed []models.RewardRecord
	require.NoError(t, h.db.Where("account_id = ?", "A").Find(&claimed).Error)
	sum := decimal.Zero
	for _, rec := range claimed {
		require.Equal(t, models.RewardClaimed, rec.Status)
		require.Equal(t, res.TxDigest, *rec.ChainTxDigest)
		sum = sum.Add(rec.FinalAmount)
	}
	requireAmount(t, "7.5", sum)

	attempt, err := h.claims.GetClaim(context.Background(), res.AttemptID)
	require.NoError(t, err)
	require.Equal(t, models.ClaimConfirmed, attempt.Status)
	require.Len(t, attempt.RewardRecordIDs, 3)

	// the claim links the wallet
	account, err := h.accounts.GetAccount(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, account.HasWallet())
	require.Equal(t, walletC, *account.WalletAddress)
	require.Equal(t, models.ReputationNew, account.ReputationTier)

	require.Equal(t, "7.5", h.node.Lookup(res.AttemptID).Amount)
	require.Equal(t, int64(1), h.countEvents(models.EventClaimConfirmed))
}

func TestClaimWithNothingPending(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationNew)

	_, err := h.claims.ClaimPending(context.Background(), "A", walletC)
	require.ErrorIs(t, err, rewards.ErrNoPendingRewards)
	require.Zero(t, h.node.MintCalls())
}

func TestClaimValidation(t *testing.T) {
	h := newHarness(t)
	h.walletAccount("B", models.ReputationEstablished, walletB)
	h.emailAccount("A", models.ReputationNew)
	ctx := context.Background()

	_, err := h.claims.ClaimPending(ctx, "A", "not-a-wallet")
	require.ErrorIs(t, err, rewards.ErrValidation)

	_, err = h.claims.ClaimPending(ctx, "B", walletC)
	require.ErrorIs(t, err, rewards.ErrWalletMismatch)

	accrue(h, "A", "r1")
	_, err = h.claims.ClaimPending(ctx, "A", walletB)
	require.ErrorIs(t, err, rewards.ErrWalletMismatch)
	h.requireBalance("A", "2.5")
	require.Equal(t, int64(1), h.countRecords("account_id = ? AND claim_attempt_id IS NULL", "A"))

	_, err = h.claims.ClaimPending(ctx, "ghost", walletC)
	require.ErrorIs(t, err, rewards.ErrNotFound)
}

func TestRefusedClaimLeavesAccountUnlinked(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationNew)
	ctx := context.Background()

	unlinked := func() {
		t.Helper()
		account, err := h.accounts.GetAccount(ctx, "A")
		require.NoError(t, err)
		require.False(t, account.HasWallet())
		require.Equal(t, models.SettlementEmailBasic, account.SettlementTier)
	}

	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrNoPendingRewards)
	unlinked()

	accrue(h, "A", "r1")
	h.node.SetMode(chaintest.Down)
	for i := 0; i < 5; i++ {
		h.gateway.HealthCheck(ctx)
	}
	_, err = h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrChainUnavailable)
	unlinked()

	// awards keep accruing off-chain until a claim actually opens
	h.node.SetMode(chaintest.Healthy)
	h.clock.advance(31 * time.Second)
	require.True(t, h.gateway.HealthCheck(ctx).Healthy)
	res := h.award("A", rewards.ActionRecommendation, "r2")
	require.Equal(t, models.MethodPending, res.SettlementMethod)

	claimed, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.NoError(t, err)
	requireAmount(t, "5", claimed.TotalClaimed)
	account, err := h.accounts.GetAccount(ctx, "A")
	require.NoError(t, err)
	require.True(t, account.HasWallet())
}

func TestCancelledClaimRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1")

	h.node.SetMode(chaintest.Slow)
	h.node.Delay = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	defer cancel()

	res, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.NoError(t, err)
	requireAmount(t, "5", res.TotalClaimed)
	h.requireBalance("A", "0")
	require.Equal(t, 1, h.node.Mints())

	attempt, err := h.claims.GetClaim(context.Background(), res.AttemptID)
	require.NoError(t, err)
	require.Equal(t, models.ClaimConfirmed, attempt.Status)

	status := h.gateway.CircuitStatus()
	require.False(t, status.IsOpen)
	require.Zero(t, status.Failures)
}

func TestConcurrentClaimsConfirmOnce(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1", "r2")

	// hold the first mint open long enough for the second claim to collide
	h.node.SetMode(chaintest.Slow)
	h.node.Delay = 300 * time.Millisecond

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	results := make([]*rewards.ClaimResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.claims.ClaimPending(context.Background(), "A", walletC)
		}(i)
	}
	close(start)
	wg.Wait()

	confirmed, inProgress := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil:
			confirmed++
			requireAmount(t, "10", results[i].TotalClaimed)
		case rewards.CodeOf(errs[i]) == rewards.CodeClaimInProgress:
			inProgress++
		default:
			t.Fatalf("unexpected claim error: %v", errs[i])
		}
	}
	require.Equal(t, 1, confirmed)
	require.Equal(t, 1, inProgress)
	require.Equal(t, 1, h.node.Mints())
	h.requireBalance("A", "0")

	var n int64
	require.NoError(t, h.db.Model(&models.ClaimAttempt{}).Where("status = ?", models.ClaimConfirmed).Count(&n).Error)
	require.Equal(t, int64(1), n)
}

func TestClaimAccrualDuringClaimIsKept(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1")

	h.node.SetMode(chaintest.Slow)
	h.node.Delay = 300 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := h.claims.ClaimPending(context.Background(), "A", walletC)
		done <- err
	}()

	// wait until the claim is in flight, then accrue more. The claim links a
	// wallet, so the late accrual is written straight to the ledger.
	require.Eventually(t, func() bool { return h.node.MintCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	late := "r2"
	require.NoError(t, h.ledger.InTx(context.Background(), func(tx *rewards.LedgerTx) error {
		return tx.AppendPending(context.Background(), &models.RewardRecord{
			ID:             "late-1",
			AccountID:      "A",
			Action:         rewards.ActionRecommendation,
			TargetID:       &late,
			BaseAmount:     decimal.NewFromInt(5),
			TierMultiplier: decimal.NewFromInt(1),
			FinalAmount:    decimal.NewFromInt(5),
			IdempotencyKey: "award:A:recommendation:r2",
			CreatedAt:      h.clock.now(),
		})
	}))
	require.NoError(t, <-done)

	h.requireBalance("A", "5")
	require.Equal(t, int64(1), h.countRecords("account_id = ? AND status = ?", "A", models.RewardPending))
}

func TestClaimChainFailureKeepsRecordsPending(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationNew)
	accrue(h, "A", "r1", "r2")
	ctx := context.Background()

	h.node.SetMode(chaintest.Down)
	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrChainUnavailable)
	h.requireBalance("A", "5")
	require.Equal(t, int64(2), h.countRecords("account_id = ? AND status = ? AND claim_attempt_id IS NULL", "A", models.RewardPending))
	require.Equal(t, int64(1), h.countEvents(models.EventClaimFailed))

	h.node.SetMode(chaintest.Healthy)
	res, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.NoError(t, err)
	requireAmount(t, "5", res.TotalClaimed)
	h.requireBalance("A", "0")
}

func TestClaimRefusedWhileCircuitOpen(t *testing.T) {
	h := newHarness(t)
	h.emailAccount("A", models.ReputationNew)
	accrue(h, "A", "r1")
	ctx := context.Background()

	h.node.SetMode(chaintest.Down)
	for i := 0; i < 5; i++ {
		h.gateway.HealthCheck(ctx)
	}
	require.True(t, h.gateway.CircuitStatus().IsOpen)

	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrChainUnavailable)
	require.True(t, rewards.IsTransient(err))
	h.requireBalance("A", "2.5")
}

func TestClaimTimeoutIsIndeterminate(t *testing.T) {
	h := newHarness(t, func(c *config.RewardsConfig) { c.ClaimTimeout = 50 * time.Millisecond })
	h.emailAccount("A", models.ReputationEstablished)
	accrue(h, "A", "r1")
	ctx := context.Background()

	h.node.SetMode(chaintest.Slow)
	h.node.Delay = 300 * time.Millisecond

	_, err := h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrClaimIndeterminate)
	h.requireBalance("A", "5")

	var attempt models.ClaimAttempt
	require.NoError(t, h.db.Where("account_id = ?", "A").First(&attempt).Error)
	require.Equal(t, models.ClaimSubmitted, attempt.Status)

	// the records stay locked to the open attempt
	target := "r1"
	_, err = h.distributor.Reverse(ctx, "A", rewards.ActionRecommendation, &target)
	require.ErrorIs(t, err, rewards.ErrClaimInProgress)

	h.node.SetMode(chaintest.Healthy)
	_, err = h.claims.ClaimPending(ctx, "A", walletC)
	require.ErrorIs(t, err, rewards.ErrClaimInProgress)
}
