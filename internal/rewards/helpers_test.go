package rewards_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/chain/chaintest"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/internal/testutil"
	"github.com/tastemind/tastemind/pkg/config"
)

const (
	walletB = "0xb000000000000000000000000000000000000000000000000000000000000001"
	walletC = "0xc000000000000000000000000000000000000000000000000000000000000001"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t           *testing.T
	db          *gorm.DB
	clock       *clock
	node        *chaintest.Node
	gateway     *chain.Gateway
	cfg         config.RewardsConfig
	ledger      *rewards.Ledger
	distributor *rewards.Distributor
	claims      *rewards.ClaimCoordinator
	accounts    *db.AccountRepository
}

func testConfig() config.RewardsConfig {
	return config.RewardsConfig{
		GraceWindow:         24 * time.Hour,
		MaxConflictRetries:  5,
		ClaimTimeout:        2 * time.Second,
		ReconcileInterval:   time.Second,
		StaleReservationAge: 5 * time.Minute,
		IndeterminateMaxAge: time.Hour,
		OutboxBatchSize:     100,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.RewardsConfig)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	conn := testutil.NewTestDB(t)
	clk := &clock{t: time.Now().UTC().Truncate(time.Millisecond)}
	node := chaintest.NewNode()
	t.Cleanup(node.Close)

	breaker := chain.NewBreaker(5, 30*time.Second).WithClock(clk.now)
	gateway := chain.NewWithBreaker(node.URL, breaker, cfg.ClaimTimeout, time.Second)
	ledger := rewards.NewLedger(conn).WithClock(clk.now)

	return &harness{
		t:           t,
		db:          conn,
		clock:       clk,
		node:        node,
		gateway:     gateway,
		cfg:         cfg,
		ledger:      ledger,
		distributor: rewards.NewDistributor(ledger, gateway, cfg),
		claims:      rewards.NewClaimCoordinator(ledger, gateway, cfg),
		accounts:    db.NewAccountRepository(db.NewRepository(conn)),
	}
}

func (h *harness) emailAccount(id string, tier models.ReputationTier) {
	h.t.Helper()
	require.NoError(h.t, h.accounts.Create(context.Background(), &models.Account{
		ID:             id,
		SettlementTier: models.SettlementEmailBasic,
		ReputationTier: tier,
	}))
}

func (h *harness) walletAccount(id string, tier models.ReputationTier, wallet string) {
	h.t.Helper()
	require.NoError(h.t, h.accounts.Create(context.Background(), &models.Account{
		ID:             id,
		SettlementTier: models.SettlementWalletFull,
		WalletAddress:  &wallet,
		ReputationTier: tier,
	}))
}

func (h *harness) award(account, action, target string) *rewards.AwardResult {
	h.t.Helper()
	req := rewards.AwardRequest{AccountID: account, Action: action}
	if target != "" {
		req.TargetID = &target
	}
	res, err := h.distributor.Award(context.Background(), req)
	require.NoError(h.t, err)
	return res
}

func (h *harness) balance(account string) decimal.Decimal {
	h.t.Helper()
	b, err := h.ledger.PendingBalance(context.Background(), account)
	require.NoError(h.t, err)
	return b
}

func (h *harness) requireBalance(account, want string) {
	h.t.Helper()
	got := h.balance(account)
	require.True(h.t, got.Equal(decimal.RequireFromString(want)), "balance = %s, want %s", got, want)
}

func (h *harness) record(id string) *models.RewardRecord {
	h.t.Helper()
	var rec models.RewardRecord
	require.NoError(h.t, h.db.Where("id = ?", id).First(&rec).Error)
	return &rec
}

func (h *harness) countRecords(query string, args ...interface{}) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.RewardRecord{}).Where(query, args...).Count(&n).Error)
	return n
}

func (h *harness) countEvents(eventType string) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.OutboxMessage{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.RequireFromString(want)), "amount = %s, want %s", got, want)
}
