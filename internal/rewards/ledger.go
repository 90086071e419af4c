package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/pkg/logging"
)

// errStale means a conditional update found the row already moved on
var errStale = errors.New("row no longer in expected state")

type stores struct {
	accounts *db.AccountRepository
	rewards  *db.RewardRepository
	balances *db.BalanceRepository
	windows  *db.EligibilityRepository
	claims   *db.ClaimRepository
	outbox   *db.OutboxRepository
}

func newStores(conn *gorm.DB) *stores {
	repo := db.NewRepository(conn)
	return &stores{
		accounts: db.NewAccountRepository(repo),
		rewards:  db.NewRewardRepository(repo),
		balances: db.NewBalanceRepository(repo),
		windows:  db.NewEligibilityRepository(repo),
		claims:   db.NewClaimRepository(repo),
		outbox:   db.NewOutboxRepository(repo),
	}
}

// Ledger is the system of record for reward records and pending balances.
// Every mutation runs inside one transaction together with its outbox event,
// so a balance never moves without the record that explains it.
type Ledger struct {
	db     *gorm.DB
	read   *stores
	now    func() time.Time
	logger *zap.Logger
}

// NewLedger creates a ledger on the given connection
func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{
		db:     conn,
		read:   newStores(conn),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.WithComponent("reward-ledger"),
	}
}

// WithClock replaces the time source
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// LedgerTx is a ledger bound to one open transaction
type LedgerTx struct {
	*stores
	now time.Time
}

// InTx runs fn in a transaction. Only tx may be used inside fn.
func (l *Ledger) InTx(ctx context.Context, fn func(tx *LedgerTx) error) error {
	now := l.now()
	return l.db.WithContext(ctx).Transaction(func(conn *gorm.DB) error {
		return fn(&LedgerTx{stores: newStores(conn), now: now})
	})
}

// PendingBalance returns the account's pending balance, zero when it never
// accrued
func (l *Ledger) PendingBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	b, err := l.read.balances.Get(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if b == nil {
		return decimal.Zero, nil
	}
	return b.Balance, nil
}

// Records lists an account's records, newest first
func (l *Ledger) Records(ctx context.Context, accountID string, limit int) ([]*models.RewardRecord, error) {
	return l.read.rewards.ListByAccount(ctx, accountID, limit)
}

// Drift is a pending balance that disagrees with its records
type Drift struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	RecordSum decimal.Decimal `json:"record_sum"`
}

// Audit compares every pending balance with the sum of its records. It only
// reports; balances are never rewritten from the sum.
func (l *Ledger) Audit(ctx context.Context, pageSize int) ([]Drift, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var drifts []Drift
	after := ""
	for {
		page, err := l.read.balances.ListPage(ctx, after, pageSize)
		if err != nil {
			return drifts, err
		}
		for _, b := range page {
			sum, err := l.read.rewards.SumPending(ctx, b.AccountID)
			if err != nil {
				return drifts, err
			}
			if !sum.Equal(b.Balance) {
				drifts = append(drifts, Drift{AccountID: b.AccountID, Balance: b.Balance, RecordSum: sum})
			}
			after = b.AccountID
		}
		if len(page) < pageSize {
			return drifts, nil
		}
	}
}

// AppendPending writes an off-chain accrual and grows the balance by its
// amount
func (tx *LedgerTx) AppendPending(ctx context.Context, rec *models.RewardRecord) error {
	rec.SettlementMethod = models.MethodPending
	rec.Status = models.RewardPending
	if err := tx.rewards.Create(ctx, rec); err != nil {
		return err
	}
	if err := tx.balances.Increment(ctx, rec.AccountID, rec.FinalAmount, tx.now); err != nil {
		return err
	}
	return tx.emit(ctx, models.EventRewardAwarded, rec.AccountID, recordEvent(rec))
}

// AppendReservation writes a mint reservation. It holds the record's
// uniqueness slot but is not part of the pending balance.
func (tx *LedgerTx) AppendReservation(ctx context.Context, rec *models.RewardRecord) error {
	rec.SettlementMethod = models.MethodOnChain
	rec.Status = models.RewardPending
	return tx.rewards.Create(ctx, rec)
}

// SettleReservation records the mint digest on a reservation
func (tx *LedgerTx) SettleReservation(ctx context.Context, rec *models.RewardRecord, digest string) error {
	ok, err := tx.rewards.SettleReservation(ctx, rec.ID, digest, tx.now)
	if err != nil {
		return err
	}
	if !ok {
		return errStale
	}
	at := tx.now
	rec.Status = models.RewardClaimed
	rec.ChainTxDigest = &digest
	rec.ClaimedAt = &at
	return tx.emit(ctx, models.EventRewardSettled, rec.AccountID, recordEvent(rec))
}

// ConvertReservation turns a reservation whose mint did not happen into a
// pending accrual
func (tx *LedgerTx) ConvertReservation(ctx context.Context, rec *models.RewardRecord) error {
	ok, err := tx.rewards.ConvertReservation(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errStale
	}
	rec.SettlementMethod = models.MethodPending
	if err := tx.balances.Increment(ctx, rec.AccountID, rec.FinalAmount, tx.now); err != nil {
		return err
	}
	return tx.emit(ctx, models.EventRewardAwarded, rec.AccountID, recordEvent(rec))
}

// Reverse invalidates a record. Pending accruals leave the balance; settled
// records are marked only. It reports whether the balance moved.
func (tx *LedgerTx) Reverse(ctx context.Context, rec *models.RewardRecord) (bool, error) {
	from := rec.Status
	ok, err := tx.rewards.MarkReversed(ctx, rec.ID, from, tx.now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errStale
	}

	adjusted := from == models.RewardPending && rec.SettlementMethod == models.MethodPending
	if adjusted {
		if err := tx.balances.Decrement(ctx, rec.AccountID, rec.FinalAmount, tx.now); err != nil {
			return false, err
		}
	}
	at := tx.now
	rec.Status = models.RewardReversed
	rec.ReversedAt = &at
	return adjusted, tx.emit(ctx, models.EventRewardReversed, rec.AccountID, recordEvent(rec))
}

// ConfirmClaim settles every record bound to a submitted attempt and takes
// exactly the attempt's total off the balance
func (tx *LedgerTx) ConfirmClaim(ctx context.Context, attempt *models.ClaimAttempt, digest string) error {
	ok, err := tx.claims.Transition(ctx, attempt.ID, models.ClaimSubmitted, models.ClaimConfirmed, &digest, "")
	if err != nil {
		return err
	}
	if !ok {
		return errStale
	}
	if _, err := tx.rewards.MarkClaimedByAttempt(ctx, attempt.ID, digest, tx.now); err != nil {
		return err
	}
	if err := tx.balances.Decrement(ctx, attempt.AccountID, attempt.TotalAmount, tx.now); err != nil {
		return err
	}
	attempt.Status = models.ClaimConfirmed
	attempt.ChainTxDigest = &digest
	return tx.emit(ctx, models.EventClaimConfirmed, attempt.AccountID, claimEvent(attempt))
}

// FailClaim closes a non-terminal attempt and frees its records for the
// next claim
func (tx *LedgerTx) FailClaim(ctx context.Context, attempt *models.ClaimAttempt, reason string) error {
	ok, err := tx.claims.Transition(ctx, attempt.ID, attempt.Status, models.ClaimFailed, nil, reason)
	if err != nil {
		return err
	}
	if !ok {
		return errStale
	}
	if err := tx.rewards.ReleaseClaim(ctx, attempt.ID); err != nil {
		return err
	}
	attempt.Status = models.ClaimFailed
	attempt.FailureReason = reason
	return tx.emit(ctx, models.EventClaimFailed, attempt.AccountID, claimEvent(attempt))
}

func (tx *LedgerTx) emit(ctx context.Context, eventType, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.outbox.Create(ctx, &models.OutboxMessage{
		ID:         uuid.NewString(),
		MessageKey: key,
		EventType:  eventType,
		Payload:    datatypes.JSON(data),
		Status:     models.OutboxStatusPending,
		CreatedAt:  tx.now,
		UpdatedAt:  tx.now,
	})
}

type recordPayload struct {
	RecordID         string                  `json:"record_id"`
	AccountID        string                  `json:"account_id"`
	Action           string                  `json:"action"`
	TargetID         *string                 `json:"target_id,omitempty"`
	Amount           decimal.Decimal         `json:"amount"`
	SettlementMethod models.SettlementMethod `json:"settlement_method"`
	Status           models.RewardStatus     `json:"status"`
	ChainTxDigest    *string                 `json:"chain_tx_digest,omitempty"`
	IdempotencyKey   string                  `json:"idempotency_key"`
	Context          datatypes.JSONMap       `json:"context,omitempty"`
}

func recordEvent(rec *models.RewardRecord) recordPayload {
	return recordPayload{
		RecordID:         rec.ID,
		AccountID:        rec.AccountID,
		Action:           rec.Action,
		TargetID:         rec.TargetID,
		Amount:           rec.FinalAmount,
		SettlementMethod: rec.SettlementMethod,
		Status:           rec.Status,
		ChainTxDigest:    rec.ChainTxDigest,
		IdempotencyKey:   rec.IdempotencyKey,
		Context:          rec.Context,
	}
}

type claimPayload struct {
	AttemptID     string             `json:"attempt_id"`
	AccountID     string             `json:"account_id"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	Records       int                `json:"records"`
	Status        models.ClaimStatus `json:"status"`
	ChainTxDigest *string            `json:"chain_tx_digest,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

func claimEvent(a *models.ClaimAttempt) claimPayload {
	return claimPayload{
		AttemptID:     a.ID,
		AccountID:     a.AccountID,
		TotalAmount:   a.TotalAmount,
		Records:       len(a.RewardRecordIDs),
		Status:        a.Status,
		ChainTxDigest: a.ChainTxDigest,
		FailureReason: a.FailureReason,
	}
}
