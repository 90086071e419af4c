package rewards

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

// ChainGateway is the token network as the reward pipeline sees it
type ChainGateway interface {
	Mint(ctx context.Context, address string, amount decimal.Decimal, idempotencyKey string) (string, error)
	GetTransaction(ctx context.Context, idempotencyKey string) (*chain.Transaction, error)
	HealthCheck(ctx context.Context) chain.Health
	CircuitStatus() chain.CircuitStatus
}

// Locker serialises work on one key, across instances when backed by Redis
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

const conflictBackoff = 5 * time.Millisecond

// AwardRequest describes a qualifying action
type AwardRequest struct {
	AccountID string            `json:"account_id"`
	Action    string            `json:"action"`
	TargetID  *string           `json:"target_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// AwardResult is the outcome of an award. A rejected award is not an error.
type AwardResult struct {
	Accepted         bool                    `json:"accepted"`
	SettlementMethod models.SettlementMethod `json:"settlement_method,omitempty"`
	Status           models.RewardStatus     `json:"status,omitempty"`
	Amount           decimal.Decimal         `json:"amount"`
	RecordID         string                  `json:"record_id,omitempty"`
	TxDigest         *string                 `json:"tx_digest,omitempty"`
	ReasonIfRejected Code                    `json:"reason_if_rejected,omitempty"`
	Eligibility      *Eligibility            `json:"eligibility,omitempty"`
}

// ReverseResult is the outcome of a reversal
type ReverseResult struct {
	RecordID        string              `json:"record_id"`
	Amount          decimal.Decimal     `json:"amount"`
	PreviousStatus  models.RewardStatus `json:"previous_status"`
	BalanceAdjusted bool                `json:"balance_adjusted"`
}

// Distributor turns qualifying actions into reward records
type Distributor struct {
	ledger  *Ledger
	guard   *Guard
	chain   ChainGateway
	locker  Locker
	cfg     config.RewardsConfig
	metrics *telemetry.RewardMetrics
	logger  *zap.Logger
}

// NewDistributor creates a distributor
func NewDistributor(ledger *Ledger, gateway ChainGateway, cfg config.RewardsConfig) *Distributor {
	return &Distributor{
		ledger: ledger,
		guard:  NewGuard(ledger),
		chain:  gateway,
		cfg:    cfg,
		logger: logging.WithComponent("reward-distributor"),
	}
}

// WithLocker serialises awards per (account, action) before the database
// compare-and-swap, cutting conflict retries under load
func (d *Distributor) WithLocker(l Locker) *Distributor {
	d.locker = l
	return d
}

// WithMetrics attaches reward counters
func (d *Distributor) WithMetrics(m *telemetry.RewardMetrics) *Distributor {
	d.metrics = m
	return d
}

// CheckEligibility reports whether an award would currently be accepted
func (d *Distributor) CheckEligibility(ctx context.Context, accountID, action string, target *string) (*Eligibility, error) {
	return d.guard.CheckEligibility(ctx, accountID, action, target)
}

// PendingBalance returns the account's unclaimed off-chain balance
func (d *Distributor) PendingBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return d.ledger.PendingBalance(ctx, accountID)
}

// Award records a reward for a qualifying action. wallet_full accounts are
// minted immediately while the circuit is closed; everyone else accrues a
// pending balance.
func (d *Distributor) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rewards.award")
	defer span.End()
	span.SetAttributes(attribute.String("account_id", req.AccountID), attribute.String("action", req.Action))

	action, target, err := resolveAction(req.Action, req.TargetID)
	if err != nil {
		d.metrics.RewardRejected(ctx, string(CodeValidation))
		return nil, err
	}

	account, err := d.ledger.read.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, newError(CodeNotFound, nil, "account %q not found", req.AccountID)
	}

	if d.locker != nil {
		release, err := d.locker.Acquire(ctx, "award:"+account.ID+":"+action.Name)
		if err != nil {
			return nil, newError(CodeConcurrentModification, err, "award lock unavailable")
		}
		defer release()
	}

	multiplier := TierMultiplier(account.ReputationTier)
	rec := &models.RewardRecord{
		ID:             uuid.NewString(),
		AccountID:      account.ID,
		Action:         action.Name,
		TargetID:       target,
		BaseAmount:     action.BaseAmount,
		TierMultiplier: multiplier,
		FinalAmount:    action.BaseAmount.Mul(multiplier),
		Context:        contextMap(req.Context),
	}
	rec.IdempotencyKey = awardKey(rec, 0)
	fields := logging.LedgerFields(rec.IdempotencyKey, rec.AccountID, rec.Action)

	// The circuit is read once; a wallet account awarded while it is open
	// accrues like an email account.
	onChain := account.HasWallet() && !d.chain.CircuitStatus().IsOpen

	// from here the award runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	var verdict Eligibility
	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxConflictRetries), retry.NewConstant(conflictBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return d.ledger.InTx(ctx, func(tx *LedgerTx) error {
			v, err := reserve(ctx, tx, account.ID, action, target)
			if err != nil {
				return err
			}
			verdict = v
			if !v.Eligible {
				return nil
			}
			if target != nil {
				reversed, err := tx.rewards.CountReversed(ctx, account.ID, action.Name, *target)
				if err != nil {
					return err
				}
				rec.IdempotencyKey = awardKey(rec, reversed)
			}
			rec.CreatedAt = tx.now
			if onChain {
				return tx.AppendReservation(ctx, rec)
			}
			return tx.AppendPending(ctx, rec)
		})
	})

	fields = logging.LedgerFields(rec.IdempotencyKey, rec.AccountID, rec.Action)

	switch {
	case errors.Is(err, db.ErrDuplicate):
		verdict = Eligibility{ReasonCode: CodeDuplicateAction}
	case errors.Is(err, errWindowConflict):
		d.logger.Warn("Award gave up after conflicting updates", fields...)
		return nil, newError(CodeConcurrentModification, err, "eligibility window kept changing")
	case err != nil:
		d.logger.Error("Award write failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	if !verdict.Eligible {
		d.metrics.RewardRejected(ctx, string(verdict.ReasonCode))
		d.logger.Debug("Award rejected", append(fields, zap.String("reason", string(verdict.ReasonCode)))...)
		return &AwardResult{
			Accepted:         false,
			Amount:           rec.FinalAmount,
			ReasonIfRejected: verdict.ReasonCode,
			Eligibility:      &verdict,
		}, nil
	}

	if !onChain {
		d.metrics.RewardAwarded(ctx, action.Name, string(models.MethodPending))
		d.logger.Info("Reward accrued", append(fields, zap.String("amount", rec.FinalAmount.String()))...)
		return &AwardResult{
			Accepted:         true,
			SettlementMethod: models.MethodPending,
			Status:           models.RewardPending,
			Amount:           rec.FinalAmount,
			RecordID:         rec.ID,
		}, nil
	}

	return d.mint(ctx, account, rec, fields), nil
}

// mint settles a reservation on chain, falling back to a pending accrual when
// the mint definitely did not happen
func (d *Distributor) mint(ctx context.Context, account *models.Account, rec *models.RewardRecord, fields []zap.Field) *AwardResult {
	result := &AwardResult{
		Accepted:         true,
		SettlementMethod: models.MethodOnChain,
		Status:           models.RewardPending,
		Amount:           rec.FinalAmount,
		RecordID:         rec.ID,
	}

	digest, err := d.chain.Mint(ctx, *account.WalletAddress, rec.FinalAmount, rec.IdempotencyKey)
	switch {
	case err == nil:
		result.TxDigest = &digest
		if err := d.ledger.InTx(ctx, func(tx *LedgerTx) error {
			return tx.SettleReservation(ctx, rec, digest)
		}); err != nil {
			// the reconciler finds the mint by idempotency key
			d.logger.Error("Minted but failed to settle record",
				append(fields, zap.String("digest", digest), zap.Error(err))...)
			return result
		}
		result.Status = models.RewardClaimed
		d.metrics.RewardAwarded(ctx, rec.Action, string(models.MethodOnChain))
		d.logger.Info("Reward minted", append(fields, zap.String("digest", digest))...)
		return result

	case errors.Is(err, chain.ErrIndeterminate):
		d.logger.Warn("Mint outcome unknown, leaving reservation for reconciliation",
			append(fields, zap.Error(err))...)
		d.metrics.RewardAwarded(ctx, rec.Action, string(models.MethodOnChain))
		return result
	}

	d.logger.Warn("Mint failed, falling back to pending", append(fields, zap.Error(err))...)
	if cerr := d.ledger.InTx(ctx, func(tx *LedgerTx) error {
		return tx.ConvertReservation(ctx, rec)
	}); cerr != nil {
		d.logger.Error("Failed to convert reservation", append(fields, zap.Error(cerr))...)
		return result
	}
	d.metrics.RewardAwarded(ctx, rec.Action, string(models.MethodPending))
	result.SettlementMethod = models.MethodPending
	return result
}

// Reverse invalidates the reward for a qualifying action inside the grace
// window
func (d *Distributor) Reverse(ctx context.Context, accountID, actionName string, target *string) (*ReverseResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rewards.reverse")
	defer span.End()

	action, target, err := resolveAction(actionName, target)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, newError(CodeValidation, nil, "action %q has no target to reverse", actionName)
	}

	var result *ReverseResult
	err = d.ledger.InTx(ctx, func(tx *LedgerTx) error {
		rec, err := tx.rewards.FindActive(ctx, accountID, action.Name, *target)
		if err != nil {
			return err
		}
		if rec == nil {
			return newError(CodeNotFound, nil, "no active %s reward for %q", action.Name, *target)
		}
		if tx.now.Sub(rec.CreatedAt) > d.cfg.GraceWindow {
			return newError(CodeGraceWindowExpired, nil, "reward %s is past the grace window", rec.ID)
		}
		if rec.IsReservation() || (rec.Status == models.RewardPending && rec.ClaimAttemptID != nil) {
			return newError(CodeClaimInProgress, nil, "reward %s is being settled", rec.ID)
		}

		prev := rec.Status
		adjusted, err := tx.Reverse(ctx, rec)
		if err != nil {
			return err
		}
		result = &ReverseResult{
			RecordID:        rec.ID,
			Amount:          rec.FinalAmount,
			PreviousStatus:  prev,
			BalanceAdjusted: adjusted,
		}
		return nil
	})
	if err != nil {
		if CodeOf(err) == "" {
			key := "award:" + accountID + ":" + action.Name + ":" + *target
			d.logger.Error("Reversal failed",
				append(logging.LedgerFields(key, accountID, action.Name), zap.Error(err))...)
		}
		return nil, err
	}

	d.logger.Info("Reward reversed",
		zap.String("record_id", result.RecordID),
		zap.String("account_id", accountID),
		zap.Bool("balance_adjusted", result.BalanceAdjusted))
	return result, nil
}

// contextMap copies the caller's action context onto the record
func contextMap(in map[string]string) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// awardKey is the chain idempotency key of a record. Targeted actions key on
// the action instance and the number of earlier reversals of it, so a retry
// maps to the same mint while a re-award after a reversal gets its own.
func awardKey(rec *models.RewardRecord, reversed int64) string {
	if rec.TargetID == nil {
		return "award:" + rec.ID
	}
	key := "award:" + rec.AccountID + ":" + rec.Action + ":" + *rec.TargetID
	if reversed > 0 {
		key += ":" + strconv.FormatInt(reversed, 10)
	}
	return key
}
