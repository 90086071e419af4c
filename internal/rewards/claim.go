package rewards

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

// ClaimResult is a confirmed claim
type ClaimResult struct {
	AttemptID      string          `json:"attempt_id"`
	TotalClaimed   decimal.Decimal `json:"total_claimed"`
	RecordsClaimed int             `json:"records_claimed"`
	TxDigest       string          `json:"tx_digest"`
}

// ClaimCoordinator converts a pending balance into one mint
type ClaimCoordinator struct {
	ledger  *Ledger
	chain   ChainGateway
	cfg     config.RewardsConfig
	metrics *telemetry.RewardMetrics
	logger  *zap.Logger
}

// NewClaimCoordinator creates a claim coordinator
func NewClaimCoordinator(ledger *Ledger, gateway ChainGateway, cfg config.RewardsConfig) *ClaimCoordinator {
	return &ClaimCoordinator{
		ledger: ledger,
		chain:  gateway,
		cfg:    cfg,
		logger: logging.WithComponent("claim-coordinator"),
	}
}

// WithMetrics attaches claim counters
func (c *ClaimCoordinator) WithMetrics(m *telemetry.RewardMetrics) *ClaimCoordinator {
	c.metrics = m
	return c
}

// GetClaim returns an attempt for polling, nil when unknown
func (c *ClaimCoordinator) GetClaim(ctx context.Context, attemptID string) (*models.ClaimAttempt, error) {
	return c.ledger.read.claims.GetByID(ctx, attemptID)
}

// ClaimPending mints the account's whole pending balance to walletAddress.
// The first claim that opens an attempt links the wallet to the account and
// moves it to wallet_full; a claim refused before that leaves the account
// untouched. Once an attempt is open the claim runs to completion even if
// ctx is cancelled.
func (c *ClaimCoordinator) ClaimPending(ctx context.Context, accountID, walletAddress string) (*ClaimResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rewards.claim")
	defer span.End()
	span.SetAttributes(attribute.String("account_id", accountID))

	result, err := c.claim(ctx, accountID, walletAddress)
	outcome := "confirmed"
	if err != nil {
		outcome = string(CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	c.metrics.ClaimFinished(ctx, outcome)
	return result, err
}

func (c *ClaimCoordinator) claim(ctx context.Context, accountID, walletAddress string) (*ClaimResult, error) {
	if err := chain.ValidateAddress(walletAddress); err != nil {
		return nil, newError(CodeValidation, err, "wallet %q", walletAddress)
	}
	link, err := c.checkWallet(ctx, accountID, walletAddress)
	if err != nil {
		return nil, err
	}
	if c.chain.CircuitStatus().IsOpen {
		return nil, newError(CodeChainUnavailable, chain.ErrCircuitOpen, "claims are paused")
	}

	attempt := &models.ClaimAttempt{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		WalletAddress: walletAddress,
		Status:        models.ClaimInitiated,
	}
	fields := logging.LedgerFields(attempt.ID, accountID, "claim")
	ctx = context.WithoutCancel(ctx)

	err = c.ledger.InTx(ctx, func(tx *LedgerTx) error {
		open, err := tx.claims.FindOpen(ctx, accountID)
		if err != nil {
			return err
		}
		if open != nil {
			return newError(CodeClaimInProgress, nil, "claim %s is %s", open.ID, open.Status)
		}

		records, err := tx.rewards.ListClaimable(ctx, accountID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			total = total.Add(rec.FinalAmount)
			ids = append(ids, rec.ID)
		}
		if len(ids) == 0 || !total.IsPositive() {
			return newError(CodeNoPendingRewards, nil, "nothing to claim")
		}

		attempt.TotalAmount = total
		attempt.RewardRecordIDs = ids
		attempt.CreatedAt = tx.now
		attempt.UpdatedAt = tx.now
		if err := tx.claims.Create(ctx, attempt); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return newError(CodeClaimInProgress, err, "another claim started")
			}
			return err
		}

		bound, err := tx.rewards.AttachToClaim(ctx, ids, attempt.ID)
		if err != nil {
			return err
		}
		if int(bound) != len(ids) {
			return newError(CodeConcurrentModification, nil, "claimable records changed")
		}
		if link {
			if err := tx.accounts.UpdateWalletAddress(ctx, accountID, walletAddress); err != nil {
				if errors.Is(err, db.ErrDuplicate) {
					return newError(CodeWalletMismatch, err, "wallet is linked to another account")
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if CodeOf(err) == "" {
			c.logger.Error("Failed to open claim", append(fields, zap.Error(err))...)
		}
		return nil, err
	}

	// submitted marks the point after which the mint may exist
	ok, err := c.ledger.read.claims.Transition(ctx, attempt.ID, models.ClaimInitiated, models.ClaimSubmitted, nil, "")
	if err != nil || !ok {
		c.logger.Error("Failed to submit claim", append(fields, zap.Error(err))...)
		if err == nil {
			err = errStale
		}
		return nil, err
	}
	attempt.Status = models.ClaimSubmitted

	mintCtx := ctx
	if c.cfg.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		mintCtx, cancel = context.WithTimeout(ctx, c.cfg.ClaimTimeout)
		defer cancel()
	}
	digest, err := c.chain.Mint(mintCtx, walletAddress, attempt.TotalAmount, attempt.ID)

	switch {
	case err == nil:
		if err := c.ledger.InTx(ctx, func(tx *LedgerTx) error {
			return tx.ConfirmClaim(ctx, attempt, digest)
		}); err != nil {
			c.logger.Error("Minted but failed to confirm claim",
				append(fields, zap.String("digest", digest), zap.Error(err))...)
			return nil, newError(CodeClaimIndeterminate, err, "claim %s minted as %s, confirmation pending", attempt.ID, digest)
		}
		c.logger.Info("Claim confirmed",
			append(fields, zap.String("digest", digest), zap.String("total", attempt.TotalAmount.String()))...)
		return &ClaimResult{
			AttemptID:      attempt.ID,
			TotalClaimed:   attempt.TotalAmount,
			RecordsClaimed: len(attempt.RewardRecordIDs),
			TxDigest:       digest,
		}, nil

	case errors.Is(err, chain.ErrIndeterminate):
		c.logger.Warn("Claim outcome unknown", append(fields, zap.Error(err))...)
		return nil, newError(CodeClaimIndeterminate, err, "claim %s awaiting reconciliation", attempt.ID)
	}

	c.logger.Warn("Claim mint failed", append(fields, zap.Error(err))...)
	if ferr := c.ledger.InTx(ctx, func(tx *LedgerTx) error {
		return tx.FailClaim(ctx, attempt, err.Error())
	}); ferr != nil {
		c.logger.Error("Failed to close failed claim", append(fields, zap.Error(ferr))...)
	}
	return nil, newError(CodeChainUnavailable, err, "claim %s failed", attempt.ID)
}

// checkWallet rejects a wallet other than the one already linked. It reports
// whether the account still needs walletAddress linked.
func (c *ClaimCoordinator) checkWallet(ctx context.Context, accountID, walletAddress string) (bool, error) {
	account, err := c.ledger.read.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account == nil {
		return false, newError(CodeNotFound, nil, "account %q not found", accountID)
	}
	if account.WalletAddress != nil && *account.WalletAddress != "" {
		if !strings.EqualFold(*account.WalletAddress, walletAddress) {
			return false, newError(CodeWalletMismatch, nil, "account %q is linked to another wallet", accountID)
		}
		return false, nil
	}
	return true, nil
}
