package rewards

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

const reconcileBatch = 100

// Relayer ships committed outbox events
type Relayer interface {
	RelayOnce(ctx context.Context) (int, error)
}

// ReconcileReport counts what one pass resolved
type ReconcileReport struct {
	CircuitProbed         bool `json:"circuit_probed"`
	ClaimsConfirmed       int  `json:"claims_confirmed"`
	ClaimsFailed          int  `json:"claims_failed"`
	ClaimsPending         int  `json:"claims_pending"`
	ReservationsSettled   int  `json:"reservations_settled"`
	ReservationsConverted int  `json:"reservations_converted"`
	BalanceDrifts         int  `json:"balance_drifts"`
	EventsRelayed         int  `json:"events_relayed"`
}

// Reconciler resolves everything the request path had to leave open:
// indeterminate claims, stranded mint reservations, the circuit probe and
// the outbox
type Reconciler struct {
	ledger *Ledger
	chain  ChainGateway
	relay  Relayer
	cfg    config.RewardsConfig
	logger *zap.Logger
}

// NewReconciler creates a reconciler. relay may be nil.
func NewReconciler(ledger *Ledger, gateway ChainGateway, relay Relayer, cfg config.RewardsConfig) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		chain:  gateway,
		relay:  relay,
		cfg:    cfg,
		logger: logging.WithComponent("reconciler"),
	}
}

// Run reconciles every ReconcileInterval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.logger.Info("Starting reconciler", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := r.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.logger.Error("Reconcile pass failed", zap.Error(err))
		} else {
			r.logger.Debug("Reconcile pass finished", zap.Any("report", report))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single reconciliation pass
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "rewards.reconcile")
	defer span.End()

	report := &ReconcileReport{}

	if r.chain.CircuitStatus().IsOpen {
		report.CircuitProbed = true
		health := r.chain.HealthCheck(ctx)
		r.logger.Info("Probed chain while circuit open",
			zap.Bool("healthy", health.Healthy),
			zap.Int64("latency_ms", health.LatencyMs))
	}

	if err := r.resolveClaims(ctx, report); err != nil {
		return report, err
	}
	if err := r.resolveReservations(ctx, report); err != nil {
		return report, err
	}

	drifts, err := r.ledger.Audit(ctx, reconcileBatch)
	if err != nil {
		return report, err
	}
	for _, d := range drifts {
		r.logger.Error("Pending balance drift",
			zap.String("account_id", d.AccountID),
			zap.String("balance", d.Balance.String()),
			zap.String("record_sum", d.RecordSum.String()))
	}
	report.BalanceDrifts = len(drifts)

	if r.relay != nil {
		sent, err := r.relay.RelayOnce(ctx)
		if err != nil {
			return report, err
		}
		report.EventsRelayed = sent
	}
	return report, nil
}

// resolveClaims settles attempts the request path left open. Attempts are
// looked up on chain by their id, which was the mint idempotency key.
func (r *Reconciler) resolveClaims(ctx context.Context, report *ReconcileReport) error {
	now := r.ledger.now()
	cutoff := now.Add(-r.cfg.ClaimTimeout)

	// initiated attempts never reached the chain
	stranded, err := r.ledger.read.claims.ListByStatus(ctx, models.ClaimInitiated, cutoff, reconcileBatch)
	if err != nil {
		return err
	}
	for _, attempt := range stranded {
		if err := r.fail(ctx, attempt, "abandoned before submission"); err != nil {
			return err
		}
		report.ClaimsFailed++
	}

	submitted, err := r.ledger.read.claims.ListByStatus(ctx, models.ClaimSubmitted, cutoff, reconcileBatch)
	if err != nil {
		return err
	}
	for _, attempt := range submitted {
		fields := logging.LedgerFields(attempt.ID, attempt.AccountID, "claim")

		tx, err := r.chain.GetTransaction(ctx, attempt.ID)
		if err != nil {
			r.logger.Warn("Chain lookup failed, retrying next pass", append(fields, zap.Error(err))...)
			report.ClaimsPending++
			continue
		}

		switch {
		case tx != nil:
			err = r.ledger.InTx(ctx, func(ltx *LedgerTx) error {
				return ltx.ConfirmClaim(ctx, attempt, tx.Digest)
			})
			if errors.Is(err, errStale) {
				continue
			}
			if err != nil {
				r.logger.Error("Failed to confirm claim", append(fields, zap.Error(err))...)
				report.ClaimsPending++
				continue
			}
			r.logger.Info("Indeterminate claim confirmed", append(fields, zap.String("digest", tx.Digest))...)
			report.ClaimsConfirmed++

		case now.Sub(attempt.CreatedAt) >= r.cfg.IndeterminateMaxAge:
			if err := r.fail(ctx, attempt, "no mint found on chain"); err != nil {
				return err
			}
			report.ClaimsFailed++

		default:
			report.ClaimsPending++
		}
	}
	return nil
}

func (r *Reconciler) fail(ctx context.Context, attempt *models.ClaimAttempt, reason string) error {
	err := r.ledger.InTx(ctx, func(tx *LedgerTx) error {
		return tx.FailClaim(ctx, attempt, reason)
	})
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Warn("Claim failed by reconciler",
		append(logging.LedgerFields(attempt.ID, attempt.AccountID, "claim"), zap.String("reason", reason))...)
	return nil
}

// resolveReservations finishes mint reservations whose award request died
// between reserving and settling
func (r *Reconciler) resolveReservations(ctx context.Context, report *ReconcileReport) error {
	cutoff := r.ledger.now().Add(-r.cfg.StaleReservationAge)
	records, err := r.ledger.read.rewards.ListStaleReservations(ctx, cutoff, reconcileBatch)
	if err != nil {
		return err
	}

	for _, rec := range records {
		fields := logging.LedgerFields(rec.IdempotencyKey, rec.AccountID, rec.Action)

		tx, err := r.chain.GetTransaction(ctx, rec.IdempotencyKey)
		if err != nil {
			r.logger.Warn("Chain lookup failed, retrying next pass", append(fields, zap.Error(err))...)
			continue
		}

		if tx != nil {
			err = r.ledger.InTx(ctx, func(ltx *LedgerTx) error {
				return ltx.SettleReservation(ctx, rec, tx.Digest)
			})
			if err == nil {
				report.ReservationsSettled++
			}
		} else {
			err = r.ledger.InTx(ctx, func(ltx *LedgerTx) error {
				return ltx.ConvertReservation(ctx, rec)
			})
			if err == nil {
				report.ReservationsConverted++
			}
		}
		if err != nil && !errors.Is(err, errStale) {
			r.logger.Error("Failed to resolve reservation", append(fields, zap.Error(err))...)
		}
	}
	return nil
}
