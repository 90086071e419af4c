package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tastemind/tastemind/internal/models"
)

// errWindowConflict means another award moved the window between our read
// and our write
var errWindowConflict = errors.New("eligibility window changed concurrently")

// Eligibility is the outcome of an eligibility check
type Eligibility struct {
	Eligible          bool           `json:"eligible"`
	ReasonCode        Code           `json:"reason_code,omitempty"`
	CooldownRemaining *time.Duration `json:"cooldown_remaining,omitempty"`
	DailyRemaining    *int           `json:"daily_remaining,omitempty"`
}

// Guard enforces duplicate suppression, cooldowns and daily caps. It reads
// through the ledger and shares its clock.
type Guard struct {
	ledger *Ledger
}

// NewGuard creates a guard over ledger
func NewGuard(ledger *Ledger) *Guard {
	return &Guard{ledger: ledger}
}

// CheckEligibility reports whether an award would be accepted right now. It
// does not reserve anything; Award re-checks inside its transaction.
func (g *Guard) CheckEligibility(ctx context.Context, accountID, actionName string, target *string) (*Eligibility, error) {
	action, target, err := resolveAction(actionName, target)
	if err != nil {
		return nil, err
	}

	if target != nil {
		existing, err := g.ledger.read.rewards.FindActive(ctx, accountID, action.Name, *target)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &Eligibility{ReasonCode: CodeDuplicateAction}, nil
		}
	}

	window, err := g.ledger.read.windows.Get(ctx, accountID, action.Name)
	if err != nil {
		return nil, err
	}
	if window == nil {
		window = &models.EligibilityWindow{AccountID: accountID, Action: action.Name}
	}
	result, _ := evaluate(action, window, g.ledger.now())
	return &result, nil
}

// reserve runs the eligibility checks inside tx and, when eligible, claims a
// slot in the window with a compare-and-swap. A lost swap is retryable.
func reserve(ctx context.Context, tx *LedgerTx, accountID string, action Action, target *string) (Eligibility, error) {
	if target != nil {
		existing, err := tx.rewards.FindActive(ctx, accountID, action.Name, *target)
		if err != nil {
			return Eligibility{}, err
		}
		if existing != nil {
			return Eligibility{ReasonCode: CodeDuplicateAction}, nil
		}
	}

	window, err := tx.windows.Ensure(ctx, accountID, action.Name)
	if err != nil {
		return Eligibility{}, err
	}

	result, next := evaluate(action, window, tx.now)
	if !result.Eligible {
		return result, nil
	}

	swapped, err := tx.windows.CompareAndSwap(ctx, next)
	if err != nil {
		return Eligibility{}, err
	}
	if !swapped {
		return Eligibility{}, retry.RetryableError(errWindowConflict)
	}
	return result, nil
}

// evaluate applies cooldown and cap rules to a window snapshot. The cap
// counts awards in the trailing capWindow. When the action is eligible it
// also returns the window as it should look after the award.
func evaluate(action Action, w *models.EligibilityWindow, now time.Time) (Eligibility, *models.EligibilityWindow) {
	if action.Cooldown > 0 && w.LastAwardedAt != nil {
		if elapsed := now.Sub(*w.LastAwardedAt); elapsed < action.Cooldown {
			remaining := action.Cooldown - elapsed
			return Eligibility{ReasonCode: CodeCooldownActive, CooldownRemaining: &remaining}, nil
		}
	}

	next := *w
	result := Eligibility{Eligible: true}
	if action.DailyCap > 0 {
		recent := awardsSince(w.RecentAwards, now.Add(-capWindow))
		if len(recent) >= action.DailyCap {
			zero := 0
			return Eligibility{ReasonCode: CodeDailyLimitExceeded, DailyRemaining: &zero}, nil
		}
		// quota left before this award is taken
		remaining := action.DailyCap - len(recent)
		result.DailyRemaining = &remaining
		next.RecentAwards = append(recent, now)
	}

	last := now
	next.LastAwardedAt = &last
	return result, &next
}

// awardsSince copies the award times after cutoff
func awardsSince(times []time.Time, cutoff time.Time) []time.Time {
	kept := make([]time.Time, 0, len(times)+1)
	for _, at := range times {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

// resolveAction validates the action name and normalises its target
func resolveAction(name string, target *string) (Action, *string, error) {
	action, ok := LookupAction(name)
	if !ok {
		return Action{}, nil, newError(CodeValidation, nil, "unknown action %q", name)
	}
	if !action.RequiresTarget {
		return action, nil, nil
	}
	if target == nil || *target == "" {
		return Action{}, nil, newError(CodeValidation, nil, "action %q requires a target", name)
	}
	return action, target, nil
}
