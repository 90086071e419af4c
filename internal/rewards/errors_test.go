package rewards

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tastemind/tastemind/internal/models"
)

func TestErrorMatchesOnCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(CodeClaimInProgress, nil, "claim %s is open", "c1"))

	if !errors.Is(err, ErrClaimInProgress) {
		t.Error("expected wrapped error to match ErrClaimInProgress")
	}
	if errors.Is(err, ErrNoPendingRewards) {
		t.Error("did not expect match on a different code")
	}
	if CodeOf(err) != CodeClaimInProgress {
		t.Errorf("CodeOf() = %s", CodeOf(err))
	}
	if !IsTransient(err) {
		t.Error("ClaimInProgress should be transient")
	}
	if IsTransient(ErrValidation) {
		t.Error("ValidationError should not be transient")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no code")
	}
}

func TestTierMultiplier(t *testing.T) {
	tests := []struct {
		tier models.ReputationTier
		want string
	}{
		{models.ReputationNew, "0.5"},
		{models.ReputationEstablished, "1"},
		{models.ReputationTrusted, "1.5"},
		{"Legendary", "0.5"},
	}
	for _, tt := range tests {
		if got := TierMultiplier(tt.tier); !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("TierMultiplier(%s) = %s, want %s", tt.tier, got, tt.want)
		}
	}
}

func TestCatalogue(t *testing.T) {
	actions := Actions()
	if len(actions) != 7 {
		t.Fatalf("expected 7 actions, got %d", len(actions))
	}
	for i := 1; i < len(actions); i++ {
		if actions[i-1].Name >= actions[i].Name {
			t.Errorf("actions not sorted: %s before %s", actions[i-1].Name, actions[i].Name)
		}
	}
	login, ok := LookupAction(ActionDailyLogin)
	if !ok || login.RequiresTarget || login.Cooldown != 24*time.Hour {
		t.Errorf("unexpected daily_login entry: %+v", login)
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)
	referral, _ := LookupAction(ActionReferral)
	login, _ := LookupAction(ActionDailyLogin)

	tests := []struct {
		name      string
		action    Action
		window    models.EligibilityWindow
		eligible  bool
		reason    Code
		nextCount int
	}{
		{"fresh window", referral, models.EligibilityWindow{}, true, "", 1},
		{"under cap", referral, models.EligibilityWindow{RecentAwards: times(hourAgo, 4)}, true, "", 5},
		{"at cap", referral, models.EligibilityWindow{RecentAwards: times(hourAgo, 5)}, false, CodeDailyLimitExceeded, 0},
		{"expired awards drop out", referral, models.EligibilityWindow{RecentAwards: times(dayAgo, 5)}, true, "", 1},
		{"only expired awards drop out", referral, models.EligibilityWindow{
			RecentAwards: append(times(dayAgo, 2), times(hourAgo, 4)...),
		}, true, "", 5},
		{"cooldown active", login, models.EligibilityWindow{LastAwardedAt: &hourAgo}, false, CodeCooldownActive, 0},
		{"cooldown elapsed", login, models.EligibilityWindow{LastAwardedAt: &dayAgo}, true, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.window
			got, next := evaluate(tt.action, &w, now)
			if got.Eligible != tt.eligible || got.ReasonCode != tt.reason {
				t.Fatalf("evaluate() = %+v, want eligible=%v reason=%s", got, tt.eligible, tt.reason)
			}
			if !tt.eligible {
				if next != nil {
					t.Error("rejected evaluation should not propose a window")
				}
				return
			}
			if len(next.RecentAwards) != tt.nextCount {
				t.Errorf("next count = %d, want %d", len(next.RecentAwards), tt.nextCount)
			}
			if next.LastAwardedAt == nil || !next.LastAwardedAt.Equal(now) {
				t.Error("next window should record the award time")
			}
			if len(w.RecentAwards) != len(tt.window.RecentAwards) {
				t.Error("evaluate must not mutate its input")
			}
		})
	}
}

func times(at time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = at
	}
	return out
}
