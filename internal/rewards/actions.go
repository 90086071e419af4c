package rewards

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tastemind/tastemind/internal/models"
)

// capWindow is the trailing span a daily cap counts over
const capWindow = 24 * time.Hour

// Action names
const (
	ActionRecommendation  = "recommendation"
	ActionUpvoteGiven     = "upvote_given"
	ActionUpvoteReceived  = "upvote_received"
	ActionComment         = "comment"
	ActionDailyLogin      = "daily_login"
	ActionReferral        = "referral"
	ActionProfileComplete = "profile_complete"
)

// Action is a rewardable kind of activity
type Action struct {
	Name           string          `json:"name"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	Cooldown       time.Duration   `json:"cooldown,omitempty"`
	DailyCap       int             `json:"daily_cap,omitempty"`
	RequiresTarget bool            `json:"requires_target"`
}

var catalogue = map[string]Action{
	ActionRecommendation:  {Name: ActionRecommendation, BaseAmount: decimal.NewFromInt(5), DailyCap: 10, RequiresTarget: true},
	ActionUpvoteGiven:     {Name: ActionUpvoteGiven, BaseAmount: decimal.RequireFromString("0.5"), DailyCap: 50, RequiresTarget: true},
	ActionUpvoteReceived:  {Name: ActionUpvoteReceived, BaseAmount: decimal.NewFromInt(1), DailyCap: 100, RequiresTarget: true},
	ActionComment:         {Name: ActionComment, BaseAmount: decimal.RequireFromString("0.5"), DailyCap: 20, RequiresTarget: true},
	ActionDailyLogin:      {Name: ActionDailyLogin, BaseAmount: decimal.NewFromInt(1), Cooldown: 24 * time.Hour},
	ActionReferral:        {Name: ActionReferral, BaseAmount: decimal.NewFromInt(10), DailyCap: 5, RequiresTarget: true},
	ActionProfileComplete: {Name: ActionProfileComplete, BaseAmount: decimal.NewFromInt(2), RequiresTarget: true},
}

// LookupAction returns the catalogue entry for name
func LookupAction(name string) (Action, bool) {
	a, ok := catalogue[name]
	return a, ok
}

// Actions lists the catalogue ordered by name
func Actions() []Action {
	out := make([]Action, 0, len(catalogue))
	for _, a := range catalogue {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var multipliers = map[models.ReputationTier]decimal.Decimal{
	models.ReputationNew:         decimal.RequireFromString("0.5"),
	models.ReputationEstablished: decimal.NewFromInt(1),
	models.ReputationTrusted:     decimal.RequireFromString("1.5"),
}

// TierMultiplier scales a base amount by reputation. Unknown tiers get the
// New multiplier.
func TierMultiplier(tier models.ReputationTier) decimal.Decimal {
	if m, ok := multipliers[tier]; ok {
		return m
	}
	return multipliers[models.ReputationNew]
}
