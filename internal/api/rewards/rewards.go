package rewards

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tastemind/tastemind/internal/api/objects"
	rewardsvc "github.com/tastemind/tastemind/internal/rewards"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

// API exposes the reward ledger over JSON-RPC
type API struct {
	distributor *rewardsvc.Distributor
	claims      *rewardsvc.ClaimCoordinator
	ledger      *rewardsvc.Ledger
}

// NewAPI creates the rewards API
func NewAPI(ledger *rewardsvc.Ledger, distributor *rewardsvc.Distributor, claims *rewardsvc.ClaimCoordinator) *API {
	return &API{
		distributor: distributor,
		claims:      claims,
		ledger:      ledger,
	}
}

type actionParams struct {
	AccountID string            `json:"account_id"`
	Action    string            `json:"action"`
	TargetID  *string           `json:"target_id"`
	Context   map[string]string `json:"context"`
}

// AwardAction handles rewards.award_action
func (a *API) AwardAction(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p actionParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"account_id": p.AccountID, "action": p.Action}); err != nil {
		return nil, err
	}

	return a.distributor.Award(c.Request.Context(), rewardsvc.AwardRequest{
		AccountID: p.AccountID,
		Action:    p.Action,
		TargetID:  p.TargetID,
		Context:   p.Context,
	})
}

// CheckEligibility handles rewards.check_eligibility
func (a *API) CheckEligibility(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p actionParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"account_id": p.AccountID, "action": p.Action}); err != nil {
		return nil, err
	}
	return a.distributor.CheckEligibility(c.Request.Context(), p.AccountID, p.Action, p.TargetID)
}

// ReverseAction handles rewards.reverse_action
func (a *API) ReverseAction(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p actionParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"account_id": p.AccountID, "action": p.Action}); err != nil {
		return nil, err
	}
	return a.distributor.Reverse(c.Request.Context(), p.AccountID, p.Action, p.TargetID)
}

type accountParams struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
}

// GetPendingBalance handles rewards.get_pending_balance
func (a *API) GetPendingBalance(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"account_id": p.AccountID}); err != nil {
		return nil, err
	}

	balance, err := a.distributor.PendingBalance(c.Request.Context(), p.AccountID)
	if err != nil {
		return nil, err
	}
	return struct {
		AccountID string          `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}{p.AccountID, balance}, nil
}

// ListRecords handles rewards.list_records
func (a *API) ListRecords(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"account_id": p.AccountID}); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = defaultRecordLimit
	}
	if p.Limit > maxRecordLimit {
		p.Limit = maxRecordLimit
	}

	records, err := a.ledger.Records(c.Request.Context(), p.AccountID, p.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]objects.RewardObject, 0, len(records))
	for _, r := range records {
		out = append(out, objects.NewRewardObject(r))
	}
	return out, nil
}

// ListActions handles rewards.list_actions
func (a *API) ListActions(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return rewardsvc.Actions(), nil
}

type claimParams struct {
	AccountID     string `json:"account_id"`
	WalletAddress string `json:"wallet_address"`
}

// ClaimPending handles rewards.claim_pending
func (a *API) ClaimPending(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p claimParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"account_id": p.AccountID, "wallet_address": p.WalletAddress}); err != nil {
		return nil, err
	}
	return a.claims.ClaimPending(c.Request.Context(), p.AccountID, p.WalletAddress)
}

// GetClaim handles rewards.get_claim
func (a *API) GetClaim(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		AttemptID string `json:"attempt_id"`
	}
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"attempt_id": p.AttemptID}); err != nil {
		return nil, err
	}

	attempt, err := a.claims.GetClaim(c.Request.Context(), p.AttemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, rewardsvc.ErrNotFound
	}
	return objects.NewClaimObject(attempt), nil
}
