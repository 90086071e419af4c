package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tastemind/tastemind/internal/api"
	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/chain/chaintest"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/internal/testutil"
	"github.com/tastemind/tastemind/internal/trust"
	"github.com/tastemind/tastemind/pkg/config"
)

const wallet = "0xa000000000000000000000000000000000000000000000000000000000000001"

type rpcResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

type server struct {
	t        *testing.T
	engine   *gin.Engine
	node     *chaintest.Node
	accounts *db.AccountRepository
	graph    *db.SocialGraphRepository
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testutil.NewTestDB(t)
	node := chaintest.NewNode()
	t.Cleanup(node.Close)

	cfg := config.RewardsConfig{
		GraceWindow:         24 * time.Hour,
		MaxConflictRetries:  5,
		ClaimTimeout:        2 * time.Second,
		StaleReservationAge: 5 * time.Minute,
		IndeterminateMaxAge: time.Hour,
	}
	gateway := chain.NewWithBreaker(node.URL, chain.NewBreaker(5, 30*time.Second), cfg.ClaimTimeout, time.Second)
	ledger := rewards.NewLedger(conn)

	repo := db.NewRepository(conn)
	accounts := db.NewAccountRepository(repo)
	graph := db.NewSocialGraphRepository(repo)
	engine := trust.NewEngine(accounts, graph, nil, config.TrustConfig{
		SocialWeight:       0.3,
		TasteWeight:        0.5,
		ContextWeight:      0.2,
		AlignmentThreshold: 0.7,
		DefaultAuthorTrust: 5,
	})

	router := api.NewRouter(api.Services{
		Ledger:      ledger,
		Distributor: rewards.NewDistributor(ledger, gateway, cfg),
		Claims:      rewards.NewClaimCoordinator(ledger, gateway, cfg),
		Trust:       engine,
		Accounts:    accounts,
		Graph:       graph,
		Chain:       gateway,
	})
	r := gin.New()
	router.SetupRoutes(r)

	return &server{t: t, engine: r, node: node, accounts: accounts, graph: graph}
}

func (s *server) call(method string, params interface{}) rpcResponse {
	s.t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(s.t, err)
	return s.post(body)
}

func (s *server) post(body []byte) rpcResponse {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(s.t, http.StatusOK, w.Code)

	var resp rpcResponse
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *server) account(id string, tier models.ReputationTier) {
	s.t.Helper()
	require.NoError(s.t, s.accounts.Create(context.Background(), &models.Account{
		ID:             id,
		SettlementTier: models.SettlementEmailBasic,
		ReputationTier: tier,
	}))
}

func (s *server) balance(account string) decimal.Decimal {
	s.t.Helper()
	resp := s.call("rewards.get_pending_balance", map[string]string{"account_id": account})
	require.Nil(s.t, resp.Error)
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Result, &out))
	return out.Balance
}

func errorKind(t *testing.T, resp rpcResponse) string {
	t.Helper()
	require.NotNil(t, resp.Error)
	var data struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(resp.Error.Data, &data))
	return data.Code
}

func TestAwardThenClaimOverRPC(t *testing.T) {
	s := newServer(t)
	s.account("alice", models.ReputationEstablished)

	resp := s.call("rewards.award_action", map[string]interface{}{
		"account_id": "alice",
		"action":     rewards.ActionRecommendation,
		"target_id":  "post-1",
	})
	require.Nil(t, resp.Error)
	var award rewards.AwardResult
	require.NoError(t, json.Unmarshal(resp.Result, &award))
	require.True(t, award.Accepted)
	require.Equal(t, models.MethodPending, award.SettlementMethod)
	require.Equal(t, "5", award.Amount.String())

	require.True(t, s.balance("alice").Equal(decimal.NewFromInt(5)))

	resp = s.call("rewards.claim_pending", map[string]string{"account_id": "alice", "wallet_address": wallet})
	require.Nil(t, resp.Error)
	var claim rewards.ClaimResult
	require.NoError(t, json.Unmarshal(resp.Result, &claim))
	require.True(t, claim.TotalClaimed.Equal(decimal.NewFromInt(5)))
	require.True(t, s.balance("alice").IsZero())
	require.Equal(t, 1, s.node.Mints())

	resp = s.call("rewards.get_claim", map[string]string{"attempt_id": claim.AttemptID})
	require.Nil(t, resp.Error)
	var attempt struct {
		Status  models.ClaimStatus `json:"status"`
		Records int                `json:"records"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &attempt))
	require.Equal(t, models.ClaimConfirmed, attempt.Status)
	require.Equal(t, 1, attempt.Records)

	resp = s.call("rewards.claim_pending", map[string]string{"account_id": "alice", "wallet_address": wallet})
	require.Equal(t, api.ErrNoPendingRewards, resp.Error.Code)
	require.Equal(t, string(rewards.CodeNoPendingRewards), errorKind(t, resp))
}

func TestDuplicateAwardIsRejectedNotErrored(t *testing.T) {
	s := newServer(t)
	s.account("alice", models.ReputationNew)
	params := map[string]interface{}{
		"account_id": "alice",
		"action":     rewards.ActionUpvoteGiven,
		"target_id":  "post-1",
	}

	require.Nil(t, s.call("rewards.award_action", params).Error)

	resp := s.call("rewards.award_action", params)
	require.Nil(t, resp.Error)
	var award rewards.AwardResult
	require.NoError(t, json.Unmarshal(resp.Result, &award))
	require.False(t, award.Accepted)
	require.Equal(t, rewards.CodeDuplicateAction, award.ReasonIfRejected)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	s.account("alice", models.ReputationNew)

	tests := []struct {
		name   string
		method string
		params interface{}
		code   int
	}{
		{"missing account", "rewards.award_action", map[string]string{"action": "comment"}, api.ErrInvalidParams},
		{"unknown field", "rewards.get_pending_balance", map[string]string{"account_id": "alice", "wallet": "x"}, api.ErrInvalidParams},
		{"unknown action", "rewards.award_action", map[string]string{"account_id": "alice", "action": "mining"}, api.ErrInvalidParams},
		{"unknown account", "rewards.award_action", map[string]string{"account_id": "ghost", "action": "daily_login"}, api.ErrNotFound},
		{"bad wallet", "rewards.claim_pending", map[string]string{"account_id": "alice", "wallet_address": "0x12"}, api.ErrInvalidParams},
		{"unknown claim", "rewards.get_claim", map[string]string{"attempt_id": "nope"}, api.ErrNotFound},
		{"reverse unknown reward", "rewards.reverse_action", map[string]string{"account_id": "alice", "action": "comment", "target_id": "never"}, api.ErrNotFound},
		{"unknown method", "rewards.mine", map[string]string{}, api.ErrMethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.call(tt.method, tt.params)
			require.NotNil(t, resp.Error)
			require.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestMalformedRequests(t *testing.T) {
	s := newServer(t)

	resp := s.post([]byte(`{not json`))
	require.Equal(t, api.ErrParseError, resp.Error.Code)

	resp = s.post([]byte(`{"jsonrpc":"1.0","id":1,"method":"rewards.list_actions"}`))
	require.Equal(t, api.ErrInvalidRequest, resp.Error.Code)
}

func TestPositionalParamsAccepted(t *testing.T) {
	s := newServer(t)
	s.account("alice", models.ReputationNew)

	resp := s.post([]byte(`{"jsonrpc":"2.0","id":7,"method":"rewards.get_pending_balance","params":[{"account_id":"alice"}]}`))
	require.Nil(t, resp.Error)
	require.EqualValues(t, 7, resp.ID)
	var out struct {
		AccountID string          `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	require.Equal(t, "alice", out.AccountID)
	require.True(t, out.Balance.IsZero())
}

func TestListActions(t *testing.T) {
	s := newServer(t)

	resp := s.call("rewards.list_actions", nil)
	require.Nil(t, resp.Error)
	var actions []rewards.Action
	require.NoError(t, json.Unmarshal(resp.Result, &actions))
	require.Len(t, actions, len(rewards.Actions()))
}

func TestTrustMethods(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	for _, id := range []string{"viewer", "friend", "stranger"} {
		require.NoError(t, s.accounts.Create(ctx, &models.Account{ID: id}))
	}
	require.NoError(t, s.graph.Follow(ctx, "viewer", "friend", 1))

	resp := s.call("trust.compute_score", map[string]string{"viewer_id": "viewer", "author_id": "friend"})
	require.Nil(t, resp.Error)
	var score trust.Score
	require.NoError(t, json.Unmarshal(resp.Result, &score))
	require.Equal(t, trust.TierMyNetwork, score.Tier)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	resp = s.call("trust.rank_group", map[string]interface{}{
		"viewer_id": "viewer",
		"candidates": []map[string]interface{}{
			{"group_key": "cafe", "content_id": "c1", "author_id": "stranger", "timestamp": newer},
			{"group_key": "cafe", "content_id": "c2", "author_id": "friend", "timestamp": older},
			{"group_key": "bar", "content_id": "c3", "author_id": "stranger", "timestamp": older},
		},
	})
	require.Nil(t, resp.Error)
	var ranked []trust.Candidate
	require.NoError(t, json.Unmarshal(resp.Result, &ranked))
	require.Len(t, ranked, 2)
	require.Equal(t, "c2", ranked[0].ContentID)
	require.Equal(t, trust.TierMyNetwork, ranked[0].Tier)
	require.Equal(t, "c3", ranked[1].ContentID)
}

func TestCircuitStatusAndHealth(t *testing.T) {
	s := newServer(t)

	resp := s.call("chain.circuit_status", nil)
	require.Nil(t, resp.Error)
	var status chain.CircuitStatus
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	require.False(t, status.IsOpen)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"service":"tastemind-api"`)
}

func TestSocialMethodsFeedTrust(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	for _, id := range []string{"viewer", "author", "twin"} {
		require.NoError(t, s.accounts.Create(ctx, &models.Account{ID: id}))
	}
	tier := func(author string) trust.Tier {
		resp := s.call("trust.compute_score", map[string]string{"viewer_id": "viewer", "author_id": author})
		require.Nil(t, resp.Error)
		var score trust.Score
		require.NoError(t, json.Unmarshal(resp.Result, &score))
		return score.Tier
	}

	require.Equal(t, trust.TierCommunity, tier("author"))

	resp := s.call("social.follow", map[string]string{"follower": "viewer", "following": "author"})
	require.Nil(t, resp.Error)
	require.Equal(t, trust.TierMyNetwork, tier("author"))

	resp = s.call("social.unfollow", map[string]string{"follower": "viewer", "following": "author"})
	require.Nil(t, resp.Error)
	require.Equal(t, trust.TierCommunity, tier("author"))

	resp = s.call("social.set_taste_alignment", map[string]interface{}{
		"viewer_id": "viewer", "compared_user_id": "twin", "similarity_score": 0.9, "confidence_level": 0.5,
	})
	require.Nil(t, resp.Error)
	require.Equal(t, trust.TierSimilarTastes, tier("twin"))

	resp = s.call("social.follow", map[string]string{"follower": "viewer", "following": "viewer"})
	require.Equal(t, api.ErrInvalidParams, resp.Error.Code)

	resp = s.call("social.follow", map[string]string{"follower": "viewer", "following": "ghost"})
	require.Equal(t, api.ErrInvalidParams, resp.Error.Code)
}
