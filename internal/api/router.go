package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	rewardsapi "github.com/tastemind/tastemind/internal/api/rewards"
	socialapi "github.com/tastemind/tastemind/internal/api/social"
	trustapi "github.com/tastemind/tastemind/internal/api/trust"
	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/internal/trust"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

const healthTimeout = 2 * time.Second

// HealthChecker is a dependency whose liveness the health endpoint reports
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services bundles what the router exposes
type Services struct {
	Ledger      *rewards.Ledger
	Distributor *rewards.Distributor
	Claims      *rewards.ClaimCoordinator
	Trust       *trust.Engine
	Accounts    *db.AccountRepository
	Graph       *db.SocialGraphRepository
	Chain       trustapi.CircuitReporter
	Checks      map[string]HealthChecker
}

// Router sets up API routes
type Router struct {
	handler  *JSONRPCHandler
	services Services
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(services Services) *Router {
	router := &Router{
		handler:  NewJSONRPCHandler(),
		services: services,
		logger:   logging.GetLogger().With(zap.String("component", "api-router")),
	}

	router.registerMethods()

	return router
}

// Handler exposes the JSON-RPC dispatcher
func (r *Router) Handler() *JSONRPCHandler {
	return r.handler
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)
	engine.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	s := r.services

	rewardAPI := rewardsapi.NewAPI(s.Ledger, s.Distributor, s.Claims)
	r.handler.RegisterMethod("rewards.award_action", rewardAPI.AwardAction)
	r.handler.RegisterMethod("rewards.check_eligibility", rewardAPI.CheckEligibility)
	r.handler.RegisterMethod("rewards.reverse_action", rewardAPI.ReverseAction)
	r.handler.RegisterMethod("rewards.get_pending_balance", rewardAPI.GetPendingBalance)
	r.handler.RegisterMethod("rewards.list_records", rewardAPI.ListRecords)
	r.handler.RegisterMethod("rewards.list_actions", rewardAPI.ListActions)
	r.handler.RegisterMethod("rewards.claim_pending", rewardAPI.ClaimPending)
	r.handler.RegisterMethod("rewards.get_claim", rewardAPI.GetClaim)

	trustAPI := trustapi.NewAPI(s.Trust, s.Chain)
	r.handler.RegisterMethod("trust.compute_score", trustAPI.ComputeScore)
	r.handler.RegisterMethod("trust.rank_group", trustAPI.RankGroup)
	r.handler.RegisterMethod("chain.circuit_status", trustAPI.CircuitStatus)

	socialAPI := socialapi.NewAPI(s.Accounts, s.Graph, s.Trust)
	r.handler.RegisterMethod("social.follow", socialAPI.Follow)
	r.handler.RegisterMethod("social.unfollow", socialAPI.Unfollow)
	r.handler.RegisterMethod("social.set_taste_alignment", socialAPI.SetTasteAlignment)
}

// healthHandler reports dependency health and the chain circuit
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, checker := range r.services.Checks {
		if checker == nil {
			continue
		}
		if err := checker.Health(ctx); err != nil {
			r.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "OK"
	}

	body := gin.H{
		"status":  "OK",
		"service": "tastemind-api",
		"checks":  checks,
	}
	if status != http.StatusOK {
		body["status"] = "DEGRADED"
	}
	if r.services.Chain != nil {
		// an open circuit degrades settlement, not the API
		body["chain"] = r.services.Chain.CircuitStatus()
	}
	c.JSON(status, body)
}

var _ trustapi.CircuitReporter = (*chain.Gateway)(nil)
