package social

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/api/objects"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/internal/trust"
	"github.com/tastemind/tastemind/pkg/logging"
)

// API maintains the social graph that trust scoring reads
type API struct {
	accounts *db.AccountRepository
	graph    *db.SocialGraphRepository
	engine   *trust.Engine
	logger   *zap.Logger
}

// NewAPI creates the social graph API
func NewAPI(accounts *db.AccountRepository, graph *db.SocialGraphRepository, engine *trust.Engine) *API {
	return &API{
		accounts: accounts,
		graph:    graph,
		engine:   engine,
		logger:   logging.GetLogger().With(zap.String("component", "social-api")),
	}
}

type followParams struct {
	Follower  string   `json:"follower"`
	Following string   `json:"following"`
	Weight    *float64 `json:"weight"`
}

func (a *API) bindFollow(c *gin.Context, params json.RawMessage) (followParams, error) {
	var p followParams
	if err := objects.BindParams(params, &p); err != nil {
		return p, err
	}
	if err := objects.Require(map[string]string{"follower": p.Follower, "following": p.Following}); err != nil {
		return p, err
	}
	if p.Follower == p.Following {
		return p, objects.InvalidParams("an account cannot follow itself")
	}

	ctx := c.Request.Context()
	for _, id := range []string{p.Follower, p.Following} {
		acc, err := a.accounts.GetAccount(ctx, id)
		if err != nil {
			return p, err
		}
		if acc == nil {
			return p, objects.InvalidParams("account not found: %s", id)
		}
	}
	return p, nil
}

// Follow handles social.follow
func (a *API) Follow(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := a.bindFollow(c, params)
	if err != nil {
		return nil, err
	}
	weight := 1.0
	if p.Weight != nil {
		if *p.Weight <= 0 || *p.Weight > 1 {
			return nil, objects.InvalidParams("weight must be in (0, 1]")
		}
		weight = *p.Weight
	}

	ctx := c.Request.Context()
	if err := a.graph.Follow(ctx, p.Follower, p.Following, weight); err != nil {
		if errors.Is(err, db.ErrSelfEdge) {
			return nil, objects.InvalidParams("%v", err)
		}
		return nil, err
	}
	a.engine.Forget(ctx, p.Follower, p.Following)

	a.logger.Debug("Processed follow",
		zap.String("follower", p.Follower),
		zap.String("following", p.Following),
		zap.Float64("weight", weight))
	return gin.H{"follower": p.Follower, "following": p.Following, "active": true}, nil
}

// Unfollow handles social.unfollow
func (a *API) Unfollow(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p, err := a.bindFollow(c, params)
	if err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	if err := a.graph.Unfollow(ctx, p.Follower, p.Following); err != nil {
		return nil, err
	}
	a.engine.Forget(ctx, p.Follower, p.Following)

	a.logger.Debug("Processed unfollow",
		zap.String("follower", p.Follower),
		zap.String("following", p.Following))
	return gin.H{"follower": p.Follower, "following": p.Following, "active": false}, nil
}

type alignmentParams struct {
	ViewerID        string  `json:"viewer_id"`
	ComparedUserID  string  `json:"compared_user_id"`
	SimilarityScore float64 `json:"similarity_score"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// SetTasteAlignment handles social.set_taste_alignment. Alignments are
// computed offline and pushed here.
func (a *API) SetTasteAlignment(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p alignmentParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := objects.Require(map[string]string{"viewer_id": p.ViewerID, "compared_user_id": p.ComparedUserID}); err != nil {
		return nil, err
	}
	if p.SimilarityScore < 0 || p.SimilarityScore > 1 || p.ConfidenceLevel < 0 || p.ConfidenceLevel > 1 {
		return nil, objects.InvalidParams("similarity_score and confidence_level must be in [0, 1]")
	}

	ctx := c.Request.Context()
	alignment := &models.TasteAlignment{
		ViewerID:        p.ViewerID,
		ComparedUserID:  p.ComparedUserID,
		SimilarityScore: p.SimilarityScore,
		ConfidenceLevel: p.ConfidenceLevel,
	}
	if err := a.graph.UpsertTasteAlignment(ctx, alignment); err != nil {
		return nil, err
	}
	a.engine.Forget(ctx, p.ViewerID, p.ComparedUserID)
	return p, nil
}
