package trust

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/cache"
	"github.com/tastemind/tastemind/internal/models"
	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

// Tier groups content by why the viewer should trust it
type Tier string

const (
	TierMyNetwork     Tier = "my_network"
	TierSimilarTastes Tier = "similar_tastes"
	TierCommunity     Tier = "community"
	TierUnrated       Tier = "unrated"
)

const (
	socialSelf         = 1.0
	socialDirect       = 0.8
	socialSecondDegree = 0.4
)

// AccountReader is the account lookup the engine needs
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

// SocialGraphReader is the read side of the follow graph
type SocialGraphReader interface {
	IsFollowing(ctx context.Context, viewerID, authorID string) (bool, error)
	IsSecondDegree(ctx context.Context, viewerID, authorID string) (bool, error)
	GetTasteAlignment(ctx context.Context, viewerID, authorID string) (*models.TasteAlignment, error)
}

// Score is the engine's answer for one (viewer, author) pair
type Score struct {
	Score           float64 `json:"score"`
	Tier            Tier    `json:"tier"`
	SocialWeight    float64 `json:"social_weight"`
	TasteAlignment  float64 `json:"taste_alignment"`
	ContextualMatch float64 `json:"contextual_match"`
	AuthorBaseTrust float64 `json:"author_base_trust"`
}

// relation is the viewer-dependent part of a score, cached per pair
type relation struct {
	Social      float64 `json:"s"`
	Direct      bool    `json:"d"`
	Taste       float64 `json:"t"`
	AuthorKnown bool    `json:"k"`
	AuthorTrust float64 `json:"b"`
}

// Engine computes trust scores. It never returns an error; lookups that
// fail degrade to zero weight.
type Engine struct {
	accounts AccountReader
	graph    SocialGraphReader
	cache    *cache.Cache
	cfg      config.TrustConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewEngine creates a trust engine. cache may be nil.
func NewEngine(accounts AccountReader, graph SocialGraphReader, c *cache.Cache, cfg config.TrustConfig) *Engine {
	return &Engine{
		accounts: accounts,
		graph:    graph,
		cache:    c,
		cfg:      cfg,
		now:      time.Now,
		logger:   logging.WithComponent("trust-engine"),
	}
}

// WithClock replaces the time source used for recency
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ComputeTrustScore scores authorID's content for viewerID. An empty
// viewerID is an anonymous viewer.
func (e *Engine) ComputeTrustScore(ctx context.Context, viewerID, authorID string, signals ContextSignals) Score {
	ctx, span := telemetry.StartSpan(ctx, "trust.compute_score")
	defer span.End()

	if authorID == "" {
		return Score{Tier: TierUnrated}
	}

	rel := e.relation(ctx, viewerID, authorID)
	cm := contextualMatch(signals, e.now())

	overall := (e.cfg.SocialWeight*rel.Social +
		e.cfg.TasteWeight*rel.Taste +
		e.cfg.ContextWeight*cm) * (rel.AuthorTrust / 10)

	return Score{
		Score:           clamp(overall*10, 0, 10),
		Tier:            e.classify(viewerID, authorID, rel),
		SocialWeight:    rel.Social,
		TasteAlignment:  rel.Taste,
		ContextualMatch: cm,
		AuthorBaseTrust: rel.AuthorTrust,
	}
}

func (e *Engine) classify(viewerID, authorID string, rel relation) Tier {
	switch {
	case viewerID != "" && (viewerID == authorID || rel.Direct):
		return TierMyNetwork
	case viewerID != "" && rel.Taste >= e.cfg.AlignmentThreshold && rel.Taste > 0:
		return TierSimilarTastes
	case !rel.AuthorKnown:
		return TierUnrated
	default:
		return TierCommunity
	}
}

// Forget drops the cached relation between viewer and author. Second-degree
// relations that pass through the pair expire with the cache TTL.
func (e *Engine) Forget(ctx context.Context, viewerID, authorID string) {
	if e.cfg.CacheTTL <= 0 {
		return
	}
	if err := e.cache.Delete(ctx, relationKey(viewerID, authorID)); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		e.logger.Warn("Trust cache invalidation failed", zap.String("viewer", viewerID), zap.String("author", authorID), zap.Error(err))
	}
}

func relationKey(viewerID, authorID string) string {
	return "trust:" + cache.HashKey(viewerID, authorID)
}

func (e *Engine) relation(ctx context.Context, viewerID, authorID string) relation {
	key := relationKey(viewerID, authorID)
	var rel relation
	if e.cfg.CacheTTL > 0 {
		if err := e.cache.GetJSON(ctx, key, &rel); err == nil {
			return rel
		}
	}

	rel = relation{AuthorTrust: e.cfg.DefaultAuthorTrust}
	degraded := false
	author, err := e.accounts.GetAccount(ctx, authorID)
	if err != nil {
		e.logger.Warn("Author lookup failed", zap.String("author", authorID), zap.Error(err))
		degraded = true
	}
	if author != nil {
		rel.AuthorKnown = true
		if author.ReputationScore != nil {
			rel.AuthorTrust = clamp(*author.ReputationScore, 0, 10)
		}
	}

	if viewerID != "" {
		rel.Social, rel.Direct = e.socialWeight(ctx, viewerID, authorID, &degraded)
		rel.Taste = e.tasteAlignment(ctx, viewerID, authorID, &degraded)
	}

	// degraded answers are not cached so the next call retries the lookups
	if e.cfg.CacheTTL > 0 && !degraded {
		// cache writes are best effort
		_ = e.cache.SetJSON(ctx, key, rel, e.cfg.CacheTTL)
	}
	return rel
}

func (e *Engine) socialWeight(ctx context.Context, viewerID, authorID string, degraded *bool) (float64, bool) {
	if viewerID == authorID {
		return socialSelf, false
	}
	direct, err := e.graph.IsFollowing(ctx, viewerID, authorID)
	if err != nil {
		e.logger.Warn("Follow lookup failed", zap.Error(err))
		*degraded = true
		return 0, false
	}
	if direct {
		return socialDirect, true
	}
	second, err := e.graph.IsSecondDegree(ctx, viewerID, authorID)
	if err != nil {
		e.logger.Warn("Second degree lookup failed", zap.Error(err))
		*degraded = true
		return 0, false
	}
	if second {
		return socialSecondDegree, false
	}
	return 0, false
}

func (e *Engine) tasteAlignment(ctx context.Context, viewerID, authorID string, degraded *bool) float64 {
	alignment, err := e.graph.GetTasteAlignment(ctx, viewerID, authorID)
	if err != nil {
		e.logger.Warn("Taste alignment lookup failed", zap.Error(err))
		*degraded = true
		return 0
	}
	if alignment == nil {
		return 0
	}
	return clamp(alignment.SimilarityScore, 0, 1)
}
