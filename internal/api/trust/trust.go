package trust

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/tastemind/tastemind/internal/api/objects"
	"github.com/tastemind/tastemind/internal/chain"
	trustsvc "github.com/tastemind/tastemind/internal/trust"
)

const maxCandidates = 200

// CircuitReporter reports the chain breaker
type CircuitReporter interface {
	CircuitStatus() chain.CircuitStatus
}

// API exposes trust scoring and gateway status over JSON-RPC
type API struct {
	engine  *trustsvc.Engine
	circuit CircuitReporter
}

// NewAPI creates the trust API
func NewAPI(engine *trustsvc.Engine, circuit CircuitReporter) *API {
	return &API{engine: engine, circuit: circuit}
}

type scoreParams struct {
	ViewerID string                  `json:"viewer_id"`
	AuthorID string                  `json:"author_id"`
	Context  trustsvc.ContextSignals `json:"context"`
}

// ComputeScore handles trust.compute_score
func (a *API) ComputeScore(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p scoreParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	return a.engine.ComputeTrustScore(c.Request.Context(), p.ViewerID, p.AuthorID, p.Context), nil
}

type rankParams struct {
	ViewerID   string `json:"viewer_id"`
	Candidates []struct {
		trustsvc.Candidate
		Context trustsvc.ContextSignals `json:"context"`
	} `json:"candidates"`
}

// RankGroup handles trust.rank_group. Each candidate is scored for the
// viewer, then one winner per group key is kept.
func (a *API) RankGroup(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p rankParams
	if err := objects.BindParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Candidates) > maxCandidates {
		return nil, objects.InvalidParams("too many candidates: %d (max: %d)", len(p.Candidates), maxCandidates)
	}

	scored := make([]trustsvc.Candidate, 0, len(p.Candidates))
	for _, cand := range p.Candidates {
		score := a.engine.ComputeTrustScore(c.Request.Context(), p.ViewerID, cand.AuthorID, cand.Context)
		cand.Candidate.Tier = score.Tier
		cand.Candidate.Score = score.Score
		scored = append(scored, cand.Candidate)
	}
	return trustsvc.RankGroup(scored), nil
}

// CircuitStatus handles chain.circuit_status
func (a *API) CircuitStatus(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return a.circuit.CircuitStatus(), nil
}
