package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

var (
	// ErrCircuitOpen is returned without a network call while the circuit is not closed
	ErrCircuitOpen = errors.New("chain circuit open")
	// ErrChainUnavailable is returned when the node could not be reached
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrIndeterminate is returned when a mint timed out and may have landed
	ErrIndeterminate = errors.New("chain call outcome unknown")
	// ErrMintRejected is returned when the node refused the mint
	ErrMintRejected = errors.New("mint rejected")
)

// Transaction is a mint as recorded by the node
type Transaction struct {
	Digest         string          `json:"digest"`
	IdempotencyKey string          `json:"idempotency_key"`
	Address        string          `json:"address"`
	Amount         decimal.Decimal `json:"amount"`
}

// Health is the result of a node probe
type Health struct {
	Healthy   bool  `json:"healthy"`
	LatencyMs int64 `json:"latency_ms"`
}

// CircuitStatus summarises the breaker
type CircuitStatus struct {
	IsOpen   bool         `json:"is_open"`
	State    CircuitState `json:"state"`
	Failures int          `json:"failures"`
}

// Gateway wraps the token node
type Gateway struct {
	rpc           *RPCClient
	breaker       *Breaker
	mintTimeout   time.Duration
	healthTimeout time.Duration
	logger        *zap.Logger
}

// New creates a new gateway with its own breaker
func New(cfg *config.ChainConfig, metrics *telemetry.RewardMetrics) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("chain_url is required")
	}

	logger := logging.GetLogger().With(zap.String("component", "chain-gateway"))
	breaker := NewBreaker(cfg.FailureThreshold, cfg.OpenCooldown).
		OnTransition(func(state CircuitState) {
			logger.Warn("Chain circuit transition", zap.String("state", string(state)))
			metrics.CircuitTransition(string(state))
		})

	gw := NewWithBreaker(cfg.URL, breaker, cfg.MintTimeout, cfg.HealthTimeout)
	logger.Info("Chain gateway initialized", zap.String("url", cfg.URL))
	return gw, nil
}

// NewWithBreaker creates a gateway around an existing breaker
func NewWithBreaker(url string, breaker *Breaker, mintTimeout, healthTimeout time.Duration) *Gateway {
	logger := logging.GetLogger().With(zap.String("component", "chain-gateway"))
	return &Gateway{
		rpc:           NewRPCClient(url, logger),
		breaker:       breaker,
		mintTimeout:   mintTimeout,
		healthTimeout: healthTimeout,
		logger:        logger,
	}
}

// Breaker exposes the gateway's breaker
func (g *Gateway) Breaker() *Breaker {
	return g.breaker
}

// Mint asks the node to mint amount to address. The node deduplicates on
// idempotencyKey, so retrying a key never mints twice.
func (g *Gateway) Mint(ctx context.Context, address string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.mint")
	defer span.End()
	span.SetAttributes(attribute.String("idempotency_key", idempotencyKey))

	if err := ValidateAddress(address); err != nil {
		return "", err
	}
	if !g.breaker.Allow() {
		return "", ErrCircuitOpen
	}

	if g.mintTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.mintTimeout)
		defer cancel()
	}

	result, err := g.rpc.Call(ctx, "token.mint", map[string]interface{}{
		"address":         address,
		"amount":          amount.String(),
		"idempotency_key": idempotencyKey,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			g.breaker.RecordSuccess()
			return "", fmt.Errorf("%w: %v", ErrMintRejected, rpcErr)
		}
		if errors.Is(err, errCallCanceled) {
			// the request may have reached the node; the breaker learns nothing
			return "", fmt.Errorf("%w: %v", ErrIndeterminate, err)
		}
		g.breaker.RecordFailure()
		if errors.Is(err, errTransportTimeout) {
			return "", fmt.Errorf("%w: %v", ErrIndeterminate, err)
		}
		return "", fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}

	var resp struct {
		Digest string `json:"digest"`
	}
	if err := json.Unmarshal(result, &resp); err != nil || resp.Digest == "" {
		// the node answered but we cannot read the digest; the mint may exist
		g.breaker.RecordSuccess()
		return "", fmt.Errorf("%w: unreadable mint response", ErrIndeterminate)
	}

	g.breaker.RecordSuccess()
	return resp.Digest, nil
}

// GetTransaction looks a mint up by idempotency key. It returns nil when the
// node has no such mint. Lookups bypass the breaker so reconciliation can
// run while minting is suspended.
func (g *Gateway) GetTransaction(ctx context.Context, idempotencyKey string) (*Transaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "chain.get_transaction")
	defer span.End()

	if g.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.healthTimeout)
		defer cancel()
	}

	result, err := g.rpc.Call(ctx, "token.get_transaction", map[string]interface{}{
		"idempotency_key": idempotencyKey,
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var tx Transaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// HealthCheck probes the node and feeds the result to the breaker
func (g *Gateway) HealthCheck(ctx context.Context) Health {
	ctx, span := telemetry.StartSpan(ctx, "chain.health")
	defer span.End()

	if g.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.healthTimeout)
		defer cancel()
	}

	start := time.Now()
	_, err := g.rpc.Call(ctx, "node.health", []interface{}{})
	health := Health{
		Healthy:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		g.logger.Debug("Chain health probe failed", zap.Error(err))
		if errors.Is(err, errCallCanceled) {
			return health
		}
	}

	g.breaker.RecordProbe(health.Healthy)
	return health
}

// CircuitStatus reports the breaker state
func (g *Gateway) CircuitStatus() CircuitStatus {
	state := g.breaker.State()
	return CircuitStatus{
		IsOpen:   state != CircuitClosed,
		State:    state,
		Failures: g.breaker.Failures(),
	}
}

// Watch probes the node every interval while the circuit is not closed, so
// an instance that only serves requests still recovers after an outage.
// It returns when ctx is cancelled.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.breaker.State() == CircuitHalfOpen {
				health := g.HealthCheck(ctx)
				g.logger.Info("Chain recovery probe",
					zap.Bool("healthy", health.Healthy),
					zap.Int64("latency_ms", health.LatencyMs))
			}
		}
	}
}
