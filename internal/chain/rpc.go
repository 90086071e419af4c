package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RPCRequest represents a JSON-RPC 2.0 request to the token node
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCResponse represents a JSON-RPC 2.0 response from the token node
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an application error returned by the node. The node was
// reachable, so these never count against the circuit.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var (
	// errTransportTimeout marks a call whose outcome is unknown
	errTransportTimeout = errors.New("rpc call timed out")
	// errCallCanceled marks a call abandoned by the caller; the node was
	// never shown to be at fault
	errCallCanceled = errors.New("rpc call canceled")
)

// RPCClient posts JSON-RPC requests over HTTP
type RPCClient struct {
	url    string
	http   *http.Client
	logger *zap.Logger
	nextID int64
}

// NewRPCClient creates a new RPC client. Per-call deadlines come from the
// caller's context.
func NewRPCClient(url string, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		url:    url,
		http:   &http.Client{Timeout: time.Minute},
		logger: logger,
	}
}

// Call performs one request and returns its raw result
func (c *RPCClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddInt64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, classify(ctx, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", method, classify(ctx, err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: failed to unmarshal response: %w", method, err)
	}
	if rpcResp.Error != nil {
		c.logger.Debug("RPC error response",
			zap.String("method", method),
			zap.Int("code", rpcResp.Error.Code),
			zap.String("message", rpcResp.Error.Message))
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// classify maps a transport error to errTransportTimeout, errCallCanceled or
// the error itself
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errTransportTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return errCallCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errTransportTimeout
	}
	return err
}
