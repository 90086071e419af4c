// Package chaintest runs an in-process token node for tests.
package chaintest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Mode controls how the node answers
type Mode int

const (
	// Healthy answers every call
	Healthy Mode = iota
	// Down answers every call with HTTP 503
	Down
	// Slow records mints but answers after Delay
	Slow
	// Reject answers mints with an RPC error
	Reject
	// Blackhole holds mints for Delay without recording them
	Blackhole
)

// Mint is a mint the node accepted
type Mint struct {
	Digest         string `json:"digest"`
	IdempotencyKey string `json:"idempotency_key"`
	Address        string `json:"address"`
	Amount         string `json:"amount"`
}

// Node is a fake token node that deduplicates mints by idempotency key
type Node struct {
	*httptest.Server

	mu    sync.Mutex
	mode  Mode
	Delay time.Duration
	mints map[string]*Mint
	calls int
}

// NewNode starts a healthy node. Close it when done.
func NewNode() *Node {
	n := &Node{mints: make(map[string]*Mint), Delay: 200 * time.Millisecond}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

// SetMode switches behaviour
func (n *Node) SetMode(m Mode) {
	n.mu.Lock()
	n.mode = m
	n.mu.Unlock()
}

// Mints returns the number of distinct mints recorded
func (n *Node) Mints() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mints)
}

// MintCalls returns how many token.mint requests arrived
func (n *Node) MintCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// Lookup returns the mint recorded under key
func (n *Node) Lookup(key string) *Mint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mints[key]
}

// Record stores a mint as though it had been submitted earlier
func (n *Node) Record(key, address, amount string) *Mint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.recordLocked(key, address, amount)
}

func (n *Node) recordLocked(key, address, amount string) *Mint {
	if m, ok := n.mints[key]; ok {
		return m
	}
	m := &Mint{
		Digest:         fmt.Sprintf("0xtx%04d", len(n.mints)+1),
		IdempotencyKey: key,
		Address:        address,
		Amount:         amount,
	}
	n.mints[key] = m
	return m
}

type request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	mode := n.mode
	delay := n.Delay
	n.mu.Unlock()

	if mode == Down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	var result interface{}
	switch req.Method {
	case "node.health":
		result = map[string]bool{"ok": true}
	case "token.mint":
		var p struct {
			Address        string `json:"address"`
			Amount         string `json:"amount"`
			IdempotencyKey string `json:"idempotency_key"`
		}
		_ = json.Unmarshal(req.Params, &p)
		n.mu.Lock()
		n.calls++
		if mode == Reject {
			n.mu.Unlock()
			writeJSON(w, map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32010, "message": "mint rejected"},
			})
			return
		}
		if mode == Blackhole {
			n.mu.Unlock()
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
			}
			http.Error(w, "lost", http.StatusGatewayTimeout)
			return
		}
		m := n.recordLocked(p.IdempotencyKey, p.Address, p.Amount)
		n.mu.Unlock()
		if mode == Slow {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		result = map[string]string{"digest": m.Digest}
	case "token.get_transaction":
		var p struct {
			IdempotencyKey string `json:"idempotency_key"`
		}
		_ = json.Unmarshal(req.Params, &p)
		if m := n.Lookup(p.IdempotencyKey); m != nil {
			result = m
		}
	default:
		writeJSON(w, map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{"code": -32601, "message": "method not found"},
		})
		return
	}

	writeJSON(w, map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
