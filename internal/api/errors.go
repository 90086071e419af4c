package api

import (
	"errors"

	"github.com/tastemind/tastemind/internal/api/objects"
	"github.com/tastemind/tastemind/internal/rewards"
)

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
	ErrServerError    = -32000
)

// Reward ledger error codes
const (
	ErrNotFound               = -32004
	ErrChainUnavailable       = -32010
	ErrClaimInProgress        = -32011
	ErrClaimIndeterminate     = -32012
	ErrNoPendingRewards       = -32013
	ErrWalletMismatch         = -32014
	ErrGraceWindowExpired     = -32015
	ErrConcurrentModification = -32016
)

var rewardCodes = map[rewards.Code]int{
	rewards.CodeValidation:             ErrInvalidParams,
	rewards.CodeNotFound:               ErrNotFound,
	rewards.CodeChainUnavailable:       ErrChainUnavailable,
	rewards.CodeClaimInProgress:        ErrClaimInProgress,
	rewards.CodeClaimIndeterminate:     ErrClaimIndeterminate,
	rewards.CodeNoPendingRewards:       ErrNoPendingRewards,
	rewards.CodeWalletMismatch:         ErrWalletMismatch,
	rewards.CodeGraceWindowExpired:     ErrGraceWindowExpired,
	rewards.CodeConcurrentModification: ErrConcurrentModification,
}

// Error represents an API error
type Error struct {
	Code    int
	Message string
	Kind    string
	Retry   bool
	Err     error
}

// NewError creates a new API error
func NewError(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) data() interface{} {
	if e.Err == nil {
		return nil
	}
	if e.Kind != "" {
		return map[string]interface{}{"code": e.Kind, "message": e.Err.Error(), "retryable": e.Retry}
	}
	return e.Err.Error()
}

// classify maps a handler error onto a JSON-RPC error
func classify(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var paramsErr *objects.ParamsError
	if errors.As(err, &paramsErr) {
		return &Error{Code: ErrInvalidParams, Message: "Invalid params", Kind: string(rewards.CodeValidation), Err: err}
	}

	if code := rewards.CodeOf(err); code != "" {
		if rpcCode, ok := rewardCodes[code]; ok {
			return &Error{Code: rpcCode, Message: string(code), Kind: string(code), Retry: rewards.IsTransient(err), Err: err}
		}
	}

	return &Error{Code: ErrServerError, Message: "Server error", Err: err}
}
