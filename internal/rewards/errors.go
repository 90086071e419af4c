package rewards

import (
	"errors"
	"fmt"
)

// Code classifies reward failures and rejections
type Code string

const (
	CodeValidation             Code = "ValidationError"
	CodeNotFound               Code = "NotFound"
	CodeDuplicateAction        Code = "DuplicateAction"
	CodeCooldownActive         Code = "CooldownActive"
	CodeDailyLimitExceeded     Code = "DailyLimitExceeded"
	CodeChainUnavailable       Code = "ChainUnavailable"
	CodeClaimInProgress        Code = "ClaimInProgress"
	CodeClaimIndeterminate     Code = "ClaimIndeterminate"
	CodeNoPendingRewards       Code = "NoPendingRewards"
	CodeWalletMismatch         Code = "WalletMismatch"
	CodeGraceWindowExpired     Code = "GraceWindowExpired"
	CodeConcurrentModification Code = "ConcurrentModification"
)

// Error is a typed reward error. errors.Is matches on Code, so callers can
// compare against the sentinels below.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrValidation             = &Error{Code: CodeValidation}
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrChainUnavailable       = &Error{Code: CodeChainUnavailable}
	ErrClaimInProgress        = &Error{Code: CodeClaimInProgress}
	ErrClaimIndeterminate     = &Error{Code: CodeClaimIndeterminate}
	ErrNoPendingRewards       = &Error{Code: CodeNoPendingRewards}
	ErrWalletMismatch         = &Error{Code: CodeWalletMismatch}
	ErrGraceWindowExpired     = &Error{Code: CodeGraceWindowExpired}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification}
)

func newError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code of a reward error, empty for other errors
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether retrying the same request later may succeed
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeChainUnavailable, CodeClaimInProgress, CodeConcurrentModification:
		return true
	}
	return false
}
