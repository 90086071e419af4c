package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrDuplicate is returned when a write hits a unique constraint
	ErrDuplicate = errors.New("duplicate key")
	// ErrInsufficientBalance is returned when a decrement would go negative
	ErrInsufficientBalance = errors.New("insufficient pending balance")
	// ErrSelfEdge is returned when an account tries to follow itself
	ErrSelfEdge = errors.New("self follow is not allowed")
)

// isUniqueViolation recognises unique constraint errors whether or not the
// dialect translated them
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func translate(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}
