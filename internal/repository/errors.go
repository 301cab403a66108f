package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrStaleWrite indicates a conditional update matched no row because a concurrent writer changed it first.
var ErrStaleWrite = errors.New("record modified by a concurrent writer")

// ErrDuplicateKey indicates an insert collided with a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

type sqlStateError interface {
	SQLState() string
	Error() string
}

// isUniqueViolation detects unique index collisions across the postgres and sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr sqlStateError
	if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
