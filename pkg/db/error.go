package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation
// across the supported dialects.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsMissingTableErr reports whether err indicates the relation does not
// exist yet. Read paths treat this as "no billing data" instead of failing.
func IsMissingTableErr(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// PostgreSQL (error code 42P01)
	if strings.Contains(msg, "does not exist") && strings.Contains(msg, "relation") {
		return true
	}

	// SQLite
	if strings.Contains(msg, "no such table") {
		return true
	}

	return false
}
