package repo

import (
	"database/sql"
	"errors"
	"strings"
)

// Repo wraps raw database access for tasks, acceptances, conversations,
// messages and api keys. Engine-level orchestration lives in internal/engine;
// everything here is a single-table primitive.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a guarded update that observed stale state: the
	// row's current status no longer matched the expected prior status.
	ErrConflict = errors.New("stale state")
)

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// Insert-or-fetch call sites treat this as "someone else won the race".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
