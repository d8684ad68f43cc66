package store

import (
	"errors"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// IsRetryable reports whether err is a store-level write conflict that a
// caller may retry (sqlite busy/locked). A message check covers errors that
// arrive with the driver type stripped, e.g. after fmt.Errorf wrapping by
// an intermediate layer.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "transaction can be retried")
}
