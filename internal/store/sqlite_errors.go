package store

import "strings"

// isSQLiteConflict reports whether err is SQLite lock contention. The driver
// surfaces it either as SQLITE_BUSY or as a plain "database is locked"
// message depending on the code path; both warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
