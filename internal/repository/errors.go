// Package repository defines the SQL-backed credential store and the error
// values shared by its repositories.  Higher layers never see sql.ErrNoRows
// or driver errors for the expected failure cases; they see these sentinels.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when inserting a user whose email is taken.
var ErrEmailExists = errors.New("email already exists")

// ErrTokenConsumed is returned by Rotate when the refresh token row was
// already deleted by a concurrent request.  At most one caller can win.
var ErrTokenConsumed = errors.New("refresh token already consumed")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a unique-constraint violation on
// either supported driver.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
