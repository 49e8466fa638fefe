package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// ErrTransient matches store failures worth retrying from a clean state
// (timeouts, lost connections, lock contention).
var ErrTransient = errors.New("transient store failure")

// Error wraps a failed store operation.
type Error struct {
	Op        string
	Source    string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s source=%s: %v", e.Op, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrTransient && e.Transient
}

// PartialWriteError reports a write that committed some records and not others.
type PartialWriteError struct {
	Op      string
	Source  string
	Written int
	Failed  []domain.IdentityKey
	Err     error
}

func (e *PartialWriteError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for _, k := range e.Failed {
		keys = append(keys, k.String())
	}
	return fmt.Sprintf("store %s source=%s: partial write (%d written, %d failed: %s): %v",
		e.Op, e.Source, e.Written, len(e.Failed), strings.Join(keys, ", "), e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func wrap(op, source string, err error) error {
	if err == nil {
		return nil
	}
	var pw *PartialWriteError
	if errors.As(err, &pw) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Source: source, Transient: IsTransient(err), Err: err}
}

// IsTransient classifies driver and network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	var le *sqlite.Error
	if errors.As(err, &le) {
		switch le.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) && len(pe.Code) >= 2 {
		switch pe.Code[:2] {
		case "08", "40", "53", "57":
			// connection exception, rollback, insufficient resources, operator intervention
			return true
		}
	}
	return false
}
