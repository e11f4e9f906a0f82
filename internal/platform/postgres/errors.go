package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerializationFail   = "40001"
	codeDeadlockDetected    = "40P01"
	codeInvalidTextRepr     = "22P02"
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a constraint or concurrency conflict.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// ConstraintName returns the violated constraint, when the database reported one.
func (e *Error) ConstraintName() string {
	if e == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(e.err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func newError(op string, err error) *Error {
	if err == nil {
		return nil
	}

	e := &Error{op: op, err: err}

	if errors.Is(err, pgx.ErrNoRows) {
		e.notFound = true
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeForeignKeyViolation, codeSerializationFail, codeDeadlockDetected:
			e.conflict = true
		case codeInvalidTextRepr:
			// Malformed identifiers behave like lookups for rows that cannot exist.
			e.notFound = true
		}
		return e
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		e.unavailable = true
	}
	return e
}

// WrapError annotates Postgres errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// NotFoundError builds a repository not-found error without a database cause.
func NotFoundError(op string, err error) *Error {
	return &Error{op: op, err: err, notFound: true}
}

// ConflictError builds a repository conflict error without a database cause.
func ConflictError(op string, err error) *Error {
	return &Error{op: op, err: err, conflict: true}
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
