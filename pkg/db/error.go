package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgNotNullViolation     = "23502"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if Code(err) == pgUniqueViolation {
		return true
	}

	// MySQL (1062) and SQLite (2067) only surface these as text.
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsConstraintErr reports unique, check, not-null and foreign key violations.
func IsConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	if IsDuplicateKeyErr(err) {
		return true
	}
	switch Code(err) {
	case pgCheckViolation, pgNotNullViolation, pgForeignKeyViolation:
		return true
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	return strings.Contains(err.Error(), "constraint failed")
}

// IsLockTimeout reports a postgres lock_not_available error.
func IsLockTimeout(err error) bool {
	return Code(err) == pgLockNotAvailable
}

// IsSerializationFailure reports serialization and deadlock aborts.
func IsSerializationFailure(err error) bool {
	code := Code(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

// IsRetryable reports errors that are worth retrying on the next cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return IsLockTimeout(err) || IsSerializationFailure(err)
}

// Code extracts the SQLSTATE from pgx or lib/pq errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
