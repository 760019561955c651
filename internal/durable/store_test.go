package durable

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsJoinCodeUniqueViolation_PgErrorCode(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "idx_session_summary_join_code"}
	if !isJoinCodeUniqueViolation(err) {
		t.Fatalf("want true for SQLSTATE 23505, got false")
	}
}

func TestIsJoinCodeUniqueViolation_WrappedPgError(t *testing.T) {
	inner := &pgconn.PgError{Code: "23505"}
	wrapped := errors.Join(errors.New("upsert session summary"), inner)
	if !isJoinCodeUniqueViolation(wrapped) {
		t.Fatalf("want true for wrapped SQLSTATE 23505, got false")
	}
}

func TestIsJoinCodeUniqueViolation_OtherPgErrorCodeIsFalse(t *testing.T) {
	err := &pgconn.PgError{Code: "23503"} // foreign key violation, not unique
	if isJoinCodeUniqueViolation(err) {
		t.Fatalf("want false for non-unique SQLSTATE code")
	}
}

func TestIsJoinCodeUniqueViolation_MessageFallback(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "idx_session_summary_join_code"`)
	if !isJoinCodeUniqueViolation(err) {
		t.Fatalf("want true for message mentioning unique + join_code")
	}
}

func TestIsJoinCodeUniqueViolation_NilIsFalse(t *testing.T) {
	if isJoinCodeUniqueViolation(nil) {
		t.Fatalf("want false for nil error")
	}
}
