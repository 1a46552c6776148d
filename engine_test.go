package dcquery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslatePgError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantKind Kind
		wantOK   bool
	}{
		{"undefined function", &pgconn.PgError{Code: "42883"}, KindInvalidFilterError, true},
		{"datatype mismatch", &pgconn.PgError{Code: "42804"}, KindInvalidFilterError, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, KindDatabaseConnectionDrop, true},
		{"connection does not exist", &pgconn.PgError{Code: "08003"}, KindDatabaseConnectionDrop, true},
		{"unrelated pg error", &pgconn.PgError{Code: "23505"}, "", false},
		{"wrapped pg error", fmt.Errorf("query failed: %w", &pgconn.PgError{Code: "42883"}), KindInvalidFilterError, true},
		{"non-pg error", errors.New("boom"), "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			kind, ok := translatePgError(c.err)
			if ok != c.wantOK {
				t.Fatalf("ok = %v, want %v", ok, c.wantOK)
			}
			if kind != c.wantKind {
				t.Fatalf("kind = %q, want %q", kind, c.wantKind)
			}
		})
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := truncateForLog("short", 100); got != "short" {
		t.Fatalf("expected unchanged short string, got %q", got)
	}
	long := "0123456789"
	got := truncateForLog(long, 5)
	if got != "01234...[truncated]" {
		t.Fatalf("got %q", got)
	}
}
