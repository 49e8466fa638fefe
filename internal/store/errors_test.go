package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/montabano1/RyanScraper/internal/domain"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapMatchesErrTransient(t *testing.T) {
	t.Parallel()

	err := wrap("get_snapshot", "cbre", &pgconn.PgError{Code: "57P01"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Op != "get_snapshot" || se.Source != "cbre" {
		t.Fatalf("expected *Error with op and source, got %#v", err)
	}

	if errors.Is(wrap("get_snapshot", "cbre", errors.New("boom")), ErrTransient) {
		t.Fatalf("plain errors must not be transient")
	}
	if wrap("x", "y", nil) != nil {
		t.Fatalf("wrap(nil) must be nil")
	}
}

func TestPartial(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	k := domain.IdentityKey{Source: "s", PropertyName: "Tower A", Address: "1 Main St", FloorSuite: "Suite 100"}

	if err := partial("upsert_listings", "s", 3, nil, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	err := partial("upsert_listings", "s", 2, []domain.IdentityKey{k}, boom)
	var pw *PartialWriteError
	if !errors.As(err, &pw) {
		t.Fatalf("expected *PartialWriteError, got %v", err)
	}
	if pw.Written != 2 || len(pw.Failed) != 1 || !errors.Is(err, boom) {
		t.Fatalf("unexpected partial error: %+v", pw)
	}
	if !strings.Contains(err.Error(), "Tower A") {
		t.Fatalf("failed key missing from message: %s", err)
	}

	err = partial("upsert_listings", "s", 0, []domain.IdentityKey{k}, boom)
	if errors.As(err, &pw) {
		t.Fatalf("nothing written is a total failure, not partial")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause to be kept: %v", err)
	}
}

func TestValidSource(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"cbre", "jll-dallas", "Cushman_Wakefield"} {
		if err := ValidSource(ok); err != nil {
			t.Fatalf("ValidSource(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, " padded "} {
		if err := ValidSource(bad); !errors.Is(err, ErrInvalidSource) {
			t.Fatalf("ValidSource(%q) = %v, want ErrInvalidSource", bad, err)
		}
	}
}
