package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/lock"
)

func TestDecodeQuota(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     sql.NullString
		want    internship.Quota
		wantErr bool
	}{
		{name: "null column", raw: sql.NullString{}},
		{name: "json null", raw: sql.NullString{String: "null", Valid: true}},
		{name: "numbers", raw: sql.NullString{String: `{"SC": 1, "ST": 2}`, Valid: true}, want: internship.Quota{"SC": 1, "ST": 2}},
		{name: "strings", raw: sql.NullString{String: `{"OBC": "3"}`, Valid: true}, want: internship.Quota{"OBC": 3}},
		{name: "negative", raw: sql.NullString{String: `{"SC": -1}`, Valid: true}, wantErr: true},
		{name: "broken", raw: sql.NullString{String: `{"SC":`, Valid: true}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeQuota(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got quota %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for c, n := range tc.want {
				if got[c] != n {
					t.Fatalf("expected %s=%d, got %d", c, n, got[c])
				}
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(dup) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatal("plain error is not a unique violation")
	}
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	got := statusStrings(internship.SlotStatuses())
	if len(got) != 5 || got[0] != "Shortlisted" || got[4] != "Hired" {
		t.Fatalf("unexpected statuses %v", got)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestAdvisoryKey(t *testing.T) {
	t.Parallel()

	a := advisoryKey("intern-allocator:cycle-lock")
	if a != advisoryKey("intern-allocator:cycle-lock") {
		t.Fatalf("advisory key is not stable")
	}
	if a == advisoryKey("intern-allocator:other") {
		t.Fatalf("different names produced the same key %d", a)
	}
}

func TestAdvisoryLockUnreachable(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("pgx", "postgres://allocator@127.0.0.1:1/allocator?connect_timeout=1&sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open returned error: %v", err)
	}
	defer db.Close()

	l := New(db, nil).CycleLock("", nil)
	if l.name != lock.DefaultKey {
		t.Fatalf("expected default name, got %q", l.name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := l.Acquire(ctx)
	if err == nil {
		release()
		t.Fatalf("expected error for an unreachable server")
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected a connection error, got %v", err)
	}
}

func TestCandidateQueriesKeepApplicationsWithoutProfile(t *testing.T) {
	t.Parallel()

	for name, query := range map[string]string{
		"pending candidates":    pendingCandidatesQuery,
		"allocated by category": allocatedByCategoryQuery,
	} {
		if !strings.Contains(query, "LEFT JOIN intern_profiles") {
			t.Fatalf("%s query must not drop applications without a profile row:\n%s", name, query)
		}
	}
}
