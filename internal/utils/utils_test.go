package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	if err := WaitFor(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := WaitFor(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for zero wait on done context, got %v", err)
	}
}

func TestNextTick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		expect   time.Time
	}{
		{
			name:     "middle of the hour",
			now:      time.Date(2026, 3, 1, 10, 17, 5, 0, time.UTC),
			interval: time.Hour,
			expect:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:     "exactly on the hour moves to the next one",
			now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			interval: time.Hour,
			expect:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:     "day rollover",
			now:      time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC),
			interval: time.Hour,
			expect:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "sub hour interval",
			now:      time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC),
			interval: 15 * time.Minute,
			expect:   time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NextTick(tt.now, tt.interval); !got.Equal(tt.expect) {
				t.Fatalf("expected %s, got %s", tt.expect, got)
			}
		})
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{name: "non-positive limit drops everything", input: "engine reply", limit: 0, expect: ""},
		{name: "short text is kept", input: "Skills: go, sql", limit: 40, expect: "Skills: go, sql"},
		{name: "long reply is cut", input: `{"score": 87, "reason": "strong match"}`, limit: 13, expect: `{"score": 87,...`},
		{name: "prompt is flattened to one line", input: "Student:\n  go, sql\n\nJob:\tbackend", limit: 100, expect: "Student: go, sql Job: backend"},
		{name: "limit counts runes", input: "привет мир", limit: 6, expect: "привет..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}
