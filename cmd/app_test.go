package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spigell/intern-allocator/internal/ai"
	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/lock"
	"github.com/spigell/intern-allocator/internal/store/memory"
	"github.com/spigell/intern-allocator/internal/store/sqlite"
	"go.uber.org/zap"
)

func testConfig() *Config {
	return &Config{
		Store:      &StoreConfig{Driver: "memory"},
		Similarity: &SimilarityConfig{Provider: "none", Timeout: time.Second},
		Geocoder:   &GeocoderConfig{},
		Queue:      &QueueConfig{},
		Lock:       &LockConfig{Backend: "local"},
		Schedule:   &ScheduleConfig{Interval: time.Hour},
		Allocation: &AllocationConfig{CapacityAccounting: true, ManualTimeout: time.Minute},
		Server:     &ServerConfig{Listen: ":0"},
	}
}

func TestNewApplication(t *testing.T) {
	t.Parallel()

	a, err := newApplication(context.Background(), testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("newApplication returned error: %v", err)
	}
	defer a.Close()

	if _, ok := a.store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", a.store)
	}
	if a.consumer != nil {
		t.Fatalf("expected no queue consumer when the queue is disabled")
	}
	if a.orchestrator == nil || a.submissions == nil || a.sweeper == nil {
		t.Fatalf("expected every component to be built")
	}
}

func TestNewApplicationRunsManualCycle(t *testing.T) {
	t.Parallel()

	a, err := newApplication(context.Background(), testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("newApplication returned error: %v", err)
	}
	defer a.Close()

	report, err := a.orchestrator.RunCycle(context.Background(), cycle.TriggerManual, true)
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if report.PostingsProcessed != 0 || report.TotalShortlisted != 0 {
		t.Fatalf("expected an empty report, got %+v", report)
	}
}

func TestNewApplicationRejectsUnknownDrivers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "store", mutate: func(c *Config) { c.Store.Driver = "mysql" }},
		{name: "similarity", mutate: func(c *Config) { c.Similarity.Provider = "openai" }},
		{name: "lock", mutate: func(c *Config) { c.Lock.Backend = "etcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := newApplication(context.Background(), cfg, zap.NewNop()); err == nil {
				t.Fatalf("expected error for unsupported %s", tt.name)
			}
		})
	}
}

func TestNewSimilarityWithoutEngineURL(t *testing.T) {
	t.Parallel()

	sim, err := newSimilarity(context.Background(), &SimilarityConfig{Provider: "engine", Engine: &EngineConfig{}}, zap.NewNop())
	if err != nil {
		t.Fatalf("newSimilarity returned error: %v", err)
	}
	if _, ok := sim.(ai.Unavailable); !ok {
		t.Fatalf("expected keyword fallback only, got %T", sim)
	}
}

func TestNewStoreSQLiteInMemory(t *testing.T) {
	t.Parallel()

	store, closeFn, err := newStore(context.Background(), &StoreConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("newStore returned error: %v", err)
	}
	defer closeFn()

	if _, err := store.GetPosting(context.Background(), 1); !errors.Is(err, internship.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseIDs(t *testing.T) {
	t.Parallel()

	ids, err := parseIDs([]string{"3", "14"})
	if err != nil {
		t.Fatalf("parseIDs returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 14 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRunAllocationFailsWhileLockIsHeld(t *testing.T) {
	t.Parallel()

	a, err := newApplication(context.Background(), testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("newApplication returned error: %v", err)
	}
	defer a.Close()

	release, err := a.locker.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	defer release()

	_, err = runAllocation(context.Background(), a, 50*time.Millisecond, false)
	if !errors.Is(err, cycle.ErrCycleBusy) {
		t.Fatalf("expected ErrCycleBusy, got %v", err)
	}
}

func TestStoreLockIsSharedBetweenProcesses(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Store = &StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "allocator.db")}
	cfg.Lock = &LockConfig{Backend: "store", TTL: time.Minute}

	daemon, err := newApplication(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApplication returned error: %v", err)
	}
	defer daemon.Close()

	manual, err := newApplication(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApplication returned error: %v", err)
	}
	defer manual.Close()

	if _, ok := daemon.locker.(*sqlite.CycleLock); !ok {
		t.Fatalf("expected the sqlite cycle lock, got %T", daemon.locker)
	}

	release, err := daemon.locker.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	_, err = runAllocation(context.Background(), manual, 200*time.Millisecond, false)
	if !errors.Is(err, cycle.ErrCycleBusy) {
		t.Fatalf("expected ErrCycleBusy while another process holds the lock, got %v", err)
	}

	release()

	report, err := runAllocation(context.Background(), manual, 5*time.Second, false)
	if err != nil {
		t.Fatalf("runAllocation returned error: %v", err)
	}
	if report.PostingsProcessed != 0 {
		t.Fatalf("expected an empty report, got %+v", report)
	}
}

func TestMemoryStoreFallsBackToLocalLock(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Lock = &LockConfig{Backend: "store"}

	a, err := newApplication(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newApplication returned error: %v", err)
	}
	defer a.Close()

	if _, ok := a.locker.(*lock.Local); !ok {
		t.Fatalf("expected the local lock, got %T", a.locker)
	}
}

func TestVersionLine(t *testing.T) {
	t.Parallel()

	line := versionLine()
	if !strings.HasPrefix(line, app+" version: "+version+" (go") {
		t.Fatalf("unexpected version line: %q", line)
	}
}
