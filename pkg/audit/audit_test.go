// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/resilience"
	"github.com/jllopis/tempo/pkg/telemetry"
)

func sampleEvents() []Event {
	return []Event{
		{SessionID: "s1", Tick: 1, Time: 0.016, Kind: KindSwitch, To: "defend", Score: 0.5, Weight: 1},
		{SessionID: "s1", Tick: 9, Time: 0.15, Kind: KindScoreFault, From: "attack", Detail: map[string]any{"error": "no ball"}},
		{SessionID: "s1", Tick: 30, Time: 0.5, Kind: KindSwitch, From: "defend", To: "attack", Score: 0.8, Weight: 1},
		{SessionID: "s2", Tick: 1, Time: 0.016, Kind: KindReset, From: "attack"},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range sampleEvents() {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		ticks  []uint64
	}{
		{name: "all", filter: Filter{}, ticks: []uint64{1, 9, 30, 1}},
		{name: "session", filter: Filter{SessionID: "s1"}, ticks: []uint64{1, 9, 30}},
		{name: "kind", filter: Filter{Kind: KindSwitch}, ticks: []uint64{1, 30}},
		{name: "intention from or to", filter: Filter{Intention: "attack"}, ticks: []uint64{9, 30, 1}},
		{name: "limit", filter: Filter{SessionID: "s1", Limit: 2}, ticks: []uint64{1, 9}},
		{name: "no match", filter: Filter{Kind: KindCancel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(events) != len(tt.ticks) {
				t.Fatalf("expected %d events, got %d", len(tt.ticks), len(events))
			}
			for i, ev := range events {
				if ev.Tick != tt.ticks[i] {
					t.Errorf("event %d tick = %d, want %d", i, ev.Tick, tt.ticks[i])
				}
				if ev.RecordedAt.IsZero() {
					t.Errorf("event %d has no recorded time", i)
				}
			}
		})
	}

	faults, err := store.List(ctx, Filter{Kind: KindScoreFault})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(faults) != 1 || faults[0].Detail["error"] != "no ball" {
		t.Fatalf("unexpected detail: %+v", faults)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	if store.Len() != 4 {
		t.Errorf("Len() = %d, want 4", store.Len())
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:tempo_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteStore(context.Background(), db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	exerciseStore(t, store)

	events, err := store.List(context.Background(), Filter{Kind: KindSwitch, Intention: "attack"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.From != "defend" || ev.Score != 0.8 || ev.Weight != 1 || ev.Time != 0.5 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Detail != nil {
		t.Errorf("expected nil detail, got %v", ev.Detail)
	}
}

func TestSQLiteStoreNilDB(t *testing.T) {
	if _, err := NewSQLiteStore(context.Background(), nil); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := Open(ctx, "memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", store)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close memory: %v", err)
	}

	path := filepath.Join(t.TempDir(), "audit.db")
	store, closeFn, err = Open(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Record(ctx, Event{SessionID: "file", Tick: 3, Kind: KindReset}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer reopened.Close()
	events, err := reopened.List(ctx, Filter{SessionID: "file"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].Tick != 3 {
		t.Fatalf("events did not persist: %+v", events)
	}

	if _, _, err := Open(ctx, "postgres", "x"); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected INVALID_CONFIG for unknown driver, got %v", err)
	}
	if _, err := OpenSQLite(ctx, ""); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected INVALID_CONFIG for empty dsn, got %v", err)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in, driver, dsn string
	}{
		{in: "", driver: DriverMemory},
		{in: "memory", driver: DriverMemory},
		{in: "sqlite:audit.db", driver: DriverSQLite, dsn: "audit.db"},
		{in: "sqlite:file:x?mode=memory", driver: DriverSQLite, dsn: "file:x?mode=memory"},
		{in: "/tmp/audit.db", driver: DriverSQLite, dsn: "/tmp/audit.db"},
	}
	for _, tt := range tests {
		driver, dsn := ParseTarget(tt.in)
		if driver != tt.driver || dsn != tt.dsn {
			t.Errorf("ParseTarget(%q) = %q, %q; want %q, %q", tt.in, driver, dsn, tt.driver, tt.dsn)
		}
	}
}

type failingStore struct {
	calls int
}

func (s *failingStore) Record(context.Context, Event) error {
	s.calls++
	return stderrors.New("disk full")
}

func (s *failingStore) List(context.Context, Filter) ([]Event, error) {
	return nil, nil
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	inner := &failingStore{}
	g := NewGuarded(inner, resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Hour,
	}, telemetry.DiscardLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := g.Record(ctx, Event{Tick: uint64(i), Kind: KindSwitch}); err == nil {
			t.Fatalf("record %d should fail", i)
		}
	}

	if inner.calls != 2 {
		t.Errorf("store called %d times, want 2 before the breaker opened", inner.calls)
	}
	if g.Dropped() != 5 {
		t.Errorf("Dropped() = %d, want 5", g.Dropped())
	}
	if g.State() != resilience.StateOpen {
		t.Errorf("State() = %s, want open", g.State())
	}
}

func TestGuardedPassesThrough(t *testing.T) {
	inner := NewMemoryStore()
	var changes int
	g := NewGuarded(inner, resilience.CircuitBreakerConfig{
		OnStateChange: func(string, resilience.CircuitBreakerState, resilience.CircuitBreakerState) { changes++ },
	}, nil)

	if err := g.Record(context.Background(), Event{SessionID: "s", Kind: KindCancel}); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := g.List(context.Background(), Filter{})
	if err != nil || len(events) != 1 {
		t.Fatalf("list = %v, %v", events, err)
	}
	if g.Unwrap() != inner {
		t.Error("Unwrap() should return the wrapped store")
	}
	if g.Dropped() != 0 || changes != 0 {
		t.Errorf("unexpected drops %d or state changes %d", g.Dropped(), changes)
	}
}
