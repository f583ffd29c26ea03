// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records selection decisions and faults made by the arbiter so
// a match can be reviewed after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/tempo/pkg/errors"
)

// Kind classifies an audit event.
type Kind string

const (
	// KindSwitch records a change of the intention in control.
	KindSwitch Kind = "switch"
	// KindScoreFault records a score evaluation replaced by 0.
	KindScoreFault Kind = "score_fault"
	// KindActionFault records a fatal action or hook failure.
	KindActionFault Kind = "action_fault"
	// KindReset records a return to no selection.
	KindReset Kind = "reset"
	// KindCancel records an action discarded by its owner or by a switch.
	KindCancel Kind = "cancel"
)

// Event is one audited arbiter decision.
type Event struct {
	SessionID  string         `json:"session_id"`
	Tick       uint64         `json:"tick"`
	Time       float64        `json:"time"`
	Kind       Kind           `json:"kind"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Score      float64        `json:"score"`
	Weight     float64        `json:"weight"`
	Detail     map[string]any `json:"detail,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits audit event queries.
type Filter struct {
	SessionID string
	Kind      Kind
	// Intention matches events whose From or To equals it.
	Intention string
	Limit     int
}

func (f Filter) match(ev Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.Intention != "" && ev.From != f.Intention && ev.To != f.Intention {
		return false
	}
	return true
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	event.RecordedAt = normalizeTime(event.RecordedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open builds a store for driver. The returned close function releases the
// store's resources and is never nil.
func Open(ctx context.Context, driver, dsn string) (Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), func() error { return nil }, nil
	case DriverSQLite:
		store, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, errors.New(errors.CodeInvalidConfig, fmt.Sprintf("unknown audit driver %q", driver), nil).
			WithContext("driver", driver)
	}
}

// ParseTarget splits a "driver:dsn" command line target. A bare path is
// treated as a SQLite file.
func ParseTarget(target string) (driver, dsn string) {
	target = strings.TrimSpace(target)
	if target == "" || target == DriverMemory {
		return DriverMemory, ""
	}
	if d, rest, ok := strings.Cut(target, ":"); ok && (d == DriverSQLite || d == DriverMemory) {
		return d, rest
	}
	return DriverSQLite, target
}

func encodeDetail(detail map[string]any) ([]byte, error) {
	if len(detail) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(detail)
}

func decodeDetail(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime stamps missing times with now and stores everything in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}
