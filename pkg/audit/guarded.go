// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/resilience"
)

// Guarded wraps a store with a circuit breaker. Once the store keeps failing,
// events are dropped without touching it until the breaker lets a trial write
// through, so a dead database cannot slow the tick loop down.
type Guarded struct {
	store   Store
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewGuarded wraps store. The breaker config's Name defaults to "audit".
func NewGuarded(store Store, cfg resilience.CircuitBreakerConfig, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "audit"
	}
	next := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.CircuitBreakerState) {
		logger.Warn("audit.breaker.state",
			slog.String("breaker", name),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		if next != nil {
			next(name, from, to)
		}
	}
	return &Guarded{
		store:   store,
		breaker: resilience.NewCircuitBreaker(cfg),
		logger:  logger,
	}
}

// Record stores event through the breaker. Failed or rejected events are
// counted and logged; the error is returned for callers that care.
func (g *Guarded) Record(ctx context.Context, event Event) error {
	err := g.breaker.Call(ctx, func() error {
		return g.store.Record(ctx, event)
	})
	if err != nil {
		g.dropped.Add(1)
		g.logger.DebugContext(ctx, "audit.record.dropped",
			slog.String("kind", string(event.Kind)),
			slog.Uint64("tick", event.Tick),
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// List reads from the wrapped store directly.
func (g *Guarded) List(ctx context.Context, filter Filter) ([]Event, error) {
	return g.store.List(ctx, filter)
}

// Dropped returns the number of events that could not be recorded.
func (g *Guarded) Dropped() int64 { return g.dropped.Load() }

// State returns the breaker state.
func (g *Guarded) State() resilience.CircuitBreakerState { return g.breaker.State() }

// Unwrap returns the guarded store.
func (g *Guarded) Unwrap() Store { return g.store }
