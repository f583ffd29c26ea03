// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package arbiter selects which registered intention controls the agent on
// each tick.
//
// Selection is hysteretic: a challenger takes over only when its weighted
// score reaches the current intention's weighted score plus the switch
// threshold, and never while the current intention's action chain is busy.
package arbiter

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/tempo/pkg/audit"
	"github.com/jllopis/tempo/pkg/control"
	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/intention"
	"github.com/jllopis/tempo/pkg/telemetry"
	"github.com/jllopis/tempo/pkg/world"
)

// TracerName is the instrumentation scope of arbiter spans.
const TracerName = "tempo/arbiter"

// Score is the last evaluation of one registered intention.
type Score struct {
	Name     string
	Raw      float64
	Weight   float64
	Weighted float64
	Err      error
}

type registration struct {
	in *intention.Intention
	// base is the weight given at registration; weight may be overridden by
	// Settings.
	base   float64
	weight float64
}

// Arbiter owns the registered intentions and the controls they write.
//
// Tick, Register and Reset must be called from one goroutine. Reconfigure is
// safe to call concurrently; staged settings apply at the start of the next
// tick.
type Arbiter struct {
	regs    []*registration
	byName  map[string]*registration
	current *registration
	// currentScore is the weighted score of current after its last tick, or
	// -1 when nothing is selected.
	currentScore float64

	threshold      float64
	resetOnKickoff bool
	scoreWhileBusy bool
	overrides      map[string]float64

	controls    control.Controls
	lastKickoff bool
	scores      []Score

	mu      sync.Mutex
	pending *Settings

	sessionID string
	logger    *slog.Logger
	metrics   *telemetry.ArbiterMetrics
	store     audit.Store
	stats     *telemetry.TickStats
	tracer    trace.Tracer
}

// Option configures an Arbiter.
type Option func(*Arbiter) error

// WithSwitchThreshold sets the hysteresis margin.
func WithSwitchThreshold(threshold float64) Option {
	return func(a *Arbiter) error {
		if !validWeight(threshold) {
			return errors.New(errors.CodeInvalidInput, "switch threshold must be a finite value >= 0", nil).
				WithContext("switch_threshold", threshold)
		}
		a.threshold = threshold
		return nil
	}
}

// WithSettings applies a full Settings value at construction.
func WithSettings(s Settings) Option {
	return func(a *Arbiter) error {
		if err := s.Validate(); err != nil {
			return err
		}
		a.apply(s)
		return nil
	}
}

// WithResetOnKickoff controls whether the selection is dropped when a kickoff
// pause begins. Enabled by default.
func WithResetOnKickoff(enabled bool) Option {
	return func(a *Arbiter) error {
		a.resetOnKickoff = enabled
		return nil
	}
}

// WithScoreWhileBusy keeps evaluating every score while the current
// intention is busy. The results only feed diagnostics.
func WithScoreWhileBusy(enabled bool) Option {
	return func(a *Arbiter) error {
		a.scoreWhileBusy = enabled
		return nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithMetrics records tick metrics on m.
func WithMetrics(m *telemetry.ArbiterMetrics) Option {
	return func(a *Arbiter) error {
		a.metrics = m
		return nil
	}
}

// WithAuditStore records switches, resets, cancellations and faults in store.
func WithAuditStore(store audit.Store) Option {
	return func(a *Arbiter) error {
		a.store = store
		return nil
	}
}

// WithTickStats feeds tick durations in milliseconds to stats.
func WithTickStats(stats *telemetry.TickStats) Option {
	return func(a *Arbiter) error {
		a.stats = stats
		return nil
	}
}

// WithSessionID sets the id attached to logs, spans and audit events.
// Defaults to a random UUID.
func WithSessionID(id string) Option {
	return func(a *Arbiter) error {
		if strings.TrimSpace(id) == "" {
			return errors.New(errors.CodeInvalidInput, "session id is empty", nil)
		}
		a.sessionID = id
		return nil
	}
}

// WithTracer sets the tracer used for tick spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Arbiter) error {
		if tracer != nil {
			a.tracer = tracer
		}
		return nil
	}
}

// New creates an arbiter with no registered intentions.
func New(opts ...Option) (*Arbiter, error) {
	a := &Arbiter{
		byName:         make(map[string]*registration),
		currentScore:   -1,
		threshold:      DefaultSwitchThreshold,
		resetOnKickoff: true,
		sessionID:      uuid.NewString(),
		logger:         slog.Default(),
		tracer:         otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register adds an intention with its selection weight. Intention names must
// be unique.
func (a *Arbiter) Register(in *intention.Intention, weight float64) error {
	if in == nil {
		return errors.New(errors.CodeInvalidInput, "intention is nil", nil)
	}
	if in.Name() == "" {
		return errors.New(errors.CodeInvalidInput, "intention name is empty", nil)
	}
	if _, exists := a.byName[in.Name()]; exists {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("intention %s already registered", in.Name()), nil).
			WithContext("intention", in.Name())
	}
	if !validWeight(weight) {
		return errors.New(errors.CodeInvalidInput, "weight must be a finite value >= 0", nil).
			WithContext("intention", in.Name()).
			WithContext("weight", weight)
	}
	r := &registration{in: in, base: weight, weight: weight}
	if w, ok := a.overrides[in.Name()]; ok {
		r.weight = w
	}
	a.regs = append(a.regs, r)
	a.byName[in.Name()] = r
	return nil
}

// Reconfigure stages new settings for the next tick.
func (a *Arbiter) Reconfigure(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pending = &s
	a.mu.Unlock()
	return nil
}

// SessionID returns the id attached to telemetry and audit events.
func (a *Arbiter) SessionID() string { return a.sessionID }

// Threshold returns the active switch threshold.
func (a *Arbiter) Threshold() float64 { return a.threshold }

// Current returns the intention in control, or nil.
func (a *Arbiter) Current() *intention.Intention {
	if a.current == nil {
		return nil
	}
	return a.current.in
}

// CurrentScore returns the weighted score of the intention in control after
// its last tick, or -1 when nothing is selected.
func (a *Arbiter) CurrentScore() float64 { return a.currentScore }

// Weight returns the effective weight of a registered intention.
func (a *Arbiter) Weight(name string) (float64, bool) {
	r, ok := a.byName[name]
	if !ok {
		return 0, false
	}
	return r.weight, true
}

// Scores returns the last evaluation of every intention in registration
// order. It is empty until the first evaluating tick.
func (a *Arbiter) Scores() []Score {
	return slices.Clone(a.scores)
}

// Controls returns the controls produced by the last tick.
func (a *Arbiter) Controls() control.Controls { return a.controls }

// Tick runs one decision cycle and returns the controls for snap.
func (a *Arbiter) Tick(ctx context.Context, snap world.Snapshot) control.Controls {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "Arbiter.Tick", trace.WithAttributes(
		telemetry.TickAttributes(a.sessionID, snap.Tick, snap.Time, snap.KickoffPause)...,
	))
	defer span.End()

	a.applyPending(ctx)
	a.controls.Reset()
	frame := world.NewFrame(snap, &a.controls)

	if snap.KickoffPause && !a.lastKickoff && a.resetOnKickoff {
		a.reset(ctx, frame, "kickoff")
	}
	a.lastKickoff = snap.KickoffPause

	from := a.currentName()
	if len(a.regs) > 0 {
		if a.current != nil && a.current.in.Busy() {
			// The baseline stays at the last non-busy evaluation.
			if a.scoreWhileBusy {
				a.evaluate(ctx, frame)
			}
			a.tickCurrent(ctx, frame, false)
		} else {
			ranked := a.evaluate(ctx, frame)
			best := ranked[0]
			if a.current == nil || best.Weighted >= a.currentScore+a.threshold {
				if r := a.byName[best.Name]; r != a.current {
					a.switchTo(ctx, frame, r, best.Weighted)
				}
			}
			a.tickCurrent(ctx, frame, true)
		}
	}

	span.SetAttributes(telemetry.SwitchAttributes(from, a.currentName(), a.threshold)...)
	span.SetAttributes(attribute.Int(telemetry.AttrCandidates, len(a.regs)))
	if a.current != nil {
		span.SetAttributes(telemetry.IntentionAttributes(a.current.in.Name(), a.currentScore, a.current.weight, a.current.in.Busy())...)
		if m := a.current.in.Action(); m != nil {
			span.SetAttributes(telemetry.ActionAttributes(m.Chain())...)
		}
	}

	elapsed := time.Since(start)
	a.metrics.RecordTick(ctx, elapsed)
	if a.stats != nil {
		a.stats.Update(ctx, float64(elapsed)/float64(time.Millisecond))
	}
	return a.controls
}

// Reset drops the current selection. The current intention is left and its
// action discarded.
func (a *Arbiter) Reset(ctx context.Context, f *world.Frame) {
	if f == nil {
		f = world.NewFrame(world.Snapshot{}, &a.controls)
	}
	a.reset(ctx, f, "manual")
}

func (a *Arbiter) reset(ctx context.Context, f *world.Frame, reason string) {
	if a.current == nil {
		a.currentScore = -1
		return
	}
	prev := a.current
	if err := prev.in.Leave(f); err != nil {
		a.actionFault(ctx, f, prev, err)
	}
	a.cancelAction(ctx, f, prev, reason)
	a.current = nil
	a.currentScore = -1

	a.logger.InfoContext(ctx, "arbiter.reset",
		slog.String("session_id", a.sessionID),
		slog.Uint64("tick", f.Tick),
		slog.String("intention", prev.in.Name()),
		slog.String("reason", reason),
	)
	a.record(ctx, f, audit.Event{
		Kind:   audit.KindReset,
		From:   prev.in.Name(),
		Weight: prev.weight,
		Detail: map[string]any{"reason": reason},
	})
}

// evaluate scores every intention and returns the results ranked by weighted
// score, highest first. Ties keep registration order.
func (a *Arbiter) evaluate(ctx context.Context, f *world.Frame) []Score {
	scores := make([]Score, 0, len(a.regs))
	for _, r := range a.regs {
		raw, err := r.in.Score(f)
		if err != nil {
			a.scoreFault(ctx, f, r, err)
		}
		scores = append(scores, Score{
			Name:     r.in.Name(),
			Raw:      raw,
			Weight:   r.weight,
			Weighted: raw * r.weight,
			Err:      err,
		})
	}
	a.scores = scores

	ranked := slices.Clone(scores)
	slices.SortStableFunc(ranked, func(x, y Score) int {
		return cmp.Compare(y.Weighted, x.Weighted)
	})
	return ranked
}

func (a *Arbiter) switchTo(ctx context.Context, f *world.Frame, next *registration, score float64) {
	prev := a.current
	var prevName string
	if prev != nil {
		prevName = prev.in.Name()
		if err := prev.in.Leave(f); err != nil {
			a.actionFault(ctx, f, prev, err)
		}
		a.cancelAction(ctx, f, prev, "switch")
	}

	a.current = next
	if err := next.in.Enter(f); err != nil {
		a.actionFault(ctx, f, next, err)
	}

	a.logger.InfoContext(ctx, "arbiter.switch",
		slog.String("session_id", a.sessionID),
		slog.Uint64("tick", f.Tick),
		slog.String("from", prevName),
		slog.String("to", next.in.Name()),
		slog.Float64("score", score),
		slog.Float64("current_score", a.currentScore),
		slog.Float64("threshold", a.threshold),
	)
	a.metrics.RecordSwitch(ctx, prevName, next.in.Name())
	a.record(ctx, f, audit.Event{
		Kind:   audit.KindSwitch,
		From:   prevName,
		To:     next.in.Name(),
		Score:  score,
		Weight: next.weight,
		Detail: map[string]any{"previous_score": a.currentScore, "threshold": a.threshold},
	})
}

// tickCurrent ticks the intention in control. With rescore the hysteresis
// baseline is refreshed from its score after the tick.
func (a *Arbiter) tickCurrent(ctx context.Context, f *world.Frame, rescore bool) {
	r := a.current
	if r == nil {
		return
	}
	if err := r.in.Tick(f); err != nil {
		a.actionFault(ctx, f, r, err)
	}
	if !rescore {
		return
	}

	raw, err := r.in.Score(f)
	if err != nil {
		a.scoreFault(ctx, f, r, err)
	}
	a.currentScore = raw * r.weight
	a.metrics.RecordCurrentScore(ctx, r.in.Name(), a.currentScore)
}

func (a *Arbiter) cancelAction(ctx context.Context, f *world.Frame, r *registration, reason string) {
	m := r.in.CancelAction()
	if m == nil || m.Done() {
		return
	}
	a.logger.DebugContext(ctx, "arbiter.action.cancel",
		slog.String("session_id", a.sessionID),
		slog.Uint64("tick", f.Tick),
		slog.String("intention", r.in.Name()),
		slog.String("action", m.String()),
		slog.String("reason", reason),
	)
	a.record(ctx, f, audit.Event{
		Kind:   audit.KindCancel,
		From:   r.in.Name(),
		Weight: r.weight,
		Detail: map[string]any{
			"reason": reason,
			"chain":  strings.Join(m.Chain(), " > "),
		},
	})
}

func (a *Arbiter) scoreFault(ctx context.Context, f *world.Frame, r *registration, err error) {
	te := errors.As(err)
	a.logger.WarnContext(ctx, "arbiter.score.fault",
		slog.String("session_id", a.sessionID),
		slog.Uint64("tick", f.Tick),
		slog.String("intention", r.in.Name()),
		slog.String("error", err.Error()),
		slog.String("error_code", string(te.Code)),
	)
	trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(telemetry.ErrorAttributes(err)...))
	a.metrics.RecordScoreFault(ctx, r.in.Name(), err)
	a.record(ctx, f, audit.Event{
		Kind:   audit.KindScoreFault,
		To:     r.in.Name(),
		Weight: r.weight,
		Detail: map[string]any{"error": err.Error(), "code": string(te.Code)},
	})
}

func (a *Arbiter) actionFault(ctx context.Context, f *world.Frame, r *registration, err error) {
	te := errors.As(err)
	a.logger.ErrorContext(ctx, "action.fault",
		slog.String("session_id", a.sessionID),
		slog.Uint64("tick", f.Tick),
		slog.String("intention", r.in.Name()),
		slog.String("error", err.Error()),
		slog.String("error_code", string(te.Code)),
	)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(telemetry.ErrorAttributes(err)...))
	span.SetStatus(codes.Error, err.Error())
	a.metrics.RecordActionFault(ctx, r.in.Name(), err)
	a.record(ctx, f, audit.Event{
		Kind:   audit.KindActionFault,
		From:   r.in.Name(),
		Weight: r.weight,
		Detail: map[string]any{"error": err.Error(), "code": string(te.Code)},
	})
}

func (a *Arbiter) record(ctx context.Context, f *world.Frame, ev audit.Event) {
	if a.store == nil {
		return
	}
	ev.SessionID = a.sessionID
	ev.Tick = f.Tick
	ev.Time = f.Time
	if err := a.store.Record(ctx, ev); err != nil {
		a.logger.DebugContext(ctx, "arbiter.audit.failed",
			slog.String("session_id", a.sessionID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (a *Arbiter) applyPending(ctx context.Context) {
	a.mu.Lock()
	s := a.pending
	a.pending = nil
	a.mu.Unlock()
	if s == nil {
		return
	}
	a.apply(*s)
	a.logger.InfoContext(ctx, "arbiter.reconfigure",
		slog.String("session_id", a.sessionID),
		slog.Float64("threshold", a.threshold),
		slog.Int("weights", len(a.overrides)),
		slog.Bool("reset_on_kickoff", a.resetOnKickoff),
		slog.Bool("score_while_busy", a.scoreWhileBusy),
	)
}

func (a *Arbiter) apply(s Settings) {
	a.threshold = s.SwitchThreshold
	a.resetOnKickoff = s.ResetOnKickoff
	a.scoreWhileBusy = s.ScoreWhileBusy
	a.overrides = make(map[string]float64, len(s.Weights))
	for name, w := range s.Weights {
		a.overrides[name] = w
	}
	for _, r := range a.regs {
		r.weight = r.base
		if w, ok := a.overrides[r.in.Name()]; ok {
			r.weight = w
		}
	}
}

func (a *Arbiter) currentName() string {
	if a.current == nil {
		return ""
	}
	return a.current.in.Name()
}

// Describe renders the last evaluation, best first, marking the intention in
// control with '>'.
func (a *Arbiter) Describe() string {
	ranked := slices.Clone(a.scores)
	slices.SortStableFunc(ranked, func(x, y Score) int {
		return cmp.Compare(y.Weighted, x.Weighted)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "threshold=%.3f current=%.3f\n", a.threshold, a.currentScore)
	for _, s := range ranked {
		marker := " "
		if s.Name == a.currentName() {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %-16s %7.3f (raw %.3f w=%.2f)", marker, s.Name, s.Weighted, s.Raw, s.Weight)
		if s.Err != nil {
			fmt.Fprintf(&b, " fault=%s", errors.CodeOf(s.Err))
		}
		if s.Name == a.currentName() {
			if a.current.in.Busy() {
				b.WriteString(" busy")
			}
			fmt.Fprintf(&b, " %s", a.current.in)
		}
		b.WriteByte('\n')
	}
	if len(ranked) == 0 && a.current != nil {
		fmt.Fprintf(&b, "> %s\n", a.current.in)
	}
	return b.String()
}
